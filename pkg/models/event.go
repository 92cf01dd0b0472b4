package models

import "time"

// EventType tags one entry in a task's append-only history. The set is
// closed: stores reject types outside it.
type EventType string

const (
	EventTaskStarted               EventType = "task_started"
	EventSandboxCreated            EventType = "sandbox_created"
	EventPlanningStarted           EventType = "planning_started"
	EventPlanGenerated             EventType = "plan_generated"
	EventExecutionStarted          EventType = "execution_started"
	EventStepStarted               EventType = "step_started"
	EventStepCompleted             EventType = "step_completed"
	EventCriticEvaluation          EventType = "critic_evaluation"
	EventCorrectionApplied         EventType = "correction_applied"
	EventExecutionStopped          EventType = "execution_stopped"
	EventTaskSucceeded             EventType = "task_succeeded"
	EventTaskCompletedWithFailures EventType = "task_completed_with_failures"
	EventTaskFailed                EventType = "task_failed"
	EventOrchestrationFailed       EventType = "orchestration_failed"
	EventSandboxDestroyed          EventType = "sandbox_destroyed"
)

// Valid reports whether t belongs to the closed event-type set.
func (t EventType) Valid() bool {
	switch t {
	case EventTaskStarted, EventSandboxCreated, EventPlanningStarted,
		EventPlanGenerated, EventExecutionStarted, EventStepStarted,
		EventStepCompleted, EventCriticEvaluation, EventCorrectionApplied,
		EventExecutionStopped, EventTaskSucceeded, EventTaskCompletedWithFailures,
		EventTaskFailed, EventOrchestrationFailed, EventSandboxDestroyed:
		return true
	default:
		return false
	}
}

// Event is a timestamped, typed record appended to a task's history.
// Seq is assigned by the store on append and is strictly increasing
// within a task, making the per-task total order explicit.
type Event struct {
	Seq       int64          `json:"seq"`
	Type      EventType      `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewEvent builds an event stamped with the current time. Seq is left
// zero until the store assigns it.
func NewEvent(t EventType, data map[string]any) Event {
	return Event{
		Type:      t,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}
