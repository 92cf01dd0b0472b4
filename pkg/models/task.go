// Package models defines the core data types for Golem.
package models

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusSucceeded TaskStatus = "succeeded"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusSucceeded, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether moving from s to next is a legal
// transition: queued -> running, queued -> cancelled, and
// running -> {succeeded, failed, cancelled}.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	switch s {
	case TaskStatusQueued:
		return next == TaskStatusRunning || next == TaskStatusCancelled
	case TaskStatusRunning:
		return next == TaskStatusSucceeded || next == TaskStatusFailed || next == TaskStatusCancelled
	default:
		return false
	}
}

// Task is the durable record of an autonomously executed goal.
type Task struct {
	// ID is the opaque task identifier (UUID).
	ID string `json:"id"`

	// Goal is the natural-language objective submitted by the caller.
	Goal string `json:"goal"`

	// Context carries caller-supplied key/value hints passed to the planner.
	Context map[string]any `json:"context,omitempty"`

	// Status is the current lifecycle state.
	Status TaskStatus `json:"status"`

	// Plan is the ordered step sequence. Nil until planning completes; may
	// be rewritten by the owning orchestrator while the task is running.
	Plan []*Step `json:"plan,omitempty"`

	// Events is the append-only history in per-task order.
	Events []Event `json:"events,omitempty"`

	// Artifacts collects outputs produced by successful steps.
	Artifacts []Artifact `json:"artifacts,omitempty"`

	// Error holds the terminal error text when Status is failed.
	Error string `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewTask creates a queued task with a fresh UUID.
func NewTask(goal string, context map[string]any) *Task {
	return &Task{
		ID:        uuid.NewString(),
		Goal:      goal,
		Context:   context,
		Status:    TaskStatusQueued,
		CreatedAt: time.Now().UTC(),
	}
}

// StepByID returns the plan step with the given ID, or nil.
func (t *Task) StepByID(id string) *Step {
	for _, s := range t.Plan {
		if s.ID == id {
			return s
		}
	}
	return nil
}
