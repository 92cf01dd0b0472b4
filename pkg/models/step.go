package models

import (
	"encoding/json"
	"time"
)

// StepStatus represents the execution state of a single plan step.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// Step is one tool invocation inside a task's plan. Steps are created by
// the planner (or spliced in by the critic) and mutated only by the
// executor as they move through their lifecycle.
type Step struct {
	// ID is unique within the owning task, including after corrections.
	ID string `json:"id"`

	// Description is the human-readable intent of the step.
	Description string `json:"description"`

	// Tool names the registered handler to invoke.
	Tool string `json:"tool"`

	// Arguments is a JSON object conforming to the tool's input schema.
	Arguments json.RawMessage `json:"arguments"`

	// SuccessCriterion is advisory free text used by the critic.
	SuccessCriterion string `json:"success_criterion,omitempty"`

	// Required controls abort semantics: a failed required step stops the
	// plan, a failed optional step does not.
	Required bool `json:"required"`

	Status StepStatus  `json:"status"`
	Result *StepResult `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// StepResult is the uniform outcome of a tool invocation.
type StepResult struct {
	Success   bool           `json:"success"`
	Output    string         `json:"output,omitempty"`
	Artifacts []Artifact     `json:"artifacts,omitempty"`
	Error     string         `json:"error,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
