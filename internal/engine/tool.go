// Package engine implements the task execution core: the tool registry,
// the LLM planner and critic, the step executor, and the orchestrator
// that drives one task from goal to terminal event.
package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/golemhq/golem/pkg/models"
)

// Invocation is the bounded execution context handed to a tool handler
// for one step. It identifies the owning task and its sandbox and
// carries the step's argument object plus the defaults the handler
// should apply when the arguments leave them unset.
type Invocation struct {
	// TaskID is the owning task.
	TaskID string

	// SandboxID addresses the task's sandbox for service calls.
	SandboxID string

	// Arguments is the step's argument object, already validated
	// against the tool's schema.
	Arguments json.RawMessage

	// Timeout is the default per-step timeout.
	Timeout time.Duration

	// WorkDir is the default working directory inside the sandbox.
	WorkDir string
}

// Tool is a named capability the planner can schedule. Implementations
// report failures in the result, not the error: a non-nil error is
// reserved for broken invariants and is recorded as a failed step by
// the executor.
type Tool interface {
	// Name returns the unique registry key.
	Name() string

	// Description returns the human-readable summary shown to the
	// planner and critic prompts.
	Description() string

	// Schema returns the JSON schema of the argument object.
	Schema() json.RawMessage

	// Execute runs the tool with the given invocation context.
	Execute(ctx context.Context, inv Invocation) (*models.StepResult, error)
}
