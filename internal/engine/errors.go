package engine

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies engine failures by how they surface: which ones
// abort the task, which ones the worker may retry, and which ones are
// recorded on a step and never raised.
type ErrorKind string

const (
	// KindValidation covers bad input: an empty goal, an unknown tool in
	// a plan, arguments that fail the tool's schema. Fatal, never retried.
	KindValidation ErrorKind = "validation"

	// KindPlanning covers planner failures: the model is unreachable or
	// its response stays unparseable after normalization. Fatal.
	KindPlanning ErrorKind = "planning"

	// KindTool covers handler failures during step execution. These are
	// recorded on the step as a failed result and never propagate.
	KindTool ErrorKind = "tool"

	// KindCritic covers critic failures. Non-fatal; execution continues
	// without a correction.
	KindCritic ErrorKind = "critic"

	// KindSandbox covers container lifecycle failures. Fatal at create
	// time, logged at destroy time.
	KindSandbox ErrorKind = "sandbox"

	// KindCancellation marks cooperative cancellation propagated through
	// the task's context.
	KindCancellation ErrorKind = "cancellation"

	// KindInfrastructure covers everything environmental: store writes,
	// queue connectivity. The worker retries these with backoff.
	KindInfrastructure ErrorKind = "infrastructure"
)

// Error is the structured error used across the planner, critic,
// orchestrator, and sandbox layers. Op names the operation that failed,
// Message carries the human-readable detail, and Cause preserves the
// underlying error for errors.Is / errors.As.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Op)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(kind ErrorKind, op, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Cause: cause}
}

// NewValidationError reports malformed input.
func NewValidationError(op, message string, cause error) *Error {
	return newError(KindValidation, op, message, cause)
}

// NewPlanningError reports a planner failure.
func NewPlanningError(op, message string, cause error) *Error {
	return newError(KindPlanning, op, message, cause)
}

// NewToolError reports a handler failure during step execution.
func NewToolError(op, message string, cause error) *Error {
	return newError(KindTool, op, message, cause)
}

// NewCriticError reports a critic failure.
func NewCriticError(op, message string, cause error) *Error {
	return newError(KindCritic, op, message, cause)
}

// NewSandboxError reports a container lifecycle failure.
func NewSandboxError(op, message string, cause error) *Error {
	return newError(KindSandbox, op, message, cause)
}

// NewCancellationError reports cooperative cancellation.
func NewCancellationError(op string, cause error) *Error {
	return newError(KindCancellation, op, "", cause)
}

// NewInfrastructureError reports an environmental failure.
func NewInfrastructureError(op, message string, cause error) *Error {
	return newError(KindInfrastructure, op, message, cause)
}

// KindOf extracts the kind from an error chain. Plain context errors
// classify as cancellation; anything else unclassified is treated as
// infrastructure, the retryable default.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancellation
	}
	return KindInfrastructure
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}

// IsFatal reports whether the worker must not retry the task. Bad input
// and unparseable plans do not get better on a second attempt, and a
// cancelled task stays cancelled.
func IsFatal(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindPlanning, KindCancellation:
		return true
	default:
		return false
	}
}

// IsCancellation reports whether err stems from cooperative cancellation.
func IsCancellation(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == KindCancellation
}
