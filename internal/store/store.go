// Package store persists task records and their event logs.
//
// Two backends exist: an in-memory store for tests and single-process
// runs, and a SQLite store for durable local deployments. Both enforce
// the same rules: status transitions are compare-and-swap, terminal
// statuses are written exactly once, and events are append-only with a
// per-task sequence starting at 1.
package store

import (
	"context"
	"errors"

	"github.com/golemhq/golem/pkg/models"
)

// Store errors.
var (
	// ErrNotFound is returned when the task does not exist.
	ErrNotFound = errors.New("task not found")

	// ErrConflict is returned when a status compare-and-swap loses, or
	// the requested transition is not allowed.
	ErrConflict = errors.New("task status conflict")

	// ErrTerminal is returned when appending events to a task that has
	// already succeeded or failed.
	ErrTerminal = errors.New("task is terminal")
)

// ListFilter narrows and pages ListTasks results.
type ListFilter struct {
	// Status filters by task status when non-empty.
	Status models.TaskStatus

	// Limit caps the result size; zero means no cap.
	Limit int

	// Offset skips that many tasks in creation order.
	Offset int
}

// TaskStore is the persistence contract shared by the gateway, worker,
// and orchestrator.
//
// Implementations must serialize event appends per task so that Seq
// reflects the exact order of observable transitions.
type TaskStore interface {
	// CreateTask stores a new task record.
	CreateTask(ctx context.Context, task *models.Task) error

	// GetTask returns the full task record including its event log.
	GetTask(ctx context.Context, id string) (*models.Task, error)

	// ListTasks returns tasks in creation order. Event logs are left
	// empty; fetch a single task for the full record.
	ListTasks(ctx context.Context, filter ListFilter) ([]*models.Task, error)

	// UpdateTaskStatus transitions a task from one status to another.
	// The swap fails with ErrConflict if the stored status is not
	// `from` or the transition is not allowed. Moving to running
	// stamps StartedAt; moving to a terminal status stamps
	// CompletedAt.
	UpdateTaskStatus(ctx context.Context, id string, from, to models.TaskStatus) error

	// SetTaskError records the terminal error string on the task.
	SetTaskError(ctx context.Context, id string, message string) error

	// UpdatePlan replaces the task's plan.
	UpdatePlan(ctx context.Context, id string, plan []*models.Step) error

	// UpdateStep replaces one step of the plan, matched by step ID.
	UpdateStep(ctx context.Context, id string, step *models.Step) error

	// AddArtifact appends an artifact to the task.
	AddArtifact(ctx context.Context, id string, artifact models.Artifact) error

	// AppendEvent assigns the next sequence number and appends the
	// event to the task's log. Appends to a succeeded or failed task
	// fail with ErrTerminal; a cancelled task still accepts events so
	// teardown can be recorded.
	AppendEvent(ctx context.Context, taskID string, event models.Event) (models.Event, error)

	// ListEvents returns the task's events with Seq greater than
	// afterSeq, in order. afterSeq 0 returns the full log.
	ListEvents(ctx context.Context, taskID string, afterSeq int64) ([]models.Event, error)

	// Close releases backend resources.
	Close() error
}
