package store

import (
	"context"
	"sync"
	"time"

	"github.com/golemhq/golem/pkg/models"
)

// MemoryStore keeps task records in memory. Safe for concurrent use.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*models.Task
	keys  []string
}

// NewMemoryStore returns an empty in-memory task store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks: make(map[string]*models.Task),
	}
}

// CreateTask stores a new task record.
func (s *MemoryStore) CreateTask(ctx context.Context, task *models.Task) error {
	if task == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; exists {
		return ErrConflict
	}
	s.keys = append(s.keys, task.ID)
	s.tasks[task.ID] = cloneTask(task)
	return nil
}

// GetTask returns the full task record including its event log.
func (s *MemoryStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTask(task), nil
}

// ListTasks returns tasks in creation order with empty event logs.
func (s *MemoryStore) ListTasks(ctx context.Context, filter ListFilter) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*models.Task, 0, len(s.keys))
	for _, id := range s.keys {
		task, ok := s.tasks[id]
		if !ok {
			continue
		}
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		matched = append(matched, task)
	}

	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return nil, nil
	}
	end := len(matched)
	if filter.Limit > 0 && offset+filter.Limit < end {
		end = offset + filter.Limit
	}

	result := make([]*models.Task, 0, end-offset)
	for _, task := range matched[offset:end] {
		clone := cloneTask(task)
		clone.Events = nil
		result = append(result, clone)
	}
	return result, nil
}

// UpdateTaskStatus transitions a task between statuses with CAS
// semantics.
func (s *MemoryStore) UpdateTaskStatus(ctx context.Context, id string, from, to models.TaskStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if task.Status != from || !from.CanTransitionTo(to) {
		return ErrConflict
	}
	task.Status = to
	now := time.Now().UTC()
	if to == models.TaskStatusRunning {
		task.StartedAt = &now
	}
	if to.IsTerminal() {
		task.CompletedAt = &now
	}
	return nil
}

// SetTaskError records the terminal error string for the task.
func (s *MemoryStore) SetTaskError(ctx context.Context, id string, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	task.Error = message
	return nil
}

// UpdatePlan replaces the task's plan.
func (s *MemoryStore) UpdatePlan(ctx context.Context, id string, plan []*models.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	task.Plan = cloneSteps(plan)
	return nil
}

// UpdateStep replaces one step of the plan, matched by step ID.
func (s *MemoryStore) UpdateStep(ctx context.Context, id string, step *models.Step) error {
	if step == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	for i, existing := range task.Plan {
		if existing.ID == step.ID {
			task.Plan[i] = cloneStep(step)
			return nil
		}
	}
	return ErrNotFound
}

// AddArtifact appends an artifact to the task.
func (s *MemoryStore) AddArtifact(ctx context.Context, id string, artifact models.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	task.Artifacts = append(task.Artifacts, artifact)
	return nil
}

// AppendEvent assigns the next sequence number and appends the event.
func (s *MemoryStore) AppendEvent(ctx context.Context, taskID string, event models.Event) (models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return models.Event{}, ErrNotFound
	}
	if task.Status == models.TaskStatusSucceeded || task.Status == models.TaskStatusFailed {
		return models.Event{}, ErrTerminal
	}
	event.Seq = int64(len(task.Events)) + 1
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	task.Events = append(task.Events, event)
	return event, nil
}

// ListEvents returns the task's events after the given sequence number.
func (s *MemoryStore) ListEvents(ctx context.Context, taskID string, afterSeq int64) ([]models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	events := make([]models.Event, 0, len(task.Events))
	for _, ev := range task.Events {
		if ev.Seq > afterSeq {
			events = append(events, ev)
		}
	}
	return events, nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}

func cloneTask(task *models.Task) *models.Task {
	if task == nil {
		return nil
	}
	clone := *task
	if task.Context != nil {
		clone.Context = make(map[string]any, len(task.Context))
		for k, v := range task.Context {
			clone.Context[k] = v
		}
	}
	clone.Plan = cloneSteps(task.Plan)
	if task.Events != nil {
		clone.Events = append([]models.Event{}, task.Events...)
	}
	if task.Artifacts != nil {
		clone.Artifacts = append([]models.Artifact{}, task.Artifacts...)
	}
	if task.StartedAt != nil {
		started := *task.StartedAt
		clone.StartedAt = &started
	}
	if task.CompletedAt != nil {
		completed := *task.CompletedAt
		clone.CompletedAt = &completed
	}
	return &clone
}

func cloneSteps(steps []*models.Step) []*models.Step {
	if steps == nil {
		return nil
	}
	result := make([]*models.Step, len(steps))
	for i, step := range steps {
		result[i] = cloneStep(step)
	}
	return result
}

func cloneStep(step *models.Step) *models.Step {
	if step == nil {
		return nil
	}
	clone := *step
	if step.Arguments != nil {
		clone.Arguments = append([]byte{}, step.Arguments...)
	}
	if step.Result != nil {
		result := *step.Result
		if step.Result.Artifacts != nil {
			result.Artifacts = append([]models.Artifact{}, step.Result.Artifacts...)
		}
		if step.Result.Metadata != nil {
			result.Metadata = make(map[string]any, len(step.Result.Metadata))
			for k, v := range step.Result.Metadata {
				result.Metadata[k] = v
			}
		}
		clone.Result = &result
	}
	if step.StartedAt != nil {
		started := *step.StartedAt
		clone.StartedAt = &started
	}
	if step.CompletedAt != nil {
		completed := *step.CompletedAt
		clone.CompletedAt = &completed
	}
	return &clone
}
