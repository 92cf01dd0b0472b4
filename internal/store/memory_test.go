package store

import (
	"context"
	"errors"
	"testing"

	"github.com/golemhq/golem/pkg/models"
)

func TestMemoryStoreCreateAndGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	task := models.NewTask("list the files", nil)
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	got, err := s.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if got.Goal != "list the files" {
		t.Errorf("Goal = %q, want %q", got.Goal, "list the files")
	}
	if got.Status != models.TaskStatusQueued {
		t.Errorf("Status = %q, want queued", got.Status)
	}

	// Mutating the returned record must not touch the stored one.
	got.Goal = "changed"
	again, _ := s.GetTask(ctx, task.ID)
	if again.Goal != "list the files" {
		t.Errorf("stored task mutated through returned copy")
	}
}

func TestMemoryStoreGetMissing(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.GetTask(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetTask(missing) error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreCreateDuplicate(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	task := models.NewTask("goal", nil)
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if err := s.CreateTask(ctx, task); !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate CreateTask() error = %v, want ErrConflict", err)
	}
}

func TestMemoryStoreStatusCAS(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	task := models.NewTask("goal", nil)
	_ = s.CreateTask(ctx, task)

	if err := s.UpdateTaskStatus(ctx, task.ID, models.TaskStatusQueued, models.TaskStatusRunning); err != nil {
		t.Fatalf("queued->running error = %v", err)
	}
	got, _ := s.GetTask(ctx, task.ID)
	if got.StartedAt == nil {
		t.Errorf("StartedAt not stamped on running transition")
	}

	// Losing swap: stored status is running, not queued.
	err := s.UpdateTaskStatus(ctx, task.ID, models.TaskStatusQueued, models.TaskStatusCancelled)
	if !errors.Is(err, ErrConflict) {
		t.Errorf("stale CAS error = %v, want ErrConflict", err)
	}

	if err := s.UpdateTaskStatus(ctx, task.ID, models.TaskStatusRunning, models.TaskStatusSucceeded); err != nil {
		t.Fatalf("running->succeeded error = %v", err)
	}
	got, _ = s.GetTask(ctx, task.ID)
	if got.CompletedAt == nil {
		t.Errorf("CompletedAt not stamped on terminal transition")
	}

	// Terminal statuses are written exactly once.
	err = s.UpdateTaskStatus(ctx, task.ID, models.TaskStatusSucceeded, models.TaskStatusFailed)
	if !errors.Is(err, ErrConflict) {
		t.Errorf("resurrection error = %v, want ErrConflict", err)
	}
}

func TestMemoryStoreAppendEventSequence(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	task := models.NewTask("goal", nil)
	_ = s.CreateTask(ctx, task)

	first, err := s.AppendEvent(ctx, task.ID, models.NewEvent(models.EventTaskStarted, nil))
	if err != nil {
		t.Fatalf("AppendEvent() error = %v", err)
	}
	second, err := s.AppendEvent(ctx, task.ID, models.NewEvent(models.EventPlanningStarted, nil))
	if err != nil {
		t.Fatalf("AppendEvent() error = %v", err)
	}
	if first.Seq != 1 || second.Seq != 2 {
		t.Errorf("Seq = %d, %d, want 1, 2", first.Seq, second.Seq)
	}

	events, err := s.ListEvents(ctx, task.ID, 0)
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	if events[0].Type != models.EventTaskStarted || events[1].Type != models.EventPlanningStarted {
		t.Errorf("event order wrong: %v, %v", events[0].Type, events[1].Type)
	}

	tail, err := s.ListEvents(ctx, task.ID, 1)
	if err != nil {
		t.Fatalf("ListEvents(after=1) error = %v", err)
	}
	if len(tail) != 1 || tail[0].Seq != 2 {
		t.Errorf("ListEvents(after=1) = %v, want only seq 2", tail)
	}
}

func TestMemoryStoreAppendEventTerminalGuard(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	task := models.NewTask("goal", nil)
	_ = s.CreateTask(ctx, task)
	_ = s.UpdateTaskStatus(ctx, task.ID, models.TaskStatusQueued, models.TaskStatusRunning)
	_ = s.UpdateTaskStatus(ctx, task.ID, models.TaskStatusRunning, models.TaskStatusSucceeded)

	_, err := s.AppendEvent(ctx, task.ID, models.NewEvent(models.EventTaskSucceeded, nil))
	if !errors.Is(err, ErrTerminal) {
		t.Errorf("append to succeeded task error = %v, want ErrTerminal", err)
	}

	// A cancelled task still accepts events so sandbox teardown can be
	// recorded after the status flips.
	cancelled := models.NewTask("other goal", nil)
	_ = s.CreateTask(ctx, cancelled)
	_ = s.UpdateTaskStatus(ctx, cancelled.ID, models.TaskStatusQueued, models.TaskStatusCancelled)
	if _, err := s.AppendEvent(ctx, cancelled.ID, models.NewEvent(models.EventSandboxDestroyed, nil)); err != nil {
		t.Errorf("append to cancelled task error = %v, want nil", err)
	}
}

func TestMemoryStoreListTasks(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		task := models.NewTask("goal", nil)
		_ = s.CreateTask(ctx, task)
		ids = append(ids, task.ID)
	}
	_ = s.UpdateTaskStatus(ctx, ids[0], models.TaskStatusQueued, models.TaskStatusRunning)
	_ = s.UpdateTaskStatus(ctx, ids[1], models.TaskStatusQueued, models.TaskStatusRunning)

	running, err := s.ListTasks(ctx, ListFilter{Status: models.TaskStatusRunning})
	if err != nil {
		t.Fatalf("ListTasks() error = %v", err)
	}
	if len(running) != 2 {
		t.Errorf("running tasks = %d, want 2", len(running))
	}

	page, err := s.ListTasks(ctx, ListFilter{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("ListTasks() error = %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("page size = %d, want 2", len(page))
	}
	if page[0].ID != ids[1] || page[1].ID != ids[2] {
		t.Errorf("page = %s, %s, want %s, %s", page[0].ID, page[1].ID, ids[1], ids[2])
	}

	empty, err := s.ListTasks(ctx, ListFilter{Offset: 99})
	if err != nil {
		t.Fatalf("ListTasks() error = %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("out-of-range page size = %d, want 0", len(empty))
	}
}

func TestMemoryStoreUpdatePlanAndStep(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	task := models.NewTask("goal", nil)
	_ = s.CreateTask(ctx, task)

	plan := []*models.Step{
		{ID: "step1", Tool: "shell", Description: "run", Status: models.StepStatusPending, Required: true},
		{ID: "step2", Tool: "file_read", Description: "read", Status: models.StepStatusPending, Required: true},
	}
	if err := s.UpdatePlan(ctx, task.ID, plan); err != nil {
		t.Fatalf("UpdatePlan() error = %v", err)
	}

	done := *plan[0]
	done.Status = models.StepStatusCompleted
	done.Result = &models.StepResult{Success: true, Output: "ok"}
	if err := s.UpdateStep(ctx, task.ID, &done); err != nil {
		t.Fatalf("UpdateStep() error = %v", err)
	}

	got, _ := s.GetTask(ctx, task.ID)
	if len(got.Plan) != 2 {
		t.Fatalf("plan size = %d, want 2", len(got.Plan))
	}
	if got.Plan[0].Status != models.StepStatusCompleted {
		t.Errorf("step1 status = %q, want completed", got.Plan[0].Status)
	}
	if got.Plan[1].Status != models.StepStatusPending {
		t.Errorf("step2 status = %q, want pending", got.Plan[1].Status)
	}

	missing := models.Step{ID: "ghost"}
	if err := s.UpdateStep(ctx, task.ID, &missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateStep(ghost) error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreAddArtifact(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	task := models.NewTask("goal", nil)
	_ = s.CreateTask(ctx, task)

	artifact := models.Artifact{Type: models.ArtifactFile, Path: "/work/out.txt", Metadata: map[string]any{"size": 12}}
	if err := s.AddArtifact(ctx, task.ID, artifact); err != nil {
		t.Fatalf("AddArtifact() error = %v", err)
	}
	got, _ := s.GetTask(ctx, task.ID)
	if len(got.Artifacts) != 1 || got.Artifacts[0].Path != "/work/out.txt" {
		t.Errorf("Artifacts = %v, want the written file", got.Artifacts)
	}
}
