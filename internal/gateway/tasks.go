package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/golemhq/golem/internal/observability"
	"github.com/golemhq/golem/internal/queue"
	"github.com/golemhq/golem/internal/store"
	"github.com/golemhq/golem/pkg/models"
)

// maxGoalBytes bounds a submitted goal. Goals are prompt material, so
// the cap also protects the planner's context window.
const maxGoalBytes = 16384

// createTaskRequest is the POST /v1/tasks body.
type createTaskRequest struct {
	Goal    string         `json:"goal"`
	Context map[string]any `json:"context,omitempty"`
}

// handleTasks routes the collection endpoints: create and list.
func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createTask(w, r)
	case http.MethodGet:
		s.listTasks(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleTask routes the task-scoped endpoints: get, cancel, events.
func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/tasks/")
	if path == "" {
		writeError(w, http.StatusBadRequest, "task id required")
		return
	}
	parts := strings.Split(path, "/")
	taskID := parts[0]
	if taskID == "" {
		writeError(w, http.StatusBadRequest, "task id required")
		return
	}

	if len(parts) > 1 {
		if parts[1] == "events" && r.Method == http.MethodGet {
			s.listTaskEvents(w, r, taskID)
			return
		}
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.getTask(w, r, taskID)
	case http.MethodDelete:
		s.cancelTask(w, r, taskID)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	goal := strings.TrimSpace(req.Goal)
	if goal == "" {
		writeError(w, http.StatusBadRequest, "goal is required")
		return
	}
	if len(goal) > maxGoalBytes {
		writeError(w, http.StatusBadRequest, "goal exceeds maximum length")
		return
	}

	ctx := r.Context()
	task := models.NewTask(goal, req.Context)
	if err := s.store.CreateTask(ctx, task); err != nil {
		s.logger.Error(ctx, "task create failed", "error", err)
		writeError(w, http.StatusInternalServerError, "task create failed")
		return
	}

	if err := s.queue.Enqueue(ctx, queue.Job{TaskID: task.ID}); err != nil {
		// The record exists but no worker will ever see it; fail it in
		// place so the caller is not left polling a queued ghost.
		s.logger.Error(ctx, "task enqueue failed", "task_id", task.ID, "error", err)
		_ = s.store.SetTaskError(ctx, task.ID, "enqueue failed: "+err.Error())
		_ = s.store.UpdateTaskStatus(ctx, task.ID, models.TaskStatusQueued, models.TaskStatusCancelled)
		writeError(w, http.StatusServiceUnavailable, "task queue unavailable")
		return
	}

	s.logger.Info(observability.WithTaskID(ctx, task.ID), "task accepted", "goal", goal)
	writeJSON(w, http.StatusCreated, map[string]string{
		"task_id": task.ID,
		"status":  string(task.Status),
	})
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request, taskID string) {
	task, err := s.store.GetTask(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "task load failed")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	filter := store.ListFilter{
		Limit:  parseIntParam(r, "limit", 50),
		Offset: parseIntParam(r, "offset", 0),
	}
	if filter.Limit < 1 || filter.Limit > 500 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := models.TaskStatus(raw)
		switch status {
		case models.TaskStatusQueued, models.TaskStatusRunning,
			models.TaskStatusSucceeded, models.TaskStatusFailed,
			models.TaskStatusCancelled:
			filter.Status = status
		default:
			writeError(w, http.StatusBadRequest, "unknown status "+strconv.Quote(raw))
			return
		}
	}

	tasks, err := s.store.ListTasks(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "task list failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks": tasks,
		"count": len(tasks),
	})
}

// cancelTask swaps the status to cancelled and kicks the live run if
// one exists. Tasks already terminal answer 409.
func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request, taskID string) {
	ctx := r.Context()

	err := s.store.UpdateTaskStatus(ctx, taskID, models.TaskStatusQueued, models.TaskStatusCancelled)
	if errors.Is(err, store.ErrConflict) {
		err = s.store.UpdateTaskStatus(ctx, taskID, models.TaskStatusRunning, models.TaskStatusCancelled)
	}
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "task not found")
		return
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "task is already terminal")
		return
	default:
		writeError(w, http.StatusInternalServerError, "task cancel failed")
		return
	}

	live := false
	if s.worker != nil {
		live = s.worker.Cancel(taskID)
	}
	s.logger.Info(observability.WithTaskID(ctx, taskID), "task cancelled", "was_running", live)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"task_id": taskID,
		"status":  string(models.TaskStatusCancelled),
	})
}

func (s *Server) listTaskEvents(w http.ResponseWriter, r *http.Request, taskID string) {
	afterSeq := int64(parseIntParam(r, "after_seq", 0))
	if afterSeq < 0 {
		afterSeq = 0
	}
	list, err := s.store.ListEvents(r.Context(), taskID, afterSeq)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "event list failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"task_id": taskID,
		"events":  list,
		"count":   len(list),
	})
}

func parseIntParam(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
