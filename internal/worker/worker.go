// Package worker consumes the task queue with a bounded pool of
// executors and walks each claimed task through an orchestrator run to
// its terminal status.
//
// Per job: claim the task with a queued->running compare-and-swap, run
// the orchestrator, and map the result onto succeeded, failed, or
// cancelled. Transient run failures are retried with exponential
// backoff; fatal and cancelled runs are not.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golemhq/golem/internal/backoff"
	"github.com/golemhq/golem/internal/config"
	"github.com/golemhq/golem/internal/engine"
	"github.com/golemhq/golem/internal/observability"
	"github.com/golemhq/golem/internal/queue"
	"github.com/golemhq/golem/internal/store"
	"github.com/golemhq/golem/pkg/models"
)

// finalizeBudget bounds the store writes that record a task's terminal
// state. They run on a context detached from the task so a cancelled
// run can still be finalized.
const finalizeBudget = 10 * time.Second

// TaskRunner runs one task to completion. *engine.Orchestrator
// satisfies it.
type TaskRunner interface {
	Run(ctx context.Context, task *models.Task) (*engine.Result, error)
}

// Pool is the bounded worker pool. One Pool owns all task execution in
// a process; the gateway talks to it only through the queue and
// Cancel.
type Pool struct {
	config    config.WorkerConfig
	queue     queue.Queue
	store     store.TaskStore
	runner    TaskRunner
	publisher engine.EventPublisher
	policy    backoff.Policy
	logger    *observability.Logger
	metrics   *observability.Metrics

	mu      sync.Mutex
	cancels map[string]context.CancelFunc

	wg sync.WaitGroup
}

// New assembles a pool. publisher may be nil to disable event fan-out;
// metrics may be nil.
func New(
	cfg config.WorkerConfig,
	q queue.Queue,
	st store.TaskStore,
	runner TaskRunner,
	publisher engine.EventPublisher,
	logger *observability.Logger,
	metrics *observability.Metrics,
) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 30 * time.Second
	}
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{})
	}
	return &Pool{
		config:    cfg,
		queue:     q,
		store:     st,
		runner:    runner,
		publisher: publisher,
		policy: backoff.Policy{
			Base:   cfg.BackoffBase,
			Max:    cfg.BackoffMax,
			Factor: 2,
			Jitter: 0.1,
		},
		logger:  logger,
		metrics: metrics,
		cancels: make(map[string]context.CancelFunc),
	}
}

// Start launches the dequeue loops and returns. ctx bounds the pool's
// lifetime: when it ends the loops stop claiming new jobs and in-flight
// runs are cancelled. Use Stop to wait for them.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.config.Concurrency; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.loop(ctx)
		}()
	}
	p.logger.Info(ctx, "worker pool started", "concurrency", p.config.Concurrency)
}

// Stop blocks until every loop has exited or ctx expires.
func (p *Pool) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker pool stop: %w", ctx.Err())
	}
}

// Cancel aborts the live run of the given task, if any, and reports
// whether one was found. The caller owns the status transition; Cancel
// only unblocks the run.
func (p *Pool) Cancel(taskID string) bool {
	p.mu.Lock()
	cancel, ok := p.cancels[taskID]
	p.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// InFlight reports tasks currently executing.
func (p *Pool) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cancels)
}

func (p *Pool) loop(ctx context.Context) {
	for {
		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if !errors.Is(err, queue.ErrClosed) && ctx.Err() == nil {
				p.logger.Error(ctx, "dequeue failed", "error", err)
			}
			return
		}
		p.process(ctx, job)
	}
}

// process claims one job and drives it to a terminal status. The cancel
// registration happens before the claim so a gateway cancel arriving in
// the same instant finds either a queued task (its swap wins) or a live
// cancel func.
func (p *Pool) process(ctx context.Context, job queue.Job) {
	ctx = observability.WithTaskID(ctx, job.TaskID)

	taskCtx, cancel := context.WithCancel(ctx)
	p.register(job.TaskID, cancel)
	defer func() {
		p.unregister(job.TaskID)
		cancel()
	}()

	err := p.store.UpdateTaskStatus(ctx, job.TaskID, models.TaskStatusQueued, models.TaskStatusRunning)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			p.logger.Debug(ctx, "job dropped, task not found")
		case errors.Is(err, store.ErrConflict):
			p.logger.Debug(ctx, "job skipped, task no longer queued")
		default:
			p.logger.Error(ctx, "task claim failed", "error", err)
		}
		return
	}

	if p.metrics != nil {
		p.metrics.TaskStarted()
	}
	start := time.Now()

	status := p.execute(taskCtx, job.TaskID)

	if p.metrics != nil {
		p.metrics.TaskFinished()
		p.metrics.RecordTask(string(status), time.Since(start).Seconds())
	}
}

// execute runs the claimed task with the retry budget. Each attempt
// reloads the record: a prior attempt's plan is stale, and the status
// may have moved to cancelled in between.
func (p *Pool) execute(ctx context.Context, taskID string) models.TaskStatus {
	var lastErr error
	for attempt := 1; attempt <= p.config.MaxAttempts; attempt++ {
		task, err := p.store.GetTask(ctx, taskID)
		if err != nil {
			if ctx.Err() != nil {
				return p.cancelled(taskID)
			}
			return p.fail(taskID, "task load failed: "+err.Error())
		}
		if task.Status != models.TaskStatusRunning {
			p.logger.Info(ctx, "task no longer running, abandoning",
				"status", string(task.Status))
			return task.Status
		}

		if attempt > 1 {
			p.logger.Info(ctx, "task attempt starting",
				"attempt", attempt, "previous_error", lastErr.Error())
		}

		result, err := p.runner.Run(ctx, task)
		if err == nil {
			if result.Outcome == engine.OutcomeStopped {
				return p.fail(taskID, result.Error)
			}
			return p.succeed(ctx, taskID)
		}

		lastErr = err
		if engine.IsCancellation(err) || ctx.Err() != nil {
			return p.cancelled(taskID)
		}
		if engine.IsFatal(err) {
			return p.fail(taskID, err.Error())
		}

		p.logger.Warn(ctx, "task attempt failed",
			"attempt", attempt, "max_attempts", p.config.MaxAttempts, "error", err)
		if attempt < p.config.MaxAttempts {
			if err := p.policy.Sleep(ctx, attempt); err != nil {
				return p.cancelled(taskID)
			}
		}
	}
	return p.fail(taskID, fmt.Sprintf("task failed after %d attempts: %v", p.config.MaxAttempts, lastErr))
}

// succeed covers both full success and completed-with-failures: the
// plan ran to the end, so the task record counts as succeeded and the
// event log carries the distinction.
func (p *Pool) succeed(_ context.Context, taskID string) models.TaskStatus {
	ctx, cancel := p.finalizeCtx(taskID)
	defer cancel()

	if err := p.store.UpdateTaskStatus(ctx, taskID, models.TaskStatusRunning, models.TaskStatusSucceeded); err != nil {
		p.logger.Error(ctx, "terminal status write failed",
			"status", "succeeded", "error", err)
	}
	p.logger.Info(ctx, "task succeeded")
	return models.TaskStatusSucceeded
}

// fail appends task_failed while the task still accepts events, then
// records the error and swaps the status.
func (p *Pool) fail(taskID, message string) models.TaskStatus {
	ctx, cancel := p.finalizeCtx(taskID)
	defer cancel()

	event := models.NewEvent(models.EventTaskFailed, map[string]any{"error": message})
	stored, err := p.store.AppendEvent(ctx, taskID, event)
	if err != nil {
		p.logger.Error(ctx, "event append failed",
			"event_type", string(models.EventTaskFailed), "error", err)
	} else {
		if p.metrics != nil {
			p.metrics.RecordEvent(string(stored.Type))
		}
		if p.publisher != nil {
			p.publisher.Publish(taskID, stored)
		}
	}

	if err := p.store.SetTaskError(ctx, taskID, message); err != nil {
		p.logger.Error(ctx, "task error write failed", "error", err)
	}
	if err := p.store.UpdateTaskStatus(ctx, taskID, models.TaskStatusRunning, models.TaskStatusFailed); err != nil {
		p.logger.Error(ctx, "terminal status write failed",
			"status", "failed", "error", err)
	}
	p.logger.Info(ctx, "task failed", "error", message)
	return models.TaskStatusFailed
}

// cancelled finalizes a run that was externally cancelled or swept up
// in a shutdown. The gateway usually wrote the status already, so a
// losing swap is expected, not an error.
func (p *Pool) cancelled(taskID string) models.TaskStatus {
	ctx, cancel := p.finalizeCtx(taskID)
	defer cancel()

	err := p.store.UpdateTaskStatus(ctx, taskID, models.TaskStatusRunning, models.TaskStatusCancelled)
	if err != nil && !errors.Is(err, store.ErrConflict) {
		p.logger.Error(ctx, "terminal status write failed",
			"status", "cancelled", "error", err)
	}
	p.logger.Info(ctx, "task cancelled")
	return models.TaskStatusCancelled
}

// finalizeCtx returns a context detached from the task's lifetime so
// terminal writes survive its cancellation.
func (p *Pool) finalizeCtx(taskID string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeBudget)
	return observability.WithTaskID(ctx, taskID), cancel
}

func (p *Pool) register(taskID string, cancel context.CancelFunc) {
	p.mu.Lock()
	p.cancels[taskID] = cancel
	p.mu.Unlock()
}

func (p *Pool) unregister(taskID string) {
	p.mu.Lock()
	delete(p.cancels, taskID)
	p.mu.Unlock()
}
