package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/golemhq/golem/internal/observability"
	"github.com/golemhq/golem/pkg/models"
)

// Outcome is the orchestrator's verdict on a finished run. The worker
// maps it onto the task's terminal status.
type Outcome string

const (
	// OutcomeSucceeded means every step completed.
	OutcomeSucceeded Outcome = "succeeded"

	// OutcomeCompletedWithFailures means the plan ran to the end but
	// one or more non-required steps failed. The task still counts as
	// succeeded.
	OutcomeCompletedWithFailures Outcome = "completed_with_failures"

	// OutcomeStopped means a required step failed and execution
	// aborted. The task fails with the step's error.
	OutcomeStopped Outcome = "stopped"
)

// Result summarizes a finished run.
type Result struct {
	Outcome        Outcome
	StepsTotal     int
	StepsCompleted int
	Corrections    int

	// Error carries the failing step's error when Outcome is stopped.
	Error string
}

// SandboxController is the slice of the sandbox manager the
// orchestrator drives: one create at task start, one destroy on every
// exit path.
type SandboxController interface {
	Create(ctx context.Context, taskID string) (*models.Sandbox, error)
	Destroy(ctx context.Context, sandboxID string) error
}

// TaskRecorder is the persistence surface used during a run. The full
// task store satisfies it.
type TaskRecorder interface {
	UpdatePlan(ctx context.Context, id string, plan []*models.Step) error
	UpdateStep(ctx context.Context, id string, step *models.Step) error
	AddArtifact(ctx context.Context, id string, artifact models.Artifact) error
	AppendEvent(ctx context.Context, taskID string, event models.Event) (models.Event, error)
}

// EventPublisher fans appended events out to live subscribers. The
// broker satisfies it; a nil publisher disables fan-out.
type EventPublisher interface {
	Publish(taskID string, event models.Event)
}

// OrchestratorConfig bounds a run.
type OrchestratorConfig struct {
	// MaxCorrections caps critic splices per task. Defaults to 3.
	MaxCorrections int

	// DestroyBudget bounds sandbox teardown, which runs on a context
	// detached from the task so cancellation cannot leak containers.
	// Defaults to 30s.
	DestroyBudget time.Duration
}

// Orchestrator drives one task from goal to terminal event: sandbox
// up, plan, execute step by step under critic review, finalize,
// sandbox down. Each instance is single-use state-free; the worker
// shares one across tasks.
//
// Run returns an error only for failures that abort the run (sandbox
// create, planning, persistence, cancellation). Step failures are data,
// not errors: they land in events and the Result.
type Orchestrator struct {
	planner   *Planner
	executor  *Executor
	critic    *Critic // nil when disabled
	sandboxes SandboxController
	recorder  TaskRecorder
	publisher EventPublisher
	config    OrchestratorConfig
	logger    *observability.Logger
	metrics   *observability.Metrics
	tracer    *observability.Tracer
}

// NewOrchestrator assembles an orchestrator. critic may be nil to
// disable mid-run evaluation; publisher may be nil to disable event
// fan-out.
func NewOrchestrator(
	planner *Planner,
	executor *Executor,
	critic *Critic,
	sandboxes SandboxController,
	recorder TaskRecorder,
	publisher EventPublisher,
	config OrchestratorConfig,
	logger *observability.Logger,
	metrics *observability.Metrics,
	tracer *observability.Tracer,
) *Orchestrator {
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{})
	}
	if tracer == nil {
		tracer, _ = observability.NewTracer(observability.TraceConfig{})
	}
	if config.MaxCorrections <= 0 {
		config.MaxCorrections = 3
	}
	if config.DestroyBudget <= 0 {
		config.DestroyBudget = 30 * time.Second
	}
	return &Orchestrator{
		planner:   planner,
		executor:  executor,
		critic:    critic,
		sandboxes: sandboxes,
		recorder:  recorder,
		publisher: publisher,
		config:    config,
		logger:    logger,
		metrics:   metrics,
		tracer:    tracer,
	}
}

// Run executes the task to a terminal event sequence. The task's plan
// and step records are persisted as they change; the event log captures
// every observable transition in order.
func (o *Orchestrator) Run(ctx context.Context, task *models.Task) (*Result, error) {
	ctx = observability.WithTaskID(ctx, task.ID)
	ctx, span := o.tracer.Start(ctx, "orchestrator.run",
		attribute.String("task.id", task.ID))
	defer span.End()

	o.logger.Info(ctx, "task run starting", "goal", task.Goal)
	o.append(ctx, task.ID, models.NewEvent(models.EventTaskStarted, map[string]any{
		"goal": task.Goal,
	}))

	sb, err := o.createSandbox(ctx, task.ID)
	if err != nil {
		o.tracer.RecordError(span, err)
		o.appendFailure(ctx, task.ID, "sandbox", err)
		return nil, err
	}
	ctx = observability.WithSandboxID(ctx, sb.ID)
	// Teardown runs before Run returns on every path, so the
	// sandbox_destroyed event always precedes the worker's terminal
	// status write.
	defer o.teardown(task.ID, sb.ID)

	o.append(ctx, task.ID, models.NewEvent(models.EventSandboxCreated, map[string]any{
		"sandbox_id": sb.ID,
		"ports":      sb.Ports,
	}))

	if err := ctx.Err(); err != nil {
		return nil, NewCancellationError("run", err)
	}

	if err := o.planPhase(ctx, task); err != nil {
		o.tracer.RecordError(span, err)
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, NewCancellationError("run", err)
	}

	result, err := o.executePhase(ctx, task, sb.ID)
	if err != nil {
		o.tracer.RecordError(span, err)
		return nil, err
	}

	o.finalize(ctx, task, result)
	o.logger.Info(ctx, "task run finished",
		"outcome", string(result.Outcome),
		"steps_total", result.StepsTotal,
		"steps_completed", result.StepsCompleted,
		"corrections", result.Corrections)
	return result, nil
}

func (o *Orchestrator) createSandbox(ctx context.Context, taskID string) (*models.Sandbox, error) {
	ctx, span := o.tracer.Start(ctx, "sandbox.create")
	defer span.End()

	sb, err := o.sandboxes.Create(ctx, taskID)
	if err != nil {
		o.tracer.RecordError(span, err)
		if ctx.Err() != nil {
			return nil, NewCancellationError("create sandbox", ctx.Err())
		}
		if IsKind(err, KindSandbox) {
			return nil, err
		}
		return nil, NewSandboxError("create sandbox", "sandbox creation failed", err)
	}
	return sb, nil
}

func (o *Orchestrator) planPhase(ctx context.Context, task *models.Task) error {
	ctx, span := o.tracer.Start(ctx, "planner.plan")
	defer span.End()

	o.append(ctx, task.ID, models.NewEvent(models.EventPlanningStarted, nil))

	steps, err := o.planner.Plan(ctx, task.Goal, task.Context)
	if err != nil {
		o.tracer.RecordError(span, err)
		if !IsCancellation(err) {
			o.appendFailure(ctx, task.ID, "planning", err)
		}
		return err
	}

	task.Plan = steps
	if err := o.recorder.UpdatePlan(ctx, task.ID, steps); err != nil {
		err = NewInfrastructureError("persist plan", "plan write failed", err)
		o.appendFailure(ctx, task.ID, "planning", err)
		return err
	}

	summary := make([]map[string]any, 0, len(steps))
	for _, s := range steps {
		summary = append(summary, map[string]any{
			"id":          s.ID,
			"description": s.Description,
			"tool":        s.Tool,
		})
	}
	o.append(ctx, task.ID, models.NewEvent(models.EventPlanGenerated, map[string]any{
		"count": len(steps),
		"steps": summary,
	}))
	return nil
}

func (o *Orchestrator) executePhase(ctx context.Context, task *models.Task, sandboxID string) (*Result, error) {
	o.append(ctx, task.ID, models.NewEvent(models.EventExecutionStarted, map[string]any{
		"steps": len(task.Plan),
	}))

	result := &Result{}
	for i := 0; i < len(task.Plan); i++ {
		if err := ctx.Err(); err != nil {
			return nil, NewCancellationError("execute", err)
		}

		step := task.Plan[i]
		o.append(ctx, task.ID, models.NewEvent(models.EventStepStarted, map[string]any{
			"step_id":     step.ID,
			"tool":        step.Tool,
			"description": step.Description,
		}))

		stepCtx := observability.WithStepID(ctx, step.ID)
		_, stepSpan := o.tracer.Start(stepCtx, "executor.step",
			attribute.String("step.id", step.ID),
			attribute.String("step.tool", step.Tool))
		o.executor.ExecuteStep(stepCtx, task.ID, sandboxID, step)
		stepSpan.End()

		if err := o.persistStep(ctx, task.ID, step); err != nil {
			o.appendFailure(ctx, task.ID, "execution", err)
			return nil, err
		}

		o.append(ctx, task.ID, models.NewEvent(models.EventStepCompleted, stepCompletedData(step)))

		if err := ctx.Err(); err != nil {
			return nil, NewCancellationError("execute", err)
		}

		// The critic is skipped once the correction budget is spent:
		// a verdict it cannot act on is not worth a model call.
		if o.critic != nil && result.Corrections < o.config.MaxCorrections {
			if err := o.criticPhase(ctx, task, step, i, result); err != nil {
				return nil, err
			}
			if err := ctx.Err(); err != nil {
				return nil, NewCancellationError("execute", err)
			}
		}

		if step.Status == models.StepStatusFailed && step.Required {
			o.append(ctx, task.ID, models.NewEvent(models.EventExecutionStopped, map[string]any{
				"step_id": step.ID,
				"error":   promptClip(step.Error, 500),
			}))
			result.Error = step.Error
			break
		}
	}

	result.StepsTotal = len(task.Plan)
	for _, s := range task.Plan {
		if s.Status == models.StepStatusCompleted {
			result.StepsCompleted++
		}
	}
	switch {
	case result.StepsCompleted == result.StepsTotal:
		result.Outcome = OutcomeSucceeded
	case result.Error != "":
		result.Outcome = OutcomeStopped
	default:
		result.Outcome = OutcomeCompletedWithFailures
	}
	return result, nil
}

// criticPhase reviews the just-executed step and splices any corrective
// steps into the plan directly after it. Critic failures degrade to "no
// correction"; only persistence failures abort the run.
func (o *Orchestrator) criticPhase(ctx context.Context, task *models.Task, executed *models.Step, index int, result *Result) error {
	ctx, span := o.tracer.Start(ctx, "critic.review",
		attribute.String("step.id", executed.ID))
	defer span.End()

	evaluation, corrections, err := o.critic.Review(ctx, task.Goal, task.Plan, executed, result.Corrections+1)
	if err != nil {
		o.tracer.RecordError(span, err)
		o.logger.Warn(ctx, "critic review failed, continuing without correction",
			"step_id", executed.ID, "error", err)
		return nil
	}

	data := map[string]any{
		"step_id":    executed.ID,
		"on_track":   evaluation.OnTrack,
		"confidence": evaluation.Confidence,
	}
	if len(evaluation.Issues) > 0 {
		data["issues"] = evaluation.Issues
	}
	if len(evaluation.Suggestions) > 0 {
		data["suggestions"] = evaluation.Suggestions
	}
	o.append(ctx, task.ID, models.NewEvent(models.EventCriticEvaluation, data))

	if len(corrections) == 0 {
		return nil
	}

	revised := make([]*models.Step, 0, len(task.Plan)+len(corrections))
	revised = append(revised, task.Plan[:index+1]...)
	revised = append(revised, corrections...)
	revised = append(revised, task.Plan[index+1:]...)

	if err := o.recorder.UpdatePlan(ctx, task.ID, revised); err != nil {
		err = NewInfrastructureError("persist corrections", "plan write failed", err)
		o.appendFailure(ctx, task.ID, "execution", err)
		return err
	}
	task.Plan = revised
	result.Corrections++
	if o.metrics != nil {
		o.metrics.RecordCorrections(len(corrections))
	}

	ids := make([]string, 0, len(corrections))
	for _, c := range corrections {
		ids = append(ids, c.ID)
	}
	o.append(ctx, task.ID, models.NewEvent(models.EventCorrectionApplied, map[string]any{
		"after_step": executed.ID,
		"step_ids":   ids,
		"added":      len(corrections),
	}))
	o.logger.Info(ctx, "corrective steps spliced",
		"after_step", executed.ID, "added", len(corrections))
	return nil
}

// persistStep writes the executed step and lifts its artifacts onto the
// task record. Artifact write failures are logged, not fatal: the step
// result still carries them.
func (o *Orchestrator) persistStep(ctx context.Context, taskID string, step *models.Step) error {
	if err := o.recorder.UpdateStep(ctx, taskID, step); err != nil {
		return NewInfrastructureError("persist step", "step write failed", err)
	}
	if step.Result == nil {
		return nil
	}
	for _, artifact := range step.Result.Artifacts {
		if err := o.recorder.AddArtifact(ctx, taskID, artifact); err != nil {
			o.logger.Warn(ctx, "artifact write failed",
				"step_id", step.ID, "error", err)
		}
	}
	return nil
}

func (o *Orchestrator) finalize(ctx context.Context, task *models.Task, result *Result) {
	if result.Outcome == OutcomeSucceeded {
		o.append(ctx, task.ID, models.NewEvent(models.EventTaskSucceeded, map[string]any{
			"steps": result.StepsTotal,
		}))
		return
	}
	o.append(ctx, task.ID, models.NewEvent(models.EventTaskCompletedWithFailures, map[string]any{
		"completed": result.StepsCompleted,
		"failed":    result.StepsTotal - result.StepsCompleted,
	}))
}

// teardown destroys the sandbox on a context detached from the task so
// a cancelled run still releases its container. Destroy failures are
// recorded on the event, never raised: the manager has already dropped
// the sandbox from its table.
func (o *Orchestrator) teardown(taskID, sandboxID string) {
	ctx, cancel := context.WithTimeout(context.Background(), o.config.DestroyBudget)
	defer cancel()
	ctx = observability.WithTaskID(ctx, taskID)
	ctx = observability.WithSandboxID(ctx, sandboxID)

	data := map[string]any{"sandbox_id": sandboxID}
	if err := o.sandboxes.Destroy(ctx, sandboxID); err != nil {
		o.logger.Error(ctx, "sandbox destroy failed", "error", err)
		data["error"] = err.Error()
	}
	o.append(ctx, taskID, models.NewEvent(models.EventSandboxDestroyed, data))
}

// append writes one event to the task log and fans it out. Append
// failures are logged and swallowed: losing one event must not abort a
// run that is otherwise healthy.
func (o *Orchestrator) append(ctx context.Context, taskID string, event models.Event) {
	stored, err := o.recorder.AppendEvent(ctx, taskID, event)
	if err != nil {
		o.logger.Error(ctx, "event append failed",
			"event_type", string(event.Type), "error", err)
		return
	}
	if o.metrics != nil {
		o.metrics.RecordEvent(string(stored.Type))
	}
	if o.publisher != nil {
		o.publisher.Publish(taskID, stored)
	}
}

func (o *Orchestrator) appendFailure(ctx context.Context, taskID, phase string, err error) {
	o.append(ctx, taskID, models.NewEvent(models.EventOrchestrationFailed, map[string]any{
		"phase": phase,
		"error": err.Error(),
	}))
}

func stepCompletedData(step *models.Step) map[string]any {
	data := map[string]any{
		"step_id": step.ID,
		"status":  string(step.Status),
	}
	if step.Result != nil {
		if step.Result.Output != "" {
			data["output"] = promptClip(step.Result.Output, 500)
		}
		if len(step.Result.Artifacts) > 0 {
			data["artifacts"] = len(step.Result.Artifacts)
		}
	}
	if step.Error != "" {
		data["error"] = promptClip(step.Error, 500)
	}
	return data
}
