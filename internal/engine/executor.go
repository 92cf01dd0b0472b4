package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/golemhq/golem/internal/observability"
	"github.com/golemhq/golem/pkg/models"
)

// ExecutorConfig carries the per-step execution defaults.
type ExecutorConfig struct {
	// StepTimeout bounds a single tool invocation when the step's
	// arguments do not request their own timeout.
	StepTimeout time.Duration

	// WorkDir is the default working directory inside the sandbox.
	WorkDir string
}

// Executor runs one step at a time against the tool registry.
//
// It never returns an error: unknown tools, schema mismatches, handler
// errors, and handler panics all land on the step as a failed result.
// The orchestrator decides what a failure means; the executor only
// reports it.
type Executor struct {
	registry *Registry
	config   ExecutorConfig
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewExecutor creates an executor over the given registry.
func NewExecutor(registry *Registry, config ExecutorConfig, logger *observability.Logger, metrics *observability.Metrics) *Executor {
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{})
	}
	if config.StepTimeout <= 0 {
		config.StepTimeout = 30 * time.Second
	}
	if config.WorkDir == "" {
		config.WorkDir = "/work"
	}
	return &Executor{
		registry: registry,
		config:   config,
		logger:   logger,
		metrics:  metrics,
	}
}

// ExecuteStep runs the step's tool and records the outcome on the step:
// status completed iff the result reports success, failed otherwise.
// The returned step is the same pointer, mutated.
func (e *Executor) ExecuteStep(ctx context.Context, taskID, sandboxID string, step *models.Step) *models.Step {
	now := time.Now().UTC()
	step.Status = models.StepStatusRunning
	step.StartedAt = &now

	result := e.invoke(ctx, taskID, sandboxID, step)

	done := time.Now().UTC()
	step.CompletedAt = &done
	step.Result = result
	if result.Success {
		step.Status = models.StepStatusCompleted
		step.Error = ""
	} else {
		step.Status = models.StepStatusFailed
		step.Error = result.Error
	}

	if e.metrics != nil {
		e.metrics.RecordStep(step.Tool, string(step.Status), done.Sub(now).Seconds())
	}
	e.logger.Info(ctx, "step executed",
		"step_id", step.ID,
		"tool", step.Tool,
		"status", string(step.Status),
		"duration_ms", done.Sub(now).Milliseconds())
	return step
}

// invoke dispatches to the tool handler and funnels every failure mode
// into a result. A panicking handler is caught here so a single bad
// tool cannot take down the worker.
func (e *Executor) invoke(ctx context.Context, taskID, sandboxID string, step *models.Step) (result *models.StepResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error(ctx, "tool handler panicked",
				"tool", step.Tool,
				"step_id", step.ID,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
			result = &models.StepResult{
				Success: false,
				Error:   fmt.Sprintf("tool %s panicked: %v", step.Tool, r),
			}
		}
	}()

	if len(step.Tool) > MaxToolNameLength {
		return &models.StepResult{
			Success: false,
			Error:   fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxToolNameLength),
		}
	}

	tool, ok := e.registry.Get(step.Tool)
	if !ok {
		return &models.StepResult{
			Success: false,
			Error:   "tool not found: " + step.Tool,
		}
	}

	if err := e.registry.ValidateArguments(step.Tool, step.Arguments); err != nil {
		return &models.StepResult{
			Success: false,
			Error:   "invalid arguments: " + err.Error(),
		}
	}

	timeout := e.config.StepTimeout
	if requested := requestedTimeout(step.Arguments); requested > 0 {
		timeout = requested
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := tool.Execute(stepCtx, Invocation{
		TaskID:    taskID,
		SandboxID: sandboxID,
		Arguments: step.Arguments,
		Timeout:   timeout,
		WorkDir:   e.config.WorkDir,
	})
	if err != nil {
		return &models.StepResult{
			Success: false,
			Error:   fmt.Sprintf("tool %s failed: %v", step.Tool, err),
		}
	}
	if res == nil {
		return &models.StepResult{
			Success: false,
			Error:   "tool " + step.Tool + " returned no result",
		}
	}
	return res
}

// requestedTimeout reads an explicit timeout (seconds) from a step's
// argument object. Zero means the step did not ask for one.
func requestedTimeout(args json.RawMessage) time.Duration {
	if len(args) == 0 {
		return 0
	}
	var probe struct {
		Timeout float64 `json:"timeout"`
	}
	if err := json.Unmarshal(args, &probe); err != nil || probe.Timeout <= 0 {
		return 0
	}
	return time.Duration(probe.Timeout * float64(time.Second))
}
