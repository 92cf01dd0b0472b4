package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/golemhq/golem/internal/observability"
	"github.com/golemhq/golem/pkg/models"
)

const plannerSystem = "You are the planning component of an autonomous task agent. " +
	"You decompose a goal into an ordered list of tool invocations that run inside " +
	"an isolated Linux sandbox. Return only a JSON array, no prose and no Markdown."

const plannerFormat = `Each element of the array must be an object with these keys:
  "id"                string, unique within the plan (e.g. "step-1")
  "description"       string, what the step accomplishes
  "tool"              string, one of the tools listed above
  "arguments"         object, matching the tool's schema
  "success_criterion" string, optional, how to judge the step afterwards
  "required"          boolean, optional, defaults to true; false means a
                      failure of this step does not abort the plan
Keep plans short and concrete. Paths are relative to /work.`

// PlannerConfig carries the model parameters for plan generation.
type PlannerConfig struct {
	// Model names the planner model.
	Model string

	// Temperature stays low so the JSON output is stable.
	Temperature float64

	// MaxTokens is a generous budget; plans are small but argument
	// payloads (file contents) can be large.
	MaxTokens int
}

// Planner turns a goal into an executable plan with a single LLM call.
type Planner struct {
	client   CompletionClient
	registry *Registry
	config   PlannerConfig
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewPlanner creates a planner backed by the given completion client.
func NewPlanner(client CompletionClient, registry *Registry, config PlannerConfig, logger *observability.Logger, metrics *observability.Metrics) *Planner {
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{})
	}
	if config.Temperature == 0 {
		config.Temperature = 0.2
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 4096
	}
	return &Planner{
		client:   client,
		registry: registry,
		config:   config,
		logger:   logger,
		metrics:  metrics,
	}
}

// Plan asks the model for a step sequence that accomplishes the goal.
// The response is normalized (fences stripped, a bare object wrapped
// into a one-element array) before validation; anything still malformed
// after that fails the task.
func (p *Planner) Plan(ctx context.Context, goal string, taskContext map[string]any) ([]*models.Step, error) {
	if strings.TrimSpace(goal) == "" {
		return nil, NewValidationError("plan", "goal is empty", nil)
	}

	prompt := p.buildPrompt(goal, taskContext)

	start := time.Now()
	resp, err := p.client.Complete(ctx, &CompletionRequest{
		Model:       p.config.Model,
		System:      plannerSystem,
		Prompt:      prompt,
		Temperature: p.config.Temperature,
		MaxTokens:   p.config.MaxTokens,
	})
	duration := time.Since(start).Seconds()
	if err != nil {
		if p.metrics != nil {
			p.metrics.RecordLLMRequest(p.client.Name(), p.config.Model, "error", duration, 0, 0)
		}
		if ctx.Err() != nil {
			return nil, NewCancellationError("plan", ctx.Err())
		}
		return nil, NewPlanningError("plan", "completion request failed", err)
	}
	if p.metrics != nil {
		p.metrics.RecordLLMRequest(p.client.Name(), p.config.Model, "success", duration,
			resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	}

	steps, err := p.parsePlan(resp.Content)
	if err != nil {
		p.logger.Error(ctx, "planner returned an unusable response",
			"error", err, "response_bytes", len(resp.Content))
		return nil, err
	}

	p.logger.Info(ctx, "plan generated", "steps", len(steps), "model", resp.Model)
	return steps, nil
}

func (p *Planner) buildPrompt(goal string, taskContext map[string]any) string {
	var b strings.Builder
	b.WriteString("Available tools:\n")
	b.WriteString(p.registry.Describe())
	b.WriteString("\nOutput format:\n")
	b.WriteString(plannerFormat)
	b.WriteString("\n\nGoal:\n")
	b.WriteString(goal)
	if len(taskContext) > 0 {
		if encoded, err := json.Marshal(taskContext); err == nil {
			b.WriteString("\n\nContext:\n")
			b.Write(encoded)
		}
	}
	b.WriteString("\n\nPlan (JSON array only):")
	return b.String()
}

// planStep is the wire shape of one planner output element. Required is
// a pointer so an absent key can default to true.
type planStep struct {
	ID               string          `json:"id"`
	Description      string          `json:"description"`
	Tool             string          `json:"tool"`
	Arguments        json.RawMessage `json:"arguments"`
	SuccessCriterion string          `json:"success_criterion"`
	Required         *bool           `json:"required"`
}

// parsePlan normalizes and validates the model output into plan steps.
func (p *Planner) parsePlan(content string) ([]*models.Step, error) {
	normalized := stripCodeFences(content)
	if normalized == "" {
		return nil, NewPlanningError("parse plan", "response is empty", nil)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(normalized), &raw); err != nil {
		// Tolerate a single object in place of a one-element array.
		if !strings.HasPrefix(normalized, "{") {
			return nil, NewPlanningError("parse plan", "response is not a JSON array", err)
		}
		raw = []json.RawMessage{json.RawMessage(normalized)}
	}
	if len(raw) == 0 {
		return nil, NewPlanningError("parse plan", "plan contains no steps", nil)
	}

	return buildSteps(p.registry, "parse plan", raw)
}

// buildSteps decodes and validates raw plan elements. It is shared by
// the planner and the critic so corrective steps pass the exact same
// checks as planned ones.
func buildSteps(registry *Registry, op string, raw []json.RawMessage) ([]*models.Step, error) {
	steps := make([]*models.Step, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for i, element := range raw {
		var ps planStep
		if err := json.Unmarshal(element, &ps); err != nil {
			return nil, NewPlanningError(op, fmt.Sprintf("step %d is not an object", i+1), err)
		}
		step, err := buildStep(registry, op, i, ps)
		if err != nil {
			return nil, err
		}
		if seen[step.ID] {
			return nil, NewValidationError(op, "duplicate step id "+step.ID, nil)
		}
		seen[step.ID] = true
		steps = append(steps, step)
	}
	return steps, nil
}

func buildStep(registry *Registry, op string, index int, ps planStep) (*models.Step, error) {
	position := fmt.Sprintf("step %d", index+1)
	if strings.TrimSpace(ps.ID) == "" {
		return nil, NewValidationError(op, position+" is missing an id", nil)
	}
	if strings.TrimSpace(ps.Tool) == "" {
		return nil, NewValidationError(op, position+" is missing a tool", nil)
	}
	if _, ok := registry.Get(ps.Tool); !ok {
		return nil, NewValidationError(op, position+" names unknown tool "+ps.Tool, nil)
	}
	if strings.TrimSpace(ps.Description) == "" {
		return nil, NewValidationError(op, position+" is missing a description", nil)
	}
	if len(ps.Arguments) == 0 {
		return nil, NewValidationError(op, position+" is missing arguments", nil)
	}

	required := true
	if ps.Required != nil {
		required = *ps.Required
	}
	return &models.Step{
		ID:               ps.ID,
		Description:      ps.Description,
		Tool:             ps.Tool,
		Arguments:        ps.Arguments,
		SuccessCriterion: ps.SuccessCriterion,
		Required:         required,
		Status:           models.StepStatusPending,
	}, nil
}

// stripCodeFences removes a surrounding Markdown code fence, including
// the info string on the opening line. Responses without a fence pass
// through trimmed.
func stripCodeFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = trimmed[3:]
	if nl := strings.Index(trimmed, "\n"); nl >= 0 {
		trimmed = trimmed[nl+1:]
	}
	if end := strings.LastIndex(trimmed, "```"); end >= 0 {
		trimmed = trimmed[:end]
	}
	return strings.TrimSpace(trimmed)
}
