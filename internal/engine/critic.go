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

const criticSystem = "You are the quality critic of an autonomous task agent. " +
	"You watch a plan execute step by step and judge whether the run is still on " +
	"track to achieve the goal. Return only a single JSON object, no prose and no Markdown."

const criticFormat = `Respond with one JSON object:
  "onTrack"         boolean, whether execution should continue unchanged
  "issues"          array of strings, problems you observed
  "suggestions"     array of strings, how to proceed
  "confidence"      number between 0 and 1, how sure you are
  "correctiveSteps" array, only when onTrack is false: new steps to run
                    immediately after the current one, in the same shape
                    as plan steps (id, description, tool, arguments,
                    optional success_criterion, optional required)`

// Evaluation is the critic's verdict on the run after one step.
type Evaluation struct {
	OnTrack     bool     `json:"onTrack"`
	Issues      []string `json:"issues,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
	Confidence  float64  `json:"confidence"`
}

// CriticConfig carries the model parameters and the correction gate.
type CriticConfig struct {
	// Model names the critic model, typically smaller than the
	// planner's.
	Model string

	// Temperature stays low for stable verdicts.
	Temperature float64

	// MaxTokens bounds the evaluation response.
	MaxTokens int

	// ConfidenceThreshold gates corrections: an off-track verdict below
	// it is recorded but not acted on.
	ConfidenceThreshold float64
}

// Critic reviews execution after each step and proposes corrective
// steps when the run has drifted off the goal.
//
// The critic is advisory: every failure inside it degrades to "no
// correction" and execution continues. An unreliable critic must never
// be able to fail an otherwise healthy run.
type Critic struct {
	client   CompletionClient
	registry *Registry
	config   CriticConfig
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewCritic creates a critic backed by the given completion client.
func NewCritic(client CompletionClient, registry *Registry, config CriticConfig, logger *observability.Logger, metrics *observability.Metrics) *Critic {
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{})
	}
	if config.Temperature == 0 {
		config.Temperature = 0.2
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 2048
	}
	if config.ConfidenceThreshold == 0 {
		config.ConfidenceThreshold = 0.7
	}
	return &Critic{
		client:   client,
		registry: registry,
		config:   config,
		logger:   logger,
		metrics:  metrics,
	}
}

// Review evaluates the run right after executed finished. round numbers
// the correction attempts within the task and namespaces corrective
// step IDs so splicing can never collide with existing ones.
//
// The returned corrections are non-nil only when the verdict is
// off-track with confidence at or above the threshold. A transport
// error returns no evaluation; an unparseable response returns an
// optimistic fallback so a flaky critic cannot stall healthy runs.
func (c *Critic) Review(ctx context.Context, goal string, plan []*models.Step, executed *models.Step, round int) (*Evaluation, []*models.Step, error) {
	prompt := c.buildPrompt(goal, plan, executed)

	start := time.Now()
	resp, err := c.client.Complete(ctx, &CompletionRequest{
		Model:       c.config.Model,
		System:      criticSystem,
		Prompt:      prompt,
		Temperature: c.config.Temperature,
		MaxTokens:   c.config.MaxTokens,
	})
	duration := time.Since(start).Seconds()
	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordLLMRequest(c.client.Name(), c.config.Model, "error", duration, 0, 0)
		}
		return nil, nil, NewCriticError("review", "completion request failed", err)
	}
	if c.metrics != nil {
		c.metrics.RecordLLMRequest(c.client.Name(), c.config.Model, "success", duration,
			resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	}

	evaluation, corrections, err := c.parseReview(ctx, resp.Content, round)
	if err != nil {
		return evaluation, nil, err
	}

	if c.metrics != nil {
		verdict := "on_track"
		if !evaluation.OnTrack {
			verdict = "off_track"
		}
		c.metrics.RecordCritic(verdict)
	}
	return evaluation, corrections, nil
}

// criticResponse is the wire shape of the critic's output.
type criticResponse struct {
	OnTrack         bool              `json:"onTrack"`
	Issues          []string          `json:"issues"`
	Suggestions     []string          `json:"suggestions"`
	Confidence      float64           `json:"confidence"`
	CorrectiveSteps []json.RawMessage `json:"correctiveSteps"`
}

func (c *Critic) parseReview(ctx context.Context, content string, round int) (*Evaluation, []*models.Step, error) {
	normalized := stripCodeFences(content)

	var cr criticResponse
	if err := json.Unmarshal([]byte(normalized), &cr); err != nil {
		// The critic is best-effort: garbage degrades to an optimistic
		// verdict rather than stopping a run that may be fine.
		c.logger.Warn(ctx, "critic response unparseable, assuming on track",
			"error", err, "response_bytes", len(content))
		return &Evaluation{OnTrack: true, Confidence: 0.5}, nil, nil
	}

	evaluation := &Evaluation{
		OnTrack:     cr.OnTrack,
		Issues:      cr.Issues,
		Suggestions: cr.Suggestions,
		Confidence:  clamp01(cr.Confidence),
	}

	if evaluation.OnTrack || evaluation.Confidence < c.config.ConfidenceThreshold {
		return evaluation, nil, nil
	}
	if len(cr.CorrectiveSteps) == 0 {
		return evaluation, nil, nil
	}

	corrections, err := buildSteps(c.registry, "parse corrections", cr.CorrectiveSteps)
	if err != nil {
		return evaluation, nil, NewCriticError("review", "corrective steps failed validation", err)
	}
	for _, step := range corrections {
		step.ID = fmt.Sprintf("fix%d-%s", round, step.ID)
	}
	return evaluation, corrections, nil
}

// criticStepView is the compact step rendering used in critic prompts.
type criticStepView struct {
	ID          string            `json:"id"`
	Description string            `json:"description"`
	Tool        string            `json:"tool"`
	Status      models.StepStatus `json:"status"`
	Required    bool              `json:"required"`
	Output      string            `json:"output,omitempty"`
	Error       string            `json:"error,omitempty"`
}

func (c *Critic) buildPrompt(goal string, plan []*models.Step, executed *models.Step) string {
	planView := make([]criticStepView, 0, len(plan))
	historyView := make([]criticStepView, 0, len(plan))
	for _, step := range plan {
		view := criticStepView{
			ID:          step.ID,
			Description: step.Description,
			Tool:        step.Tool,
			Status:      step.Status,
			Required:    step.Required,
		}
		planView = append(planView, view)
		if step.Status == models.StepStatusPending {
			continue
		}
		if step.Result != nil {
			view.Output = promptClip(step.Result.Output, 500)
			view.Error = promptClip(step.Result.Error, 500)
		}
		historyView = append(historyView, view)
	}

	executedView := criticStepView{
		ID:          executed.ID,
		Description: executed.Description,
		Tool:        executed.Tool,
		Status:      executed.Status,
		Required:    executed.Required,
	}
	if executed.Result != nil {
		executedView.Output = promptClip(executed.Result.Output, 2000)
		executedView.Error = promptClip(executed.Result.Error, 500)
	}

	var b strings.Builder
	b.WriteString("Goal:\n")
	b.WriteString(goal)
	b.WriteString("\n\nFull plan:\n")
	writeJSON(&b, planView)
	b.WriteString("\n\nExecuted so far:\n")
	writeJSON(&b, historyView)
	b.WriteString("\n\nJust executed:\n")
	writeJSON(&b, executedView)
	b.WriteString("\n\nAvailable tools:\n")
	b.WriteString(c.registry.Describe())
	b.WriteString("\nOutput format:\n")
	b.WriteString(criticFormat)
	b.WriteString("\n\nEvaluation (JSON object only):")
	return b.String()
}

func writeJSON(b *strings.Builder, v any) {
	encoded, err := json.Marshal(v)
	if err != nil {
		b.WriteString("[]")
		return
	}
	b.Write(encoded)
}

// promptClip bounds a string for prompt inclusion, marking the cut.
func promptClip(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
