package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/golemhq/golem/pkg/models"
)

// scriptedClient returns canned completions in order. When the script
// runs out the last response repeats; an empty script always errors.
type scriptedClient struct {
	mu        sync.Mutex
	name      string
	responses []string
	errs      []error
	calls     int
	requests  []*CompletionRequest
}

func (c *scriptedClient) Name() string {
	if c.name == "" {
		return "scripted"
	}
	return c.name
}

func (c *scriptedClient) Complete(_ context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.calls
	c.calls++
	c.requests = append(c.requests, req)

	if idx < len(c.errs) && c.errs[idx] != nil {
		return nil, c.errs[idx]
	}
	if len(c.responses) == 0 {
		return nil, errors.New("scripted client has no responses")
	}
	if idx >= len(c.responses) {
		idx = len(c.responses) - 1
	}
	return &CompletionResponse{
		Content: c.responses[idx],
		Model:   req.Model,
		Usage:   Usage{PromptTokens: 10, CompletionTokens: 5},
	}, nil
}

// fakeTool is a registry entry with scripted results. Results are
// consumed per call; the last one repeats.
type fakeTool struct {
	mu      sync.Mutex
	name    string
	schema  string
	results []*models.StepResult
	err     error
	calls   int
	execute func(ctx context.Context, inv Invocation) (*models.StepResult, error)
}

func (t *fakeTool) Name() string        { return t.name }
func (t *fakeTool) Description() string { return "fake tool " + t.name }

func (t *fakeTool) Schema() json.RawMessage {
	if t.schema == "" {
		return json.RawMessage(`{"type":"object"}`)
	}
	return json.RawMessage(t.schema)
}

func (t *fakeTool) Execute(ctx context.Context, inv Invocation) (*models.StepResult, error) {
	t.mu.Lock()
	idx := t.calls
	t.calls++
	t.mu.Unlock()

	if t.execute != nil {
		return t.execute(ctx, inv)
	}
	if t.err != nil {
		return nil, t.err
	}
	if len(t.results) == 0 {
		return &models.StepResult{Success: true, Output: "ok"}, nil
	}
	if idx >= len(t.results) {
		idx = len(t.results) - 1
	}
	return t.results[idx], nil
}

func (t *fakeTool) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

// fakeSandboxes is a SandboxController that hands out one sandbox per
// task and records lifecycle calls.
type fakeSandboxes struct {
	mu        sync.Mutex
	createErr error
	created   []string
	destroyed []string
}

func (f *fakeSandboxes) Create(_ context.Context, taskID string) (*models.Sandbox, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, taskID)
	return &models.Sandbox{
		ID:     "sandbox-" + taskID,
		TaskID: taskID,
		Status: models.SandboxStatusRunning,
		Ports:  map[string]int{"shell": 32001, "file": 32003, "browser": 32002},
	}, nil
}

func (f *fakeSandboxes) Destroy(_ context.Context, sandboxID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = append(f.destroyed, sandboxID)
	return nil
}

func (f *fakeSandboxes) destroyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.destroyed)
}

// capturingPublisher records fan-out calls.
type capturingPublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func (p *capturingPublisher) Publish(_ string, event models.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func mustMarshal(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}
