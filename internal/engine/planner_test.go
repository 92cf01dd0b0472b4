package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func newTestPlanner(client *scriptedClient) (*Planner, *Registry) {
	registry := NewRegistry(nil)
	registry.Register(&fakeTool{name: "shell"})
	registry.Register(&fakeTool{name: "file_write"})
	return NewPlanner(client, registry, PlannerConfig{Model: "test-model"}, nil, nil), registry
}

func TestPlannerPlan(t *testing.T) {
	client := &scriptedClient{responses: []string{`[
		{"id": "step-1", "description": "list files", "tool": "shell",
		 "arguments": {"command": "ls /work"}, "success_criterion": "listing printed"},
		{"id": "step-2", "description": "save notes", "tool": "file_write",
		 "arguments": {"path": "notes.txt", "content": "hi"}, "required": false}
	]`}}
	planner, _ := newTestPlanner(client)

	steps, err := planner.Plan(context.Background(), "collect the files", map[string]any{"dir": "/work"})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("len(steps) = %d, want 2", len(steps))
	}

	first := steps[0]
	if first.ID != "step-1" || first.Tool != "shell" || !first.Required {
		t.Errorf("step 1 = %+v (required must default to true)", first)
	}
	if first.SuccessCriterion != "listing printed" {
		t.Errorf("SuccessCriterion = %q", first.SuccessCriterion)
	}
	if steps[1].Required {
		t.Error("step 2 required = true, want false")
	}

	// The prompt must carry the registry description, the goal, and
	// the context so the model sees the full picture.
	req := client.requests[0]
	for _, needle := range []string{"shell", "file_write", "collect the files", `"dir":"/work"`} {
		if !strings.Contains(req.Prompt, needle) {
			t.Errorf("prompt missing %q", needle)
		}
	}
	if req.Model != "test-model" {
		t.Errorf("Model = %q", req.Model)
	}
}

func TestPlannerStripsCodeFences(t *testing.T) {
	client := &scriptedClient{responses: []string{
		"```json\n[{\"id\": \"s1\", \"description\": \"d\", \"tool\": \"shell\", \"arguments\": {}}]\n```",
	}}
	planner, _ := newTestPlanner(client)

	steps, err := planner.Plan(context.Background(), "goal", nil)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(steps) != 1 || steps[0].ID != "s1" {
		t.Errorf("steps = %+v", steps)
	}
}

func TestPlannerWrapsSingleObject(t *testing.T) {
	client := &scriptedClient{responses: []string{
		`{"id": "only", "description": "d", "tool": "shell", "arguments": {}}`,
	}}
	planner, _ := newTestPlanner(client)

	steps, err := planner.Plan(context.Background(), "goal", nil)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(steps) != 1 || steps[0].ID != "only" {
		t.Errorf("steps = %+v", steps)
	}
}

func TestPlannerRejectsEmptyGoal(t *testing.T) {
	planner, _ := newTestPlanner(&scriptedClient{})
	_, err := planner.Plan(context.Background(), "   ", nil)
	if !IsKind(err, KindValidation) {
		t.Errorf("error = %v, want validation", err)
	}
}

func TestPlannerFailures(t *testing.T) {
	tests := []struct {
		name     string
		response string
		wantKind ErrorKind
	}{
		{"prose", "I think you should run ls first.", KindPlanning},
		{"empty array", "[]", KindPlanning},
		{"empty response", "", KindPlanning},
		{"unknown tool", `[{"id": "s1", "description": "d", "tool": "nmap", "arguments": {}}]`, KindValidation},
		{"missing id", `[{"description": "d", "tool": "shell", "arguments": {}}]`, KindValidation},
		{"missing description", `[{"id": "s1", "tool": "shell", "arguments": {}}]`, KindValidation},
		{"missing arguments", `[{"id": "s1", "description": "d", "tool": "shell"}]`, KindValidation},
		{"duplicate ids", `[
			{"id": "s1", "description": "a", "tool": "shell", "arguments": {}},
			{"id": "s1", "description": "b", "tool": "shell", "arguments": {}}
		]`, KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			planner, _ := newTestPlanner(&scriptedClient{responses: []string{tt.response}})
			_, err := planner.Plan(context.Background(), "goal", nil)
			if err == nil {
				t.Fatal("expected error")
			}
			if !IsKind(err, tt.wantKind) {
				t.Errorf("error kind = %v, want %v (err: %v)", KindOf(err), tt.wantKind, err)
			}
		})
	}
}

func TestPlannerTransportFailure(t *testing.T) {
	client := &scriptedClient{errs: []error{errors.New("connection refused")}}
	planner, _ := newTestPlanner(client)

	_, err := planner.Plan(context.Background(), "goal", nil)
	if !IsKind(err, KindPlanning) {
		t.Errorf("error = %v, want planning", err)
	}
}

func TestPlannerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := &scriptedClient{}
	client.errs = []error{context.Canceled}
	cancel()

	planner, _ := newTestPlanner(client)
	_, err := planner.Plan(ctx, "goal", nil)
	if !IsCancellation(err) {
		t.Errorf("error = %v, want cancellation", err)
	}
}

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"[1]", "[1]"},
		{"```\n[1]\n```", "[1]"},
		{"```json\n[1]\n```", "[1]"},
		{"  ```json\n[1]\n```  ", "[1]"},
		{"no fence at all", "no fence at all"},
	}
	for _, tt := range tests {
		if got := stripCodeFences(tt.in); got != tt.want {
			t.Errorf("stripCodeFences(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
