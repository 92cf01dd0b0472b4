package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/golemhq/golem/internal/engine"
	"github.com/golemhq/golem/pkg/models"
)

// FileReadTool reads a file from the task's sandbox workspace.
type FileReadTool struct {
	sandboxes SandboxClient
}

// NewFileReadTool creates the file_read tool.
func NewFileReadTool(sandboxes SandboxClient) *FileReadTool {
	return &FileReadTool{sandboxes: sandboxes}
}

// Name returns the tool name.
func (t *FileReadTool) Name() string {
	return "file_read"
}

// Description returns the tool description.
func (t *FileReadTool) Description() string {
	return "Read a file from the sandbox workspace and return its contents."
}

// Schema returns the JSON schema for the tool arguments.
func (t *FileReadTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "File path, absolute or relative to /work.",
			},
		},
		"required":             []string{"path"},
		"additionalProperties": false,
	})
}

// Execute reads the file via the sandbox file service.
func (t *FileReadTool) Execute(ctx context.Context, inv engine.Invocation) (*models.StepResult, error) {
	var input struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(inv.Arguments, &input); err != nil {
		return failure("invalid arguments: %v", err), nil
	}
	if strings.TrimSpace(input.Path) == "" {
		return failure("path is required"), nil
	}

	resp := t.sandboxes.ReadFile(ctx, inv.SandboxID, input.Path)
	if !resp.Success {
		return failure("%s", resp.Error), nil
	}
	return &models.StepResult{
		Success: true,
		Output:  resp.Content,
		Metadata: map[string]any{
			"path": resp.Path,
			"size": resp.Size,
		},
	}, nil
}
