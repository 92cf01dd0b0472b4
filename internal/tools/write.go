package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/golemhq/golem/internal/engine"
	"github.com/golemhq/golem/internal/sandbox"
	"github.com/golemhq/golem/pkg/models"
)

// FileWriteTool writes a file into the task's sandbox workspace.
type FileWriteTool struct {
	sandboxes SandboxClient
}

// NewFileWriteTool creates the file_write tool.
func NewFileWriteTool(sandboxes SandboxClient) *FileWriteTool {
	return &FileWriteTool{sandboxes: sandboxes}
}

// Name returns the tool name.
func (t *FileWriteTool) Name() string {
	return "file_write"
}

// Description returns the tool description.
func (t *FileWriteTool) Description() string {
	return "Write content to a file in the sandbox workspace, creating parent directories as needed."
}

// Schema returns the JSON schema for the tool arguments.
func (t *FileWriteTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Destination path, absolute or relative to /work.",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "File content to write.",
			},
		},
		"required":             []string{"path", "content"},
		"additionalProperties": false,
	})
}

// Execute writes the file via the sandbox file service.
func (t *FileWriteTool) Execute(ctx context.Context, inv engine.Invocation) (*models.StepResult, error) {
	var input struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(inv.Arguments, &input); err != nil {
		return failure("invalid arguments: %v", err), nil
	}
	if strings.TrimSpace(input.Path) == "" {
		return failure("path is required"), nil
	}

	resp := t.sandboxes.WriteFile(ctx, inv.SandboxID, sandbox.WriteRequest{
		Path:    input.Path,
		Content: input.Content,
	})
	if !resp.Success {
		return failure("%s", resp.Error), nil
	}
	return &models.StepResult{
		Success: true,
		Output:  fmt.Sprintf("wrote %d bytes to %s", resp.Size, resp.Path),
		Artifacts: []models.Artifact{
			{
				Type: models.ArtifactFile,
				Path: resp.Path,
				Metadata: map[string]any{
					"size": resp.Size,
				},
			},
		},
	}, nil
}
