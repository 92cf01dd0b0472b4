package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/golemhq/golem/internal/engine"
	"github.com/golemhq/golem/pkg/models"
)

// FileListTool lists a directory in the task's sandbox workspace.
type FileListTool struct {
	sandboxes SandboxClient
}

// NewFileListTool creates the file_list tool.
func NewFileListTool(sandboxes SandboxClient) *FileListTool {
	return &FileListTool{sandboxes: sandboxes}
}

// Name returns the tool name.
func (t *FileListTool) Name() string {
	return "file_list"
}

// Description returns the tool description.
func (t *FileListTool) Description() string {
	return "List the contents of a directory in the sandbox workspace."
}

// Schema returns the JSON schema for the tool arguments.
func (t *FileListTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Directory path, absolute or relative to /work (default: /work).",
			},
		},
		"additionalProperties": false,
	})
}

// Execute lists the directory via the sandbox file service.
func (t *FileListTool) Execute(ctx context.Context, inv engine.Invocation) (*models.StepResult, error) {
	var input struct {
		Path string `json:"path"`
	}
	if len(inv.Arguments) > 0 {
		if err := json.Unmarshal(inv.Arguments, &input); err != nil {
			return failure("invalid arguments: %v", err), nil
		}
	}

	resp := t.sandboxes.ListDirectory(ctx, inv.SandboxID, input.Path)
	if !resp.Success {
		return failure("%s", resp.Error), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %d entries\n", resp.Path, len(resp.Files))
	for _, f := range resp.Files {
		if f.Type == "directory" {
			fmt.Fprintf(&sb, "  %s/\n", f.Name)
			continue
		}
		fmt.Fprintf(&sb, "  %s  %d bytes\n", f.Name, f.Size)
	}

	return &models.StepResult{
		Success: true,
		Output:  sb.String(),
		Metadata: map[string]any{
			"path":    resp.Path,
			"entries": resp.Files,
		},
	}, nil
}
