package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/golemhq/golem/internal/engine"
	"github.com/golemhq/golem/internal/policy"
	"github.com/golemhq/golem/internal/sandbox"
	"github.com/golemhq/golem/pkg/models"
)

// ShellTool runs a command in the task's sandbox via the shell service.
type ShellTool struct {
	sandboxes SandboxClient
}

// NewShellTool creates the shell tool.
func NewShellTool(sandboxes SandboxClient) *ShellTool {
	return &ShellTool{sandboxes: sandboxes}
}

// Name returns the tool name.
func (t *ShellTool) Name() string {
	return "shell"
}

// Description returns the tool description.
func (t *ShellTool) Description() string {
	return "Run a shell command inside the task sandbox. The command executes under /work with stdout returned as output; stderr and the exit code are recorded in metadata."
}

// Schema returns the JSON schema for the tool arguments.
func (t *ShellTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "Shell command to execute.",
			},
			"timeout": map[string]any{
				"type":        "integer",
				"description": "Command timeout in milliseconds (default: step timeout).",
				"minimum":     1,
			},
			"cwd": map[string]any{
				"type":        "string",
				"description": "Working directory (default: /work).",
			},
		},
		"required":             []string{"command"},
		"additionalProperties": false,
	})
}

// Execute forwards the command to the sandbox shell service.
func (t *ShellTool) Execute(ctx context.Context, inv engine.Invocation) (*models.StepResult, error) {
	var input struct {
		Command string `json:"command"`
		Timeout int64  `json:"timeout"`
		Cwd     string `json:"cwd"`
	}
	if err := json.Unmarshal(inv.Arguments, &input); err != nil {
		return failure("invalid arguments: %v", err), nil
	}
	if strings.TrimSpace(input.Command) == "" {
		return failure("command is required"), nil
	}

	cwd := input.Cwd
	if cwd == "" {
		cwd = inv.WorkDir
	}

	resp := t.sandboxes.ExecuteShell(ctx, inv.SandboxID, sandbox.ShellRequest{
		Command: input.Command,
		Timeout: argTimeoutSeconds(input.Timeout, inv),
		Cwd:     cwd,
	})

	result := &models.StepResult{
		Success: resp.Success,
		Output:  policy.TruncateOutput(resp.Stdout),
		Metadata: map[string]any{
			"exit_code": resp.ExitCode,
			"stderr":    policy.TruncateOutput(resp.Stderr),
		},
	}
	if !resp.Success {
		result.Error = resp.Error
		if result.Error == "" {
			result.Error = fmt.Sprintf("exit status %d", resp.ExitCode)
		}
	}
	return result, nil
}
