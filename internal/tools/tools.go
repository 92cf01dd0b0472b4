// Package tools implements the canonical sandbox-backed tools the
// planner can schedule: shell, file_read, file_write, file_list, and
// browser. Each adapter translates validated step arguments into a
// sandbox service call and folds the service response into a step
// result. Failures come back in the result, never as an error: a
// broken command is an outcome, not a crash.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/golemhq/golem/internal/engine"
	"github.com/golemhq/golem/internal/sandbox"
	"github.com/golemhq/golem/pkg/models"
)

// SandboxClient is the slice of the sandbox manager the adapters use.
type SandboxClient interface {
	ExecuteShell(ctx context.Context, sandboxID string, req sandbox.ShellRequest) *sandbox.ShellResponse
	ReadFile(ctx context.Context, sandboxID, path string) *sandbox.ReadResponse
	WriteFile(ctx context.Context, sandboxID string, req sandbox.WriteRequest) *sandbox.WriteResponse
	ListDirectory(ctx context.Context, sandboxID, path string) *sandbox.ListResponse
	ExecuteBrowser(ctx context.Context, sandboxID string, req sandbox.BrowserRequest) *sandbox.BrowserResponse
}

// All returns the canonical tool set backed by the given sandbox
// client. The browser tool is included only when the deployment runs
// browser-enabled sandboxes; registering a tool the sandbox cannot
// serve would invite plans that always fail.
func All(sandboxes SandboxClient, browser bool) []engine.Tool {
	ts := []engine.Tool{
		NewShellTool(sandboxes),
		NewFileReadTool(sandboxes),
		NewFileWriteTool(sandboxes),
		NewFileListTool(sandboxes),
	}
	if browser {
		ts = append(ts, NewBrowserTool(sandboxes))
	}
	return ts
}

// failure builds a failed step result.
func failure(format string, args ...any) *models.StepResult {
	return &models.StepResult{Error: fmt.Sprintf(format, args...)}
}

// mustSchema marshals a schema literal, falling back to a permissive
// object schema if the literal is unmarshalable.
func mustSchema(schema map[string]any) json.RawMessage {
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// argTimeoutSeconds converts a step's timeout argument (milliseconds)
// to the wire timeout (seconds), falling back to the invocation's
// default.
func argTimeoutSeconds(ms int64, inv engine.Invocation) float64 {
	if ms > 0 {
		return float64(ms) / 1000.0
	}
	if inv.Timeout > 0 {
		return inv.Timeout.Seconds()
	}
	return 0
}
