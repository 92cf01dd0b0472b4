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

// BrowserTool drives the sandbox's headless browser. One page serves
// the whole task, so a step can open a URL and a later step can read
// or click on the same page.
type BrowserTool struct {
	sandboxes SandboxClient
}

// NewBrowserTool creates the browser tool.
func NewBrowserTool(sandboxes SandboxClient) *BrowserTool {
	return &BrowserTool{sandboxes: sandboxes}
}

// Name returns the tool name.
func (t *BrowserTool) Name() string {
	return "browser"
}

// Description returns the tool description.
func (t *BrowserTool) Description() string {
	return "Drive a headless browser in the sandbox: open pages, read text, take screenshots, extract tables, click elements, and fill forms. The page persists across steps."
}

// Schema returns the JSON schema for the tool arguments.
func (t *BrowserTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type": "string",
				"enum": []string{
					sandbox.BrowserActionOpen,
					sandbox.BrowserActionRead,
					sandbox.BrowserActionScreenshot,
					sandbox.BrowserActionExtractTable,
					sandbox.BrowserActionClick,
					sandbox.BrowserActionFillForm,
				},
				"description": "Browser action to perform.",
			},
			"url": map[string]any{
				"type":        "string",
				"description": "URL to navigate to before acting. Omit to act on the current page.",
			},
			"selector": map[string]any{
				"type":        "string",
				"description": "CSS selector targeting the element (required for click; scopes read and extract_table).",
			},
			"instructions": map[string]any{
				"type":                 "object",
				"description":          "For fill_form: object mapping CSS selectors to the values to type.",
				"additionalProperties": map[string]any{"type": "string"},
			},
			"timeout": map[string]any{
				"type":        "integer",
				"description": "Action timeout in milliseconds (default: step timeout).",
				"minimum":     1,
			},
		},
		"required":             []string{"action"},
		"additionalProperties": false,
	})
}

// Execute forwards the action to the sandbox browser service and
// shapes the response per action.
func (t *BrowserTool) Execute(ctx context.Context, inv engine.Invocation) (*models.StepResult, error) {
	var input struct {
		Action       string            `json:"action"`
		URL          string            `json:"url"`
		Selector     string            `json:"selector"`
		Instructions map[string]string `json:"instructions"`
		Timeout      int64             `json:"timeout"`
	}
	if err := json.Unmarshal(inv.Arguments, &input); err != nil {
		return failure("invalid arguments: %v", err), nil
	}
	if strings.TrimSpace(input.Action) == "" {
		return failure("action is required"), nil
	}

	req := sandbox.BrowserRequest{
		Action:   input.Action,
		URL:      input.URL,
		Selector: input.Selector,
		Timeout:  argTimeoutSeconds(input.Timeout, inv),
	}
	if len(input.Instructions) > 0 {
		raw, err := json.Marshal(input.Instructions)
		if err != nil {
			return failure("invalid instructions: %v", err), nil
		}
		req.Instructions = string(raw)
	}

	resp := t.sandboxes.ExecuteBrowser(ctx, inv.SandboxID, req)
	if !resp.Success {
		return failure("%s", resp.Error), nil
	}

	result := &models.StepResult{
		Success: true,
		Metadata: map[string]any{
			"url":   resp.URL,
			"title": resp.Title,
		},
	}

	switch input.Action {
	case sandbox.BrowserActionRead:
		result.Output = policy.TruncateOutput(resp.Content)

	case sandbox.BrowserActionScreenshot:
		result.Output = fmt.Sprintf("captured screenshot of %s", resp.URL)
		result.Artifacts = []models.Artifact{
			{
				Type:    models.ArtifactData,
				Content: resp.Screenshot,
				Metadata: map[string]any{
					"format":   "png",
					"encoding": "base64",
					"url":      resp.URL,
				},
			},
		}

	case sandbox.BrowserActionExtractTable:
		result.Output = renderTable(resp.Table)
		result.Metadata["table"] = resp.Table
		result.Metadata["rows"] = len(resp.Table)

	default:
		// open, click, fill_form: confirm where the page ended up.
		result.Output = fmt.Sprintf("%s: %s", input.Action, resp.URL)
	}

	return result, nil
}

// renderTable flattens an extracted table into tab-separated lines so
// the planner can read it back as plain text.
func renderTable(table [][]string) string {
	var sb strings.Builder
	for _, row := range table {
		sb.WriteString(strings.Join(row, "\t"))
		sb.WriteByte('\n')
	}
	return sb.String()
}
