package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config LogConfig
	}{
		{"json format", LogConfig{Level: "info", Format: "json"}},
		{"text format", LogConfig{Level: "debug", Format: "text"}},
		{"defaults", LogConfig{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.config)
			if logger == nil {
				t.Fatal("NewLogger() returned nil")
			}
			if logger.logger == nil {
				t.Error("Logger.logger is nil")
			}
		})
	}
}

func TestLoggerContextCorrelation(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "debug", Format: "json", Output: &buf})

	ctx := WithTaskID(context.Background(), "task-abc")
	ctx = WithStepID(ctx, "step-1")
	ctx = WithSandboxID(ctx, "sbx-9")
	logger.Info(ctx, "step executed", "tool", "shell")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("log output is not JSON: %v", err)
	}
	if record["task_id"] != "task-abc" {
		t.Errorf("task_id = %v, want task-abc", record["task_id"])
	}
	if record["step_id"] != "step-1" {
		t.Errorf("step_id = %v, want step-1", record["step_id"])
	}
	if record["sandbox_id"] != "sbx-9" {
		t.Errorf("sandbox_id = %v, want sbx-9", record["sandbox_id"])
	}
	if record["tool"] != "shell" {
		t.Errorf("tool = %v, want shell", record["tool"])
	}
}

func TestLoggerRedactsSecrets(t *testing.T) {
	tests := []struct {
		name   string
		msg    string
		hidden string
	}{
		{
			name:   "openai key",
			msg:    "failed with key sk-aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
			hidden: "sk-aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		},
		{
			name:   "generic api key",
			msg:    "api_key=abcdef0123456789abcdef",
			hidden: "abcdef0123456789abcdef",
		},
		{
			name:   "password assignment",
			msg:    "password: hunter2hunter2",
			hidden: "hunter2hunter2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf})
			logger.Info(context.Background(), tt.msg)

			out := buf.String()
			if strings.Contains(out, tt.hidden) {
				t.Errorf("log output leaked %q: %s", tt.hidden, out)
			}
			if !strings.Contains(out, "[REDACTED]") {
				t.Errorf("log output missing redaction marker: %s", out)
			}
		})
	}
}

func TestLoggerRedactsSensitiveMapKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf})

	logger.Info(context.Background(), "request", "headers", map[string]any{
		"Authorization": "Bearer abc123def456ghi789",
		"Accept":        "application/json",
	})

	out := buf.String()
	if strings.Contains(out, "abc123def456ghi789") {
		t.Errorf("log output leaked authorization header: %s", out)
	}
	if !strings.Contains(out, "application/json") {
		t.Errorf("log output dropped benign header: %s", out)
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "json", Output: &buf})

	logger.Debug(context.Background(), "quiet")
	logger.Info(context.Background(), "also quiet")
	if buf.Len() != 0 {
		t.Errorf("below-level records were written: %s", buf.String())
	}

	logger.Warn(context.Background(), "loud")
	if buf.Len() == 0 {
		t.Errorf("warn record was filtered")
	}
}
