package engine

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	registry := NewRegistry(nil)
	registry.Register(&fakeTool{name: "shell"})
	registry.Register(&fakeTool{name: "browser"})

	if registry.Len() != 2 {
		t.Errorf("Len = %d, want 2", registry.Len())
	}
	if _, ok := registry.Get("shell"); !ok {
		t.Error("shell not found")
	}
	if _, ok := registry.Get("nope"); ok {
		t.Error("unexpected tool found")
	}

	names := registry.Names()
	if len(names) != 2 || names[0] != "browser" || names[1] != "shell" {
		t.Errorf("Names = %v, want sorted [browser shell]", names)
	}
}

func TestRegistryOverwrite(t *testing.T) {
	registry := NewRegistry(nil)
	first := &fakeTool{name: "shell"}
	second := &fakeTool{name: "shell", schema: `{"type":"object","properties":{"x":{"type":"number"}}}`}
	registry.Register(first)
	registry.Register(second)

	if registry.Len() != 1 {
		t.Errorf("Len = %d, want 1", registry.Len())
	}
	got, _ := registry.Get("shell")
	if got != second {
		t.Error("overwrite did not replace the tool")
	}
}

func TestRegistryUnregister(t *testing.T) {
	registry := NewRegistry(nil)
	registry.Register(&fakeTool{name: "shell"})
	registry.Unregister("shell")
	if _, ok := registry.Get("shell"); ok {
		t.Error("tool still present after Unregister")
	}
}

func TestRegistryDescribe(t *testing.T) {
	registry := NewRegistry(nil)
	registry.Register(&fakeTool{name: "shell"})
	registry.Register(&fakeTool{name: "browser"})

	desc := registry.Describe()
	if !strings.Contains(desc, "shell") || !strings.Contains(desc, "browser") {
		t.Errorf("Describe = %q", desc)
	}
	if strings.Index(desc, "browser") > strings.Index(desc, "shell") {
		t.Error("Describe must list tools in sorted order")
	}
}

func TestRegistryValidateArguments(t *testing.T) {
	registry := NewRegistry(nil)
	registry.Register(&fakeTool{
		name: "shell",
		schema: `{
			"type": "object",
			"properties": {
				"command": {"type": "string"},
				"timeout": {"type": "number"}
			},
			"required": ["command"],
			"additionalProperties": false
		}`,
	})

	tests := []struct {
		name    string
		args    string
		wantErr bool
	}{
		{"valid", `{"command": "ls"}`, false},
		{"valid with timeout", `{"command": "ls", "timeout": 5}`, false},
		{"missing required", `{"timeout": 5}`, true},
		{"wrong type", `{"command": 42}`, true},
		{"extra property", `{"command": "ls", "shell": "bash"}`, true},
		{"not an object", `"ls"`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := registry.ValidateArguments("shell", json.RawMessage(tt.args))
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateArguments(%s) error = %v, wantErr %v", tt.args, err, tt.wantErr)
			}
		})
	}
}

func TestRegistryValidateArgumentsUnknownTool(t *testing.T) {
	registry := NewRegistry(nil)
	if err := registry.ValidateArguments("ghost", json.RawMessage(`{}`)); err == nil {
		t.Error("expected error for unknown tool")
	}
}

func TestRegistryValidateArgumentsSizeCap(t *testing.T) {
	registry := NewRegistry(nil)
	registry.Register(&fakeTool{name: "shell"})

	huge := `{"command": "` + strings.Repeat("a", MaxToolArgsSize) + `"}`
	if err := registry.ValidateArguments("shell", json.RawMessage(huge)); err == nil {
		t.Error("expected error for oversized arguments")
	}
}
