package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/golemhq/golem/internal/observability"
)

// Tool input limits to prevent resource exhaustion.
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolArgsSize is the maximum size of a step's argument JSON (10MB).
	MaxToolArgsSize = 10 << 20
)

// Registry maps tool names to handlers with thread-safe registration
// and lookup. It is populated at startup and effectively read-only
// afterwards; compiled argument schemas are cached per tool.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]Tool
	compiled map[string]*jsonschema.Schema
	logger   *observability.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *observability.Logger) *Registry {
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{})
	}
	return &Registry{
		tools:    make(map[string]Tool),
		compiled: make(map[string]*jsonschema.Schema),
		logger:   logger,
	}
}

// Register adds a tool under its name. Registering a name twice
// replaces the previous handler and logs a warning.
func (r *Registry) Register(tool Tool) {
	name := tool.Name()
	r.mu.Lock()
	_, replaced := r.tools[name]
	r.tools[name] = tool
	delete(r.compiled, name)
	r.mu.Unlock()
	if replaced {
		r.logger.Warn(context.Background(), "tool registered twice, previous handler replaced", "tool", name)
	}
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.compiled, name)
}

// Get returns a tool by name and whether it was found.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Describe renders the registered tools as a prompt block: one entry
// per tool with its description and argument schema. Tools appear in
// name order so prompts stay stable across runs.
func (r *Registry) Describe() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		tool := r.tools[name]
		fmt.Fprintf(&b, "- %s: %s\n", name, tool.Description())
		if schema := tool.Schema(); len(schema) > 0 {
			fmt.Fprintf(&b, "  arguments schema: %s\n", compactJSON(schema))
		}
	}
	return b.String()
}

// ValidateArguments checks a step's argument object against the tool's
// schema. A tool without a schema accepts any object. Unknown tools and
// schema violations return a validation error.
func (r *Registry) ValidateArguments(name string, args json.RawMessage) error {
	tool, ok := r.Get(name)
	if !ok {
		return NewValidationError("validate arguments", "tool not found: "+name, nil)
	}
	if len(args) > MaxToolArgsSize {
		return NewValidationError("validate arguments",
			fmt.Sprintf("arguments exceed maximum size of %d bytes", MaxToolArgsSize), nil)
	}

	raw := tool.Schema()
	if len(raw) == 0 {
		return nil
	}

	schema, err := r.schemaFor(name, raw)
	if err != nil {
		return NewValidationError("validate arguments", "invalid schema for tool "+name, err)
	}

	var payload any
	if len(args) == 0 {
		payload = map[string]any{}
	} else if err := json.Unmarshal(args, &payload); err != nil {
		return NewValidationError("validate arguments", "arguments are not valid JSON", err)
	}
	if err := schema.Validate(payload); err != nil {
		return NewValidationError("validate arguments", "arguments do not match schema for "+name, err)
	}
	return nil
}

// schemaFor returns the compiled schema for a tool, compiling and
// caching it on first use.
func (r *Registry) schemaFor(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	r.mu.RLock()
	schema, ok := r.compiled[name]
	r.mu.RUnlock()
	if ok {
		return schema, nil
	}

	compiled, err := jsonschema.CompileString("tool_"+name, string(raw))
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.compiled[name] = compiled
	r.mu.Unlock()
	return compiled, nil
}

func compactJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
