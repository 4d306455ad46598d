package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/haasonsaas/deepplan/internal/state"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Tool parameter limits to prevent resource exhaustion.
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolParamsSize is the maximum size of tool parameters JSON (10MB).
	MaxToolParamsSize = 10 << 20
)

// ToolRegistry manages available tools with thread-safe registration and
// lookup. Tool schemas are compiled once at registration and used to validate
// arguments before dispatch.
type ToolRegistry struct {
	mu        sync.RWMutex
	tools     map[string]Tool
	schemas   map[string]*jsonschema.Schema
	normalize map[string]bool
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools:     make(map[string]Tool),
		schemas:   make(map[string]*jsonschema.Schema),
		normalize: make(map[string]bool),
	}
}

// Register adds a tool by name, replacing any previous registration. A
// malformed schema disables validation for the tool but keeps it callable.
func (r *ToolRegistry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := tool.Name()
	r.tools[name] = tool

	if raw := tool.Schema(); len(raw) > 0 {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(name+".json", bytes.NewReader(raw)); err == nil {
			if schema, err := compiler.Compile(name + ".json"); err == nil {
				r.schemas[name] = schema
			}
		}
	}
}

// RegisterCompatibilityFix marks a tool for argument normalisation: models
// that emit JSON-encoded strings for list/object parameters get their
// arguments parsed before dispatch.
func (r *ToolRegistry) RegisterCompatibilityFix(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.normalize[name] = true
}

// Get returns a tool by name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// NeedsNormalization reports whether the tool is registered for argument
// normalisation.
func (r *ToolRegistry) NeedsNormalization(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.normalize[name]
}

// Descriptors returns the wire descriptors of tools passing the filter, for
// the LLM request. A nil filter returns all tools.
func (r *ToolRegistry) Descriptors(filter func(name string) bool) []ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolDescriptor, 0, len(r.tools))
	for name, tool := range r.tools {
		if filter != nil && !filter(name) {
			continue
		}
		out = append(out, ToolDescriptor{
			Name:        name,
			Description: tool.Description(),
			Schema:      tool.Schema(),
		})
	}
	return out
}

// Execute runs a tool by name with the given JSON parameters against a state
// snapshot. Unknown tools and invalid parameters produce error outputs, not
// errors: the model sees the failure and can correct itself.
func (r *ToolRegistry) Execute(ctx context.Context, name string, params json.RawMessage, snapshot *state.AgentState) (*ToolOutput, error) {
	if len(name) > MaxToolNameLength {
		return &ToolOutput{
			Content: fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxToolNameLength),
			IsError: true,
		}, nil
	}
	if len(params) > MaxToolParamsSize {
		return &ToolOutput{
			Content: fmt.Sprintf("tool parameters exceed maximum size of %d bytes", MaxToolParamsSize),
			IsError: true,
		}, nil
	}

	r.mu.RLock()
	tool, ok := r.tools[name]
	schema := r.schemas[name]
	needsNorm := r.normalize[name]
	r.mu.RUnlock()
	if !ok {
		return &ToolOutput{Content: "tool not found: " + name, IsError: true}, nil
	}

	if needsNorm {
		normalized, err := NormalizeArguments(params, tool.Schema())
		if err != nil {
			return &ToolOutput{
				Content: "argument normalisation failed: " + err.Error(),
				IsError: true,
			}, nil
		}
		params = normalized
	}

	if schema != nil && len(params) > 0 {
		var doc any
		if err := json.Unmarshal(params, &doc); err != nil {
			return &ToolOutput{Content: "invalid tool arguments: " + err.Error(), IsError: true}, nil
		}
		if err := schema.Validate(doc); err != nil {
			return &ToolOutput{Content: "tool arguments failed validation: " + err.Error(), IsError: true}, nil
		}
	}

	return tool.Execute(WithStateSnapshot(ctx, snapshot), params)
}
