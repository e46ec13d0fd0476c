// Package tools defines the tools available to the agent.
package tools

import (
	"context"
	"fmt"
)

// Tool represents a callable tool. Parameters is a JSON Schema object
// in the format completion services expect; it is always declared
// explicitly at registration.
type Tool struct {
	Name        string                                                         `json:"name"`
	Description string                                                         `json:"description"`
	Parameters  map[string]any                                                 `json:"parameters"`
	Handler     func(ctx context.Context, args map[string]any) (string, error) `json:"-"`
}

// Registry holds available tools. It carries no dependencies of its
// own; tool handlers close over whatever they need.
type Registry struct {
	tools map[string]*Tool
	// order preserves registration order so schema sets sent to the
	// model are stable across calls.
	order []string
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool. Re-registering a name replaces the previous
// tool without changing its position.
func (r *Registry) Register(t *Tool) {
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

// Get retrieves a tool by name, or nil.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.tools)
}

// Definitions renders the registry into the schema format expected by
// the completion service, in registration order.
func (r *Registry) Definitions() []map[string]any {
	var result []map[string]any
	for _, name := range r.order {
		t := r.tools[name]
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// Dispatch runs a tool by name with already-parsed arguments. Failures
// are reported in-band as result strings, never as errors: the model
// consuming the result needs to see and react to failures.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]any) string {
	tool := r.tools[name]
	if tool == nil {
		return fmt.Sprintf("Unknown tool: %s", name)
	}

	result, err := tool.Handler(ctx, args)
	if err != nil {
		return fmt.Sprintf("Tool error (%s): %v", name, err)
	}
	return result
}
