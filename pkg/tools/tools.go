// Package tools holds the tools the reasoning loop may call and the
// registry that dispatches them. Every tool returns the sources backing
// its output explicitly; the pipeline merges them per round.
package tools

import (
	"context"
	"fmt"

	"github.com/kletsmajoor/klets/pkg/llms"
	"github.com/kletsmajoor/klets/pkg/retrieval"
	"github.com/kletsmajoor/klets/pkg/session"
)

// Turn carries the per-turn state a tool may consult.
type Turn struct {
	SessionID string
	Memory    *session.Memory
}

// Result is a tool's output: the text fed back to the model plus the
// source references that back it.
type Result struct {
	Content string
	Sources []retrieval.SourceReference
}

// Tool is a capability the model can invoke during the reasoning loop.
type Tool interface {
	Definition() llms.ToolDefinition
	Execute(ctx context.Context, args map[string]any, turn *Turn) (*Result, error)
}

// Registry maps tool names to implementations.
type Registry struct {
	tools map[string]Tool
	order []string
}

func NewRegistry() *Registry {
	return &Registry{tools: map[string]Tool{}}
}

func (r *Registry) Register(tool Tool) error {
	name := tool.Definition().Name
	if name == "" {
		return fmt.Errorf("tool has empty name")
	}
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.tools[name] = tool
	r.order = append(r.order, name)
	return nil
}

// Definitions returns the tool schemas in registration order, for the
// model request.
func (r *Registry) Definitions() []llms.ToolDefinition {
	defs := make([]llms.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// Execute dispatches a call by name. An unknown tool is an error; the
// caller turns it into a tool message so the loop can continue.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any, turn *Turn) (*Result, error) {
	tool, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
	return tool.Execute(ctx, args, turn)
}

func stringArg(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	s, _ := args[key].(string)
	return s
}
