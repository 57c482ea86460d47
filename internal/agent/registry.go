package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/avolkov/groundkb/internal/llm"
)

// Tool is one capability the agent can invoke. Invoke returns the tool
// result as a string the model can read; errors are reported back to the
// model as error turns, not propagated.
type Tool interface {
	Name() string
	Description() string
	InputSchema() json.RawMessage
	Invoke(ctx context.Context, args json.RawMessage) (string, error)
}

// Registry holds the tools available to a loop run.
type Registry struct {
	tools map[string]Tool
}

func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) (Tool, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
	return t, nil
}

func (r *Registry) Len() int {
	return len(r.tools)
}

// Definitions returns the tool definitions in stable name order.
func (r *Registry) Definitions() []llm.ToolDefinition {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]llm.ToolDefinition, len(names))
	for i, name := range names {
		t := r.tools[name]
		defs[i] = llm.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		}
	}
	return defs
}
