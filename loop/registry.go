package loop

import (
	"fmt"
	"sort"

	"github.com/jonwraymond/agentguard/guardrail"
)

// Registry maps tool names to tools. It is built once per run and never
// mutated by the controller.
type Registry map[guardrail.ToolName]guardrail.Tool

// NewRegistry indexes tools by name.
func NewRegistry(tools ...guardrail.Tool) (Registry, error) {
	r := make(Registry, len(tools))
	for _, t := range tools {
		if t == nil {
			return nil, guardrail.ErrNilTool
		}
		if _, dup := r[t.Name()]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTool, t.Name())
		}
		r[t.Name()] = t
	}
	return r, nil
}

// Lookup returns the named tool.
func (r Registry) Lookup(name guardrail.ToolName) (guardrail.Tool, bool) {
	t, ok := r[name]
	return t, ok
}

// Names returns the registered names in sorted order.
func (r Registry) Names() []guardrail.ToolName {
	out := make([]guardrail.ToolName, 0, len(r))
	for name := range r {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Defs describes the named tools to the model, in the given order.
func (r Registry) Defs(names []guardrail.ToolName) []ToolDef {
	defs := make([]ToolDef, 0, len(names))
	for _, name := range names {
		t, ok := r[name]
		if !ok {
			continue
		}
		defs = append(defs, ToolDef{
			Name:        name,
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}
	return defs
}
