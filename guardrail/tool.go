package guardrail

import (
	"context"
	"encoding/json"
)

// ToolName identifies a tool in a registry and on the wire to the model.
type ToolName string

// CallOptions carries per-call metadata from the model.
type CallOptions struct {
	// ToolCallID is the model-assigned id of the call, if any.
	ToolCallID string
}

// IsZero reports whether no options were supplied.
func (o CallOptions) IsZero() bool {
	return o.ToolCallID == ""
}

// Tool is the capability every tool exposes to the agent loop.
//
// Contract:
// - Concurrency: Execute must be safe for concurrent use.
// - Context: Execute must honor cancellation/deadlines.
// - Errors: Execute returns the tool's own errors; it must not panic.
// - Ownership: params must not be mutated.
type Tool interface {
	Name() ToolName
	Description() string
	InputSchema() json.RawMessage
	Execute(ctx context.Context, params map[string]any, opts CallOptions) (json.RawMessage, error)
}

// ExecuteFunc is the body of a FuncTool.
type ExecuteFunc func(ctx context.Context, params map[string]any, opts CallOptions) (json.RawMessage, error)

// FuncTool adapts a function to Tool.
type FuncTool struct {
	ToolName ToolName
	Desc     string
	Schema   json.RawMessage
	Fn       ExecuteFunc
}

// NewFuncTool creates a Tool from fn.
func NewFuncTool(name ToolName, description string, schema json.RawMessage, fn ExecuteFunc) *FuncTool {
	return &FuncTool{ToolName: name, Desc: description, Schema: schema, Fn: fn}
}

func (t *FuncTool) Name() ToolName               { return t.ToolName }
func (t *FuncTool) Description() string          { return t.Desc }
func (t *FuncTool) InputSchema() json.RawMessage { return t.Schema }

// Execute implements Tool.
func (t *FuncTool) Execute(ctx context.Context, params map[string]any, opts CallOptions) (json.RawMessage, error) {
	return t.Fn(ctx, params, opts)
}

var _ Tool = (*FuncTool)(nil)
