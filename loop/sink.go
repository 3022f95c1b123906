package loop

import (
	"context"

	"github.com/jonwraymond/agentguard/agenterr"
)

// EventSink receives the events of a run in order.
//
// Contract:
//   - Concurrency: a sink is used by one run at a time.
//   - Error receives only user-safe text.
type EventSink interface {
	Text(ctx context.Context, step int, text string)
	ToolCall(ctx context.Context, step int, call ToolCall)
	ToolResult(ctx context.Context, step int, rec ToolCallRecord)
	Error(ctx context.Context, message string, kind agenterr.Kind)
	Done(ctx context.Context, result RunResult)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Text(context.Context, int, string)               {}
func (NopSink) ToolCall(context.Context, int, ToolCall)         {}
func (NopSink) ToolResult(context.Context, int, ToolCallRecord) {}
func (NopSink) Error(context.Context, string, agenterr.Kind)    {}
func (NopSink) Done(context.Context, RunResult)                 {}

var _ EventSink = NopSink{}
