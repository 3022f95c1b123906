package loop

import (
	"context"
	"encoding/json"

	"github.com/jonwraymond/agentguard/guardrail"
)

// ToolDef describes a tool to the model.
type ToolDef struct {
	Name        guardrail.ToolName
	Description string
	InputSchema json.RawMessage
}

// ModelRequest is one model turn.
type ModelRequest struct {
	Model           string
	Messages        []Message
	Tools           []ToolDef
	MaxOutputTokens int
	Temperature     float64
	TopP            float64
	Stop            []string
}

// Usage reports token consumption of a turn.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// ModelResponse is the model's answer for one turn. A response without tool
// calls is final.
type ModelResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        Usage
}

// Model performs model inference.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Context: implementations must honor cancellation.
//   - Errors: failures should be classified with agenterr where possible.
type Model interface {
	Generate(ctx context.Context, req ModelRequest) (ModelResponse, error)
}

// ModelFunc adapts a function to Model.
type ModelFunc func(ctx context.Context, req ModelRequest) (ModelResponse, error)

// Generate implements Model.
func (f ModelFunc) Generate(ctx context.Context, req ModelRequest) (ModelResponse, error) {
	return f(ctx, req)
}
