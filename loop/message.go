package loop

import (
	"encoding/json"

	"github.com/jonwraymond/agentguard/guardrail"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleTool carries a tool result back to the model.
	RoleTool Role = "tool"
)

// Message is one entry of the conversation.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"toolCallId,omitempty"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string             `json:"id"`
	Name      guardrail.ToolName `json:"name"`
	Arguments map[string]any     `json:"arguments"`
}

// ToolCallRecord is the transient outcome of one tool call.
type ToolCallRecord struct {
	ToolName guardrail.ToolName `json:"toolName"`
	CallID   string             `json:"callId"`
	Step     int                `json:"step"`
	Input    map[string]any     `json:"input"`
	Output   json.RawMessage    `json:"output,omitempty"`
	Err      error              `json:"-"`
}

// Failed reports whether the call produced an error.
func (r ToolCallRecord) Failed() bool {
	return r.Err != nil
}
