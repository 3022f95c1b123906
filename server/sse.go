package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/jonwraymond/agentguard/agenterr"
	"github.com/jonwraymond/agentguard/loop"
	"github.com/jonwraymond/agentguard/recovery"
)

// Event names written to the stream.
const (
	EventText       = "text"
	EventToolCall   = "tool_call"
	EventToolResult = "tool_result"
	EventError      = "error"
	EventDone       = "done"
)

type textEvent struct {
	Step int    `json:"step"`
	Text string `json:"text"`
}

type toolCallEvent struct {
	Step      int            `json:"step"`
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

type toolResultEvent struct {
	Step     int             `json:"step"`
	CallID   string          `json:"callId"`
	ToolName string          `json:"toolName"`
	Output   json.RawMessage `json:"output,omitempty"`
	Error    string          `json:"error,omitempty"`
	Kind     string          `json:"kind,omitempty"`
}

type errorEvent struct {
	Message string `json:"message"`
	Kind    string `json:"kind"`
}

type doneEvent struct {
	RunID      string `json:"runId"`
	Text       string `json:"text"`
	Steps      int    `json:"steps"`
	StopReason string `json:"stopReason"`
	ToolCalls  int    `json:"toolCalls"`
	Usage      usage  `json:"usage"`
}

type usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// sseSink streams loop events to an HTTP response. Failed tool results
// carry the mapped user message, never the raw error.
type sseSink struct {
	runID   string
	mapper  *recovery.Mapper
	w       http.ResponseWriter
	flusher http.Flusher

	mu  sync.Mutex
	err error
}

func newSSESink(w http.ResponseWriter, runID string, mapper *recovery.Mapper) (*sseSink, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	return &sseSink{runID: runID, mapper: mapper, w: w, flusher: flusher}, nil
}

// open writes the stream headers.
func (s *sseSink) open() {
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set(HeaderRunID, s.runID)
	s.w.WriteHeader(http.StatusOK)
	s.flusher.Flush()
}

// send writes one event. After the first write failure the sink goes quiet.
func (s *sseSink) send(event string, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		s.err = fmt.Errorf("encode %s event: %w", event, err)
		return
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		s.err = err
		return
	}
	s.flusher.Flush()
}

// Err returns the first write failure.
func (s *sseSink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *sseSink) Text(_ context.Context, step int, text string) {
	s.send(EventText, textEvent{Step: step, Text: text})
}

func (s *sseSink) ToolCall(_ context.Context, step int, call loop.ToolCall) {
	s.send(EventToolCall, toolCallEvent{
		Step:      step,
		ID:        call.ID,
		Name:      string(call.Name),
		Arguments: call.Arguments,
	})
}

func (s *sseSink) ToolResult(_ context.Context, step int, rec loop.ToolCallRecord) {
	ev := toolResultEvent{
		Step:     step,
		CallID:   rec.CallID,
		ToolName: string(rec.ToolName),
		Output:   rec.Output,
	}
	if rec.Failed() {
		msg, kind := s.mapper.Render(rec.Err)
		ev.Output = nil
		ev.Error = msg
		ev.Kind = kind.String()
	}
	s.send(EventToolResult, ev)
}

func (s *sseSink) Error(_ context.Context, message string, kind agenterr.Kind) {
	s.send(EventError, errorEvent{Message: message, Kind: kind.String()})
}

func (s *sseSink) Done(_ context.Context, result loop.RunResult) {
	s.send(EventDone, doneEvent{
		RunID:      s.runID,
		Text:       result.Text,
		Steps:      result.Steps,
		StopReason: result.StopReason,
		ToolCalls:  len(result.ToolCalls),
		Usage: usage{
			PromptTokens:     result.Usage.PromptTokens,
			CompletionTokens: result.Usage.CompletionTokens,
			TotalTokens:      result.Usage.PromptTokens + result.Usage.CompletionTokens,
		},
	})
}

var _ loop.EventSink = (*sseSink)(nil)
