package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonwraymond/agentguard/agenterr"
	"github.com/jonwraymond/agentguard/guardrail"
	"github.com/jonwraymond/agentguard/loop"
	"github.com/jonwraymond/agentguard/resilience"
)

const toolCallResponse = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "model": "gpt-4o",
  "choices": [{
    "index": 0,
    "finish_reason": "tool_calls",
    "message": {
      "role": "assistant",
      "content": "",
      "tool_calls": [{
        "id": "call_abc",
        "type": "function",
        "function": {"name": "geocode", "arguments": "{\"query\":\"Lisbon\"}"}
      }]
    }
  }],
  "usage": {"prompt_tokens": 42, "completion_tokens": 7, "total_tokens": 49}
}`

const finalResponse = `{
  "id": "chatcmpl-2",
  "object": "chat.completion",
  "model": "gpt-4o",
  "choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "Lisbon is lovely in May."}}],
  "usage": {"prompt_tokens": 60, "completion_tokens": 9, "total_tokens": 69}
}`

func newTestProvider(t *testing.T, handler http.HandlerFunc, mutate ...func(*Config)) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := Config{
		APIKey:     "test-key",
		BaseURL:    srv.URL + "/v1",
		Timeout:    2 * time.Second,
		RetryDelay: time.Millisecond,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	p, err := New(cfg)
	require.NoError(t, err)
	return p
}

func request() loop.ModelRequest {
	return loop.ModelRequest{
		Model: "gpt-4o",
		Messages: []loop.Message{
			{Role: loop.RoleSystem, Content: "You plan trips."},
			{Role: loop.RoleUser, Content: "Where is Lisbon?"},
			{Role: loop.RoleAssistant, ToolCalls: []loop.ToolCall{{ID: "call_prev", Name: "geocode", Arguments: map[string]any{"query": "porto"}}}},
			{Role: loop.RoleTool, ToolCallID: "call_prev", Content: `{"lat":41.1}`},
		},
		Tools:           []loop.ToolDef{{Name: "geocode", Description: "Resolve a place"}},
		MaxOutputTokens: 512,
		Temperature:     0.2,
	}
}

func TestGenerate_ToolCallRoundTrip(t *testing.T) {
	var body map[string]any
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(toolCallResponse))
	})

	resp, err := p.Generate(context.Background(), request())
	require.NoError(t, err)

	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_abc", resp.ToolCalls[0].ID)
	assert.Equal(t, guardrail.ToolName("geocode"), resp.ToolCalls[0].Name)
	assert.Equal(t, map[string]any{"query": "Lisbon"}, resp.ToolCalls[0].Arguments)
	assert.Equal(t, 42, resp.Usage.PromptTokens)
	assert.Equal(t, "tool_calls", resp.FinishReason)

	assert.EqualValues(t, 512, body["max_tokens"])
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 4)
	assert.Equal(t, "tool", msgs[3].(map[string]any)["role"])
	assert.Equal(t, "call_prev", msgs[3].(map[string]any)["tool_call_id"])
	tools := body["tools"].([]any)
	fn := tools[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "geocode", fn["name"])
	assert.Equal(t, map[string]any{"type": "object", "properties": map[string]any{}}, fn["parameters"])
}

func TestGenerate_FinalAnswer(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(finalResponse))
	})

	resp, err := p.Generate(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, "Lisbon is lovely in May.", resp.Content)
	assert.Empty(t, resp.ToolCalls)
}

func TestGenerate_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int64
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
			return
		}
		_, _ = w.Write([]byte(finalResponse))
	})

	_, err := p.Generate(context.Background(), request())
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
}

func TestGenerate_ClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int64
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided: sk-***","type":"invalid_request_error"}}`))
	})

	_, err := p.Generate(context.Background(), request())
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())
	assert.ErrorIs(t, err, agenterr.ErrProvider)

	var ae *agenterr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "http_401", ae.Code)
}

func TestGenerate_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	var calls atomic.Int64
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}, func(c *Config) {
		c.MaxAttempts = 1
		c.CircuitFailures = 2
		c.CircuitReset = time.Minute
	})

	for i := 0; i < 2; i++ {
		_, err := p.Generate(context.Background(), request())
		require.Error(t, err)
	}
	assert.Equal(t, resilience.StateOpen, p.CircuitState())

	_, err := p.Generate(context.Background(), request())
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.EqualValues(t, 2, calls.Load())
}

func TestGenerate_AttemptTimeout(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}, func(c *Config) {
		c.Timeout = 20 * time.Millisecond
		c.MaxAttempts = 1
	})

	_, err := p.Generate(context.Background(), request())
	assert.Equal(t, agenterr.KindTimeout, agenterr.KindOf(err))
}

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestChatRequest_ReasoningModelsUseCompletionTokens(t *testing.T) {
	req := request()
	req.Model = "o3-mini"
	creq, err := chatRequest(req)
	require.NoError(t, err)
	assert.Equal(t, 512, creq.MaxCompletionTokens)
	assert.Zero(t, creq.MaxTokens)
}
