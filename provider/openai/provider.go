package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/jonwraymond/agentguard/agenterr"
	"github.com/jonwraymond/agentguard/guardrail"
	"github.com/jonwraymond/agentguard/loop"
	"github.com/jonwraymond/agentguard/resilience"
)

const opGenerate = "provider.openai.generate"

// ErrMissingAPIKey is returned when no API key is configured.
var ErrMissingAPIKey = errors.New("openai: api key is required")

// Config configures a Provider.
type Config struct {
	APIKey string

	// BaseURL overrides the API endpoint (e.g. a proxy or compatible server).
	BaseURL string

	// HTTPClient overrides the transport.
	HTTPClient *http.Client

	// Timeout bounds each attempt. Default: 60s
	Timeout time.Duration

	// MaxAttempts includes the first attempt. Default: 3
	MaxAttempts int

	// RetryDelay is the initial backoff. Default: 200ms
	RetryDelay time.Duration

	// CircuitFailures opens the circuit after this many failed calls.
	// Default: 5
	CircuitFailures int

	// CircuitReset is how long the circuit stays open. Default: 30s
	CircuitReset time.Duration

	// RequestsPerSecond enables a client-side token bucket when positive.
	RequestsPerSecond float64

	// OnCircuitChange observes breaker transitions.
	OnCircuitChange func(from, to resilience.State)
}

// Provider implements loop.Model.
type Provider struct {
	client  *goopenai.Client
	exec    *resilience.Executor
	circuit *resilience.CircuitBreaker
}

// New creates a Provider, applying defaults to cfg.
func New(cfg Config) (*Provider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 200 * time.Millisecond
	}

	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}

	circuit := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:          "openai",
		MaxFailures:   cfg.CircuitFailures,
		ResetTimeout:  cfg.CircuitReset,
		IsFailure:     retryable,
		OnStateChange: cfg.OnCircuitChange,
	})
	opts := []resilience.ExecutorOption{
		resilience.WithCircuitBreaker(circuit),
		resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{
			MaxAttempts:  cfg.MaxAttempts,
			InitialDelay: cfg.RetryDelay,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
			RetryIf:      retryable,
		})),
		resilience.WithTimeout(cfg.Timeout),
	}
	if cfg.RequestsPerSecond > 0 {
		opts = append(opts, resilience.WithRateLimiter(resilience.NewRateLimiter(resilience.RateLimiterConfig{
			Rate:        cfg.RequestsPerSecond,
			Burst:       max(1, int(cfg.RequestsPerSecond)),
			WaitOnLimit: true,
			MaxWait:     cfg.Timeout,
		})))
	}

	return &Provider{
		client:  goopenai.NewClientWithConfig(clientCfg),
		exec:    resilience.NewExecutor(opts...),
		circuit: circuit,
	}, nil
}

// CircuitState reports the breaker state.
func (p *Provider) CircuitState() resilience.State {
	return p.circuit.State()
}

// Generate implements loop.Model.
func (p *Provider) Generate(ctx context.Context, req loop.ModelRequest) (loop.ModelResponse, error) {
	creq, err := chatRequest(req)
	if err != nil {
		return loop.ModelResponse{}, agenterr.New(agenterr.KindValidation, opGenerate, err)
	}

	var (
		done = make(chan goopenai.ChatCompletionResponse, 1)
		resp goopenai.ChatCompletionResponse
	)
	err = p.exec.Execute(ctx, func(ctx context.Context) error {
		r, err := p.client.CreateChatCompletion(ctx, creq)
		if err != nil {
			return err
		}
		select {
		case done <- r:
		default:
		}
		return nil
	})
	if err != nil {
		return loop.ModelResponse{}, classify(err)
	}
	resp = <-done
	return fromChatResponse(resp), nil
}

func chatRequest(req loop.ModelRequest) (goopenai.ChatCompletionRequest, error) {
	msgs, err := toChatMessages(req.Messages)
	if err != nil {
		return goopenai.ChatCompletionRequest{}, err
	}
	out := goopenai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: float32(req.Temperature),
		TopP:        float32(req.TopP),
		Stop:        req.Stop,
		Tools:       toTools(req.Tools),
	}
	if usesCompletionTokens(req.Model) {
		out.MaxCompletionTokens = req.MaxOutputTokens
	} else {
		out.MaxTokens = req.MaxOutputTokens
	}
	return out, nil
}

// usesCompletionTokens reports whether the model rejects max_tokens.
func usesCompletionTokens(model string) bool {
	return strings.HasPrefix(model, "o1") || strings.HasPrefix(model, "o3") || strings.HasPrefix(model, "o4")
}

func toChatMessages(msgs []loop.Message) ([]goopenai.ChatCompletionMessage, error) {
	out := make([]goopenai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		cm := goopenai.ChatCompletionMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, call := range m.ToolCalls {
			args, err := json.Marshal(call.Arguments)
			if err != nil {
				return nil, fmt.Errorf("encode arguments of %s: %w", call.Name, err)
			}
			cm.ToolCalls = append(cm.ToolCalls, goopenai.ToolCall{
				ID:   call.ID,
				Type: goopenai.ToolTypeFunction,
				Function: goopenai.FunctionCall{
					Name:      string(call.Name),
					Arguments: string(args),
				},
			})
		}
		out = append(out, cm)
	}
	return out, nil
}

var emptyObjectSchema = json.RawMessage(`{"type":"object","properties":{}}`)

func toTools(defs []loop.ToolDef) []goopenai.Tool {
	if len(defs) == 0 {
		return nil
	}
	out := make([]goopenai.Tool, len(defs))
	for i, d := range defs {
		schema := d.InputSchema
		if len(schema) == 0 {
			schema = emptyObjectSchema
		}
		out[i] = goopenai.Tool{
			Type: goopenai.ToolTypeFunction,
			Function: &goopenai.FunctionDefinition{
				Name:        string(d.Name),
				Description: d.Description,
				Parameters:  schema,
			},
		}
	}
	return out
}

func fromChatResponse(resp goopenai.ChatCompletionResponse) loop.ModelResponse {
	out := loop.ModelResponse{
		Usage: loop.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}
	if len(resp.Choices) == 0 {
		return out
	}
	choice := resp.Choices[0]
	out.Content = choice.Message.Content
	out.FinishReason = string(choice.FinishReason)
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		if strings.TrimSpace(tc.Function.Arguments) != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				args = nil
			}
		}
		out.ToolCalls = append(out.ToolCalls, loop.ToolCall{
			ID:        tc.ID,
			Name:      guardrail.ToolName(tc.Function.Name),
			Arguments: args,
		})
	}
	return out
}

func statusCode(err error) int {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

// retryable reports whether err is transient. It also decides which
// failures count against the circuit.
func retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, resilience.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	code := statusCode(err)
	return code == http.StatusTooManyRequests || code >= 500
}

func classify(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, resilience.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return agenterr.New(agenterr.KindTimeout, opGenerate, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return agenterr.New(agenterr.KindNetwork, opGenerate, err)
	}
	e := agenterr.New(agenterr.KindProvider, opGenerate, err)
	if code := statusCode(err); code != 0 {
		e.Code = fmt.Sprintf("http_%d", code)
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		e.Code = "circuit_open"
	}
	return e
}

var _ loop.Model = (*Provider)(nil)
