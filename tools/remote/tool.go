package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jonwraymond/agentguard/agenterr"
	"github.com/jonwraymond/agentguard/auth"
	"github.com/jonwraymond/agentguard/guardrail"
)

const opExecute = "remote.execute"

// Request headers set on every call.
const (
	HeaderToolCallID = "X-Tool-Call-Id"
	HeaderPrincipal  = "X-Agent-Principal"
	HeaderTenant     = "X-Agent-Tenant"
)

// MaxResponseBytes caps the response body read from an endpoint.
const MaxResponseBytes = 1 << 20

var (
	// ErrMissingName is returned when a tool has no name.
	ErrMissingName = errors.New("remote: tool name is required")

	// ErrInvalidURL is returned when the endpoint is not an absolute http(s) URL.
	ErrInvalidURL = errors.New("remote: invalid endpoint url")
)

// Config describes one remote tool.
type Config struct {
	Name        guardrail.ToolName
	Description string
	URL         string
	InputSchema json.RawMessage

	// Headers are added to every request (e.g. an API key).
	Headers map[string]string

	// Timeout bounds each call. Default: 10s
	Timeout time.Duration

	// Client overrides the HTTP client.
	Client *http.Client
}

// Tool is an HTTP-backed guardrail.Tool.
type Tool struct {
	cfg    Config
	client *http.Client
}

// New validates cfg and creates a Tool.
func New(cfg Config) (*Tool, error) {
	if strings.TrimSpace(string(cfg.Name)) == "" {
		return nil, ErrMissingName
	}
	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, cfg.URL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	return &Tool{cfg: cfg, client: client}, nil
}

// Name implements guardrail.Tool.
func (t *Tool) Name() guardrail.ToolName { return t.cfg.Name }

// Description implements guardrail.Tool.
func (t *Tool) Description() string { return t.cfg.Description }

// InputSchema implements guardrail.Tool.
func (t *Tool) InputSchema() json.RawMessage { return t.cfg.InputSchema }

// Execute implements guardrail.Tool.
func (t *Tool) Execute(ctx context.Context, params map[string]any, opts guardrail.CallOptions) (json.RawMessage, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, agenterr.New(agenterr.KindValidation, opExecute, fmt.Errorf("encode params: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, agenterr.New(agenterr.KindToolExecutionFailed, opExecute, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}
	if opts.ToolCallID != "" {
		req.Header.Set(HeaderToolCallID, opts.ToolCallID)
	}
	if p := auth.PrincipalFromContext(ctx); p != "" {
		req.Header.Set(HeaderPrincipal, p)
	}
	if t := auth.TenantIDFromContext(ctx); t != "" {
		req.Header.Set(HeaderTenant, t)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, t.transportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBytes+1))
	if err != nil {
		return nil, t.transportError(err)
	}
	if len(data) > MaxResponseBytes {
		return nil, t.failed(fmt.Errorf("response exceeds %d bytes", MaxResponseBytes), resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, t.failed(fmt.Errorf("endpoint returned status %d", resp.StatusCode), resp.StatusCode)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return json.RawMessage("null"), nil
	}
	if !json.Valid(data) {
		return nil, t.failed(errors.New("endpoint returned invalid json"), resp.StatusCode)
	}
	return json.RawMessage(data), nil
}

func (t *Tool) failed(err error, status int) *agenterr.Error {
	e := agenterr.New(agenterr.KindToolExecutionFailed, opExecute, err)
	e.Code = fmt.Sprintf("http_%d", status)
	e.Attrs = map[string]any{"tool.name": string(t.cfg.Name)}
	return e
}

func (t *Tool) transportError(err error) *agenterr.Error {
	kind := agenterr.KindNetwork
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = agenterr.KindTimeout
	}
	e := agenterr.New(kind, opExecute, err)
	e.Attrs = map[string]any{"tool.name": string(t.cfg.Name)}
	return e
}

var _ guardrail.Tool = (*Tool)(nil)
