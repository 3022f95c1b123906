package tokenbudget

import (
	"context"

	"github.com/jonwraymond/agentguard/catalog"
	"github.com/jonwraymond/agentguard/observe"
)

// Defaults for Config.
const (
	DefaultSafetyMargin    = 256
	DefaultMinOutputTokens = 256

	// DefaultMaxOutputTokens is assumed for unknown models when the caller
	// does not ask for a specific allowance.
	DefaultMaxOutputTokens = 4096
)

// Span events.
const (
	EventFloored      = "token_budget.floored"
	EventUnknownModel = "token_budget.unknown_model"
)

// Config configures a Clamper.
type Config struct {
	// Catalog supplies context windows. Default: catalog.Default()
	Catalog *catalog.Catalog

	// Counter estimates prompt tokens.
	// Default: a TiktokenCounter over Catalog.
	Counter Counter

	// SafetyMargin is reserved on top of the counted prompt.
	// Default: DefaultSafetyMargin
	SafetyMargin int

	// MinOutputTokens is the floor returned when the prompt leaves no room.
	// Default: DefaultMinOutputTokens
	MinOutputTokens int

	Metrics observe.Metrics
	Logger  observe.Logger
}

// Budget is the outcome of Clamp.
type Budget struct {
	// MaxTokens is the completion allowance. Always positive.
	MaxTokens int

	PromptTokens  int
	ContextWindow int

	// Floored is set when MaxTokens was raised to the configured minimum.
	Floored bool

	// UnknownModel is set when the catalog had no entry for the model.
	UnknownModel bool
}

// Clamper computes completion budgets.
type Clamper struct {
	cfg Config
}

// NewClamper creates a Clamper, applying defaults to cfg.
func NewClamper(cfg Config) *Clamper {
	if cfg.Catalog == nil {
		cfg.Catalog = catalog.Default()
	}
	if cfg.Counter == nil {
		cfg.Counter = NewTiktokenCounter(cfg.Catalog, nil)
	}
	if cfg.SafetyMargin < 0 {
		cfg.SafetyMargin = 0
	} else if cfg.SafetyMargin == 0 {
		cfg.SafetyMargin = DefaultSafetyMargin
	}
	if cfg.MinOutputTokens <= 0 {
		cfg.MinOutputTokens = DefaultMinOutputTokens
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.NoopMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = observe.NopLogger()
	}
	cfg.Metrics = observe.SafeMetrics(cfg.Metrics)
	return &Clamper{cfg: cfg}
}

// MinOutputTokens returns the configured floor.
func (c *Clamper) MinOutputTokens() int {
	return c.cfg.MinOutputTokens
}

// Clamp returns min(desired, window - prompt - margin), floored at
// MinOutputTokens. A non-positive desired asks for the model's maximum
// completion size. Flooring and unknown models are reported.
func (c *Clamper) Clamp(ctx context.Context, messages []Message, desired int, modelID string) Budget {
	b, available := c.estimate(messages, desired, modelID)
	if b.UnknownModel {
		observe.AddEvent(ctx, EventUnknownModel, observe.Attr("model", modelID))
	}
	if b.Floored {
		c.floored(ctx, modelID, b, available)
	}
	return b
}

// Estimate computes the same budget as Clamp without reporting anything.
func (c *Clamper) Estimate(messages []Message, desired int, modelID string) Budget {
	b, _ := c.estimate(messages, desired, modelID)
	return b
}

func (c *Clamper) estimate(messages []Message, desired int, modelID string) (Budget, int) {
	model, known := c.cfg.Catalog.Lookup(modelID)
	window := catalog.DefaultContextWindow
	maxOutput := DefaultMaxOutputTokens
	if known {
		window = model.ContextWindow
		maxOutput = model.MaxOutputTokens
	}

	if desired <= 0 || desired > maxOutput {
		desired = maxOutput
	}

	b := Budget{
		PromptTokens:  c.cfg.Counter.Count(modelID, messages),
		ContextWindow: window,
		UnknownModel:  !known,
	}

	available := window - b.PromptTokens - c.cfg.SafetyMargin
	b.MaxTokens = min(desired, available)

	if b.MaxTokens < c.cfg.MinOutputTokens {
		b.MaxTokens = c.cfg.MinOutputTokens
		b.Floored = true
	}
	return b, available
}

func (c *Clamper) floored(ctx context.Context, modelID string, b Budget, available int) {
	observe.AddEvent(ctx, EventFloored,
		observe.Attr("model", modelID),
		observe.Attr("prompt_tokens", b.PromptTokens),
		observe.Attr("context_window", b.ContextWindow),
		observe.Attr("available", available),
	)
	c.cfg.Metrics.RecordBudgetFloored(ctx, modelID)
	c.cfg.Logger.Warn(ctx, "token budget floored",
		observe.F("model", modelID),
		observe.F("prompt_tokens", b.PromptTokens),
		observe.F("context_window", b.ContextWindow),
		observe.F("max_tokens", b.MaxTokens),
	)
}
