package guardrail

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/jonwraymond/agentguard/agenterr"
	"github.com/jonwraymond/agentguard/cache"
	"github.com/jonwraymond/agentguard/observe"
	"github.com/jonwraymond/agentguard/ratelimit"
	"github.com/jonwraymond/agentguard/resilience"
)

const opExecute = "guardrail.execute"

// Deps is the shared infrastructure behind every guarded tool.
type Deps struct {
	// Cache stores tool results. Required when any spec enables caching.
	Cache cache.Cache

	// CachePolicy bounds TTLs. The zero value means cache.DefaultPolicy().
	CachePolicy cache.Policy

	// Keyer derives cache keys. Nil uses the default canonicalizer.
	Keyer cache.Keyer

	// Limiter checks rate limits. Required when any spec enables them.
	Limiter *ratelimit.Limiter

	Tracer  observe.Tracer
	Metrics observe.Metrics
	Logger  observe.Logger

	// CacheTimeout bounds each cache read and write.
	// Default: resilience.DefaultCacheTimeout
	CacheTimeout time.Duration

	// LimiterTimeout bounds each rate limit check.
	// Default: resilience.DefaultLimiterTimeout
	LimiterTimeout time.Duration
}

// Composer wraps tools with guardrails.
type Composer struct {
	deps      Deps
	keyer     cache.Keyer
	telemetry *observe.Middleware
	cacheMW   *cache.CacheMiddleware
	limit     resilience.Strategy
}

// NewComposer creates a Composer, applying defaults to deps.
func NewComposer(deps Deps) *Composer {
	if deps.CacheTimeout <= 0 {
		deps.CacheTimeout = resilience.DefaultCacheTimeout
	}
	if deps.LimiterTimeout <= 0 {
		deps.LimiterTimeout = resilience.DefaultLimiterTimeout
	}
	if deps.CachePolicy == (cache.Policy{}) {
		deps.CachePolicy = cache.DefaultPolicy()
	}
	if deps.Keyer == nil {
		deps.Keyer = cache.NewCanonicalizer()
	}

	c := &Composer{
		deps:      deps,
		keyer:     deps.Keyer,
		telemetry: observe.NewMiddleware(deps.Tracer, deps.Metrics, deps.Logger),
		limit:     resilience.Strict(deps.LimiterTimeout),
	}

	if deps.Cache != nil {
		logger := c.telemetry.Logger()
		c.cacheMW = cache.NewCacheMiddleware(deps.Cache, deps.CachePolicy, nil,
			cache.WithStoreTimeout(deps.CacheTimeout),
			cache.WithErrorHook(func(ctx context.Context, op, key string, err error) {
				logger.Warn(ctx, "cache "+op+" failed",
					observe.F("cache.key", key),
					observe.F("error", err),
				)
			}),
		)
	}
	return c
}

// Wrap binds tool to spec. The returned tool is safe for concurrent use.
func (c *Composer) Wrap(tool Tool, spec Spec) (*GuardedTool, error) {
	if tool == nil {
		return nil, ErrNilTool
	}
	if err := spec.validate(); err != nil {
		return nil, err
	}
	if spec.Cache != nil && c.cacheMW == nil {
		return nil, ErrMissingCache
	}
	if spec.RateLimit != nil && c.deps.Limiter == nil {
		return nil, ErrMissingLimiter
	}

	spec = spec.clone()
	return &GuardedTool{
		inner:    tool,
		spec:     spec,
		composer: c,
		meta: observe.ToolMeta{
			Name:     string(tool.Name()),
			Workflow: spec.Telemetry.Workflow,
			Tags:     spec.Tags,
		},
	}, nil
}

// GuardedTool is a Tool wrapped by a Composer.
type GuardedTool struct {
	inner    Tool
	spec     Spec
	composer *Composer
	meta     observe.ToolMeta
}

func (g *GuardedTool) Name() ToolName               { return g.inner.Name() }
func (g *GuardedTool) Description() string          { return g.inner.Description() }
func (g *GuardedTool) InputSchema() json.RawMessage { return g.inner.InputSchema() }

// Unwrap returns the underlying tool.
func (g *GuardedTool) Unwrap() Tool { return g.inner }

// Execute runs the tool behind its guardrails.
func (g *GuardedTool) Execute(ctx context.Context, params map[string]any, opts CallOptions) (json.RawMessage, error) {
	out, err := g.composer.telemetry.Execute(ctx, g.meta,
		func(ctx context.Context, span *observe.Span) ([]byte, error) {
			return g.execute(ctx, span, params, opts)
		},
		attribute.Bool("tool.has_call_options", !opts.IsZero()),
	)
	if out == nil {
		return nil, err
	}
	return json.RawMessage(out), err
}

func (g *GuardedTool) execute(ctx context.Context, span *observe.Span, params map[string]any, opts CallOptions) ([]byte, error) {
	var identifier string
	if g.spec.RateLimit != nil || (g.spec.Cache != nil && g.spec.Cache.PerCaller) {
		identifier = g.identifier(ctx)
	}

	if g.spec.RateLimit != nil {
		if err := g.checkRateLimit(ctx, span, identifier); err != nil {
			return nil, err
		}
	}

	run := func(ctx context.Context) ([]byte, error) {
		return g.inner.Execute(ctx, params, opts)
	}
	if g.spec.Cache == nil {
		return run(ctx)
	}

	key := g.cacheKey(params, identifier)
	res, err := g.composer.cacheMW.Execute(ctx, string(g.Name()), key, g.spec.Cache.TTL, g.spec.Tags, run)
	span.SetAttributes(attribute.Bool("cache.hit", res.FromCache))
	g.composer.telemetry.Metrics().RecordCacheLookup(ctx, g.meta, res.FromCache)
	return res.Value, err
}

func (g *GuardedTool) identifier(ctx context.Context) string {
	if g.spec.RateLimit != nil && g.spec.RateLimit.Identifier != nil {
		if id := g.spec.RateLimit.Identifier(ctx); id != "" {
			return id
		}
		return AnonymousIdentifier
	}
	return DefaultIdentifier(ctx)
}

func (g *GuardedTool) cacheKey(params map[string]any, identifier string) cache.Key {
	cs := g.spec.Cache
	ns := cs.Namespace
	if cs.PerCaller {
		ns += ":" + identifier
	}
	var input any = params
	if cs.HashInput != nil {
		input = cs.HashInput(params)
	}
	return g.composer.keyer.Key(ns, input)
}

// checkRateLimit consults the limiter under the fail-closed strategy.
func (g *GuardedTool) checkRateLimit(ctx context.Context, span *observe.Span, identifier string) error {
	rl := g.spec.RateLimit
	limiter := g.composer.deps.Limiter

	var out ratelimit.Outcome
	proceed, err := g.composer.limit.Execute(ctx, func(ctx context.Context) error {
		o, err := limiter.Check(ctx, string(g.Name())+":"+identifier, rl.Limit, rl.Window)
		if err == nil {
			out = o
		}
		return err
	})

	if !proceed {
		g.denied(ctx, span)
		g.composer.telemetry.Logger().WithTool(g.meta).Warn(ctx, "rate limiter unavailable, denying call",
			observe.F("error", err),
		)
		denial := agenterr.RateLimited(opExecute, rl.ErrorCode, 0, time.Now())
		denial.Err = err
		return denial
	}
	if !out.Allowed {
		g.denied(ctx, span)
		return agenterr.RateLimited(opExecute, rl.ErrorCode, out.Remaining, out.ResetAt)
	}

	span.SetAttributes(
		attribute.Bool("ratelimit.allowed", true),
		attribute.Int("ratelimit.remaining", out.Remaining),
	)
	return nil
}

func (g *GuardedTool) denied(ctx context.Context, span *observe.Span) {
	span.SetAttributes(attribute.Bool("ratelimit.allowed", false))
	g.composer.telemetry.Metrics().RecordRateLimitDenied(ctx, g.meta)
}

var _ Tool = (*GuardedTool)(nil)
