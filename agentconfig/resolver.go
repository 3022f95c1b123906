package agentconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/agentguard/agenterr"
	"github.com/jonwraymond/agentguard/cache"
	"github.com/jonwraymond/agentguard/observe"
	"github.com/jonwraymond/agentguard/resilience"
)

const (
	opResolve = "agentconfig.resolve"

	// SpanResolve names the resolution span.
	SpanResolve = "agent.config.resolve"

	// AlertValidationFailed is raised once per rejected record.
	AlertValidationFailed = "agent_config_validation_failed"

	// EventValidationFailed is recorded on the resolution span.
	EventValidationFailed = "config.validation_failed"

	// DefaultTTL bounds how long a resolved config stays cached.
	DefaultTTL = 5 * time.Minute
)

// Options configures a Resolver.
type Options struct {
	// Store supplies records. Required.
	Store Store

	// Validator checks fetched records. Required.
	Validator *Validator

	// Tags supplies version tags. Default: a MemoryVersionTags.
	Tags VersionTags

	// Cache holds resolved configs. Nil disables caching.
	Cache cache.Cache

	// Scope is the resolved scope. Default: GlobalScope
	Scope string

	// TTL of cached configs, clamped by CachePolicy.
	// Default: DefaultTTL
	TTL time.Duration

	// CachePolicy bounds TTL. The zero value means cache.DefaultPolicy().
	CachePolicy cache.Policy

	// CacheTimeout bounds tag reads and cache reads and writes.
	// Default: resilience.DefaultCacheTimeout
	CacheTimeout time.Duration

	// StoreTimeout bounds each store attempt.
	// Default: resilience.DefaultStoreTimeout
	StoreTimeout time.Duration

	// StoreRetry retries transient store failures.
	// Default: 3 attempts, 50ms initial backoff.
	StoreRetry *resilience.Retry

	Alerter observe.Alerter
	Tracer  observe.Tracer
	Metrics observe.Metrics
	Logger  observe.Logger
}

// Resolver resolves agent configuration. It is safe for concurrent use.
type Resolver struct {
	opts      Options
	cacheOps  resilience.Strategy
	storeExec *resilience.Executor
	group     singleflight.Group
}

// NewResolver creates a Resolver, applying defaults to opts.
func NewResolver(opts Options) (*Resolver, error) {
	if opts.Store == nil {
		return nil, ErrNilStore
	}
	if opts.Validator == nil {
		return nil, ErrNilValidator
	}
	if opts.Tags == nil {
		opts.Tags = NewMemoryVersionTags()
	}
	if opts.Scope == "" {
		opts.Scope = GlobalScope
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.CachePolicy == (cache.Policy{}) {
		opts.CachePolicy = cache.DefaultPolicy()
	}
	if err := opts.CachePolicy.Validate(); err != nil {
		return nil, err
	}
	if opts.CacheTimeout <= 0 {
		opts.CacheTimeout = resilience.DefaultCacheTimeout
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = resilience.DefaultStoreTimeout
	}
	if opts.Logger == nil {
		opts.Logger = observe.NopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = observe.NoopMetrics()
	}
	if opts.Tracer == nil {
		opts.Tracer = observe.NoopTracer()
	}
	if opts.Alerter == nil {
		opts.Alerter = observe.NewLogAlerter(opts.Logger, opts.Metrics)
	}
	if opts.StoreRetry == nil {
		opts.StoreRetry = resilience.NewRetry(resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 50 * time.Millisecond,
			MaxDelay:     500 * time.Millisecond,
			Jitter:       true,
			RetryIf:      retryableStoreError,
		})
	}

	return &Resolver{
		opts:     opts,
		cacheOps: resilience.BestEffort(opts.CacheTimeout),
		storeExec: resilience.NewExecutor(
			resilience.WithRetry(opts.StoreRetry),
			resilience.WithTimeout(opts.StoreTimeout),
		),
	}, nil
}

// CacheKey returns the versioned cache key for a resolution.
func CacheKey(agentType, scope string, tag int64) string {
	return fmt.Sprintf("agent-config:%s:%s:v%d", agentType, scope, tag)
}

// Resolve returns the current configuration for agentType.
//
// Cache hits are trusted without re-validation. On a miss the latest record
// is read from the store and validated; a rejected record raises
// AlertValidationFailed once and resolves to a ConfigValidationFailed error.
// When the tag service fails the cache is bypassed for this call.
func (r *Resolver) Resolve(ctx context.Context, agentType string) (res Resolved, err error) {
	if strings.TrimSpace(agentType) == "" {
		return Resolved{}, agenterr.New(agenterr.KindValidation, opResolve, ErrEmptyAgentType)
	}
	scope := r.opts.Scope

	ctx, span := observe.StartSpan(ctx, r.opts.Tracer, SpanResolve,
		observe.Attr("agent.type", agentType),
		observe.Attr("config.scope", scope),
	)
	defer func() { span.End(err) }()

	key, cacheable := r.versionedKey(ctx, agentType, scope)
	if cacheable {
		if hit, ok := r.lookup(ctx, key); ok {
			span.SetAttributes(observe.Attr("cache.hit", true), observe.Attr("config.version_id", hit.VersionID))
			return hit, nil
		}
	}
	span.SetAttributes(observe.Attr("cache.hit", false))

	flightKey := key
	if !cacheable {
		flightKey = "uncached:" + agentType + ":" + scope
	}
	v, err, _ := r.group.Do(flightKey, func() (any, error) {
		return r.load(context.WithoutCancel(ctx), span, agentType, scope, key, cacheable)
	})
	if err != nil {
		return Resolved{}, err
	}
	res = v.(Resolved)
	span.SetAttributes(observe.Attr("config.version_id", res.VersionID))
	return res, nil
}

func (r *Resolver) versionedKey(ctx context.Context, agentType, scope string) (string, bool) {
	if r.opts.Cache == nil {
		return "", false
	}
	var (
		mu  sync.Mutex
		tag int64
	)
	_, err := r.cacheOps.Execute(ctx, func(ctx context.Context) error {
		t, err := r.opts.Tags.Current(ctx, agentType, scope)
		if err != nil {
			return err
		}
		mu.Lock()
		tag = t
		mu.Unlock()
		return nil
	})
	if err != nil {
		r.opts.Logger.Warn(ctx, "version tag unavailable, bypassing config cache",
			observe.F("agent_type", agentType),
			observe.F("error", err),
		)
		return "", false
	}
	mu.Lock()
	defer mu.Unlock()
	return CacheKey(agentType, scope, tag), true
}

func (r *Resolver) lookup(ctx context.Context, key string) (Resolved, bool) {
	var (
		mu  sync.Mutex
		raw []byte
		hit bool
	)
	_, err := r.cacheOps.Execute(ctx, func(ctx context.Context) error {
		b, ok, err := r.opts.Cache.Get(ctx, key)
		if err != nil {
			return err
		}
		mu.Lock()
		raw, hit = b, ok
		mu.Unlock()
		return nil
	})
	if err != nil {
		r.opts.Logger.Warn(ctx, "config cache get failed", observe.F("cache.key", key), observe.F("error", err))
		return Resolved{}, false
	}
	mu.Lock()
	defer mu.Unlock()
	if !hit {
		return Resolved{}, false
	}
	var res Resolved
	if err := json.Unmarshal(raw, &res); err != nil {
		r.opts.Logger.Warn(ctx, "config cache entry undecodable", observe.F("cache.key", key), observe.F("error", err))
		return Resolved{}, false
	}
	return res, true
}

func (r *Resolver) load(ctx context.Context, span *observe.Span, agentType, scope, key string, cacheable bool) (Resolved, error) {
	rec, err := r.fetch(ctx, agentType, scope)
	if err != nil {
		if errors.Is(err, ErrConfigNotFound) {
			return Resolved{}, err
		}
		return Resolved{}, classifyStoreError(err)
	}

	if err := r.opts.Validator.Validate(rec.Model, rec.Parameters); err != nil {
		r.reject(ctx, span, rec, err)
		return Resolved{}, agenterr.ConfigInvalid(opResolve, agentType, rec.VersionID, err)
	}

	res, err := rec.decode()
	if err != nil {
		r.reject(ctx, span, rec, err)
		return Resolved{}, agenterr.ConfigInvalid(opResolve, agentType, rec.VersionID, err)
	}

	if cacheable {
		r.remember(ctx, key, res)
	}
	return res, nil
}

// fetch reads the latest record under the store executor. A missing row
// ends the attempt loop whatever retry policy was configured.
func (r *Resolver) fetch(ctx context.Context, agentType, scope string) (StoredRecord, error) {
	var (
		mu      sync.Mutex
		out     StoredRecord
		missing error
	)
	err := r.storeExec.Execute(ctx, func(ctx context.Context) error {
		rec, err := r.opts.Store.Latest(ctx, agentType, scope)
		if errors.Is(err, ErrConfigNotFound) {
			mu.Lock()
			missing = err
			mu.Unlock()
			return nil
		}
		if err != nil {
			return err
		}
		mu.Lock()
		out = rec
		mu.Unlock()
		return nil
	})
	if err != nil {
		return StoredRecord{}, err
	}
	mu.Lock()
	defer mu.Unlock()
	if missing != nil {
		return StoredRecord{}, missing
	}
	return out, nil
}

func (r *Resolver) reject(ctx context.Context, span *observe.Span, rec StoredRecord, cause error) {
	attrs := map[string]any{
		"agent_type": rec.AgentType,
		"scope":      rec.Scope,
		"version_id": rec.VersionID,
		"reason":     cause.Error(),
	}
	span.AddEvent(EventValidationFailed, observe.Attrs(attrs)...)
	r.opts.Logger.Error(ctx, "agent config failed validation",
		observe.F("agent_type", rec.AgentType),
		observe.F("version_id", rec.VersionID),
		observe.F("error", cause),
	)
	r.opts.Alerter.Alert(ctx, AlertValidationFailed, attrs)
}

func (r *Resolver) remember(ctx context.Context, key string, res Resolved) {
	b, err := json.Marshal(res)
	if err != nil {
		return
	}
	ttl := r.opts.CachePolicy.TTL(r.opts.TTL)
	_, err = r.cacheOps.Execute(ctx, func(ctx context.Context) error {
		return r.opts.Cache.Set(ctx, key, b, ttl)
	})
	if err != nil {
		r.opts.Logger.Warn(ctx, "config cache set failed", observe.F("cache.key", key), observe.F("error", err))
	}
}

func retryableStoreError(err error) bool {
	return err != nil &&
		!errors.Is(err, ErrConfigNotFound) &&
		!errors.Is(err, context.Canceled)
}

func classifyStoreError(err error) error {
	if errors.Is(err, resilience.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return agenterr.New(agenterr.KindTimeout, opResolve, err)
	}
	return agenterr.New(agenterr.KindUnknown, opResolve, err)
}
