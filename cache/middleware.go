package cache

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/jonwraymond/agentguard/resilience"
)

// ExecutorFunc produces the value to cache on a miss.
type ExecutorFunc func(ctx context.Context) ([]byte, error)

// SkipRule reports whether a tool's results must bypass the cache.
type SkipRule func(name string, tags []string) bool

// SideEffectTags mark tools whose calls change state outside the agent.
// Their results are never replayed from cache unless the policy allows it.
var SideEffectTags = []string{"booking", "payment", "reservation", "cancel", "write", "mutation", "delete", "unsafe"}

// SkipSideEffects is the default SkipRule. It matches SideEffectTags
// case-insensitively.
func SkipSideEffects(_ string, tags []string) bool {
	return slices.ContainsFunc(tags, func(tag string) bool {
		return slices.ContainsFunc(SideEffectTags, func(se string) bool {
			return strings.EqualFold(tag, se)
		})
	})
}

// ErrorHook observes store failures that were swallowed. op is "get" or "set".
type ErrorHook func(ctx context.Context, op string, key string, err error)

// Result is the outcome of a cached execution.
type Result struct {
	Value     []byte
	FromCache bool
	Stored    bool
}

// CacheMiddleware wraps execution with read-through caching.
//
// Contract:
//   - Store reads and writes fail open: a failed or slow lookup is a miss, a
//     failed write still returns the fresh value.
//   - Executor errors are returned unchanged and never cached.
type CacheMiddleware struct {
	cache    Cache
	policy   Policy
	skipRule SkipRule
	read     resilience.Strategy
	write    resilience.Strategy
	onError  ErrorHook
}

// MiddlewareOption configures a CacheMiddleware.
type MiddlewareOption func(*CacheMiddleware)

// WithStoreTimeout sets the per-call budget for store reads and writes.
func WithStoreTimeout(d time.Duration) MiddlewareOption {
	return func(m *CacheMiddleware) {
		m.read = resilience.BestEffort(d)
		m.write = resilience.BestEffort(d)
	}
}

// WithErrorHook registers a hook for swallowed store failures.
func WithErrorHook(h ErrorHook) MiddlewareOption {
	return func(m *CacheMiddleware) {
		m.onError = h
	}
}

// NewCacheMiddleware creates a CacheMiddleware. A nil skipRule means
// SkipSideEffects.
func NewCacheMiddleware(cache Cache, policy Policy, skipRule SkipRule, opts ...MiddlewareOption) *CacheMiddleware {
	if skipRule == nil {
		skipRule = SkipSideEffects
	}
	m := &CacheMiddleware{
		cache:    cache,
		policy:   policy,
		skipRule: skipRule,
		read:     resilience.BestEffort(resilience.DefaultCacheTimeout),
		write:    resilience.BestEffort(resilience.DefaultCacheTimeout),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Policy returns the middleware's caching policy.
func (m *CacheMiddleware) Policy() Policy {
	return m.policy
}

// Execute runs exec with caching under key.
// On hit, returns the cached value without calling exec.
// On miss, calls exec and stores a successful result for ttl (clamped by policy).
func (m *CacheMiddleware) Execute(
	ctx context.Context,
	name string,
	key Key,
	ttl time.Duration,
	tags []string,
	exec ExecutorFunc,
) (Result, error) {
	if m.cache == nil || !m.policy.Enabled() ||
		(!m.policy.CacheSideEffects && m.skipRule(name, tags)) {
		value, err := exec(ctx)
		return Result{Value: value}, err
	}

	storeKey := key.String()
	if err := ValidateKey(storeKey); err != nil {
		value, err := exec(ctx)
		return Result{Value: value}, err
	}

	var (
		cached []byte
		hit    bool
	)
	_, err := m.read.Execute(ctx, func(ctx context.Context) error {
		v, ok, err := m.cache.Get(ctx, storeKey)
		cached, hit = v, ok
		return err
	})
	if err != nil {
		m.report(ctx, "get", storeKey, err)
	} else if hit {
		return Result{Value: cached, FromCache: true}, nil
	}

	value, err := exec(ctx)
	if err != nil {
		return Result{Value: value}, err
	}

	effective := m.policy.TTL(ttl)
	if effective <= 0 {
		return Result{Value: value}, nil
	}
	if _, err := m.write.Execute(ctx, func(ctx context.Context) error {
		return m.cache.Set(ctx, storeKey, value, effective)
	}); err != nil {
		m.report(ctx, "set", storeKey, err)
		return Result{Value: value}, nil
	}

	return Result{Value: value, Stored: true}, nil
}

func (m *CacheMiddleware) report(ctx context.Context, op, key string, err error) {
	if m.onError != nil {
		m.onError(ctx, op, key, err)
	}
}
