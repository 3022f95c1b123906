package resilience

import (
	"context"
	"time"
)

// Executor composes the primitives around a call. From the outside in:
// rate limiter, bulkhead, circuit breaker, retry, per-attempt timeout.
// Unset layers are skipped.
type Executor struct {
	limiter  *RateLimiter
	bulkhead *Bulkhead
	circuit  *CircuitBreaker
	retry    *Retry
	timeout  *Timeout
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithRateLimiter adds the outermost layer.
func WithRateLimiter(r *RateLimiter) ExecutorOption {
	return func(e *Executor) { e.limiter = r }
}

// WithBulkhead caps concurrent calls.
func WithBulkhead(b *Bulkhead) ExecutorOption {
	return func(e *Executor) { e.bulkhead = b }
}

// WithCircuitBreaker counts each retried call once.
func WithCircuitBreaker(c *CircuitBreaker) ExecutorOption {
	return func(e *Executor) { e.circuit = c }
}

// WithRetry repeats failed attempts.
func WithRetry(r *Retry) ExecutorOption {
	return func(e *Executor) { e.retry = r }
}

// WithTimeout bounds each attempt. A non-positive d leaves attempts unbounded.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = NewTimeout(TimeoutConfig{Timeout: d})
		} else {
			e.timeout = nil
		}
	}
}

// NewExecutor creates an Executor.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type layer interface {
	Execute(ctx context.Context, op func(context.Context) error) error
}

// Execute runs op through every configured layer.
func (e *Executor) Execute(ctx context.Context, op func(context.Context) error) error {
	// Innermost first.
	var layers []layer
	if e.timeout != nil {
		layers = append(layers, e.timeout)
	}
	if e.retry != nil {
		layers = append(layers, e.retry)
	}
	if e.circuit != nil {
		layers = append(layers, e.circuit)
	}
	if e.bulkhead != nil {
		layers = append(layers, e.bulkhead)
	}
	if e.limiter != nil {
		layers = append(layers, e.limiter)
	}

	call := op
	for _, l := range layers {
		inner := call
		call = func(ctx context.Context) error { return l.Execute(ctx, inner) }
	}
	return call(ctx)
}
