package resilience

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig configures a RateLimiter.
type RateLimiterConfig struct {
	// Rate is the sustained number of calls per second.
	// Default: 10
	Rate float64

	// Burst is the bucket size.
	// Default: 1
	Burst int

	// WaitOnLimit queues calls for a token instead of rejecting them.
	WaitOnLimit bool

	// MaxWait bounds the queueing time when WaitOnLimit is set.
	// Default: 1s
	MaxWait time.Duration
}

// RateLimiter is a process-local token bucket for outbound calls.
type RateLimiter struct {
	lim     *rate.Limiter
	wait    bool
	maxWait time.Duration
}

// NewRateLimiter creates a RateLimiter with a full bucket.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.Rate <= 0 {
		cfg.Rate = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = time.Second
	}
	return &RateLimiter{
		lim:     rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst),
		wait:    cfg.WaitOnLimit,
		maxWait: cfg.MaxWait,
	}
}

// Allow takes a token if one is available now.
func (r *RateLimiter) Allow() bool {
	return r.lim.Allow()
}

// Wait takes a token, queueing for at most MaxWait. It returns
// ErrRateLimitExceeded when no token arrives in time and ctx's error when
// ctx ends first.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	res := r.lim.Reserve()
	if !res.OK() {
		return ErrRateLimitExceeded
	}
	delay := res.Delay()
	if delay == 0 {
		return nil
	}
	if delay > r.maxWait {
		res.Cancel()
		return ErrRateLimitExceeded
	}
	if err := sleep(ctx, delay); err != nil {
		res.Cancel()
		return err
	}
	return nil
}

// Execute runs op once a token is taken.
func (r *RateLimiter) Execute(ctx context.Context, op func(context.Context) error) error {
	if r.wait {
		if err := r.Wait(ctx); err != nil {
			return err
		}
	} else if !r.Allow() {
		return ErrRateLimitExceeded
	}
	return op(ctx)
}

// Tokens returns the tokens currently in the bucket.
func (r *RateLimiter) Tokens() float64 {
	return r.lim.Tokens()
}
