package resilience

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// RetryConfig configures a Retry.
type RetryConfig struct {
	// MaxAttempts counts the first call.
	// Default: 3
	MaxAttempts int

	// InitialDelay is the pause before the second attempt.
	// Default: 100ms
	InitialDelay time.Duration

	// MaxDelay caps any single pause.
	// Default: 10s
	MaxDelay time.Duration

	// Multiplier grows the pause after each attempt. 1 keeps it constant.
	// Default: 2
	Multiplier float64

	// Jitter randomizes each pause within [d/2, d].
	Jitter bool

	// RetryIf reports whether err is worth another attempt.
	// Default: every non-nil error.
	RetryIf func(err error) bool

	// OnRetry observes each scheduled retry. attempt is the attempt that failed.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Retry repeats failed calls with capped backoff.
type Retry struct {
	cfg RetryConfig
}

// NewRetry creates a Retry.
func NewRetry(cfg RetryConfig) *Retry {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 10 * time.Second
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = cfg.InitialDelay
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 2
	}
	if cfg.RetryIf == nil {
		cfg.RetryIf = func(err error) bool { return err != nil }
	}
	return &Retry{cfg: cfg}
}

// MaxAttempts returns the attempt ceiling.
func (r *Retry) MaxAttempts() int {
	return r.cfg.MaxAttempts
}

// Execute calls op until it succeeds, fails with a non-retryable error, or
// runs out of attempts. In the last case the error wraps both
// ErrMaxRetriesExceeded and op's final error.
func (r *Retry) Execute(ctx context.Context, op func(context.Context) error) error {
	delay := r.cfg.InitialDelay
	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil || !r.cfg.RetryIf(err) {
			return err
		}
		if attempt >= r.cfg.MaxAttempts {
			return fmt.Errorf("%w after %d attempts: %w", ErrMaxRetriesExceeded, attempt, err)
		}

		wait := r.pause(delay)
		if r.cfg.OnRetry != nil {
			r.cfg.OnRetry(attempt, err, wait)
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
		delay = min(time.Duration(float64(delay)*r.cfg.Multiplier), r.cfg.MaxDelay)
	}
}

func (r *Retry) pause(d time.Duration) time.Duration {
	if !r.cfg.Jitter || d < 2 {
		return d
	}
	half := d / 2
	// #nosec G404 -- backoff spread, not a secret.
	return half + rand.N(half+1)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
