package resilience

import (
	"context"
	"errors"
	"time"
)

// DefaultTimeout is the budget used when TimeoutConfig.Timeout is unset.
const DefaultTimeout = 30 * time.Second

// TimeoutConfig configures a Timeout.
type TimeoutConfig struct {
	// Timeout bounds a single call.
	// Default: DefaultTimeout
	Timeout time.Duration
}

// Timeout bounds calls to a fixed budget.
//
// The call runs on its own goroutine, so Execute returns at the deadline even
// when op ignores its context. Such an op keeps running in the background
// until it returns.
type Timeout struct {
	budget time.Duration
}

// NewTimeout creates a Timeout.
func NewTimeout(cfg TimeoutConfig) *Timeout {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Timeout{budget: cfg.Timeout}
}

// Budget returns the configured duration.
func (t *Timeout) Budget() time.Duration {
	return t.budget
}

// Execute runs op under the budget. It returns ErrTimeout when the budget
// expires first and the parent's error when ctx ends first.
func (t *Timeout) Execute(ctx context.Context, op func(context.Context) error) error {
	callCtx, cancel := context.WithTimeoutCause(ctx, t.budget, ErrTimeout)
	defer cancel()

	result := make(chan error, 1)
	go func() { result <- op(callCtx) }()

	select {
	case err := <-result:
		if err != nil && errors.Is(context.Cause(callCtx), ErrTimeout) && errors.Is(err, context.DeadlineExceeded) {
			return ErrTimeout
		}
		return err
	case <-callCtx.Done():
		if err := ctx.Err(); err != nil {
			return err
		}
		return ErrTimeout
	}
}
