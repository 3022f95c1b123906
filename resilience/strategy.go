package resilience

import (
	"context"
	"time"
)

// FailMode decides how a guarded infrastructure call behaves when it fails.
type FailMode int

const (
	// FailOpen proceeds as if the guarded check passed (e.g. a cache miss).
	FailOpen FailMode = iota
	// FailClosed proceeds as if the guarded check failed (e.g. rate limited).
	FailClosed
)

// String returns the string representation of the mode.
func (m FailMode) String() string {
	if m == FailClosed {
		return "fail-closed"
	}
	return "fail-open"
}

// Strategy bounds a single external call with a timeout and a fail mode.
// The same underlying call can be composed under either strategy.
type Strategy struct {
	mode    FailMode
	timeout *Timeout
}

// Default per-call budgets for guardrail infrastructure.
const (
	DefaultCacheTimeout   = 150 * time.Millisecond
	DefaultLimiterTimeout = 200 * time.Millisecond
	DefaultStoreTimeout   = 500 * time.Millisecond
)

// BestEffort returns a fail-open strategy.
func BestEffort(timeout time.Duration) Strategy {
	return Strategy{mode: FailOpen, timeout: NewTimeout(TimeoutConfig{Timeout: timeout})}
}

// Strict returns a fail-closed strategy.
func Strict(timeout time.Duration) Strategy {
	return Strategy{mode: FailClosed, timeout: NewTimeout(TimeoutConfig{Timeout: timeout})}
}

// Mode returns the strategy's fail mode.
func (s Strategy) Mode() FailMode {
	return s.mode
}

// Execute runs op within the strategy's timeout.
//
// proceed is true when op succeeded. When op fails or times out, err carries
// the failure and proceed follows the fail mode: true for FailOpen, false for
// FailClosed. Values written by op must only be read when err is nil.
func (s Strategy) Execute(ctx context.Context, op func(context.Context) error) (proceed bool, err error) {
	t := s.timeout
	if t == nil {
		t = NewTimeout(TimeoutConfig{})
	}
	if err := t.Execute(ctx, op); err != nil {
		return s.mode == FailOpen, err
	}
	return true, nil
}
