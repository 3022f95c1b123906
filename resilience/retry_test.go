package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errStoreUnavailable = errors.New("config store unavailable")

func fastRetry(cfg RetryConfig) *Retry {
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 2 * time.Millisecond
	return NewRetry(cfg)
}

func TestNewRetry_Defaults(t *testing.T) {
	r := NewRetry(RetryConfig{})
	if r.MaxAttempts() != 3 {
		t.Errorf("MaxAttempts() = %d, want 3", r.MaxAttempts())
	}
	if r.cfg.InitialDelay != 100*time.Millisecond || r.cfg.MaxDelay != 10*time.Second || r.cfg.Multiplier != 2 {
		t.Errorf("unexpected defaults: %+v", r.cfg)
	}
}

func TestRetry_RecoversFromTransientFailure(t *testing.T) {
	r := fastRetry(RetryConfig{MaxAttempts: 3})

	calls := 0
	err := r.Execute(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errStoreUnavailable
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetry_ExhaustedWrapsLastError(t *testing.T) {
	r := fastRetry(RetryConfig{MaxAttempts: 2})

	calls := 0
	err := r.Execute(context.Background(), func(context.Context) error {
		calls++
		return errStoreUnavailable
	})
	if !errors.Is(err, ErrMaxRetriesExceeded) || !errors.Is(err, errStoreUnavailable) {
		t.Errorf("Execute() error = %v, want both ErrMaxRetriesExceeded and the cause", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestRetry_StopsOnNonRetryableError(t *testing.T) {
	notFound := errors.New("config not found")
	r := fastRetry(RetryConfig{
		MaxAttempts: 5,
		RetryIf:     func(err error) bool { return !errors.Is(err, notFound) },
	})

	calls := 0
	err := r.Execute(context.Background(), func(context.Context) error {
		calls++
		return notFound
	})
	if err != notFound {
		t.Errorf("Execute() error = %v, want the unwrapped cause", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetry_OnRetryReportsBackoff(t *testing.T) {
	var delays []time.Duration
	r := NewRetry(RetryConfig{
		MaxAttempts:  4,
		InitialDelay: time.Millisecond,
		MaxDelay:     3 * time.Millisecond,
		OnRetry: func(_ int, _ error, d time.Duration) {
			delays = append(delays, d)
		},
	})

	_ = r.Execute(context.Background(), func(context.Context) error { return errStoreUnavailable })

	want := []time.Duration{time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delays[%d] = %v, want %v", i, delays[i], want[i])
		}
	}
}

func TestRetry_JitterStaysWithinBounds(t *testing.T) {
	r := NewRetry(RetryConfig{InitialDelay: 100 * time.Millisecond, Jitter: true})
	for range 100 {
		d := r.pause(100 * time.Millisecond)
		if d < 50*time.Millisecond || d > 100*time.Millisecond {
			t.Fatalf("pause = %v, want within [50ms, 100ms]", d)
		}
	}
}

func TestRetry_ContextCancelledDuringBackoff(t *testing.T) {
	r := NewRetry(RetryConfig{MaxAttempts: 3, InitialDelay: time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	calls := 0
	err := r.Execute(ctx, func(context.Context) error {
		calls++
		return errStoreUnavailable
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Execute() error = %v, want context.DeadlineExceeded", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
