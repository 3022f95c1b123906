package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Response is what a counting service reports for one request.
type Response struct {
	Success   bool
	Remaining int
	Reset     time.Time
}

// Service counts requests per identifier over a sliding window.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Atomicity: the check and the increment happen as one step in the store.
// - A denied request does not consume capacity.
// - Errors mean the store failed; Success is meaningless in that case.
type Service interface {
	Limit(ctx context.Context, identifier string, limit int, window time.Duration) (Response, error)
}

// Outcome is the per-call result of a rate limit check.
type Outcome struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter validates requests and delegates counting to a Service.
type Limiter struct {
	svc    Service
	prefix string
}

// LimiterOption configures a Limiter.
type LimiterOption func(*Limiter)

// WithPrefix namespaces every identifier passed to the service.
func WithPrefix(prefix string) LimiterOption {
	return func(l *Limiter) {
		l.prefix = prefix
	}
}

// NewLimiter creates a Limiter backed by svc.
func NewLimiter(svc Service, opts ...LimiterOption) *Limiter {
	l := &Limiter{svc: svc}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check consumes one unit for identifier if it is under limit within window.
func (l *Limiter) Check(ctx context.Context, identifier string, limit int, window string) (Outcome, error) {
	if l == nil || l.svc == nil {
		return Outcome{}, ErrNilService
	}
	if strings.TrimSpace(identifier) == "" {
		return Outcome{}, ErrEmptyIdentifier
	}
	if limit <= 0 {
		return Outcome{}, ErrInvalidLimit
	}
	d, err := ParseWindow(window)
	if err != nil {
		return Outcome{}, err
	}

	resp, err := l.svc.Limit(ctx, l.prefix+identifier, limit, d)
	if err != nil {
		return Outcome{}, fmt.Errorf("ratelimit: limit %q: %w", identifier, err)
	}
	return Outcome{
		Allowed:   resp.Success,
		Remaining: max(resp.Remaining, 0),
		ResetAt:   resp.Reset,
	}, nil
}

// ParseWindow parses a window such as "1m", "30 s", "1h30m" or "1 d".
// Spaces are ignored and a trailing "d" means 24 hours.
func ParseWindow(window string) (time.Duration, error) {
	s := strings.ReplaceAll(strings.TrimSpace(window), " ", "")
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidWindow)
	}

	var d time.Duration
	if n, ok := strings.CutSuffix(s, "d"); ok {
		days, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidWindow, window)
		}
		d = time.Duration(days) * 24 * time.Hour
	} else {
		var err error
		d, err = time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidWindow, window)
		}
	}

	if d <= 0 {
		return 0, fmt.Errorf("%w: %q must be positive", ErrInvalidWindow, window)
	}
	return d, nil
}
