package health

import (
	"context"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultTimeout bounds a full CheckAll.
const DefaultTimeout = 5 * time.Second

type entry struct {
	name     string
	checker  Checker
	critical bool
}

// RegisterOption configures a registered checker.
type RegisterOption func(*entry)

// NonCritical downgrades the checker's unhealthy results to degraded in
// OverallStatus.
func NonCritical() RegisterOption {
	return func(e *entry) { e.critical = false }
}

// Aggregator runs registered checkers. It is safe for concurrent use.
type Aggregator struct {
	timeout time.Duration

	mu      sync.RWMutex
	entries []entry
}

// NewAggregator creates an aggregator. A non-positive timeout means
// DefaultTimeout.
func NewAggregator(timeout time.Duration) *Aggregator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Aggregator{timeout: timeout}
}

// Register adds or replaces a checker. Checkers are critical unless
// NonCritical is given.
func (a *Aggregator) Register(name string, c Checker, opts ...RegisterOption) {
	e := entry{name: name, checker: c, critical: true}
	for _, opt := range opts {
		opt(&e)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if i := slices.IndexFunc(a.entries, func(x entry) bool { return x.name == name }); i >= 0 {
		a.entries[i] = e
		return
	}
	a.entries = append(a.entries, e)
}

// Names returns checker names in registration order.
func (a *Aggregator) Names() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, len(a.entries))
	for i, e := range a.entries {
		out[i] = e.name
	}
	return out
}

// Report is the outcome of CheckAll.
type Report struct {
	Status  Status
	Results map[string]Result
}

// Check runs a single named checker.
func (a *Aggregator) Check(ctx context.Context, name string) (Result, error) {
	a.mu.RLock()
	i := slices.IndexFunc(a.entries, func(x entry) bool { return x.name == name })
	var e entry
	if i >= 0 {
		e = a.entries[i]
	}
	a.mu.RUnlock()
	if i < 0 {
		return Result{}, ErrCheckerNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return run(ctx, e.checker), nil
}

// CheckAll runs every checker in parallel.
func (a *Aggregator) CheckAll(ctx context.Context) Report {
	a.mu.RLock()
	entries := slices.Clone(a.entries)
	a.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	results := make([]Result, len(entries))
	var g errgroup.Group
	for i, e := range entries {
		g.Go(func() error {
			results[i] = run(ctx, e.checker)
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Status: StatusHealthy, Results: make(map[string]Result, len(entries))}
	for i, e := range entries {
		r := results[i]
		report.Results[e.name] = r

		status := r.Status
		if status == StatusUnhealthy && !e.critical {
			status = StatusDegraded
		}
		report.Status = max(report.Status, status)
	}
	return report
}

// run executes c, abandoning it when ctx ends first.
func run(ctx context.Context, c Checker) Result {
	start := time.Now()
	done := make(chan Result, 1)
	go func() {
		done <- c.Check(ctx)
	}()

	var r Result
	select {
	case r = <-done:
	case <-ctx.Done():
		r = Unhealthy("check timed out", ErrCheckTimeout)
	}
	r.Duration = time.Since(start)
	if r.Timestamp.IsZero() {
		r.Timestamp = start
	}
	return r
}
