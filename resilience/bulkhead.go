package resilience

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// BulkheadConfig configures a Bulkhead.
type BulkheadConfig struct {
	// MaxConcurrent is the number of slots.
	// Default: 10
	MaxConcurrent int

	// MaxWait bounds the queueing time for a slot. Zero rejects immediately.
	MaxWait time.Duration
}

// BulkheadMetrics is a snapshot of bulkhead counters.
type BulkheadMetrics struct {
	Active        int64
	Peak          int64
	MaxConcurrent int
	Rejected      int64
}

// Bulkhead caps the number of concurrent calls.
type Bulkhead struct {
	sem     *semaphore.Weighted
	size    int
	maxWait time.Duration

	active   atomic.Int64
	peak     atomic.Int64
	rejected atomic.Int64
}

// NewBulkhead creates a Bulkhead.
func NewBulkhead(cfg BulkheadConfig) *Bulkhead {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 10
	}
	return &Bulkhead{
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		size:    cfg.MaxConcurrent,
		maxWait: cfg.MaxWait,
	}
}

// Acquire takes a slot. It returns ErrBulkheadFull when none frees up within
// MaxWait and ctx's error when ctx ends first. Every successful Acquire must
// be paired with Release.
func (b *Bulkhead) Acquire(ctx context.Context) error {
	if b.sem.TryAcquire(1) {
		b.enter()
		return nil
	}
	if b.maxWait <= 0 {
		b.rejected.Add(1)
		return ErrBulkheadFull
	}

	waitCtx, cancel := context.WithTimeout(ctx, b.maxWait)
	defer cancel()
	if err := b.sem.Acquire(waitCtx, 1); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		b.rejected.Add(1)
		return ErrBulkheadFull
	}
	b.enter()
	return nil
}

// Release returns a slot taken by Acquire.
func (b *Bulkhead) Release() {
	b.active.Add(-1)
	b.sem.Release(1)
}

// Execute runs op inside a slot.
func (b *Bulkhead) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := b.Acquire(ctx); err != nil {
		return err
	}
	defer b.Release()
	return op(ctx)
}

// Metrics returns the current counters.
func (b *Bulkhead) Metrics() BulkheadMetrics {
	return BulkheadMetrics{
		Active:        b.active.Load(),
		Peak:          b.peak.Load(),
		MaxConcurrent: b.size,
		Rejected:      b.rejected.Load(),
	}
}

func (b *Bulkhead) enter() {
	n := b.active.Add(1)
	for {
		p := b.peak.Load()
		if n <= p || b.peak.CompareAndSwap(p, n) {
			return
		}
	}
}
