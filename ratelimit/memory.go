package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryWindow is an in-process sliding-log Service.
type MemoryWindow struct {
	mu   sync.Mutex
	logs map[string][]time.Time
	now  func() time.Time
}

// MemoryOption configures a MemoryWindow.
type MemoryOption func(*MemoryWindow)

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryWindow) {
		m.now = now
	}
}

// NewMemoryWindow creates an empty in-process window.
func NewMemoryWindow(opts ...MemoryOption) *MemoryWindow {
	m := &MemoryWindow{
		logs: make(map[string][]time.Time),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Limit implements Service.
func (m *MemoryWindow) Limit(ctx context.Context, identifier string, limit int, window time.Duration) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	log := trimBefore(m.logs[identifier], now.Add(-window))

	allowed := len(log) < limit
	if allowed {
		log = append(log, now)
	}
	if len(log) == 0 {
		delete(m.logs, identifier)
	} else {
		m.logs[identifier] = log
	}

	reset := now.Add(window)
	if len(log) > 0 {
		reset = log[0].Add(window)
	}
	return Response{
		Success:   allowed,
		Remaining: limit - len(log),
		Reset:     reset,
	}, nil
}

// Len returns the number of identifiers with live entries.
func (m *MemoryWindow) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.logs)
}

// trimBefore drops timestamps at or before cutoff. The log is sorted.
func trimBefore(log []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(log) && !log[i].After(cutoff) {
		i++
	}
	return log[i:]
}

var _ Service = (*MemoryWindow)(nil)
