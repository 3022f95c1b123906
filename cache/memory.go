package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryCache is a process-local Cache for tests and single-node
// deployments. Expired entries are dropped lazily on read and when the
// cache is full.
type MemoryCache struct {
	mu       sync.Mutex
	items    map[string]memoryItem
	capacity int
	now      func() time.Time
}

type memoryItem struct {
	data    []byte
	expires time.Time
}

// MemoryOption configures a MemoryCache.
type MemoryOption func(*MemoryCache)

// WithMaxEntries bounds the entry count. A write of a new key into a full
// cache first drops expired entries; if none expired, the entry closest to
// expiry is evicted.
func WithMaxEntries(n int) MemoryOption {
	return func(c *MemoryCache) { c.capacity = n }
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	c := &MemoryCache{items: map[string]memoryItem{}, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.items[key]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(it.expires) {
		delete(c.items, key)
		return nil, false, nil
	}
	return it.data, true, nil
}

// Set stores a private copy of value.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	it := memoryItem{data: append([]byte(nil), value...), expires: c.now().Add(ttl)}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[key]; !exists && c.capacity > 0 && len(c.items) >= c.capacity {
		c.makeRoomLocked()
	}
	c.items[key] = it
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
	return nil
}

// Len returns the entry count, expired entries included.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *MemoryCache) makeRoomLocked() {
	now := c.now()
	var (
		victim   string
		earliest time.Time
	)
	for k, it := range c.items {
		if !now.Before(it.expires) {
			delete(c.items, k)
			continue
		}
		if victim == "" || it.expires.Before(earliest) {
			victim, earliest = k, it.expires
		}
	}
	if len(c.items) >= c.capacity && victim != "" {
		delete(c.items, victim)
	}
}

var _ Cache = (*MemoryCache)(nil)
