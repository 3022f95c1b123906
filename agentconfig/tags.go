package agentconfig

import (
	"context"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"
)

// VersionTags tracks the current version tag per (agentType, scope).
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Monotonic: Bump returns a tag strictly greater than any previous one.
//   - Current returns 0 for a pair that was never bumped.
type VersionTags interface {
	Current(ctx context.Context, agentType, scope string) (int64, error)
	Bump(ctx context.Context, agentType, scope string) (int64, error)
}

// MemoryVersionTags is an in-process VersionTags.
type MemoryVersionTags struct {
	mu   sync.Mutex
	tags map[string]int64
}

// NewMemoryVersionTags creates an empty tag set.
func NewMemoryVersionTags() *MemoryVersionTags {
	return &MemoryVersionTags{tags: make(map[string]int64)}
}

// Current implements VersionTags.
func (m *MemoryVersionTags) Current(_ context.Context, agentType, scope string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tags[tagKey(agentType, scope)], nil
}

// Bump implements VersionTags.
func (m *MemoryVersionTags) Bump(_ context.Context, agentType, scope string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := tagKey(agentType, scope)
	m.tags[k]++
	return m.tags[k], nil
}

// RedisVersionTags keeps tags in redis counters.
type RedisVersionTags struct {
	client redis.UniversalClient
}

// NewRedisVersionTags creates redis-backed tags.
func NewRedisVersionTags(client redis.UniversalClient) *RedisVersionTags {
	return &RedisVersionTags{client: client}
}

// Current implements VersionTags.
func (r *RedisVersionTags) Current(ctx context.Context, agentType, scope string) (int64, error) {
	v, err := r.client.Get(ctx, tagKey(agentType, scope)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

// Bump implements VersionTags.
func (r *RedisVersionTags) Bump(ctx context.Context, agentType, scope string) (int64, error) {
	return r.client.Incr(ctx, tagKey(agentType, scope)).Result()
}

func tagKey(agentType, scope string) string {
	return "agent-config-version:" + agentType + ":" + scope
}

var (
	_ VersionTags = (*MemoryVersionTags)(nil)
	_ VersionTags = (*RedisVersionTags)(nil)
)
