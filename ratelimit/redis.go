package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript trims the window, admits the request if there is room
// and reports {allowed, remaining, resetMillis}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count < limit then
  redis.call('ZADD', key, now, member)
  count = count + 1
  allowed = 1
end
redis.call('PEXPIRE', key, window)

local reset = now + window
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if oldest[2] then
  reset = tonumber(oldest[2]) + window
end
return {allowed, limit - count, reset}
`)

// RedisWindow is a Service backed by a Redis sorted set per identifier.
type RedisWindow struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisWindow creates a RedisWindow whose keys are prefix+identifier.
func NewRedisWindow(client redis.UniversalClient, prefix string) *RedisWindow {
	return &RedisWindow{client: client, prefix: prefix, now: time.Now}
}

// Limit implements Service.
func (r *RedisWindow) Limit(ctx context.Context, identifier string, limit int, window time.Duration) (Response, error) {
	now := r.now().UnixMilli()
	res, err := slidingWindowScript.Run(ctx, r.client,
		[]string{r.prefix + identifier},
		now, window.Milliseconds(), limit, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return Response{}, fmt.Errorf("redis window: %w", err)
	}
	if len(res) != 3 {
		return Response{}, fmt.Errorf("redis window: unexpected reply length %d", len(res))
	}
	return Response{
		Success:   res[0] == 1,
		Remaining: int(res[1]),
		Reset:     time.UnixMilli(res[2]),
	}, nil
}

var _ Service = (*RedisWindow)(nil)
