// Package ratelimit adapts sliding-window counting services to a uniform
// per-identifier check.
//
// A [Service] owns the counters. Two implementations are provided:
//
//   - [MemoryWindow]: an in-process sliding log, for single-instance
//     deployments and tests.
//   - [RedisWindow]: a sorted-set sliding window updated by one atomic Lua
//     script, shared by every instance that talks to the same Redis.
//
// [Limiter] parses human window strings such as "1m" or "1 d", validates the
// request and converts the service [Response] into an [Outcome]:
//
//	lim := ratelimit.NewLimiter(ratelimit.NewRedisWindow(client, "rl:"))
//	out, err := lim.Check(ctx, "user-1", 10, "1m")
//	if err == nil && !out.Allowed {
//	    // deny
//	}
//
// The limiter itself never decides what an error means. Callers compose it
// under a fail-closed strategy so that an unreachable store denies.
package ratelimit
