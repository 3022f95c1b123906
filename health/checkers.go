package health

import (
	"context"
	"database/sql"
	"fmt"
	"runtime"

	"github.com/redis/go-redis/v9"

	"github.com/jonwraymond/agentguard/resilience"
)

// RedisChecker pings the redis server backing caches and rate limits.
func RedisChecker(client redis.UniversalClient) Checker {
	return CheckerFunc(func(ctx context.Context) Result {
		if err := client.Ping(ctx).Err(); err != nil {
			return Unhealthy("redis ping failed", err)
		}
		stats := client.PoolStats()
		return Healthy("redis reachable").WithDetails(map[string]any{
			"total_conns": stats.TotalConns,
			"idle_conns":  stats.IdleConns,
			"timeouts":    stats.Timeouts,
		})
	})
}

// SQLChecker pings the agent config database.
func SQLChecker(db *sql.DB) Checker {
	return CheckerFunc(func(ctx context.Context) Result {
		if err := db.PingContext(ctx); err != nil {
			return Unhealthy("database ping failed", err)
		}
		stats := db.Stats()
		return Healthy("database reachable").WithDetails(map[string]any{
			"open_connections": stats.OpenConnections,
			"in_use":           stats.InUse,
			"wait_count":       stats.WaitCount,
		})
	})
}

// CircuitChecker reports a circuit breaker's state. An open circuit is
// unhealthy and a half-open one degraded.
func CircuitChecker(state func() resilience.State) Checker {
	return CheckerFunc(func(context.Context) Result {
		s := state()
		details := map[string]any{"state": s.String()}
		switch s {
		case resilience.StateOpen:
			return Unhealthy("circuit open", resilience.ErrCircuitOpen).WithDetails(details)
		case resilience.StateHalfOpen:
			return Degraded("circuit half-open").WithDetails(details)
		default:
			return Healthy("circuit closed").WithDetails(details)
		}
	})
}

// RuntimeConfig bounds the runtime checker. Zero fields disable their limit.
type RuntimeConfig struct {
	// MaxHeapBytes degrades the service above this heap allocation.
	MaxHeapBytes uint64

	// MaxGoroutines degrades the service above this goroutine count.
	MaxGoroutines int
}

// RuntimeChecker reports heap and goroutine usage. Exceeding a limit is
// reported as degraded, never unhealthy.
func RuntimeChecker(cfg RuntimeConfig) Checker {
	return CheckerFunc(func(context.Context) Result {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		goroutines := runtime.NumGoroutine()

		details := map[string]any{
			"heap_alloc_bytes": m.HeapAlloc,
			"goroutines":       goroutines,
			"num_gc":           m.NumGC,
		}
		switch {
		case cfg.MaxHeapBytes > 0 && m.HeapAlloc > cfg.MaxHeapBytes:
			return Degraded(fmt.Sprintf("heap %d bytes exceeds %d", m.HeapAlloc, cfg.MaxHeapBytes)).WithDetails(details)
		case cfg.MaxGoroutines > 0 && goroutines > cfg.MaxGoroutines:
			return Degraded(fmt.Sprintf("%d goroutines exceeds %d", goroutines, cfg.MaxGoroutines)).WithDetails(details)
		}
		return Healthy("runtime ok").WithDetails(details)
	})
}
