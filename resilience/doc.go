// Package resilience bounds the infrastructure calls an agent run depends on.
//
// Guardrail checks (cache reads, rate limit lookups, config store reads) go
// through a Strategy, which pairs a per-call budget with a fail mode:
// BestEffort treats a failed call as "proceed" and Strict as "stop".
//
// Calls to external services (the model provider, the config store) go
// through an Executor, which layers the primitives in a fixed order:
//
//	rate limiter -> bulkhead -> circuit breaker -> retry -> per-attempt timeout
//
// The circuit breaker is backed by github.com/sony/gobreaker/v2, the rate
// limiter by golang.org/x/time/rate and the bulkhead by
// golang.org/x/sync/semaphore. All types are safe for concurrent use.
package resilience
