// Package health reports the readiness of agentguard's dependencies.
//
// Checkers probe one dependency each: redis, the config database, the model
// provider's circuit breaker and the Go runtime. An Aggregator runs them in
// parallel under a deadline. A failing critical checker makes the service
// unhealthy; a failing non-critical one only degrades it, matching the
// fail-open treatment of caches.
//
// Mount exposes /healthz (liveness), /readyz (readiness) and /health
// (per-check JSON).
package health
