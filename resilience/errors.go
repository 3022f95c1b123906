package resilience

import "errors"

var (
	// ErrCircuitOpen reports that the breaker rejected a call without running it.
	ErrCircuitOpen = errors.New("resilience: circuit open")

	// ErrMaxRetriesExceeded wraps the last error once every attempt failed.
	ErrMaxRetriesExceeded = errors.New("resilience: retries exhausted")

	// ErrRateLimitExceeded reports that no token was available in time.
	ErrRateLimitExceeded = errors.New("resilience: rate limit exceeded")

	// ErrBulkheadFull reports that no concurrency slot was free in time.
	ErrBulkheadFull = errors.New("resilience: bulkhead full")

	// ErrTimeout reports that a call outlived its budget.
	ErrTimeout = errors.New("resilience: timed out")
)
