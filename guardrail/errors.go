package guardrail

import "errors"

// Sentinel errors returned by Wrap.
var (
	// ErrNilTool is returned when Wrap is given a nil tool.
	ErrNilTool = errors.New("guardrail: tool is nil")

	// ErrMissingNamespace is returned when a cache spec has no namespace.
	ErrMissingNamespace = errors.New("guardrail: cache namespace is required")

	// ErrMissingCache is returned when a cache spec is set but the composer
	// has no cache store.
	ErrMissingCache = errors.New("guardrail: cache spec requires a cache store")

	// ErrMissingLimiter is returned when a rate limit spec is set but the
	// composer has no limiter.
	ErrMissingLimiter = errors.New("guardrail: rate limit spec requires a limiter")

	// ErrInvalidLimit is returned when a rate limit spec has a non-positive limit.
	ErrInvalidLimit = errors.New("guardrail: rate limit must be positive")
)
