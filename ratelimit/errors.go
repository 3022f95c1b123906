package ratelimit

import "errors"

// Sentinel errors for rate limit operations.
var (
	// ErrNilService is returned when a Limiter has no backing service.
	ErrNilService = errors.New("ratelimit: service is nil")

	// ErrInvalidLimit is returned when the limit is not positive.
	ErrInvalidLimit = errors.New("ratelimit: limit must be positive")

	// ErrInvalidWindow is returned when a window cannot be parsed or is not positive.
	ErrInvalidWindow = errors.New("ratelimit: invalid window")

	// ErrEmptyIdentifier is returned when the identifier is blank.
	ErrEmptyIdentifier = errors.New("ratelimit: identifier is empty")
)
