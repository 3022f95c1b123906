package server

import "errors"

var (
	// ErrNilRunner is returned by New when no runner is configured.
	ErrNilRunner = errors.New("server: runner is required")

	// ErrStreamingUnsupported is returned when the response writer cannot flush.
	ErrStreamingUnsupported = errors.New("server: streaming unsupported")
)
