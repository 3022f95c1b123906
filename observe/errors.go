package observe

import "errors"

var (
	ErrMissingServiceName     = errors.New("observe: missing service name")
	ErrInvalidSamplePct       = errors.New("observe: trace sample ratio outside [0, 1]")
	ErrInvalidTracingExporter = errors.New("observe: unsupported trace exporter")
	ErrInvalidMetricsExporter = errors.New("observe: unsupported metrics exporter")
	ErrInvalidLogLevel        = errors.New("observe: unsupported log level")

	// ErrMissingToolName is returned by ToolMeta.Validate.
	ErrMissingToolName = errors.New("observe: missing tool name")

	// ErrToolPanicked is recorded on the span of a tool that panicked.
	ErrToolPanicked = errors.New("observe: tool panicked")
)
