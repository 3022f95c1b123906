package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// ExecuteFunc is a tool call instrumented by Middleware. The span lets the
// call annotate itself (e.g. cache.hit).
type ExecuteFunc func(ctx context.Context, span *Span) ([]byte, error)

// Middleware wraps tool calls with tracing, metrics and logging.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Errors: errors from the wrapped call are recorded and returned unchanged.
//     Telemetry failures are swallowed.
type Middleware struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
}

// NewMiddleware creates a Middleware. Nil components become no-ops.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger) *Middleware {
	if tracer == nil {
		tracer = NoopTracer()
	}
	if logger == nil {
		logger = NopLogger()
	}
	return &Middleware{
		tracer:  tracer,
		metrics: SafeMetrics(metrics),
		logger:  logger,
	}
}

// MiddlewareFromObserver creates a Middleware from an Observer.
func MiddlewareFromObserver(obs Observer) *Middleware {
	return NewMiddleware(obs.Tracer(), obs.Metrics(), obs.Logger())
}

// Tracer returns the middleware's tracer.
func (m *Middleware) Tracer() Tracer { return m.tracer }

// Metrics returns the middleware's panic-safe metrics.
func (m *Middleware) Metrics() Metrics { return m.metrics }

// Logger returns the middleware's logger.
func (m *Middleware) Logger() Logger { return m.logger }

// Execute runs fn inside an agent.tool.execute span carrying meta's
// attributes plus attrs. The span is ended even when fn panics; the panic
// is recorded as ErrToolPanicked and propagates.
func (m *Middleware) Execute(ctx context.Context, meta ToolMeta, fn ExecuteFunc, attrs ...attribute.KeyValue) ([]byte, error) {
	all := append(meta.Attributes(), attrs...)
	ctx, span := StartSpan(ctx, m.tracer, SpanToolExecute, all...)
	returned := false
	defer func() {
		if !returned {
			span.End(ErrToolPanicked)
		}
	}()

	start := time.Now()
	out, err := fn(ctx, span)
	returned = true
	duration := time.Since(start)

	span.End(err)
	m.metrics.RecordExecution(ctx, meta, duration, err)

	log := m.logger.WithTool(meta)
	fields := []Field{F("duration_ms", float64(duration.Microseconds())/1000)}
	if err != nil {
		log.Warn(ctx, "tool execution failed", append(fields, F("error", err))...)
	} else {
		log.Debug(ctx, "tool execution completed", fields...)
	}

	return out, err
}
