package observe

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// SpanToolExecute is the span name for every guarded tool call.
const SpanToolExecute = "agent.tool.execute"

// ToolMeta identifies a tool for telemetry purposes.
type ToolMeta struct {
	Name     string   // Tool name (required)
	Workflow string   // Agent workflow the tool runs in (optional)
	Version  string   // Tool version (optional)
	Tags     []string // Tool tags (optional)
}

// Validate checks the required fields.
func (m ToolMeta) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return ErrMissingToolName
	}
	return nil
}

// Attributes returns the span attributes describing the tool.
func (m ToolMeta) Attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String("tool.name", m.Name)}
	if m.Workflow != "" {
		attrs = append(attrs, attribute.String("agent.workflow", m.Workflow))
	}
	if m.Version != "" {
		attrs = append(attrs, attribute.String("tool.version", m.Version))
	}
	if len(m.Tags) > 0 {
		attrs = append(attrs, attribute.StringSlice("tool.tags", m.Tags))
	}
	return attrs
}

// Tracer starts and ends spans.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Errors: EndSpan must be best-effort. Callers go through StartSpan and
//     Span, which recover from implementation panics.
type Tracer interface {
	StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span)
	EndSpan(span trace.Span, err error)
}

type tracerImpl struct {
	tracer trace.Tracer
}

// NewTracer wraps an OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	if t == nil {
		return NoopTracer()
	}
	return &tracerImpl{tracer: t}
}

func (t *tracerImpl) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpan ends the span and records the error status if present.
func (t *tracerImpl) EndSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("error", true))
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// NoopTracer returns a tracer that records nothing.
func NoopTracer() Tracer {
	return &tracerImpl{tracer: tracenoop.NewTracerProvider().Tracer("noop")}
}

// Span is a failure-safe handle on a started span. A nil *Span is valid and
// records nothing.
type Span struct {
	tracer Tracer
	span   trace.Span
	ended  bool
}

// StartSpan starts a span through t. A nil tracer or a panic inside the
// tracer yields an inert Span and the original context.
func StartSpan(ctx context.Context, t Tracer, name string, attrs ...attribute.KeyValue) (context.Context, *Span) {
	s := &Span{tracer: t}
	if t == nil {
		return ctx, s
	}

	next := ctx
	func() {
		defer recoverTelemetry()
		c, sp := t.StartSpan(ctx, name, attrs...)
		if c != nil {
			next = c
		}
		s.span = sp
	}()
	return next, s
}

// SetAttributes adds attributes to the span.
func (s *Span) SetAttributes(attrs ...attribute.KeyValue) {
	if s == nil || s.span == nil {
		return
	}
	defer recoverTelemetry()
	s.span.SetAttributes(attrs...)
}

// AddEvent records a named event on the span.
func (s *Span) AddEvent(name string, attrs ...attribute.KeyValue) {
	if s == nil || s.span == nil {
		return
	}
	defer recoverTelemetry()
	s.span.AddEvent(name, trace.WithAttributes(attrs...))
}

// End ends the span once, recording err if non-nil.
func (s *Span) End(err error) {
	if s == nil || s.span == nil || s.ended {
		return
	}
	s.ended = true
	defer recoverTelemetry()
	s.tracer.EndSpan(s.span, err)
}

// Do runs fn inside a span named name. The span is always ended and its
// failures never reach fn's result.
func Do(ctx context.Context, t Tracer, name string, attrs []attribute.KeyValue, fn func(context.Context, *Span) error) (err error) {
	ctx, span := StartSpan(ctx, t, name, attrs...)
	defer func() { span.End(err) }()
	return fn(ctx, span)
}

// AddEvent records an event on the span carried by ctx, if any.
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	defer recoverTelemetry()
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}

// Attr converts v to a primitive span attribute. Values that are not
// primitives are rendered with fmt.
func Attr(key string, v any) attribute.KeyValue {
	switch val := v.(type) {
	case string:
		return attribute.String(key, val)
	case bool:
		return attribute.Bool(key, val)
	case int:
		return attribute.Int(key, val)
	case int32:
		return attribute.Int64(key, int64(val))
	case int64:
		return attribute.Int64(key, val)
	case uint32:
		return attribute.Int64(key, int64(val))
	case float32:
		return attribute.Float64(key, float64(val))
	case float64:
		return attribute.Float64(key, val)
	case time.Duration:
		return attribute.Int64(key, val.Milliseconds())
	case time.Time:
		return attribute.String(key, val.UTC().Format(time.RFC3339))
	case []string:
		return attribute.StringSlice(key, val)
	case error:
		return attribute.String(key, val.Error())
	case fmt.Stringer:
		return attribute.String(key, val.String())
	case nil:
		return attribute.String(key, "")
	default:
		return attribute.String(key, fmt.Sprint(val))
	}
}

// Attrs converts a map to attributes sorted by key.
func Attrs(m map[string]any) []attribute.KeyValue {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		out = append(out, Attr(k, m[k]))
	}
	return out
}

// recoverTelemetry swallows panics raised by telemetry backends.
func recoverTelemetry() {
	_ = recover()
}
