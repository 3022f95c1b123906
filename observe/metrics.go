package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric instrument names.
const (
	MetricToolCalls       = "agent.tool.calls"
	MetricToolErrors      = "agent.tool.errors"
	MetricToolDuration    = "agent.tool.duration_ms"
	MetricCacheHits       = "agent.cache.hits"
	MetricCacheMisses     = "agent.cache.misses"
	MetricRateLimitDenied = "agent.ratelimit.denied"
	MetricBudgetFloored   = "agent.budget.floored"
	MetricAlerts          = "agent.alerts"
)

// Metrics records agent guardrail metrics.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: implementations must not panic and must return quickly.
type Metrics interface {
	// RecordExecution records a tool call with duration and error status.
	RecordExecution(ctx context.Context, meta ToolMeta, duration time.Duration, err error)

	// RecordCacheLookup counts a cache hit or miss for a tool.
	RecordCacheLookup(ctx context.Context, meta ToolMeta, hit bool)

	// RecordRateLimitDenied counts a denied call.
	RecordRateLimitDenied(ctx context.Context, meta ToolMeta)

	// RecordBudgetFloored counts a token budget raised to the floor.
	RecordBudgetFloored(ctx context.Context, model string)

	// RecordAlert counts a fired alert.
	RecordAlert(ctx context.Context, name string)
}

type metricsImpl struct {
	calls    metric.Int64Counter
	errors   metric.Int64Counter
	duration metric.Float64Histogram
	hits     metric.Int64Counter
	misses   metric.Int64Counter
	denied   metric.Int64Counter
	floored  metric.Int64Counter
	alerts   metric.Int64Counter
}

// NewMetrics creates the agent instruments on meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	m := &metricsImpl{}
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&m.calls, MetricToolCalls, "Guarded tool calls", "{call}"},
		{&m.errors, MetricToolErrors, "Guarded tool calls that returned an error", "{error}"},
		{&m.hits, MetricCacheHits, "Tool results served from cache", "{hit}"},
		{&m.misses, MetricCacheMisses, "Cache lookups that fell through to the tool", "{miss}"},
		{&m.denied, MetricRateLimitDenied, "Tool calls denied by the rate limiter", "{call}"},
		{&m.floored, MetricBudgetFloored, "Token budgets raised to the minimum output size", "{budget}"},
		{&m.alerts, MetricAlerts, "Operational alerts fired", "{alert}"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name,
			metric.WithDescription(c.desc),
			metric.WithUnit(c.unit),
		)
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}

	hist, err := meter.Float64Histogram(MetricToolDuration,
		metric.WithDescription("Guarded tool call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	m.duration = hist

	return m, nil
}

func toolAttrs(meta ToolMeta) metric.MeasurementOption {
	attrs := []attribute.KeyValue{attribute.String("tool.name", meta.Name)}
	if meta.Workflow != "" {
		attrs = append(attrs, attribute.String("agent.workflow", meta.Workflow))
	}
	return metric.WithAttributes(attrs...)
}

func (m *metricsImpl) RecordExecution(ctx context.Context, meta ToolMeta, duration time.Duration, err error) {
	opt := toolAttrs(meta)
	m.calls.Add(ctx, 1, opt)
	if err != nil {
		m.errors.Add(ctx, 1, opt)
	}
	m.duration.Record(ctx, float64(duration.Microseconds())/1000, opt)
}

func (m *metricsImpl) RecordCacheLookup(ctx context.Context, meta ToolMeta, hit bool) {
	if hit {
		m.hits.Add(ctx, 1, toolAttrs(meta))
		return
	}
	m.misses.Add(ctx, 1, toolAttrs(meta))
}

func (m *metricsImpl) RecordRateLimitDenied(ctx context.Context, meta ToolMeta) {
	m.denied.Add(ctx, 1, toolAttrs(meta))
}

func (m *metricsImpl) RecordBudgetFloored(ctx context.Context, model string) {
	m.floored.Add(ctx, 1, metric.WithAttributes(attribute.String("model", model)))
}

func (m *metricsImpl) RecordAlert(ctx context.Context, name string) {
	m.alerts.Add(ctx, 1, metric.WithAttributes(attribute.String("alert.name", name)))
}

type noopMetrics struct{}

// NoopMetrics returns a Metrics that records nothing.
func NoopMetrics() Metrics { return noopMetrics{} }

func (noopMetrics) RecordExecution(context.Context, ToolMeta, time.Duration, error) {}
func (noopMetrics) RecordCacheLookup(context.Context, ToolMeta, bool)               {}
func (noopMetrics) RecordRateLimitDenied(context.Context, ToolMeta)                 {}
func (noopMetrics) RecordBudgetFloored(context.Context, string)                     {}
func (noopMetrics) RecordAlert(context.Context, string)                             {}

// SafeMetrics wraps m so that a panicking implementation is contained.
func SafeMetrics(m Metrics) Metrics {
	if m == nil {
		return NoopMetrics()
	}
	if _, ok := m.(safeMetrics); ok {
		return m
	}
	return safeMetrics{m}
}

type safeMetrics struct{ m Metrics }

func (s safeMetrics) RecordExecution(ctx context.Context, meta ToolMeta, d time.Duration, err error) {
	defer recoverTelemetry()
	s.m.RecordExecution(ctx, meta, d, err)
}

func (s safeMetrics) RecordCacheLookup(ctx context.Context, meta ToolMeta, hit bool) {
	defer recoverTelemetry()
	s.m.RecordCacheLookup(ctx, meta, hit)
}

func (s safeMetrics) RecordRateLimitDenied(ctx context.Context, meta ToolMeta) {
	defer recoverTelemetry()
	s.m.RecordRateLimitDenied(ctx, meta)
}

func (s safeMetrics) RecordBudgetFloored(ctx context.Context, model string) {
	defer recoverTelemetry()
	s.m.RecordBudgetFloored(ctx, model)
}

func (s safeMetrics) RecordAlert(ctx context.Context, name string) {
	defer recoverTelemetry()
	s.m.RecordAlert(ctx, name)
}
