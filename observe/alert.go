package observe

import (
	"context"
	"sort"
)

// Alerter receives named operational alerts.
//
// Contract:
// - Fire-and-forget: Alert never blocks for long and never fails the caller.
// - Attribute values should be primitives.
type Alerter interface {
	Alert(ctx context.Context, name string, attrs map[string]any)
}

// AlerterFunc adapts a function to Alerter.
type AlerterFunc func(ctx context.Context, name string, attrs map[string]any)

// Alert implements Alerter.
func (f AlerterFunc) Alert(ctx context.Context, name string, attrs map[string]any) {
	f(ctx, name, attrs)
}

// LogAlerter writes alerts as error log entries, counts them and records an
// event on the current span.
type LogAlerter struct {
	logger  Logger
	metrics Metrics
}

// NewLogAlerter creates a LogAlerter. Nil dependencies become no-ops.
func NewLogAlerter(logger Logger, metrics Metrics) *LogAlerter {
	if logger == nil {
		logger = NopLogger()
	}
	return &LogAlerter{logger: logger, metrics: SafeMetrics(metrics)}
}

// Alert implements Alerter.
func (a *LogAlerter) Alert(ctx context.Context, name string, attrs map[string]any) {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]Field, 0, len(attrs)+1)
	fields = append(fields, F("alert", name))
	for _, k := range keys {
		fields = append(fields, F(k, attrs[k]))
	}

	a.logger.Error(ctx, "operational alert", fields...)
	a.metrics.RecordAlert(ctx, name)
	AddEvent(ctx, "alert."+name, Attrs(attrs)...)
}

// MultiAlerter fans an alert out to every alerter in order.
type MultiAlerter []Alerter

// Alert implements Alerter. A panicking alerter does not stop the others.
func (m MultiAlerter) Alert(ctx context.Context, name string, attrs map[string]any) {
	for _, a := range m {
		if a == nil {
			continue
		}
		func() {
			defer recoverTelemetry()
			a.Alert(ctx, name, attrs)
		}()
	}
}

var (
	_ Alerter = (*LogAlerter)(nil)
	_ Alerter = MultiAlerter(nil)
	_ Alerter = AlerterFunc(nil)
)
