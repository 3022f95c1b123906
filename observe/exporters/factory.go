// Package exporters builds OpenTelemetry span exporters and metric readers
// by name.
package exporters

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	promclient "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

var (
	ErrUnknownExporter       = errors.New("exporters: unknown exporter")
	ErrEndpointNotConfigured = errors.New("exporters: endpoint not configured")
)

// Option configures exporter construction.
type Option func(*settings)

type settings struct {
	writer     io.Writer
	registerer promclient.Registerer
}

// WithWriter sets the destination for stdout exporters.
func WithWriter(w io.Writer) Option {
	return func(s *settings) {
		s.writer = w
	}
}

// WithRegisterer sets the registry the prometheus reader registers with.
func WithRegisterer(reg promclient.Registerer) Option {
	return func(s *settings) {
		s.registerer = reg
	}
}

func apply(opts []Option) settings {
	s := settings{writer: os.Stdout}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

func envOr(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

func requireEnv(names ...string) error {
	if envOr(names...) != "" {
		return nil
	}
	return fmt.Errorf("%w: set %s", ErrEndpointNotConfigured, strings.Join(names, " or "))
}

type (
	traceBuilder  func(ctx context.Context, s settings) (sdktrace.SpanExporter, error)
	metricBuilder func(ctx context.Context, s settings) (sdkmetric.Reader, error)
)

var traceBuilders = map[string]traceBuilder{
	"": discardTraces, "none": discardTraces,
	"stdout": func(_ context.Context, s settings) (sdktrace.SpanExporter, error) {
		return stdouttrace.New(stdouttrace.WithWriter(s.writer))
	},
	"otlp": func(ctx context.Context, _ settings) (sdktrace.SpanExporter, error) {
		if err := requireEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"); err != nil {
			return nil, err
		}
		return otlptracegrpc.New(ctx)
	},
	// Jaeger accepts OTLP, so only the endpoint differs.
	"jaeger": func(ctx context.Context, _ settings) (sdktrace.SpanExporter, error) {
		if err := requireEnv("OTEL_EXPORTER_JAEGER_ENDPOINT"); err != nil {
			return nil, err
		}
		return otlptracegrpc.New(ctx, otlptracegrpc.WithEndpointURL(os.Getenv("OTEL_EXPORTER_JAEGER_ENDPOINT")))
	},
}

var metricBuilders = map[string]metricBuilder{
	"": manualReader, "none": manualReader,
	"stdout": func(_ context.Context, s settings) (sdkmetric.Reader, error) {
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(s.writer))
		if err != nil {
			return nil, err
		}
		return sdkmetric.NewPeriodicReader(exp), nil
	},
	"otlp": func(ctx context.Context, _ settings) (sdkmetric.Reader, error) {
		if err := requireEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_METRICS_ENDPOINT"); err != nil {
			return nil, err
		}
		exp, err := otlpmetricgrpc.New(ctx)
		if err != nil {
			return nil, err
		}
		return sdkmetric.NewPeriodicReader(exp), nil
	},
	// The reader doubles as a prometheus.Collector on the chosen registry.
	"prometheus": func(_ context.Context, s settings) (sdkmetric.Reader, error) {
		var popts []prometheus.Option
		if s.registerer != nil {
			popts = append(popts, prometheus.WithRegisterer(s.registerer))
		}
		return prometheus.New(popts...)
	},
}

func discardTraces(context.Context, settings) (sdktrace.SpanExporter, error) {
	return stdouttrace.New(stdouttrace.WithWriter(io.Discard))
}

func manualReader(context.Context, settings) (sdkmetric.Reader, error) {
	return sdkmetric.NewManualReader(), nil
}

// NewTracingExporter creates the span exporter registered under name:
// stdout, otlp, jaeger, or none/empty for a discarding exporter.
func NewTracingExporter(ctx context.Context, name string, opts ...Option) (sdktrace.SpanExporter, error) {
	build, ok := traceBuilders[name]
	if !ok {
		return nil, fmt.Errorf("%w: trace exporter %q", ErrUnknownExporter, name)
	}
	exp, err := build(ctx, apply(opts))
	if err != nil {
		return nil, fmt.Errorf("exporters: %s traces: %w", name, err)
	}
	return exp, nil
}

// NewMetricsReader creates the metric reader registered under name:
// stdout, otlp, prometheus, or none/empty for a manual reader.
func NewMetricsReader(ctx context.Context, name string, opts ...Option) (sdkmetric.Reader, error) {
	build, ok := metricBuilders[name]
	if !ok {
		return nil, fmt.Errorf("%w: metrics exporter %q", ErrUnknownExporter, name)
	}
	reader, err := build(ctx, apply(opts))
	if err != nil {
		return nil, fmt.Errorf("exporters: %s metrics: %w", name, err)
	}
	return reader, nil
}
