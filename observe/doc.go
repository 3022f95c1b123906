// Package observe provides the telemetry primitives used around guarded tool
// calls, config resolution and agent runs.
//
// The package owns four concerns:
//
//   - Logging: [Logger] is a small structured interface backed by log/slog's
//     JSON handler. Credential-like field keys are redacted and trace/span IDs
//     are attached when the context carries a span.
//   - Tracing: [Tracer] starts and ends OpenTelemetry spans. [StartSpan] and
//     [Span] guard every call so that a misbehaving tracer can never panic or
//     error into the instrumented operation.
//   - Metrics: [Metrics] records the agent.* instruments (tool calls, cache
//     hits, rate-limit denials, budget floors, alerts).
//   - Alerting: [Alerter] is a fire-and-forget sink for operational alerts.
//
// [NewObserver] builds providers and exporters from [Config]. Consumers that
// only need one concern can use [NewTracer], [NewMetrics] or [NewLogger]
// directly; every concern has a no-op form for tests and disabled setups.
package observe
