package observe

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestLogAlerter(t *testing.T) {
	var logs bytes.Buffer
	reader, metrics := newTestMetrics(t)
	recorder, tracer := newRecordingTracer()
	a := NewLogAlerter(NewLoggerWithWriter("info", &logs), metrics)

	ctx, span := StartSpan(context.Background(), tracer, "resolve")
	a.Alert(ctx, "agent_config_validation_failed", map[string]any{
		"agent_type": "trip-planner",
		"version_id": int64(42),
	})
	span.End(nil)

	e := decodeLines(t, &logs)[0]
	if e["level"] != "error" || e["alert"] != "agent_config_validation_failed" {
		t.Errorf("unexpected alert log: %v", e)
	}
	if e["version_id"] != float64(42) {
		t.Errorf("expected version_id=42, got %v", e["version_id"])
	}
	if got := counterValue(t, collect(t, reader), MetricAlerts); got != 1 {
		t.Errorf("expected 1 alert counted, got %d", got)
	}
	events := recorder.Ended()[0].Events()
	if len(events) != 1 || events[0].Name != "alert.agent_config_validation_failed" {
		t.Errorf("expected alert span event, got %v", events)
	}
}

func TestMultiAlerter_FanOutSurvivesPanics(t *testing.T) {
	var got []string
	record := AlerterFunc(func(_ context.Context, name string, _ map[string]any) {
		got = append(got, name)
	})
	boom := AlerterFunc(func(context.Context, string, map[string]any) {
		panic("pager down")
	})

	MultiAlerter{boom, nil, record}.Alert(context.Background(), "a", nil)

	if strings.Join(got, ",") != "a" {
		t.Errorf("expected the healthy alerter to fire once, got %v", got)
	}
}
