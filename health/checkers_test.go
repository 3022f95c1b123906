package health

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/jonwraymond/agentguard/resilience"
)

func TestRedisChecker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	check := RedisChecker(client)
	res := check.Check(context.Background())
	if res.Status != StatusHealthy {
		t.Fatalf("Status = %v, want healthy (%v)", res.Status, res.Error)
	}
	if _, ok := res.Details["total_conns"]; !ok {
		t.Errorf("expected pool stats in details, got %v", res.Details)
	}

	mr.Close()
	res = check.Check(context.Background())
	if res.Status != StatusUnhealthy || res.Error == nil {
		t.Errorf("closed server: status %v, error %v", res.Status, res.Error)
	}
}

func TestSQLChecker(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectPing()
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	check := SQLChecker(db)
	if got := check.Check(context.Background()).Status; got != StatusHealthy {
		t.Errorf("first ping: status %v, want healthy", got)
	}

	res := check.Check(context.Background())
	if res.Status != StatusUnhealthy {
		t.Errorf("second ping: status %v, want unhealthy", res.Status)
	}
	if res.Error == nil || !strings.Contains(res.Error.Error(), "connection refused") {
		t.Errorf("expected the ping error, got %v", res.Error)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCircuitChecker(t *testing.T) {
	tests := []struct {
		state resilience.State
		want  Status
	}{
		{resilience.StateClosed, StatusHealthy},
		{resilience.StateHalfOpen, StatusDegraded},
		{resilience.StateOpen, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			res := CircuitChecker(func() resilience.State { return tt.state }).Check(context.Background())
			if res.Status != tt.want {
				t.Errorf("Status = %v, want %v", res.Status, tt.want)
			}
			if res.Details["state"] != tt.state.String() {
				t.Errorf("details state = %v, want %s", res.Details["state"], tt.state)
			}
		})
	}
}

func TestRuntimeChecker(t *testing.T) {
	tests := []struct {
		name string
		cfg  RuntimeConfig
		want Status
	}{
		{"no limits", RuntimeConfig{}, StatusHealthy},
		{"heap over limit", RuntimeConfig{MaxHeapBytes: 1}, StatusDegraded},
		{"goroutines over limit", RuntimeConfig{MaxGoroutines: 1}, StatusDegraded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RuntimeChecker(tt.cfg).Check(context.Background()).Status; got != tt.want {
				t.Errorf("Status = %v, want %v", got, tt.want)
			}
		})
	}
}
