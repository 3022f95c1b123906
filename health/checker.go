package health

import (
	"context"
	"time"
)

// Status grades a dependency. Larger values are worse, so the overall
// status of a report is the max of its parts.
type Status int

const (
	StatusHealthy Status = iota
	StatusDegraded
	StatusUnhealthy
)

var statusNames = [...]string{"healthy", "degraded", "unhealthy"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "unknown"
	}
	return statusNames[s]
}

// Serving reports whether the process should keep receiving agent runs.
func (s Status) Serving() bool {
	return s != StatusUnhealthy
}

// Result is one probe's outcome. Duration and Timestamp are filled in by
// the Aggregator.
type Result struct {
	Status    Status
	Message   string
	Details   map[string]any
	Duration  time.Duration
	Timestamp time.Time
	Error     error
}

func Healthy(msg string) Result { return Result{Status: StatusHealthy, Message: msg} }

func Degraded(msg string) Result { return Result{Status: StatusDegraded, Message: msg} }

func Unhealthy(msg string, err error) Result {
	return Result{Status: StatusUnhealthy, Message: msg, Error: err}
}

// WithDetails returns r carrying details.
func (r Result) WithDetails(details map[string]any) Result {
	r.Details = details
	return r
}

// Checker probes one dependency of an agentguard process: the config
// database, Redis, the provider circuit or the Go runtime.
//
// Contract:
//   - Concurrency: Check must be safe for concurrent use.
//   - Context: Check must return promptly once ctx is done.
type Checker interface {
	Check(ctx context.Context) Result
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) Result

func (f CheckerFunc) Check(ctx context.Context) Result { return f(ctx) }
