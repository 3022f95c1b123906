package agenterr

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind categorizes a failure for propagation policy and user messaging.
type Kind int

const (
	KindUnknown Kind = iota
	KindRateLimitExceeded
	KindUnauthorized
	KindValidation
	KindToolNotFound
	KindToolExecutionFailed
	KindProvider
	KindNetwork
	KindTimeout
	KindConfigValidationFailed
)

// String returns the taxonomy name of the kind.
func (k Kind) String() string {
	switch k {
	case KindRateLimitExceeded:
		return "RateLimitExceeded"
	case KindUnauthorized:
		return "Unauthorized"
	case KindValidation:
		return "ValidationError"
	case KindToolNotFound:
		return "ToolNotFound"
	case KindToolExecutionFailed:
		return "ToolExecutionFailed"
	case KindProvider:
		return "ProviderError"
	case KindNetwork:
		return "NetworkError"
	case KindTimeout:
		return "Timeout"
	case KindConfigValidationFailed:
		return "ConfigValidationFailed"
	default:
		return "Unknown"
	}
}

// Fatal reports whether a tool call failing with this kind aborts the agent
// run. Other kinds are surfaced to the model as tool results.
func (k Kind) Fatal() bool {
	switch k {
	case KindRateLimitExceeded, KindUnauthorized, KindConfigValidationFailed:
		return true
	default:
		return false
	}
}

// Sentinel errors, one per kind. An *Error matches the sentinel of its kind
// under errors.Is.
var (
	ErrUnknown                = errors.New("agent: unknown error")
	ErrRateLimitExceeded      = errors.New("agent: rate limit exceeded")
	ErrUnauthorized           = errors.New("agent: unauthorized")
	ErrValidation             = errors.New("agent: validation error")
	ErrToolNotFound           = errors.New("agent: tool not found")
	ErrToolExecutionFailed    = errors.New("agent: tool execution failed")
	ErrProvider               = errors.New("agent: provider error")
	ErrNetwork                = errors.New("agent: network error")
	ErrTimeout                = errors.New("agent: timeout")
	ErrConfigValidationFailed = errors.New("agent: config validation failed")
)

func (k Kind) sentinel() error {
	switch k {
	case KindRateLimitExceeded:
		return ErrRateLimitExceeded
	case KindUnauthorized:
		return ErrUnauthorized
	case KindValidation:
		return ErrValidation
	case KindToolNotFound:
		return ErrToolNotFound
	case KindToolExecutionFailed:
		return ErrToolExecutionFailed
	case KindProvider:
		return ErrProvider
	case KindNetwork:
		return ErrNetwork
	case KindTimeout:
		return ErrTimeout
	case KindConfigValidationFailed:
		return ErrConfigValidationFailed
	default:
		return ErrUnknown
	}
}

// Error is a classified failure.
type Error struct {
	// Kind is the taxonomy category.
	Kind Kind

	// Code is an optional caller-configured code (e.g. "SEARCH_RATE_LIMITED").
	Code string

	// Op names the operation that failed (e.g. "guardrail.execute").
	Op string

	// Err is the underlying cause, if any.
	Err error

	// Attrs carries primitive diagnostic values. Never shown to end users.
	Attrs map[string]any
}

// Error returns the diagnostic message.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Code != "" {
		b.WriteString(" [")
		b.WriteString(e.Code)
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// New creates a classified error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// RateLimited builds a RateLimitExceeded error with the configured code.
func RateLimited(op, code string, remaining int, resetAt time.Time) *Error {
	return &Error{
		Kind: KindRateLimitExceeded,
		Code: code,
		Op:   op,
		Attrs: map[string]any{
			"remaining": remaining,
			"reset_at":  resetAt.UTC().Format(time.RFC3339),
		},
	}
}

// ToolNotFound builds a ToolNotFound error for the named tool.
func ToolNotFound(op, name string) *Error {
	return &Error{
		Kind:  KindToolNotFound,
		Op:    op,
		Err:   fmt.Errorf("tool %q is not registered", name),
		Attrs: map[string]any{"tool.name": name},
	}
}

// ConfigInvalid builds a ConfigValidationFailed error.
func ConfigInvalid(op, agentType string, versionID int64, cause error) *Error {
	return &Error{
		Kind: KindConfigValidationFailed,
		Op:   op,
		Err:  cause,
		Attrs: map[string]any{
			"agent_type": agentType,
			"version_id": versionID,
		},
	}
}
