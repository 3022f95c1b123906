package guardrail

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jonwraymond/agentguard/auth"
	"github.com/jonwraymond/agentguard/ratelimit"
)

// AnonymousIdentifier is used when no caller identity can be resolved.
const AnonymousIdentifier = "anonymous"

// Spec configures the guardrails around one tool. It is copied by Wrap and
// never mutated afterwards.
type Spec struct {
	Cache     *CacheSpec
	RateLimit *RateLimitSpec
	Telemetry TelemetrySpec

	// Tags describe the tool's side effects. Tools tagged write, booking,
	// payment and similar are never cached.
	Tags []string
}

// CacheSpec enables read-through caching of successful results.
type CacheSpec struct {
	// Namespace prefixes every key for this tool.
	Namespace string

	// TTL is the entry lifetime. Zero uses the store policy default; values
	// above the policy maximum are clamped.
	TTL time.Duration

	// HashInput selects the parameters that identify a result. Nil hashes
	// all parameters.
	HashInput func(params map[string]any) any

	// PerCaller adds the caller identifier to the namespace.
	PerCaller bool
}

// RateLimitSpec enables per-identifier rate limiting.
type RateLimitSpec struct {
	// Identifier resolves the caller. Nil uses DefaultIdentifier.
	Identifier func(ctx context.Context) string

	// Limit is the number of calls allowed per Window.
	Limit int

	// Window is a duration string such as "1m" or "1 d".
	Window string

	// ErrorCode is attached to RateLimitExceeded errors.
	ErrorCode string
}

// TelemetrySpec configures span and metric attributes.
type TelemetrySpec struct {
	Workflow string
}

// DefaultIdentifier returns the authenticated principal, or
// AnonymousIdentifier.
func DefaultIdentifier(ctx context.Context) string {
	if p := strings.TrimSpace(auth.PrincipalFromContext(ctx)); p != "" {
		return p
	}
	return AnonymousIdentifier
}

func (s Spec) validate() error {
	if c := s.Cache; c != nil {
		if strings.TrimSpace(c.Namespace) == "" {
			return ErrMissingNamespace
		}
	}
	if r := s.RateLimit; r != nil {
		if r.Limit <= 0 {
			return fmt.Errorf("%w: %d", ErrInvalidLimit, r.Limit)
		}
		if _, err := ratelimit.ParseWindow(r.Window); err != nil {
			return fmt.Errorf("guardrail: %w", err)
		}
	}
	return nil
}

// clone copies s deeply enough that later caller mutations are not seen.
func (s Spec) clone() Spec {
	out := s
	if s.Cache != nil {
		c := *s.Cache
		out.Cache = &c
	}
	if s.RateLimit != nil {
		r := *s.RateLimit
		out.RateLimit = &r
	}
	out.Tags = append([]string(nil), s.Tags...)
	return out
}
