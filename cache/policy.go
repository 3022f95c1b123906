package cache

import (
	"errors"
	"time"
)

// ErrInvalidPolicy reports a Policy whose bounds contradict each other.
var ErrInvalidPolicy = errors.New("cache: invalid policy")

// Policy bounds the lifetime of cached entries.
type Policy struct {
	// DefaultTTL applies when a caller asks for no specific TTL.
	// Zero disables caching.
	DefaultTTL time.Duration

	// MaxTTL caps every TTL. Zero leaves TTLs uncapped.
	MaxTTL time.Duration

	// CacheSideEffects caches tools tagged as having side effects
	// (bookings, payments). Off by default.
	CacheSideEffects bool
}

// DefaultPolicy caches for five minutes and never longer than a day.
func DefaultPolicy() Policy {
	return Policy{DefaultTTL: 5 * time.Minute, MaxTTL: 24 * time.Hour}
}

// Disabled returns a policy that caches nothing.
func Disabled() Policy {
	return Policy{}
}

// Enabled reports whether the policy caches at all.
func (p Policy) Enabled() bool {
	return p.DefaultTTL > 0
}

// TTL resolves requested against the policy: non-positive requests take the
// default and the result never exceeds MaxTTL.
func (p Policy) TTL(requested time.Duration) time.Duration {
	ttl := requested
	if ttl <= 0 {
		ttl = p.DefaultTTL
	}
	if p.MaxTTL > 0 {
		ttl = min(ttl, p.MaxTTL)
	}
	return ttl
}

// Validate checks that the bounds are coherent.
func (p Policy) Validate() error {
	if p.DefaultTTL < 0 || p.MaxTTL < 0 {
		return errors.Join(ErrInvalidPolicy, errors.New("negative ttl"))
	}
	if p.MaxTTL > 0 && p.DefaultTTL > p.MaxTTL {
		return errors.Join(ErrInvalidPolicy, errors.New("default ttl exceeds max ttl"))
	}
	return nil
}
