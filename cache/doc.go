// Package cache provides content-addressed caching for guarded tool calls and
// resolved agent configuration.
//
// It provides a Cache interface with memory and Redis implementations, a
// Canonicalizer that derives order-independent SHA-256 keys from call
// parameters, TTL policies that keep side-effecting tools out of the cache, and a read-through
// middleware that fails open on store errors.
package cache
