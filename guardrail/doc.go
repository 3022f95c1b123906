// Package guardrail composes rate limiting, caching and telemetry around a
// single tool's Execute.
//
// A [Composer] holds the shared infrastructure (cache store, rate limiter,
// tracer, metrics, logger). [Composer.Wrap] binds a [Tool] to an immutable
// [Spec] and returns a [GuardedTool] that is a drop-in replacement for it.
//
// Every guarded call runs in this order:
//
//  1. An agent.tool.execute span is opened. It is always ended and telemetry
//     failures are swallowed.
//  2. If the spec has a rate limit, the limiter is consulted under a
//     fail-closed strategy: a denial, an error or a timeout fails the call
//     with a RateLimitExceeded error before the cache or the tool is touched.
//  3. If the spec has a cache, the canonical key is looked up under a
//     fail-open strategy. A hit returns the stored bytes. A miss runs the
//     tool and writes a successful result; write failures are logged only.
//  4. Tool errors are returned unchanged.
package guardrail
