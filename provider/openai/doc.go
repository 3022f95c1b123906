// Package openai adapts the OpenAI chat completions API to loop.Model.
//
// Calls run through a resilience executor: an optional token bucket, a
// circuit breaker, retries for transient failures (429, 5xx, timeouts,
// network errors) and a per-attempt timeout. Failures are returned as
// agenterr errors so the loop and the recovery mapper can classify them.
package openai
