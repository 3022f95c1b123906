// Package server exposes agent runs over HTTP.
//
// POST /v1/agents/{kind}/runs starts a run and streams its events as
// server-sent events: text, tool_call, tool_result, error and done. Requests
// pass the auth middleware, a per-kind authorization check and a bulkhead
// that caps concurrent runs. Health endpoints and /metrics are mounted on
// the same router.
package server
