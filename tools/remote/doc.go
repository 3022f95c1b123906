// Package remote provides a guardrail.Tool that forwards calls to an HTTP
// endpoint.
//
// Parameters are POSTed as a JSON object and the JSON response body is the
// tool result. The tool carries no domain logic; geocoding, search and
// booking live behind the configured endpoints.
package remote
