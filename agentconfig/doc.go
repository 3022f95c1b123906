// Package agentconfig resolves the versioned configuration of an agent kind.
//
// A Resolver reads through a cache keyed by a monotonically increasing
// version tag, so publishing a new record makes it visible on the next
// resolution without deleting old entries. Records fetched from the durable
// Store are validated against a JSON Schema before use. A record that fails
// validation raises exactly one operational alert and fails the resolution;
// there is no fallback to defaults.
//
// Components:
//   - Store / SQLStore: durable records (postgres or sqlite).
//   - VersionTags: MemoryVersionTags and RedisVersionTags.
//   - Validator: JSON Schema over model and parameters.
//   - Resolver: cache, coalescing, validation and alerting.
package agentconfig
