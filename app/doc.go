// Package app assembles the agentguard service from a config.Config.
//
// New opens every backend the configuration names (redis, the config
// database, the model provider, remote tools), wires them through the
// guardrail composer into an agent runner and fronts the runner with the
// HTTP server. Close releases them in reverse order.
package app
