// Package agent defines the travel agent kinds and runs them.
//
// A Definition fixes an agent kind's system prompt, phase plan and the
// guardrails of each of its tools. A Runner resolves the kind's versioned
// configuration, checks the token budget and drives the tool-calling loop
// over the guarded tool set.
//
// Tool sets are wrapped and validated once, when the Runner is built. A
// definition that names an unregistered tool fails NewRunner rather than a
// run.
package agent
