// Package tokenbudget computes a safe completion-token allowance for a model
// call from the prompt size and the model's context window.
//
// Clamp never fails. When the prompt leaves too little room the allowance is
// raised to a fixed floor and the condition is reported through telemetry so
// that a stream degrades to truncated output instead of aborting.
package tokenbudget
