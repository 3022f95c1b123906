// Package loop drives the bounded, phased tool-calling loop of an agent run.
//
// The Controller is an explicit state machine over the step number. Before
// each model turn the PhasePlan picks the tools exposed at that step; the
// model either answers (Final) or requests tool calls (Continue), which are
// dispatched sequentially through their guarded Execute. The loop ends on a
// final answer or when the step number reaches MaxSteps, whichever comes
// first.
//
// Failure policy:
//   - Missing phase tools are rejected by NewController before any step.
//   - A failing, unknown or phase-inactive tool call becomes a tool-result
//     error message fed back to the model.
//   - Typed fatal kinds (rate limit, unauthorized, config) and model failures end
//     the run; the EventSink receives a user-safe message.
//
// Cancellation is checked before every model turn and before each tool call.
// A tool call already dispatched runs to completion under
// context.WithoutCancel.
package loop
