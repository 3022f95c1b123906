package loop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jonwraymond/agentguard/agenterr"
	"github.com/jonwraymond/agentguard/guardrail"
	"github.com/jonwraymond/agentguard/observe"
	"github.com/jonwraymond/agentguard/recovery"
	"github.com/jonwraymond/agentguard/tokenbudget"
)

const (
	opNewController = "loop.new_controller"
	opStep          = "loop.step"

	// SpanRun and SpanStep name the loop spans.
	SpanRun  = "agent.loop.run"
	SpanStep = "agent.loop.step"

	// DefaultMaxSteps is used when neither Config nor RunInput set a ceiling.
	DefaultMaxSteps = 10
)

// Stop reasons reported in RunResult.
const (
	StopFinal    = "final"
	StopMaxSteps = "max_steps"
)

// Config configures a Controller.
type Config struct {
	// Plan selects the tools of each step. Required.
	Plan PhasePlan

	// MaxSteps is the default step ceiling.
	// Default: DefaultMaxSteps
	MaxSteps int

	// Clamper recomputes the output budget before every turn as the
	// conversation grows. Nil sends RunInput.MaxOutputTokens unchanged.
	Clamper *tokenbudget.Clamper

	// Mapper renders fatal errors for the sink. Default: recovery.NewMapper()
	Mapper *recovery.Mapper

	// NewCallID fills in missing tool call IDs. Default: uuid.NewString
	NewCallID func() string

	Tracer observe.Tracer
	Logger observe.Logger
}

// RunInput is the per-run request.
type RunInput struct {
	Messages        []Message
	Model           string
	MaxSteps        int
	MaxOutputTokens int
	Temperature     float64
	TopP            float64
	Stop            []string
}

// RunResult summarizes a run.
type RunResult struct {
	Text       string
	Steps      int
	StopReason string
	ToolCalls  []ToolCallRecord
	Messages   []Message
	Usage      Usage
}

// State is the mutable state of one run.
type State struct {
	Step     int
	Messages []Message
	Records  []ToolCallRecord
	Usage    Usage
	Terminal bool
}

// OutcomeKind is the result of a step.
type OutcomeKind int

const (
	// Continue means the model requested tool calls.
	Continue OutcomeKind = iota
	// Final means the model answered without tool calls.
	Final
)

// StepOutcome is the result of one model turn.
type StepOutcome struct {
	Kind      OutcomeKind
	Phase     Phase
	Text      string
	ToolCalls []ToolCall
}

// Controller runs the tool-calling loop. It holds no per-run state and is
// safe for concurrent use.
type Controller struct {
	model    Model
	registry Registry
	cfg      Config
}

// NewController validates that every tool named by cfg.Plan is registered.
// A missing tool yields an agenterr ToolNotFound error.
func NewController(model Model, registry Registry, cfg Config) (*Controller, error) {
	if model == nil {
		return nil, ErrNilModel
	}
	if err := cfg.Plan.Validate(); err != nil {
		return nil, err
	}
	for _, name := range cfg.Plan.ToolNames() {
		if _, ok := registry[name]; !ok {
			return nil, agenterr.ToolNotFound(opNewController, string(name))
		}
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.Mapper == nil {
		cfg.Mapper = recovery.NewMapper()
	}
	if cfg.NewCallID == nil {
		cfg.NewCallID = uuid.NewString
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observe.NoopTracer()
	}
	if cfg.Logger == nil {
		cfg.Logger = observe.NopLogger()
	}
	return &Controller{model: model, registry: registry, cfg: cfg}, nil
}

// Step performs one model turn for state.Step with the phase's tools. It
// does not dispatch tool calls or advance the state.
func (c *Controller) Step(ctx context.Context, state *State, in RunInput) (out StepOutcome, err error) {
	phase := c.cfg.Plan.At(state.Step)
	ctx, span := observe.StartSpan(ctx, c.cfg.Tracer, SpanStep,
		observe.Attr("loop.step", state.Step),
		observe.Attr("loop.phase", phase.Name),
		observe.Attr("loop.tools", len(phase.Tools)),
	)
	defer func() { span.End(err) }()

	maxTokens := in.MaxOutputTokens
	if c.cfg.Clamper != nil {
		budget := c.cfg.Clamper.Clamp(ctx, TokenMessages(state.Messages), in.MaxOutputTokens, in.Model)
		maxTokens = budget.MaxTokens
		span.SetAttributes(observe.Attr("token_budget.max_tokens", maxTokens))
	}

	resp, err := c.model.Generate(ctx, ModelRequest{
		Model:           in.Model,
		Messages:        state.Messages,
		Tools:           c.registry.Defs(phase.Tools),
		MaxOutputTokens: maxTokens,
		Temperature:     in.Temperature,
		TopP:            in.TopP,
		Stop:            in.Stop,
	})
	if err != nil {
		return StepOutcome{}, classifyModelError(err)
	}
	state.Usage.PromptTokens += resp.Usage.PromptTokens
	state.Usage.CompletionTokens += resp.Usage.CompletionTokens

	out = StepOutcome{Kind: Final, Phase: phase, Text: resp.Content}
	if len(resp.ToolCalls) > 0 {
		out.Kind = Continue
		out.ToolCalls = make([]ToolCall, len(resp.ToolCalls))
		for i, call := range resp.ToolCalls {
			if call.ID == "" {
				call.ID = c.cfg.NewCallID()
			}
			out.ToolCalls[i] = call
		}
	}
	span.SetAttributes(observe.Attr("loop.tool_calls", len(out.ToolCalls)))
	return out, nil
}

// Run drives the loop until a final answer or the step ceiling. Fatal
// errors are reported to sink as user-safe messages and returned.
func (c *Controller) Run(ctx context.Context, in RunInput, sink EventSink) (result RunResult, err error) {
	if sink == nil {
		sink = NopSink{}
	}
	maxSteps := in.MaxSteps
	if maxSteps <= 0 {
		maxSteps = c.cfg.MaxSteps
	}

	ctx, span := observe.StartSpan(ctx, c.cfg.Tracer, SpanRun,
		observe.Attr("loop.max_steps", maxSteps),
		observe.Attr("model", in.Model),
	)
	defer func() {
		span.SetAttributes(observe.Attr("loop.steps", result.Steps), observe.Attr("loop.stop_reason", result.StopReason))
		span.End(err)
	}()

	state := &State{Messages: append([]Message(nil), in.Messages...)}

	for state.Step < maxSteps {
		if err := ctx.Err(); err != nil {
			return c.fail(ctx, sink, state, err)
		}

		out, err := c.Step(ctx, state, in)
		if err != nil {
			return c.fail(ctx, sink, state, err)
		}
		step := state.Step
		state.Step++

		if out.Text != "" {
			sink.Text(ctx, step, out.Text)
		}
		state.Messages = append(state.Messages, Message{
			Role:      RoleAssistant,
			Content:   out.Text,
			ToolCalls: out.ToolCalls,
		})

		if out.Kind == Final {
			state.Terminal = true
			result = c.result(state, out.Text, StopFinal)
			sink.Done(ctx, result)
			return result, nil
		}

		if err := c.dispatch(ctx, sink, state, step, out); err != nil {
			return c.fail(ctx, sink, state, err)
		}
	}

	state.Terminal = true
	result = c.result(state, "", StopMaxSteps)
	c.cfg.Logger.Info(ctx, "agent loop reached step ceiling", observe.F("max_steps", maxSteps))
	sink.Done(ctx, result)
	return result, nil
}

// dispatch runs the step's tool calls in order and appends their results.
// Cancellation is checked before each call; a call already dispatched runs
// to completion. Only cancellation and fatal guardrail failures are
// returned. Fatality comes from the typed error, never the message text.
func (c *Controller) dispatch(ctx context.Context, sink EventSink, state *State, step int, out StepOutcome) error {
	detached := context.WithoutCancel(ctx)
	for _, call := range out.ToolCalls {
		if err := ctx.Err(); err != nil {
			return err
		}
		sink.ToolCall(detached, step, call)

		rec := ToolCallRecord{ToolName: call.Name, CallID: call.ID, Step: step, Input: call.Arguments}
		content, err := c.invoke(detached, out.Phase, call)
		if err != nil {
			if agenterr.KindOf(err).Fatal() {
				rec.Err = err
				state.Records = append(state.Records, rec)
				sink.ToolResult(detached, step, rec)
				return err
			}
			rec.Err = err
			content = c.toolErrorContent(out.Phase, call, err)
			c.cfg.Logger.Warn(detached, "tool call failed",
				observe.F("tool.name", string(call.Name)),
				observe.F("loop.step", step),
				observe.F("error", err),
			)
		} else {
			rec.Output = content
		}

		state.Records = append(state.Records, rec)
		state.Messages = append(state.Messages, Message{
			Role:       RoleTool,
			Content:    string(content),
			ToolCallID: call.ID,
		})
		sink.ToolResult(detached, step, rec)
	}
	return nil
}

func (c *Controller) invoke(ctx context.Context, phase Phase, call ToolCall) (json.RawMessage, error) {
	tool, ok := c.registry[call.Name]
	if !ok {
		return nil, agenterr.ToolNotFound(opStep, string(call.Name))
	}
	if !phase.Allows(call.Name) {
		return nil, &agenterr.Error{
			Kind:  agenterr.KindValidation,
			Op:    opStep,
			Err:   fmt.Errorf("tool %q is not available in phase %q", call.Name, phase.Name),
			Attrs: map[string]any{"tool.name": string(call.Name), "loop.phase": phase.Name},
		}
	}
	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}
	return tool.Execute(ctx, args, guardrail.CallOptions{ToolCallID: call.ID})
}

// toolErrorContent is the tool-result message fed back to the model. It
// names the failure category and never includes the raw error text.
func (c *Controller) toolErrorContent(phase Phase, call ToolCall, err error) json.RawMessage {
	kind := c.cfg.Mapper.Classify(err)
	body := map[string]any{
		"error": recovery.Message(kind),
		"kind":  kind.String(),
	}
	switch kind {
	case agenterr.KindToolNotFound, agenterr.KindValidation:
		if agenterr.KindOf(err) != agenterr.KindUnknown {
			body["error"] = fmt.Sprintf("tool %q cannot be called at this step", call.Name)
			body["available"] = toolNames(phase.Tools)
		}
	}
	b, mErr := json.Marshal(body)
	if mErr != nil {
		return json.RawMessage(`{"error":"tool call failed"}`)
	}
	return b
}

func (c *Controller) fail(ctx context.Context, sink EventSink, state *State, err error) (RunResult, error) {
	result := c.result(state, "", "")
	msg, kind := c.cfg.Mapper.Render(err)
	c.cfg.Logger.Error(ctx, "agent run failed",
		observe.F("kind", kind.String()),
		observe.F("loop.step", state.Step),
		observe.F("error", err),
	)
	sink.Error(context.WithoutCancel(ctx), msg, kind)
	return result, err
}

func (c *Controller) result(state *State, text, reason string) RunResult {
	return RunResult{
		Text:       text,
		Steps:      state.Step,
		StopReason: reason,
		ToolCalls:  state.Records,
		Messages:   state.Messages,
		Usage:      state.Usage,
	}
}

func classifyModelError(err error) error {
	if agenterr.KindOf(err) != agenterr.KindUnknown {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return agenterr.New(agenterr.KindTimeout, opStep, err)
	}
	return agenterr.New(agenterr.KindProvider, opStep, err)
}

// TokenMessages converts a conversation for token counting. Tool call
// names and arguments count toward the assistant message.
func TokenMessages(msgs []Message) []tokenbudget.Message {
	out := make([]tokenbudget.Message, 0, len(msgs))
	for _, m := range msgs {
		content := m.Content
		if len(m.ToolCalls) > 0 {
			var b strings.Builder
			b.WriteString(content)
			for _, call := range m.ToolCalls {
				args, _ := json.Marshal(call.Arguments)
				b.WriteString(string(call.Name))
				b.Write(args)
			}
			content = b.String()
		}
		out = append(out, tokenbudget.Message{Role: string(m.Role), Content: content})
	}
	return out
}

func toolNames(names []guardrail.ToolName) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = string(n)
	}
	return out
}
