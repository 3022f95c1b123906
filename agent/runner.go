package agent

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jonwraymond/agentguard/agentconfig"
	"github.com/jonwraymond/agentguard/agenterr"
	"github.com/jonwraymond/agentguard/auth"
	"github.com/jonwraymond/agentguard/guardrail"
	"github.com/jonwraymond/agentguard/loop"
	"github.com/jonwraymond/agentguard/observe"
	"github.com/jonwraymond/agentguard/recovery"
	"github.com/jonwraymond/agentguard/tokenbudget"
)

const (
	opRun       = "agent.run"
	opNewRunner = "agent.new_runner"

	// SpanRun names the span around a whole agent run.
	SpanRun = "agent.run"
)

// ConfigResolver resolves the current configuration of an agent type.
//
// Contract:
//   - Concurrency: must be safe for concurrent use.
//   - Errors: invalid configurations are returned as agenterr
//     ConfigValidationFailed errors.
type ConfigResolver interface {
	Resolve(ctx context.Context, agentType string) (agentconfig.Resolved, error)
}

var _ ConfigResolver = (*agentconfig.Resolver)(nil)

// Config configures a Runner.
type Config struct {
	// Resolver supplies versioned agent configs. Required.
	Resolver ConfigResolver

	// Composer wraps every tool with its guardrails. Required.
	Composer *guardrail.Composer

	// Model generates turns. Required.
	Model loop.Model

	// Tools are the raw tool implementations, keyed by name.
	Tools []guardrail.Tool

	// Definitions are the served kinds. Default: Definitions()
	Definitions []Definition

	// Clamper bounds output tokens. Default: tokenbudget.NewClamper with
	// the default catalog.
	Clamper *tokenbudget.Clamper

	// RequireIdentity rejects runs without an authenticated identity.
	RequireIdentity bool

	Mapper *recovery.Mapper
	Tracer observe.Tracer
	Logger observe.Logger
}

// Request starts a run.
type Request struct {
	Kind Kind

	// RunID identifies the run in telemetry. Default: a random UUID.
	RunID string

	// Messages is the conversation so far, without the system prompt.
	Messages []loop.Message
}

// Result is the outcome of a run.
type Result struct {
	loop.RunResult

	RunID     string
	Kind      Kind
	Model     string
	VersionID int64

	// Budget is the output budget computed for the first turn.
	Budget tokenbudget.Budget
}

type kindRuntime struct {
	def        Definition
	controller *loop.Controller
}

// Runner runs agent kinds. It is safe for concurrent use.
type Runner struct {
	cfg   Config
	kinds map[Kind]*kindRuntime
}

// NewRunner wraps the tools of every definition and validates each phase
// plan against them. A definition naming an unknown tool yields an
// agenterr ToolNotFound error.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Resolver == nil {
		return nil, ErrNilResolver
	}
	if cfg.Composer == nil {
		return nil, ErrNilComposer
	}
	if cfg.Model == nil {
		return nil, ErrNilModel
	}
	if cfg.Definitions == nil {
		cfg.Definitions = Definitions()
	}
	if cfg.Clamper == nil {
		cfg.Clamper = tokenbudget.NewClamper(tokenbudget.Config{Logger: cfg.Logger})
	}
	if cfg.Mapper == nil {
		cfg.Mapper = recovery.NewMapper()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observe.NoopTracer()
	}
	if cfg.Logger == nil {
		cfg.Logger = observe.NopLogger()
	}

	raw := make(map[guardrail.ToolName]guardrail.Tool, len(cfg.Tools))
	for _, t := range cfg.Tools {
		if t == nil {
			return nil, guardrail.ErrNilTool
		}
		raw[t.Name()] = t
	}

	r := &Runner{cfg: cfg, kinds: make(map[Kind]*kindRuntime, len(cfg.Definitions))}
	for _, def := range cfg.Definitions {
		if err := def.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.kinds[def.Kind]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateKind, def.Kind)
		}
		rt, err := r.build(def, raw)
		if err != nil {
			return nil, err
		}
		r.kinds[def.Kind] = rt
	}
	return r, nil
}

func (r *Runner) build(def Definition, raw map[guardrail.ToolName]guardrail.Tool) (*kindRuntime, error) {
	names := def.Plan.ToolNames()
	tools := make([]guardrail.Tool, 0, len(names))
	for _, name := range names {
		t, ok := raw[name]
		if !ok {
			err := agenterr.ToolNotFound(opNewRunner, string(name))
			err.Attrs["agent.kind"] = string(def.Kind)
			return nil, err
		}
		guarded, err := r.cfg.Composer.Wrap(t, def.Guard(name))
		if err != nil {
			return nil, fmt.Errorf("agent %s: tool %s: %w", def.Kind, name, err)
		}
		tools = append(tools, guarded)
	}
	registry, err := loop.NewRegistry(tools...)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", def.Kind, err)
	}
	controller, err := loop.NewController(r.cfg.Model, registry, loop.Config{
		Plan:     def.Plan,
		MaxSteps: def.MaxSteps,
		Clamper:  r.cfg.Clamper,
		Mapper:   r.cfg.Mapper,
		Tracer:   r.cfg.Tracer,
		Logger:   r.cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", def.Kind, err)
	}
	return &kindRuntime{def: def, controller: controller}, nil
}

// Kinds returns the served kinds.
func (r *Runner) Kinds() []Kind {
	out := make([]Kind, 0, len(r.kinds))
	for _, def := range r.cfg.Definitions {
		out = append(out, def.Kind)
	}
	return out
}

// Has reports whether kind is served.
func (r *Runner) Has(kind Kind) bool {
	_, ok := r.kinds[kind]
	return ok
}

// Run executes one agent run, streaming events to sink. Failures before
// the loop starts are reported to sink the same way loop failures are.
func (r *Runner) Run(ctx context.Context, req Request, sink loop.EventSink) (res Result, err error) {
	if sink == nil {
		sink = loop.NopSink{}
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	res = Result{RunID: req.RunID, Kind: req.Kind}

	ctx, span := observe.StartSpan(ctx, r.cfg.Tracer, SpanRun,
		observe.Attr("agent.kind", string(req.Kind)),
		observe.Attr("agent.run_id", req.RunID),
	)
	defer func() { span.End(err) }()

	rt, ok := r.kinds[req.Kind]
	if !ok {
		return res, r.fail(ctx, sink, agenterr.New(agenterr.KindValidation, opRun,
			fmt.Errorf("%w: %q", ErrUnknownKind, req.Kind)))
	}

	if r.cfg.RequireIdentity && auth.IdentityFromContext(ctx) == nil {
		return res, r.fail(ctx, sink, agenterr.New(agenterr.KindUnauthorized, opRun, auth.ErrMissingCredentials))
	}

	resolved, err := r.cfg.Resolver.Resolve(ctx, string(req.Kind))
	if err != nil {
		return res, r.fail(ctx, sink, err)
	}
	params := resolved.Config.Parameters
	res.Model = resolved.Config.Model
	res.VersionID = resolved.VersionID

	maxSteps := params.MaxSteps
	if rt.def.MaxSteps > 0 && (maxSteps <= 0 || maxSteps > rt.def.MaxSteps) {
		maxSteps = rt.def.MaxSteps
	}

	messages := make([]loop.Message, 0, len(req.Messages)+1)
	if rt.def.SystemPrompt != "" {
		messages = append(messages, loop.Message{Role: loop.RoleSystem, Content: rt.def.SystemPrompt})
	}
	messages = append(messages, req.Messages...)

	res.Budget = r.cfg.Clamper.Estimate(loop.TokenMessages(messages), params.MaxTokens, res.Model)
	span.SetAttributes(
		observe.Attr("agent.config.version_id", res.VersionID),
		observe.Attr("model", res.Model),
		observe.Attr("loop.max_steps", maxSteps),
		observe.Attr("token_budget.max_tokens", res.Budget.MaxTokens),
		observe.Attr("token_budget.prompt_tokens", res.Budget.PromptTokens),
	)

	logger := r.cfg.Logger
	logger.Info(ctx, "agent run started",
		observe.F("agent.kind", string(req.Kind)),
		observe.F("agent.run_id", req.RunID),
		observe.F("agent.config.version_id", res.VersionID),
		observe.F("model", res.Model),
	)

	out, err := rt.controller.Run(ctx, loop.RunInput{
		Messages:        messages,
		Model:           res.Model,
		MaxSteps:        maxSteps,
		MaxOutputTokens: params.MaxTokens,
		Temperature:     params.Temperature,
		TopP:            params.TopP,
	}, sink)
	res.RunResult = out
	if err != nil {
		return res, err
	}

	logger.Info(ctx, "agent run finished",
		observe.F("agent.run_id", req.RunID),
		observe.F("loop.steps", out.Steps),
		observe.F("loop.stop_reason", out.StopReason),
	)
	return res, nil
}

// fail reports a pre-loop failure to sink and returns it.
func (r *Runner) fail(ctx context.Context, sink loop.EventSink, err error) error {
	msg, kind := r.cfg.Mapper.Render(err)
	r.cfg.Logger.Error(ctx, "agent run rejected",
		observe.F("kind", kind.String()),
		observe.F("error", err),
	)
	sink.Error(context.WithoutCancel(ctx), msg, kind)
	return err
}
