package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonwraymond/agentguard/agentconfig"
	"github.com/jonwraymond/agentguard/agenterr"
	"github.com/jonwraymond/agentguard/auth"
	"github.com/jonwraymond/agentguard/cache"
	"github.com/jonwraymond/agentguard/catalog"
	"github.com/jonwraymond/agentguard/guardrail"
	"github.com/jonwraymond/agentguard/loop"
	"github.com/jonwraymond/agentguard/ratelimit"
	"github.com/jonwraymond/agentguard/recovery"
	"github.com/jonwraymond/agentguard/tokenbudget"
)

// memStore serves one record per agent type.
type memStore struct {
	mu      sync.Mutex
	records map[string]agentconfig.StoredRecord
}

func (s *memStore) put(agentType, model, params string, version int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.records == nil {
		s.records = make(map[string]agentconfig.StoredRecord)
	}
	now := time.Now().UTC()
	s.records[agentType] = agentconfig.StoredRecord{
		ID:         agentType,
		AgentType:  agentType,
		Scope:      agentconfig.GlobalScope,
		Model:      model,
		Parameters: json.RawMessage(params),
		VersionID:  version,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (s *memStore) Latest(_ context.Context, agentType, _ string) (agentconfig.StoredRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[agentType]
	if !ok {
		return agentconfig.StoredRecord{}, agentconfig.ErrConfigNotFound
	}
	return rec, nil
}

type resolverFunc func(ctx context.Context, agentType string) (agentconfig.Resolved, error)

func (f resolverFunc) Resolve(ctx context.Context, agentType string) (agentconfig.Resolved, error) {
	return f(ctx, agentType)
}

// recordingSink captures events in order.
type recordingSink struct {
	mu     sync.Mutex
	events []string
	errMsg string
	kind   agenterr.Kind
	done   *loop.RunResult
}

func (s *recordingSink) add(e string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) Text(context.Context, int, string)            { s.add("text") }
func (s *recordingSink) ToolCall(context.Context, int, loop.ToolCall) { s.add("tool_call") }
func (s *recordingSink) ToolResult(context.Context, int, loop.ToolCallRecord) {
	s.add("tool_result")
}

func (s *recordingSink) Error(_ context.Context, msg string, kind agenterr.Kind) {
	s.add("error")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errMsg, s.kind = msg, kind
}

func (s *recordingSink) Done(_ context.Context, r loop.RunResult) {
	s.add("done")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = &r
}

func stubTools(calls *atomic.Int64) []guardrail.Tool {
	names := []guardrail.ToolName{
		ToolGeocode, ToolSearchPlaces, ToolSearchFlights, ToolSearchHotels,
		ToolCheckAvailability, ToolCreateBooking,
	}
	out := make([]guardrail.Tool, 0, len(names))
	for _, n := range names {
		name := n
		out = append(out, guardrail.NewFuncTool(name, string(name), json.RawMessage(`{"type":"object"}`),
			func(context.Context, map[string]any, guardrail.CallOptions) (json.RawMessage, error) {
				if calls != nil {
					calls.Add(1)
				}
				return json.RawMessage(`{"ok":true,"tool":"` + string(name) + `"}`), nil
			}))
	}
	return out
}

func newComposer() *guardrail.Composer {
	return guardrail.NewComposer(guardrail.Deps{
		Cache:   cache.NewMemoryCache(),
		Limiter: ratelimit.NewLimiter(ratelimit.NewMemoryWindow()),
	})
}

func testClamper() *tokenbudget.Clamper {
	return tokenbudget.NewClamper(tokenbudget.Config{Counter: tokenbudget.HeuristicCounter{}})
}

func newResolver(t *testing.T, store agentconfig.Store) *agentconfig.Resolver {
	t.Helper()
	v, err := agentconfig.NewValidator(catalog.Default())
	require.NoError(t, err)
	r, err := agentconfig.NewResolver(agentconfig.Options{Store: store, Validator: v, Cache: cache.NewMemoryCache()})
	require.NoError(t, err)
	return r
}

// scripted returns the responses in order and records each request.
type scripted struct {
	mu        sync.Mutex
	responses []loop.ModelResponse
	requests  []loop.ModelRequest
}

func (s *scripted) Generate(_ context.Context, req loop.ModelRequest) (loop.ModelResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	i := len(s.requests) - 1
	if i >= len(s.responses) {
		return s.responses[len(s.responses)-1], nil
	}
	return s.responses[i], nil
}

func geocodeCall(id, query string) loop.ToolCall {
	return loop.ToolCall{ID: id, Name: ToolGeocode, Arguments: map[string]any{"query": query}}
}

func TestRunner_TripPlannerRun(t *testing.T) {
	store := &memStore{}
	store.put(string(KindTripPlanner), "gpt-4o-mini", `{"temperature":0.3,"topP":1,"maxTokens":1024,"maxSteps":8}`, 4)

	var calls atomic.Int64
	model := &scripted{responses: []loop.ModelResponse{
		{ToolCalls: []loop.ToolCall{geocodeCall("c1", "Lisbon"), geocodeCall("c2", "  LISBON ")}},
		{Content: "Day 1: Alfama."},
	}}
	r, err := NewRunner(Config{
		Resolver: newResolver(t, store),
		Composer: newComposer(),
		Clamper:  testClamper(),
		Model:    model,
		Tools:    stubTools(&calls),
	})
	require.NoError(t, err)

	sink := &recordingSink{}
	res, err := r.Run(context.Background(), Request{
		Kind:     KindTripPlanner,
		Messages: []loop.Message{{Role: loop.RoleUser, Content: "Three days in Lisbon"}},
	}, sink)
	require.NoError(t, err)

	assert.Equal(t, int64(4), res.VersionID)
	assert.Equal(t, "gpt-4o-mini", res.Model)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, "Day 1: Alfama.", res.Text)
	assert.Equal(t, loop.StopFinal, res.StopReason)
	assert.Equal(t, 2, res.Steps)
	assert.Positive(t, res.Budget.MaxTokens)
	assert.LessOrEqual(t, res.Budget.MaxTokens, 1024)

	// Both geocode queries normalize to one cache key.
	assert.Equal(t, int64(1), calls.Load())

	require.Len(t, model.requests, 2)
	first := model.requests[0]
	require.NotEmpty(t, first.Messages)
	assert.Equal(t, loop.RoleSystem, first.Messages[0].Role)
	assert.Equal(t, TripPlanner().SystemPrompt, first.Messages[0].Content)
	require.Len(t, first.Tools, 1)
	assert.Equal(t, ToolGeocode, first.Tools[0].Name)
	assert.InDelta(t, 0.3, first.Temperature, 1e-9)
	assert.Equal(t, []string{"tool_call", "tool_result", "tool_call", "tool_result", "text", "done"}, sink.events)
}

func TestRunner_MaxStepsCappedByDefinition(t *testing.T) {
	def := TripPlanner()
	def.MaxSteps = 4

	model := &scripted{responses: []loop.ModelResponse{
		{ToolCalls: []loop.ToolCall{geocodeCall("", "Porto")}},
	}}
	r, err := NewRunner(Config{
		Resolver: resolverFunc(func(context.Context, string) (agentconfig.Resolved, error) {
			return agentconfig.Resolved{
				Config: agentconfig.Record{
					Model:      "gpt-4o",
					Parameters: agentconfig.Parameters{MaxTokens: 512, MaxSteps: 50},
				},
				VersionID: 1,
			}, nil
		}),
		Composer:    newComposer(),
		Clamper:     testClamper(),
		Model:       model,
		Tools:       stubTools(nil),
		Definitions: []Definition{def},
	})
	require.NoError(t, err)

	res, err := r.Run(context.Background(), Request{Kind: KindTripPlanner}, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Steps)
	assert.Equal(t, loop.StopMaxSteps, res.StopReason)
	assert.Len(t, model.requests, 4)
}

func TestRunner_InvalidConfigAbortsBeforeModel(t *testing.T) {
	store := &memStore{}
	store.put(string(KindBookingAssistant), "not-a-model", `{"temperature":0.3,"maxTokens":1024,"maxSteps":8}`, 9)

	model := &scripted{responses: []loop.ModelResponse{{Content: "never"}}}
	r, err := NewRunner(Config{
		Resolver: newResolver(t, store),
		Composer: newComposer(),
		Clamper:  testClamper(),
		Model:    model,
		Tools:    stubTools(nil),
	})
	require.NoError(t, err)

	sink := &recordingSink{}
	_, err = r.Run(context.Background(), Request{Kind: KindBookingAssistant}, sink)
	require.Error(t, err)
	assert.Equal(t, agenterr.KindConfigValidationFailed, agenterr.KindOf(err))
	assert.Empty(t, model.requests)
	assert.Equal(t, []string{"error"}, sink.events)
	assert.Equal(t, recovery.Message(agenterr.KindConfigValidationFailed), sink.errMsg)
	assert.NotContains(t, sink.errMsg, "not-a-model")
}

func TestRunner_Rejections(t *testing.T) {
	ok := resolverFunc(func(context.Context, string) (agentconfig.Resolved, error) {
		return agentconfig.Resolved{Config: agentconfig.Record{Model: "gpt-4o"}}, nil
	})
	newRunner := func(t *testing.T, requireIdentity bool) *Runner {
		r, err := NewRunner(Config{
			Resolver:        ok,
			Composer:        newComposer(),
			Clamper:         testClamper(),
			Model:           &scripted{responses: []loop.ModelResponse{{Content: "hi"}}},
			Tools:           stubTools(nil),
			RequireIdentity: requireIdentity,
		})
		require.NoError(t, err)
		return r
	}

	t.Run("unknown kind", func(t *testing.T) {
		sink := &recordingSink{}
		_, err := newRunner(t, false).Run(context.Background(), Request{Kind: "cruise-planner"}, sink)
		assert.ErrorIs(t, err, ErrUnknownKind)
		assert.Equal(t, agenterr.KindValidation, sink.kind)
	})

	t.Run("identity required", func(t *testing.T) {
		r := newRunner(t, true)
		sink := &recordingSink{}
		_, err := r.Run(context.Background(), Request{Kind: KindTripPlanner}, sink)
		assert.Equal(t, agenterr.KindUnauthorized, agenterr.KindOf(err))
		assert.Equal(t, agenterr.KindUnauthorized, sink.kind)

		ctx := auth.WithIdentity(context.Background(), &auth.Identity{Principal: "user-1"})
		res, err := r.Run(ctx, Request{Kind: KindTripPlanner}, nil)
		require.NoError(t, err)
		assert.Equal(t, "hi", res.Text)
	})

	t.Run("resolver failure", func(t *testing.T) {
		r, err := NewRunner(Config{
			Resolver: resolverFunc(func(context.Context, string) (agentconfig.Resolved, error) {
				return agentconfig.Resolved{}, agenterr.New(agenterr.KindTimeout, "test", context.DeadlineExceeded)
			}),
			Composer: newComposer(),
			Clamper:  testClamper(),
			Model:    &scripted{responses: []loop.ModelResponse{{Content: "hi"}}},
			Tools:    stubTools(nil),
		})
		require.NoError(t, err)
		sink := &recordingSink{}
		_, err = r.Run(context.Background(), Request{Kind: KindTripPlanner}, sink)
		assert.ErrorIs(t, err, agenterr.ErrTimeout)
		assert.Equal(t, recovery.Message(agenterr.KindTimeout), sink.errMsg)
	})
}

func TestNewRunner_Validation(t *testing.T) {
	base := func() Config {
		return Config{
			Resolver: resolverFunc(func(context.Context, string) (agentconfig.Resolved, error) {
				return agentconfig.Resolved{}, nil
			}),
			Composer: newComposer(),
			Clamper:  testClamper(),
			Model:    &scripted{},
			Tools:    stubTools(nil),
		}
	}

	cfg := base()
	cfg.Resolver = nil
	_, err := NewRunner(cfg)
	assert.ErrorIs(t, err, ErrNilResolver)

	cfg = base()
	cfg.Composer = nil
	_, err = NewRunner(cfg)
	assert.ErrorIs(t, err, ErrNilComposer)

	cfg = base()
	cfg.Model = nil
	_, err = NewRunner(cfg)
	assert.ErrorIs(t, err, ErrNilModel)

	cfg = base()
	cfg.Tools = cfg.Tools[:1]
	_, err = NewRunner(cfg)
	assert.Equal(t, agenterr.KindToolNotFound, agenterr.KindOf(err))

	cfg = base()
	cfg.Definitions = []Definition{TripPlanner(), TripPlanner()}
	_, err = NewRunner(cfg)
	assert.ErrorIs(t, err, ErrDuplicateKind)

	cfg = base()
	cfg.Definitions = []Definition{{Kind: "empty"}}
	_, err = NewRunner(cfg)
	assert.ErrorIs(t, err, loop.ErrEmptyPlan)

	cfg = base()
	cfg.Composer = guardrail.NewComposer(guardrail.Deps{})
	_, err = NewRunner(cfg)
	assert.True(t, errors.Is(err, guardrail.ErrMissingCache) || errors.Is(err, guardrail.ErrMissingLimiter))

	r, err := NewRunner(base())
	require.NoError(t, err)
	assert.Equal(t, []Kind{KindTripPlanner, KindBookingAssistant}, r.Kinds())
	assert.True(t, r.Has(KindBookingAssistant))
	assert.False(t, r.Has("cruise-planner"))
}
