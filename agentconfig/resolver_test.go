package agentconfig

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
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/jonwraymond/agentguard/agenterr"
	"github.com/jonwraymond/agentguard/cache"
	"github.com/jonwraymond/agentguard/observe"
	"github.com/jonwraymond/agentguard/resilience"
)

const validParams = `{"temperature":0.5,"topP":1,"maxTokens":2048,"maxSteps":10}`

// fakeStore holds the latest record per agent type.
type fakeStore struct {
	mu      sync.Mutex
	records map[string]StoredRecord
	calls   atomic.Int64
	delay   time.Duration
	fails   int
	err     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]StoredRecord)}
}

func (s *fakeStore) publish(agentType, model, params string, version int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	s.records[agentType] = StoredRecord{
		ID:         agentType + "-" + model,
		AgentType:  agentType,
		Scope:      GlobalScope,
		Model:      model,
		Parameters: json.RawMessage(params),
		VersionID:  version,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (s *fakeStore) Latest(ctx context.Context, agentType, scope string) (StoredRecord, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return StoredRecord{}, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fails > 0 {
		s.fails--
		return StoredRecord{}, errors.New("driver: bad connection")
	}
	if s.err != nil {
		return StoredRecord{}, s.err
	}
	rec, ok := s.records[agentType]
	if !ok {
		return StoredRecord{}, ErrConfigNotFound
	}
	return rec, nil
}

type recordedAlert struct {
	name  string
	attrs map[string]any
}

type spyAlerter struct {
	mu     sync.Mutex
	alerts []recordedAlert
}

func (a *spyAlerter) Alert(_ context.Context, name string, attrs map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, recordedAlert{name: name, attrs: attrs})
}

func (a *spyAlerter) recorded() []recordedAlert {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]recordedAlert(nil), a.alerts...)
}

type failingTags struct{}

func (failingTags) Current(context.Context, string, string) (int64, error) {
	return 0, errors.New("redis: connection refused")
}

func (failingTags) Bump(context.Context, string, string) (int64, error) {
	return 0, errors.New("redis: connection refused")
}

type brokenCache struct{ *cache.MemoryCache }

func (brokenCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("cache unavailable")
}

type harness struct {
	store    *fakeStore
	tags     *MemoryVersionTags
	cache    *cache.MemoryCache
	alerter  *spyAlerter
	recorder *tracetest.SpanRecorder
	resolver *Resolver
}

func newHarness(t *testing.T, mutate ...func(*Options)) *harness {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	h := &harness{
		store:    newFakeStore(),
		tags:     NewMemoryVersionTags(),
		cache:    cache.NewMemoryCache(),
		alerter:  &spyAlerter{},
		recorder: rec,
	}
	opts := Options{
		Store:      h.store,
		Validator:  newValidator(t),
		Tags:       h.tags,
		Cache:      h.cache,
		Alerter:    h.alerter,
		Tracer:     observe.NewTracer(tp.Tracer("test")),
		StoreRetry: resilience.NewRetry(resilience.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}),
	}
	for _, m := range mutate {
		m(&opts)
	}
	r, err := NewResolver(opts)
	require.NoError(t, err)
	h.resolver = r
	return h
}

func (h *harness) publish(t *testing.T, model string, version int64) {
	t.Helper()
	h.store.publish("trip-planner", model, validParams, version)
	_, err := h.tags.Bump(context.Background(), "trip-planner", GlobalScope)
	require.NoError(t, err)
}

func TestResolve_VersionBumpSupersedesCachedConfig(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.publish(t, "gpt-4o-mini", 1)
	first, err := h.resolver.Resolve(ctx, "trip-planner")
	require.NoError(t, err)
	assert.EqualValues(t, 1, first.VersionID)
	assert.Equal(t, "gpt-4o-mini", first.Config.Model)
	assert.Equal(t, 10, first.Config.Parameters.MaxSteps)

	again, err := h.resolver.Resolve(ctx, "trip-planner")
	require.NoError(t, err)
	assert.Equal(t, first.VersionID, again.VersionID)
	assert.Equal(t, first.Config.Model, again.Config.Model)
	assert.Equal(t, first.Config.Parameters, again.Config.Parameters)
	assert.EqualValues(t, 1, h.store.calls.Load(), "second resolution is a cache hit")

	h.publish(t, "gpt-4o", 2)
	second, err := h.resolver.Resolve(ctx, "trip-planner")
	require.NoError(t, err)
	assert.EqualValues(t, 2, second.VersionID)
	assert.Equal(t, "gpt-4o", second.Config.Model)

	_, stillThere, _ := h.cache.Get(ctx, CacheKey("trip-planner", GlobalScope, 1))
	assert.True(t, stillThere, "superseded entry is left to expire")
}

func TestResolve_InvalidModelAlertsExactlyOnce(t *testing.T) {
	h := newHarness(t)
	h.store.publish("trip-planner", "not-a-real-model", validParams, 7)

	_, err := h.resolver.Resolve(context.Background(), "trip-planner")
	require.Error(t, err)
	assert.ErrorIs(t, err, agenterr.ErrConfigValidationFailed)
	assert.Equal(t, agenterr.KindConfigValidationFailed, agenterr.KindOf(err))

	alerts := h.alerter.recorded()
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertValidationFailed, alerts[0].name)
	assert.EqualValues(t, 7, alerts[0].attrs["version_id"])
	assert.Equal(t, "trip-planner", alerts[0].attrs["agent_type"])

	assert.Zero(t, h.cache.Len(), "rejected configs are never cached")

	spans := h.recorder.Ended()
	require.Len(t, spans, 1)
	var events []string
	for _, ev := range spans[0].Events() {
		events = append(events, ev.Name)
	}
	assert.Contains(t, events, EventValidationFailed)
}

func TestResolve_CacheHitIsTrusted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cached := Resolved{Config: Record{AgentType: "trip-planner", Model: "legacy-model"}, VersionID: 3}
	b, err := json.Marshal(cached)
	require.NoError(t, err)
	require.NoError(t, h.cache.Set(ctx, CacheKey("trip-planner", GlobalScope, 0), b, time.Minute))

	got, err := h.resolver.Resolve(ctx, "trip-planner")
	require.NoError(t, err)
	assert.Equal(t, "legacy-model", got.Config.Model)
	assert.Zero(t, h.store.calls.Load())
	assert.Empty(t, h.alerter.recorded())
}

func TestResolve_UndecodableCacheEntryIsAMiss(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.publish("trip-planner", "gpt-4o", validParams, 1)
	require.NoError(t, h.cache.Set(ctx, CacheKey("trip-planner", GlobalScope, 0), []byte("{garbage"), time.Minute))

	got, err := h.resolver.Resolve(ctx, "trip-planner")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", got.Config.Model)
	assert.EqualValues(t, 1, h.store.calls.Load())
}

func TestResolve_TagFailureBypassesCache(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Tags = failingTags{} })
	h.store.publish("trip-planner", "gpt-4o", validParams, 1)

	for i := 0; i < 2; i++ {
		_, err := h.resolver.Resolve(context.Background(), "trip-planner")
		require.NoError(t, err)
	}
	assert.EqualValues(t, 2, h.store.calls.Load())
	assert.Zero(t, h.cache.Len())
}

func TestResolve_CacheFailureFailsOpen(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Cache = brokenCache{cache.NewMemoryCache()} })
	h.store.publish("trip-planner", "gpt-4o", validParams, 1)

	got, err := h.resolver.Resolve(context.Background(), "trip-planner")
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.VersionID)
}

func TestResolve_NotFoundIsNotRetried(t *testing.T) {
	h := newHarness(t)

	_, err := h.resolver.Resolve(context.Background(), "trip-planner")
	assert.ErrorIs(t, err, ErrConfigNotFound)
	assert.EqualValues(t, 1, h.store.calls.Load())
	assert.Empty(t, h.alerter.recorded())
}

func TestResolve_NotFoundIsNotRetriedUnderDefaultRetry(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.StoreRetry = nil })

	_, err := h.resolver.Resolve(context.Background(), "trip-planner")
	assert.ErrorIs(t, err, ErrConfigNotFound)
	assert.Equal(t, agenterr.KindUnknown, agenterr.KindOf(err))
	assert.EqualValues(t, 1, h.store.calls.Load())
}

func TestResolve_TransientStoreErrorsAreRetried(t *testing.T) {
	h := newHarness(t)
	h.store.publish("trip-planner", "gpt-4o", validParams, 1)
	h.store.fails = 2

	got, err := h.resolver.Resolve(context.Background(), "trip-planner")
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.VersionID)
	assert.EqualValues(t, 3, h.store.calls.Load())
}

func TestResolve_StoreTimeout(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.StoreTimeout = 20 * time.Millisecond
		o.StoreRetry = resilience.NewRetry(resilience.RetryConfig{MaxAttempts: 1})
	})
	h.store.publish("trip-planner", "gpt-4o", validParams, 1)
	h.store.delay = time.Second

	start := time.Now()
	_, err := h.resolver.Resolve(context.Background(), "trip-planner")
	assert.Equal(t, agenterr.KindTimeout, agenterr.KindOf(err))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestResolve_ConcurrentMissesCoalesce(t *testing.T) {
	h := newHarness(t)
	h.store.publish("trip-planner", "gpt-4o", validParams, 4)
	h.store.delay = 50 * time.Millisecond

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.resolver.Resolve(context.Background(), "trip-planner")
			if err == nil && res.VersionID != 4 {
				err = errors.New("wrong version")
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.EqualValues(t, 1, h.store.calls.Load())
}

func TestResolve_ConcurrentInvalidAlertsOncePerFlight(t *testing.T) {
	h := newHarness(t)
	h.store.publish("trip-planner", "not-a-real-model", validParams, 9)
	h.store.delay = 50 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.resolver.Resolve(context.Background(), "trip-planner")
		}()
	}
	wg.Wait()
	assert.Len(t, h.alerter.recorded(), 1)
}

func TestResolve_EmptyAgentType(t *testing.T) {
	h := newHarness(t)
	_, err := h.resolver.Resolve(context.Background(), " ")
	assert.ErrorIs(t, err, ErrEmptyAgentType)
	assert.Equal(t, agenterr.KindValidation, agenterr.KindOf(err))
}

func TestNewResolver_Validation(t *testing.T) {
	_, err := NewResolver(Options{Validator: newValidator(t)})
	assert.ErrorIs(t, err, ErrNilStore)

	_, err = NewResolver(Options{Store: newFakeStore()})
	assert.ErrorIs(t, err, ErrNilValidator)
}

func TestResolve_WithoutCacheReadsStoreEachTime(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Cache = nil })
	h.store.publish("trip-planner", "gpt-4o", validParams, 1)

	for i := 0; i < 3; i++ {
		_, err := h.resolver.Resolve(context.Background(), "trip-planner")
		require.NoError(t, err)
	}
	assert.EqualValues(t, 3, h.store.calls.Load())
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "agent-config:trip-planner:global:v12", CacheKey("trip-planner", "global", 12))
}
