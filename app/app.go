package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/jonwraymond/agentguard/agent"
	"github.com/jonwraymond/agentguard/agentconfig"
	"github.com/jonwraymond/agentguard/auth"
	"github.com/jonwraymond/agentguard/cache"
	"github.com/jonwraymond/agentguard/catalog"
	"github.com/jonwraymond/agentguard/config"
	"github.com/jonwraymond/agentguard/guardrail"
	"github.com/jonwraymond/agentguard/health"
	"github.com/jonwraymond/agentguard/loop"
	"github.com/jonwraymond/agentguard/observe"
	"github.com/jonwraymond/agentguard/provider/openai"
	"github.com/jonwraymond/agentguard/ratelimit"
	"github.com/jonwraymond/agentguard/recovery"
	"github.com/jonwraymond/agentguard/resilience"
	"github.com/jonwraymond/agentguard/server"
	"github.com/jonwraymond/agentguard/tokenbudget"
	"github.com/jonwraymond/agentguard/tools/remote"
)

// Options adjusts New.
type Options struct {
	// Version is reported as the service version.
	Version string

	// LogWriter receives logs. Default: stderr.
	LogWriter io.Writer

	// Model replaces the configured provider.
	Model loop.Model

	// HTTPClient is used by remote tools.
	HTTPClient *http.Client
}

// App is the assembled service.
type App struct {
	Config   *config.Config
	Observer observe.Observer
	Redis    redis.UniversalClient
	Store    *agentconfig.SQLStore
	Tags     agentconfig.VersionTags
	Resolver *agentconfig.Resolver
	Runner   *agent.Runner
	Health   *health.Aggregator
	Server   *server.Server

	closers []func(context.Context) error
}

// New builds the service. On failure everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config, opts Options) (_ *App, err error) {
	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := a.observe(ctx, reg, opts); err != nil {
		return nil, err
	}
	logger := a.Observer.Logger()

	if cfg.Redis.Enabled() {
		a.Redis = NewRedis(cfg.Redis)
		a.onClose(func(context.Context) error { return a.Redis.Close() })
		a.Tags = agentconfig.NewRedisVersionTags(a.Redis)
	} else {
		a.Tags = agentconfig.NewMemoryVersionTags()
	}

	a.Store, err = OpenStore(ctx, cfg.Database, a.Tags)
	if err != nil {
		return nil, err
	}
	a.onClose(func(context.Context) error { return a.Store.Close() })

	cat := catalog.Default()
	if a.Resolver, err = a.resolver(cat); err != nil {
		return nil, err
	}

	model := opts.Model
	if model == nil {
		p, err := openai.New(openai.Config{
			APIKey:            cfg.Provider.APIKey,
			BaseURL:           cfg.Provider.BaseURL,
			Timeout:           cfg.Provider.Timeout,
			MaxAttempts:       cfg.Provider.MaxAttempts,
			CircuitFailures:   cfg.Provider.CircuitFailures,
			CircuitReset:      cfg.Provider.CircuitReset,
			RequestsPerSecond: cfg.Provider.RequestsPerSecond,
			OnCircuitChange: func(from, to resilience.State) {
				logger.Warn(context.Background(), "provider circuit changed state",
					observe.F("from", from.String()),
					observe.F("to", to.String()),
				)
			},
		})
		if err != nil {
			return nil, err
		}
		model = p
	}

	tools, err := RemoteTools(cfg.Tools, opts.HTTPClient)
	if err != nil {
		return nil, err
	}
	defs, err := Definitions(cfg.Agents)
	if err != nil {
		return nil, err
	}

	mapper := recovery.NewMapper()
	a.Runner, err = agent.NewRunner(agent.Config{
		Resolver:        a.Resolver,
		Composer:        a.composer(),
		Model:           model,
		Tools:           tools,
		Definitions:     defs,
		Clamper:         a.clamper(cat),
		RequireIdentity: cfg.Auth.Enabled,
		Mapper:          mapper,
		Tracer:          a.Observer.Tracer(),
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}

	a.Health = a.checks(model)

	authn, err := Authenticator(cfg.Auth)
	if err != nil {
		return nil, err
	}
	var authz auth.Authorizer = auth.AllowAll{}
	if len(cfg.Auth.Roles) > 0 {
		authz = auth.NewRoleAuthorizer(cfg.Auth.Roles)
	}

	a.Server, err = server.New(server.Config{
		Runner:            a.Runner,
		Authenticator:     authn,
		RequireAuth:       cfg.Auth.Enabled,
		Authorizer:        authz,
		Health:            a.Health,
		Metrics:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		MaxConcurrentRuns: cfg.Server.MaxConcurrentRuns,
		QueueTimeout:      cfg.Server.QueueTimeout,
		RunTimeout:        cfg.Server.RunTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		Mapper:            mapper,
		Tracer:            a.Observer.Tracer(),
		Logger:            logger,
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "service assembled",
		observe.F("agents", len(defs)),
		observe.F("tools", len(tools)),
		observe.F("cache.backend", cfg.Cache.Backend),
		observe.F("ratelimit.backend", cfg.RateLimit.Backend),
		observe.F("database.driver", cfg.Database.Driver),
	)
	return a, nil
}

// Close releases every resource in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for _, c := range slices.Backward(a.closers) {
		if err := c(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

func (a *App) observe(ctx context.Context, reg prometheus.Registerer, opts Options) error {
	cfg := a.Config.Observe
	if cfg.Version == "" {
		cfg.Version = opts.Version
	}
	obsOpts := []observe.Option{observe.WithRegisterer(reg)}
	if opts.LogWriter != nil {
		obsOpts = append(obsOpts, observe.WithLogWriter(opts.LogWriter))
	}
	obs, err := observe.NewObserver(ctx, cfg, obsOpts...)
	if err != nil {
		return fmt.Errorf("observe: %w", err)
	}
	a.Observer = obs
	a.onClose(obs.Shutdown)
	return nil
}

// cacheFor returns the configured cache backend for one key space.
func (a *App) cacheFor(space string) cache.Cache {
	if a.Config.Cache.Backend == config.BackendRedis {
		return cache.NewRedisCache(a.Redis, a.Config.Redis.Prefix+":"+space+":")
	}
	return cache.NewMemoryCache()
}

func (a *App) cachePolicy() cache.Policy {
	p := cache.DefaultPolicy()
	if a.Config.Cache.DefaultTTL > 0 {
		p.DefaultTTL = a.Config.Cache.DefaultTTL
	}
	if a.Config.Cache.MaxTTL > 0 {
		p.MaxTTL = a.Config.Cache.MaxTTL
	}
	return p
}

func (a *App) resolver(cat *catalog.Catalog) (*agentconfig.Resolver, error) {
	validator, err := agentconfig.NewValidator(cat)
	if err != nil {
		return nil, err
	}
	return agentconfig.NewResolver(agentconfig.Options{
		Store:        a.Store,
		Validator:    validator,
		Tags:         a.Tags,
		Cache:        a.cacheFor("config"),
		Scope:        a.Config.Resolver.Scope,
		TTL:          a.Config.Resolver.TTL,
		CachePolicy:  a.cachePolicy(),
		CacheTimeout: a.Config.Cache.Timeout,
		StoreTimeout: a.Config.Resolver.StoreTimeout,
		Tracer:       a.Observer.Tracer(),
		Metrics:      a.Observer.Metrics(),
		Logger:       a.Observer.Logger(),
	})
}

func (a *App) composer() *guardrail.Composer {
	var svc ratelimit.Service
	if a.Config.RateLimit.Backend == config.BackendRedis {
		svc = ratelimit.NewRedisWindow(a.Redis, a.Config.Redis.Prefix+":ratelimit:")
	} else {
		svc = ratelimit.NewMemoryWindow()
	}
	return guardrail.NewComposer(guardrail.Deps{
		Cache:          a.cacheFor("tools"),
		CachePolicy:    a.cachePolicy(),
		Limiter:        ratelimit.NewLimiter(svc),
		Tracer:         a.Observer.Tracer(),
		Metrics:        a.Observer.Metrics(),
		Logger:         a.Observer.Logger(),
		CacheTimeout:   a.Config.Cache.Timeout,
		LimiterTimeout: a.Config.RateLimit.Timeout,
	})
}

func (a *App) clamper(cat *catalog.Catalog) *tokenbudget.Clamper {
	var counter tokenbudget.Counter
	if a.Config.Budget.Counter == config.CounterHeuristic {
		counter = tokenbudget.HeuristicCounter{}
	}
	return tokenbudget.NewClamper(tokenbudget.Config{
		Catalog:         cat,
		Counter:         counter,
		SafetyMargin:    a.Config.Budget.SafetyMargin,
		MinOutputTokens: a.Config.Budget.MinOutputTokens,
		Metrics:         a.Observer.Metrics(),
		Logger:          a.Observer.Logger(),
	})
}

// checks registers the readiness probes. Only the config database is
// critical: caches fail open and a tripped provider circuit recovers on its
// own. Redis is critical when it backs rate limits, which fail closed.
func (a *App) checks(model loop.Model) *health.Aggregator {
	agg := health.NewAggregator(0)
	agg.Register("database", health.SQLChecker(a.Store.DB()))
	if a.Redis != nil {
		var opts []health.RegisterOption
		if a.Config.RateLimit.Backend != config.BackendRedis {
			opts = append(opts, health.NonCritical())
		}
		agg.Register("redis", health.RedisChecker(a.Redis), opts...)
	}
	if p, ok := model.(*openai.Provider); ok {
		agg.Register("provider", health.CircuitChecker(p.CircuitState), health.NonCritical())
	}
	agg.Register("runtime", health.RuntimeChecker(health.RuntimeConfig{MaxGoroutines: 10_000}), health.NonCritical())
	return agg
}

// NewRedis creates the shared redis client.
func NewRedis(cfg config.RedisConfig) redis.UniversalClient {
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.Addr},
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// OpenStore opens the config database, migrating it when configured.
// tags may be nil.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig, tags agentconfig.VersionTags) (*agentconfig.SQLStore, error) {
	opts := []agentconfig.StoreOption{agentconfig.WithTable(cfg.Table)}
	if tags != nil {
		opts = append(opts, agentconfig.WithVersionTags(tags))
	}
	store, err := agentconfig.OpenSQLStore(ctx, cfg.Driver, cfg.DSN, opts...)
	if err != nil {
		return nil, err
	}
	if cfg.Migrate {
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("migrate config store: %w", err)
		}
	}
	return store, nil
}

// RemoteTools builds one HTTP tool per configured endpoint.
func RemoteTools(cfgs []config.ToolConfig, client *http.Client) ([]guardrail.Tool, error) {
	out := make([]guardrail.Tool, 0, len(cfgs))
	for _, tc := range cfgs {
		var schema json.RawMessage
		if tc.Schema != "" {
			schema = json.RawMessage(tc.Schema)
		}
		t, err := remote.New(remote.Config{
			Name:        guardrail.ToolName(tc.Name),
			Description: tc.Description,
			URL:         tc.URL,
			InputSchema: schema,
			Headers:     tc.Headers,
			Timeout:     tc.Timeout,
			Client:      client,
		})
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", tc.Name, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// Authenticator builds the configured credential chain, or nil when none
// is configured.
func Authenticator(cfg config.AuthConfig) (auth.Authenticator, error) {
	var chain auth.Chain
	if cfg.JWT != nil {
		chain = append(chain, auth.NewJWTAuthenticator(auth.JWTConfig{
			Secret:         []byte(cfg.JWT.Secret),
			Issuer:         cfg.JWT.Issuer,
			Audience:       cfg.JWT.Audience,
			PrincipalClaim: cfg.JWT.PrincipalClaim,
			TenantClaim:    cfg.JWT.TenantClaim,
			RolesClaim:     cfg.JWT.RolesClaim,
			Leeway:         30 * time.Second,
		}))
	}
	if len(cfg.APIKeys) > 0 {
		keys := auth.NewAPIKeyAuthenticator("")
		for _, k := range cfg.APIKeys {
			if err := keys.Add(k.Key, auth.APIKey{
				ID:        k.ID,
				Principal: k.Principal,
				TenantID:  k.Tenant,
				Roles:     k.Roles,
			}); err != nil {
				return nil, fmt.Errorf("api key %s: %w", k.ID, err)
			}
		}
		chain = append(chain, keys)
	}
	if len(chain) == 0 {
		return nil, nil
	}
	return chain, nil
}
