package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jonwraymond/agentguard/agent"
	"github.com/jonwraymond/agentguard/auth"
	"github.com/jonwraymond/agentguard/health"
	"github.com/jonwraymond/agentguard/loop"
	"github.com/jonwraymond/agentguard/observe"
	"github.com/jonwraymond/agentguard/recovery"
	"github.com/jonwraymond/agentguard/resilience"
)

const (
	// HeaderRunID carries the run id on requests and responses.
	HeaderRunID = "X-Run-Id"

	// SpanRequest is the span name of every HTTP request.
	SpanRequest = "http.request"
)

// Runner executes agent runs.
//
// Contract:
//   - Concurrency: must be safe for concurrent use.
//   - Run reports every failure to sink before returning it.
type Runner interface {
	Kinds() []agent.Kind
	Has(kind agent.Kind) bool
	Run(ctx context.Context, req agent.Request, sink loop.EventSink) (agent.Result, error)
}

var _ Runner = (*agent.Runner)(nil)

// Config configures a Server.
type Config struct {
	// Runner serves the runs. Required.
	Runner Runner

	// Authenticator validates credentials. Nil serves every caller as
	// anonymous.
	Authenticator auth.Authenticator

	// RequireAuth rejects requests without credentials.
	RequireAuth bool

	// Authorizer decides which callers may run which kinds.
	// Default: auth.AllowAll
	Authorizer auth.Authorizer

	// Health backs /healthz, /readyz and /health. Default: an empty aggregator.
	Health *health.Aggregator

	// Metrics serves /metrics. Default: promhttp.Handler()
	Metrics http.Handler

	// MaxConcurrentRuns caps in-flight runs. Default: 64
	MaxConcurrentRuns int

	// QueueTimeout is how long a run waits for a slot. Default: 0 (reject)
	QueueTimeout time.Duration

	// RunTimeout bounds a single run. Default: 2m
	RunTimeout time.Duration

	// ReadHeaderTimeout bounds request header reads. Default: 10s
	ReadHeaderTimeout time.Duration

	// ShutdownTimeout bounds graceful shutdown. Default: 15s
	ShutdownTimeout time.Duration

	Mapper *recovery.Mapper
	Tracer observe.Tracer
	Logger observe.Logger
}

// Server is the HTTP front of the agent runner.
type Server struct {
	cfg      Config
	bulkhead *resilience.Bulkhead
	router   chi.Router
}

// New creates a Server, applying defaults to cfg.
func New(cfg Config) (*Server, error) {
	if cfg.Runner == nil {
		return nil, ErrNilRunner
	}
	if cfg.Authorizer == nil {
		cfg.Authorizer = auth.AllowAll{}
	}
	if cfg.Health == nil {
		cfg.Health = health.NewAggregator(0)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = promhttp.Handler()
	}
	if cfg.MaxConcurrentRuns <= 0 {
		cfg.MaxConcurrentRuns = 64
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 2 * time.Minute
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
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

	s := &Server{
		cfg: cfg,
		bulkhead: resilience.NewBulkhead(resilience.BulkheadConfig{
			MaxConcurrent: cfg.MaxConcurrentRuns,
			MaxWait:       cfg.QueueTimeout,
		}),
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)

	health.Mount(r, s.cfg.Health)
	r.Method(http.MethodGet, "/metrics", s.cfg.Metrics)

	r.Route("/v1", func(r chi.Router) {
		r.Use(auth.Middleware(auth.MiddlewareConfig{
			Authenticator: s.cfg.Authenticator,
			Required:      s.cfg.RequireAuth,
			OnError: func(w http.ResponseWriter, _ *http.Request, err error) {
				writeError(w, http.StatusUnauthorized, "unauthorized", authMessage(err))
			},
			OnInternalError: func(w http.ResponseWriter, r *http.Request, err error) {
				s.cfg.Logger.Error(r.Context(), "authentication failed", observe.F("error", err))
				writeError(w, http.StatusInternalServerError, "internal", "Authentication is unavailable. Please try again later.")
			},
		}))
		r.Get("/agents", s.handleKinds)
		r.Post("/agents/{kind}/runs", s.handleRun)
	})
	return r
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve accepts connections on l until ctx is done, then shuts down
// gracefully. In-flight runs are cancelled once ShutdownTimeout passes.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	baseCtx, cancelRuns := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRuns()

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(l)
	}()
	s.cfg.Logger.Info(ctx, "server listening", observe.F("addr", l.Addr().String()))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	if errors.Is(err, context.DeadlineExceeded) {
		cancelRuns()
		err = srv.Close()
	}
	if serveErr := <-errc; !errors.Is(serveErr, http.ErrServerClosed) && err == nil {
		err = serveErr
	}
	s.cfg.Logger.Info(ctx, "server stopped")
	return err
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

// accessLog traces and logs each request under its chi route pattern.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := observe.StartSpan(r.Context(), s.cfg.Tracer, SpanRequest,
			observe.Attr("http.method", r.Method),
			observe.Attr("http.path", r.URL.Path),
		)
		r = r.WithContext(ctx)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		span.SetAttributes(
			observe.Attr("http.route", route),
			observe.Attr("http.status_code", ww.Status()),
		)
		var spanErr error
		if ww.Status() >= http.StatusInternalServerError {
			spanErr = errors.New(http.StatusText(ww.Status()))
		}
		span.End(spanErr)

		s.cfg.Logger.Debug(r.Context(), "http request",
			observe.F("http.method", r.Method),
			observe.F("http.route", route),
			observe.F("http.status", ww.Status()),
			observe.F("http.bytes", ww.BytesWritten()),
			observe.F("http.duration_ms", time.Since(start).Milliseconds()),
			observe.F("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
