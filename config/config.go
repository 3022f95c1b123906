package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jonwraymond/agentguard/observe"
)

// Errors returned by Validate.
var (
	ErrInvalidConfig = errors.New("config: invalid configuration")
)

// Backend names for cache and rate limit state.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Token counter names.
const (
	CounterTiktoken  = "tiktoken"
	CounterHeuristic = "heuristic"
)

// Config is the root configuration document.
type Config struct {
	Server    ServerConfig              `yaml:"server"`
	Observe   observe.Config            `yaml:"observe"`
	Secrets   map[string]map[string]any `yaml:"secrets"`
	Redis     RedisConfig               `yaml:"redis"`
	Database  DatabaseConfig            `yaml:"database"`
	Cache     CacheConfig               `yaml:"cache"`
	RateLimit RateLimitConfig           `yaml:"ratelimit"`
	Resolver  ResolverConfig            `yaml:"resolver"`
	Budget    BudgetConfig              `yaml:"budget"`
	Provider  ProviderConfig            `yaml:"provider"`
	Auth      AuthConfig                `yaml:"auth"`
	Tools     []ToolConfig              `yaml:"tools"`
	Agents    map[string]AgentConfig    `yaml:"agents"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr              string        `yaml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`

	// RunTimeout bounds a whole agent run.
	RunTimeout time.Duration `yaml:"run_timeout"`

	// MaxConcurrentRuns caps in-flight runs; QueueTimeout is how long a
	// request waits for a slot.
	MaxConcurrentRuns int           `yaml:"max_concurrent_runs"`
	QueueTimeout      time.Duration `yaml:"queue_timeout"`
}

// RedisConfig configures the shared redis client. An empty Addr disables it.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// Prefix namespaces every key written by the service.
	Prefix string `yaml:"prefix"`
}

// Enabled reports whether redis is configured.
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// DatabaseConfig configures the agent config store.
type DatabaseConfig struct {
	Driver  string `yaml:"driver"` // postgres|sqlite
	DSN     string `yaml:"dsn"`
	Table   string `yaml:"table"`
	Migrate bool   `yaml:"migrate"`
}

// CacheConfig configures tool result and config caching.
type CacheConfig struct {
	Backend    string        `yaml:"backend"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
	MaxTTL     time.Duration `yaml:"max_ttl"`
	Timeout    time.Duration `yaml:"timeout"`
}

// RateLimitConfig configures the sliding-window service.
type RateLimitConfig struct {
	Backend string        `yaml:"backend"`
	Timeout time.Duration `yaml:"timeout"`
}

// ResolverConfig configures agent config resolution.
type ResolverConfig struct {
	Scope        string        `yaml:"scope"`
	TTL          time.Duration `yaml:"ttl"`
	StoreTimeout time.Duration `yaml:"store_timeout"`
}

// BudgetConfig configures the token budget clamp.
type BudgetConfig struct {
	Counter         string `yaml:"counter"`
	SafetyMargin    int    `yaml:"safety_margin"`
	MinOutputTokens int    `yaml:"min_output_tokens"`
}

// ProviderConfig configures the model provider.
type ProviderConfig struct {
	APIKey            string        `yaml:"api_key"`
	BaseURL           string        `yaml:"base_url"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxAttempts       int           `yaml:"max_attempts"`
	CircuitFailures   int           `yaml:"circuit_failures"`
	CircuitReset      time.Duration `yaml:"circuit_reset"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

// AuthConfig configures request authentication.
type AuthConfig struct {
	// Enabled requires every run to carry valid credentials.
	Enabled bool `yaml:"enabled"`

	JWT     *JWTConfig     `yaml:"jwt"`
	APIKeys []APIKeyConfig `yaml:"api_keys"`

	// Roles maps role names to the agent kinds they may run. Empty allows
	// every authenticated caller to run every kind.
	Roles map[string][]string `yaml:"roles"`
}

// JWTConfig configures HMAC-signed bearer tokens.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	Issuer         string `yaml:"issuer"`
	Audience       string `yaml:"audience"`
	PrincipalClaim string `yaml:"principal_claim"`
	TenantClaim    string `yaml:"tenant_claim"`
	RolesClaim     string `yaml:"roles_claim"`
}

// APIKeyConfig is one static API key. Key is the plaintext key, usually a
// secretref.
type APIKeyConfig struct {
	ID        string   `yaml:"id"`
	Key       string   `yaml:"key"`
	Principal string   `yaml:"principal"`
	Tenant    string   `yaml:"tenant"`
	Roles     []string `yaml:"roles"`
}

// ToolConfig binds a tool name to a remote endpoint.
type ToolConfig struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	URL         string            `yaml:"url"`
	Schema      string            `yaml:"schema"`
	Timeout     time.Duration     `yaml:"timeout"`
	Headers     map[string]string `yaml:"headers"`
}

// AgentConfig overrides the shape of one agent kind.
type AgentConfig struct {
	Disabled       bool `yaml:"disabled"`
	MaxSteps       int  `yaml:"max_steps"`
	SearchFromStep int  `yaml:"search_from_step"`
}

// Default returns a configuration suitable for local development.
func Default() Config {
	var c Config
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	s := &c.Server
	if s.Addr == "" {
		s.Addr = ":8080"
	}
	if s.ReadHeaderTimeout <= 0 {
		s.ReadHeaderTimeout = 10 * time.Second
	}
	if s.ShutdownTimeout <= 0 {
		s.ShutdownTimeout = 15 * time.Second
	}
	if s.RunTimeout <= 0 {
		s.RunTimeout = 2 * time.Minute
	}
	if s.MaxConcurrentRuns <= 0 {
		s.MaxConcurrentRuns = 64
	}
	if s.QueueTimeout <= 0 {
		s.QueueTimeout = 2 * time.Second
	}

	if c.Observe.ServiceName == "" {
		c.Observe.ServiceName = "agentguard"
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "agentguard"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.DSN == "" && c.Database.Driver == "sqlite" {
		c.Database.DSN = "file:agentguard.db?_pragma=busy_timeout(5000)"
	}

	if c.Cache.Backend == "" {
		c.Cache.Backend = c.defaultBackend()
	}
	if c.RateLimit.Backend == "" {
		c.RateLimit.Backend = c.defaultBackend()
	}
	if c.Budget.Counter == "" {
		c.Budget.Counter = CounterTiktoken
	}
	if c.Secrets == nil {
		c.Secrets = map[string]map[string]any{"env": {}}
	}
}

func (c *Config) defaultBackend() string {
	if c.Redis.Enabled() {
		return BackendRedis
	}
	return BackendMemory
}

// Validate checks the configuration. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if err := c.Observe.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Server.MaxConcurrentRuns < 0 {
		add("server.max_concurrent_runs must be positive")
	}

	for _, b := range []struct{ field, value string }{
		{"cache.backend", c.Cache.Backend},
		{"ratelimit.backend", c.RateLimit.Backend},
	} {
		switch b.value {
		case BackendMemory:
		case BackendRedis:
			if !c.Redis.Enabled() {
				add("%s is redis but redis.addr is empty", b.field)
			}
		default:
			add("%s: unknown backend %q", b.field, b.value)
		}
	}

	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		add("database.driver: unknown driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		add("database.dsn is required")
	}

	if c.Cache.MaxTTL > 0 && c.Cache.DefaultTTL > c.Cache.MaxTTL {
		add("cache.default_ttl exceeds cache.max_ttl")
	}
	switch c.Budget.Counter {
	case CounterTiktoken, CounterHeuristic:
	default:
		add("budget.counter: unknown counter %q", c.Budget.Counter)
	}
	if c.Budget.SafetyMargin < 0 || c.Budget.MinOutputTokens < 0 {
		add("budget values must not be negative")
	}

	if c.Provider.BaseURL != "" {
		if u, err := url.Parse(c.Provider.BaseURL); err != nil || u.Host == "" {
			add("provider.base_url is not an absolute url")
		}
	}

	if c.Auth.Enabled && c.Auth.JWT == nil && len(c.Auth.APIKeys) == 0 {
		add("auth.enabled requires auth.jwt or auth.api_keys")
	}
	if c.Auth.JWT != nil && c.Auth.JWT.Secret == "" {
		add("auth.jwt.secret is required")
	}
	for i, k := range c.Auth.APIKeys {
		if k.Key == "" || k.Principal == "" {
			add("auth.api_keys[%d]: key and principal are required", i)
		}
	}

	seen := make(map[string]bool, len(c.Tools))
	for i, t := range c.Tools {
		name := strings.TrimSpace(t.Name)
		switch {
		case name == "":
			add("tools[%d].name is required", i)
		case seen[name]:
			add("tools[%d]: duplicate tool %q", i, name)
		}
		seen[name] = true
		if u, err := url.Parse(t.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add("tools[%d].url must be an absolute http(s) url", i)
		}
		if t.Schema != "" && !json.Valid([]byte(t.Schema)) {
			add("tools[%d].schema is not valid json", i)
		}
	}

	for kind, a := range c.Agents {
		if a.MaxSteps < 0 || a.SearchFromStep < 0 {
			add("agents.%s: step values must not be negative", kind)
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}
