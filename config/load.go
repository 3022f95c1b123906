package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jonwraymond/agentguard/secret"
)

// ErrNotFound is returned when the config file does not exist.
var ErrNotFound = errors.New("config: file not found")

// LoadOptions controls Load.
type LoadOptions struct {
	// EnvFiles are loaded before the config is read. Missing files are
	// skipped. Default: .env.local and .env next to the config file, then
	// in the working directory.
	EnvFiles []string

	// Registry builds secret providers. Default: secret.Builtin()
	Registry *secret.Registry
}

// Load reads, resolves and validates the config at path. An empty path
// yields the defaults.
func Load(ctx context.Context, path string, opts LoadOptions) (*Config, error) {
	if err := loadEnvFiles(envFiles(path, opts.EnvFiles)); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := Decode(data, cfg); err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
	}
	cfg.ApplyDefaults()

	registry := opts.Registry
	if registry == nil {
		registry = secret.Builtin()
	}
	providers, err := registry.Build(cfg.Secrets)
	if err != nil {
		return nil, fmt.Errorf("config: secrets: %w", err)
	}
	resolver := secret.NewResolver(true, providers...)
	defer resolver.Close()

	if err := cfg.resolve(ctx, resolver); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode strictly decodes a YAML document into cfg.
func Decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// resolve expands env and secret references in every string setting.
func (c *Config) resolve(ctx context.Context, r *secret.Resolver) error {
	targets := map[string]*string{
		"server.addr":          &c.Server.Addr,
		"redis.addr":           &c.Redis.Addr,
		"redis.username":       &c.Redis.Username,
		"redis.password":       &c.Redis.Password,
		"database.dsn":         &c.Database.DSN,
		"provider.api_key":     &c.Provider.APIKey,
		"provider.base_url":    &c.Provider.BaseURL,
		"observe.service_name": &c.Observe.ServiceName,
	}
	if c.Auth.JWT != nil {
		targets["auth.jwt.secret"] = &c.Auth.JWT.Secret
	}
	for i := range c.Auth.APIKeys {
		targets[fmt.Sprintf("auth.api_keys[%d].key", i)] = &c.Auth.APIKeys[i].Key
	}
	for i := range c.Tools {
		targets[fmt.Sprintf("tools[%d].url", i)] = &c.Tools[i].URL
	}
	if err := r.ResolveInPlace(ctx, targets); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	for i := range c.Tools {
		headers, err := r.ResolveMap(ctx, c.Tools[i].Headers)
		if err != nil {
			return fmt.Errorf("config: tools[%d].headers: %w", i, err)
		}
		c.Tools[i].Headers = headers
	}
	return nil
}

func envFiles(configPath string, explicit []string) []string {
	if explicit != nil {
		return explicit
	}
	var files []string
	if configPath != "" {
		dir := filepath.Dir(configPath)
		files = append(files, filepath.Join(dir, ".env.local"), filepath.Join(dir, ".env"))
	}
	return append(files, ".env.local", ".env")
}

// loadEnvFiles loads each existing file. Variables already set win.
func loadEnvFiles(files []string) error {
	seen := make(map[string]bool, len(files))
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	return nil
}
