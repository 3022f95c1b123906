package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/jonwraymond/agentguard/agentconfig"
	"github.com/jonwraymond/agentguard/app"
	"github.com/jonwraymond/agentguard/catalog"
	"github.com/jonwraymond/agentguard/config"
)

func loadConfig(ctx context.Context, opts *rootOptions) (*config.Config, error) {
	return config.Load(ctx, opts.configPath, config.LoadOptions{EnvFiles: opts.envFiles})
}

func runServe(ctx context.Context, opts *rootOptions, addr string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(ctx, opts)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	a, err := app.New(ctx, cfg, app.Options{Version: version})
	if err != nil {
		return err
	}
	defer func() {
		_ = a.Close(context.WithoutCancel(ctx))
	}()

	return a.Server.ListenAndServe(ctx, cfg.Server.Addr)
}

// openStore opens the config database with version tags that running
// servers observe.
func openStore(ctx context.Context, cfg *config.Config) (*agentconfig.SQLStore, agentconfig.VersionTags, func(), error) {
	if !cfg.Redis.Enabled() {
		tags := agentconfig.NewMemoryVersionTags()
		store, err := app.OpenStore(ctx, cfg.Database, tags)
		if err != nil {
			return nil, nil, nil, err
		}
		return store, tags, func() { _ = store.Close() }, nil
	}

	client := app.NewRedis(cfg.Redis)
	tags := agentconfig.NewRedisVersionTags(client)
	store, err := app.OpenStore(ctx, cfg.Database, tags)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, err
	}
	return store, tags, func() {
		_ = store.Close()
		_ = client.Close()
	}, nil
}

func runConfigResolve(ctx context.Context, out io.Writer, opts *rootOptions, agentType, scope string) error {
	cfg, err := loadConfig(ctx, opts)
	if err != nil {
		return err
	}
	store, tags, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	validator, err := agentconfig.NewValidator(catalog.Default())
	if err != nil {
		return err
	}
	if scope == "" {
		scope = cfg.Resolver.Scope
	}
	resolver, err := agentconfig.NewResolver(agentconfig.Options{
		Store:        store,
		Validator:    validator,
		Tags:         tags,
		Scope:        scope,
		StoreTimeout: cfg.Resolver.StoreTimeout,
	})
	if err != nil {
		return err
	}

	resolved, err := resolver.Resolve(ctx, agentType)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(resolved)
}

// draftFile is the document accepted by "config put". JSON is valid YAML,
// so one decoder serves both.
type draftFile struct {
	Model      string         `yaml:"model"`
	Scope      string         `yaml:"scope"`
	Parameters map[string]any `yaml:"parameters"`
}

func readDraft(path string) (draftFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return draftFile{}, err
	}
	var d draftFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&d); err != nil {
		if errors.Is(err, io.EOF) {
			return draftFile{}, fmt.Errorf("%s: empty document", path)
		}
		return draftFile{}, fmt.Errorf("%s: %w", path, err)
	}
	if strings.TrimSpace(d.Model) == "" {
		return draftFile{}, fmt.Errorf("%s: model is required", path)
	}
	return d, nil
}

func runConfigPut(ctx context.Context, out io.Writer, opts *rootOptions, agentType, path, scope string) error {
	d, err := readDraft(path)
	if err != nil {
		return err
	}
	params, err := json.Marshal(d.Parameters)
	if err != nil {
		return fmt.Errorf("%s: parameters: %w", path, err)
	}

	validator, err := agentconfig.NewValidator(catalog.Default())
	if err != nil {
		return err
	}
	if err := validator.Validate(d.Model, params); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	cfg, err := loadConfig(ctx, opts)
	if err != nil {
		return err
	}
	switch {
	case scope != "":
	case d.Scope != "":
		scope = d.Scope
	default:
		scope = cfg.Resolver.Scope
	}

	store, _, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	rec, err := store.Put(ctx, agentconfig.Draft{
		AgentType:  agentType,
		Scope:      scope,
		Model:      d.Model,
		Parameters: params,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "published %s/%s version %d (model %s)\n", rec.AgentType, rec.Scope, rec.VersionID, rec.Model)
	return nil
}

func runConfigCheck(ctx context.Context, out io.Writer, opts *rootOptions) error {
	cfg, err := loadConfig(ctx, opts)
	if err != nil {
		return err
	}
	if _, err := app.Definitions(cfg.Agents); err != nil {
		return err
	}
	fmt.Fprintf(out, "config ok: %d tools, cache %s, ratelimit %s, database %s\n",
		len(cfg.Tools), cfg.Cache.Backend, cfg.RateLimit.Backend, cfg.Database.Driver)
	return nil
}
