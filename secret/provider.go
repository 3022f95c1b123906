package secret

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Provider resolves secrets by reference string.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Errors: unknown refs return ErrSecretNotFound. Secret values are never logged.
type Provider interface {
	Name() string
	Resolve(ctx context.Context, ref string) (string, error)
	Close() error
}

// EnvProvider resolves refs as environment variable names.
type EnvProvider struct {
	// Prefix is prepended to every ref (e.g. "AGENTGUARD_").
	Prefix string
}

// Name implements Provider.
func (EnvProvider) Name() string { return "env" }

// Resolve implements Provider.
func (p EnvProvider) Resolve(_ context.Context, ref string) (string, error) {
	v, ok := os.LookupEnv(p.Prefix + ref)
	if !ok {
		return "", fmt.Errorf("%w: env %s", ErrSecretNotFound, p.Prefix+ref)
	}
	return v, nil
}

// Close implements Provider.
func (EnvProvider) Close() error { return nil }

// FileProvider resolves refs as file names under Dir, as used for mounted
// container secrets. Trailing newlines are trimmed.
type FileProvider struct {
	Dir string
}

// DefaultSecretsDir is the FileProvider directory when none is configured.
const DefaultSecretsDir = "/run/secrets"

// Name implements Provider.
func (FileProvider) Name() string { return "file" }

// Resolve implements Provider. Refs may not leave Dir.
func (p FileProvider) Resolve(_ context.Context, ref string) (string, error) {
	dir := p.Dir
	if dir == "" {
		dir = DefaultSecretsDir
	}
	clean := filepath.Clean(ref)
	if !filepath.IsLocal(clean) {
		return "", fmt.Errorf("%w: file ref %q", ErrInvalidRef, ref)
	}
	data, err := os.ReadFile(filepath.Join(dir, clean))
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: file %s", ErrSecretNotFound, clean)
	}
	if err != nil {
		return "", fmt.Errorf("secret: read %s: %w", clean, err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

// Close implements Provider.
func (FileProvider) Close() error { return nil }

var (
	_ Provider = EnvProvider{}
	_ Provider = FileProvider{}
)
