package secret

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// RefPrefix introduces a secret reference: secretref:<provider>:<ref>.
const RefPrefix = "secretref:"

var refPattern = regexp.MustCompile(`secretref:([^:\s]+):(\S+)`)

// ParseSecretRef splits a value that is exactly one secret reference.
func ParseSecretRef(value string) (provider, ref string, ok bool) {
	rest, found := strings.CutPrefix(value, RefPrefix)
	if !found {
		return "", "", false
	}
	provider, ref, found = strings.Cut(rest, ":")
	if !found || provider == "" || ref == "" {
		return "", "", false
	}
	return provider, ref, true
}

// Resolver expands environment references and secret references in
// configuration strings. Each (provider, ref) pair is fetched once per
// Resolver, so a Resolver should live no longer than one config load.
type Resolver struct {
	providers map[string]Provider
	strict    bool

	mu   sync.Mutex
	seen map[string]string
}

// NewResolver creates a Resolver over providers, keyed by Name. A strict
// Resolver rejects references that resolve to "".
func NewResolver(strict bool, providers ...Provider) *Resolver {
	r := &Resolver{
		providers: make(map[string]Provider, len(providers)),
		strict:    strict,
		seen:      map[string]string{},
	}
	for _, p := range providers {
		if p != nil {
			r.providers[p.Name()] = p
		}
	}
	return r
}

// ResolveValue expands env references in value, then replaces every secret
// reference with the provider's value.
func (r *Resolver) ResolveValue(ctx context.Context, value string) (string, error) {
	expanded, err := ExpandEnvStrict(value)
	if err != nil {
		return "", err
	}
	if r == nil || !strings.Contains(expanded, RefPrefix) {
		return expanded, nil
	}
	if provider, ref, ok := ParseSecretRef(expanded); ok {
		return r.lookup(ctx, provider, ref)
	}

	var firstErr error
	out := refPattern.ReplaceAllStringFunc(expanded, func(m string) string {
		if firstErr != nil {
			return m
		}
		sub := refPattern.FindStringSubmatch(m)
		v, err := r.lookup(ctx, sub[1], sub[2])
		if err != nil {
			firstErr = err
			return m
		}
		return v
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// ResolveInPlace resolves every non-empty string behind targets, keyed by
// the setting's name. Errors name the setting.
func (r *Resolver) ResolveInPlace(ctx context.Context, targets map[string]*string) error {
	for name, ptr := range targets {
		if ptr == nil || *ptr == "" {
			continue
		}
		v, err := r.ResolveValue(ctx, *ptr)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*ptr = v
	}
	return nil
}

// ResolveMap returns a copy of in with every value resolved.
func (r *Resolver) ResolveMap(ctx context.Context, in map[string]string) (map[string]string, error) {
	if in == nil {
		return nil, nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		resolved, err := r.ResolveValue(ctx, v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = resolved
	}
	return out, nil
}

// Close closes every provider and forgets resolved values.
func (r *Resolver) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	clear(r.seen)
	r.mu.Unlock()

	var errs []error
	for name, p := range r.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("secret: close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Resolver) lookup(ctx context.Context, provider, ref string) (string, error) {
	if strings.TrimSpace(provider) == "" || strings.TrimSpace(ref) == "" {
		return "", ErrInvalidRef
	}
	key := provider + ":" + ref

	r.mu.Lock()
	v, ok := r.seen[key]
	r.mu.Unlock()
	if ok {
		return v, nil
	}

	p, ok := r.providers[provider]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrProviderNotRegistered, provider)
	}
	v, err := p.Resolve(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("secret: %s: %w", key, err)
	}
	if r.strict && v == "" {
		return "", fmt.Errorf("%w: %s", ErrEmptySecret, key)
	}

	r.mu.Lock()
	r.seen[key] = v
	r.mu.Unlock()
	return v, nil
}
