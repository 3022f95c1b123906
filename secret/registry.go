package secret

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
)

// ProviderFactory builds a Provider from its settings block in the config
// file's "secrets" section.
type ProviderFactory func(settings map[string]any) (Provider, error)

// Registry maps provider names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]ProviderFactory{}}
}

// Builtin returns a Registry holding the env provider (setting "prefix")
// and the file provider (setting "dir").
func Builtin() *Registry {
	r := NewRegistry()
	r.factories["env"] = func(s map[string]any) (Provider, error) {
		prefix, err := setting(s, "prefix")
		return EnvProvider{Prefix: prefix}, err
	}
	r.factories["file"] = func(s map[string]any) (Provider, error) {
		dir, err := setting(s, "dir")
		return FileProvider{Dir: dir}, err
	}
	return r
}

// Register adds a factory. Names are unique.
func (r *Registry) Register(name string, factory ProviderFactory) error {
	name = strings.TrimSpace(name)
	if name == "" || factory == nil {
		return fmt.Errorf("%w: provider registration needs a name and a factory", ErrInvalidRef)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.factories[name]; dup {
		return fmt.Errorf("%w: %q", ErrProviderExists, name)
	}
	r.factories[name] = factory
	return nil
}

// Create builds the provider registered under name.
func (r *Registry) Create(name string, settings map[string]any) (Provider, error) {
	r.mu.RLock()
	factory, ok := r.factories[strings.TrimSpace(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotRegistered, name)
	}
	p, err := factory(settings)
	if err != nil {
		return nil, fmt.Errorf("secret: provider %s: %w", name, err)
	}
	return p, nil
}

// Build creates one provider per configured name, in name order.
func (r *Registry) Build(configured map[string]map[string]any) ([]Provider, error) {
	out := make([]Provider, 0, len(configured))
	for _, name := range slices.Sorted(maps.Keys(configured)) {
		p, err := r.Create(name, configured[name])
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// List returns the registered names in order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.factories))
}

func setting(s map[string]any, key string) (string, error) {
	switch v := s[key].(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		return "", fmt.Errorf("setting %q must be a string, got %T", key, v)
	}
}
