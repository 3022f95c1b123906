package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// DefaultContextWindow is assumed for models the catalog does not know.
const DefaultContextWindow = 8192

// DefaultEncoding is the tokenizer used when a model names none.
const DefaultEncoding = "cl100k_base"

var (
	// ErrEmptyModelID is returned when a model has no ID.
	ErrEmptyModelID = errors.New("catalog: model id is empty")

	// ErrInvalidLimits is returned when a model's token limits are inconsistent.
	ErrInvalidLimits = errors.New("catalog: invalid token limits")
)

// Model describes one chat model.
type Model struct {
	// ID is the provider model identifier.
	ID string

	// ContextWindow is the total tokens shared by prompt and completion.
	ContextWindow int

	// MaxOutputTokens is the completion ceiling.
	MaxOutputTokens int

	// Encoding is the tiktoken encoding name.
	// Default: DefaultEncoding
	Encoding string
}

// Validate checks the model's fields.
func (m Model) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return ErrEmptyModelID
	}
	if m.ContextWindow <= 0 || m.MaxOutputTokens <= 0 || m.MaxOutputTokens > m.ContextWindow {
		return fmt.Errorf("%w: %s", ErrInvalidLimits, m.ID)
	}
	return nil
}

// Catalog maps model IDs to their limits.
type Catalog struct {
	models map[string]Model
	ids    []string
}

// New builds a catalog from models. Later duplicates replace earlier ones.
func New(models ...Model) (*Catalog, error) {
	c := &Catalog{models: make(map[string]Model, len(models))}
	for _, m := range models {
		if err := m.Validate(); err != nil {
			return nil, err
		}
		if m.Encoding == "" {
			m.Encoding = DefaultEncoding
		}
		c.models[m.ID] = m
	}
	c.ids = make([]string, 0, len(c.models))
	for id := range c.models {
		c.ids = append(c.ids, id)
	}
	sort.Strings(c.ids)
	return c, nil
}

// With returns a copy of c extended with models.
func (c *Catalog) With(models ...Model) (*Catalog, error) {
	all := make([]Model, 0, len(c.models)+len(models))
	for _, id := range c.ids {
		all = append(all, c.models[id])
	}
	return New(append(all, models...)...)
}

// Lookup returns the model registered under id. Dated snapshots resolve to
// the longest registered prefix followed by "-".
func (c *Catalog) Lookup(id string) (Model, bool) {
	if c == nil {
		return Model{}, false
	}
	if m, ok := c.models[id]; ok {
		return m, true
	}
	best := ""
	for _, known := range c.ids {
		if strings.HasPrefix(id, known+"-") && len(known) > len(best) {
			best = known
		}
	}
	if best == "" {
		return Model{}, false
	}
	m := c.models[best]
	m.ID = id
	return m, true
}

// Has reports whether id is an exact catalog entry.
func (c *Catalog) Has(id string) bool {
	if c == nil {
		return false
	}
	_, ok := c.models[id]
	return ok
}

// IDs returns the registered model IDs in sorted order.
func (c *Catalog) IDs() []string {
	if c == nil {
		return nil
	}
	out := make([]string, len(c.ids))
	copy(out, c.ids)
	return out
}

// ContextWindow returns the model's context window, or DefaultContextWindow
// with known=false when the model is not registered.
func (c *Catalog) ContextWindow(id string) (window int, known bool) {
	m, ok := c.Lookup(id)
	if !ok {
		return DefaultContextWindow, false
	}
	return m.ContextWindow, true
}

var defaultModels = []Model{
	{ID: "gpt-4o", ContextWindow: 128000, MaxOutputTokens: 16384, Encoding: "o200k_base"},
	{ID: "gpt-4o-mini", ContextWindow: 128000, MaxOutputTokens: 16384, Encoding: "o200k_base"},
	{ID: "gpt-4.1", ContextWindow: 1047576, MaxOutputTokens: 32768, Encoding: "o200k_base"},
	{ID: "gpt-4.1-mini", ContextWindow: 1047576, MaxOutputTokens: 32768, Encoding: "o200k_base"},
	{ID: "gpt-4-turbo", ContextWindow: 128000, MaxOutputTokens: 4096, Encoding: "cl100k_base"},
	{ID: "gpt-4", ContextWindow: 8192, MaxOutputTokens: 8192, Encoding: "cl100k_base"},
	{ID: "gpt-3.5-turbo", ContextWindow: 16385, MaxOutputTokens: 4096, Encoding: "cl100k_base"},
	{ID: "o3-mini", ContextWindow: 200000, MaxOutputTokens: 100000, Encoding: "o200k_base"},
	{ID: "deepseek-chat", ContextWindow: 65536, MaxOutputTokens: 8192, Encoding: "cl100k_base"},
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := New(defaultModels...)
	if err != nil {
		panic(err)
	}
	return c
}
