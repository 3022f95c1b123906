package agentconfig

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/jonwraymond/agentguard/catalog"
)

// MaxStepsLimit bounds maxSteps in the schema.
const MaxStepsLimit = 50

// Validator checks a record's model and parameters against the agent
// configuration schema. The model enum comes from a catalog.
type Validator struct {
	schema *jsonschema.Schema
	source string
}

// NewValidator compiles the schema for the models in cat.
// A nil catalog uses catalog.Default().
func NewValidator(cat *catalog.Catalog) (*Validator, error) {
	if cat == nil {
		cat = catalog.Default()
	}
	source, err := SchemaFor(cat.IDs())
	if err != nil {
		return nil, err
	}
	compiled, err := compileSchema(source)
	if err != nil {
		return nil, fmt.Errorf("agentconfig: compile schema: %w", err)
	}
	return &Validator{schema: compiled, source: source}, nil
}

// Schema returns the JSON Schema document.
func (v *Validator) Schema() string {
	return v.source
}

// Validate checks model and the raw parameters document.
func (v *Validator) Validate(model string, parameters json.RawMessage) error {
	var params any
	dec := json.NewDecoder(bytes.NewReader(parameters))
	dec.UseNumber()
	if err := dec.Decode(&params); err != nil {
		return fmt.Errorf("decode parameters: %w", err)
	}
	doc := map[string]any{
		"model":      model,
		"parameters": params,
	}
	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	return nil
}

// SchemaFor builds the schema document for the given model IDs.
func SchemaFor(models []string) (string, error) {
	enum := make([]any, len(models))
	for i, m := range models {
		enum[i] = m
	}
	doc := map[string]any{
		"$schema":  "https://json-schema.org/draft/2020-12/schema",
		"type":     "object",
		"required": []string{"model", "parameters"},
		"properties": map[string]any{
			"model": map[string]any{
				"type": "string",
				"enum": enum,
			},
			"parameters": map[string]any{
				"type":     "object",
				"required": []string{"temperature", "maxTokens", "maxSteps"},
				"properties": map[string]any{
					"temperature": map[string]any{"type": "number", "minimum": 0, "maximum": 2},
					"topP":        map[string]any{"type": "number", "minimum": 0, "maximum": 1},
					"maxTokens":   map[string]any{"type": "integer", "minimum": 1},
					"maxSteps":    map[string]any{"type": "integer", "minimum": 1, "maximum": MaxStepsLimit},
				},
			},
		},
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

var schemaCache sync.Map

func compileSchema(source string) (*jsonschema.Schema, error) {
	if cached, ok := schemaCache.Load(source); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}
	compiled, err := jsonschema.CompileString("agent-config.schema.json", source)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(source, compiled)
	return compiled, nil
}
