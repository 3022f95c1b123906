package app

import (
	"fmt"
	"slices"
	"strings"

	"github.com/jonwraymond/agentguard/agent"
	"github.com/jonwraymond/agentguard/config"
)

// Definitions applies per-kind overrides to the built-in definitions.
// Disabled kinds are dropped.
func Definitions(overrides map[string]config.AgentConfig) ([]agent.Definition, error) {
	builtin := agent.Definitions()

	var unknown []string
	for kind := range overrides {
		if !slices.ContainsFunc(builtin, func(d agent.Definition) bool { return string(d.Kind) == kind }) {
			unknown = append(unknown, kind)
		}
	}
	if len(unknown) > 0 {
		slices.Sort(unknown)
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, strings.Join(unknown, ", "))
	}

	out := make([]agent.Definition, 0, len(builtin))
	for _, def := range builtin {
		o, ok := overrides[string(def.Kind)]
		if !ok {
			out = append(out, def)
			continue
		}
		if o.Disabled {
			continue
		}
		if o.MaxSteps > 0 {
			def.MaxSteps = o.MaxSteps
		}
		out = append(out, def.WithSearchFrom(o.SearchFromStep))
	}
	return out, nil
}
