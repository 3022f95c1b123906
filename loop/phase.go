package loop

import (
	"fmt"

	"github.com/jonwraymond/agentguard/guardrail"
)

// Phase is a contiguous range of steps exposing a fixed tool subset.
type Phase struct {
	Name string

	// FromStep is the first step of the phase. The phase lasts until the
	// next phase's FromStep.
	FromStep int

	Tools []guardrail.ToolName
}

// Allows reports whether name is exposed in the phase.
func (p Phase) Allows(name guardrail.ToolName) bool {
	for _, t := range p.Tools {
		if t == name {
			return true
		}
	}
	return false
}

// PhasePlan orders phases by FromStep.
type PhasePlan []Phase

// Travel phase names.
const (
	PhaseLocate = "locate"
	PhaseSearch = "search"

	// SearchFromStep is the first step of the search phase.
	SearchFromStep = 3
)

// TravelPlan exposes location tools for steps 0-2 and search or booking
// tools from step 3 on.
func TravelPlan(locate, search []guardrail.ToolName) PhasePlan {
	return PhasePlan{
		{Name: PhaseLocate, FromStep: 0, Tools: locate},
		{Name: PhaseSearch, FromStep: SearchFromStep, Tools: search},
	}
}

// Validate checks that the plan starts at step 0 with strictly increasing,
// named phases.
func (p PhasePlan) Validate() error {
	if len(p) == 0 {
		return ErrEmptyPlan
	}
	if p[0].FromStep != 0 {
		return fmt.Errorf("%w: first phase starts at step %d", ErrInvalidPlan, p[0].FromStep)
	}
	for i, ph := range p {
		if ph.Name == "" {
			return fmt.Errorf("%w: phase %d has no name", ErrInvalidPlan, i)
		}
		if i > 0 && ph.FromStep <= p[i-1].FromStep {
			return fmt.Errorf("%w: phase %q does not start after %q", ErrInvalidPlan, ph.Name, p[i-1].Name)
		}
	}
	return nil
}

// Index returns the index of the phase active at step.
func (p PhasePlan) Index(step int) int {
	idx := 0
	for i, ph := range p {
		if step >= ph.FromStep {
			idx = i
		}
	}
	return idx
}

// At returns the phase active at step.
func (p PhasePlan) At(step int) Phase {
	if len(p) == 0 {
		return Phase{}
	}
	return p[p.Index(step)]
}

// ToolNames returns every tool named by the plan, without duplicates, in
// plan order.
func (p PhasePlan) ToolNames() []guardrail.ToolName {
	seen := make(map[guardrail.ToolName]bool)
	var out []guardrail.ToolName
	for _, ph := range p {
		for _, t := range ph.Tools {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}
