package agentconfig

import (
	"encoding/json"
	"time"
)

// GlobalScope is the scope resolved for every agent run.
const GlobalScope = "global"

// Parameters are the sampling and loop limits of an agent kind.
// Unrecognized keys are kept in Extra.
type Parameters struct {
	Temperature float64
	TopP        float64
	MaxTokens   int
	MaxSteps    int
	Extra       map[string]any
}

var knownParameters = []string{"temperature", "topP", "maxTokens", "maxSteps"}

// MarshalJSON flattens Extra next to the known fields.
func (p Parameters) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Extra)+len(knownParameters))
	for k, v := range p.Extra {
		out[k] = v
	}
	out["temperature"] = p.Temperature
	out["topP"] = p.TopP
	out["maxTokens"] = p.MaxTokens
	out["maxSteps"] = p.MaxSteps
	return json.Marshal(out)
}

// UnmarshalJSON reads known fields and collects the rest into Extra.
func (p *Parameters) UnmarshalJSON(data []byte) error {
	var known struct {
		Temperature float64 `json:"temperature"`
		TopP        float64 `json:"topP"`
		MaxTokens   int     `json:"maxTokens"`
		MaxSteps    int     `json:"maxSteps"`
	}
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, k := range knownParameters {
		delete(all, k)
	}
	*p = Parameters{
		Temperature: known.Temperature,
		TopP:        known.TopP,
		MaxTokens:   known.MaxTokens,
		MaxSteps:    known.MaxSteps,
	}
	if len(all) > 0 {
		p.Extra = all
	}
	return nil
}

// Record is the configuration of one agent kind in one scope.
type Record struct {
	ID         string     `json:"id"`
	AgentType  string     `json:"agentType"`
	Scope      string     `json:"scope"`
	Model      string     `json:"model"`
	Parameters Parameters `json:"parameters"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// Resolved pairs a record with its version.
type Resolved struct {
	Config    Record `json:"config"`
	VersionID int64  `json:"versionId"`
}

// StoredRecord is a row as read from a Store, before validation.
// Parameters holds the raw JSON document.
type StoredRecord struct {
	ID         string
	AgentType  string
	Scope      string
	Model      string
	Parameters json.RawMessage
	VersionID  int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Draft is a new record to publish.
type Draft struct {
	AgentType  string
	Scope      string
	Model      string
	Parameters json.RawMessage
}

func (s StoredRecord) decode() (Resolved, error) {
	var params Parameters
	if err := json.Unmarshal(s.Parameters, &params); err != nil {
		return Resolved{}, err
	}
	return Resolved{
		Config: Record{
			ID:         s.ID,
			AgentType:  s.AgentType,
			Scope:      s.Scope,
			Model:      s.Model,
			Parameters: params,
			CreatedAt:  s.CreatedAt,
			UpdatedAt:  s.UpdatedAt,
		},
		VersionID: s.VersionID,
	}, nil
}
