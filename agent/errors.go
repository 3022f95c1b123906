package agent

import "errors"

var (
	// ErrNilResolver is returned when no config resolver is supplied.
	ErrNilResolver = errors.New("agent: resolver is required")

	// ErrNilComposer is returned when no guardrail composer is supplied.
	ErrNilComposer = errors.New("agent: composer is required")

	// ErrNilModel is returned when no model is supplied.
	ErrNilModel = errors.New("agent: model is required")

	// ErrUnknownKind is returned for an agent kind with no definition.
	ErrUnknownKind = errors.New("agent: unknown agent kind")

	// ErrDuplicateKind is returned when two definitions share a kind.
	ErrDuplicateKind = errors.New("agent: duplicate agent kind")
)
