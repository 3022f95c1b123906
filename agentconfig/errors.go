package agentconfig

import "errors"

// Sentinel errors for agent configuration.
var (
	// ErrConfigNotFound is returned when the store has no record for the
	// agent type and scope.
	ErrConfigNotFound = errors.New("agentconfig: config not found")

	// ErrEmptyAgentType is returned when the agent type is blank.
	ErrEmptyAgentType = errors.New("agentconfig: agent type is empty")

	// ErrNilStore is returned when a Resolver is built without a Store.
	ErrNilStore = errors.New("agentconfig: store is nil")

	// ErrNilValidator is returned when a Resolver is built without a Validator.
	ErrNilValidator = errors.New("agentconfig: validator is nil")

	// ErrNilDB is returned when a SQLStore is built without a database.
	ErrNilDB = errors.New("agentconfig: db is nil")

	// ErrUnknownDialect is returned for unsupported SQL dialects.
	ErrUnknownDialect = errors.New("agentconfig: unknown sql dialect")
)
