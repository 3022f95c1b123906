package loop

import "errors"

// Sentinel errors for loop construction.
var (
	// ErrNilModel is returned when a Controller is built without a Model.
	ErrNilModel = errors.New("loop: model is nil")

	// ErrEmptyPlan is returned when the phase plan has no phases.
	ErrEmptyPlan = errors.New("loop: phase plan is empty")

	// ErrInvalidPlan is returned for malformed phase plans.
	ErrInvalidPlan = errors.New("loop: invalid phase plan")

	// ErrDuplicateTool is returned when two tools share a name.
	ErrDuplicateTool = errors.New("loop: duplicate tool name")
)
