package agent

import "errors"

// Fault taxonomy for a turn. Tool invocation failures are deliberately absent:
// they are recorded in history and metrics but never abort the loop.
var (
	// ErrInvalidInput rejects a blank prompt before any state mutation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidPlan means the generator produced neither a final-answer nor
	// a call-tool shape. Fatal for the turn.
	ErrInvalidPlan = errors.New("invalid plan")

	// ErrStepBudgetExceeded means the loop ran out of steps without a final
	// answer. The turn is sealed with a sentinel answer before this is raised.
	ErrStepBudgetExceeded = errors.New("step budget exceeded")
)
