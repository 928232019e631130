package automation

import "errors"

// Domain errors for the automation package.
//
//	if errors.Is(err, automation.ErrRuleNotFound) {
//	    // handle not found case
//	}
var (
	// ErrRuleNotFound is returned when a rule ID does not exist.
	ErrRuleNotFound = errors.New("rule: not found")

	// ErrInvalidRule is returned when rule validation fails.
	ErrInvalidRule = errors.New("rule: invalid")

	// ErrInvalidCondition is returned when a condition cannot be decoded or
	// is incomplete.
	ErrInvalidCondition = errors.New("rule: invalid condition")

	// ErrInvalidOperator is returned for an operator outside >, <, >=, <=, ==.
	ErrInvalidOperator = errors.New("rule: invalid operator")

	// ErrInvalidAction is returned when an action cannot be decoded or is
	// incomplete.
	ErrInvalidAction = errors.New("automation: invalid action")

	// ErrUnknownAction is returned by the Executor for an action type it
	// does not handle.
	ErrUnknownAction = errors.New("automation: unknown action")

	// ErrTaskNotFound is returned when a task ID does not exist.
	ErrTaskNotFound = errors.New("task: not found")

	// ErrInvalidTask is returned when task validation fails.
	ErrInvalidTask = errors.New("task: invalid")

	// ErrInvalidSchedule is returned for a cron expression that cannot be
	// parsed or never fires.
	ErrInvalidSchedule = errors.New("task: invalid schedule")
)
