package agents

import "errors"

var (
	// ErrNotExecutable is returned when an agent is running or failed.
	ErrNotExecutable = errors.New("agent cannot execute")

	// ErrSlotLimit is returned when every skill slot is taken.
	ErrSlotLimit = errors.New("skill slot limit reached")

	// ErrAlreadyAttached is returned when a skill is attached twice.
	ErrAlreadyAttached = errors.New("skill already attached")

	// ErrUnknownAction is returned by a strict ActionRegistry for
	// unregistered actions.
	ErrUnknownAction = errors.New("unknown action")

	// ErrMissingParameter is returned when an action lacks a required parameter.
	ErrMissingParameter = errors.New("missing parameter")
)
