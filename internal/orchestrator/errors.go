package orchestrator

import (
	"errors"

	"github.com/fentz26/cfagents/internal/skills"
)

var (
	// ErrAgentNotFound is returned when no pool holds the named agent.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrSkillNotFound is returned when the catalog lacks the named skill.
	ErrSkillNotFound = errors.New("skill not found")

	// ErrNotAttachable is returned when a skill's attachable_to excludes the agent.
	ErrNotAttachable = errors.New("skill not attachable to agent")

	// ErrExclusiveConflict is the catalog's exclusive-category error, so
	// callers can match either package's sentinel.
	ErrExclusiveConflict = skills.ErrExclusiveConflict

	// ErrCycleDetected is returned when a task batch has circular dependencies.
	ErrCycleDetected = errors.New("circular dependency detected")

	// ErrDuplicateTask is returned when a batch repeats a task id.
	ErrDuplicateTask = errors.New("duplicate task id")

	// ErrInvalidCatalog is returned when the orchestrator cannot be built
	// from the given configuration.
	ErrInvalidCatalog = errors.New("invalid agent catalog")
)
