package controlplane

import (
	"errors"
	"net/http"

	"github.com/fentz26/cfagents/internal/agents"
	"github.com/fentz26/cfagents/internal/orchestrator"
	"github.com/fentz26/cfagents/internal/skills"
	"github.com/fentz26/cfagents/internal/store"
)

// Sentinel errors for control plane operations.
var (
	ErrInvalidRequest     = errors.New("invalid request")
	ErrDispatcherDisabled = errors.New("dispatcher disabled")
)

// statusFor maps a domain error to an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrAgentNotFound),
		errors.Is(err, orchestrator.ErrSkillNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, skills.ErrExclusiveConflict),
		errors.Is(err, agents.ErrSlotLimit),
		errors.Is(err, agents.ErrAlreadyAttached),
		errors.Is(err, agents.ErrNotExecutable):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrNotAttachable),
		errors.Is(err, orchestrator.ErrCycleDetected),
		errors.Is(err, orchestrator.ErrDuplicateTask),
		errors.Is(err, skills.ErrUnknownSkill),
		errors.Is(err, ErrInvalidRequest):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrDispatcherDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
