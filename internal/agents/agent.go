// Package agents implements the named workers that carry skills and run
// analysis tasks.
package agents

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/fentz26/cfagents/internal/models"
)

// Info is a point-in-time view of an agent.
type Info struct {
	Name        string             `json:"name"`
	Role        string             `json:"role,omitempty"`
	Description string             `json:"description,omitempty"`
	Status      models.AgentStatus `json:"status"`
	SkillSlots  int                `json:"skill_slots"`
	Skills      []string           `json:"skills"`
	Completed   int                `json:"completed_tasks"`
}

// Agent is a named worker with a bounded set of skills.
//
// Status transitions: idle -> running -> completed|failed. A completed agent
// accepts new work; a failed agent needs Reset first.
type Agent struct {
	mu      sync.Mutex
	name    string
	config  models.AgentConfig
	status  models.AgentStatus
	skills  []models.AttachedSkill
	history []string

	actions *ActionRegistry
	logger  *slog.Logger
	now     func() time.Time
}

// New creates an idle agent. A nil registry uses placeholder actions.
func New(name string, cfg models.AgentConfig, actions *ActionRegistry, logger *slog.Logger) *Agent {
	if actions == nil {
		actions = NewActionRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		name:    name,
		config:  cfg,
		status:  models.AgentStatusIdle,
		actions: actions,
		logger:  logger.With("agent", name),
		now:     time.Now,
	}
}

// Name returns the agent name.
func (a *Agent) Name() string {
	return a.name
}

// Config returns the agent configuration.
func (a *Agent) Config() models.AgentConfig {
	return a.config
}

// Status returns the current status.
func (a *Agent) Status() models.AgentStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// CanExecute reports whether the agent may start a task.
func (a *Agent) CanExecute() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.canExecuteLocked()
}

func (a *Agent) canExecuteLocked() bool {
	return a.status == models.AgentStatusIdle || a.status == models.AgentStatusCompleted
}

// AttachSkill adds a skill when a slot is free. On error the skill list is
// left unchanged.
func (a *Agent) AttachSkill(skill models.Skill) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.hasSkillLocked(skill.Name) {
		return fmt.Errorf("%w: %s on %s", ErrAlreadyAttached, skill.Name, a.name)
	}
	if len(a.skills) >= a.config.SkillSlots {
		return fmt.Errorf("%w: %s has %d of %d", ErrSlotLimit, a.name, len(a.skills), a.config.SkillSlots)
	}
	a.skills = append(a.skills, models.AttachedSkill{Name: skill.Name, Config: skill})
	a.logger.Info("skill attached", "skill", skill.Name, "used_slots", len(a.skills))
	return nil
}

// DetachSkill removes a skill by name. It reports whether anything was removed.
func (a *Agent) DetachSkill(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	before := len(a.skills)
	a.skills = slices.DeleteFunc(a.skills, func(s models.AttachedSkill) bool { return s.Name == name })
	removed := len(a.skills) != before
	if removed {
		a.logger.Info("skill detached", "skill", name)
	}
	return removed
}

// HasSkill reports whether the named skill is attached.
func (a *Agent) HasSkill(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hasSkillLocked(name)
}

func (a *Agent) hasSkillLocked(name string) bool {
	return slices.ContainsFunc(a.skills, func(s models.AttachedSkill) bool { return s.Name == name })
}

// Skills returns the attached skills in attach order.
func (a *Agent) Skills() []models.AttachedSkill {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.skills)
}

// SkillNames returns the attached skill names in attach order.
func (a *Agent) SkillNames() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.skillNamesLocked()
}

func (a *Agent) skillNamesLocked() []string {
	out := make([]string, len(a.skills))
	for i, s := range a.skills {
		out[i] = s.Name
	}
	return out
}

// TaskHistory returns the ids of tasks this agent completed.
func (a *Agent) TaskHistory() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.history)
}

// Info returns a snapshot of the agent.
func (a *Agent) Info() Info {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Info{
		Name:        a.name,
		Role:        a.config.Role,
		Description: a.config.Description,
		Status:      a.status,
		SkillSlots:  a.config.SkillSlots,
		Skills:      a.skillNamesLocked(),
		Completed:   len(a.history),
	}
}

// Reset returns a failed or completed agent to idle. A running agent is
// left alone and Reset reports false.
func (a *Agent) Reset() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status == models.AgentStatusRunning {
		return false
	}
	a.status = models.AgentStatusIdle
	return true
}

// Execute runs a task on this agent. The eligibility check and the move to
// running happen under one lock, so two callers cannot both start work.
// ErrNotExecutable means nothing ran; any other outcome is reported in the
// result, including callback errors and panics.
func (a *Agent) Execute(ctx context.Context, task *models.AgentTask) (models.TaskResult, error) {
	a.mu.Lock()
	if !a.canExecuteLocked() {
		status := a.status
		a.mu.Unlock()
		return models.TaskResult{}, fmt.Errorf("%w: %s is %s", ErrNotExecutable, a.name, status)
	}
	a.status = models.AgentStatusRunning
	task.Status = models.TaskStatusRunning
	req := ActionRequest{
		Agent:      a.name,
		TaskID:     task.ID,
		Action:     task.Action,
		Parameters: task.Parameters,
		Skills:     slices.Clone(a.skills),
	}
	a.mu.Unlock()

	a.logger.Info("task started", "task_id", task.ID, "action", task.Action)
	result := models.TaskResult{
		TaskID:    task.ID,
		Agent:     a.name,
		Action:    task.Action,
		StartedAt: a.now().UTC(),
	}

	out, err := a.run(ctx, req)
	result.FinishedAt = a.now().UTC()
	result.Data = out.Data

	a.mu.Lock()
	if err != nil {
		a.status = models.AgentStatusFailed
		task.Status = models.TaskStatusFailed
		result.Status = models.ResultFailed
		result.Error = err.Error()
	} else {
		a.status = models.AgentStatusCompleted
		task.Status = models.TaskStatusCompleted
		a.history = append(a.history, task.ID)
		result.Status = models.ResultSuccess
		result.Output = out.Output
	}
	a.mu.Unlock()

	if err != nil {
		a.logger.Error("task failed", "task_id", task.ID, "action", task.Action, "error", err)
	} else {
		a.logger.Info("task completed", "task_id", task.ID, "duration", result.FinishedAt.Sub(result.StartedAt))
	}
	return result, nil
}

func (a *Agent) run(ctx context.Context, req ActionRequest) (out ActionOutput, err error) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("action panicked", "action", req.Action, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("action %s panicked: %v", req.Action, r)
		}
	}()

	fn, err := a.actions.Resolve(req.Action)
	if err != nil {
		return ActionOutput{}, err
	}
	return fn(ctx, req)
}
