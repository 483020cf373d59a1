// Package models defines the core domain types for cfagents.
package models

import "time"

// AgentStatus represents the state of an agent. It reflects only the most
// recent task the agent ran.
type AgentStatus string

const (
	AgentStatusIdle      AgentStatus = "idle"
	AgentStatusRunning   AgentStatus = "running"
	AgentStatusCompleted AgentStatus = "completed"
	AgentStatusFailed    AgentStatus = "failed"
	AgentStatusWaiting   AgentStatus = "waiting"
)

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	TaskStatusWaiting   TaskStatus = "waiting"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// DefaultTaskPriority is used when a task does not specify one.
const DefaultTaskPriority = 5

// AgentTask is a unit of work assigned to a named agent.
type AgentTask struct {
	ID           string         `json:"id" yaml:"id"`
	AgentName    string         `json:"agent" yaml:"agent"`
	Action       string         `json:"action" yaml:"action"`
	Parameters   map[string]any `json:"parameters,omitempty" yaml:"parameters"`
	Priority     int            `json:"priority" yaml:"priority"`
	Dependencies []string       `json:"depends_on,omitempty" yaml:"depends_on"`
	Status       TaskStatus     `json:"status" yaml:"-"`
}

// NewTask creates a waiting task with the default priority.
func NewTask(id, agent, action string, params map[string]any, deps ...string) *AgentTask {
	return &AgentTask{
		ID:           id,
		AgentName:    agent,
		Action:       action,
		Parameters:   params,
		Priority:     DefaultTaskPriority,
		Dependencies: deps,
		Status:       TaskStatusWaiting,
	}
}

// ResultStatus is the outcome recorded for a dispatched task.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultFailed  ResultStatus = "failed"
)

// TaskResult is the record produced for every dispatched task.
type TaskResult struct {
	TaskID     string         `json:"task_id"`
	Agent      string         `json:"agent"`
	Action     string         `json:"action"`
	Status     ResultStatus   `json:"status"`
	Output     string         `json:"output,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// Succeeded reports whether the task completed successfully.
func (r TaskResult) Succeeded() bool {
	return r.Status == ResultSuccess
}

// AgentConfig is the per-agent configuration loaded from the agent documents.
type AgentConfig struct {
	// SkillSlots caps how many skills may be attached at once.
	SkillSlots  int    `json:"skill_slots" yaml:"skill_slots"`
	Role        string `json:"role,omitempty" yaml:"role"`
	Description string `json:"description,omitempty" yaml:"description"`
}

// AttachedSkill pairs a skill name with the catalog entry it was attached from.
type AttachedSkill struct {
	Name   string `json:"name"`
	Config Skill  `json:"config"`
}

// PDREntry represents a Process Decision Record for audit.
type PDREntry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	TaskID     string    `json:"task_id,omitempty"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
