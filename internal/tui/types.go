package tui

import "github.com/fentz26/cfagents/internal/models"

// StatusSummary mirrors GET /api/v1/status.
type StatusSummary struct {
	Core        map[string]models.AgentStatus `json:"core_agents"`
	Specialized map[string]models.AgentStatus `json:"specialized_agents"`
	QueueSize   int                           `json:"task_queue_size"`
	Completed   int                           `json:"completed_tasks"`
	BusQueue    int                           `json:"bus_queue"`
	Pending     int                           `json:"pending_responses"`
	Dispatcher  *DispatcherStats              `json:"dispatcher,omitempty"`
}

// DispatcherStats is the dispatcher part of the status view.
type DispatcherStats struct {
	ActiveWorkers int            `json:"active_workers"`
	GlobalMax     int            `json:"global_max"`
	Dispatched    int            `json:"dispatched"`
	Answered      int            `json:"answered"`
	Inbox         map[string]int `json:"inbox"`
}

// AgentDetail is the selected agent plus its recommended skills.
type AgentDetail struct {
	Name            string
	Recommendations []models.Skill
}
