// Package controlplane provides the HTTP API and service layer over the
// orchestrator, the message bus and the store.
package controlplane

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/fentz26/cfagents/internal/agents"
	"github.com/fentz26/cfagents/internal/bus"
	"github.com/fentz26/cfagents/internal/models"
	"github.com/fentz26/cfagents/internal/orchestrator"
	"github.com/fentz26/cfagents/internal/scheduler"
	"github.com/fentz26/cfagents/internal/store"
)

// Workflow execution modes.
const (
	ModeSequential = "sequential"
	ModeParallel   = "parallel"
	ModeGraph      = "graph"
)

// Status is the aggregate view served by GET /api/v1/status.
type Status struct {
	orchestrator.Snapshot
	BusQueue   int            `json:"bus_queue"`
	Pending    int            `json:"pending_responses"`
	Dispatcher map[string]any `json:"dispatcher,omitempty"`
}

// Service provides the control plane business logic.
type Service struct {
	orch       *orchestrator.Orchestrator
	proto      *bus.Protocol
	store      *store.Store
	dispatcher *scheduler.Dispatcher
	logger     *slog.Logger
}

// NewService creates a new control plane service. dispatcher may be nil when
// the daemon runs without one.
func NewService(orch *orchestrator.Orchestrator, proto *bus.Protocol, st *store.Store, dispatcher *scheduler.Dispatcher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		orch:       orch,
		proto:      proto,
		store:      st,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Status returns pool statuses plus bus and dispatcher counters.
func (s *Service) Status() Status {
	st := Status{
		Snapshot: s.orch.Snapshot(),
		BusQueue: s.proto.Bus().Len(),
		Pending:  len(s.proto.Bus().Pending()),
	}
	if s.dispatcher != nil {
		st.Dispatcher = s.dispatcher.GetStats()
	}
	return st
}

// --- Agent Operations ---

// Agents lists every agent, core pool first.
func (s *Service) Agents() []agents.Info {
	return s.orch.Agents()
}

// AgentSkills returns the skills attached to an agent.
func (s *Service) AgentSkills(agent string) ([]string, error) {
	return s.orch.AgentSkills(agent)
}

// AttachSkill attaches a catalog skill to an agent.
func (s *Service) AttachSkill(agent, skill string) error {
	return s.orch.AttachSkillToAgent(agent, skill)
}

// DetachSkill removes a skill from an agent.
func (s *Service) DetachSkill(agent, skill string) error {
	return s.orch.DetachSkillFromAgent(agent, skill)
}

// ResetAgent returns an agent to idle.
func (s *Service) ResetAgent(agent string) error {
	return s.orch.ResetAgent(agent)
}

// Recommendations returns up to limit skills suited to the agent.
func (s *Service) Recommendations(agent string, limit int) ([]models.Skill, error) {
	if _, ok := s.orch.Agent(agent); !ok {
		return nil, fmt.Errorf("%w: %s", orchestrator.ErrAgentNotFound, agent)
	}
	return s.orch.Skills().Recommend(agent, limit), nil
}

// Inbox returns the messages the dispatcher delivered to an agent.
func (s *Service) Inbox(agent string, take bool) ([]models.Message, error) {
	if s.dispatcher == nil {
		return nil, ErrDispatcherDisabled
	}
	if take {
		return s.dispatcher.TakeInbox(agent), nil
	}
	return s.dispatcher.Inbox(agent), nil
}

// --- Skill Operations ---

// Skills lists catalog skills. query matches name or description; category
// and agent narrow the result.
func (s *Service) Skills(category, agent, query string) []models.Skill {
	reg := s.orch.Skills()
	var list []models.Skill
	if query != "" {
		list = reg.Search(query)
	} else {
		list = reg.List("", "")
	}
	return slices.DeleteFunc(list, func(sk models.Skill) bool {
		if category != "" && sk.Category != category {
			return true
		}
		return agent != "" && !sk.ListsAgent(agent)
	})
}

// Skill returns one catalog skill.
func (s *Service) Skill(name string) (models.Skill, error) {
	sk, ok := s.orch.Skills().Get(name)
	if !ok {
		return models.Skill{}, fmt.Errorf("%w: %s", orchestrator.ErrSkillNotFound, name)
	}
	return sk, nil
}

// ValidateSkills checks a combination against the exclusive categories.
func (s *Service) ValidateSkills(names []string) error {
	return s.orch.Skills().CheckCombination(names)
}

// SkillDocs renders the catalog documentation as markdown.
func (s *Service) SkillDocs() (string, error) {
	var b strings.Builder
	if err := s.orch.Skills().ExportDocumentation(&b); err != nil {
		return "", err
	}
	return b.String(), nil
}

// --- Task Operations ---

// SubmitTask validates and queues a task.
func (s *Service) SubmitTask(task *models.AgentTask) error {
	if err := validateTask(task); err != nil {
		return err
	}
	s.orch.SubmitTask(task)
	return nil
}

// QueuedTasks returns the submitted tasks still waiting.
func (s *Service) QueuedTasks() []*models.AgentTask {
	return s.orch.Queued()
}

// RunQueued drains the task queue once.
func (s *Service) RunQueued(ctx context.Context) []models.TaskResult {
	return s.orch.RunQueued(ctx)
}

// RunWorkflow executes a batch in the given mode.
func (s *Service) RunWorkflow(ctx context.Context, mode string, tasks []*models.AgentTask) ([]models.TaskResult, error) {
	for _, t := range tasks {
		if err := validateTask(t); err != nil {
			return nil, err
		}
	}
	switch mode {
	case "", ModeSequential:
		return s.orch.ExecuteWorkflow(ctx, tasks), nil
	case ModeParallel:
		return s.orch.ExecuteParallel(ctx, tasks), nil
	case ModeGraph:
		return s.orch.ExecuteGraph(ctx, tasks)
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, mode)
	}
}

// Results lists persisted task results.
func (s *Service) Results(taskID string, limit int) ([]models.TaskResult, error) {
	return s.store.ListResults(taskID, limit)
}

// Decisions lists the audit trail.
func (s *Service) Decisions(limit int) ([]models.PDREntry, error) {
	return s.store.ListPDR(limit)
}

func validateTask(t *models.AgentTask) error {
	switch {
	case t == nil:
		return fmt.Errorf("%w: task is required", ErrInvalidRequest)
	case t.ID == "":
		return fmt.Errorf("%w: task id is required", ErrInvalidRequest)
	case t.AgentName == "":
		return fmt.Errorf("%w: task %s has no agent", ErrInvalidRequest, t.ID)
	case t.Action == "":
		return fmt.Errorf("%w: task %s has no action", ErrInvalidRequest, t.ID)
	}
	if t.Status == "" {
		t.Status = models.TaskStatusWaiting
	}
	return nil
}

// --- Message Operations ---

// Messages lists the persisted message log.
func (s *Service) Messages(agent, msgType string, limit int) ([]models.Message, error) {
	var t models.MessageType
	if msgType != "" {
		parsed, err := models.ParseMessageType(msgType)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		t = parsed
	}
	return s.store.ListMessages(agent, t, limit)
}

// SendMessage publishes a direct message and returns its id.
func (s *Service) SendMessage(sender, recipient, msgType string, payload map[string]any, priority models.Priority, requiresResponse bool) (string, error) {
	if sender == "" || recipient == "" {
		return "", fmt.Errorf("%w: sender and recipient are required", ErrInvalidRequest)
	}
	t, err := parseType(msgType)
	if err != nil {
		return "", err
	}
	return s.proto.Bus().SendDirect(sender, recipient, t, payload, priority, requiresResponse), nil
}

// Broadcast publishes a copy to every subscriber of the type but the sender.
func (s *Service) Broadcast(sender, msgType string, payload map[string]any, priority models.Priority) (int, error) {
	if sender == "" {
		return 0, fmt.Errorf("%w: sender is required", ErrInvalidRequest)
	}
	t, err := parseType(msgType)
	if err != nil {
		return 0, err
	}
	return s.proto.Bus().Broadcast(sender, t, payload, priority), nil
}

// Subscribe registers an agent for message types.
func (s *Service) Subscribe(agent string, types []string) error {
	if agent == "" || len(types) == 0 {
		return fmt.Errorf("%w: agent and types are required", ErrInvalidRequest)
	}
	parsed := make([]models.MessageType, 0, len(types))
	for _, raw := range types {
		t, err := parseType(raw)
		if err != nil {
			return err
		}
		parsed = append(parsed, t)
	}
	s.proto.Bus().Subscribe(agent, parsed...)
	return nil
}

// Pending lists messages awaiting a response.
func (s *Service) Pending() []models.Message {
	return s.proto.Bus().Pending()
}

func parseType(raw string) (models.MessageType, error) {
	t, err := models.ParseMessageType(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return t, nil
}

// --- Coordination Operations ---

// CoordinationRequest is the body of every coordination endpoint.
type CoordinationRequest struct {
	From         string         `json:"from"`
	To           string         `json:"to,omitempty"`
	Participants []string       `json:"participants,omitempty"`
	Details      map[string]any `json:"details"`
}

// CoordinationResult reports what a coordination pattern published.
type CoordinationResult struct {
	MessageIDs []string `json:"message_ids,omitempty"`
	Reached    int      `json:"reached,omitempty"`
}

// Coordinate runs one coordination pattern: approval, delegate, share,
// parallel or announce.
func (s *Service) Coordinate(pattern string, req CoordinationRequest) (CoordinationResult, error) {
	if req.From == "" {
		return CoordinationResult{}, fmt.Errorf("%w: from is required", ErrInvalidRequest)
	}
	needsTo := pattern == "approval" || pattern == "delegate" || pattern == "share"
	if needsTo && req.To == "" {
		return CoordinationResult{}, fmt.Errorf("%w: to is required for %s", ErrInvalidRequest, pattern)
	}

	switch pattern {
	case "approval":
		return CoordinationResult{MessageIDs: []string{s.proto.RequestApproval(req.From, req.To, req.Details)}}, nil
	case "delegate":
		return CoordinationResult{MessageIDs: []string{s.proto.DelegateTask(req.From, req.To, req.Details)}}, nil
	case "share":
		return CoordinationResult{MessageIDs: []string{s.proto.ShareData(req.From, req.To, req.Details)}}, nil
	case "parallel":
		if len(req.Participants) == 0 {
			return CoordinationResult{}, fmt.Errorf("%w: participants are required", ErrInvalidRequest)
		}
		return CoordinationResult{MessageIDs: s.proto.CoordinateParallel(req.From, req.Participants, req.Details)}, nil
	case "announce":
		return CoordinationResult{Reached: s.proto.Announce(req.From, req.Details)}, nil
	default:
		return CoordinationResult{}, fmt.Errorf("%w: unknown coordination pattern %q", ErrInvalidRequest, pattern)
	}
}
