// Package orchestrator owns the agent pools and runs tasks across them.
package orchestrator

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/fentz26/cfagents/internal/agents"
	"github.com/fentz26/cfagents/internal/config"
	"github.com/fentz26/cfagents/internal/models"
	"github.com/fentz26/cfagents/internal/skills"
)

// Config tunes execution.
type Config struct {
	// MaxParallel bounds concurrent callbacks in ExecuteParallel.
	MaxParallel int
	// EnforceExclusive validates exclusive categories against the skills
	// an agent already holds when attaching.
	EnforceExclusive bool
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{MaxParallel: 8, EnforceExclusive: true}
}

// Auditor records dispatch and attachment decisions.
type Auditor interface {
	Record(action string, inputs any, outcome, taskID, details string) (*models.PDREntry, error)
}

// ResultRecorder persists task results.
type ResultRecorder interface {
	RecordResult(res models.TaskResult) error
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) { o.cfg = cfg }
}

// WithActions sets the action registry shared by every agent.
func WithActions(r *agents.ActionRegistry) Option {
	return func(o *Orchestrator) { o.actions = r }
}

// WithAuditor attaches a decision audit trail.
func WithAuditor(a Auditor) Option {
	return func(o *Orchestrator) { o.auditor = a }
}

// WithResultRecorder attaches a sink for task results.
func WithResultRecorder(r ResultRecorder) Option {
	return func(o *Orchestrator) { o.results = r }
}

// Snapshot is the aggregate status view.
type Snapshot struct {
	Core           map[string]models.AgentStatus `json:"core_agents"`
	Specialized    map[string]models.AgentStatus `json:"specialized_agents"`
	QueueSize      int                           `json:"task_queue_size"`
	CompletedTasks int                           `json:"completed_tasks"`
}

// Orchestrator holds the core and specialized agent pools, the skills
// catalog, the completed-task set and the submitted-task queue.
type Orchestrator struct {
	mu          sync.RWMutex
	core        []*agents.Agent
	specialized []*agents.Agent
	byName      map[string]*agents.Agent

	// attachMu serializes attach so the combination check and the attach
	// see the same skill set.
	attachMu sync.Mutex

	doneMu    sync.Mutex
	completed map[string]bool
	doneOrder []string

	queueMu sync.Mutex
	queue   []*models.AgentTask

	registry *skills.Registry
	actions  *agents.ActionRegistry
	auditor  Auditor
	results  ResultRecorder
	cfg      Config
	logger   *slog.Logger
}

// New builds an orchestrator from a loaded catalog.
func New(cat *config.Catalog, logger *slog.Logger, opts ...Option) (*Orchestrator, error) {
	if cat == nil || cat.Skills == nil {
		return nil, fmt.Errorf("%w: catalog and skills registry are required", ErrInvalidCatalog)
	}
	if logger == nil {
		logger = slog.Default()
	}

	o := &Orchestrator{
		byName:    make(map[string]*agents.Agent),
		completed: make(map[string]bool),
		registry:  cat.Skills,
		cfg:       DefaultConfig(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.actions == nil {
		o.actions = agents.NewActionRegistry()
	}
	if o.cfg.MaxParallel <= 0 {
		o.cfg.MaxParallel = DefaultConfig().MaxParallel
	}

	build := func(specs []config.AgentSpec) ([]*agents.Agent, error) {
		pool := make([]*agents.Agent, 0, len(specs))
		for _, spec := range specs {
			if _, dup := o.byName[spec.Name]; dup {
				return nil, fmt.Errorf("%w: agent %q defined twice", ErrInvalidCatalog, spec.Name)
			}
			a := agents.New(spec.Name, spec.Config, o.actions, logger)
			o.byName[spec.Name] = a
			pool = append(pool, a)
		}
		return pool, nil
	}

	var err error
	if o.core, err = build(cat.Core); err != nil {
		return nil, err
	}
	if o.specialized, err = build(cat.Specialized); err != nil {
		return nil, err
	}

	logger.Info("orchestrator initialized",
		"core_agents", len(o.core),
		"specialized_agents", len(o.specialized),
		"skills", cat.Skills.Len(),
	)
	return o, nil
}

// Skills returns the skills catalog.
func (o *Orchestrator) Skills() *skills.Registry {
	return o.registry
}

// Actions returns the action registry shared by every agent.
func (o *Orchestrator) Actions() *agents.ActionRegistry {
	return o.actions
}

// Config returns the active configuration.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// Agent looks up an agent in the core pool, then the specialized pool.
func (o *Orchestrator) Agent(name string) (*agents.Agent, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	a, ok := o.byName[name]
	return a, ok
}

// Agents returns a snapshot of every agent, core pool first, in config order.
func (o *Orchestrator) Agents() []agents.Info {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]agents.Info, 0, len(o.core)+len(o.specialized))
	for _, a := range o.core {
		out = append(out, a.Info())
	}
	for _, a := range o.specialized {
		out = append(out, a.Info())
	}
	return out
}

// AttachSkillToAgent attaches a catalog skill to an agent after checking
// that the agent exists, the skill exists, the skill may attach to the agent
// and, when enabled, that the resulting combination respects exclusive
// categories.
func (o *Orchestrator) AttachSkillToAgent(agentName, skillName string) error {
	err := o.attach(agentName, skillName)
	outcome, details := "success", fmt.Sprintf("attached %s to %s", skillName, agentName)
	if err != nil {
		outcome, details = "rejected", err.Error()
		o.logger.Warn("skill attach rejected", "agent", agentName, "skill", skillName, "error", err)
	}
	o.audit("skill.attach", map[string]any{"agent": agentName, "skill": skillName}, outcome, "", details)
	return err
}

func (o *Orchestrator) attach(agentName, skillName string) error {
	agent, ok := o.Agent(agentName)
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, agentName)
	}
	skill, ok := o.registry.Get(skillName)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSkillNotFound, skillName)
	}
	if !skill.CanAttachTo(agentName) {
		return fmt.Errorf("%w: %s cannot attach to %s", ErrNotAttachable, skillName, agentName)
	}

	o.attachMu.Lock()
	defer o.attachMu.Unlock()

	if agent.HasSkill(skillName) {
		return fmt.Errorf("%w: %s on %s", agents.ErrAlreadyAttached, skillName, agentName)
	}
	if o.cfg.EnforceExclusive {
		combo := append(agent.SkillNames(), skillName)
		if err := o.registry.CheckCombination(combo); err != nil {
			return fmt.Errorf("attach %s to %s: %w", skillName, agentName, err)
		}
	}
	return agent.AttachSkill(skill)
}

// DetachSkillFromAgent removes a skill. Detaching a skill the agent does not
// hold is not an error.
func (o *Orchestrator) DetachSkillFromAgent(agentName, skillName string) error {
	agent, ok := o.Agent(agentName)
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, agentName)
	}
	if agent.DetachSkill(skillName) {
		o.audit("skill.detach", map[string]any{"agent": agentName, "skill": skillName}, "success", "", "")
	}
	return nil
}

// AgentSkills returns the names of the skills attached to an agent.
func (o *Orchestrator) AgentSkills(agentName string) ([]string, error) {
	agent, ok := o.Agent(agentName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, agentName)
	}
	return agent.SkillNames(), nil
}

// ResetAgent returns an agent to idle so it accepts work after a failure.
func (o *Orchestrator) ResetAgent(agentName string) error {
	agent, ok := o.Agent(agentName)
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, agentName)
	}
	if !agent.Reset() {
		return fmt.Errorf("%w: %s is running", agents.ErrNotExecutable, agentName)
	}
	o.audit("agent.reset", map[string]any{"agent": agentName}, "success", "", "")
	return nil
}

// AgentStatus returns every agent's status keyed by name.
func (o *Orchestrator) AgentStatus() map[string]models.AgentStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make(map[string]models.AgentStatus, len(o.byName))
	for name, a := range o.byName {
		out[name] = a.Status()
	}
	return out
}

// Snapshot returns statuses split by pool plus queue and completion counts.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.RLock()
	snap := Snapshot{
		Core:        make(map[string]models.AgentStatus, len(o.core)),
		Specialized: make(map[string]models.AgentStatus, len(o.specialized)),
	}
	for _, a := range o.core {
		snap.Core[a.Name()] = a.Status()
	}
	for _, a := range o.specialized {
		snap.Specialized[a.Name()] = a.Status()
	}
	o.mu.RUnlock()

	snap.QueueSize = o.QueueSize()
	snap.CompletedTasks = len(o.CompletedTasks())
	return snap
}

// SubmitTask appends a task to the queue. Nothing runs until RunQueued.
func (o *Orchestrator) SubmitTask(task *models.AgentTask) {
	if task == nil {
		return
	}
	o.queueMu.Lock()
	o.queue = append(o.queue, task)
	size := len(o.queue)
	o.queueMu.Unlock()

	o.logger.Info("task submitted", "task_id", task.ID, "agent", task.AgentName, "queue_size", size)
}

// QueueSize returns the number of queued tasks.
func (o *Orchestrator) QueueSize() int {
	o.queueMu.Lock()
	defer o.queueMu.Unlock()
	return len(o.queue)
}

// Queued returns the queued tasks in submission order.
func (o *Orchestrator) Queued() []*models.AgentTask {
	o.queueMu.Lock()
	defer o.queueMu.Unlock()
	return slices.Clone(o.queue)
}

// CompletedTasks returns completed task ids in completion order.
func (o *Orchestrator) CompletedTasks() []string {
	o.doneMu.Lock()
	defer o.doneMu.Unlock()
	return slices.Clone(o.doneOrder)
}

// IsCompleted reports whether a task id is in the completed set.
func (o *Orchestrator) IsCompleted(id string) bool {
	o.doneMu.Lock()
	defer o.doneMu.Unlock()
	return o.completed[id]
}

func (o *Orchestrator) markCompleted(id string) {
	o.doneMu.Lock()
	defer o.doneMu.Unlock()
	if !o.completed[id] {
		o.completed[id] = true
		o.doneOrder = append(o.doneOrder, id)
	}
}

func (o *Orchestrator) audit(action string, inputs any, outcome, taskID, details string) {
	if o.auditor == nil {
		return
	}
	if _, err := o.auditor.Record(action, inputs, outcome, taskID, details); err != nil {
		o.logger.Warn("failed to write decision record", "action", action, "error", err)
	}
}

func (o *Orchestrator) record(res models.TaskResult) {
	if res.Succeeded() {
		o.markCompleted(res.TaskID)
	}
	if o.results == nil {
		return
	}
	if err := o.results.RecordResult(res); err != nil {
		o.logger.Warn("failed to record task result", "task_id", res.TaskID, "error", err)
	}
}
