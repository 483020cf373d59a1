package scheduler

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/fentz26/cfagents/internal/agents"
	"github.com/fentz26/cfagents/internal/bus"
	"github.com/fentz26/cfagents/internal/models"
)

// Runner executes a task on a named agent.
// *orchestrator.Orchestrator satisfies it.
type Runner interface {
	Agent(name string) (*agents.Agent, bool)
	RunTask(ctx context.Context, task *models.AgentTask) (models.TaskResult, error)
}

// Dispatcher polls the bus. Task requests addressed to known agents run on
// workers and are answered with a task_result; every other message lands
// in its recipient's inbox.
type Dispatcher struct {
	bus    *bus.MessageBus
	runner Runner
	config *Config
	logger *slog.Logger

	// Worker pool state
	mu            sync.Mutex
	activeWorkers int
	agentLocks    map[string]*sync.Mutex
	inbox         map[string][]models.Message
	dispatched    int
	answered      int

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New creates a dispatcher. A nil config uses DefaultConfig.
func New(b *bus.MessageBus, r Runner, cfg *Config, logger *slog.Logger) *Dispatcher {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.normalize()
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Dispatcher{
		bus:        b,
		runner:     r,
		config:     cfg,
		logger:     logger,
		agentLocks: make(map[string]*sync.Mutex),
		inbox:      make(map[string][]models.Message),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start begins the polling loop. Calling it twice is a no-op.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.mu.Unlock()

	d.wg.Add(1)
	go d.loop()
	d.logger.Info("dispatcher started", "global_max", d.config.GlobalMax, "poll_interval", d.config.PollInterval)
}

// Stop ends the polling loop and waits for running workers to finish.
// Tasks already dispatched are not cancelled.
func (d *Dispatcher) Stop() {
	d.cancel()
	d.wg.Wait()
	d.logger.Info("dispatcher stopped")
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.pollAndDispatch()
		}
	}
}

// pollAndDispatch drains the bus until it is empty or every worker slot is
// taken. Messages stay queued while the pool is full.
func (d *Dispatcher) pollAndDispatch() {
	for {
		if d.ctx.Err() != nil {
			return
		}
		d.mu.Lock()
		full := d.activeWorkers >= d.config.GlobalMax
		d.mu.Unlock()
		if full {
			return
		}

		msg, ok := d.bus.NextMessage("")
		if !ok {
			return
		}
		d.route(msg)
	}
}

func (d *Dispatcher) route(msg models.Message) {
	if msg.Type == models.MessageTaskRequest {
		if _, known := d.runner.Agent(msg.Recipient); known {
			d.startWorker(msg)
			return
		}
	}

	d.mu.Lock()
	d.inbox[msg.Recipient] = append(d.inbox[msg.Recipient], msg)
	d.mu.Unlock()
	d.logger.Debug("message delivered to inbox", "id", msg.ID, "recipient", msg.Recipient, "type", string(msg.Type))
}

func (d *Dispatcher) startWorker(msg models.Message) {
	d.mu.Lock()
	d.activeWorkers++
	d.dispatched++
	lock, ok := d.agentLocks[msg.Recipient]
	if !ok {
		lock = &sync.Mutex{}
		d.agentLocks[msg.Recipient] = lock
	}
	d.mu.Unlock()

	d.logger.Info("dispatched task request", "id", msg.ID, "agent", msg.Recipient, "sender", msg.Sender)

	d.wg.Add(1)
	go d.runWorker(msg, lock)
}

// runWorker executes one delegated task. Work for a single agent is
// serialized so the dispatcher never races itself into a busy refusal.
func (d *Dispatcher) runWorker(msg models.Message, lock *sync.Mutex) {
	defer d.wg.Done()
	defer func() {
		d.mu.Lock()
		d.activeWorkers--
		d.mu.Unlock()
	}()

	task := TaskFromMessage(msg)

	// Only the poll loop observes Stop; a dispatched task runs to completion.
	ctx := context.WithoutCancel(d.ctx)

	lock.Lock()
	res, err := d.runner.RunTask(ctx, task)
	lock.Unlock()

	payload := ResultPayload(task, res, err)
	if err != nil {
		d.logger.Warn("delegated task refused", "id", msg.ID, "agent", msg.Recipient, "error", err)
	}
	if !msg.RequiresResponse {
		return
	}
	d.bus.Respond(msg, payload)

	d.mu.Lock()
	d.answered++
	d.mu.Unlock()
}

// TaskFromMessage builds the task a task_request describes. The payload's
// "action" and "parameters" keys are used; the message id becomes the task id.
func TaskFromMessage(msg models.Message) *models.AgentTask {
	action, _ := msg.Payload["action"].(string)
	if action == "" {
		action = "delegated_task"
	}
	params, _ := msg.Payload["parameters"].(map[string]any)
	return models.NewTask(msg.ID, msg.Recipient, action, params)
}

// ResultPayload is the body of the task_result answer to a delegated task.
func ResultPayload(task *models.AgentTask, res models.TaskResult, err error) map[string]any {
	if err != nil {
		return map[string]any{
			"task_id": task.ID,
			"agent":   task.AgentName,
			"action":  task.Action,
			"status":  string(models.ResultFailed),
			"error":   err.Error(),
		}
	}
	payload := map[string]any{
		"task_id": res.TaskID,
		"agent":   res.Agent,
		"action":  res.Action,
		"status":  string(res.Status),
		"output":  res.Output,
	}
	if res.Error != "" {
		payload["error"] = res.Error
	}
	if len(res.Data) > 0 {
		payload["data"] = maps.Clone(res.Data)
	}
	return payload
}

// Inbox returns the messages delivered to an agent, oldest first.
func (d *Dispatcher) Inbox(agent string) []models.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.inbox[agent])
}

// TakeInbox returns and clears an agent's inbox.
func (d *Dispatcher) TakeInbox(agent string) []models.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	msgs := d.inbox[agent]
	delete(d.inbox, agent)
	return msgs
}

// GetStats returns current dispatcher statistics.
func (d *Dispatcher) GetStats() map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()

	inbox := make(map[string]int, len(d.inbox))
	for agent, msgs := range d.inbox {
		inbox[agent] = len(msgs)
	}

	return map[string]any{
		"active_workers": d.activeWorkers,
		"global_max":     d.config.GlobalMax,
		"dispatched":     d.dispatched,
		"answered":       d.answered,
		"inbox":          inbox,
		"queued":         d.bus.Len(),
	}
}
