// Package bus provides the priority message bus agents use to talk to each
// other, plus the coordination patterns layered on top of it.
package bus

import (
	"container/heap"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/fentz26/cfagents/internal/models"
	"github.com/google/uuid"
)

// Recorder persists published messages. Calls arrive one at a time in
// publish order, outside the bus lock; a failing recorder never fails a
// publish.
type Recorder interface {
	RecordMessage(msg models.Message) error
}

// HistoryFilter narrows History. Zero values match everything.
type HistoryFilter struct {
	// Agent matches messages sent or received by the agent.
	Agent string
	Type  models.MessageType
}

// Option configures a MessageBus.
type Option func(*MessageBus)

// WithRecorder attaches a persistence sink for published messages.
func WithRecorder(r Recorder) Option {
	return func(b *MessageBus) { b.recorder = r }
}

// WithClock overrides the time source used for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *MessageBus) { b.now = now }
}

// MessageBus is a priority-ordered exchange with topic fan-out, an
// append-only history log and pending-response tracking.
// All mutation happens under a single lock so sequence numbers are assigned
// in a strictly linear order.
type MessageBus struct {
	mu          sync.Mutex
	recordMu    sync.Mutex
	queue       messageHeap
	seq         uint64
	history     []models.Message
	subscribers map[models.MessageType][]string
	pending     map[string]models.Message

	recorder Recorder
	now      func() time.Time
	logger   *slog.Logger
}

// New creates an empty bus.
func New(logger *slog.Logger, opts ...Option) *MessageBus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &MessageBus{
		subscribers: make(map[models.MessageType][]string),
		pending:     make(map[string]models.Message),
		now:         time.Now,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers interest in the given message types. Repeated
// subscriptions are no-ops.
func (b *MessageBus) Subscribe(agent string, types ...models.MessageType) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, t := range types {
		if slices.Contains(b.subscribers[t], agent) {
			continue
		}
		b.subscribers[t] = append(b.subscribers[t], agent)
		b.logger.Info("agent subscribed", "agent", agent, "type", string(t))
	}
}

// Subscribers returns the agents subscribed to a type in subscription order.
func (b *MessageBus) Subscribers(t models.MessageType) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.subscribers[t]...)
}

// Publish enqueues a message, appends it to the history log and tracks it
// as pending when it requires a response. Publishing never fails.
func (b *MessageBus) Publish(msg models.Message) {
	msg = detach(msg)

	b.mu.Lock()
	b.seq++
	heap.Push(&b.queue, entry{priority: msg.Priority, seq: b.seq, msg: msg})
	b.history = append(b.history, msg)
	if msg.RequiresResponse {
		b.pending[msg.ID] = msg
	}
	// recordMu is taken before the bus lock is released so the recorder
	// sees messages in sequence order.
	rec := b.recorder
	if rec != nil {
		b.recordMu.Lock()
	}
	b.mu.Unlock()

	b.logger.Info("message published",
		"id", msg.ID,
		"sender", msg.Sender,
		"recipient", msg.Recipient,
		"type", string(msg.Type),
		"priority", int(msg.Priority),
	)

	if rec != nil {
		if err := rec.RecordMessage(detach(msg)); err != nil {
			b.logger.Warn("failed to record message", "id", msg.ID, "error", err)
		}
		b.recordMu.Unlock()
	}
}

// NextMessage pops the most urgent message. When forAgent is set and the
// head is addressed to someone else, the head stays queued at its original
// position and ok is false. An empty queue also yields ok == false.
func (b *MessageBus) NextMessage(forAgent string) (models.Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.queue.Len() == 0 {
		return models.Message{}, false
	}
	e := heap.Pop(&b.queue).(entry)
	if forAgent != "" && e.msg.Recipient != forAgent {
		// Re-pushed with its original seq, so ordering is unchanged.
		heap.Push(&b.queue, e)
		return models.Message{}, false
	}
	return detach(e.msg), true
}

// Len returns the number of queued messages.
func (b *MessageBus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queue.Len()
}

// SendDirect builds and publishes a message and returns its id.
func (b *MessageBus) SendDirect(sender, recipient string, t models.MessageType, payload map[string]any, priority models.Priority, requiresResponse bool) string {
	msg := b.newMessage(sender, recipient, t, payload, priority)
	msg.RequiresResponse = requiresResponse
	b.Publish(msg)
	return msg.ID
}

// Broadcast sends a copy of the message to every subscriber of the type
// except the sender and returns how many recipients were reached.
func (b *MessageBus) Broadcast(sender string, t models.MessageType, payload map[string]any, priority models.Priority) int {
	count := 0
	for _, recipient := range b.Subscribers(t) {
		if recipient == sender {
			continue
		}
		b.SendDirect(sender, recipient, t, payload, priority, false)
		count++
	}
	b.logger.Info("broadcast sent", "sender", sender, "type", string(t), "recipients", count)
	return count
}

// Respond publishes a task result back to the original sender and clears the
// original message from the pending-response set.
func (b *MessageBus) Respond(original models.Message, payload map[string]any) string {
	resp := b.newMessage(original.Recipient, original.Sender, models.MessageTaskResult, payload, original.Priority)
	resp.Metadata = map[string]any{models.MetaOriginalMessageID: original.ID}
	b.Publish(resp)

	b.mu.Lock()
	delete(b.pending, original.ID)
	b.mu.Unlock()
	return resp.ID
}

// History returns a filtered copy of the message log in publish order.
func (b *MessageBus) History(f HistoryFilter) []models.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]models.Message, 0, len(b.history))
	for _, m := range b.history {
		if f.Agent != "" && m.Sender != f.Agent && m.Recipient != f.Agent {
			continue
		}
		if f.Type != "" && m.Type != f.Type {
			continue
		}
		out = append(out, detach(m))
	}
	return out
}

// Pending returns the messages still awaiting a response, in publish order.
func (b *MessageBus) Pending() []models.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]models.Message, 0, len(b.pending))
	for _, m := range b.history {
		if _, ok := b.pending[m.ID]; ok {
			out = append(out, detach(m))
		}
	}
	return out
}

// IsPending reports whether the message id still awaits a response.
func (b *MessageBus) IsPending(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.pending[id]
	return ok
}

// ClearPending drops a message from the pending set without answering it.
func (b *MessageBus) ClearPending(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.pending[id]; !ok {
		return false
	}
	delete(b.pending, id)
	return true
}

func (b *MessageBus) newMessage(sender, recipient string, t models.MessageType, payload map[string]any, priority models.Priority) models.Message {
	if !priority.Valid() {
		priority = models.PriorityNormal
	}
	return models.Message{
		ID:                     uuid.New().String(),
		Timestamp:              b.now().UTC().Round(0),
		Sender:                 sender,
		Recipient:              recipient,
		Type:                   t,
		Priority:               priority,
		Payload:                payload,
		ResponseTimeoutSeconds: models.DefaultResponseTimeout,
		Metadata:               map[string]any{},
	}
}
