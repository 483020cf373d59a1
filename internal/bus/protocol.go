package bus

import (
	"log/slog"

	"github.com/fentz26/cfagents/internal/models"
)

// Protocol standardizes priority and response choices for common
// interaction shapes. It holds no state beyond the bus.
type Protocol struct {
	bus    *MessageBus
	logger *slog.Logger
}

// NewProtocol creates a Protocol over the given bus.
func NewProtocol(b *MessageBus, logger *slog.Logger) *Protocol {
	if logger == nil {
		logger = slog.Default()
	}
	return &Protocol{bus: b, logger: logger}
}

// Bus returns the underlying message bus.
func (p *Protocol) Bus() *MessageBus {
	return p.bus
}

// RequestApproval asks an approver to sign off on something. High priority,
// response required.
func (p *Protocol) RequestApproval(requester, approver string, details map[string]any) string {
	return p.bus.SendDirect(requester, approver, models.MessageApprovalRequest, details, models.PriorityHigh, true)
}

// DelegateTask hands work to another agent. Normal priority, response required.
// Details conventionally carry "action" and "parameters".
func (p *Protocol) DelegateTask(delegator, delegate string, details map[string]any) string {
	return p.bus.SendDirect(delegator, delegate, models.MessageTaskRequest, details, models.PriorityNormal, true)
}

// ShareData sends data without expecting a reply.
func (p *Protocol) ShareData(sender, recipient string, data map[string]any) string {
	return p.bus.SendDirect(sender, recipient, models.MessageDataShare, data, models.PriorityNormal, false)
}

// CoordinateParallel delegates the same details to each participant and
// returns the message ids in participant order. It does not wait for replies.
func (p *Protocol) CoordinateParallel(coordinator string, participants []string, details map[string]any) []string {
	ids := make([]string, 0, len(participants))
	for _, participant := range participants {
		ids = append(ids, p.DelegateTask(coordinator, participant, details))
	}
	p.logger.Info("coordinating parallel tasks", "coordinator", coordinator, "participants", len(participants))
	return ids
}

// Announce broadcasts a coordination notice to every coordination subscriber
// except the coordinator and returns the number reached.
func (p *Protocol) Announce(coordinator string, details map[string]any) int {
	return p.bus.Broadcast(coordinator, models.MessageCoordination, details, models.PriorityNormal)
}
