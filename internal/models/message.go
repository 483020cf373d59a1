package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// MessageType identifies the kind of inter-agent message.
type MessageType string

const (
	MessageTaskRequest      MessageType = "task_request"
	MessageTaskResult       MessageType = "task_result"
	MessageStatusUpdate     MessageType = "status_update"
	MessageErrorReport      MessageType = "error_report"
	MessageDataShare        MessageType = "data_share"
	MessageCoordination     MessageType = "coordination"
	MessageApprovalRequest  MessageType = "approval_request"
	MessageApprovalResponse MessageType = "approval_response"
)

var messageTypes = []MessageType{
	MessageTaskRequest,
	MessageTaskResult,
	MessageStatusUpdate,
	MessageErrorReport,
	MessageDataShare,
	MessageCoordination,
	MessageApprovalRequest,
	MessageApprovalResponse,
}

// MessageTypes returns every known message type.
func MessageTypes() []MessageType {
	return append([]MessageType(nil), messageTypes...)
}

// ParseMessageType validates a message type string.
func ParseMessageType(s string) (MessageType, error) {
	for _, t := range messageTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown message type %q", s)
}

// Priority orders messages on the bus. Lower values are more urgent.
type Priority int

const (
	PriorityCritical Priority = 1
	PriorityHigh     Priority = 2
	PriorityNormal   Priority = 3
	PriorityLow      Priority = 4
)

// Valid reports whether p is one of the four defined levels.
func (p Priority) Valid() bool {
	return p >= PriorityCritical && p <= PriorityLow
}

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority accepts a level name or its number.
func ParsePriority(s string) (Priority, error) {
	for p := PriorityCritical; p <= PriorityLow; p++ {
		if s == p.String() || s == strconv.Itoa(int(p)) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown priority %q", s)
}

// DefaultResponseTimeout is the response timeout, in seconds, given to new messages.
// Nothing enforces it; it travels with the message for consumers.
const DefaultResponseTimeout = 300

// MetaOriginalMessageID links a response to the message it answers.
const MetaOriginalMessageID = "original_message_id"

// Message is an envelope exchanged between agents through the bus.
// Treat it as immutable once published.
type Message struct {
	ID                     string         `json:"message_id"`
	Timestamp              time.Time      `json:"timestamp"`
	Sender                 string         `json:"sender"`
	Recipient              string         `json:"recipient"`
	Type                   MessageType    `json:"message_type"`
	Priority               Priority       `json:"priority"`
	Payload                map[string]any `json:"payload"`
	RequiresResponse       bool           `json:"requires_response"`
	ResponseTimeoutSeconds int            `json:"response_timeout_seconds"`
	Metadata               map[string]any `json:"metadata"`
}

// ToJSON encodes the message in its wire form.
func (m Message) ToJSON() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// ParseMessage decodes a message from its wire form.
func ParseMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if m.ID == "" {
		return Message{}, fmt.Errorf("decode message: missing message_id")
	}
	if _, err := ParseMessageType(string(m.Type)); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if !m.Priority.Valid() {
		return Message{}, fmt.Errorf("decode message: invalid priority %d", m.Priority)
	}
	return m, nil
}
