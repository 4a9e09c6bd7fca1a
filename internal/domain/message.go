package domain

import "time"

// Role constants for conversation turns.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Turn is a single exchange entry in a conversation's history.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// InboundMessage is the normalized form of a message received from the
// transport layer. Webhook payload parsing happens upstream; the hub only
// ever sees this shape.
type InboundMessage struct {
	SourceAccountID string            `json:"source_account_id"`
	SourceChannelID string            `json:"source_channel_id"`
	ConversationID  string            `json:"conversation_id"`
	SenderID        string            `json:"sender_id,omitempty"`
	Content         string            `json:"content"`
	Timestamp       time.Time         `json:"timestamp"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// OutcomeStatus is the terminal state of one processed message.
type OutcomeStatus string

const (
	StatusCompleted      OutcomeStatus = "completed"
	StatusUnroutable     OutcomeStatus = "unroutable"
	StatusDispatchFailed OutcomeStatus = "dispatch_failed"
)

// RoutingOutcome is returned to the transport layer for every processed
// message, success or failure. Err is nil when Status is StatusCompleted.
type RoutingOutcome struct {
	Status OutcomeStatus `json:"status"`
	Tenant string        `json:"tenant,omitempty"`
	Domain string        `json:"domain,omitempty"`
	Result string        `json:"result,omitempty"`
	Err    error         `json:"-"`
}
