package domain

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ConversationContext holds the short-lived per-conversation state: the
// resolved tenant/domain and a bounded window of recent turns. Created on
// the first message of a conversation, destroyed on idle expiry or an
// explicit close signal.
type ConversationContext struct {
	mu             sync.RWMutex
	ID             string    `json:"id"` // ULID, internal
	ConversationID string    `json:"conversation_id"`
	TenantID       string    `json:"tenant_id"`
	Domain         string    `json:"domain"`
	Turns          []Turn    `json:"turns"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NewConversationContext creates a context with a generated ULID. The
// domain is sticky for the lifetime of the context.
func NewConversationContext(conversationID, tenantID, domainName string) *ConversationContext {
	now := time.Now()
	return &ConversationContext{
		ID:             generateULID(now),
		ConversationID: conversationID,
		TenantID:       tenantID,
		Domain:         domainName,
		Turns:          make([]Turn, 0),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func generateULID(t time.Time) string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// AddTurn appends a turn, evicting the oldest entries once maxTurns is
// exceeded (FIFO — message order matters for conversational coherence).
// A maxTurns of zero or less means unbounded.
func (c *ConversationContext) AddTurn(turn Turn, maxTurns int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	c.Turns = append(c.Turns, turn)
	if maxTurns > 0 && len(c.Turns) > maxTurns {
		c.Turns = c.Turns[len(c.Turns)-maxTurns:]
	}
	c.UpdatedAt = time.Now()
}

// TurnHistory returns a copy of the turn window (thread-safe).
func (c *ConversationContext) TurnHistory() []Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := make([]Turn, len(c.Turns))
	copy(cp, c.Turns)
	return cp
}

// TurnCount returns the number of retained turns.
func (c *ConversationContext) TurnCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.Turns)
}

// Touch refreshes the idle-expiry timestamp without mutating history.
func (c *ConversationContext) Touch() {
	c.mu.Lock()
	c.UpdatedAt = time.Now()
	c.mu.Unlock()
}

// LastUpdated returns the last-touched timestamp (thread-safe).
func (c *ConversationContext) LastUpdated() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.UpdatedAt
}
