package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventRoutingResolved EventType = "routing.resolved"
	EventRoutingFallback EventType = "routing.fallback"
	EventCrewBuilt       EventType = "crew.built"
	EventCrewEvicted     EventType = "crew.evicted"
	EventContextCreated  EventType = "context.created"
	EventContextExpired  EventType = "context.expired"
	EventMessageDone     EventType = "message.completed"
	EventMessageFailed   EventType = "message.failed"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type           EventType       `json:"type"`
	Timestamp      time.Time       `json:"timestamp"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Tenant         string          `json:"tenant,omitempty"`
	Domain         string          `json:"domain,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for hub events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}
