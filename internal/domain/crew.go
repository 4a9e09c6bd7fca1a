package domain

import "context"

// HandlerResult is the output of one handler invocation.
type HandlerResult struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Handler is one processing step inside a crew. Implementations must be
// safe for concurrent use across conversations; per-conversation access is
// serialized by the router.
type Handler interface {
	Invoke(ctx context.Context, conv *ConversationContext, msg InboundMessage) (HandlerResult, error)
	Kind() string
}

// Crew is an instantiated, ready-to-invoke handler set bound to one
// DomainConfig. Never mutated after construction: a configuration change
// produces a new Crew and the old one is evicted.
type Crew struct {
	SetID    string
	Domain   string
	Tenant   string
	Version  int64
	Handlers []Handler
	Params   map[string]string
}

// CrewInvoker executes a crew against a conversation. The router treats
// this as an opaque, potentially slow, potentially failing external call.
type CrewInvoker interface {
	Invoke(ctx context.Context, crew *Crew, conv *ConversationContext, msg InboundMessage) (HandlerResult, error)
}
