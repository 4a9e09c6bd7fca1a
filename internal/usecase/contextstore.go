package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/GiovanoMP/chatwootai-hub/internal/domain"
)

// ResolveFunc populates a new context's tenant and domain. It is invoked
// only when no live context exists for the conversation.
type ResolveFunc func(ctx context.Context) (domain.Resolution, error)

// ContextStoreConfig bounds the per-conversation state.
type ContextStoreConfig struct {
	// MaxTurns caps the turn history; oldest turns are evicted FIFO.
	MaxTurns int
	// IdleTTL is how long a conversation may sit untouched before its
	// context is destroyed.
	IdleTTL time.Duration
}

// ContextStore maintains short-lived per-conversation state. Contexts are
// created on the first message of a conversation and destroyed after the
// idle TTL elapses or on an explicit close signal. Entries are owned by
// the conversation's serialized access path; no other component mutates
// them directly.
type ContextStore struct {
	mu       sync.RWMutex
	contexts map[string]*domain.ConversationContext
	cfg      ContextStoreConfig
	bus      domain.EventBus
	logger   *slog.Logger
}

// NewContextStore creates a context store.
func NewContextStore(cfg ContextStoreConfig, bus domain.EventBus, logger *slog.Logger) *ContextStore {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 30 * time.Minute
	}
	return &ContextStore{
		contexts: make(map[string]*domain.ConversationContext),
		cfg:      cfg,
		bus:      bus,
		logger:   logger,
	}
}

// GetOrCreate returns the live context for conversationID, or invokes
// resolve to populate a new one. The bool reports whether a context was
// created. If resolution fails, no context is created and the message must
// be treated as not routable.
func (s *ContextStore) GetOrCreate(ctx context.Context, conversationID string, resolve ResolveFunc) (*domain.ConversationContext, bool, error) {
	s.mu.RLock()
	conv, ok := s.contexts[conversationID]
	s.mu.RUnlock()
	if ok && !s.expired(conv) {
		return conv, false, nil
	}
	if ok {
		// Idle context found by a new message: destroy it and start fresh.
		s.Expire(ctx, conversationID)
	}

	res, err := resolve(ctx)
	if err != nil {
		return nil, false, err
	}

	conv = domain.NewConversationContext(conversationID, res.TenantID, res.Domain)

	s.mu.Lock()
	// Another caller may have created the context while resolve ran; the
	// per-conversation lock in the router prevents that for real traffic,
	// but the store stays correct without it.
	if existing, ok := s.contexts[conversationID]; ok && !s.expired(existing) {
		s.mu.Unlock()
		return existing, false, nil
	}
	s.contexts[conversationID] = conv
	s.mu.Unlock()

	publishEvent(ctx, s.bus, domain.Event{
		Type:           domain.EventContextCreated,
		ConversationID: conversationID,
		Tenant:         res.TenantID,
		Domain:         res.Domain,
	})
	return conv, true, nil
}

// Get returns the live context or ErrContextNotFound.
func (s *ContextStore) Get(conversationID string) (*domain.ConversationContext, error) {
	s.mu.RLock()
	conv, ok := s.contexts[conversationID]
	s.mu.RUnlock()
	if !ok || s.expired(conv) {
		return nil, domain.NewDomainError("ContextStore.Get", domain.ErrContextNotFound, conversationID)
	}
	return conv, nil
}

// AppendTurn appends a turn to the conversation's bounded history and
// refreshes the idle-expiry timer. A present entry is treated as live even
// past its TTL: a conversation can cross the TTL mid-dispatch, and the
// append is exactly the activity that resets it.
func (s *ContextStore) AppendTurn(conversationID string, turn domain.Turn) error {
	conv, err := s.lookup("ContextStore.AppendTurn", conversationID)
	if err != nil {
		return err
	}
	conv.AddTurn(turn, s.cfg.MaxTurns)
	return nil
}

// Update applies a mutation to the context and refreshes the idle-expiry
// timer. Present entries are treated as live, as in AppendTurn.
func (s *ContextStore) Update(conversationID string, mutate func(*domain.ConversationContext)) error {
	conv, err := s.lookup("ContextStore.Update", conversationID)
	if err != nil {
		return err
	}
	mutate(conv)
	conv.Touch()
	return nil
}

func (s *ContextStore) lookup(op, conversationID string) (*domain.ConversationContext, error) {
	s.mu.RLock()
	conv, ok := s.contexts[conversationID]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.NewDomainError(op, domain.ErrContextNotFound, conversationID)
	}
	return conv, nil
}

// Expire destroys the context for conversationID. Expiring an already
// expired or nonexistent context is a no-op, not an error: both the
// background sweep and the transport's conversation-closed signal call
// this and the two may race.
func (s *ContextStore) Expire(ctx context.Context, conversationID string) {
	s.mu.Lock()
	conv, ok := s.contexts[conversationID]
	if ok {
		delete(s.contexts, conversationID)
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	publishEvent(ctx, s.bus, domain.Event{
		Type:           domain.EventContextExpired,
		ConversationID: conversationID,
		Tenant:         conv.TenantID,
		Domain:         conv.Domain,
	})
}

// Sweep destroys every context idle past the TTL and returns the count.
// Conversations the busy predicate reports as in flight are skipped even
// when their TTL has elapsed: destroying a context out from under a slow
// dispatch would lose the turns it is about to append. A nil predicate
// sweeps unconditionally. Wired to a cron schedule by the host process.
func (s *ContextStore) Sweep(ctx context.Context, busy func(conversationID string) bool) int {
	s.mu.RLock()
	var stale []string
	for id, conv := range s.contexts {
		if s.expired(conv) && (busy == nil || !busy(id)) {
			stale = append(stale, id)
		}
	}
	s.mu.RUnlock()

	for _, id := range stale {
		s.Expire(ctx, id)
	}
	if len(stale) > 0 {
		s.logger.Debug("swept idle conversation contexts", "count", len(stale))
	}
	return len(stale)
}

// Len returns the number of live contexts.
func (s *ContextStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.contexts)
}

func (s *ContextStore) expired(conv *domain.ConversationContext) bool {
	return time.Since(conv.LastUpdated()) > s.cfg.IdleTTL
}
