package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/GiovanoMP/chatwootai-hub/internal/domain"
	"github.com/GiovanoMP/chatwootai-hub/internal/infra/tracer"
)

// crewSetMetadataKey lets the transport pin a message to a specific crew
// set; without it the domain's default crew set is used.
const crewSetMetadataKey = "crew_set"

// RouterConfig holds per-message processing policy.
type RouterConfig struct {
	// MessageTimeout is the overall deadline for one message, propagated
	// as cancellation to resolution, build, and dispatch.
	MessageTimeout time.Duration
	// TenantRatePerSec and TenantBurst bound inbound throughput per
	// tenant. A zero rate disables limiting.
	TenantRatePerSec float64
	TenantBurst      int
}

// Router is the hub: for every inbound message it resolves the tenant and
// domain, obtains the conversation context, materializes the crew, and
// dispatches. It is safe to call concurrently; messages for the same
// conversation are serialized in arrival order.
type Router struct {
	resolver *TenantResolver
	contexts *ContextStore
	factory  *CrewFactory
	invoker  domain.CrewInvoker
	locker   *ConversationLocker
	bus      domain.EventBus
	logger   *slog.Logger
	cfg      RouterConfig

	limiterMu sync.Mutex
	limiters  map[string]*tenantLimiter
}

// tenantLimiter pairs a rate limiter with its last use, so limiters for
// tenants that have gone quiet can be pruned.
type tenantLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// limiterIdleTTL bounds how long an inactive tenant keeps its limiter.
const limiterIdleTTL = time.Hour

// NewRouter creates the hub router.
func NewRouter(resolver *TenantResolver, contexts *ContextStore, factory *CrewFactory, invoker domain.CrewInvoker, bus domain.EventBus, cfg RouterConfig, logger *slog.Logger) *Router {
	if cfg.MessageTimeout <= 0 {
		cfg.MessageTimeout = 30 * time.Second
	}
	if cfg.TenantBurst <= 0 {
		cfg.TenantBurst = 1
	}
	return &Router{
		resolver: resolver,
		contexts: contexts,
		factory:  factory,
		invoker:  invoker,
		locker:   NewConversationLocker(),
		bus:      bus,
		logger:   logger,
		cfg:      cfg,
		limiters: make(map[string]*tenantLimiter),
	}
}

// ProcessMessage processes one inbound message to completion or failure.
// Resolution and dispatch failures are reported inside the outcome (Status
// plus Err), with a nil returned error: the transport always gets a
// well-defined "could not process" result, never a crash. The returned
// error is non-nil only for contract violations (malformed message,
// cancelled caller).
func (r *Router) ProcessMessage(ctx context.Context, msg domain.InboundMessage) (domain.RoutingOutcome, error) {
	if msg.ConversationID == "" || msg.SourceAccountID == "" {
		return domain.RoutingOutcome{}, domain.NewDomainError("Router.ProcessMessage", domain.ErrInvalidMessage,
			"conversation and account IDs are required")
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.MessageTimeout)
	defer cancel()
	ctx = domain.ContextWithConversationID(ctx, msg.ConversationID)

	ctx, span := tracer.StartSpan(ctx, "hub.process_message")
	defer span.End()
	span.SetAttributes(tracer.StringAttr("conversation_id", msg.ConversationID))

	// Serialize per-conversation: two concurrent turns must not race to
	// create divergent contexts or interleave history appends.
	unlock, err := r.locker.Lock(ctx, msg.ConversationID)
	if err != nil {
		tracer.RecordError(span, err)
		return domain.RoutingOutcome{}, err
	}
	defer unlock()

	// Resolve tenant/domain, unless the conversation already carries one:
	// the domain is sticky for the conversation's lifetime so a mapping
	// change or metadata flap cannot alter behavior mid-conversation.
	conv, created, err := r.contexts.GetOrCreate(ctx, msg.ConversationID, func(ctx context.Context) (domain.Resolution, error) {
		return r.resolver.Resolve(ctx, domain.RoutingKey{
			AccountID:  msg.SourceAccountID,
			ChannelID:  msg.SourceChannelID,
			DomainHint: msg.Metadata["domain_hint"],
		})
	})
	if err != nil {
		tracer.RecordError(span, err)
		r.logger.Warn("message unroutable",
			"conversation", msg.ConversationID, "account", msg.SourceAccountID, "error", err)
		return domain.RoutingOutcome{Status: domain.StatusUnroutable, Err: err}, nil
	}
	if created {
		r.logger.Info("conversation context created",
			"conversation", msg.ConversationID, "tenant", conv.TenantID, "domain", conv.Domain)
	}
	span.SetAttributes(
		tracer.StringAttr("tenant", conv.TenantID),
		tracer.StringAttr("domain", conv.Domain),
	)
	ctx = domain.ContextWithTenantID(ctx, conv.TenantID)

	if !r.allow(conv.TenantID) {
		err := domain.NewDomainError("Router.ProcessMessage", domain.ErrRateLimited, conv.TenantID)
		tracer.RecordError(span, err)
		return r.failed(ctx, conv, err), nil
	}

	crewSetID := msg.Metadata[crewSetMetadataKey]
	crew, err := r.factory.GetOrBuild(ctx, crewSetID, conv.Domain, conv.TenantID)
	if err != nil {
		tracer.RecordError(span, err)
		r.logger.Error("crew materialization failed",
			"conversation", msg.ConversationID, "domain", conv.Domain, "error", err)
		return r.failed(ctx, conv, err), nil
	}

	result, err := r.invoker.Invoke(ctx, crew, conv, msg)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = domain.NewDomainError("Router.ProcessMessage", domain.ErrDispatchTimeout, msg.ConversationID)
		}
		tracer.RecordError(span, err)
		r.logger.Warn("crew dispatch failed",
			"conversation", msg.ConversationID, "domain", conv.Domain, "error", err)
		// Context deliberately left unmutated: a retry of the same
		// message is safe.
		return r.failed(ctx, conv, err), nil
	}

	// Context is updated only after a successful dispatch. The sweep
	// skips locked conversations, so the context cannot vanish here; an
	// append failure would mean lost history and must not pass silently.
	turns := []domain.Turn{
		{Role: domain.RoleUser, Content: msg.Content, Timestamp: msg.Timestamp},
		{Role: domain.RoleAssistant, Content: result.Content},
	}
	for _, turn := range turns {
		if aerr := r.contexts.AppendTurn(msg.ConversationID, turn); aerr != nil {
			r.logger.Error("turn not recorded",
				"conversation", msg.ConversationID, "role", turn.Role, "error", aerr)
			break
		}
	}

	publishEvent(ctx, r.bus, domain.Event{
		Type:           domain.EventMessageDone,
		ConversationID: msg.ConversationID,
		Tenant:         conv.TenantID,
		Domain:         conv.Domain,
	})
	tracer.SetOK(span)

	return domain.RoutingOutcome{
		Status: domain.StatusCompleted,
		Tenant: conv.TenantID,
		Domain: conv.Domain,
		Result: result.Content,
	}, nil
}

// CloseConversation handles the transport's conversation-closed signal by
// destroying the context. Idempotent.
func (r *Router) CloseConversation(ctx context.Context, conversationID string) {
	r.contexts.Expire(ctx, conversationID)
}

// SweepIdle destroys contexts idle past their TTL and prunes limiters for
// quiet tenants. Conversations mid-dispatch hold their lock and are left
// alone even when the TTL has elapsed.
func (r *Router) SweepIdle(ctx context.Context) int {
	r.pruneLimiters()
	return r.contexts.Sweep(ctx, r.locker.Busy)
}

func (r *Router) pruneLimiters() {
	r.limiterMu.Lock()
	defer r.limiterMu.Unlock()
	for tenant, tl := range r.limiters {
		if time.Since(tl.lastSeen) > limiterIdleTTL {
			delete(r.limiters, tenant)
		}
	}
}

func (r *Router) failed(ctx context.Context, conv *domain.ConversationContext, err error) domain.RoutingOutcome {
	publishEvent(ctx, r.bus, domain.Event{
		Type:           domain.EventMessageFailed,
		ConversationID: conv.ConversationID,
		Tenant:         conv.TenantID,
		Domain:         conv.Domain,
	})
	return domain.RoutingOutcome{
		Status: domain.StatusDispatchFailed,
		Tenant: conv.TenantID,
		Domain: conv.Domain,
		Err:    err,
	}
}

// allow applies the per-tenant rate limit. A zero configured rate admits
// everything.
func (r *Router) allow(tenant string) bool {
	if r.cfg.TenantRatePerSec <= 0 {
		return true
	}
	r.limiterMu.Lock()
	tl, ok := r.limiters[tenant]
	if !ok {
		tl = &tenantLimiter{lim: rate.NewLimiter(rate.Limit(r.cfg.TenantRatePerSec), r.cfg.TenantBurst)}
		r.limiters[tenant] = tl
	}
	tl.lastSeen = time.Now()
	r.limiterMu.Unlock()
	return tl.lim.Allow()
}
