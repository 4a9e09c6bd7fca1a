package usecase

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/GiovanoMP/chatwootai-hub/internal/domain"
)

// ResolverConfig holds the declarative mapping tables and fallback policy.
type ResolverConfig struct {
	// AccountDomains maps sourceAccountId → domain (most specific).
	AccountDomains map[string]string
	// ChannelDomains maps sourceChannelId → domain.
	ChannelDomains map[string]string
	// AccountTenants maps sourceAccountId → tenant. Accounts not listed
	// use the account ID as tenant.
	AccountTenants map[string]string
	// FallbackDomain is the single global default.
	FallbackDomain string
	// AllowFallback controls whether routing through the fallback domain
	// is permitted or treated as a hard resolution failure.
	AllowFallback bool
}

// TenantResolver determines the active tenant and domain for a routing key
// using a fixed precedence: account mapping, channel mapping, metadata
// hint, global fallback. Each step is attempted only if the previous one
// yields nothing.
type TenantResolver struct {
	cfg       ResolverConfig
	metadata  domain.MetadataProvider // nil = step skipped
	bus       domain.EventBus
	logger    *slog.Logger
	fallbacks atomic.Uint64
}

// NewTenantResolver creates a resolver over the given mapping tables.
func NewTenantResolver(cfg ResolverConfig, metadata domain.MetadataProvider, bus domain.EventBus, logger *slog.Logger) *TenantResolver {
	return &TenantResolver{
		cfg:      cfg,
		metadata: metadata,
		bus:      bus,
		logger:   logger,
	}
}

// Resolve maps a routing key to (tenant, domain). A fallback resolution is
// emitted as a distinct signal on every call: routing through fallback
// silently masks misconfiguration, so it must never look like a real hit
// in telemetry.
func (r *TenantResolver) Resolve(ctx context.Context, key domain.RoutingKey) (domain.Resolution, error) {
	tenant := key.AccountID
	if t, ok := r.cfg.AccountTenants[key.AccountID]; ok {
		tenant = t
	}

	// 1. Account-level mapping (most specific).
	if d, ok := r.cfg.AccountDomains[key.AccountID]; ok {
		return r.resolved(ctx, tenant, d, domain.SourceAccount), nil
	}

	// 2. Channel-level mapping.
	if d, ok := r.cfg.ChannelDomains[key.ChannelID]; ok {
		return r.resolved(ctx, tenant, d, domain.SourceChannel), nil
	}

	// 3. Transport- or metadata-declared hint. Provider errors are
	// treated as "absent", never as fatal.
	if key.DomainHint != "" {
		return r.resolved(ctx, tenant, key.DomainHint, domain.SourceMetadata), nil
	}
	if r.metadata != nil {
		hint, err := r.metadata.DomainHint(ctx, key.AccountID, key.ChannelID)
		if err != nil {
			r.logger.Warn("metadata hint lookup failed, continuing without",
				"account", key.AccountID, "channel", key.ChannelID, "error", err)
		} else if hint != "" {
			return r.resolved(ctx, tenant, hint, domain.SourceMetadata), nil
		}
	}

	// 4. Global fallback.
	if !r.cfg.AllowFallback || r.cfg.FallbackDomain == "" {
		err := domain.ErrNoMapping
		if r.cfg.FallbackDomain != "" {
			err = domain.ErrFallbackDisabled
		}
		return domain.Resolution{}, domain.NewDomainError("TenantResolver.Resolve", err, key.AccountID)
	}

	r.fallbacks.Add(1)
	r.logger.Warn("routing through fallback domain",
		"account", key.AccountID, "channel", key.ChannelID, "domain", r.cfg.FallbackDomain)
	publishEvent(ctx, r.bus, domain.Event{
		Type:   domain.EventRoutingFallback,
		Tenant: tenant,
		Domain: r.cfg.FallbackDomain,
	})
	return domain.Resolution{TenantID: tenant, Domain: r.cfg.FallbackDomain, Source: domain.SourceFallback}, nil
}

// FallbackCount reports how many resolutions reached the fallback step.
func (r *TenantResolver) FallbackCount() uint64 {
	return r.fallbacks.Load()
}

func (r *TenantResolver) resolved(ctx context.Context, tenant, domainName string, source domain.ResolutionSource) domain.Resolution {
	res := domain.Resolution{TenantID: tenant, Domain: domainName, Source: source}
	publishEvent(ctx, r.bus, domain.Event{
		Type:   domain.EventRoutingResolved,
		Tenant: tenant,
		Domain: domainName,
	})
	return res
}
