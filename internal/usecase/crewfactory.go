package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/GiovanoMP/chatwootai-hub/internal/domain"
)

// HandlerBuilder materializes one handler from its declarative spec.
// Satisfied by the crews registry.
type HandlerBuilder interface {
	Build(spec domain.HandlerSpec, params map[string]string) (domain.Handler, error)
}

// CrewCache caches materialized crews. Crews are live object graphs, so
// only the in-process tier ever holds them; staleness against the config
// store is the factory's responsibility via the version probe.
type CrewCache interface {
	Peek(key string) (*domain.Crew, bool)
	Put(ctx context.Context, key string, crew *domain.Crew)
	Invalidate(ctx context.Context, key string)
}

// CrewFactory materializes crews from domain configuration. Construction
// is expensive relative to invocation (config load, handler resolution),
// which is why this step is the one worth caching. Concurrent misses on
// the same key share a single build.
type CrewFactory struct {
	store        domain.ConfigStore
	builder      HandlerBuilder
	cache        CrewCache
	group        singleflight.Group
	buildTimeout time.Duration
	bus          domain.EventBus
	logger       *slog.Logger
}

// NewCrewFactory creates a crew factory.
func NewCrewFactory(store domain.ConfigStore, builder HandlerBuilder, crewCache CrewCache, buildTimeout time.Duration, bus domain.EventBus, logger *slog.Logger) *CrewFactory {
	if buildTimeout <= 0 {
		buildTimeout = 10 * time.Second
	}
	return &CrewFactory{
		store:        store,
		builder:      builder,
		cache:        crewCache,
		buildTimeout: buildTimeout,
		bus:          bus,
		logger:       logger,
	}
}

// GetOrBuild returns the cached crew for (crewSetID, domain, tenant) or
// builds it. A cache hit is trusted only after the config store confirms
// the version has not advanced; a stale crew is evicted and rebuilt, never
// served.
func (f *CrewFactory) GetOrBuild(ctx context.Context, crewSetID, domainName, tenant string) (*domain.Crew, error) {
	key := crewKey(crewSetID, domainName, tenant)

	if crew, ok := f.cache.Peek(key); ok {
		version, err := f.store.Version(ctx, domainName, tenant)
		switch {
		case err != nil:
			// Probe failure is an infrastructure problem: serving the
			// cached crew is the graceful degradation, not an error.
			f.logger.Warn("config version probe failed, serving cached crew",
				"key", key, "error", err)
			return crew, nil
		case version == crew.Version:
			return crew, nil
		}

		f.cache.Invalidate(ctx, key)
		publishEvent(ctx, f.bus, domain.Event{
			Type:   domain.EventCrewEvicted,
			Tenant: tenant,
			Domain: domainName,
		})
		f.logger.Info("crew evicted on version change",
			"key", key, "cached_version", crew.Version, "current_version", version)
	}

	// Single-flight: concurrent callers for the same key wait on one
	// build; different keys build fully in parallel.
	v, err, _ := f.group.Do(key, func() (any, error) {
		if crew, ok := f.cache.Peek(key); ok {
			return crew, nil
		}

		// The build is detached from the requester's cancellation: other
		// waiters depend on its result even if the original caller timed
		// out mid-dispatch. The build timeout bounds it instead.
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.buildTimeout)
		defer cancel()

		crew, err := f.build(bctx, crewSetID, domainName, tenant)
		if err != nil {
			return nil, err
		}
		f.cache.Put(bctx, key, crew)
		publishEvent(bctx, f.bus, domain.Event{
			Type:   domain.EventCrewBuilt,
			Tenant: tenant,
			Domain: domainName,
		})
		return crew, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Crew), nil
}

// Invalidate evicts the cached crew for a key, for external configuration
// change notifications. Safe to call concurrently with ongoing gets: a
// racing rebuild is caught by the version check.
func (f *CrewFactory) Invalidate(ctx context.Context, crewSetID, domainName, tenant string) {
	f.cache.Invalidate(ctx, crewKey(crewSetID, domainName, tenant))
}

func (f *CrewFactory) build(ctx context.Context, crewSetID, domainName, tenant string) (*domain.Crew, error) {
	cfg, err := f.store.Load(ctx, domainName, tenant)
	if err != nil {
		return nil, domain.WrapOp("CrewFactory.build", err)
	}

	// An empty crew set ID selects the domain's declared default.
	if crewSetID == "" {
		crewSetID = cfg.DefaultCrewSet
		if crewSetID == "" {
			return nil, domain.NewDomainError("CrewFactory.build", domain.ErrUnknownCrewSet,
				fmt.Sprintf("domain %q declares no default crew set", domainName))
		}
	}

	spec, ok := cfg.CrewSets[crewSetID]
	if !ok {
		return nil, domain.NewDomainError("CrewFactory.build", domain.ErrUnknownCrewSet,
			fmt.Sprintf("%q in domain %q", crewSetID, domainName))
	}

	handlers := make([]domain.Handler, 0, len(spec.Handlers))
	for _, hs := range spec.Handlers {
		h, err := f.builder.Build(hs, cfg.Params)
		if err != nil {
			return nil, domain.WrapOp("CrewFactory.build", err)
		}
		handlers = append(handlers, h)
	}

	return &domain.Crew{
		SetID:    crewSetID,
		Domain:   domainName,
		Tenant:   tenant,
		Version:  cfg.Version,
		Handlers: handlers,
		Params:   cfg.Params,
	}, nil
}

func crewKey(crewSetID, domainName, tenant string) string {
	return crewSetID + "|" + domainName + "|" + tenant
}
