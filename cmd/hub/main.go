// Command hub runs the multi-tenant conversation router. It reads
// normalized inbound messages as JSON lines on stdin and writes routing
// outcomes as JSON lines on stdout; webhook parsing belongs to the
// transport layer in front of it.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"github.com/GiovanoMP/chatwootai-hub/internal/adapter/cache"
	"github.com/GiovanoMP/chatwootai-hub/internal/adapter/configstore"
	"github.com/GiovanoMP/chatwootai-hub/internal/adapter/crews"
	"github.com/GiovanoMP/chatwootai-hub/internal/adapter/events"
	"github.com/GiovanoMP/chatwootai-hub/internal/adapter/metadata"
	"github.com/GiovanoMP/chatwootai-hub/internal/domain"
	"github.com/GiovanoMP/chatwootai-hub/internal/infra/config"
	"github.com/GiovanoMP/chatwootai-hub/internal/infra/logger"
	"github.com/GiovanoMP/chatwootai-hub/internal/infra/tracer"
	"github.com/GiovanoMP/chatwootai-hub/internal/usecase"
	"github.com/GiovanoMP/chatwootai-hub/internal/usecase/eventbus"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to hub configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer shutdownTracer(context.Background())

	bus := eventbus.New(log)
	defer bus.Close()

	// Tier 2 is optional: a missing or unreachable Redis degrades the
	// cache to tiers 1 and 3, never blocks startup.
	var remote cache.Store
	if cfg.Cache.RedisURL != "" {
		redisStore, err := cache.NewRedisStore(cfg.Cache.RedisURL)
		if err != nil {
			log.Warn("redis unavailable, distributed cache tier disabled", "error", err)
		} else {
			if err := redisStore.Ping(ctx); err != nil {
				log.Warn("redis ping failed, lookups will degrade per call", "error", err)
			}
			defer redisStore.Close()
			remote = redisStore
		}
	}

	if cfg.Events.Enabled {
		publisher, err := events.NewAMQPPublisher(cfg.Events.AMQPURL, cfg.Events.Exchange, log)
		if err != nil {
			log.Warn("amqp unavailable, event publishing disabled", "error", err)
		} else {
			publisher.Attach(bus)
			defer publisher.Close()
		}
	}

	var provider domain.MetadataProvider
	if cfg.Metadata.Enabled {
		hintCache := cache.NewTiered[string](cache.Options{
			LocalTTL:   cfg.Cache.LocalTTL,
			MaxEntries: cfg.Cache.LocalMaxEntries,
			RemoteTTL:  cfg.Cache.RedisTTL,
			KeyPrefix:  cfg.Cache.KeyPrefix,
		}, remote, log)
		provider = metadata.NewCachedProvider(
			metadata.NewChatwootProvider(cfg.Metadata.BaseURL, cfg.Metadata.AccessToken, cfg.Metadata.Timeout, log),
			hintCache,
		)
	}

	resolver := usecase.NewTenantResolver(usecase.ResolverConfig{
		AccountDomains: cfg.Routing.AccountDomains,
		ChannelDomains: cfg.Routing.ChannelDomains,
		AccountTenants: cfg.Routing.AccountTenants,
		FallbackDomain: cfg.Routing.FallbackDomain,
		AllowFallback:  cfg.Routing.AllowFallback,
	}, provider, bus, log)

	store := configstore.New(cfg.Crews.ConfigDir, log)

	// Crews are live object graphs: their cache never leaves the process.
	crewCache := cache.NewTiered[*domain.Crew](cache.Options{
		LocalTTL:   cfg.Cache.LocalTTL,
		MaxEntries: cfg.Cache.LocalMaxEntries,
	}, nil, log)
	factory := usecase.NewCrewFactory(store, crews.DefaultRegistry(), crewCache, cfg.Crews.BuildTimeout, bus, log)

	contexts := usecase.NewContextStore(usecase.ContextStoreConfig{
		MaxTurns: cfg.Context.MaxTurns,
		IdleTTL:  cfg.Context.IdleTTL,
	}, bus, log)

	router := usecase.NewRouter(resolver, contexts, factory, crews.NewPipelineInvoker(), bus, usecase.RouterConfig{
		MessageTimeout:   cfg.Routing.MessageTimeout,
		TenantRatePerSec: cfg.Routing.TenantRatePerSec,
		TenantBurst:      cfg.Routing.TenantBurst,
	}, log)

	sweeper := cron.New()
	_, err = sweeper.AddFunc(fmt.Sprintf("@every %s", cfg.Context.SweepInterval), func() {
		router.SweepIdle(context.Background())
	})
	if err != nil {
		return fmt.Errorf("schedule context sweep: %w", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	log.Info("hub started",
		"fallback_domain", cfg.Routing.FallbackDomain,
		"allow_fallback", cfg.Routing.AllowFallback,
		"tier2", remote != nil,
	)

	return serve(ctx, router, log)
}

// serve processes JSON-line messages from stdin until EOF or shutdown.
func serve(ctx context.Context, router *usecase.Router, log *slog.Logger) error {
	scanner := bufio.NewScanner(os.Stdin)
	out := json.NewEncoder(os.Stdout)

	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}

		var msg domain.InboundMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			log.Warn("skipping malformed input line", "error", err)
			continue
		}

		outcome, err := router.ProcessMessage(ctx, msg)
		if err != nil {
			log.Error("message rejected", "conversation", msg.ConversationID, "error", err)
			continue
		}

		line := struct {
			domain.RoutingOutcome
			Error string `json:"error,omitempty"`
		}{RoutingOutcome: outcome}
		if outcome.Err != nil {
			line.Error = outcome.Err.Error()
		}
		if err := out.Encode(line); err != nil {
			return fmt.Errorf("write outcome: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	log.Info("hub stopped")
	return nil
}
