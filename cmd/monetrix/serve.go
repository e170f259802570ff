package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"monetrix/internal/adapter/gateway"
	"monetrix/internal/infra/config"
	"monetrix/internal/infra/logger"
	"monetrix/internal/infra/middleware"
	"monetrix/internal/infra/tracer"
)

func runServe() error {
	// 1. Config
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx := context.Background()
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(ctx)

	if cfg.Financial.APIKey == "" {
		log.Warn("no default financial API key; sessions without a stored key will fail with auth errors")
	}

	// 3. Tool core, journal, scheduler
	comp, cleanup, err := initComponents(cfg, log, true)
	if err != nil {
		return err
	}
	defer cleanup()

	// 4. Graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 5. Scheduler
	if comp.Scheduler != nil {
		if err := comp.Scheduler.Start(ctx); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
	}

	// 6. Gateway
	if !cfg.Gateway.Enabled {
		log.Info("gateway disabled; running scheduler only")
		<-ctx.Done()
		return nil
	}
	srv, err := initGateway(ctx, cfg, comp, log)
	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}

	log.Info("monetrix starting", "version", version, "addr", cfg.Gateway.Addr, "tools", len(comp.Registry.Names()))

	// Start blocks and shuts the gateway down itself once ctx is cancelled.
	if err := srv.Start(ctx); err != nil {
		return err
	}
	log.Info("gateway stopped")
	return nil
}

// initGateway builds the gateway server with its handlers and HTTP middleware.
func initGateway(ctx context.Context, cfg *config.Config, comp *components, log *slog.Logger) (*gateway.Server, error) {
	entries := make([]gateway.TokenEntry, 0, len(cfg.Gateway.Auth.Tokens))
	for _, t := range cfg.Gateway.Auth.Tokens {
		entries = append(entries, gateway.TokenEntry{Token: t.Token, Name: t.Name})
	}
	if len(entries) == 0 {
		log.Warn("gateway has no auth tokens; every connection will be rejected")
	}

	srv := gateway.NewServer(comp.Bus, gateway.NewStaticTokenAuth(entries), cfg.Gateway.Addr, log)
	srv.Use(middleware.AccessLog(log))
	srv.Use(middleware.SecurityHeaders)
	if rl := cfg.Gateway.RateLimit; rl.Enabled {
		srv.Use(middleware.RateLimitWithConfig(ctx, middleware.RateLimitConfig{
			MaxRequests:    rl.MaxRequests,
			Window:         rl.Window,
			BurstSize:      rl.Burst,
			TrustedProxies: rl.TrustedProxies,
		}))
	}

	deps := gateway.HandlerDeps{
		Sessions: comp.Sessions,
		Catalog:  comp.Registry,
		Bus:      comp.Bus,
		Logger:   log,
		Version:  version,
	}
	// Interface fields stay nil, not typed-nil, when a component is disabled.
	if comp.Journal != nil {
		deps.Journal = comp.Journal
	}
	if comp.Scheduler != nil {
		deps.Scheduler = comp.Scheduler
	}
	if comp.Client != nil {
		deps.Breaker = comp.Client
	}

	if err := gateway.RegisterDefaultHandlers(srv, deps); err != nil {
		return nil, err
	}
	gateway.RegisterRESTHandlers(srv, deps)
	return srv, nil
}
