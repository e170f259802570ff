package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"monetrix/internal/adapter/mcpserver"
	"monetrix/internal/infra/config"
	"monetrix/internal/infra/logger"
)

// runMCP serves one session over stdio. Stdout belongs to the protocol, so
// logs never go there.
func runMCP() error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	prepareMCPConfig(cfg)

	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	comp, cleanup, err := initComponents(cfg, log, true)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if comp.Scheduler != nil {
		if err := comp.Scheduler.Start(ctx); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
	}

	sess, err := comp.Sessions.Open(ctx, "")
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	srv := mcpserver.New(sess, version, log)
	defer srv.Close()

	if err := srv.Serve(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// prepareMCPConfig adapts cfg to one long-lived session on stdio.
func prepareMCPConfig(cfg *config.Config) {
	if cfg.Logger.Output == "" || cfg.Logger.Output == "stdout" {
		cfg.Logger.Output = "stderr"
	}
	// Nothing should reap the only session, so dedup needs its own window.
	cfg.Sessions.IdleTimeout = 0
	cfg.Cache.TTL = mcpserver.DedupWindow(cfg.Cache.TTL)
}
