package main

import (
	"context"
	"fmt"
	"log/slog"

	"monetrix/internal/adapter/financial"
	"monetrix/internal/adapter/journal"
	"monetrix/internal/adapter/tool"
	"monetrix/internal/domain"
	"monetrix/internal/infra/config"
	"monetrix/internal/usecase"
	"monetrix/internal/usecase/datastream"
	"monetrix/internal/usecase/eventbus"
	"monetrix/internal/usecase/scheduling"
	"monetrix/internal/usecase/toolcache"
)

// components holds everything the surfaces share.
type components struct {
	Bus       *eventbus.Bus
	Registry  *tool.Registry
	Client    *financial.Client
	Sessions  *usecase.SessionManager
	Journal   *journal.Store // nil when disabled
	Scheduler *scheduling.Scheduler
}

// newToolsetFactory builds one tool manager per session. Sessions share the
// client's breaker but each gets its own key, cache and emitter.
func newToolsetFactory(registry *tool.Registry, base *financial.Client, classifier *usecase.ErrorClassifier, bus domain.EventBus, log *slog.Logger) usecase.ToolsetFactory {
	return func(apiKey string, cache *toolcache.Cache, emitter *datastream.Emitter) domain.ToolRunner {
		client := base
		if apiKey != "" {
			client = base.WithAPIKey(apiKey)
		}
		return tool.NewManager(registry, client, cache, classifier, log,
			tool.WithLoadingReporter(emitter),
			tool.WithEventBus(bus),
		)
	}
}

// initComponents wires the tool core. withJournal is false for one-shot
// commands that should not touch the journal database.
func initComponents(cfg *config.Config, log *slog.Logger, withJournal bool) (*components, func(), error) {
	registry, err := tool.NewRegistry()
	if err != nil {
		return nil, nil, fmt.Errorf("tool registry: %w", err)
	}

	bus := eventbus.New(log)
	client := financial.NewClient(cfg.Financial, log)
	classifier := usecase.NewErrorClassifier(log)

	sessions := usecase.NewSessionManager(usecase.SessionManagerConfig{
		CacheMaxSize:  cfg.Cache.MaxSize,
		CacheTTL:      cfg.Cache.TTL,
		StreamBuffer:  cfg.Stream.BufferSize,
		IdleTimeout:   cfg.Sessions.IdleTimeout,
		DefaultAPIKey: cfg.Financial.APIKey,
	}, newToolsetFactory(registry, client, classifier, bus, log), nil, bus, log)

	c := &components{
		Bus:      bus,
		Registry: registry,
		Client:   client,
		Sessions: sessions,
	}
	var unsubJournal func()
	if withJournal && cfg.Journal.Path != "" {
		store, err := journal.Open(cfg.Journal.Path, cfg.Journal.Retention, log)
		if err != nil {
			bus.Close()
			return nil, nil, fmt.Errorf("journal: %w", err)
		}
		c.Journal = store
		unsubJournal = store.Subscribe(bus)
		log.Info("journal enabled", "path", cfg.Journal.Path, "retention", cfg.Journal.Retention)
	}

	if cfg.Scheduler.Enabled {
		sched := scheduling.NewScheduler(log)
		sched.RegisterAction(scheduling.ActionSessionsReap, func(ctx context.Context) error {
			sessions.Reap(ctx)
			return nil
		})
		sched.RegisterAction(scheduling.ActionJournalPrune, func(ctx context.Context) error {
			if c.Journal == nil {
				return nil
			}
			_, err := c.Journal.Prune(ctx)
			return err
		})
		if err := sched.AddTasks(scheduling.TasksFromConfig(cfg.Scheduler)); err != nil {
			if c.Journal != nil {
				unsubJournal()
				c.Journal.Close()
			}
			bus.Close()
			return nil, nil, err
		}
		c.Scheduler = sched
	}

	cleanup := func() {
		if c.Scheduler != nil {
			c.Scheduler.Stop()
		}
		sessions.CloseAll(context.Background())
		// Drain in-flight tool events before the journal closes.
		bus.Close()
		if c.Journal != nil {
			unsubJournal()
			if err := c.Journal.Close(); err != nil {
				log.Warn("journal close error", "error", err)
			}
		}
	}
	return c, cleanup, nil
}
