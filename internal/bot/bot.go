// Package bot wires every zapbot component together and manages their
// lifecycle: the HTTP server, the job queue workers and the scheduler.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"

	"github.com/edgard/zapbot/internal/bot/handlers"
	"github.com/edgard/zapbot/internal/bot/tasks"
	"github.com/edgard/zapbot/internal/cache"
	"github.com/edgard/zapbot/internal/config"
	"github.com/edgard/zapbot/internal/database"
	"github.com/edgard/zapbot/internal/gateway"
	"github.com/edgard/zapbot/internal/gemini"
	"github.com/edgard/zapbot/internal/ingest"
	"github.com/edgard/zapbot/internal/jobs"
	"github.com/edgard/zapbot/internal/knowledge"
	"github.com/edgard/zapbot/internal/metrics"
	"github.com/edgard/zapbot/internal/queue"
	"github.com/edgard/zapbot/internal/router"
	"github.com/edgard/zapbot/internal/server"
	"github.com/edgard/zapbot/internal/summary"
)

// Bot represents the main application and manages its components' lifecycle.
type Bot struct {
	logger    *slog.Logger
	cfg       *config.Config
	db        *sqlx.DB
	cache     cache.Cache
	queues    *queue.Manager
	server    *server.Server
	scheduler *Scheduler
}

// NewBot builds every component from cfg. The caller must Close the bot.
func NewBot(ctx context.Context, logger *slog.Logger, cfg *config.Config) (*Bot, error) {
	db, err := database.NewDB(cfg.Database)
	if err != nil {
		return nil, err
	}
	b := &Bot{
		logger: logger.With("component", "bot_orchestrator"),
		cfg:    cfg,
		db:     db,
	}

	if err := b.init(ctx, logger); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

func (b *Bot) init(ctx context.Context, logger *slog.Logger) error {
	cfg := b.cfg
	store := database.NewStore(b.db, logger)

	if cfg.Redis.Enabled {
		redisCache, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		b.cache = redisCache
		logger.Info("Using Redis cache", "addr", cfg.Redis.Addr)
	} else {
		b.cache = cache.NewMemory(time.Now)
		logger.Info("Using in-process cache")
	}

	ai, err := gemini.NewClient(ctx, cfg.Gemini, cfg.Timeouts.AI, logger)
	if err != nil {
		return err
	}
	gw := gateway.NewClient(cfg.Gateway, cfg.Timeouts.Delivery, cfg.Messages.MaxLength, logger)
	m := metrics.New()

	observer := jobs.NewObserver(logger, m, gw, cfg.Gateway.OperatorChatID, cfg.Messages.JobFailedFormat, cfg.Timeouts.Delivery)
	b.queues = queue.NewManager(logger, observer)
	if err := jobs.SetupQueues(b.queues, cfg.Queues); err != nil {
		return err
	}
	if err := m.RegisterQueues(b.queues); err != nil {
		return fmt.Errorf("failed to register queue metrics: %w", err)
	}

	engine, err := knowledge.NewEngine(store, ai, cfg.Knowledge.TopK, cfg.Knowledge.CacheSize, cfg.Knowledge.ChunkSize, logger)
	if err != nil {
		return err
	}
	summaries := summary.NewGenerator(store, b.cache, ai, cfg.Summary, cfg.Timeouts.Cache, logger)

	jobDeps := jobs.Deps{
		Logger:    logger,
		Config:    cfg,
		Store:     store,
		AI:        ai,
		Gateway:   gw,
		Summaries: summaries,
		Knowledge: engine,
		Queue:     b.queues,
		Metrics:   m,
	}
	if err := jobs.Register(b.queues, jobDeps); err != nil {
		return fmt.Errorf("failed to register job handlers: %w", err)
	}
	observer.NotifyRequesters(jobDeps)

	commands := handlers.RegisterAllCommands(handlers.HandlerDeps{
		Logger:    logger,
		Config:    cfg,
		Queue:     b.queues,
		Knowledge: engine,
	})
	rt := router.New(router.Deps{
		Logger:    logger,
		Config:    cfg,
		Store:     store,
		AI:        ai,
		Knowledge: engine,
		Cache:     b.cache,
		Queue:     b.queues,
		Commands:  commands,
		Metrics:   m,
	})
	gate := ingest.NewGate(store, rt, cfg.Timeouts.Store, m, logger)

	b.server = server.New(server.Deps{
		Logger:    logger,
		Config:    cfg,
		Ingest:    gate,
		Store:     store,
		Cache:     b.cache,
		Queues:    b.queues,
		Knowledge: engine,
		Metrics:   m,
	})

	taskMap := tasks.RegisterAllTasks(tasks.TaskDeps{
		Logger: logger,
		Store:  store,
		Queue:  b.queues,
		Config: cfg,
	})
	b.scheduler, err = NewScheduler(logger, &cfg.Scheduler, taskMap)
	return err
}

// Run starts the bot and all its components, handling graceful shutdown on context cancellation.
// It returns an error if any component fails during startup or execution.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("Starting bot orchestrator...")

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := b.server.Run(gCtx); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return b.queues.Run(gCtx)
	})

	g.Go(func() error {
		b.logger.Info("Starting scheduler...")
		if err := b.scheduler.Start(); err != nil {
			b.logger.Error("Failed to start scheduler", "error", err)
			return fmt.Errorf("failed to start scheduler: %w", err)
		}

		<-gCtx.Done()
		b.logger.Info("Shutdown signal received, stopping scheduler...")

		if err := b.scheduler.Stop(); err != nil {
			b.logger.Error("Error stopping scheduler", "error", err)
		}
		return nil
	})

	b.logger.Info("Bot orchestrator running. Waiting for shutdown signal or error...")
	err := g.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Error("Bot orchestrator stopped due to error", "error", err)
		return err
	}

	b.logger.Info("Bot orchestrator stopped gracefully.")
	return nil
}

// Close releases the cache and database connections.
func (b *Bot) Close() {
	if b.cache != nil {
		if err := b.cache.Close(); err != nil {
			b.logger.Error("Error closing cache", "error", err)
		}
	}
	database.CloseDB(b.db)
}
