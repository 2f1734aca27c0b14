// Package app wires the syndication engine together and manages its
// lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/northpress/syndicate/internal/api"
	"github.com/northpress/syndicate/internal/cluster"
	"github.com/northpress/syndicate/internal/config"
	"github.com/northpress/syndicate/internal/database"
	"github.com/northpress/syndicate/internal/distribution"
	"github.com/northpress/syndicate/internal/domain"
	"github.com/northpress/syndicate/internal/logger"
	"github.com/northpress/syndicate/internal/match"
	"github.com/northpress/syndicate/internal/merge"
	"github.com/northpress/syndicate/internal/metrics"
	"github.com/northpress/syndicate/internal/notify"
	"github.com/northpress/syndicate/internal/redis"
	"github.com/northpress/syndicate/internal/remote"
	"github.com/northpress/syndicate/internal/resolver"
	"github.com/northpress/syndicate/internal/review"
	"github.com/northpress/syndicate/internal/schedule"
	"github.com/northpress/syndicate/internal/worker"
)

// App holds the wired engine and its lifecycle state.
type App struct {
	config      *config.Config
	logger      logger.Logger
	db          *sqlx.DB
	redisClient *goredis.Client

	worker     *worker.QueueWorker
	scheduler  *schedule.Scheduler
	httpServer *http.Server

	version string
}

// Options configures a new App.
type Options struct {
	ConfigPath string
	Version    string
	// EnableWorker runs the queue worker and scheduled loops.
	EnableWorker bool
	// EnableAPI serves the operator API and the inbound protocol.
	EnableAPI bool
}

// gateSubstituter breaks the construction cycle between the distribution
// engine and the review gate: the engine needs the gate to substitute export
// batches, the gate needs the engine to fan out approvals.
type gateSubstituter struct {
	gate *review.Gate
}

func (s *gateSubstituter) SubstituteForExport(ctx context.Context, items []domain.PreparedItem) ([]domain.PreparedItem, error) {
	return s.gate.SubstituteForExport(ctx, items)
}

// New creates a new App instance with all dependencies initialized.
func New(opts Options) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	appLogger, err := logger.NewLogger(cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	appLogger = appLogger.With(
		logger.String("service", "syndicate"),
		logger.String("network", cfg.Network.Name),
		logger.String("version", opts.Version),
	)

	db, err := database.NewPostgresConnection(cfg.Database.DSN())
	if err != nil {
		_ = appLogger.Sync()
		return nil, err
	}

	redisClient, err := redis.NewClient(cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		db.Close()
		_ = appLogger.Sync()
		return nil, fmt.Errorf("connect to Redis: %w", err)
	}

	// Persistence.
	sqlDB := db.DB
	queueRepo := database.NewQueueRepository(sqlDB)
	reviewRepo := database.NewReviewRepository(sqlDB)
	clusterRepo := database.NewClusterRepository(sqlDB)
	connRepo := database.NewConnectionRepository(sqlDB)
	snapshotRepo := database.NewSnapshotRepository(sqlDB)
	contentStore := database.NewContentRepository(sqlDB)

	// Observability.
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)
	tracker := metrics.NewTracker(redisClient, appLogger)

	// Domain services.
	remoteClient := remote.NewClient(connRepo, cfg.Network.Name, cfg.Network.RemoteTimeout, appLogger)
	itemResolver := resolver.New(contentStore, remoteClient, redisClient,
		cfg.Network.Name, cfg.Engine.ResolverCacheTTL, appLogger, m)
	matcher := match.NewMatcher(contentStore, time.Now)
	clusterEngine := cluster.NewEngine(clusterRepo, snapshotRepo, matcher, appLogger)
	merger := merge.NewMerger(contentStore)

	var notifier notify.Notifier = notify.NopNotifier{}
	if cfg.Notify.Enabled {
		notifier = notify.NewEmailNotifier(cfg.Notify.APIKey, cfg.Notify.From, appLogger)
	}

	substituter := &gateSubstituter{}
	distEngine := distribution.NewEngine(queueRepo, clusterEngine, contentStore,
		merger, remoteClient, substituter, m, tracker, cfg.Network.Name, appLogger)
	gate := review.NewGate(reviewRepo, contentStore, merger, distEngine,
		notifier, review.StaticDirectory{}, appLogger)
	substituter.gate = gate

	a := &App{
		config:      cfg,
		logger:      appLogger,
		db:          db,
		redisClient: redisClient,
		version:     opts.Version,
	}

	if opts.EnableWorker {
		a.worker = worker.NewQueueWorker(queueRepo, distEngine, worker.QueueWorkerConfig{
			PollInterval:    cfg.Engine.PollInterval,
			BatchSize:       cfg.Engine.BatchSize,
			Retention:       cfg.Engine.Retention,
			StaleAfter:      cfg.Engine.StaleAfter,
			CleanupInterval: cfg.Engine.CleanupInterval,
		}, m, tracker, appLogger)

		a.scheduler = schedule.NewScheduler(clusterEngine, distEngine, connRepo,
			remoteClient, schedule.Config{
				RecheckInterval: cfg.Engine.RecheckInterval,
			}, appLogger)
	}

	if opts.EnableAPI {
		router := api.NewRouter(api.Deps{
			Config:       cfg,
			Queue:        queueRepo,
			Reviews:      reviewRepo,
			Clusters:     clusterRepo,
			Connections:  connRepo,
			Gate:         gate,
			Dist:         distEngine,
			Destinations: clusterEngine,
			Resolver:     itemResolver,
			Merger:       merger,
			Content:      contentStore,
			Tracker:      tracker,
			Gatherer:     registry,
			DBPing:       db.PingContext,
			RedisPing: func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
			Logger: appLogger,
		})

		a.httpServer = &http.Server{
			Addr:         cfg.Server.Address,
			Handler:      router.SetupRoutes(),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
	}

	return a, nil
}

// Run starts the enabled components and blocks until shutdown.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	if a.worker != nil {
		a.worker.Start(ctx)
		a.scheduler.Start(ctx)
		a.logger.Info("Distribution worker started",
			logger.Duration("poll_interval", a.config.Engine.PollInterval),
			logger.Int("batch_size", a.config.Engine.BatchSize),
		)
	}

	if a.httpServer != nil {
		go func() {
			a.logger.Info("HTTP server starting", logger.String("address", a.httpServer.Addr))
			if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
	}

	return a.waitForShutdown(ctx, serverErr)
}

// waitForShutdown blocks on a signal, context cancellation or server failure,
// then stops everything in order.
func (a *App) waitForShutdown(ctx context.Context, serverErr chan error) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigChan:
		a.logger.Info("Shutting down gracefully", logger.String("signal", sig.String()))
	case <-ctx.Done():
		a.logger.Info("Shutting down, context cancelled")
	case err := <-serverErr:
		a.logger.Error("HTTP server error", logger.Error(err))
		runErr = err
	}

	a.shutdownHTTPServer()

	if a.worker != nil {
		a.scheduler.Stop()
		a.worker.Stop()
		a.logger.Info("Distribution worker stopped")
	}

	a.logger.Info("Service stopped")
	return runErr
}

func (a *App) shutdownHTTPServer() {
	if a.httpServer == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.config.Engine.ShutdownTimeout)
	defer cancel()

	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.logger.Error("Server shutdown error", logger.Error(err))
	} else {
		a.logger.Info("HTTP server stopped")
	}
}

// Close releases connections. Call after Run returns.
func (a *App) Close() error {
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("Failed to close Redis client", logger.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("Failed to close database", logger.Error(err))
		}
	}
	return a.logger.Sync()
}

// Logger returns the application logger.
func (a *App) Logger() logger.Logger {
	return a.logger
}
