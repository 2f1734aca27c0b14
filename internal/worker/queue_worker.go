// Package worker provides background workers for the syndication engine.
// queue_worker.go implements the distribution queue polling worker.
package worker

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/northpress/syndicate/internal/domain"
	"github.com/northpress/syndicate/internal/logger"
	"github.com/northpress/syndicate/internal/metrics"
)

const (
	defaultPollInterval    = 15 * time.Second
	defaultBatchSize       = 10
	defaultRetention       = 72 * time.Hour
	defaultStaleAge        = 10 * time.Minute
	defaultCleanupInterval = 1 * time.Hour
	recoveryInterval       = 1 * time.Minute
)

// QueueSource is the queue access the worker needs.
type QueueSource interface {
	Claim(ctx context.Context, limit int) ([]domain.DistributionItem, error)
	ResetStale(ctx context.Context, olderThan time.Duration) (int64, error)
	DeleteOlderThan(ctx context.Context, olderThan time.Duration) (int64, error)
	GetStats(ctx context.Context) (*domain.DistributionStats, error)
}

// Executor runs one claimed distribution to its terminal state.
type Executor interface {
	Execute(ctx context.Context, job *domain.DistributionItem) (domain.DistributionStatus, error)
}

// QueueWorker polls the distribution queue and executes claimed jobs.
type QueueWorker struct {
	queue    QueueSource
	executor Executor
	metrics  *metrics.Metrics
	tracker  metrics.StatsTracker
	logger   logger.Logger
	tracer   trace.Tracer

	pollInterval    time.Duration
	batchSize       int
	retention       time.Duration
	staleAge        time.Duration
	cleanupInterval time.Duration

	stopChan chan struct{}
	wg       sync.WaitGroup
	started  bool
	mu       sync.Mutex
}

// QueueWorkerConfig holds configuration options
type QueueWorkerConfig struct {
	PollInterval    time.Duration
	BatchSize       int
	Retention       time.Duration
	StaleAfter      time.Duration
	CleanupInterval time.Duration
}

// DefaultQueueWorkerConfig returns sensible defaults
func DefaultQueueWorkerConfig() QueueWorkerConfig {
	return QueueWorkerConfig{
		PollInterval:    defaultPollInterval,
		BatchSize:       defaultBatchSize,
		Retention:       defaultRetention,
		StaleAfter:      defaultStaleAge,
		CleanupInterval: defaultCleanupInterval,
	}
}

// NewQueueWorker creates a new queue worker
func NewQueueWorker(
	queue QueueSource,
	executor Executor,
	cfg QueueWorkerConfig,
	m *metrics.Metrics,
	tracker metrics.StatsTracker,
	log logger.Logger,
) *QueueWorker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaultStaleAge
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = defaultCleanupInterval
	}

	return &QueueWorker{
		queue:           queue,
		executor:        executor,
		metrics:         m,
		tracker:         tracker,
		logger:          log,
		tracer:          otel.Tracer("queue-worker"),
		pollInterval:    cfg.PollInterval,
		batchSize:       cfg.BatchSize,
		retention:       cfg.Retention,
		staleAge:        cfg.StaleAfter,
		cleanupInterval: cfg.CleanupInterval,
		stopChan:        make(chan struct{}),
	}
}

// Start begins the queue polling loop
func (w *QueueWorker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run(ctx)

	// Also start cleanup and recovery goroutines
	w.wg.Add(1)
	go w.runCleanup(ctx)

	w.wg.Add(1)
	go w.runRecovery(ctx)

	w.logger.Info("queue worker started",
		logger.Duration("poll_interval", w.pollInterval),
		logger.Int("batch_size", w.batchSize))
}

// Stop gracefully stops the worker
func (w *QueueWorker) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("queue worker stopped")
}

// IsRunning returns whether the worker is currently running
func (w *QueueWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started
}

func (w *QueueWorker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	// Process immediately on start
	w.processOnce(ctx)

	for {
		select {
		case <-ticker.C:
			w.processOnce(ctx)
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *QueueWorker) processOnce(ctx context.Context) {
	claimed, err := w.queue.Claim(ctx, w.batchSize)
	if err != nil {
		w.logger.Error("failed to claim distribution jobs", logger.Error(err))
		return
	}

	if len(claimed) > 0 {
		w.logger.Debug("processing claimed jobs", logger.Int("count", len(claimed)))
		for i := range claimed {
			w.executeOne(ctx, &claimed[i])
		}
	}

	if w.tracker != nil {
		if err := w.tracker.UpdateLastRun(ctx); err != nil {
			w.logger.Debug("failed to update last run", logger.Error(err))
		}
	}
	w.updateQueueDepth(ctx)
}

func (w *QueueWorker) executeOne(ctx context.Context, job *domain.DistributionItem) {
	ctx, span := w.tracer.Start(ctx, "queue.execute",
		trace.WithAttributes(
			attribute.String("distribution_id", job.ID.String()),
			attribute.String("destination", job.Destination.Key()),
			attribute.Int("items", len(job.Items)),
		))
	defer span.End()

	start := time.Now()
	status, err := w.executor.Execute(ctx, job)
	w.metrics.DeliveryDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		span.SetAttributes(attribute.String("status", string(status)))
		w.logger.Error("distribution execution failed",
			logger.String("distribution_id", job.ID.String()),
			logger.String("destination", job.Destination.Key()),
			logger.String("status", string(status)),
			logger.Error(err))
		return
	}

	span.SetAttributes(attribute.String("status", string(status)))
	w.logger.Info("distribution executed",
		logger.String("distribution_id", job.ID.String()),
		logger.String("destination", job.Destination.Key()),
		logger.String("status", string(status)),
		logger.Duration("duration", time.Since(start)))
}

// ExecuteNow runs one specific job immediately, bypassing the poll loop. Used
// by the run-now operator endpoint; the job must already be claimed.
func (w *QueueWorker) ExecuteNow(ctx context.Context, job *domain.DistributionItem) {
	w.executeOne(ctx, job)
}

func (w *QueueWorker) updateQueueDepth(ctx context.Context) {
	stats, err := w.queue.GetStats(ctx)
	if err != nil {
		w.logger.Debug("failed to read queue stats", logger.Error(err))
		return
	}
	w.metrics.QueueDepth.WithLabelValues(string(domain.DistributionStatusInit)).Set(float64(stats.Init))
	w.metrics.QueueDepth.WithLabelValues(string(domain.DistributionStatusStarted)).Set(float64(stats.Started))
	w.metrics.QueueDepth.WithLabelValues(string(domain.DistributionStatusSuccess)).Set(float64(stats.Success))
	w.metrics.QueueDepth.WithLabelValues(string(domain.DistributionStatusPartial)).Set(float64(stats.Partial))
	w.metrics.QueueDepth.WithLabelValues(string(domain.DistributionStatusFailed)).Set(float64(stats.Failed))
}

// runCleanup periodically removes jobs older than the retention window,
// whatever their status.
func (w *QueueWorker) runCleanup(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deleted, err := w.queue.DeleteOlderThan(ctx, w.retention)
			if err != nil {
				w.logger.Error("queue cleanup failed", logger.Error(err))
			} else if deleted > 0 {
				w.logger.Info("cleaned up old distributions",
					logger.Int64("deleted", deleted))
			}
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// runRecovery resets stale "started" jobs back to "init".
// This handles jobs that were claimed but whose worker crashed before
// finishing.
func (w *QueueWorker) runRecovery(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(recoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			reset, err := w.queue.ResetStale(ctx, w.staleAge)
			if err != nil {
				w.logger.Error("queue recovery failed", logger.Error(err))
			} else if reset > 0 {
				w.logger.Warn("recovered stale distributions",
					logger.Int64("reset", reset))
			}
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// GetStats returns current worker statistics
func (w *QueueWorker) GetStats(ctx context.Context) (map[string]any, error) {
	stats, err := w.queue.GetStats(ctx)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"init":                     stats.Init,
		"started":                  stats.Started,
		"success":                  stats.Success,
		"partial":                  stats.Partial,
		"failed":                   stats.Failed,
		"avg_delivery_lag_seconds": stats.AvgDeliveryLagSeconds,
		"poll_interval":            w.pollInterval.String(),
		"batch_size":               w.batchSize,
		"running":                  w.IsRunning(),
	}, nil
}
