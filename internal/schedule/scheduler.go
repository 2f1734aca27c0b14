// Package schedule runs the periodic jobs of the engine: date-driven
// cluster re-checks and connection health pings.
package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/northpress/syndicate/internal/cluster"
	"github.com/northpress/syndicate/internal/domain"
	"github.com/northpress/syndicate/internal/logger"
)

const (
	defaultRecheckInterval = 12 * time.Hour
	defaultHealthInterval  = 5 * time.Minute
)

// Rechecker re-evaluates date-driven clusters against their snapshots.
type Rechecker interface {
	RecheckDateDriven(ctx context.Context) ([]cluster.Change, error)
}

// BatchDistributor enqueues one delivery per destination for a batch.
type BatchDistributor interface {
	DistributeBatch(ctx context.Context, items []domain.ContentItem, destinations []domain.Destination) error
}

// ConnectionHealth lists known peers and records health checks.
type ConnectionHealth interface {
	ListActive(ctx context.Context) ([]domain.SiteConnection, error)
	TouchChecked(ctx context.Context, network string) error
}

// Pinger probes whether a peer network is reachable.
type Pinger interface {
	Ping(ctx context.Context, network string) error
}

// Scheduler owns the engine's periodic loops.
type Scheduler struct {
	rechecker   Rechecker
	distributor BatchDistributor
	connections ConnectionHealth
	pinger      Pinger
	logger      logger.Logger

	recheckInterval time.Duration
	healthInterval  time.Duration

	stopChan chan struct{}
	wg       sync.WaitGroup
	started  bool
	mu       sync.Mutex
}

// Config holds scheduler intervals.
type Config struct {
	RecheckInterval time.Duration
	HealthInterval  time.Duration
}

// NewScheduler creates a scheduler.
func NewScheduler(rechecker Rechecker, distributor BatchDistributor,
	connections ConnectionHealth, pinger Pinger, cfg Config, log logger.Logger,
) *Scheduler {
	if cfg.RecheckInterval <= 0 {
		cfg.RecheckInterval = defaultRecheckInterval
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = defaultHealthInterval
	}
	return &Scheduler{
		rechecker:       rechecker,
		distributor:     distributor,
		connections:     connections,
		pinger:          pinger,
		logger:          log,
		recheckInterval: cfg.RecheckInterval,
		healthInterval:  cfg.HealthInterval,
		stopChan:        make(chan struct{}),
	}
}

// Start launches the periodic loops.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.runRecheck(ctx)

	s.wg.Add(1)
	go s.runHealth(ctx)

	s.logger.Info("scheduler started",
		logger.Duration("recheck_interval", s.recheckInterval),
		logger.Duration("health_interval", s.healthInterval))
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	close(s.stopChan)
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) runRecheck(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.recheckInterval)
	defer ticker.Stop()

	// Prime snapshots on startup so the first scheduled tick has a baseline.
	s.RecheckOnce(ctx)

	for {
		select {
		case <-ticker.C:
			s.RecheckOnce(ctx)
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RecheckOnce runs a single date-driven re-check pass, enqueueing one
// redistribution per changed cluster.
func (s *Scheduler) RecheckOnce(ctx context.Context) {
	changes, err := s.rechecker.RecheckDateDriven(ctx)
	if err != nil {
		s.logger.Error("date-driven recheck failed", logger.Error(err))
		return
	}

	for _, change := range changes {
		if len(change.AddedItems) == 0 {
			continue
		}
		err := s.distributor.DistributeBatch(ctx, change.AddedItems, change.Cluster.Destinations)
		if err != nil {
			s.logger.Error("redistribution after recheck failed",
				logger.String("cluster_id", change.Cluster.ID.String()),
				logger.Error(err))
			continue
		}
		s.logger.Info("redistributed changed cluster",
			logger.String("cluster_id", change.Cluster.ID.String()),
			logger.Int("added", len(change.AddedItems)),
			logger.Int("removed", len(change.Diff.Removed)))
	}
}

func (s *Scheduler) runHealth(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.HealthCheckOnce(ctx)
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// HealthCheckOnce pings every active connection and records the check time
// for reachable peers.
func (s *Scheduler) HealthCheckOnce(ctx context.Context) {
	conns, err := s.connections.ListActive(ctx)
	if err != nil {
		s.logger.Error("failed to list connections", logger.Error(err))
		return
	}

	for _, conn := range conns {
		if err := s.pinger.Ping(ctx, conn.Network); err != nil {
			s.logger.Warn("peer unreachable",
				logger.String("network", conn.Network),
				logger.Error(err))
			continue
		}
		if err := s.connections.TouchChecked(ctx, conn.Network); err != nil {
			s.logger.Warn("failed to record health check",
				logger.String("network", conn.Network),
				logger.Error(err))
		}
	}
}
