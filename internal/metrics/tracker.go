package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/northpress/syndicate/internal/logger"
)

// StatsTracker records delivery outcomes for the stats endpoint. Counters and
// the recent-deliveries list live in Redis so they survive restarts and are
// shared between the worker and the API.
type StatsTracker interface {
	// IncrementDelivered increments the delivered counter for a destination key.
	IncrementDelivered(ctx context.Context, dest string) error
	// IncrementSkipped increments the skipped counter for a destination key.
	IncrementSkipped(ctx context.Context, dest string) error
	// IncrementErrors increments the error counter for a destination key.
	IncrementErrors(ctx context.Context, dest string) error
	// AddRecentDelivery pushes a finished distribution onto the recent list.
	AddRecentDelivery(ctx context.Context, delivery RecentDelivery) error
	// GetStats returns aggregated statistics for the given destination keys.
	GetStats(ctx context.Context, destinations []string) (*Stats, error)
	// GetRecentDeliveries returns recently finished distributions.
	GetRecentDeliveries(ctx context.Context, limit int) ([]RecentDelivery, error)
	// UpdateLastRun updates the last worker run timestamp.
	UpdateLastRun(ctx context.Context) error
}

// Tracker implements StatsTracker using Redis.
type Tracker struct {
	client redis.UniversalClient
	keys   *RedisKeys
	logger logger.Logger
}

// NewTracker creates a new stats tracker.
func NewTracker(client redis.UniversalClient, log logger.Logger) *Tracker {
	return &Tracker{
		client: client,
		keys:   NewRedisKeys(KeyPrefixMetrics),
		logger: log,
	}
}

func (t *Tracker) increment(ctx context.Context, key, what string) error {
	ttl := MetricsTTLDays * 24 * time.Hour

	// Pipeline keeps INCR and EXPIRE atomic.
	pipe := t.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		t.logger.Warn("Failed to increment counter",
			logger.String("counter", what),
			logger.String("redis_key", key),
			logger.Error(err),
		)
		return fmt.Errorf("increment %s counter: %w", what, err)
	}
	return nil
}

// IncrementDelivered increments the delivered counter for a destination key.
func (t *Tracker) IncrementDelivered(ctx context.Context, dest string) error {
	return t.increment(ctx, t.keys.Delivered(dest), "delivered")
}

// IncrementSkipped increments the skipped counter for a destination key.
func (t *Tracker) IncrementSkipped(ctx context.Context, dest string) error {
	return t.increment(ctx, t.keys.Skipped(dest), "skipped")
}

// IncrementErrors increments the error counter for a destination key.
func (t *Tracker) IncrementErrors(ctx context.Context, dest string) error {
	return t.increment(ctx, t.keys.Errors(dest), "errors")
}

// AddRecentDelivery pushes a finished distribution onto the recent list,
// trimmed to the last MaxRecentDeliveries entries.
func (t *Tracker) AddRecentDelivery(ctx context.Context, delivery RecentDelivery) error {
	data, err := json.Marshal(delivery)
	if err != nil {
		return fmt.Errorf("marshal delivery: %w", err)
	}

	ttl := RecentDeliveriesTTLDays * 24 * time.Hour

	pipe := t.client.Pipeline()
	pipe.LPush(ctx, KeyRecentDeliveries, data)
	pipe.LTrim(ctx, KeyRecentDeliveries, 0, MaxRecentDeliveries-1)
	pipe.Expire(ctx, KeyRecentDeliveries, ttl)

	if _, err = pipe.Exec(ctx); err != nil {
		t.logger.Warn("Failed to add recent delivery",
			logger.String("distribution_id", delivery.ID),
			logger.String("destination", delivery.Destination),
			logger.Error(err),
		)
		return fmt.Errorf("add recent delivery: %w", err)
	}
	return nil
}

// GetStats returns aggregated statistics across the given destination keys,
// read atomically via a pipeline.
func (t *Tracker) GetStats(ctx context.Context, destinations []string) (*Stats, error) {
	pipe := t.client.Pipeline()

	deliveredCmds := make(map[string]*redis.StringCmd)
	skippedCmds := make(map[string]*redis.StringCmd)
	errorCmds := make(map[string]*redis.StringCmd)

	for _, dest := range destinations {
		deliveredCmds[dest] = pipe.Get(ctx, t.keys.Delivered(dest))
		skippedCmds[dest] = pipe.Get(ctx, t.keys.Skipped(dest))
		errorCmds[dest] = pipe.Get(ctx, t.keys.Errors(dest))
	}
	lastRunCmd := pipe.Get(ctx, KeyLastRun)

	if _, execErr := pipe.Exec(ctx); execErr != nil && !errors.Is(execErr, redis.Nil) {
		return nil, fmt.Errorf("execute pipeline: %w", execErr)
	}

	stats := &Stats{
		Destinations: make([]DestinationStats, 0, len(destinations)),
	}

	for _, dest := range destinations {
		destStats := DestinationStats{Key: dest}

		// Missing keys read as zero.
		if val, err := deliveredCmds[dest].Int64(); err == nil {
			destStats.Delivered = val
			stats.TotalDelivered += val
		}
		if val, err := skippedCmds[dest].Int64(); err == nil {
			destStats.Skipped = val
			stats.TotalSkipped += val
		}
		if val, err := errorCmds[dest].Int64(); err == nil {
			destStats.Errors = val
			stats.TotalErrors += val
		}

		stats.Destinations = append(stats.Destinations, destStats)
	}

	if lastRunStr, err := lastRunCmd.Result(); err == nil && lastRunStr != "" {
		if lastRun, parseErr := time.Parse(time.RFC3339, lastRunStr); parseErr == nil {
			stats.LastRun = lastRun
		}
	}

	return stats, nil
}

// GetRecentDeliveries returns recently finished distributions, newest first.
func (t *Tracker) GetRecentDeliveries(ctx context.Context, limit int) ([]RecentDelivery, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > MaxRecentDeliveries {
		limit = MaxRecentDeliveries
	}

	results, err := t.client.LRange(ctx, KeyRecentDeliveries, 0, int64(limit-1)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []RecentDelivery{}, nil
		}
		return nil, fmt.Errorf("get recent deliveries: %w", err)
	}

	deliveries := make([]RecentDelivery, 0, len(results))
	for _, result := range results {
		var delivery RecentDelivery
		if unmarshalErr := json.Unmarshal([]byte(result), &delivery); unmarshalErr != nil {
			t.logger.Warn("Failed to unmarshal recent delivery", logger.Error(unmarshalErr))
			continue
		}
		deliveries = append(deliveries, delivery)
	}

	return deliveries, nil
}

// UpdateLastRun updates the last worker run timestamp.
func (t *Tracker) UpdateLastRun(ctx context.Context) error {
	now := time.Now().Format(time.RFC3339)

	if err := t.client.Set(ctx, KeyLastRun, now, 0).Err(); err != nil {
		t.logger.Warn("Failed to update last run", logger.Error(err))
		return fmt.Errorf("update last run: %w", err)
	}
	return nil
}
