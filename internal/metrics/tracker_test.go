package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northpress/syndicate/internal/logger"
)

func newTestTracker(t *testing.T) (*Tracker, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewTracker(client, logger.NewNopLogger()), mr
}

func TestTrackerCounters(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.IncrementDelivered(ctx, "news.example.com"))
	require.NoError(t, tracker.IncrementDelivered(ctx, "news.example.com"))
	require.NoError(t, tracker.IncrementSkipped(ctx, "news.example.com"))
	require.NoError(t, tracker.IncrementErrors(ctx, "5"))

	stats, err := tracker.GetStats(ctx, []string{"news.example.com", "5"})
	require.NoError(t, err)

	assert.Equal(t, int64(2), stats.TotalDelivered)
	assert.Equal(t, int64(1), stats.TotalSkipped)
	assert.Equal(t, int64(1), stats.TotalErrors)
	require.Len(t, stats.Destinations, 2)
	assert.Equal(t, int64(2), stats.Destinations[0].Delivered)
	assert.Equal(t, int64(1), stats.Destinations[1].Errors)
}

func TestTrackerRecentDeliveries(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, tracker.AddRecentDelivery(ctx, RecentDelivery{
			ID:          string(rune('a' + i)),
			Destination: "news.example.com",
			Status:      "success",
			Items:       1,
			FinishedAt:  time.Now().UTC(),
		}))
	}

	deliveries, err := tracker.GetRecentDeliveries(ctx, 2)
	require.NoError(t, err)
	require.Len(t, deliveries, 2)

	// Newest first.
	assert.Equal(t, "c", deliveries[0].ID)
	assert.Equal(t, "b", deliveries[1].ID)
}

func TestTrackerLastRun(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.UpdateLastRun(ctx))

	stats, err := tracker.GetStats(ctx, nil)
	require.NoError(t, err)
	assert.False(t, stats.LastRun.IsZero())
}
