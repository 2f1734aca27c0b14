package cluster

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northpress/syndicate/internal/domain"
	"github.com/northpress/syndicate/internal/logger"
	"github.com/northpress/syndicate/internal/match"
	"github.com/northpress/syndicate/internal/store"
)

type memorySource struct {
	clusters map[string]*domain.Cluster
	// orphans are conditions whose cluster row is gone.
	orphans []domain.ContentCondition
}

func newMemorySource() *memorySource {
	return &memorySource{clusters: make(map[string]*domain.Cluster)}
}

func (s *memorySource) add(cl *domain.Cluster) {
	s.clusters[cl.ID.String()] = cl
}

func (s *memorySource) GetCluster(_ context.Context, id string) (*domain.Cluster, error) {
	cl, ok := s.clusters[id]
	if !ok {
		return nil, fmt.Errorf("%w: cluster %s", domain.ErrNotFound, id)
	}
	return cl, nil
}

func (s *memorySource) ListConditionsBySite(_ context.Context, siteID int64) ([]domain.ContentCondition, error) {
	conditions := make([]domain.ContentCondition, 0)
	for _, cl := range s.clusters {
		for _, cond := range cl.Conditions {
			if cond.SourceSiteID == siteID {
				conditions = append(conditions, cond)
			}
		}
	}
	return conditions, nil
}

func (s *memorySource) ListDateDrivenConditions(context.Context) ([]domain.ContentCondition, error) {
	conditions := make([]domain.ContentCondition, 0)
	for _, cl := range s.clusters {
		for _, cond := range cl.Conditions {
			if cond.DateDriven() {
				conditions = append(conditions, cond)
			}
		}
	}
	return append(conditions, s.orphans...), nil
}

type memorySnapshots struct {
	mu    sync.Mutex
	snaps map[string]*domain.MatchSnapshot
}

func newMemorySnapshots() *memorySnapshots {
	return &memorySnapshots{snaps: make(map[string]*domain.MatchSnapshot)}
}

func (s *memorySnapshots) Save(_ context.Context, snap *domain.MatchSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[snap.ClusterID.String()] = snap
	return nil
}

func (s *memorySnapshots) Get(_ context.Context, clusterID string) (*domain.MatchSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[clusterID]
	if !ok {
		return nil, fmt.Errorf("%w: snapshot %s", domain.ErrNotFound, clusterID)
	}
	return snap, nil
}

func TestDiffMatchedSets(t *testing.T) {
	tests := []struct {
		name        string
		before      []int64
		after       []int64
		wantAdded   []int64
		wantRemoved []int64
		wantChanged bool
	}{
		{
			name:   "identical sets",
			before: []int64{1, 2}, after: []int64{2, 1},
		},
		{
			name:   "both empty",
			before: nil, after: nil,
		},
		{
			name:   "item rotates in and out",
			before: []int64{1, 2}, after: []int64{2, 3},
			wantAdded: []int64{3}, wantRemoved: []int64{1}, wantChanged: true,
		},
		{
			name:   "all new",
			before: nil, after: []int64{5, 4},
			wantAdded: []int64{4, 5}, wantChanged: true,
		},
		{
			name:   "all gone",
			before: []int64{7}, after: nil,
			wantRemoved: []int64{7}, wantChanged: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff := DiffMatchedSets(tt.before, tt.after)
			assert.Equal(t, tt.wantAdded, diff.Added)
			assert.Equal(t, tt.wantRemoved, diff.Removed)
			assert.Equal(t, tt.wantChanged, diff.Changed())
		})
	}
}

func newsCluster(siteID int64, dests ...domain.Destination) *domain.Cluster {
	id := uuid.New()
	return &domain.Cluster{
		ID:           id,
		Title:        "news",
		Destinations: dests,
		Conditions: []domain.ContentCondition{{
			ID:           uuid.New(),
			ClusterID:    id,
			SourceSiteID: siteID,
			ContentType:  "post",
			Taxonomy:     "category",
			Terms:        []string{"news"},
		}},
	}
}

func TestDestinationsForItem(t *testing.T) {
	contentStore := store.NewMemoryStore()
	ctx := context.Background()

	item, err := contentStore.Create(ctx, 5, &domain.ContentItem{
		Type: "post", Slug: "breaking", Status: domain.ItemStatusPublish,
		PublishedAt: time.Now().Unix(),
		Terms:       map[string][]string{"category": {"news"}},
	})
	require.NoError(t, err)

	source := newMemorySource()
	// Two clusters match the item and share one destination.
	source.add(newsCluster(5,
		domain.SiteDestination{SiteID: 7},
		domain.NetworkDestination{Network: "other.example.com", SubSites: []int64{1}, ImportAction: domain.ImportActionInsert},
	))
	source.add(newsCluster(5, domain.SiteDestination{SiteID: 7}))

	engine := NewEngine(source, newMemorySnapshots(),
		match.NewMatcher(contentStore, nil), logger.NewNopLogger())

	dests, err := engine.DestinationsForItem(ctx, item)
	require.NoError(t, err)

	// Duplicate site destination collapsed by key.
	require.Len(t, dests, 2)
	keys := []string{dests[0].Key(), dests[1].Key()}
	assert.Contains(t, keys, "7")
	assert.Contains(t, keys, "other.example.com")
}

func TestRecheckDateDriven(t *testing.T) {
	contentStore := store.NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	itemA, err := contentStore.Create(ctx, 5, &domain.ContentItem{
		Type: "post", Slug: "a", Status: domain.ItemStatusPublish,
		PublishedAt: now.Add(-6 * 24 * time.Hour).Unix(),
	})
	require.NoError(t, err)
	itemB, err := contentStore.Create(ctx, 5, &domain.ContentItem{
		Type: "post", Slug: "b", Status: domain.ItemStatusPublish,
		PublishedAt: now.Add(-time.Hour).Unix(),
	})
	require.NoError(t, err)

	clusterID := uuid.New()
	cl := &domain.Cluster{
		ID:           clusterID,
		Title:        "last week",
		Destinations: []domain.Destination{domain.SiteDestination{SiteID: 7}},
		Conditions: []domain.ContentCondition{{
			ID:           uuid.New(),
			ClusterID:    clusterID,
			SourceSiteID: 5,
			ContentType:  "post",
			Filter: domain.ConditionFilter{
				DateMode:     domain.DateModeDynamic,
				DynamicCount: 7,
				DynamicUnit:  domain.DynamicUnitDay,
			},
		}},
	}
	source := newMemorySource()
	source.add(cl)
	// A taxonomy-only cluster is not date-driven and must stay untouched.
	static := newsCluster(5, domain.SiteDestination{SiteID: 9})
	source.add(static)
	// A date-driven condition whose cluster was deleted is skipped.
	source.orphans = append(source.orphans, domain.ContentCondition{
		ID:           uuid.New(),
		ClusterID:    uuid.New(),
		SourceSiteID: 5,
		ContentType:  "post",
		Filter: domain.ConditionFilter{
			DateMode:     domain.DateModeDynamic,
			DynamicCount: 7,
			DynamicUnit:  domain.DynamicUnitDay,
		},
	})
	snapshots := newMemorySnapshots()

	engine := NewEngine(source, snapshots, match.NewMatcher(contentStore, nil), logger.NewNopLogger())

	// First run primes the snapshot without reporting a change.
	changes, err := engine.RecheckDateDriven(ctx)
	require.NoError(t, err)
	assert.Empty(t, changes)

	snap, err := snapshots.Get(ctx, clusterID.String())
	require.NoError(t, err)
	assert.Equal(t, []int64{itemA.ID, itemB.ID}, snap.ItemIDs)

	_, err = snapshots.Get(ctx, static.ID.String())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Nothing moved: no change reported.
	changes, err = engine.RecheckDateDriven(ctx)
	require.NoError(t, err)
	assert.Empty(t, changes)

	// Item A falls out of the window, item C enters: exactly one change.
	require.NoError(t, contentStore.Delete(ctx, 5, itemA.ID))
	itemC, err := contentStore.Create(ctx, 5, &domain.ContentItem{
		Type: "post", Slug: "c", Status: domain.ItemStatusPublish,
		PublishedAt: now.Unix(),
	})
	require.NoError(t, err)

	changes, err = engine.RecheckDateDriven(ctx)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, clusterID, changes[0].Cluster.ID)
	assert.Equal(t, []int64{itemC.ID}, changes[0].Diff.Added)
	assert.Equal(t, []int64{itemA.ID}, changes[0].Diff.Removed)
}
