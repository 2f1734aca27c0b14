// Package cluster groups destinations, content conditions and review
// settings, and computes which items go to which destinations.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/northpress/syndicate/internal/domain"
	"github.com/northpress/syndicate/internal/logger"
	"github.com/northpress/syndicate/internal/match"
)

// Source loads clusters and conditions.
type Source interface {
	GetCluster(ctx context.Context, id string) (*domain.Cluster, error)
	ListConditionsBySite(ctx context.Context, siteID int64) ([]domain.ContentCondition, error)
	ListDateDrivenConditions(ctx context.Context) ([]domain.ContentCondition, error)
}

// SnapshotStore persists matched-item sets between scheduled re-checks.
type SnapshotStore interface {
	Save(ctx context.Context, snap *domain.MatchSnapshot) error
	Get(ctx context.Context, clusterID string) (*domain.MatchSnapshot, error)
}

// Engine answers fan-out questions over the cluster configuration.
type Engine struct {
	source    Source
	snapshots SnapshotStore
	matcher   *match.Matcher
	logger    logger.Logger
}

// NewEngine creates a cluster engine.
func NewEngine(source Source, snapshots SnapshotStore, matcher *match.Matcher, log logger.Logger) *Engine {
	return &Engine{
		source:    source,
		snapshots: snapshots,
		matcher:   matcher,
		logger:    log,
	}
}

// DestinationsForItem unions the destinations of every cluster whose
// conditions match the item. Duplicate destinations across clusters collapse
// by destination key.
func (e *Engine) DestinationsForItem(ctx context.Context, item *domain.ContentItem) ([]domain.Destination, error) {
	conditions, err := e.source.ListConditionsBySite(ctx, item.SiteID)
	if err != nil {
		return nil, fmt.Errorf("load conditions: %w", err)
	}

	matched, err := e.matcher.ConditionsMatching(ctx, item, conditions)
	if err != nil {
		return nil, err
	}

	clusterIDs := make([]string, 0, len(matched))
	seen := make(map[string]struct{}, len(matched))
	for _, cond := range matched {
		id := cond.ClusterID.String()
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		clusterIDs = append(clusterIDs, id)
	}

	destinations := make([]domain.Destination, 0)
	byKey := make(map[string]struct{})
	for _, id := range clusterIDs {
		cl, err := e.source.GetCluster(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			// Orphaned condition; its cluster is gone.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load cluster %s: %w", id, err)
		}
		for _, dest := range cl.Destinations {
			if _, ok := byKey[dest.Key()]; ok {
				continue
			}
			byKey[dest.Key()] = struct{}{}
			destinations = append(destinations, dest)
		}
	}
	return destinations, nil
}

// ClustersForItem returns the clusters whose conditions match the item, for
// callers that need review settings rather than destinations.
func (e *Engine) ClustersForItem(ctx context.Context, item *domain.ContentItem) ([]domain.Cluster, error) {
	conditions, err := e.source.ListConditionsBySite(ctx, item.SiteID)
	if err != nil {
		return nil, fmt.Errorf("load conditions: %w", err)
	}

	matched, err := e.matcher.ConditionsMatching(ctx, item, conditions)
	if err != nil {
		return nil, err
	}

	clusters := make([]domain.Cluster, 0, len(matched))
	seen := make(map[uuid.UUID]struct{}, len(matched))
	for _, cond := range matched {
		if _, ok := seen[cond.ClusterID]; ok {
			continue
		}
		seen[cond.ClusterID] = struct{}{}

		cl, err := e.source.GetCluster(ctx, cond.ClusterID.String())
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load cluster %s: %w", cond.ClusterID, err)
		}
		clusters = append(clusters, *cl)
	}
	return clusters, nil
}

// MatchedSet evaluates all of a cluster's conditions and returns the union
// of matched item IDs, sorted.
func (e *Engine) MatchedSet(ctx context.Context, cl *domain.Cluster) ([]int64, error) {
	_, ids, err := e.matchedItems(ctx, cl)
	return ids, err
}

// matchedItems evaluates all of a cluster's conditions and returns the
// matched items keyed by ID alongside the sorted ID set.
func (e *Engine) matchedItems(ctx context.Context, cl *domain.Cluster) (map[int64]domain.ContentItem, []int64, error) {
	byID := make(map[int64]domain.ContentItem)
	ids := make([]int64, 0)
	for _, cond := range cl.Conditions {
		items, err := e.matcher.PostsMatching(ctx, cond)
		if err != nil {
			return nil, nil, err
		}
		for _, item := range items {
			if _, ok := byID[item.ID]; ok {
				continue
			}
			byID[item.ID] = item
			ids = append(ids, item.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return byID, ids, nil
}

// Change is one cluster whose date-driven matched set moved since the last
// re-check. AddedItems carries the items that entered the set, ready for
// redistribution.
type Change struct {
	Cluster    domain.Cluster
	Diff       SetDiff
	Matched    []int64
	AddedItems []domain.ContentItem
}

// RecheckDateDriven re-evaluates every cluster carrying date-driven
// conditions, compares the matched set against the persisted snapshot, and
// returns one Change per cluster whose set moved. The new snapshot is
// persisted whether or not the set changed, so a first run primes the
// baseline without triggering redistribution.
func (e *Engine) RecheckDateDriven(ctx context.Context) ([]Change, error) {
	conditions, err := e.source.ListDateDrivenConditions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list date-driven conditions: %w", err)
	}

	changes := make([]Change, 0)
	seen := make(map[uuid.UUID]struct{}, len(conditions))
	for _, cond := range conditions {
		if _, ok := seen[cond.ClusterID]; ok {
			continue
		}
		seen[cond.ClusterID] = struct{}{}

		cl, err := e.source.GetCluster(ctx, cond.ClusterID.String())
		if errors.Is(err, domain.ErrNotFound) {
			// Orphaned condition; its cluster is gone.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load cluster %s: %w", cond.ClusterID, err)
		}

		byID, matched, err := e.matchedItems(ctx, cl)
		if err != nil {
			return nil, err
		}

		var before []int64
		primed := false
		snap, err := e.snapshots.Get(ctx, cl.ID.String())
		switch {
		case errors.Is(err, domain.ErrNotFound):
			// First evaluation; prime the baseline silently.
		case err != nil:
			return nil, err
		default:
			before = snap.ItemIDs
			primed = true
		}

		if err := e.snapshots.Save(ctx, &domain.MatchSnapshot{
			ClusterID: cl.ID,
			ItemIDs:   matched,
			TakenAt:   time.Now().UTC(),
		}); err != nil {
			return nil, err
		}

		if !primed {
			continue
		}
		diff := DiffMatchedSets(before, matched)
		if !diff.Changed() {
			continue
		}

		e.logger.Info("Cluster matched set changed",
			logger.String("cluster_id", cl.ID.String()),
			logger.Int("added", len(diff.Added)),
			logger.Int("removed", len(diff.Removed)),
		)
		added := make([]domain.ContentItem, 0, len(diff.Added))
		for _, id := range diff.Added {
			if item, ok := byID[id]; ok {
				added = append(added, item)
			}
		}
		changes = append(changes, Change{Cluster: *cl, Diff: diff, Matched: matched, AddedItems: added})
	}
	return changes, nil
}
