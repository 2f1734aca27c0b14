package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/northpress/syndicate/internal/domain"
)

// SnapshotRepository persists the matched-item sets of date-driven cluster
// conditions between scheduled re-checks.
type SnapshotRepository struct {
	db *sql.DB
}

// NewSnapshotRepository creates a new repository.
func NewSnapshotRepository(db *sql.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// Save upserts the snapshot for a cluster.
func (r *SnapshotRepository) Save(ctx context.Context, snap *domain.MatchSnapshot) error {
	query := `
		INSERT INTO match_snapshots (cluster_id, item_ids, taken_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (cluster_id) DO UPDATE
		SET item_ids = EXCLUDED.item_ids, taken_at = EXCLUDED.taken_at`

	_, err := r.db.ExecContext(ctx, query, snap.ClusterID, pq.Array(snap.ItemIDs), snap.TakenAt)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Get returns the snapshot for a cluster, or ErrNotFound when the cluster has
// never been checked.
func (r *SnapshotRepository) Get(ctx context.Context, clusterID string) (*domain.MatchSnapshot, error) {
	query := `SELECT cluster_id, item_ids, taken_at FROM match_snapshots WHERE cluster_id = $1`

	var snap domain.MatchSnapshot
	var itemIDs pq.Int64Array

	err := r.db.QueryRowContext(ctx, query, clusterID).Scan(&snap.ClusterID, &itemIDs, &snap.TakenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	snap.ItemIDs = itemIDs
	return &snap, nil
}

// Delete removes the snapshot for a cluster.
func (r *SnapshotRepository) Delete(ctx context.Context, clusterID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM match_snapshots WHERE cluster_id = $1`, clusterID)
	if err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	rows, rowsErr := result.RowsAffected()
	if rowsErr != nil {
		return fmt.Errorf("get affected rows: %w", rowsErr)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}
