package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/northpress/syndicate/internal/domain"
)

const clusterSelectList = `id, title, destinations, enable_reviews, reviewer_ids, created_at, updated_at`

const conditionSelectList = `id, cluster_id, source_site_id, content_type, taxonomy, terms,
				filter, auto_publish`

// ClusterRepository manages clusters and their content conditions in
// PostgreSQL. Conditions reference clusters by ID without a foreign key, so
// deleting a cluster orphans its conditions rather than cascading.
type ClusterRepository struct {
	db *sql.DB
}

// NewClusterRepository creates a new repository.
func NewClusterRepository(db *sql.DB) *ClusterRepository {
	return &ClusterRepository{db: db}
}

// CreateCluster persists a new cluster.
func (r *ClusterRepository) CreateCluster(ctx context.Context, cluster *domain.Cluster) error {
	destinations, err := encodeDestinations(cluster.Destinations)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO clusters
			(id, title, destinations, enable_reviews, reviewer_ids, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = r.db.ExecContext(ctx, query,
		cluster.ID, cluster.Title, destinations,
		cluster.EnableReviews, pq.Array(cluster.ReviewerIDs),
		cluster.CreatedAt, cluster.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create cluster: %w", err)
	}
	return nil
}

// UpdateCluster persists changes to a cluster.
func (r *ClusterRepository) UpdateCluster(ctx context.Context, cluster *domain.Cluster) error {
	destinations, err := encodeDestinations(cluster.Destinations)
	if err != nil {
		return err
	}

	query := `
		UPDATE clusters
		SET title = $2, destinations = $3, enable_reviews = $4, reviewer_ids = $5, updated_at = NOW()
		WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query,
		cluster.ID, cluster.Title, destinations,
		cluster.EnableReviews, pq.Array(cluster.ReviewerIDs),
	)
	if err != nil {
		return fmt.Errorf("update cluster: %w", err)
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

// GetCluster retrieves a cluster with its conditions.
func (r *ClusterRepository) GetCluster(ctx context.Context, id string) (*domain.Cluster, error) {
	query := `SELECT ` + clusterSelectList + `
		FROM clusters
		WHERE id = $1`

	cluster, err := scanCluster(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get cluster: %w", err)
	}

	cluster.Conditions, err = r.listConditions(ctx, `WHERE cluster_id = $1`, cluster.ID)
	if err != nil {
		return nil, err
	}
	return cluster, nil
}

// ListClusters returns all clusters without their conditions.
func (r *ClusterRepository) ListClusters(ctx context.Context) ([]domain.Cluster, error) {
	query := `SELECT ` + clusterSelectList + `
		FROM clusters
		ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list clusters: %w", err)
	}
	defer rows.Close()

	clusters := make([]domain.Cluster, 0, initialQueueCapacity)
	for rows.Next() {
		cluster, scanErr := scanCluster(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan cluster: %w", scanErr)
		}
		clusters = append(clusters, *cluster)
	}
	return clusters, rows.Err()
}

// DeleteCluster removes a cluster. Its conditions stay behind, orphaned.
func (r *ClusterRepository) DeleteCluster(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM clusters WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete cluster: %w", err)
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

// CreateCondition persists a new content condition.
func (r *ClusterRepository) CreateCondition(ctx context.Context, cond *domain.ContentCondition) error {
	filter, err := json.Marshal(cond.Filter)
	if err != nil {
		return fmt.Errorf("marshal filter: %w", err)
	}

	query := `
		INSERT INTO content_conditions
			(id, cluster_id, source_site_id, content_type, taxonomy, terms, filter, auto_publish)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = r.db.ExecContext(ctx, query,
		cond.ID, cond.ClusterID, cond.SourceSiteID, cond.ContentType,
		cond.Taxonomy, pq.Array(cond.Terms), filter, cond.AutoPublish,
	)
	if err != nil {
		return fmt.Errorf("create condition: %w", err)
	}
	return nil
}

// DeleteCondition removes a content condition.
func (r *ClusterRepository) DeleteCondition(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM content_conditions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete condition: %w", err)
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

// ListConditionsBySite returns conditions whose clusters still exist,
// scoped to a source site. Orphaned conditions never match.
func (r *ClusterRepository) ListConditionsBySite(ctx context.Context, siteID int64) ([]domain.ContentCondition, error) {
	return r.listConditions(ctx,
		`WHERE source_site_id = $1
		  AND cluster_id IN (SELECT id FROM clusters)`, siteID)
}

// ListDateDrivenConditions returns live conditions with a date filter, for
// the scheduled re-check.
func (r *ClusterRepository) ListDateDrivenConditions(ctx context.Context) ([]domain.ContentCondition, error) {
	return r.listConditions(ctx,
		`WHERE filter->>'date_mode' IS NOT NULL AND filter->>'date_mode' != ''
		  AND cluster_id IN (SELECT id FROM clusters)`)
}

func (r *ClusterRepository) listConditions(ctx context.Context, where string, args ...any) ([]domain.ContentCondition, error) {
	query := `SELECT ` + conditionSelectList + `
		FROM content_conditions
		` + where + `
		ORDER BY id ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conditions: %w", err)
	}
	defer rows.Close()

	conditions := make([]domain.ContentCondition, 0, initialQueueCapacity)
	for rows.Next() {
		var cond domain.ContentCondition
		var terms pq.StringArray
		var filter []byte

		err := rows.Scan(
			&cond.ID, &cond.ClusterID, &cond.SourceSiteID, &cond.ContentType,
			&cond.Taxonomy, &terms, &filter, &cond.AutoPublish,
		)
		if err != nil {
			return nil, fmt.Errorf("scan condition: %w", err)
		}
		cond.Terms = terms
		if len(filter) > 0 {
			if err := json.Unmarshal(filter, &cond.Filter); err != nil {
				return nil, fmt.Errorf("unmarshal filter: %w", err)
			}
		}
		conditions = append(conditions, cond)
	}
	return conditions, rows.Err()
}

func encodeDestinations(dests []domain.Destination) ([]byte, error) {
	encoded := make([]json.RawMessage, 0, len(dests))
	for _, d := range dests {
		raw, err := domain.EncodeDestination(d)
		if err != nil {
			return nil, err
		}
		encoded = append(encoded, raw)
	}
	return json.Marshal(encoded)
}

func decodeDestinations(raw []byte) ([]domain.Destination, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var encoded []json.RawMessage
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil, fmt.Errorf("unmarshal destinations: %w", err)
	}

	dests := make([]domain.Destination, 0, len(encoded))
	for _, e := range encoded {
		d, err := domain.DecodeDestination(e)
		if err != nil {
			return nil, err
		}
		dests = append(dests, d)
	}
	return dests, nil
}

func scanCluster(row rowScanner) (*domain.Cluster, error) {
	var cluster domain.Cluster
	var destinations []byte
	var reviewerIDs pq.Int64Array

	err := row.Scan(
		&cluster.ID, &cluster.Title, &destinations,
		&cluster.EnableReviews, &reviewerIDs,
		&cluster.CreatedAt, &cluster.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	cluster.ReviewerIDs = reviewerIDs
	cluster.Destinations, err = decodeDestinations(destinations)
	if err != nil {
		return nil, err
	}
	return &cluster, nil
}
