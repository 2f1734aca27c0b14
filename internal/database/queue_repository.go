package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/northpress/syndicate/internal/domain"
)

// queueSelectList is the column list for SELECT/RETURNING on distribution_queue
// (single source for schema changes)
const queueSelectList = `id, status, items, destination, origin_network, origin_id,
				error_message, created_at, updated_at`

// QueueRepository manages the distribution queue in PostgreSQL.
type QueueRepository struct {
	db *sql.DB
}

// NewQueueRepository creates a new repository.
func NewQueueRepository(db *sql.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

// Enqueue persists a new distribution item in the init state.
func (r *QueueRepository) Enqueue(ctx context.Context, item *domain.DistributionItem) error {
	items, err := json.Marshal(item.Items)
	if err != nil {
		return fmt.Errorf("marshal items: %w", err)
	}
	dest, err := domain.EncodeDestination(item.Destination)
	if err != nil {
		return fmt.Errorf("encode destination: %w", err)
	}

	query := `
		INSERT INTO distribution_queue
			(id, status, items, destination, origin_network, origin_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = r.db.ExecContext(ctx, query,
		item.ID, item.Status, items, dest,
		item.OriginNetwork, item.OriginID, item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("enqueue distribution: %w", err)
	}
	return nil
}

// Claim atomically moves up to limit init items to started and returns them.
// Uses FOR UPDATE SKIP LOCKED for concurrent worker safety.
func (r *QueueRepository) Claim(ctx context.Context, limit int) ([]domain.DistributionItem, error) {
	query := `
		UPDATE distribution_queue
		SET status = 'started', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM distribution_queue
			WHERE status = 'init'
			ORDER BY created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + queueSelectList + `
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("claim distributions: %w", err)
	}
	defer rows.Close()

	return scanDistributionItems(rows)
}

// execExpectOneRow runs an exec and returns domain.ErrNotFound when no row was affected
func (r *QueueRepository) execExpectOneRow(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
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

// MarkFinished records the terminal status of an executed item, along with
// the destination carrying the accumulated per-sub-site delivery results.
func (r *QueueRepository) MarkFinished(ctx context.Context, id string, status domain.DistributionStatus, dest domain.Destination, errorMsg string) error {
	encoded, err := domain.EncodeDestination(dest)
	if err != nil {
		return fmt.Errorf("encode destination: %w", err)
	}

	query := `
		UPDATE distribution_queue
		SET status = $2,
		    destination = $3,
		    error_message = $4,
		    updated_at = NOW()
		WHERE id = $1`
	if err := r.execExpectOneRow(ctx, query, id, status, encoded, errorMsg); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("mark finished: %w", err)
	}
	return nil
}

// Reschedule moves a terminal item back to init so the worker picks it up
// again. Items still init or started are left alone.
func (r *QueueRepository) Reschedule(ctx context.Context, id string) error {
	query := `
		UPDATE distribution_queue
		SET status = 'init', error_message = '', updated_at = NOW()
		WHERE id = $1
		  AND status IN ('success', 'partial', 'failed')`
	if err := r.execExpectOneRow(ctx, query, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("reschedule: %w", err)
	}
	return nil
}

// ClaimByID forces one specific item to started regardless of its current
// state, for run-now requests. Returns the claimed item.
func (r *QueueRepository) ClaimByID(ctx context.Context, id string) (*domain.DistributionItem, error) {
	query := `
		UPDATE distribution_queue
		SET status = 'started', updated_at = NOW()
		WHERE id = $1
		RETURNING ` + queueSelectList

	row := r.db.QueryRowContext(ctx, query, id)
	item, err := scanDistributionItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("claim by id: %w", err)
	}
	return item, nil
}

// ResetStale resets started items older than the cutoff back to init.
// This handles items claimed by a worker that crashed before finishing.
func (r *QueueRepository) ResetStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		UPDATE distribution_queue
		SET status = 'init', updated_at = NOW()
		WHERE status = 'started'
		  AND updated_at < NOW() - $1::interval`

	result, err := r.db.ExecContext(ctx, query, olderThan.String())
	if err != nil {
		return 0, fmt.Errorf("reset stale: %w", err)
	}

	return result.RowsAffected()
}

// DeleteOlderThan removes items older than the retention window regardless
// of status. Bounded storage wins over audit history here; the retention
// window is the operator's only lever.
func (r *QueueRepository) DeleteOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		DELETE FROM distribution_queue
		WHERE updated_at < NOW() - $1::interval`

	result, err := r.db.ExecContext(ctx, query, olderThan.String())
	if err != nil {
		return 0, fmt.Errorf("delete older than: %w", err)
	}

	return result.RowsAffected()
}

// Delete removes one item unconditionally.
func (r *QueueRepository) Delete(ctx context.Context, id string) error {
	if err := r.execExpectOneRow(ctx, `DELETE FROM distribution_queue WHERE id = $1`, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("delete distribution: %w", err)
	}
	return nil
}

// GetByID retrieves a single queue item by ID.
func (r *QueueRepository) GetByID(ctx context.Context, id string) (*domain.DistributionItem, error) {
	query := `SELECT ` + queueSelectList + `
		FROM distribution_queue
		WHERE id = $1`

	row := r.db.QueryRowContext(ctx, query, id)
	item, err := scanDistributionItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get by id: %w", err)
	}
	return item, nil
}

// List returns queue items, newest first, optionally filtered by status.
func (r *QueueRepository) List(ctx context.Context, status domain.DistributionStatus, limit int) ([]domain.DistributionItem, error) {
	query := `SELECT ` + queueSelectList + `
		FROM distribution_queue
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list distributions: %w", err)
	}
	defer rows.Close()

	return scanDistributionItems(rows)
}

// GetStats returns queue statistics.
func (r *QueueRepository) GetStats(ctx context.Context) (*domain.DistributionStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'init') as init,
			COUNT(*) FILTER (WHERE status = 'started') as started,
			COUNT(*) FILTER (WHERE status = 'success') as success,
			COUNT(*) FILTER (WHERE status = 'partial') as partial,
			COUNT(*) FILTER (WHERE status = 'failed') as failed,
			COALESCE(AVG(EXTRACT(EPOCH FROM (updated_at - created_at)))
				FILTER (WHERE status = 'success' AND updated_at > NOW() - INTERVAL '1 hour'), 0) as avg_delivery_lag_seconds
		FROM distribution_queue`

	var stats domain.DistributionStats
	err := r.db.QueryRowContext(ctx, query).Scan(
		&stats.Init,
		&stats.Started,
		&stats.Success,
		&stats.Partial,
		&stats.Failed,
		&stats.AvgDeliveryLagSeconds,
	)
	if err != nil {
		return nil, fmt.Errorf("get queue stats: %w", err)
	}
	return &stats, nil
}

// initialQueueCapacity is a reasonable default for batch operations
const initialQueueCapacity = 16

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDistributionItem(row rowScanner) (*domain.DistributionItem, error) {
	var item domain.DistributionItem
	var items, dest []byte

	err := row.Scan(
		&item.ID, &item.Status, &items, &dest,
		&item.OriginNetwork, &item.OriginID,
		&item.Error, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(items, &item.Items); err != nil {
		return nil, fmt.Errorf("unmarshal items: %w", err)
	}
	item.Destination, err = domain.DecodeDestination(dest)
	if err != nil {
		return nil, fmt.Errorf("decode destination: %w", err)
	}
	return &item, nil
}

func scanDistributionItems(rows *sql.Rows) ([]domain.DistributionItem, error) {
	items := make([]domain.DistributionItem, 0, initialQueueCapacity)
	for rows.Next() {
		item, err := scanDistributionItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan distribution item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}
