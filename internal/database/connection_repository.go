package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/northpress/syndicate/internal/domain"
)

const connectionSelectList = `id, network, secret, active, content_enabled, search_enabled,
				checked_at, created_at, updated_at`

// ConnectionRepository manages registered remote network peers in PostgreSQL.
type ConnectionRepository struct {
	db *sql.DB
}

// NewConnectionRepository creates a new repository.
func NewConnectionRepository(db *sql.DB) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

// Upsert inserts or updates a connection keyed by network locator.
func (r *ConnectionRepository) Upsert(ctx context.Context, conn *domain.SiteConnection) error {
	query := `
		INSERT INTO site_connections
			(id, network, secret, active, content_enabled, search_enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (network) DO UPDATE
		SET secret = EXCLUDED.secret,
		    active = EXCLUDED.active,
		    content_enabled = EXCLUDED.content_enabled,
		    search_enabled = EXCLUDED.search_enabled,
		    updated_at = NOW()`

	_, err := r.db.ExecContext(ctx, query,
		conn.ID, conn.Network, conn.Secret,
		conn.Active, conn.ContentEnabled, conn.SearchEnabled,
		conn.CreatedAt, conn.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert connection: %w", err)
	}
	return nil
}

// GetByNetwork retrieves a connection by its network locator.
func (r *ConnectionRepository) GetByNetwork(ctx context.Context, network string) (*domain.SiteConnection, error) {
	query := `SELECT ` + connectionSelectList + `
		FROM site_connections
		WHERE network = $1`

	conn, err := scanConnection(r.db.QueryRowContext(ctx, query, network))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get connection: %w", err)
	}
	return conn, nil
}

// ListActive returns active connections.
func (r *ConnectionRepository) ListActive(ctx context.Context) ([]domain.SiteConnection, error) {
	query := `SELECT ` + connectionSelectList + `
		FROM site_connections
		WHERE active = TRUE
		ORDER BY network ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active connections: %w", err)
	}
	defer rows.Close()

	conns := make([]domain.SiteConnection, 0, initialQueueCapacity)
	for rows.Next() {
		conn, scanErr := scanConnection(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan connection: %w", scanErr)
		}
		conns = append(conns, *conn)
	}
	return conns, rows.Err()
}

// TouchChecked records a successful health ping.
func (r *ConnectionRepository) TouchChecked(ctx context.Context, network string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE site_connections SET checked_at = NOW(), updated_at = NOW() WHERE network = $1`,
		network)
	if err != nil {
		return fmt.Errorf("touch checked: %w", err)
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

// Delete removes a connection.
func (r *ConnectionRepository) Delete(ctx context.Context, network string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM site_connections WHERE network = $1`, network)
	if err != nil {
		return fmt.Errorf("delete connection: %w", err)
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

func scanConnection(row rowScanner) (*domain.SiteConnection, error) {
	var conn domain.SiteConnection
	var checkedAt sql.NullTime

	err := row.Scan(
		&conn.ID, &conn.Network, &conn.Secret,
		&conn.Active, &conn.ContentEnabled, &conn.SearchEnabled,
		&checkedAt, &conn.CreatedAt, &conn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if checkedAt.Valid {
		conn.CheckedAt = checkedAt.Time
	}
	return &conn, nil
}
