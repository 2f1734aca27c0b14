package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/northpress/syndicate/internal/domain"
	"github.com/northpress/syndicate/internal/store"
)

// contentSelectList is the column list for SELECT/RETURNING on content_items
// (single source for schema changes)
const contentSelectList = `id, site_id, type, slug, title, status, body,
					parent_id, terms, published_at, created_at, meta`

// ContentRepository is a PostgreSQL-backed content store for installations
// that mirror their content into the engine's own database instead of
// bridging to an external store.
type ContentRepository struct {
	db *sql.DB
}

// NewContentRepository creates a new repository.
func NewContentRepository(db *sql.DB) *ContentRepository {
	return &ContentRepository{db: db}
}

var _ store.ContentStore = (*ContentRepository)(nil)

// Get returns one item. Returns domain.ErrNotFound when absent.
func (r *ContentRepository) Get(ctx context.Context, siteID, itemID int64) (*domain.ContentItem, error) {
	query := `SELECT ` + contentSelectList + `
		FROM content_items
		WHERE site_id = $1 AND id = $2`

	row := r.db.QueryRowContext(ctx, query, siteID, itemID)
	item, err := scanContentItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: item %d on site %d", domain.ErrNotFound, itemID, siteID)
	}
	if err != nil {
		return nil, fmt.Errorf("get content item: %w", err)
	}
	return item, nil
}

// GetBySlug returns the item with the given slug and type.
func (r *ContentRepository) GetBySlug(ctx context.Context, siteID int64, contentType, slug string) (*domain.ContentItem, error) {
	query := `SELECT ` + contentSelectList + `
		FROM content_items
		WHERE site_id = $1 AND type = $2 AND slug = $3
		ORDER BY id ASC
		LIMIT 1`

	row := r.db.QueryRowContext(ctx, query, siteID, contentType, slug)
	item, err := scanContentItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: slug %q on site %d", domain.ErrNotFound, slug, siteID)
	}
	if err != nil {
		return nil, fmt.Errorf("get content item by slug: %w", err)
	}
	return item, nil
}

// Create inserts a new item and returns it with its assigned ID.
func (r *ContentRepository) Create(ctx context.Context, siteID int64, item *domain.ContentItem) (*domain.ContentItem, error) {
	terms, meta, err := encodeContentFields(item)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO content_items
			(site_id, type, slug, title, status, body, parent_id, terms, published_at, created_at, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING ` + contentSelectList

	row := r.db.QueryRowContext(ctx, query,
		siteID, item.Type, item.Slug, item.Title, item.Status, item.Body,
		item.ParentID, terms, item.PublishedAt, item.CreatedAt, meta,
	)
	created, err := scanContentItem(row)
	if err != nil {
		return nil, fmt.Errorf("create content item: %w", err)
	}
	return created, nil
}

// Update overwrites an existing item.
func (r *ContentRepository) Update(ctx context.Context, siteID int64, item *domain.ContentItem) error {
	terms, meta, err := encodeContentFields(item)
	if err != nil {
		return err
	}

	query := `
		UPDATE content_items
		SET type = $3, slug = $4, title = $5, status = $6, body = $7,
		    parent_id = $8, terms = $9, published_at = $10, meta = $11
		WHERE site_id = $1 AND id = $2`

	if err := r.execExpectOneRow(ctx, query,
		siteID, item.ID, item.Type, item.Slug, item.Title, item.Status, item.Body,
		item.ParentID, terms, item.PublishedAt, meta,
	); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("update content item: %w", err)
	}
	return nil
}

// Delete removes an item.
func (r *ContentRepository) Delete(ctx context.Context, siteID, itemID int64) error {
	query := `DELETE FROM content_items WHERE site_id = $1 AND id = $2`
	if err := r.execExpectOneRow(ctx, query, siteID, itemID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("delete content item: %w", err)
	}
	return nil
}

// SetMeta writes one meta key on an item without touching the rest of it.
// Read-modify-write keeps the meta list order stable.
func (r *ContentRepository) SetMeta(ctx context.Context, siteID, itemID int64, key, value string) error {
	item, err := r.Get(ctx, siteID, itemID)
	if err != nil {
		return err
	}
	item.SetMeta(key, value)

	meta, err := json.Marshal(item.Meta)
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}

	query := `UPDATE content_items SET meta = $3 WHERE site_id = $1 AND id = $2`
	if err := r.execExpectOneRow(ctx, query, siteID, itemID, meta); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("set content meta: %w", err)
	}
	return nil
}

// Query returns items matching the filter, newest first. Taxonomy filtering
// happens after the scan; terms live in a JSON column the planner cannot
// index per taxonomy.
func (r *ContentRepository) Query(ctx context.Context, siteID int64, filter store.QueryFilter) ([]domain.ContentItem, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + contentSelectList + ` FROM content_items WHERE site_id = $1`)
	args := []any{siteID}

	if filter.Type != "" {
		args = append(args, filter.Type)
		fmt.Fprintf(&sb, " AND type = $%d", len(args))
	}
	if len(filter.Statuses) > 0 {
		args = append(args, pq.Array(filter.Statuses))
		fmt.Fprintf(&sb, " AND status = ANY($%d)", len(args))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since.Unix())
		fmt.Fprintf(&sb, " AND published_at >= $%d", len(args))
	}
	if !filter.Until.IsZero() {
		args = append(args, filter.Until.Unix())
		fmt.Fprintf(&sb, " AND published_at <= $%d", len(args))
	}
	sb.WriteString(" ORDER BY published_at DESC, id DESC")

	rows, err := r.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query content items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.ContentItem, 0, initialQueueCapacity)
	for rows.Next() {
		item, err := scanContentItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan content item: %w", err)
		}
		if !matchesTaxonomy(item, filter) {
			continue
		}
		items = append(items, *item)
		if filter.Limit > 0 && len(items) == filter.Limit {
			break
		}
	}
	return items, rows.Err()
}

func matchesTaxonomy(item *domain.ContentItem, filter store.QueryFilter) bool {
	if filter.Taxonomy == "" || len(filter.Terms) == 0 {
		return true
	}
	for _, term := range filter.Terms {
		if item.HasTerm(filter.Taxonomy, term) {
			return true
		}
	}
	return false
}

func (r *ContentRepository) execExpectOneRow(ctx context.Context, query string, args ...any) error {
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

func encodeContentFields(item *domain.ContentItem) (terms, meta []byte, err error) {
	terms, err = json.Marshal(item.Terms)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal terms: %w", err)
	}
	meta, err = json.Marshal(item.Meta)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal meta: %w", err)
	}
	return terms, meta, nil
}

func scanContentItem(row rowScanner) (*domain.ContentItem, error) {
	var item domain.ContentItem
	var terms, meta []byte

	err := row.Scan(
		&item.ID, &item.SiteID, &item.Type, &item.Slug, &item.Title,
		&item.Status, &item.Body, &item.ParentID, &terms,
		&item.PublishedAt, &item.CreatedAt, &meta,
	)
	if err != nil {
		return nil, err
	}

	if len(terms) > 0 {
		if err := json.Unmarshal(terms, &item.Terms); err != nil {
			return nil, fmt.Errorf("unmarshal terms: %w", err)
		}
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &item.Meta); err != nil {
			return nil, fmt.Errorf("unmarshal meta: %w", err)
		}
	}
	return &item, nil
}
