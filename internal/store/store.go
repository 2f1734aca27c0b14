// Package store abstracts the external content store the engine operates on.
// The engine never owns content; it reads, annotates and writes items through
// this interface, scoped to one site at a time.
package store

import (
	"context"
	"time"

	"github.com/northpress/syndicate/internal/domain"
)

// QueryFilter selects items from one site's content store.
type QueryFilter struct {
	Type     string
	Statuses []string
	Taxonomy string
	Terms    []string
	Since    time.Time // zero means unbounded
	Until    time.Time // zero means unbounded
	Limit    int       // 0 means unlimited, ordered newest first
}

// ContentStore is the engine's view of one network's content store. All
// operations act on the site selected by siteID; implementations must not
// leak state between sites.
type ContentStore interface {
	// Get returns one item. Returns domain.ErrNotFound when absent.
	Get(ctx context.Context, siteID, itemID int64) (*domain.ContentItem, error)

	// GetBySlug returns the item with the given slug and type, for conflict
	// detection during import. Returns domain.ErrNotFound when absent.
	GetBySlug(ctx context.Context, siteID int64, contentType, slug string) (*domain.ContentItem, error)

	// Create inserts a new item and returns it with its assigned ID.
	Create(ctx context.Context, siteID int64, item *domain.ContentItem) (*domain.ContentItem, error)

	// Update overwrites an existing item. Returns domain.ErrNotFound when
	// absent.
	Update(ctx context.Context, siteID int64, item *domain.ContentItem) error

	// Delete removes an item. Returns domain.ErrNotFound when absent.
	Delete(ctx context.Context, siteID, itemID int64) error

	// SetMeta writes one meta key on an item without touching the rest of
	// the item.
	SetMeta(ctx context.Context, siteID, itemID int64, key, value string) error

	// Query returns items matching the filter, newest first.
	Query(ctx context.Context, siteID int64, filter QueryFilter) ([]domain.ContentItem, error)
}
