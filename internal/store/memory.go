package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/northpress/syndicate/internal/domain"
)

// MemoryStore is an in-memory ContentStore. It backs tests and the inbound
// delivery path of installations that have no store of their own yet.
type MemoryStore struct {
	mu     sync.RWMutex
	sites  map[int64]map[int64]*domain.ContentItem
	nextID int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sites:  make(map[int64]map[int64]*domain.ContentItem),
		nextID: 1,
	}
}

// site returns the item map for a site, creating it on first use.
// Callers must hold the write lock.
func (s *MemoryStore) site(siteID int64) map[int64]*domain.ContentItem {
	items, ok := s.sites[siteID]
	if !ok {
		items = make(map[int64]*domain.ContentItem)
		s.sites[siteID] = items
	}
	return items
}

func copyItem(item *domain.ContentItem) *domain.ContentItem {
	clone := *item
	clone.Meta = append([]domain.MetaEntry(nil), item.Meta...)
	if item.Terms != nil {
		clone.Terms = make(map[string][]string, len(item.Terms))
		for tax, terms := range item.Terms {
			clone.Terms[tax] = append([]string(nil), terms...)
		}
	}
	return &clone
}

// Get returns one item.
func (s *MemoryStore) Get(_ context.Context, siteID, itemID int64) (*domain.ContentItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.sites[siteID][itemID]
	if !ok {
		return nil, fmt.Errorf("%w: item %d on site %d", domain.ErrNotFound, itemID, siteID)
	}
	return copyItem(item), nil
}

// GetBySlug returns the item with the given slug and type.
func (s *MemoryStore) GetBySlug(_ context.Context, siteID int64, contentType, slug string) (*domain.ContentItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, item := range s.sites[siteID] {
		if item.Type == contentType && item.Slug == slug {
			return copyItem(item), nil
		}
	}
	return nil, fmt.Errorf("%w: slug %q on site %d", domain.ErrNotFound, slug, siteID)
}

// Create inserts a new item and assigns it an ID.
func (s *MemoryStore) Create(_ context.Context, siteID int64, item *domain.ContentItem) (*domain.ContentItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := copyItem(item)
	clone.ID = s.nextID
	clone.SiteID = siteID
	s.nextID++

	s.site(siteID)[clone.ID] = clone
	return copyItem(clone), nil
}

// Update overwrites an existing item.
func (s *MemoryStore) Update(_ context.Context, siteID int64, item *domain.ContentItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := s.site(siteID)
	if _, ok := items[item.ID]; !ok {
		return fmt.Errorf("%w: item %d on site %d", domain.ErrNotFound, item.ID, siteID)
	}
	clone := copyItem(item)
	clone.SiteID = siteID
	items[item.ID] = clone
	return nil
}

// Delete removes an item.
func (s *MemoryStore) Delete(_ context.Context, siteID, itemID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := s.site(siteID)
	if _, ok := items[itemID]; !ok {
		return fmt.Errorf("%w: item %d on site %d", domain.ErrNotFound, itemID, siteID)
	}
	delete(items, itemID)
	return nil
}

// SetMeta writes one meta key on an item.
func (s *MemoryStore) SetMeta(_ context.Context, siteID, itemID int64, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.site(siteID)[itemID]
	if !ok {
		return fmt.Errorf("%w: item %d on site %d", domain.ErrNotFound, itemID, siteID)
	}
	item.SetMeta(key, value)
	return nil
}

// Query returns items matching the filter, newest first.
func (s *MemoryStore) Query(_ context.Context, siteID int64, filter QueryFilter) ([]domain.ContentItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]domain.ContentItem, 0)
	for _, item := range s.sites[siteID] {
		if !matches(item, filter) {
			continue
		}
		matched = append(matched, *copyItem(item))
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].PublishedAt != matched[j].PublishedAt {
			return matched[i].PublishedAt > matched[j].PublishedAt
		}
		return matched[i].ID > matched[j].ID
	})

	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func matches(item *domain.ContentItem, filter QueryFilter) bool {
	if filter.Type != "" && item.Type != filter.Type {
		return false
	}
	if len(filter.Statuses) > 0 {
		found := false
		for _, status := range filter.Statuses {
			if item.Status == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.Taxonomy != "" && len(filter.Terms) > 0 {
		found := false
		for _, term := range filter.Terms {
			if item.HasTerm(filter.Taxonomy, term) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !filter.Since.IsZero() && item.PublishedAt < filter.Since.Unix() {
		return false
	}
	if !filter.Until.IsZero() && item.PublishedAt > filter.Until.Unix() {
		return false
	}
	return true
}
