package match

import (
	"sort"

	"github.com/northpress/syndicate/internal/domain"
)

// SortKey names an ordering over content items. The closed set maps to
// comparator functions below; unknown keys fall back to SortPublishedDesc.
type SortKey string

const (
	SortPublishedDesc SortKey = "published_desc"
	SortPublishedAsc  SortKey = "published_asc"
	SortCreatedDesc   SortKey = "created_desc"
	SortCreatedAsc    SortKey = "created_asc"
	SortTitleAsc      SortKey = "title_asc"
	SortTitleDesc     SortKey = "title_desc"
)

type comparator func(a, b domain.ContentItem) bool

var comparators = map[SortKey]comparator{
	SortPublishedDesc: func(a, b domain.ContentItem) bool { return a.PublishedAt > b.PublishedAt },
	SortPublishedAsc:  func(a, b domain.ContentItem) bool { return a.PublishedAt < b.PublishedAt },
	SortCreatedDesc:   func(a, b domain.ContentItem) bool { return a.CreatedAt > b.CreatedAt },
	SortCreatedAsc:    func(a, b domain.ContentItem) bool { return a.CreatedAt < b.CreatedAt },
	SortTitleAsc:      func(a, b domain.ContentItem) bool { return a.Title < b.Title },
	SortTitleDesc:     func(a, b domain.ContentItem) bool { return a.Title > b.Title },
}

// SortItems orders items in place by the given key. Ties break on item ID so
// the ordering is stable across runs.
func SortItems(items []domain.ContentItem, key SortKey) {
	less, ok := comparators[key]
	if !ok {
		less = comparators[SortPublishedDesc]
	}
	sort.SliceStable(items, func(i, j int) bool {
		if less(items[i], items[j]) {
			return true
		}
		if less(items[j], items[i]) {
			return false
		}
		return items[i].ID < items[j].ID
	})
}
