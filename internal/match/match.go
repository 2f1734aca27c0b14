// Package match evaluates content conditions against items in the content
// store, in both directions: items for a condition and conditions for an item.
package match

import (
	"context"
	"fmt"
	"time"

	"github.com/northpress/syndicate/internal/domain"
	"github.com/northpress/syndicate/internal/store"
)

// Matcher evaluates content conditions.
type Matcher struct {
	store store.ContentStore
	now   func() time.Time
}

// NewMatcher creates a matcher. now is injectable for tests; pass nil for
// wall-clock time.
func NewMatcher(contentStore store.ContentStore, now func() time.Time) *Matcher {
	if now == nil {
		now = time.Now
	}
	return &Matcher{store: contentStore, now: now}
}

// dateWindow translates a condition's date filter into an inclusive
// [since, until] window. Zero times mean unbounded.
func (m *Matcher) dateWindow(filter domain.ConditionFilter) (since, until time.Time) {
	switch filter.DateMode {
	case domain.DateModeStatic:
		return filter.Since, time.Time{}
	case domain.DateModeStaticRange:
		return filter.Since, filter.Until
	case domain.DateModeDynamic:
		return filter.DynamicUnit.WindowStart(m.now(), filter.DynamicCount), time.Time{}
	default:
		return time.Time{}, time.Time{}
	}
}

// PostsMatching returns all items on the condition's source site satisfying
// its type, taxonomy, date and count filters, ordered newest first.
func (m *Matcher) PostsMatching(ctx context.Context, cond domain.ContentCondition) ([]domain.ContentItem, error) {
	since, until := m.dateWindow(cond.Filter)

	items, err := m.store.Query(ctx, cond.SourceSiteID, store.QueryFilter{
		Type:     cond.ContentType,
		Statuses: []string{domain.ItemStatusPublish},
		Taxonomy: cond.Taxonomy,
		Terms:    cond.Terms,
		Since:    since,
		Until:    until,
	})
	if err != nil {
		return nil, fmt.Errorf("query condition candidates: %w", err)
	}

	SortItems(items, SortPublishedDesc)
	if cond.Filter.Count > 0 && len(items) > cond.Filter.Count {
		items = items[:cond.Filter.Count]
	}
	return items, nil
}

// Matches reports whether one item satisfies a condition. Count filters rank
// the item against the condition's full candidate set, so a count-limited
// condition costs a set query.
func (m *Matcher) Matches(ctx context.Context, item *domain.ContentItem, cond domain.ContentCondition) (bool, error) {
	if item.SiteID != cond.SourceSiteID {
		return false, nil
	}
	if item.Type != cond.ContentType {
		return false, nil
	}
	if cond.Taxonomy != "" && len(cond.Terms) > 0 {
		found := false
		for _, term := range cond.Terms {
			if item.HasTerm(cond.Taxonomy, term) {
				found = true
				break
			}
		}
		if !found {
			return false, nil
		}
	}

	since, until := m.dateWindow(cond.Filter)
	if !since.IsZero() && item.PublishedAt < since.Unix() {
		return false, nil
	}
	if !until.IsZero() && item.PublishedAt > until.Unix() {
		return false, nil
	}

	if cond.Filter.Count > 0 {
		candidates, err := m.PostsMatching(ctx, cond)
		if err != nil {
			return false, err
		}
		for _, candidate := range candidates {
			if candidate.ID == item.ID {
				return true, nil
			}
		}
		return false, nil
	}
	return true, nil
}

// ConditionsMatching filters the given conditions down to those the item
// satisfies, answering "which clusters does this item belong to."
func (m *Matcher) ConditionsMatching(ctx context.Context, item *domain.ContentItem, conditions []domain.ContentCondition) ([]domain.ContentCondition, error) {
	matched := make([]domain.ContentCondition, 0, len(conditions))
	for _, cond := range conditions {
		ok, err := m.Matches(ctx, item, cond)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, cond)
		}
	}
	return matched, nil
}
