package match

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northpress/syndicate/internal/domain"
	"github.com/northpress/syndicate/internal/store"
)

var fixedNow = time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

func seedStore(t *testing.T) (*store.MemoryStore, map[string]int64) {
	t.Helper()

	s := store.NewMemoryStore()
	ctx := context.Background()
	ids := make(map[string]int64)

	items := []domain.ContentItem{
		{Type: "post", Slug: "fresh-news", Status: domain.ItemStatusPublish,
			PublishedAt: fixedNow.Add(-24 * time.Hour).Unix(),
			Terms:       map[string][]string{"category": {"news"}}},
		{Type: "post", Slug: "old-news", Status: domain.ItemStatusPublish,
			PublishedAt: fixedNow.Add(-30 * 24 * time.Hour).Unix(),
			Terms:       map[string][]string{"category": {"news"}}},
		{Type: "post", Slug: "fresh-sports", Status: domain.ItemStatusPublish,
			PublishedAt: fixedNow.Add(-2 * time.Hour).Unix(),
			Terms:       map[string][]string{"category": {"sports"}}},
		{Type: "page", Slug: "about", Status: domain.ItemStatusPublish,
			PublishedAt: fixedNow.Add(-time.Hour).Unix()},
	}
	for i := range items {
		created, err := s.Create(ctx, 5, &items[i])
		require.NoError(t, err)
		ids[items[i].Slug] = created.ID
	}
	return s, ids
}

func TestPostsMatching(t *testing.T) {
	s, ids := seedStore(t)
	m := NewMatcher(s, func() time.Time { return fixedNow })
	ctx := context.Background()

	t.Run("type and taxonomy", func(t *testing.T) {
		items, err := m.PostsMatching(ctx, domain.ContentCondition{
			SourceSiteID: 5,
			ContentType:  "post",
			Taxonomy:     "category",
			Terms:        []string{"news"},
		})
		require.NoError(t, err)
		assert.Len(t, items, 2)
	})

	t.Run("dynamic window last 7 days", func(t *testing.T) {
		items, err := m.PostsMatching(ctx, domain.ContentCondition{
			SourceSiteID: 5,
			ContentType:  "post",
			Filter: domain.ConditionFilter{
				DateMode:     domain.DateModeDynamic,
				DynamicCount: 7,
				DynamicUnit:  domain.DynamicUnitDay,
			},
		})
		require.NoError(t, err)
		require.Len(t, items, 2)
		// Newest first.
		assert.Equal(t, ids["fresh-sports"], items[0].ID)
		assert.Equal(t, ids["fresh-news"], items[1].ID)
	})

	t.Run("static range", func(t *testing.T) {
		items, err := m.PostsMatching(ctx, domain.ContentCondition{
			SourceSiteID: 5,
			ContentType:  "post",
			Filter: domain.ConditionFilter{
				DateMode: domain.DateModeStaticRange,
				Since:    fixedNow.Add(-40 * 24 * time.Hour),
				Until:    fixedNow.Add(-20 * 24 * time.Hour),
			},
		})
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, ids["old-news"], items[0].ID)
	})

	t.Run("count keeps top-N by recency", func(t *testing.T) {
		items, err := m.PostsMatching(ctx, domain.ContentCondition{
			SourceSiteID: 5,
			ContentType:  "post",
			Filter:       domain.ConditionFilter{Count: 1},
		})
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, ids["fresh-sports"], items[0].ID)
	})
}

func TestMatches(t *testing.T) {
	s, ids := seedStore(t)
	m := NewMatcher(s, func() time.Time { return fixedNow })
	ctx := context.Background()

	fresh, err := s.Get(ctx, 5, ids["fresh-news"])
	require.NoError(t, err)
	old, err := s.Get(ctx, 5, ids["old-news"])
	require.NoError(t, err)

	newsCondition := domain.ContentCondition{
		SourceSiteID: 5,
		ContentType:  "post",
		Taxonomy:     "category",
		Terms:        []string{"news"},
	}

	t.Run("taxonomy match", func(t *testing.T) {
		ok, err := m.Matches(ctx, fresh, newsCondition)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("wrong site", func(t *testing.T) {
		other := *fresh
		other.SiteID = 9
		ok, err := m.Matches(ctx, &other, newsCondition)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("date window excludes old item", func(t *testing.T) {
		cond := newsCondition
		cond.Filter = domain.ConditionFilter{
			DateMode:     domain.DateModeDynamic,
			DynamicCount: 1,
			DynamicUnit:  domain.DynamicUnitWeek,
		}

		ok, err := m.Matches(ctx, fresh, cond)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = m.Matches(ctx, old, cond)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("count filter ranks against candidate set", func(t *testing.T) {
		cond := domain.ContentCondition{
			SourceSiteID: 5,
			ContentType:  "post",
			Filter:       domain.ConditionFilter{Count: 1},
		}

		// fresh-news is not in the top-1 by recency; fresh-sports is.
		ok, err := m.Matches(ctx, fresh, cond)
		require.NoError(t, err)
		assert.False(t, ok)

		sports, err := s.Get(ctx, 5, ids["fresh-sports"])
		require.NoError(t, err)
		ok, err = m.Matches(ctx, sports, cond)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestConditionsMatching(t *testing.T) {
	s, ids := seedStore(t)
	m := NewMatcher(s, func() time.Time { return fixedNow })
	ctx := context.Background()

	item, err := s.Get(ctx, 5, ids["fresh-news"])
	require.NoError(t, err)

	conditions := []domain.ContentCondition{
		{SourceSiteID: 5, ContentType: "post", Taxonomy: "category", Terms: []string{"news"}},
		{SourceSiteID: 5, ContentType: "post", Taxonomy: "category", Terms: []string{"sports"}},
		{SourceSiteID: 5, ContentType: "page"},
	}

	matched, err := m.ConditionsMatching(ctx, item, conditions)
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, []string{"news"}, matched[0].Terms)
}

func TestSortItems(t *testing.T) {
	items := []domain.ContentItem{
		{ID: 1, Title: "b", PublishedAt: 10, CreatedAt: 5},
		{ID: 2, Title: "a", PublishedAt: 30, CreatedAt: 1},
		{ID: 3, Title: "c", PublishedAt: 20, CreatedAt: 9},
	}

	tests := []struct {
		name string
		key  SortKey
		want []int64
	}{
		{name: "published desc", key: SortPublishedDesc, want: []int64{2, 3, 1}},
		{name: "published asc", key: SortPublishedAsc, want: []int64{1, 3, 2}},
		{name: "created desc", key: SortCreatedDesc, want: []int64{3, 1, 2}},
		{name: "title asc", key: SortTitleAsc, want: []int64{2, 1, 3}},
		{name: "unknown key falls back to published desc", key: SortKey("bogus"), want: []int64{2, 3, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sorted := append([]domain.ContentItem(nil), items...)
			SortItems(sorted, tt.key)

			got := make([]int64, len(sorted))
			for i, item := range sorted {
				got[i] = item.ID
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
