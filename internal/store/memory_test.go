package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northpress/syndicate/internal/domain"
)

func TestMemoryStoreCRUD(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	created, err := s.Create(ctx, 1, &domain.ContentItem{
		Type:   "post",
		Slug:   "hello-world",
		Title:  "Hello World",
		Status: domain.ItemStatusPublish,
	})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Equal(t, int64(1), created.SiteID)

	got, err := s.Get(ctx, 1, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello-world", got.Slug)

	// Items are scoped per site.
	_, err = s.Get(ctx, 2, created.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	got.Title = "Updated"
	require.NoError(t, s.Update(ctx, 1, got))

	bySlug, err := s.GetBySlug(ctx, 1, "post", "hello-world")
	require.NoError(t, err)
	assert.Equal(t, "Updated", bySlug.Title)

	require.NoError(t, s.Delete(ctx, 1, created.ID))
	_, err = s.Get(ctx, 1, created.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryStoreSetMeta(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	created, err := s.Create(ctx, 1, &domain.ContentItem{Type: "post", Slug: "a"})
	require.NoError(t, err)

	require.NoError(t, s.SetMeta(ctx, 1, created.ID, domain.MetaSyncStatus, string(domain.SyncStatusRoot)))

	got, err := s.Get(ctx, 1, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusRoot, got.SyncStatus())

	assert.ErrorIs(t, s.SetMeta(ctx, 1, 999, "k", "v"), domain.ErrNotFound)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	created, err := s.Create(ctx, 1, &domain.ContentItem{Type: "post", Slug: "a", Title: "original"})
	require.NoError(t, err)

	got, err := s.Get(ctx, 1, created.ID)
	require.NoError(t, err)
	got.Title = "mutated"
	got.SetMeta("k", "v")

	again, err := s.Get(ctx, 1, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "original", again.Title)
	assert.Empty(t, again.MetaValue("k"))
}

func TestMemoryStoreQuery(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().Unix()

	seed := []domain.ContentItem{
		{Type: "post", Slug: "old", Status: domain.ItemStatusPublish, PublishedAt: now - 3600,
			Terms: map[string][]string{"category": {"news"}}},
		{Type: "post", Slug: "new", Status: domain.ItemStatusPublish, PublishedAt: now,
			Terms: map[string][]string{"category": {"sports"}}},
		{Type: "post", Slug: "draft", Status: domain.ItemStatusDraft, PublishedAt: now},
		{Type: "page", Slug: "about", Status: domain.ItemStatusPublish, PublishedAt: now},
	}
	for i := range seed {
		_, err := s.Create(ctx, 1, &seed[i])
		require.NoError(t, err)
	}

	t.Run("by type and status", func(t *testing.T) {
		items, err := s.Query(ctx, 1, QueryFilter{Type: "post", Statuses: []string{domain.ItemStatusPublish}})
		require.NoError(t, err)
		assert.Len(t, items, 2)
		// Newest first.
		assert.Equal(t, "new", items[0].Slug)
	})

	t.Run("by taxonomy term", func(t *testing.T) {
		items, err := s.Query(ctx, 1, QueryFilter{Type: "post", Taxonomy: "category", Terms: []string{"news"}})
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, "old", items[0].Slug)
	})

	t.Run("since cutoff", func(t *testing.T) {
		items, err := s.Query(ctx, 1, QueryFilter{Type: "post", Since: time.Unix(now-60, 0)})
		require.NoError(t, err)
		assert.Len(t, items, 2)
	})

	t.Run("limit", func(t *testing.T) {
		items, err := s.Query(ctx, 1, QueryFilter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, items, 1)
	})
}
