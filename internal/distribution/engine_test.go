package distribution

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northpress/syndicate/internal/domain"
	"github.com/northpress/syndicate/internal/logger"
	"github.com/northpress/syndicate/internal/merge"
	"github.com/northpress/syndicate/internal/metrics"
	"github.com/northpress/syndicate/internal/store"
)

type fakeQueue struct {
	enqueued []*domain.DistributionItem
	finished map[string]domain.DistributionStatus
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{finished: make(map[string]domain.DistributionStatus)}
}

func (q *fakeQueue) Enqueue(_ context.Context, item *domain.DistributionItem) error {
	q.enqueued = append(q.enqueued, item)
	return nil
}

func (q *fakeQueue) MarkFinished(_ context.Context, id string, status domain.DistributionStatus, _ domain.Destination, _ string) error {
	q.finished[id] = status
	return nil
}

type fakeDestSource struct {
	destinations []domain.Destination
}

func (s *fakeDestSource) DestinationsForItem(context.Context, *domain.ContentItem) ([]domain.Destination, error) {
	return s.destinations, nil
}

type passthroughSubstituter struct{}

func (passthroughSubstituter) SubstituteForExport(_ context.Context, items []domain.PreparedItem) ([]domain.PreparedItem, error) {
	return items, nil
}

type dropAllSubstituter struct{}

func (dropAllSubstituter) SubstituteForExport(context.Context, []domain.PreparedItem) ([]domain.PreparedItem, error) {
	return nil, nil
}

type fakeRemote struct {
	results map[int64][]domain.DeliveryResult
	err     error
	calls   int
}

func (r *fakeRemote) DeliverBatch(_ context.Context, _ string, subSiteID int64, _ domain.ImportAction, _ []domain.PreparedItem) ([]domain.DeliveryResult, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return r.results[subSiteID], nil
}

type engineFixture struct {
	engine  *Engine
	queue   *fakeQueue
	content *store.MemoryStore
	remote  *fakeRemote
	dests   *fakeDestSource
}

func newEngineFixture(sub Substituter) *engineFixture {
	queue := newFakeQueue()
	content := store.NewMemoryStore()
	remote := &fakeRemote{results: make(map[int64][]domain.DeliveryResult)}
	dests := &fakeDestSource{}
	if sub == nil {
		sub = passthroughSubstituter{}
	}

	engine := NewEngine(queue, dests, content, merge.NewMerger(content), remote, sub,
		metrics.NewNop(), nil, "home.example.com", logger.NewNopLogger())
	return &engineFixture{engine: engine, queue: queue, content: content, remote: remote, dests: dests}
}

func TestDistributeEnqueuesPerDestination(t *testing.T) {
	fx := newEngineFixture(nil)
	ctx := context.Background()

	item, err := fx.content.Create(ctx, 5, &domain.ContentItem{
		Type: "post", Slug: "story", Status: domain.ItemStatusPublish,
	})
	require.NoError(t, err)

	fx.dests.destinations = []domain.Destination{
		domain.SiteDestination{SiteID: 7},
		domain.NetworkDestination{Network: "other.example.com", SubSites: []int64{1, 2}, ImportAction: domain.ImportActionInsert},
	}

	require.NoError(t, fx.engine.Distribute(ctx, item))
	require.Len(t, fx.queue.enqueued, 2)

	first := fx.queue.enqueued[0]
	assert.Equal(t, domain.DistributionStatusInit, first.Status)
	require.Len(t, first.Items, 1)
	// The enqueued copy carries the stamped global ID.
	assert.Equal(t, fmt.Sprintf("5-%d", item.ID), first.Items[0].Item.MetaValue(domain.MetaGlobalID))
}

func TestDistributeHeldItemEnqueuesNothing(t *testing.T) {
	fx := newEngineFixture(dropAllSubstituter{})
	ctx := context.Background()

	item, err := fx.content.Create(ctx, 5, &domain.ContentItem{
		Type: "post", Slug: "held", Status: domain.ItemStatusPublish,
	})
	require.NoError(t, err)

	fx.dests.destinations = []domain.Destination{domain.SiteDestination{SiteID: 7}}

	require.NoError(t, fx.engine.Distribute(ctx, item))
	assert.Empty(t, fx.queue.enqueued)
}

func TestExecuteSiteDestination(t *testing.T) {
	fx := newEngineFixture(nil)
	ctx := context.Background()

	root, err := fx.content.Create(ctx, 5, &domain.ContentItem{
		Type: "post", Slug: "story", Title: "Root", Status: domain.ItemStatusPublish,
	})
	require.NoError(t, err)

	prepared, err := fx.engine.Prepare(ctx, root)
	require.NoError(t, err)

	job, err := domain.NewDistributionItem([]domain.PreparedItem{prepared},
		domain.SiteDestination{SiteID: 7}, "", "")
	require.NoError(t, err)

	status, err := fx.engine.Execute(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, domain.DistributionStatusSuccess, status)
	assert.Equal(t, domain.DistributionStatusSuccess, fx.queue.finished[job.ID.String()])

	// A linked copy exists on the destination site.
	copies, err := fx.content.Query(ctx, 7, store.QueryFilter{Type: "post"})
	require.NoError(t, err)
	require.Len(t, copies, 1)
	assert.Equal(t, string(domain.SyncStatusLinked), copies[0].MetaValue(domain.MetaSyncStatus))

	gid, err := copies[0].GlobalID()
	require.NoError(t, err)
	assert.Equal(t, domain.GlobalID{SiteID: 5, ItemID: root.ID}, gid)

	// The root's connection map gained the destination key.
	updatedRoot, err := fx.content.Get(ctx, 5, root.ID)
	require.NoError(t, err)
	connMap, err := domain.DecodeConnectionMap(updatedRoot.MetaValue(domain.MetaConnectionMap))
	require.NoError(t, err)
	entry, ok := connMap["7"]
	require.True(t, ok)
	assert.Equal(t, copies[0].ID, entry.LocalItemID)
}

func TestExecuteSiteDestinationIsIdempotentByGlobalID(t *testing.T) {
	fx := newEngineFixture(nil)
	ctx := context.Background()

	root, err := fx.content.Create(ctx, 5, &domain.ContentItem{
		Type: "post", Slug: "story", Title: "v1", Status: domain.ItemStatusPublish,
	})
	require.NoError(t, err)

	run := func(title string) {
		root.Title = title
		require.NoError(t, fx.content.Update(ctx, 5, root))
		prepared, prepErr := fx.engine.Prepare(ctx, root)
		require.NoError(t, prepErr)
		job, jobErr := domain.NewDistributionItem([]domain.PreparedItem{prepared},
			domain.SiteDestination{SiteID: 7}, "", "")
		require.NoError(t, jobErr)
		_, execErr := fx.engine.Execute(ctx, job)
		require.NoError(t, execErr)
	}

	run("v1")
	run("v2")

	// The second delivery replaced the linked copy instead of duplicating it.
	copies, err := fx.content.Query(ctx, 7, store.QueryFilter{Type: "post"})
	require.NoError(t, err)
	require.Len(t, copies, 1)
	assert.Equal(t, "v2", copies[0].Title)
}

func TestExecuteNetworkDestination(t *testing.T) {
	fx := newEngineFixture(nil)
	ctx := context.Background()

	root, err := fx.content.Create(ctx, 5, &domain.ContentItem{
		Type: "post", Slug: "story", Status: domain.ItemStatusPublish,
	})
	require.NoError(t, err)

	prepared, err := fx.engine.Prepare(ctx, root)
	require.NoError(t, err)

	fx.remote.results[1] = []domain.DeliveryResult{
		{SiteID: 1, ItemID: root.ID, State: domain.DeliveryStateApplied, LocalItemID: 11, DisplayURL: "https://other/1"},
	}
	fx.remote.results[2] = []domain.DeliveryResult{
		{SiteID: 2, ItemID: root.ID, State: domain.DeliveryStateFailed, Error: "boom"},
	}

	job, err := domain.NewDistributionItem([]domain.PreparedItem{prepared},
		domain.NetworkDestination{Network: "other.example.com", SubSites: []int64{1, 2}, ImportAction: domain.ImportActionInsert}, "", "")
	require.NoError(t, err)

	status, err := fx.engine.Execute(ctx, job)
	assert.ErrorIs(t, err, domain.ErrDistributionFailed)
	assert.Equal(t, domain.DistributionStatusPartial, status)
	assert.Equal(t, 2, fx.remote.calls)

	// The applied sub-site landed in the connection map under the network key.
	updatedRoot, err := fx.content.Get(ctx, 5, root.ID)
	require.NoError(t, err)
	connMap, err := domain.DecodeConnectionMap(updatedRoot.MetaValue(domain.MetaConnectionMap))
	require.NoError(t, err)
	entry, ok := connMap["other.example.com|1"]
	require.True(t, ok)
	assert.Equal(t, int64(11), entry.LocalItemID)
	_, ok = connMap["other.example.com|2"]
	assert.False(t, ok)
}

func TestExecuteNetworkAllFailed(t *testing.T) {
	fx := newEngineFixture(nil)
	ctx := context.Background()

	root, err := fx.content.Create(ctx, 5, &domain.ContentItem{
		Type: "post", Slug: "story", Status: domain.ItemStatusPublish,
	})
	require.NoError(t, err)

	prepared, err := fx.engine.Prepare(ctx, root)
	require.NoError(t, err)
	fx.remote.err = errors.New("connection refused")

	job, err := domain.NewDistributionItem([]domain.PreparedItem{prepared},
		domain.NetworkDestination{Network: "down.example.com", SubSites: []int64{1}, ImportAction: domain.ImportActionInsert}, "", "")
	require.NoError(t, err)

	status, err := fx.engine.Execute(ctx, job)
	assert.ErrorIs(t, err, domain.ErrDistributionFailed)
	assert.Equal(t, domain.DistributionStatusFailed, status)
	assert.Equal(t, domain.DistributionStatusFailed, fx.queue.finished[job.ID.String()])
}

func TestPropagateTrash(t *testing.T) {
	fx := newEngineFixture(nil)
	ctx := context.Background()

	linked, err := fx.content.Create(ctx, 7, &domain.ContentItem{
		Type: "post", Slug: "copy", Status: domain.ItemStatusPublish,
	})
	require.NoError(t, err)

	connMap := domain.ConnectionMap{}
	connMap["7"] = domain.ConnectionEntry{LocalItemID: linked.ID}
	connMap["other.example.com|3"] = domain.ConnectionEntry{LocalItemID: 99}
	encoded, err := domain.EncodeConnectionMap(connMap)
	require.NoError(t, err)

	root := &domain.ContentItem{Type: "post", Slug: "story", Status: domain.ItemStatusTrash}
	root.SetMeta(domain.MetaConnectionMap, encoded)
	root, err = fx.content.Create(ctx, 5, root)
	require.NoError(t, err)

	require.NoError(t, fx.engine.Propagate(ctx, 5, root.ID, domain.ImportActionTrash))

	// Local copy trashed directly.
	got, err := fx.content.Get(ctx, 7, linked.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ItemStatusTrash, got.Status)

	// Remote copy gets a queued network delivery carrying the action.
	require.Len(t, fx.queue.enqueued, 1)
	dest, ok := fx.queue.enqueued[0].Destination.(domain.NetworkDestination)
	require.True(t, ok)
	assert.Equal(t, "other.example.com", dest.Network)
	assert.Equal(t, []int64{3}, dest.SubSites)
	assert.Equal(t, domain.ImportActionTrash, dest.ImportAction)
}

func TestPropagateDeleteRemovesLocalCopy(t *testing.T) {
	fx := newEngineFixture(nil)
	ctx := context.Background()

	linked, err := fx.content.Create(ctx, 7, &domain.ContentItem{
		Type: "post", Slug: "copy", Status: domain.ItemStatusPublish,
	})
	require.NoError(t, err)

	encoded, err := domain.EncodeConnectionMap(domain.ConnectionMap{"7": {LocalItemID: linked.ID}})
	require.NoError(t, err)

	root := &domain.ContentItem{Type: "post", Slug: "story"}
	root.SetMeta(domain.MetaConnectionMap, encoded)
	root, err = fx.content.Create(ctx, 5, root)
	require.NoError(t, err)

	require.NoError(t, fx.engine.Propagate(ctx, 5, root.ID, domain.ImportActionDelete))

	_, err = fx.content.Get(ctx, 7, linked.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
