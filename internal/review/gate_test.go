package review

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northpress/syndicate/internal/domain"
	"github.com/northpress/syndicate/internal/logger"
	"github.com/northpress/syndicate/internal/merge"
	"github.com/northpress/syndicate/internal/notify"
	"github.com/northpress/syndicate/internal/store"
)

type memoryReviews struct {
	mu      sync.Mutex
	reviews map[string]*domain.PostReview
}

func newMemoryReviews() *memoryReviews {
	return &memoryReviews{reviews: make(map[string]*domain.PostReview)}
}

func (m *memoryReviews) Create(_ context.Context, review *domain.PostReview) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *review
	m.reviews[review.ID.String()] = &copied
	return nil
}

func (m *memoryReviews) Update(_ context.Context, review *domain.PostReview) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reviews[review.ID.String()]; !ok {
		return fmt.Errorf("%w: review %s", domain.ErrNotFound, review.ID)
	}
	copied := *review
	m.reviews[review.ID.String()] = &copied
	return nil
}

func (m *memoryReviews) GetByID(_ context.Context, id string) (*domain.PostReview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	review, ok := m.reviews[id]
	if !ok {
		return nil, fmt.Errorf("%w: review %s", domain.ErrNotFound, id)
	}
	copied := *review
	return &copied, nil
}

func (m *memoryReviews) GetActiveByItem(_ context.Context, siteID, itemID int64) (*domain.PostReview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, review := range m.reviews {
		if review.SiteID == siteID && review.ItemID == itemID && review.State.Active() {
			copied := *review
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("%w: no active review for item %d", domain.ErrNotFound, itemID)
}

type fakeDistributor struct {
	distributed []*domain.ContentItem
	propagated  []domain.ImportAction
	failWith    error
}

func (d *fakeDistributor) Distribute(_ context.Context, item *domain.ContentItem) error {
	if d.failWith != nil {
		return d.failWith
	}
	d.distributed = append(d.distributed, item)
	return nil
}

func (d *fakeDistributor) Propagate(_ context.Context, _, _ int64, action domain.ImportAction) error {
	if d.failWith != nil {
		return d.failWith
	}
	d.propagated = append(d.propagated, action)
	return nil
}

type recordingNotifier struct {
	subjects []string
}

func (n *recordingNotifier) Notify(_ context.Context, _ []string, subject, _ string) error {
	n.subjects = append(n.subjects, subject)
	return nil
}

type gateFixture struct {
	gate        *Gate
	reviews     *memoryReviews
	content     *store.MemoryStore
	distributor *fakeDistributor
	notifier    *recordingNotifier
}

func newGateFixture() *gateFixture {
	reviews := newMemoryReviews()
	content := store.NewMemoryStore()
	distributor := &fakeDistributor{}
	notifier := &recordingNotifier{}
	directory := StaticDirectory{1: "editor@example.com", 9: "reviewer@example.com"}

	gate := NewGate(reviews, content, merge.NewMerger(content), distributor,
		notifier, directory, logger.NewNopLogger())
	return &gateFixture{
		gate:        gate,
		reviews:     reviews,
		content:     content,
		distributor: distributor,
		notifier:    notifier,
	}
}

func TestCreateOrUpdateFirstReview(t *testing.T) {
	fx := newGateFixture()
	ctx := context.Background()

	item, err := fx.content.Create(ctx, 5, &domain.ContentItem{
		Type: "post", Slug: "draft", Title: "Edited", Status: domain.ItemStatusPublish,
	})
	require.NoError(t, err)

	before := &domain.ContentItem{Title: "Original"}
	review, err := fx.gate.CreateOrUpdate(ctx, 5, item.ID, 1, before, []int64{9})
	require.NoError(t, err)

	// No connection map: the item was never distributed.
	assert.Equal(t, domain.ReviewStateNew, review.State)
	require.NotNil(t, review.PreviousSnapshot)
	// The caller-supplied before-state wins; live fields only fill gaps.
	assert.Equal(t, "Original", review.PreviousSnapshot.Title)
	assert.Equal(t, "draft", review.PreviousSnapshot.Slug)

	assert.Equal(t, []string{"Content pending review"}, fx.notifier.subjects)
}

func TestCreateOrUpdateDistributedItemStartsInReview(t *testing.T) {
	fx := newGateFixture()
	ctx := context.Background()

	item := &domain.ContentItem{Type: "post", Slug: "live", Status: domain.ItemStatusPublish}
	item.SetMeta(domain.MetaConnectionMap, `{"v":1,"connections":{"7":{"local_item_id":3}}}`)
	item, err := fx.content.Create(ctx, 5, item)
	require.NoError(t, err)

	review, err := fx.gate.CreateOrUpdate(ctx, 5, item.ID, 1, &domain.ContentItem{Title: "Was"}, []int64{9})
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewStateInReview, review.State)
}

func TestCreateOrUpdateRefreshesActiveReview(t *testing.T) {
	fx := newGateFixture()
	ctx := context.Background()

	item, err := fx.content.Create(ctx, 5, &domain.ContentItem{Type: "post", Slug: "x"})
	require.NoError(t, err)

	first, err := fx.gate.CreateOrUpdate(ctx, 5, item.ID, 1, &domain.ContentItem{Title: "v1"}, []int64{9})
	require.NoError(t, err)

	second, err := fx.gate.CreateOrUpdate(ctx, 5, item.ID, 2, &domain.ContentItem{Title: "v2"}, []int64{9})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(2), second.EditorID)
	// State stayed new, so the snapshot follows the latest edit.
	assert.Equal(t, "v2", second.PreviousSnapshot.Title)
	// Only the first edit notified reviewers.
	assert.Len(t, fx.notifier.subjects, 1)
}

func TestApproveDistributesAndFinalizes(t *testing.T) {
	fx := newGateFixture()
	ctx := context.Background()

	item, err := fx.content.Create(ctx, 5, &domain.ContentItem{
		Type: "post", Slug: "ready", Status: domain.ItemStatusPublish,
	})
	require.NoError(t, err)

	review, err := fx.gate.CreateOrUpdate(ctx, 5, item.ID, 1, &domain.ContentItem{Title: "old"}, nil)
	require.NoError(t, err)

	require.NoError(t, fx.gate.Approve(ctx, review.ID.String(), 9))

	stored, err := fx.reviews.GetByID(ctx, review.ID.String())
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewStateApproved, stored.State)
	require.Len(t, stored.Messages, 1)
	assert.Equal(t, domain.ReviewActionApprove, stored.Messages[0].Action)

	require.Len(t, fx.distributor.distributed, 1)
	assert.Equal(t, item.ID, fx.distributor.distributed[0].ID)

	// A second approve is a no-op error.
	err = fx.gate.Approve(ctx, review.ID.String(), 9)
	assert.ErrorIs(t, err, domain.ErrAlreadyFinished)
}

func TestApproveRollsBackOnDistributionFailure(t *testing.T) {
	fx := newGateFixture()
	ctx := context.Background()

	item, err := fx.content.Create(ctx, 5, &domain.ContentItem{
		Type: "post", Slug: "doomed", Status: domain.ItemStatusPublish,
	})
	require.NoError(t, err)

	review, err := fx.gate.CreateOrUpdate(ctx, 5, item.ID, 1, &domain.ContentItem{Title: "old"}, nil)
	require.NoError(t, err)

	fx.distributor.failWith = errors.New("queue down")

	err = fx.gate.Approve(ctx, review.ID.String(), 9)
	assert.ErrorIs(t, err, domain.ErrDistributionFailed)

	stored, err := fx.reviews.GetByID(ctx, review.ID.String())
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewStateNew, stored.State)
}

func TestApproveDeletedItemPropagatesRemoval(t *testing.T) {
	fx := newGateFixture()
	ctx := context.Background()

	item, err := fx.content.Create(ctx, 5, &domain.ContentItem{Type: "post", Slug: "gone"})
	require.NoError(t, err)

	review, err := fx.gate.CreateOrUpdate(ctx, 5, item.ID, 1, &domain.ContentItem{Title: "old"}, nil)
	require.NoError(t, err)

	require.NoError(t, fx.content.Delete(ctx, 5, item.ID))

	require.NoError(t, fx.gate.Approve(ctx, review.ID.String(), 9))
	assert.Equal(t, []domain.ImportAction{domain.ImportActionDelete}, fx.distributor.propagated)
	assert.Empty(t, fx.distributor.distributed)
}

func TestApproveTrashedItemPropagatesTrash(t *testing.T) {
	fx := newGateFixture()
	ctx := context.Background()

	item, err := fx.content.Create(ctx, 5, &domain.ContentItem{
		Type: "post", Slug: "binned", Status: domain.ItemStatusTrash,
	})
	require.NoError(t, err)

	review, err := fx.gate.CreateOrUpdate(ctx, 5, item.ID, 1,
		&domain.ContentItem{Status: domain.ItemStatusPublish}, nil)
	require.NoError(t, err)

	require.NoError(t, fx.gate.Approve(ctx, review.ID.String(), 9))
	assert.Equal(t, []domain.ImportAction{domain.ImportActionTrash}, fx.distributor.propagated)
}

func TestDeny(t *testing.T) {
	fx := newGateFixture()
	ctx := context.Background()

	item, err := fx.content.Create(ctx, 5, &domain.ContentItem{Type: "post", Slug: "no"})
	require.NoError(t, err)

	review, err := fx.gate.CreateOrUpdate(ctx, 5, item.ID, 1, &domain.ContentItem{Title: "old"}, nil)
	require.NoError(t, err)

	require.NoError(t, fx.gate.Deny(ctx, review.ID.String(), 9, "needs sources"))

	stored, err := fx.reviews.GetByID(ctx, review.ID.String())
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewStateDenied, stored.State)
	require.Len(t, stored.Messages, 1)
	assert.Equal(t, "needs sources", stored.Messages[0].Content)
	assert.Empty(t, fx.distributor.distributed)
}

func TestRevertRestoresSnapshot(t *testing.T) {
	fx := newGateFixture()
	ctx := context.Background()

	item, err := fx.content.Create(ctx, 5, &domain.ContentItem{
		Type: "post", Slug: "story", Title: "Edited", Status: domain.ItemStatusPublish,
	})
	require.NoError(t, err)

	review, err := fx.gate.CreateOrUpdate(ctx, 5, item.ID, 1,
		&domain.ContentItem{Type: "post", Slug: "story", Title: "Original", Status: domain.ItemStatusPublish}, nil)
	require.NoError(t, err)

	require.NoError(t, fx.gate.Approve(ctx, review.ID.String(), 9))
	require.NoError(t, fx.gate.Revert(ctx, review.ID.String(), 9, "bad edit"))

	restored, err := fx.content.Get(ctx, 5, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "Original", restored.Title)

	stored, err := fx.reviews.GetByID(ctx, review.ID.String())
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewStateReverted, stored.State)

	// The restored state was redistributed.
	require.Len(t, fx.distributor.distributed, 2)
	assert.Equal(t, "Original", fx.distributor.distributed[1].Title)
}

func TestRevertWithoutSnapshotDeletes(t *testing.T) {
	fx := newGateFixture()
	ctx := context.Background()

	item, err := fx.content.Create(ctx, 5, &domain.ContentItem{
		Type: "post", Slug: "brand-new", Status: domain.ItemStatusPublish,
	})
	require.NoError(t, err)

	review, err := fx.gate.CreateOrUpdate(ctx, 5, item.ID, 1, nil, nil)
	require.NoError(t, err)
	require.Nil(t, review.PreviousSnapshot)

	require.NoError(t, fx.gate.Approve(ctx, review.ID.String(), 9))
	require.NoError(t, fx.gate.Revert(ctx, review.ID.String(), 9, "should not exist"))

	_, err = fx.content.Get(ctx, 5, item.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Contains(t, fx.distributor.propagated, domain.ImportActionDelete)
}

func TestRevertRequiresFinishedReview(t *testing.T) {
	fx := newGateFixture()
	ctx := context.Background()

	item, err := fx.content.Create(ctx, 5, &domain.ContentItem{Type: "post", Slug: "open"})
	require.NoError(t, err)

	review, err := fx.gate.CreateOrUpdate(ctx, 5, item.ID, 1, &domain.ContentItem{Title: "x"}, nil)
	require.NoError(t, err)

	err = fx.gate.Revert(ctx, review.ID.String(), 9, "too early")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrAlreadyFinished)
}

func TestSubstituteForExport(t *testing.T) {
	fx := newGateFixture()
	ctx := context.Background()

	held, err := fx.content.Create(ctx, 5, &domain.ContentItem{
		Type: "post", Slug: "held", Title: "Unapproved", Status: domain.ItemStatusPublish,
	})
	require.NoError(t, err)
	free, err := fx.content.Create(ctx, 5, &domain.ContentItem{
		Type: "post", Slug: "free", Title: "Clear", Status: domain.ItemStatusPublish,
	})
	require.NoError(t, err)
	unborn, err := fx.content.Create(ctx, 5, &domain.ContentItem{
		Type: "post", Slug: "unborn", Status: domain.ItemStatusPublish,
	})
	require.NoError(t, err)

	_, err = fx.gate.CreateOrUpdate(ctx, 5, held.ID, 1,
		&domain.ContentItem{Type: "post", Slug: "held", Title: "Approved version"}, nil)
	require.NoError(t, err)
	// Review with no snapshot: the item did not exist before the held edit.
	_, err = fx.gate.CreateOrUpdate(ctx, 5, unborn.ID, 1, nil, nil)
	require.NoError(t, err)

	batch := []domain.PreparedItem{{Item: *held}, {Item: *free}, {Item: *unborn}}
	result, err := fx.gate.SubstituteForExport(ctx, batch)
	require.NoError(t, err)

	// The unborn item dropped out; the held item went out as its snapshot.
	require.Len(t, result, 2)
	assert.Equal(t, "Approved version", result[0].Item.Title)
	assert.Equal(t, held.ID, result[0].Item.ID)
	assert.Equal(t, "Clear", result[1].Item.Title)
}

var _ notify.Notifier = (*recordingNotifier)(nil)
