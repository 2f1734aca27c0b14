// Package review gates distribution of root-item edits behind editorial
// approval.
package review

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/northpress/syndicate/internal/domain"
	"github.com/northpress/syndicate/internal/logger"
	"github.com/northpress/syndicate/internal/merge"
	"github.com/northpress/syndicate/internal/notify"
	"github.com/northpress/syndicate/internal/store"
)

// Store persists post reviews.
type Store interface {
	Create(ctx context.Context, review *domain.PostReview) error
	Update(ctx context.Context, review *domain.PostReview) error
	GetByID(ctx context.Context, id string) (*domain.PostReview, error)
	GetActiveByItem(ctx context.Context, siteID, itemID int64) (*domain.PostReview, error)
}

// Distributor executes the fan-out an approval releases.
type Distributor interface {
	// Distribute computes destinations for the item and enqueues delivery.
	Distribute(ctx context.Context, item *domain.ContentItem) error
	// Propagate pushes a removal or status change for an item to every
	// destination already holding a linked copy.
	Propagate(ctx context.Context, siteID, itemID int64, action domain.ImportAction) error
}

// Directory resolves user IDs to notification addresses.
type Directory interface {
	Emails(ids []int64) []string
}

// StaticDirectory is a fixed ID-to-address mapping.
type StaticDirectory map[int64]string

// Emails returns the addresses of the given IDs, skipping unknown ones.
func (d StaticDirectory) Emails(ids []int64) []string {
	emails := make([]string, 0, len(ids))
	for _, id := range ids {
		if addr, ok := d[id]; ok {
			emails = append(emails, addr)
		}
	}
	return emails
}

// Gate is the review state machine service.
type Gate struct {
	reviews     Store
	content     store.ContentStore
	merger      *merge.Merger
	distributor Distributor
	notifier    notify.Notifier
	directory   Directory
	logger      logger.Logger
}

// NewGate creates a review gate.
func NewGate(reviews Store, content store.ContentStore, merger *merge.Merger,
	distributor Distributor, notifier notify.Notifier, directory Directory, log logger.Logger,
) *Gate {
	return &Gate{
		reviews:     reviews,
		content:     content,
		merger:      merger,
		distributor: distributor,
		notifier:    notifier,
		directory:   directory,
		logger:      log,
	}
}

// mergeSnapshot builds the frozen before-state for a new review. The
// caller-supplied before-state is authoritative; the live item only fills
// fields the caller left empty. A nil before means the edit created the
// item.
func mergeSnapshot(live, before *domain.ContentItem) *domain.ContentItem {
	if before == nil {
		return nil
	}
	snap := *before
	if live == nil {
		return &snap
	}
	if snap.Type == "" {
		snap.Type = live.Type
	}
	if snap.Slug == "" {
		snap.Slug = live.Slug
	}
	if snap.Title == "" {
		snap.Title = live.Title
	}
	if snap.Status == "" {
		snap.Status = live.Status
	}
	if snap.Body == "" {
		snap.Body = live.Body
	}
	if len(snap.Meta) == 0 {
		snap.Meta = append([]domain.MetaEntry(nil), live.Meta...)
	}
	return &snap
}

// CreateOrUpdate opens a review for an edited root item, or refreshes the
// active one. A first review starts as new when the item has never been
// distributed (no connection map) and as in_review otherwise. Reviewers are
// notified only when a review actually opens.
func (g *Gate) CreateOrUpdate(ctx context.Context, siteID, itemID, editorID int64, before *domain.ContentItem, reviewerIDs []int64) (*domain.PostReview, error) {
	active, err := g.reviews.GetActiveByItem(ctx, siteID, itemID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	live, liveErr := g.content.Get(ctx, siteID, itemID)
	if liveErr != nil && !errors.Is(liveErr, domain.ErrNotFound) {
		return nil, liveErr
	}

	if active != nil {
		active.EditorID = editorID
		// The snapshot tracks the pre-review state; once the review left
		// new, the frozen copy must not move under the reviewers.
		if active.State == domain.ReviewStateNew {
			active.PreviousSnapshot = mergeSnapshot(live, before)
		}
		active.UpdatedAt = time.Now().UTC()
		if err := g.reviews.Update(ctx, active); err != nil {
			return nil, err
		}
		return active, nil
	}

	review := domain.NewPostReview(siteID, itemID, editorID, mergeSnapshot(live, before))
	if live != nil && live.MetaValue(domain.MetaConnectionMap) != "" {
		review.State = domain.ReviewStateInReview
	}
	if err := g.reviews.Create(ctx, review); err != nil {
		return nil, err
	}

	g.sendNotification(ctx, reviewerIDs, "Content pending review",
		fmt.Sprintf("Item %d on site %d was edited and awaits review.", itemID, siteID))
	return review, nil
}

// Approve finalizes a review and releases distribution. The state moves to
// approved before the fan-out runs so the exporter stops substituting the
// stale snapshot; on distribution failure the state is rolled back
// best-effort and ErrDistributionFailed is returned.
func (g *Gate) Approve(ctx context.Context, reviewID string, reviewerID int64) error {
	review, err := g.reviews.GetByID(ctx, reviewID)
	if err != nil {
		return err
	}
	if review.State.Finished() {
		return fmt.Errorf("%w: review %s is %s", domain.ErrAlreadyFinished, review.ID, review.State)
	}

	previousState := review.State
	review.State = domain.ReviewStateApproved
	review.UpdatedAt = time.Now().UTC()
	if err := g.reviews.Update(ctx, review); err != nil {
		return err
	}

	if err := g.runApprovedDistribution(ctx, review); err != nil {
		review.State = previousState
		if rollbackErr := g.reviews.Update(ctx, review); rollbackErr != nil {
			g.logger.Error("Failed to roll back review state after distribution failure",
				logger.String("review_id", review.ID.String()),
				logger.Error(rollbackErr),
			)
		}
		return fmt.Errorf("%w: %v", domain.ErrDistributionFailed, err)
	}

	review.Append(domain.ReviewMessage{
		Timestamp:  time.Now().UTC(),
		ReviewerID: reviewerID,
		Action:     domain.ReviewActionApprove,
	})
	if err := g.reviews.Update(ctx, review); err != nil {
		return err
	}

	g.sendNotification(ctx, []int64{review.EditorID}, "Review approved",
		fmt.Sprintf("Your edit to item %d was approved and distributed.", review.ItemID))
	return nil
}

// runApprovedDistribution picks the fan-out path an approval triggers,
// depending on what happened to the item while it sat in review.
func (g *Gate) runApprovedDistribution(ctx context.Context, review *domain.PostReview) error {
	item, err := g.content.Get(ctx, review.SiteID, review.ItemID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		// The item vanished under the review: propagate the deletion.
		return g.distributor.Propagate(ctx, review.SiteID, review.ItemID, domain.ImportActionDelete)
	case err != nil:
		return err
	case item.Status == domain.ItemStatusTrash:
		return g.distributor.Propagate(ctx, review.SiteID, review.ItemID, domain.ImportActionTrash)
	case review.PreviousSnapshot != nil &&
		review.PreviousSnapshot.Status == domain.ItemStatusTrash &&
		item.Status != domain.ItemStatusTrash:
		// Trashed before the review, restored during it.
		return g.distributor.Propagate(ctx, review.SiteID, review.ItemID, domain.ImportActionInsert)
	default:
		return g.distributor.Distribute(ctx, item)
	}
}

// Deny finalizes a review without distributing.
func (g *Gate) Deny(ctx context.Context, reviewID string, reviewerID int64, message string) error {
	review, err := g.reviews.GetByID(ctx, reviewID)
	if err != nil {
		return err
	}
	if review.State.Finished() {
		return fmt.Errorf("%w: review %s is %s", domain.ErrAlreadyFinished, review.ID, review.State)
	}

	review.Append(domain.ReviewMessage{
		Timestamp:  time.Now().UTC(),
		ReviewerID: reviewerID,
		Content:    message,
		Action:     domain.ReviewActionDeny,
	})
	review.State = domain.ReviewStateDenied
	if err := g.reviews.Update(ctx, review); err != nil {
		return err
	}

	g.sendNotification(ctx, []int64{review.EditorID}, "Review denied",
		fmt.Sprintf("Your edit to item %d was denied: %s", review.ItemID, message))
	return nil
}

// Revert rolls the item back to its pre-review snapshot and redistributes
// the restored state. Only approved or denied reviews can be reverted.
func (g *Gate) Revert(ctx context.Context, reviewID string, reviewerID int64, message string) error {
	review, err := g.reviews.GetByID(ctx, reviewID)
	if err != nil {
		return err
	}
	if review.State == domain.ReviewStateReverted {
		return fmt.Errorf("%w: review %s already reverted", domain.ErrAlreadyFinished, review.ID)
	}
	if review.State.Active() {
		return fmt.Errorf("review %s is still %s, deny it instead", review.ID, review.State)
	}

	if review.PreviousSnapshot == nil {
		// The reviewed edit created the item; reverting removes it.
		if err := g.content.Delete(ctx, review.SiteID, review.ItemID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if err := g.distributor.Propagate(ctx, review.SiteID, review.ItemID, domain.ImportActionDelete); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrDistributionFailed, err)
		}
	} else {
		restored, err := g.merger.ApplyResolution(ctx, review.SiteID,
			*review.PreviousSnapshot, merge.ActionReplace, review.ItemID)
		if err != nil {
			return err
		}
		if err := g.distributor.Distribute(ctx, restored); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrDistributionFailed, err)
		}
	}

	review.Append(domain.ReviewMessage{
		Timestamp:  time.Now().UTC(),
		ReviewerID: reviewerID,
		Content:    message,
		Action:     domain.ReviewActionRevert,
	})
	review.State = domain.ReviewStateReverted
	review.UpdatedAt = time.Now().UTC()
	if err := g.reviews.Update(ctx, review); err != nil {
		return err
	}

	g.sendNotification(ctx, []int64{review.EditorID}, "Review reverted",
		fmt.Sprintf("Item %d was rolled back to its previous state: %s", review.ItemID, message))
	return nil
}

// SubstituteForExport replaces any batch item that has an active review with
// its frozen snapshot, so unapproved edits never leak to destinations. An
// item whose snapshot says "did not exist" is dropped from the batch.
func (g *Gate) SubstituteForExport(ctx context.Context, items []domain.PreparedItem) ([]domain.PreparedItem, error) {
	result := make([]domain.PreparedItem, 0, len(items))
	for _, prepared := range items {
		active, err := g.reviews.GetActiveByItem(ctx, prepared.Item.SiteID, prepared.Item.ID)
		if errors.Is(err, domain.ErrNotFound) {
			result = append(result, prepared)
			continue
		}
		if err != nil {
			return nil, err
		}

		if active.PreviousSnapshot == nil {
			g.logger.Debug("Dropping unreviewed new item from export",
				logger.Int64("site_id", prepared.Item.SiteID),
				logger.Int64("item_id", prepared.Item.ID),
			)
			continue
		}

		substituted := prepared
		substituted.Item = *active.PreviousSnapshot
		substituted.Item.ID = prepared.Item.ID
		substituted.Item.SiteID = prepared.Item.SiteID
		result = append(result, substituted)
	}
	return result, nil
}

func (g *Gate) sendNotification(ctx context.Context, userIDs []int64, subject, body string) {
	recipients := g.directory.Emails(userIDs)
	if len(recipients) == 0 {
		return
	}
	if err := g.notifier.Notify(ctx, recipients, subject, body); err != nil {
		g.logger.Warn("Review notification failed",
			logger.String("subject", subject),
			logger.Error(err),
		)
	}
}
