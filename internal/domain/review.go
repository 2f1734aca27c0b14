package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ReviewState is the state of a post review thread.
//
// new and in_review gate distribution; approved releases the held snapshot;
// denied and reverted roll the item back to the snapshot taken when the
// review opened.
type ReviewState string

const (
	ReviewStateNew      ReviewState = "new"
	ReviewStateInReview ReviewState = "in_review"
	ReviewStateDenied   ReviewState = "denied"
	ReviewStateApproved ReviewState = "approved"
	ReviewStateReverted ReviewState = "reverted"
)

// Active reports whether the review still holds the item back.
func (s ReviewState) Active() bool {
	return s == ReviewStateNew || s == ReviewStateInReview
}

// Finished reports whether the review reached a final decision.
func (s ReviewState) Finished() bool {
	switch s {
	case ReviewStateDenied, ReviewStateApproved, ReviewStateReverted:
		return true
	}
	return false
}

// ReviewAction labels a message in a review thread.
type ReviewAction string

const (
	ReviewActionComment ReviewAction = "comment"
	ReviewActionRequest ReviewAction = "request"
	ReviewActionApprove ReviewAction = "approve"
	ReviewActionDeny    ReviewAction = "deny"
	ReviewActionRevert  ReviewAction = "revert"
)

// ReviewMessage is one entry in a review thread, ordered by timestamp.
type ReviewMessage struct {
	Timestamp  time.Time    `json:"timestamp"`
	ReviewerID int64        `json:"reviewer_id"`
	Content    string       `json:"content,omitempty"`
	Action     ReviewAction `json:"action"`
}

// PostReview gates distribution of one content item behind editorial
// approval. PreviousSnapshot is the item as it was when the review opened;
// nil means the item did not exist yet, so a deny deletes instead of
// restoring.
type PostReview struct {
	ID               uuid.UUID       `json:"id"`
	SiteID           int64           `json:"site_id"`
	ItemID           int64           `json:"item_id"`
	EditorID         int64           `json:"editor_id"`
	State            ReviewState     `json:"state"`
	PreviousSnapshot *ContentItem    `json:"previous_snapshot,omitempty"`
	Messages         []ReviewMessage `json:"messages,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// NewPostReview opens a review for an item. snapshot is the item's state
// before the gated change, or nil when the change created the item.
func NewPostReview(siteID, itemID, editorID int64, snapshot *ContentItem) *PostReview {
	now := time.Now().UTC()
	return &PostReview{
		ID:               uuid.New(),
		SiteID:           siteID,
		ItemID:           itemID,
		EditorID:         editorID,
		State:            ReviewStateNew,
		PreviousSnapshot: snapshot,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Transition moves the review to the next state. Returns ErrAlreadyFinished
// when the review already reached a final decision.
func (r *PostReview) Transition(next ReviewState) error {
	if r.State.Finished() {
		return fmt.Errorf("%w: review %s is %s", ErrAlreadyFinished, r.ID, r.State)
	}
	r.State = next
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// Append adds a message to the thread.
func (r *PostReview) Append(msg ReviewMessage) {
	r.Messages = append(r.Messages, msg)
	r.UpdatedAt = time.Now().UTC()
}

const reviewSchemaVersion = 1

// reviewEnvelope is the versioned serialized form of the review's variable
// parts (snapshot and thread), stored as one JSON column.
type reviewEnvelope struct {
	V        int             `json:"v"`
	Snapshot *ContentItem    `json:"snapshot,omitempty"`
	Messages []ReviewMessage `json:"messages,omitempty"`
}

// EncodeReviewBody serializes the review's snapshot and message thread.
func EncodeReviewBody(r *PostReview) ([]byte, error) {
	data, err := json.Marshal(reviewEnvelope{
		V:        reviewSchemaVersion,
		Snapshot: r.PreviousSnapshot,
		Messages: r.Messages,
	})
	if err != nil {
		return nil, fmt.Errorf("encode review body: %w", err)
	}
	return data, nil
}

// DecodeReviewBody restores the snapshot and message thread onto a review.
func DecodeReviewBody(r *PostReview, raw []byte) error {
	if len(raw) == 0 {
		return nil
	}
	var env reviewEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode review body: %w", err)
	}
	if env.V != reviewSchemaVersion {
		return fmt.Errorf("decode review body: unsupported schema version %d", env.V)
	}
	r.PreviousSnapshot = env.Snapshot
	r.Messages = env.Messages
	return nil
}
