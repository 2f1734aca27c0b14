// Package merge reconciles incoming syndicated items against pre-existing
// local content during import.
package merge

import (
	"context"
	"errors"
	"fmt"

	"github.com/northpress/syndicate/internal/domain"
	"github.com/northpress/syndicate/internal/store"
)

// ResolutionAction is the user-chosen way to resolve one import conflict.
type ResolutionAction string

const (
	// ActionSkip leaves the existing item untouched.
	ActionSkip ResolutionAction = "skip"
	// ActionReplace overwrites the existing item's fields, keeping its
	// local ID.
	ActionReplace ResolutionAction = "replace"
	// ActionKeep inserts the incoming item as a new, independent duplicate.
	ActionKeep ResolutionAction = "keep"
)

// PredefinedSkipMessage explains an auto-resolved descriptor.
const PredefinedSkipMessage = "already linked to the same source item"

// ConflictDescriptor pairs an incoming item with the local item it collides
// with. PredefinedAction is set when no real conflict exists and the caller
// should not prompt.
type ConflictDescriptor struct {
	Incoming         domain.ContentItem `json:"incoming"`
	ExistingID       int64              `json:"existing_id"`
	SuggestedLink    string             `json:"suggested_link,omitempty"`
	PredefinedAction ResolutionAction   `json:"predefined_action,omitempty"`
	Message          string             `json:"message,omitempty"`
}

// Merger finds and resolves import conflicts against one site's content
// store.
type Merger struct {
	store store.ContentStore
}

// NewMerger creates a merger.
func NewMerger(contentStore store.ContentStore) *Merger {
	return &Merger{store: contentStore}
}

// FindConflicts returns a descriptor for each incoming item that collides
// with an existing local item by (slug, type). First-time imports carry no
// local global ID yet, so identity matching would miss them; slug/type
// equality is the collision predicate. When the existing item is already
// linked to the same global ID the descriptor is pre-resolved to skip.
func (m *Merger) FindConflicts(ctx context.Context, siteID int64, incoming []domain.ContentItem) ([]ConflictDescriptor, error) {
	conflicts := make([]ConflictDescriptor, 0)
	for _, item := range incoming {
		existing, err := m.store.GetBySlug(ctx, siteID, item.Type, item.Slug)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("look up existing item: %w", err)
		}

		desc := ConflictDescriptor{
			Incoming:   item,
			ExistingID: existing.ID,
		}
		if gid := item.MetaValue(domain.MetaGlobalID); gid != "" &&
			existing.MetaValue(domain.MetaGlobalID) == gid {
			desc.PredefinedAction = ActionSkip
			desc.Message = PredefinedSkipMessage
		}
		conflicts = append(conflicts, desc)
	}
	return conflicts, nil
}

// ApplyResolution applies one action to one conflict and returns the
// resulting local item. Store rejections surface as ErrStoreWrite; the
// merger does not retry.
func (m *Merger) ApplyResolution(ctx context.Context, siteID int64, incoming domain.ContentItem, action ResolutionAction, existingID int64) (*domain.ContentItem, error) {
	switch action {
	case ActionSkip:
		existing, err := m.store.Get(ctx, siteID, existingID)
		if err != nil {
			return nil, fmt.Errorf("load skipped item: %w", err)
		}
		return existing, nil

	case ActionReplace:
		replaced := incoming
		replaced.ID = existingID
		replaced.SiteID = siteID
		if err := m.store.Update(ctx, siteID, &replaced); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrStoreWrite, err)
		}
		return &replaced, nil

	case ActionKeep:
		kept := incoming
		kept.ID = 0
		// A kept duplicate is its own item; it must not inherit the
		// incoming identity meta or it would shadow the real link.
		kept.DeleteMeta(domain.MetaGlobalID)
		kept.DeleteMeta(domain.MetaSyncStatus)
		kept.DeleteMeta(domain.MetaCanonicalURL)
		created, err := m.store.Create(ctx, siteID, &kept)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrStoreWrite, err)
		}
		return created, nil

	default:
		return nil, fmt.Errorf("unknown resolution action %q", action)
	}
}

// ImportItem applies one incoming item during queue-driven distribution,
// auto-resolving by global ID: a local item already linked to the same
// global ID is always replaced, never prompted about. Items with no linked
// counterpart are created as new linked copies.
func (m *Merger) ImportItem(ctx context.Context, siteID int64, incoming domain.ContentItem) (*domain.ContentItem, error) {
	gid := incoming.MetaValue(domain.MetaGlobalID)
	if gid != "" {
		existing, err := m.findByGlobalID(ctx, siteID, incoming.Type, gid)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		if existing != nil {
			return m.ApplyResolution(ctx, siteID, incoming, ActionReplace, existing.ID)
		}
	}

	created := incoming
	created.ID = 0
	result, err := m.store.Create(ctx, siteID, &created)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreWrite, err)
	}
	return result, nil
}

// ApplyRemoval trashes or deletes the local item linked to a global ID,
// during inbound delete propagation. A missing link is not an error; the
// copy was never created or is already gone.
func (m *Merger) ApplyRemoval(ctx context.Context, siteID int64, contentType, gid string, action domain.ImportAction) (*domain.ContentItem, error) {
	existing, err := m.findByGlobalID(ctx, siteID, contentType, gid)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	switch action {
	case domain.ImportActionDelete:
		if err := m.store.Delete(ctx, siteID, existing.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: %v", domain.ErrStoreWrite, err)
		}
		return existing, nil
	case domain.ImportActionTrash:
		existing.Status = domain.ItemStatusTrash
		if err := m.store.Update(ctx, siteID, existing); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrStoreWrite, err)
		}
		return existing, nil
	default:
		return nil, fmt.Errorf("removal action %q not applicable", action)
	}
}

// findByGlobalID locates the local item linked to a global ID. The slug/type
// lookup narrows the search; a slug collision with a different identity is
// not a match.
func (m *Merger) findByGlobalID(ctx context.Context, siteID int64, contentType, gid string) (*domain.ContentItem, error) {
	items, err := m.store.Query(ctx, siteID, store.QueryFilter{Type: contentType})
	if err != nil {
		return nil, fmt.Errorf("query linked items: %w", err)
	}
	for i := range items {
		if items[i].MetaValue(domain.MetaGlobalID) == gid {
			return &items[i], nil
		}
	}
	return nil, fmt.Errorf("%w: no item linked to %s", domain.ErrNotFound, gid)
}
