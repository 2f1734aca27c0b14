package domain

import (
	"encoding/json"
	"fmt"
)

// Meta keys owned by the engine. Everything else on a content item is opaque.
const (
	MetaSyncStatus    = "sync_status"
	MetaGlobalID      = "sync_global_id"
	MetaConnectionMap = "sync_connection_map"
	MetaCanonicalURL  = "sync_canonical_url"
	MetaExportOptions = "sync_export_options"
)

// SyncStatus marks an item's role in syndication.
type SyncStatus string

const (
	SyncStatusUnset  SyncStatus = ""
	SyncStatusRoot   SyncStatus = "root"
	SyncStatusLinked SyncStatus = "linked"
)

// Item statuses the engine cares about. Anything else is passed through.
const (
	ItemStatusPublish = "publish"
	ItemStatusDraft   = "draft"
	ItemStatusTrash   = "trash"
)

// MetaEntry is one key/value pair in an item's ordered meta list.
type MetaEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ContentItem is the engine's view of a content item. The item itself belongs
// to the external content store; the engine only interprets the meta keys it
// owns and the fields needed for matching and conflict detection.
type ContentItem struct {
	ID          int64               `json:"id"`
	SiteID      int64               `json:"site_id"`
	Type        string              `json:"type"`
	Slug        string              `json:"slug"`
	Title       string              `json:"title"`
	Status      string              `json:"status"`
	Body        string              `json:"body"`
	ParentID    int64               `json:"parent_id,omitempty"`
	Terms       map[string][]string `json:"terms,omitempty"` // taxonomy -> terms
	PublishedAt int64               `json:"published_at"`    // unix seconds
	CreatedAt   int64               `json:"created_at"`      // unix seconds
	Meta        []MetaEntry         `json:"meta,omitempty"`
}

// MetaValue returns the value of the given meta key, or "" when absent.
func (c *ContentItem) MetaValue(key string) string {
	for _, m := range c.Meta {
		if m.Key == key {
			return m.Value
		}
	}
	return ""
}

// SetMeta sets a meta key, preserving the order of existing entries.
func (c *ContentItem) SetMeta(key, value string) {
	for i, m := range c.Meta {
		if m.Key == key {
			c.Meta[i].Value = value
			return
		}
	}
	c.Meta = append(c.Meta, MetaEntry{Key: key, Value: value})
}

// DeleteMeta removes a meta key if present.
func (c *ContentItem) DeleteMeta(key string) {
	for i, m := range c.Meta {
		if m.Key == key {
			c.Meta = append(c.Meta[:i], c.Meta[i+1:]...)
			return
		}
	}
}

// SyncStatus returns the item's syndication role.
func (c *ContentItem) SyncStatus() SyncStatus {
	return SyncStatus(c.MetaValue(MetaSyncStatus))
}

// GlobalID returns the item's global ID meta, parsed. Returns ErrNotFound when
// the item carries no global ID.
func (c *ContentItem) GlobalID() (GlobalID, error) {
	raw := c.MetaValue(MetaGlobalID)
	if raw == "" {
		return GlobalID{}, fmt.Errorf("%w: item %d has no global id", ErrNotFound, c.ID)
	}
	return ParseGlobalID(raw)
}

// HasTerm reports whether the item carries the given term in the taxonomy.
func (c *ContentItem) HasTerm(taxonomy, term string) bool {
	for _, t := range c.Terms[taxonomy] {
		if t == term {
			return true
		}
	}
	return false
}

// ConnectionEntry records one successful delivery of a root item to a
// destination site.
type ConnectionEntry struct {
	LocalItemID int64  `json:"local_item_id"`
	EditLink    string `json:"edit_link,omitempty"`
	DisplayURL  string `json:"display_url,omitempty"`
}

// ConnectionMap maps destination keys ("{site_id}" on the local network,
// "{network}|{site_id}" elsewhere) to the linked copy created there. It lives
// as meta on the root item and is mutated per key only, never wholesale.
type ConnectionMap map[string]ConnectionEntry

// connectionMapEnvelope is the versioned serialized form of a ConnectionMap.
type connectionMapEnvelope struct {
	V    int           `json:"v"`
	Conn ConnectionMap `json:"connections"`
}

const connectionMapSchemaVersion = 1

// ConnectionKey builds the connection-map key for a destination site.
// network is empty for sites on the local network.
func ConnectionKey(network string, siteID int64) string {
	if network == "" {
		return fmt.Sprintf("%d", siteID)
	}
	return fmt.Sprintf("%s|%d", network, siteID)
}

// EncodeConnectionMap serializes a connection map with its schema version.
func EncodeConnectionMap(m ConnectionMap) (string, error) {
	data, err := json.Marshal(connectionMapEnvelope{V: connectionMapSchemaVersion, Conn: m})
	if err != nil {
		return "", fmt.Errorf("encode connection map: %w", err)
	}
	return string(data), nil
}

// DecodeConnectionMap parses a serialized connection map. An empty input
// yields an empty, usable map.
func DecodeConnectionMap(raw string) (ConnectionMap, error) {
	if raw == "" {
		return ConnectionMap{}, nil
	}
	var env connectionMapEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("decode connection map: %w", err)
	}
	if env.Conn == nil {
		env.Conn = ConnectionMap{}
	}
	return env.Conn, nil
}

// PreparedItem is a content item prepared for export: the item itself, the
// dependency closure it needs at the destination (attachments, nested
// dependents) and the persisted export options merged with any caller
// overrides.
type PreparedItem struct {
	Item          ContentItem       `json:"item"`
	Dependents    []ContentItem     `json:"dependents,omitempty"`
	ExportOptions map[string]string `json:"export_options,omitempty"`
}
