package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ImportAction tells the receiving side how to apply a delivered payload.
type ImportAction string

const (
	ImportActionInsert ImportAction = "insert"
	ImportActionDraft  ImportAction = "draft"
	ImportActionTrash  ImportAction = "trash"
	ImportActionDelete ImportAction = "delete"
)

// Valid reports whether the action is one of the known variants.
func (a ImportAction) Valid() bool {
	switch a {
	case ImportActionInsert, ImportActionDraft, ImportActionTrash, ImportActionDelete:
		return true
	}
	return false
}

// DeliveryState is the per-(sub-site, item) outcome of a network delivery.
type DeliveryState string

const (
	DeliveryStateApplied DeliveryState = "applied"
	DeliveryStateFailed  DeliveryState = "failed"
)

// DeliveryResult records one sub-site/item delivery outcome reported by the
// remote side.
type DeliveryResult struct {
	SiteID      int64         `json:"site_id"`
	ItemID      int64         `json:"item_id"`
	State       DeliveryState `json:"state"`
	LocalItemID int64         `json:"local_item_id,omitempty"`
	EditLink    string        `json:"edit_link,omitempty"`
	DisplayURL  string        `json:"display_url,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// Destination is the target of a distribution item: either a single site on
// the local network or a remote network with sub-sites. The sum is closed;
// the engine switches exhaustively over the two variants.
type Destination interface {
	// Key identifies the destination for deduplication across clusters.
	Key() string

	sealedDestination()
}

// SiteDestination targets one site on the local network.
type SiteDestination struct {
	SiteID int64 `json:"site_id"`
}

func (d SiteDestination) Key() string        { return strconv.FormatInt(d.SiteID, 10) }
func (SiteDestination) sealedDestination() {}

// NetworkDestination targets a remote network and a set of its sub-sites.
// ItemStatus accumulates the per-(sub-site, item) outcomes reported back by
// the remote side across deliveries.
type NetworkDestination struct {
	Network      string           `json:"network"`
	SubSites     []int64          `json:"sub_sites"`
	ImportAction ImportAction     `json:"import_action"`
	ItemStatus   []DeliveryResult `json:"item_status,omitempty"`
}

func (d NetworkDestination) Key() string        { return d.Network }
func (NetworkDestination) sealedDestination() {}

const (
	destinationSchemaVersion = 1

	destinationKindSite    = "site"
	destinationKindNetwork = "network"
)

// destinationEnvelope is the versioned tagged-union wire form of a Destination.
type destinationEnvelope struct {
	V       int             `json:"v"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// EncodeDestination serializes a destination with its kind tag and schema
// version.
func EncodeDestination(d Destination) ([]byte, error) {
	var kind string
	switch d.(type) {
	case SiteDestination:
		kind = destinationKindSite
	case NetworkDestination:
		kind = destinationKindNetwork
	default:
		return nil, fmt.Errorf("%w: unknown variant %T", ErrInvalidDestination, d)
	}

	payload, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode destination payload: %w", err)
	}
	return json.Marshal(destinationEnvelope{V: destinationSchemaVersion, Kind: kind, Payload: payload})
}

// DecodeDestination parses a serialized destination back into its concrete
// variant. Returns ErrInvalidDestination for unknown kinds or versions.
func DecodeDestination(raw []byte) (Destination, error) {
	var env destinationEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDestination, err)
	}
	if env.V != destinationSchemaVersion {
		return nil, fmt.Errorf("%w: unsupported schema version %d", ErrInvalidDestination, env.V)
	}

	switch env.Kind {
	case destinationKindSite:
		var d SiteDestination
		if err := json.Unmarshal(env.Payload, &d); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDestination, err)
		}
		return d, nil
	case destinationKindNetwork:
		var d NetworkDestination
		if err := json.Unmarshal(env.Payload, &d); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDestination, err)
		}
		return d, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidDestination, env.Kind)
	}
}
