package domain

import (
	"fmt"
	"strconv"
	"strings"
)

const gidSeparator = "-"

// GlobalID addresses a root content item across sites and networks.
// The string form is "{site_id}-{item_id}" for items on the local network and
// "{site_id}-{item_id}-{network}" for items authoritative on a foreign
// network. Only the first two segments are parsed positionally; everything
// after the second separator is the network locator, so locators containing
// dashes (URLs) round-trip unharmed.
type GlobalID struct {
	SiteID  int64
	ItemID  int64
	Network string
}

// NewGlobalID builds a GlobalID for an item. An empty network means the item
// lives on the resolver's own network.
func NewGlobalID(siteID, itemID int64, network string) GlobalID {
	return GlobalID{SiteID: siteID, ItemID: itemID, Network: network}
}

// String encodes the global ID to its canonical wire form.
func (g GlobalID) String() string {
	s := strconv.FormatInt(g.SiteID, 10) + gidSeparator + strconv.FormatInt(g.ItemID, 10)
	if g.Network != "" {
		s += gidSeparator + g.Network
	}
	return s
}

// Local reports whether the ID addresses an item on the resolver's own network.
func (g GlobalID) Local() bool {
	return g.Network == ""
}

// ParseGlobalID decodes a canonical global ID string.
// Returns ErrMalformedID when fewer than two segments are present or the
// first two segments are not numeric.
func ParseGlobalID(s string) (GlobalID, error) {
	const maxSegments = 3
	parts := strings.SplitN(s, gidSeparator, maxSegments)
	if len(parts) < 2 {
		return GlobalID{}, fmt.Errorf("%w: %q", ErrMalformedID, s)
	}

	siteID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return GlobalID{}, fmt.Errorf("%w: site segment %q", ErrMalformedID, parts[0])
	}
	itemID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return GlobalID{}, fmt.Errorf("%w: item segment %q", ErrMalformedID, parts[1])
	}

	gid := GlobalID{SiteID: siteID, ItemID: itemID}
	if len(parts) == maxSegments {
		gid.Network = parts[2]
	}
	return gid, nil
}

// RewriteForNetwork normalizes the locator embedded in a global ID when the ID
// crosses a network boundary. origin is the network the request came from,
// current is the network doing the rewrite. The four cases:
//
//	origin == current            -> locator dropped (purely local again)
//	origin != current, no locator -> locator set to origin
//	origin != current, == current -> locator dropped
//	origin != current, foreign    -> locator left unchanged
//
// Applying this consistently at every boundary keeps connection maps from
// diverging during multi-hop distribution.
func (g GlobalID) RewriteForNetwork(origin, current string) GlobalID {
	if origin == current {
		g.Network = ""
		return g
	}
	switch g.Network {
	case "":
		g.Network = origin
	case current:
		g.Network = ""
	}
	return g
}
