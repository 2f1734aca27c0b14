package domain

import (
	"time"

	"github.com/google/uuid"
)

// SiteConnection is a registered remote network peer. The secret signs
// outbound deliveries and verifies inbound ones.
type SiteConnection struct {
	ID             uuid.UUID `json:"id"`
	Network        string    `json:"network"`
	Secret         string    `json:"-"`
	Active         bool      `json:"active"`
	ContentEnabled bool      `json:"content_enabled"`
	SearchEnabled  bool      `json:"search_enabled"`
	CheckedAt      time.Time `json:"checked_at,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Usable reports whether the connection accepts content deliveries.
func (c SiteConnection) Usable() bool {
	return c.Active && c.ContentEnabled
}
