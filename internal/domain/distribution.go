package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DistributionStatus is the state of a queued distribution item.
//
// Transitions are monotonic: init -> started -> {success, partial, failed}.
// Only an explicit reschedule moves a terminal item back to init, and run-now
// forces a started execution. A failed item never reaches success without an
// intervening init.
type DistributionStatus string

const (
	DistributionStatusInit    DistributionStatus = "init"
	DistributionStatusStarted DistributionStatus = "started"
	DistributionStatusSuccess DistributionStatus = "success"
	DistributionStatusPartial DistributionStatus = "partial"
	DistributionStatusFailed  DistributionStatus = "failed"
)

// Terminal reports whether the status is an end state of one execution.
func (s DistributionStatus) Terminal() bool {
	switch s {
	case DistributionStatusSuccess, DistributionStatusPartial, DistributionStatusFailed:
		return true
	}
	return false
}

// DistributionItem is one queued/executed delivery job: a batch of prepared
// items bound for one destination.
type DistributionItem struct {
	ID            uuid.UUID          `json:"id"`
	Status        DistributionStatus `json:"status"`
	Items         []PreparedItem     `json:"items"`
	Destination   Destination        `json:"destination"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
	OriginNetwork string             `json:"origin_network,omitempty"`
	OriginID      string             `json:"origin_id,omitempty"`
	Error         string             `json:"error,omitempty"`
}

// NewDistributionItem builds a queued distribution in the init state.
// Returns ErrEmptyBatch when there is nothing to deliver or nowhere to
// deliver it.
func NewDistributionItem(items []PreparedItem, dest Destination, originNetwork, originID string) (*DistributionItem, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no items", ErrEmptyBatch)
	}
	if dest == nil {
		return nil, fmt.Errorf("%w: no destination", ErrEmptyBatch)
	}
	if nd, ok := dest.(NetworkDestination); ok && len(nd.SubSites) == 0 {
		return nil, fmt.Errorf("%w: network destination has no sub-sites", ErrEmptyBatch)
	}

	now := time.Now().UTC()
	return &DistributionItem{
		ID:            uuid.New(),
		Status:        DistributionStatusInit,
		Items:         items,
		Destination:   dest,
		CreatedAt:     now,
		UpdatedAt:     now,
		OriginNetwork: originNetwork,
		OriginID:      originID,
	}, nil
}

// DistributionStats holds queue statistics for monitoring.
type DistributionStats struct {
	Init                  int64   `json:"init"`
	Started               int64   `json:"started"`
	Success               int64   `json:"success"`
	Partial               int64   `json:"partial"`
	Failed                int64   `json:"failed"`
	AvgDeliveryLagSeconds float64 `json:"avg_delivery_lag_seconds"`
}
