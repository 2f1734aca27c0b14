package metrics

import "time"

// RecentDelivery is one recently finished distribution, kept for the stats
// endpoint.
type RecentDelivery struct {
	ID          string    `json:"id"`
	Destination string    `json:"destination"`
	Status      string    `json:"status"`
	Items       int       `json:"items"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Stats is the aggregated delivery statistics served by the stats endpoint.
type Stats struct {
	TotalDelivered int64              `json:"total_delivered"`
	TotalSkipped   int64              `json:"total_skipped"`
	TotalErrors    int64              `json:"total_errors"`
	Destinations   []DestinationStats `json:"destinations"`
	LastRun        time.Time          `json:"last_run"`
}

// DestinationStats is per-destination delivery statistics.
type DestinationStats struct {
	Key       string `json:"key"`
	Delivered int64  `json:"delivered"`
	Skipped   int64  `json:"skipped"`
	Errors    int64  `json:"errors"`
}
