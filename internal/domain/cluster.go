package domain

import (
	"time"

	"github.com/google/uuid"
)

// DateMode selects how a content condition filters by date.
type DateMode string

const (
	DateModeNone        DateMode = ""
	DateModeStatic      DateMode = "static"       // items since an absolute date
	DateModeStaticRange DateMode = "static_range" // items between two dates, inclusive
	DateModeDynamic     DateMode = "dynamic"      // items since now - N units
)

// DynamicUnit is the unit of a dynamic date window.
type DynamicUnit string

const (
	DynamicUnitDay   DynamicUnit = "day"
	DynamicUnitWeek  DynamicUnit = "week"
	DynamicUnitMonth DynamicUnit = "month"
	DynamicUnitYear  DynamicUnit = "year"
)

// WindowStart computes the start of a dynamic window of n units ending at now.
func (u DynamicUnit) WindowStart(now time.Time, n int) time.Time {
	switch u {
	case DynamicUnitDay:
		return now.AddDate(0, 0, -n)
	case DynamicUnitWeek:
		return now.AddDate(0, 0, -7*n)
	case DynamicUnitMonth:
		return now.AddDate(0, -n, 0)
	case DynamicUnitYear:
		return now.AddDate(-n, 0, 0)
	default:
		return now
	}
}

// ConditionFilter narrows the items a condition selects beyond type and
// taxonomy.
type ConditionFilter struct {
	Count        int         `json:"count,omitempty"` // top-N by recency; 0 = unlimited
	DateMode     DateMode    `json:"date_mode,omitempty"`
	Since        time.Time   `json:"since,omitempty"` // static / static_range
	Until        time.Time   `json:"until,omitempty"` // static_range
	DynamicCount int         `json:"dynamic_count,omitempty"`
	DynamicUnit  DynamicUnit `json:"dynamic_unit,omitempty"`
}

// ContentCondition is a declarative rule selecting which items on a source
// site belong to a cluster.
type ContentCondition struct {
	ID           uuid.UUID       `json:"id"`
	ClusterID    uuid.UUID       `json:"cluster_id"`
	SourceSiteID int64           `json:"source_site_id"`
	ContentType  string          `json:"content_type"`
	Taxonomy     string          `json:"taxonomy,omitempty"`
	Terms        []string        `json:"terms,omitempty"`
	Filter       ConditionFilter `json:"filter"`
	AutoPublish  bool            `json:"auto_publish"`
}

// DateDriven reports whether the condition participates in the scheduled
// date re-check.
func (c ContentCondition) DateDriven() bool {
	return c.Filter.DateMode != DateModeNone
}

// Cluster bundles destinations, content conditions and review settings.
// Deleting a cluster leaves its conditions orphaned; orphaned conditions are
// inert and never matched.
type Cluster struct {
	ID            uuid.UUID          `json:"id"`
	Title         string             `json:"title"`
	Destinations  []Destination      `json:"destinations"`
	Conditions    []ContentCondition `json:"conditions,omitempty"`
	EnableReviews bool               `json:"enable_reviews"`
	ReviewerIDs   []int64            `json:"reviewer_ids,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// MatchSnapshot is the persisted matched-item set of a cluster's date-driven
// conditions, used by the scheduled re-check to detect changes.
type MatchSnapshot struct {
	ClusterID uuid.UUID `json:"cluster_id"`
	ItemIDs   []int64   `json:"item_ids"`
	TakenAt   time.Time `json:"taken_at"`
}
