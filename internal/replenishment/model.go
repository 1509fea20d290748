package replenishment

import (
	"time"
)

// Type tells where replenishment stock should come from.
type Type string

const (
	TypeInterStore Type = "INTER_STORE_TRANSFER"
	TypeWarehouse  Type = "WAREHOUSE_REPLENISHMENT"
)

// Priority ranks a recommendation.
type Priority string

const (
	PriorityCritical Priority = "CRITICAL"
	PriorityHigh     Priority = "HIGH"
)

func (p Priority) rank() int {
	if p == PriorityCritical {
		return 0
	}
	return 1
}

// Trigger records what started a snapshot run.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerCatchUp   Trigger = "catch_up"
	TriggerManual    Trigger = "manual"
	TriggerQueued    Trigger = "queued"
)

// Position is one branch SKU row as seen by the analyzer.
type Position struct {
	BranchID       int64
	BranchCode     string
	Warehouse      bool
	SKU            string
	Available      int64
	MinStock       int64
	AvgDailyDemand float64
}

// Recommendation is advice only; it never moves stock.
type Recommendation struct {
	Type              Type     `json:"type"`
	Priority          Priority `json:"priority"`
	SKU               string   `json:"sku"`
	FromBranchID      *int64   `json:"from_branch_id,omitempty"`
	ToBranchID        int64    `json:"to_branch_id"`
	Available         int64    `json:"available"`
	MinStock          int64    `json:"min_stock"`
	NeededQuantity    int64    `json:"needed_quantity"`
	SuggestedQuantity int64    `json:"suggested_quantity"`
	AvgDailyDemand    float64  `json:"avg_daily_demand"`
}

// Summary rolls up a snapshot.
type Summary struct {
	Total          int   `json:"total"`
	Critical       int   `json:"critical"`
	High           int   `json:"high"`
	InterStore     int   `json:"inter_store"`
	Warehouse      int   `json:"warehouse"`
	SuggestedUnits int64 `json:"suggested_units"`
}

// Snapshot is the day's set of recommendations. There is one per date.
type Snapshot struct {
	Date            string           `json:"date"`
	GeneratedAt     time.Time        `json:"generated_at"`
	Trigger         Trigger          `json:"trigger"`
	Recommendations []Recommendation `json:"recommendations"`
	Summary         Summary          `json:"summary"`
}

// Summarize computes the roll-up for recs.
func Summarize(recs []Recommendation) Summary {
	s := Summary{Total: len(recs)}
	for _, r := range recs {
		switch r.Priority {
		case PriorityCritical:
			s.Critical++
		default:
			s.High++
		}
		switch r.Type {
		case TypeInterStore:
			s.InterStore++
		default:
			s.Warehouse++
		}
		s.SuggestedUnits += r.SuggestedQuantity
	}
	return s
}

// Config tunes the analysis.
type Config struct {
	// SurplusThreshold is the floor a source keeps regardless of its own minimum.
	SurplusThreshold   int64
	ForecastWindowDays int
	Location           *time.Location
}

func (c Config) location() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

func (c Config) window() int {
	if c.ForecastWindowDays <= 0 {
		return 30
	}
	return c.ForecastWindowDays
}

// DateKey formats t as the snapshot date in the configured zone.
func (c Config) DateKey(t time.Time) string {
	return t.In(c.location()).Format("2006-01-02")
}
