package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// -----------------------------------------------------------------------------
// Refresh Tiers
// -----------------------------------------------------------------------------

// Tier is a coarse refresh-priority bucket derived from trading volume.
// Tiers are ordered from the fastest refresh cadence (A) to the slowest (D).
type Tier string

const (
	TierA Tier = "A"
	TierB Tier = "B"
	TierC Tier = "C"
	TierD Tier = "D"
)

// Tiers lists every tier, fastest first.
var Tiers = []Tier{TierA, TierB, TierC, TierD}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierA, TierB, TierC, TierD:
		return true
	}
	return false
}

// TierCounts returns a zero-filled per-tier counter.
func TierCounts() map[Tier]int {
	counts := make(map[Tier]int, len(Tiers))
	for _, t := range Tiers {
		counts[t] = 0
	}
	return counts
}

// -----------------------------------------------------------------------------
// Relational Types
// -----------------------------------------------------------------------------

// TrackedEntity is a market type being monitored for price and volume.
type TrackedEntity struct {
	TypeID         int64         // Primary key (market type id)
	Tier           Tier          // Current refresh tier
	UpdateInterval time.Duration // Refresh cadence (stored as minutes)
	LastRefreshed  *time.Time    // Nil until the first successful refresh
	NextRefresh    *time.Time    // Always LastRefreshed + UpdateInterval
}

// Due reports whether the entity should be refreshed at now.
func (e TrackedEntity) Due(now time.Time) bool {
	return e.NextRefresh == nil || !e.NextRefresh.After(now)
}

// TypeTrend holds trailing history statistics for one market type.
type TypeTrend struct {
	TypeID        int64
	LastHistoryTS time.Time
	MomPct        float64 // mean(avg last 30d) / mean(avg prev 30d) - 1
	Vol30dAvg     float64 // Average daily volume over the last 30 days
	VolPrev30Avg  float64 // Average daily volume over the 30 days before that
}

// Valuation is the mark-to-market price pair for one type.
type Valuation struct {
	TypeID       int64
	QuicksellBid decimal.Decimal
	MarkAsk      decimal.Decimal
	Updated      time.Time
}

// Recommendation is a candidate produced by the recommender scan.
type Recommendation struct {
	TypeID    int64
	StationID int64
	TS        time.Time
	SpreadPct float64
	MomPct    float64
	Vol30dAvg float64
	Rationale map[string]any
}

// -----------------------------------------------------------------------------
// Time-Series Types
// -----------------------------------------------------------------------------

// MarketSnapshot is a point-in-time observation of one type at one venue.
// Rows are append-only; the current state is the latest TS per type.
type MarketSnapshot struct {
	TS        time.Time           // Observation time
	TypeID    int64               // Market type
	StationID int64               // Venue
	BestBid   decimal.NullDecimal // Highest buy price, invalid if no buy orders
	BestAsk   decimal.NullDecimal // Lowest sell price, invalid if no sell orders
	BidCount  int                 // Resting buy orders at the venue
	AskCount  int                 // Resting sell orders at the venue
	BidUnits  int64               // Visible units on the buy side
	AskUnits  int64               // Visible units on the sell side
}

// JobSetting is a persisted schedule override for one job. It replaces the
// configured schedule of that job at startup.
type JobSetting struct {
	Name            string
	Enabled         bool
	IntervalMinutes int
	Cron            string
	Priority        string
	Updated         time.Time
}

// JobRun is the immutable audit record of one job execution.
type JobRun struct {
	Name    string
	TS      time.Time
	OK      bool
	Details map[string]any
}
