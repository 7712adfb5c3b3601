// Package tier maps trailing trade volume to a refresh tier and interval.
package tier

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rickgao/eve-market/internal/model"
)

// Table holds the volume breakpoints and per-tier refresh intervals.
// A volume at or above Breakpoints[t] qualifies for tier t; anything below
// the C breakpoint falls to D.
type Table struct {
	Breakpoints map[model.Tier]float64
	Intervals   map[model.Tier]time.Duration
}

// DefaultTable returns the production breakpoints and intervals.
func DefaultTable() Table {
	return Table{
		Breakpoints: map[model.Tier]float64{
			model.TierA: 5000,
			model.TierB: 1000,
			model.TierC: 100,
		},
		Intervals: map[model.Tier]time.Duration{
			model.TierA: 45 * time.Minute,
			model.TierB: 240 * time.Minute,
			model.TierC: 360 * time.Minute,
			model.TierD: 1440 * time.Minute,
		},
	}
}

// TableFromConfig builds a Table from tier-name keyed maps.
func TableFromConfig(intervalsMinutes map[string]int, breakpoints map[string]float64) Table {
	t := Table{
		Breakpoints: make(map[model.Tier]float64, len(breakpoints)),
		Intervals:   make(map[model.Tier]time.Duration, len(intervalsMinutes)),
	}
	for name, vol := range breakpoints {
		t.Breakpoints[model.Tier(name)] = vol
	}
	for name, minutes := range intervalsMinutes {
		t.Intervals[model.Tier(name)] = time.Duration(minutes) * time.Minute
	}
	return t
}

// Classify returns the fastest tier whose breakpoint volume is met.
// Negative and NaN volumes classify as D.
func (t Table) Classify(volume float64) model.Tier {
	for _, tier := range model.Tiers[:3] {
		if bp, ok := t.Breakpoints[tier]; ok && volume >= bp {
			return tier
		}
	}
	return model.TierD
}

// Interval returns the refresh interval for a tier.
func (t Table) Interval(tier model.Tier) time.Duration {
	return t.Intervals[tier]
}

// Store is the subset of the market store reclassification needs.
type Store interface {
	Entities(ctx context.Context) ([]model.TrackedEntity, error)
	Trends(ctx context.Context) (map[int64]model.TypeTrend, error)
	Reclassify(ctx context.Context, typeID int64, tier model.Tier, interval time.Duration) error
}

// ReclassifyResult summarises one reclassification pass.
type ReclassifyResult struct {
	Checked int
	Changed int
	Moves   map[model.Tier]int // Count of entities moved into each tier
}

// Reclassify re-tiers every tracked entity from its trailing 30-day average
// volume. Entities without a trend are left alone. Only changed rows are
// written.
func Reclassify(ctx context.Context, st Store, table Table, logger *slog.Logger) (ReclassifyResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	res := ReclassifyResult{Moves: model.TierCounts()}

	entities, err := st.Entities(ctx)
	if err != nil {
		return res, fmt.Errorf("load entities: %w", err)
	}
	trends, err := st.Trends(ctx)
	if err != nil {
		return res, fmt.Errorf("load trends: %w", err)
	}

	for _, e := range entities {
		trend, ok := trends[e.TypeID]
		if !ok {
			continue
		}
		res.Checked++

		tier := table.Classify(trend.Vol30dAvg)
		interval := table.Interval(tier)
		if tier == e.Tier && interval == e.UpdateInterval {
			continue
		}

		if err := st.Reclassify(ctx, e.TypeID, tier, interval); err != nil {
			return res, fmt.Errorf("reclassify %d: %w", e.TypeID, err)
		}
		res.Changed++
		res.Moves[tier]++

		logger.Debug("type reclassified",
			"type_id", e.TypeID,
			"from", e.Tier,
			"to", tier,
			"vol_30d", trend.Vol30dAvg,
		)
	}

	return res, nil
}
