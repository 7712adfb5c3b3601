// Package valuation implements the refresh_type_valuations job.
package valuation

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/rickgao/eve-market/internal/events"
	"github.com/rickgao/eve-market/internal/jobs"
	"github.com/rickgao/eve-market/internal/model"
)

// Store is the subset of the market store the job uses.
type Store interface {
	LatestSnapshots(ctx context.Context, stationID int64) (map[int64]model.MarketSnapshot, error)
	UpsertValuations(ctx context.Context, vals []model.Valuation) error
}

// Refresher marks every tracked type to its latest venue snapshot.
type Refresher struct {
	stationID int64
	store     Store
	sink      events.Sink
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Refresher.
func New(stationID int64, st Store, sink events.Sink, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = events.Discard
	}
	return &Refresher{stationID: stationID, store: st, sink: sink, logger: logger, now: time.Now}
}

// Build derives valuations from snapshots. Snapshots with neither side
// quoted are skipped; a missing side values at zero.
func Build(snaps map[int64]model.MarketSnapshot, now time.Time) []model.Valuation {
	vals := make([]model.Valuation, 0, len(snaps))
	for _, s := range snaps {
		if !s.BestBid.Valid && !s.BestAsk.Valid {
			continue
		}
		vals = append(vals, model.Valuation{
			TypeID:       s.TypeID,
			QuicksellBid: s.BestBid.Decimal,
			MarkAsk:      s.BestAsk.Decimal,
			Updated:      now,
		})
	}
	slices.SortFunc(vals, func(a, b model.Valuation) int { return cmp.Compare(a.TypeID, b.TypeID) })
	return vals
}

// Run executes one valuation refresh.
func (r *Refresher) Run(ctx context.Context) (jobs.Result, error) {
	run := jobs.RunFrom(ctx)

	snaps, err := r.store.LatestSnapshots(ctx, r.stationID)
	if err != nil {
		return jobs.Result{}, fmt.Errorf("load latest snapshots: %w", err)
	}
	run.Progress(40, fmt.Sprintf("%d snapshots", len(snaps)))

	vals := Build(snaps, r.now().UTC())
	if err := r.store.UpsertValuations(ctx, vals); err != nil {
		return jobs.Result{}, fmt.Errorf("upsert valuations: %w", err)
	}
	run.Progress(100, "done")

	r.sink.Emit(events.New(events.ValuationsUpdated{Count: len(vals)}))
	r.logger.Info("valuations refreshed", "count", len(vals), "skipped", len(snaps)-len(vals))
	return jobs.Result{
		Items:   len(vals),
		Details: map[string]any{"snapshots": len(snaps)},
	}, nil
}
