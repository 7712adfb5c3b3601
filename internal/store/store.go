// Package store persists tracked types, snapshots, job history and derived
// market data.
//
// Postgres is the production backend. Memory has identical semantics and
// backs tests and the memory database driver.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/rickgao/eve-market/internal/model"
)

// ErrUnknownEntity is returned when an operation names an untracked type.
var ErrUnknownEntity = errors.New("unknown tracked type")

// Store is the full market data store.
type Store interface {
	// UpsertSnapshot appends a snapshot row. Rewriting the same
	// (ts, type, station) key is a no-op.
	UpsertSnapshot(ctx context.Context, snap model.MarketSnapshot) error

	// DueEntities returns up to limit entities whose next refresh is unset
	// or at or before now, stalest first.
	DueEntities(ctx context.Context, now time.Time, limit int) ([]model.TrackedEntity, error)

	// MarkRefreshed sets last_refreshed and recomputes next_refresh.
	MarkRefreshed(ctx context.Context, typeID int64, ts time.Time) error

	// Reclassify sets tier and interval and recomputes next_refresh.
	Reclassify(ctx context.Context, typeID int64, tier model.Tier, interval time.Duration) error

	// SaveRefresh writes a snapshot and marks its type refreshed at snap.TS
	// atomically.
	SaveRefresh(ctx context.Context, snap model.MarketSnapshot) error

	// EnsureEntities tracks every id not already tracked, returning how many
	// were created.
	EnsureEntities(ctx context.Context, typeIDs []int64, tier model.Tier, interval time.Duration) (int, error)

	// Entities returns every tracked entity ordered by type id.
	Entities(ctx context.Context) ([]model.TrackedEntity, error)

	// RefreshTimes returns every non-null last_refreshed.
	RefreshTimes(ctx context.Context) ([]time.Time, error)

	AppendJobRun(ctx context.Context, run model.JobRun) error

	// LastJobRuns returns the latest run time per job name.
	LastJobRuns(ctx context.Context) (map[string]time.Time, error)

	// RecentJobRuns returns up to limit runs, newest first.
	RecentJobRuns(ctx context.Context, limit int) ([]model.JobRun, error)

	UpsertTrend(ctx context.Context, trend model.TypeTrend) error
	Trends(ctx context.Context) (map[int64]model.TypeTrend, error)

	// LatestSnapshots returns the max-timestamp snapshot per type at a station.
	LatestSnapshots(ctx context.Context, stationID int64) (map[int64]model.MarketSnapshot, error)

	// RecentSnapshots returns up to n snapshots per type at a station,
	// newest first.
	RecentSnapshots(ctx context.Context, stationID int64, n int) (map[int64][]model.MarketSnapshot, error)

	UpsertValuations(ctx context.Context, vals []model.Valuation) error

	// ReplaceRecommendations swaps the whole recommendation set.
	ReplaceRecommendations(ctx context.Context, recs []model.Recommendation) error

	// SaveJobSettings upserts schedule overrides in one transaction.
	SaveJobSettings(ctx context.Context, settings []model.JobSetting) error

	// JobSettings returns every persisted override keyed by job name.
	JobSettings(ctx context.Context) (map[string]model.JobSetting, error)

	Ping(ctx context.Context) error
}

func nextRefresh(last *time.Time, interval time.Duration) *time.Time {
	if last == nil {
		return nil
	}
	next := last.Add(interval)
	return &next
}
