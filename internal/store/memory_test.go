package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/eve-market/internal/model"
)

var t0 = time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

func ptr(t time.Time) *time.Time { return &t }

func TestMemory_DueEntitiesOrdering(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	m.Put(model.TrackedEntity{TypeID: 1, Tier: model.TierA, UpdateInterval: time.Hour, LastRefreshed: ptr(t0.Add(-2 * time.Hour))})
	m.Put(model.TrackedEntity{TypeID: 2, Tier: model.TierB, UpdateInterval: time.Hour})
	m.Put(model.TrackedEntity{TypeID: 3, Tier: model.TierC, UpdateInterval: time.Hour, LastRefreshed: ptr(t0.Add(-3 * time.Hour))})
	m.Put(model.TrackedEntity{TypeID: 4, Tier: model.TierD, UpdateInterval: time.Hour, LastRefreshed: ptr(t0.Add(-10 * time.Minute))}) // not due
	m.Put(model.TrackedEntity{TypeID: 5, Tier: model.TierB, UpdateInterval: time.Hour})

	due, err := m.DueEntities(ctx, t0, 10)
	require.NoError(t, err)

	ids := make([]int64, len(due))
	for i, e := range due {
		ids[i] = e.TypeID
	}
	assert.Equal(t, []int64{2, 5, 3, 1}, ids, "nulls first, then stalest")

	due, err = m.DueEntities(ctx, t0, 2)
	require.NoError(t, err)
	assert.Len(t, due, 2)
}

func TestMemory_NextRefreshDerived(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Put(model.TrackedEntity{TypeID: 34, Tier: model.TierC, UpdateInterval: 6 * time.Hour})

	e, _ := m.Entity(34)
	assert.Nil(t, e.NextRefresh)

	require.NoError(t, m.MarkRefreshed(ctx, 34, t0))
	e, _ = m.Entity(34)
	require.NotNil(t, e.NextRefresh)
	assert.Equal(t, t0.Add(6*time.Hour), *e.NextRefresh)

	require.NoError(t, m.Reclassify(ctx, 34, model.TierA, 45*time.Minute))
	e, _ = m.Entity(34)
	assert.Equal(t, model.TierA, e.Tier)
	assert.Equal(t, t0.Add(45*time.Minute), *e.NextRefresh)

	assert.ErrorIs(t, m.MarkRefreshed(ctx, 99, t0), ErrUnknownEntity)
	assert.ErrorIs(t, m.Reclassify(ctx, 99, model.TierA, time.Hour), ErrUnknownEntity)
}

func TestMemory_SaveRefreshAndLatest(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Put(model.TrackedEntity{TypeID: 34, Tier: model.TierC, UpdateInterval: time.Hour})

	older := model.MarketSnapshot{TS: t0, TypeID: 34, StationID: 1, BestBid: decimal.NewNullDecimal(decimal.NewFromInt(5))}
	newer := model.MarketSnapshot{TS: t0.Add(time.Minute), TypeID: 34, StationID: 1, BestBid: decimal.NewNullDecimal(decimal.NewFromInt(6))}

	require.NoError(t, m.SaveRefresh(ctx, newer))
	require.NoError(t, m.SaveRefresh(ctx, older))
	require.NoError(t, m.UpsertSnapshot(ctx, older), "duplicate key is a no-op")

	assert.Len(t, m.Snapshots(), 2)

	latest, err := m.LatestSnapshots(ctx, 1)
	require.NoError(t, err)
	assert.True(t, latest[34].BestBid.Decimal.Equal(decimal.NewFromInt(6)))

	other, err := m.LatestSnapshots(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, other)

	err = m.SaveRefresh(ctx, model.MarketSnapshot{TS: t0, TypeID: 99, StationID: 1})
	assert.ErrorIs(t, err, ErrUnknownEntity)
	assert.Len(t, m.Snapshots(), 2, "nothing written for unknown type")
}

func TestMemory_EnsureEntities(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Put(model.TrackedEntity{TypeID: 34, Tier: model.TierA, UpdateInterval: 45 * time.Minute})

	created, err := m.EnsureEntities(ctx, []int64{34, 35, 36}, model.TierC, 6*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	all, err := m.Entities(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, model.TierA, all[0].Tier, "existing entity untouched")
	assert.Equal(t, model.TierC, all[1].Tier)
	assert.Equal(t, 6*time.Hour, all[2].UpdateInterval)
}

func TestMemory_JobRuns(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.AppendJobRun(ctx, model.JobRun{Name: "a", TS: t0, OK: true}))
	require.NoError(t, m.AppendJobRun(ctx, model.JobRun{Name: "b", TS: t0.Add(time.Minute), OK: false}))
	require.NoError(t, m.AppendJobRun(ctx, model.JobRun{Name: "a", TS: t0.Add(2 * time.Minute), OK: true}))

	last, err := m.LastJobRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(2*time.Minute), last["a"])
	assert.Equal(t, t0.Add(time.Minute), last["b"])

	recent, err := m.RecentJobRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "a", recent[0].Name)
	assert.Equal(t, "b", recent[1].Name)

	none, err := m.RecentJobRuns(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemory_RefreshTimes(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Put(model.TrackedEntity{TypeID: 1, UpdateInterval: time.Hour, LastRefreshed: ptr(t0)})
	m.Put(model.TrackedEntity{TypeID: 2, UpdateInterval: time.Hour})

	times, err := m.RefreshTimes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{t0}, times)
}

func TestMemory_DerivedTables(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.UpsertTrend(ctx, model.TypeTrend{TypeID: 34, MomPct: 0.1}))
	require.NoError(t, m.UpsertTrend(ctx, model.TypeTrend{TypeID: 34, MomPct: 0.2}))
	trends, err := m.Trends(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.2, trends[34].MomPct)

	require.NoError(t, m.UpsertValuations(ctx, []model.Valuation{{TypeID: 34, MarkAsk: decimal.NewFromInt(5)}}))
	assert.Len(t, m.Valuations(), 1)

	require.NoError(t, m.ReplaceRecommendations(ctx, []model.Recommendation{{TypeID: 1}, {TypeID: 2}}))
	require.NoError(t, m.ReplaceRecommendations(ctx, []model.Recommendation{{TypeID: 3}}))
	recs := m.Recommendations()
	require.Len(t, recs, 1)
	assert.Equal(t, int64(3), recs[0].TypeID)

	assert.NoError(t, m.Ping(ctx))
}
