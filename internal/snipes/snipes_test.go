package snipes

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/eve-market/internal/model"
	"github.com/rickgao/eve-market/internal/store"
)

const jita = 60003760

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func quote(typeID int64, age time.Duration, bid, ask float64) model.MarketSnapshot {
	return model.MarketSnapshot{
		TS:        now.Add(-age),
		TypeID:    typeID,
		StationID: jita,
		BestBid:   decimal.NewNullDecimal(decimal.NewFromFloat(bid)),
		BestAsk:   decimal.NewNullDecimal(decimal.NewFromFloat(ask)),
		AskUnits:  10,
	}
}

// history returns snapshots newest first: the latest quote followed by
// older ones at the given asks.
func history(typeID int64, bid, latestAsk float64, older ...float64) []model.MarketSnapshot {
	out := []model.MarketSnapshot{quote(typeID, 0, bid, latestAsk)}
	for i, a := range older {
		out = append(out, quote(typeID, time.Duration(i+1)*time.Hour, bid, a))
	}
	return out
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestEvaluate_NearBid(t *testing.T) {
	f := New(DefaultConfig(), nil, nil)
	latest := map[int64]model.MarketSnapshot{
		1: quote(1, 0, 100, 80),  // 25% under the bid
		2: quote(2, 0, 100, 99),  // near the bid but only 1%
		3: quote(3, 0, 100, 120), // ask above bid
		4: {TS: now, TypeID: 4, StationID: jita},
	}

	got := f.Evaluate(latest, nil)
	require.Len(t, got, 1)
	s := got[0]
	assert.Equal(t, int64(1), s.TypeID)
	assert.True(t, s.NearBid)
	assert.False(t, s.Anomaly)
	assert.True(t, decimal.NewFromInt(20).Equal(s.Net))
	assert.InDelta(t, 0.25, s.NetPct, 1e-9)
	assert.EqualValues(t, 10, s.Units)
}

func TestEvaluate_AnomalyAgainstAskHistory(t *testing.T) {
	f := New(DefaultConfig(), nil, nil)

	older := append(repeat(100, 17), 101, 99)
	recent := map[int64][]model.MarketSnapshot{
		3: history(3, 90, 80, older...),
		4: history(4, 90, 85, repeat(85, 19)...),
	}
	latest := map[int64]model.MarketSnapshot{
		3: recent[3][0],
		4: recent[4][0],
	}

	got := f.Evaluate(latest, recent)
	require.Len(t, got, 2)

	assert.Equal(t, int64(3), got[0].TypeID)
	assert.True(t, got[0].Anomaly)
	assert.InDelta(t, 100, got[0].MedianAsk, 1e-9)
	assert.Less(t, got[0].ZScore, -2.0)
	assert.InDelta(t, 0.125, got[0].NetPct, 1e-9)

	// flat history has no spread to score against
	assert.Equal(t, int64(4), got[1].TypeID)
	assert.False(t, got[1].Anomaly)
	assert.Zero(t, got[1].ZScore)
}

func TestEvaluate_WindowBoundsHistory(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Window = 3
	f := New(cfg, nil, nil)

	// only the newest three asks count: 80, 80, 80
	recent := map[int64][]model.MarketSnapshot{
		5: history(5, 90, 80, append(repeat(80, 2), repeat(200, 10)...)...),
	}
	got := f.Evaluate(map[int64]model.MarketSnapshot{5: recent[5][0]}, recent)
	require.Len(t, got, 1)
	assert.InDelta(t, 80, got[0].MedianAsk, 1e-9)
	assert.False(t, got[0].Anomaly)
}

func TestFind_FromStore(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	for _, typeID := range []int64{1, 2, 3} {
		mem.Put(model.TrackedEntity{TypeID: typeID, Tier: model.TierC, UpdateInterval: time.Hour})
	}
	require.NoError(t, mem.UpsertSnapshot(ctx, quote(1, time.Hour, 100, 95)))
	require.NoError(t, mem.UpsertSnapshot(ctx, quote(1, 0, 100, 90)))
	require.NoError(t, mem.UpsertSnapshot(ctx, quote(2, 0, 100, 70)))
	require.NoError(t, mem.UpsertSnapshot(ctx, quote(3, 0, 100, 130)))

	other := quote(2, 0, 100, 10)
	other.StationID = 60008494
	require.NoError(t, mem.UpsertSnapshot(ctx, other))

	f := New(DefaultConfig(), mem, nil)
	got, err := f.Find(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].TypeID)
	assert.Equal(t, int64(1), got[1].TypeID)
	assert.InDelta(t, 92.5, got[1].MedianAsk, 1e-9)

	got, err = f.Find(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestMedian(t *testing.T) {
	assert.Equal(t, 2.0, median([]float64{3, 1, 2}))
	assert.Equal(t, 2.5, median([]float64{4, 1, 3, 2}))

	x := []float64{3, 1, 2}
	median(x)
	assert.Equal(t, []float64{3, 1, 2}, x, "input is not reordered")
}
