package recommend

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

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func quote(typeID int64, age time.Duration, bid, ask float64) model.MarketSnapshot {
	return model.MarketSnapshot{
		TS:        now.Add(-age),
		TypeID:    typeID,
		StationID: 60003760,
		BestBid:   decimal.NewNullDecimal(decimal.NewFromFloat(bid)),
		BestAsk:   decimal.NewNullDecimal(decimal.NewFromFloat(ask)),
	}
}

func fixtures() (map[int64]model.MarketSnapshot, map[int64]model.TypeTrend) {
	snaps := map[int64]model.MarketSnapshot{
		1: quote(1, time.Minute, 90, 100), // 10%
		2: quote(2, time.Minute, 99, 100), // 1%
		3: quote(3, 5*time.Hour, 80, 100), // 20%, stale
		4: quote(4, time.Minute, 95, 100), // 5%, low volume
		5: quote(5, time.Minute, 70, 100), // 30%, no trend

		6: {TS: now, TypeID: 6, StationID: 60003760},
	}
	trends := map[int64]model.TypeTrend{
		1: {TypeID: 1, MomPct: 0.05, Vol30dAvg: 1000},
		2: {TypeID: 2, MomPct: 0.05, Vol30dAvg: 1000},
		3: {TypeID: 3, MomPct: 0.05, Vol30dAvg: 1000},
		4: {TypeID: 4, MomPct: 0.05, Vol30dAvg: 10},
	}
	return snaps, trends
}

func ids(recs []model.Recommendation) []int64 {
	out := make([]int64, len(recs))
	for i, r := range recs {
		out[i] = r.TypeID
	}
	return out
}

func TestEvaluate_ProfitOnly(t *testing.T) {
	s := New(Config{Mode: ModeProfitOnly, MinSpread: 0.02}, nil, nil)
	snaps, trends := fixtures()

	recs, rej := s.Evaluate(snaps, trends, now)
	assert.Equal(t, []int64{5, 3, 1, 4}, ids(recs))
	assert.Equal(t, 1, rej.Spread)
	assert.Equal(t, 1, rej.Unquoted)
	assert.InDelta(t, 0.30, recs[0].SpreadPct, 1e-9)
}

func TestEvaluate_Gated(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeGated
	cfg.MinVolume = 100
	cfg.MaxStaleness = time.Hour
	s := New(cfg, nil, nil)
	snaps, trends := fixtures()

	recs, rej := s.Evaluate(snaps, trends, now)
	assert.Equal(t, []int64{1}, ids(recs))
	assert.Equal(t, Rejections{Unquoted: 1, NoTrend: 1, Volume: 1, Stale: 1, Spread: 1}, rej)
}

func TestEvaluate_MomentumGateAndTieBreak(t *testing.T) {
	s := New(Config{Mode: ModeGated, MinMomentum: 0.01, MinSpread: 0.01}, nil, nil)
	snaps := map[int64]model.MarketSnapshot{
		7: quote(7, 0, 90, 100),
		8: quote(8, 0, 90, 100),
		9: quote(9, 0, 90, 100),
	}
	trends := map[int64]model.TypeTrend{
		7: {MomPct: 0.02},
		8: {MomPct: 0.10},
		9: {MomPct: -0.5},
	}
	recs, rej := s.Evaluate(snaps, trends, now)
	assert.Equal(t, []int64{8, 7}, ids(recs))
	assert.Equal(t, 1, rej.Momentum)
}

func TestEvaluate_Limit(t *testing.T) {
	s := New(Config{Mode: ModeProfitOnly, Limit: 2}, nil, nil)
	snaps, trends := fixtures()
	recs, _ := s.Evaluate(snaps, trends, now)
	assert.Len(t, recs, 2)
}

func TestRun_ReplacesTable(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	snaps, trends := fixtures()
	for _, snap := range snaps {
		require.NoError(t, mem.UpsertSnapshot(ctx, snap))
	}
	for _, tr := range trends {
		require.NoError(t, mem.UpsertTrend(ctx, tr))
	}
	require.NoError(t, mem.ReplaceRecommendations(ctx, []model.Recommendation{{TypeID: 999}}))

	s := New(Config{StationID: 60003760, Mode: ModeProfitOnly, MinSpread: 0.02}, mem, nil)
	s.now = func() time.Time { return now }
	res, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Items)

	got := mem.Recommendations()
	assert.Equal(t, []int64{5, 3, 1, 4}, ids(got))
	assert.Equal(t, "profit_only", got[0].Rationale["mode"])
}
