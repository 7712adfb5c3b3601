package poller

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/eve-market/internal/esi"
	"github.com/rickgao/eve-market/internal/events"
	"github.com/rickgao/eve-market/internal/model"
	"github.com/rickgao/eve-market/internal/store"
	"github.com/rickgao/eve-market/internal/throttle"
)

const station = 60003760

type fakeOrders struct {
	fail     map[int64]bool
	maxDelay time.Duration
	calls    atomic.Int32
	inflight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeOrders) MarketOrders(ctx context.Context, regionID, typeID int64) ([]esi.Order, error) {
	f.calls.Add(1)
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if f.maxDelay > 0 {
		select {
		case <-time.After(rand.N(f.maxDelay)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fail[typeID] {
		return nil, errors.New("esi error 502: bad gateway")
	}
	return []esi.Order{
		{TypeID: typeID, LocationID: station, IsBuyOrder: true, Price: decimal.NewFromInt(90), VolumeRemain: 5},
		{TypeID: typeID, LocationID: station, IsBuyOrder: false, Price: decimal.NewFromInt(100), VolumeRemain: 7},
	}, nil
}

type fixedSelector int

func (s fixedSelector) SelectWorkers(target int) int { return min(target, int(s)) }

func newTestPoller(orders OrderSource, st Store, sel WorkerSelector, rec *events.Recorder) *Poller {
	cfg := DefaultConfig()
	cfg.MaxBatch = 10
	return New(cfg, orders, st, sel, rec, nil)
}

func tickEvents[T events.Payload](rec *events.Recorder) []T {
	var out []T
	for _, e := range rec.OfType(events.TypeTick) {
		if p, ok := e.Data.(T); ok {
			out = append(out, p)
		}
	}
	return out
}

func TestRunTick_TierScenario(t *testing.T) {
	mem := store.NewMemory()
	mem.Put(model.TrackedEntity{TypeID: 34, Tier: model.TierA, UpdateInterval: 45 * time.Minute})
	mem.Put(model.TrackedEntity{TypeID: 35, Tier: model.TierB, UpdateInterval: 240 * time.Minute})
	mem.Put(model.TrackedEntity{TypeID: 36, Tier: model.TierC, UpdateInterval: 360 * time.Minute})

	rec := &events.Recorder{}
	p := newTestPoller(&fakeOrders{}, mem, fixedSelector(6), rec)

	sum, err := p.RunTick(context.Background())
	require.NoError(t, err)

	starts := tickEvents[events.TickStart](rec)
	require.Len(t, starts, 1)
	assert.Equal(t, map[model.Tier]int{model.TierA: 1, model.TierB: 1, model.TierC: 1, model.TierD: 0}, starts[0].Tiers)
	assert.Equal(t, 3, starts[0].Selected)

	progress := tickEvents[events.TickProgress](rec)
	require.Len(t, progress, 3)
	var dones []int
	for _, ev := range progress {
		assert.Equal(t, 3, ev.Total)
		dones = append(dones, ev.Done)
	}
	assert.ElementsMatch(t, []int{1, 2, 3}, dones)

	finishes := tickEvents[events.TickFinish](rec)
	require.Len(t, finishes, 1)
	fin := finishes[0]
	assert.True(t, fin.OK)
	assert.Equal(t, 3, fin.ItemsWritten)
	assert.Equal(t, 3, fin.UniqueTypesTouched)
	assert.Equal(t, 0, fin.Errors)
	assert.Equal(t, 3, fin.Refreshed10m)
	assert.Equal(t, 3, sum.Succeeded)

	for _, e := range rec.OfType(events.TypeTick) {
		b, err := e.MarshalJSON()
		require.NoError(t, err)
		assert.Contains(t, string(b), `"job":"scheduler_tick"`)
		assert.Contains(t, string(b), `"phase":`)
	}

	snaps := mem.Snapshots()
	require.Len(t, snaps, 3)
	for _, s := range snaps {
		assert.True(t, s.BestBid.Valid)
		assert.True(t, s.BestBid.Decimal.Equal(decimal.NewFromInt(90)))
		assert.True(t, s.BestAsk.Decimal.Equal(decimal.NewFromInt(100)))
	}

	e, ok := mem.Entity(34)
	require.True(t, ok)
	require.NotNil(t, e.LastRefreshed)
	require.NotNil(t, e.NextRefresh)
	assert.Equal(t, 45*time.Minute, e.NextRefresh.Sub(*e.LastRefreshed))

	runs := mem.JobRuns()
	require.Len(t, runs, 1)
	assert.Equal(t, events.TickJob, runs[0].Name)
	assert.True(t, runs[0].OK)
	assert.Equal(t, 3, runs[0].Details["items_written"])
}

func TestRunTick_CountersExactUnderRandomDelay(t *testing.T) {
	for trial := 0; trial < 10; trial++ {
		mem := store.NewMemory()
		fail := map[int64]bool{}
		const n = 25
		for id := int64(1); id <= n; id++ {
			mem.Put(model.TrackedEntity{TypeID: id, Tier: model.TierD, UpdateInterval: 24 * time.Hour})
			if id%4 == 0 {
				fail[id] = true
			}
		}
		orders := &fakeOrders{fail: fail, maxDelay: 3 * time.Millisecond}
		rec := &events.Recorder{}
		cfg := DefaultConfig()
		cfg.MaxBatch = 100
		p := New(cfg, orders, mem, fixedSelector(4), rec, nil)

		sum, err := p.RunTick(context.Background())
		require.NoError(t, err)

		fin := tickEvents[events.TickFinish](rec)
		require.Len(t, fin, 1)
		if fin[0].Errors != len(fail) || fin[0].ItemsWritten != n {
			t.Fatalf("trial %d: errors=%d items=%d, want %d/%d", trial, fin[0].Errors, fin[0].ItemsWritten, len(fail), n)
		}
		assert.Equal(t, n-len(fail), sum.Succeeded)
		assert.LessOrEqual(t, orders.peak.Load(), int32(4))
		assert.Len(t, tickEvents[events.TickProgress](rec), n)
	}
}

func TestRunTick_FailedEntityStaysDue(t *testing.T) {
	mem := store.NewMemory()
	mem.Put(model.TrackedEntity{TypeID: 1, Tier: model.TierA, UpdateInterval: 45 * time.Minute})
	mem.Put(model.TrackedEntity{TypeID: 2, Tier: model.TierA, UpdateInterval: 45 * time.Minute})

	p := newTestPoller(&fakeOrders{fail: map[int64]bool{2: true}}, mem, nil, &events.Recorder{})
	sum, err := p.RunTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Errors)

	due, err := mem.DueEntities(context.Background(), time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, int64(2), due[0].TypeID)
}

func TestRunTick_UsesControllerBudget(t *testing.T) {
	budget := throttle.NewErrorBudget()
	budget.Observe(2, time.Minute)
	ctrl := throttle.NewController(throttle.DefaultControllerConfig(), budget)

	mem := store.NewMemory()
	for id := int64(1); id <= 10; id++ {
		mem.Put(model.TrackedEntity{TypeID: id, Tier: model.TierB, UpdateInterval: time.Hour})
	}
	rec := &events.Recorder{}
	p := newTestPoller(&fakeOrders{}, mem, ctrl, rec)

	sum, err := p.RunTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, sum.Workers)
	assert.Equal(t, 5, tickEvents[events.TickStart](rec)[0].Workers)
}

type brokenStore struct{ *store.Memory }

func (brokenStore) DueEntities(context.Context, time.Time, int) ([]model.TrackedEntity, error) {
	return nil, errors.New("connection refused")
}

func TestRunTick_FatalIsRecordedAndReturned(t *testing.T) {
	mem := store.NewMemory()
	rec := &events.Recorder{}
	p := newTestPoller(&fakeOrders{}, brokenStore{mem}, nil, rec)

	_, err := p.RunTick(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	fin := tickEvents[events.TickFinish](rec)
	require.Len(t, fin, 1)
	assert.False(t, fin[0].OK)
	assert.NotEmpty(t, fin[0].Error)

	runs := mem.JobRuns()
	require.Len(t, runs, 1)
	assert.False(t, runs[0].OK)
}

func TestRunTick_Empty(t *testing.T) {
	mem := store.NewMemory()
	rec := &events.Recorder{}
	p := newTestPoller(&fakeOrders{}, mem, nil, rec)

	sum, err := p.RunTick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sum.Selected)
	assert.Empty(t, tickEvents[events.TickProgress](rec))
	assert.Len(t, tickEvents[events.TickFinish](rec), 1)
}

func TestRefreshStats_Median(t *testing.T) {
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	mem := store.NewMemory()
	for i, ago := range []time.Duration{5 * time.Minute, 30 * time.Minute, 3 * time.Hour} {
		ts := now.Add(-ago)
		mem.Put(model.TrackedEntity{TypeID: int64(i + 1), Tier: model.TierA, UpdateInterval: 45 * time.Minute, LastRefreshed: &ts})
	}
	p := newTestPoller(&fakeOrders{}, mem, nil, &events.Recorder{})
	p.now = func() time.Time { return now }

	var sum Summary
	p.refreshStats(context.Background(), &sum)
	assert.Equal(t, 1, sum.Refreshed10m)
	assert.Equal(t, 2, sum.Refreshed60m)
	assert.InDelta(t, 1800, sum.MedianAgeS, 0.001)
}

func TestJob_ReportsItems(t *testing.T) {
	mem := store.NewMemory()
	mem.Put(model.TrackedEntity{TypeID: 7, Tier: model.TierA, UpdateInterval: 45 * time.Minute})
	p := newTestPoller(&fakeOrders{}, mem, nil, &events.Recorder{})

	res, err := p.Job(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Items)
	assert.Equal(t, 1, res.Details["selected"])
}
