package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/rickgao/eve-market/internal/model"
)

type snapKey struct {
	ts        time.Time
	typeID    int64
	stationID int64
}

type latestKey struct {
	typeID    int64
	stationID int64
}

// Memory is an in-process Store.
type Memory struct {
	mu        sync.RWMutex
	entities  map[int64]model.TrackedEntity
	snapshots []model.MarketSnapshot
	snapKeys  map[snapKey]struct{}
	latest    map[latestKey]model.MarketSnapshot
	runs      []model.JobRun
	trends    map[int64]model.TypeTrend
	vals      map[int64]model.Valuation
	recs      []model.Recommendation
	settings  map[string]model.JobSetting
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		entities: make(map[int64]model.TrackedEntity),
		snapKeys: make(map[snapKey]struct{}),
		latest:   make(map[latestKey]model.MarketSnapshot),
		trends:   make(map[int64]model.TypeTrend),
		vals:     make(map[int64]model.Valuation),
		settings: make(map[string]model.JobSetting),
	}
}

// Put inserts or replaces an entity, recomputing next_refresh.
func (m *Memory) Put(e model.TrackedEntity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.NextRefresh = nextRefresh(e.LastRefreshed, e.UpdateInterval)
	m.entities[e.TypeID] = e
}

// Entity returns one tracked entity.
func (m *Memory) Entity(typeID int64) (model.TrackedEntity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entities[typeID]
	return e, ok
}

// Snapshots returns every snapshot written, in write order.
func (m *Memory) Snapshots() []model.MarketSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.snapshots)
}

// JobRuns returns every job run appended, oldest first.
func (m *Memory) JobRuns() []model.JobRun {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.runs)
}

// Valuations returns the current valuations by type.
func (m *Memory) Valuations() map[int64]model.Valuation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.vals)
}

// Recommendations returns the current recommendation set.
func (m *Memory) Recommendations() []model.Recommendation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.recs)
}

func (m *Memory) UpsertSnapshot(_ context.Context, snap model.MarketSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendSnapshot(snap)
	return nil
}

func (m *Memory) appendSnapshot(snap model.MarketSnapshot) {
	k := snapKey{snap.TS, snap.TypeID, snap.StationID}
	if _, ok := m.snapKeys[k]; ok {
		return
	}
	m.snapKeys[k] = struct{}{}
	m.snapshots = append(m.snapshots, snap)

	lk := latestKey{snap.TypeID, snap.StationID}
	if cur, ok := m.latest[lk]; !ok || snap.TS.After(cur.TS) {
		m.latest[lk] = snap
	}
}

func (m *Memory) DueEntities(_ context.Context, now time.Time, limit int) ([]model.TrackedEntity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var due []model.TrackedEntity
	for _, e := range m.entities {
		if e.Due(now) {
			due = append(due, e)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		a, b := due[i].LastRefreshed, due[j].LastRefreshed
		switch {
		case a == nil && b != nil:
			return true
		case a != nil && b == nil:
			return false
		case a != nil && b != nil && !a.Equal(*b):
			return a.Before(*b)
		}
		return due[i].TypeID < due[j].TypeID
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *Memory) MarkRefreshed(_ context.Context, typeID int64, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markRefreshed(typeID, ts)
}

func (m *Memory) markRefreshed(typeID int64, ts time.Time) error {
	e, ok := m.entities[typeID]
	if !ok {
		return fmt.Errorf("mark refreshed %d: %w", typeID, ErrUnknownEntity)
	}
	e.LastRefreshed = &ts
	e.NextRefresh = nextRefresh(e.LastRefreshed, e.UpdateInterval)
	m.entities[typeID] = e
	return nil
}

func (m *Memory) Reclassify(_ context.Context, typeID int64, tier model.Tier, interval time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entities[typeID]
	if !ok {
		return fmt.Errorf("reclassify %d: %w", typeID, ErrUnknownEntity)
	}
	e.Tier = tier
	e.UpdateInterval = interval
	e.NextRefresh = nextRefresh(e.LastRefreshed, interval)
	m.entities[typeID] = e
	return nil
}

func (m *Memory) SaveRefresh(_ context.Context, snap model.MarketSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entities[snap.TypeID]; !ok {
		return fmt.Errorf("save refresh %d: %w", snap.TypeID, ErrUnknownEntity)
	}
	m.appendSnapshot(snap)
	return m.markRefreshed(snap.TypeID, snap.TS)
}

func (m *Memory) EnsureEntities(_ context.Context, typeIDs []int64, tier model.Tier, interval time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	created := 0
	for _, id := range typeIDs {
		if _, ok := m.entities[id]; ok {
			continue
		}
		m.entities[id] = model.TrackedEntity{TypeID: id, Tier: tier, UpdateInterval: interval}
		created++
	}
	return created, nil
}

func (m *Memory) Entities(_ context.Context) ([]model.TrackedEntity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.TrackedEntity, 0, len(m.entities))
	for _, e := range m.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TypeID < out[j].TypeID })
	return out, nil
}

func (m *Memory) RefreshTimes(_ context.Context) ([]time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []time.Time
	for _, e := range m.entities {
		if e.LastRefreshed != nil {
			out = append(out, *e.LastRefreshed)
		}
	}
	return out, nil
}

func (m *Memory) AppendJobRun(_ context.Context, run model.JobRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

func (m *Memory) LastJobRuns(_ context.Context) (map[string]time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]time.Time)
	for _, r := range m.runs {
		if cur, ok := out[r.Name]; !ok || r.TS.After(cur) {
			out[r.Name] = r.TS
		}
	}
	return out, nil
}

func (m *Memory) RecentJobRuns(_ context.Context, limit int) ([]model.JobRun, error) {
	if limit <= 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.JobRun, 0, min(limit, len(m.runs)))
	for i := len(m.runs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.runs[i])
	}
	return out, nil
}

func (m *Memory) UpsertTrend(_ context.Context, trend model.TypeTrend) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trends[trend.TypeID] = trend
	return nil
}

func (m *Memory) Trends(_ context.Context) (map[int64]model.TypeTrend, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.trends), nil
}

func (m *Memory) LatestSnapshots(_ context.Context, stationID int64) (map[int64]model.MarketSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[int64]model.MarketSnapshot)
	for k, snap := range m.latest {
		if k.stationID == stationID {
			out[k.typeID] = snap
		}
	}
	return out, nil
}

func (m *Memory) RecentSnapshots(_ context.Context, stationID int64, n int) (map[int64][]model.MarketSnapshot, error) {
	out := make(map[int64][]model.MarketSnapshot)
	if n <= 0 {
		return out, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, snap := range m.snapshots {
		if snap.StationID == stationID {
			out[snap.TypeID] = append(out[snap.TypeID], snap)
		}
	}
	for typeID, snaps := range out {
		slices.SortFunc(snaps, func(a, b model.MarketSnapshot) int { return b.TS.Compare(a.TS) })
		if len(snaps) > n {
			out[typeID] = snaps[:n]
		}
	}
	return out, nil
}

func (m *Memory) UpsertValuations(_ context.Context, vals []model.Valuation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range vals {
		m.vals[v.TypeID] = v
	}
	return nil
}

func (m *Memory) ReplaceRecommendations(_ context.Context, recs []model.Recommendation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = slices.Clone(recs)
	return nil
}

func (m *Memory) SaveJobSettings(_ context.Context, settings []model.JobSetting) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, set := range settings {
		m.settings[set.Name] = set
	}
	return nil
}

func (m *Memory) JobSettings(_ context.Context) (map[string]model.JobSetting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.settings), nil
}

func (m *Memory) Ping(context.Context) error { return nil }
