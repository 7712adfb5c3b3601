// Package trends implements the refresh_trends job: it seeds the tracked
// catalog, derives 30-day momentum and volume from daily history and
// re-tiers entities from the new volumes.
package trends

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/rickgao/eve-market/internal/esi"
	"github.com/rickgao/eve-market/internal/jobs"
	"github.com/rickgao/eve-market/internal/model"
	"github.com/rickgao/eve-market/internal/tier"
)

// Window is the number of days in each momentum half.
const Window = 30

// MarketAPI is the subset of the ESI client the job uses.
type MarketAPI interface {
	MarketTypes(ctx context.Context, regionID int64, etag string) (*esi.TypeList, error)
	MarketHistory(ctx context.Context, regionID, typeID int64) ([]esi.HistoryDay, error)
}

// Store is the subset of the market store the job uses.
type Store interface {
	tier.Store
	EnsureEntities(ctx context.Context, typeIDs []int64, tier model.Tier, interval time.Duration) (int, error)
	UpsertTrend(ctx context.Context, trend model.TypeTrend) error
}

// Config holds trend refresh configuration.
type Config struct {
	RegionID    int64
	MaxTypes    int        // Entities whose history is fetched per run (default: 300)
	Concurrency int        // Parallel history fetches (default: 4)
	SeedCatalog bool       // Create tracked entities from the region's type list
	SeedTier    model.Tier // Tier of newly seeded entities (default: D)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		RegionID:    10000002,
		MaxTypes:    300,
		Concurrency: 4,
		SeedCatalog: true,
		SeedTier:    model.TierD,
	}
}

// Refresher runs the refresh_trends job.
type Refresher struct {
	cfg    Config
	api    MarketAPI
	store  Store
	table  tier.Table
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	etag      string
	attempted map[int64]time.Time // Last pick per type, including short histories
}

// New creates a Refresher.
func New(cfg Config, api MarketAPI, st Store, table tier.Table, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxTypes < 1 {
		cfg.MaxTypes = DefaultConfig().MaxTypes
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	if !cfg.SeedTier.Valid() {
		cfg.SeedTier = model.TierD
	}
	return &Refresher{
		cfg:       cfg,
		api:       api,
		store:     st,
		table:     table,
		logger:    logger,
		now:       time.Now,
		attempted: make(map[int64]time.Time),
	}
}

// Momentum computes the month-over-month change of the mean daily average
// price and the mean daily volume of both halves. It needs at least two
// full windows of history, oldest first.
func Momentum(days []esi.HistoryDay) (mom, volNow, volPrev float64, ok bool) {
	if len(days) < 2*Window {
		return 0, 0, 0, false
	}
	last := days[len(days)-Window:]
	prev := days[len(days)-2*Window : len(days)-Window]

	avgNow := stat.Mean(averages(last), nil)
	avgPrev := stat.Mean(averages(prev), nil)
	if avgPrev == 0 {
		return 0, 0, 0, false
	}
	return avgNow/avgPrev - 1, stat.Mean(volumes(last), nil), stat.Mean(volumes(prev), nil), true
}

func averages(days []esi.HistoryDay) []float64 {
	out := make([]float64, len(days))
	for i, d := range days {
		out[i] = d.Average
	}
	return out
}

func volumes(days []esi.HistoryDay) []float64 {
	out := make([]float64, len(days))
	for i, d := range days {
		out[i] = float64(d.Volume)
	}
	return out
}

// Run executes one refresh.
func (r *Refresher) Run(ctx context.Context) (jobs.Result, error) {
	run := jobs.RunFrom(ctx)
	details := map[string]any{}

	if r.cfg.SeedCatalog {
		created, err := r.seed(ctx)
		if err != nil {
			return jobs.Result{}, err
		}
		details["seeded"] = created
		if created > 0 {
			run.Logf("info", "seeded %d new types", created)
		}
	}
	run.Progress(5, "catalog")

	targets, err := r.targets(ctx)
	if err != nil {
		return jobs.Result{}, err
	}
	details["targets"] = len(targets)

	var (
		done    atomic.Int64
		written atomic.Int64
		failed  atomic.Int64
		short   atomic.Int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for _, typeID := range targets {
		g.Go(func() error {
			defer func() {
				n := done.Add(1)
				run.Progress(5+int(n)*85/len(targets), fmt.Sprintf("history %d/%d", n, len(targets)))
			}()

			wrote, err := r.refreshOne(gctx, typeID)
			switch {
			case err != nil:
				failed.Add(1)
				r.logger.Warn("failed to refresh trend", "type_id", typeID, "error", err)
				run.Logf("warn", "type %d: %v", typeID, err)
			case wrote:
				written.Add(1)
			default:
				short.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return jobs.Result{}, fmt.Errorf("refresh trends: %w", err)
	}
	details["written"] = written.Load()
	details["errors"] = failed.Load()
	details["insufficient_history"] = short.Load()

	if n := len(targets); n > 0 && failed.Load() == int64(n) {
		return jobs.Result{Details: details}, fmt.Errorf("all %d history fetches failed", n)
	}

	res, err := tier.Reclassify(ctx, r.store, r.table, r.logger)
	if err != nil {
		return jobs.Result{Details: details}, fmt.Errorf("reclassify tiers: %w", err)
	}
	details["reclassified"] = res.Changed
	run.Progress(100, "done")
	run.Logf("info", "%d trends written, %d reclassified", written.Load(), res.Changed)

	r.logger.Info("trends refreshed",
		"targets", len(targets),
		"written", written.Load(),
		"errors", failed.Load(),
		"reclassified", res.Changed,
	)
	return jobs.Result{Items: int(written.Load()), Details: details}, nil
}

// seed creates tracked entities for catalog types not yet tracked. New
// entities keep the seed tier until their first trend is known.
func (r *Refresher) seed(ctx context.Context) (int, error) {
	r.mu.Lock()
	etag := r.etag
	r.mu.Unlock()

	list, err := r.api.MarketTypes(ctx, r.cfg.RegionID, etag)
	if err != nil {
		return 0, fmt.Errorf("fetch type catalog: %w", err)
	}
	if list.NotModified {
		return 0, nil
	}

	created, err := r.store.EnsureEntities(ctx, list.TypeIDs, r.cfg.SeedTier, r.table.Interval(r.cfg.SeedTier))
	if err != nil {
		return 0, fmt.Errorf("seed entities: %w", err)
	}

	r.mu.Lock()
	r.etag = list.ETag
	r.mu.Unlock()
	return created, nil
}

// targets picks up to MaxTypes entities, least recently looked at first.
// A type is touched when it was last picked or its trend was last written,
// so types with too little history rotate out instead of holding the front
// of the list. Ties go to the fastest tier, then the lowest id.
func (r *Refresher) targets(ctx context.Context) ([]int64, error) {
	entities, err := r.store.Entities(ctx)
	if err != nil {
		return nil, fmt.Errorf("load entities: %w", err)
	}
	trends, err := r.store.Trends(ctx)
	if err != nil {
		return nil, fmt.Errorf("load trends: %w", err)
	}

	type candidate struct {
		entity  model.TrackedEntity
		touched time.Time
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cands := make([]candidate, len(entities))
	for i, e := range entities {
		touched := r.attempted[e.TypeID]
		if t, ok := trends[e.TypeID]; ok && t.LastHistoryTS.After(touched) {
			touched = t.LastHistoryTS
		}
		cands[i] = candidate{entity: e, touched: touched}
	}
	slices.SortFunc(cands, func(a, b candidate) int {
		if c := a.touched.Compare(b.touched); c != 0 {
			return c
		}
		if c := cmp.Compare(a.entity.Tier, b.entity.Tier); c != 0 {
			return c
		}
		return cmp.Compare(a.entity.TypeID, b.entity.TypeID)
	})
	if len(cands) > r.cfg.MaxTypes {
		cands = cands[:r.cfg.MaxTypes]
	}

	now := r.now()
	ids := make([]int64, len(cands))
	for i, c := range cands {
		ids[i] = c.entity.TypeID
		r.attempted[c.entity.TypeID] = now
	}
	return ids, nil
}

// refreshOne reports whether a trend was written.
func (r *Refresher) refreshOne(ctx context.Context, typeID int64) (bool, error) {
	days, err := r.api.MarketHistory(ctx, r.cfg.RegionID, typeID)
	if err != nil {
		return false, err
	}
	mom, volNow, volPrev, ok := Momentum(days)
	if !ok {
		return false, nil
	}
	err = r.store.UpsertTrend(ctx, model.TypeTrend{
		TypeID:        typeID,
		LastHistoryTS: r.now().UTC(),
		MomPct:        mom,
		Vol30dAvg:     volNow,
		VolPrev30Avg:  volPrev,
	})
	if err != nil {
		return false, fmt.Errorf("upsert trend: %w", err)
	}
	return true, nil
}
