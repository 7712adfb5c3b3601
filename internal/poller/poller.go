package poller

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/rickgao/eve-market/internal/esi"
	"github.com/rickgao/eve-market/internal/events"
	"github.com/rickgao/eve-market/internal/jobs"
	"github.com/rickgao/eve-market/internal/model"
)

// OrderSource fetches every regional order for one type.
type OrderSource interface {
	MarketOrders(ctx context.Context, regionID, typeID int64) ([]esi.Order, error)
}

// Store is the subset of the market store a tick needs.
type Store interface {
	DueEntities(ctx context.Context, now time.Time, limit int) ([]model.TrackedEntity, error)
	SaveRefresh(ctx context.Context, snap model.MarketSnapshot) error
	RefreshTimes(ctx context.Context) ([]time.Time, error)
	AppendJobRun(ctx context.Context, run model.JobRun) error
}

// WorkerSelector sizes the pool for one tick.
type WorkerSelector interface {
	SelectWorkers(target int) int
}

// Config holds tick configuration.
type Config struct {
	RegionID    int64         // Region whose order book is fetched
	StationID   int64         // Venue the snapshot is filtered to
	MaxBatch    int           // Max entities per tick (default: 150)
	Workers     int           // Worker target handed to the selector (default: 6)
	TaskTimeout time.Duration // Deadline for one entity refresh (default: 2m)
}

// DefaultConfig returns sensible defaults for The Forge / Jita 4-4.
func DefaultConfig() Config {
	return Config{
		RegionID:    10000002,
		StationID:   60003760,
		MaxBatch:    150,
		Workers:     6,
		TaskTimeout: 2 * time.Minute,
	}
}

// Poller runs refresh ticks.
type Poller struct {
	cfg      Config
	orders   OrderSource
	store    Store
	selector WorkerSelector
	sink     events.Sink
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a new Poller.
func New(cfg Config, orders OrderSource, st Store, selector WorkerSelector, sink events.Sink, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = events.Discard
	}
	if cfg.MaxBatch < 1 {
		cfg.MaxBatch = DefaultConfig().MaxBatch
	}
	if cfg.Workers < 1 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = DefaultConfig().TaskTimeout
	}
	return &Poller{
		cfg:      cfg,
		orders:   orders,
		store:    st,
		selector: selector,
		sink:     sink,
		logger:   logger,
		now:      time.Now,
	}
}

// Summary is the outcome of one tick.
type Summary struct {
	RunID              string
	Selected           int
	Workers            int
	ItemsWritten       int
	Succeeded          int
	UniqueTypesTouched int
	Errors             int
	Duration           time.Duration
	Refreshed10m       int
	Refreshed60m       int
	MedianAgeS         float64
}

// Job adapts RunTick to the job queue.
func (p *Poller) Job(ctx context.Context) (jobs.Result, error) {
	sum, err := p.RunTick(ctx)
	if err != nil {
		return jobs.Result{}, err
	}
	return jobs.Result{
		Items: sum.ItemsWritten,
		Details: map[string]any{
			"tick_run_id": sum.RunID,
			"selected":    sum.Selected,
			"workers":     sum.Workers,
			"succeeded":   sum.Succeeded,
			"errors":      sum.Errors,
		},
	}, nil
}

// RunTick executes one SELECT, DISPATCH, AWAIT, SUMMARIZE cycle. Per-entity
// failures are counted; only a failure of the tick itself is returned, after
// it has been recorded as a failed run.
func (p *Poller) RunTick(ctx context.Context) (Summary, error) {
	start := p.now()
	sum := Summary{RunID: "tick-" + uuid.NewString()[:8]}
	run := jobs.RunFrom(ctx)

	// SELECT
	due, err := p.store.DueEntities(ctx, start, p.cfg.MaxBatch)
	if err != nil {
		return sum, p.fail(ctx, sum, start, fmt.Errorf("select due entities: %w", err))
	}
	tiers := model.TierCounts()
	for _, e := range due {
		tiers[e.Tier]++
	}
	sum.Selected = len(due)
	sum.Workers = p.workers(len(due))

	p.sink.Emit(events.New(events.TickStart{
		Job:      events.TickJob,
		Phase:    events.PhaseStart,
		RunID:    sum.RunID,
		Selected: sum.Selected,
		Tiers:    tiers,
		Workers:  sum.Workers,
	}))
	p.logger.Info("tick started", "run_id", sum.RunID, "selected", sum.Selected, "workers", sum.Workers)
	run.Logf("info", "tick %s: %d due entities, %d workers", sum.RunID, sum.Selected, sum.Workers)

	// DISPATCH + AWAIT
	var (
		completed atomic.Int64
		failed    atomic.Int64
		mu        sync.Mutex
		touched   = make(map[int64]struct{}, len(due))
	)
	total := len(due)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, sum.Workers))
	for _, e := range due {
		typeID := e.TypeID
		g.Go(func() error {
			if err := p.refresh(gctx, typeID); err != nil {
				failed.Add(1)
				p.logger.Warn("failed to refresh entity", "run_id", sum.RunID, "type_id", typeID, "error", err)
			} else {
				mu.Lock()
				touched[typeID] = struct{}{}
				mu.Unlock()
			}

			done := int(completed.Add(1))
			pct := done * 100 / total
			p.sink.Emit(events.New(events.TickProgress{
				Job:     events.TickJob,
				Phase:   events.PhaseProgress,
				RunID:   sum.RunID,
				Done:    done,
				Total:   total,
				Percent: pct,
				TypeID:  typeID,
				Errors:  int(failed.Load()),
			}))
			run.Progress(pct, fmt.Sprintf("%d/%d", done, total))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return sum, p.fail(ctx, sum, start, fmt.Errorf("dispatch refresh tasks: %w", err))
	}
	if err := ctx.Err(); err != nil {
		return sum, p.fail(ctx, sum, start, fmt.Errorf("tick interrupted: %w", err))
	}

	// SUMMARIZE
	sum.ItemsWritten = int(completed.Load())
	sum.Errors = int(failed.Load())
	sum.Succeeded = sum.ItemsWritten - sum.Errors
	sum.UniqueTypesTouched = len(touched)
	sum.Duration = p.now().Sub(start)
	p.refreshStats(ctx, &sum)

	fin := p.finishEvent(sum, true, "")
	p.sink.Emit(events.New(fin))
	p.record(ctx, start, true, fin)

	p.logger.Info("tick complete",
		"run_id", sum.RunID,
		"selected", sum.Selected,
		"succeeded", sum.Succeeded,
		"errors", sum.Errors,
		"duration", sum.Duration,
	)
	run.Logf("info", "tick %s: %d refreshed, %d errors", sum.RunID, sum.Succeeded, sum.Errors)
	return sum, nil
}

func (p *Poller) workers(selected int) int {
	target := p.cfg.Workers
	if p.selector != nil {
		target = p.selector.SelectWorkers(target)
	}
	if selected > 0 && target > selected {
		target = selected
	}
	return max(1, target)
}

// refresh fetches, summarizes and stores one entity.
func (p *Poller) refresh(ctx context.Context, typeID int64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("refresh panicked", "type_id", typeID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("refresh type %d panicked: %v", typeID, r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, p.cfg.TaskTimeout)
	defer cancel()

	orders, err := p.orders.MarketOrders(ctx, p.cfg.RegionID, typeID)
	if err != nil {
		return fmt.Errorf("fetch orders: %w", err)
	}
	snap := esi.SnapshotFromOrders(orders, typeID, p.cfg.StationID, p.now().UTC())
	if err := p.store.SaveRefresh(ctx, snap); err != nil {
		return fmt.Errorf("save refresh: %w", err)
	}
	return nil
}

// refreshStats fills freshness counters over all tracked entities.
func (p *Poller) refreshStats(ctx context.Context, sum *Summary) {
	times, err := p.store.RefreshTimes(ctx)
	if err != nil {
		p.logger.Warn("failed to load refresh times", "run_id", sum.RunID, "error", err)
		return
	}
	now := p.now()
	ages := make([]float64, 0, len(times))
	for _, ts := range times {
		age := now.Sub(ts)
		if age <= 10*time.Minute {
			sum.Refreshed10m++
		}
		if age <= time.Hour {
			sum.Refreshed60m++
		}
		ages = append(ages, max(0, age.Seconds()))
	}
	if len(ages) == 0 {
		return
	}
	slices.Sort(ages)
	sum.MedianAgeS = stat.Quantile(0.5, stat.Empirical, ages, nil)
}

func (p *Poller) finishEvent(sum Summary, ok bool, errMsg string) events.TickFinish {
	return events.TickFinish{
		Job:                events.TickJob,
		Phase:              events.PhaseFinish,
		RunID:              sum.RunID,
		OK:                 ok,
		Selected:           sum.Selected,
		Workers:            sum.Workers,
		ItemsWritten:       sum.ItemsWritten,
		Succeeded:          sum.Succeeded,
		UniqueTypesTouched: sum.UniqueTypesTouched,
		Errors:             sum.Errors,
		DurationMS:         sum.Duration.Milliseconds(),
		Refreshed10m:       sum.Refreshed10m,
		Refreshed60m:       sum.Refreshed60m,
		MedianAgeS:         sum.MedianAgeS,
		Error:              errMsg,
	}
}

// fail records a tick-fatal error and returns it.
func (p *Poller) fail(ctx context.Context, sum Summary, start time.Time, err error) error {
	sum.Duration = p.now().Sub(start)
	fin := p.finishEvent(sum, false, err.Error())
	p.sink.Emit(events.New(fin))
	p.record(ctx, start, false, fin)
	p.logger.Error("tick failed", "run_id", sum.RunID, "error", err)
	return err
}

func (p *Poller) record(ctx context.Context, start time.Time, ok bool, fin events.TickFinish) {
	details := map[string]any{
		"run_id":               fin.RunID,
		"selected":             fin.Selected,
		"workers":              fin.Workers,
		"items_written":        fin.ItemsWritten,
		"succeeded":            fin.Succeeded,
		"unique_types_touched": fin.UniqueTypesTouched,
		"errors":               fin.Errors,
		"duration_ms":          fin.DurationMS,
		"refreshed_10m":        fin.Refreshed10m,
		"refreshed_60m":        fin.Refreshed60m,
		"median_age_s":         fin.MedianAgeS,
	}
	if fin.Error != "" {
		details["error"] = fin.Error
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.store.AppendJobRun(rctx, model.JobRun{Name: events.TickJob, TS: start, OK: ok, Details: details}); err != nil {
		p.logger.Error("failed to record tick run", "run_id", fin.RunID, "error", err)
	}
}
