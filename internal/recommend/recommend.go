// Package recommend implements the recommender_scan job.
//
// A candidate is a type whose latest venue snapshot quotes both sides. In
// profit_only mode only the spread gate applies; gated mode additionally
// requires a trend with enough volume and momentum and a fresh snapshot.
package recommend

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/rickgao/eve-market/internal/jobs"
	"github.com/rickgao/eve-market/internal/model"
)

// Mode selects the gating policy.
type Mode string

const (
	ModeGated      Mode = "gated"
	ModeProfitOnly Mode = "profit_only"
)

// Store is the subset of the market store the job uses.
type Store interface {
	Trends(ctx context.Context) (map[int64]model.TypeTrend, error)
	LatestSnapshots(ctx context.Context, stationID int64) (map[int64]model.MarketSnapshot, error)
	ReplaceRecommendations(ctx context.Context, recs []model.Recommendation) error
}

// Config holds recommender configuration.
type Config struct {
	StationID    int64
	Mode         Mode
	MinVolume    float64       // gated: min 30-day average daily volume
	MinMomentum  float64       // gated: min month-over-month change
	MaxStaleness time.Duration // gated: max snapshot age, 0 disables
	MinSpread    float64       // min (ask - bid) / ask
	Limit        int           // Max recommendations kept (default: 50)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		StationID:    60003760,
		Mode:         ModeProfitOnly,
		MinVolume:    100,
		MinMomentum:  0,
		MaxStaleness: 2 * time.Hour,
		MinSpread:    0.02,
		Limit:        50,
	}
}

// Scanner builds the recommendations table.
type Scanner struct {
	cfg    Config
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Scanner.
func New(cfg Config, st Store, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeProfitOnly
	}
	if cfg.Limit < 1 {
		cfg.Limit = DefaultConfig().Limit
	}
	return &Scanner{cfg: cfg, store: st, logger: logger, now: time.Now}
}

// Rejections counts candidates dropped per gate.
type Rejections struct {
	Unquoted int `json:"unquoted"`
	NoTrend  int `json:"no_trend"`
	Volume   int `json:"volume"`
	Momentum int `json:"momentum"`
	Stale    int `json:"stale"`
	Spread   int `json:"spread"`
}

// Evaluate applies the configured gates and ranks survivors by spread,
// then momentum, then type id.
func (s *Scanner) Evaluate(snaps map[int64]model.MarketSnapshot, trends map[int64]model.TypeTrend, now time.Time) ([]model.Recommendation, Rejections) {
	var (
		out []model.Recommendation
		rej Rejections
	)
	for typeID, snap := range snaps {
		if !snap.BestBid.Valid || !snap.BestAsk.Valid || !snap.BestAsk.Decimal.IsPositive() {
			rej.Unquoted++
			continue
		}
		bid, ask := snap.BestBid.Decimal, snap.BestAsk.Decimal
		spread := ask.Sub(bid).Div(ask).InexactFloat64()
		trend, hasTrend := trends[typeID]

		if s.cfg.Mode == ModeGated {
			switch {
			case !hasTrend:
				rej.NoTrend++
				continue
			case trend.Vol30dAvg < s.cfg.MinVolume:
				rej.Volume++
				continue
			case trend.MomPct < s.cfg.MinMomentum:
				rej.Momentum++
				continue
			case s.cfg.MaxStaleness > 0 && now.Sub(snap.TS) > s.cfg.MaxStaleness:
				rej.Stale++
				continue
			}
		}
		if spread < s.cfg.MinSpread {
			rej.Spread++
			continue
		}

		out = append(out, model.Recommendation{
			TypeID:    typeID,
			StationID: snap.StationID,
			TS:        now,
			SpreadPct: spread,
			MomPct:    trend.MomPct,
			Vol30dAvg: trend.Vol30dAvg,
			Rationale: map[string]any{
				"mode":        string(s.cfg.Mode),
				"best_bid":    bid.String(),
				"best_ask":    ask.String(),
				"bid_count":   snap.BidCount,
				"ask_count":   snap.AskCount,
				"snapshot_ts": snap.TS.UTC().Format(time.RFC3339),
				"has_trend":   hasTrend,
			},
		})
	}

	slices.SortFunc(out, func(a, b model.Recommendation) int {
		if c := cmp.Compare(b.SpreadPct, a.SpreadPct); c != 0 {
			return c
		}
		if c := cmp.Compare(b.MomPct, a.MomPct); c != 0 {
			return c
		}
		return cmp.Compare(a.TypeID, b.TypeID)
	})
	if len(out) > s.cfg.Limit {
		out = out[:s.cfg.Limit]
	}
	return out, rej
}

// Run executes one scan.
func (s *Scanner) Run(ctx context.Context) (jobs.Result, error) {
	run := jobs.RunFrom(ctx)

	snaps, err := s.store.LatestSnapshots(ctx, s.cfg.StationID)
	if err != nil {
		return jobs.Result{}, fmt.Errorf("load latest snapshots: %w", err)
	}
	trends, err := s.store.Trends(ctx)
	if err != nil {
		return jobs.Result{}, fmt.Errorf("load trends: %w", err)
	}
	run.Progress(30, fmt.Sprintf("%d candidates", len(snaps)))

	recs, rej := s.Evaluate(snaps, trends, s.now().UTC())
	if err := s.store.ReplaceRecommendations(ctx, recs); err != nil {
		return jobs.Result{}, fmt.Errorf("replace recommendations: %w", err)
	}
	run.Progress(100, "done")
	run.Logf("info", "%d recommendations (%s)", len(recs), s.cfg.Mode)

	s.logger.Info("recommendations rebuilt",
		"mode", s.cfg.Mode,
		"candidates", len(snaps),
		"kept", len(recs),
	)
	return jobs.Result{
		Items: len(recs),
		Details: map[string]any{
			"mode":       string(s.cfg.Mode),
			"candidates": len(snaps),
			"rejected":   rej,
		},
	}, nil
}
