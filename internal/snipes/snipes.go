// Package snipes finds sell orders priced low enough to buy at the ask and
// resell at the best bid.
//
// A latest snapshot is a snipe when its ask sits at or just above the bid, or
// when the ask is an outlier below the type's recent ask history: at least
// Delta under the median with a z-score below -ZThreshold. Either way the raw
// spread (bid - ask) / ask must clear MinSpread.
package snipes

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"

	"github.com/rickgao/eve-market/internal/model"
)

// Store is the subset of the market store the finder reads.
type Store interface {
	LatestSnapshots(ctx context.Context, stationID int64) (map[int64]model.MarketSnapshot, error)
	RecentSnapshots(ctx context.Context, stationID int64, n int) (map[int64][]model.MarketSnapshot, error)
}

// Config holds detection thresholds.
type Config struct {
	StationID  int64
	Window     int     // Recent snapshots per type in the ask history (default: 20)
	Epsilon    float64 // Ask <= bid * (1 + Epsilon) is near the bid
	Delta      float64 // Anomaly: ask <= median * (1 - Delta)
	ZThreshold float64 // Anomaly: z < -ZThreshold
	MinSpread  float64 // Min (bid - ask) / ask
	Limit      int     // Max snipes returned (default: 20)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		StationID:  60003760,
		Window:     20,
		Epsilon:    0.002,
		Delta:      0.05,
		ZThreshold: 2.0,
		MinSpread:  0.02,
		Limit:      20,
	}
}

// Snipe is one underpriced ask.
type Snipe struct {
	TypeID    int64           `json:"type_id"`
	TS        time.Time       `json:"ts"`
	BestBid   decimal.Decimal `json:"best_bid"`
	BestAsk   decimal.Decimal `json:"best_ask"`
	Units     int64           `json:"units"`
	Net       decimal.Decimal `json:"net"`
	NetPct    float64         `json:"net_pct"`
	MedianAsk float64         `json:"median_ask"`
	ZScore    float64         `json:"z_score"`
	NearBid   bool            `json:"near_bid"`
	Anomaly   bool            `json:"anomaly"`
}

// Finder evaluates the latest snapshots of a station.
type Finder struct {
	cfg    Config
	store  Store
	logger *slog.Logger
}

// New creates a Finder.
func New(cfg Config, st Store, logger *slog.Logger) *Finder {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Window < 2 {
		cfg.Window = def.Window
	}
	if cfg.Limit < 1 {
		cfg.Limit = def.Limit
	}
	return &Finder{cfg: cfg, store: st, logger: logger}
}

// Find returns up to limit snipes, best spread first. A limit below one
// uses the configured limit.
func (f *Finder) Find(ctx context.Context, limit int) ([]Snipe, error) {
	latest, err := f.store.LatestSnapshots(ctx, f.cfg.StationID)
	if err != nil {
		return nil, fmt.Errorf("load latest snapshots: %w", err)
	}
	recent, err := f.store.RecentSnapshots(ctx, f.cfg.StationID, f.cfg.Window)
	if err != nil {
		return nil, fmt.Errorf("load recent snapshots: %w", err)
	}

	if limit < 1 {
		limit = f.cfg.Limit
	}
	out := f.Evaluate(latest, recent)
	if len(out) > limit {
		out = out[:limit]
	}
	f.logger.Debug("snipes evaluated", "candidates", len(latest), "found", len(out))
	return out, nil
}

// Evaluate checks every latest snapshot against its ask history and ranks
// the snipes by spread, then type id. recent holds each type's snapshots
// newest first.
func (f *Finder) Evaluate(latest map[int64]model.MarketSnapshot, recent map[int64][]model.MarketSnapshot) []Snipe {
	var out []Snipe
	for typeID, snap := range latest {
		if !snap.BestBid.Valid || !snap.BestAsk.Valid || !snap.BestAsk.Decimal.IsPositive() {
			continue
		}
		bid, ask := snap.BestBid.Decimal, snap.BestAsk.Decimal
		askF := ask.InexactFloat64()

		asks := askHistory(recent[typeID], f.cfg.Window)
		var med, z float64
		if len(asks) > 0 {
			med = median(asks)
			if len(asks) > 1 {
				if _, sd := stat.PopMeanStdDev(asks, nil); sd > 0 {
					z = (askF - med) / sd
				}
			}
		}
		anomaly := len(asks) > 0 && askF <= med*(1-f.cfg.Delta) && z < -f.cfg.ZThreshold
		nearBid := ask.LessThanOrEqual(bid.Mul(decimal.NewFromFloat(1 + f.cfg.Epsilon)))
		if !anomaly && !nearBid {
			continue
		}

		net := bid.Sub(ask)
		netPct := net.Div(ask).InexactFloat64()
		if netPct < f.cfg.MinSpread {
			continue
		}
		out = append(out, Snipe{
			TypeID:    typeID,
			TS:        snap.TS,
			BestBid:   bid,
			BestAsk:   ask,
			Units:     snap.AskUnits,
			Net:       net,
			NetPct:    netPct,
			MedianAsk: med,
			ZScore:    z,
			NearBid:   nearBid,
			Anomaly:   anomaly,
		})
	}

	slices.SortFunc(out, func(a, b Snipe) int {
		if c := cmp.Compare(b.NetPct, a.NetPct); c != 0 {
			return c
		}
		return cmp.Compare(a.TypeID, b.TypeID)
	})
	return out
}

func askHistory(snaps []model.MarketSnapshot, window int) []float64 {
	if len(snaps) > window {
		snaps = snaps[:window]
	}
	asks := make([]float64, 0, len(snaps))
	for _, s := range snaps {
		if s.BestAsk.Valid {
			asks = append(asks, s.BestAsk.Decimal.InexactFloat64())
		}
	}
	return asks
}

// median averages the two middle values of an even-length sample.
func median(x []float64) float64 {
	sorted := slices.Clone(x)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
