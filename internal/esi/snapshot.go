package esi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/eve-market/internal/model"
)

// SnapshotFromOrders reduces a region's order book to a snapshot at one station.
// Orders at other locations are ignored.
func SnapshotFromOrders(orders []Order, typeID, stationID int64, ts time.Time) model.MarketSnapshot {
	snap := model.MarketSnapshot{
		TS:        ts,
		TypeID:    typeID,
		StationID: stationID,
	}

	var bid, ask decimal.Decimal
	for _, o := range orders {
		if o.LocationID != stationID {
			continue
		}
		if o.IsBuyOrder {
			if snap.BidCount == 0 || o.Price.GreaterThan(bid) {
				bid = o.Price
			}
			snap.BidCount++
			snap.BidUnits += o.VolumeRemain
		} else {
			if snap.AskCount == 0 || o.Price.LessThan(ask) {
				ask = o.Price
			}
			snap.AskCount++
			snap.AskUnits += o.VolumeRemain
		}
	}

	if snap.BidCount > 0 {
		snap.BestBid = decimal.NewNullDecimal(bid)
	}
	if snap.AskCount > 0 {
		snap.BestAsk = decimal.NewNullDecimal(ask)
	}
	return snap
}
