package esi

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func order(loc int64, buy bool, price string, vol int64) Order {
	return Order{LocationID: loc, IsBuyOrder: buy, Price: decimal.RequireFromString(price), VolumeRemain: vol}
}

func TestSnapshotFromOrders(t *testing.T) {
	const jita = 60003760
	ts := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

	orders := []Order{
		order(jita, true, "5.00", 100),
		order(jita, true, "5.10", 50),
		order(jita, false, "5.50", 10),
		order(jita, false, "5.40", 20),
		order(jita, false, "6.00", 5),
		order(1234, true, "9.99", 999), // other station
		order(1234, false, "1.00", 999),
	}

	snap := SnapshotFromOrders(orders, 34, jita, ts)

	assert.Equal(t, ts, snap.TS)
	assert.Equal(t, int64(34), snap.TypeID)
	assert.Equal(t, int64(jita), snap.StationID)
	assert.True(t, snap.BestBid.Valid)
	assert.Equal(t, "5.1", snap.BestBid.Decimal.String())
	assert.True(t, snap.BestAsk.Valid)
	assert.Equal(t, "5.4", snap.BestAsk.Decimal.String())
	assert.Equal(t, 2, snap.BidCount)
	assert.Equal(t, 3, snap.AskCount)
	assert.Equal(t, int64(150), snap.BidUnits)
	assert.Equal(t, int64(35), snap.AskUnits)
}

func TestSnapshotFromOrders_OneSided(t *testing.T) {
	snap := SnapshotFromOrders([]Order{order(1, false, "3", 7)}, 34, 1, time.Now())

	assert.False(t, snap.BestBid.Valid)
	assert.True(t, snap.BestAsk.Valid)
	assert.Equal(t, 0, snap.BidCount)
	assert.Equal(t, int64(7), snap.AskUnits)
}

func TestSnapshotFromOrders_Empty(t *testing.T) {
	snap := SnapshotFromOrders(nil, 34, 1, time.Now())

	assert.False(t, snap.BestBid.Valid)
	assert.False(t, snap.BestAsk.Valid)
	assert.Zero(t, snap.BidCount+snap.AskCount)
}
