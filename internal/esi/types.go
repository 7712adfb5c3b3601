package esi

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order is one row of /markets/{region_id}/orders/.
type Order struct {
	OrderID      int64           `json:"order_id"`
	TypeID       int64           `json:"type_id"`
	LocationID   int64           `json:"location_id"`
	SystemID     int64           `json:"system_id"`
	IsBuyOrder   bool            `json:"is_buy_order"`
	Price        decimal.Decimal `json:"price"`
	VolumeRemain int64           `json:"volume_remain"`
	VolumeTotal  int64           `json:"volume_total"`
	MinVolume    int64           `json:"min_volume"`
	Duration     int             `json:"duration"`
	Issued       time.Time       `json:"issued"`
	Range        string          `json:"range"`
}

// HistoryDay is one row of /markets/{region_id}/history/.
type HistoryDay struct {
	Date       string  `json:"date"` // YYYY-MM-DD
	Average    float64 `json:"average"`
	Highest    float64 `json:"highest"`
	Lowest     float64 `json:"lowest"`
	OrderCount int64   `json:"order_count"`
	Volume     int64   `json:"volume"`
}

// ServerStatus is the body of /status/.
type ServerStatus struct {
	Players       int       `json:"players"`
	ServerVersion string    `json:"server_version"`
	StartTime     time.Time `json:"start_time"`
	VIP           bool      `json:"vip,omitempty"`
}

// TypeList is the region's tradeable type catalog.
type TypeList struct {
	TypeIDs     []int64
	ETag        string // ETag of the first page
	NotModified bool   // First page matched the supplied ETag; TypeIDs is empty
}
