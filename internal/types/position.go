package types

import "time"

// PositionSide is the direction of the current exposure for an instrument.
type PositionSide string

const (
	PositionSideFlat  PositionSide = "FLAT"
	PositionSideLong  PositionSide = "LONG"
	PositionSideShort PositionSide = "SHORT"
)

// Position is the authoritative record of exposure for one instrument.
// It is owned exclusively by the risk tracker; other components read copies.
// A position is never deleted: once opened it is retained at flat/zero for
// audit while the process runs.
type Position struct {
	// Symbol is the instrument symbol.
	Symbol string `json:"symbol"`
	// Side is flat, long or short. Flat implies Quantity == 0.
	Side PositionSide `json:"side"`
	// Quantity is the absolute position size; never negative.
	Quantity float64 `json:"quantity"`
	// AvgEntryPrice is the average entry price of the open quantity.
	AvgEntryPrice float64 `json:"avg_entry_price"`
	// RealizedPnL accumulates profit and loss from closed quantity,
	// computed against the average entry price.
	RealizedPnL float64 `json:"realized_pnl"`
	// OpenedAt is when the position was first opened.
	OpenedAt time.Time `json:"opened_at"`
	// UpdatedAt is when the position last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// Notional returns the market value of the position at the given mark price.
func (p Position) Notional(mark float64) float64 {
	return p.Quantity * mark
}

// UnrealizedPnL returns the open profit and loss at the given mark price.
// Derived on demand, never stored.
func (p Position) UnrealizedPnL(mark float64) float64 {
	switch p.Side {
	case PositionSideLong:
		return (mark - p.AvgEntryPrice) * p.Quantity
	case PositionSideShort:
		return (p.AvgEntryPrice - mark) * p.Quantity
	default:
		return 0
	}
}
