package risk

import (
	"sync"
	"time"

	"github.com/arbiterhq/arbiter/internal/config"
	"github.com/arbiterhq/arbiter/internal/types"
	"github.com/arbiterhq/arbiter/pkg/errors"
)

// Tracker owns the authoritative position records and enforces the risk
// limits before any order reaches the exchange. All state is guarded by one
// mutex: authorization reads and fill applications observe a consistent view.
type Tracker struct {
	limits config.RiskConfig
	// instruments carries the per-instrument limit overrides, keyed by symbol.
	instruments map[string]types.Instrument

	mu        sync.Mutex
	positions map[string]*types.Position
	marks     map[string]float64
}

// NewTracker creates a tracker with the given global limits. Instruments may
// carry per-symbol overrides for position size and notional exposure.
func NewTracker(limits config.RiskConfig, instruments []types.Instrument) *Tracker {
	bySymbol := make(map[string]types.Instrument, len(instruments))
	for _, inst := range instruments {
		bySymbol[inst.Symbol] = inst
	}

	return &Tracker{
		limits:      limits,
		instruments: bySymbol,
		positions:   make(map[string]*types.Position),
		marks:       make(map[string]float64),
	}
}

// SetMark records the latest mark price for an instrument. Marks feed the
// notional cap check and unrealized P&L reporting.
func (t *Tracker) SetMark(symbol string, price float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.marks[symbol] = price
}

// Position returns a copy of the position for one instrument. Instruments
// that never traded report flat.
func (t *Tracker) Position(symbol string) types.Position {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.positionLocked(symbol)
}

func (t *Tracker) positionLocked(symbol string) types.Position {
	if position, ok := t.positions[symbol]; ok {
		return *position
	}

	return types.Position{Symbol: symbol, Side: types.PositionSideFlat}
}

// Positions returns a copy of every known position.
func (t *Tracker) Positions() []types.Position {
	t.mu.Lock()
	defer t.mu.Unlock()

	result := make([]types.Position, 0, len(t.positions))
	for _, position := range t.positions {
		result = append(result, *position)
	}

	return result
}

// TotalNotional returns the summed notional of all positions at their
// current marks.
func (t *Tracker) TotalNotional() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.totalNotionalLocked()
}

func (t *Tracker) totalNotionalLocked() float64 {
	total := 0.0
	for symbol, position := range t.positions {
		total += position.Notional(t.marks[symbol])
	}

	return total
}

// RealizedPnL returns the summed realized P&L across all positions.
func (t *Tracker) RealizedPnL() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	total := 0.0
	for _, position := range t.positions {
		total += position.RealizedPnL
	}

	return total
}

// UnrealizedPnL returns the summed unrealized P&L at current marks.
func (t *Tracker) UnrealizedPnL() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	total := 0.0
	for symbol, position := range t.positions {
		total += position.UnrealizedPnL(t.marks[symbol])
	}

	return total
}

// Authorize checks an order request against the limits. Orders that reduce or
// close exposure are always allowed; orders that add exposure must pass the
// per-instrument size cap (the instrument override when set, the global limit
// otherwise), the per-instrument notional cap, the open position count cap
// and the global notional cap. A denial returns ErrCodeRiskRejected and
// changes nothing.
func (t *Tracker) Authorize(request types.OrderRequest) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	position := t.positionLocked(request.Symbol)

	if reducesExposure(position, request) {
		return nil
	}

	inst := t.instruments[request.Symbol]

	maxSize := t.limits.MaxPositionSize
	if inst.MaxPositionSize > 0 {
		maxSize = inst.MaxPositionSize
	}

	projected := projectedQuantity(position, request)
	if projected > maxSize {
		return errors.Newf(errors.ErrCodeRiskRejected,
			"order %s would take %s position to %.8f, limit %.8f",
			request.IdempotencyKey, request.Symbol, projected, maxSize)
	}

	if position.Side == types.PositionSideFlat {
		open := 0

		for _, p := range t.positions {
			if p.Side != types.PositionSideFlat {
				open++
			}
		}

		if open >= t.limits.MaxOpenPositions {
			return errors.Newf(errors.ErrCodeRiskRejected,
				"order %s would open position %d, limit %d",
				request.IdempotencyKey, open+1, t.limits.MaxOpenPositions)
		}
	}

	mark := t.marks[request.Symbol]
	if mark == 0 && request.LimitPrice.IsSome() {
		mark = request.LimitPrice.Unwrap()
	}

	addedNotional := request.Quantity * mark

	if inst.MaxNotional > 0 && position.Notional(mark)+addedNotional > inst.MaxNotional {
		return errors.Newf(errors.ErrCodeRiskRejected,
			"order %s would take %s notional to %.2f, instrument limit %.2f",
			request.IdempotencyKey, request.Symbol, position.Notional(mark)+addedNotional, inst.MaxNotional)
	}

	if t.totalNotionalLocked()+addedNotional > t.limits.MaxTotalNotional {
		return errors.Newf(errors.ErrCodeRiskRejected,
			"order %s would take total notional to %.2f, limit %.2f",
			request.IdempotencyKey, t.totalNotionalLocked()+addedNotional, t.limits.MaxTotalNotional)
	}

	return nil
}

// reducesExposure reports whether the order shrinks the current position.
func reducesExposure(position types.Position, request types.OrderRequest) bool {
	switch position.Side {
	case types.PositionSideLong:
		return request.Side == types.SideSell
	case types.PositionSideShort:
		return request.Side == types.SideBuy
	default:
		return false
	}
}

// projectedQuantity is the absolute position size after the order fills in
// full.
func projectedQuantity(position types.Position, request types.OrderRequest) float64 {
	if position.Side == types.PositionSideFlat {
		return request.Quantity
	}

	return position.Quantity + request.Quantity
}

// Apply mutates the position for one fill atomically. Opposite-side fills
// realize P&L against the average entry price; same-side fills reweight it.
// A fill that crosses through flat flips the side with the remainder.
func (t *Tracker) Apply(fill types.FillEvent) types.Position {
	t.mu.Lock()
	defer t.mu.Unlock()

	position, ok := t.positions[fill.Symbol]
	if !ok {
		position = &types.Position{
			Symbol: fill.Symbol,
			Side:   types.PositionSideFlat,
		}
		t.positions[fill.Symbol] = position
	}

	fillSide := types.PositionSideLong
	if fill.Side == types.SideSell {
		fillSide = types.PositionSideShort
	}

	switch {
	case position.Side == types.PositionSideFlat:
		position.Side = fillSide
		position.Quantity = fill.Quantity
		position.AvgEntryPrice = fill.Price
		position.OpenedAt = fill.Time

	case position.Side == fillSide:
		// Adding to the position reweights the average entry price.
		total := position.Quantity + fill.Quantity
		position.AvgEntryPrice = (position.AvgEntryPrice*position.Quantity + fill.Price*fill.Quantity) / total
		position.Quantity = total

	default:
		closed := fill.Quantity
		if closed > position.Quantity {
			closed = position.Quantity
		}

		if position.Side == types.PositionSideLong {
			position.RealizedPnL += (fill.Price - position.AvgEntryPrice) * closed
		} else {
			position.RealizedPnL += (position.AvgEntryPrice - fill.Price) * closed
		}

		remainder := fill.Quantity - closed
		position.Quantity -= closed

		if position.Quantity == 0 {
			if remainder > 0 {
				position.Side = fillSide
				position.Quantity = remainder
				position.AvgEntryPrice = fill.Price
				position.OpenedAt = fill.Time
			} else {
				position.Side = types.PositionSideFlat
				position.AvgEntryPrice = 0
			}
		}
	}

	position.UpdatedAt = fill.Time
	t.marks[fill.Symbol] = fill.Price

	return *position
}

// Snapshot is a point-in-time view of aggregate P&L used for reporting.
type Snapshot struct {
	Time          time.Time `json:"time"`
	RealizedPnL   float64   `json:"realized_pnl"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	TotalNotional float64   `json:"total_notional"`
}

// SnapshotNow captures aggregate P&L under a single lock acquisition.
func (t *Tracker) SnapshotNow(now time.Time) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	realized := 0.0
	unrealized := 0.0

	for symbol, position := range t.positions {
		realized += position.RealizedPnL
		unrealized += position.UnrealizedPnL(t.marks[symbol])
	}

	return Snapshot{
		Time:          now,
		RealizedPnL:   realized,
		UnrealizedPnL: unrealized,
		TotalNotional: t.totalNotionalLocked(),
	}
}
