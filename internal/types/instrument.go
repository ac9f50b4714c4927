package types

import (
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/arbiterhq/arbiter/pkg/errors"
)

// Instrument describes a tradable asset. Instruments are loaded once from
// configuration and never mutated afterwards.
type Instrument struct {
	// Symbol is the exchange symbol, e.g. "BTCUSDT".
	Symbol string `yaml:"symbol" json:"symbol" validate:"required"`
	// TickSize is the minimum price increment.
	TickSize float64 `yaml:"tick_size" json:"tick_size" validate:"required,gt=0"`
	// LotSize is the minimum quantity increment.
	LotSize float64 `yaml:"lot_size" json:"lot_size" validate:"required,gt=0"`
	// MinOrderSize is the smallest quantity the exchange accepts.
	MinOrderSize float64 `yaml:"min_order_size" json:"min_order_size" validate:"gte=0"`
	// MaxPositionSize overrides the global per-instrument size cap when set.
	// Zero means the global limit applies.
	MaxPositionSize float64 `yaml:"max_position_size" json:"max_position_size" validate:"gte=0"`
	// MaxNotional caps this instrument's notional exposure when set. Zero
	// means only the global total-notional cap applies.
	MaxNotional float64 `yaml:"max_notional" json:"max_notional" validate:"gte=0"`
}

// Validate validates the Instrument struct.
func (i *Instrument) Validate() error {
	validate := validator.New()
	if err := validate.Struct(i); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidInstrument, "invalid instrument", err)
	}

	return nil
}

// RoundToLot truncates quantity down to the instrument's lot size.
// Truncation (not rounding) so the result never exceeds the requested quantity.
func (i Instrument) RoundToLot(quantity float64) float64 {
	if i.LotSize <= 0 || quantity <= 0 {
		return 0
	}

	qty := decimal.NewFromFloat(quantity)
	lot := decimal.NewFromFloat(i.LotSize)

	lots := qty.Div(lot).Floor()

	return lots.Mul(lot).InexactFloat64()
}

// RoundToTick truncates a price down to the instrument's tick size.
func (i Instrument) RoundToTick(price float64) float64 {
	if i.TickSize <= 0 || price <= 0 {
		return 0
	}

	px := decimal.NewFromFloat(price)
	tick := decimal.NewFromFloat(i.TickSize)

	ticks := px.Div(tick).Floor()

	return ticks.Mul(tick).InexactFloat64()
}
