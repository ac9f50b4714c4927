package indicator

import (
	"github.com/arbiterhq/arbiter/internal/types"
	"github.com/arbiterhq/arbiter/pkg/errors"
)

// EMA represents the Exponential Moving Average indicator.
// The average is seeded with an SMA over the first period bars, then smoothed
// with the standard 2/(period+1) multiplier over the remainder of the window.
type EMA struct {
	period int
}

// NewEMA creates an EMA indicator over the given period.
func NewEMA(period int) (*EMA, error) {
	if period <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidParameter, "EMA period must be positive, got %d", period)
	}

	return &EMA{period: period}, nil
}

var _ Indicator = (*EMA)(nil)

// Name returns the name of the indicator.
func (e *EMA) Name() types.IndicatorType {
	return types.IndicatorTypeEMA
}

// Lookback returns the minimum number of bars needed. Three periods give the
// smoothing enough run-up to converge.
func (e *EMA) Lookback() int {
	return e.period * 3
}

// Compute returns the exponential moving average of closes.
func (e *EMA) Compute(bars []types.Bar) (float64, error) {
	if len(bars) < e.period {
		return 0, errors.Newf(errors.ErrCodeInsufficientHistory, "EMA needs at least %d bars, got %d", e.period, len(bars))
	}

	seed := 0.0
	for _, bar := range bars[:e.period] {
		seed += bar.Close
	}

	ema := seed / float64(e.period)
	multiplier := 2.0 / (float64(e.period) + 1.0)

	for _, bar := range bars[e.period:] {
		ema = (bar.Close-ema)*multiplier + ema
	}

	return ema, nil
}
