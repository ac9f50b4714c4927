package indicator

import (
	"math"

	"github.com/arbiterhq/arbiter/internal/types"
	"github.com/arbiterhq/arbiter/pkg/errors"
)

// ATR represents the Average True Range indicator with Wilder's smoothing.
type ATR struct {
	period int
}

// NewATR creates an ATR indicator over the given period.
func NewATR(period int) (*ATR, error) {
	if period <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidParameter, "ATR period must be positive, got %d", period)
	}

	return &ATR{period: period}, nil
}

var _ Indicator = (*ATR)(nil)

// Name returns the name of the indicator.
func (a *ATR) Name() types.IndicatorType {
	return types.IndicatorTypeATR
}

// Lookback returns the minimum number of bars needed. One extra bar supplies
// the previous close for the first true range.
func (a *ATR) Lookback() int {
	return a.period + 1
}

// Compute returns the average true range over the window.
func (a *ATR) Compute(bars []types.Bar) (float64, error) {
	if len(bars) < a.period+1 {
		return 0, errors.Newf(errors.ErrCodeInsufficientHistory, "ATR needs %d bars, got %d", a.period+1, len(bars))
	}

	atr := 0.0

	for i := 1; i <= a.period; i++ {
		atr += trueRange(bars[i], bars[i-1].Close)
	}

	atr /= float64(a.period)

	for i := a.period + 1; i < len(bars); i++ {
		tr := trueRange(bars[i], bars[i-1].Close)
		atr = (atr*float64(a.period-1) + tr) / float64(a.period)
	}

	return atr, nil
}

func trueRange(bar types.Bar, prevClose float64) float64 {
	return math.Max(bar.High-bar.Low,
		math.Max(math.Abs(bar.High-prevClose), math.Abs(bar.Low-prevClose)))
}
