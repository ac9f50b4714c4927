package indicator

import (
	"github.com/arbiterhq/arbiter/internal/types"
	"github.com/arbiterhq/arbiter/pkg/errors"
)

// SMA represents the Simple Moving Average indicator.
type SMA struct {
	period int
}

// NewSMA creates an SMA indicator over the given period.
func NewSMA(period int) (*SMA, error) {
	if period <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidParameter, "SMA period must be positive, got %d", period)
	}

	return &SMA{period: period}, nil
}

var _ Indicator = (*SMA)(nil)

// Name returns the name of the indicator.
func (s *SMA) Name() types.IndicatorType {
	return types.IndicatorTypeSMA
}

// Lookback returns the minimum number of bars needed.
func (s *SMA) Lookback() int {
	return s.period
}

// Compute returns the mean close over the last period bars.
func (s *SMA) Compute(bars []types.Bar) (float64, error) {
	if len(bars) < s.period {
		return 0, errors.Newf(errors.ErrCodeInsufficientHistory, "SMA needs %d bars, got %d", s.period, len(bars))
	}

	window := bars[len(bars)-s.period:]

	sum := 0.0
	for _, bar := range window {
		sum += bar.Close
	}

	return sum / float64(s.period), nil
}
