package indicator

import (
	"github.com/arbiterhq/arbiter/internal/types"
	"github.com/arbiterhq/arbiter/pkg/errors"
)

// RSI represents the Relative Strength Index indicator, using Wilder's
// smoothing over close-to-close changes.
type RSI struct {
	period int
}

// NewRSI creates an RSI indicator over the given period.
func NewRSI(period int) (*RSI, error) {
	if period < 2 {
		return nil, errors.Newf(errors.ErrCodeInvalidParameter, "RSI period must be at least 2, got %d", period)
	}

	return &RSI{period: period}, nil
}

var _ Indicator = (*RSI)(nil)

// Name returns the name of the indicator.
func (r *RSI) Name() types.IndicatorType {
	return types.IndicatorTypeRSI
}

// Lookback returns the minimum number of bars needed. One extra bar is needed
// to form the first close-to-close change.
func (r *RSI) Lookback() int {
	return r.period + 1
}

// Compute returns the RSI over the window. A window with no losses returns
// 100; a window with no gains returns 0.
func (r *RSI) Compute(bars []types.Bar) (float64, error) {
	if len(bars) < r.period+1 {
		return 0, errors.Newf(errors.ErrCodeInsufficientHistory, "RSI needs %d bars, got %d", r.period+1, len(bars))
	}

	avgGain := 0.0
	avgLoss := 0.0

	for i := 1; i <= r.period; i++ {
		change := bars[i].Close - bars[i-1].Close
		if change > 0 {
			avgGain += change
		} else {
			avgLoss += -change
		}
	}

	avgGain /= float64(r.period)
	avgLoss /= float64(r.period)

	// Wilder smoothing over the rest of the window.
	for i := r.period + 1; i < len(bars); i++ {
		change := bars[i].Close - bars[i-1].Close

		gain := 0.0
		loss := 0.0

		if change > 0 {
			gain = change
		} else {
			loss = -change
		}

		avgGain = (avgGain*float64(r.period-1) + gain) / float64(r.period)
		avgLoss = (avgLoss*float64(r.period-1) + loss) / float64(r.period)
	}

	if avgLoss == 0 {
		return 100, nil
	}

	rs := avgGain / avgLoss

	return 100 - 100/(1+rs), nil
}
