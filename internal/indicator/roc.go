package indicator

import (
	"math"

	"github.com/arbiterhq/arbiter/internal/types"
	"github.com/arbiterhq/arbiter/pkg/errors"
)

// ROC represents the Rate of Change indicator: the percentage change of the
// close over the last period bars.
type ROC struct {
	period int
}

// NewROC creates a ROC indicator over the given period.
func NewROC(period int) (*ROC, error) {
	if period <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidParameter, "ROC period must be positive, got %d", period)
	}

	return &ROC{period: period}, nil
}

var _ Indicator = (*ROC)(nil)

// Name returns the name of the indicator.
func (r *ROC) Name() types.IndicatorType {
	return types.IndicatorTypeROC
}

// Lookback returns the minimum number of bars needed.
func (r *ROC) Lookback() int {
	return r.period + 1
}

// Compute returns the rate of change in percent. A zero base price yields
// NaN rather than a panic or infinity.
func (r *ROC) Compute(bars []types.Bar) (float64, error) {
	if len(bars) < r.period+1 {
		return 0, errors.Newf(errors.ErrCodeInsufficientHistory, "ROC needs %d bars, got %d", r.period+1, len(bars))
	}

	base := bars[len(bars)-1-r.period].Close
	if base == 0 {
		return math.NaN(), nil
	}

	current := bars[len(bars)-1].Close

	return (current - base) / base * 100, nil
}
