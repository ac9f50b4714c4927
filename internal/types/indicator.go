package types

import (
	"math"
	"time"
)

// IndicatorType identifies a technical indicator by name.
type IndicatorType string

const (
	IndicatorTypeSMA IndicatorType = "sma"
	IndicatorTypeEMA IndicatorType = "ema"
	IndicatorTypeRSI IndicatorType = "rsi"
	IndicatorTypeATR IndicatorType = "atr"
	IndicatorTypeROC IndicatorType = "roc"
)

// IndicatorSnapshot holds the latest value of every configured indicator for
// one instrument, tagged with the bar that produced it. Snapshots are
// recomputed on every bar update, never mutated in place.
type IndicatorSnapshot struct {
	// Symbol is the instrument the snapshot belongs to.
	Symbol string `json:"symbol"`
	// Sequence is strictly increasing per instrument and is used to detect
	// and discard stale evaluations.
	Sequence uint64 `json:"sequence"`
	// BarTime is the time of the bar the snapshot was computed from.
	BarTime time.Time `json:"bar_time"`
	// Close is the closing price of that bar.
	Close float64 `json:"close"`
	// Values maps indicator name to its latest value. A NaN value marks an
	// undefined computation (e.g. division by zero) and must be treated as
	// a hold by consumers.
	Values map[IndicatorType]float64 `json:"values"`
}

// Value returns the named indicator value and whether it is present.
func (s IndicatorSnapshot) Value(name IndicatorType) (float64, bool) {
	v, ok := s.Values[name]

	return v, ok
}

// HasNaN reports whether any indicator value in the snapshot is undefined.
func (s IndicatorSnapshot) HasNaN() bool {
	for _, v := range s.Values {
		if math.IsNaN(v) {
			return true
		}
	}

	return false
}
