package strategy

import (
	"fmt"

	"github.com/arbiterhq/arbiter/internal/types"
)

// StopLossRule exits a position once the adverse move from the average entry
// price exceeds the configured fraction.
type StopLossRule struct {
	percent float64
}

// NewStopLossRule creates a stop-loss rule. Percent is a fraction of the
// entry price, e.g. 0.02 for 2%.
func NewStopLossRule(percent float64) *StopLossRule {
	return &StopLossRule{percent: percent}
}

var _ Rule = (*StopLossRule)(nil)

func (r *StopLossRule) Name() string {
	return "stop_loss"
}

func (r *StopLossRule) Evaluate(position types.Position, snapshot types.IndicatorSnapshot) (types.Decision, string, bool) {
	switch position.Side {
	case types.PositionSideLong:
		stop := position.AvgEntryPrice * (1 - r.percent)
		if snapshot.Close <= stop {
			return types.DecisionExit, fmt.Sprintf("stop loss hit: close %.4f <= %.4f", snapshot.Close, stop), true
		}
	case types.PositionSideShort:
		stop := position.AvgEntryPrice * (1 + r.percent)
		if snapshot.Close >= stop {
			return types.DecisionExit, fmt.Sprintf("stop loss hit: close %.4f >= %.4f", snapshot.Close, stop), true
		}
	}

	return types.DecisionHold, "", false
}

// TakeProfitRule exits a position once the favorable move from the average
// entry price exceeds the configured fraction.
type TakeProfitRule struct {
	percent float64
}

// NewTakeProfitRule creates a take-profit rule.
func NewTakeProfitRule(percent float64) *TakeProfitRule {
	return &TakeProfitRule{percent: percent}
}

var _ Rule = (*TakeProfitRule)(nil)

func (r *TakeProfitRule) Name() string {
	return "take_profit"
}

func (r *TakeProfitRule) Evaluate(position types.Position, snapshot types.IndicatorSnapshot) (types.Decision, string, bool) {
	switch position.Side {
	case types.PositionSideLong:
		target := position.AvgEntryPrice * (1 + r.percent)
		if snapshot.Close >= target {
			return types.DecisionExit, fmt.Sprintf("take profit hit: close %.4f >= %.4f", snapshot.Close, target), true
		}
	case types.PositionSideShort:
		target := position.AvgEntryPrice * (1 - r.percent)
		if snapshot.Close <= target {
			return types.DecisionExit, fmt.Sprintf("take profit hit: close %.4f <= %.4f", snapshot.Close, target), true
		}
	}

	return types.DecisionHold, "", false
}

// RSIExitRule exits a long when RSI reaches the overbought threshold and a
// short when RSI reaches the oversold threshold.
type RSIExitRule struct {
	oversold   float64
	overbought float64
}

// NewRSIExitRule creates an RSI reverse-threshold exit rule.
func NewRSIExitRule(oversold, overbought float64) *RSIExitRule {
	return &RSIExitRule{oversold: oversold, overbought: overbought}
}

var _ Rule = (*RSIExitRule)(nil)

func (r *RSIExitRule) Name() string {
	return "rsi_exit"
}

func (r *RSIExitRule) Evaluate(position types.Position, snapshot types.IndicatorSnapshot) (types.Decision, string, bool) {
	rsi, ok := snapshot.Value(types.IndicatorTypeRSI)
	if !ok {
		return types.DecisionHold, "", false
	}

	switch position.Side {
	case types.PositionSideLong:
		if rsi >= r.overbought {
			return types.DecisionExit, fmt.Sprintf("RSI overbought (%.2f >= %.2f)", rsi, r.overbought), true
		}
	case types.PositionSideShort:
		if rsi <= r.oversold {
			return types.DecisionExit, fmt.Sprintf("RSI oversold (%.2f <= %.2f)", rsi, r.oversold), true
		}
	}

	return types.DecisionHold, "", false
}

// TrendRSIEntryRule enters in the direction of the SMA trend when RSI shows
// a pullback: long when the close is above the SMA and RSI is oversold,
// short when the close is below the SMA and RSI is overbought.
type TrendRSIEntryRule struct {
	buyThreshold  float64
	sellThreshold float64
}

// NewTrendRSIEntryRule creates the trend-following RSI entry rule.
func NewTrendRSIEntryRule(buyThreshold, sellThreshold float64) *TrendRSIEntryRule {
	return &TrendRSIEntryRule{buyThreshold: buyThreshold, sellThreshold: sellThreshold}
}

var _ Rule = (*TrendRSIEntryRule)(nil)

func (r *TrendRSIEntryRule) Name() string {
	return "trend_rsi_entry"
}

func (r *TrendRSIEntryRule) Evaluate(position types.Position, snapshot types.IndicatorSnapshot) (types.Decision, string, bool) {
	if position.Side != types.PositionSideFlat {
		return types.DecisionHold, "", false
	}

	sma, ok := snapshot.Value(types.IndicatorTypeSMA)
	if !ok {
		return types.DecisionHold, "", false
	}

	rsi, ok := snapshot.Value(types.IndicatorTypeRSI)
	if !ok {
		return types.DecisionHold, "", false
	}

	if snapshot.Close > sma && rsi < r.buyThreshold {
		return types.DecisionEnterLong,
			fmt.Sprintf("uptrend pullback: close %.4f > SMA %.4f, RSI %.2f < %.2f", snapshot.Close, sma, rsi, r.buyThreshold), true
	}

	if snapshot.Close < sma && rsi > r.sellThreshold {
		return types.DecisionEnterShort,
			fmt.Sprintf("downtrend rally: close %.4f < SMA %.4f, RSI %.2f > %.2f", snapshot.Close, sma, rsi, r.sellThreshold), true
	}

	return types.DecisionHold, "", false
}

// MACrossoverRule trades crossings of the fast EMA over the slow SMA. It
// remembers the previous pair of values, so each instrument needs its own
// instance. The first evaluation only primes the state.
type MACrossoverRule struct {
	prevFast float64
	prevSlow float64
	primed   bool
}

// NewMACrossoverRule creates a moving-average crossover rule.
func NewMACrossoverRule() *MACrossoverRule {
	return &MACrossoverRule{}
}

var _ Rule = (*MACrossoverRule)(nil)

func (r *MACrossoverRule) Name() string {
	return "ma_crossover"
}

func (r *MACrossoverRule) Evaluate(position types.Position, snapshot types.IndicatorSnapshot) (types.Decision, string, bool) {
	fast, ok := snapshot.Value(types.IndicatorTypeEMA)
	if !ok {
		return types.DecisionHold, "", false
	}

	slow, ok := snapshot.Value(types.IndicatorTypeSMA)
	if !ok {
		return types.DecisionHold, "", false
	}

	crossedUp := r.primed && r.prevFast <= r.prevSlow && fast > slow
	crossedDown := r.primed && r.prevFast >= r.prevSlow && fast < slow

	r.prevFast = fast
	r.prevSlow = slow
	r.primed = true

	if crossedUp {
		if position.Side == types.PositionSideShort {
			return types.DecisionExit, fmt.Sprintf("EMA %.4f crossed above SMA %.4f", fast, slow), true
		}

		return types.DecisionEnterLong, fmt.Sprintf("EMA %.4f crossed above SMA %.4f", fast, slow), true
	}

	if crossedDown {
		if position.Side == types.PositionSideLong {
			return types.DecisionExit, fmt.Sprintf("EMA %.4f crossed below SMA %.4f", fast, slow), true
		}

		return types.DecisionEnterShort, fmt.Sprintf("EMA %.4f crossed below SMA %.4f", fast, slow), true
	}

	return types.DecisionHold, "", false
}
