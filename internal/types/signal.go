package types

import "time"

// Decision is the outcome of one strategy evaluation cycle.
type Decision string

const (
	// DecisionEnterLong opens or requests a long position.
	DecisionEnterLong Decision = "enter_long"
	// DecisionEnterShort opens or requests a short position.
	DecisionEnterShort Decision = "enter_short"
	// DecisionExit closes the current position.
	DecisionExit Decision = "exit"
	// DecisionHold takes no action this cycle.
	DecisionHold Decision = "hold"
)

// Actionable reports whether the decision requires an order.
func (d Decision) Actionable() bool {
	return d != DecisionHold && d != ""
}

// Signal is the strategy's decision for one instrument, carrying the
// snapshot that produced it. The snapshot sequence doubles as the signal's
// identity for idempotent submission.
type Signal struct {
	// Symbol is the instrument the signal applies to.
	Symbol string `json:"symbol"`
	// Decision is the evaluated trading decision.
	Decision Decision `json:"decision"`
	// Rule is the name of the rule that produced the decision.
	Rule string `json:"rule"`
	// Reason is a human-readable explanation for reporting.
	Reason string `json:"reason"`
	// Snapshot is the indicator snapshot the decision was derived from.
	Snapshot IndicatorSnapshot `json:"snapshot"`
	// Time is when the evaluation ran.
	Time time.Time `json:"time"`
}
