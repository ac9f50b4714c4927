package strategy

import (
	"sync"

	"go.uber.org/zap"

	"github.com/arbiterhq/arbiter/internal/config"
	"github.com/arbiterhq/arbiter/internal/logger"
	"github.com/arbiterhq/arbiter/internal/types"
	"github.com/arbiterhq/arbiter/pkg/errors"
)

// RuleFactory creates a fresh, independently-stateful rule set for one
// instrument.
type RuleFactory func() []Rule

// RulesFromConfig builds a rule factory from the configured rule list,
// preserving configuration order.
func RulesFromConfig(configs []config.RuleConfig) (RuleFactory, error) {
	for _, rc := range configs {
		if err := rc.Validate(); err != nil {
			return nil, err
		}
	}

	return func() []Rule {
		rules := make([]Rule, 0, len(configs))

		for _, rc := range configs {
			switch rc.Kind {
			case config.RuleStopLoss:
				rules = append(rules, NewStopLossRule(rc.Percent))
			case config.RuleTakeProfit:
				rules = append(rules, NewTakeProfitRule(rc.Percent))
			case config.RuleRSIExit:
				rules = append(rules, NewRSIExitRule(rc.BuyRSIThreshold, rc.SellRSIThreshold))
			case config.RuleTrendRSIEntry:
				rules = append(rules, NewTrendRSIEntryRule(rc.BuyRSIThreshold, rc.SellRSIThreshold))
			case config.RuleMACrossover:
				rules = append(rules, NewMACrossoverRule())
			}
		}

		return rules
	}, nil
}

// Evaluator turns indicator snapshots into signals. It guards against stale
// snapshots, holds on undefined indicator values, and suppresses decisions
// that mirror the current position state.
type Evaluator struct {
	logger  *logger.Logger
	factory RuleFactory

	mu            sync.Mutex
	rules         map[string][]Rule
	lastSequences map[string]uint64
}

// NewEvaluator creates an evaluator that instantiates rules per instrument
// via the factory.
func NewEvaluator(factory RuleFactory, log *logger.Logger) *Evaluator {
	return &Evaluator{
		logger:        log,
		factory:       factory,
		rules:         make(map[string][]Rule),
		lastSequences: make(map[string]uint64),
	}
}

// Evaluate produces a signal for one snapshot. Snapshots must arrive with
// strictly increasing sequences per instrument; an old or repeated sequence
// returns ErrCodeStaleSignal and leaves all rule state untouched.
func (e *Evaluator) Evaluate(position types.Position, snapshot types.IndicatorSnapshot) (types.Signal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	symbol := snapshot.Symbol

	if snapshot.Sequence <= e.lastSequences[symbol] {
		return types.Signal{}, errors.Newf(errors.ErrCodeStaleSignal,
			"snapshot sequence %d for %s is not newer than %d", snapshot.Sequence, symbol, e.lastSequences[symbol])
	}

	e.lastSequences[symbol] = snapshot.Sequence

	if snapshot.HasNaN() {
		return e.hold(snapshot, "", "indicator value undefined"), nil
	}

	rules, ok := e.rules[symbol]
	if !ok {
		rules = e.factory()
		e.rules[symbol] = rules
	}

	for _, rule := range rules {
		decision, reason, matched := rule.Evaluate(position, snapshot)
		if !matched {
			continue
		}

		if suppressed(decision, position.Side) {
			e.logger.Debug("signal suppressed by position state",
				zap.String("symbol", symbol),
				zap.String("rule", rule.Name()),
				zap.String("decision", string(decision)),
				zap.String("side", string(position.Side)))

			return e.hold(snapshot, rule.Name(), "suppressed: "+reason), nil
		}

		return types.Signal{
			Symbol:   symbol,
			Decision: decision,
			Rule:     rule.Name(),
			Reason:   reason,
			Snapshot: snapshot,
			Time:     snapshot.BarTime,
		}, nil
	}

	return e.hold(snapshot, "", "no rule matched"), nil
}

func (e *Evaluator) hold(snapshot types.IndicatorSnapshot, rule, reason string) types.Signal {
	return types.Signal{
		Symbol:   snapshot.Symbol,
		Decision: types.DecisionHold,
		Rule:     rule,
		Reason:   reason,
		Snapshot: snapshot,
		Time:     snapshot.BarTime,
	}
}

// suppressed reports whether a decision would not change the position state.
func suppressed(decision types.Decision, side types.PositionSide) bool {
	switch decision {
	case types.DecisionEnterLong:
		return side == types.PositionSideLong
	case types.DecisionEnterShort:
		return side == types.PositionSideShort
	case types.DecisionExit:
		return side == types.PositionSideFlat
	default:
		return false
	}
}
