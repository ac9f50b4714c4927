package strategy

import (
	"github.com/arbiterhq/arbiter/internal/types"
)

// Rule inspects the current position and indicator snapshot and proposes a
// decision. Rules run in configuration order; the first match wins.
//
// Rules may keep per-instrument state across evaluations (crossover detection
// needs the previous values), so every instrument gets its own rule instances.
type Rule interface {
	// Name identifies the rule in signals and logs.
	Name() string
	// Evaluate returns a decision, a human-readable reason and whether the
	// rule matched. An unmatched rule defers to the next rule in order.
	Evaluate(position types.Position, snapshot types.IndicatorSnapshot) (types.Decision, string, bool)
}
