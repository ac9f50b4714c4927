package market

import (
	"context"
	"iter"

	"github.com/arbiterhq/arbiter/internal/types"
)

// Feed streams closed bars for a set of symbols.
type Feed interface {
	// Stream yields finalized bars across all requested symbols, in the order
	// the venue reports them. Per-symbol bars arrive in chronological order.
	// The sequence ends when ctx is cancelled or the feed fails; feed failures
	// are yielded as errors before the sequence ends.
	Stream(ctx context.Context, symbols []string, interval string) iter.Seq2[types.Bar, error]
}

// ReplayFeed replays a fixed slice of bars. Used by tests and dry runs.
type ReplayFeed struct {
	bars []types.Bar
}

// NewReplayFeed creates a feed that replays the given bars in slice order.
func NewReplayFeed(bars []types.Bar) *ReplayFeed {
	return &ReplayFeed{bars: bars}
}

var _ Feed = (*ReplayFeed)(nil)

// Stream yields the recorded bars for the requested symbols, then ends.
func (f *ReplayFeed) Stream(ctx context.Context, symbols []string, interval string) iter.Seq2[types.Bar, error] {
	wanted := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		wanted[s] = true
	}

	return func(yield func(types.Bar, error) bool) {
		for _, bar := range f.bars {
			if ctx.Err() != nil {
				return
			}

			if !wanted[bar.Symbol] {
				continue
			}

			if !yield(bar, nil) {
				return
			}
		}
	}
}
