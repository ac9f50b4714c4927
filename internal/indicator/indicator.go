package indicator

import (
	"sync"

	"github.com/arbiterhq/arbiter/internal/market"
	"github.com/arbiterhq/arbiter/internal/types"
	"github.com/arbiterhq/arbiter/pkg/errors"
)

// Indicator is a pure function over a chronological bar window.
type Indicator interface {
	// Name returns the name of the indicator.
	Name() types.IndicatorType
	// Lookback returns the minimum number of bars Compute needs.
	Lookback() int
	// Compute returns the indicator value over the given bars. The slice is
	// chronological (oldest first) and at least Lookback() long. Undefined
	// arithmetic (division by zero) yields NaN, never a panic.
	Compute(bars []types.Bar) (float64, error)
}

// Engine computes a snapshot of all registered indicators per instrument and
// stamps it with a strictly-increasing per-instrument sequence number.
type Engine struct {
	cache      *market.BarCache
	indicators []Indicator

	mu        sync.Mutex
	sequences map[string]uint64
}

// NewEngine creates an indicator engine over the given bar cache.
func NewEngine(cache *market.BarCache, indicators ...Indicator) (*Engine, error) {
	seen := make(map[types.IndicatorType]bool, len(indicators))

	for _, ind := range indicators {
		if seen[ind.Name()] {
			return nil, errors.Newf(errors.ErrCodeIndicatorAlreadyExists, "indicator %s registered twice", ind.Name())
		}

		seen[ind.Name()] = true
	}

	return &Engine{
		cache:      cache,
		indicators: indicators,
		sequences:  make(map[string]uint64),
	}, nil
}

// MaxLookback returns the largest lookback across registered indicators.
func (e *Engine) MaxLookback() int {
	lookback := 0

	for _, ind := range e.indicators {
		if ind.Lookback() > lookback {
			lookback = ind.Lookback()
		}
	}

	return lookback
}

// Compute evaluates every registered indicator over the cached history of one
// instrument. The sequence number advances only when the whole snapshot
// succeeds, so consumers never observe a sequence issued for a failed compute.
func (e *Engine) Compute(symbol string) (types.IndicatorSnapshot, error) {
	bars, err := e.cache.History(symbol, e.MaxLookback())
	if err != nil {
		return types.IndicatorSnapshot{}, err
	}

	last := bars[len(bars)-1]
	values := make(map[types.IndicatorType]float64, len(e.indicators))

	for _, ind := range e.indicators {
		value, err := ind.Compute(bars[len(bars)-ind.Lookback():])
		if err != nil {
			return types.IndicatorSnapshot{}, errors.Wrapf(errors.ErrCodeIndicatorCalculation, err, "failed to compute %s for %s", ind.Name(), symbol)
		}

		values[ind.Name()] = value
	}

	e.mu.Lock()
	e.sequences[symbol]++
	sequence := e.sequences[symbol]
	e.mu.Unlock()

	return types.IndicatorSnapshot{
		Symbol:   symbol,
		Sequence: sequence,
		BarTime:  last.Time,
		Close:    last.Close,
		Values:   values,
	}, nil
}

// Sequence returns the last issued sequence number for an instrument.
func (e *Engine) Sequence(symbol string) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.sequences[symbol]
}
