package market

import (
	"sort"
	"sync"

	"github.com/arbiterhq/arbiter/internal/types"
	"github.com/arbiterhq/arbiter/pkg/errors"
)

// BarCache stores closed bars per instrument in a fixed-size sliding window,
// evicting the oldest entry when a symbol reaches capacity.
// Reads return copies, so callers can hold results across concurrent appends.
type BarCache struct {
	capacity int
	// data stores bars per symbol, ordered by time (oldest first)
	data map[string][]types.Bar
	mu   sync.RWMutex
}

// NewBarCache creates a BarCache with the specified capacity per symbol.
func NewBarCache(capacity int) *BarCache {
	return &BarCache{
		capacity: capacity,
		data:     make(map[string][]types.Bar),
		mu:       sync.RWMutex{},
	}
}

// Append adds a bar to the cache. A bar at an already-cached time replaces
// the existing entry. Out-of-order bars are inserted in time order.
func (c *BarCache) Append(bar types.Bar) {
	if c.capacity <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	symbol := bar.Symbol
	if _, ok := c.data[symbol]; !ok {
		c.data[symbol] = make([]types.Bar, 0, c.capacity)
	}

	bars := c.data[symbol]

	// Fast path: chronological append (the common case for a live feed)
	if len(bars) > 0 {
		lastTime := bars[len(bars)-1].Time
		if bar.Time.After(lastTime) {
			bars = append(bars, bar)
			if len(bars) > c.capacity {
				bars = bars[1:]
			}

			c.data[symbol] = bars

			return
		}

		if bar.Time.Equal(lastTime) {
			bars[len(bars)-1] = bar

			return
		}
	} else {
		c.data[symbol] = append(bars, bar)

		return
	}

	// Slow path: out-of-order insertion
	insertIdx := sort.Search(len(bars), func(i int) bool {
		return !bars[i].Time.Before(bar.Time)
	})

	if insertIdx < len(bars) && bars[insertIdx].Time.Equal(bar.Time) {
		bars[insertIdx] = bar

		return
	}

	bars = append(bars, types.Bar{})
	copy(bars[insertIdx+1:], bars[insertIdx:])
	bars[insertIdx] = bar

	if len(bars) > c.capacity {
		bars = bars[len(bars)-c.capacity:]
	}

	c.data[symbol] = bars
}

// History returns a chronological copy of the most recent n bars for a symbol.
// Returns ErrCodeInsufficientHistory when fewer than n bars are cached.
func (c *BarCache) History(symbol string, n int) ([]types.Bar, error) {
	if n <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidParameter, "history size must be positive, got %d", n)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	bars, ok := c.data[symbol]
	if !ok || len(bars) < n {
		return nil, errors.Newf(errors.ErrCodeInsufficientHistory,
			"%s has %d cached bars, need %d", symbol, len(bars), n)
	}

	result := make([]types.Bar, n)
	copy(result, bars[len(bars)-n:])

	return result, nil
}

// Last returns the most recent bar for a symbol.
func (c *BarCache) Last(symbol string) (types.Bar, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	bars, ok := c.data[symbol]
	if !ok || len(bars) == 0 {
		return types.Bar{}, false
	}

	return bars[len(bars)-1], true
}

// Size returns the current number of cached bars for a symbol.
func (c *BarCache) Size(symbol string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.data[symbol])
}

// Capacity returns the per-symbol capacity.
func (c *BarCache) Capacity() int {
	return c.capacity
}
