package execution

import (
	"sort"
	"sync"
	"time"

	"github.com/arbiterhq/arbiter/internal/types"
	"github.com/arbiterhq/arbiter/pkg/errors"
)

// Store holds every order of the process lifetime, keyed by idempotency key,
// and enforces monotonic status transitions. It also keeps a bounded ring of
// recent fills for reporting.
type Store struct {
	mu sync.Mutex

	orders map[string]*types.Order
	// openBySymbol tracks the at-most-one open order per instrument.
	openBySymbol map[string]string
	seenFills    map[string]bool

	recentFills []types.FillEvent
	maxRecent   int
}

// NewStore creates a store retaining up to maxRecentFills fill events.
func NewStore(maxRecentFills int) *Store {
	if maxRecentFills <= 0 {
		maxRecentFills = 100
	}

	return &Store{
		orders:       make(map[string]*types.Order),
		openBySymbol: make(map[string]string),
		seenFills:    make(map[string]bool),
		maxRecent:    maxRecentFills,
	}
}

// Create registers a new PENDING order. A second open order for the same
// instrument is refused, as is a reused idempotency key.
func (s *Store) Create(order types.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[order.IdempotencyKey]; ok {
		return errors.Newf(errors.ErrCodeInvalidOrder, "order %s already exists", order.IdempotencyKey)
	}

	if openKey, ok := s.openBySymbol[order.Symbol]; ok {
		return errors.Newf(errors.ErrCodeOrderInFlight, "order %s is still open for %s", openKey, order.Symbol)
	}

	order.Status = types.OrderStatusPending

	s.orders[order.IdempotencyKey] = &order
	s.openBySymbol[order.Symbol] = order.IdempotencyKey

	return nil
}

// Transition moves an order to the next status, rejecting regressions.
func (s *Store) Transition(key string, next types.OrderStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.transitionLocked(key, next, at)
}

func (s *Store) transitionLocked(key string, next types.OrderStatus, at time.Time) error {
	order, ok := s.orders[key]
	if !ok {
		return errors.Newf(errors.ErrCodeOrderNotFound, "order %s not found", key)
	}

	if !order.Status.CanTransition(next) {
		return errors.Newf(errors.ErrCodeInvalidTransition,
			"order %s cannot move from %s to %s", key, order.Status, next)
	}

	order.Status = next
	order.UpdatedAt = at

	if !next.Open() {
		if s.openBySymbol[order.Symbol] == key {
			delete(s.openBySymbol, order.Symbol)
		}
	}

	return nil
}

// SetAck records the exchange acknowledgment on an order.
func (s *Store) SetAck(key string, ack types.OrderAck, attempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[key]
	if !ok {
		return errors.Newf(errors.ErrCodeOrderNotFound, "order %s not found", key)
	}

	order.ExchangeOrderID = ack.ExchangeOrderID
	order.Attempts = attempts

	return s.transitionLocked(key, types.OrderStatusAcked, ack.Time)
}

// RecordFill applies a fill to its order. A previously seen FillID returns
// applied=false and changes nothing. Crossing the full quantity transitions
// the order to FILLED, anything less to PARTIALLY_FILLED.
func (s *Store) RecordFill(fill types.FillEvent) (applied bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seenFills[fill.FillID] {
		return false, nil
	}

	order, ok := s.orders[fill.IdempotencyKey]
	if !ok {
		return false, errors.Newf(errors.ErrCodeOrderNotFound, "fill %s references unknown order %s", fill.FillID, fill.IdempotencyKey)
	}

	s.seenFills[fill.FillID] = true

	order.FilledQuantity += fill.Quantity

	next := types.OrderStatusPartiallyFilled
	if order.FilledQuantity >= order.Quantity {
		next = types.OrderStatusFilled
	}

	if order.Status.CanTransition(next) {
		if err := s.transitionLocked(fill.IdempotencyKey, next, fill.Time); err != nil {
			return false, err
		}
	}

	s.recentFills = append(s.recentFills, fill)
	if len(s.recentFills) > s.maxRecent {
		s.recentFills = s.recentFills[len(s.recentFills)-s.maxRecent:]
	}

	return true, nil
}

// Get returns a copy of one order.
func (s *Store) Get(key string) (types.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[key]
	if !ok {
		return types.Order{}, false
	}

	return *order, true
}

// OpenOrder returns the open order for an instrument, if any.
func (s *Store) OpenOrder(symbol string) (types.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.openBySymbol[symbol]
	if !ok {
		return types.Order{}, false
	}

	return *s.orders[key], true
}

// Orders returns copies of all orders, newest first.
func (s *Store) Orders() []types.Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]types.Order, 0, len(s.orders))
	for _, order := range s.orders {
		result = append(result, *order)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].SubmittedAt.After(result[j].SubmittedAt)
	})

	return result
}

// RecentFills returns up to n of the most recent fills, newest first.
func (s *Store) RecentFills(n int) []types.FillEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n <= 0 || n > len(s.recentFills) {
		n = len(s.recentFills)
	}

	result := make([]types.FillEvent, 0, n)
	for i := len(s.recentFills) - 1; i >= len(s.recentFills)-n; i-- {
		result = append(result, s.recentFills[i])
	}

	return result
}
