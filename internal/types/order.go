package types

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/moznion/go-optional"

	"github.com/arbiterhq/arbiter/pkg/errors"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType is the execution style of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OrderStatus is the lifecycle state of an order. Transitions are monotonic:
// an order never moves back to an earlier state.
type OrderStatus string

const (
	// OrderStatusPending means the submission has been created locally but
	// not yet acknowledged by the exchange.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusAcked means the exchange accepted the submission.
	OrderStatusAcked OrderStatus = "ACKED"
	// OrderStatusPartiallyFilled means at least one fill has been applied
	// but the order quantity is not yet complete.
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	// OrderStatusUnknown means the terminal state could not be confirmed
	// after retries. The order may still be live at the venue, so it keeps
	// blocking its instrument until reconciliation resolves it; it is
	// surfaced for the operator, never silently dropped.
	OrderStatusUnknown OrderStatus = "UNKNOWN"
	// OrderStatusFilled means the full order quantity executed.
	OrderStatusFilled OrderStatus = "FILLED"
	// OrderStatusRejected means the exchange refused the order.
	OrderStatusRejected OrderStatus = "REJECTED"
	// OrderStatusCancelled means the order was cancelled before completion.
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// statusRank orders statuses along the lifecycle. Higher ranks may never
// transition back to lower ones.
var statusRank = map[OrderStatus]int{
	OrderStatusPending:         1,
	OrderStatusAcked:           2,
	OrderStatusPartiallyFilled: 3,
	OrderStatusUnknown:         4,
	OrderStatusFilled:          5,
	OrderStatusRejected:        5,
	OrderStatusCancelled:       5,
}

// Terminal reports whether the status is a final lifecycle state.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFilled || s == OrderStatusRejected || s == OrderStatusCancelled
}

// Open reports whether the order still counts against the one-open-order-per-
// instrument invariant. UNKNOWN is open: the venue may yet fill it, so a new
// submission on the same instrument could stack exposure past the risk caps.
func (s OrderStatus) Open() bool {
	return s == OrderStatusPending || s == OrderStatusAcked ||
		s == OrderStatusPartiallyFilled || s == OrderStatusUnknown
}

// CanTransition reports whether moving from s to next preserves monotonic
// ordering. Repeated partial fills keep the same status, which is allowed;
// an UNKNOWN order may still resolve to a terminal state.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	from, ok := statusRank[s]
	if !ok {
		return false
	}

	to, ok := statusRank[next]
	if !ok {
		return false
	}

	if s == OrderStatusPartiallyFilled && next == OrderStatusPartiallyFilled {
		return true
	}

	return to > from
}

// OrderRequest is the idempotent submission handed to the exchange
// capability. The idempotency key is generated once per logical signal and
// reused verbatim on every retry.
type OrderRequest struct {
	// IdempotencyKey uniquely identifies the logical submission. The
	// exchange must never see two keys for one intended action.
	IdempotencyKey string `json:"idempotency_key" validate:"required"`
	// Symbol is the instrument symbol.
	Symbol string `json:"symbol" validate:"required"`
	// Side is the order direction.
	Side Side `json:"side" validate:"required,oneof=BUY SELL"`
	// Type is the order type.
	Type OrderType `json:"type" validate:"required,oneof=MARKET LIMIT"`
	// Quantity is the order size, already rounded to the instrument's lot.
	Quantity float64 `json:"quantity" validate:"required,gt=0"`
	// LimitPrice is set for limit orders only.
	LimitPrice optional.Option[float64] `json:"limit_price"`
}

// Validate validates the OrderRequest struct.
func (r *OrderRequest) Validate() error {
	validate := validator.New()
	if err := validate.Struct(r); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidOrder, "invalid order request", err)
	}

	if r.Type == OrderTypeLimit && r.LimitPrice.IsNone() {
		return errors.New(errors.ErrCodeInvalidOrder, "limit order requires a limit price")
	}

	return nil
}

// OrderAck is the exchange's acknowledgment of a submission.
type OrderAck struct {
	// IdempotencyKey echoes the submitted key.
	IdempotencyKey string `json:"idempotency_key"`
	// ExchangeOrderID is the exchange-assigned identifier.
	ExchangeOrderID string `json:"exchange_order_id"`
	// Time is when the exchange acknowledged the order.
	Time time.Time `json:"time"`
}

// Order is the local record of one submission, keyed by idempotency key for
// the lifetime of the process.
type Order struct {
	// IdempotencyKey is the order's primary identity.
	IdempotencyKey string `json:"idempotency_key"`
	// ExchangeOrderID is set once the exchange acknowledges the order.
	ExchangeOrderID string `json:"exchange_order_id"`
	// Symbol is the instrument symbol.
	Symbol string `json:"symbol"`
	// Side is the order direction.
	Side Side `json:"side"`
	// Type is the order type.
	Type OrderType `json:"type"`
	// Quantity is the requested size.
	Quantity float64 `json:"quantity"`
	// FilledQuantity is the size executed so far.
	FilledQuantity float64 `json:"filled_quantity"`
	// Status is the current lifecycle state.
	Status OrderStatus `json:"status"`
	// SignalSequence is the snapshot sequence that produced the order.
	SignalSequence uint64 `json:"signal_sequence"`
	// Attempts counts submission attempts, including retries.
	Attempts int `json:"attempts"`
	// SubmittedAt is when the first submission attempt was made.
	SubmittedAt time.Time `json:"submitted_at"`
	// UpdatedAt is when the order last changed state.
	UpdatedAt time.Time `json:"updated_at"`
}

// FillEvent reports that all or part of an order executed. Delivery is
// at-least-once; FillID deduplicates redeliveries.
type FillEvent struct {
	// FillID uniquely identifies the execution; a previously seen FillID is
	// applied as a no-op.
	FillID string `json:"fill_id"`
	// IdempotencyKey links the fill back to its order.
	IdempotencyKey string `json:"idempotency_key"`
	// Symbol is the instrument symbol.
	Symbol string `json:"symbol"`
	// Side is the executed direction.
	Side Side `json:"side"`
	// Quantity is the executed size of this fill.
	Quantity float64 `json:"quantity"`
	// Price is the execution price of this fill.
	Price float64 `json:"price"`
	// Time is the exchange-reported execution time.
	Time time.Time `json:"time"`
}
