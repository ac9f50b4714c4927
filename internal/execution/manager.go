package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arbiterhq/arbiter/internal/config"
	"github.com/arbiterhq/arbiter/internal/exchange"
	"github.com/arbiterhq/arbiter/internal/logger"
	"github.com/arbiterhq/arbiter/internal/risk"
	"github.com/arbiterhq/arbiter/internal/types"
	"github.com/arbiterhq/arbiter/pkg/errors"
)

// orderNamespace is the UUIDv5 namespace for idempotency keys. Fixed for the
// lifetime of the project so a given (instrument, sequence) pair always maps
// to the same key.
var orderNamespace = uuid.MustParse("7a5f9c1e-4b2d-4e8a-9c3f-d6e0a1b2c3d4")

// IdempotencyKey derives the deterministic submission key for a logical
// signal. Retries of the same signal reuse this key verbatim.
func IdempotencyKey(symbol string, sequence uint64) string {
	return uuid.NewSHA1(orderNamespace, []byte(fmt.Sprintf("%s:%d", symbol, sequence))).String()
}

// Manager is the single path from signals to the exchange and from fills to
// the position tracker. It enforces the one-open-order-per-instrument
// invariant, gates submissions through risk authorization, and retries
// transient failures with the same idempotency key.
type Manager struct {
	exchange exchange.Exchange
	risk     *risk.Tracker
	store    *Store
	retry    config.RetryConfig
	logger   *logger.Logger
}

// NewManager creates an execution manager.
func NewManager(ex exchange.Exchange, tracker *risk.Tracker, store *Store, retry config.RetryConfig, log *logger.Logger) *Manager {
	return &Manager{
		exchange: ex,
		risk:     tracker,
		store:    store,
		retry:    retry,
		logger:   log,
	}
}

// Store exposes the order store for reporting surfaces.
func (m *Manager) Store() *Store {
	return m.store
}

// Submit turns an actionable signal into an exchange order. The request's
// idempotency key is derived from the signal's instrument and sequence, so a
// crashed-and-replayed submission cannot double-order.
//
// Outcomes: an open order for the instrument returns ErrCodeOrderInFlight; a
// risk denial returns ErrCodeRiskRejected; an exchange refusal moves the
// order to REJECTED; exhausted retries move it to UNKNOWN and return
// ErrCodeOrderUnknownState.
func (m *Manager) Submit(ctx context.Context, request types.OrderRequest, signalSequence uint64) (types.Order, error) {
	if request.IdempotencyKey == "" {
		request.IdempotencyKey = IdempotencyKey(request.Symbol, signalSequence)
	}

	if err := request.Validate(); err != nil {
		return types.Order{}, err
	}

	if open, ok := m.store.OpenOrder(request.Symbol); ok {
		return types.Order{}, errors.Newf(errors.ErrCodeOrderInFlight,
			"order %s is still %s for %s", open.IdempotencyKey, open.Status, request.Symbol)
	}

	if err := m.risk.Authorize(request); err != nil {
		return types.Order{}, err
	}

	now := time.Now()
	order := types.Order{
		IdempotencyKey: request.IdempotencyKey,
		Symbol:         request.Symbol,
		Side:           request.Side,
		Type:           request.Type,
		Quantity:       request.Quantity,
		Status:         types.OrderStatusPending,
		SignalSequence: signalSequence,
		SubmittedAt:    now,
		UpdatedAt:      now,
	}

	if err := m.store.Create(order); err != nil {
		return types.Order{}, err
	}

	ack, attempts, err := m.place(ctx, request)
	if err != nil {
		return m.resolveFailure(request, attempts, err)
	}

	if err := m.store.SetAck(request.IdempotencyKey, ack, attempts); err != nil {
		return types.Order{}, err
	}

	m.logger.Info("order acknowledged",
		zap.String("idempotency_key", request.IdempotencyKey),
		zap.String("symbol", request.Symbol),
		zap.String("exchange_order_id", ack.ExchangeOrderID),
		zap.Int("attempts", attempts))

	result, _ := m.store.Get(request.IdempotencyKey)

	return result, nil
}

// place runs the bounded retry loop. Rejections stop immediately; timeouts
// and transport failures retry with exponential backoff, reusing the same
// request and key on every attempt.
func (m *Manager) place(ctx context.Context, request types.OrderRequest) (types.OrderAck, int, error) {
	var (
		ack      types.OrderAck
		attempts int
	)

	operation := func() error {
		attempts++

		result, err := m.exchange.PlaceOrder(ctx, request)
		if err != nil {
			if errors.HasCode(err, errors.ErrCodeOrderRejected) || errors.HasCode(err, errors.ErrCodeInvalidOrder) {
				return backoff.Permanent(err)
			}

			m.logger.Warn("order submission attempt failed",
				zap.String("idempotency_key", request.IdempotencyKey),
				zap.Int("attempt", attempts),
				zap.Error(err))

			return err
		}

		ack = result

		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.retry.InitialInterval
	policy.MaxInterval = m.retry.MaxInterval
	policy.MaxElapsedTime = 0

	err := backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(policy, uint64(m.retry.MaxAttempts-1)), ctx))

	return ack, attempts, err
}

// resolveFailure maps a failed submission to its terminal-or-UNKNOWN state.
func (m *Manager) resolveFailure(request types.OrderRequest, attempts int, cause error) (types.Order, error) {
	now := time.Now()

	if errors.HasCode(cause, errors.ErrCodeOrderRejected) || errors.HasCode(cause, errors.ErrCodeInvalidOrder) {
		if err := m.store.Transition(request.IdempotencyKey, types.OrderStatusRejected, now); err != nil {
			m.logger.Error("failed to mark order rejected", zap.Error(err))
		}

		order, _ := m.store.Get(request.IdempotencyKey)

		return order, cause
	}

	// Retries exhausted without a definitive answer. The order may or may not
	// exist on the venue; surface it for reconciliation instead of guessing.
	if err := m.store.Transition(request.IdempotencyKey, types.OrderStatusUnknown, now); err != nil {
		m.logger.Error("failed to mark order unknown", zap.Error(err))
	}

	m.logger.Error("order state unknown after retries",
		zap.String("idempotency_key", request.IdempotencyKey),
		zap.Int("attempts", attempts),
		zap.Error(cause))

	order, _ := m.store.Get(request.IdempotencyKey)

	return order, errors.Wrapf(errors.ErrCodeOrderUnknownState, cause,
		"order %s unresolved after %d attempts", request.IdempotencyKey, attempts)
}

// ApplyFill routes one fill event through the store and, when it is new, into
// the position tracker. Redelivered fills (same FillID) mutate nothing.
func (m *Manager) ApplyFill(fill types.FillEvent) (types.Position, bool, error) {
	applied, err := m.store.RecordFill(fill)
	if err != nil {
		return types.Position{}, false, err
	}

	if !applied {
		m.logger.Debug("duplicate fill ignored", zap.String("fill_id", fill.FillID))

		return m.risk.Position(fill.Symbol), false, nil
	}

	position := m.risk.Apply(fill)

	m.logger.Info("fill applied",
		zap.String("fill_id", fill.FillID),
		zap.String("symbol", fill.Symbol),
		zap.Float64("quantity", fill.Quantity),
		zap.Float64("price", fill.Price),
		zap.String("position_side", string(position.Side)),
		zap.Float64("position_quantity", position.Quantity))

	return position, true, nil
}
