package exchange

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/arbiterhq/arbiter/internal/types"
	"github.com/arbiterhq/arbiter/pkg/errors"
)

// PriceSource supplies the last known bar for an instrument. The market data
// cache satisfies this.
type PriceSource interface {
	Last(symbol string) (types.Bar, bool)
}

// PaperExchange fills orders in-process against the last cached price.
// Used for dry runs and tests. It keeps venue-side idempotency: replaying a
// key returns the original acknowledgment without filling again.
type PaperExchange struct {
	prices PriceSource

	mu     sync.Mutex
	acks   map[string]types.OrderAck
	fills  chan types.FillEvent
	nextID int64
}

var _ Exchange = (*PaperExchange)(nil)

// NewPaperExchange creates a paper exchange over the given price source.
func NewPaperExchange(prices PriceSource) *PaperExchange {
	return &PaperExchange{
		prices: prices,
		acks:   make(map[string]types.OrderAck),
		fills:  make(chan types.FillEvent, 256),
	}
}

// PlaceOrder fills the full quantity immediately. Market orders fill at the
// last cached close; limit orders fill at their limit price.
func (p *PaperExchange) PlaceOrder(ctx context.Context, request types.OrderRequest) (types.OrderAck, error) {
	if err := request.Validate(); err != nil {
		return types.OrderAck{}, err
	}

	if ctx.Err() != nil {
		return types.OrderAck{}, errors.Wrapf(errors.ErrCodeExchangeTimeout, ctx.Err(), "order %s submission cancelled", request.IdempotencyKey)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if ack, ok := p.acks[request.IdempotencyKey]; ok {
		return ack, nil
	}

	var price float64

	switch request.Type {
	case types.OrderTypeLimit:
		price = request.LimitPrice.Unwrap()
	default:
		last, ok := p.prices.Last(request.Symbol)
		if !ok {
			return types.OrderAck{}, errors.Newf(errors.ErrCodeOrderRejected, "no price available for %s", request.Symbol)
		}

		price = last.Close
	}

	p.nextID++
	now := time.Now()

	ack := types.OrderAck{
		IdempotencyKey:  request.IdempotencyKey,
		ExchangeOrderID: strconv.FormatInt(p.nextID, 10),
		Time:            now,
	}
	p.acks[request.IdempotencyKey] = ack

	select {
	case p.fills <- types.FillEvent{
		FillID:         request.IdempotencyKey + ":1",
		IdempotencyKey: request.IdempotencyKey,
		Symbol:         request.Symbol,
		Side:           request.Side,
		Quantity:       request.Quantity,
		Price:          price,
		Time:           now,
	}:
	default:
		return types.OrderAck{}, errors.New(errors.ErrCodeExchangeUnavailable, "paper fill channel full")
	}

	return ack, nil
}

// StreamFills returns the fill channel. The channel closes when ctx ends.
func (p *PaperExchange) StreamFills(ctx context.Context) (<-chan types.FillEvent, error) {
	out := make(chan types.FillEvent, 256)

	go func() {
		defer close(out)

		for {
			select {
			case <-ctx.Done():
				return
			case fill := <-p.fills:
				select {
				case out <- fill:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
