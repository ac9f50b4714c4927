package exchange

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/arbiterhq/arbiter/internal/config"
	"github.com/arbiterhq/arbiter/internal/logger"
	"github.com/arbiterhq/arbiter/internal/types"
	"github.com/arbiterhq/arbiter/pkg/errors"
)

// Service interfaces for mocking the Binance API

// CreateOrderService interface for creating orders.
type CreateOrderService interface {
	Symbol(symbol string) CreateOrderService
	Side(side binance.SideType) CreateOrderService
	Type(orderType binance.OrderType) CreateOrderService
	Quantity(quantity string) CreateOrderService
	Price(price string) CreateOrderService
	TimeInForce(tif binance.TimeInForceType) CreateOrderService
	NewClientOrderID(id string) CreateOrderService
	Do(ctx context.Context) (*binance.CreateOrderResponse, error)
}

// GetOrderService interface for querying a single order.
type GetOrderService interface {
	Symbol(symbol string) GetOrderService
	OrigClientOrderID(id string) GetOrderService
	Do(ctx context.Context) (*binance.Order, error)
}

// BinanceClient interface abstracts the Binance client for testing.
type BinanceClient interface {
	NewCreateOrderService() CreateOrderService
	NewGetOrderService() GetOrderService
}

// realBinanceClient wraps the actual binance.Client.
type realBinanceClient struct {
	client *binance.Client
}

func (r *realBinanceClient) NewCreateOrderService() CreateOrderService {
	return &realCreateOrderService{service: r.client.NewCreateOrderService()}
}

func (r *realBinanceClient) NewGetOrderService() GetOrderService {
	return &realGetOrderService{service: r.client.NewGetOrderService()}
}

type realCreateOrderService struct {
	service *binance.CreateOrderService
}

func (s *realCreateOrderService) Symbol(symbol string) CreateOrderService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realCreateOrderService) Side(side binance.SideType) CreateOrderService {
	s.service = s.service.Side(side)

	return s
}

func (s *realCreateOrderService) Type(orderType binance.OrderType) CreateOrderService {
	s.service = s.service.Type(orderType)

	return s
}

func (s *realCreateOrderService) Quantity(quantity string) CreateOrderService {
	s.service = s.service.Quantity(quantity)

	return s
}

func (s *realCreateOrderService) Price(price string) CreateOrderService {
	s.service = s.service.Price(price)

	return s
}

func (s *realCreateOrderService) TimeInForce(tif binance.TimeInForceType) CreateOrderService {
	s.service = s.service.TimeInForce(tif)

	return s
}

func (s *realCreateOrderService) NewClientOrderID(id string) CreateOrderService {
	s.service = s.service.NewClientOrderID(id)

	return s
}

func (s *realCreateOrderService) Do(ctx context.Context) (*binance.CreateOrderResponse, error) {
	return s.service.Do(ctx)
}

type realGetOrderService struct {
	service *binance.GetOrderService
}

func (s *realGetOrderService) Symbol(symbol string) GetOrderService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realGetOrderService) OrigClientOrderID(id string) GetOrderService {
	s.service = s.service.OrigClientOrderID(id)

	return s
}

func (s *realGetOrderService) Do(ctx context.Context) (*binance.Order, error) {
	return s.service.Do(ctx)
}

// trackedOrder is an order awaiting fills via polling.
type trackedOrder struct {
	symbol string
	side   types.Side
	// filled is the executed quantity already emitted as fill events.
	filled float64
	// quote is the cumulative quote quantity already accounted for; the
	// delta against it prices the next increment.
	quote float64
}

// BinanceExchange places spot orders on Binance. The idempotency key is sent
// as the client order ID, so a replayed submission is refused by the venue as
// a duplicate instead of creating a second order.
//
// Fills are recovered by polling each open order's executed quantity; every
// increment is emitted as a synthetic fill event with a deterministic fill ID,
// so redeliveries after a reconnect deduplicate downstream.
type BinanceExchange struct {
	client       BinanceClient
	logger       *logger.Logger
	pollInterval time.Duration

	mu      sync.Mutex
	tracked map[string]*trackedOrder
	fills   chan types.FillEvent
	started bool
}

var _ Exchange = (*BinanceExchange)(nil)

// NewBinanceExchange creates a Binance spot exchange from configuration.
func NewBinanceExchange(cfg config.ExchangeConfig, log *logger.Logger) *BinanceExchange {
	if cfg.Testnet {
		binance.UseTestnet = true
	}

	client := binance.NewClient(cfg.ApiKey, cfg.SecretKey)

	return newBinanceExchangeWithClient(&realBinanceClient{client: client}, cfg.FillPollInterval, log)
}

// newBinanceExchangeWithClient creates an exchange with a custom client.
// This is used for testing with fake clients.
func newBinanceExchangeWithClient(client BinanceClient, pollInterval time.Duration, log *logger.Logger) *BinanceExchange {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}

	return &BinanceExchange{
		client:       client,
		logger:       log,
		pollInterval: pollInterval,
		tracked:      make(map[string]*trackedOrder),
		fills:        make(chan types.FillEvent, 256),
	}
}

// PlaceOrder submits an order with the idempotency key as client order ID.
// Fills already reported in the creation response are emitted immediately;
// the remainder is recovered by polling.
func (b *BinanceExchange) PlaceOrder(ctx context.Context, request types.OrderRequest) (types.OrderAck, error) {
	if err := request.Validate(); err != nil {
		return types.OrderAck{}, err
	}

	var side binance.SideType

	switch request.Side {
	case types.SideBuy:
		side = binance.SideTypeBuy
	case types.SideSell:
		side = binance.SideTypeSell
	default:
		return types.OrderAck{}, errors.Newf(errors.ErrCodeInvalidOrder, "unsupported order side: %s", request.Side)
	}

	service := b.client.NewCreateOrderService().
		Symbol(request.Symbol).
		Side(side).
		Quantity(decimal.NewFromFloat(request.Quantity).String()).
		NewClientOrderID(request.IdempotencyKey)

	switch request.Type {
	case types.OrderTypeMarket:
		service = service.Type(binance.OrderTypeMarket)
	case types.OrderTypeLimit:
		service = service.
			Type(binance.OrderTypeLimit).
			Price(decimal.NewFromFloat(request.LimitPrice.Unwrap()).String()).
			TimeInForce(binance.TimeInForceTypeGTC)
	default:
		return types.OrderAck{}, errors.Newf(errors.ErrCodeInvalidOrder, "unsupported order type: %s", request.Type)
	}

	response, err := service.Do(ctx)
	if err != nil {
		return b.handlePlaceError(ctx, request, err)
	}

	ack := types.OrderAck{
		IdempotencyKey:  request.IdempotencyKey,
		ExchangeOrderID: strconv.FormatInt(response.OrderID, 10),
		Time:            time.UnixMilli(response.TransactTime),
	}

	b.recordResponse(request, response)

	return ack, nil
}

// handlePlaceError maps a Binance error onto the error taxonomy. A duplicate
// client order ID means a previous attempt already landed, so the existing
// order is fetched and acknowledged instead of failing.
func (b *BinanceExchange) handlePlaceError(ctx context.Context, request types.OrderRequest, err error) (types.OrderAck, error) {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		if strings.Contains(strings.ToLower(apiErr.Message), "duplicate") {
			return b.ackExisting(ctx, request)
		}

		return types.OrderAck{}, errors.Wrapf(errors.ErrCodeOrderRejected, err, "binance rejected order %s", request.IdempotencyKey)
	}

	// The outcome is unknown: the request may have reached the venue. Track
	// the key so polling reconciles the order either way.
	b.track(request.IdempotencyKey, request.Symbol, request.Side)

	if ctx.Err() != nil {
		return types.OrderAck{}, errors.Wrapf(errors.ErrCodeExchangeTimeout, err, "order %s submission timed out", request.IdempotencyKey)
	}

	return types.OrderAck{}, errors.Wrapf(errors.ErrCodeExchangeUnavailable, err, "order %s submission failed", request.IdempotencyKey)
}

// ackExisting resolves a duplicate-key submission to the order it already
// created.
func (b *BinanceExchange) ackExisting(ctx context.Context, request types.OrderRequest) (types.OrderAck, error) {
	order, err := b.client.NewGetOrderService().
		Symbol(request.Symbol).
		OrigClientOrderID(request.IdempotencyKey).
		Do(ctx)
	if err != nil {
		return types.OrderAck{}, errors.Wrapf(errors.ErrCodeOrderUnknownState, err,
			"order %s was already submitted but could not be fetched", request.IdempotencyKey)
	}

	b.track(request.IdempotencyKey, request.Symbol, request.Side)

	return types.OrderAck{
		IdempotencyKey:  request.IdempotencyKey,
		ExchangeOrderID: strconv.FormatInt(order.OrderID, 10),
		Time:            time.UnixMilli(order.UpdateTime),
	}, nil
}

// recordResponse emits the creation response's immediate fills and tracks the
// order for polling if quantity remains.
func (b *BinanceExchange) recordResponse(request types.OrderRequest, response *binance.CreateOrderResponse) {
	emitted := 0.0
	quote := 0.0

	for _, fill := range response.Fills {
		quantity, err := strconv.ParseFloat(fill.Quantity, 64)
		if err != nil || quantity <= 0 {
			continue
		}

		price, err := strconv.ParseFloat(fill.Price, 64)
		if err != nil {
			continue
		}

		emitted += quantity
		quote += quantity * price

		b.emit(types.FillEvent{
			FillID:         request.IdempotencyKey + ":" + strconv.FormatInt(fill.TradeID, 10),
			IdempotencyKey: request.IdempotencyKey,
			Symbol:         request.Symbol,
			Side:           request.Side,
			Quantity:       quantity,
			Price:          price,
			Time:           time.UnixMilli(response.TransactTime),
		})
	}

	if response.Status == binance.OrderStatusTypeFilled && emitted >= request.Quantity {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.tracked[request.IdempotencyKey] = &trackedOrder{
		symbol: request.Symbol,
		side:   request.Side,
		filled: emitted,
		quote:  quote,
	}
}

func (b *BinanceExchange) track(key, symbol string, side types.Side) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.tracked[key]; !ok {
		b.tracked[key] = &trackedOrder{symbol: symbol, side: side}
	}
}

// StreamFills starts the poll loop on first call and returns the fill channel.
func (b *BinanceExchange) StreamFills(ctx context.Context) (<-chan types.FillEvent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started {
		b.started = true

		go b.pollLoop(ctx)
	}

	return b.fills, nil
}

func (b *BinanceExchange) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()
	defer close(b.fills)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.pollOnce(ctx)
		}
	}
}

// pollOnce queries every tracked order and emits fill events for newly
// executed quantity. Fill IDs derive from the cumulative executed quantity,
// so observing the same state twice produces the same IDs.
func (b *BinanceExchange) pollOnce(ctx context.Context) {
	b.mu.Lock()
	keys := make([]string, 0, len(b.tracked))

	for key := range b.tracked {
		keys = append(keys, key)
	}
	b.mu.Unlock()

	for _, key := range keys {
		b.mu.Lock()
		state, ok := b.tracked[key]
		b.mu.Unlock()

		if !ok {
			continue
		}

		order, err := b.client.NewGetOrderService().
			Symbol(state.symbol).
			OrigClientOrderID(key).
			Do(ctx)
		if err != nil {
			// -2013: the venue never saw this order, so there is nothing
			// left to reconcile.
			var apiErr *common.APIError
			if errors.As(err, &apiErr) && apiErr.Code == -2013 {
				b.mu.Lock()
				delete(b.tracked, key)
				b.mu.Unlock()

				continue
			}

			b.logger.Warn("fill poll failed",
				zap.String("idempotency_key", key),
				zap.Error(err))

			continue
		}

		executed, err := strconv.ParseFloat(order.ExecutedQuantity, 64)
		if err != nil {
			continue
		}

		if executed > state.filled {
			price, quote := incrementFillPrice(order, state, executed)

			b.emit(types.FillEvent{
				FillID:         key + ":" + order.ExecutedQuantity,
				IdempotencyKey: key,
				Symbol:         state.symbol,
				Side:           state.side,
				Quantity:       executed - state.filled,
				Price:          price,
				Time:           time.UnixMilli(order.UpdateTime),
			})

			b.mu.Lock()
			state.filled = executed
			state.quote = quote
			b.mu.Unlock()
		}

		switch order.Status {
		case binance.OrderStatusTypeFilled, binance.OrderStatusTypeCanceled,
			binance.OrderStatusTypeRejected, binance.OrderStatusTypeExpired:
			b.mu.Lock()
			delete(b.tracked, key)
			b.mu.Unlock()
		}
	}
}

// incrementFillPrice prices the newly executed quantity from the delta of
// cumulative quote quantity since the last poll, so partial fills at
// different prices are not flattened into a running average. Falls back to
// the order's limit price when the venue reports no quote quantity. Returns
// the price and the cumulative quote quantity now accounted for.
func incrementFillPrice(order *binance.Order, state *trackedOrder, executed float64) (float64, float64) {
	quote, err := strconv.ParseFloat(order.CummulativeQuoteQuantity, 64)
	if err == nil && quote > state.quote && executed > state.filled {
		return (quote - state.quote) / (executed - state.filled), quote
	}

	price, _ := strconv.ParseFloat(order.Price, 64)

	return price, state.quote
}

func (b *BinanceExchange) emit(fill types.FillEvent) {
	select {
	case b.fills <- fill:
	default:
		b.logger.Error("fill channel full, dropping event",
			zap.String("fill_id", fill.FillID))
	}
}
