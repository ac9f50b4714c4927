package market

import (
	"context"
	"iter"
	"strconv"
	"time"

	binance "github.com/adshao/go-binance/v2"

	"github.com/arbiterhq/arbiter/internal/types"
	"github.com/arbiterhq/arbiter/pkg/errors"
)

// BinanceWebSocketService abstracts the Binance kline websocket endpoint so
// tests can substitute a fake without a network connection.
type BinanceWebSocketService interface {
	WsKlineServe(symbol string, interval string, handler binance.WsKlineHandler, errHandler binance.ErrHandler) (doneC chan struct{}, stopC chan struct{}, err error)
}

type binanceWebSocketService struct{}

func (binanceWebSocketService) WsKlineServe(symbol string, interval string, handler binance.WsKlineHandler, errHandler binance.ErrHandler) (chan struct{}, chan struct{}, error) {
	return binance.WsKlineServe(symbol, interval, handler, errHandler)
}

// BinanceFeed streams finalized klines from the Binance spot websocket.
type BinanceFeed struct {
	ws BinanceWebSocketService
}

// NewBinanceFeed creates a feed backed by the real Binance websocket.
func NewBinanceFeed() *BinanceFeed {
	return &BinanceFeed{ws: binanceWebSocketService{}}
}

// NewBinanceFeedWithWebSocket creates a feed with a custom websocket service.
func NewBinanceFeedWithWebSocket(ws BinanceWebSocketService) *BinanceFeed {
	return &BinanceFeed{ws: ws}
}

var _ Feed = (*BinanceFeed)(nil)

type streamItem struct {
	bar types.Bar
	err error
}

// Stream subscribes one websocket per symbol and merges finalized klines into
// a single sequence. Unfinalized (still-forming) klines are skipped.
func (f *BinanceFeed) Stream(ctx context.Context, symbols []string, interval string) iter.Seq2[types.Bar, error] {
	return func(yield func(types.Bar, error) bool) {
		items := make(chan streamItem, len(symbols)*2)

		var stops []chan struct{}

		for _, symbol := range symbols {
			handler := func(event *binance.WsKlineEvent) {
				if event == nil || !event.Kline.IsFinal {
					return
				}

				bar, err := klineToBar(event)

				select {
				case items <- streamItem{bar: bar, err: err}:
				case <-ctx.Done():
				}
			}

			errHandler := func(err error) {
				select {
				case items <- streamItem{err: errors.Wrapf(errors.ErrCodeFeedFailed, err, "binance kline stream for %s failed", symbol)}:
				case <-ctx.Done():
				}
			}

			_, stopC, err := f.ws.WsKlineServe(symbol, interval, handler, errHandler)
			if err != nil {
				yield(types.Bar{}, errors.Wrapf(errors.ErrCodeFeedFailed, err, "failed to subscribe to %s klines", symbol))

				closeAll(stops)

				return
			}

			stops = append(stops, stopC)
		}

		defer closeAll(stops)

		for {
			select {
			case <-ctx.Done():
				return
			case item := <-items:
				if !yield(item.bar, item.err) {
					return
				}
			}
		}
	}
}

func closeAll(stops []chan struct{}) {
	for _, stopC := range stops {
		close(stopC)
	}
}

// klineToBar converts a websocket kline event to a Bar, timestamped at the
// kline open time.
func klineToBar(event *binance.WsKlineEvent) (types.Bar, error) {
	open, err := strconv.ParseFloat(event.Kline.Open, 64)
	if err != nil {
		return types.Bar{}, errors.Wrapf(errors.ErrCodeFeedFailed, err, "invalid open price %q", event.Kline.Open)
	}

	high, err := strconv.ParseFloat(event.Kline.High, 64)
	if err != nil {
		return types.Bar{}, errors.Wrapf(errors.ErrCodeFeedFailed, err, "invalid high price %q", event.Kline.High)
	}

	low, err := strconv.ParseFloat(event.Kline.Low, 64)
	if err != nil {
		return types.Bar{}, errors.Wrapf(errors.ErrCodeFeedFailed, err, "invalid low price %q", event.Kline.Low)
	}

	closePrice, err := strconv.ParseFloat(event.Kline.Close, 64)
	if err != nil {
		return types.Bar{}, errors.Wrapf(errors.ErrCodeFeedFailed, err, "invalid close price %q", event.Kline.Close)
	}

	volume, err := strconv.ParseFloat(event.Kline.Volume, 64)
	if err != nil {
		return types.Bar{}, errors.Wrapf(errors.ErrCodeFeedFailed, err, "invalid volume %q", event.Kline.Volume)
	}

	return types.Bar{
		Symbol: event.Symbol,
		Time:   time.UnixMilli(event.Kline.StartTime),
		Open:   open,
		High:   high,
		Low:    low,
		Close:  closePrice,
		Volume: volume,
	}, nil
}
