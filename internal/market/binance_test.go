package market

import (
	"context"
	"testing"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/stretchr/testify/suite"

	"github.com/arbiterhq/arbiter/internal/types"
)

// fakeWebSocketService emits a fixed set of kline events per symbol.
type fakeWebSocketService struct {
	events     map[string][]*binance.WsKlineEvent
	streamErr  error
	startError error
}

func (f *fakeWebSocketService) WsKlineServe(symbol string, interval string, handler binance.WsKlineHandler, errHandler binance.ErrHandler) (chan struct{}, chan struct{}, error) {
	if f.startError != nil {
		return nil, nil, f.startError
	}

	doneC := make(chan struct{})
	stopC := make(chan struct{})

	go func() {
		defer close(doneC)

		for _, event := range f.events[symbol] {
			select {
			case <-stopC:
				return
			default:
				handler(event)
			}
		}

		if f.streamErr != nil {
			errHandler(f.streamErr)
		}

		<-stopC
	}()

	return doneC, stopC, nil
}

func klineEvent(symbol string, startMillis int64, closePrice string, final bool) *binance.WsKlineEvent {
	return &binance.WsKlineEvent{
		Symbol: symbol,
		Kline: binance.WsKline{
			StartTime: startMillis,
			Open:      closePrice,
			High:      closePrice,
			Low:       closePrice,
			Close:     closePrice,
			Volume:    "1.0",
			IsFinal:   final,
		},
	}
}

type BinanceFeedTestSuite struct {
	suite.Suite
}

func TestBinanceFeedSuite(t *testing.T) {
	suite.Run(t, new(BinanceFeedTestSuite))
}

func (suite *BinanceFeedTestSuite) TestStreamYieldsFinalKlinesOnly() {
	ws := &fakeWebSocketService{
		events: map[string][]*binance.WsKlineEvent{
			"BTCUSDT": {
				klineEvent("BTCUSDT", 1704067200000, "42000.5", true),
				klineEvent("BTCUSDT", 1704067260000, "42100.0", false),
				klineEvent("BTCUSDT", 1704067260000, "42150.0", true),
			},
		},
	}
	feed := NewBinanceFeedWithWebSocket(ws)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var bars []types.Bar

	for bar, err := range feed.Stream(ctx, []string{"BTCUSDT"}, "1m") {
		suite.Require().NoError(err)

		bars = append(bars, bar)
		if len(bars) == 2 {
			cancel()
		}
	}

	suite.Require().Len(bars, 2)
	suite.Equal(42000.5, bars[0].Close)
	suite.Equal(42150.0, bars[1].Close)
	suite.Equal(time.UnixMilli(1704067200000), bars[0].Time)
}

func (suite *BinanceFeedTestSuite) TestStreamSurfacesErrors() {
	ws := &fakeWebSocketService{
		events: map[string][]*binance.WsKlineEvent{
			"BTCUSDT": {klineEvent("BTCUSDT", 1704067200000, "42000.5", true)},
		},
		streamErr: context.DeadlineExceeded,
	}
	feed := NewBinanceFeedWithWebSocket(ws)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var sawBar, sawErr bool

	for _, err := range feed.Stream(ctx, []string{"BTCUSDT"}, "1m") {
		if err != nil {
			sawErr = true

			break
		}

		sawBar = true
	}

	suite.True(sawBar)
	suite.True(sawErr)
}

func (suite *BinanceFeedTestSuite) TestSubscribeFailure() {
	ws := &fakeWebSocketService{startError: context.Canceled}
	feed := NewBinanceFeedWithWebSocket(ws)

	var errs []error

	for _, err := range feed.Stream(context.Background(), []string{"BTCUSDT"}, "1m") {
		errs = append(errs, err)
	}

	suite.Require().Len(errs, 1)
	suite.Error(errs[0])
}

func (suite *BinanceFeedTestSuite) TestReplayFeedFiltersSymbols() {
	bars := []types.Bar{
		barAt("BTCUSDT", 0, 100),
		barAt("ETHUSDT", 0, 2000),
		barAt("BTCUSDT", 1, 101),
	}
	feed := NewReplayFeed(bars)

	var got []types.Bar

	for bar, err := range feed.Stream(context.Background(), []string{"BTCUSDT"}, "1m") {
		suite.Require().NoError(err)

		got = append(got, bar)
	}

	suite.Require().Len(got, 2)
	suite.Equal(100.0, got[0].Close)
	suite.Equal(101.0, got[1].Close)
}
