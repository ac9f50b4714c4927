package engine

import (
	"context"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/arbiterhq/arbiter/internal/config"
	"github.com/arbiterhq/arbiter/internal/exchange"
	"github.com/arbiterhq/arbiter/internal/journal"
	"github.com/arbiterhq/arbiter/internal/logger"
	"github.com/arbiterhq/arbiter/internal/market"
	"github.com/arbiterhq/arbiter/internal/metrics"
	"github.com/arbiterhq/arbiter/internal/types"
	"github.com/arbiterhq/arbiter/pkg/errors"
)

// stickyFeed replays its bars, then blocks until the context ends. Keeps the
// engine alive so tests can observe asynchronous fill routing.
type stickyFeed struct {
	bars []types.Bar
}

func (f *stickyFeed) Stream(ctx context.Context, symbols []string, interval string) iter.Seq2[types.Bar, error] {
	return func(yield func(types.Bar, error) bool) {
		for _, bar := range f.bars {
			if !yield(bar, nil) {
				return
			}
		}

		<-ctx.Done()
	}
}

func testConfig(rules []config.RuleConfig, cooldown time.Duration) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Instruments = []types.Instrument{
		{Symbol: "BTCUSDT", TickSize: 0.01, LotSize: 0.001, MinOrderSize: 0.001},
	}
	cfg.Indicators = config.IndicatorConfig{
		SMAPeriod: 3,
		EMAPeriod: 2,
		RSIPeriod: 3,
		ATRPeriod: 2,
		ROCPeriod: 2,
	}
	cfg.Rules = rules
	cfg.Risk = config.RiskConfig{
		MaxPositionSize:  10,
		MaxOpenPositions: 5,
		MaxTotalNotional: 1e9,
		OrderQuantity:    0.1,
	}
	cfg.Engine.Cooldown = cooldown
	cfg.Engine.CacheSize = 50
	cfg.Retry.InitialInterval = time.Millisecond
	cfg.Retry.MaxInterval = 5 * time.Millisecond

	return &cfg
}

// entryBars produce one trend-pullback long entry on the sixth bar: the
// close sits above SMA(3) while RSI(3) is oversold. Earlier bars fall short
// of the indicator lookback and are skipped.
func entryBars(symbol string) []types.Bar {
	closes := []float64{100, 102, 110, 95, 94, 99}
	bars := make([]types.Bar, len(closes))

	for i, c := range closes {
		bars[i] = types.Bar{
			Symbol: symbol,
			Time:   time.Date(2024, 1, 1, 0, i, 0, 0, time.UTC),
			Open:   c,
			High:   c,
			Low:    c,
			Close:  c,
			Volume: 1,
		}
	}

	return bars
}

type EngineTestSuite struct {
	suite.Suite
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}

func entryOnly() []config.RuleConfig {
	return []config.RuleConfig{
		{Kind: config.RuleTrendRSIEntry, BuyRSIThreshold: 30, SellRSIThreshold: 70},
	}
}

// start wires an engine over a sticky replay feed and a paper exchange and
// runs it in the background.
func (suite *EngineTestSuite) start(cfg *config.Config, bars []types.Bar) (*Engine, context.CancelFunc, chan error) {
	cache := market.NewBarCache(cfg.Engine.CacheSize)
	paper := exchange.NewPaperExchange(cache)

	jrnl, err := journal.NewJournal("", logger.NewNopLogger())
	suite.Require().NoError(err)
	suite.T().Cleanup(func() { jrnl.Close() })

	eng, err := New(cfg, cache, &stickyFeed{bars: bars}, paper, jrnl, metrics.New(), logger.NewNopLogger())
	suite.Require().NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)

	go func() {
		errCh <- eng.Run(ctx)
	}()

	return eng, cancel, errCh
}

func (suite *EngineTestSuite) stop(cancel context.CancelFunc, errCh chan error) {
	cancel()

	select {
	case err := <-errCh:
		suite.ErrorIs(err, context.Canceled)
	case <-time.After(5 * time.Second):
		suite.Fail("engine did not stop")
	}
}

func (suite *EngineTestSuite) TestEntryToFilledPosition() {
	eng, cancel, errCh := suite.start(testConfig(entryOnly(), 0), entryBars("BTCUSDT"))
	defer suite.stop(cancel, errCh)

	suite.Eventually(func() bool {
		position := eng.Tracker().Position("BTCUSDT")

		return position.Side == types.PositionSideLong && position.Quantity == 0.1
	}, 5*time.Second, 10*time.Millisecond, "entry signal should end as a long position")

	orders := eng.Orders()
	suite.Require().Len(orders, 1)
	suite.Equal(types.OrderStatusFilled, orders[0].Status)
	suite.Equal(types.SideBuy, orders[0].Side)

	position := eng.Tracker().Position("BTCUSDT")
	suite.Equal(99.0, position.AvgEntryPrice, "paper fill lands at the last close")
}

func (suite *EngineTestSuite) TestEntrySuppressedWhileLong() {
	bars := entryBars("BTCUSDT")

	// Repeat the entry pattern after the position opens; the entry rule only
	// fires from flat, so no second order may appear.
	for i, c := range []float64{110, 95, 94, 99} {
		bars = append(bars, types.Bar{
			Symbol: "BTCUSDT",
			Time:   time.Date(2024, 1, 1, 1, i, 0, 0, time.UTC),
			Open:   c, High: c, Low: c, Close: c, Volume: 1,
		})
	}

	eng, cancel, errCh := suite.start(testConfig(entryOnly(), 0), bars)
	defer suite.stop(cancel, errCh)

	suite.Eventually(func() bool {
		return eng.Tracker().Position("BTCUSDT").Side == types.PositionSideLong
	}, 5*time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	suite.Len(eng.Orders(), 1, "repeated entry conditions while long stay suppressed")
}

func (suite *EngineTestSuite) TestInsufficientHistoryIsQuiet() {
	eng, cancel, errCh := suite.start(testConfig(entryOnly(), 0), entryBars("BTCUSDT")[:3])
	defer suite.stop(cancel, errCh)

	time.Sleep(100 * time.Millisecond)
	suite.Empty(eng.Orders())
	suite.Equal(types.PositionSideFlat, eng.Tracker().Position("BTCUSDT").Side)
}

func (suite *EngineTestSuite) TestEvaluateNow() {
	eng, cancel, errCh := suite.start(testConfig(entryOnly(), 0), entryBars("BTCUSDT")[:5])
	defer suite.stop(cancel, errCh)

	suite.Eventually(func() bool {
		return eng.Status().Running
	}, time.Second, 5*time.Millisecond)

	// Not enough history yet: the manual trigger still succeeds, the cycle
	// just skips.
	suite.NoError(eng.EvaluateNow(context.Background(), "BTCUSDT"))

	err := eng.EvaluateNow(context.Background(), "DOGEUSDT")
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeUnknownInstrument))
}

func (suite *EngineTestSuite) TestStatusReportsPnL() {
	eng, cancel, errCh := suite.start(testConfig(entryOnly(), 0), entryBars("BTCUSDT"))
	defer suite.stop(cancel, errCh)

	suite.Eventually(func() bool {
		return eng.Tracker().Position("BTCUSDT").Side == types.PositionSideLong
	}, 5*time.Second, 10*time.Millisecond)

	status := eng.Status()
	suite.True(status.Running)
	suite.Equal([]string{"BTCUSDT"}, status.Instruments)
	suite.NotEmpty(status.PnLHistory)

	suite.Eventually(func() bool {
		return len(eng.Status().RecentFills) == 1
	}, time.Second, 10*time.Millisecond)
}

func (suite *EngineTestSuite) TestEvaluateNowDuringShutdown() {
	cfg := testConfig(entryOnly(), 0)

	cache := market.NewBarCache(cfg.Engine.CacheSize)
	paper := exchange.NewPaperExchange(cache)

	jrnl, err := journal.NewJournal("", logger.NewNopLogger())
	suite.Require().NoError(err)
	defer jrnl.Close()

	// A short replay feed ends on its own, so Run starts shutting down while
	// the triggers below are still firing. Every call must either run or
	// report the engine stopped; none may panic on a closed lane.
	eng, err := New(cfg, cache, market.NewReplayFeed(entryBars("BTCUSDT")[:2]), paper, jrnl, metrics.New(), logger.NewNopLogger())
	suite.Require().NoError(err)

	runDone := make(chan error, 1)

	go func() {
		runDone <- eng.Run(context.Background())
	}()

	stop := make(chan struct{})

	var hammer sync.WaitGroup

	for i := 0; i < 8; i++ {
		hammer.Add(1)

		go func() {
			defer hammer.Done()

			for {
				select {
				case <-stop:
					return
				default:
				}

				if err := eng.EvaluateNow(context.Background(), "BTCUSDT"); err != nil {
					suite.True(errors.HasCode(err, errors.ErrCodeEngineStopped))
				}
			}
		}()
	}

	select {
	case err := <-runDone:
		suite.NoError(err)
	case <-time.After(5 * time.Second):
		suite.Fail("engine did not stop")
	}

	close(stop)
	hammer.Wait()
}

func (suite *EngineTestSuite) TestCooldownBlocksSecondSubmission() {
	cfg := testConfig(entryOnly(), time.Hour)

	cache := market.NewBarCache(cfg.Engine.CacheSize)
	paper := exchange.NewPaperExchange(cache)

	jrnl, err := journal.NewJournal("", logger.NewNopLogger())
	suite.Require().NoError(err)
	defer jrnl.Close()

	eng, err := New(cfg, cache, &stickyFeed{}, paper, jrnl, metrics.New(), logger.NewNopLogger())
	suite.Require().NoError(err)

	cache.Append(types.Bar{Symbol: "BTCUSDT", Time: time.Now(), Close: 100})

	flat := types.Position{Symbol: "BTCUSDT", Side: types.PositionSideFlat}
	signal := types.Signal{
		Symbol:   "BTCUSDT",
		Decision: types.DecisionEnterLong,
		Rule:     "trend_rsi_entry",
		Snapshot: types.IndicatorSnapshot{Symbol: "BTCUSDT", Sequence: 1},
	}

	eng.submit(signal, flat)
	suite.Require().Len(eng.Orders(), 1)

	signal.Snapshot.Sequence = 2
	eng.submit(signal, flat)
	suite.Len(eng.Orders(), 1, "second submission within the cooldown is skipped")
}
