package indicator

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/arbiterhq/arbiter/internal/market"
	"github.com/arbiterhq/arbiter/internal/types"
	"github.com/arbiterhq/arbiter/pkg/errors"
)

type IndicatorTestSuite struct {
	suite.Suite
}

func TestIndicatorSuite(t *testing.T) {
	suite.Run(t, new(IndicatorTestSuite))
}

func barsFromCloses(closes ...float64) []types.Bar {
	bars := make([]types.Bar, len(closes))
	for i, c := range closes {
		bars[i] = types.Bar{
			Symbol: "BTCUSDT",
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

func (suite *IndicatorTestSuite) TestSMA() {
	sma, err := NewSMA(5)
	suite.Require().NoError(err)

	value, err := sma.Compute(barsFromCloses(1, 2, 3, 4, 5))
	suite.Require().NoError(err)
	suite.InDelta(3.0, value, 1e-9)

	_, err = sma.Compute(barsFromCloses(1, 2))
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInsufficientHistory))
}

func (suite *IndicatorTestSuite) TestEMA() {
	ema, err := NewEMA(2)
	suite.Require().NoError(err)

	value, err := ema.Compute(barsFromCloses(1, 2, 3, 4, 5, 6))
	suite.Require().NoError(err)
	suite.InDelta(5.5, value, 1e-9)
}

func (suite *IndicatorTestSuite) TestRSIExtremes() {
	rsi, err := NewRSI(3)
	suite.Require().NoError(err)

	up, err := rsi.Compute(barsFromCloses(1, 2, 3, 4))
	suite.Require().NoError(err)
	suite.InDelta(100.0, up, 1e-9, "no losses means RSI 100")

	down, err := rsi.Compute(barsFromCloses(4, 3, 2, 1))
	suite.Require().NoError(err)
	suite.InDelta(0.0, down, 1e-9, "no gains means RSI 0")
}

func (suite *IndicatorTestSuite) TestRSIMixed() {
	rsi, err := NewRSI(3)
	suite.Require().NoError(err)

	// Changes: +1, -1, +1. Average gain 2/3, average loss 1/3.
	value, err := rsi.Compute(barsFromCloses(10, 11, 10, 11))
	suite.Require().NoError(err)
	suite.InDelta(66.6667, value, 1e-3)
}

func (suite *IndicatorTestSuite) TestATR() {
	atr, err := NewATR(2)
	suite.Require().NoError(err)

	bars := []types.Bar{
		{Symbol: "BTCUSDT", Time: time.Unix(0, 0), High: 10, Low: 10, Close: 10},
		{Symbol: "BTCUSDT", Time: time.Unix(60, 0), High: 12, Low: 9, Close: 10},
		{Symbol: "BTCUSDT", Time: time.Unix(120, 0), High: 11, Low: 10, Close: 10.5},
	}

	value, err := atr.Compute(bars)
	suite.Require().NoError(err)
	suite.InDelta(2.0, value, 1e-9)
}

func (suite *IndicatorTestSuite) TestROC() {
	roc, err := NewROC(2)
	suite.Require().NoError(err)

	value, err := roc.Compute(barsFromCloses(100, 105, 110))
	suite.Require().NoError(err)
	suite.InDelta(10.0, value, 1e-9)

	nan, err := roc.Compute(barsFromCloses(0, 105, 110))
	suite.Require().NoError(err)
	suite.True(math.IsNaN(nan), "zero base yields NaN, not a panic")
}

func (suite *IndicatorTestSuite) TestInvalidPeriods() {
	_, err := NewSMA(0)
	suite.Error(err)

	_, err = NewRSI(1)
	suite.Error(err)

	_, err = NewROC(-1)
	suite.Error(err)
}

type EngineTestSuite struct {
	suite.Suite

	cache  *market.BarCache
	engine *Engine
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}

func (suite *EngineTestSuite) SetupTest() {
	suite.cache = market.NewBarCache(100)

	sma, err := NewSMA(3)
	suite.Require().NoError(err)

	rsi, err := NewRSI(3)
	suite.Require().NoError(err)

	suite.engine, err = NewEngine(suite.cache, sma, rsi)
	suite.Require().NoError(err)
}

func (suite *EngineTestSuite) fill(closes ...float64) {
	for _, bar := range barsFromCloses(closes...) {
		suite.cache.Append(bar)
	}
}

func (suite *EngineTestSuite) TestComputeSnapshot() {
	suite.fill(1, 2, 3, 4)

	snapshot, err := suite.engine.Compute("BTCUSDT")
	suite.Require().NoError(err)

	suite.Equal(uint64(1), snapshot.Sequence)
	suite.Equal(4.0, snapshot.Close)
	suite.InDelta(3.0, snapshot.Values[types.IndicatorTypeSMA], 1e-9)
	suite.InDelta(100.0, snapshot.Values[types.IndicatorTypeRSI], 1e-9)
}

func (suite *EngineTestSuite) TestSequenceStrictlyIncreasing() {
	suite.fill(1, 2, 3, 4)

	var last uint64

	for i := 0; i < 5; i++ {
		snapshot, err := suite.engine.Compute("BTCUSDT")
		suite.Require().NoError(err)
		suite.Greater(snapshot.Sequence, last)

		last = snapshot.Sequence
	}
}

func (suite *EngineTestSuite) TestFailedComputeDoesNotAdvanceSequence() {
	suite.fill(1, 2)

	_, err := suite.engine.Compute("BTCUSDT")
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInsufficientHistory))
	suite.Equal(uint64(0), suite.engine.Sequence("BTCUSDT"))
}

func (suite *EngineTestSuite) TestDuplicateIndicatorRejected() {
	sma1, err := NewSMA(3)
	suite.Require().NoError(err)

	sma2, err := NewSMA(5)
	suite.Require().NoError(err)

	_, err = NewEngine(suite.cache, sma1, sma2)
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeIndicatorAlreadyExists))
}

func (suite *EngineTestSuite) TestMaxLookback() {
	suite.Equal(4, suite.engine.MaxLookback(), "RSI(3) needs period+1 bars")
}
