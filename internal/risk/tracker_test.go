package risk

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/suite"

	"github.com/arbiterhq/arbiter/internal/config"
	"github.com/arbiterhq/arbiter/internal/types"
	"github.com/arbiterhq/arbiter/pkg/errors"
)

type TrackerTestSuite struct {
	suite.Suite

	tracker *Tracker
}

func TestTrackerSuite(t *testing.T) {
	suite.Run(t, new(TrackerTestSuite))
}

func (suite *TrackerTestSuite) SetupTest() {
	suite.tracker = NewTracker(config.RiskConfig{
		MaxPositionSize:  1.0,
		MaxOpenPositions: 2,
		MaxTotalNotional: 100000,
		OrderQuantity:    0.5,
	}, nil)
}

func buy(symbol string, quantity float64) types.OrderRequest {
	return types.OrderRequest{
		IdempotencyKey: "key-" + symbol,
		Symbol:         symbol,
		Side:           types.SideBuy,
		Type:           types.OrderTypeMarket,
		Quantity:       quantity,
		LimitPrice:     optional.None[float64](),
	}
}

func sell(symbol string, quantity float64) types.OrderRequest {
	request := buy(symbol, quantity)
	request.Side = types.SideSell

	return request
}

func fill(symbol string, side types.Side, quantity, price float64) types.FillEvent {
	return types.FillEvent{
		FillID:         fmt.Sprintf("%s-%s-%f-%f", symbol, side, quantity, price),
		IdempotencyKey: "key-" + symbol,
		Symbol:         symbol,
		Side:           side,
		Quantity:       quantity,
		Price:          price,
		Time:           time.Now(),
	}
}

func (suite *TrackerTestSuite) TestApplyOpensLong() {
	position := suite.tracker.Apply(fill("BTCUSDT", types.SideBuy, 0.5, 40000))

	suite.Equal(types.PositionSideLong, position.Side)
	suite.Equal(0.5, position.Quantity)
	suite.Equal(40000.0, position.AvgEntryPrice)
	suite.Zero(position.RealizedPnL)
}

func (suite *TrackerTestSuite) TestApplyAveragesEntryPrice() {
	suite.tracker.Apply(fill("BTCUSDT", types.SideBuy, 0.5, 40000))
	position := suite.tracker.Apply(fill("BTCUSDT", types.SideBuy, 0.5, 42000))

	suite.Equal(1.0, position.Quantity)
	suite.InDelta(41000, position.AvgEntryPrice, 1e-9)
}

func (suite *TrackerTestSuite) TestApplyRealizesPnLOnClose() {
	suite.tracker.Apply(fill("BTCUSDT", types.SideBuy, 0.5, 40000))
	position := suite.tracker.Apply(fill("BTCUSDT", types.SideSell, 0.5, 42000))

	suite.Equal(types.PositionSideFlat, position.Side)
	suite.Zero(position.Quantity)
	suite.InDelta(1000, position.RealizedPnL, 1e-9)
}

func (suite *TrackerTestSuite) TestApplyShortRealization() {
	suite.tracker.Apply(fill("ETHUSDT", types.SideSell, 1, 3000))
	position := suite.tracker.Apply(fill("ETHUSDT", types.SideBuy, 1, 2900))

	suite.Equal(types.PositionSideFlat, position.Side)
	suite.InDelta(100, position.RealizedPnL, 1e-9)
}

func (suite *TrackerTestSuite) TestApplyFlipThroughFlat() {
	suite.tracker.Apply(fill("BTCUSDT", types.SideBuy, 0.5, 40000))
	position := suite.tracker.Apply(fill("BTCUSDT", types.SideSell, 0.8, 42000))

	suite.Equal(types.PositionSideShort, position.Side)
	suite.InDelta(0.3, position.Quantity, 1e-9)
	suite.Equal(42000.0, position.AvgEntryPrice)
	suite.InDelta(1000, position.RealizedPnL, 1e-9, "closed half realizes against old entry")
}

func (suite *TrackerTestSuite) TestPositionRetainedAtFlat() {
	suite.tracker.Apply(fill("BTCUSDT", types.SideBuy, 0.5, 40000))
	suite.tracker.Apply(fill("BTCUSDT", types.SideSell, 0.5, 42000))

	positions := suite.tracker.Positions()
	suite.Require().Len(positions, 1, "flat positions are retained, not deleted")
	suite.Equal(types.PositionSideFlat, positions[0].Side)
}

func (suite *TrackerTestSuite) TestAuthorizeSizeCap() {
	err := suite.tracker.Authorize(buy("BTCUSDT", 1.5))
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeRiskRejected))

	suite.NoError(suite.tracker.Authorize(buy("BTCUSDT", 1.0)))
}

func (suite *TrackerTestSuite) TestAuthorizeInstrumentSizeOverride() {
	tracker := NewTracker(config.RiskConfig{
		MaxPositionSize:  1.0,
		MaxOpenPositions: 2,
		MaxTotalNotional: 100000,
		OrderQuantity:    0.5,
	}, []types.Instrument{
		{Symbol: "BTCUSDT", TickSize: 0.01, LotSize: 0.001, MaxPositionSize: 0.2},
		{Symbol: "ETHUSDT", TickSize: 0.01, LotSize: 0.001},
	})

	err := tracker.Authorize(buy("BTCUSDT", 0.5))
	suite.Require().Error(err, "instrument override is tighter than the global cap")
	suite.True(errors.HasCode(err, errors.ErrCodeRiskRejected))

	suite.NoError(tracker.Authorize(buy("BTCUSDT", 0.2)))
	suite.NoError(tracker.Authorize(buy("ETHUSDT", 0.5)), "instruments without an override use the global cap")
}

func (suite *TrackerTestSuite) TestAuthorizeInstrumentNotionalCap() {
	tracker := NewTracker(config.RiskConfig{
		MaxPositionSize:  10,
		MaxOpenPositions: 2,
		MaxTotalNotional: 1e9,
		OrderQuantity:    0.5,
	}, []types.Instrument{
		{Symbol: "BTCUSDT", TickSize: 0.01, LotSize: 0.001, MaxNotional: 50000},
	})

	tracker.SetMark("BTCUSDT", 40000)
	tracker.Apply(fill("BTCUSDT", types.SideBuy, 1.0, 40000))

	err := tracker.Authorize(buy("BTCUSDT", 0.5))
	suite.Require().Error(err, "40000 held + 20000 added exceeds the 50000 instrument cap")
	suite.True(errors.HasCode(err, errors.ErrCodeRiskRejected))

	suite.NoError(tracker.Authorize(buy("BTCUSDT", 0.2)), "48000 stays under the instrument cap")
}

func (suite *TrackerTestSuite) TestAuthorizeCountsExistingExposure() {
	suite.tracker.Apply(fill("BTCUSDT", types.SideBuy, 0.8, 40000))

	err := suite.tracker.Authorize(buy("BTCUSDT", 0.5))
	suite.Require().Error(err, "0.8 + 0.5 exceeds the 1.0 size cap")
	suite.True(errors.HasCode(err, errors.ErrCodeRiskRejected))
}

func (suite *TrackerTestSuite) TestAuthorizeOpenPositionCap() {
	suite.tracker.Apply(fill("BTCUSDT", types.SideBuy, 0.1, 100))
	suite.tracker.Apply(fill("ETHUSDT", types.SideBuy, 0.1, 100))

	err := suite.tracker.Authorize(buy("SOLUSDT", 0.1))
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeRiskRejected))
}

func (suite *TrackerTestSuite) TestAuthorizeNotionalCap() {
	suite.tracker.SetMark("BTCUSDT", 150000)

	err := suite.tracker.Authorize(buy("BTCUSDT", 1.0))
	suite.Require().Error(err, "1.0 * 150000 exceeds the 100000 notional cap")
	suite.True(errors.HasCode(err, errors.ErrCodeRiskRejected))
}

func (suite *TrackerTestSuite) TestExitsAlwaysAllowed() {
	suite.tracker.Apply(fill("BTCUSDT", types.SideBuy, 1.0, 100))
	suite.tracker.SetMark("BTCUSDT", 1e9)

	suite.NoError(suite.tracker.Authorize(sell("BTCUSDT", 1.0)), "reducing exposure is never blocked")
}

func (suite *TrackerTestSuite) TestDenialLeavesStateUnchanged() {
	before := suite.tracker.Position("BTCUSDT")

	err := suite.tracker.Authorize(buy("BTCUSDT", 5))
	suite.Require().Error(err)
	suite.Equal(before, suite.tracker.Position("BTCUSDT"))
}

func (suite *TrackerTestSuite) TestNotionalCapProperty() {
	rng := rand.New(rand.NewSource(42))
	tracker := NewTracker(config.RiskConfig{
		MaxPositionSize:  1e9,
		MaxOpenPositions: 1000,
		MaxTotalNotional: 10000,
		OrderQuantity:    1,
	}, nil)

	for i := 0; i < 500; i++ {
		symbol := fmt.Sprintf("SYM%dUSDT", rng.Intn(20))
		price := 50 + rng.Float64()*100
		quantity := rng.Float64() * 5

		tracker.SetMark(symbol, price)

		request := buy(symbol, quantity)
		if tracker.Authorize(request) == nil {
			tracker.Apply(fill(symbol, types.SideBuy, quantity, price))
		}

		suite.LessOrEqual(tracker.TotalNotional(), 10000.0+1e-6,
			"authorized fills never push notional above the cap")
	}
}

func (suite *TrackerTestSuite) TestUnrealizedPnLUsesMarks() {
	suite.tracker.Apply(fill("BTCUSDT", types.SideBuy, 0.5, 40000))
	suite.tracker.SetMark("BTCUSDT", 42000)

	suite.InDelta(1000, suite.tracker.UnrealizedPnL(), 1e-9)

	snapshot := suite.tracker.SnapshotNow(time.Now())
	suite.InDelta(1000, snapshot.UnrealizedPnL, 1e-9)
	suite.InDelta(21000, snapshot.TotalNotional, 1e-9)
}
