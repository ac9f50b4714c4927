package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/arbiterhq/arbiter/internal/config"
	"github.com/arbiterhq/arbiter/internal/engine"
	"github.com/arbiterhq/arbiter/internal/exchange"
	"github.com/arbiterhq/arbiter/internal/journal"
	"github.com/arbiterhq/arbiter/internal/logger"
	"github.com/arbiterhq/arbiter/internal/market"
	"github.com/arbiterhq/arbiter/internal/metrics"
	"github.com/arbiterhq/arbiter/internal/types"
)

type ServerTestSuite struct {
	suite.Suite

	server  *Server
	journal *journal.Journal
	metrics *metrics.Metrics
}

func TestServerSuite(t *testing.T) {
	suite.Run(t, new(ServerTestSuite))
}

func (suite *ServerTestSuite) SetupTest() {
	cfg := config.DefaultConfig()
	cfg.Instruments = []types.Instrument{
		{Symbol: "BTCUSDT", TickSize: 0.01, LotSize: 0.001, MinOrderSize: 0.001},
	}

	cache := market.NewBarCache(cfg.Engine.CacheSize)
	paper := exchange.NewPaperExchange(cache)

	jrnl, err := journal.NewJournal("", logger.NewNopLogger())
	suite.Require().NoError(err)
	suite.journal = jrnl

	suite.metrics = metrics.New()

	eng, err := engine.New(&cfg, cache, &market.ReplayFeed{}, paper, jrnl, suite.metrics, logger.NewNopLogger())
	suite.Require().NoError(err)

	suite.server = NewServer(eng, jrnl, suite.metrics, logger.NewNopLogger())
}

func (suite *ServerTestSuite) TearDownTest() {
	suite.NoError(suite.journal.Close())
}

func (suite *ServerTestSuite) do(method, target string) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	suite.server.Handler().ServeHTTP(recorder, httptest.NewRequest(method, target, nil))

	return recorder
}

func (suite *ServerTestSuite) TestHealth() {
	recorder := suite.do(http.MethodGet, "/health")
	suite.Equal(http.StatusOK, recorder.Code)

	var body map[string]string
	suite.Require().NoError(json.Unmarshal(recorder.Body.Bytes(), &body))
	suite.Equal("ok", body["status"])
	suite.NotEmpty(body["version"])
}

func (suite *ServerTestSuite) TestStatus() {
	recorder := suite.do(http.MethodGet, "/api/status")
	suite.Equal(http.StatusOK, recorder.Code)

	var status engine.Status
	suite.Require().NoError(json.Unmarshal(recorder.Body.Bytes(), &status))
	suite.False(status.Running)
	suite.Equal([]string{"BTCUSDT"}, status.Instruments)
}

func (suite *ServerTestSuite) TestPositions() {
	recorder := suite.do(http.MethodGet, "/api/positions")
	suite.Equal(http.StatusOK, recorder.Code)

	var positions []types.Position
	suite.Require().NoError(json.Unmarshal(recorder.Body.Bytes(), &positions))
	suite.Empty(positions)
}

func (suite *ServerTestSuite) TestOrders() {
	submitted := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, symbol := range []string{"BTCUSDT", "ETHUSDT"} {
		suite.Require().NoError(suite.journal.RecordOrder(types.Order{
			IdempotencyKey: "k" + string(rune('1'+i)),
			Symbol:         symbol,
			Side:           types.SideBuy,
			Type:           types.OrderTypeMarket,
			Quantity:       0.5,
			Status:         types.OrderStatusAcked,
			SubmittedAt:    submitted.Add(time.Duration(i) * time.Minute),
			UpdatedAt:      submitted.Add(time.Duration(i) * time.Minute),
		}))
	}

	recorder := suite.do(http.MethodGet, "/api/orders")
	suite.Equal(http.StatusOK, recorder.Code)

	var orders []types.Order
	suite.Require().NoError(json.Unmarshal(recorder.Body.Bytes(), &orders))
	suite.Len(orders, 2)

	recorder = suite.do(http.MethodGet, "/api/orders?symbol=BTCUSDT&limit=10")
	suite.Equal(http.StatusOK, recorder.Code)

	orders = nil
	suite.Require().NoError(json.Unmarshal(recorder.Body.Bytes(), &orders))
	suite.Require().Len(orders, 1)
	suite.Equal("BTCUSDT", orders[0].Symbol)
}

func (suite *ServerTestSuite) TestOrdersRejectsBadLimit() {
	recorder := suite.do(http.MethodGet, "/api/orders?limit=abc")
	suite.Equal(http.StatusBadRequest, recorder.Code)
}

func (suite *ServerTestSuite) TestEvaluateUnknownInstrument() {
	recorder := suite.do(http.MethodPost, "/api/evaluate/DOGEUSDT")
	suite.Equal(http.StatusNotFound, recorder.Code)
}

func (suite *ServerTestSuite) TestEvaluateWhileStopped() {
	recorder := suite.do(http.MethodPost, "/api/evaluate/BTCUSDT")
	suite.Equal(http.StatusConflict, recorder.Code)
}

func (suite *ServerTestSuite) TestMetricsEndpoint() {
	suite.metrics.BarsTotal.WithLabelValues("BTCUSDT").Inc()

	recorder := suite.do(http.MethodGet, "/metrics")
	suite.Equal(http.StatusOK, recorder.Code)
	suite.Contains(recorder.Body.String(), "arbiter_bars_total")
}
