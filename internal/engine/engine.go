package engine

import (
	"context"
	"sync"
	"time"

	"github.com/moznion/go-optional"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/arbiterhq/arbiter/internal/config"
	"github.com/arbiterhq/arbiter/internal/exchange"
	"github.com/arbiterhq/arbiter/internal/execution"
	"github.com/arbiterhq/arbiter/internal/indicator"
	"github.com/arbiterhq/arbiter/internal/journal"
	"github.com/arbiterhq/arbiter/internal/logger"
	"github.com/arbiterhq/arbiter/internal/market"
	"github.com/arbiterhq/arbiter/internal/metrics"
	"github.com/arbiterhq/arbiter/internal/risk"
	"github.com/arbiterhq/arbiter/internal/strategy"
	"github.com/arbiterhq/arbiter/internal/types"
	"github.com/arbiterhq/arbiter/pkg/errors"
)

// task is one unit of serialized per-instrument work.
type task struct {
	run  func()
	done chan struct{}
}

// Engine wires the market data cache, indicator engine, evaluator, risk
// tracker and execution manager into the signal-to-order loop.
//
// Concurrency model: every instrument owns one lane (a bounded channel
// drained by one goroutine), so all evaluation and submission for an
// instrument is serialized while instruments run in parallel. One router
// goroutine applies fill events. An error in one cycle is contained to that
// cycle; the scheduler never halts because one instrument misbehaves.
type Engine struct {
	cfg       *config.Config
	logger    *logger.Logger
	metrics   *metrics.Metrics
	journal   *journal.Journal
	feed      market.Feed
	exchange  exchange.Exchange
	cache     *market.BarCache
	snapshots *indicator.Engine
	evaluator *strategy.Evaluator
	tracker   *risk.Tracker
	manager   *execution.Manager

	lanes map[string]chan task

	mu         sync.Mutex
	running    bool
	cooldowns  map[string]time.Time
	pnlHistory []risk.Snapshot

	wg sync.WaitGroup
	// evals tracks in-flight EvaluateNow enqueues; shutdown waits for them
	// before closing the lanes so no sender can hit a closed channel.
	evals sync.WaitGroup
}

// New builds a fully wired engine from configuration. The bar cache is
// passed in because the paper exchange shares it as a price source.
func New(cfg *config.Config, cache *market.BarCache, feed market.Feed, ex exchange.Exchange, jrnl *journal.Journal, m *metrics.Metrics, log *logger.Logger) (*Engine, error) {
	indicators, err := buildIndicators(cfg.Indicators)
	if err != nil {
		return nil, err
	}

	snapshots, err := indicator.NewEngine(cache, indicators...)
	if err != nil {
		return nil, err
	}

	factory, err := strategy.RulesFromConfig(cfg.Rules)
	if err != nil {
		return nil, err
	}

	tracker := risk.NewTracker(cfg.Risk, cfg.Instruments)
	store := execution.NewStore(cfg.Engine.RecentFillsSize)
	manager := execution.NewManager(ex, tracker, store, cfg.Retry, log)

	lanes := make(map[string]chan task, len(cfg.Instruments))
	for _, inst := range cfg.Instruments {
		lanes[inst.Symbol] = make(chan task, cfg.Engine.LaneBuffer)
	}

	return &Engine{
		cfg:       cfg,
		logger:    log,
		metrics:   m,
		journal:   jrnl,
		feed:      feed,
		exchange:  ex,
		cache:     cache,
		snapshots: snapshots,
		evaluator: strategy.NewEvaluator(factory, log),
		tracker:   tracker,
		manager:   manager,
		lanes:     lanes,
		cooldowns: make(map[string]time.Time),
	}, nil
}

func buildIndicators(cfg config.IndicatorConfig) ([]indicator.Indicator, error) {
	sma, err := indicator.NewSMA(cfg.SMAPeriod)
	if err != nil {
		return nil, err
	}

	ema, err := indicator.NewEMA(cfg.EMAPeriod)
	if err != nil {
		return nil, err
	}

	rsi, err := indicator.NewRSI(cfg.RSIPeriod)
	if err != nil {
		return nil, err
	}

	atr, err := indicator.NewATR(cfg.ATRPeriod)
	if err != nil {
		return nil, err
	}

	roc, err := indicator.NewROC(cfg.ROCPeriod)
	if err != nil {
		return nil, err
	}

	return []indicator.Indicator{sma, ema, rsi, atr, roc}, nil
}

// Tracker exposes the position tracker for reporting surfaces.
func (e *Engine) Tracker() *risk.Tracker {
	return e.tracker
}

// Orders exposes the order store for reporting surfaces.
func (e *Engine) Orders() []types.Order {
	return e.manager.Store().Orders()
}

// Run starts the lanes, the fill router and the feed consumer, and blocks
// until ctx is cancelled or the feed ends. Shutdown stops new cycles, then
// drains every lane so in-flight submissions reach a terminal-or-UNKNOWN
// state before Run returns.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()

		return errors.New(errors.ErrCodeEngineInitFailed, "engine is already running")
	}

	e.running = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	symbols := lo.Map(e.cfg.Instruments, func(inst types.Instrument, _ int) string {
		return inst.Symbol
	})

	fills, err := e.exchange.StreamFills(runCtx)
	if err != nil {
		return errors.Wrap(errors.ErrCodeEngineInitFailed, "failed to open fill stream", err)
	}

	for _, lane := range e.lanes {
		e.wg.Add(1)

		go e.drainLane(lane)
	}

	routerDone := make(chan struct{})

	go e.routeFills(fills, routerDone)

	e.logger.Info("engine running",
		zap.Strings("symbols", symbols),
		zap.String("interval", e.cfg.Engine.Interval))

	for bar, err := range e.feed.Stream(runCtx, symbols, e.cfg.Engine.Interval) {
		if runCtx.Err() != nil {
			break
		}

		if err != nil {
			e.logger.Warn("feed error", zap.Error(err))

			continue
		}

		e.onBar(bar)
	}

	// Stop accepting work: mark stopped under the mutex so EvaluateNow cannot
	// pass the running check after this point, wait out any enqueue that
	// already passed it, then close the lanes. Draining the lanes lets
	// in-flight submissions settle before the fill stream shuts down.
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()

	e.evals.Wait()

	for _, lane := range e.lanes {
		close(lane)
	}

	e.wg.Wait()
	cancel()
	<-routerDone

	e.logger.Info("engine stopped")

	return ctx.Err()
}

// onBar ingests one closed bar and schedules an evaluation cycle on the
// instrument's lane. A full lane drops the cycle rather than blocking the
// feed; the next bar will evaluate against the fresher cache anyway.
func (e *Engine) onBar(bar types.Bar) {
	lane, ok := e.lanes[bar.Symbol]
	if !ok {
		return
	}

	e.metrics.BarsTotal.WithLabelValues(bar.Symbol).Inc()
	e.cache.Append(bar)
	e.tracker.SetMark(bar.Symbol, bar.Close)
	e.recordPnL()

	symbol := bar.Symbol

	select {
	case lane <- task{run: func() { e.cycle(symbol) }}:
	default:
		e.logger.Warn("lane full, skipping cycle", zap.String("symbol", symbol))
	}
}

func (e *Engine) drainLane(lane chan task) {
	defer e.wg.Done()

	for t := range lane {
		t.run()

		if t.done != nil {
			close(t.done)
		}
	}
}

// routeFills applies fill events until the stream closes.
func (e *Engine) routeFills(fills <-chan types.FillEvent, done chan struct{}) {
	defer close(done)

	for fill := range fills {
		position, applied, err := e.manager.ApplyFill(fill)
		if err != nil {
			e.logger.Error("failed to apply fill",
				zap.String("fill_id", fill.FillID),
				zap.Error(err))

			continue
		}

		if !applied {
			continue
		}

		e.metrics.FillsTotal.WithLabelValues(fill.Symbol).Inc()

		if err := e.journal.RecordFill(fill); err != nil {
			e.logger.Warn("failed to journal fill", zap.Error(err))
		}

		if order, ok := e.manager.Store().Get(fill.IdempotencyKey); ok {
			if err := e.journal.RecordOrder(order); err != nil {
				e.logger.Warn("failed to journal order", zap.Error(err))
			}
		}

		e.logger.Info("position updated",
			zap.String("symbol", position.Symbol),
			zap.String("side", string(position.Side)),
			zap.Float64("quantity", position.Quantity))
	}
}

// cycle runs one evaluation for one instrument. Always called from the
// instrument's lane goroutine.
func (e *Engine) cycle(symbol string) {
	snapshot, err := e.snapshots.Compute(symbol)
	if err != nil {
		if errors.HasCode(err, errors.ErrCodeInsufficientHistory) {
			e.logger.Debug("waiting for history", zap.String("symbol", symbol))

			return
		}

		e.metrics.CycleErrorsTotal.WithLabelValues(symbol).Inc()
		e.logger.Error("indicator compute failed", zap.String("symbol", symbol), zap.Error(err))

		return
	}

	position := e.tracker.Position(symbol)

	signal, err := e.evaluator.Evaluate(position, snapshot)
	if err != nil {
		if errors.HasCode(err, errors.ErrCodeStaleSignal) {
			return
		}

		e.metrics.CycleErrorsTotal.WithLabelValues(symbol).Inc()
		e.logger.Error("evaluation failed", zap.String("symbol", symbol), zap.Error(err))

		return
	}

	e.metrics.SignalsTotal.WithLabelValues(symbol, string(signal.Decision)).Inc()

	if !signal.Decision.Actionable() {
		return
	}

	e.logger.Info("signal",
		zap.String("symbol", symbol),
		zap.String("decision", string(signal.Decision)),
		zap.String("rule", signal.Rule),
		zap.String("reason", signal.Reason),
		zap.Uint64("sequence", snapshot.Sequence))

	e.submit(signal, position)
}

// submit turns an actionable signal into an order submission, enforcing the
// per-instrument cooldown between submissions.
func (e *Engine) submit(signal types.Signal, position types.Position) {
	symbol := signal.Symbol

	e.mu.Lock()
	last, seen := e.cooldowns[symbol]
	cooldown := e.cfg.Engine.Cooldown
	e.mu.Unlock()

	if seen && cooldown > 0 && time.Since(last) < cooldown {
		e.logger.Info("cooldown active, skipping submission",
			zap.String("symbol", symbol),
			zap.Duration("remaining", cooldown-time.Since(last)))

		return
	}

	request, err := e.buildRequest(signal, position)
	if err != nil {
		e.logger.Error("failed to build order request", zap.String("symbol", symbol), zap.Error(err))

		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), submissionTimeout(e.cfg.Retry))
	defer cancel()

	order, err := e.manager.Submit(ctx, request, signal.Snapshot.Sequence)
	if err != nil {
		switch {
		case errors.HasCode(err, errors.ErrCodeRiskRejected):
			e.metrics.RiskRejectionsTotal.WithLabelValues(symbol).Inc()
			e.logger.Warn("risk rejected order", zap.String("symbol", symbol), zap.Error(err))
		case errors.HasCode(err, errors.ErrCodeOrderInFlight):
			e.logger.Info("order already in flight", zap.String("symbol", symbol))
		default:
			e.metrics.CycleErrorsTotal.WithLabelValues(symbol).Inc()
			e.logger.Error("order submission failed", zap.String("symbol", symbol), zap.Error(err))
		}
	}

	if order.IdempotencyKey != "" {
		e.metrics.OrdersTotal.WithLabelValues(symbol, string(order.Status)).Inc()

		if err := e.journal.RecordOrder(order); err != nil {
			e.logger.Warn("failed to journal order", zap.Error(err))
		}

		if order.Status == types.OrderStatusAcked {
			e.mu.Lock()
			e.cooldowns[symbol] = time.Now()
			e.mu.Unlock()
		}
	}
}

// submissionTimeout bounds one full retry loop.
func submissionTimeout(retry config.RetryConfig) time.Duration {
	timeout := time.Duration(retry.MaxAttempts) * retry.MaxInterval
	if timeout < 10*time.Second {
		timeout = 10 * time.Second
	}

	return timeout
}

// buildRequest maps a decision onto an order request. Entries use the
// configured order quantity rounded to the instrument's lot; exits flatten
// the whole position.
func (e *Engine) buildRequest(signal types.Signal, position types.Position) (types.OrderRequest, error) {
	inst, err := e.cfg.Instrument(signal.Symbol)
	if err != nil {
		return types.OrderRequest{}, err
	}

	request := types.OrderRequest{
		Symbol:     signal.Symbol,
		Type:       types.OrderTypeMarket,
		LimitPrice: optional.None[float64](),
	}

	switch signal.Decision {
	case types.DecisionEnterLong:
		request.Side = types.SideBuy
		request.Quantity = inst.RoundToLot(e.cfg.Risk.OrderQuantity)
	case types.DecisionEnterShort:
		request.Side = types.SideSell
		request.Quantity = inst.RoundToLot(e.cfg.Risk.OrderQuantity)
	case types.DecisionExit:
		if position.Side == types.PositionSideLong {
			request.Side = types.SideSell
		} else {
			request.Side = types.SideBuy
		}

		request.Quantity = position.Quantity
	default:
		return types.OrderRequest{}, errors.Newf(errors.ErrCodeInvalidOrder, "decision %s is not submittable", signal.Decision)
	}

	if request.Quantity < inst.MinOrderSize || request.Quantity <= 0 {
		return types.OrderRequest{}, errors.Newf(errors.ErrCodeInvalidOrder,
			"quantity %.8f for %s is below the minimum order size %.8f",
			request.Quantity, signal.Symbol, inst.MinOrderSize)
	}

	return request, nil
}

// EvaluateNow schedules an immediate evaluation cycle on the instrument's
// lane and waits for it, preserving the serialization guarantee. Used by the
// manual-trigger endpoint.
func (e *Engine) EvaluateNow(ctx context.Context, symbol string) error {
	lane, ok := e.lanes[symbol]
	if !ok {
		return errors.Newf(errors.ErrCodeUnknownInstrument, "instrument %s is not configured", symbol)
	}

	// The running check and the evals registration happen under one lock
	// acquisition: once Run flips running off it waits for registered
	// enqueues, so the sends below never race lane closure.
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()

		return errors.New(errors.ErrCodeEngineStopped, "engine is not running")
	}
	e.evals.Add(1)
	e.mu.Unlock()

	defer e.evals.Done()

	done := make(chan struct{})

	select {
	case lane <- task{run: func() { e.cycle(symbol) }, done: done}:
	case <-ctx.Done():
		return errors.Wrap(errors.ErrCodeEngineStopped, "evaluation not scheduled", ctx.Err())
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(errors.ErrCodeEngineStopped, "evaluation cancelled", ctx.Err())
	}
}

// recordPnL appends an aggregate P&L snapshot to the bounded history ring.
func (e *Engine) recordPnL() {
	snapshot := e.tracker.SnapshotNow(time.Now())

	e.mu.Lock()
	defer e.mu.Unlock()

	e.pnlHistory = append(e.pnlHistory, snapshot)
	if len(e.pnlHistory) > e.cfg.Engine.PnLHistorySize {
		e.pnlHistory = e.pnlHistory[len(e.pnlHistory)-e.cfg.Engine.PnLHistorySize:]
	}
}

// Status is the point-in-time view served by the status endpoint.
type Status struct {
	Running       bool              `json:"running"`
	Instruments   []string          `json:"instruments"`
	Positions     []types.Position  `json:"positions"`
	RealizedPnL   float64           `json:"realized_pnl"`
	UnrealizedPnL float64           `json:"unrealized_pnl"`
	TotalNotional float64           `json:"total_notional"`
	PnLHistory    []risk.Snapshot   `json:"pnl_history"`
	RecentFills   []types.FillEvent `json:"recent_fills"`
}

// Status reports the engine's current state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	running := e.running
	history := append([]risk.Snapshot(nil), e.pnlHistory...)
	e.mu.Unlock()

	snapshot := e.tracker.SnapshotNow(time.Now())

	return Status{
		Running: running,
		Instruments: lo.Map(e.cfg.Instruments, func(inst types.Instrument, _ int) string {
			return inst.Symbol
		}),
		Positions:     e.tracker.Positions(),
		RealizedPnL:   snapshot.RealizedPnL,
		UnrealizedPnL: snapshot.UnrealizedPnL,
		TotalNotional: snapshot.TotalNotional,
		PnLHistory:    history,
		RecentFills:   e.manager.Store().RecentFills(20),
	}
}
