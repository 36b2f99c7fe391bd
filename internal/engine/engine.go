// Package engine runs one trading session: the tick-driven state machine
// that pulls market data, feeds the strategy, executes its decisions on the
// exchange and reports lifecycle events through the configured sink.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/hemalabs/hedgegrid/internal/config"
	"github.com/hemalabs/hedgegrid/internal/exchange"
	"github.com/hemalabs/hedgegrid/internal/monitoring"
	"github.com/hemalabs/hedgegrid/internal/state"
	"github.com/hemalabs/hedgegrid/internal/strategy"
	"github.com/hemalabs/hedgegrid/internal/webhook"
	"github.com/hemalabs/hedgegrid/pkg/types"
)

// Status is the lifecycle state of one session.
type Status string

const (
	StatusIdle     Status = "IDLE"
	StatusStarting Status = "STARTING"
	StatusRunning  Status = "RUNNING"
	StatusStopping Status = "STOPPING"
	StatusStopped  Status = "STOPPED"
	StatusError    Status = "ERROR"
)

const (
	balanceUpdateTicks = 5
	syncTicks          = 30
	statusUpdateTicks  = 5
	staleBalanceWarn   = 10
	marginBuffer       = 1.10
	marginCoin         = "USDT"
)

// Engine drives one session's tick loop. All trading state is mutated only
// by the loop goroutine; Status and Stop are safe from any goroutine.
type Engine struct {
	userID    string
	userBotID string
	settings  config.SessionSettings

	exchange exchange.Exchange
	strategy *strategy.HedgeStrategy
	sink     webhook.Sink
	cache    *CandleCache
	store    *state.Store
	metrics  *monitoring.Metrics
	logger   zerolog.Logger

	mu     sync.Mutex
	status Status

	stopOnce    sync.Once
	stopCh      chan struct{}
	done        chan struct{}
	closeAllReq atomic.Bool // admin close-all, serviced by the loop

	// runCtx backs the tick loop and outlives the Start caller's context.
	// Only ForceTerminate cancels it early.
	runCtx    context.Context
	cancelRun context.CancelFunc

	tickCount         atomic.Int64
	startedAt         time.Time
	lastCandleTS      time.Time
	staleBalanceTicks int
}

// Params collects the engine's dependencies. Store and Metrics are optional.
type Params struct {
	UserID    string
	UserBotID string
	Settings  config.SessionSettings
	Exchange  exchange.Exchange
	Sink      webhook.Sink
	Store     *state.Store
	Metrics   *monitoring.Metrics
	Logger    zerolog.Logger
}

// New creates an idle engine.
func New(p Params) *Engine {
	if p.Sink == nil {
		p.Sink = webhook.NoopSink{}
	}
	log := p.Logger.With().Str("user", p.UserID).Str("symbol", p.Settings.Symbol).Logger()
	runCtx, cancelRun := context.WithCancel(context.Background())
	return &Engine{
		userID:    p.UserID,
		userBotID: p.UserBotID,
		settings:  p.Settings,
		exchange:  p.Exchange,
		strategy:  strategy.NewHedgeStrategy(p.Settings, log),
		sink:      p.Sink,
		cache:     NewCandleCache(p.Exchange, p.Settings.Symbol, p.Settings.Timeframe, log),
		store:     p.Store,
		metrics:   p.Metrics,
		logger:    log,
		status:    StatusIdle,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
		runCtx:    runCtx,
		cancelRun: cancelRun,
	}
}

// Status returns the current lifecycle state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *Engine) setStatus(next Status) {
	e.mu.Lock()
	prev := e.status
	e.status = next
	e.mu.Unlock()
	if prev != next {
		e.logger.Info().Str("from", string(prev)).Str("to", string(next)).Msg("status changed")
		e.sink.Emit(e.statusChangedEvent(prev, next))
	}
}

// transition applies from -> to only while the engine is still in from;
// a concurrent Stop or ForceTerminate keeps its status.
func (e *Engine) transition(from, to Status) bool {
	e.mu.Lock()
	if e.status != from {
		e.mu.Unlock()
		return false
	}
	e.status = to
	e.mu.Unlock()
	e.logger.Info().Str("from", string(from)).Str("to", string(to)).Msg("status changed")
	e.sink.Emit(e.statusChangedEvent(from, to))
	return true
}

// Done is closed once the tick loop has fully exited.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Start transitions IDLE to RUNNING and launches the tick loop. It fails
// without starting the loop when initial exchange access does not work.
// The context bounds the startup calls only; the loop itself runs on an
// engine-owned context and survives the caller's.
func (e *Engine) Start(ctx context.Context) error {
	if !e.transition(StatusIdle, StatusStarting) {
		return fmt.Errorf("cannot start session in status %s", e.Status())
	}

	if err := e.initialize(ctx); err != nil {
		e.setStatus(StatusError)
		e.sink.Emit(e.errorEvent("start", err))
		e.cancelRun()
		close(e.done)
		return err
	}

	e.startedAt = time.Now().UTC()
	if !e.transition(StatusStarting, StatusRunning) {
		// Stop or ForceTerminate arrived while initializing.
		e.transition(StatusStopping, StatusStopped)
		e.cancelRun()
		close(e.done)
		return fmt.Errorf("session stopped during startup")
	}
	go e.run(e.runCtx)
	return nil
}

func (e *Engine) initialize(ctx context.Context) error {
	if e.store != nil {
		snapshot, ok, err := e.store.Load(e.userID)
		if err != nil {
			e.logger.Warn().Err(err).Msg("indicator snapshot load failed, starting fresh")
		} else if ok && snapshot.Symbol == e.settings.Symbol {
			e.strategy.RestoreSARState(snapshot.SAR)
			e.strategy.RestoreCCIHistory(snapshot.CCIHistory)
			e.logger.Info().Msg("indicator state restored")
		}
	}

	if err := e.exchange.SetLeverage(ctx, e.settings.Symbol, e.settings.Leverage); err != nil {
		if exchange.IsAuthError(err) {
			return err
		}
		e.logger.Warn().Err(err).Msg("leverage setup failed")
	}

	balance, err := e.exchange.GetBalance(ctx, marginCoin)
	if err != nil {
		return err
	}
	e.strategy.SetBalance(balance.Available)

	positions, err := e.exchange.GetPositions(ctx, e.settings.Symbol)
	if err != nil {
		return err
	}
	e.strategy.SyncFromExchange(positions)
	e.logger.Info().Int("positions", len(positions)).
		Float64("balance", balance.Available).Msg("session initialized")
	return nil
}

// Stop requests a cooperative shutdown. Safe to call more than once and
// from any goroutine.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.mu.Lock()
		prev := e.status
		active := prev == StatusRunning || prev == StatusStarting
		if active {
			e.status = StatusStopping
		}
		e.mu.Unlock()
		if active {
			e.logger.Info().Str("from", string(prev)).Str("to", string(StatusStopping)).Msg("status changed")
			e.sink.Emit(e.statusChangedEvent(prev, StatusStopping))
		}
		close(e.stopCh)
	})
}

// ForceTerminate kills the tick loop without waiting for in-flight work.
// The session ends in ERROR instead of STOPPED and skips position cleanup.
func (e *Engine) ForceTerminate() {
	e.mu.Lock()
	prev := e.status
	if prev == StatusIdle || prev == StatusStopped || prev == StatusError {
		e.mu.Unlock()
		return
	}
	e.status = StatusError
	e.mu.Unlock()
	e.logger.Warn().Str("from", string(prev)).Msg("session force terminated")
	e.sink.Emit(e.statusChangedEvent(prev, StatusError))
	e.cancelRun()
}

func (e *Engine) stopping() bool {
	select {
	case <-e.stopCh:
		return true
	default:
		return false
	}
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)
	defer e.cancelRun()

	ticker := time.NewTicker(e.settings.TickInterval)
	defer ticker.Stop()

	for {
		if e.stopping() || ctx.Err() != nil || e.Status() != StatusRunning {
			break
		}

		started := time.Now()
		if err := e.tick(ctx); err != nil {
			if exchange.IsAuthError(err) {
				e.logger.Error().Err(err).Msg("authentication failed, terminating session")
				e.sink.Emit(e.errorEvent("tick", err))
				e.setStatus(StatusError)
				e.shutdown(ctx)
				return
			}
			e.logger.Warn().Err(err).Msg("tick failed")
		}
		if e.metrics != nil {
			e.metrics.TickDuration.Observe(time.Since(started).Seconds())
		}

		select {
		case <-ctx.Done():
		case <-e.stopCh:
		case <-ticker.C:
		}
	}

	if e.Status() == StatusError {
		// Force terminated. Keep the terminal status, only persist indicators.
		e.saveSnapshot()
		return
	}
	e.shutdown(ctx)
	e.transition(StatusStopping, StatusStopped)
}

func (e *Engine) shutdown(ctx context.Context) {
	if e.settings.CloseOnStop || e.closeAllReq.Swap(false) {
		if err := e.closeAll(ctx, strategy.CloseNone); err != nil {
			e.logger.Warn().Err(err).Msg("closing positions on stop failed")
		}
	}
	e.saveSnapshot()
}

func (e *Engine) saveSnapshot() {
	if e.store == nil {
		return
	}
	err := e.store.Save(state.IndicatorSnapshot{
		UserID:     e.userID,
		Symbol:     e.settings.Symbol,
		SAR:        e.strategy.SARState(),
		CCIHistory: e.strategy.CCIHistory(),
	})
	if err != nil {
		e.logger.Warn().Err(err).Msg("indicator snapshot save failed")
	}
}

// tick is one pass of the decision loop. Transient failures return an error
// and the next tick retries; only auth errors terminate the session.
func (e *Engine) tick(ctx context.Context) error {
	ticker, err := e.exchange.GetTicker(ctx, e.settings.Symbol)
	if err != nil {
		e.countTickError("ticker")
		return err
	}
	price := ticker.LastPrice
	e.strategy.SetLastPrice(price)

	if e.closeAllReq.Swap(false) {
		e.logger.Info().Msg("closing all positions on admin request")
		if err := e.closeAll(ctx, strategy.CloseNone); err != nil {
			e.logger.Warn().Err(err).Msg("admin close failed")
		}
	}

	tick := e.tickCount.Load()
	if tick%balanceUpdateTicks == 0 {
		if balance, err := e.exchange.GetBalance(ctx, marginCoin); err != nil {
			e.countTickError("balance")
			if exchange.IsAuthError(err) {
				return err
			}
			e.staleBalanceTicks++
			if e.staleBalanceTicks == staleBalanceWarn {
				e.logger.Warn().Msg("balance has been stale for several intervals")
			}
		} else {
			e.strategy.SetBalance(balance.Available)
			e.staleBalanceTicks = 0
		}
	}

	if tick > 0 && tick%syncTicks == 0 {
		if positions, err := e.exchange.GetPositions(ctx, e.settings.Symbol); err != nil {
			e.countTickError("sync")
			if exchange.IsAuthError(err) {
				return err
			}
		} else {
			e.strategy.SyncFromExchange(positions)
		}
	}

	candles, err := e.cache.Get(ctx)
	if err != nil {
		e.countTickError("candles")
		return err
	}
	e.strategy.UpdateIndicators(candles)

	newCandle := false
	if last, ok := e.cache.Last(); ok && last.Timestamp.After(e.lastCandleTS) {
		newCandle = true
		e.lastCandleTS = last.Timestamp
	}

	e.handleEntries(ctx, price, newCandle)
	e.handleGridAdditions(ctx, price)
	e.handleProfitTargets(ctx, price)

	if tick%statusUpdateTicks == 0 {
		e.sink.Emit(e.statusUpdateEvent(price))
	}
	e.tickCount.Add(1)
	return nil
}

// handleEntries opens the first position of a side when the signal says so.
func (e *Engine) handleEntries(ctx context.Context, price float64, newCandle bool) {
	buyEmpty := len(e.strategy.Positions(types.SideBuy)) == 0
	sellEmpty := len(e.strategy.Positions(types.SideSell)) == 0

	shouldEvaluate := buyEmpty || sellEmpty
	if e.settings.OpenOnNewCandle && !newCandle && !buyEmpty && !sellEmpty {
		shouldEvaluate = false
	}
	if !shouldEvaluate {
		return
	}

	signal := e.strategy.EvaluateSignal()
	var side types.Side
	switch signal {
	case strategy.SignalBuy:
		side = types.SideBuy
	case strategy.SignalSell:
		side = types.SideSell
	default:
		return
	}
	if len(e.strategy.Positions(side)) > 0 {
		return
	}
	e.openPosition(ctx, side, e.strategy.CalcLot(0, price), price, 0)
}

// handleGridAdditions extends each occupied ladder when price breaches its
// trigger distance.
func (e *Engine) handleGridAdditions(ctx context.Context, price float64) {
	for _, side := range []types.Side{types.SideBuy, types.SideSell} {
		positions := e.strategy.Positions(side)
		if len(positions) == 0 {
			continue
		}
		ok, lot := e.strategy.CanAddGridOrder(side, price)
		if !ok {
			continue
		}
		level := e.strategy.CurrentGridLevel(len(positions))
		e.openPosition(ctx, side, lot, price, level)
	}
}

// openPosition performs the margin pre-check, places the order and records
// the new ladder rung. Failed opens are logged and do not reserve slots.
func (e *Engine) openPosition(ctx context.Context, side types.Side, lot, price float64, level int) {
	now := time.Now().UTC()
	if !e.strategy.CanTradeNow(now) {
		return
	}

	required := lot * price / float64(e.settings.Leverage) * marginBuffer
	if balance := e.strategy.Balance(); balance < required {
		e.logger.Warn().Float64("required", required).Float64("available", balance).
			Msg("insufficient margin for grid order")
		e.sink.Emit(e.balanceWarningEvent(required, balance))
		return
	}

	result, err := e.exchange.OpenPosition(ctx, e.settings.Symbol, side, lot, e.settings.Leverage)
	if err != nil {
		e.countTickError("open")
		if exchange.IsInsufficientMargin(err) {
			e.sink.Emit(e.balanceWarningEvent(required, e.strategy.Balance()))
		} else {
			e.sink.Emit(e.errorEvent("open_position", err))
		}
		e.logger.Warn().Err(err).Str("side", string(side)).Float64("lot", lot).Msg("order open failed")
		return
	}

	position := strategy.Position{
		ID:         result.OrderID,
		Side:       side,
		EntryPrice: result.FilledPrice,
		Lot:        lot,
		GridLevel:  level,
		OrderID:    result.OrderID,
		OpenedAt:   now,
	}
	e.strategy.AddPosition(position)
	e.strategy.RecordTrade(now)
	if e.metrics != nil {
		e.metrics.TradesOpened.WithLabelValues(e.settings.Symbol, string(side)).Inc()
	}
	e.logger.Info().Str("side", string(side)).Float64("lot", lot).
		Float64("entry", result.FilledPrice).Int("level", level).Msg("position opened")
	e.sink.Emit(e.tradeOpenedEvent(position))
}

// handleProfitTargets executes the strategy's close decision and stops the
// session when a global limit fires.
func (e *Engine) handleProfitTargets(ctx context.Context, price float64) {
	decision := e.strategy.CheckProfitTargets(price)
	if decision.Reason == strategy.CloseNone {
		return
	}

	for _, position := range decision.Close {
		e.closePosition(ctx, position, decision.Reason)
	}

	if decision.CancelOrders {
		if err := e.exchange.CancelAllOrders(ctx, e.settings.Symbol); err != nil {
			e.logger.Warn().Err(err).Msg("cancel pending orders failed")
		}
	}
	if decision.StopSession {
		e.sink.Emit(e.globalLimitEvent(decision.Reason))
		e.logger.Info().Str("reason", decision.Reason.String()).Msg("global limit hit, stopping session")
		e.Stop()
	}
}

// closePosition closes one rung. A not-found answer means the exchange no
// longer has it, typically after a manual close, so local state drops it
// and a sync follows on the next interval.
func (e *Engine) closePosition(ctx context.Context, position strategy.Position, reason strategy.CloseReason) {
	result, err := e.exchange.ClosePosition(ctx, e.settings.Symbol, position.ID)
	if err != nil {
		if exchange.IsPositionNotFound(err) {
			e.logger.Warn().Str("position", position.ID).
				Msg("position already gone on exchange, clearing locally")
			e.strategy.RemovePosition(position.ID)
			return
		}
		e.countTickError("close")
		e.sink.Emit(e.errorEvent("close_position", err))
		e.logger.Warn().Err(err).Str("position", position.ID).Msg("order close failed")
		return
	}

	e.strategy.RecordClose(position, result.RealizedPnL)
	if e.metrics != nil {
		e.metrics.TradesClosed.WithLabelValues(e.settings.Symbol, reason.String()).Inc()
	}
	e.logger.Info().Str("position", position.ID).Float64("pnl", result.RealizedPnL).
		Str("reason", reason.String()).Msg("position closed")
	e.sink.Emit(e.tradeClosedEvent(position, result.RealizedPnL, reason))
}

// closeAll closes every open position, used on stop and by force-close.
func (e *Engine) closeAll(ctx context.Context, reason strategy.CloseReason) error {
	var firstErr error
	for _, side := range []types.Side{types.SideBuy, types.SideSell} {
		positions := append([]strategy.Position(nil), e.strategy.Positions(side)...)
		for _, position := range positions {
			before := e.strategy.TotalPositions()
			e.closePosition(ctx, position, reason)
			if e.strategy.TotalPositions() == before && firstErr == nil {
				firstErr = fmt.Errorf("close %s failed", position.ID)
			}
		}
	}
	return firstErr
}

// ForceClosePositions closes every open position, bypassing profit targets.
// While a loop owns the trading state the request is handed to it and runs
// on its next tick; otherwise the positions are closed directly.
func (e *Engine) ForceClosePositions(ctx context.Context) error {
	if e.Status() == StatusIdle {
		return e.closeAll(ctx, strategy.CloseNone)
	}
	select {
	case <-e.done:
		return e.closeAll(ctx, strategy.CloseNone)
	default:
		e.closeAllReq.Store(true)
		return nil
	}
}

func (e *Engine) countTickError(stage string) {
	if e.metrics != nil {
		e.metrics.TickErrors.WithLabelValues(stage).Inc()
	}
}

// TickCount returns how many ticks have completed.
func (e *Engine) TickCount() int64 {
	return e.tickCount.Load()
}

// Strategy exposes the trading state for status reporting.
func (e *Engine) Strategy() *strategy.HedgeStrategy {
	return e.strategy
}
