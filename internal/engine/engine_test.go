package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hemalabs/hedgegrid/internal/config"
	"github.com/hemalabs/hedgegrid/internal/exchange"
	"github.com/hemalabs/hedgegrid/internal/webhook"
	"github.com/hemalabs/hedgegrid/pkg/types"
)

// fakeExchange is a scriptable in-memory exchange for engine tests.
type fakeExchange struct {
	mu sync.Mutex

	price     float64
	balance   float64
	candles   []types.Candle
	positions []types.ExchangePosition

	tickerErr     error
	balanceErr    error
	openErr       error
	closeErr      error
	tickerBlocks  bool          // GetTicker waits for ctx cancellation
	tickerBlocked chan struct{} // closed when a blocking GetTicker is entered

	realized    float64
	nextOrderID int
	opened      []types.Side
	closed      []string
	closeCalls  int
	cancelCalls int
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{price: 100, balance: 10000, candles: fallingCandles(20, 130)}
}

// fallingCandles produces a steady downtrend, which seeds the SAR above the
// moving average and yields a stable BUY signal.
func fallingCandles(n int, start float64) []types.Candle {
	candles := make([]types.Candle, n)
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := range candles {
		c := start - float64(i)
		candles[i] = types.Candle{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Open:      c + 1, High: c + 1, Low: c - 1, Close: c,
		}
	}
	return candles
}

func (f *fakeExchange) setPrice(p float64) {
	f.mu.Lock()
	f.price = p
	f.mu.Unlock()
}

func (f *fakeExchange) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]types.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.Candle(nil), f.candles...), nil
}

func (f *fakeExchange) GetTicker(ctx context.Context, symbol string) (types.Ticker, error) {
	f.mu.Lock()
	if f.tickerBlocks {
		if f.tickerBlocked != nil {
			close(f.tickerBlocked)
			f.tickerBlocked = nil
		}
		f.mu.Unlock()
		<-ctx.Done()
		return types.Ticker{}, ctx.Err()
	}
	defer f.mu.Unlock()
	if f.tickerErr != nil {
		return types.Ticker{}, f.tickerErr
	}
	return types.Ticker{Symbol: symbol, LastPrice: f.price, Timestamp: time.Now()}, nil
}

func (f *fakeExchange) GetBalance(ctx context.Context, coin string) (types.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balanceErr != nil {
		return types.Balance{}, f.balanceErr
	}
	return types.Balance{Coin: coin, Available: f.balance}, nil
}

func (f *fakeExchange) GetPositions(ctx context.Context, symbol string) ([]types.ExchangePosition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.ExchangePosition(nil), f.positions...), nil
}

func (f *fakeExchange) OpenPosition(ctx context.Context, symbol string, side types.Side, lot float64, leverage int) (types.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return types.OrderResult{}, f.openErr
	}
	f.nextOrderID++
	f.opened = append(f.opened, side)
	return types.OrderResult{
		OrderID:     fmt.Sprintf("ord-%d", f.nextOrderID),
		FilledPrice: f.price,
	}, nil
}

func (f *fakeExchange) ClosePosition(ctx context.Context, symbol, positionID string) (types.CloseResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	if f.closeErr != nil {
		return types.CloseResult{}, f.closeErr
	}
	f.closed = append(f.closed, positionID)
	return types.CloseResult{RealizedPnL: f.realized}, nil
}

func (f *fakeExchange) CancelAllOrders(ctx context.Context, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelCalls++
	return nil
}

func (f *fakeExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return nil
}

var _ exchange.Exchange = (*fakeExchange)(nil)

// recordSink captures emitted events.
type recordSink struct {
	mu     sync.Mutex
	events []webhook.Event
}

func (r *recordSink) Emit(event webhook.Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *recordSink) count(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, event := range r.events {
		if event.Kind == kind {
			n++
		}
	}
	return n
}

func engineSettings() config.SessionSettings {
	s := config.DefaultSettings()
	s.Leverage = 1
	s.TickInterval = 2 * time.Millisecond
	s.SingleOrderProfit = 3.0
	return s
}

func newTestEngine(t *testing.T, fake *fakeExchange, sink webhook.Sink, settings config.SessionSettings) *Engine {
	t.Helper()
	return New(Params{
		UserID:    "user-1",
		UserBotID: "bot-1",
		Settings:  settings,
		Exchange:  fake,
		Sink:      sink,
		Logger:    zerolog.Nop(),
	})
}

func stopAndWait(t *testing.T, e *Engine) {
	t.Helper()
	e.Stop()
	select {
	case <-e.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
	}
}

func TestEngine_OpensOnSignalAndTakesProfit(t *testing.T) {
	fake := newFakeExchange()
	fake.realized = 0.31
	sink := &recordSink{}
	e := newTestEngine(t, fake, sink, engineSettings())

	require.NoError(t, e.Start(context.Background()))

	// Downtrend candles give a BUY signal; one position opens at 100.
	require.Eventually(t, func() bool {
		return sink.count(webhook.KindTradeOpened) >= 1
	}, 5*time.Second, time.Millisecond)

	// 3.1% above entry clears the 3.0% target.
	fake.setPrice(103.1)
	require.Eventually(t, func() bool {
		return sink.count(webhook.KindTradeClosed) >= 1
	}, 5*time.Second, time.Millisecond)

	stopAndWait(t, e)
	assert.Equal(t, StatusStopped, e.Status())

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, types.SideBuy, fake.opened[0])
	assert.NotEmpty(t, fake.closed)
}

func TestEngine_GlobalProfitClosesAllAndStops(t *testing.T) {
	settings := engineSettings()
	settings.GlobalProfit = 50
	fake := newFakeExchange()
	fake.realized = 60 // first close pushes realized past the global target
	sink := &recordSink{}
	e := newTestEngine(t, fake, sink, settings)

	require.NoError(t, e.Start(context.Background()))

	fake.setPrice(103.5) // trip the single-order TP to realize profit

	select {
	case <-e.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop on global limit")
	}

	assert.Equal(t, StatusStopped, e.Status())
	assert.GreaterOrEqual(t, sink.count(webhook.KindGlobalLimitHit), 1)
	assert.Zero(t, e.Strategy().TotalPositions())

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.GreaterOrEqual(t, fake.cancelCalls, 1, "pending orders are cancelled on global limit")
}

func TestEngine_AuthErrorTerminates(t *testing.T) {
	fake := newFakeExchange()
	sink := &recordSink{}
	e := newTestEngine(t, fake, sink, engineSettings())

	require.NoError(t, e.Start(context.Background()))

	fake.mu.Lock()
	fake.tickerErr = exchange.NewError(exchange.KindAuth, "ticker", "40012", errors.New("bad key"))
	fake.mu.Unlock()

	select {
	case <-e.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not terminate on auth error")
	}
	assert.Equal(t, StatusError, e.Status())
	assert.GreaterOrEqual(t, sink.count(webhook.KindErrorOccurred), 1)
}

func TestEngine_TransientErrorKeepsRunning(t *testing.T) {
	fake := newFakeExchange()
	sink := &recordSink{}
	e := newTestEngine(t, fake, sink, engineSettings())

	require.NoError(t, e.Start(context.Background()))

	fake.mu.Lock()
	fake.tickerErr = exchange.NewError(exchange.KindTransient, "ticker", "", errors.New("timeout"))
	fake.mu.Unlock()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StatusRunning, e.Status())

	fake.mu.Lock()
	fake.tickerErr = nil
	fake.mu.Unlock()

	require.Eventually(t, func() bool {
		return e.TickCount() > 0
	}, 5*time.Second, time.Millisecond)
	stopAndWait(t, e)
}

func TestEngine_StopIsIdempotent(t *testing.T) {
	fake := newFakeExchange()
	sink := &recordSink{}
	e := newTestEngine(t, fake, sink, engineSettings())

	require.NoError(t, e.Start(context.Background()))
	e.Stop()
	e.Stop()
	select {
	case <-e.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
	}
	assert.Equal(t, StatusStopped, e.Status())

	// Exactly one transition into STOPPED was announced.
	sink.mu.Lock()
	defer sink.mu.Unlock()
	stopped := 0
	for _, event := range sink.events {
		if event.Kind == webhook.KindStatusChanged && event.Data["to"] == string(StatusStopped) {
			stopped++
		}
	}
	assert.Equal(t, 1, stopped)
}

func TestEngine_StartFailsOnInitialBalanceError(t *testing.T) {
	fake := newFakeExchange()
	fake.balanceErr = exchange.NewError(exchange.KindAuth, "balance", "40012", errors.New("bad key"))
	e := newTestEngine(t, fake, &recordSink{}, engineSettings())

	err := e.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, StatusError, e.Status())

	// A failed start must not leave a running loop behind.
	select {
	case <-e.Done():
	case <-time.After(time.Second):
		t.Fatal("done channel not closed after failed start")
	}
}

func TestEngine_StartTwiceRejected(t *testing.T) {
	fake := newFakeExchange()
	e := newTestEngine(t, fake, &recordSink{}, engineSettings())

	require.NoError(t, e.Start(context.Background()))
	assert.Error(t, e.Start(context.Background()))
	stopAndWait(t, e)
}

func TestEngine_SurvivesStartContextCancel(t *testing.T) {
	fake := newFakeExchange()
	sink := &recordSink{}
	e := newTestEngine(t, fake, sink, engineSettings())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, e.Start(ctx))
	cancel() // an API caller's request context ends right after Start returns

	before := e.TickCount()
	require.Eventually(t, func() bool {
		return e.TickCount() > before+2
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, StatusRunning, e.Status())
	stopAndWait(t, e)
}

func TestEngine_ForceTerminateUnblocksStuckLoop(t *testing.T) {
	fake := newFakeExchange()
	fake.tickerBlocks = true
	fake.tickerBlocked = make(chan struct{})
	sink := &recordSink{}
	e := newTestEngine(t, fake, sink, engineSettings())

	require.NoError(t, e.Start(context.Background()))
	select {
	case <-fake.tickerBlocked:
	case <-time.After(5 * time.Second):
		t.Fatal("engine never reached the exchange call")
	}

	// A cooperative stop cannot land while a tick is stuck on the exchange.
	e.Stop()
	select {
	case <-e.Done():
		t.Fatal("loop exited while the exchange call should still block")
	case <-time.After(50 * time.Millisecond):
	}

	e.ForceTerminate()
	select {
	case <-e.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("force terminate did not unblock the loop")
	}
	assert.Equal(t, StatusError, e.Status())
}

func TestEngine_InsufficientMarginWarnsInsteadOfOpening(t *testing.T) {
	fake := newFakeExchange()
	fake.balance = 0.01 // far below required margin at price 100
	sink := &recordSink{}
	e := newTestEngine(t, fake, sink, engineSettings())

	require.NoError(t, e.Start(context.Background()))
	require.Eventually(t, func() bool {
		return sink.count(webhook.KindBalanceWarning) >= 1
	}, 5*time.Second, time.Millisecond)
	stopAndWait(t, e)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Empty(t, fake.opened, "no order placed without margin headroom")
}

func TestEngine_PhantomPositionClearedLocally(t *testing.T) {
	settings := engineSettings()
	settings.MaxTradesPerDay = 1 // keep the ladder empty once the phantom clears
	fake := newFakeExchange()
	fake.closeErr = exchange.NewError(exchange.KindNotFound, "close", "22002", errors.New("no position to close"))
	sink := &recordSink{}
	e := newTestEngine(t, fake, sink, settings)

	require.NoError(t, e.Start(context.Background()))
	require.Eventually(t, func() bool {
		return sink.count(webhook.KindTradeOpened) >= 1
	}, 5*time.Second, time.Millisecond)

	fake.setPrice(103.5) // TP fires but the exchange says the position is gone

	require.Eventually(t, func() bool {
		fake.mu.Lock()
		defer fake.mu.Unlock()
		return fake.closeCalls >= 1
	}, 5*time.Second, time.Millisecond)
	stopAndWait(t, e)

	assert.Empty(t, e.Strategy().Positions(types.SideBuy))
	assert.Zero(t, sink.count(webhook.KindTradeClosed),
		"a phantom close is reconciliation, not a trade")
}

func TestEngine_ForceCloseServicedByLoop(t *testing.T) {
	settings := engineSettings()
	settings.MaxTradesPerDay = 1 // nothing reopens after the forced close
	fake := newFakeExchange()
	sink := &recordSink{}
	e := newTestEngine(t, fake, sink, settings)

	require.NoError(t, e.Start(context.Background()))
	require.Eventually(t, func() bool {
		return sink.count(webhook.KindTradeOpened) >= 1
	}, 5*time.Second, time.Millisecond)

	// Price never reaches the profit target, so the only close can come from
	// the admin request picked up by the loop.
	require.NoError(t, e.ForceClosePositions(context.Background()))
	require.Eventually(t, func() bool {
		fake.mu.Lock()
		defer fake.mu.Unlock()
		return fake.closeCalls >= 1
	}, 5*time.Second, time.Millisecond)

	stopAndWait(t, e)
	assert.Zero(t, e.Strategy().TotalPositions())
	assert.GreaterOrEqual(t, sink.count(webhook.KindTradeClosed), 1)
}

func TestEngine_ForceCloseAfterStopClosesDirectly(t *testing.T) {
	fake := newFakeExchange()
	fake.positions = []types.ExchangePosition{{
		ID: "held-1", Symbol: "BTCUSDT", Side: types.SideBuy, Size: 0.001, EntryPrice: 100,
	}}
	sink := &recordSink{}
	e := newTestEngine(t, fake, sink, engineSettings())

	// The held position is adopted during startup and survives the stop
	// because close-on-stop is off.
	require.NoError(t, e.Start(context.Background()))
	stopAndWait(t, e)
	require.Equal(t, 1, e.Strategy().TotalPositions())

	require.NoError(t, e.ForceClosePositions(context.Background()))
	assert.Zero(t, e.Strategy().TotalPositions())

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, []string{"held-1"}, fake.closed)
}

func TestEngine_EmitsStatusUpdates(t *testing.T) {
	fake := newFakeExchange()
	sink := &recordSink{}
	e := newTestEngine(t, fake, sink, engineSettings())

	require.NoError(t, e.Start(context.Background()))
	require.Eventually(t, func() bool {
		return sink.count(webhook.KindStatusUpdate) >= 2
	}, 5*time.Second, time.Millisecond)
	stopAndWait(t, e)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	for _, event := range sink.events {
		if event.Kind != webhook.KindStatusUpdate {
			continue
		}
		assert.Equal(t, "user-1", event.Data["userId"])
		assert.Equal(t, "bot-1", event.Data["userBotId"])
		assert.Contains(t, event.Data, "indicators")
		assert.Contains(t, event.Data, "positions")
		assert.Contains(t, event.Data, "grid")
		assert.Contains(t, event.Data, "profit")
		assert.Contains(t, event.Data, "performance")
		assert.Contains(t, event.Data, "runtime")
		break
	}
}
