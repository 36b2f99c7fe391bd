package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hemalabs/hedgegrid/internal/config"
	"github.com/hemalabs/hedgegrid/internal/engine"
	"github.com/hemalabs/hedgegrid/internal/exchange"
	"github.com/hemalabs/hedgegrid/pkg/types"
)

// quietExchange serves flat market data so engines run without trading.
type quietExchange struct{}

func (quietExchange) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]types.Candle, error) {
	candles := make([]types.Candle, 20)
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := range candles {
		candles[i] = types.Candle{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Open:      100, High: 100, Low: 100, Close: 100,
		}
	}
	return candles, nil
}

func (quietExchange) GetTicker(ctx context.Context, symbol string) (types.Ticker, error) {
	return types.Ticker{Symbol: symbol, LastPrice: 100, Timestamp: time.Now()}, nil
}

func (quietExchange) GetBalance(ctx context.Context, coin string) (types.Balance, error) {
	return types.Balance{Coin: coin, Available: 1000}, nil
}

func (quietExchange) GetPositions(ctx context.Context, symbol string) ([]types.ExchangePosition, error) {
	return nil, nil
}

func (quietExchange) OpenPosition(ctx context.Context, symbol string, side types.Side, lot float64, leverage int) (types.OrderResult, error) {
	return types.OrderResult{OrderID: "ord", FilledPrice: 100}, nil
}

func (quietExchange) ClosePosition(ctx context.Context, symbol, positionID string) (types.CloseResult, error) {
	return types.CloseResult{}, nil
}

func (quietExchange) CancelAllOrders(ctx context.Context, symbol string) error { return nil }

func (quietExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error { return nil }

// stuckExchange blocks every ticker call until its context is canceled and
// signals the first entry, so tests know the tick loop is wedged.
type stuckExchange struct {
	quietExchange
	entered chan struct{}
	once    sync.Once
}

func (s *stuckExchange) GetTicker(ctx context.Context, symbol string) (types.Ticker, error) {
	s.once.Do(func() { close(s.entered) })
	<-ctx.Done()
	return types.Ticker{}, ctx.Err()
}

func testCreds() config.ExchangeCredentials {
	return config.ExchangeCredentials{APIKey: "k", SecretKey: "s", Passphrase: "p", Demo: true}
}

func testParams(userID string) RegisterParams {
	settings := config.DefaultSettings()
	settings.TickInterval = 2 * time.Millisecond
	settings.UseSMASAR = false // no entry signals
	return RegisterParams{
		UserID:      userID,
		UserBotID:   "bot-" + userID,
		Credentials: testCreds(),
		Settings:    settings,
	}
}

func newTestManager(maxSessions int) *Manager {
	factory := func(config.ExchangeCredentials) exchange.Exchange { return quietExchange{} }
	return NewManager(maxSessions, factory, nil, nil, zerolog.Nop())
}

func TestManager_RegisterValidates(t *testing.T) {
	m := newTestManager(5)

	p := testParams("u1")
	p.Credentials.APIKey = ""
	assert.ErrorContains(t, m.Register(p), "api key")

	p = testParams("u1")
	p.Settings.Leverage = -1
	assert.ErrorContains(t, m.Register(p), "leverage")

	p = testParams("")
	p.UserID = ""
	assert.ErrorContains(t, m.Register(p), "user id")
}

func TestManager_DuplicateRegisterRejected(t *testing.T) {
	m := newTestManager(5)

	require.NoError(t, m.Register(testParams("u1")))
	assert.ErrorIs(t, m.Register(testParams("u1")), ErrSessionExists)
}

func TestManager_SessionCap(t *testing.T) {
	m := newTestManager(2)

	require.NoError(t, m.Register(testParams("u1")))
	require.NoError(t, m.Register(testParams("u2")))
	assert.ErrorIs(t, m.Register(testParams("u3")), ErrTooManySessions)

	// Unregistering frees a slot.
	require.NoError(t, m.Unregister(context.Background(), "u1"))
	assert.NoError(t, m.Register(testParams("u3")))
}

func TestManager_Lifecycle(t *testing.T) {
	m := newTestManager(5)
	ctx := context.Background()

	require.NoError(t, m.Register(testParams("u1")))
	info, err := m.Status("u1")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusIdle, info.Status)

	require.NoError(t, m.Start(ctx, "u1"))
	require.Eventually(t, func() bool {
		info, err := m.Status("u1")
		return err == nil && info.Status == engine.StatusRunning
	}, 5*time.Second, time.Millisecond)

	require.NoError(t, m.Stop("u1"))
	require.NoError(t, m.Stop("u1"), "second stop is a no-op")
	require.Eventually(t, func() bool {
		info, err := m.Status("u1")
		return err == nil && info.Status == engine.StatusStopped
	}, 5*time.Second, time.Millisecond)
}

func TestManager_UnknownUserErrors(t *testing.T) {
	m := newTestManager(5)

	_, err := m.Status("ghost")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, m.Start(context.Background(), "ghost"), ErrSessionNotFound)
	assert.ErrorIs(t, m.Stop("ghost"), ErrSessionNotFound)
}

func TestManager_UnregisterWaitsForLoopExit(t *testing.T) {
	m := newTestManager(5)
	ctx := context.Background()

	require.NoError(t, m.Register(testParams("u1")))
	require.NoError(t, m.Start(ctx, "u1"))

	require.NoError(t, m.Unregister(ctx, "u1"))
	_, err := m.Status("u1")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// Idempotent: already-gone users are fine.
	assert.NoError(t, m.Unregister(ctx, "u1"))
}

func TestManager_ConcurrentRegisterUnregister(t *testing.T) {
	m := newTestManager(100)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("u%d", i)
			assert.NoError(t, m.Register(testParams(id)))
			assert.NoError(t, m.Start(ctx, id))
			assert.NoError(t, m.Unregister(ctx, id))
		}(i)
	}
	wg.Wait()

	current, _ := m.Usage()
	assert.Zero(t, current, "no engines leaked")
}

func TestManager_ListAllAndUsage(t *testing.T) {
	m := newTestManager(5)

	require.NoError(t, m.Register(testParams("u1")))
	require.NoError(t, m.Register(testParams("u2")))

	infos := m.ListAll()
	assert.Len(t, infos, 2)

	current, maxSessions := m.Usage()
	assert.Equal(t, 2, current)
	assert.Equal(t, 5, maxSessions)
}

func TestManager_Shutdown(t *testing.T) {
	m := newTestManager(5)
	ctx := context.Background()

	for _, id := range []string{"u1", "u2", "u3"} {
		require.NoError(t, m.Register(testParams(id)))
		require.NoError(t, m.Start(ctx, id))
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	m.Shutdown(shutdownCtx)

	for _, info := range m.ListAll() {
		assert.Equal(t, engine.StatusStopped, info.Status)
	}
}

func TestManager_ShutdownForceTerminatesStuckSessions(t *testing.T) {
	stuck := &stuckExchange{entered: make(chan struct{})}
	factory := func(config.ExchangeCredentials) exchange.Exchange { return stuck }
	m := NewManager(5, factory, nil, nil, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, m.Register(testParams("u1")))
	require.NoError(t, m.Start(ctx, "u1"))
	select {
	case <-stuck.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("engine never reached the exchange")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	m.Shutdown(shutdownCtx)

	info, err := m.Status("u1")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusError, info.Status)
}

func TestManager_UnregisterForceTerminatesOnDeadline(t *testing.T) {
	stuck := &stuckExchange{entered: make(chan struct{})}
	factory := func(config.ExchangeCredentials) exchange.Exchange { return stuck }
	m := NewManager(5, factory, nil, nil, zerolog.Nop())

	require.NoError(t, m.Register(testParams("u1")))
	require.NoError(t, m.Start(context.Background(), "u1"))
	select {
	case <-stuck.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("engine never reached the exchange")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, m.Unregister(ctx, "u1"))

	_, err := m.Status("u1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManager_CleanupStopped(t *testing.T) {
	m := newTestManager(5)
	ctx := context.Background()

	require.NoError(t, m.Register(testParams("u1")))
	require.NoError(t, m.Start(ctx, "u1"))
	require.NoError(t, m.Stop("u1"))
	require.Eventually(t, func() bool {
		info, err := m.Status("u1")
		return err == nil && info.Status == engine.StatusStopped
	}, 5*time.Second, time.Millisecond)

	// First pass only records when the terminal status was seen.
	assert.Zero(t, m.CleanupStopped(ctx, 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, m.CleanupStopped(ctx, 10*time.Millisecond))

	_, err := m.Status("u1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
