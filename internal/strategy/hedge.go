// Package strategy implements the hedged grid trading logic: dual position
// ladders, signal evaluation, lot sizing and the profit target cascade. It
// performs no I/O; the engine feeds it market data and executes its
// decisions against the exchange.
package strategy

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/hemalabs/hedgegrid/internal/config"
	"github.com/hemalabs/hedgegrid/internal/indicators"
	"github.com/hemalabs/hedgegrid/pkg/types"
)

// Signal is the entry decision produced by EvaluateSignal.
type Signal int

const (
	SignalNone Signal = iota
	SignalBuy
	SignalSell
)

func (s Signal) String() string {
	switch s {
	case SignalBuy:
		return "BUY"
	case SignalSell:
		return "SELL"
	default:
		return "NONE"
	}
}

// Position is one rung of a side's grid ladder. Insertion order is grid
// progression: later positions were opened at more adverse prices.
type Position struct {
	ID         string     `json:"id"`
	Side       types.Side `json:"side"`
	EntryPrice float64    `json:"entryPrice"`
	Lot        float64    `json:"lot"`
	GridLevel  int        `json:"gridLevel"`
	OrderID    string     `json:"orderId"`
	OpenedAt   time.Time  `json:"openedAt"`
}

// Performance accumulates the session's trading results.
type Performance struct {
	TotalTrades   int       `json:"totalTrades"`
	Winning       int       `json:"winning"`
	Losing        int       `json:"losing"`
	RealizedPnL   float64   `json:"realizedPnl"`
	UnrealizedPnL float64   `json:"unrealizedPnl"`
	StartedAt     time.Time `json:"startedAt"`
	LastTradeAt   time.Time `json:"lastTradeAt"`
}

// HedgeStrategy holds one session's trading state. All methods are called
// from the session's tick goroutine only.
type HedgeStrategy struct {
	settings config.SessionSettings

	buy  []Position
	sell []Position
	perf Performance

	sma *indicators.LWMA
	sar *indicators.ParabolicSAR
	cci *indicators.CCI

	lastSMA     float64
	lastSAR     float64
	lastCCI     float64
	lastStepped time.Time // timestamp of the candle SAR/CCI last advanced on

	balance   float64
	lastPrice float64

	tradesToday int
	tradesDay   time.Time // UTC midnight of the counted day

	logger zerolog.Logger
}

// NewHedgeStrategy creates strategy state for validated settings.
func NewHedgeStrategy(settings config.SessionSettings, logger zerolog.Logger) *HedgeStrategy {
	s := &HedgeStrategy{
		settings: settings,
		sma:      indicators.NewLWMA(settings.SMAPeriod),
		sar:      indicators.NewParabolicSAR(settings.SARAf, settings.SARMax),
		logger:   logger.With().Str("component", "strategy").Logger(),
	}
	if settings.CCIPeriod > 0 {
		s.cci = indicators.NewCCI(settings.CCIPeriod)
	}
	s.perf.StartedAt = time.Now().UTC()
	return s
}

// UpdateIndicators refreshes the indicators from the candle history and
// returns the latest SMA, SAR and CCI values. The moving average is
// recomputed every call; SAR and CCI are per-candle steps and only advance
// when the newest candle's timestamp changes.
func (s *HedgeStrategy) UpdateIndicators(candles []types.Candle) (sma, sar, cci float64) {
	s.lastSMA = s.sma.Calculate(candles)

	if len(candles) > 0 && !candles[len(candles)-1].Timestamp.Equal(s.lastStepped) {
		s.lastSAR = s.sar.Calculate(candles)
		if s.cci != nil {
			s.lastCCI = s.cci.Calculate(candles)
		}
		s.lastStepped = candles[len(candles)-1].Timestamp
	}
	return s.lastSMA, s.lastSAR, s.lastCCI
}

// EvaluateSignal decides the entry direction from the current indicator
// values. The CCI crossing override outranks the SMA/SAR trend signal and
// only fires on the tick the crossing happens.
func (s *HedgeStrategy) EvaluateSignal() Signal {
	signal := SignalNone

	if s.settings.UseSMASAR && s.lastSMA > 0 && s.lastSAR > 0 {
		switch {
		case s.lastSAR > s.lastSMA:
			signal = SignalBuy
		case s.lastSAR < s.lastSMA:
			signal = SignalSell
		}
		if s.settings.ReverseOrder {
			switch signal {
			case SignalBuy:
				signal = SignalSell
			case SignalSell:
				signal = SignalBuy
			}
		}
	}

	if s.cci != nil {
		if s.cci.CrossedAbove(s.settings.CCIMax) {
			signal = SignalSell
		} else if s.cci.CrossedBelow(s.settings.CCIMin) {
			signal = SignalBuy
		}
	}

	return signal
}

// Positions returns the ladder for one side.
func (s *HedgeStrategy) Positions(side types.Side) []Position {
	if side == types.SideBuy {
		return s.buy
	}
	return s.sell
}

// TotalPositions returns the open count across both sides.
func (s *HedgeStrategy) TotalPositions() int {
	return len(s.buy) + len(s.sell)
}

// AddPosition appends an opened position to its side's ladder.
func (s *HedgeStrategy) AddPosition(p Position) {
	if p.Side == types.SideBuy {
		s.buy = append(s.buy, p)
	} else {
		s.sell = append(s.sell, p)
	}
	s.perf.LastTradeAt = p.OpenedAt
}

// RemovePosition deletes a position by id; returns false if unknown.
func (s *HedgeStrategy) RemovePosition(id string) bool {
	for i, p := range s.buy {
		if p.ID == id {
			s.buy = append(s.buy[:i], s.buy[i+1:]...)
			return true
		}
	}
	for i, p := range s.sell {
		if p.ID == id {
			s.sell = append(s.sell[:i], s.sell[i+1:]...)
			return true
		}
	}
	return false
}

// ClearSide drops all local positions on one side. Used when the exchange
// reports the side flat while local state still holds positions.
func (s *HedgeStrategy) ClearSide(side types.Side) {
	if side == types.SideBuy {
		s.buy = nil
	} else {
		s.sell = nil
	}
}

// RecordClose removes a closed position and folds its realized PnL into the
// performance counters.
func (s *HedgeStrategy) RecordClose(p Position, realized float64) {
	s.RemovePosition(p.ID)
	s.perf.RealizedPnL += realized
	s.perf.TotalTrades++
	if realized >= 0 {
		s.perf.Winning++
	} else {
		s.perf.Losing++
	}
	s.perf.LastTradeAt = time.Now().UTC()
}

// SetBalance records the latest available margin.
func (s *HedgeStrategy) SetBalance(balance float64) {
	s.balance = balance
}

// Balance returns the last recorded available margin.
func (s *HedgeStrategy) Balance() float64 {
	return s.balance
}

// SetLastPrice records the latest traded price.
func (s *HedgeStrategy) SetLastPrice(price float64) {
	s.lastPrice = price
}

// LastPrice returns the latest recorded price.
func (s *HedgeStrategy) LastPrice() float64 {
	return s.lastPrice
}

// LastIndicators returns the most recent indicator values.
func (s *HedgeStrategy) LastIndicators() (sma, sar, cci float64) {
	return s.lastSMA, s.lastSAR, s.lastCCI
}

// Performance returns a snapshot of the accumulated results with unrealized
// PnL refreshed at the given price.
func (s *HedgeStrategy) Performance(price float64) Performance {
	perf := s.perf
	perf.UnrealizedPnL = 0
	for _, p := range append(append([]Position{}, s.buy...), s.sell...) {
		perf.UnrealizedPnL += s.PnLAbs(p, price)
	}
	return perf
}

// Settings returns the session settings the strategy was built with.
func (s *HedgeStrategy) Settings() config.SessionSettings {
	return s.settings
}

// CanTradeNow applies the trading window and the daily trade cap.
func (s *HedgeStrategy) CanTradeNow(now time.Time) bool {
	if !config.InWindow(s.settings.TradeStart, s.settings.TradeFinish, now) {
		return false
	}
	if s.settings.MaxTradesPerDay > 0 {
		s.rollTradeDay(now)
		if s.tradesToday >= s.settings.MaxTradesPerDay {
			return false
		}
	}
	return true
}

// RecordTrade counts one opened trade against the daily cap.
func (s *HedgeStrategy) RecordTrade(now time.Time) {
	s.rollTradeDay(now)
	s.tradesToday++
}

func (s *HedgeStrategy) rollTradeDay(now time.Time) {
	day := now.UTC().Truncate(24 * time.Hour)
	if !day.Equal(s.tradesDay) {
		s.tradesDay = day
		s.tradesToday = 0
	}
}

// SARState exposes the Parabolic SAR state for persistence.
func (s *HedgeStrategy) SARState() indicators.SARState {
	return s.sar.State()
}

// RestoreSARState loads a persisted Parabolic SAR state.
func (s *HedgeStrategy) RestoreSARState(state indicators.SARState) {
	s.sar.Restore(state)
}

// CCIHistory exposes the CCI value history for persistence. Nil when CCI is
// disabled.
func (s *HedgeStrategy) CCIHistory() []float64 {
	if s.cci == nil {
		return nil
	}
	return s.cci.History()
}

// RestoreCCIHistory loads a persisted CCI history tail.
func (s *HedgeStrategy) RestoreCCIHistory(values []float64) {
	if s.cci != nil {
		s.cci.RestoreHistory(values)
	}
}
