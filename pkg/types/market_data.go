package types

import "time"

// Side represents the direction of a position.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Candle represents a single OHLCV candlestick.
// Candle sequences are ordered by timestamp ascending.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// TypicalPrice returns (high + low + close) / 3.
func (c Candle) TypicalPrice() float64 {
	return (c.High + c.Low + c.Close) / 3
}

// WeightedPrice returns (high + low + 2*close) / 4.
func (c Candle) WeightedPrice() float64 {
	return (c.High + c.Low + 2*c.Close) / 4
}

// Ticker holds the latest traded price for a symbol.
type Ticker struct {
	Symbol    string    `json:"symbol"`
	LastPrice float64   `json:"lastPrice"`
	Timestamp time.Time `json:"timestamp"`
}

// Balance holds the available margin for a settlement coin.
type Balance struct {
	Coin      string  `json:"coin"`
	Available float64 `json:"available"`
}

// ExchangePosition is an open position as reported by the exchange.
type ExchangePosition struct {
	ID            string  `json:"id"`
	Symbol        string  `json:"symbol"`
	Side          Side    `json:"side"`
	Size          float64 `json:"size"`
	EntryPrice    float64 `json:"entryPrice"`
	MarkPrice     float64 `json:"markPrice"`
	UnrealizedPnL float64 `json:"unrealizedPnl"`
	Leverage      int     `json:"leverage"`
}

// OrderResult is returned by a successful position open.
type OrderResult struct {
	OrderID     string  `json:"orderId"`
	FilledPrice float64 `json:"filledPrice"`
}

// CloseResult is returned by a successful position close.
type CloseResult struct {
	RealizedPnL float64 `json:"realizedPnl"`
}
