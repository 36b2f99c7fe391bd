// Package exchange defines the contract between trading engines and a
// perpetual-futures exchange, plus the error taxonomy engines use to decide
// between retrying, warning, and terminating a session.
package exchange

import (
	"context"

	"github.com/hemalabs/hedgegrid/pkg/types"
)

// Exchange is the adapter contract consumed by trading engines. A demo
// account behaves identically to a live one at this level.
type Exchange interface {
	// GetCandles returns up to limit candles for symbol at the given
	// timeframe, ordered by timestamp ascending.
	GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]types.Candle, error)

	// GetTicker returns the latest traded price for symbol.
	GetTicker(ctx context.Context, symbol string) (types.Ticker, error)

	// GetBalance returns the available margin for the settlement coin.
	GetBalance(ctx context.Context, coin string) (types.Balance, error)

	// GetPositions returns the open positions for symbol.
	GetPositions(ctx context.Context, symbol string) ([]types.ExchangePosition, error)

	// OpenPosition places a market order and returns the accepted order id
	// and fill price.
	OpenPosition(ctx context.Context, symbol string, side types.Side, lot float64, leverage int) (types.OrderResult, error)

	// ClosePosition closes the position identified by positionID and
	// returns the realized PnL.
	ClosePosition(ctx context.Context, symbol, positionID string) (types.CloseResult, error)

	// CancelAllOrders cancels every pending order for symbol.
	CancelAllOrders(ctx context.Context, symbol string) error

	// SetLeverage configures the leverage for symbol before trading.
	SetLeverage(ctx context.Context, symbol string, leverage int) error
}
