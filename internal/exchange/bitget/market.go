package bitget

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/hemalabs/hedgegrid/pkg/types"
)

// granularity maps engine timeframes onto Bitget candle granularities.
var granularity = map[string]string{
	"1m": "1m", "3m": "3m", "5m": "5m", "15m": "15m", "30m": "30m",
	"1h": "1H", "4h": "4H", "6h": "6H", "12h": "12H",
	"1d": "1D", "1w": "1W",
}

// GetCandles returns up to limit candles ascending by timestamp.
func (c *Client) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]types.Candle, error) {
	gran, ok := granularity[timeframe]
	if !ok {
		gran = timeframe
	}

	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("productType", c.productType)
	query.Set("granularity", gran)
	query.Set("limit", strconv.Itoa(limit))

	data, err := c.do(ctx, "GET", "/api/v2/mix/market/candles", query, nil)
	if err != nil {
		return nil, err
	}

	// Each row: [ts, open, high, low, close, baseVolume, quoteVolume].
	var rows [][]string
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode candles: %w", err)
	}

	candles := make([]types.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("candle row has %d fields: %w", len(row), errMissingField)
		}
		ms, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("candle timestamp %q: %w", row[0], err)
		}
		candles = append(candles, types.Candle{
			Timestamp: time.UnixMilli(ms).UTC(),
			Open:      parseFloat(row[1]),
			High:      parseFloat(row[2]),
			Low:       parseFloat(row[3]),
			Close:     parseFloat(row[4]),
			Volume:    parseFloat(row[5]),
		})
	}
	return candles, nil
}

// GetTicker returns the latest traded price for symbol.
func (c *Client) GetTicker(ctx context.Context, symbol string) (types.Ticker, error) {
	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("productType", c.productType)

	data, err := c.do(ctx, "GET", "/api/v2/mix/market/ticker", query, nil)
	if err != nil {
		return types.Ticker{}, err
	}

	var rows []struct {
		Symbol string `json:"symbol"`
		LastPr string `json:"lastPr"`
		Ts     string `json:"ts"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return types.Ticker{}, fmt.Errorf("decode ticker: %w", err)
	}
	if len(rows) == 0 {
		return types.Ticker{}, fmt.Errorf("ticker for %s: %w", symbol, errMissingField)
	}

	ms, _ := strconv.ParseInt(rows[0].Ts, 10, 64)
	return types.Ticker{
		Symbol:    rows[0].Symbol,
		LastPrice: parseFloat(rows[0].LastPr),
		Timestamp: time.UnixMilli(ms).UTC(),
	}, nil
}
