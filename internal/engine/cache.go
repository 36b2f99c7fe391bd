package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/hemalabs/hedgegrid/internal/exchange"
	"github.com/hemalabs/hedgegrid/pkg/types"
)

const (
	cacheMaxCandles = 200
	cacheFreshness  = time.Second
	incrementFetch  = 5
)

// CandleCache keeps one session's candle history warm. Fresh hits return the
// cached window; otherwise only the last few candles are fetched and merged
// by timestamp, so the partial current candle is replaced in place. A failed
// fetch falls back to the stale cache rather than starving the tick.
type CandleCache struct {
	exchange  exchange.Exchange
	symbol    string
	timeframe string
	logger    zerolog.Logger

	candles   []types.Candle
	fetchedAt time.Time
	now       func() time.Time
}

// NewCandleCache creates an empty cache for one symbol and timeframe.
func NewCandleCache(ex exchange.Exchange, symbol, timeframe string, logger zerolog.Logger) *CandleCache {
	return &CandleCache{
		exchange:  ex,
		symbol:    symbol,
		timeframe: timeframe,
		logger:    logger.With().Str("component", "candle_cache").Logger(),
		now:       time.Now,
	}
}

// Get returns the candle window, refreshing it when stale.
func (c *CandleCache) Get(ctx context.Context) ([]types.Candle, error) {
	if len(c.candles) > 0 && c.now().Sub(c.fetchedAt) < cacheFreshness {
		return c.candles, nil
	}

	limit := incrementFetch
	if len(c.candles) == 0 {
		limit = cacheMaxCandles
	}

	fresh, err := c.exchange.GetCandles(ctx, c.symbol, c.timeframe, limit)
	if err != nil {
		if len(c.candles) > 0 {
			c.logger.Warn().Err(err).Msg("candle fetch failed, serving stale cache")
			return c.candles, nil
		}
		return nil, err
	}

	c.merge(fresh)
	c.fetchedAt = c.now()
	return c.candles, nil
}

// merge folds freshly fetched candles into the window: same-timestamp
// candles replace their cached version, newer ones append, and the window
// is truncated to the newest cacheMaxCandles.
func (c *CandleCache) merge(fresh []types.Candle) {
	for _, candle := range fresh {
		replaced := false
		for i := len(c.candles) - 1; i >= 0; i-- {
			if c.candles[i].Timestamp.Equal(candle.Timestamp) {
				c.candles[i] = candle
				replaced = true
				break
			}
			if c.candles[i].Timestamp.Before(candle.Timestamp) {
				break
			}
		}
		if !replaced && (len(c.candles) == 0 || candle.Timestamp.After(c.candles[len(c.candles)-1].Timestamp)) {
			c.candles = append(c.candles, candle)
		}
	}
	if len(c.candles) > cacheMaxCandles {
		c.candles = c.candles[len(c.candles)-cacheMaxCandles:]
	}
}

// Last returns the newest cached candle and whether one exists.
func (c *CandleCache) Last() (types.Candle, bool) {
	if len(c.candles) == 0 {
		return types.Candle{}, false
	}
	return c.candles[len(c.candles)-1], true
}
