package engine

import (
	"time"

	"github.com/hemalabs/hedgegrid/internal/strategy"
	"github.com/hemalabs/hedgegrid/internal/webhook"
	"github.com/hemalabs/hedgegrid/pkg/types"
)

func (e *Engine) newEvent(kind string, data map[string]any) webhook.Event {
	data["userId"] = e.userID
	data["userBotId"] = e.userBotID
	data["symbol"] = e.settings.Symbol
	return webhook.Event{Kind: kind, Timestamp: time.Now().UTC(), Data: data}
}

func (e *Engine) statusChangedEvent(from, to Status) webhook.Event {
	return e.newEvent(webhook.KindStatusChanged, map[string]any{
		"from": string(from),
		"to":   string(to),
	})
}

func (e *Engine) errorEvent(stage string, err error) webhook.Event {
	return e.newEvent(webhook.KindErrorOccurred, map[string]any{
		"stage": stage,
		"error": err.Error(),
	})
}

func (e *Engine) balanceWarningEvent(required, available float64) webhook.Event {
	return e.newEvent(webhook.KindBalanceWarning, map[string]any{
		"required":  required,
		"available": available,
	})
}

func (e *Engine) globalLimitEvent(reason strategy.CloseReason) webhook.Event {
	perf := e.strategy.Performance(e.strategy.LastPrice())
	return e.newEvent(webhook.KindGlobalLimitHit, map[string]any{
		"reason":      reason.String(),
		"realizedPnl": perf.RealizedPnL,
	})
}

func (e *Engine) tradeOpenedEvent(p strategy.Position) webhook.Event {
	return e.newEvent(webhook.KindTradeOpened, map[string]any{
		"positionId": p.ID,
		"side":       string(p.Side),
		"entryPrice": p.EntryPrice,
		"lot":        p.Lot,
		"gridLevel":  p.GridLevel,
		"openedAt":   p.OpenedAt.Format(time.RFC3339),
	})
}

func (e *Engine) tradeClosedEvent(p strategy.Position, realized float64, reason strategy.CloseReason) webhook.Event {
	return e.newEvent(webhook.KindTradeClosed, map[string]any{
		"positionId":  p.ID,
		"side":        string(p.Side),
		"entryPrice":  p.EntryPrice,
		"lot":         p.Lot,
		"realizedPnl": realized,
		"pnlPercent":  e.strategy.PnLPercent(p, e.strategy.LastPrice()),
		"reason":      reason.String(),
	})
}

// statusUpdateEvent snapshots the whole session for the upstream dashboard.
func (e *Engine) statusUpdateEvent(price float64) webhook.Event {
	sma, sar, cci := e.strategy.LastIndicators()
	perf := e.strategy.Performance(price)

	buys := e.strategy.Positions(types.SideBuy)
	sells := e.strategy.Positions(types.SideSell)
	buyPnl := e.strategy.SidePnLPercent(types.SideBuy, price)
	sellPnl := e.strategy.SidePnLPercent(types.SideSell, price)

	uptime := time.Duration(0)
	if !e.startedAt.IsZero() {
		uptime = time.Since(e.startedAt)
	}

	return e.newEvent(webhook.KindStatusUpdate, map[string]any{
		"currentPrice": price,
		"indicators": map[string]any{
			"sma":    sma,
			"sar":    sar,
			"cci":    cci,
			"signal": e.strategy.EvaluateSignal().String(),
		},
		"balance": e.strategy.Balance(),
		"positions": map[string]any{
			"buy":       positionList(buys, price, e.strategy),
			"sell":      positionList(sells, price, e.strategy),
			"buyCount":  len(buys),
			"sellCount": len(sells),
			"buyPnl":    buyPnl,
			"sellPnl":   sellPnl,
			"totalPnl":  buyPnl + sellPnl,
		},
		"grid": map[string]any{
			"multiplier":    e.settings.Multiplier,
			"spacePercent":  e.settings.Levels[0].Percent,
			"maxBuyOrders":  e.settings.MaxTotalPositions() / 2,
			"maxSellOrders": e.settings.MaxTotalPositions() / 2,
		},
		"profit": map[string]any{
			"singleOrderProfit": e.settings.SingleOrderProfit,
			"pairGlobalProfit":  e.settings.PairGlobalProfit,
			"globalProfit":      e.settings.GlobalProfit,
			"maxLoss":           e.settings.MaxLoss,
		},
		"performance": map[string]any{
			"totalTrades":   perf.TotalTrades,
			"winning":       perf.Winning,
			"losing":        perf.Losing,
			"realizedPnl":   perf.RealizedPnL,
			"unrealizedPnl": perf.UnrealizedPnL,
		},
		"runtime": map[string]any{
			"tick":        e.tickCount.Load(),
			"uptime":      uptime.Round(time.Second).String(),
			"startedAt":   e.startedAt.Format(time.RFC3339),
			"lastTradeAt": formatMaybeTime(perf.LastTradeAt),
		},
	})
}

func positionList(positions []strategy.Position, price float64, s *strategy.HedgeStrategy) []map[string]any {
	out := make([]map[string]any, len(positions))
	for i, p := range positions {
		out[i] = map[string]any{
			"id":         p.ID,
			"entryPrice": p.EntryPrice,
			"lot":        p.Lot,
			"gridLevel":  p.GridLevel,
			"pnlPercent": s.PnLPercent(p, price),
			"pnl":        s.PnLAbs(p, price),
		}
	}
	return out
}

func formatMaybeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
