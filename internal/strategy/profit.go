package strategy

import "github.com/hemalabs/hedgegrid/pkg/types"

// CloseReason tags why the profit cascade decided to close positions.
type CloseReason int

const (
	CloseNone CloseReason = iota
	CloseSingleTP
	ClosePairTP
	CloseGlobalProfit
	CloseMaxLoss
)

func (r CloseReason) String() string {
	switch r {
	case CloseSingleTP:
		return "single_order_profit"
	case ClosePairTP:
		return "pair_global_profit"
	case CloseGlobalProfit:
		return "global_profit"
	case CloseMaxLoss:
		return "max_loss"
	default:
		return "none"
	}
}

// ProfitDecision is the outcome of one profit cascade pass. The engine
// executes the closes; CancelOrders and StopSession accompany the global
// limits.
type ProfitDecision struct {
	Close        []Position
	Reason       CloseReason
	CancelOrders bool
	StopSession  bool
}

// CheckProfitTargets runs the target cascade in priority order and
// short-circuits on the first rule that fires:
//
//  1. single-order take profit, per position
//  2. pair global take profit across both sides
//  3. global daily profit, which also stops the session
//  4. max daily loss, which also stops the session
//
// The global limits close every open position and cancel pending orders
// before the session stops.
func (s *HedgeStrategy) CheckProfitTargets(price float64) ProfitDecision {
	if s.settings.SingleOrderProfit > 0 {
		var hits []Position
		for _, p := range s.allPositions() {
			if s.PnLPercent(p, price) >= s.settings.SingleOrderProfit {
				hits = append(hits, p)
			}
		}
		if len(hits) > 0 {
			return ProfitDecision{Close: hits, Reason: CloseSingleTP}
		}
	}

	if s.settings.PairGlobalProfit > 0 && s.TotalPositions() > 0 {
		combined := s.SidePnLPercent(types.SideBuy, price) + s.SidePnLPercent(types.SideSell, price)
		if combined >= s.settings.PairGlobalProfit {
			return ProfitDecision{Close: s.allPositions(), Reason: ClosePairTP}
		}
	}

	if s.settings.GlobalProfit > 0 && s.perf.RealizedPnL >= s.settings.GlobalProfit {
		return ProfitDecision{
			Close:        s.allPositions(),
			Reason:       CloseGlobalProfit,
			CancelOrders: true,
			StopSession:  true,
		}
	}

	if s.settings.MaxLoss > 0 && s.perf.RealizedPnL <= -s.settings.MaxLoss {
		return ProfitDecision{
			Close:        s.allPositions(),
			Reason:       CloseMaxLoss,
			CancelOrders: true,
			StopSession:  true,
		}
	}

	return ProfitDecision{Reason: CloseNone}
}

func (s *HedgeStrategy) allPositions() []Position {
	all := make([]Position, 0, len(s.buy)+len(s.sell))
	all = append(all, s.buy...)
	all = append(all, s.sell...)
	return all
}
