package strategy

import (
	"math"

	"github.com/hemalabs/hedgegrid/pkg/types"
)

// maxMartingaleCap bounds the martingale multiplier growth: the factor
// applied to the base lot never exceeds this regardless of ladder depth.
const maxMartingaleCap = 10.0

// marginSafetyShare is the fraction of available balance one order's
// notional-per-leverage may consume.
const marginSafetyShare = 0.1

// CurrentGridLevel maps a side's position count to its grid level: walk the
// levels accumulating max orders and return the first index whose cumulative
// bound strictly exceeds the count, clamped to the last level.
func (s *HedgeStrategy) CurrentGridLevel(positionCount int) int {
	cumulative := 0
	for i, level := range s.settings.Levels {
		cumulative += level.MaxOrders
		if cumulative > positionCount {
			return i
		}
	}
	return len(s.settings.Levels) - 1
}

// CanAddGridOrder reports whether a new grid order may open on side at the
// current price, and the lot to use. The first order on an empty side is
// always allowed; later orders require the price to breach the level's
// trigger distance from the side's most adverse entry.
func (s *HedgeStrategy) CanAddGridOrder(side types.Side, price float64) (bool, float64) {
	positions := s.Positions(side)
	if len(positions) == 0 {
		return true, s.CalcLot(0, price)
	}
	if s.TotalPositions() >= s.settings.MaxTotalPositions() {
		return false, 0
	}

	level := s.settings.Levels[s.CurrentGridLevel(len(positions))]
	distance := level.Percent / 100

	if side == types.SideBuy {
		lowest := positions[0].EntryPrice
		for _, p := range positions[1:] {
			if p.EntryPrice < lowest {
				lowest = p.EntryPrice
			}
		}
		trigger := lowest * (1 - distance)
		if price <= trigger {
			return true, s.CalcLot(len(positions), price)
		}
		return false, 0
	}

	highest := positions[0].EntryPrice
	for _, p := range positions[1:] {
		if p.EntryPrice > highest {
			highest = p.EntryPrice
		}
	}
	trigger := highest * (1 + distance)
	if price >= trigger {
		return true, s.CalcLot(len(positions), price)
	}
	return false, 0
}

// CalcLot sizes the n-th order on a side. Martingale mode multiplies the
// base lot with a capped growth factor and a balance safety bound; fixed
// mode uses the level's configured lot. The result is clamped to the
// session's lot limits.
func (s *HedgeStrategy) CalcLot(n int, price float64) float64 {
	var lot float64
	if s.settings.Multiplier > 0 {
		factor := math.Pow(s.settings.Multiplier, float64(n))
		if factor > maxMartingaleCap {
			factor = maxMartingaleCap
		}
		lot = s.settings.BaseLot * factor

		if s.balance > 0 && price > 0 && s.settings.Leverage > 0 {
			affordable := (s.balance * marginSafetyShare) / (float64(s.settings.Leverage) * price)
			if lot > affordable {
				lot = affordable
			}
		}
	} else {
		lot = s.settings.Levels[s.CurrentGridLevel(n)].LotSize
	}

	if lot < s.settings.MinLot {
		lot = s.settings.MinLot
	}
	if lot > s.settings.MaxLot {
		lot = s.settings.MaxLot
	}
	return lot
}

// PnLPercent returns the leveraged percent PnL of a position at price.
func (s *HedgeStrategy) PnLPercent(p Position, price float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	change := (price - p.EntryPrice) / p.EntryPrice * 100
	if p.Side == types.SideSell {
		change = -change
	}
	return change * float64(s.settings.Leverage)
}

// PnLAbs returns the absolute price PnL of a position at price.
func (s *HedgeStrategy) PnLAbs(p Position, price float64) float64 {
	diff := price - p.EntryPrice
	if p.Side == types.SideSell {
		diff = -diff
	}
	return p.Lot * diff
}

// SidePnLPercent sums the leveraged percent PnL of every position on side.
func (s *HedgeStrategy) SidePnLPercent(side types.Side, price float64) float64 {
	total := 0.0
	for _, p := range s.Positions(side) {
		total += s.PnLPercent(p, price)
	}
	return total
}
