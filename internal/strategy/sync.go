package strategy

import (
	"sort"

	"github.com/hemalabs/hedgegrid/pkg/types"
)

// SyncFromExchange replaces both ladders with the exchange's reported open
// positions. Each side is ordered by adversity from the current price, which
// reproduces grid progression, and grid levels are recomputed from that rank
// rather than from raw counts. This keeps levels consistent after positions
// were closed manually outside the engine.
func (s *HedgeStrategy) SyncFromExchange(reported []types.ExchangePosition) {
	var buys, sells []types.ExchangePosition
	for _, p := range reported {
		if p.Side == types.SideBuy {
			buys = append(buys, p)
		} else {
			sells = append(sells, p)
		}
	}

	// Long ladders progress downward, short ladders upward.
	sort.SliceStable(buys, func(i, j int) bool {
		return buys[i].EntryPrice > buys[j].EntryPrice
	})
	sort.SliceStable(sells, func(i, j int) bool {
		return sells[i].EntryPrice < sells[j].EntryPrice
	})

	s.buy = s.rebuildSide(buys)
	s.sell = s.rebuildSide(sells)
}

func (s *HedgeStrategy) rebuildSide(reported []types.ExchangePosition) []Position {
	if len(reported) == 0 {
		return nil
	}
	positions := make([]Position, len(reported))
	for i, p := range reported {
		positions[i] = Position{
			ID:         p.ID,
			Side:       p.Side,
			EntryPrice: p.EntryPrice,
			Lot:        p.Size,
			GridLevel:  s.CurrentGridLevel(i),
			OrderID:    p.ID,
			OpenedAt:   s.perf.StartedAt,
		}
	}
	return positions
}
