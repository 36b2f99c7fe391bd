package indicators

import (
	"math"

	"github.com/hemalabs/hedgegrid/pkg/types"
)

// cciHistoryLimit bounds the retained CCI history. The tail is persisted so
// crossing detection survives a restart.
const cciHistoryLimit = 100

// CCI implements the Commodity Channel Index with a bounded value history
// used for level-crossing detection.
type CCI struct {
	period  int
	history []float64
}

// NewCCI creates a CCI indicator with the given period.
func NewCCI(period int) *CCI {
	return &CCI{period: period}
}

// Calculate computes the CCI over the last period candles and appends it to
// the history. Returns 0 when fewer than period candles are available.
func (c *CCI) Calculate(candles []types.Candle) float64 {
	if c.period <= 0 || len(candles) < c.period {
		return 0
	}

	recent := candles[len(candles)-c.period:]

	sum := 0.0
	for _, candle := range recent {
		sum += candle.TypicalPrice()
	}
	sma := sum / float64(c.period)

	meanDev := 0.0
	for _, candle := range recent {
		meanDev += math.Abs(candle.TypicalPrice() - sma)
	}
	meanDev /= float64(c.period)

	cci := 0.0
	if meanDev != 0 {
		cci = (recent[len(recent)-1].TypicalPrice() - sma) / (0.015 * meanDev)
	}

	c.history = append(c.history, cci)
	if len(c.history) > cciHistoryLimit {
		c.history = c.history[len(c.history)-cciHistoryLimit:]
	}

	return cci
}

// Value returns the most recent CCI value, or 0 before any calculation.
func (c *CCI) Value() float64 {
	if len(c.history) == 0 {
		return 0
	}
	return c.history[len(c.history)-1]
}

// Previous returns the CCI value before the most recent one.
func (c *CCI) Previous() float64 {
	if len(c.history) < 2 {
		return 0
	}
	return c.history[len(c.history)-2]
}

// CrossedAbove reports whether the CCI crossed from below level to at or
// above it on the latest calculation.
func (c *CCI) CrossedAbove(level float64) bool {
	if len(c.history) < 2 {
		return false
	}
	return c.Previous() < level && c.Value() >= level
}

// CrossedBelow reports whether the CCI crossed from above level to at or
// below it on the latest calculation.
func (c *CCI) CrossedBelow(level float64) bool {
	if len(c.history) < 2 {
		return false
	}
	return c.Previous() > level && c.Value() <= level
}

// History returns a copy of the retained CCI values, oldest first.
func (c *CCI) History() []float64 {
	out := make([]float64, len(c.history))
	copy(out, c.history)
	return out
}

// RestoreHistory replaces the history, typically with a persisted tail.
func (c *CCI) RestoreHistory(values []float64) {
	c.history = make([]float64, len(values))
	copy(c.history, values)
	if len(c.history) > cciHistoryLimit {
		c.history = c.history[len(c.history)-cciHistoryLimit:]
	}
}

// Period returns the configured period.
func (c *CCI) Period() int {
	return c.period
}
