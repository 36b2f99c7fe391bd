package indicators

import "github.com/hemalabs/hedgegrid/pkg/types"

// WeightDirection selects which end of the LWMA window carries the heaviest
// weight.
type WeightDirection int

const (
	// WeightOldestLightest assigns weights 1..N oldest to newest, so the
	// oldest candle carries the lightest weight. This is the default.
	WeightOldestLightest WeightDirection = iota
	// WeightNewestLightest assigns weights N..1 oldest to newest.
	WeightNewestLightest
)

// LWMA represents a Linear Weighted Moving Average over the weighted price
// (high + low + 2*close) / 4.
type LWMA struct {
	period    int
	direction WeightDirection
	lastValue float64
}

// NewLWMA creates a new LWMA indicator with the default weight direction.
func NewLWMA(period int) *LWMA {
	return &LWMA{period: period, direction: WeightOldestLightest}
}

// NewLWMAWithDirection creates an LWMA with an explicit weight direction.
func NewLWMAWithDirection(period int, direction WeightDirection) *LWMA {
	return &LWMA{period: period, direction: direction}
}

// Calculate computes the LWMA over the last period candles.
// Returns 0 when fewer than period candles are available.
func (l *LWMA) Calculate(candles []types.Candle) float64 {
	if l.period <= 0 || len(candles) < l.period {
		l.lastValue = 0
		return 0
	}

	recent := candles[len(candles)-l.period:]

	weightedSum := 0.0
	weightSum := 0.0
	for i, c := range recent {
		weight := float64(i + 1)
		if l.direction == WeightNewestLightest {
			weight = float64(l.period - i)
		}
		weightedSum += c.WeightedPrice() * weight
		weightSum += weight
	}

	l.lastValue = weightedSum / weightSum
	return l.lastValue
}

// Value returns the last calculated LWMA value.
func (l *LWMA) Value() float64 {
	return l.lastValue
}

// Period returns the configured period.
func (l *LWMA) Period() int {
	return l.period
}
