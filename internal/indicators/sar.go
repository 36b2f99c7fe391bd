package indicators

import "github.com/hemalabs/hedgegrid/pkg/types"

// Trend direction constants for the Parabolic SAR.
const (
	TrendUp   = 1
	TrendDown = -1
)

// SARState is the complete internal state of a Parabolic SAR calculation.
// It is a plain value so sessions can persist it across restarts and resume
// without recomputing from scratch.
type SARState struct {
	Trend       int     `json:"trend"` // TrendUp or TrendDown
	EP          float64 `json:"ep"`    // extreme point of the current trend
	SAR         float64 `json:"sar"`
	AF          float64 `json:"af"` // current acceleration factor
	Initialized bool    `json:"initialized"`
}

// ParabolicSAR implements the Parabolic Stop-and-Reverse indicator.
type ParabolicSAR struct {
	afStart float64
	afMax   float64
	state   SARState
}

// NewParabolicSAR creates a Parabolic SAR with the given acceleration factor
// start and maximum.
func NewParabolicSAR(afStart, afMax float64) *ParabolicSAR {
	return &ParabolicSAR{
		afStart: afStart,
		afMax:   afMax,
		state:   SARState{Trend: TrendUp, AF: afStart},
	}
}

// Calculate advances the SAR with the latest candle of the sequence and
// returns the new SAR value. Returns 0 until at least two candles are seen.
func (p *ParabolicSAR) Calculate(candles []types.Candle) float64 {
	if len(candles) < 2 {
		return 0
	}

	if !p.state.Initialized {
		p.initialize(candles)
		return p.state.SAR
	}

	current := candles[len(candles)-1]
	prev := candles[len(candles)-2]

	newSAR := p.state.SAR + p.state.AF*(p.state.EP-p.state.SAR)

	if p.state.Trend == TrendUp {
		// SAR may not rise above the prior two lows.
		if newSAR > prev.Low {
			newSAR = prev.Low
		}
		if len(candles) >= 3 && newSAR > candles[len(candles)-3].Low {
			newSAR = candles[len(candles)-3].Low
		}

		if current.Low < newSAR {
			// Reverse to downtrend.
			p.state.Trend = TrendDown
			newSAR = p.state.EP
			p.state.EP = current.Low
			p.state.AF = p.afStart
		} else if current.High > p.state.EP {
			p.state.EP = current.High
			p.state.AF = min(p.state.AF+p.afStart, p.afMax)
		}
	} else {
		// SAR may not fall below the prior two highs.
		if newSAR < prev.High {
			newSAR = prev.High
		}
		if len(candles) >= 3 && newSAR < candles[len(candles)-3].High {
			newSAR = candles[len(candles)-3].High
		}

		if current.High > newSAR {
			// Reverse to uptrend.
			p.state.Trend = TrendUp
			newSAR = p.state.EP
			p.state.EP = current.High
			p.state.AF = p.afStart
		} else if current.Low < p.state.EP {
			p.state.EP = current.Low
			p.state.AF = min(p.state.AF+p.afStart, p.afMax)
		}
	}

	p.state.SAR = newSAR
	return newSAR
}

// initialize seeds the SAR state from the last five candles: trend from the
// direction of the closes, EP and SAR from the window extremes.
func (p *ParabolicSAR) initialize(candles []types.Candle) {
	if len(candles) < 5 {
		p.state.SAR = candles[len(candles)-1].Low
		return
	}

	window := candles[len(candles)-5:]
	maxHigh, minLow := window[0].High, window[0].Low
	for _, c := range window[1:] {
		if c.High > maxHigh {
			maxHigh = c.High
		}
		if c.Low < minLow {
			minLow = c.Low
		}
	}

	if window[len(window)-1].Close > window[0].Close {
		p.state.Trend = TrendUp
		p.state.SAR = minLow
		p.state.EP = maxHigh
	} else {
		p.state.Trend = TrendDown
		p.state.SAR = maxHigh
		p.state.EP = minLow
	}

	p.state.AF = p.afStart
	p.state.Initialized = true
}

// Value returns the last SAR value.
func (p *ParabolicSAR) Value() float64 {
	return p.state.SAR
}

// State returns a copy of the current SAR state for persistence.
func (p *ParabolicSAR) State() SARState {
	return p.state
}

// Restore replaces the SAR state, typically with one loaded from disk.
func (p *ParabolicSAR) Restore(state SARState) {
	p.state = state
}

// Reset clears the state back to uninitialized.
func (p *ParabolicSAR) Reset() {
	p.state = SARState{Trend: TrendUp, AF: p.afStart}
}
