package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCCI_InsufficientData(t *testing.T) {
	cci := NewCCI(14)

	assert.Zero(t, cci.Calculate(nil))
	assert.Zero(t, cci.Calculate(makeCandles(10, 20)))
	assert.Zero(t, cci.Value())
}

func TestCCI_ZeroMeanDeviation(t *testing.T) {
	cci := NewCCI(5)

	// Identical candles: mean deviation is 0, CCI defined as 0.
	assert.Zero(t, cci.Calculate(makeCandles(10, 10, 10, 10, 10)))
}

func TestCCI_Calculate(t *testing.T) {
	cci := NewCCI(3)

	// Typical prices 10, 20, 30. SMA = 20, mean dev = 20/3.
	// CCI = (30 - 20) / (0.015 * 20/3) = 100.
	got := cci.Calculate(makeCandles(10, 20, 30))
	assert.InDelta(t, 100.0, got, 1e-9)
	assert.InDelta(t, 100.0, cci.Value(), 1e-9)
}

func TestCCI_Crossings(t *testing.T) {
	cci := NewCCI(3)

	cci.Calculate(makeCandles(30, 20, 10)) // CCI = -100
	assert.False(t, cci.CrossedAbove(0), "single value cannot cross")

	cci.Calculate(makeCandles(20, 10, 30)) // CCI = 100
	assert.True(t, cci.CrossedAbove(0))
	assert.False(t, cci.CrossedBelow(0))

	cci.Calculate(makeCandles(10, 30, 5)) // falls back below zero
	assert.True(t, cci.CrossedBelow(0))
	assert.False(t, cci.CrossedAbove(0))
}

func TestCCI_CrossingNeedsPriorSideChange(t *testing.T) {
	cci := NewCCI(3)

	cci.Calculate(makeCandles(20, 30, 50))
	cci.Calculate(makeCandles(30, 50, 80))

	// Both values above the level: no crossing fires.
	assert.False(t, cci.CrossedAbove(0))
	assert.False(t, cci.CrossedBelow(0))
}

func TestCCI_HistoryBounded(t *testing.T) {
	cci := NewCCI(3)
	candles := makeCandles(10, 20, 30)

	for i := 0; i < cciHistoryLimit+10; i++ {
		cci.Calculate(candles)
	}
	assert.Len(t, cci.History(), cciHistoryLimit)
}

func TestCCI_RestoreHistory(t *testing.T) {
	cci := NewCCI(3)
	cci.RestoreHistory([]float64{-120, -80})

	assert.InDelta(t, -80.0, cci.Value(), 1e-9)
	assert.InDelta(t, -120.0, cci.Previous(), 1e-9)
	assert.True(t, cci.CrossedAbove(-100))
}
