// Package config holds the immutable per-session settings and the validating
// factory that builds them. Invalid settings are rejected at registration
// with every violation reported, never coerced.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// GridLevel is one rung of the grid ladder.
type GridLevel struct {
	Percent   float64 `json:"percent"`  // adverse distance to trigger the next order
	MaxOrders int     `json:"orders"`   // orders this level may hold
	LotSize   float64 `json:"lotSize"`  // fixed lot when multiplier is 0
}

// SessionSettings is the complete, validated configuration of one trading
// session. Values are fixed for the session's lifetime.
type SessionSettings struct {
	Symbol          string        `json:"symbol"`
	Leverage        int           `json:"leverage"`
	TickInterval    time.Duration `json:"tickInterval"`
	Timeframe       string        `json:"timeframe"`
	OpenOnNewCandle bool          `json:"openOnNewCandle"`
	CloseOnStop     bool          `json:"closeOnStop"`

	Levels [4]GridLevel `json:"levels"`

	Multiplier float64 `json:"multiplier"` // 0 = fixed lots, >0 = martingale
	BaseLot    float64 `json:"baseLot"`
	MinLot     float64 `json:"minLot"`
	MaxLot     float64 `json:"maxLot"`

	UseSMASAR    bool    `json:"useSmaSar"`
	SMAPeriod    int     `json:"smaPeriod"`
	SARAf        float64 `json:"sarAf"`
	SARMax       float64 `json:"sarMax"`
	ReverseOrder bool    `json:"reverseOrder"`

	CCIPeriod int     `json:"cciPeriod"` // 0 = disabled
	CCIMax    float64 `json:"cciMax"`
	CCIMin    float64 `json:"cciMin"`

	// Profit and loss targets; 0 disables a target.
	SingleOrderProfit float64 `json:"singleOrderProfit"`
	PairGlobalProfit  float64 `json:"pairGlobalProfit"`
	GlobalProfit      float64 `json:"globalProfit"`
	MaxLoss           float64 `json:"maxLoss"`

	// Trading window, both zero = always on. Finish before Start wraps
	// overnight.
	TradeStart  ClockTime `json:"tradeStart"`
	TradeFinish ClockTime `json:"tradeFinish"`

	MaxTradesPerDay int `json:"maxTradesPerDay"` // 0 = unlimited
}

// DefaultSettings returns the baseline settings a session starts from before
// user overrides are applied.
func DefaultSettings() SessionSettings {
	return SessionSettings{
		Symbol:          "BTCUSDT",
		Leverage:        10,
		TickInterval:    time.Second,
		Timeframe:       "1m",
		OpenOnNewCandle: true,
		CloseOnStop:     false,
		Levels: [4]GridLevel{
			{Percent: 0.5, MaxOrders: 5, LotSize: 0.001},
			{Percent: 1.0, MaxOrders: 5, LotSize: 0.002},
			{Percent: 2.0, MaxOrders: 5, LotSize: 0.003},
			{Percent: 3.0, MaxOrders: 5, LotSize: 0.004},
		},
		Multiplier:        0,
		BaseLot:           0.001,
		MinLot:            0.001,
		MaxLot:            1.0,
		UseSMASAR:         true,
		SMAPeriod:         14,
		SARAf:             0.02,
		SARMax:            0.2,
		CCIPeriod:         0,
		CCIMax:            150,
		CCIMin:            -150,
		SingleOrderProfit: 3.0,
		PairGlobalProfit:  0,
		GlobalProfit:      0,
		MaxLoss:           0,
	}
}

// MaxTotalPositions returns the hard cap across both sides.
func (s SessionSettings) MaxTotalPositions() int {
	total := 0
	for _, level := range s.Levels {
		total += level.MaxOrders
	}
	return 2 * total
}

// Validate checks every constraint and returns all violations joined into a
// single error, or nil.
func (s SessionSettings) Validate() error {
	var problems []string

	if s.Symbol == "" {
		problems = append(problems, "symbol is required")
	}
	if s.Leverage <= 0 {
		problems = append(problems, "leverage must be positive")
	}
	if s.TickInterval <= 0 {
		problems = append(problems, "tick interval must be positive")
	}

	for i, level := range s.Levels {
		if i > 0 && level.Percent <= s.Levels[i-1].Percent {
			problems = append(problems, fmt.Sprintf(
				"grid level %d percent %.4f must exceed level %d percent %.4f",
				i, level.Percent, i-1, s.Levels[i-1].Percent))
		}
		if level.MaxOrders <= 0 {
			problems = append(problems, fmt.Sprintf("grid level %d max orders must be positive", i))
		}
		if level.LotSize <= 0 {
			problems = append(problems, fmt.Sprintf("grid level %d lot size must be positive", i))
		}
	}

	if s.MinLot <= 0 {
		problems = append(problems, "min lot must be positive")
	}
	if s.MinLot > s.BaseLot || s.BaseLot > s.MaxLot {
		problems = append(problems, fmt.Sprintf(
			"lot bounds must satisfy min <= base <= max, got %.6f <= %.6f <= %.6f",
			s.MinLot, s.BaseLot, s.MaxLot))
	}
	if s.Multiplier < 0 {
		problems = append(problems, "multiplier must not be negative")
	}

	if s.UseSMASAR {
		if s.SMAPeriod <= 0 {
			problems = append(problems, "sma period must be positive")
		}
		if s.SARAf <= 0 || s.SARAf > s.SARMax {
			problems = append(problems, fmt.Sprintf(
				"sar acceleration %.4f must be positive and not exceed max %.4f", s.SARAf, s.SARMax))
		}
	}
	if s.CCIPeriod > 0 && s.CCIMax <= s.CCIMin {
		problems = append(problems, "cci max must exceed cci min")
	}

	if s.MaxTradesPerDay < 0 {
		problems = append(problems, "max trades per day must not be negative")
	}

	if len(problems) > 0 {
		return errors.New("invalid settings: " + strings.Join(problems, "; "))
	}
	return nil
}

// ExchangeCredentials identifies one user's exchange account. Demo accounts
// trade against the exchange's paper environment.
type ExchangeCredentials struct {
	APIKey     string `json:"apiKey"`
	SecretKey  string `json:"secretKey"`
	Passphrase string `json:"passphrase"`
	Demo       bool   `json:"demo"`
}

// Validate checks the key material is present.
func (c ExchangeCredentials) Validate() error {
	var missing []string
	if c.APIKey == "" {
		missing = append(missing, "api key")
	}
	if c.SecretKey == "" {
		missing = append(missing, "secret key")
	}
	if c.Passphrase == "" {
		missing = append(missing, "passphrase")
	}
	if len(missing) > 0 {
		return errors.New("missing credentials: " + strings.Join(missing, ", "))
	}
	return nil
}

// ClockTime is a wall-clock HH:MM value used for the trading window.
type ClockTime struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// ParseClockTime parses "HH:MM".
func ParseClockTime(s string) (ClockTime, error) {
	var ct ClockTime
	if _, err := fmt.Sscanf(s, "%d:%d", &ct.Hour, &ct.Minute); err != nil {
		return ClockTime{}, fmt.Errorf("parse clock time %q: %w", s, err)
	}
	if ct.Hour < 0 || ct.Hour > 23 || ct.Minute < 0 || ct.Minute > 59 {
		return ClockTime{}, fmt.Errorf("clock time %q out of range", s)
	}
	return ct, nil
}

func (ct ClockTime) minutes() int {
	return ct.Hour*60 + ct.Minute
}

// IsZero reports whether the value is the 00:00 default.
func (ct ClockTime) IsZero() bool {
	return ct.Hour == 0 && ct.Minute == 0
}

// InWindow reports whether t falls inside [start, finish). A finish earlier
// than start wraps past midnight. Both zero means no restriction.
func InWindow(start, finish ClockTime, t time.Time) bool {
	if start.IsZero() && finish.IsZero() {
		return true
	}
	now := t.Hour()*60 + t.Minute()
	s, f := start.minutes(), finish.minutes()
	if s <= f {
		return now >= s && now < f
	}
	return now >= s || now < f
}
