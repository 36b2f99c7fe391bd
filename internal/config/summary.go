package config

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Summary renders the settings as a sectioned table for registration logs.
func (s SessionSettings) Summary() string {
	t := table.NewWriter()
	t.SetTitle("session settings")
	t.SetStyle(table.StyleRounded)

	t.AppendRows([]table.Row{
		{"symbol", s.Symbol},
		{"leverage", fmt.Sprintf("%dx", s.Leverage)},
		{"timeframe", s.Timeframe},
		{"tick interval", s.TickInterval},
		{"open on new candle", s.OpenOnNewCandle},
		{"close on stop", s.CloseOnStop},
	})
	t.AppendSeparator()

	for i, level := range s.Levels {
		t.AppendRow(table.Row{
			fmt.Sprintf("grid level %d", i+1),
			fmt.Sprintf("%.2f%% / max %d / lot %.4f", level.Percent, level.MaxOrders, level.LotSize),
		})
	}
	t.AppendSeparator()

	sizing := "fixed"
	if s.Multiplier > 0 {
		sizing = fmt.Sprintf("martingale x%.2f", s.Multiplier)
	}
	t.AppendRows([]table.Row{
		{"lot sizing", sizing},
		{"base lot", fmt.Sprintf("%.4f", s.BaseLot)},
		{"lot bounds", fmt.Sprintf("%.4f .. %.4f", s.MinLot, s.MaxLot)},
	})
	t.AppendSeparator()

	signal := "off"
	if s.UseSMASAR {
		signal = fmt.Sprintf("sma %d / sar %.3f..%.3f", s.SMAPeriod, s.SARAf, s.SARMax)
		if s.ReverseOrder {
			signal += " reversed"
		}
	}
	cci := "off"
	if s.CCIPeriod > 0 {
		cci = fmt.Sprintf("period %d, bounds %.0f..%.0f", s.CCIPeriod, s.CCIMin, s.CCIMax)
	}
	t.AppendRows([]table.Row{
		{"entry signal", signal},
		{"cci filter", cci},
	})
	t.AppendSeparator()

	t.AppendRows([]table.Row{
		{"single order tp", targetOrOff(s.SingleOrderProfit, "%.2f%%")},
		{"pair global tp", targetOrOff(s.PairGlobalProfit, "%.2f%%")},
		{"global profit", targetOrOff(s.GlobalProfit, "%.2f")},
		{"max loss", targetOrOff(s.MaxLoss, "%.2f")},
	})
	t.AppendSeparator()

	window := "always"
	if !s.TradeStart.IsZero() || !s.TradeFinish.IsZero() {
		window = fmt.Sprintf("%02d:%02d .. %02d:%02d",
			s.TradeStart.Hour, s.TradeStart.Minute, s.TradeFinish.Hour, s.TradeFinish.Minute)
	}
	daily := "unlimited"
	if s.MaxTradesPerDay > 0 {
		daily = fmt.Sprintf("%d", s.MaxTradesPerDay)
	}
	t.AppendRows([]table.Row{
		{"trading window", window},
		{"max trades per day", daily},
	})

	return t.Render()
}

func targetOrOff(v float64, format string) string {
	if v == 0 {
		return "off"
	}
	return fmt.Sprintf(format, v)
}
