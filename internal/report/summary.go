package report

import (
	"math"

	"github.com/ismaiel54/strategy-backtester/internal/event"
)

// Summary aggregates the results of one simulation run.
type Summary struct {
	Trades       int
	Wins         int
	Losses       int
	WinRate      float64
	GrossProfit  float64
	GrossLoss    float64
	ProfitFactor float64
	NetPnL       float64
	Commission   float64
	FinalEquity  float64
	TotalReturn  float64
	MaxDrawdown  float64
}

// Summarize computes run statistics from the closed trades and the equity
// curve. The curve is the sequence of equity values in replay order; the
// initial capital is prepended so a run that only ever loses still has a
// peak to draw down from.
func Summarize(initialCapital float64, trades []event.Trade, equity []float64) Summary {
	s := Summary{
		Trades:      len(trades),
		FinalEquity: initialCapital,
	}

	for _, t := range trades {
		s.NetPnL += t.PnL
		s.Commission += t.Commission
		if t.PnL > 0 {
			s.Wins++
			s.GrossProfit += t.PnL
		} else if t.PnL < 0 {
			s.Losses++
			s.GrossLoss += -t.PnL
		}
	}

	if s.Trades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Trades)
	}
	if s.GrossLoss > 0 {
		s.ProfitFactor = s.GrossProfit / s.GrossLoss
	} else if s.GrossProfit > 0 {
		s.ProfitFactor = math.Inf(1)
	}

	if len(equity) > 0 {
		s.FinalEquity = equity[len(equity)-1]
	}
	if initialCapital > 0 {
		s.TotalReturn = (s.FinalEquity - initialCapital) / initialCapital
	}
	s.MaxDrawdown = maxDrawdown(initialCapital, equity)

	return s
}

// maxDrawdown returns the largest peak-to-trough decline as a fraction of
// the peak.
func maxDrawdown(initialCapital float64, equity []float64) float64 {
	peak := initialCapital
	var worst float64
	for _, e := range equity {
		if e > peak {
			peak = e
			continue
		}
		if peak > 0 {
			dd := (peak - e) / peak
			if dd > worst {
				worst = dd
			}
		}
	}
	return worst
}
