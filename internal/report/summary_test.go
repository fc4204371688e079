package report

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ismaiel54/strategy-backtester/internal/event"
)

func TestSummarize_Basic(t *testing.T) {
	trades := []event.Trade{
		{PnL: 500, Commission: 2},
		{PnL: -200, Commission: 2},
		{PnL: 300, Commission: 2},
		{PnL: -100, Commission: 2},
	}
	equity := []float64{100000, 100500, 100300, 100600, 100500}

	s := Summarize(100000, trades, equity)

	assert.Equal(t, 4, s.Trades)
	assert.Equal(t, 2, s.Wins)
	assert.Equal(t, 2, s.Losses)
	assert.InDelta(t, 0.5, s.WinRate, 1e-9)
	assert.InDelta(t, 800.0, s.GrossProfit, 1e-9)
	assert.InDelta(t, 300.0, s.GrossLoss, 1e-9)
	assert.InDelta(t, 800.0/300.0, s.ProfitFactor, 1e-9)
	assert.InDelta(t, 500.0, s.NetPnL, 1e-9)
	assert.InDelta(t, 8.0, s.Commission, 1e-9)
	assert.InDelta(t, 100500.0, s.FinalEquity, 1e-9)
	assert.InDelta(t, 0.005, s.TotalReturn, 1e-9)
}

func TestSummarize_MaxDrawdown(t *testing.T) {
	// Peak 110000, trough 99000: drawdown 11000/110000 = 10%.
	equity := []float64{105000, 110000, 102000, 99000, 108000}
	s := Summarize(100000, nil, equity)
	assert.InDelta(t, 0.10, s.MaxDrawdown, 1e-9)
}

func TestSummarize_DrawdownFromInitialCapital(t *testing.T) {
	// The curve never exceeds the starting equity, so the initial capital
	// is the peak.
	equity := []float64{95000, 90000, 92000}
	s := Summarize(100000, nil, equity)
	assert.InDelta(t, 0.10, s.MaxDrawdown, 1e-9)
	assert.InDelta(t, -0.08, s.TotalReturn, 1e-9)
}

func TestSummarize_NoLosses(t *testing.T) {
	trades := []event.Trade{{PnL: 100}, {PnL: 50}}
	s := Summarize(1000, trades, []float64{1150})
	assert.True(t, math.IsInf(s.ProfitFactor, 1), "all-winning run has infinite profit factor")
	assert.InDelta(t, 1.0, s.WinRate, 1e-9)
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(100000, nil, nil)
	assert.Equal(t, 0, s.Trades)
	assert.Zero(t, s.WinRate)
	assert.Zero(t, s.ProfitFactor)
	assert.Zero(t, s.MaxDrawdown)
	assert.InDelta(t, 100000.0, s.FinalEquity, 1e-9)
	assert.Zero(t, s.TotalReturn)
}

func TestSummarize_BreakEvenTradeCountsNeither(t *testing.T) {
	trades := []event.Trade{{PnL: 0, Commission: 2}}
	s := Summarize(1000, trades, []float64{1000})
	assert.Equal(t, 1, s.Trades)
	assert.Equal(t, 0, s.Wins)
	assert.Equal(t, 0, s.Losses)
	assert.Zero(t, s.WinRate)
}
