package ledger

import (
	"github.com/ismaiel54/strategy-backtester/internal/event"
)

// Position tracks one symbol's signed quantity, weighted-average cost basis,
// and realized PnL. Positive quantity is long, negative is short, zero is
// flat. A position persists at zero quantity after a full close so its
// realized PnL history survives for reporting.
type Position struct {
	Symbol      string
	Qty         int64
	CostBasis   float64
	RealizedPnL float64
	LastPrice   float64
}

// NewPosition creates a flat position for a symbol.
func NewPosition(symbol string) *Position {
	return &Position{Symbol: symbol}
}

// Direction maps the signed quantity onto a directional state.
func (p *Position) Direction() event.Direction {
	switch {
	case p.Qty > 0:
		return event.DirectionLong
	case p.Qty < 0:
		return event.DirectionShort
	default:
		return event.DirectionFlat
	}
}

// Apply moves the position by a signed quantity delta at the given price and
// returns the realized PnL delta this fill produced. Opening and adding
// realize nothing; reducing, closing, and flipping realize the closed
// portion against the cost basis. The branch structure guarantees the
// average-cost update never divides by zero.
func (p *Position) Apply(delta int64, price float64) float64 {
	if delta == 0 {
		return 0
	}
	p.LastPrice = price

	// Opening from flat.
	if p.Qty == 0 {
		p.Qty = delta
		p.CostBasis = price
		return 0
	}

	// Adding in the same direction: blend the cost basis.
	if sameSign(p.Qty, delta) {
		oldAbs := abs(p.Qty)
		addAbs := abs(delta)
		p.CostBasis = (float64(oldAbs)*p.CostBasis + float64(addAbs)*price) / float64(oldAbs+addAbs)
		p.Qty += delta
		return 0
	}

	// Opposite direction: reduce, close, or flip.
	closingQty := min64(abs(delta), abs(p.Qty))
	var realized float64
	if p.Qty > 0 {
		realized = float64(closingQty) * (price - p.CostBasis)
	} else {
		realized = float64(closingQty) * (p.CostBasis - price)
	}
	p.RealizedPnL += realized

	switch {
	case abs(delta) < abs(p.Qty):
		// Partial close: cost basis of the remainder is unchanged.
		p.Qty += delta
	case abs(delta) == abs(p.Qty):
		// Full close: keep the cost basis as the last traded reference.
		p.Qty = 0
	default:
		// Flip: the remainder opens a new position at the fill price.
		p.Qty += delta
		p.CostBasis = price
	}
	return realized
}

// MarkToMarket records the latest price without touching realized PnL.
func (p *Position) MarkToMarket(price float64) {
	p.LastPrice = price
}

// UnrealizedPnL values the open quantity against the last mark.
func (p *Position) UnrealizedPnL() float64 {
	switch {
	case p.Qty > 0:
		return float64(p.Qty) * (p.LastPrice - p.CostBasis)
	case p.Qty < 0:
		return float64(-p.Qty) * (p.CostBasis - p.LastPrice)
	default:
		return 0
	}
}

// MarketValue is the signed value of the open quantity at the last mark.
func (p *Position) MarketValue() float64 {
	return float64(p.Qty) * p.LastPrice
}

// Snapshot returns the read-only view used in portfolio updates.
func (p *Position) Snapshot() event.PositionSnapshot {
	return event.PositionSnapshot{
		Symbol:      p.Symbol,
		Qty:         p.Qty,
		CostBasis:   p.CostBasis,
		LastPrice:   p.LastPrice,
		RealizedPnL: p.RealizedPnL,
	}
}

func sameSign(a, b int64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
