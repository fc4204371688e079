package report

import (
	"context"

	"go.uber.org/zap"

	"github.com/ismaiel54/strategy-backtester/internal/bus"
	"github.com/ismaiel54/strategy-backtester/internal/event"
)

// Recorder accumulates a run's downstream results off the bus: closed trades
// from TradeClose events and the equity series from PortfolioUpdate events.
// It never mutates anything, so it can sit at any priority after the
// portfolio.
type Recorder struct {
	logger *zap.Logger
	bus    *bus.Bus

	closed []event.Trade
	equity []float64
}

// NewRecorder creates a recorder on the given bus.
func NewRecorder(b *bus.Bus, logger *zap.Logger) *Recorder {
	return &Recorder{logger: logger, bus: b}
}

// Attach registers the trade-close and portfolio-update handlers.
func (r *Recorder) Attach(priority int) []*bus.Registration {
	return []*bus.Registration{
		r.bus.Register(event.KindTradeClose, "report.trade_close", priority, r.OnTradeClose),
		r.bus.Register(event.KindPortfolioUpdate, "report.portfolio_update", priority, r.OnPortfolioUpdate),
	}
}

// OnTradeClose records one closed round trip.
func (r *Recorder) OnTradeClose(ctx context.Context, e *event.Event) {
	trade, ok := e.Payload.(event.Trade)
	if !ok {
		r.logger.Error("trade handler received wrong payload",
			zap.String("event_id", e.ID),
			zap.String("kind", string(e.Kind)),
		)
		return
	}
	r.closed = append(r.closed, trade)
}

// OnPortfolioUpdate appends one equity sample.
func (r *Recorder) OnPortfolioUpdate(ctx context.Context, e *event.Event) {
	pu, ok := e.Payload.(event.PortfolioUpdate)
	if !ok {
		r.logger.Error("update handler received wrong payload",
			zap.String("event_id", e.ID),
			zap.String("kind", string(e.Kind)),
		)
		return
	}
	r.equity = append(r.equity, pu.Equity)
}

// Closed returns the recorded closed trades in event order.
func (r *Recorder) Closed() []event.Trade {
	return r.closed
}

// Equity returns the recorded equity series in event order.
func (r *Recorder) Equity() []float64 {
	return r.equity
}

// Summary computes the run summary from what was recorded.
func (r *Recorder) Summary(initialCapital float64) Summary {
	return Summarize(initialCapital, r.closed, r.equity)
}

// Reset clears recorded results for a new run.
func (r *Recorder) Reset() {
	r.closed = nil
	r.equity = nil
}
