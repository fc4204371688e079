package portfolio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ismaiel54/strategy-backtester/internal/bus"
	"github.com/ismaiel54/strategy-backtester/internal/event"
	"github.com/ismaiel54/strategy-backtester/internal/ledger"
)

// ErrMissingPrice is surfaced when an open position has no known mark while
// equity is computed. Treating it as zero would silently corrupt equity
// reporting, so the snapshot is refused instead.
var ErrMissingPrice = errors.New("open position has no known price")

// Snapshot is one point on the equity curve.
type Snapshot struct {
	Timestamp      time.Time
	Equity         float64
	Cash           float64
	PositionsValue float64
}

// pendingOpen tracks an opening transaction awaiting its closing leg.
type pendingOpen struct {
	tradeID    string
	symbol     string
	side       event.Side
	qty        int64
	entryPrice float64
	entryTime  time.Time
	commission float64
	group      int64
}

// Portfolio aggregates per-symbol positions, cash, the trade ledger, and the
// equity curve. It is mutated only from OnFill, OnBar, and Reset, which the
// bus invokes from the single simulation goroutine.
type Portfolio struct {
	logger         *zap.Logger
	bus            *bus.Bus
	initialCapital float64

	cash         float64
	positions    map[string]*ledger.Position
	trades       []event.Trade
	equityCurve  []Snapshot
	pendingOpens []pendingOpen
}

// New creates a portfolio with the given starting capital.
func New(initialCapital float64, b *bus.Bus, logger *zap.Logger) *Portfolio {
	return &Portfolio{
		logger:         logger,
		bus:            b,
		initialCapital: initialCapital,
		cash:           initialCapital,
		positions:      make(map[string]*ledger.Position),
	}
}

// Attach registers the portfolio's fill and bar handlers on the bus and
// returns the registrations for deterministic teardown.
func (p *Portfolio) Attach(priority int) []*bus.Registration {
	return []*bus.Registration{
		p.bus.Register(event.KindFill, "portfolio.fill", priority, p.OnFill),
		p.bus.Register(event.KindBar, "portfolio.bar", priority, p.OnBar),
	}
}

// OnFill applies one fill: cash movement, position delta, trade
// classification and recording, equity snapshot, and downstream events.
func (p *Portfolio) OnFill(ctx context.Context, e *event.Event) {
	fill, ok := e.Payload.(event.Fill)
	if !ok {
		p.logger.Error("fill handler received wrong payload",
			zap.String("event_id", e.ID),
			zap.String("kind", string(e.Kind)),
		)
		return
	}

	// Cash moves first: buys pay quantity*price plus commission, sells
	// receive quantity*price minus commission.
	gross := float64(fill.Qty) * fill.Price
	delta := fill.Qty
	if fill.Side == event.SideSell {
		delta = -fill.Qty
		p.cash += gross - fill.Commission
	} else {
		p.cash -= gross + fill.Commission
	}

	pos := p.positions[fill.Symbol]
	if pos == nil {
		pos = ledger.NewPosition(fill.Symbol)
		p.positions[fill.Symbol] = pos
	}
	oldQty := pos.Qty
	realizedDelta := pos.Apply(delta, fill.Price)

	action := fill.Action
	if action == event.ActionNone {
		action = inferAction(oldQty, pos.Qty)
	}

	var trade event.Trade
	switch action {
	case event.ActionOpen:
		trade = p.recordOpen(fill, e.Timestamp)
	case event.ActionClose:
		trade = p.recordClose(fill, e.Timestamp, realizedDelta)
	}

	p.logger.Debug("fill applied",
		zap.String("symbol", fill.Symbol),
		zap.String("side", string(fill.Side)),
		zap.Int64("qty", fill.Qty),
		zap.Float64("price", fill.Price),
		zap.String("action", string(action)),
		zap.Int64("position_qty", pos.Qty),
		zap.Float64("cash", p.cash),
		zap.Float64("realized_delta", realizedDelta),
	)

	if err := p.snapshot(e.Timestamp); err != nil {
		p.logger.Error("equity snapshot refused", zap.Error(err))
		return
	}

	p.emitTrade(ctx, e.Timestamp, action, trade)
	p.emitUpdate(ctx, e.Timestamp)
}

// OnBar marks the bar's symbol to market and refreshes the equity curve.
// Cash and realized PnL are untouched.
func (p *Portfolio) OnBar(ctx context.Context, e *event.Event) {
	bar, ok := e.Payload.(event.Bar)
	if !ok {
		p.logger.Error("bar handler received wrong payload",
			zap.String("event_id", e.ID),
			zap.String("kind", string(e.Kind)),
		)
		return
	}

	pos := p.positions[bar.Symbol]
	if pos == nil {
		return
	}
	pos.MarkToMarket(bar.Close)

	if err := p.snapshot(e.Timestamp); err != nil {
		p.logger.Error("equity snapshot refused", zap.Error(err))
		return
	}
	p.emitUpdate(ctx, e.Timestamp)
}

// Reset reinitializes the portfolio for a new run.
func (p *Portfolio) Reset() {
	p.cash = p.initialCapital
	p.positions = make(map[string]*ledger.Position)
	p.trades = nil
	p.equityCurve = nil
	p.pendingOpens = nil
}

// Cash returns the current cash balance.
func (p *Portfolio) Cash() float64 {
	return p.cash
}

// Position returns the position for a symbol, or nil if the symbol has
// never traded.
func (p *Portfolio) Position(symbol string) *ledger.Position {
	return p.positions[symbol]
}

// PositionQty returns the signed quantity for a symbol, zero if untraded.
func (p *Portfolio) PositionQty(symbol string) int64 {
	if pos := p.positions[symbol]; pos != nil {
		return pos.Qty
	}
	return 0
}

// Direction reports the current directional state for a symbol.
func (p *Portfolio) Direction(symbol string) event.Direction {
	if pos := p.positions[symbol]; pos != nil {
		return pos.Direction()
	}
	return event.DirectionFlat
}

// Equity returns cash plus the marked value of all open positions.
func (p *Portfolio) Equity() (float64, error) {
	value, err := p.positionsValue()
	if err != nil {
		return 0, err
	}
	return p.cash + value, nil
}

// Trades returns the trade ledger in record order.
func (p *Portfolio) Trades() []event.Trade {
	return p.trades
}

// EquityCurve returns the recorded equity snapshots in order.
func (p *Portfolio) EquityCurve() []Snapshot {
	return p.equityCurve
}

// ClosedPnL sums realized PnL across all positions.
func (p *Portfolio) ClosedPnL() float64 {
	var total float64
	for _, pos := range p.positions {
		total += pos.RealizedPnL
	}
	return total
}

func (p *Portfolio) positionsValue() (float64, error) {
	var value float64
	for symbol, pos := range p.positions {
		if pos.Qty == 0 {
			continue
		}
		if pos.LastPrice <= 0 {
			return 0, fmt.Errorf("%w: %s qty %d", ErrMissingPrice, symbol, pos.Qty)
		}
		value += pos.MarketValue()
	}
	return value, nil
}

func (p *Portfolio) snapshot(ts time.Time) error {
	value, err := p.positionsValue()
	if err != nil {
		return err
	}
	p.equityCurve = append(p.equityCurve, Snapshot{
		Timestamp:      ts,
		Equity:         p.cash + value,
		Cash:           p.cash,
		PositionsValue: value,
	})
	return nil
}

// recordOpen appends a standalone open record with a fresh transaction id
// and parks it in the pending set for later pairing.
func (p *Portfolio) recordOpen(fill event.Fill, ts time.Time) event.Trade {
	trade := event.Trade{
		ID:         uuid.New().String(),
		Symbol:     fill.Symbol,
		Side:       fill.Side,
		Qty:        fill.Qty,
		EntryPrice: fill.Price,
		EntryTime:  ts,
		Commission: fill.Commission,
		Group:      fill.Group,
	}
	p.trades = append(p.trades, trade)
	p.pendingOpens = append(p.pendingOpens, pendingOpen{
		tradeID:    trade.ID,
		symbol:     fill.Symbol,
		side:       fill.Side,
		qty:        fill.Qty,
		entryPrice: fill.Price,
		entryTime:  ts,
		commission: fill.Commission,
		group:      fill.Group,
	})
	return trade
}

// recordClose pairs the fill against the oldest pending open for the same
// symbol on the opposite side. Without a match it falls back to the
// position's own realized delta for this fill.
func (p *Portfolio) recordClose(fill event.Fill, ts time.Time, realizedDelta float64) event.Trade {
	trade := event.Trade{
		ID:        uuid.New().String(),
		Symbol:    fill.Symbol,
		Side:      fill.Side,
		Qty:       fill.Qty,
		ExitPrice: fill.Price,
		ExitTime:  ts,
		Group:     fill.Group,
	}

	matched := false
	for i, open := range p.pendingOpens {
		if open.symbol != fill.Symbol || open.side == fill.Side {
			continue
		}
		qty := min64(fill.Qty, open.qty)
		var pnl float64
		if open.side == event.SideBuy {
			pnl = float64(qty) * (fill.Price - open.entryPrice)
		} else {
			pnl = float64(qty) * (open.entryPrice - fill.Price)
		}
		trade.PairID = open.tradeID
		trade.EntryPrice = open.entryPrice
		trade.EntryTime = open.entryTime
		trade.Commission = open.commission + fill.Commission
		trade.PnL = pnl - trade.Commission
		p.pendingOpens = append(p.pendingOpens[:i], p.pendingOpens[i+1:]...)
		matched = true
		break
	}
	if !matched {
		trade.Commission = fill.Commission
		trade.PnL = realizedDelta - fill.Commission
	}

	p.trades = append(p.trades, trade)
	return trade
}

func (p *Portfolio) emitTrade(ctx context.Context, ts time.Time, action event.Action, trade event.Trade) {
	var (
		e   *event.Event
		err error
	)
	switch action {
	case event.ActionOpen:
		e, err = event.NewTradeOpen(ts, trade)
	case event.ActionClose:
		e, err = event.NewTradeClose(ts, trade)
	default:
		return
	}
	if err != nil {
		p.logger.Error("failed to build trade event", zap.Error(err))
		return
	}
	p.bus.Emit(ctx, e)
}

func (p *Portfolio) emitUpdate(ctx context.Context, ts time.Time) {
	value, err := p.positionsValue()
	if err != nil {
		p.logger.Error("portfolio update refused", zap.Error(err))
		return
	}

	snapshots := make([]event.PositionSnapshot, 0, len(p.positions))
	for _, pos := range p.positions {
		if pos.Qty == 0 {
			continue
		}
		snapshots = append(snapshots, pos.Snapshot())
	}

	e, err := event.NewPortfolioUpdate(ts, event.PortfolioUpdate{
		Cash:        p.cash,
		Equity:      p.cash + value,
		MarketValue: value,
		ClosedPnL:   p.ClosedPnL(),
		Positions:   snapshots,
	})
	if err != nil {
		p.logger.Error("failed to build portfolio update", zap.Error(err))
		return
	}
	p.bus.Emit(ctx, e)
}

// inferAction classifies an untagged fill by whether the position moved away
// from or toward zero.
func inferAction(oldQty, newQty int64) event.Action {
	if abs(newQty) > abs(oldQty) && (oldQty == 0 || sameSign(oldQty, newQty)) {
		return event.ActionOpen
	}
	return event.ActionClose
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
