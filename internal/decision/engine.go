package decision

import (
	"context"

	"go.uber.org/zap"

	"github.com/ismaiel54/strategy-backtester/internal/bus"
	"github.com/ismaiel54/strategy-backtester/internal/event"
)

// Book is the read-only portfolio view the engine needs to decide the
// minimal transition from the current position to the signaled one.
type Book interface {
	Direction(symbol string) event.Direction
	PositionQty(symbol string) int64
	Equity() (float64, error)
	Cash() float64
}

// Engine turns directional signals into zero, one, or two orders, exactly
// once per rule id per reset epoch. All decision state lives here; the bus's
// order-level dedup is only a second line of defense.
type Engine struct {
	logger *zap.Logger
	bus    *bus.Bus
	book   Book
	sizer  Sizer

	decided    map[string]struct{}
	lastIntent map[string]event.Direction
	groups     map[string]int64
}

// New creates a decision engine over the given portfolio view.
func New(b *bus.Bus, book Book, sizer Sizer, logger *zap.Logger) *Engine {
	return &Engine{
		logger:     logger,
		bus:        b,
		book:       book,
		sizer:      sizer,
		decided:    make(map[string]struct{}),
		lastIntent: make(map[string]event.Direction),
		groups:     make(map[string]int64),
	}
}

// Attach registers the signal handler and returns the registration for
// teardown.
func (e *Engine) Attach(priority int) *bus.Registration {
	return e.bus.Register(event.KindSignal, "decision.signal", priority, e.OnSignal)
}

// OnSignal decides on one signal. Duplicate rule ids are consumed without
// orders. The rule id is inserted into the decided set before any order is
// emitted, so downstream events of this decision can never re-trigger it.
func (e *Engine) OnSignal(ctx context.Context, ev *event.Event) {
	sig, ok := ev.Payload.(event.Signal)
	if !ok {
		e.logger.Error("signal handler received wrong payload",
			zap.String("event_id", ev.ID),
			zap.String("kind", string(ev.Kind)),
		)
		return
	}

	if _, seen := e.decided[sig.RuleID]; seen {
		e.logger.Debug("duplicate signal ignored",
			zap.String("symbol", sig.Symbol),
			zap.String("rule_id", sig.RuleID),
		)
		ev.Consume()
		return
	}
	// Decide-before-emit: nested dispatch must observe this rule as done.
	e.decided[sig.RuleID] = struct{}{}
	e.lastIntent[sig.Symbol] = sig.Intent

	current := e.book.Direction(sig.Symbol)
	if sig.Intent == current {
		e.logger.Debug("signal matches current direction",
			zap.String("symbol", sig.Symbol),
			zap.String("rule_id", sig.RuleID),
			zap.String("direction", string(current)),
		)
		return
	}

	if current != event.DirectionFlat {
		e.emitClose(ctx, ev, sig, current)
	}
	if sig.Intent != event.DirectionFlat {
		e.emitOpen(ctx, ev, sig)
	}
}

// Reset clears the decided-rule set and the per-symbol trackers. It must be
// called once per run before the first signal; stale state from a prior run
// would silently swallow that run's signals as duplicates.
func (e *Engine) Reset() {
	e.decided = make(map[string]struct{})
	e.lastIntent = make(map[string]event.Direction)
	e.groups = make(map[string]int64)
}

// DecidedCount reports how many distinct rule ids have been decided this
// epoch.
func (e *Engine) DecidedCount() int {
	return len(e.decided)
}

// emitClose flattens the current position with an order opposite to it,
// tagged with the position's current group number.
func (e *Engine) emitClose(ctx context.Context, ev *event.Event, sig event.Signal, current event.Direction) {
	side := event.SideSell
	if current == event.DirectionShort {
		side = event.SideBuy
	}
	qty := e.book.PositionQty(sig.Symbol)
	if qty < 0 {
		qty = -qty
	}
	if qty == 0 {
		return
	}

	ord, err := event.NewOrder(ev.Timestamp, event.Order{
		Symbol: sig.Symbol,
		Side:   side,
		Qty:    qty,
		Price:  sig.Price,
		RuleID: sig.RuleID,
		Action: event.ActionClose,
		Group:  e.groups[sig.Symbol],
	})
	if err != nil {
		e.logger.Error("failed to build close order", zap.Error(err))
		return
	}

	e.logger.Info("close order decided",
		zap.String("symbol", sig.Symbol),
		zap.String("rule_id", sig.RuleID),
		zap.String("side", string(side)),
		zap.Int64("qty", qty),
		zap.Int64("group", e.groups[sig.Symbol]),
	)
	e.bus.Emit(ctx, ord)
}

// emitOpen sizes and emits the opening order for the new direction under a
// fresh group number. A quantity below the configured minimum suppresses the
// order entirely.
func (e *Engine) emitOpen(ctx context.Context, ev *event.Event, sig event.Signal) {
	side := event.SideBuy
	if sig.Intent == event.DirectionShort {
		side = event.SideSell
	}

	equity, err := e.book.Equity()
	if err != nil {
		e.logger.Error("cannot size order without equity", zap.Error(err))
		return
	}

	qty := e.sizer.Size(sizingInput{
		price:  sig.Price,
		equity: equity,
		cash:   e.book.Cash(),
		buying: side == event.SideBuy,
	})
	if qty <= 0 {
		e.logger.Warn("open order suppressed",
			zap.String("symbol", sig.Symbol),
			zap.String("rule_id", sig.RuleID),
			zap.Float64("price", sig.Price),
			zap.Float64("equity", equity),
			zap.Float64("cash", e.book.Cash()),
		)
		return
	}

	e.groups[sig.Symbol]++
	ord, err := event.NewOrder(ev.Timestamp, event.Order{
		Symbol: sig.Symbol,
		Side:   side,
		Qty:    qty,
		Price:  sig.Price,
		RuleID: sig.RuleID,
		Action: event.ActionOpen,
		Group:  e.groups[sig.Symbol],
	})
	if err != nil {
		e.logger.Error("failed to build open order", zap.Error(err))
		return
	}

	e.logger.Info("open order decided",
		zap.String("symbol", sig.Symbol),
		zap.String("rule_id", sig.RuleID),
		zap.String("side", string(side)),
		zap.Int64("qty", qty),
		zap.Int64("group", e.groups[sig.Symbol]),
	)
	e.bus.Emit(ctx, ord)
}

// OrderDedupKey is the bus-level admission key for orders: one logical
// decision is one (rule id, action) pair.
func OrderDedupKey(ev *event.Event) (string, bool) {
	ord, ok := ev.Payload.(event.Order)
	if !ok {
		return "", false
	}
	return ord.RuleID + "|" + string(ord.Action), true
}

// SignalDedupKey admits each rule id once at the bus boundary.
func SignalDedupKey(ev *event.Event) (string, bool) {
	sig, ok := ev.Payload.(event.Signal)
	if !ok {
		return "", false
	}
	return sig.RuleID, true
}
