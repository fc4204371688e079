package event

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrMalformed is returned when an event is constructed from an incomplete
// or inconsistent payload. Malformed events are rejected here, before they
// can reach the bus.
var ErrMalformed = errors.New("malformed event")

// Kind identifies the payload type carried by an event.
type Kind string

const (
	KindBar             Kind = "bar"
	KindSignal          Kind = "signal"
	KindOrder           Kind = "order"
	KindFill            Kind = "fill"
	KindPortfolioUpdate Kind = "portfolio_update"
	KindTradeOpen       Kind = "trade_open"
	KindTradeClose      Kind = "trade_close"
)

// Direction is the intent of a signal relative to a symbol.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
	DirectionFlat  Direction = "FLAT"
)

// Side is the direction of an order or fill.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Action marks whether an order or fill opens or closes a position.
type Action string

const (
	ActionNone  Action = ""
	ActionOpen  Action = "OPEN"
	ActionClose Action = "CLOSE"
)

// Bar is one OHLCV candle for a symbol.
type Bar struct {
	Symbol string
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Signal is a directional intent produced by a strategy. RuleID names the
// directional regime that produced it and must change when, and only when,
// the intended direction for the symbol changes.
type Signal struct {
	Symbol string
	Intent Direction
	Price  float64
	RuleID string
}

// Order is a sized open/close decision. Group is a per-symbol sequence
// number incremented once per realized directional change; it correlates an
// open with its eventual close.
type Order struct {
	Symbol string
	Side   Side
	Qty    int64
	Price  float64
	RuleID string
	Action Action
	Group  int64
}

// Fill is an executed order leg. RuleID, Action, and Group are passed
// through from the originating order when the broker knows them.
type Fill struct {
	Symbol     string
	Side       Side
	Qty        int64
	Price      float64
	Commission float64
	RuleID     string
	Action     Action
	Group      int64
}

// PositionSnapshot is the read-only view of one position inside a
// portfolio update.
type PositionSnapshot struct {
	Symbol      string
	Qty         int64
	CostBasis   float64
	LastPrice   float64
	RealizedPnL float64
}

// PortfolioUpdate is the portfolio state emitted after each fill or mark.
type PortfolioUpdate struct {
	Cash        float64
	Equity      float64
	MarketValue float64
	ClosedPnL   float64
	Positions   []PositionSnapshot
}

// Trade is one row of the trade ledger: either a standalone open record
// (zero PnL, fresh transaction id) or a close record paired with the
// opening transaction via PairID.
type Trade struct {
	ID         string
	PairID     string
	Symbol     string
	Side       Side
	Qty        int64
	EntryPrice float64
	ExitPrice  float64
	EntryTime  time.Time
	ExitTime   time.Time
	PnL        float64
	Commission float64
	Group      int64
}

// Event is the unit dispatched by the bus. Everything except the consumed
// flag is immutable after construction; handlers may only call Consume.
type Event struct {
	ID        string
	Kind      Kind
	Timestamp time.Time
	Payload   any

	consumed bool
}

// Consume marks the event as finalized. Later-priority handlers for the
// same event instance will not be invoked.
func (e *Event) Consume() {
	e.consumed = true
}

// Consumed reports whether the event has been finalized.
func (e *Event) Consumed() bool {
	return e.consumed
}

func newEvent(kind Kind, ts time.Time, payload any) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Kind:      kind,
		Timestamp: ts,
		Payload:   payload,
	}
}

// NewBar validates and wraps a bar payload.
func NewBar(ts time.Time, bar Bar) (*Event, error) {
	if bar.Symbol == "" {
		return nil, fmt.Errorf("%w: bar missing symbol", ErrMalformed)
	}
	if bar.Open <= 0 || bar.High <= 0 || bar.Low <= 0 || bar.Close <= 0 {
		return nil, fmt.Errorf("%w: bar %s has non-positive price", ErrMalformed, bar.Symbol)
	}
	if bar.High < bar.Low {
		return nil, fmt.Errorf("%w: bar %s high %.4f below low %.4f", ErrMalformed, bar.Symbol, bar.High, bar.Low)
	}
	if bar.Volume < 0 {
		return nil, fmt.Errorf("%w: bar %s has negative volume", ErrMalformed, bar.Symbol)
	}
	return newEvent(KindBar, ts, bar), nil
}

// NewSignal validates and wraps a signal payload.
func NewSignal(ts time.Time, sig Signal) (*Event, error) {
	if sig.Symbol == "" {
		return nil, fmt.Errorf("%w: signal missing symbol", ErrMalformed)
	}
	if sig.RuleID == "" {
		return nil, fmt.Errorf("%w: signal %s missing rule id", ErrMalformed, sig.Symbol)
	}
	if sig.Price <= 0 {
		return nil, fmt.Errorf("%w: signal %s has non-positive price", ErrMalformed, sig.Symbol)
	}
	switch sig.Intent {
	case DirectionLong, DirectionShort, DirectionFlat:
	default:
		return nil, fmt.Errorf("%w: signal %s has invalid intent %q", ErrMalformed, sig.Symbol, sig.Intent)
	}
	return newEvent(KindSignal, ts, sig), nil
}

// NewOrder validates and wraps an order payload.
func NewOrder(ts time.Time, ord Order) (*Event, error) {
	if ord.Symbol == "" {
		return nil, fmt.Errorf("%w: order missing symbol", ErrMalformed)
	}
	if ord.RuleID == "" {
		return nil, fmt.Errorf("%w: order %s missing rule id", ErrMalformed, ord.Symbol)
	}
	if ord.Qty <= 0 {
		return nil, fmt.Errorf("%w: order %s has non-positive qty %d", ErrMalformed, ord.Symbol, ord.Qty)
	}
	if ord.Price <= 0 {
		return nil, fmt.Errorf("%w: order %s has non-positive price", ErrMalformed, ord.Symbol)
	}
	if ord.Side != SideBuy && ord.Side != SideSell {
		return nil, fmt.Errorf("%w: order %s has invalid side %q", ErrMalformed, ord.Symbol, ord.Side)
	}
	if ord.Action != ActionOpen && ord.Action != ActionClose {
		return nil, fmt.Errorf("%w: order %s has invalid action %q", ErrMalformed, ord.Symbol, ord.Action)
	}
	return newEvent(KindOrder, ts, ord), nil
}

// NewFill validates and wraps a fill payload.
func NewFill(ts time.Time, fill Fill) (*Event, error) {
	if fill.Symbol == "" {
		return nil, fmt.Errorf("%w: fill missing symbol", ErrMalformed)
	}
	if fill.Qty <= 0 {
		return nil, fmt.Errorf("%w: fill %s has non-positive qty %d", ErrMalformed, fill.Symbol, fill.Qty)
	}
	if fill.Price <= 0 {
		return nil, fmt.Errorf("%w: fill %s has non-positive price", ErrMalformed, fill.Symbol)
	}
	if fill.Commission < 0 {
		return nil, fmt.Errorf("%w: fill %s has negative commission", ErrMalformed, fill.Symbol)
	}
	if fill.Side != SideBuy && fill.Side != SideSell {
		return nil, fmt.Errorf("%w: fill %s has invalid side %q", ErrMalformed, fill.Symbol, fill.Side)
	}
	switch fill.Action {
	case ActionNone, ActionOpen, ActionClose:
	default:
		return nil, fmt.Errorf("%w: fill %s has invalid action %q", ErrMalformed, fill.Symbol, fill.Action)
	}
	return newEvent(KindFill, ts, fill), nil
}

// NewPortfolioUpdate wraps a portfolio state snapshot.
func NewPortfolioUpdate(ts time.Time, pu PortfolioUpdate) (*Event, error) {
	for _, pos := range pu.Positions {
		if pos.Symbol == "" {
			return nil, fmt.Errorf("%w: portfolio update has position without symbol", ErrMalformed)
		}
	}
	return newEvent(KindPortfolioUpdate, ts, pu), nil
}

// NewTradeOpen wraps an opening trade record.
func NewTradeOpen(ts time.Time, trade Trade) (*Event, error) {
	if err := validateTrade(trade); err != nil {
		return nil, err
	}
	return newEvent(KindTradeOpen, ts, trade), nil
}

// NewTradeClose wraps a closing trade record.
func NewTradeClose(ts time.Time, trade Trade) (*Event, error) {
	if err := validateTrade(trade); err != nil {
		return nil, err
	}
	return newEvent(KindTradeClose, ts, trade), nil
}

func validateTrade(trade Trade) error {
	if trade.ID == "" {
		return fmt.Errorf("%w: trade missing transaction id", ErrMalformed)
	}
	if trade.Symbol == "" {
		return fmt.Errorf("%w: trade %s missing symbol", ErrMalformed, trade.ID)
	}
	if trade.Qty <= 0 {
		return fmt.Errorf("%w: trade %s has non-positive qty %d", ErrMalformed, trade.ID, trade.Qty)
	}
	return nil
}
