package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ts = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestNewBar_Malformed(t *testing.T) {
	tests := []struct {
		name string
		bar  Bar
	}{
		{"missing symbol", Bar{Open: 1, High: 2, Low: 1, Close: 1, Volume: 1}},
		{"zero close", Bar{Symbol: "AAPL", Open: 1, High: 2, Low: 1, Volume: 1}},
		{"high below low", Bar{Symbol: "AAPL", Open: 1, High: 1, Low: 2, Close: 1, Volume: 1}},
		{"negative volume", Bar{Symbol: "AAPL", Open: 1, High: 2, Low: 1, Close: 1, Volume: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBar(ts, tt.bar)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestNewSignal_Malformed(t *testing.T) {
	tests := []struct {
		name string
		sig  Signal
	}{
		{"missing rule id", Signal{Symbol: "AAPL", Intent: DirectionLong, Price: 10}},
		{"bad intent", Signal{Symbol: "AAPL", Intent: "SIDEWAYS", Price: 10, RuleID: "r"}},
		{"zero price", Signal{Symbol: "AAPL", Intent: DirectionLong, RuleID: "r"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSignal(ts, tt.sig)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestNewOrder_Malformed(t *testing.T) {
	valid := Order{Symbol: "AAPL", Side: SideBuy, Qty: 10, Price: 10, RuleID: "r", Action: ActionOpen}

	_, err := NewOrder(ts, valid)
	require.NoError(t, err)

	for name, mutate := range map[string]func(o Order) Order{
		"zero qty":    func(o Order) Order { o.Qty = 0; return o },
		"no action":   func(o Order) Order { o.Action = ActionNone; return o },
		"bad side":    func(o Order) Order { o.Side = "HOLD"; return o },
		"no rule id":  func(o Order) Order { o.RuleID = ""; return o },
		"zero price":  func(o Order) Order { o.Price = 0; return o },
		"no symbol":   func(o Order) Order { o.Symbol = ""; return o },
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewOrder(ts, mutate(valid))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestNewFill_AllowsUntagged(t *testing.T) {
	// Fills without rule id or action tag are legal; the portfolio infers
	// the action from position movement.
	e, err := NewFill(ts, Fill{Symbol: "AAPL", Side: SideBuy, Qty: 10, Price: 10})
	require.NoError(t, err)
	assert.Equal(t, KindFill, e.Kind)
}

func TestNewFill_NegativeCommission(t *testing.T) {
	_, err := NewFill(ts, Fill{Symbol: "AAPL", Side: SideBuy, Qty: 10, Price: 10, Commission: -1})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestConsume(t *testing.T) {
	e, err := NewBar(ts, Bar{Symbol: "AAPL", Open: 1, High: 2, Low: 1, Close: 1, Volume: 1})
	require.NoError(t, err)

	assert.False(t, e.Consumed())
	e.Consume()
	assert.True(t, e.Consumed())
}

func TestEventIDsUnique(t *testing.T) {
	bar := Bar{Symbol: "AAPL", Open: 1, High: 2, Low: 1, Close: 1, Volume: 1}
	a, err := NewBar(ts, bar)
	require.NoError(t, err)
	b, err := NewBar(ts, bar)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
}
