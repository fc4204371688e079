package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ismaiel54/strategy-backtester/internal/bus"
	"github.com/ismaiel54/strategy-backtester/internal/event"
)

func runOrder(t *testing.T, cfg Config, ord event.Order) event.Fill {
	t.Helper()
	b := bus.New(bus.DefaultLimits(), zap.NewNop())
	sim := New(cfg, b, zap.NewNop())
	sim.Attach(10)

	var fills []event.Fill
	b.Register(event.KindFill, "recorder", 50, func(ctx context.Context, e *event.Event) {
		fills = append(fills, e.Payload.(event.Fill))
	})

	e, err := event.NewOrder(time.Unix(1000, 0), ord)
	require.NoError(t, err)
	b.Emit(context.Background(), e)

	require.Len(t, fills, 1)
	return fills[0]
}

func TestOnOrder_BuySlippageIsAdverse(t *testing.T) {
	fill := runOrder(t, Config{SlippageBps: 10}, event.Order{
		Symbol: "AAPL", Side: event.SideBuy, Qty: 100, Price: 100.0,
		RuleID: "rule-1", Action: event.ActionOpen,
	})

	assert.InDelta(t, 100.10, fill.Price, 1e-9, "10 bps above the reference price")
	assert.Equal(t, int64(100), fill.Qty)
	assert.Equal(t, "rule-1", fill.RuleID, "rule id passes through to the fill")
	assert.Equal(t, event.ActionOpen, fill.Action)
}

func TestOnOrder_SellSlippageIsAdverse(t *testing.T) {
	fill := runOrder(t, Config{SlippageBps: 10}, event.Order{
		Symbol: "AAPL", Side: event.SideSell, Qty: 100, Price: 100.0,
		RuleID: "rule-1", Action: event.ActionClose,
	})

	assert.InDelta(t, 99.90, fill.Price, 1e-9, "10 bps below the reference price")
}

func TestOnOrder_Commission(t *testing.T) {
	fill := runOrder(t, Config{CommissionFixed: 1.0, CommissionBps: 5}, event.Order{
		Symbol: "AAPL", Side: event.SideBuy, Qty: 100, Price: 100.0,
		RuleID: "rule-1", Action: event.ActionOpen,
	})

	// 1.0 fixed + 10000*5/10000 bps
	assert.InDelta(t, 6.0, fill.Commission, 1e-9)
}

func TestOnOrder_JitterIsDeterministic(t *testing.T) {
	cfg := Config{SlippageBps: 5, SlippageJitterBps: 20, Seed: 42}
	ord := event.Order{
		Symbol: "AAPL", Side: event.SideBuy, Qty: 100, Price: 100.0,
		RuleID: "rule-1", Action: event.ActionOpen,
	}

	first := runOrder(t, cfg, ord)
	second := runOrder(t, cfg, ord)
	assert.Equal(t, first.Price, second.Price, "same seed must reproduce the same slippage")
	assert.Greater(t, first.Price, 100.05, "jitter adds on top of the base slippage")
}

func TestFillDedupKey(t *testing.T) {
	e, err := event.NewFill(time.Unix(1000, 0), event.Fill{
		Symbol: "AAPL", Side: event.SideBuy, Qty: 100, Price: 100.0,
		RuleID: "rule-1", Action: event.ActionOpen,
	})
	require.NoError(t, err)

	key, ok := FillDedupKey(e)
	require.True(t, ok)
	assert.Equal(t, "rule-1|OPEN", key)

	anon, err := event.NewFill(time.Unix(1000, 0), event.Fill{
		Symbol: "AAPL", Side: event.SideBuy, Qty: 100, Price: 100.0,
	})
	require.NoError(t, err)
	_, ok = FillDedupKey(anon)
	assert.False(t, ok, "fills without a rule id carry no admission key")
}
