package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ismaiel54/strategy-backtester/internal/event"
)

func newTestBus(limits Limits) *Bus {
	return New(limits, zap.NewNop())
}

func signalEvent(t *testing.T, ruleID string) *event.Event {
	t.Helper()
	e, err := event.NewSignal(time.Unix(1000, 0), event.Signal{
		Symbol: "AAPL",
		Intent: event.DirectionLong,
		Price:  150.0,
		RuleID: ruleID,
	})
	require.NoError(t, err)
	return e
}

func TestEmit_PriorityOrdering(t *testing.T) {
	b := newTestBus(DefaultLimits())

	var order []int
	b.Register(event.KindSignal, "h30", 30, func(ctx context.Context, e *event.Event) {
		order = append(order, 30)
	})
	b.Register(event.KindSignal, "h10", 10, func(ctx context.Context, e *event.Event) {
		order = append(order, 10)
	})
	b.Register(event.KindSignal, "h20", 20, func(ctx context.Context, e *event.Event) {
		order = append(order, 20)
	})

	invoked := b.Emit(context.Background(), signalEvent(t, "rule-1"))
	assert.Equal(t, 3, invoked)
	assert.Equal(t, []int{10, 20, 30}, order, "handlers must fire in ascending priority order")
}

func TestEmit_ConsumptionShortCircuit(t *testing.T) {
	b := newTestBus(DefaultLimits())

	var fired []string
	b.Register(event.KindSignal, "first", 10, func(ctx context.Context, e *event.Event) {
		fired = append(fired, "first")
	})
	b.Register(event.KindSignal, "consumer", 20, func(ctx context.Context, e *event.Event) {
		fired = append(fired, "consumer")
		e.Consume()
	})
	b.Register(event.KindSignal, "late", 30, func(ctx context.Context, e *event.Event) {
		fired = append(fired, "late")
	})

	invoked := b.Emit(context.Background(), signalEvent(t, "rule-1"))
	assert.Equal(t, 2, invoked)
	assert.Equal(t, []string{"first", "consumer"}, fired, "handlers after the consumer must not fire")
}

func TestEmit_ConsumedEventIsNoOp(t *testing.T) {
	b := newTestBus(DefaultLimits())

	called := 0
	b.Register(event.KindSignal, "h", 10, func(ctx context.Context, e *event.Event) {
		called++
	})

	e := signalEvent(t, "rule-1")
	e.Consume()
	assert.Equal(t, 0, b.Emit(context.Background(), e))
	assert.Equal(t, 0, called)
}

func TestEmit_DedupAdmission(t *testing.T) {
	b := newTestBus(DefaultLimits())
	b.SetKeyFunc(event.KindSignal, func(e *event.Event) (string, bool) {
		sig := e.Payload.(event.Signal)
		return sig.RuleID, true
	})

	called := 0
	b.Register(event.KindSignal, "h", 10, func(ctx context.Context, e *event.Event) {
		called++
	})

	assert.Equal(t, 1, b.Emit(context.Background(), signalEvent(t, "rule-1")))
	assert.Equal(t, 0, b.Emit(context.Background(), signalEvent(t, "rule-1")), "same key must be rejected")
	assert.Equal(t, 1, b.Emit(context.Background(), signalEvent(t, "rule-2")))
	assert.Equal(t, 2, called)

	// Reset clears admission state but keeps handlers.
	b.Reset()
	assert.Equal(t, 1, b.Emit(context.Background(), signalEvent(t, "rule-1")))
	assert.Equal(t, 3, called)
}

func TestEmit_BoundedRecursion(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxDepth = 5
	b := newTestBus(limits)

	calls := 0
	b.Register(event.KindSignal, "reemitter", 10, func(ctx context.Context, e *event.Event) {
		calls++
		// Re-emit a fresh copy of the event we just received.
		b.Emit(ctx, signalEvent(t, "rule-1"))
	})

	invoked := b.Emit(context.Background(), signalEvent(t, "rule-1"))
	assert.Equal(t, 1, invoked)
	assert.Equal(t, limits.MaxDepth, calls, "recursion must stop at the depth limit")

	_, rejected, _, _ := b.Stats()
	assert.Equal(t, int64(1), rejected)
}

func TestEmit_EventCountLimit(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxDepth = 100
	limits.MaxEventsPerKind = 10
	b := newTestBus(limits)

	calls := 0
	b.Register(event.KindSignal, "reemitter", 10, func(ctx context.Context, e *event.Event) {
		calls++
		b.Emit(ctx, signalEvent(t, "rule-1"))
	})

	b.Emit(context.Background(), signalEvent(t, "rule-1"))
	assert.Equal(t, limits.MaxEventsPerKind, calls)

	// Budgets reset once the root emit returns.
	b.Emit(context.Background(), signalEvent(t, "rule-2"))
	assert.Equal(t, 2*limits.MaxEventsPerKind, calls)
}

func TestEmit_HandlerFaultDoesNotBlockOthers(t *testing.T) {
	b := newTestBus(DefaultLimits())

	var fired []string
	b.Register(event.KindSignal, "panicky", 10, func(ctx context.Context, e *event.Event) {
		panic("boom")
	})
	b.Register(event.KindSignal, "survivor", 20, func(ctx context.Context, e *event.Event) {
		fired = append(fired, "survivor")
	})

	invoked := b.Emit(context.Background(), signalEvent(t, "rule-1"))
	assert.Equal(t, 2, invoked)
	assert.Equal(t, []string{"survivor"}, fired, "a faulting handler must not block later handlers")

	_, _, faults, _ := b.Stats()
	assert.Equal(t, int64(1), faults)
}

func TestEmit_HandlerDeadlineLogged(t *testing.T) {
	limits := DefaultLimits()
	limits.HandlerDeadline = 10 * time.Millisecond
	b := newTestBus(limits)

	var deadlineSeen bool
	b.Register(event.KindSignal, "slow", 10, func(ctx context.Context, e *event.Event) {
		<-ctx.Done()
		deadlineSeen = true
	})
	ran := false
	b.Register(event.KindSignal, "next", 20, func(ctx context.Context, e *event.Event) {
		ran = true
	})

	invoked := b.Emit(context.Background(), signalEvent(t, "rule-1"))
	assert.Equal(t, 2, invoked)
	assert.True(t, deadlineSeen, "handler context must carry the deadline")
	assert.True(t, ran, "dispatch must proceed past an overrunning handler")

	_, _, _, timeouts := b.Stats()
	assert.Equal(t, int64(1), timeouts)
}

func TestRegister_DuplicateNameIsNoOp(t *testing.T) {
	b := newTestBus(DefaultLimits())

	calls := 0
	first := b.Register(event.KindSignal, "h", 10, func(ctx context.Context, e *event.Event) {
		calls++
	})
	second := b.Register(event.KindSignal, "h", 10, func(ctx context.Context, e *event.Event) {
		calls += 100
	})
	assert.Same(t, first, second)

	b.Emit(context.Background(), signalEvent(t, "rule-1"))
	assert.Equal(t, 1, calls)
}

func TestUnregister_RemovesHandler(t *testing.T) {
	b := newTestBus(DefaultLimits())

	calls := 0
	reg := b.Register(event.KindSignal, "h", 10, func(ctx context.Context, e *event.Event) {
		calls++
	})
	b.Unregister(reg)

	assert.Equal(t, 0, b.Emit(context.Background(), signalEvent(t, "rule-1")))
	assert.Equal(t, 0, calls)

	// Unregistering twice is harmless.
	b.Unregister(reg)
	b.Unregister(nil)
}
