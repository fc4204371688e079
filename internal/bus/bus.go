package bus

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/ismaiel54/strategy-backtester/internal/event"
)

var (
	// ErrDepthLimit is logged when a nested emit exceeds the recursion limit.
	ErrDepthLimit = errors.New("emit recursion depth limit exceeded")
	// ErrEventCountLimit is logged when one root emit produces too many
	// events of a single kind.
	ErrEventCountLimit = errors.New("emitted event count limit exceeded")
)

// Handler processes one event during dispatch. The context carries the
// per-invocation deadline; long handlers are expected to check it and bail
// out cooperatively.
type Handler func(ctx context.Context, e *event.Event)

// KeyFunc extracts the dedup admission key for an event. Returning false
// means the event carries no key and is always admitted.
type KeyFunc func(e *event.Event) (string, bool)

// Limits bounds re-entrant dispatch within one root Emit call.
type Limits struct {
	// MaxDepth is the maximum emit nesting depth.
	MaxDepth int
	// MaxEventsPerKind caps how many events of one kind a single root emit
	// may produce, directly or transitively.
	MaxEventsPerKind int
	// HandlerDeadline bounds a single handler invocation. Zero disables the
	// deadline.
	HandlerDeadline time.Duration
}

// DefaultLimits are conservative bounds for a simulation run.
func DefaultLimits() Limits {
	return Limits{
		MaxDepth:         8,
		MaxEventsPerKind: 256,
		HandlerDeadline:  2 * time.Second,
	}
}

// Registration identifies one registered handler. It is the explicit handle
// that replaces weak ownership: the registering component unregisters on
// teardown.
type Registration struct {
	kind     event.Kind
	name     string
	priority int
	fn       Handler
}

// Bus is a synchronous dispatcher with priority ordering, keyed dedup
// admission, and bounded re-entrancy. It is driven from a single goroutine;
// Emit may be called re-entrantly from inside a handler but never
// concurrently.
type Bus struct {
	logger   *zap.Logger
	limits   Limits
	handlers map[event.Kind][]*Registration
	keyFuncs map[event.Kind]KeyFunc
	admitted map[event.Kind]map[string]struct{}

	depth      int
	kindCounts map[event.Kind]int

	dispatched int64
	rejected   int64
	faults     int64
	timeouts   int64
}

// New creates a bus with the given re-entrancy limits.
func New(limits Limits, logger *zap.Logger) *Bus {
	if limits.MaxDepth <= 0 {
		limits.MaxDepth = DefaultLimits().MaxDepth
	}
	if limits.MaxEventsPerKind <= 0 {
		limits.MaxEventsPerKind = DefaultLimits().MaxEventsPerKind
	}
	return &Bus{
		logger:     logger,
		limits:     limits,
		handlers:   make(map[event.Kind][]*Registration),
		keyFuncs:   make(map[event.Kind]KeyFunc),
		admitted:   make(map[event.Kind]map[string]struct{}),
		kindCounts: make(map[event.Kind]int),
	}
}

// SetKeyFunc installs the dedup key extractor for a kind. Kinds without a
// key extractor are always admitted.
func (b *Bus) SetKeyFunc(kind event.Kind, fn KeyFunc) {
	b.keyFuncs[kind] = fn
}

// Register adds a named handler for a kind. Lower priority runs earlier.
// Registering the same (kind, name) pair again is a no-op and returns the
// existing registration.
func (b *Bus) Register(kind event.Kind, name string, priority int, fn Handler) *Registration {
	for _, reg := range b.handlers[kind] {
		if reg.name == name {
			return reg
		}
	}

	reg := &Registration{kind: kind, name: name, priority: priority, fn: fn}
	b.handlers[kind] = append(b.handlers[kind], reg)
	sort.SliceStable(b.handlers[kind], func(i, j int) bool {
		return b.handlers[kind][i].priority < b.handlers[kind][j].priority
	})

	b.logger.Debug("handler registered",
		zap.String("kind", string(kind)),
		zap.String("handler", name),
		zap.Int("priority", priority),
	)
	return reg
}

// Unregister removes a registration. Removing the last handler for a kind
// deletes the kind's entry entirely. Unknown registrations are ignored.
func (b *Bus) Unregister(reg *Registration) {
	if reg == nil {
		return
	}
	regs := b.handlers[reg.kind]
	kept := regs[:0]
	for _, r := range regs {
		if r != reg {
			kept = append(kept, r)
		}
	}
	if len(kept) == 0 {
		delete(b.handlers, reg.kind)
		return
	}
	b.handlers[reg.kind] = kept
}

// Emit dispatches an event synchronously and returns the number of handlers
// invoked. Already-consumed events, duplicate keys, and limit violations
// return 0 without dispatching.
func (b *Bus) Emit(ctx context.Context, e *event.Event) int {
	if e == nil || e.Consumed() {
		return 0
	}

	if b.depth >= b.limits.MaxDepth {
		b.rejected++
		b.logger.Error("emit rejected",
			zap.String("kind", string(e.Kind)),
			zap.String("event_id", e.ID),
			zap.Int("depth", b.depth),
			zap.Error(ErrDepthLimit),
		)
		return 0
	}
	if b.kindCounts[e.Kind] >= b.limits.MaxEventsPerKind {
		b.rejected++
		b.logger.Error("emit rejected",
			zap.String("kind", string(e.Kind)),
			zap.String("event_id", e.ID),
			zap.Int("kind_count", b.kindCounts[e.Kind]),
			zap.Error(ErrEventCountLimit),
		)
		return 0
	}

	if !b.admit(e) {
		return 0
	}

	b.depth++
	b.kindCounts[e.Kind]++
	defer func() {
		b.depth--
		if b.depth == 0 {
			// Root emit finished; nested-emit budgets reset for the next one.
			b.kindCounts = make(map[event.Kind]int)
		}
	}()

	// Snapshot so handlers registered or removed during dispatch do not
	// affect this event's delivery.
	regs := make([]*Registration, len(b.handlers[e.Kind]))
	copy(regs, b.handlers[e.Kind])

	invoked := 0
	for _, reg := range regs {
		if e.Consumed() {
			break
		}
		b.invoke(ctx, reg, e)
		invoked++
	}
	b.dispatched++
	return invoked
}

// invoke runs one handler with panic recovery and a cooperative deadline.
// A fault or overrun is logged and dispatch continues; partial side effects
// are not rolled back, so handlers must be side-effect-atomic.
func (b *Bus) invoke(ctx context.Context, reg *Registration, e *event.Event) {
	handlerCtx := ctx
	var cancel context.CancelFunc
	if b.limits.HandlerDeadline > 0 {
		handlerCtx, cancel = context.WithTimeout(ctx, b.limits.HandlerDeadline)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			b.faults++
			b.logger.Error("handler fault",
				zap.String("kind", string(e.Kind)),
				zap.String("handler", reg.name),
				zap.String("event_id", e.ID),
				zap.Any("panic", r),
			)
		}
		if b.limits.HandlerDeadline > 0 && time.Since(start) > b.limits.HandlerDeadline {
			b.timeouts++
			b.logger.Error("handler deadline exceeded",
				zap.String("kind", string(e.Kind)),
				zap.String("handler", reg.name),
				zap.String("event_id", e.ID),
				zap.Duration("elapsed", time.Since(start)),
				zap.Duration("deadline", b.limits.HandlerDeadline),
			)
		}
	}()

	reg.fn(handlerCtx, e)
}

// admit applies keyed dedup admission for the event's kind.
func (b *Bus) admit(e *event.Event) bool {
	keyFn, ok := b.keyFuncs[e.Kind]
	if !ok {
		return true
	}
	key, ok := keyFn(e)
	if !ok {
		return true
	}

	keys := b.admitted[e.Kind]
	if keys == nil {
		keys = make(map[string]struct{})
		b.admitted[e.Kind] = keys
	}
	if _, seen := keys[key]; seen {
		b.rejected++
		b.logger.Debug("duplicate event rejected",
			zap.String("kind", string(e.Kind)),
			zap.String("event_id", e.ID),
			zap.String("dedup_key", key),
		)
		return false
	}
	keys[key] = struct{}{}
	return true
}

// Reset clears all dedup admission state. Registered handlers are kept.
// It must only be called between simulation runs, never from inside a
// handler.
func (b *Bus) Reset() {
	if b.depth != 0 {
		panic(fmt.Sprintf("bus: Reset called mid-dispatch at depth %d", b.depth))
	}
	b.admitted = make(map[event.Kind]map[string]struct{})
}

// Stats reports dispatch counters for end-of-run logging.
func (b *Bus) Stats() (dispatched, rejected, faults, timeouts int64) {
	return b.dispatched, b.rejected, b.faults, b.timeouts
}
