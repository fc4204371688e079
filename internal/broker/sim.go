package broker

import (
	"context"
	"math/rand"

	"go.uber.org/zap"

	"github.com/ismaiel54/strategy-backtester/internal/bus"
	"github.com/ismaiel54/strategy-backtester/internal/event"
)

// Config controls the simulated execution model. Slippage is adverse to the
// order side; the jitter component is drawn from a seeded rng so runs stay
// deterministic.
type Config struct {
	SlippageBps       float64
	SlippageJitterBps float64
	CommissionFixed   float64
	CommissionBps     float64
	Seed              int64
}

// Simulator is the execution collaborator: it consumes orders and emits
// fills with slippage and commission applied.
type Simulator struct {
	logger *zap.Logger
	bus    *bus.Bus
	cfg    Config
	rng    *rand.Rand

	fillCount int64
}

// New creates a simulated broker with a deterministic rng.
func New(cfg Config, b *bus.Bus, logger *zap.Logger) *Simulator {
	seed := cfg.Seed
	if seed == 0 {
		seed = 1
	}
	return &Simulator{
		logger: logger,
		bus:    b,
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Attach registers the order handler and returns the registration.
func (s *Simulator) Attach(priority int) *bus.Registration {
	return s.bus.Register(event.KindOrder, "broker.order", priority, s.OnOrder)
}

// OnOrder executes one order at the reference price adjusted by slippage
// and emits the resulting fill. The order's rule id and action tag pass
// through to the fill.
func (s *Simulator) OnOrder(ctx context.Context, e *event.Event) {
	ord, ok := e.Payload.(event.Order)
	if !ok {
		s.logger.Error("order handler received wrong payload",
			zap.String("event_id", e.ID),
			zap.String("kind", string(e.Kind)),
		)
		return
	}

	price := s.fillPrice(ord)
	gross := float64(ord.Qty) * price
	commission := s.cfg.CommissionFixed + gross*s.cfg.CommissionBps/10_000

	fill, err := event.NewFill(e.Timestamp, event.Fill{
		Symbol:     ord.Symbol,
		Side:       ord.Side,
		Qty:        ord.Qty,
		Price:      price,
		Commission: commission,
		RuleID:     ord.RuleID,
		Action:     ord.Action,
		Group:      ord.Group,
	})
	if err != nil {
		s.logger.Error("failed to build fill", zap.Error(err))
		return
	}

	s.fillCount++
	s.logger.Debug("order filled",
		zap.String("symbol", ord.Symbol),
		zap.String("side", string(ord.Side)),
		zap.Int64("qty", ord.Qty),
		zap.Float64("ref_price", ord.Price),
		zap.Float64("fill_price", price),
		zap.Float64("commission", commission),
	)
	s.bus.Emit(ctx, fill)
}

// Reset reseeds the rng and clears the fill counter so a replay of the same
// run produces identical slippage.
func (s *Simulator) Reset() {
	seed := s.cfg.Seed
	if seed == 0 {
		seed = 1
	}
	s.rng = rand.New(rand.NewSource(seed))
	s.fillCount = 0
}

// FillCount reports how many fills the broker has produced.
func (s *Simulator) FillCount() int64 {
	return s.fillCount
}

// fillPrice applies adverse slippage: buys pay above the reference price,
// sells receive below it.
func (s *Simulator) fillPrice(ord event.Order) float64 {
	bps := s.cfg.SlippageBps
	if s.cfg.SlippageJitterBps > 0 {
		bps += s.rng.Float64() * s.cfg.SlippageJitterBps
	}
	slip := ord.Price * bps / 10_000
	if ord.Side == event.SideBuy {
		return ord.Price + slip
	}
	return ord.Price - slip
}

// FillDedupKey is the bus-level admission key for fills: the originating
// decision's (rule id, action) pair when the broker passed it through.
// Fills without a rule id carry no key and are always admitted.
func FillDedupKey(e *event.Event) (string, bool) {
	fill, ok := e.Payload.(event.Fill)
	if !ok || fill.RuleID == "" {
		return "", false
	}
	return fill.RuleID + "|" + string(fill.Action), true
}
