package strategy

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ismaiel54/strategy-backtester/internal/bus"
	"github.com/ismaiel54/strategy-backtester/internal/event"
)

// Config holds the moving-average crossover parameters.
type Config struct {
	FastWindow int
	SlowWindow int
	// AllowShort enables short regimes; when false a bearish crossover
	// signals flat instead.
	AllowShort bool
}

// Validate rejects unusable window combinations.
func (c Config) Validate() error {
	if c.FastWindow <= 0 || c.SlowWindow <= 0 {
		return fmt.Errorf("sma windows must be positive, got fast=%d slow=%d", c.FastWindow, c.SlowWindow)
	}
	if c.FastWindow >= c.SlowWindow {
		return fmt.Errorf("fast window %d must be shorter than slow window %d", c.FastWindow, c.SlowWindow)
	}
	return nil
}

// SMACross emits a directional signal on every bar once both moving
// averages are formed. The rule id is stable for the whole of one
// directional regime and changes exactly when the crossover direction
// changes, so repeated bars inside a regime deliberately produce duplicate
// signals for the decision engine to reject.
type SMACross struct {
	logger *zap.Logger
	bus    *bus.Bus
	cfg    Config

	closes    map[string][]float64
	regime    map[string]event.Direction
	regimeSeq map[string]int64
}

// New creates a crossover strategy.
func New(cfg Config, b *bus.Bus, logger *zap.Logger) *SMACross {
	return &SMACross{
		logger:    logger,
		bus:       b,
		cfg:       cfg,
		closes:    make(map[string][]float64),
		regime:    make(map[string]event.Direction),
		regimeSeq: make(map[string]int64),
	}
}

// Attach registers the bar handler and returns the registration.
func (s *SMACross) Attach(priority int) *bus.Registration {
	return s.bus.Register(event.KindBar, "strategy.bar", priority, s.OnBar)
}

// Reset clears all per-symbol state for a new run.
func (s *SMACross) Reset() {
	s.closes = make(map[string][]float64)
	s.regime = make(map[string]event.Direction)
	s.regimeSeq = make(map[string]int64)
}

// OnBar folds one close into the windows and signals the current regime.
func (s *SMACross) OnBar(ctx context.Context, e *event.Event) {
	bar, ok := e.Payload.(event.Bar)
	if !ok {
		s.logger.Error("bar handler received wrong payload",
			zap.String("event_id", e.ID),
			zap.String("kind", string(e.Kind)),
		)
		return
	}

	window := append(s.closes[bar.Symbol], bar.Close)
	if len(window) > s.cfg.SlowWindow {
		window = window[len(window)-s.cfg.SlowWindow:]
	}
	s.closes[bar.Symbol] = window
	if len(window) < s.cfg.SlowWindow {
		return
	}

	fast := mean(window[len(window)-s.cfg.FastWindow:])
	slow := mean(window)

	var intent event.Direction
	switch {
	case fast > slow:
		intent = event.DirectionLong
	case fast < slow:
		intent = event.DirectionShort
	default:
		// Exactly equal averages: hold the current regime.
		return
	}
	if intent == event.DirectionShort && !s.cfg.AllowShort {
		intent = event.DirectionFlat
	}

	if s.regime[bar.Symbol] != intent {
		s.regime[bar.Symbol] = intent
		s.regimeSeq[bar.Symbol]++
		s.logger.Info("regime change",
			zap.String("symbol", bar.Symbol),
			zap.String("intent", string(intent)),
			zap.Int64("regime_seq", s.regimeSeq[bar.Symbol]),
			zap.Float64("fast_sma", fast),
			zap.Float64("slow_sma", slow),
		)
	}

	sig, err := event.NewSignal(e.Timestamp, event.Signal{
		Symbol: bar.Symbol,
		Intent: intent,
		Price:  bar.Close,
		RuleID: s.ruleID(bar.Symbol, intent),
	})
	if err != nil {
		s.logger.Error("failed to build signal", zap.Error(err))
		return
	}
	s.bus.Emit(ctx, sig)
}

// ruleID names the current directional regime for a symbol.
func (s *SMACross) ruleID(symbol string, intent event.Direction) string {
	return fmt.Sprintf("%s/sma%d-%d/%s/%d",
		symbol, s.cfg.FastWindow, s.cfg.SlowWindow,
		strings.ToLower(string(intent)), s.regimeSeq[symbol])
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
