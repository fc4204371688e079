package sim

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ismaiel54/strategy-backtester/internal/broker"
	"github.com/ismaiel54/strategy-backtester/internal/bus"
	"github.com/ismaiel54/strategy-backtester/internal/config"
	"github.com/ismaiel54/strategy-backtester/internal/decision"
	"github.com/ismaiel54/strategy-backtester/internal/event"
	"github.com/ismaiel54/strategy-backtester/internal/feed"
	"github.com/ismaiel54/strategy-backtester/internal/portfolio"
	"github.com/ismaiel54/strategy-backtester/internal/report"
	"github.com/ismaiel54/strategy-backtester/internal/strategy"
)

// Handler priorities for the bar pipeline. The portfolio marks positions
// before the strategy reads the same bar, so decisions always see current
// equity.
const (
	prioPortfolio = 10
	prioBroker    = 20
	prioEngine    = 20
	prioStrategy  = 30
	prioRecorder  = 40
)

// Result is the outcome of one completed run.
type Result struct {
	RunID          string
	Scenario       string
	StartedAt      time.Time
	InitialCapital float64
	Bars           int
	Trades         []event.Trade
	Closed         []event.Trade
	Curve          []portfolio.Snapshot
	Summary        report.Summary
	Decisions      int

	// Bus counters for the whole run.
	Dispatched int64
	Rejected   int64
	Faults     int64
	Timeouts   int64
}

// Runner owns one simulation: a private bus plus the collaborators wired to
// it. Nothing is shared between runners, so concurrent runs in one process
// cannot interfere.
type Runner struct {
	logger   *zap.Logger
	scenario *config.Scenario

	bus       *bus.Bus
	portfolio *portfolio.Portfolio
	engine    *decision.Engine
	strategy  *strategy.SMACross
	broker    *broker.Simulator
	recorder  *report.Recorder

	regs []*bus.Registration
	bars []feed.TimedBar
}

// NewRunner wires a fresh simulation for the scenario and loads its bar
// series.
func NewRunner(scn *config.Scenario, logger *zap.Logger) (*Runner, error) {
	if err := scn.Validate(); err != nil {
		return nil, err
	}

	b := bus.New(scn.BusLimits(), logger)
	b.SetKeyFunc(event.KindOrder, decision.OrderDedupKey)
	b.SetKeyFunc(event.KindFill, broker.FillDedupKey)

	pf := portfolio.New(scn.InitialCapital, b, logger)
	eng := decision.New(b, pf, scn.Sizer(), logger)
	strat := strategy.New(scn.StrategyConfig(), b, logger)
	brk := broker.New(scn.BrokerConfig(), b, logger)
	rec := report.NewRecorder(b, logger)

	r := &Runner{
		logger:    logger,
		scenario:  scn,
		bus:       b,
		portfolio: pf,
		engine:    eng,
		strategy:  strat,
		broker:    brk,
		recorder:  rec,
	}

	r.regs = append(r.regs, pf.Attach(prioPortfolio)...)
	r.regs = append(r.regs, brk.Attach(prioBroker))
	r.regs = append(r.regs, eng.Attach(prioEngine))
	r.regs = append(r.regs, strat.Attach(prioStrategy))
	r.regs = append(r.regs, rec.Attach(prioRecorder)...)

	var series [][]feed.TimedBar
	for _, f := range scn.Feeds {
		bars, err := feed.LoadCSV(f.Path, f.Symbol)
		if err != nil {
			return nil, fmt.Errorf("failed to load feed %s: %w", f.Symbol, err)
		}
		series = append(series, bars)
	}
	r.bars = feed.Merge(series...)
	if len(r.bars) == 0 {
		return nil, fmt.Errorf("scenario %q has no bars to replay", scn.Name)
	}

	return r, nil
}

// Bus exposes the runner's bus so callers can attach extra observers before
// Run.
func (r *Runner) Bus() *bus.Bus {
	return r.bus
}

// Portfolio exposes the run's portfolio for post-run inspection.
func (r *Runner) Portfolio() *portfolio.Portfolio {
	return r.portfolio
}

// Run replays the merged bar series through the bus and returns the run
// result. The context cancels the replay between bars.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	runID := uuid.NewString()
	started := time.Now()

	r.logger.Info("starting run",
		zap.String("run_id", runID),
		zap.String("scenario", r.scenario.Name),
		zap.Int("bars", len(r.bars)),
		zap.Float64("initial_capital", r.scenario.InitialCapital),
	)

	for i, tb := range r.bars {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("run cancelled at bar %d: %w", i, err)
		}

		ev, err := event.NewBar(tb.Timestamp, tb.Bar)
		if err != nil {
			return nil, fmt.Errorf("bar %d rejected: %w", i, err)
		}
		r.bus.Emit(ctx, ev)
	}

	// The recorder holds what the downstream events reported; the portfolio
	// keeps the authoritative ledger and curve. They agree unless a handler
	// faulted mid-run.
	trades := r.portfolio.Trades()
	closed := r.recorder.Closed()
	curve := r.portfolio.EquityCurve()

	dispatched, rejected, faults, timeouts := r.bus.Stats()
	result := &Result{
		RunID:          runID,
		Scenario:       r.scenario.Name,
		StartedAt:      started,
		InitialCapital: r.scenario.InitialCapital,
		Bars:           len(r.bars),
		Trades:         trades,
		Closed:         closed,
		Curve:          curve,
		Summary:        r.recorder.Summary(r.scenario.InitialCapital),
		Decisions:      r.engine.DecidedCount(),
		Dispatched:     dispatched,
		Rejected:       rejected,
		Faults:         faults,
		Timeouts:       timeouts,
	}

	r.logger.Info("run complete",
		zap.String("run_id", runID),
		zap.Int("trades", len(trades)),
		zap.Float64("final_equity", result.Summary.FinalEquity),
		zap.Int64("dispatched", dispatched),
		zap.Int64("rejected", rejected),
		zap.Int64("faults", faults),
	)

	return result, nil
}

// Reset rewinds the runner for another replay of the same scenario. All
// decision, dedup, and portfolio state clears; the loaded bars stay.
func (r *Runner) Reset() {
	r.bus.Reset()
	r.portfolio.Reset()
	r.engine.Reset()
	r.strategy.Reset()
	r.broker.Reset()
	r.recorder.Reset()
}

// Detach unregisters every handler the runner attached.
func (r *Runner) Detach() {
	for _, reg := range r.regs {
		r.bus.Unregister(reg)
	}
	r.regs = nil
}
