package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ismaiel54/strategy-backtester/internal/config"
	"github.com/ismaiel54/strategy-backtester/internal/logging"
	"github.com/ismaiel54/strategy-backtester/internal/msg"
	"github.com/ismaiel54/strategy-backtester/internal/runstore"
	"github.com/ismaiel54/strategy-backtester/internal/sim"
)

func main() {
	var (
		scenarioPath = flag.String("scenario", "", "Path to the scenario YAML file (required)")
		publish      = flag.Bool("publish", false, "Publish results to Kafka (also enabled by KAFKA_ENABLED=true)")
		noStore      = flag.Bool("no-store", false, "Skip persisting the run to the run store")
	)
	flag.Parse()

	if *scenarioPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s -scenario <file.yaml> [-publish] [-no-store]\n", os.Args[0])
		os.Exit(1)
	}

	// Optional .env for local overrides; absence is fine.
	_ = godotenv.Load()

	cfg := config.LoadConfig("backtest")
	logger, err := logging.NewLogger(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	scn, err := config.LoadScenario(*scenarioPath)
	if err != nil {
		logger.Fatal("failed to load scenario", zap.Error(err))
	}

	runner, err := sim.NewRunner(scn, logger)
	if err != nil {
		logger.Fatal("failed to build runner", zap.Error(err))
	}

	ctx := context.Background()
	result, err := runner.Run(ctx)
	if err != nil {
		logger.Fatal("run failed", zap.Error(err))
	}

	if !*noStore {
		if err := persistRun(ctx, cfg, result); err != nil {
			logger.Fatal("failed to persist run", zap.Error(err))
		}
		logger.Info("run persisted",
			zap.String("run_id", result.RunID),
			zap.String("path", cfg.RunStorePath()),
		)
	}

	kafkaCfg := msg.LoadConfig()
	if *publish || kafkaCfg.Enabled {
		if err := publishRun(ctx, kafkaCfg, logger, result); err != nil {
			logger.Error("failed to publish results", zap.Error(err))
		}
	}

	printSummary(result)
}

// persistRun appends the run, its closed trades, and its equity curve to the
// sqlite run store.
func persistRun(ctx context.Context, cfg *config.Config, result *sim.Result) error {
	store, err := runstore.Open(cfg.RunStorePath())
	if err != nil {
		return err
	}
	defer store.Close()

	err = store.CreateRun(ctx, runstore.RunInfo{
		RunID:             result.RunID,
		StartedUnixMillis: result.StartedAt.UnixMilli(),
		InitialCapital:    result.InitialCapital,
	})
	if err != nil {
		return err
	}

	for _, t := range result.Closed {
		if err := store.AppendTrade(ctx, result.RunID, t); err != nil {
			return err
		}
	}
	for _, snap := range result.Curve {
		point := runstore.EquityPoint{
			TsUnixMillis:   snap.Timestamp.UnixMilli(),
			Equity:         snap.Equity,
			Cash:           snap.Cash,
			PositionsValue: snap.PositionsValue,
		}
		if err := store.AppendSnapshot(ctx, result.RunID, point); err != nil {
			return err
		}
	}
	return nil
}

// publishRun streams the run's results to Kafka for downstream consumers.
func publishRun(ctx context.Context, kafkaCfg *msg.Config, logger *zap.Logger, result *sim.Result) error {
	publisher, err := msg.NewPublisher(kafkaCfg.Brokers, logger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	for _, t := range result.Closed {
		if err := publisher.PublishTrade(ctx, result.RunID, t); err != nil {
			return err
		}
	}
	for _, snap := range result.Curve {
		m := msg.EquityMsg{
			RunID:          result.RunID,
			TsUnixMillis:   snap.Timestamp.UnixMilli(),
			Equity:         snap.Equity,
			Cash:           snap.Cash,
			PositionsValue: snap.PositionsValue,
		}
		if err := publisher.PublishEquity(ctx, m); err != nil {
			return err
		}
	}

	done := msg.RunDoneMsg{
		RunID:         result.RunID,
		TradeCount:    len(result.Closed),
		FinalEquity:   result.Summary.FinalEquity,
		EndUnixMillis: time.Now().UnixMilli(),
	}
	if err := publisher.PublishRunDone(ctx, done); err != nil {
		return err
	}

	produced, errors := publisher.Stats()
	logger.Info("results published",
		zap.String("run_id", result.RunID),
		zap.Int64("produced", produced),
		zap.Int64("errors", errors),
	)
	return nil
}

func printSummary(result *sim.Result) {
	s := result.Summary

	fmt.Println("\n=== Backtest Results ===")
	fmt.Printf("Run ID:          %s\n", result.RunID)
	fmt.Printf("Scenario:        %s\n", result.Scenario)
	fmt.Printf("Bars replayed:   %d\n", result.Bars)
	fmt.Printf("Decisions:       %d\n", result.Decisions)
	fmt.Printf("Closed trades:   %d (%d wins, %d losses)\n", s.Trades, s.Wins, s.Losses)
	fmt.Printf("Win rate:        %.1f%%\n", s.WinRate*100)
	fmt.Printf("Profit factor:   %.2f\n", s.ProfitFactor)
	fmt.Printf("Net PnL:         %.2f\n", s.NetPnL)
	fmt.Printf("Commission:      %.2f\n", s.Commission)
	fmt.Printf("Final equity:    %.2f\n", s.FinalEquity)
	fmt.Printf("Total return:    %.2f%%\n", s.TotalReturn*100)
	fmt.Printf("Max drawdown:    %.2f%%\n", s.MaxDrawdown*100)
	fmt.Printf("Bus dispatched:  %d (rejected %d, faults %d, timeouts %d)\n",
		result.Dispatched, result.Rejected, result.Faults, result.Timeouts)
}
