package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ismaiel54/strategy-backtester/internal/config"
	"github.com/ismaiel54/strategy-backtester/internal/logging"
	"github.com/ismaiel54/strategy-backtester/internal/msg"
	"github.com/ismaiel54/strategy-backtester/internal/report"
	"github.com/ismaiel54/strategy-backtester/internal/runstore"
)

const equityTolerance = 1e-6

func main() {
	var (
		runID    = flag.String("run", "", "Run ID to verify (default: most recent)")
		kafka    = flag.Bool("kafka", false, "Also replay the Kafka results stream and check for duplicate trades")
		duration = flag.Int("duration", 15, "Kafka replay window in seconds")
	)
	flag.Parse()

	_ = godotenv.Load()

	cfg := config.LoadConfig("verify")
	logger, err := logging.NewLogger(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx := context.Background()

	store, err := runstore.Open(cfg.RunStorePath())
	if err != nil {
		logger.Fatal("failed to open run store", zap.Error(err))
	}
	defer store.Close()

	id := *runID
	if id == "" {
		runs, err := store.ListRuns(ctx)
		if err != nil {
			logger.Fatal("failed to list runs", zap.Error(err))
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded yet.")
			os.Exit(1)
		}
		id = runs[0].RunID
	}

	problems := verifyStore(ctx, store, id, logger)

	if *kafka {
		kafkaCfg := msg.LoadConfig()
		problems = append(problems, verifyStream(kafkaCfg, id, *duration, logger)...)
	}

	if len(problems) > 0 {
		fmt.Println("\nProblems found:")
		for _, p := range problems {
			fmt.Printf("  - %s\n", p)
		}
		fmt.Println("\n❌ VERIFICATION FAILED")
		os.Exit(1)
	}

	fmt.Println("\n✅ VERIFICATION PASSED")
}

// verifyStore re-checks a recorded run's internal consistency: snapshot
// arithmetic, trade uniqueness, and one close per opening transaction.
func verifyStore(ctx context.Context, store *runstore.Store, runID string, logger *zap.Logger) []string {
	var problems []string

	info, err := store.GetRun(ctx, runID)
	if err != nil {
		logger.Fatal("failed to load run", zap.String("run_id", runID), zap.Error(err))
	}

	trades, err := store.ListTrades(ctx, runID)
	if err != nil {
		logger.Fatal("failed to load trades", zap.Error(err))
	}
	snapshots, err := store.ListSnapshots(ctx, runID)
	if err != nil {
		logger.Fatal("failed to load snapshots", zap.Error(err))
	}

	logger.Info("verifying run",
		zap.String("run_id", runID),
		zap.Int("trades", len(trades)),
		zap.Int("snapshots", len(snapshots)),
	)

	// Every snapshot must balance.
	for i, s := range snapshots {
		if math.Abs(s.Equity-(s.Cash+s.PositionsValue)) > equityTolerance {
			problems = append(problems,
				fmt.Sprintf("snapshot %d does not balance: equity %.6f != cash %.6f + positions %.6f",
					i, s.Equity, s.Cash, s.PositionsValue))
		}
	}

	// Snapshots must be in chronological order.
	for i := 1; i < len(snapshots); i++ {
		if snapshots[i].TsUnixMillis < snapshots[i-1].TsUnixMillis {
			problems = append(problems,
				fmt.Sprintf("snapshot %d is out of order: %d after %d",
					i, snapshots[i].TsUnixMillis, snapshots[i-1].TsUnixMillis))
		}
	}

	// Trade ids are unique and every opening transaction is closed at most
	// once.
	tradeIDs := make(map[string]int)
	pairIDs := make(map[string]int)
	groups := make(map[string]int)
	for _, t := range trades {
		tradeIDs[t.ID]++
		if t.PairID != "" {
			pairIDs[t.PairID]++
		}
		if t.Group > 0 {
			groups[fmt.Sprintf("%s/%d", t.Symbol, t.Group)]++
		}
	}
	for id, count := range tradeIDs {
		if count > 1 {
			problems = append(problems, fmt.Sprintf("trade id %s recorded %d times", id, count))
		}
	}
	for id, count := range pairIDs {
		if count > 1 {
			problems = append(problems, fmt.Sprintf("opening transaction %s closed %d times", id, count))
		}
	}
	// One decision per directional regime means at most one closed trade
	// per order group.
	for key, count := range groups {
		if count > 1 {
			problems = append(problems, fmt.Sprintf("order group %s closed %d times", key, count))
		}
	}

	equity := make([]float64, len(snapshots))
	for i, s := range snapshots {
		equity[i] = s.Equity
	}
	summary := report.Summarize(info.InitialCapital, trades, equity)

	fmt.Println("\n=== Recorded Run ===")
	fmt.Printf("Run ID:          %s\n", runID)
	fmt.Printf("Initial capital: %.2f\n", info.InitialCapital)
	fmt.Printf("Closed trades:   %d\n", summary.Trades)
	fmt.Printf("Net PnL:         %.2f\n", summary.NetPnL)
	fmt.Printf("Final equity:    %.2f\n", summary.FinalEquity)
	fmt.Printf("Max drawdown:    %.2f%%\n", summary.MaxDrawdown*100)

	return problems
}

// verifyStream replays the trades topic from the beginning and checks that
// no trade id was delivered for this run more than once.
func verifyStream(kafkaCfg *msg.Config, runID string, durationSeconds int, logger *zap.Logger) []string {
	group := "verify-" + uuid.NewString()
	consumer, err := msg.NewConsumer(kafkaCfg.Brokers, group, []string{msg.TopicTrades}, true, logger)
	if err != nil {
		logger.Fatal("failed to create consumer", zap.Error(err))
	}
	defer consumer.Close()

	tradeCounts := make(map[string]int)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(durationSeconds)*time.Second)
	defer cancel()

	err = consumer.Run(ctx, func(ctx context.Context, rec msg.Record) error {
		var trade msg.TradeMsg
		if err := json.Unmarshal(rec.Value, &trade); err != nil {
			logger.Warn("failed to unmarshal trade", zap.Error(err))
			return nil // Continue processing
		}
		if trade.RunID != runID {
			return nil
		}

		tradeCounts[trade.TradeID]++
		logger.Debug("consumed trade",
			zap.String("trade_id", trade.TradeID),
			zap.String("symbol", trade.Symbol),
			zap.Int32("partition", rec.Partition),
			zap.Int64("offset", rec.Offset),
		)
		return nil
	})
	if err != nil && err != context.DeadlineExceeded {
		logger.Error("consumer error", zap.Error(err))
	}

	var problems []string
	total := 0
	for id, count := range tradeCounts {
		total += count
		if count > 1 {
			problems = append(problems, fmt.Sprintf("trade %s delivered %d times on %s",
				strings.TrimSpace(id), count, msg.TopicTrades))
		}
	}

	fmt.Println("\n=== Results Stream ===")
	fmt.Printf("Trades consumed: %d\n", total)
	fmt.Printf("Unique trades:   %d\n", len(tradeCounts))

	return problems
}
