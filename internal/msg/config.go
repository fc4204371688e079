package msg

import (
	"os"
	"strings"
)

// Config holds Kafka configuration
type Config struct {
	Brokers  []string
	ClientID string
	Enabled  bool
}

// Topic names for the results stream
const (
	TopicTrades = "backtest.trades"
	TopicEquity = "backtest.equity"
	TopicRuns   = "backtest.runs"
)

// LoadConfig loads Kafka configuration from environment variables.
// Publishing is opt-in: with KAFKA_ENABLED unset the backtester runs
// fully offline.
func LoadConfig() *Config {
	brokersStr := getEnvAsString("KAFKA_BROKERS", "127.0.0.1:9092")
	brokers := strings.Split(brokersStr, ",")
	for i := range brokers {
		brokers[i] = strings.TrimSpace(brokers[i])
	}

	return &Config{
		Brokers:  brokers,
		ClientID: getEnvAsString("KAFKA_CLIENT_ID", "strategy-backtester"),
		Enabled:  getEnvAsString("KAFKA_ENABLED", "false") == "true",
	}
}

func getEnvAsString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
