package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ismaiel54/strategy-backtester/internal/broker"
	"github.com/ismaiel54/strategy-backtester/internal/bus"
	"github.com/ismaiel54/strategy-backtester/internal/decision"
	"github.com/ismaiel54/strategy-backtester/internal/strategy"
)

// Config holds runtime configuration shared by the binaries
type Config struct {
	// Service name
	ServiceName string

	// Log level: debug, info, warn, error
	LogLevel string

	// Data directory for the run store
	DataDir string

	// Kafka brokers (comma-separated)
	KafkaBrokers string
}

// LoadConfig loads configuration from environment variables with defaults
func LoadConfig(serviceName string) *Config {
	cfg := &Config{
		ServiceName:  serviceName,
		LogLevel:     getEnvAsString("LOG_LEVEL", "info"),
		DataDir:      getEnvAsString("DATA_DIR", "./data"),
		KafkaBrokers: getEnvAsString("KAFKA_BROKERS", "127.0.0.1:9092"),
	}

	return cfg
}

// RunStorePath returns the sqlite run-store location under the data dir.
func (c *Config) RunStorePath() string {
	return filepath.Join(c.DataDir, "runs.db")
}

// Scenario is one backtest definition, loaded from a YAML file. The file
// fully determines a run: same scenario, same data, same results.
type Scenario struct {
	Name           string  `yaml:"name"`
	InitialCapital float64 `yaml:"initial_capital"`

	Feeds []FeedSpec `yaml:"feeds"`

	Strategy StrategySpec `yaml:"strategy"`
	Sizing   SizingSpec   `yaml:"sizing"`
	Broker   BrokerSpec   `yaml:"broker"`
	Bus      BusSpec      `yaml:"bus"`
}

// FeedSpec names one CSV bar series to replay
type FeedSpec struct {
	Symbol string `yaml:"symbol"`
	Path   string `yaml:"path"`
}

// StrategySpec configures the moving-average crossover strategy
type StrategySpec struct {
	FastWindow int  `yaml:"fast_window"`
	SlowWindow int  `yaml:"slow_window"`
	AllowShort bool `yaml:"allow_short"`
}

// SizingSpec configures order sizing
type SizingSpec struct {
	Mode            string  `yaml:"mode"` // fixed, percent_equity, percent_risk
	Qty             int64   `yaml:"qty"`
	Pct             float64 `yaml:"pct"`
	RiskPct         float64 `yaml:"risk_pct"`
	StopPct         float64 `yaml:"stop_pct"`
	MaxPositionSize int64   `yaml:"max_position_size"`
	MinQty          int64   `yaml:"min_qty"`
}

// BrokerSpec configures the simulated execution model
type BrokerSpec struct {
	SlippageBps       float64 `yaml:"slippage_bps"`
	SlippageJitterBps float64 `yaml:"slippage_jitter_bps"`
	CommissionFixed   float64 `yaml:"commission_fixed"`
	CommissionBps     float64 `yaml:"commission_bps"`
	Seed              int64   `yaml:"seed"`
}

// BusSpec bounds event dispatch
type BusSpec struct {
	MaxDepth              int `yaml:"max_depth"`
	MaxEventsPerKind      int `yaml:"max_events_per_kind"`
	HandlerDeadlineMillis int `yaml:"handler_deadline_millis"`
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse scenario file: %w", err)
	}

	s.applyDefaults()
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario %q: %w", s.Name, err)
	}
	return &s, nil
}

func (s *Scenario) applyDefaults() {
	if s.Name == "" {
		s.Name = "unnamed"
	}
	if s.InitialCapital == 0 {
		s.InitialCapital = 100000
	}
	if s.Strategy.FastWindow == 0 {
		s.Strategy.FastWindow = 10
	}
	if s.Strategy.SlowWindow == 0 {
		s.Strategy.SlowWindow = 30
	}
	if s.Sizing.Mode == "" {
		s.Sizing.Mode = string(decision.PolicyPercentEquity)
		s.Sizing.Pct = 0.10
	}
	if s.Broker.Seed == 0 {
		s.Broker.Seed = 1
	}

	def := bus.DefaultLimits()
	if s.Bus.MaxDepth == 0 {
		s.Bus.MaxDepth = def.MaxDepth
	}
	if s.Bus.MaxEventsPerKind == 0 {
		s.Bus.MaxEventsPerKind = def.MaxEventsPerKind
	}
	if s.Bus.HandlerDeadlineMillis == 0 {
		s.Bus.HandlerDeadlineMillis = int(def.HandlerDeadline / time.Millisecond)
	}
}

// Validate checks the scenario for unusable values.
func (s *Scenario) Validate() error {
	if s.InitialCapital <= 0 {
		return fmt.Errorf("initial_capital must be positive, got %.2f", s.InitialCapital)
	}
	if len(s.Feeds) == 0 {
		return fmt.Errorf("at least one feed is required")
	}
	for i, f := range s.Feeds {
		if f.Symbol == "" {
			return fmt.Errorf("feed %d is missing a symbol", i)
		}
		if f.Path == "" {
			return fmt.Errorf("feed %q is missing a path", f.Symbol)
		}
	}
	if err := s.StrategyConfig().Validate(); err != nil {
		return err
	}
	if err := s.SizingPolicy().Validate(); err != nil {
		return err
	}
	if s.Broker.SlippageBps < 0 || s.Broker.CommissionFixed < 0 || s.Broker.CommissionBps < 0 {
		return fmt.Errorf("broker costs must be non-negative")
	}
	return nil
}

// StrategyConfig converts the scenario into the strategy package's config.
func (s *Scenario) StrategyConfig() strategy.Config {
	return strategy.Config{
		FastWindow: s.Strategy.FastWindow,
		SlowWindow: s.Strategy.SlowWindow,
		AllowShort: s.Strategy.AllowShort,
	}
}

// SizingPolicy converts the scenario into the decision package's policy.
func (s *Scenario) SizingPolicy() decision.Policy {
	return decision.Policy{
		Mode:    decision.PolicyMode(s.Sizing.Mode),
		Qty:     s.Sizing.Qty,
		Pct:     s.Sizing.Pct,
		RiskPct: s.Sizing.RiskPct,
		StopPct: s.Sizing.StopPct,
	}
}

// Sizer builds the full sizer including caps.
func (s *Scenario) Sizer() decision.Sizer {
	return decision.Sizer{
		Policy:          s.SizingPolicy(),
		MaxPositionSize: s.Sizing.MaxPositionSize,
		MinQty:          s.Sizing.MinQty,
	}
}

// BrokerConfig converts the scenario into the broker package's config.
func (s *Scenario) BrokerConfig() broker.Config {
	return broker.Config{
		SlippageBps:       s.Broker.SlippageBps,
		SlippageJitterBps: s.Broker.SlippageJitterBps,
		CommissionFixed:   s.Broker.CommissionFixed,
		CommissionBps:     s.Broker.CommissionBps,
		Seed:              s.Broker.Seed,
	}
}

// BusLimits converts the scenario into dispatch limits.
func (s *Scenario) BusLimits() bus.Limits {
	return bus.Limits{
		MaxDepth:         s.Bus.MaxDepth,
		MaxEventsPerKind: s.Bus.MaxEventsPerKind,
		HandlerDeadline:  time.Duration(s.Bus.HandlerDeadlineMillis) * time.Millisecond,
	}
}

func getEnvAsString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
