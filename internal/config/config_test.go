package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ismaiel54/strategy-backtester/internal/decision"
)

func writeScenario(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadScenario(t *testing.T) {
	path := writeScenario(t, `
name: sma-demo
initial_capital: 50000
feeds:
  - symbol: AAPL
    path: testdata/aapl.csv
strategy:
  fast_window: 5
  slow_window: 20
  allow_short: true
sizing:
  mode: fixed
  qty: 100
  max_position_size: 500
broker:
  slippage_bps: 5
  commission_fixed: 1.0
  seed: 42
bus:
  max_depth: 4
`)

	s, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "sma-demo", s.Name)
	assert.Equal(t, 50000.0, s.InitialCapital)
	require.Len(t, s.Feeds, 1)
	assert.Equal(t, "AAPL", s.Feeds[0].Symbol)

	assert.Equal(t, 5, s.StrategyConfig().FastWindow)
	assert.True(t, s.StrategyConfig().AllowShort)

	sizer := s.Sizer()
	assert.Equal(t, decision.PolicyFixed, sizer.Policy.Mode)
	assert.Equal(t, int64(100), sizer.Policy.Qty)
	assert.Equal(t, int64(500), sizer.MaxPositionSize)

	assert.Equal(t, 5.0, s.BrokerConfig().SlippageBps)
	assert.Equal(t, int64(42), s.BrokerConfig().Seed)

	limits := s.BusLimits()
	assert.Equal(t, 4, limits.MaxDepth, "explicit bus values override defaults")
	assert.Equal(t, 256, limits.MaxEventsPerKind, "unset bus values fall back to defaults")
}

func TestLoadScenario_Defaults(t *testing.T) {
	path := writeScenario(t, `
feeds:
  - symbol: AAPL
    path: testdata/aapl.csv
`)

	s, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "unnamed", s.Name)
	assert.Equal(t, 100000.0, s.InitialCapital)
	assert.Equal(t, 10, s.Strategy.FastWindow)
	assert.Equal(t, 30, s.Strategy.SlowWindow)
	assert.Equal(t, decision.PolicyPercentEquity, s.SizingPolicy().Mode)
}

func TestLoadScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no feeds", "initial_capital: 1000\n"},
		{"feed missing path", "feeds:\n  - symbol: AAPL\n"},
		{"negative capital", "initial_capital: -5\nfeeds:\n  - symbol: A\n    path: a.csv\n"},
		{"bad sizing mode", "feeds:\n  - symbol: A\n    path: a.csv\nsizing:\n  mode: martingale\n"},
		{"fast >= slow", "feeds:\n  - symbol: A\n    path: a.csv\nstrategy:\n  fast_window: 30\n  slow_window: 10\n"},
		{"negative commission", "feeds:\n  - symbol: A\n    path: a.csv\nbroker:\n  commission_fixed: -1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeScenario(t, tt.body)
			_, err := LoadScenario(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DATA_DIR", "/tmp/bt-data")

	cfg := LoadConfig("backtest")
	assert.Equal(t, "backtest", cfg.ServiceName)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, filepath.Join("/tmp/bt-data", "runs.db"), cfg.RunStorePath())
}
