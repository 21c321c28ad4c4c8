package ops

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/strategy"
)

const sampleConfig = `
mode: paper
session_id: sess-test
symbols:
  - PUMPUSDT
  - ETHUSDT

paper:
  fee_rate: 0.001
  slippage_bps: 5

postgres:
  host: db.internal
  port: 5432
  user: pump
  database: pump_events

risk:
  max_order_quantity: 1000
  max_position: 5000

reconcile_interval_seconds: 15
bar_interval_seconds: 1
indicator_lookback_bars: 60

strategies:
  - id: pump-v1
    quantity: 100
    entry_timeout_seconds: 30
    cooldown_seconds: 300
    detect:
      logic: AND
      conditions:
        - indicator: pump_magnitude_pct
          operator: ">"
          threshold: 7
        - indicator: volume_surge_ratio
          operator: ">"
          threshold: 3
    confirm:
      logic: AND
      conditions:
        - indicator: rsi_14
          operator: "<"
          threshold: 80
    emergency:
      logic: OR
      conditions:
        - indicator: pump_magnitude_pct
          operator: "<"
          threshold: -5
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadResolvesFullConfig(t *testing.T) {
	loaded, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, ModePaper, loaded.Mode)
	assert.Equal(t, "sess-test", loaded.SessionID)
	assert.Equal(t, []string{"PUMPUSDT", "ETHUSDT"}, loaded.Symbols)
	assert.Equal(t, 15*time.Second, loaded.ReconcileInterval)
	assert.Equal(t, time.Second, loaded.Feed.Interval)
	assert.Equal(t, 60, loaded.Feed.Lookback)
	assert.Equal(t, "5", loaded.Paper.SlippageBps.String())
	assert.Equal(t, "db.internal", loaded.Postgres.Host)
	assert.Equal(t, "1000", loaded.Risk.MaxOrderQuantity.String())
	assert.True(t, loaded.Risk.MaxOrderNotional.IsZero(), "unset limit stays disabled")

	require.Len(t, loaded.Strategies, 1)
	s := loaded.Strategies[0]
	assert.Equal(t, "pump-v1", s.ID)
	assert.Equal(t, 30*time.Second, s.EntryTimeout)
	assert.Equal(t, 5*time.Minute, s.Cooldown)
	require.Len(t, s.Detect.Conditions, 2)
	assert.Equal(t, strategy.OpGT, s.Detect.Conditions[0].Op)
	assert.Equal(t, 7.0, s.Detect.Conditions[0].Threshold)
	assert.Equal(t, strategy.LogicOr, s.Emergency.Logic)
	assert.True(t, s.Cancel.Empty())
	assert.True(t, s.TakeProfit.Empty())
}

func TestLoadRejectsUnknownMode(t *testing.T) {
	body := "mode: turbo\nsession_id: s\nsymbols: [PUMPUSDT]\n"
	_, err := Load(writeConfig(t, body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown execution mode")
}

func TestLoadRejectsLiveWithoutVenue(t *testing.T) {
	body := "mode: live\nsession_id: s\nsymbols: [PUMPUSDT]\n"
	_, err := Load(writeConfig(t, body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_url")
}

func TestLoadRejectsInvalidStrategy(t *testing.T) {
	body := `
mode: paper
session_id: s
symbols: [PUMPUSDT]
strategies:
  - id: broken
    quantity: 0
    entry_timeout_seconds: 30
    cooldown_seconds: 300
    detect:
      logic: AND
      conditions:
        - indicator: pump_magnitude_pct
          operator: ">"
          threshold: 7
`
	_, err := Load(writeConfig(t, body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quantity must be > 0")
}

func TestGroupLogicDefaultsToAnd(t *testing.T) {
	g := toGroup(GroupConfig{Conditions: []ConditionConfig{{Indicator: "rsi_14", Operator: "<", Threshold: 70}}})
	assert.Equal(t, strategy.LogicAnd, g.Logic)
}
