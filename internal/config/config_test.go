package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
strategy:
  shift_window: 90m
trading:
  max_positions_per_symbol: 1
venues:
  - name: paper
    driver: paper
    classes: [forex]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, ":9985", cfg.App.HTTPAddr)
	assert.Equal(t, "1h", cfg.Market.ContextInterval)
	assert.Equal(t, 5*time.Second, cfg.Market.TriggerPoll())
	assert.InDelta(t, 0.30, cfg.Strategy.WickRatioMin, 1e-9)
	assert.InDelta(t, 1.0, cfg.Risk.RiskPercent, 1e-9)
	assert.InDelta(t, 1.5, cfg.Lifecycle.BreakevenR, 1e-9)
	assert.Equal(t, 10*time.Second, cfg.Lifecycle.CallTimeout())
	assert.Equal(t, 5, cfg.Venues[0].DegradedThreshold)

	shift, err := cfg.Strategy.ShiftWindowDuration()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, shift)
	entry, err := cfg.Strategy.EntryWindowDuration()
	require.NoError(t, err)
	assert.Equal(t, time.Hour, entry)
}

func TestLoadRequiresShiftWindow(t *testing.T) {
	_, err := Load(writeConfig(t, `
trading:
  max_positions_per_symbol: 1
venues:
  - name: paper
    driver: paper
    classes: [forex]
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shift_window")
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"risk cap": `
strategy: {shift_window: 90m}
risk: {risk_percent: 7}
trading: {max_positions_per_symbol: 1}
venues: [{name: paper, driver: paper, classes: [forex]}]
`,
		"partial fraction": `
strategy: {shift_window: 90m}
lifecycle: {partial_fraction: 1.5}
trading: {max_positions_per_symbol: 1}
venues: [{name: paper, driver: paper, classes: [forex]}]
`,
		"multi position": `
strategy: {shift_window: 90m}
trading: {max_positions_per_symbol: 3}
venues: [{name: paper, driver: paper, classes: [forex]}]
`,
		"unknown driver": `
strategy: {shift_window: 90m}
trading: {max_positions_per_symbol: 1}
venues: [{name: mt5, driver: mt5, classes: [forex]}]
`,
		"duplicate venue": `
strategy: {shift_window: 90m}
trading: {max_positions_per_symbol: 1}
venues:
  - {name: paper, driver: paper, classes: [forex]}
  - {name: paper, driver: paper, classes: [crypto]}
`,
		"no venues": `
strategy: {shift_window: 90m}
trading: {max_positions_per_symbol: 1}
`,
		"telegram incomplete": `
strategy: {shift_window: 90m}
trading: {max_positions_per_symbol: 1}
venues: [{name: paper, driver: paper, classes: [forex]}]
notify: {telegram: {enabled: true}}
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
	_, err = Load("")
	assert.Error(t, err)
}

func TestLoadFullDocument(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
app:
  http_addr: ":8080"
  log_level: debug
strategy:
  shift_window: 4h
  entry_window: 2h
  min_risk_reward: 3
risk:
  risk_percent: 0.5
  daily_loss_limit: 250
sessions:
  crypto: [BTCUSDT]
  forex:
    - name: LONDON
      start_hour: 7
      end_hour: 15
      symbols: [EURUSD, GBPUSD]
trading:
  max_positions_per_symbol: 1
  dry_run: true
  emergency_token: FLATTEN
venues:
  - name: binance-futures
    driver: binance
    classes: [crypto]
    http_timeout_seconds: 20
  - name: paper
    driver: paper
    classes: [forex]
store:
  archive_path: /tmp/trades.db
`))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.App.HTTPAddr)
	assert.InDelta(t, 3, cfg.Strategy.MinRiskReward, 1e-9)
	assert.True(t, cfg.Trading.DryRun)
	assert.Equal(t, "FLATTEN", cfg.Trading.EmergencyToken)
	require.Len(t, cfg.Sessions.Forex, 1)
	assert.Equal(t, []string{"EURUSD", "GBPUSD"}, cfg.Sessions.Forex[0].Symbols)
	assert.Equal(t, 20, cfg.Venues[0].HTTPTimeoutSeconds)
	assert.Equal(t, "/tmp/trades.db", cfg.Store.ArchivePath)
}
