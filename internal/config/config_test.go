package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: paycore-test\n"))
	require.NoError(t, err)

	assert.Equal(t, "paycore-test", cfg.App.Name)
	assert.Equal(t, time.Minute, cfg.Scheduler.Interval)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 256, cfg.Alerting.QueueSize)
	assert.Equal(t, []string{"KE", "NG", "GH", "UG", "TZ"}, cfg.Simulation.Countries)

	assert.Equal(t, 500_000.0, cfg.Risk.CriticalAmount)
	assert.Equal(t, 0.2, cfg.Routing.Alpha)
	assert.Equal(t, []string{"mpesa", "paystack", "intasend", "airtel_money"}, cfg.Routing.Preferences["KE"])
	assert.Equal(t, time.Hour, cfg.Anomaly.AlertTTL)
	assert.Equal(t, 10, cfg.Query.DisplayLimit)
	assert.False(t, cfg.Server.Enabled)
	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
}

func TestLoadEngineOverridesKeepDefaults(t *testing.T) {
	path := writeConfig(t, `
risk:
  critical_amount: 750000
  velocity_window: 10m
  weights:
    structuring: 50
routing:
  alpha: 0.3
  preferences:
    sn: [wave, orange_money]
anomaly:
  alert_ttl: 30m
  failure_warning_delta: 5
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 750_000.0, cfg.Risk.CriticalAmount)
	assert.Equal(t, 100_000.0, cfg.Risk.HighAmount)
	assert.Equal(t, 10*time.Minute, cfg.Risk.VelocityWindow)
	assert.Equal(t, 50, cfg.Risk.Weights["structuring"])
	assert.Equal(t, 45, cfg.Risk.Weights["amount_critical"])

	assert.Equal(t, 0.3, cfg.Routing.Alpha)
	assert.Equal(t, []string{"wave", "orange_money"}, cfg.Routing.Preferences["SN"])
	assert.NotEmpty(t, cfg.Routing.Preferences["KE"])

	assert.Equal(t, 30*time.Minute, cfg.Anomaly.AlertTTL)
	assert.Equal(t, 5.0, cfg.Anomaly.FailureWarningDelta)
	assert.Equal(t, 30.0, cfg.Anomaly.FailureCriticalDelta)
}

func TestLoadOverridesExistingMapKeys(t *testing.T) {
	path := writeConfig(t, `
risk:
  fx_rates:
    usd: 1000
routing:
  preferences:
    ke: [intasend]
`)
	defaults := Default()
	// Map iteration order varies between loads; every load must honour the override.
	for i := 0; i < 50; i++ {
		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, []string{"intasend"}, cfg.Routing.Preferences["KE"])
		assert.NotContains(t, cfg.Routing.Preferences, "ke")
		assert.Len(t, cfg.Routing.Preferences, len(defaults.Routing.Preferences))

		assert.Equal(t, 1000.0, cfg.Risk.FXRates["USD"])
		assert.NotContains(t, cfg.Risk.FXRates, "usd")
		assert.Equal(t, defaults.Risk.FXRates["NGN"], cfg.Risk.FXRates["NGN"])
	}
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("PAYCORE_DATABASE_DSN", "postgres://paycore@localhost/paycore")
	t.Setenv("PAYCORE_SCHEDULER_INTERVAL", "30s")

	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, "postgres://paycore@localhost/paycore", cfg.Database.DSN)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.Interval)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"telegram without token": "alerting:\n  telegram:\n    enabled: true\n",
		"webhook without url":    "alerting:\n  webhook:\n    enabled: true\n",
		"bad severity":           "alerting:\n  min_severity: loud\n",
		"bad risk bands":         "risk:\n  critical_amount: 10\n",
		"bad routing alpha":      "routing:\n  alpha: 2\n",
		"bad anomaly thresholds": "anomaly:\n  failure_critical_delta: 1\n",
		"server without address": "server:\n  enabled: true\n  listen_addr: \"\"\n",
	}
	for name, body := range cases {
		_, err := Load(writeConfig(t, body))
		assert.Error(t, err, name)
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := Default()
	cfg.Export.MaxDataPoints = 100
	assert.Equal(t, 100, cfg.ResolveMaxPoints(0))
	assert.Equal(t, 5, cfg.ResolveMaxPoints(5))
}
