package anomaly

import (
	"fmt"
	"time"
)

// Config bounds the rolling histories and sets the detection thresholds.
type Config struct {
	HistoryCapacity int           `mapstructure:"history_capacity"`
	HistoryMaxAge   time.Duration `mapstructure:"history_max_age"`

	RecentWindow   int `mapstructure:"recent_window"`
	BaselineWindow int `mapstructure:"baseline_window"`
	MinBaseline    int `mapstructure:"min_baseline"`

	// Absolute percentage-point increases in failure rate.
	FailureWarningDelta  float64 `mapstructure:"failure_warning_delta"`
	FailureCriticalDelta float64 `mapstructure:"failure_critical_delta"`

	// Relative latency increases, in percent of the baseline.
	LatencyWarningPct  float64 `mapstructure:"latency_warning_pct"`
	LatencyCriticalPct float64 `mapstructure:"latency_critical_pct"`

	CapacityWarningMultiple  float64 `mapstructure:"capacity_warning_multiple"`
	CapacityCriticalMultiple float64 `mapstructure:"capacity_critical_multiple"`

	PatternMinDays    int     `mapstructure:"pattern_min_days"`
	PatternMinSamples int     `mapstructure:"pattern_min_samples"`
	PatternSpikeDelta float64 `mapstructure:"pattern_spike_delta"`

	ForecastMinHours   int     `mapstructure:"forecast_min_hours"`
	// ForecastMaxHours is the largest horizon the CLI and HTTP API accept.
	ForecastMaxHours   int     `mapstructure:"forecast_max_hours"`
	// ForecastPriorUpper is the upper bound of the band reported for a series with no history.
	ForecastPriorUpper float64 `mapstructure:"forecast_prior_upper"`

	AlertTTL  time.Duration `mapstructure:"alert_ttl"`
	MaxAlerts int           `mapstructure:"max_alerts"`
	Timezone  string        `mapstructure:"timezone"`
}

// DefaultConfig returns thresholds tuned for one metric point per provider per minute.
func DefaultConfig() Config {
	return Config{
		HistoryCapacity:          4_320,
		HistoryMaxAge:            72 * time.Hour,
		RecentWindow:             10,
		BaselineWindow:           50,
		MinBaseline:              10,
		FailureWarningDelta:      10,
		FailureCriticalDelta:     30,
		LatencyWarningPct:        50,
		LatencyCriticalPct:       100,
		CapacityWarningMultiple:  3,
		CapacityCriticalMultiple: 5,
		PatternMinDays:           2,
		PatternMinSamples:        48,
		PatternSpikeDelta:        10,
		ForecastMinHours:         12,
		ForecastMaxHours:         168,
		ForecastPriorUpper:       1_000,
		AlertTTL:                 time.Hour,
		MaxAlerts:                256,
		Timezone:                 "UTC",
	}
}

// Validate reports the first inconsistent threshold.
func (c Config) Validate() error {
	if c.HistoryCapacity <= 0 || c.HistoryMaxAge <= 0 {
		return fmt.Errorf("anomaly: history_capacity and history_max_age must be positive")
	}
	if c.RecentWindow <= 0 || c.BaselineWindow <= 0 || c.MinBaseline <= 0 {
		return fmt.Errorf("anomaly: recent_window, baseline_window and min_baseline must be positive")
	}
	if c.MinBaseline > c.BaselineWindow {
		return fmt.Errorf("anomaly: min_baseline %d exceeds baseline_window %d", c.MinBaseline, c.BaselineWindow)
	}
	if c.RecentWindow+c.MinBaseline > c.HistoryCapacity {
		return fmt.Errorf("anomaly: history_capacity too small for the recent and baseline windows")
	}
	if c.FailureWarningDelta <= 0 || c.FailureCriticalDelta <= c.FailureWarningDelta {
		return fmt.Errorf("anomaly: failure thresholds must satisfy 0 < warning < critical")
	}
	if c.LatencyWarningPct <= 0 || c.LatencyCriticalPct <= c.LatencyWarningPct {
		return fmt.Errorf("anomaly: latency thresholds must satisfy 0 < warning < critical")
	}
	if c.CapacityWarningMultiple <= 1 || c.CapacityCriticalMultiple <= c.CapacityWarningMultiple {
		return fmt.Errorf("anomaly: capacity multiples must satisfy 1 < warning < critical")
	}
	if c.PatternMinDays < 2 {
		return fmt.Errorf("anomaly: pattern_min_days must be at least 2")
	}
	if c.ForecastMaxHours <= 0 {
		return fmt.Errorf("anomaly: forecast_max_hours must be positive")
	}
	if c.ForecastPriorUpper <= 0 {
		return fmt.Errorf("anomaly: forecast_prior_upper must be positive")
	}
	if c.AlertTTL <= 0 || c.MaxAlerts <= 0 {
		return fmt.Errorf("anomaly: alert_ttl and max_alerts must be positive")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("anomaly: timezone: %w", err)
	}
	return nil
}
