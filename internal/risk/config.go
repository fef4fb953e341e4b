package risk

import (
	"fmt"
	"strings"
	"time"
)

// Config carries every threshold and weight used by the rule table.
// Amounts are expressed in ReferenceCurrency; FXRates converts other currencies into it.
type Config struct {
	ReferenceCurrency string             `mapstructure:"reference_currency"`
	FXRates           map[string]float64 `mapstructure:"fx_rates"`

	HighAmount     float64 `mapstructure:"high_amount"`
	CriticalAmount float64 `mapstructure:"critical_amount"`
	SmallAmount    float64 `mapstructure:"small_amount"`

	VelocityMaxCount int           `mapstructure:"velocity_max_count"`
	VelocityWindow   time.Duration `mapstructure:"velocity_window"`

	TravelMinInterval time.Duration `mapstructure:"travel_min_interval"`

	LateNightStartHour int    `mapstructure:"late_night_start_hour"`
	LateNightEndHour   int    `mapstructure:"late_night_end_hour"`
	Timezone           string `mapstructure:"timezone"`

	UnusualTimeMinHistory int     `mapstructure:"unusual_time_min_history"`
	UnusualTimeMinShare   float64 `mapstructure:"unusual_time_min_share"`

	StructuringMinCount int           `mapstructure:"structuring_min_count"`
	StructuringWindow   time.Duration `mapstructure:"structuring_window"`

	CountriesMin    int           `mapstructure:"countries_min"`
	CountriesWindow time.Duration `mapstructure:"countries_window"`

	ProfileCapacity int           `mapstructure:"profile_capacity"`
	ProfileMaxAge   time.Duration `mapstructure:"profile_max_age"`
	Shards          int           `mapstructure:"shards"`

	// Weights is keyed by lower-cased rule id (viper lower-cases map keys).
	Weights map[string]int `mapstructure:"weights"`
	Bands   Bands          `mapstructure:"bands"`
}

// Bands holds the score cut points for levels and decisions.
type Bands struct {
	Medium   int `mapstructure:"medium"`
	High     int `mapstructure:"high"`
	Critical int `mapstructure:"critical"`
	Review   int `mapstructure:"review"`
	Block    int `mapstructure:"block"`
}

// DefaultConfig returns thresholds tuned for KES-denominated mobile money traffic.
func DefaultConfig() Config {
	return Config{
		ReferenceCurrency: "KES",
		FXRates: map[string]float64{
			"KES": 1,
			"USD": 129,
			"EUR": 140,
			"NGN": 0.085,
			"GHS": 8.5,
			"UGX": 0.035,
			"TZS": 0.05,
			"ZAR": 7.1,
			"RWF": 0.095,
			"XOF": 0.21,
		},
		HighAmount:            100_000,
		CriticalAmount:        500_000,
		SmallAmount:           1_000,
		VelocityMaxCount:      10,
		VelocityWindow:        5 * time.Minute,
		TravelMinInterval:     2 * time.Hour,
		LateNightStartHour:    0,
		LateNightEndHour:      4,
		Timezone:              "UTC",
		UnusualTimeMinHistory: 20,
		UnusualTimeMinShare:   0.05,
		StructuringMinCount:   10,
		StructuringWindow:     time.Hour,
		CountriesMin:          3,
		CountriesWindow:       24 * time.Hour,
		ProfileCapacity:       500,
		ProfileMaxAge:         30 * 24 * time.Hour,
		Shards:                32,
		Weights: map[string]int{
			"amount_high":               25,
			"amount_critical":           45,
			"velocity_check":            30,
			"impossible_travel":         40,
			"time_late_night":           10,
			"unusual_time_for_customer": 15,
			"structuring":               35,
			"multiple_countries":        20,
		},
		Bands: Bands{
			Medium:   30,
			High:     60,
			Critical: 85,
			Review:   50,
			Block:    85,
		},
	}
}

// Validate checks ordering and positivity constraints.
func (c Config) Validate() error {
	if c.HighAmount <= 0 || c.CriticalAmount <= c.HighAmount {
		return fmt.Errorf("risk: critical_amount must exceed high_amount > 0")
	}
	if c.SmallAmount <= 0 {
		return fmt.Errorf("risk: small_amount must be greater than zero")
	}
	if c.VelocityMaxCount <= 0 || c.VelocityWindow <= 0 {
		return fmt.Errorf("risk: velocity_max_count and velocity_window must be positive")
	}
	if c.StructuringMinCount <= 0 || c.StructuringWindow <= 0 {
		return fmt.Errorf("risk: structuring_min_count and structuring_window must be positive")
	}
	if c.CountriesMin < 2 || c.CountriesWindow <= 0 {
		return fmt.Errorf("risk: countries_min must be at least 2 with a positive window")
	}
	if c.LateNightStartHour < 0 || c.LateNightStartHour > 23 || c.LateNightEndHour < 0 || c.LateNightEndHour > 24 {
		return fmt.Errorf("risk: late night hours must be within 0-24")
	}
	if c.ProfileCapacity <= 0 || c.ProfileMaxAge <= 0 {
		return fmt.Errorf("risk: profile_capacity and profile_max_age must be positive")
	}
	b := c.Bands
	if !(b.Medium < b.High && b.High < b.Critical && b.Critical <= 100) {
		return fmt.Errorf("risk: bands must satisfy medium < high < critical <= 100")
	}
	if !(b.Review < b.Block && b.Block <= 100) {
		return fmt.Errorf("risk: bands must satisfy review < block <= 100")
	}
	if _, err := time.LoadLocation(c.Timezone); c.Timezone != "" && err != nil {
		return fmt.Errorf("risk: timezone %q: %w", c.Timezone, err)
	}
	return nil
}

func (c Config) weight(id string) int {
	w, ok := c.Weights[strings.ToLower(id)]
	if !ok {
		w = DefaultConfig().Weights[strings.ToLower(id)]
	}
	if w < 0 {
		return 0
	}
	return w
}
