package routing

import (
	"fmt"
	"sort"
	"strings"
)

// Priority selects how candidate scores are weighted.
type Priority string

const (
	PrioritySpeed       Priority = "speed"
	PriorityCost        Priority = "cost"
	PriorityReliability Priority = "reliability"
	PriorityBalanced    Priority = "balanced"
)

// ParsePriority maps free text onto a Priority, defaulting to balanced.
func ParsePriority(v string) Priority {
	switch Priority(strings.ToLower(strings.TrimSpace(v))) {
	case PrioritySpeed:
		return PrioritySpeed
	case PriorityCost:
		return PriorityCost
	case PriorityReliability:
		return PriorityReliability
	default:
		return PriorityBalanced
	}
}

// ProviderProfile is the static, provider-declared knowledge used before outcomes are learned.
type ProviderProfile struct {
	FeePercent          float64  `mapstructure:"fee_percent"`
	TypicalLatencyMs    float64  `mapstructure:"typical_latency_ms"`
	BaselineSuccessRate float64  `mapstructure:"baseline_success_rate"`
	Instant             bool     `mapstructure:"instant"`
	Methods             []string `mapstructure:"methods"`
}

func (p ProviderProfile) supports(method string) bool {
	if method == "" || len(p.Methods) == 0 {
		return true
	}
	for _, m := range p.Methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

// Weights blends the four score components for one priority mode.
type Weights struct {
	Success  float64 `mapstructure:"success"`
	Latency  float64 `mapstructure:"latency"`
	Cost     float64 `mapstructure:"cost"`
	Baseline float64 `mapstructure:"baseline"`
}

func (w Weights) sum() float64 { return w.Success + w.Latency + w.Cost + w.Baseline }

// Config holds the preference table, provider profiles and learning parameters.
// Map keys are matched case-insensitively since viper lower-cases them.
type Config struct {
	Alpha              float64 `mapstructure:"alpha"`
	Alternatives       int     `mapstructure:"alternatives"`
	BufferOutcomes     bool    `mapstructure:"buffer_outcomes"`
	BufferSize         int     `mapstructure:"buffer_size"`
	MaxLatencyMs       float64 `mapstructure:"max_latency_ms"`
	MaxFeePercent      float64 `mapstructure:"max_fee_percent"`
	InstantBonus       float64 `mapstructure:"instant_bonus"`
	ConfidentAfter     int     `mapstructure:"confident_after"`
	FallbackConfidence float64 `mapstructure:"fallback_confidence"`

	Preferences map[string][]string        `mapstructure:"preferences"`
	Fallback    []string                   `mapstructure:"fallback"`
	Providers   map[string]ProviderProfile `mapstructure:"providers"`
	Priorities  map[string]Weights         `mapstructure:"priorities"`
}

// DefaultConfig seeds the preference table for the supported African markets.
func DefaultConfig() Config {
	mobile := []string{"mobile_money"}
	return Config{
		Alpha:              0.2,
		Alternatives:       3,
		BufferOutcomes:     false,
		BufferSize:         1024,
		MaxLatencyMs:       30_000,
		MaxFeePercent:      5,
		InstantBonus:       0.1,
		ConfidentAfter:     20,
		FallbackConfidence: 0.5,
		Preferences: map[string][]string{
			"KE": {"mpesa", "paystack", "intasend", "airtel_money"},
			"NG": {"paystack", "flutterwave", "intasend", "chipper_cash"},
			"UG": {"mtn_momo", "airtel_money"},
			"GH": {"mtn_momo", "paystack", "flutterwave", "vodafone_cash"},
			"TZ": {"mpesa", "airtel_money", "tigo_pesa", "flutterwave"},
			"RW": {"mtn_momo", "airtel_money", "flutterwave"},
			"ZA": {"paystack", "flutterwave"},
			"CI": {"flutterwave", "mtn_momo"},
		},
		Fallback: []string{"flutterwave", "paystack"},
		Providers: map[string]ProviderProfile{
			"mpesa":         {FeePercent: 1.5, TypicalLatencyMs: 3_000, BaselineSuccessRate: 0.96, Instant: true, Methods: mobile},
			"airtel_money":  {FeePercent: 1.8, TypicalLatencyMs: 4_000, BaselineSuccessRate: 0.92, Instant: true, Methods: mobile},
			"mtn_momo":      {FeePercent: 1.5, TypicalLatencyMs: 3_500, BaselineSuccessRate: 0.93, Instant: true, Methods: mobile},
			"vodafone_cash": {FeePercent: 1.7, TypicalLatencyMs: 4_000, BaselineSuccessRate: 0.90, Instant: true, Methods: mobile},
			"tigo_pesa":     {FeePercent: 1.7, TypicalLatencyMs: 4_500, BaselineSuccessRate: 0.90, Instant: true, Methods: mobile},
			"paystack":      {FeePercent: 1.5, TypicalLatencyMs: 2_500, BaselineSuccessRate: 0.95, Methods: []string{"card", "bank_transfer", "mobile_money"}},
			"flutterwave":   {FeePercent: 1.4, TypicalLatencyMs: 3_000, BaselineSuccessRate: 0.94, Methods: []string{"card", "bank_transfer", "mobile_money"}},
			"intasend":      {FeePercent: 1.0, TypicalLatencyMs: 5_000, BaselineSuccessRate: 0.91, Methods: []string{"card", "mobile_money"}},
			"chipper_cash":  {FeePercent: 0.9, TypicalLatencyMs: 6_000, BaselineSuccessRate: 0.89, Methods: []string{"wallet", "mobile_money"}},
		},
		Priorities: map[string]Weights{
			string(PrioritySpeed):       {Success: 0.2, Latency: 0.55, Cost: 0.1, Baseline: 0.15},
			string(PriorityCost):        {Success: 0.2, Latency: 0.1, Cost: 0.55, Baseline: 0.15},
			string(PriorityReliability): {Success: 0.65, Latency: 0.1, Cost: 0.1, Baseline: 0.15},
			string(PriorityBalanced):    {Success: 0.3, Latency: 0.25, Cost: 0.25, Baseline: 0.2},
		},
	}
}

// Validate checks learning parameters and table shape.
func (c Config) Validate() error {
	if c.Alpha <= 0 || c.Alpha > 1 {
		return fmt.Errorf("routing: alpha must be within (0, 1]")
	}
	if c.Alternatives < 0 {
		return fmt.Errorf("routing: alternatives cannot be negative")
	}
	if c.BufferOutcomes && c.BufferSize <= 0 {
		return fmt.Errorf("routing: buffer_size must be positive when buffering outcomes")
	}
	if c.MaxLatencyMs <= 0 || c.MaxFeePercent <= 0 {
		return fmt.Errorf("routing: max_latency_ms and max_fee_percent must be positive")
	}
	if len(c.Fallback) == 0 {
		return fmt.Errorf("routing: fallback provider list cannot be empty")
	}
	if c.FallbackConfidence <= 0 || c.FallbackConfidence > 1 {
		return fmt.Errorf("routing: fallback_confidence must be within (0, 1]")
	}
	for name, w := range c.Priorities {
		if w.sum() <= 0 {
			return fmt.Errorf("routing: priority %q has no positive weights", name)
		}
	}
	return nil
}

// normalized returns a copy with upper-case country keys and lower-case provider names.
// When two keys differ only in case the lower-case spelling wins, since that is how viper
// hands over file overrides. An empty fallback list is replaced by the default one.
func (c Config) normalized() Config {
	out := c
	out.Preferences = make(map[string][]string, len(c.Preferences))
	countries := make([]string, 0, len(c.Preferences))
	for country := range c.Preferences {
		countries = append(countries, country)
	}
	// Upper-case letters sort first, so lower-case duplicates overwrite them.
	sort.Strings(countries)
	for _, country := range countries {
		out.Preferences[strings.ToUpper(strings.TrimSpace(country))] = lowerAll(c.Preferences[country])
	}
	out.Fallback = lowerAll(c.Fallback)
	if len(out.Fallback) == 0 {
		out.Fallback = DefaultConfig().Fallback
	}
	out.Providers = make(map[string]ProviderProfile, len(c.Providers))
	for name, p := range c.Providers {
		out.Providers[strings.ToLower(name)] = p
	}
	out.Priorities = make(map[string]Weights, len(c.Priorities))
	for name, w := range c.Priorities {
		out.Priorities[strings.ToLower(name)] = w
	}
	return out
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}
