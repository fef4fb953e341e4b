package risk

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/ring"
)

// Rule identifiers reported in Assessment.RulesTriggered.
const (
	RuleAmountHigh        = "AMOUNT_HIGH"
	RuleAmountCritical    = "AMOUNT_CRITICAL"
	RuleVelocity          = "VELOCITY_CHECK"
	RuleImpossibleTravel  = "IMPOSSIBLE_TRAVEL"
	RuleLateNight         = "TIME_LATE_NIGHT"
	RuleUnusualTime       = "UNUSUAL_TIME_FOR_CUSTOMER"
	RuleStructuring       = "STRUCTURING"
	RuleMultipleCountries = "MULTIPLE_COUNTRIES"
)

// Rule is one independently evaluated signal. Check reports whether it fired and why.
// A Critical rule forces at least a review decision on its own.
type Rule struct {
	ID       string
	Weight   int
	Critical bool
	Action   string
	Check    func(ev *Evaluation) (bool, string)
}

// Observation is one remembered transaction in a customer profile.
type Observation struct {
	Timestamp time.Time
	Amount    decimal.Decimal
	Currency  string
	Country   string
}

// Evaluation is the read-only context handed to every rule.
// History already contains the current observation at Index.
type Evaluation struct {
	Input   CheckInput
	At      time.Time
	Local   time.Time
	Amount  decimal.Decimal
	History *ring.Buffer[Observation]

	// Index is the position of the current observation in History, which is time-ordered.
	Index  int
	Config *Config
}

// prior returns the number of observations recorded before the current one.
func (ev *Evaluation) prior() int {
	if ev.History.Len() == 0 {
		return 0
	}
	return ev.History.Len() - 1
}

// within walks the entries in [At-window, At] newest first. Entries stamped after At, left by
// earlier calls carrying later timestamps, are skipped.
func (ev *Evaluation) within(window time.Duration, fn func(Observation)) {
	cutoff := ev.At.Add(-window)
	ev.History.Reverse(func(_ int, o Observation) bool {
		if o.Timestamp.After(ev.At) {
			return true
		}
		if o.Timestamp.Before(cutoff) {
			return false
		}
		fn(o)
		return true
	})
}

// neighbours returns the observations immediately before and after the current one in time.
func (ev *Evaluation) neighbours() []Observation {
	out := make([]Observation, 0, 2)
	if ev.Index > 0 {
		out = append(out, ev.History.At(ev.Index-1))
	}
	if ev.Index+1 < ev.History.Len() {
		out = append(out, ev.History.At(ev.Index+1))
	}
	return out
}

// DefaultRules builds the rule table from cfg. The table is data; Engine evaluates it generically.
func DefaultRules(cfg Config) []Rule {
	high := decimal.NewFromFloat(cfg.HighAmount)
	critical := decimal.NewFromFloat(cfg.CriticalAmount)
	small := decimal.NewFromFloat(cfg.SmallAmount)

	return []Rule{
		{
			ID:     RuleAmountHigh,
			Weight: cfg.weight(RuleAmountHigh),
			Action: "confirm the purpose of the payment",
			Check: func(ev *Evaluation) (bool, string) {
				if ev.Amount.GreaterThan(high) && ev.Amount.LessThanOrEqual(critical) {
					return true, fmt.Sprintf("amount %s %s exceeds high threshold %s", ev.Amount.StringFixed(2), ev.Config.ReferenceCurrency, high.String())
				}
				return false, ""
			},
		},
		{
			ID:       RuleAmountCritical,
			Weight:   cfg.weight(RuleAmountCritical),
			Critical: true,
			Action:   "verify the source of funds",
			Check: func(ev *Evaluation) (bool, string) {
				if ev.Amount.GreaterThan(critical) {
					return true, fmt.Sprintf("amount %s %s exceeds critical threshold %s", ev.Amount.StringFixed(2), ev.Config.ReferenceCurrency, critical.String())
				}
				return false, ""
			},
		},
		{
			ID:     RuleVelocity,
			Weight: cfg.weight(RuleVelocity),
			Action: "confirm recent activity with the customer",
			Check: func(ev *Evaluation) (bool, string) {
				count := 0
				ev.within(ev.Config.VelocityWindow, func(Observation) { count++ })
				if count > ev.Config.VelocityMaxCount {
					return true, fmt.Sprintf("%d transactions within %s (limit %d)", count, ev.Config.VelocityWindow, ev.Config.VelocityMaxCount)
				}
				return false, ""
			},
		},
		{
			ID:     RuleImpossibleTravel,
			Weight: cfg.weight(RuleImpossibleTravel),
			Action: "verify the customer's location",
			Check: func(ev *Evaluation) (bool, string) {
				cur := ev.History.At(ev.Index)
				if cur.Country == "" {
					return false, ""
				}
				for _, other := range ev.neighbours() {
					if other.Country == "" || other.Country == cur.Country {
						continue
					}
					from, to := other, cur
					if cur.Timestamp.Before(other.Timestamp) {
						from, to = cur, other
					}
					elapsed := to.Timestamp.Sub(from.Timestamp)
					if elapsed < ev.Config.TravelMinInterval {
						return true, fmt.Sprintf("country changed %s -> %s within %s", from.Country, to.Country, elapsed.Round(time.Second))
					}
				}
				return false, ""
			},
		},
		{
			ID:     RuleLateNight,
			Weight: cfg.weight(RuleLateNight),
			Action: "confirm the customer initiated the payment",
			Check: func(ev *Evaluation) (bool, string) {
				hour := ev.Local.Hour()
				if inHourWindow(hour, ev.Config.LateNightStartHour, ev.Config.LateNightEndHour) {
					return true, fmt.Sprintf("transaction at %02d:%02d falls in unusual hours %02d:00-%02d:00", hour, ev.Local.Minute(), ev.Config.LateNightStartHour, ev.Config.LateNightEndHour)
				}
				return false, ""
			},
		},
		{
			ID:     RuleUnusualTime,
			Weight: cfg.weight(RuleUnusualTime),
			Action: "confirm the customer initiated the payment",
			Check: func(ev *Evaluation) (bool, string) {
				prior := ev.prior()
				if prior < ev.Config.UnusualTimeMinHistory {
					return false, ""
				}
				hour := ev.Local.Hour()
				loc := ev.Local.Location()
				near := 0
				ev.History.Each(func(i int, o Observation) bool {
					if i == ev.Index {
						return true
					}
					if hourDistance(o.Timestamp.In(loc).Hour(), hour) <= 1 {
						near++
					}
					return true
				})
				share := float64(near) / float64(prior)
				if share < ev.Config.UnusualTimeMinShare {
					return true, fmt.Sprintf("hour %02d seen in %.1f%% of %d prior transactions", hour, share*100, prior)
				}
				return false, ""
			},
		},
		{
			ID:     RuleStructuring,
			Weight: cfg.weight(RuleStructuring),
			Action: "review linked transactions for structuring",
			Check: func(ev *Evaluation) (bool, string) {
				count := 0
				ev.within(ev.Config.StructuringWindow, func(o Observation) {
					if normalize(o.Amount, o.Currency, ev.Config).LessThan(small) {
						count++
					}
				})
				if count >= ev.Config.StructuringMinCount {
					return true, fmt.Sprintf("%d small transactions below %s within %s", count, small.String(), ev.Config.StructuringWindow)
				}
				return false, ""
			},
		},
		{
			ID:     RuleMultipleCountries,
			Weight: cfg.weight(RuleMultipleCountries),
			Action: "verify the customer's identity and location",
			Check: func(ev *Evaluation) (bool, string) {
				seen := make(map[string]struct{})
				ev.within(ev.Config.CountriesWindow, func(o Observation) {
					if o.Country != "" {
						seen[o.Country] = struct{}{}
					}
				})
				if len(seen) >= ev.Config.CountriesMin {
					return true, fmt.Sprintf("%d distinct countries within %s", len(seen), ev.Config.CountriesWindow)
				}
				return false, ""
			},
		},
	}
}

func inHourWindow(hour, start, end int) bool {
	if start == end {
		return false
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

func hourDistance(a, b int) int {
	d := a - b
	if d < 0 {
		d = -d
	}
	if d > 12 {
		d = 24 - d
	}
	return d
}

// normalize converts an amount into the reference currency; unknown currencies pass through.
func normalize(amount decimal.Decimal, currency string, cfg *Config) decimal.Decimal {
	if currency == "" || currency == cfg.ReferenceCurrency {
		return amount
	}
	rate, ok := cfg.FXRates[currency]
	if !ok || rate <= 0 {
		return amount
	}
	return amount.Mul(decimal.NewFromFloat(rate))
}
