package simulate

import (
	"context"
	"encoding/binary"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/payments"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/routing"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/service"
)

// Behaviour is how a simulated provider performs.
type Behaviour struct {
	SuccessRate float64
	LatencyMs   float64
	FeePercent  float64
}

// Degradation overrides one provider's behaviour, optionally in one country, for requests
// stamped within [Start, End). A zero End means open-ended.
type Degradation struct {
	Provider    string
	Country     string
	Start       time.Time
	End         time.Time
	SuccessRate float64
	LatencyMs   float64
}

func (d Degradation) applies(provider, country string, at time.Time) bool {
	if d.Provider == "" || d.Provider != provider {
		return false
	}
	if d.Country != "" && d.Country != country {
		return false
	}
	if at.Before(d.Start) {
		return false
	}
	return d.End.IsZero() || at.Before(d.End)
}

var failureReasons = []string{
	"insufficient funds",
	"subscriber unreachable",
	"provider timeout",
	"transaction declined",
}

// Executor simulates provider calls. Outcomes are drawn from a seeded source, so a fixed
// request sequence yields fixed results.
type Executor struct {
	mu        sync.Mutex
	rng       *rand.Rand
	behaviour map[string]Behaviour
	fallback  Behaviour
	degrade   []Degradation
	calls     map[string]int
}

// NewExecutor seeds provider behaviour from the routing profiles.
func NewExecutor(seed int64, profiles map[string]routing.ProviderProfile, degrade ...Degradation) *Executor {
	var key [32]byte
	binary.LittleEndian.PutUint64(key[:], uint64(seed))
	key[30] = 2

	e := &Executor{
		rng:       rand.New(rand.NewChaCha8(key)),
		behaviour: make(map[string]Behaviour, len(profiles)),
		fallback:  Behaviour{SuccessRate: 0.9, LatencyMs: 5_000, FeePercent: 2},
		calls:     make(map[string]int),
	}
	for name, p := range profiles {
		e.behaviour[strings.ToLower(name)] = Behaviour{
			SuccessRate: p.BaselineSuccessRate,
			LatencyMs:   p.TypicalLatencyMs,
			FeePercent:  p.FeePercent,
		}
	}
	for _, d := range degrade {
		d.Provider = strings.ToLower(strings.TrimSpace(d.Provider))
		d.Country = payments.NormalizeCountry(d.Country)
		e.degrade = append(e.degrade, d)
	}
	return e
}

// Execute draws an outcome for one call.
func (e *Executor) Execute(ctx context.Context, provider string, req service.Request) (service.Execution, error) {
	if err := ctx.Err(); err != nil {
		return service.Execution{}, err
	}
	provider = strings.ToLower(provider)
	country := req.DestinationCountry
	if country == "" {
		country = req.Customer.Country
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls[provider]++

	b, ok := e.behaviour[provider]
	if !ok {
		b = e.fallback
	}
	for _, d := range e.degrade {
		if d.applies(provider, country, req.Timestamp) {
			b.SuccessRate = d.SuccessRate
			if d.LatencyMs > 0 {
				b.LatencyMs = d.LatencyMs
			}
		}
	}

	// Latency jitters within +/-25% of the typical value.
	jitter := 0.75 + e.rng.Float64()*0.5
	latency := time.Duration(b.LatencyMs * jitter * float64(time.Millisecond))

	if e.rng.Float64() >= b.SuccessRate {
		return service.Execution{
			Success:       false,
			Latency:       latency,
			FailureReason: failureReasons[e.rng.IntN(len(failureReasons))],
		}, nil
	}

	fee := req.Amount.Value.Mul(decimal.NewFromFloat(b.FeePercent)).Div(decimal.NewFromInt(100)).Round(2)
	return service.Execution{Success: true, Latency: latency, Fee: fee}, nil
}

// CallCount is the number of calls one provider received.
type CallCount struct {
	Provider string
	Calls    int
}

// Calls returns per-provider call counts, most called first.
func (e *Executor) Calls() []CallCount {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]CallCount, 0, len(e.calls))
	for p, n := range e.calls {
		out = append(out, CallCount{Provider: p, Calls: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Calls != out[j].Calls {
			return out[i].Calls > out[j].Calls
		}
		return out[i].Provider < out[j].Provider
	})
	return out
}

var _ service.Executor = (*Executor)(nil)
