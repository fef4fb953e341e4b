// Package simulate produces deterministic synthetic payment traffic and a provider model that
// stands in for real adapters.
package simulate

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/payments"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/routing"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/service"
)

// currencies maps a market to its currency and the KES value of one unit.
var currencies = map[string]struct {
	code   string
	perKES float64
}{
	"KE": {"KES", 1},
	"NG": {"NGN", 0.085},
	"GH": {"GHS", 8.5},
	"UG": {"UGX", 0.035},
	"TZ": {"TZS", 0.05},
	"ZA": {"ZAR", 7.1},
	"RW": {"RWF", 0.095},
	"CI": {"XOF", 0.21},
}

var dialCodes = map[string]string{
	"KE": "+254", "NG": "+234", "GH": "+233", "UG": "+256",
	"TZ": "+255", "ZA": "+27", "RW": "+250", "CI": "+225",
}

// GeneratorConfig shapes the synthetic population.
type GeneratorConfig struct {
	Seed       int64
	Customers  int
	Countries  []string
	FraudRatio float64
}

// Generator emits payment requests from a fixed population. Output depends only on the seed
// and the call sequence.
type Generator struct {
	mu        sync.Mutex
	rng       *rand.Rand
	ids       *rand.ChaCha8
	customers []payments.Customer
	fraud     float64
}

// NewGenerator builds the seeded customer population.
func NewGenerator(cfg GeneratorConfig) *Generator {
	var seed [32]byte
	binary.LittleEndian.PutUint64(seed[:], uint64(cfg.Seed))
	draws := rand.NewChaCha8(seed)
	seed[31] = 1

	countries := cfg.Countries
	if len(countries) == 0 {
		countries = []string{"KE"}
	}

	g := &Generator{
		rng:   rand.New(draws),
		ids:   rand.NewChaCha8(seed),
		fraud: cfg.FraudRatio,
	}
	g.customers = make([]payments.Customer, max(cfg.Customers, 1))
	for i := range g.customers {
		country := payments.NormalizeCountry(countries[g.rng.IntN(len(countries))])
		g.customers[i] = payments.Customer{
			ID:      fmt.Sprintf("cust-%04d", i+1),
			Country: country,
			Phone:   fmt.Sprintf("%s7%08d", dialCode(country), g.rng.IntN(100_000_000)),
		}
	}
	return g
}

// Customers returns the population.
func (g *Generator) Customers() []payments.Customer {
	return append([]payments.Customer(nil), g.customers...)
}

// Batch returns n requests stamped at. A fraud draw expands into a burst for one customer:
// a foreign oversized payment followed by rapid small ones.
func (g *Generator) Batch(n int, at time.Time) []service.Request {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]service.Request, 0, n)
	for len(out) < n {
		c := g.customers[g.rng.IntN(len(g.customers))]
		if g.fraud > 0 && g.rng.Float64() < g.fraud {
			out = append(out, g.burst(c, at)...)
			continue
		}
		out = append(out, g.request(c, c.Country, g.amountKES(), at))
	}
	return out[:n]
}

func (g *Generator) burst(c payments.Customer, at time.Time) []service.Request {
	foreign := c.Country
	for _, country := range []string{"NG", "ZA", "GH", "KE"} {
		if country != c.Country {
			foreign = country
			break
		}
	}
	out := []service.Request{g.request(c, foreign, 600_000+g.rng.Float64()*400_000, at)}
	for i := 0; i < 3; i++ {
		out = append(out, g.request(c, c.Country, 200+g.rng.Float64()*600, at.Add(time.Duration(i+1)*time.Second)))
	}
	return out
}

func (g *Generator) request(c payments.Customer, country string, kes float64, at time.Time) service.Request {
	cur, ok := currencies[country]
	if !ok {
		cur = currencies["KE"]
	}
	value := decimal.NewFromFloat(kes / cur.perKES).Round(2)

	c.Country = country
	return service.Request{
		TransactionID: g.id(),
		Amount:        payments.Amount{Value: value, Currency: cur.code},
		Customer:      c,
		PaymentMethod: g.method(),
		Priority:      g.priority(),
		Timestamp:     at,
	}
}

// amountKES draws a log-normal amount centred near 2,500 KES.
func (g *Generator) amountKES() float64 {
	v := math.Exp(math.Log(2_500) + g.rng.NormFloat64()*0.9)
	return math.Min(math.Max(v, 50), 450_000)
}

func (g *Generator) method() string {
	switch r := g.rng.Float64(); {
	case r < 0.7:
		return "mobile_money"
	case r < 0.9:
		return "card"
	default:
		return "bank_transfer"
	}
}

func (g *Generator) priority() routing.Priority {
	switch r := g.rng.Float64(); {
	case r < 0.55:
		return routing.PriorityBalanced
	case r < 0.75:
		return routing.PriorityReliability
	case r < 0.9:
		return routing.PrioritySpeed
	default:
		return routing.PriorityCost
	}
}

func (g *Generator) id() string {
	id, err := uuid.NewRandomFromReader(g.ids)
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func dialCode(country string) string {
	if code, ok := dialCodes[country]; ok {
		return code
	}
	return "+000"
}
