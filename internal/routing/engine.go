package routing

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/metrics"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/payments"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/ring"
)

var defaultProfile = ProviderProfile{FeePercent: 2, TypicalLatencyMs: 5_000, BaselineSuccessRate: 0.9}

// SelectInput describes the payment to route.
type SelectInput struct {
	Amount             decimal.Decimal
	DestinationCountry string
	PaymentMethod      string
	Priority           Priority
}

// Selection is the routing decision. Confidence and EstimatedSuccessRate are percentages.
type Selection struct {
	Provider             string          `json:"provider"`
	Confidence           float64         `json:"confidence"`
	EstimatedSuccessRate float64         `json:"estimatedSuccessRate"`
	EstimatedLatencyMs   float64         `json:"estimatedLatency"`
	EstimatedFee         decimal.Decimal `json:"estimatedFee"`
	Reason               string          `json:"reason"`
	AlternativeProviders []string        `json:"alternativeProviders"`
	Priority             Priority        `json:"priority"`
	Fallback             bool            `json:"fallback"`
}

// Outcome is the adapter-reported result of one provider call.
type Outcome struct {
	Provider  string
	Country   string
	Success   bool
	LatencyMs float64
	Cost      decimal.Decimal
	At        time.Time
}

// PerformanceEntry is one row of the performance report. SuccessRate is a percentage.
type PerformanceEntry struct {
	Provider          string    `json:"provider"`
	Country           string    `json:"country"`
	SuccessRate       float64   `json:"successRate"`
	AvgLatencyMs      float64   `json:"avgLatency"`
	AvgCost           float64   `json:"avgCost"`
	TotalTransactions int64     `json:"totalTransactions"`
	LastUpdated       time.Time `json:"lastUpdated"`
}

// LearnSummary reports what a Learn call did.
type LearnSummary struct {
	Applied int
	Records int
	At      time.Time
}

type recordKey struct {
	provider string
	country  string
}

// record is the EMA state for one (provider, country). mu guards every field.
type record struct {
	mu          sync.Mutex
	successRate float64
	avgLatency  float64
	avgCost     float64
	total       int64
	lastUpdated time.Time
}

// Options carries injected collaborators.
type Options struct {
	Logger  zerolog.Logger
	Metrics metrics.Collector
	Now     func() time.Time
}

// Engine selects providers and learns from their outcomes.
type Engine struct {
	cfg     Config
	logger  zerolog.Logger
	metrics metrics.Collector
	now     func() time.Time

	mu      sync.RWMutex
	records map[recordKey]*record

	bufMu     sync.Mutex
	buffer    *ring.Buffer[Outcome]
	lastLearn time.Time
}

// New builds an engine with no learned outcomes.
func New(cfg Config, opts Options) *Engine {
	cfg = cfg.normalized()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	e := &Engine{
		cfg:     cfg,
		logger:  opts.Logger.With().Str("component", "routing_engine").Logger(),
		metrics: metrics.OrNoOp(opts.Metrics),
		now:     now,
		records: make(map[recordKey]*record),
	}
	if cfg.BufferOutcomes {
		e.buffer = ring.New[Outcome](cfg.BufferSize)
	}
	return e
}

type candidate struct {
	provider string
	score    float64
	success  float64
	latency  float64
	fee      float64
	samples  int64
}

// SelectProvider ranks the candidate pool for the destination country. It never fails:
// unknown countries fall back to the default provider list with reduced confidence.
func (e *Engine) SelectProvider(in SelectInput) Selection {
	country := payments.NormalizeCountry(in.DestinationCountry)
	priority := ParsePriority(string(in.Priority))
	weights, ok := e.cfg.Priorities[string(priority)]
	if !ok || weights.sum() <= 0 {
		weights = DefaultConfig().Priorities[string(priority)]
	}

	pool, fallback := e.pool(country)
	pool = e.filterByMethod(pool, in.PaymentMethod)

	candidates := make([]candidate, 0, len(pool))
	for rank, provider := range pool {
		candidates = append(candidates, e.score(provider, country, rank, priority, weights))
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	best := candidates[0]
	alternatives := make([]string, 0, e.cfg.Alternatives)
	for _, c := range candidates[1:] {
		if len(alternatives) >= e.cfg.Alternatives {
			break
		}
		alternatives = append(alternatives, c.provider)
	}

	confidence := e.confidence(best, fallback)
	fee := in.Amount.Mul(decimal.NewFromFloat(best.fee)).Div(decimal.NewFromInt(100)).Round(2)

	reason := fmt.Sprintf("%s priority: %s scored %.3f (success %.1f%%, latency %.0fms, fee %.2f%%)",
		priority, best.provider, best.score, best.success*100, best.latency, best.fee)
	if best.samples > 0 {
		reason += fmt.Sprintf(" from %d observed outcomes", best.samples)
	} else {
		reason += " from provider baseline"
	}
	if fallback {
		reason += fmt.Sprintf("; country %q has no preference table, using default providers", country)
	}

	e.metrics.RecordRouting(best.provider, string(priority), fallback)
	e.logger.Debug().
		Str("country", country).
		Str("provider", best.provider).
		Str("priority", string(priority)).
		Bool("fallback", fallback).
		Msg("provider selected")

	return Selection{
		Provider:             best.provider,
		Confidence:           confidence,
		EstimatedSuccessRate: best.success * 100,
		EstimatedLatencyMs:   best.latency,
		EstimatedFee:         fee,
		Reason:               reason,
		AlternativeProviders: alternatives,
		Priority:             priority,
		Fallback:             fallback,
	}
}

func (e *Engine) pool(country string) ([]string, bool) {
	if providers := e.cfg.Preferences[country]; len(providers) > 0 {
		return providers, false
	}
	return e.cfg.Fallback, true
}

// filterByMethod drops providers that cannot take the method unless that empties the pool.
func (e *Engine) filterByMethod(pool []string, method string) []string {
	method = strings.TrimSpace(method)
	if method == "" {
		return pool
	}
	filtered := make([]string, 0, len(pool))
	for _, p := range pool {
		if e.profile(p).supports(method) {
			filtered = append(filtered, p)
		}
	}
	if len(filtered) == 0 {
		return pool
	}
	return filtered
}

func (e *Engine) profile(provider string) ProviderProfile {
	if p, ok := e.cfg.Providers[provider]; ok {
		return p
	}
	return defaultProfile
}

func (e *Engine) score(provider, country string, rank int, priority Priority, w Weights) candidate {
	prof := e.profile(provider)
	c := candidate{
		provider: provider,
		success:  prof.BaselineSuccessRate,
		latency:  prof.TypicalLatencyMs,
		fee:      prof.FeePercent,
	}

	e.mu.RLock()
	rec := e.records[recordKey{provider, country}]
	e.mu.RUnlock()
	if rec != nil {
		rec.mu.Lock()
		c.success = rec.successRate
		c.latency = rec.avgLatency
		c.samples = rec.total
		rec.mu.Unlock()
	}

	baseline := max(1-0.1*float64(rank), 0.5)
	latencyScore := clamp01(1 - c.latency/e.cfg.MaxLatencyMs)
	costScore := clamp01(1 - c.fee/e.cfg.MaxFeePercent)

	c.score = (w.Success*c.success + w.Latency*latencyScore + w.Cost*costScore + w.Baseline*baseline) / w.sum()
	if priority == PrioritySpeed && prof.Instant {
		c.score += e.cfg.InstantBonus
	}
	return c
}

func (e *Engine) confidence(best candidate, fallback bool) float64 {
	data := 0.7
	if e.cfg.ConfidentAfter > 0 {
		data += 0.3 * min(float64(best.samples)/float64(e.cfg.ConfidentAfter), 1)
	}
	conf := clamp01(best.score) * data * 100
	if fallback {
		conf *= e.cfg.FallbackConfidence
	}
	return min(max(conf, 1), 99)
}

// RecordOutcome feeds one provider result into the EMA state, immediately or via the buffer.
func (e *Engine) RecordOutcome(o Outcome) {
	o.Provider = strings.ToLower(strings.TrimSpace(o.Provider))
	o.Country = payments.NormalizeCountry(o.Country)
	if o.Provider == "" {
		e.logger.Debug().Msg("outcome without provider ignored")
		return
	}
	if o.At.IsZero() {
		o.At = e.now()
	}
	if o.LatencyMs < 0 {
		o.LatencyMs = 0
	}
	e.metrics.RecordOutcome(o.Provider, o.Country, o.Success, time.Duration(o.LatencyMs*float64(time.Millisecond)))

	if e.buffer == nil {
		e.apply(o)
		return
	}

	e.bufMu.Lock()
	defer e.bufMu.Unlock()
	if evicted, full := e.buffer.Push(o); full {
		e.apply(evicted)
	}
}

func (e *Engine) apply(o Outcome) {
	key := recordKey{o.Provider, o.Country}

	e.mu.RLock()
	rec := e.records[key]
	e.mu.RUnlock()
	if rec == nil {
		e.mu.Lock()
		if rec = e.records[key]; rec == nil {
			prof := e.profile(o.Provider)
			rec = &record{
				successRate: prof.BaselineSuccessRate,
				avgLatency:  prof.TypicalLatencyMs,
				avgCost:     o.Cost.InexactFloat64(),
			}
			e.records[key] = rec
		}
		e.mu.Unlock()
	}

	observed := 0.0
	if o.Success {
		observed = 1
	}
	alpha := e.cfg.Alpha

	rec.mu.Lock()
	rec.successRate = alpha*observed + (1-alpha)*rec.successRate
	rec.avgLatency = alpha*o.LatencyMs + (1-alpha)*rec.avgLatency
	rec.avgCost = alpha*o.Cost.InexactFloat64() + (1-alpha)*rec.avgCost
	rec.total++
	if o.At.After(rec.lastUpdated) {
		rec.lastUpdated = o.At
	}
	rec.mu.Unlock()
}

// Learn applies buffered outcomes and stamps the learning time. Repeated calls are cheap:
// each buffered outcome is applied exactly once.
func (e *Engine) Learn() LearnSummary {
	e.bufMu.Lock()
	applied := 0
	if e.buffer != nil {
		for {
			o, ok := e.buffer.PopFront()
			if !ok {
				break
			}
			e.apply(o)
			applied++
		}
	}
	e.lastLearn = e.now()
	at := e.lastLearn
	e.bufMu.Unlock()

	e.mu.RLock()
	records := len(e.records)
	e.mu.RUnlock()

	if applied > 0 {
		e.logger.Info().Int("applied", applied).Int("records", records).Msg("learning cycle applied buffered outcomes")
	}
	return LearnSummary{Applied: applied, Records: records, At: at}
}

// LastLearningUpdate returns when Learn last ran.
func (e *Engine) LastLearningUpdate() time.Time {
	e.bufMu.Lock()
	defer e.bufMu.Unlock()
	return e.lastLearn
}

// PerformanceReport lists every learned record, highest success rate first.
func (e *Engine) PerformanceReport() []PerformanceEntry {
	e.mu.RLock()
	entries := make([]PerformanceEntry, 0, len(e.records))
	for key, rec := range e.records {
		rec.mu.Lock()
		entries = append(entries, PerformanceEntry{
			Provider:          key.provider,
			Country:           key.country,
			SuccessRate:       rec.successRate * 100,
			AvgLatencyMs:      rec.avgLatency,
			AvgCost:           rec.avgCost,
			TotalTransactions: rec.total,
			LastUpdated:       rec.lastUpdated,
		})
		rec.mu.Unlock()
	}
	e.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].SuccessRate != entries[j].SuccessRate {
			return entries[i].SuccessRate > entries[j].SuccessRate
		}
		if entries[i].Provider != entries[j].Provider {
			return entries[i].Provider < entries[j].Provider
		}
		return entries[i].Country < entries[j].Country
	})
	return entries
}

// Candidates returns the configured pool for a country and whether it is the fallback pool.
func (e *Engine) Candidates(country string) ([]string, bool) {
	pool, fallback := e.pool(payments.NormalizeCountry(country))
	return append([]string(nil), pool...), fallback
}

func clamp01(v float64) float64 {
	return min(max(v, 0), 1)
}
