package risk

import (
	"fmt"
	"hash/fnv"
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

// Level is the banded risk score.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Decision is the action the dispatcher should take.
type Decision string

const (
	DecisionAllow  Decision = "allow"
	DecisionReview Decision = "review"
	DecisionBlock  Decision = "block"
)

// CheckInput describes the transaction being scored. A zero Timestamp means now.
type CheckInput struct {
	Amount        decimal.Decimal
	Currency      string
	CustomerID    string
	Phone         string
	Country       string
	PaymentMethod string
	Timestamp     time.Time
}

// Assessment is the scoring result.
type Assessment struct {
	RiskScore         int      `json:"riskScore"`
	RiskLevel         Level    `json:"riskLevel"`
	Decision          Decision `json:"decision"`
	RulesTriggered    []string `json:"rulesTriggered"`
	Reasons           []string `json:"reasons"`
	RecommendedAction string   `json:"recommendedAction"`
}

// ProfileSnapshot summarises a customer's remembered activity.
type ProfileSnapshot struct {
	CustomerID   string    `json:"customerId"`
	Observations int       `json:"observations"`
	Countries    []string  `json:"countries"`
	FirstSeen    time.Time `json:"firstSeen"`
	LastSeen     time.Time `json:"lastSeen"`
}

// Options carries injected collaborators. Zero values are replaced with no-ops.
type Options struct {
	Logger  zerolog.Logger
	Metrics metrics.Collector
	Now     func() time.Time
	// Rules replaces the default rule table when non-nil.
	Rules []Rule
}

type shard struct {
	mu       sync.Mutex
	profiles map[string]*ring.Buffer[Observation]
}

// Engine scores transactions against a rule table and remembers per-customer history.
type Engine struct {
	cfg     Config
	rules   []Rule
	loc     *time.Location
	shards  []*shard
	logger  zerolog.Logger
	metrics metrics.Collector
	now     func() time.Time
}

// New builds an engine with fresh, empty profile state.
func New(cfg Config, opts Options) *Engine {
	cfg.ReferenceCurrency = strings.ToUpper(cfg.ReferenceCurrency)
	cfg.FXRates = upperKeys(cfg.FXRates)
	if cfg.Shards <= 0 {
		cfg.Shards = 1
	}

	logger := opts.Logger.With().Str("component", "risk_engine").Logger()

	loc := time.UTC
	if cfg.Timezone != "" {
		if l, err := time.LoadLocation(cfg.Timezone); err == nil {
			loc = l
		} else {
			logger.Warn().Err(err).Str("timezone", cfg.Timezone).Msg("unknown timezone; using UTC")
		}
	}

	rules := opts.Rules
	if rules == nil {
		rules = DefaultRules(cfg)
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	shards := make([]*shard, cfg.Shards)
	for i := range shards {
		shards[i] = &shard{profiles: make(map[string]*ring.Buffer[Observation])}
	}

	return &Engine{
		cfg:     cfg,
		rules:   rules,
		loc:     loc,
		shards:  shards,
		logger:  logger,
		metrics: metrics.OrNoOp(opts.Metrics),
		now:     now,
	}
}

// CheckTransaction scores in and records it in the customer's profile, even when blocked.
// It never fails: malformed input yields a conservative decision.
func (e *Engine) CheckTransaction(in CheckInput) Assessment {
	at := in.Timestamp
	if at.IsZero() {
		at = e.now()
	}
	at = at.UTC()

	in.CustomerID = strings.TrimSpace(in.CustomerID)
	in.Country = payments.NormalizeCountry(in.Country)
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))

	var malformed []string
	if in.CustomerID == "" {
		malformed = append(malformed, "missing customer id; history checks skipped")
	}
	if !in.Amount.IsPositive() {
		malformed = append(malformed, "non-positive amount")
	}

	obs := Observation{Timestamp: at, Amount: in.Amount, Currency: in.Currency, Country: in.Country}

	var assessment Assessment
	if in.CustomerID == "" {
		history := ring.New[Observation](1)
		history.Push(obs)
		assessment = e.evaluate(in, at, history, 0)
	} else {
		s := e.shardFor(in.CustomerID)
		s.mu.Lock()
		history := s.profiles[in.CustomerID]
		if history == nil {
			history = ring.New[Observation](e.cfg.ProfileCapacity)
			s.profiles[in.CustomerID] = history
		}
		newest := at
		if last, ok := history.Last(); ok && last.Timestamp.After(newest) {
			newest = last.Timestamp
		}
		cutoff := newest.Add(-e.cfg.ProfileMaxAge)
		history.EvictWhile(func(o Observation) bool { return o.Timestamp.Before(cutoff) })

		idx := history.Insert(obs, observedBefore)
		if idx < 0 {
			// Full profile and older than all of it: score against a copy, keep the profile as is.
			scratch := ring.New[Observation](history.Cap() + 1)
			for _, o := range history.Snapshot() {
				scratch.Push(o)
			}
			idx = scratch.Insert(obs, observedBefore)
			assessment = e.evaluate(in, at, scratch, idx)
		} else {
			assessment = e.evaluate(in, at, history, idx)
		}
		s.mu.Unlock()
	}

	if len(malformed) > 0 {
		assessment.Reasons = append(assessment.Reasons, malformed...)
		if assessment.Decision == DecisionAllow {
			assessment.Decision = DecisionReview
			assessment.RecommendedAction = recommend(assessment.Decision, nil)
		}
	}

	e.metrics.RecordRiskDecision(string(assessment.Decision), string(assessment.RiskLevel), assessment.RiskScore)
	e.logger.Debug().
		Str("customer_id", in.CustomerID).
		Int("score", assessment.RiskScore).
		Str("decision", string(assessment.Decision)).
		Strs("rules", assessment.RulesTriggered).
		Msg("transaction scored")

	return assessment
}

func observedBefore(a, b Observation) bool { return a.Timestamp.Before(b.Timestamp) }

func (e *Engine) evaluate(in CheckInput, at time.Time, history *ring.Buffer[Observation], idx int) Assessment {
	ev := &Evaluation{
		Input:   in,
		At:      at,
		Local:   at.In(e.loc),
		Amount:  normalize(in.Amount, in.Currency, &e.cfg),
		History: history,
		Index:   idx,
		Config:  &e.cfg,
	}

	assessment := Assessment{RulesTriggered: []string{}, Reasons: []string{}}
	score := 0
	critical := false
	var top *Rule
	for i := range e.rules {
		rule := &e.rules[i]
		fired, reason := e.check(rule, ev)
		if !fired {
			continue
		}
		score += max(rule.Weight, 0)
		critical = critical || rule.Critical
		assessment.RulesTriggered = append(assessment.RulesTriggered, rule.ID)
		if reason != "" {
			assessment.Reasons = append(assessment.Reasons, reason)
		}
		if top == nil || rule.Weight > top.Weight {
			top = rule
		}
		e.metrics.RecordRuleTriggered(rule.ID)
	}

	assessment.RiskScore = min(max(score, 0), 100)
	assessment.RiskLevel = e.level(assessment.RiskScore)
	assessment.Decision = e.decide(assessment.RiskScore)
	if critical && assessment.Decision == DecisionAllow {
		assessment.Decision = DecisionReview
	}
	assessment.RecommendedAction = recommend(assessment.Decision, top)
	return assessment
}

// check isolates a rule so a panicking predicate degrades to "not fired".
func (e *Engine) check(rule *Rule, ev *Evaluation) (fired bool, reason string) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Str("rule", rule.ID).Interface("panic", r).Msg("rule evaluation panicked")
			fired, reason = false, ""
		}
	}()
	if rule.Check == nil {
		return false, ""
	}
	return rule.Check(ev)
}

func (e *Engine) level(score int) Level {
	switch {
	case score >= e.cfg.Bands.Critical:
		return LevelCritical
	case score >= e.cfg.Bands.High:
		return LevelHigh
	case score >= e.cfg.Bands.Medium:
		return LevelMedium
	default:
		return LevelLow
	}
}

func (e *Engine) decide(score int) Decision {
	switch {
	case score >= e.cfg.Bands.Block:
		return DecisionBlock
	case score >= e.cfg.Bands.Review:
		return DecisionReview
	default:
		return DecisionAllow
	}
}

func recommend(decision Decision, top *Rule) string {
	switch decision {
	case DecisionBlock:
		if top != nil {
			return fmt.Sprintf("Block the payment and escalate (%s): %s", top.ID, top.Action)
		}
		return "Block the payment and escalate for investigation"
	case DecisionReview:
		if top != nil {
			return fmt.Sprintf("Hold for manual review (%s): %s", top.ID, top.Action)
		}
		return "Hold for manual review: input incomplete"
	default:
		if top != nil {
			return fmt.Sprintf("Approve and monitor (%s): %s", top.ID, top.Action)
		}
		return "Approve the payment"
	}
}

// Profile returns a snapshot of the remembered activity for a customer.
func (e *Engine) Profile(customerID string) (ProfileSnapshot, bool) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return ProfileSnapshot{}, false
	}
	s := e.shardFor(customerID)
	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.profiles[customerID]
	if history == nil || history.Len() == 0 {
		return ProfileSnapshot{}, false
	}

	snap := ProfileSnapshot{CustomerID: customerID, Observations: history.Len()}
	seen := make(map[string]struct{})
	history.Each(func(i int, o Observation) bool {
		if i == 0 {
			snap.FirstSeen = o.Timestamp
		}
		snap.LastSeen = o.Timestamp
		if _, ok := seen[o.Country]; !ok && o.Country != "" {
			seen[o.Country] = struct{}{}
			snap.Countries = append(snap.Countries, o.Country)
		}
		return true
	})
	sort.Strings(snap.Countries)
	return snap, true
}

// Prune drops profiles whose newest observation is older than the profile max age.
func (e *Engine) Prune(now time.Time) int {
	cutoff := now.Add(-e.cfg.ProfileMaxAge)
	removed := 0
	for _, s := range e.shards {
		s.mu.Lock()
		for id, history := range s.profiles {
			history.EvictWhile(func(o Observation) bool { return o.Timestamp.Before(cutoff) })
			if history.Len() == 0 {
				delete(s.profiles, id)
				removed++
			}
		}
		s.mu.Unlock()
	}
	if removed > 0 {
		e.logger.Debug().Int("removed", removed).Msg("pruned idle customer profiles")
	}
	return removed
}

func (e *Engine) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return e.shards[h.Sum32()%uint32(len(e.shards))]
}

// upperKeys canonicalises currency codes. When two keys differ only in case the lower-case
// spelling wins, since that is how viper hands over file overrides.
func upperKeys(in map[string]float64) map[string]float64 {
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(map[string]float64, len(in))
	for _, k := range keys {
		out[strings.ToUpper(strings.TrimSpace(k))] = in[k]
	}
	return out
}
