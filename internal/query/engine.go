package query

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/metrics"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/payments"
)

// Source supplies the transactions a query runs over.
type Source interface {
	Transactions() []payments.Transaction
}

// Snapshot is a fixed Source.
type Snapshot []payments.Transaction

// Transactions returns the snapshot itself.
func (s Snapshot) Transactions() []payments.Transaction { return s }

// Request wraps the free-text query.
type Request struct {
	Query string `json:"query"`
}

// Options carries injected collaborators.
type Options struct {
	Logger  zerolog.Logger
	Metrics metrics.Collector
	Now     func() time.Time
}

// Engine parses and executes queries. It only reads from its Source.
type Engine struct {
	cfg     Config
	loc     *time.Location
	src     Source
	logger  zerolog.Logger
	metrics metrics.Collector
	now     func() time.Time
}

// New builds an engine over src. A nil src behaves as an empty snapshot.
func New(cfg Config, src Source, opts Options) *Engine {
	if src == nil {
		src = Snapshot(nil)
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		loc = time.UTC
	}
	if cfg.DisplayLimit <= 0 {
		cfg.DisplayLimit = DefaultConfig().DisplayLimit
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		cfg:     cfg,
		loc:     loc,
		src:     src,
		logger:  opts.Logger.With().Str("component", "query_engine").Logger(),
		metrics: metrics.OrNoOp(opts.Metrics),
		now:     now,
	}
}

// Parse runs the parser against the engine clock in the engine timezone.
func (e *Engine) Parse(text string) Parsed {
	return Parse(text, e.now().In(e.loc))
}

// ExecuteQuery parses req.Query, filters the source and formats the answer.
func (e *Engine) ExecuteQuery(req Request) Result {
	started := time.Now()
	p := e.Parse(req.Query)

	matched := e.filter(p)
	res := Result{
		ParsedIntent:  p.Intent,
		Filters:       p.Filters,
		TimeRange:     p.TimeRange,
		Aggregations:  p.Aggregations,
		Transactions:  []payments.Transaction{},
		Matched:       len(matched),
		OriginalQuery: req.Query,
	}
	res.Total, res.Average = totals(matched)

	if len(p.Aggregations) > 0 {
		res.Groups = e.group(matched, p.Aggregations[0].Field)
		if res.Groups == nil {
			res.Groups = []Group{}
		}
		res.Data = res.Groups
	} else {
		if matched != nil {
			res.Transactions = matched
		}
		res.Data = res.Transactions
	}
	res.FormattedResult = e.format(p, res, matched)

	e.metrics.RecordQuery(string(p.Intent.Action), len(matched), time.Since(started))
	e.logger.Debug().
		Str("action", string(p.Intent.Action)).
		Strs("countries", p.Filters.Countries).
		Strs("providers", p.Filters.Providers).
		Int("matched", len(matched)).
		Msg("query executed")
	return res
}

func (e *Engine) filter(p Parsed) []payments.Transaction {
	statuses := make(map[payments.Status]struct{}, len(p.Intent.Status))
	for _, s := range p.Intent.Status {
		statuses[s] = struct{}{}
	}
	countries := set(p.Filters.Countries)
	providers := set(p.Filters.Providers)

	var out []payments.Transaction
	for _, tx := range e.src.Transactions() {
		if len(statuses) > 0 {
			if _, ok := statuses[tx.Status]; !ok {
				continue
			}
		}
		if len(countries) > 0 {
			if _, ok := countries[payments.NormalizeCountry(tx.Customer.Country)]; !ok {
				continue
			}
		}
		if len(providers) > 0 {
			if _, ok := providers[strings.ToLower(tx.Provider)]; !ok {
				continue
			}
		}
		if p.Filters.MinAmount != nil && tx.Amount.Value.LessThan(*p.Filters.MinAmount) {
			continue
		}
		if p.Filters.MaxAmount != nil && tx.Amount.Value.GreaterThan(*p.Filters.MaxAmount) {
			continue
		}
		if p.TimeRange != nil && !p.TimeRange.Contains(tx.CreatedAt) {
			continue
		}
		out = append(out, tx)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if out == nil {
		out = []payments.Transaction{}
	}
	return out
}

var timeFields = map[string]bool{"day": true, "hour": true, "week": true, "month": true}

func (e *Engine) group(txs []payments.Transaction, field string) []Group {
	canonical := canonicalFields[strings.ToLower(field)]
	index := make(map[string]int)
	var groups []Group
	for _, tx := range txs {
		key := e.groupKey(tx, canonical)
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, Group{Group: key, Sum: decimal.Zero})
		}
		groups[i].Count++
		groups[i].Sum = groups[i].Sum.Add(tx.Amount.Value)
	}
	for i := range groups {
		groups[i].Average = groups[i].Sum.Div(decimal.NewFromInt(int64(groups[i].Count))).Round(2)
	}

	sort.Slice(groups, func(i, j int) bool {
		if timeFields[canonical] {
			return groups[i].Group < groups[j].Group
		}
		if groups[i].Count != groups[j].Count {
			return groups[i].Count > groups[j].Count
		}
		return groups[i].Group < groups[j].Group
	})
	return groups
}

func (e *Engine) groupKey(tx payments.Transaction, field string) string {
	at := tx.CreatedAt.In(e.loc)
	var key string
	switch field {
	case "country":
		key = payments.NormalizeCountry(tx.Customer.Country)
	case "provider":
		key = strings.ToLower(tx.Provider)
	case "status":
		key = string(tx.Status)
	case "currency":
		key = strings.ToUpper(tx.Amount.Currency)
	case "customer":
		key = tx.Customer.ID
	case "day":
		key = at.Format("2006-01-02")
	case "hour":
		key = at.Format("2006-01-02 15:00")
	case "week":
		y, w := at.ISOWeek()
		key = fmt.Sprintf("%d-W%02d", y, w)
	case "month":
		key = at.Format("2006-01")
	default:
		return "all"
	}
	if key == "" {
		return "unknown"
	}
	return key
}

func totals(txs []payments.Transaction) (decimal.Decimal, decimal.Decimal) {
	sum := decimal.Zero
	for _, tx := range txs {
		sum = sum.Add(tx.Amount.Value)
	}
	if len(txs) == 0 {
		return sum, decimal.Zero
	}
	return sum, sum.Div(decimal.NewFromInt(int64(len(txs)))).Round(2)
}

func set(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}
