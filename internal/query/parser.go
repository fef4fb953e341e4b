package query

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/payments"
)

type vocab[T any] struct {
	value T
	re    *regexp.Regexp
}

func word(pattern string) *regexp.Regexp {
	return regexp.MustCompile(`\b(?:` + pattern + `)\b`)
}

// Actions in precedence order: "how many ... total" is a count, "total" alone a sum.
var actionVocab = []vocab[Action]{
	{ActionCompare, word(`compare|comparison|versus|vs\.?`)},
	{ActionTrend, word(`trend|trends|trending|over time`)},
	{ActionAverage, word(`average|avg|mean`)},
	{ActionCount, word(`count|how many|number of`)},
	{ActionSum, word(`sum|total|totals`)},
	{ActionShow, word(`show|list|display|find|get|give me`)},
}

var subjectVocab = []vocab[Subject]{
	{SubjectRefunds, word(`refunds?|refunded`)},
	{SubjectFailures, word(`failures`)},
	{SubjectRevenue, word(`revenue|income|earnings`)},
	{SubjectPayments, word(`payments?`)},
	{SubjectTransactions, word(`transactions?|transfers?`)},
}

var statusVocab = []vocab[payments.Status]{
	{payments.StatusFailed, word(`failed|failing|failures?|declined`)},
	{payments.StatusCompleted, word(`successful|success|succeeded|completed|complete`)},
	{payments.StatusRefunded, word(`refunds?|refunded`)},
	{payments.StatusPending, word(`pending`)},
	{payments.StatusProcessing, word(`processing|in progress`)},
	{payments.StatusCancelled, word(`cancelled|canceled|cancellations?`)},
}

const number = `(?:kes|ksh|ngn|ghs|ugx|tzs|zar|rwf|usd|eur|\$)?\s*(\d[\d,]*(?:\.\d+)?)\s*(k|m|thousand|million)?\b`

var (
	reBetween = regexp.MustCompile(`\bbetween\s+` + number + `\s+(?:and|to|-)\s+` + number)
	reAbove   = regexp.MustCompile(`\b(?:above|over|more than|greater than|exceeding|at least)\s+` + number)
	reBelow   = regexp.MustCompile(`\b(?:below|under|less than|at most)\s+` + number)

	reGroup    = regexp.MustCompile(`\b(?:group(?:ed)? by|broken down by|breakdown by|per|for each|by each)\s+([a-z_]+)`)
	reCadence  = word(`daily|hourly|weekly|monthly`)
	reRelative = regexp.MustCompile(`\b(?:last|past)\s+(\d+)\s+(hours?|days?|weeks?)\b`)
	reCodes    = regexp.MustCompile(`\b(` + strings.Join(countryCodes, "|") + `)\b`)

	timePhrases = []struct {
		re    *regexp.Regexp
		bound func(now time.Time) (time.Time, time.Time)
	}{
		{word(`today`), func(now time.Time) (time.Time, time.Time) { return startOfDay(now), now }},
		{word(`yesterday`), func(now time.Time) (time.Time, time.Time) {
			today := startOfDay(now)
			return today.AddDate(0, 0, -1), today.Add(-time.Nanosecond)
		}},
		{word(`(?:last|past) week`), func(now time.Time) (time.Time, time.Time) { return now.AddDate(0, 0, -7), now }},
		{word(`this week`), func(now time.Time) (time.Time, time.Time) {
			offset := (int(now.Weekday()) + 6) % 7
			return startOfDay(now).AddDate(0, 0, -offset), now
		}},
		{word(`this month`), func(now time.Time) (time.Time, time.Time) { return startOfMonth(now), now }},
		{word(`(?:last|past) month`), func(now time.Time) (time.Time, time.Time) {
			this := startOfMonth(now)
			return this.AddDate(0, -1, 0), this.Add(-time.Nanosecond)
		}},
		{word(`this year`), func(now time.Time) (time.Time, time.Time) {
			return time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, now.Location()), now
		}},
	}

	countryVocab  = compileAliases(countryNames)
	providerVocab = compileAliases(providerNames)
)

func compileAliases(entries []alias) []vocab[string] {
	out := make([]vocab[string], 0, len(entries))
	for _, e := range entries {
		out = append(out, vocab[string]{e.value, word(regexp.QuoteMeta(e.phrase))})
	}
	return out
}

const maxRelative = 3650

// Parse extracts intent, filters, time range and aggregations from text. It never fails:
// unmatched words are ignored and an empty string yields the default intent.
func Parse(text string, now time.Time) Parsed {
	original := strings.ReplaceAll(strings.TrimSpace(text), "’", "'")
	lower := strings.ToLower(original)

	p := Parsed{
		Intent: Intent{
			Action:  first(actionVocab, lower, ActionShow),
			Subject: first(subjectVocab, lower, SubjectTransactions),
			Status:  all(statusVocab, lower),
		},
		Filters: Filters{
			Countries: countries(original, lower),
			Providers: dedupe(all(providerVocab, lower)),
		},
		TimeRange: timeRange(original, lower, now),
	}
	if p.Intent.Subject == SubjectRevenue && len(p.Intent.Status) == 0 {
		p.Intent.Status = []payments.Status{payments.StatusCompleted}
	}
	p.Filters.MinAmount, p.Filters.MaxAmount = amounts(lower)
	p.Aggregations = aggregations(lower, p.Intent.Action)
	return p
}

func first[T any](v []vocab[T], s string, def T) T {
	for _, e := range v {
		if e.re.MatchString(s) {
			return e.value
		}
	}
	return def
}

func all[T comparable](v []vocab[T], s string) []T {
	out := []T{}
	for _, e := range v {
		if e.re.MatchString(s) {
			out = append(out, e.value)
		}
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// countries matches names case-insensitively and ISO codes only when written in upper case,
// so words like "in" or "to" never become filters.
func countries(original, lower string) []string {
	found := all(countryVocab, lower)
	found = append(found, reCodes.FindAllString(original, -1)...)
	return dedupe(found)
}

func timeRange(original, lower string, now time.Time) *TimeRange {
	if m := reRelative.FindStringSubmatchIndex(lower); m != nil {
		n, err := strconv.Atoi(lower[m[2]:m[3]])
		if err == nil && n > 0 {
			n = min(n, maxRelative)
			var start time.Time
			switch unit := lower[m[4]:m[5]]; strings.TrimSuffix(unit, "s") {
			case "hour":
				start = now.Add(-time.Duration(n) * time.Hour)
			case "day":
				start = now.AddDate(0, 0, -n)
			default:
				start = now.AddDate(0, 0, -7*n)
			}
			return &TimeRange{Start: start, End: now, Description: phrase(original, lower, m[0], m[1])}
		}
	}
	for _, tp := range timePhrases {
		if m := tp.re.FindStringIndex(lower); m != nil {
			start, end := tp.bound(now)
			return &TimeRange{Start: start, End: end, Description: phrase(original, lower, m[0], m[1])}
		}
	}
	return nil
}

// phrase returns the matched text as written, falling back to the lowered form when
// lowering changed byte offsets.
func phrase(original, lower string, from, to int) string {
	if len(original) == len(lower) {
		return original[from:to]
	}
	return lower[from:to]
}

func amounts(lower string) (*decimal.Decimal, *decimal.Decimal) {
	if m := reBetween.FindStringSubmatch(lower); m != nil {
		lo, okLo := amount(m[1], m[2])
		hi, okHi := amount(m[3], m[4])
		if okLo && okHi {
			if lo.GreaterThan(hi) {
				lo, hi = hi, lo
			}
			return &lo, &hi
		}
	}
	var minA, maxA *decimal.Decimal
	if m := reAbove.FindStringSubmatch(lower); m != nil {
		if v, ok := amount(m[1], m[2]); ok {
			minA = &v
		}
	}
	if m := reBelow.FindStringSubmatch(lower); m != nil {
		if v, ok := amount(m[1], m[2]); ok {
			maxA = &v
		}
	}
	return minA, maxA
}

func amount(digits, suffix string) (decimal.Decimal, bool) {
	v, err := decimal.NewFromString(strings.ReplaceAll(digits, ",", ""))
	if err != nil {
		return decimal.Zero, false
	}
	switch suffix {
	case "k", "thousand":
		v = v.Mul(decimal.NewFromInt(1_000))
	case "m", "million":
		v = v.Mul(decimal.NewFromInt(1_000_000))
	}
	return v, true
}

func aggregations(lower string, action Action) []Aggregation {
	fn := aggregateFunction(action)
	if m := reGroup.FindStringSubmatch(lower); m != nil {
		return []Aggregation{{Field: m[1], Function: fn}}
	}
	if m := reCadence.FindString(lower); m != "" {
		return []Aggregation{{Field: m, Function: fn}}
	}
	switch action {
	case ActionCompare:
		return []Aggregation{{Field: "provider", Function: fn}}
	case ActionTrend:
		return []Aggregation{{Field: "day", Function: fn}}
	}
	return nil
}

func aggregateFunction(a Action) string {
	switch a {
	case ActionSum:
		return "sum"
	case ActionAverage:
		return "average"
	default:
		return "count"
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}
