package query

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/payments"
)

func (e *Engine) format(p Parsed, res Result, matched []payments.Transaction) string {
	what := describe(p)
	if res.Matched == 0 {
		msg := "No results found for " + what
		if p.Intent.Action == ActionCount {
			msg += " (count: 0)"
		}
		return msg
	}

	currency := commonCurrency(matched)
	var b strings.Builder
	switch p.Intent.Action {
	case ActionCount:
		fmt.Fprintf(&b, "Count: %d %s", res.Matched, what)
	case ActionSum:
		fmt.Fprintf(&b, "Total: %s across %d %s", money(res.Total, currency), res.Matched, what)
	case ActionAverage:
		fmt.Fprintf(&b, "Average: %s across %d %s", money(res.Average, currency), res.Matched, what)
	case ActionCompare:
		fmt.Fprintf(&b, "Comparison of %d %s", res.Matched, what)
	case ActionTrend:
		fmt.Fprintf(&b, "Trend of %d %s", res.Matched, what)
	default:
		fmt.Fprintf(&b, "Found %d %s", res.Matched, what)
	}

	if len(res.Groups) > 0 {
		fmt.Fprintf(&b, "\nGrouped by %s:", p.Aggregations[0].Field)
		for i, g := range res.Groups {
			if i == e.cfg.DisplayLimit {
				fmt.Fprintf(&b, "\n  ...and %d more groups", len(res.Groups)-i)
				break
			}
			fmt.Fprintf(&b, "\n  %s: %d, total %s, average %s", g.Group, g.Count, money(g.Sum, currency), money(g.Average, currency))
		}
		return b.String()
	}

	if p.Intent.Action != ActionShow {
		return b.String()
	}
	for i, tx := range matched {
		if i == e.cfg.DisplayLimit {
			fmt.Fprintf(&b, "\n  ...and %d more", len(matched)-i)
			break
		}
		fmt.Fprintf(&b, "\n  %s  %s  %-13s %-10s %s  %s",
			tx.CreatedAt.In(e.loc).Format("2006-01-02 15:04"),
			tx.ID,
			tx.Provider,
			tx.Status,
			money(tx.Amount.Value, strings.ToUpper(tx.Amount.Currency)),
			payments.NormalizeCountry(tx.Customer.Country),
		)
	}
	return b.String()
}

// describe renders the parsed filters as a short phrase, e.g. "failed payments in NG last week".
func describe(p Parsed) string {
	var parts []string
	if len(p.Intent.Status) > 0 {
		statuses := make([]string, 0, len(p.Intent.Status))
		for _, s := range p.Intent.Status {
			statuses = append(statuses, string(s))
		}
		parts = append(parts, strings.Join(statuses, "/"))
	}
	parts = append(parts, string(p.Intent.Subject))
	if len(p.Filters.Countries) > 0 {
		parts = append(parts, "in "+strings.Join(p.Filters.Countries, ", "))
	}
	if len(p.Filters.Providers) > 0 {
		parts = append(parts, "via "+strings.Join(p.Filters.Providers, ", "))
	}
	switch {
	case p.Filters.MinAmount != nil && p.Filters.MaxAmount != nil:
		parts = append(parts, fmt.Sprintf("between %s and %s", p.Filters.MinAmount, p.Filters.MaxAmount))
	case p.Filters.MinAmount != nil:
		parts = append(parts, "from "+p.Filters.MinAmount.String())
	case p.Filters.MaxAmount != nil:
		parts = append(parts, "up to "+p.Filters.MaxAmount.String())
	}
	if p.TimeRange != nil {
		parts = append(parts, p.TimeRange.Description)
	}
	return strings.Join(parts, " ")
}

func commonCurrency(txs []payments.Transaction) string {
	currency := ""
	for _, tx := range txs {
		c := strings.ToUpper(tx.Amount.Currency)
		if currency == "" {
			currency = c
		} else if c != currency {
			return ""
		}
	}
	return currency
}

// money renders d with two decimals and thousands separators, prefixed by the currency when known.
func money(d decimal.Decimal, currency string) string {
	s := d.StringFixed(2)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	whole, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := sign + b.String() + "." + frac
	if currency != "" {
		return currency + " " + out
	}
	return out
}
