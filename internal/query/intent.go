// Package query answers natural-language questions over a transaction snapshot.
//
// Parsing is a pure function of the text and the reference time; execution applies the
// parsed filters as a conjunction and optionally groups the result.
package query

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/payments"
)

// Action is what the caller wants computed.
type Action string

const (
	ActionShow    Action = "show"
	ActionCount   Action = "count"
	ActionSum     Action = "sum"
	ActionAverage Action = "average"
	ActionCompare Action = "compare"
	ActionTrend   Action = "trend"
)

// Subject is what the caller is asking about.
type Subject string

const (
	SubjectTransactions Subject = "transactions"
	SubjectPayments     Subject = "payments"
	SubjectRefunds      Subject = "refunds"
	SubjectFailures     Subject = "failures"
	SubjectRevenue      Subject = "revenue"
)

// Intent is the action, subject and status set extracted from the text.
type Intent struct {
	Action  Action            `json:"action"`
	Subject Subject           `json:"subject"`
	Status  []payments.Status `json:"status"`
}

// Filters are the entity and amount constraints. Nil amounts are unbounded; bounds are inclusive.
type Filters struct {
	Countries []string         `json:"countries"`
	Providers []string         `json:"providers"`
	MinAmount *decimal.Decimal `json:"minAmount,omitempty"`
	MaxAmount *decimal.Decimal `json:"maxAmount,omitempty"`
}

// TimeRange bounds CreatedAt inclusively. Description is the phrase as written in the query.
type TimeRange struct {
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Description string    `json:"description"`
}

// Contains reports whether t falls within the range.
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// Aggregation is a requested grouping. Field is captured as written.
type Aggregation struct {
	Field    string `json:"field"`
	Function string `json:"function"`
}

// Parsed is the full output of the parser.
type Parsed struct {
	Intent       Intent
	Filters      Filters
	TimeRange    *TimeRange
	Aggregations []Aggregation
}

// Group is one aggregated bucket.
type Group struct {
	Group   string          `json:"group"`
	Count   int             `json:"count"`
	Sum     decimal.Decimal `json:"sum"`
	Average decimal.Decimal `json:"average"`
}

// Result is always well formed, including for empty or unparseable queries.
type Result struct {
	ParsedIntent    Intent                 `json:"parsedIntent"`
	Filters         Filters                `json:"filters"`
	TimeRange       *TimeRange             `json:"timeRange,omitempty"`
	Aggregations    []Aggregation          `json:"aggregations,omitempty"`
	Transactions    []payments.Transaction `json:"transactions"`
	Groups          []Group                `json:"groups,omitempty"`
	// Data holds Groups when the query aggregates and Transactions otherwise.
	Data            any                    `json:"data"`
	Matched         int                    `json:"matched"`
	Total           decimal.Decimal        `json:"total"`
	Average         decimal.Decimal        `json:"average"`
	FormattedResult string                 `json:"formattedResult"`
	OriginalQuery   string                 `json:"originalQuery"`
}

// alias maps a phrase to its canonical identifier.
type alias struct {
	phrase string
	value  string
}

var countryNames = []alias{
	{"south africa", "ZA"},
	{"ivory coast", "CI"},
	{"cote d'ivoire", "CI"},
	{"côte d'ivoire", "CI"},
	{"nigeria", "NG"},
	{"kenya", "KE"},
	{"ghana", "GH"},
	{"uganda", "UG"},
	{"tanzania", "TZ"},
	{"rwanda", "RW"},
	{"senegal", "SN"},
	{"cameroon", "CM"},
	{"zambia", "ZM"},
	{"egypt", "EG"},
	{"ethiopia", "ET"},
	{"malawi", "MW"},
}

var countryCodes = []string{"KE", "NG", "GH", "UG", "TZ", "RW", "ZA", "CI", "SN", "CM", "ZM", "EG", "ET", "MW"}

var providerNames = []alias{
	{"m-pesa", "mpesa"},
	{"m pesa", "mpesa"},
	{"mpesa", "mpesa"},
	{"mtn momo", "mtn_momo"},
	{"mtn mobile money", "mtn_momo"},
	{"mtn_momo", "mtn_momo"},
	{"momo", "mtn_momo"},
	{"mtn", "mtn_momo"},
	{"airtel money", "airtel_money"},
	{"airtel_money", "airtel_money"},
	{"airtel", "airtel_money"},
	{"vodafone cash", "vodafone_cash"},
	{"vodafone_cash", "vodafone_cash"},
	{"vodafone", "vodafone_cash"},
	{"tigo pesa", "tigo_pesa"},
	{"tigo_pesa", "tigo_pesa"},
	{"tigo", "tigo_pesa"},
	{"chipper cash", "chipper_cash"},
	{"chipper_cash", "chipper_cash"},
	{"chipper", "chipper_cash"},
	{"orange money", "orange_money"},
	{"paystack", "paystack"},
	{"flutterwave", "flutterwave"},
	{"intasend", "intasend"},
}

var canonicalFields = map[string]string{
	"country":   "country",
	"countries": "country",
	"provider":  "provider",
	"providers": "provider",
	"day":       "day",
	"days":      "day",
	"date":      "day",
	"daily":     "day",
	"hour":      "hour",
	"hours":     "hour",
	"hourly":    "hour",
	"week":      "week",
	"weeks":     "week",
	"weekly":    "week",
	"month":     "month",
	"months":    "month",
	"monthly":   "month",
	"status":    "status",
	"statuses":  "status",
	"currency":  "currency",
	"customer":  "customer",
	"customers": "customer",
}
