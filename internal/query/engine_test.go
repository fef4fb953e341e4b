package query

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/payments"
)

func tx(id, provider, country string, status payments.Status, amount int64, currency string, age time.Duration) payments.Transaction {
	created := now.Add(-age)
	return payments.Transaction{
		ID:        id,
		Provider:  provider,
		Status:    status,
		Amount:    payments.Amount{Value: decimal.NewFromInt(amount), Currency: currency},
		Customer:  payments.Customer{ID: "cust-" + id, Country: country},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func fixture() Snapshot {
	day := 24 * time.Hour
	return Snapshot{
		tx("t1", "paystack", "NG", payments.StatusFailed, 5_000, "NGN", 2*day),
		tx("t2", "flutterwave", "NG", payments.StatusFailed, 1_500, "NGN", 3*day),
		tx("t3", "paystack", "NG", payments.StatusCompleted, 20_000, "NGN", day),
		tx("t4", "mpesa", "KE", payments.StatusCompleted, 1_000, "KES", time.Hour),
		tx("t5", "mpesa", "KE", payments.StatusFailed, 250, "KES", 10*day),
		tx("t6", "mtn_momo", "GH", payments.StatusRefunded, 300, "GHS", 4*day),
		tx("t7", "mpesa", "KE", payments.StatusCompleted, 2_000, "KES", 5*time.Hour),
	}
}

func newTestEngine(src Source) *Engine {
	return New(DefaultConfig(), src, Options{Logger: zerolog.Nop(), Now: func() time.Time { return now }})
}

func ids(txs []payments.Transaction) []string {
	out := make([]string, 0, len(txs))
	for _, t := range txs {
		out = append(out, t.ID)
	}
	return out
}

func TestExecuteFailedNigeriaLastWeek(t *testing.T) {
	e := newTestEngine(fixture())
	res := e.ExecuteQuery(Request{Query: "show failed payments from Nigeria last week"})

	assert.Equal(t, "show failed payments from Nigeria last week", res.OriginalQuery)
	assert.Contains(t, res.Filters.Countries, "NG")
	assert.Contains(t, res.ParsedIntent.Status, payments.StatusFailed)
	require.NotNil(t, res.TimeRange)
	assert.Equal(t, []string{"t1", "t2"}, ids(res.Transactions))
	assert.Equal(t, 2, res.Matched)
	assert.True(t, strings.HasPrefix(res.FormattedResult, "Found 2"), res.FormattedResult)
	assert.Contains(t, res.FormattedResult, "last week")
}

func TestExecuteEmptyQuery(t *testing.T) {
	e := newTestEngine(fixture())
	res := e.ExecuteQuery(Request{})
	assert.Equal(t, ActionShow, res.ParsedIntent.Action)
	assert.Equal(t, SubjectTransactions, res.ParsedIntent.Subject)
	assert.Equal(t, 7, res.Matched)
	assert.Len(t, res.Transactions, 7)
	assert.Equal(t, "t4", res.Transactions[0].ID, "newest first")
	assert.Contains(t, res.FormattedResult, "Found 7 transactions")
}

func TestExecuteCount(t *testing.T) {
	e := newTestEngine(fixture())
	res := e.ExecuteQuery(Request{Query: "how many failed payments"})
	assert.Equal(t, 3, res.Matched)
	assert.True(t, strings.HasPrefix(res.FormattedResult, "Count: 3"), res.FormattedResult)
	assert.NotContains(t, res.FormattedResult, "t1", "counts do not list rows")
}

func TestExecuteSumAndAverage(t *testing.T) {
	e := newTestEngine(fixture())

	res := e.ExecuteQuery(Request{Query: "total revenue in Kenya"})
	assert.True(t, decimal.NewFromInt(3_000).Equal(res.Total))
	assert.True(t, strings.HasPrefix(res.FormattedResult, "Total"), res.FormattedResult)
	assert.Contains(t, res.FormattedResult, "KES 3,000.00")

	res = e.ExecuteQuery(Request{Query: "average payment in KE today"})
	assert.Equal(t, 2, res.Matched)
	assert.True(t, decimal.NewFromInt(1_500).Equal(res.Average))
	assert.True(t, strings.HasPrefix(res.FormattedResult, "Average"), res.FormattedResult)
	assert.Contains(t, res.FormattedResult, "KES 1,500.00")
}

func TestExecuteGroupByCountry(t *testing.T) {
	e := newTestEngine(fixture())
	res := e.ExecuteQuery(Request{Query: "count payments per country"})

	require.Len(t, res.Groups, 3)
	assert.Equal(t, "KE", res.Groups[0].Group)
	assert.Equal(t, 3, res.Groups[0].Count)
	assert.True(t, decimal.NewFromInt(3_250).Equal(res.Groups[0].Sum))
	assert.Equal(t, "NG", res.Groups[1].Group)
	assert.Equal(t, "GH", res.Groups[2].Group)
	assert.Empty(t, res.Transactions)
	assert.Contains(t, res.FormattedResult, "Grouped by country")
	assert.Contains(t, res.FormattedResult, "NG: 3")
}

func TestExecuteDataCarriesRowsOrGroups(t *testing.T) {
	e := newTestEngine(fixture())

	res := e.ExecuteQuery(Request{Query: "show failed payments from Nigeria last week"})
	rows, ok := res.Data.([]payments.Transaction)
	require.True(t, ok, "%T", res.Data)
	assert.Equal(t, []string{"t1", "t2"}, ids(rows))

	res = e.ExecuteQuery(Request{Query: "count payments per country"})
	groups, ok := res.Data.([]Group)
	require.True(t, ok, "%T", res.Data)
	assert.Equal(t, res.Groups, groups)

	res = e.ExecuteQuery(Request{Query: "show failed payments from Egypt"})
	raw, err := json.Marshal(res)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"data":[]`)
	assert.Contains(t, string(raw), `"transactions":[]`)
}

func TestExecuteCompareGroupsByProvider(t *testing.T) {
	e := newTestEngine(fixture())
	res := e.ExecuteQuery(Request{Query: "compare failed payments"})

	got := make([]string, 0, len(res.Groups))
	for _, g := range res.Groups {
		got = append(got, g.Group)
		assert.Equal(t, 1, g.Count)
	}
	assert.Equal(t, []string{"flutterwave", "mpesa", "paystack"}, got)
}

func TestExecuteTrendGroupsByDay(t *testing.T) {
	e := newTestEngine(fixture())
	res := e.ExecuteQuery(Request{Query: "trend of payments last week"})

	require.NotEmpty(t, res.Groups)
	for i := 1; i < len(res.Groups); i++ {
		assert.Less(t, res.Groups[i-1].Group, res.Groups[i].Group)
	}
	assert.Equal(t, "2026-03-11", res.Groups[len(res.Groups)-1].Group)
}

func TestExecuteUnknownGroupField(t *testing.T) {
	e := newTestEngine(fixture())
	res := e.ExecuteQuery(Request{Query: "payments per flavour"})
	require.Len(t, res.Aggregations, 1)
	assert.Equal(t, "flavour", res.Aggregations[0].Field)
	require.Len(t, res.Groups, 1)
	assert.Equal(t, "all", res.Groups[0].Group)
	assert.Equal(t, 7, res.Groups[0].Count)
}

func TestExecuteAmountFilters(t *testing.T) {
	e := newTestEngine(fixture())

	res := e.ExecuteQuery(Request{Query: "payments above 4,000"})
	assert.ElementsMatch(t, []string{"t1", "t3"}, ids(res.Transactions))

	res = e.ExecuteQuery(Request{Query: "payments between 1000 and 2000"})
	assert.ElementsMatch(t, []string{"t2", "t4", "t7"}, ids(res.Transactions))
}

func TestExecuteUnknownEntitiesDegrade(t *testing.T) {
	e := newTestEngine(fixture())
	res := e.ExecuteQuery(Request{Query: "show payments from Atlantis via zorblax"})
	assert.Equal(t, 7, res.Matched)
	assert.Empty(t, res.Filters.Countries)
}

func TestExecuteNoResults(t *testing.T) {
	e := newTestEngine(fixture())
	res := e.ExecuteQuery(Request{Query: "show failed payments from Egypt"})
	assert.Zero(t, res.Matched)
	assert.NotNil(t, res.Transactions)
	assert.Contains(t, res.FormattedResult, "No results")

	res = newTestEngine(nil).ExecuteQuery(Request{Query: "how many payments"})
	assert.Contains(t, res.FormattedResult, "No results")
	assert.Contains(t, res.FormattedResult, "0")
}

func TestExecuteTruncatesLongLists(t *testing.T) {
	var snap Snapshot
	for i := range 15 {
		snap = append(snap, tx(fmt.Sprintf("bulk-%02d", i), "mpesa", "KE", payments.StatusCompleted, 100, "KES", time.Duration(i)*time.Minute))
	}
	res := newTestEngine(snap).ExecuteQuery(Request{Query: "show transactions"})
	assert.Len(t, res.Transactions, 15)
	assert.Contains(t, res.FormattedResult, "...and 5 more")
	assert.Contains(t, res.FormattedResult, "bulk-00")
	assert.NotContains(t, res.FormattedResult, "bulk-14")
}

func TestMoney(t *testing.T) {
	assert.Equal(t, "KES 1,234,567.50", money(decimal.RequireFromString("1234567.5"), "KES"))
	assert.Equal(t, "999.00", money(decimal.NewFromInt(999), ""))
	assert.Equal(t, "-1,000.00", money(decimal.NewFromInt(-1_000), ""))
}
