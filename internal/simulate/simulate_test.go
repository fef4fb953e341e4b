package simulate

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/anomaly"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/payments"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/risk"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/routing"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/service"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/storage"
)

var start = time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC)

func TestGeneratorIsDeterministic(t *testing.T) {
	cfg := GeneratorConfig{Seed: 7, Customers: 50, Countries: []string{"KE", "NG", "GH"}, FraudRatio: 0.1}
	a := NewGenerator(cfg).Batch(40, start)
	b := NewGenerator(cfg).Batch(40, start)

	require.Len(t, a, 40)
	assert.Equal(t, a, b)

	other := NewGenerator(GeneratorConfig{Seed: 8, Customers: 50, Countries: []string{"KE", "NG", "GH"}}).Batch(40, start)
	assert.NotEqual(t, a[0].TransactionID, other[0].TransactionID)
}

func TestGeneratorPopulation(t *testing.T) {
	g := NewGenerator(GeneratorConfig{Seed: 1, Customers: 20, Countries: []string{"ke", "UG"}})
	customers := g.Customers()
	require.Len(t, customers, 20)
	for _, c := range customers {
		assert.Contains(t, []string{"KE", "UG"}, c.Country)
		assert.NotEmpty(t, c.Phone)
	}

	for _, req := range g.Batch(100, start) {
		assert.True(t, req.Amount.Value.IsPositive())
		assert.NotEmpty(t, req.Amount.Currency)
		assert.Equal(t, start, req.Timestamp)
	}
}

func TestGeneratorFraudBurst(t *testing.T) {
	g := NewGenerator(GeneratorConfig{Seed: 3, Customers: 5, Countries: []string{"KE"}, FraudRatio: 1})
	batch := g.Batch(4, start)
	require.Len(t, batch, 4)

	assert.Equal(t, "NG", batch[0].Customer.Country)
	assert.Equal(t, "NGN", batch[0].Amount.Currency)
	for _, req := range batch[1:] {
		assert.Equal(t, batch[0].Customer.ID, req.Customer.ID)
		assert.Equal(t, "KE", req.Customer.Country)
		assert.True(t, req.Amount.Value.LessThan(decimal.NewFromInt(1_000)))
	}
}

func TestExecutorDegradationWindow(t *testing.T) {
	profiles := map[string]routing.ProviderProfile{
		"mpesa": {FeePercent: 1.5, TypicalLatencyMs: 3_000, BaselineSuccessRate: 1},
	}
	exec := NewExecutor(1, profiles, Degradation{
		Provider:    "MPESA",
		Country:     "ke",
		Start:       start.Add(time.Hour),
		End:         start.Add(2 * time.Hour),
		SuccessRate: 0,
		LatencyMs:   20_000,
	})
	ctx := context.Background()
	req := service.Request{
		Amount:    payments.Amount{Value: decimal.NewFromInt(1_000), Currency: "KES"},
		Customer:  payments.Customer{ID: "c", Country: "KE"},
		Timestamp: start,
	}

	ok, err := exec.Execute(ctx, "mpesa", req)
	require.NoError(t, err)
	assert.True(t, ok.Success)
	assert.Equal(t, "15", ok.Fee.String())
	assert.InDelta(t, 3_000, float64(ok.Latency/time.Millisecond), 750)

	req.Timestamp = start.Add(90 * time.Minute)
	degraded, err := exec.Execute(ctx, "mpesa", req)
	require.NoError(t, err)
	assert.False(t, degraded.Success)
	assert.NotEmpty(t, degraded.FailureReason)
	assert.Greater(t, degraded.Latency, 10*time.Second)

	req.Customer.Country = "TZ"
	elsewhere, err := exec.Execute(ctx, "mpesa", req)
	require.NoError(t, err)
	assert.True(t, elsewhere.Success)

	req.Customer.Country = "KE"
	req.Timestamp = start.Add(2 * time.Hour)
	recovered, err := exec.Execute(ctx, "mpesa", req)
	require.NoError(t, err)
	assert.True(t, recovered.Success)

	assert.Equal(t, []CallCount{{Provider: "mpesa", Calls: 4}}, exec.Calls())
}

func TestExecutorCancelled(t *testing.T) {
	exec := NewExecutor(1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := exec.Execute(ctx, "paystack", service.Request{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDriveDegradedProviderRaisesAlert(t *testing.T) {
	clock := NewClock(start)
	store := storage.NewMemoryStore(0)
	queue := service.NewAlertQueue(64, zerolog.Nop())

	routeCfg := routing.DefaultConfig()
	routeCfg.Preferences = map[string][]string{"KE": {"mpesa"}}
	router := routing.New(routeCfg, routing.Options{Now: clock.Now})
	detector := anomaly.New(anomaly.DefaultConfig(), anomaly.Options{Now: clock.Now, OnAlert: queue.Enqueue})

	profiles := map[string]routing.ProviderProfile{"mpesa": {FeePercent: 1.5, TypicalLatencyMs: 3_000, BaselineSuccessRate: 1}}
	exec := NewExecutor(5, profiles, Degradation{Provider: "mpesa", Start: start.Add(15 * time.Minute), SuccessRate: 0})

	svc, err := service.New(service.Deps{
		Risk:         risk.New(risk.DefaultConfig(), risk.Options{Now: clock.Now}),
		Routing:      router,
		Anomaly:      detector,
		Executor:     exec,
		Alerts:       queue,
		Transactions: store,
		Metrics:      store,
		AlertStore:   store,
		Logger:       zerolog.Nop(),
		Now:          clock.Now,
	}, service.Options{})
	require.NoError(t, err)

	gen := NewGenerator(GeneratorConfig{Seed: 11, Customers: 400, Countries: []string{"KE"}})
	summary, err := Drive(context.Background(), svc, gen, DriveOptions{
		Start:     start,
		Count:     30 * 10,
		PerBucket: 10,
		Bucket:    time.Minute,
		Clock:     clock,
	})
	require.NoError(t, err)

	assert.Equal(t, 300, summary.Processed)
	assert.Equal(t, 30, summary.Buckets)
	assert.Equal(t, start.Add(30*time.Minute), summary.End)
	assert.Equal(t, 300, summary.Decisions[risk.DecisionAllow]+summary.Decisions[risk.DecisionReview]+summary.Decisions[risk.DecisionBlock])
	assert.Positive(t, summary.Statuses[payments.StatusFailed])
	assert.Positive(t, summary.Alerts)

	critical := detector.GetActiveAlerts(anomaly.AlertFilter{Severity: anomaly.SeverityCritical, Provider: "mpesa"})
	require.NotEmpty(t, critical)
	assert.Equal(t, "KE", critical[0].Country)

	saved, err := store.ListRecentAlerts(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, saved, summary.Alerts)
}

func TestClock(t *testing.T) {
	c := NewClock(start)
	assert.Equal(t, start, c.Now())
	c.Set(start.Add(time.Minute))
	assert.Equal(t, start.Add(time.Minute), c.Now())
}
