package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/alerting"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/anomaly"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/payments"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/risk"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/routing"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/storage"
)

var noon = time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC)

type scriptedExecutor struct {
	mu      sync.Mutex
	fail    bool
	err     error
	calls   []string
	latency time.Duration
}

func (s *scriptedExecutor) Execute(_ context.Context, provider string, req Request) (Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, provider)
	if s.err != nil {
		return Execution{}, s.err
	}
	if s.fail {
		return Execution{Success: false, Latency: s.latency, FailureReason: "insufficient funds"}, nil
	}
	return Execution{Success: true, Latency: s.latency, Fee: req.Amount.Value.Mul(decimal.NewFromFloat(0.015))}, nil
}

func (s *scriptedExecutor) setFail(v bool) {
	s.mu.Lock()
	s.fail = v
	s.mu.Unlock()
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []alerting.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n alerting.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.notes)
}

type fakeLocker struct {
	acquired bool
	err      error
	unlocked int
}

func (f *fakeLocker) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	if f.err != nil || !f.acquired {
		return nil, false, f.err
	}
	return func() { f.unlocked++ }, true, nil
}

type fixture struct {
	svc      *Service
	exec     *scriptedExecutor
	store    *storage.MemoryStore
	queue    *AlertQueue
	notifier *recordingNotifier
	routing  *routing.Engine
	anomaly  *anomaly.Engine
	locker   *fakeLocker
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	clock := func() time.Time { return noon }

	routeCfg := routing.DefaultConfig()
	routeCfg.Preferences = map[string][]string{"KE": {"mpesa"}}

	f := &fixture{
		exec:     &scriptedExecutor{latency: 2 * time.Second},
		store:    storage.NewMemoryStore(0),
		queue:    NewAlertQueue(16, zerolog.Nop()),
		notifier: &recordingNotifier{},
		locker:   &fakeLocker{acquired: true},
	}
	f.routing = routing.New(routeCfg, routing.Options{Now: clock})
	f.anomaly = anomaly.New(anomaly.DefaultConfig(), anomaly.Options{Now: clock, OnAlert: f.queue.Enqueue})

	svc, err := New(Deps{
		Risk:         risk.New(risk.DefaultConfig(), risk.Options{Now: clock}),
		Routing:      f.routing,
		Anomaly:      f.anomaly,
		Executor:     f.exec,
		Alerts:       f.queue,
		Transactions: f.store,
		Outcomes:     f.store,
		Metrics:      f.store,
		AlertStore:   f.store,
		Locker:       f.locker,
		Notifier:     f.notifier,
		Logger:       zerolog.Nop(),
		Now:          clock,
	}, opts)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func payment(customer, country string, amount int64, at time.Time) Request {
	return Request{
		Amount:    payments.Amount{Value: decimal.NewFromInt(amount), Currency: "KES"},
		Customer:  payments.Customer{ID: customer, Country: country, Phone: "+254700000000"},
		Timestamp: at,
	}
}

func TestNewRequiresEngines(t *testing.T) {
	_, err := New(Deps{}, Options{})
	assert.Error(t, err)
}

func TestProcessRoutesAndRecords(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	res, err := f.svc.Process(ctx, payment("c1", "ke", 5_000, noon))
	require.NoError(t, err)

	require.NotNil(t, res.Route)
	assert.False(t, res.Blocked())
	assert.Equal(t, "mpesa", res.Route.Provider)
	assert.Equal(t, payments.StatusCompleted, res.Transaction.Status)
	assert.Equal(t, "KE", res.Transaction.Customer.Country)
	assert.NotEmpty(t, res.Transaction.ID)
	assert.Equal(t, noon.Add(2*time.Second), res.Transaction.UpdatedAt)

	saved, err := f.store.ListTransactionsBetween(ctx, noon.Add(-time.Hour), noon.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, res.Transaction.ID, saved[0].ID)

	outcomes, err := f.store.ListOutcomesSince(ctx, noon.Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Success)
	assert.Equal(t, 2000.0, outcomes[0].LatencyMs)

	report := f.routing.PerformanceReport()
	require.Len(t, report, 1)
	assert.Equal(t, int64(1), report[0].TotalTransactions)
}

func TestProcessBlockSkipsRouting(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	_, err := f.svc.Process(ctx, payment("fraudster", "KE", 5_000, noon))
	require.NoError(t, err)
	res, err := f.svc.Process(ctx, payment("fraudster", "NG", 600_000, noon.Add(10*time.Minute)))
	require.NoError(t, err)

	assert.True(t, res.Blocked())
	assert.Nil(t, res.Route)
	assert.Equal(t, payments.StatusCancelled, res.Transaction.Status)
	assert.Contains(t, res.Transaction.FailureReason, risk.RuleAmountCritical)
	assert.Len(t, f.exec.calls, 1)

	saved, err := f.store.ListTransactionsBetween(ctx, noon.Add(-time.Hour), noon.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Len(t, saved, 2)
}

func TestProcessExecutorErrorIsFailedOutcome(t *testing.T) {
	f := newFixture(t, Options{})
	f.exec.err = errors.New("provider timeout")

	res, err := f.svc.Process(context.Background(), payment("c1", "KE", 5_000, noon))
	require.NoError(t, err)
	assert.Equal(t, payments.StatusFailed, res.Transaction.Status)
	assert.Equal(t, "provider timeout", res.Transaction.FailureReason)

	report := f.routing.PerformanceReport()
	require.Len(t, report, 1)
	assert.Less(t, report[0].SuccessRate, 96.0)
}

func TestProcessCancelledContext(t *testing.T) {
	f := newFixture(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.Process(ctx, payment("c1", "KE", 5_000, noon))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.exec.calls)
}

func TestFlushTurnsWindowIntoPoint(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		f.exec.setFail(i%2 == 1)
		_, err := f.svc.Process(ctx, payment(fmt.Sprintf("c%d", i), "KE", 5_000, noon))
		require.NoError(t, err)
	}

	bucket := noon.Truncate(time.Minute)
	summary := f.svc.Flush(ctx, bucket)
	assert.Equal(t, 1, summary.Windows)
	assert.Zero(t, summary.Alerts)

	history := f.anomaly.History("mpesa", "KE")
	require.Len(t, history, 1)
	assert.Equal(t, 50.0, history[0].FailureRatePercent)
	assert.Equal(t, 2000.0, history[0].LatencyMs)
	assert.Equal(t, int64(4), history[0].Volume)
	assert.Equal(t, bucket, history[0].Timestamp)

	stored, err := f.store.ListMetricPoints(ctx, "mpesa", "KE", bucket.Add(-time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, int64(4), stored[0].Volume)

	assert.Zero(t, f.svc.Flush(ctx, bucket.Add(time.Minute)).Windows, "windows reset after flush")
}

func TestFailureSpikeRaisesAndDispatchesAlert(t *testing.T) {
	f := newFixture(t, Options{LockKey: 7, Channels: []string{"telegram"}, Environment: "test"})
	ctx := context.Background()

	customer := 0
	for bucket := 0; bucket < 20; bucket++ {
		f.exec.setFail(bucket >= 10)
		for i := 0; i < 5; i++ {
			customer++
			_, err := f.svc.Process(ctx, payment(fmt.Sprintf("c%d", customer), "KE", 5_000, noon))
			require.NoError(t, err)
		}
		require.NoError(t, f.svc.ProcessBucket(ctx, noon.Add(time.Duration(bucket)*time.Minute)))
	}

	require.GreaterOrEqual(t, f.queue.Len(), 1)
	handled := f.svc.DrainAlerts(ctx)
	assert.Equal(t, handled, f.notifier.count())
	assert.Zero(t, f.queue.Len())

	active := f.anomaly.GetActiveAlerts(anomaly.AlertFilter{Severity: anomaly.SeverityCritical, Provider: "mpesa"})
	require.NotEmpty(t, active)
	assert.Equal(t, anomaly.SignalFailureRate, active[0].Signal)

	persisted, err := f.store.ListRecentAlerts(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, persisted, handled)
	assert.Equal(t, []string{"telegram"}, persisted[0].Channels)
	assert.Equal(t, "test", f.notifier.notes[0].Environment)
	assert.Equal(t, 20, f.locker.unlocked)
}

func TestDispatchHonoursMinSeverity(t *testing.T) {
	f := newFixture(t, Options{MinSeverity: anomaly.SeverityCritical})
	ctx := context.Background()

	f.queue.Enqueue(anomaly.Alert{ID: "w", Severity: anomaly.SeverityWarning, CreatedAt: noon})
	f.queue.Enqueue(anomaly.Alert{ID: "c", Severity: anomaly.SeverityCritical, CreatedAt: noon.Add(time.Second)})
	assert.Equal(t, 2, f.svc.DrainAlerts(ctx))

	require.Equal(t, 1, f.notifier.count())
	assert.Equal(t, "c", f.notifier.notes[0].Alert.ID)

	persisted, err := f.store.ListRecentAlerts(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, persisted, 2)
}

func TestAlertQueueDropsWhenFull(t *testing.T) {
	q := NewAlertQueue(1, zerolog.Nop())
	q.Enqueue(anomaly.Alert{ID: "a"})
	q.Enqueue(anomaly.Alert{ID: "b"})
	assert.Equal(t, 1, q.Len())
}

func TestDispatchAlertsStopsOnCancel(t *testing.T) {
	f := newFixture(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.svc.DispatchAlerts(ctx) }()

	f.queue.Enqueue(anomaly.Alert{ID: "x", Severity: anomaly.SeverityCritical})
	require.Eventually(t, func() bool { return f.notifier.count() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestProcessBucketSkipsWithoutLock(t *testing.T) {
	f := newFixture(t, Options{LockKey: 42})
	ctx := context.Background()
	f.locker.acquired = false

	_, err := f.svc.Process(ctx, payment("c1", "KE", 5_000, noon))
	require.NoError(t, err)
	require.NoError(t, f.svc.ProcessBucket(ctx, noon))
	assert.Empty(t, f.anomaly.History("mpesa", "KE"), "window must stay open while another instance holds the lock")

	f.locker.acquired = true
	require.NoError(t, f.svc.ProcessBucket(ctx, noon))
	assert.Len(t, f.anomaly.History("mpesa", "KE"), 1)
	assert.Equal(t, 1, f.locker.unlocked)
}

func TestProcessBucketLockError(t *testing.T) {
	f := newFixture(t, Options{LockKey: 42})
	f.locker.err = errors.New("connection refused")
	assert.Error(t, f.svc.ProcessBucket(context.Background(), noon))

	f.locker.err = storage.ErrNotConfigured
	assert.NoError(t, f.svc.ProcessBucket(context.Background(), noon))
}
