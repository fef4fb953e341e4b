package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/anomaly"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/query"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/risk"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/routing"
)

var noon = time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC)

type fakeAlerts struct {
	alerts    []anomaly.Alert
	filter    anomaly.AlertFilter
	dismissed []string
	forecast  struct {
		provider, country string
		hours             int
	}
}

func (f *fakeAlerts) GetActiveAlerts(filter anomaly.AlertFilter) []anomaly.Alert {
	f.filter = filter
	return f.alerts
}

func (f *fakeAlerts) DismissAlert(id string) bool {
	for _, a := range f.alerts {
		if a.ID == id {
			f.dismissed = append(f.dismissed, id)
			return true
		}
	}
	return false
}

func (f *fakeAlerts) GetCapacityForecast(provider, country string, hours int) []anomaly.ForecastPoint {
	f.forecast.provider, f.forecast.country, f.forecast.hours = provider, country, hours
	out := make([]anomaly.ForecastPoint, hours)
	for i := range out {
		out[i] = anomaly.ForecastPoint{Timestamp: noon.Add(time.Duration(i+1) * time.Hour), PredictedVolume: 10}
	}
	return out
}

type fakeRoutes struct {
	last time.Time
}

func (f fakeRoutes) PerformanceReport() []routing.PerformanceEntry {
	return []routing.PerformanceEntry{{Provider: "mpesa", Country: "KE", SuccessRate: 97.5, TotalTransactions: 40}}
}

func (f fakeRoutes) LastLearningUpdate() time.Time { return f.last }

type fakeProfiles map[string]risk.ProfileSnapshot

func (f fakeProfiles) Profile(id string) (risk.ProfileSnapshot, bool) {
	p, ok := f[id]
	return p, ok
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   errorPayload    `json:"error"`
}

func newTestRouter(t *testing.T, alerts *fakeAlerts, q QueryFunc) http.Handler {
	t.Helper()
	if q == nil {
		q = func(context.Context, string) (query.Result, error) { return query.Result{}, nil }
	}
	profiles := fakeProfiles{"cust-0001": {CustomerID: "cust-0001", Observations: 3, Countries: []string{"KE"}}}
	h := NewHandler(alerts, fakeRoutes{last: noon}, profiles, q, 168, zerolog.Nop())
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("paycore_up 1\n")) })
	return NewRouter(h, "/metrics", metrics)
}

func do(t *testing.T, router http.Handler, method, target, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func TestHealthReportsLearningAndAlerts(t *testing.T) {
	router := newTestRouter(t, &fakeAlerts{alerts: []anomaly.Alert{{ID: "a1"}}}, nil)

	rec, env := do(t, router, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", env.Status)

	var data healthData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, 1, data.ActiveAlerts)
	require.NotNil(t, data.LastLearningUpdate)
	assert.True(t, noon.Equal(*data.LastLearningUpdate))
}

func TestMetricsMounted(t *testing.T) {
	router := newTestRouter(t, &fakeAlerts{}, nil)
	rec, _ := do(t, router, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "paycore_up")
}

func TestListAlertsPassesFilter(t *testing.T) {
	alerts := &fakeAlerts{alerts: []anomaly.Alert{{ID: "a1", Severity: anomaly.SeverityCritical}}}
	router := newTestRouter(t, alerts, nil)

	rec, env := do(t, router, http.MethodGet, "/api/v1/alerts?severity=CRITICAL&category=failure_pattern&provider=MPesa", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, anomaly.AlertFilter{
		Severity: anomaly.SeverityCritical,
		Category: anomaly.CategoryFailurePattern,
		Provider: "mpesa",
	}, alerts.filter)

	var got []anomaly.Alert
	require.NoError(t, json.Unmarshal(env.Data, &got))
	require.Len(t, got, 1)
	assert.Equal(t, "a1", got[0].ID)

	rec, env = do(t, router, http.MethodGet, "/api/v1/alerts?severity=loud", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", env.Error.Code)
	assert.NotEmpty(t, env.Error.RequestID)
}

func TestDismissAlert(t *testing.T) {
	alerts := &fakeAlerts{alerts: []anomaly.Alert{{ID: "a1"}}}
	router := newTestRouter(t, alerts, nil)

	rec, _ := do(t, router, http.MethodDelete, "/api/v1/alerts/a1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"a1"}, alerts.dismissed)

	rec, env := do(t, router, http.MethodDelete, "/api/v1/alerts/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", env.Error.Code)
}

func TestPerformance(t *testing.T) {
	router := newTestRouter(t, &fakeAlerts{}, nil)
	rec, env := do(t, router, http.MethodGet, "/api/v1/providers/performance", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []routing.PerformanceEntry
	require.NoError(t, json.Unmarshal(env.Data, &got))
	require.Len(t, got, 1)
	assert.Equal(t, "mpesa", got[0].Provider)
	assert.Equal(t, int64(40), got[0].TotalTransactions)
}

func TestForecast(t *testing.T) {
	alerts := &fakeAlerts{}
	router := newTestRouter(t, alerts, nil)

	rec, env := do(t, router, http.MethodGet, "/api/v1/forecast/MPESA/ke?hours=6", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "mpesa", alerts.forecast.provider)
	assert.Equal(t, "KE", alerts.forecast.country)
	assert.Equal(t, 6, alerts.forecast.hours)

	var got []anomaly.ForecastPoint
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Len(t, got, 6)

	_, _ = do(t, router, http.MethodGet, "/api/v1/forecast/mpesa/KE", "")
	assert.Equal(t, 24, alerts.forecast.hours)

	rec, _ = do(t, router, http.MethodGet, "/api/v1/forecast/mpesa/KE?hours=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	_, _ = do(t, router, http.MethodGet, "/api/v1/forecast/mpesa/KE?hours=168", "")
	assert.Equal(t, 168, alerts.forecast.hours)

	rec, _ = do(t, router, http.MethodGet, "/api/v1/forecast/mpesa/KE?hours=169", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 168, alerts.forecast.hours)
}

func TestCustomerProfile(t *testing.T) {
	router := newTestRouter(t, &fakeAlerts{}, nil)

	rec, env := do(t, router, http.MethodGet, "/api/v1/customers/cust-0001/risk", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got risk.ProfileSnapshot
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, 3, got.Observations)

	rec, _ = do(t, router, http.MethodGet, "/api/v1/customers/nobody/risk", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQuery(t *testing.T) {
	var asked string
	q := func(_ context.Context, text string) (query.Result, error) {
		asked = text
		return query.Result{Matched: 4, OriginalQuery: text, FormattedResult: "Count: 4"}, nil
	}
	router := newTestRouter(t, &fakeAlerts{}, q)

	rec, env := do(t, router, http.MethodPost, "/api/v1/query", `{"query":"how many failed mpesa payments today"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "how many failed mpesa payments today", asked)

	var got query.Result
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, 4, got.Matched)
	assert.Equal(t, "Count: 4", got.FormattedResult)

	rec, _ = do(t, router, http.MethodPost, "/api/v1/query", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, router, http.MethodPost, "/api/v1/query", `{"query":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueryFailure(t *testing.T) {
	q := func(context.Context, string) (query.Result, error) { return query.Result{}, errors.New("db down") }
	router := newTestRouter(t, &fakeAlerts{}, q)

	rec, env := do(t, router, http.MethodPost, "/api/v1/query", `{"query":"show payments"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal_error", env.Error.Code)
	assert.NotContains(t, rec.Body.String(), "db down")
}
