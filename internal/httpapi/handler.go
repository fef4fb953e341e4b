package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/anomaly"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/payments"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/query"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/risk"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/routing"
)

// AlertSource is the slice of the anomaly engine the API reads.
type AlertSource interface {
	GetActiveAlerts(f anomaly.AlertFilter) []anomaly.Alert
	DismissAlert(id string) bool
	GetCapacityForecast(provider, country string, horizonHours int) []anomaly.ForecastPoint
}

// PerformanceSource is the slice of the routing engine the API reads.
type PerformanceSource interface {
	PerformanceReport() []routing.PerformanceEntry
	LastLearningUpdate() time.Time
}

// ProfileSource looks up customer risk history.
type ProfileSource interface {
	Profile(customerID string) (risk.ProfileSnapshot, bool)
}

// QueryFunc answers a natural-language query.
type QueryFunc func(ctx context.Context, text string) (query.Result, error)

var (
	_ AlertSource       = (*anomaly.Engine)(nil)
	_ PerformanceSource = (*routing.Engine)(nil)
	_ ProfileSource     = (*risk.Engine)(nil)
)

// Handler serves the admin endpoints.
type Handler struct {
	alerts   AlertSource
	routes   PerformanceSource
	profiles ProfileSource
	runQuery QueryFunc
	logger   zerolog.Logger

	maxForecastHours int
}

// NewHandler wires the engines behind the API. maxForecastHours bounds the hours query
// parameter of the forecast endpoint.
func NewHandler(alerts AlertSource, routes PerformanceSource, profiles ProfileSource, q QueryFunc, maxForecastHours int, logger zerolog.Logger) *Handler {
	return &Handler{
		alerts:   alerts,
		routes:   routes,
		profiles: profiles,
		runQuery: q,
		logger:   logger.With().Str("component", "httpapi").Logger(),

		maxForecastHours: maxForecastHours,
	}
}

type healthData struct {
	LastLearningUpdate *time.Time `json:"lastLearningUpdate,omitempty"`
	ActiveAlerts       int        `json:"activeAlerts"`
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	var data healthData
	if last := h.routes.LastLearningUpdate(); !last.IsZero() {
		data.LastLearningUpdate = &last
	}
	data.ActiveAlerts = len(h.alerts.GetActiveAlerts(anomaly.AlertFilter{}))
	writeSuccess(w, http.StatusOK, "ok", data)
}

func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := anomaly.AlertFilter{
		Severity: anomaly.Severity(strings.ToLower(q.Get("severity"))),
		Category: anomaly.Category(strings.ToLower(q.Get("category"))),
		Provider: strings.ToLower(q.Get("provider")),
	}
	switch f.Severity {
	case "", anomaly.SeverityWarning, anomaly.SeverityCritical:
	default:
		writeError(w, r, http.StatusBadRequest, "invalid_input", "severity must be warning or critical")
		return
	}
	writeSuccess(w, http.StatusOK, "", h.alerts.GetActiveAlerts(f))
}

func (h *Handler) dismissAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "alert_id")
	if !h.alerts.DismissAlert(id) {
		writeError(w, r, http.StatusNotFound, "not_found", "no active alert "+id)
		return
	}
	h.logger.Info().Str("alert_id", id).Msg("alert dismissed")
	writeSuccess(w, http.StatusOK, "dismissed", nil)
}

func (h *Handler) performance(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, http.StatusOK, "", h.routes.PerformanceReport())
}

func (h *Handler) forecast(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if raw := r.URL.Query().Get("hours"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, r, http.StatusBadRequest, "invalid_input", "hours must be a positive integer")
			return
		}
		if h.maxForecastHours > 0 && n > h.maxForecastHours {
			writeError(w, r, http.StatusBadRequest, "invalid_input", "hours must not exceed "+strconv.Itoa(h.maxForecastHours))
			return
		}
		hours = n
	}
	provider := strings.ToLower(chi.URLParam(r, "provider"))
	country := payments.NormalizeCountry(chi.URLParam(r, "country"))
	writeSuccess(w, http.StatusOK, "", h.alerts.GetCapacityForecast(provider, country, hours))
}

func (h *Handler) customerProfile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "customer_id")
	profile, ok := h.profiles.Profile(id)
	if !ok {
		writeError(w, r, http.StatusNotFound, "not_found", "no history for customer "+id)
		return
	}
	writeSuccess(w, http.StatusOK, "", profile)
}

func (h *Handler) queryTransactions(w http.ResponseWriter, r *http.Request) {
	var req query.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", "body must be {\"query\": \"...\"}")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_input", "query is required")
		return
	}
	res, err := h.runQuery(r.Context(), req.Query)
	if err != nil {
		h.logger.Error().Err(err).Str("query", req.Query).Msg("query failed")
		writeError(w, r, http.StatusInternalServerError, "internal_error", "query failed")
		return
	}
	writeSuccess(w, http.StatusOK, "", res)
}
