// Package httpapi serves the read and dismiss operations of the running engines over HTTP.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// NewRouter mounts the admin API. metricsHandler is served at metricsPath when non-nil.
func NewRouter(handler *Handler, metricsPath string, metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(accessLog(handler.logger))

	r.Get("/healthz", handler.health)
	if metricsHandler != nil {
		r.Method(http.MethodGet, metricsPath, metricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/alerts", handler.listAlerts)
		r.Delete("/alerts/{alert_id}", handler.dismissAlert)
		r.Get("/providers/performance", handler.performance)
		r.Get("/forecast/{provider}/{country}", handler.forecast)
		r.Get("/customers/{customer_id}/risk", handler.customerProfile)
		r.Post("/query", handler.queryTransactions)
	})
	return r
}

func requestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}

func accessLog(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			started := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("elapsed", time.Since(started)).
				Str("request_id", requestID(r)).
				Msg("http request")
		})
	}
}
