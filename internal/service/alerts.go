package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/alerting"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/anomaly"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/storage"
)

// AlertQueue buffers newly raised alerts between the anomaly engine and the dispatcher.
// Enqueue never blocks; alerts arriving while the queue is full are dropped.
type AlertQueue struct {
	ch     chan anomaly.Alert
	logger zerolog.Logger
}

// NewAlertQueue creates a queue holding at most size alerts.
func NewAlertQueue(size int, logger zerolog.Logger) *AlertQueue {
	if size <= 0 {
		size = 1
	}
	return &AlertQueue{
		ch:     make(chan anomaly.Alert, size),
		logger: logger.With().Str("component", "alert_queue").Logger(),
	}
}

// Enqueue matches anomaly.Options.OnAlert.
func (q *AlertQueue) Enqueue(a anomaly.Alert) {
	select {
	case q.ch <- a:
	default:
		q.logger.Warn().Str("alert_id", a.ID).Str("signal", string(a.Signal)).Msg("alert queue full, dropping alert")
	}
}

// Len reports the number of queued alerts.
func (q *AlertQueue) Len() int { return len(q.ch) }

// DispatchAlerts persists and notifies queued alerts until ctx is cancelled.
func (s *Service) DispatchAlerts(ctx context.Context) error {
	if s.deps.Alerts == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case a := <-s.deps.Alerts.ch:
			s.dispatch(ctx, a)
		}
	}
}

// DrainAlerts dispatches whatever is queued right now and returns how many were handled.
func (s *Service) DrainAlerts(ctx context.Context) int {
	if s.deps.Alerts == nil {
		return 0
	}
	handled := 0
	for {
		select {
		case a := <-s.deps.Alerts.ch:
			s.dispatch(ctx, a)
			handled++
		default:
			return handled
		}
	}
}

func (s *Service) dispatch(ctx context.Context, a anomaly.Alert) {
	if s.deps.AlertStore != nil {
		record := storage.AlertRecord{
			ID:                 a.ID,
			Category:           string(a.Category),
			Severity:           string(a.Severity),
			Signal:             string(a.Signal),
			Providers:          a.AffectedProviders,
			Country:            a.Country,
			Message:            a.Message,
			Confidence:         a.Confidence,
			RecommendedActions: a.RecommendedActions,
			Channels:           s.opts.Channels,
			CreatedAt:          a.CreatedAt,
			ExpiresAt:          a.ExpiresAt,
		}
		if err := s.deps.AlertStore.InsertAlert(ctx, record); err != nil {
			s.logger.Error().Err(err).Str("alert_id", a.ID).Msg("failed to persist alert record")
		}
	}

	if s.deps.Notifier == nil || severityRank(a.Severity) < severityRank(s.opts.MinSeverity) {
		return
	}
	note := alerting.Notification{Alert: a, Channels: s.opts.Channels, Environment: s.opts.Environment}
	if err := s.deps.Notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Str("alert_id", a.ID).Msg("failed to dispatch alert")
	}
}

func severityRank(sev anomaly.Severity) int {
	switch sev {
	case anomaly.SeverityCritical:
		return 2
	case anomaly.SeverityWarning:
		return 1
	default:
		return 0
	}
}
