// Package service runs the payment pipeline: risk check, provider selection, execution,
// and the outcome feed that drives routing and anomaly detection.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/alerting"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/anomaly"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/payments"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/risk"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/routing"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/storage"
)

// Request is one payment submitted to the pipeline. An empty DestinationCountry means the
// customer's country.
type Request struct {
	TransactionID      string
	Amount             payments.Amount
	Customer           payments.Customer
	DestinationCountry string
	PaymentMethod      string
	Priority           routing.Priority
	Timestamp          time.Time
}

// Execution is what a provider adapter reports back.
type Execution struct {
	Success       bool
	Latency       time.Duration
	Fee           decimal.Decimal
	FailureReason string
}

// Executor calls the chosen provider.
type Executor interface {
	Execute(ctx context.Context, provider string, req Request) (Execution, error)
}

// Result is the outcome of Process. Route is nil when the payment was blocked.
type Result struct {
	Transaction payments.Transaction `json:"transaction"`
	Risk        risk.Assessment      `json:"risk"`
	Route       *routing.Selection   `json:"route,omitempty"`
}

// Blocked reports whether the risk engine stopped the payment.
func (r Result) Blocked() bool { return r.Risk.Decision == risk.DecisionBlock }

// Deps are the collaborators a Service is built from. Stores, Locker and Notifier are optional.
type Deps struct {
	Risk     *risk.Engine
	Routing  *routing.Engine
	Anomaly  *anomaly.Engine
	Executor Executor
	Alerts   *AlertQueue

	Transactions storage.TransactionStore
	Outcomes     storage.OutcomeStore
	Metrics      storage.MetricStore
	AlertStore   storage.AlertStore
	Locker       storage.AdvisoryLocker
	Notifier     alerting.Notifier

	Logger zerolog.Logger
	Now    func() time.Time
}

// Options tune dispatch behaviour.
type Options struct {
	LockKey     int64
	MinSeverity anomaly.Severity
	Channels    []string
	Environment string

	// AlertRetention drops persisted alerts older than this on every bucket. Zero keeps them.
	AlertRetention time.Duration
}

// Service wires the engines to execution, persistence and alerting.
type Service struct {
	deps    Deps
	opts    Options
	logger  zerolog.Logger
	now     func() time.Time
	windows *windows
}

// New validates deps and constructs the service.
func New(deps Deps, opts Options) (*Service, error) {
	if deps.Risk == nil || deps.Routing == nil || deps.Anomaly == nil {
		return nil, errors.New("service requires risk, routing and anomaly engines")
	}
	if deps.Executor == nil {
		return nil, errors.New("service requires an executor")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if opts.MinSeverity == "" {
		opts.MinSeverity = anomaly.SeverityWarning
	}

	return &Service{
		deps:    deps,
		opts:    opts,
		logger:  deps.Logger.With().Str("component", "service").Logger(),
		now:     deps.Now,
		windows: newWindows(),
	}, nil
}

// Process runs one payment through the pipeline. Persistence failures are logged, not returned;
// the only error is a cancelled context.
func (s *Service) Process(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	now := s.now().UTC()
	if req.Timestamp.IsZero() {
		req.Timestamp = now
	}
	if req.TransactionID == "" {
		req.TransactionID = uuid.NewString()
	}
	req.Customer.Country = payments.NormalizeCountry(req.Customer.Country)
	if req.DestinationCountry == "" {
		req.DestinationCountry = req.Customer.Country
	}
	req.DestinationCountry = payments.NormalizeCountry(req.DestinationCountry)

	assessment := s.deps.Risk.CheckTransaction(risk.CheckInput{
		Amount:        req.Amount.Value,
		Currency:      req.Amount.Currency,
		CustomerID:    req.Customer.ID,
		Phone:         req.Customer.Phone,
		Country:       req.Customer.Country,
		PaymentMethod: req.PaymentMethod,
		Timestamp:     req.Timestamp,
	})

	tx := payments.Transaction{
		ID:        req.TransactionID,
		Status:    payments.StatusPending,
		Amount:    req.Amount,
		Customer:  req.Customer,
		CreatedAt: req.Timestamp,
		UpdatedAt: req.Timestamp,
	}
	result := Result{Risk: assessment}

	if assessment.Decision == risk.DecisionBlock {
		tx.Status = payments.StatusCancelled
		tx.FailureReason = "blocked by risk check: " + strings.Join(assessment.RulesTriggered, ",")
		result.Transaction = tx
		s.logger.Info().
			Str("transaction_id", tx.ID).
			Int("risk_score", assessment.RiskScore).
			Strs("rules", assessment.RulesTriggered).
			Msg("payment blocked")
		s.saveTransaction(ctx, tx)
		return result, nil
	}

	selection := s.deps.Routing.SelectProvider(routing.SelectInput{
		Amount:             req.Amount.Value,
		DestinationCountry: req.DestinationCountry,
		PaymentMethod:      req.PaymentMethod,
		Priority:           req.Priority,
	})
	result.Route = &selection
	tx.Provider = selection.Provider

	exec, err := s.deps.Executor.Execute(ctx, selection.Provider, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		exec = Execution{Success: false, Latency: exec.Latency, FailureReason: err.Error()}
	}

	finished := req.Timestamp.Add(exec.Latency)
	tx.UpdatedAt = finished
	if exec.Success {
		tx.Status = payments.StatusCompleted
	} else {
		tx.Status = payments.StatusFailed
		tx.FailureReason = exec.FailureReason
	}
	result.Transaction = tx

	latencyMs := float64(exec.Latency) / float64(time.Millisecond)
	s.deps.Routing.RecordOutcome(routing.Outcome{
		Provider:  selection.Provider,
		Country:   req.DestinationCountry,
		Success:   exec.Success,
		LatencyMs: latencyMs,
		Cost:      exec.Fee,
		At:        finished,
	})
	s.windows.observe(selection.Provider, req.DestinationCountry, exec.Success, latencyMs)

	if s.deps.Outcomes != nil {
		rec := storage.OutcomeRecord{
			TransactionID: tx.ID,
			Provider:      selection.Provider,
			Country:       req.DestinationCountry,
			Success:       exec.Success,
			LatencyMs:     latencyMs,
			Cost:          exec.Fee,
			RecordedAt:    finished,
		}
		if err := s.deps.Outcomes.InsertOutcome(ctx, rec); err != nil {
			s.logger.Error().Err(err).Str("transaction_id", tx.ID).Msg("failed to persist outcome")
		}
	}
	s.saveTransaction(ctx, tx)

	s.logger.Debug().
		Str("transaction_id", tx.ID).
		Str("provider", selection.Provider).
		Str("decision", string(assessment.Decision)).
		Bool("success", exec.Success).
		Msg("payment processed")
	return result, nil
}

func (s *Service) saveTransaction(ctx context.Context, tx payments.Transaction) {
	if s.deps.Transactions == nil {
		return
	}
	if err := s.deps.Transactions.SaveTransaction(ctx, tx); err != nil {
		s.logger.Error().Err(err).Str("transaction_id", tx.ID).Msg("failed to persist transaction")
	}
}

// FlushSummary reports what one Flush produced.
type FlushSummary struct {
	Bucket  time.Time
	Windows int
	Alerts  int
}

// Flush turns every open metric window into one anomaly point stamped with bucket.
func (s *Service) Flush(ctx context.Context, bucket time.Time) FlushSummary {
	summary := FlushSummary{Bucket: bucket}
	for _, w := range s.windows.drain() {
		point := w.point(bucket)
		raised := s.deps.Anomaly.RecordMetrics(w.provider, w.country, point)
		summary.Windows++
		summary.Alerts += len(raised)

		if s.deps.Metrics != nil {
			rec := storage.MetricPointRecord{
				Provider:       w.provider,
				Country:        w.country,
				Bucket:         bucket,
				FailureRatePct: point.FailureRatePercent,
				LatencyMs:      point.LatencyMs,
				Volume:         point.Volume,
			}
			if err := s.deps.Metrics.UpsertMetricPoint(ctx, rec); err != nil {
				s.logger.Error().Err(err).Str("provider", w.provider).Str("country", w.country).Msg("failed to persist metric point")
			}
		}
	}
	return summary
}

// ProcessBucket flushes metric windows and applies buffered routing outcomes. With a lock key
// configured, only the holder of the advisory lock does the work.
func (s *Service) ProcessBucket(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip bucket because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	flushed := s.Flush(ctx, bucket)
	learned := s.deps.Routing.Learn()
	pruned := s.deps.Risk.Prune(s.now())

	if s.deps.AlertStore != nil && s.opts.AlertRetention > 0 {
		cutoff := s.now().Add(-s.opts.AlertRetention)
		if err := s.deps.AlertStore.DeleteAlertsBefore(ctx, cutoff); err != nil {
			s.logger.Error().Err(err).Time("cutoff", cutoff).Msg("failed to prune alert records")
		}
	}

	s.logger.Info().
		Time("bucket", bucket).
		Int("windows", flushed.Windows).
		Int("alerts", flushed.Alerts).
		Int("outcomes_applied", learned.Applied).
		Int("profiles_pruned", pruned).
		Msg("bucket processed")
	return nil
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.LockKey == 0 || s.deps.Locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.deps.Locker.TryAdvisoryLock(ctx, s.opts.LockKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotConfigured) {
			return nil, true, nil
		}
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
