package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/payments"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertTransactionSQL = `INSERT INTO transactions (
        id,
        provider,
        status,
        amount,
        currency,
        customer_id,
        country,
        phone,
        failure_reason,
        created_at,
        updated_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
    )
    ON CONFLICT (id) DO UPDATE
    SET
        provider       = EXCLUDED.provider,
        status         = EXCLUDED.status,
        failure_reason = EXCLUDED.failure_reason,
        updated_at     = EXCLUDED.updated_at;`

	listTransactionsBetweenSQL = `SELECT
        id,
        provider,
        status,
        amount,
        currency,
        customer_id,
        country,
        phone,
        failure_reason,
        created_at,
        updated_at
    FROM transactions
    WHERE created_at >= $1
      AND created_at <= $2
    ORDER BY created_at DESC
    LIMIT $3;`

	insertOutcomeSQL = `INSERT INTO provider_outcomes (
        transaction_id,
        provider,
        country,
        success,
        latency_ms,
        cost,
        recorded_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    );`

	listOutcomesSinceSQL = `SELECT
        id,
        transaction_id,
        provider,
        country,
        success,
        latency_ms,
        cost,
        recorded_at
    FROM provider_outcomes
    WHERE recorded_at >= $1
    ORDER BY recorded_at, id
    LIMIT $2;`

	upsertMetricPointSQL = `INSERT INTO metric_points (
        provider,
        country,
        bucket_ts,
        failure_rate_pct,
        latency_ms,
        volume
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    ON CONFLICT (provider, country, bucket_ts) DO UPDATE
    SET
        failure_rate_pct = EXCLUDED.failure_rate_pct,
        latency_ms       = EXCLUDED.latency_ms,
        volume           = EXCLUDED.volume;`

	listMetricPointsSQL = `SELECT
        provider,
        country,
        bucket_ts,
        failure_rate_pct,
        latency_ms,
        volume
    FROM metric_points
    WHERE provider = $1
      AND country = $2
      AND bucket_ts >= $3
    ORDER BY bucket_ts
    LIMIT $4;`

	insertAlertSQL = `INSERT INTO alerts (
        id,
        category,
        severity,
        signal,
        providers,
        country,
        message,
        confidence,
        recommended_actions,
        channels,
        created_at,
        expires_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
    )
    ON CONFLICT (id) DO UPDATE
    SET channels = EXCLUDED.channels;`

	listRecentAlertsSQL = `SELECT
        id::text,
        category,
        severity,
        signal,
        providers,
        country,
        message,
        confidence,
        recommended_actions,
        channels,
        created_at,
        expires_at
    FROM alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteAlertsBeforeSQL = `DELETE FROM alerts WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// TransactionStore persists transactions and serves the query snapshot.
type TransactionStore interface {
	SaveTransaction(ctx context.Context, tx payments.Transaction) error
	ListTransactionsBetween(ctx context.Context, from, to time.Time, limit int) ([]payments.Transaction, error)
}

// OutcomeStore persists provider outcomes for replay into routing.
type OutcomeStore interface {
	InsertOutcome(ctx context.Context, rec OutcomeRecord) error
	ListOutcomesSince(ctx context.Context, since time.Time, limit int) ([]OutcomeRecord, error)
}

// MetricStore persists flushed metric windows for replay into anomaly detection.
type MetricStore interface {
	UpsertMetricPoint(ctx context.Context, rec MetricPointRecord) error
	ListMetricPoints(ctx context.Context, provider, country string, since time.Time, limit int) ([]MetricPointRecord, error)
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) error
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates PostgreSQL access for every persisted entity.
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ TransactionStore = (*Store)(nil)
	_ OutcomeStore     = (*Store)(nil)
	_ MetricStore      = (*Store)(nil)
	_ AlertStore       = (*Store)(nil)
	_ AdvisoryLocker   = (*Store)(nil)
)

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// A failed unlock is released with the session when the connection is dropped.
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			conn.Conn().Close(ctxUnlock)
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// SaveTransaction upserts a transaction by id.
func (s *Store) SaveTransaction(ctx context.Context, tx payments.Transaction) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var reason interface{}
	if tx.FailureReason != "" {
		reason = tx.FailureReason
	}

	_, execErr := pool.Exec(ctx, upsertTransactionSQL,
		tx.ID,
		tx.Provider,
		string(tx.Status),
		tx.Amount.Value.String(),
		tx.Amount.Currency,
		tx.Customer.ID,
		tx.Customer.Country,
		tx.Customer.Phone,
		reason,
		tx.CreatedAt,
		tx.UpdatedAt,
	)
	if execErr != nil {
		return fmt.Errorf("upsert transaction: %w", execErr)
	}
	return nil
}

// ListTransactionsBetween lists transactions created within [from, to], newest first.
func (s *Store) ListTransactionsBetween(ctx context.Context, from, to time.Time, limit int) ([]payments.Transaction, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listTransactionsBetweenSQL, from, to, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list transactions between: %w", queryErr)
	}
	defer rows.Close()

	txs := make([]payments.Transaction, 0)
	for rows.Next() {
		tx, scanErr := scanTransaction(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		txs = append(txs, tx)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return txs, nil
}

// InsertOutcome appends a provider outcome.
func (s *Store) InsertOutcome(ctx context.Context, rec OutcomeRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, execErr := pool.Exec(ctx, insertOutcomeSQL,
		rec.TransactionID,
		rec.Provider,
		rec.Country,
		rec.Success,
		rec.LatencyMs,
		rec.Cost.String(),
		rec.RecordedAt,
	)
	if execErr != nil {
		return fmt.Errorf("insert outcome: %w", execErr)
	}
	return nil
}

// ListOutcomesSince lists outcomes recorded at or after since, oldest first.
func (s *Store) ListOutcomesSince(ctx context.Context, since time.Time, limit int) ([]OutcomeRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listOutcomesSinceSQL, since, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list outcomes since: %w", queryErr)
	}
	defer rows.Close()

	out := make([]OutcomeRecord, 0)
	for rows.Next() {
		var (
			rec     OutcomeRecord
			costStr string
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.TransactionID,
			&rec.Provider,
			&rec.Country,
			&rec.Success,
			&rec.LatencyMs,
			&costStr,
			&rec.RecordedAt,
		); err != nil {
			return nil, err
		}
		cost, convErr := decimal.NewFromString(costStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse outcome cost: %w", convErr)
		}
		rec.Cost = cost
		out = append(out, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// UpsertMetricPoint persists or replaces the metric window for its bucket.
func (s *Store) UpsertMetricPoint(ctx context.Context, rec MetricPointRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, execErr := pool.Exec(ctx, upsertMetricPointSQL,
		rec.Provider,
		rec.Country,
		rec.Bucket,
		rec.FailureRatePct,
		rec.LatencyMs,
		rec.Volume,
	)
	if execErr != nil {
		return fmt.Errorf("upsert metric point: %w", execErr)
	}
	return nil
}

// ListMetricPoints lists metric windows for a pair since the given bucket, oldest first.
func (s *Store) ListMetricPoints(ctx context.Context, provider, country string, since time.Time, limit int) ([]MetricPointRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listMetricPointsSQL, provider, country, since, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list metric points: %w", queryErr)
	}
	defer rows.Close()

	out := make([]MetricPointRecord, 0)
	for rows.Next() {
		var rec MetricPointRecord
		if err := rows.Scan(
			&rec.Provider,
			&rec.Country,
			&rec.Bucket,
			&rec.FailureRatePct,
			&rec.LatencyMs,
			&rec.Volume,
		); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// InsertAlert persists an alert emission.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, execErr := pool.Exec(ctx, insertAlertSQL,
		alert.ID,
		alert.Category,
		alert.Severity,
		alert.Signal,
		alert.Providers,
		alert.Country,
		alert.Message,
		alert.Confidence,
		nonNil(alert.RecommendedActions),
		nonNil(alert.Channels),
		alert.CreatedAt,
		alert.ExpiresAt,
	)
	if execErr != nil {
		return fmt.Errorf("insert alert: %w", execErr)
	}
	return nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		var rec AlertRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.Category,
			&rec.Severity,
			&rec.Signal,
			&rec.Providers,
			&rec.Country,
			&rec.Message,
			&rec.Confidence,
			&rec.RecommendedActions,
			&rec.Channels,
			&rec.CreatedAt,
			&rec.ExpiresAt,
		); err != nil {
			return nil, err
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteAlertsBefore deletes historical alerts.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete alerts before: %w", execErr)
	}
	return nil
}

func scanTransaction(rows pgx.Rows) (payments.Transaction, error) {
	var (
		tx        payments.Transaction
		status    string
		amountStr string
		reason    sql.NullString
	)

	if err := rows.Scan(
		&tx.ID,
		&tx.Provider,
		&status,
		&amountStr,
		&tx.Amount.Currency,
		&tx.Customer.ID,
		&tx.Customer.Country,
		&tx.Customer.Phone,
		&reason,
		&tx.CreatedAt,
		&tx.UpdatedAt,
	); err != nil {
		return payments.Transaction{}, err
	}

	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return payments.Transaction{}, fmt.Errorf("parse amount: %w", err)
	}
	tx.Amount.Value = amount
	if parsed, ok := payments.ParseStatus(status); ok {
		tx.Status = parsed
	} else {
		tx.Status = payments.Status(status)
	}
	if reason.Valid {
		tx.FailureReason = reason.String
	}
	return tx, nil
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
