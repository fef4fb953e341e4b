package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/payments"
)

// MemoryStore keeps everything in process. It backs simulations and runs without a DSN.
// Each collection is capped; the oldest entries are dropped first.
type MemoryStore struct {
	mu           sync.RWMutex
	limit        int
	transactions map[string]payments.Transaction
	order        []string
	outcomes     []OutcomeRecord
	metrics      map[metricKey]MetricPointRecord
	alerts       []AlertRecord
	nextOutcome  int64
}

type metricKey struct {
	provider string
	country  string
	bucket   int64
}

var (
	_ TransactionStore = (*MemoryStore)(nil)
	_ OutcomeStore     = (*MemoryStore)(nil)
	_ MetricStore      = (*MemoryStore)(nil)
	_ AlertStore       = (*MemoryStore)(nil)
)

// NewMemoryStore caps each collection at limit entries.
func NewMemoryStore(limit int) *MemoryStore {
	if limit <= 0 {
		limit = 100_000
	}
	return &MemoryStore{
		limit:        limit,
		transactions: make(map[string]payments.Transaction),
		metrics:      make(map[metricKey]MetricPointRecord),
	}
}

// SaveTransaction upserts by id.
func (m *MemoryStore) SaveTransaction(_ context.Context, tx payments.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.transactions[tx.ID]; !ok {
		m.order = append(m.order, tx.ID)
		if len(m.order) > m.limit {
			delete(m.transactions, m.order[0])
			m.order = m.order[1:]
		}
	}
	m.transactions[tx.ID] = tx
	return nil
}

// ListTransactionsBetween mirrors the SQL query: inclusive bounds, newest first.
func (m *MemoryStore) ListTransactionsBetween(_ context.Context, from, to time.Time, limit int) ([]payments.Transaction, error) {
	m.mu.RLock()
	out := make([]payments.Transaction, 0)
	for _, tx := range m.transactions {
		if tx.CreatedAt.Before(from) || tx.CreatedAt.After(to) {
			continue
		}
		out = append(out, tx)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Transactions returns every stored transaction, which lets the store act as a query source.
func (m *MemoryStore) Transactions() []payments.Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]payments.Transaction, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.transactions[id])
	}
	return out
}

// InsertOutcome appends an outcome and assigns its id.
func (m *MemoryStore) InsertOutcome(_ context.Context, rec OutcomeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextOutcome++
	rec.ID = m.nextOutcome
	m.outcomes = append(m.outcomes, rec)
	if len(m.outcomes) > m.limit {
		m.outcomes = m.outcomes[len(m.outcomes)-m.limit:]
	}
	return nil
}

// ListOutcomesSince lists outcomes at or after since, oldest first.
func (m *MemoryStore) ListOutcomesSince(_ context.Context, since time.Time, limit int) ([]OutcomeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]OutcomeRecord, 0)
	for _, rec := range m.outcomes {
		if rec.RecordedAt.Before(since) {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// UpsertMetricPoint replaces the point for its (provider, country, bucket).
func (m *MemoryStore) UpsertMetricPoint(_ context.Context, rec MetricPointRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := metricKey{rec.Provider, rec.Country, rec.Bucket.UnixNano()}
	if _, ok := m.metrics[key]; !ok && len(m.metrics) >= m.limit {
		m.dropOldestMetricLocked()
	}
	m.metrics[key] = rec
	return nil
}

func (m *MemoryStore) dropOldestMetricLocked() {
	var (
		oldest metricKey
		found  bool
	)
	for k := range m.metrics {
		if !found || k.bucket < oldest.bucket {
			oldest, found = k, true
		}
	}
	if found {
		delete(m.metrics, oldest)
	}
}

// ListMetricPoints lists a pair's points since the given bucket, oldest first.
func (m *MemoryStore) ListMetricPoints(_ context.Context, provider, country string, since time.Time, limit int) ([]MetricPointRecord, error) {
	m.mu.RLock()
	out := make([]MetricPointRecord, 0)
	for k, rec := range m.metrics {
		if k.provider != provider || k.country != country || rec.Bucket.Before(since) {
			continue
		}
		out = append(out, rec)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Bucket.Before(out[j].Bucket) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// InsertAlert appends an alert, replacing the channels of an existing id.
func (m *MemoryStore) InsertAlert(_ context.Context, alert AlertRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.alerts {
		if m.alerts[i].ID == alert.ID {
			m.alerts[i].Channels = alert.Channels
			return nil
		}
	}
	m.alerts = append(m.alerts, alert)
	if len(m.alerts) > m.limit {
		m.alerts = m.alerts[len(m.alerts)-m.limit:]
	}
	return nil
}

// ListRecentAlerts lists the newest alerts first.
func (m *MemoryStore) ListRecentAlerts(_ context.Context, limit int) ([]AlertRecord, error) {
	m.mu.RLock()
	out := append([]AlertRecord(nil), m.alerts...)
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteAlertsBefore drops alerts created before olderThan.
func (m *MemoryStore) DeleteAlertsBefore(_ context.Context, olderThan time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.alerts[:0]
	for _, a := range m.alerts {
		if !a.CreatedAt.Before(olderThan) {
			kept = append(kept, a)
		}
	}
	m.alerts = kept
	return nil
}
