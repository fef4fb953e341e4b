package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// OutcomeRecord is one persisted provider call result.
type OutcomeRecord struct {
	ID            int64
	TransactionID string
	Provider      string
	Country       string
	Success       bool
	LatencyMs     float64
	Cost          decimal.Decimal
	RecordedAt    time.Time
}

// MetricPointRecord is one flushed metric window for a (provider, country) pair.
type MetricPointRecord struct {
	Provider       string
	Country        string
	Bucket         time.Time
	FailureRatePct float64
	LatencyMs      float64
	Volume         int64
}

// AlertRecord captures an emitted alert for auditing.
type AlertRecord struct {
	ID                 string
	Category           string
	Severity           string
	Signal             string
	Providers          []string
	Country            string
	Message            string
	Confidence         float64
	RecommendedActions []string
	Channels           []string
	CreatedAt          time.Time
	ExpiresAt          time.Time
}
