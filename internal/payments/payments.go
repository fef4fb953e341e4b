package payments

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a transaction as reported by the provider adapters.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
)

// ParseStatus maps a free-form status string onto a known Status.
func ParseStatus(v string) (Status, bool) {
	switch Status(strings.ToLower(strings.TrimSpace(v))) {
	case StatusPending:
		return StatusPending, true
	case StatusProcessing:
		return StatusProcessing, true
	case StatusCompleted, "success", "successful":
		return StatusCompleted, true
	case StatusFailed:
		return StatusFailed, true
	case StatusCancelled, "canceled":
		return StatusCancelled, true
	case StatusRefunded:
		return StatusRefunded, true
	}
	return "", false
}

// Amount is a monetary value in a given ISO-4217 currency.
type Amount struct {
	Value    decimal.Decimal `json:"value"`
	Currency string          `json:"currency"`
}

// Customer identifies the paying party.
type Customer struct {
	ID      string `json:"id"`
	Country string `json:"country"`
	Phone   string `json:"phone"`
}

// Transaction is an immutable payment record owned by the storage layer.
type Transaction struct {
	ID            string    `json:"id"`
	Provider      string    `json:"provider"`
	Status        Status    `json:"status"`
	Amount        Amount    `json:"amount"`
	Customer      Customer  `json:"customer"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
	FailureReason string    `json:"failureReason,omitempty"`
}

// NormalizeCountry upper-cases and trims an ISO-3166 alpha-2 code.
func NormalizeCountry(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
