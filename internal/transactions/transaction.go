// Package transactions owns the scored transaction model and the in-memory
// retention store that every other component reads snapshots from.
package transactions

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/txpulse/internal/validation"
)

var (
	ErrDuplicateID        = errors.New("transactions: duplicate transaction id")
	ErrNotFound           = errors.New("transactions: transaction not found")
	ErrInvalidTransaction = errors.New("transactions: invalid transaction")
)

// Type is the payment rail a transaction arrived on. The set is open:
// sources may introduce new rails without a code change.
type Type string

const (
	TypeCreditCard Type = "credit_card"
	TypePayPal     Type = "paypal"
)

// Status is the processing state reported by the source.
type Status string

const (
	StatusApproved  Status = "approved"
	StatusCompleted Status = "completed"
	StatusPending   Status = "pending"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusApproved, StatusCompleted, StatusPending, StatusFailed:
		return true
	}
	return false
}

// Settled reports whether the status counts as a settled payment.
func (s Status) Settled() bool {
	return s == StatusApproved || s == StatusCompleted
}

// RiskLevel is the discrete bucket derived from a risk score.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Valid reports whether l is one of the known levels.
func (l RiskLevel) Valid() bool {
	return l == RiskLow || l == RiskMedium || l == RiskHigh
}

// Transaction is a single payment event. Once ingested it is immutable
// except for IsFraud, which only MarkFraud may set.
type Transaction struct {
	ID         string          `json:"transaction_id"`
	Type       Type            `json:"transaction_type"`
	Merchant   string          `json:"merchant"`
	Category   string          `json:"category"`
	CustomerID string          `json:"customer_id"`
	Amount     decimal.Decimal `json:"amount"`
	Status     Status          `json:"status"`
	Timestamp  time.Time       `json:"timestamp"`

	// Computed on ingest; caller-supplied values are overwritten.
	RiskScore float64   `json:"fraud_risk_score"`
	RiskLevel RiskLevel `json:"risk_level"`
	IsFraud   bool      `json:"is_fraud"`

	// Assigned by the store.
	Sequence   uint64    `json:"sequence"`
	IngestedAt time.Time `json:"ingested_at"`
}

// Normalize trims free-text fields and lower-cases the enumerations so
// sources that send "Approved" or " paypal" still validate.
func (t *Transaction) Normalize() {
	t.ID = strings.TrimSpace(t.ID)
	t.Merchant = strings.TrimSpace(t.Merchant)
	t.Category = strings.TrimSpace(t.Category)
	t.CustomerID = strings.TrimSpace(t.CustomerID)
	t.Type = Type(strings.ToLower(strings.TrimSpace(string(t.Type))))
	t.Status = Status(strings.ToLower(strings.TrimSpace(string(t.Status))))
}

// Validate checks the invariants a transaction must hold before scoring.
func (t *Transaction) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: transaction_id is required", ErrInvalidTransaction)
	}
	// Same rule the by-id routes apply, so every retained id is addressable.
	if !validation.IsValidID(t.ID) {
		return fmt.Errorf("%w: transaction_id %q is malformed", ErrInvalidTransaction, t.ID)
	}
	if t.Amount.IsNegative() {
		return fmt.Errorf("%w: amount must not be negative", ErrInvalidTransaction)
	}
	if !t.Status.Valid() {
		return fmt.Errorf("%w: status %q is not one of approved, completed, pending, failed", ErrInvalidTransaction, t.Status)
	}
	return nil
}
