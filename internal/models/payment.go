package models

import (
	"time"

	"github.com/quadfund/reconciler/pkg/utils"
)

// PaymentStatus is the closed set of payment states. The source schema
// carried this as free text; unknown strings are rejected at the
// ingestion boundary and never reach the ledger.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusConfirmed PaymentStatus = "confirmed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// Valid reports whether the status is a known payment status
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusConfirmed, PaymentStatusFailed:
		return true
	}
	return false
}

// ParsePaymentStatus maps a raw status string to the closed type
func ParsePaymentStatus(raw string) (PaymentStatus, error) {
	s := PaymentStatus(raw)
	if !s.Valid() {
		return "", utils.NewAppError(utils.ErrCodeMalformedEvent, "Unknown payment status", raw)
	}
	return s, nil
}

// Payment is a contribution row in the ledger. A confirmed payment's
// transaction hash is unique: re-ingesting the same hash is an upsert,
// never a second row.
type Payment struct {
	ID              int64         `json:"id" db:"id"`
	CampaignID      int64         `json:"campaign_id" db:"campaign_id"`
	UserID          int64         `json:"user_id" db:"user_id"`
	Amount          string        `json:"amount" db:"amount"` // decimal string
	Token           string        `json:"token" db:"token"`
	TokenDecimals   int32         `json:"token_decimals" db:"token_decimals"`
	Status          PaymentStatus `json:"status" db:"status"`
	TransactionHash *string       `json:"transaction_hash,omitempty" db:"transaction_hash"`
	PayerAddress    string        `json:"payer_address" db:"payer_address"`
	IsAnonymous     bool          `json:"is_anonymous" db:"is_anonymous"`
	CreatedAt       time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at" db:"updated_at"`
}

// Validate checks the payment row invariants
func (p *Payment) Validate() error {
	if p.CampaignID == 0 {
		return utils.NewAppError(utils.ErrCodeValidation, "Payment requires a campaign")
	}
	if p.UserID == 0 {
		return utils.NewAppError(utils.ErrCodeValidation, "Payment requires a user")
	}
	if !p.Status.Valid() {
		return utils.NewAppError(utils.ErrCodeIntegrity, "Unknown payment status", string(p.Status))
	}
	if p.Status == PaymentStatusConfirmed && (p.TransactionHash == nil || *p.TransactionHash == "") {
		return utils.NewAppError(utils.ErrCodeIntegrity, "Confirmed payment without transaction hash")
	}
	return nil
}
