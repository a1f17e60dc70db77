package models

import (
	"time"

	"github.com/quadfund/reconciler/pkg/utils"
)

// RecipientStatus is the closed set of recipient workflow states
type RecipientStatus string

const (
	RecipientStatusPending  RecipientStatus = "PENDING"
	RecipientStatusApproved RecipientStatus = "APPROVED"
	RecipientStatusRejected RecipientStatus = "REJECTED"
)

// Valid reports whether the status is a known recipient status
func (s RecipientStatus) Valid() bool {
	switch s {
	case RecipientStatusPending, RecipientStatusApproved, RecipientStatusRejected:
		return true
	}
	return false
}

// Terminal reports whether the status is final. On-chain review is
// authoritative: a reviewed recipient never reverts to pending.
func (s RecipientStatus) Terminal() bool {
	return s == RecipientStatusApproved || s == RecipientStatusRejected
}

// RoundCampaign is a campaign's participation record within a round,
// unique on (round_id, campaign_id)
type RoundCampaign struct {
	ID                       int64           `json:"id" db:"id"`
	RoundID                  int64           `json:"round_id" db:"round_id"`
	CampaignID               int64           `json:"campaign_id" db:"campaign_id"`
	Status                   RecipientStatus `json:"status" db:"status"`
	RecipientAddress         *string         `json:"recipient_address,omitempty" db:"recipient_address"`
	SubmittedByWalletAddress *string         `json:"submitted_by_wallet_address,omitempty" db:"submitted_by_wallet_address"`
	TxHash                   *string         `json:"tx_hash,omitempty" db:"tx_hash"`
	OnchainRecipientID       *string         `json:"onchain_recipient_id,omitempty" db:"onchain_recipient_id"`
	ReviewedAt               *time.Time      `json:"reviewed_at,omitempty" db:"reviewed_at"`
	NeedsAttention           bool            `json:"needs_attention" db:"needs_attention"`
	Version                  int64           `json:"version" db:"version"`
	CreatedAt                time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt                time.Time       `json:"updated_at" db:"updated_at"`
}

// Validate checks the reviewedAt/status pairing invariant:
// reviewedAt is set if and only if the status is terminal
func (rc *RoundCampaign) Validate() error {
	if rc.RoundID == 0 || rc.CampaignID == 0 {
		return utils.NewAppError(utils.ErrCodeValidation, "Recipient requires round and campaign")
	}
	if !rc.Status.Valid() {
		return utils.NewAppError(utils.ErrCodeIntegrity, "Unknown recipient status", string(rc.Status))
	}
	if rc.Status.Terminal() && rc.ReviewedAt == nil {
		return utils.NewAppError(utils.ErrCodeIntegrity, "Reviewed recipient missing reviewedAt")
	}
	if !rc.Status.Terminal() && rc.ReviewedAt != nil {
		return utils.NewAppError(utils.ErrCodeIntegrity, "Pending recipient carries reviewedAt")
	}
	return nil
}
