package models

import (
	"time"

	"github.com/quadfund/reconciler/pkg/utils"
)

// CampaignStatus is the closed set of campaign lifecycle states
type CampaignStatus string

const (
	CampaignStatusDraft           CampaignStatus = "DRAFT"
	CampaignStatusPendingApproval CampaignStatus = "PENDING_APPROVAL"
	CampaignStatusActive          CampaignStatus = "ACTIVE"
	CampaignStatusCompleted       CampaignStatus = "COMPLETED"
	CampaignStatusFailed          CampaignStatus = "FAILED"
)

// campaignStatusRank orders statuses for the monotonicity invariant:
// a campaign's status never moves to a lower rank.
var campaignStatusRank = map[CampaignStatus]int{
	CampaignStatusDraft:           0,
	CampaignStatusPendingApproval: 1,
	CampaignStatusActive:          2,
	CampaignStatusCompleted:       3,
	CampaignStatusFailed:          3,
}

// Valid reports whether the status is a known campaign status
func (s CampaignStatus) Valid() bool {
	_, ok := campaignStatusRank[s]
	return ok
}

// Terminal reports whether the status admits no further transitions
func (s CampaignStatus) Terminal() bool {
	return s == CampaignStatusCompleted || s == CampaignStatusFailed
}

// Rank returns the status position in the lifecycle ordering
func (s CampaignStatus) Rank() int {
	return campaignStatusRank[s]
}

// Campaign is a crowdfunding campaign row in the ledger
type Campaign struct {
	ID              int64          `json:"id" db:"id"`
	Slug            string         `json:"slug" db:"slug"`
	Title           string         `json:"title" db:"title"`
	Description     string         `json:"description,omitempty" db:"description"`
	CampaignAddress *string        `json:"campaign_address,omitempty" db:"campaign_address"`
	FundingGoal     string         `json:"funding_goal" db:"funding_goal"` // decimal string
	TokenDecimals   int32          `json:"token_decimals" db:"token_decimals"`
	Status          CampaignStatus `json:"status" db:"status"`
	StartTime       time.Time      `json:"start_time" db:"start_time"`
	EndTime         time.Time      `json:"end_time" db:"end_time"`
	CreatorAddress  string         `json:"creator_address" db:"creator_address"`
	TreasuryAddress *string        `json:"treasury_address,omitempty" db:"treasury_address"`
	Version         int64          `json:"version" db:"version"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at" db:"updated_at"`
}

// Validate checks the campaign row invariants
func (c *Campaign) Validate() error {
	if c.Slug == "" {
		return utils.NewAppError(utils.ErrCodeValidation, "Campaign slug is required")
	}
	if !c.Status.Valid() {
		return utils.NewAppError(utils.ErrCodeIntegrity, "Unknown campaign status", string(c.Status))
	}
	if !c.StartTime.Before(c.EndTime) {
		return utils.NewAppError(utils.ErrCodeIntegrity, "Campaign window inverted",
			c.StartTime.Format(time.RFC3339)+" >= "+c.EndTime.Format(time.RFC3339))
	}
	return nil
}
