package models

import (
	"fmt"
	"time"
)

// CommandType is the closed set of normalized commands the
// reconciliation engine accepts. Administrative actions enter through
// the same shape as on-chain-derived commands.
type CommandType string

const (
	CommandCampaignRegistered    CommandType = "CAMPAIGN_REGISTERED"
	CommandRecipientSubmitted    CommandType = "RECIPIENT_SUBMITTED"
	CommandRecipientReviewed     CommandType = "RECIPIENT_REVIEWED"
	CommandContributionConfirmed CommandType = "CONTRIBUTION_CONFIRMED"
	CommandPoolFunded            CommandType = "POOL_FUNDED"

	// Administrative commands (no on-chain origin)
	CommandSubmitCampaign  CommandType = "SUBMIT_CAMPAIGN"
	CommandApproveCampaign CommandType = "APPROVE_CAMPAIGN"
)

// Command is a normalized unit of work for the reconciliation engine
type Command struct {
	ID          string      `json:"id"`
	Type        CommandType `json:"type"`
	TxHash      string      `json:"tx_hash"`
	BlockNumber uint64      `json:"block_number"`
	LogIndex    uint        `json:"log_index"`
	Timestamp   time.Time   `json:"timestamp"`

	// Targets
	CampaignID   int64  `json:"campaign_id,omitempty"`
	CampaignSlug string `json:"campaign_slug,omitempty"`
	RoundID      int64  `json:"round_id,omitempty"`

	// CampaignRegistered
	CampaignAddress string `json:"campaign_address,omitempty"`

	// RecipientSubmitted / RecipientReviewed
	RecipientAddress   string          `json:"recipient_address,omitempty"`
	SubmittedBy        string          `json:"submitted_by,omitempty"`
	OnchainRecipientID string          `json:"onchain_recipient_id,omitempty"`
	ReviewStatus       RecipientStatus `json:"review_status,omitempty"`

	// ContributionConfirmed / PoolFunded
	Amount        string `json:"amount,omitempty"` // decimal string
	Token         string `json:"token,omitempty"`
	TokenDecimals int32  `json:"token_decimals,omitempty"`
	PayerAddress  string `json:"payer_address,omitempty"`
	UserID        int64  `json:"user_id,omitempty"`
	IsAnonymous   bool   `json:"is_anonymous,omitempty"`
	PoolID        string `json:"pool_id,omitempty"`
}

// IdempotencyKey identifies the command for dedup and the durable
// applied-event check
func (c *Command) IdempotencyKey() string {
	return fmt.Sprintf("%s:%d", c.TxHash, c.LogIndex)
}

// PartitionKey serializes commands touching the same (round, campaign)
// pair onto one worker
func (c *Command) PartitionKey() string {
	return fmt.Sprintf("%d/%d", c.RoundID, c.CampaignID)
}

// OrderingKey orders commands within a partition
func (c *Command) OrderingKey() (uint64, uint) {
	return c.BlockNumber, c.LogIndex
}
