package models

import (
	"fmt"
	"time"
)

// ChainEvent is a confirmed on-chain event as delivered by the feed.
// Delivery is at-least-once; (tx_hash, log_index) identifies an event
// uniquely within a chain.
type ChainEvent struct {
	TxHash      string                 `json:"tx_hash" db:"tx_hash"`
	BlockNumber uint64                 `json:"block_number" db:"block_number"`
	LogIndex    uint                   `json:"log_index" db:"log_index"`
	EventType   string                 `json:"event_type" db:"event_type"`
	Payload     map[string]interface{} `json:"payload" db:"payload"`
	Timestamp   time.Time              `json:"timestamp" db:"timestamp"`
}

// Key returns the event's idempotency key
func (e *ChainEvent) Key() string {
	return fmt.Sprintf("%s:%d", e.TxHash, e.LogIndex)
}

// Feed event type names emitted by the chain indexer
const (
	EventTypeCampaignRegistered = "CampaignRegistered"
	EventTypeRecipientSubmitted = "RecipientSubmitted"
	EventTypeRecipientReviewed  = "RecipientReviewed"
	EventTypeContribution       = "ContributionConfirmed"
	EventTypePoolFunded         = "PoolFunded"
)

// QuarantinedEvent is a malformed feed event set aside for operator
// review. Quarantine never blocks ingestion of unrelated events.
type QuarantinedEvent struct {
	ID            string    `json:"id" db:"id"`
	TxHash        string    `json:"tx_hash" db:"tx_hash"`
	LogIndex      uint      `json:"log_index" db:"log_index"`
	EventType     string    `json:"event_type" db:"event_type"`
	Reason        string    `json:"reason" db:"reason"`
	Payload       string    `json:"payload" db:"payload"` // raw JSON
	QuarantinedAt time.Time `json:"quarantined_at" db:"quarantined_at"`
}

// IntegrityFlag records a schema or ordering invariant violation.
// Flags are surfaced, never auto-repaired: silent repair could mask an
// on-chain inconsistency with financial consequences.
type IntegrityFlag struct {
	ID         string    `json:"id" db:"id"`
	RoundID    *int64    `json:"round_id,omitempty" db:"round_id"`
	CampaignID *int64    `json:"campaign_id,omitempty" db:"campaign_id"`
	Code       string    `json:"code" db:"code"`
	Detail     string    `json:"detail" db:"detail"`
	Resolved   bool      `json:"resolved" db:"resolved"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
