// File: internal/ledger/ledger.go
package ledger

import (
	"context"
	"time"

	"github.com/quadfund/reconciler/internal/models"
)

// Store defines the transactional ledger interface. All writes happen
// inside a Tx; re-applying identical input produces identical stored
// state (idempotent upsert semantics).
type Store interface {
	// Connection management
	Connect() error
	Close() error
	Ping() error
	Migrate() error

	// Transaction entry point for the reconciliation write path
	BeginTx(ctx context.Context) (Tx, error)

	// Snapshot reads for the query path. Not transactionally coupled
	// to the write path; callers tolerate ingestion lag.
	GetCampaign(ctx context.Context, id int64) (*models.Campaign, error)
	GetCampaignBySlug(ctx context.Context, slug string) (*models.Campaign, error)
	GetRound(ctx context.Context, id int64) (*models.Round, error)
	GetRoundCampaign(ctx context.Context, roundID, campaignID int64) (*models.RoundCampaign, error)
	ListCampaignsByStatus(ctx context.Context, statuses ...models.CampaignStatus) ([]*models.Campaign, error)
	ListRounds(ctx context.Context) ([]*models.Round, error)
	ListRecipients(ctx context.Context, roundID int64) ([]*models.RoundCampaign, error)
	ListConfirmedPayments(ctx context.Context, campaignID int64, from, to time.Time) ([]*models.Payment, error)

	// Quarantine and operator surface
	SaveQuarantinedEvent(ctx context.Context, event *models.QuarantinedEvent) error
	ListQuarantinedEvents(ctx context.Context, limit int) ([]*models.QuarantinedEvent, error)
	ListIntegrityFlags(ctx context.Context, unresolvedOnly bool) ([]*models.IntegrityFlag, error)

	// Statistics
	GetStats(ctx context.Context) (*Stats, error)
}

// Tx is a single logical ledger transaction. Commit returns a
// CONCURRENT_MODIFICATION error when another writer changed a row
// between read and write; the whole command is then retried.
type Tx interface {
	GetCampaign(ctx context.Context, id int64) (*models.Campaign, error)
	GetCampaignBySlug(ctx context.Context, slug string) (*models.Campaign, error)
	GetRound(ctx context.Context, id int64) (*models.Round, error)
	GetRoundCampaign(ctx context.Context, roundID, campaignID int64) (*models.RoundCampaign, error)

	SaveCampaign(ctx context.Context, campaign *models.Campaign) error
	SaveRound(ctx context.Context, round *models.Round) error
	SaveRoundCampaign(ctx context.Context, recipient *models.RoundCampaign) error

	// EnsureUser resolves a wallet address to a user id, creating the
	// user row on first sight.
	EnsureUser(ctx context.Context, walletAddress string) (int64, error)

	// UpsertPayment is keyed on the transaction hash: re-ingesting the
	// same hash updates in place and reports created=false.
	UpsertPayment(ctx context.Context, payment *models.Payment) (created bool, err error)

	ListConfirmedPayments(ctx context.Context, campaignID int64, from, to time.Time) ([]*models.Payment, error)

	// Durable idempotency boundary: an applied (tx_hash, log_index)
	// pair is never applied again, even across ingestor restarts.
	EventApplied(ctx context.Context, txHash string, logIndex uint) (bool, error)
	MarkEventApplied(ctx context.Context, txHash string, logIndex uint, blockNumber uint64) error

	AddIntegrityFlag(ctx context.Context, flag *models.IntegrityFlag) error

	Commit() error
	Rollback() error
}

// Stats provides ledger statistics for the status surface
type Stats struct {
	TotalCampaigns     int64      `json:"total_campaigns"`
	TotalRounds        int64      `json:"total_rounds"`
	TotalPayments      int64      `json:"total_payments"`
	TotalRecipients    int64      `json:"total_recipients"`
	AppliedEvents      int64      `json:"applied_events"`
	QuarantinedEvents  int64      `json:"quarantined_events"`
	UnresolvedFlags    int64      `json:"unresolved_flags"`
	LatestAppliedBlock uint64     `json:"latest_applied_block"`
	OldestQuarantine   *time.Time `json:"oldest_quarantine,omitempty"`
}

// Config holds ledger configuration
type Config struct {
	Type             string        `json:"type"` // sqlite, postgres
	ConnectionString string        `json:"connection_string"`
	MaxConnections   int           `json:"max_connections"`
	MaxIdleTime      time.Duration `json:"max_idle_time"`
	TxTimeout        time.Duration `json:"tx_timeout"`
}
