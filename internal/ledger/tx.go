// File: internal/ledger/tx.go
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/quadfund/reconciler/internal/models"
	"github.com/quadfund/reconciler/pkg/utils"
)

// sqlTx implements Tx over database/sql for both backends
type sqlTx struct {
	tx      *sql.Tx
	queries queries
	cancel  context.CancelFunc
	done    bool
}

func (t *sqlTx) GetCampaign(ctx context.Context, id int64) (*models.Campaign, error) {
	return t.queries.getCampaign(ctx, t.tx, id)
}

func (t *sqlTx) GetCampaignBySlug(ctx context.Context, slug string) (*models.Campaign, error) {
	return t.queries.getCampaignBySlug(ctx, t.tx, slug)
}

func (t *sqlTx) GetRound(ctx context.Context, id int64) (*models.Round, error) {
	return t.queries.getRound(ctx, t.tx, id)
}

func (t *sqlTx) GetRoundCampaign(ctx context.Context, roundID, campaignID int64) (*models.RoundCampaign, error) {
	return t.queries.getRoundCampaign(ctx, t.tx, roundID, campaignID)
}

func (t *sqlTx) SaveCampaign(ctx context.Context, campaign *models.Campaign) error {
	return t.queries.saveCampaign(ctx, t.tx, campaign)
}

func (t *sqlTx) SaveRound(ctx context.Context, round *models.Round) error {
	return t.queries.saveRound(ctx, t.tx, round)
}

func (t *sqlTx) SaveRoundCampaign(ctx context.Context, recipient *models.RoundCampaign) error {
	return t.queries.saveRoundCampaign(ctx, t.tx, recipient)
}

func (t *sqlTx) EnsureUser(ctx context.Context, walletAddress string) (int64, error) {
	return t.queries.ensureUser(ctx, t.tx, walletAddress)
}

func (t *sqlTx) UpsertPayment(ctx context.Context, payment *models.Payment) (bool, error) {
	return t.queries.upsertPayment(ctx, t.tx, payment)
}

func (t *sqlTx) ListConfirmedPayments(ctx context.Context, campaignID int64, from, to time.Time) ([]*models.Payment, error) {
	return t.queries.listConfirmedPayments(ctx, t.tx, campaignID, from, to)
}

func (t *sqlTx) EventApplied(ctx context.Context, txHash string, logIndex uint) (bool, error) {
	return t.queries.eventApplied(ctx, t.tx, txHash, logIndex)
}

func (t *sqlTx) MarkEventApplied(ctx context.Context, txHash string, logIndex uint, blockNumber uint64) error {
	return t.queries.markEventApplied(ctx, t.tx, txHash, logIndex, blockNumber)
}

func (t *sqlTx) AddIntegrityFlag(ctx context.Context, flag *models.IntegrityFlag) error {
	return t.queries.addIntegrityFlag(ctx, t.tx, flag)
}

func (t *sqlTx) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.release()

	err := t.tx.Commit()
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return utils.NewAppError(utils.ErrCodeTransientIO, "Transaction timed out", err.Error())
	}
	return utils.NewAppError(utils.ErrCodeTransientIO, "Failed to commit transaction", err.Error())
}

func (t *sqlTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.release()

	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to roll back transaction", err.Error())
	}
	return nil
}

func (t *sqlTx) release() {
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}
