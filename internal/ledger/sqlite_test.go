package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/quadfund/reconciler/internal/models"
	"github.com/quadfund/reconciler/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) Store {
	t.Helper()

	store, err := NewStore(&Config{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "ledger.db"),
		MaxConnections:   4,
		MaxIdleTime:      time.Minute,
		TxTimeout:        5 * time.Second,
	})
	require.NoError(t, err)
	require.NoError(t, store.Connect())
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { store.Close() })
	return store
}

func seedCampaign(t *testing.T, store Store) *models.Campaign {
	t.Helper()
	ctx := context.Background()

	c := &models.Campaign{
		Slug:           "clean-water",
		Title:          "Clean Water",
		FundingGoal:    "1000",
		TokenDecimals:  6,
		Status:         models.CampaignStatusActive,
		StartTime:      time.Now().Add(-24 * time.Hour).UTC(),
		EndTime:        time.Now().Add(24 * time.Hour).UTC(),
		CreatorAddress: "0x1111111111111111111111111111111111111111",
	}

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.SaveCampaign(ctx, c))
	require.NoError(t, tx.Commit())
	require.NotZero(t, c.ID)
	return c
}

func TestCampaignRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	c := seedCampaign(t, store)

	got, err := store.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, c.Slug, got.Slug)
	assert.Equal(t, models.CampaignStatusActive, got.Status)

	bySlug, err := store.GetCampaignBySlug(ctx, "clean-water")
	require.NoError(t, err)
	require.NotNil(t, bySlug)
	assert.Equal(t, c.ID, bySlug.ID)

	missing, err := store.GetCampaign(ctx, 9999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestOptimisticVersionConflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	c := seedCampaign(t, store)

	// First writer wins
	first, err := store.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	tx1, err := store.BeginTx(ctx)
	require.NoError(t, err)
	first.Title = "Clean Water v2"
	require.NoError(t, tx1.SaveCampaign(ctx, first))
	require.NoError(t, tx1.Commit())

	// Second writer holds the stale version
	stale := *c
	stale.Title = "Clean Water v3"
	tx2, err := store.BeginTx(ctx)
	require.NoError(t, err)
	err = tx2.SaveCampaign(ctx, &stale)
	require.Error(t, err)
	assert.True(t, utils.HasCode(err, utils.ErrCodeConcurrentMod))
	tx2.Rollback()
}

// Scenario from the design: a payment delivered twice leaves exactly
// one row with the original amount, never a doubled total.
func TestUpsertPaymentIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	c := seedCampaign(t, store)

	payer := "0x2222222222222222222222222222222222222222"
	txHash := "0xA"
	payment := func(userID int64) *models.Payment {
		h := txHash
		return &models.Payment{
			CampaignID:      c.ID,
			UserID:          userID,
			Amount:          "10.5",
			Token:           "USDC",
			TokenDecimals:   6,
			Status:          models.PaymentStatusConfirmed,
			TransactionHash: &h,
			PayerAddress:    payer,
		}
	}

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	userID, err := tx.EnsureUser(ctx, payer)
	require.NoError(t, err)
	created, err := tx.UpsertPayment(ctx, payment(userID))
	require.NoError(t, err)
	assert.True(t, created)
	require.NoError(t, tx.Commit())

	// Redelivery
	tx, err = store.BeginTx(ctx)
	require.NoError(t, err)
	again, err := tx.EnsureUser(ctx, payer)
	require.NoError(t, err)
	assert.Equal(t, userID, again)
	created, err = tx.UpsertPayment(ctx, payment(again))
	require.NoError(t, err)
	assert.False(t, created)
	require.NoError(t, tx.Commit())

	payments, err := store.ListConfirmedPayments(ctx, c.ID,
		time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, "10.5", payments[0].Amount)
}

func TestAppliedEvents(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)

	applied, err := tx.EventApplied(ctx, "0xabc", 3)
	require.NoError(t, err)
	assert.False(t, applied)

	require.NoError(t, tx.MarkEventApplied(ctx, "0xabc", 3, 100))
	require.NoError(t, tx.Commit())

	tx, err = store.BeginTx(ctx)
	require.NoError(t, err)
	applied, err = tx.EventApplied(ctx, "0xabc", 3)
	require.NoError(t, err)
	assert.True(t, applied)

	// Same hash, different log index is a distinct event
	applied, err = tx.EventApplied(ctx, "0xabc", 4)
	require.NoError(t, err)
	assert.False(t, applied)
	tx.Rollback()
}

func TestRoundAndRecipientRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	c := seedCampaign(t, store)

	round := &models.Round{
		Name:             "Spring Round",
		StrategyAddress:  "0x3333333333333333333333333333333333333333",
		MatchingPool:     "100.000001",
		TokenDecimals:    6,
		ApplicationStart: time.Now().Add(-48 * time.Hour).UTC(),
		ApplicationClose: time.Now().Add(-24 * time.Hour).UTC(),
		StartDate:        time.Now().Add(-24 * time.Hour).UTC(),
		EndDate:          time.Now().Add(24 * time.Hour).UTC(),
	}

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.SaveRound(ctx, round))

	rc := &models.RoundCampaign{
		RoundID:    round.ID,
		CampaignID: c.ID,
		Status:     models.RecipientStatusPending,
	}
	require.NoError(t, tx.SaveRoundCampaign(ctx, rc))
	require.NoError(t, tx.Commit())

	got, err := store.GetRoundCampaign(ctx, round.ID, c.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.RecipientStatusPending, got.Status)

	recipients, err := store.ListRecipients(ctx, round.ID)
	require.NoError(t, err)
	assert.Len(t, recipients, 1)
}

func TestQuarantineAndFlags(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveQuarantinedEvent(ctx, &models.QuarantinedEvent{
		ID:        "q-1",
		TxHash:    "0xbad",
		LogIndex:  0,
		EventType: "ContributionConfirmed",
		Reason:    "unparseable amount",
		Payload:   `{"amount":"ten"}`,
	}))

	events, err := store.ListQuarantinedEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "unparseable amount", events[0].Reason)

	roundID := int64(1)
	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.AddIntegrityFlag(ctx, &models.IntegrityFlag{
		ID:      "f-1",
		RoundID: &roundID,
		Code:    utils.ErrCodeIntegrity,
		Detail:  "application window inverted",
	}))
	require.NoError(t, tx.Commit())

	flags, err := store.ListIntegrityFlags(ctx, true)
	require.NoError(t, err)
	require.Len(t, flags, 1)
	assert.False(t, flags[0].Resolved)

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.QuarantinedEvents)
	assert.Equal(t, int64(1), stats.UnresolvedFlags)
}
