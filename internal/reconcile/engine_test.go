package reconcile

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/quadfund/reconciler/internal/ledger"
	"github.com/quadfund/reconciler/internal/models"
	"github.com/quadfund/reconciler/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) (*Engine, ledger.Store) {
	t.Helper()
	store, err := ledger.NewStore(&ledger.Config{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "engine.db"),
		MaxConnections:   4,
		MaxIdleTime:      time.Minute,
		TxTimeout:        5 * time.Second,
	})
	require.NoError(t, err)
	require.NoError(t, store.Connect())
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { store.Close() })

	engine := NewEngine(&Config{
		Workers:        2,
		QueueSize:      64,
		MaxRetries:     3,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  10 * time.Millisecond,
	}, store, nil)
	return engine, store
}

func run(t *testing.T, engine *Engine, cmds ...*models.Command) {
	t.Helper()
	require.NoError(t, engine.Start())
	ctx := context.Background()
	for _, cmd := range cmds {
		require.NoError(t, engine.Enqueue(ctx, cmd))
	}
	require.NoError(t, engine.Stop())
}

func testHash(seed string) string {
	return "0x" + strings.Repeat("0", 64-len(seed)) + seed
}

func seedCampaign(t *testing.T, store ledger.Store, status models.CampaignStatus) *models.Campaign {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	c := &models.Campaign{
		Slug:           "clean-water-" + uuid.New().String()[:8],
		Title:          "Clean Water",
		FundingGoal:    "1000",
		TokenDecimals:  6,
		Status:         status,
		StartTime:      now.Add(-24 * time.Hour),
		EndTime:        now.Add(24 * time.Hour),
		CreatorAddress: "0x1111111111111111111111111111111111111111",
	}
	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.SaveCampaign(ctx, c))
	require.NoError(t, tx.Commit())
	return c
}

func seedRound(t *testing.T, store ledger.Store) *models.Round {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	r := &models.Round{
		Name:             "Spring Round",
		MatchingPool:     "0",
		TokenDecimals:    6,
		ApplicationStart: now.Add(-96 * time.Hour),
		ApplicationClose: now.Add(-48 * time.Hour),
		StartDate:        now.Add(-24 * time.Hour),
		EndDate:          now.Add(24 * time.Hour),
	}
	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.SaveRound(ctx, r))
	require.NoError(t, tx.Commit())
	return r
}

func contributionCmd(campaignID int64, hash string, logIndex uint) *models.Command {
	return &models.Command{
		ID:            uuid.New().String(),
		Type:          models.CommandContributionConfirmed,
		TxHash:        hash,
		BlockNumber:   100,
		LogIndex:      logIndex,
		Timestamp:     time.Now().UTC(),
		CampaignID:    campaignID,
		Amount:        "10.5",
		Token:         "USDC",
		TokenDecimals: 6,
		PayerAddress:  "0x2222222222222222222222222222222222222222",
	}
}

// A contribution delivered twice ends up as exactly one payment row
// with the original amount.
func TestContributionIdempotent(t *testing.T) {
	engine, store := newTestEngine(t)
	campaign := seedCampaign(t, store, models.CampaignStatusActive)

	hash := testHash("c0de")
	run(t, engine,
		contributionCmd(campaign.ID, hash, 0),
		contributionCmd(campaign.ID, hash, 0),
	)

	payments, err := store.ListConfirmedPayments(context.Background(), campaign.ID,
		time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, "10.5", payments[0].Amount)

	stats := engine.GetStats()
	assert.Equal(t, int64(1), stats.Applied)
	assert.Equal(t, int64(1), stats.Deduped)
}

// Out-of-order review redelivery: the first committed review wins and
// the conflicting replay is absorbed.
func TestFirstReviewWins(t *testing.T) {
	engine, store := newTestEngine(t)
	campaign := seedCampaign(t, store, models.CampaignStatusActive)
	round := seedRound(t, store)

	ctx := context.Background()
	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.SaveRoundCampaign(ctx, &models.RoundCampaign{
		RoundID:    round.ID,
		CampaignID: campaign.ID,
		Status:     models.RecipientStatusPending,
	}))
	require.NoError(t, tx.Commit())

	review := func(hash string, status models.RecipientStatus) *models.Command {
		return &models.Command{
			ID:           uuid.New().String(),
			Type:         models.CommandRecipientReviewed,
			TxHash:       hash,
			BlockNumber:  200,
			LogIndex:     0,
			Timestamp:    time.Now().UTC(),
			RoundID:      round.ID,
			CampaignID:   campaign.ID,
			ReviewStatus: status,
		}
	}

	run(t, engine,
		review(testHash("ee1"), models.RecipientStatusRejected),
		review(testHash("ee2"), models.RecipientStatusApproved),
	)

	rc, err := store.GetRoundCampaign(ctx, round.ID, campaign.ID)
	require.NoError(t, err)
	require.NotNil(t, rc)
	assert.Equal(t, models.RecipientStatusRejected, rc.Status)
	require.NotNil(t, rc.ReviewedAt)
}

// A review event for a pair with no row creates the row directly in
// its reviewed state, flagged for attention.
func TestReviewBeforeSubmissionCreatesFlaggedRow(t *testing.T) {
	engine, store := newTestEngine(t)
	campaign := seedCampaign(t, store, models.CampaignStatusActive)
	round := seedRound(t, store)

	run(t, engine, &models.Command{
		ID:           uuid.New().String(),
		Type:         models.CommandRecipientReviewed,
		TxHash:       testHash("ee3"),
		LogIndex:     0,
		Timestamp:    time.Now().UTC(),
		RoundID:      round.ID,
		CampaignID:   campaign.ID,
		ReviewStatus: models.RecipientStatusApproved,
	})

	rc, err := store.GetRoundCampaign(context.Background(), round.ID, campaign.ID)
	require.NoError(t, err)
	require.NotNil(t, rc)
	assert.Equal(t, models.RecipientStatusApproved, rc.Status)
	assert.True(t, rc.NeedsAttention)
}

func TestCampaignRegistrationActivates(t *testing.T) {
	engine, store := newTestEngine(t)
	campaign := seedCampaign(t, store, models.CampaignStatusPendingApproval)

	run(t, engine, &models.Command{
		ID:              uuid.New().String(),
		Type:            models.CommandCampaignRegistered,
		TxHash:          testHash("ab1"),
		LogIndex:        0,
		Timestamp:       time.Now().UTC(),
		CampaignSlug:    campaign.Slug,
		CampaignAddress: "0x4444444444444444444444444444444444444444",
	})

	got, err := store.GetCampaign(context.Background(), campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusActive, got.Status)
	require.NotNil(t, got.CampaignAddress)
	assert.Equal(t, "0x4444444444444444444444444444444444444444", *got.CampaignAddress)
}

func TestPoolFundedConfirmsRound(t *testing.T) {
	engine, store := newTestEngine(t)
	round := seedRound(t, store)

	poolFunded := func(hash, poolID string) *models.Command {
		return &models.Command{
			ID:            uuid.New().String(),
			Type:          models.CommandPoolFunded,
			TxHash:        hash,
			LogIndex:      0,
			Timestamp:     time.Now().UTC(),
			RoundID:       round.ID,
			PoolID:        poolID,
			Amount:        "100.000001",
			TokenDecimals: 6,
		}
	}

	run(t, engine, poolFunded(testHash("f1"), "pool-1"))

	ctx := context.Background()
	got, err := store.GetRound(ctx, round.ID)
	require.NoError(t, err)
	require.NotNil(t, got.PoolID)
	assert.Equal(t, "pool-1", *got.PoolID)
	assert.Equal(t, "100.000001", got.MatchingPool)

	// A conflicting confirmation is flagged, never applied
	engine2 := NewEngine(&Config{Workers: 1, QueueSize: 8, MaxRetries: 1,
		RetryBaseDelay: time.Millisecond, RetryMaxDelay: time.Millisecond}, store, nil)
	run(t, engine2, poolFunded(testHash("f2"), "pool-2"))

	got, err = store.GetRound(ctx, round.ID)
	require.NoError(t, err)
	assert.Equal(t, "pool-1", *got.PoolID)

	flags, err := store.ListIntegrityFlags(ctx, true)
	require.NoError(t, err)
	require.Len(t, flags, 1)
}

// Contributions against an unknown campaign are flagged once, even
// when the event is redelivered.
func TestContributionUnknownCampaignFlagged(t *testing.T) {
	engine, store := newTestEngine(t)

	hash := testHash("dead")
	run(t, engine,
		contributionCmd(999, hash, 0),
		contributionCmd(999, hash, 0),
	)

	flags, err := store.ListIntegrityFlags(context.Background(), true)
	require.NoError(t, err)
	assert.Len(t, flags, 1)
}

func TestAdminSubmitAndApprove(t *testing.T) {
	engine, store := newTestEngine(t)
	campaign := seedCampaign(t, store, models.CampaignStatusDraft)

	run(t, engine,
		&models.Command{
			ID:         uuid.New().String(),
			Type:       models.CommandSubmitCampaign,
			CampaignID: campaign.ID,
			Timestamp:  time.Now().UTC(),
		},
		&models.Command{
			ID:         uuid.New().String(),
			Type:       models.CommandApproveCampaign,
			CampaignID: campaign.ID,
			Timestamp:  time.Now().UTC(),
		},
	)

	got, err := store.GetCampaign(context.Background(), campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusActive, got.Status)
}

func TestEnqueueRejectedWhenStopped(t *testing.T) {
	engine, _ := newTestEngine(t)
	err := engine.Enqueue(context.Background(), contributionCmd(1, testHash("aa"), 0))
	require.Error(t, err)
}

// Enqueue racing Stop either delivers the command or reports the
// engine stopped; it must never send on a closed queue.
func TestEnqueueDuringStop(t *testing.T) {
	engine, store := newTestEngine(t)
	campaign := seedCampaign(t, store, models.CampaignStatusActive)
	require.NoError(t, engine.Start())

	done := make(chan struct{})
	go func() {
		defer close(done)
		ctx := context.Background()
		for i := uint(0); ; i++ {
			cmd := contributionCmd(campaign.ID, testHash(fmt.Sprintf("e%04x", i)), i)
			if err := engine.Enqueue(ctx, cmd); err != nil {
				assert.True(t, utils.HasCode(err, utils.ErrCodeTransientIO))
				return
			}
		}
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, engine.Stop())
	<-done
	assert.False(t, engine.IsRunning())
}
