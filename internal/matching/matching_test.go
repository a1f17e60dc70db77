package matching

import (
	"context"
	"fmt"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/quadfund/reconciler/internal/ledger"
	"github.com/quadfund/reconciler/internal/models"
	"github.com/quadfund/reconciler/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScorePayments(t *testing.T) {
	confirmed := func(userID int64, amount string) *models.Payment {
		return &models.Payment{
			UserID: userID,
			Amount: amount,
			Status: models.PaymentStatusConfirmed,
		}
	}

	// User 1 contributes 9 + 7 = 16 minor units, user 2 contributes 9.
	// floor(sqrt(16)) + floor(sqrt(9)) = 4 + 3 = 7, squared = 49.
	score, contributors, err := scorePayments([]*models.Payment{
		confirmed(1, "0.000009"),
		confirmed(1, "0.000007"),
		confirmed(2, "0.000009"),
	}, 6)
	require.NoError(t, err)
	assert.Equal(t, 2, contributors)
	assert.Equal(t, "49", score.String())

	// No payments scores zero
	score, contributors, err = scorePayments(nil, 6)
	require.NoError(t, err)
	assert.Equal(t, 0, contributors)
	assert.Equal(t, "0", score.String())
}

func TestAllocateExactSum(t *testing.T) {
	// Pool of 100.000001 at 6 decimals split across three recipients
	// with equal scores: the two extra minor units go to the lowest
	// recipient ids, and the shares sum back to the pool exactly.
	pool := big.NewInt(100000001)
	scores := []recipientScore{
		{roundCampaignID: 1, score: big.NewInt(100)},
		{roundCampaignID: 2, score: big.NewInt(100)},
		{roundCampaignID: 3, score: big.NewInt(100)},
	}

	allocations := allocate(pool, scores)
	require.Len(t, allocations, 3)
	assert.Equal(t, "33333334", allocations[0].String())
	assert.Equal(t, "33333334", allocations[1].String())
	assert.Equal(t, "33333333", allocations[2].String())

	sum := new(big.Int)
	for _, a := range allocations {
		sum.Add(sum, a)
	}
	assert.Equal(t, 0, sum.Cmp(pool))
}

func TestAllocateZeroScore(t *testing.T) {
	allocations := allocate(big.NewInt(1000), []recipientScore{
		{roundCampaignID: 1, score: big.NewInt(0)},
		{roundCampaignID: 2, score: big.NewInt(0)},
	})
	for _, a := range allocations {
		assert.Equal(t, 0, a.Sign())
	}
}

func TestAllocateProportional(t *testing.T) {
	// 3:1 score split over an odd pool
	allocations := allocate(big.NewInt(101), []recipientScore{
		{roundCampaignID: 1, score: big.NewInt(300)},
		{roundCampaignID: 2, score: big.NewInt(100)},
	})
	// 101*3/4 = 75 rem 3, 101*1/4 = 25 rem 1; leftover 1 goes to the
	// larger remainder
	assert.Equal(t, "76", allocations[0].String())
	assert.Equal(t, "25", allocations[1].String())
}

func newTestStore(t *testing.T) ledger.Store {
	t.Helper()
	store, err := ledger.NewStore(&ledger.Config{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "matching.db"),
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

func TestCalculateDistribution(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	round := &models.Round{
		Name:             "Pilot Round",
		StrategyAddress:  "0x3333333333333333333333333333333333333333",
		MatchingPool:     "100.000001",
		TokenDecimals:    6,
		ApplicationStart: now.Add(-96 * time.Hour),
		ApplicationClose: now.Add(-72 * time.Hour),
		StartDate:        now.Add(-48 * time.Hour),
		EndDate:          now.Add(48 * time.Hour),
	}

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.SaveRound(ctx, round))

	reviewed := now.Add(-60 * time.Hour)
	for i := 0; i < 3; i++ {
		campaign := &models.Campaign{
			Slug:           fmt.Sprintf("project-%d", i),
			Title:          fmt.Sprintf("Project %d", i),
			FundingGoal:    "1000",
			TokenDecimals:  6,
			Status:         models.CampaignStatusActive,
			StartTime:      now.Add(-48 * time.Hour),
			EndTime:        now.Add(48 * time.Hour),
			CreatorAddress: "0x1111111111111111111111111111111111111111",
		}
		require.NoError(t, tx.SaveCampaign(ctx, campaign))

		require.NoError(t, tx.SaveRoundCampaign(ctx, &models.RoundCampaign{
			RoundID:    round.ID,
			CampaignID: campaign.ID,
			Status:     models.RecipientStatusApproved,
			ReviewedAt: &reviewed,
		}))

		// One contributor giving 100 tokens to each project: equal
		// scores across the three recipients
		payer := fmt.Sprintf("0x%040d", i+1)
		userID, err := tx.EnsureUser(ctx, payer)
		require.NoError(t, err)
		hash := fmt.Sprintf("0x%064d", i+1)
		_, err = tx.UpsertPayment(ctx, &models.Payment{
			CampaignID:      campaign.ID,
			UserID:          userID,
			Amount:          "100",
			Token:           "USDC",
			TokenDecimals:   6,
			Status:          models.PaymentStatusConfirmed,
			TransactionHash: &hash,
			PayerAddress:    payer,
		})
		require.NoError(t, err)
	}
	require.NoError(t, tx.Commit())

	calc := NewCalculator(store)
	dist, err := calc.CalculateDistribution(ctx, round.ID)
	require.NoError(t, err)
	require.Len(t, dist.Allocations, 3)

	assert.Equal(t, "100.000001", dist.MatchingPool)
	assert.Equal(t, "33.333334", dist.Allocations[0].Amount)
	assert.Equal(t, "33.333334", dist.Allocations[1].Amount)
	assert.Equal(t, "33.333333", dist.Allocations[2].Amount)
	for _, a := range dist.Allocations {
		assert.Equal(t, 1, a.Contributors)
	}
}

func TestCalculateDistributionRefusesFlaggedRound(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	round := &models.Round{
		Name:             "Broken Round",
		MatchingPool:     "50",
		TokenDecimals:    6,
		ApplicationStart: now.Add(-96 * time.Hour),
		ApplicationClose: now.Add(-72 * time.Hour),
		StartDate:        now.Add(-48 * time.Hour),
		EndDate:          now.Add(48 * time.Hour),
		NeedsAttention:   true,
	}
	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.SaveRound(ctx, round))
	require.NoError(t, tx.Commit())

	calc := NewCalculator(store)
	_, err = calc.CalculateDistribution(ctx, round.ID)
	require.Error(t, err)
	assert.True(t, utils.HasCode(err, utils.ErrCodeNeedsAttention))
}

func TestCalculateDistributionUnknownRound(t *testing.T) {
	store := newTestStore(t)
	calc := NewCalculator(store)
	_, err := calc.CalculateDistribution(context.Background(), 42)
	require.Error(t, err)
	assert.True(t, utils.HasCode(err, utils.ErrCodeNotFound))
}
