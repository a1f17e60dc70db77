// File: internal/matching/matching.go
package matching

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/quadfund/reconciler/internal/ledger"
	"github.com/quadfund/reconciler/internal/models"
	"github.com/quadfund/reconciler/internal/money"
	"github.com/quadfund/reconciler/pkg/utils"
	"github.com/sirupsen/logrus"
)

// Calculator computes quadratic-funding matching distributions for a
// round from the confirmed payments recorded in the ledger.
type Calculator struct {
	store  ledger.Store
	logger *logrus.Logger
}

// Allocation is one recipient's share of the matching pool
type Allocation struct {
	RoundCampaignID int64  `json:"round_campaign_id"`
	CampaignID      int64  `json:"campaign_id"`
	Contributors    int    `json:"contributors"`
	Score           string `json:"score"`
	Amount          string `json:"amount"`
}

// Distribution is the full matching result for a round. Allocation
// amounts always sum to exactly the matching pool.
type Distribution struct {
	RoundID       int64        `json:"round_id"`
	MatchingPool  string       `json:"matching_pool"`
	TokenDecimals int32        `json:"token_decimals"`
	TotalScore    string       `json:"total_score"`
	Allocations   []Allocation `json:"allocations"`
}

// NewCalculator creates a matching calculator
func NewCalculator(store ledger.Store) *Calculator {
	return &Calculator{
		store:  store,
		logger: utils.GetLogger(),
	}
}

// recipientScore carries one approved recipient's QF score through the
// allocation pass
type recipientScore struct {
	roundCampaignID int64
	campaignID      int64
	contributors    int
	score           *big.Int
}

// CalculateDistribution computes the matching distribution for a round.
//
// Each approved recipient's score is (sum over unique contributors of
// floor(sqrt(contributor total in minor units)))^2. The pool is split
// proportionally to scores, rounding each share down, then leftover
// minor units go one at a time to the largest remainders, ties broken
// by recipient id. Rounds flagged for attention are refused.
func (c *Calculator) CalculateDistribution(ctx context.Context, roundID int64) (*Distribution, error) {
	round, err := c.store.GetRound(ctx, roundID)
	if err != nil {
		return nil, err
	}
	if round == nil {
		return nil, utils.NewAppError(utils.ErrCodeNotFound,
			"Round not found", fmt.Sprintf("id=%d", roundID))
	}
	if round.NeedsAttention {
		return nil, utils.NewAppError(utils.ErrCodeNeedsAttention,
			"Round is flagged for operator attention; matching refused",
			fmt.Sprintf("id=%d", roundID))
	}

	pool, err := money.Parse(round.MatchingPool, round.TokenDecimals)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeIntegrity,
			"Round matching pool is not a valid amount", round.MatchingPool)
	}

	recipients, err := c.store.ListRecipients(ctx, roundID)
	if err != nil {
		return nil, err
	}

	from, to := round.ContributionWindow()
	var scores []recipientScore
	for _, rc := range recipients {
		if rc.Status != models.RecipientStatusApproved {
			continue
		}

		payments, err := c.store.ListConfirmedPayments(ctx, rc.CampaignID, from, to)
		if err != nil {
			return nil, err
		}

		score, contributors, err := scorePayments(payments, round.TokenDecimals)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeIntegrity,
				fmt.Sprintf("Unscorable payment for campaign %d", rc.CampaignID), err.Error())
		}
		scores = append(scores, recipientScore{
			roundCampaignID: rc.ID,
			campaignID:      rc.CampaignID,
			contributors:    contributors,
			score:           score,
		})
	}

	dist := &Distribution{
		RoundID:       roundID,
		MatchingPool:  pool.String(),
		TokenDecimals: round.TokenDecimals,
	}

	totalScore := new(big.Int)
	for _, s := range scores {
		totalScore.Add(totalScore, s.score)
	}
	dist.TotalScore = totalScore.String()

	allocations := allocate(pool.Units(), scores)
	for i, s := range scores {
		amount, err := money.FromUnits(allocations[i], round.TokenDecimals)
		if err != nil {
			return nil, err
		}
		dist.Allocations = append(dist.Allocations, Allocation{
			RoundCampaignID: s.roundCampaignID,
			CampaignID:      s.campaignID,
			Contributors:    s.contributors,
			Score:           s.score.String(),
			Amount:          amount.String(),
		})
	}

	c.logger.WithFields(logrus.Fields{
		"round_id":    roundID,
		"recipients":  len(scores),
		"total_score": dist.TotalScore,
		"pool":        dist.MatchingPool,
	}).Info("Matching distribution calculated")

	return dist, nil
}

// scorePayments aggregates confirmed payments per contributor and
// returns the QF score: (sum of floor(sqrt(user total)))^2 over minor
// units, along with the unique contributor count.
func scorePayments(payments []*models.Payment, decimals int32) (*big.Int, int, error) {
	totals := make(map[int64]*big.Int)
	for _, p := range payments {
		amount, err := money.Parse(p.Amount, decimals)
		if err != nil {
			return nil, 0, fmt.Errorf("payment %d: %s", p.ID, p.Amount)
		}
		if t, ok := totals[p.UserID]; ok {
			t.Add(t, amount.Units())
		} else {
			totals[p.UserID] = amount.Units()
		}
	}

	sumRoots := new(big.Int)
	for _, total := range totals {
		sumRoots.Add(sumRoots, new(big.Int).Sqrt(total))
	}
	return new(big.Int).Mul(sumRoots, sumRoots), len(totals), nil
}

// allocate splits poolUnits proportionally to scores. Each share is
// floored; leftover units go one at a time to the largest remainder,
// ties broken by round_campaign id ascending. The returned slice is
// index-aligned with scores and sums to exactly poolUnits, except when
// the total score is zero, in which case every allocation is zero.
func allocate(poolUnits *big.Int, scores []recipientScore) []*big.Int {
	allocations := make([]*big.Int, len(scores))
	for i := range allocations {
		allocations[i] = new(big.Int)
	}

	totalScore := new(big.Int)
	for _, s := range scores {
		totalScore.Add(totalScore, s.score)
	}
	if totalScore.Sign() == 0 || poolUnits.Sign() == 0 {
		return allocations
	}

	type remainder struct {
		index int
		id    int64
		rem   *big.Int
	}

	distributed := new(big.Int)
	remainders := make([]remainder, 0, len(scores))
	for i, s := range scores {
		share := new(big.Int).Mul(poolUnits, s.score)
		rem := new(big.Int)
		share.QuoRem(share, totalScore, rem)
		allocations[i] = share
		distributed.Add(distributed, share)
		remainders = append(remainders, remainder{index: i, id: s.roundCampaignID, rem: rem})
	}

	// Hand out the leftover minor units by largest remainder
	leftover := new(big.Int).Sub(poolUnits, distributed)
	sort.Slice(remainders, func(a, b int) bool {
		if cmp := remainders[a].rem.Cmp(remainders[b].rem); cmp != 0 {
			return cmp > 0
		}
		return remainders[a].id < remainders[b].id
	})
	one := big.NewInt(1)
	for i := 0; leftover.Sign() > 0 && i < len(remainders); i++ {
		allocations[remainders[i].index].Add(allocations[remainders[i].index], one)
		leftover.Sub(leftover, one)
	}

	return allocations
}
