package models

import (
	"math/big"
	"time"

	"github.com/quadfund/reconciler/pkg/utils"
)

// Round is a funding round with a matching pool. PoolID is null until
// on-chain pool creation is confirmed by a PoolFunded event.
type Round struct {
	ID               int64     `json:"id" db:"id"`
	Name             string    `json:"name" db:"name"`
	PoolID           *string   `json:"pool_id,omitempty" db:"pool_id"` // uint256 range, decimal string
	StrategyAddress  string    `json:"strategy_address" db:"strategy_address"`
	MatchingPool     string    `json:"matching_pool" db:"matching_pool"` // decimal string
	TokenDecimals    int32     `json:"token_decimals" db:"token_decimals"`
	ApplicationStart time.Time `json:"application_start" db:"application_start"`
	ApplicationClose time.Time `json:"application_close" db:"application_close"`
	StartDate        time.Time `json:"start_date" db:"start_date"`
	EndDate          time.Time `json:"end_date" db:"end_date"`
	NeedsAttention   bool      `json:"needs_attention" db:"needs_attention"`
	Version          int64     `json:"version" db:"version"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Validate checks the round window ordering invariant. A violation is
// a data-integrity error, not a tolerated condition.
func (r *Round) Validate() error {
	if r.ApplicationStart.After(r.ApplicationClose) {
		return utils.NewAppError(utils.ErrCodeIntegrity, "Application window inverted")
	}
	if r.ApplicationClose.After(r.StartDate) {
		return utils.NewAppError(utils.ErrCodeIntegrity, "Application close after round start")
	}
	if r.StartDate.After(r.EndDate) {
		return utils.NewAppError(utils.ErrCodeIntegrity, "Round window inverted")
	}
	if r.PoolID != nil {
		id, ok := new(big.Int).SetString(*r.PoolID, 10)
		if !ok || id.Sign() < 0 || id.Cmp(maxUint256) > 0 {
			return utils.NewAppError(utils.ErrCodeIntegrity, "Pool id outside uint256 range", *r.PoolID)
		}
	}
	return nil
}

// ContributionWindow returns the time span in which contributions count
// toward matching
func (r *Round) ContributionWindow() (time.Time, time.Time) {
	return r.StartDate, r.EndDate
}
