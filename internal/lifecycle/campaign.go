// File: internal/lifecycle/campaign.go
package lifecycle

import (
	"fmt"
	"time"

	"github.com/quadfund/reconciler/internal/models"
	"github.com/quadfund/reconciler/internal/money"
	"github.com/quadfund/reconciler/pkg/utils"
)

// CampaignResult is the outcome of applying a trigger to a campaign
// row. The input row is never mutated.
type CampaignResult struct {
	Campaign *models.Campaign
	Changed  bool
	Anomaly  string
}

func cloneCampaign(c *models.Campaign) *models.Campaign {
	next := *c
	return &next
}

// transition moves a campaign to a new status, enforcing the
// monotonicity invariant: status rank never decreases and terminal
// states admit no exit.
func transition(c *models.Campaign, to models.CampaignStatus) (*models.Campaign, error) {
	if c.Status.Terminal() {
		return nil, utils.NewAppError(utils.ErrCodeIntegrity,
			"Transition out of terminal campaign status",
			fmt.Sprintf("%s -> %s", c.Status, to))
	}
	if to.Rank() < c.Status.Rank() {
		return nil, utils.NewAppError(utils.ErrCodeIntegrity,
			"Campaign status regression",
			fmt.Sprintf("%s -> %s", c.Status, to))
	}
	next := cloneCampaign(c)
	next.Status = to
	return next, nil
}

// ApplySubmit handles the explicit draft-submission action
func ApplySubmit(c *models.Campaign) (*CampaignResult, error) {
	if c.Status != models.CampaignStatusDraft {
		// Replayed submit on an already-submitted campaign is a no-op
		return &CampaignResult{Campaign: c, Changed: false}, nil
	}
	next, err := transition(c, models.CampaignStatusPendingApproval)
	if err != nil {
		return nil, err
	}
	return &CampaignResult{Campaign: next, Changed: true}, nil
}

// ApplyApprove handles a manual admin override activating a campaign
func ApplyApprove(c *models.Campaign, now time.Time) (*CampaignResult, error) {
	if c.Status.Terminal() || c.Status == models.CampaignStatusActive {
		return &CampaignResult{Campaign: c, Changed: false}, nil
	}
	next, err := transition(c, models.CampaignStatusActive)
	if err != nil {
		return nil, err
	}
	result := &CampaignResult{Campaign: next, Changed: true}
	if c.CampaignAddress == nil {
		result.Anomaly = fmt.Sprintf(
			"campaign %d manually activated without on-chain registration", c.ID)
	}
	return result, nil
}

// ApplyRegistration confirms on-chain campaign registration. The
// campaign activates once registered and its start time has passed;
// otherwise the address is recorded and the sweep activates it later.
func ApplyRegistration(c *models.Campaign, cmd *models.Command, now time.Time) (*CampaignResult, error) {
	next := cloneCampaign(c)
	changed := false

	if cmd.CampaignAddress != "" && (next.CampaignAddress == nil || *next.CampaignAddress == "") {
		addr := cmd.CampaignAddress
		next.CampaignAddress = &addr
		changed = true
	}

	if next.Status == models.CampaignStatusPendingApproval && !now.Before(next.StartTime) {
		activated, err := transition(next, models.CampaignStatusActive)
		if err != nil {
			return nil, err
		}
		return &CampaignResult{Campaign: activated, Changed: true}, nil
	}

	if !changed {
		return &CampaignResult{Campaign: c, Changed: false}, nil
	}
	return &CampaignResult{Campaign: next, Changed: true}, nil
}

// EvaluateSweep runs the time/funding evaluation for one campaign.
// confirmedTotal is the sum of confirmed payments. The sweep is
// idempotent: re-running it on a terminal campaign is a no-op.
func EvaluateSweep(c *models.Campaign, confirmedTotal money.Money, now time.Time) (*CampaignResult, error) {
	if c.Status.Terminal() {
		return &CampaignResult{Campaign: c, Changed: false}, nil
	}

	current := c

	// A registered campaign whose start time has arrived activates
	if current.Status == models.CampaignStatusPendingApproval &&
		current.CampaignAddress != nil && *current.CampaignAddress != "" &&
		!now.Before(current.StartTime) {
		next, err := transition(current, models.CampaignStatusActive)
		if err != nil {
			return nil, err
		}
		current = next
	}

	if current.Status != models.CampaignStatusActive || now.Before(current.EndTime) {
		return &CampaignResult{Campaign: current, Changed: current != c}, nil
	}

	goal, err := money.Parse(current.FundingGoal, current.TokenDecimals)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeIntegrity,
			"Campaign funding goal unparseable", current.FundingGoal)
	}

	// Goal met exactly counts as completed
	target := models.CampaignStatusFailed
	if confirmedTotal.Cmp(goal) >= 0 {
		target = models.CampaignStatusCompleted
	}

	next, err := transition(current, target)
	if err != nil {
		return nil, err
	}
	return &CampaignResult{Campaign: next, Changed: true}, nil
}
