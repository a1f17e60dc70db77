package lifecycle

import (
	"testing"
	"time"

	"github.com/quadfund/reconciler/internal/models"
	"github.com/quadfund/reconciler/internal/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	campaignStart = time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	campaignEnd   = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
)

func testCampaign(status models.CampaignStatus) *models.Campaign {
	return &models.Campaign{
		ID:            3,
		Slug:          "clean-water",
		Title:         "Clean Water",
		FundingGoal:   "1000",
		TokenDecimals: 6,
		Status:        status,
		StartTime:     campaignStart,
		EndTime:       campaignEnd,
	}
}

func mustMoney(t *testing.T, s string, decimals int32) money.Money {
	t.Helper()
	m, err := money.Parse(s, decimals)
	require.NoError(t, err)
	return m
}

func TestSubmitDraft(t *testing.T) {
	result, err := ApplySubmit(testCampaign(models.CampaignStatusDraft))
	require.NoError(t, err)
	assert.True(t, result.Changed)
	assert.Equal(t, models.CampaignStatusPendingApproval, result.Campaign.Status)
}

func TestSubmitReplayIsNoop(t *testing.T) {
	result, err := ApplySubmit(testCampaign(models.CampaignStatusPendingApproval))
	require.NoError(t, err)
	assert.False(t, result.Changed)
}

func TestRegistrationActivatesAfterStart(t *testing.T) {
	c := testCampaign(models.CampaignStatusPendingApproval)
	cmd := &models.Command{CampaignAddress: "0x3333333333333333333333333333333333333333"}

	result, err := ApplyRegistration(c, cmd, campaignStart.Add(time.Hour))
	require.NoError(t, err)

	assert.True(t, result.Changed)
	assert.Equal(t, models.CampaignStatusActive, result.Campaign.Status)
	require.NotNil(t, result.Campaign.CampaignAddress)
	assert.Equal(t, cmd.CampaignAddress, *result.Campaign.CampaignAddress)
}

func TestRegistrationBeforeStartRecordsAddressOnly(t *testing.T) {
	c := testCampaign(models.CampaignStatusPendingApproval)
	cmd := &models.Command{CampaignAddress: "0x3333333333333333333333333333333333333333"}

	result, err := ApplyRegistration(c, cmd, campaignStart.Add(-time.Hour))
	require.NoError(t, err)

	assert.True(t, result.Changed)
	assert.Equal(t, models.CampaignStatusPendingApproval, result.Campaign.Status)
	assert.NotNil(t, result.Campaign.CampaignAddress)

	// The sweep activates it once the start time arrives
	sweep, err := EvaluateSweep(result.Campaign, money.Zero(6), campaignStart.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, sweep.Changed)
	assert.Equal(t, models.CampaignStatusActive, sweep.Campaign.Status)
}

// Boundary case: a goal met exactly transitions to COMPLETED,
// not FAILED.
func TestSweepGoalMetExactly(t *testing.T) {
	c := testCampaign(models.CampaignStatusActive)

	result, err := EvaluateSweep(c, mustMoney(t, "1000.00", 6), campaignEnd.Add(time.Hour))
	require.NoError(t, err)

	assert.True(t, result.Changed)
	assert.Equal(t, models.CampaignStatusCompleted, result.Campaign.Status)
}

func TestSweepGoalMissed(t *testing.T) {
	c := testCampaign(models.CampaignStatusActive)

	result, err := EvaluateSweep(c, mustMoney(t, "999.999999", 6), campaignEnd.Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, models.CampaignStatusFailed, result.Campaign.Status)
}

func TestSweepBeforeEndIsNoop(t *testing.T) {
	c := testCampaign(models.CampaignStatusActive)

	result, err := EvaluateSweep(c, mustMoney(t, "5000", 6), campaignEnd.Add(-time.Hour))
	require.NoError(t, err)

	assert.False(t, result.Changed)
	assert.Equal(t, models.CampaignStatusActive, result.Campaign.Status)
}

func TestSweepIdempotentOnTerminal(t *testing.T) {
	for _, status := range []models.CampaignStatus{
		models.CampaignStatusCompleted,
		models.CampaignStatusFailed,
	} {
		result, err := EvaluateSweep(testCampaign(status), money.Zero(6), campaignEnd.Add(time.Hour))
		require.NoError(t, err)
		assert.False(t, result.Changed)
		assert.Equal(t, status, result.Campaign.Status)
	}
}

// Monotonic lifecycle: observed statuses never regress through a full
// event sequence.
func TestLifecycleMonotonic(t *testing.T) {
	c := testCampaign(models.CampaignStatusDraft)
	ranks := []int{c.Status.Rank()}

	submitted, err := ApplySubmit(c)
	require.NoError(t, err)
	ranks = append(ranks, submitted.Campaign.Status.Rank())

	registered, err := ApplyRegistration(submitted.Campaign,
		&models.Command{CampaignAddress: "0x3333333333333333333333333333333333333333"},
		campaignStart.Add(time.Hour))
	require.NoError(t, err)
	ranks = append(ranks, registered.Campaign.Status.Rank())

	swept, err := EvaluateSweep(registered.Campaign, mustMoney(t, "1200", 6), campaignEnd.Add(time.Hour))
	require.NoError(t, err)
	ranks = append(ranks, swept.Campaign.Status.Rank())

	for i := 1; i < len(ranks); i++ {
		assert.GreaterOrEqual(t, ranks[i], ranks[i-1])
	}
	assert.Equal(t, models.CampaignStatusCompleted, swept.Campaign.Status)
}

func TestApproveOverride(t *testing.T) {
	c := testCampaign(models.CampaignStatusPendingApproval)

	result, err := ApplyApprove(c, campaignStart)
	require.NoError(t, err)
	assert.True(t, result.Changed)
	assert.Equal(t, models.CampaignStatusActive, result.Campaign.Status)
	assert.NotEmpty(t, result.Anomaly, "activation without registration is logged")

	replay, err := ApplyApprove(result.Campaign, campaignStart)
	require.NoError(t, err)
	assert.False(t, replay.Changed)
}
