package lifecycle

import (
	"testing"
	"time"

	"github.com/quadfund/reconciler/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pendingRecipient() *models.RoundCampaign {
	return &models.RoundCampaign{
		ID:         1,
		RoundID:    1,
		CampaignID: 7,
		Status:     models.RecipientStatusPending,
	}
}

func reviewCommand(status models.RecipientStatus) *models.Command {
	return &models.Command{
		Type:         models.CommandRecipientReviewed,
		TxHash:       "0xreview",
		RoundID:      1,
		CampaignID:   7,
		ReviewStatus: status,
		Timestamp:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestReviewApprovesPending(t *testing.T) {
	rc := pendingRecipient()
	cmd := reviewCommand(models.RecipientStatusApproved)
	cmd.OnchainRecipientID = "0xabc"

	result, err := ApplyReview(rc, cmd, time.Now())
	require.NoError(t, err)

	assert.True(t, result.Changed())
	assert.Equal(t, models.RecipientStatusApproved, result.Recipient.Status)
	require.NotNil(t, result.Recipient.ReviewedAt)
	assert.Equal(t, cmd.Timestamp, *result.Recipient.ReviewedAt)
	require.NotNil(t, result.Recipient.OnchainRecipientID)
	assert.Equal(t, "0xabc", *result.Recipient.OnchainRecipientID)

	// Input row untouched
	assert.Equal(t, models.RecipientStatusPending, rc.Status)
	assert.Nil(t, rc.ReviewedAt)
}

func TestReviewRejectsPending(t *testing.T) {
	result, err := ApplyReview(pendingRecipient(), reviewCommand(models.RecipientStatusRejected), time.Now())
	require.NoError(t, err)

	assert.Equal(t, models.RecipientStatusRejected, result.Recipient.Status)
	assert.NotNil(t, result.Recipient.ReviewedAt)
}

// Out-of-order redelivery: REJECTED then APPROVED. The first committed
// review wins; the later conflicting review is a no-op logged as an
// anomaly, never an error.
func TestFirstReviewWins(t *testing.T) {
	rc := pendingRecipient()

	first, err := ApplyReview(rc, reviewCommand(models.RecipientStatusRejected), time.Now())
	require.NoError(t, err)
	require.Equal(t, models.RecipientStatusRejected, first.Recipient.Status)

	second, err := ApplyReview(first.Recipient, reviewCommand(models.RecipientStatusApproved), time.Now())
	require.NoError(t, err)

	assert.False(t, second.Changed())
	assert.Equal(t, models.RecipientStatusRejected, second.Recipient.Status)
	assert.NotEmpty(t, second.Anomaly)
}

func TestReviewReplayIsQuietNoop(t *testing.T) {
	rc := pendingRecipient()
	first, err := ApplyReview(rc, reviewCommand(models.RecipientStatusApproved), time.Now())
	require.NoError(t, err)

	replay, err := ApplyReview(first.Recipient, reviewCommand(models.RecipientStatusApproved), time.Now())
	require.NoError(t, err)

	assert.False(t, replay.Changed())
	assert.Empty(t, replay.Anomaly, "matching replay is not an anomaly")
}

func TestReviewWithPendingStatusRejected(t *testing.T) {
	_, err := ApplyReview(pendingRecipient(), reviewCommand(models.RecipientStatusPending), time.Now())
	require.Error(t, err)
}

func TestSubmissionCompletesData(t *testing.T) {
	rc := pendingRecipient()
	cmd := &models.Command{
		Type:             models.CommandRecipientSubmitted,
		TxHash:           "0xsubmit",
		RoundID:          1,
		CampaignID:       7,
		RecipientAddress: "0x1111111111111111111111111111111111111111",
		SubmittedBy:      "0x2222222222222222222222222222222222222222",
	}

	result, err := ApplySubmission(rc, cmd)
	require.NoError(t, err)

	assert.Equal(t, RecipientDataCompleted, result.Outcome)
	// Never a state transition
	assert.Equal(t, models.RecipientStatusPending, result.Recipient.Status)
	require.NotNil(t, result.Recipient.RecipientAddress)
	assert.Equal(t, cmd.RecipientAddress, *result.Recipient.RecipientAddress)
	require.NotNil(t, result.Recipient.TxHash)
	assert.Equal(t, "0xsubmit", *result.Recipient.TxHash)
}

func TestSubmissionOnTerminalRowOnlyBackfillsTxHash(t *testing.T) {
	reviewedAt := time.Now()
	rc := &models.RoundCampaign{
		RoundID:    1,
		CampaignID: 7,
		Status:     models.RecipientStatusApproved,
		ReviewedAt: &reviewedAt,
	}
	cmd := &models.Command{
		TxHash:           "0xlate",
		RecipientAddress: "0x1111111111111111111111111111111111111111",
	}

	result, err := ApplySubmission(rc, cmd)
	require.NoError(t, err)

	require.NotNil(t, result.Recipient.TxHash)
	assert.Equal(t, "0xlate", *result.Recipient.TxHash)
	assert.Nil(t, result.Recipient.RecipientAddress, "terminal row takes no new submission data")
	assert.Equal(t, models.RecipientStatusApproved, result.Recipient.Status)
}

func TestSubmissionReplayIsNoop(t *testing.T) {
	rc := pendingRecipient()
	cmd := &models.Command{TxHash: "0xsubmit", RecipientAddress: "0xaaa"}

	first, err := ApplySubmission(rc, cmd)
	require.NoError(t, err)

	second, err := ApplySubmission(first.Recipient, cmd)
	require.NoError(t, err)
	assert.False(t, second.Changed())
}

// Review arriving before any submission: the row is created directly
// in the reviewed state and flagged for operator attention.
func TestReviewWithoutSubmissionCreatesFlaggedRow(t *testing.T) {
	cmd := reviewCommand(models.RecipientStatusApproved)
	cmd.RecipientAddress = "0x1111111111111111111111111111111111111111"

	result, err := NewReviewedRecipient(cmd, time.Now())
	require.NoError(t, err)

	assert.Equal(t, RecipientCreatedReviewed, result.Outcome)
	assert.Equal(t, models.RecipientStatusApproved, result.Recipient.Status)
	assert.True(t, result.Recipient.NeedsAttention)
	assert.NotNil(t, result.Recipient.ReviewedAt)
	assert.NotEmpty(t, result.Anomaly)
}
