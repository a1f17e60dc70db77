// File: internal/lifecycle/recipient.go
package lifecycle

import (
	"fmt"
	"time"

	"github.com/quadfund/reconciler/internal/models"
	"github.com/quadfund/reconciler/pkg/utils"
)

// RecipientOutcome classifies what a recipient transition did
type RecipientOutcome string

const (
	RecipientNoop            RecipientOutcome = "noop"
	RecipientTransitioned    RecipientOutcome = "transitioned"
	RecipientDataCompleted   RecipientOutcome = "data_completed"
	RecipientCreatedReviewed RecipientOutcome = "created_reviewed"
)

// RecipientResult is the outcome of applying a command to a recipient
// row. Transition functions are pure: the input row is never mutated.
type RecipientResult struct {
	Recipient *models.RoundCampaign
	Outcome   RecipientOutcome
	// Anomaly is set when a replayed or conflicting event was absorbed
	// as a no-op but should be logged for operator attention
	Anomaly string
}

// Changed reports whether the row must be persisted
func (r *RecipientResult) Changed() bool {
	return r.Outcome != RecipientNoop
}

func cloneRecipient(rc *models.RoundCampaign) *models.RoundCampaign {
	c := *rc
	return &c
}

// ApplyReview applies a RecipientReviewed command to an existing row.
// Terminal rows absorb further reviews as no-ops: on-chain finality
// wins, and replays must not crash the pipeline.
func ApplyReview(rc *models.RoundCampaign, cmd *models.Command, now time.Time) (*RecipientResult, error) {
	if !cmd.ReviewStatus.Terminal() {
		return nil, utils.NewAppError(utils.ErrCodeMalformedEvent,
			"Review command with non-terminal status", string(cmd.ReviewStatus))
	}

	if rc.Status.Terminal() {
		result := &RecipientResult{Recipient: rc, Outcome: RecipientNoop}
		if rc.Status != cmd.ReviewStatus {
			result.Anomaly = fmt.Sprintf(
				"conflicting review replay for round %d campaign %d: row is %s, event says %s",
				rc.RoundID, rc.CampaignID, rc.Status, cmd.ReviewStatus)
		}
		return result, nil
	}

	next := cloneRecipient(rc)
	next.Status = cmd.ReviewStatus
	reviewedAt := cmd.Timestamp
	if reviewedAt.IsZero() {
		reviewedAt = now
	}
	next.ReviewedAt = &reviewedAt
	if cmd.OnchainRecipientID != "" {
		id := cmd.OnchainRecipientID
		next.OnchainRecipientID = &id
	}

	if err := next.Validate(); err != nil {
		return nil, err
	}
	return &RecipientResult{Recipient: next, Outcome: RecipientTransitioned}, nil
}

// ApplySubmission confirms on-chain submission data on an existing row.
// It is pure data completion, never a state transition; on a terminal
// row it may only backfill a missing tx hash.
func ApplySubmission(rc *models.RoundCampaign, cmd *models.Command) (*RecipientResult, error) {
	next := cloneRecipient(rc)
	changed := false

	setIfMissing := func(dst **string, v string) {
		if v != "" && (*dst == nil || **dst == "") {
			s := v
			*dst = &s
			changed = true
		}
	}

	if rc.Status.Terminal() {
		// Backfill only; submission data on a reviewed row is otherwise stale
		setIfMissing(&next.TxHash, cmd.TxHash)
	} else {
		setIfMissing(&next.RecipientAddress, cmd.RecipientAddress)
		setIfMissing(&next.SubmittedByWalletAddress, cmd.SubmittedBy)
		setIfMissing(&next.TxHash, cmd.TxHash)
		setIfMissing(&next.OnchainRecipientID, cmd.OnchainRecipientID)
	}

	if !changed {
		return &RecipientResult{Recipient: rc, Outcome: RecipientNoop}, nil
	}
	return &RecipientResult{Recipient: next, Outcome: RecipientDataCompleted}, nil
}

// NewReviewedRecipient handles a review event for a (round, campaign)
// pair with no existing row. The application-submission event was
// presumably lost or mis-ordered; the row is created directly in the
// reviewed state rather than dropping ledger-relevant information, and
// flagged for operator attention.
func NewReviewedRecipient(cmd *models.Command, now time.Time) (*RecipientResult, error) {
	if !cmd.ReviewStatus.Terminal() {
		return nil, utils.NewAppError(utils.ErrCodeMalformedEvent,
			"Review command with non-terminal status", string(cmd.ReviewStatus))
	}

	reviewedAt := cmd.Timestamp
	if reviewedAt.IsZero() {
		reviewedAt = now
	}

	rc := &models.RoundCampaign{
		RoundID:        cmd.RoundID,
		CampaignID:     cmd.CampaignID,
		Status:         cmd.ReviewStatus,
		ReviewedAt:     &reviewedAt,
		NeedsAttention: true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if cmd.RecipientAddress != "" {
		addr := cmd.RecipientAddress
		rc.RecipientAddress = &addr
	}
	if cmd.OnchainRecipientID != "" {
		id := cmd.OnchainRecipientID
		rc.OnchainRecipientID = &id
	}
	if cmd.TxHash != "" {
		h := cmd.TxHash
		rc.TxHash = &h
	}

	if err := rc.Validate(); err != nil {
		return nil, err
	}

	return &RecipientResult{
		Recipient: rc,
		Outcome:   RecipientCreatedReviewed,
		Anomaly: fmt.Sprintf(
			"review for round %d campaign %d arrived before any submission; row created in state %s",
			cmd.RoundID, cmd.CampaignID, cmd.ReviewStatus),
	}, nil
}
