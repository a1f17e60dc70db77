// File: internal/reconcile/handlers.go
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/quadfund/reconciler/internal/ledger"
	"github.com/quadfund/reconciler/internal/lifecycle"
	"github.com/quadfund/reconciler/internal/models"
	"github.com/quadfund/reconciler/pkg/utils"
	"github.com/sirupsen/logrus"
)

// flagInTx records an integrity flag inside the command's own
// transaction: the flag and the applied-event marker commit together,
// so a redelivered event does not flag twice.
func (e *Engine) flagInTx(ctx context.Context, tx ledger.Tx, cmd *models.Command, code, detail string) error {
	f := &models.IntegrityFlag{
		ID:     uuid.New().String(),
		Code:   code,
		Detail: fmt.Sprintf("%s: %s", cmd.IdempotencyKey(), detail),
	}
	if cmd.RoundID != 0 {
		roundID := cmd.RoundID
		f.RoundID = &roundID
	}
	if cmd.CampaignID != 0 {
		campaignID := cmd.CampaignID
		f.CampaignID = &campaignID
	}
	if err := tx.AddIntegrityFlag(ctx, f); err != nil {
		return err
	}
	e.bump(func(s *Stats) { s.Flagged++ })
	if e.metrics != nil {
		e.metrics.RecordIntegrityFlag(code)
	}
	return nil
}

func (e *Engine) applyCampaignRegistered(ctx context.Context, tx ledger.Tx, cmd *models.Command, logger *logrus.Entry) error {
	campaign, err := tx.GetCampaignBySlug(ctx, cmd.CampaignSlug)
	if err != nil {
		return err
	}
	if campaign == nil {
		logger.WithField("slug", cmd.CampaignSlug).Warn("Registration for unknown campaign")
		return e.flagInTx(ctx, tx, cmd, utils.ErrCodeIntegrity,
			fmt.Sprintf("registration for unknown campaign slug %q", cmd.CampaignSlug))
	}

	result, err := lifecycle.ApplyRegistration(campaign, cmd, time.Now().UTC())
	if err != nil {
		return err
	}
	if !result.Changed {
		e.bump(func(s *Stats) { s.Noops++ })
		return nil
	}
	if err := tx.SaveCampaign(ctx, result.Campaign); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.RecordTransition("campaign", string(result.Campaign.Status))
	}
	logger.WithFields(logrus.Fields{
		"campaign": campaign.ID,
		"status":   result.Campaign.Status,
	}).Info("Campaign registration applied")
	return nil
}

func (e *Engine) applyRecipientSubmitted(ctx context.Context, tx ledger.Tx, cmd *models.Command, logger *logrus.Entry) error {
	rc, err := tx.GetRoundCampaign(ctx, cmd.RoundID, cmd.CampaignID)
	if err != nil {
		return err
	}

	if rc == nil {
		// Submission confirmation without an off-chain application row.
		// Create the pending row with the on-chain data rather than
		// dropping it, flagged for operator attention.
		now := time.Now().UTC()
		rc = &models.RoundCampaign{
			RoundID:        cmd.RoundID,
			CampaignID:     cmd.CampaignID,
			Status:         models.RecipientStatusPending,
			NeedsAttention: true,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if cmd.RecipientAddress != "" {
			addr := cmd.RecipientAddress
			rc.RecipientAddress = &addr
		}
		if cmd.SubmittedBy != "" {
			by := cmd.SubmittedBy
			rc.SubmittedByWalletAddress = &by
		}
		if cmd.TxHash != "" {
			h := cmd.TxHash
			rc.TxHash = &h
		}
		if err := tx.SaveRoundCampaign(ctx, rc); err != nil {
			return err
		}
		logger.WithFields(logrus.Fields{
			"round":    cmd.RoundID,
			"campaign": cmd.CampaignID,
		}).Warn("Submission arrived before application row; pending row created")
		return nil
	}

	result, err := lifecycle.ApplySubmission(rc, cmd)
	if err != nil {
		return err
	}
	if !result.Changed() {
		e.bump(func(s *Stats) { s.Noops++ })
		return nil
	}
	return tx.SaveRoundCampaign(ctx, result.Recipient)
}

func (e *Engine) applyRecipientReviewed(ctx context.Context, tx ledger.Tx, cmd *models.Command, logger *logrus.Entry) error {
	rc, err := tx.GetRoundCampaign(ctx, cmd.RoundID, cmd.CampaignID)
	if err != nil {
		return err
	}

	var result *lifecycle.RecipientResult
	if rc == nil {
		result, err = lifecycle.NewReviewedRecipient(cmd, time.Now().UTC())
	} else {
		result, err = lifecycle.ApplyReview(rc, cmd, time.Now().UTC())
	}
	if err != nil {
		return err
	}

	if result.Anomaly != "" {
		logger.WithFields(logrus.Fields{
			"round":    cmd.RoundID,
			"campaign": cmd.CampaignID,
		}).Warn(result.Anomaly)
	}
	if !result.Changed() {
		e.bump(func(s *Stats) { s.Noops++ })
		return nil
	}

	if err := tx.SaveRoundCampaign(ctx, result.Recipient); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.RecordTransition("recipient", string(result.Recipient.Status))
	}
	logger.WithFields(logrus.Fields{
		"round":    cmd.RoundID,
		"campaign": cmd.CampaignID,
		"status":   result.Recipient.Status,
		"outcome":  result.Outcome,
	}).Info("Recipient review applied")
	return nil
}

func (e *Engine) applyContribution(ctx context.Context, tx ledger.Tx, cmd *models.Command, logger *logrus.Entry) error {
	campaign, err := tx.GetCampaign(ctx, cmd.CampaignID)
	if err != nil {
		return err
	}
	if campaign == nil {
		logger.WithField("campaign", cmd.CampaignID).Warn("Contribution for unknown campaign")
		return e.flagInTx(ctx, tx, cmd, utils.ErrCodeIntegrity,
			fmt.Sprintf("contribution for unknown campaign %d", cmd.CampaignID))
	}

	userID, err := tx.EnsureUser(ctx, cmd.PayerAddress)
	if err != nil {
		return err
	}

	hash := cmd.TxHash
	payment := &models.Payment{
		CampaignID:      cmd.CampaignID,
		UserID:          userID,
		Amount:          cmd.Amount,
		Token:           cmd.Token,
		TokenDecimals:   cmd.TokenDecimals,
		Status:          models.PaymentStatusConfirmed,
		TransactionHash: &hash,
		PayerAddress:    cmd.PayerAddress,
		IsAnonymous:     cmd.IsAnonymous,
		CreatedAt:       cmd.Timestamp,
	}
	created, err := tx.UpsertPayment(ctx, payment)
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"campaign": cmd.CampaignID,
		"amount":   cmd.Amount,
		"created":  created,
	}).Info("Contribution reconciled")
	return nil
}

func (e *Engine) applyPoolFunded(ctx context.Context, tx ledger.Tx, cmd *models.Command, logger *logrus.Entry) error {
	round, err := tx.GetRound(ctx, cmd.RoundID)
	if err != nil {
		return err
	}
	if round == nil {
		logger.WithField("round", cmd.RoundID).Warn("Pool funding for unknown round")
		return e.flagInTx(ctx, tx, cmd, utils.ErrCodeIntegrity,
			fmt.Sprintf("pool funding for unknown round %d", cmd.RoundID))
	}

	if round.PoolID != nil && *round.PoolID != "" {
		if *round.PoolID != cmd.PoolID {
			// Conflicting pool confirmation is never auto-corrected
			return e.flagInTx(ctx, tx, cmd, utils.ErrCodeIntegrity,
				fmt.Sprintf("round %d already confirmed with pool %q, event says %q",
					cmd.RoundID, *round.PoolID, cmd.PoolID))
		}
		e.bump(func(s *Stats) { s.Noops++ })
		return nil
	}

	poolID := cmd.PoolID
	round.PoolID = &poolID
	round.MatchingPool = cmd.Amount
	round.TokenDecimals = cmd.TokenDecimals
	if err := tx.SaveRound(ctx, round); err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"round":   cmd.RoundID,
		"pool_id": cmd.PoolID,
		"amount":  cmd.Amount,
	}).Info("Round confirmed on-chain")
	return nil
}

func (e *Engine) applySubmitCampaign(ctx context.Context, tx ledger.Tx, cmd *models.Command, logger *logrus.Entry) error {
	campaign, err := e.resolveCampaign(ctx, tx, cmd)
	if err != nil {
		return err
	}

	result, err := lifecycle.ApplySubmit(campaign)
	if err != nil {
		return err
	}
	if !result.Changed {
		e.bump(func(s *Stats) { s.Noops++ })
		return nil
	}
	if err := tx.SaveCampaign(ctx, result.Campaign); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.RecordTransition("campaign", string(result.Campaign.Status))
	}
	logger.WithField("campaign", campaign.ID).Info("Campaign submitted for approval")
	return nil
}

func (e *Engine) applyApproveCampaign(ctx context.Context, tx ledger.Tx, cmd *models.Command, logger *logrus.Entry) error {
	campaign, err := e.resolveCampaign(ctx, tx, cmd)
	if err != nil {
		return err
	}

	result, err := lifecycle.ApplyApprove(campaign, time.Now().UTC())
	if err != nil {
		return err
	}
	if result.Anomaly != "" {
		logger.WithField("campaign", campaign.ID).Warn(result.Anomaly)
	}
	if !result.Changed {
		e.bump(func(s *Stats) { s.Noops++ })
		return nil
	}
	if err := tx.SaveCampaign(ctx, result.Campaign); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.RecordTransition("campaign", string(result.Campaign.Status))
	}
	logger.WithField("campaign", campaign.ID).Info("Campaign approved")
	return nil
}

func (e *Engine) resolveCampaign(ctx context.Context, tx ledger.Tx, cmd *models.Command) (*models.Campaign, error) {
	if cmd.CampaignID != 0 {
		campaign, err := tx.GetCampaign(ctx, cmd.CampaignID)
		if err != nil {
			return nil, err
		}
		if campaign != nil {
			return campaign, nil
		}
	}
	if cmd.CampaignSlug != "" {
		campaign, err := tx.GetCampaignBySlug(ctx, cmd.CampaignSlug)
		if err != nil {
			return nil, err
		}
		if campaign != nil {
			return campaign, nil
		}
	}
	return nil, utils.NewAppError(utils.ErrCodeNotFound,
		"Campaign not found", fmt.Sprintf("id=%d slug=%q", cmd.CampaignID, cmd.CampaignSlug))
}
