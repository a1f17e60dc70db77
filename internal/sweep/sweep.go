// File: internal/sweep/sweep.go
package sweep

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/quadfund/reconciler/internal/ledger"
	"github.com/quadfund/reconciler/internal/lifecycle"
	"github.com/quadfund/reconciler/internal/metrics"
	"github.com/quadfund/reconciler/internal/models"
	"github.com/quadfund/reconciler/internal/money"
	"github.com/quadfund/reconciler/pkg/utils"
	"github.com/sirupsen/logrus"
)

// Config holds sweep configuration
type Config struct {
	Enabled  bool          `json:"enabled" mapstructure:"enabled"`
	Interval time.Duration `json:"interval" mapstructure:"interval"`
}

// Sweeper periodically evaluates time and funding driven campaign
// transitions: pending campaigns past their start activate, expired
// active campaigns settle to COMPLETED or FAILED against their goal.
// Each run is idempotent.
type Sweeper struct {
	config    *Config
	store     ledger.Store
	logger    *logrus.Logger
	metrics   *metrics.PrometheusMetrics
	scheduler gocron.Scheduler
}

// NewSweeper creates a campaign status sweeper
func NewSweeper(config *Config, store ledger.Store, prom *metrics.PrometheusMetrics) *Sweeper {
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	return &Sweeper{
		config:  config,
		store:   store,
		logger:  utils.GetLogger(),
		metrics: prom,
	}
}

// Start schedules the sweep
func (s *Sweeper) Start() error {
	if !s.config.Enabled {
		s.logger.Info("Campaign sweep disabled")
		return nil
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return utils.NewAppError(utils.ErrCodeInternal, "Failed to create sweep scheduler", err.Error())
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(s.config.Interval),
		gocron.NewTask(func() {
			if err := s.RunOnce(context.Background()); err != nil {
				s.logger.WithError(err).Error("Campaign sweep failed")
			}
		}),
	)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeInternal, "Failed to schedule sweep", err.Error())
	}

	s.scheduler = scheduler
	scheduler.Start()
	s.logger.WithField("interval", s.config.Interval).Info("Campaign sweep started")
	return nil
}

// Stop shuts the scheduler down
func (s *Sweeper) Stop() error {
	if s.scheduler == nil {
		return nil
	}
	err := s.scheduler.Shutdown()
	s.scheduler = nil
	s.logger.Info("Campaign sweep stopped")
	return err
}

// RunOnce evaluates every non-terminal campaign once
func (s *Sweeper) RunOnce(ctx context.Context) error {
	started := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.RecordSweepRun(time.Since(started))
		}
	}()

	campaigns, err := s.store.ListCampaignsByStatus(ctx,
		models.CampaignStatusPendingApproval, models.CampaignStatusActive)
	if err != nil {
		return err
	}

	swept := 0
	for _, c := range campaigns {
		changed, err := s.sweepCampaign(ctx, c.ID)
		if err != nil {
			s.logger.WithError(err).WithField("campaign", c.ID).
				Error("Failed to sweep campaign")
			continue
		}
		if changed {
			swept++
		}
	}

	s.logger.WithFields(logrus.Fields{
		"evaluated":    len(campaigns),
		"transitioned": swept,
	}).Debug("Campaign sweep completed")
	return nil
}

// sweepCampaign evaluates one campaign in its own transaction. The row
// is re-read inside the transaction so the optimistic version check
// covers the whole evaluation.
func (s *Sweeper) sweepCampaign(ctx context.Context, campaignID int64) (bool, error) {
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	c, err := tx.GetCampaign(ctx, campaignID)
	if err != nil {
		return false, err
	}
	if c == nil || c.Status.Terminal() {
		return false, nil
	}

	total, err := s.confirmedTotal(ctx, tx, c)
	if err != nil {
		return false, err
	}

	result, err := lifecycle.EvaluateSweep(c, total, time.Now().UTC())
	if err != nil {
		return false, err
	}
	if !result.Changed {
		return false, nil
	}

	if err := tx.SaveCampaign(ctx, result.Campaign); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}

	if s.metrics != nil {
		s.metrics.RecordSweepTransition(string(result.Campaign.Status))
	}
	s.logger.WithFields(logrus.Fields{
		"campaign": c.ID,
		"from":     c.Status,
		"to":       result.Campaign.Status,
		"total":    total.String(),
	}).Info("Campaign transitioned by sweep")
	return true, nil
}

func (s *Sweeper) confirmedTotal(ctx context.Context, tx ledger.Tx, c *models.Campaign) (money.Money, error) {
	payments, err := tx.ListConfirmedPayments(ctx, c.ID, c.StartTime, c.EndTime)
	if err != nil {
		return money.Money{}, err
	}

	total := money.Zero(c.TokenDecimals)
	for _, p := range payments {
		amount, err := money.Parse(p.Amount, c.TokenDecimals)
		if err != nil {
			return money.Money{}, utils.NewAppError(utils.ErrCodeIntegrity,
				"Stored payment amount unparseable", p.Amount)
		}
		total, err = total.Add(amount)
		if err != nil {
			return money.Money{}, err
		}
	}
	return total, nil
}
