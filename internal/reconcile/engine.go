// File: internal/reconcile/engine.go
package reconcile

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quadfund/reconciler/internal/ledger"
	"github.com/quadfund/reconciler/internal/metrics"
	"github.com/quadfund/reconciler/internal/models"
	"github.com/quadfund/reconciler/pkg/utils"
	"github.com/sirupsen/logrus"
)

// Config holds reconciliation engine configuration
type Config struct {
	Workers        int           `json:"workers" mapstructure:"workers"`
	QueueSize      int           `json:"queue_size" mapstructure:"queue_size"`
	MaxRetries     int           `json:"max_retries" mapstructure:"max_retries"`
	RetryBaseDelay time.Duration `json:"retry_base_delay" mapstructure:"retry_base_delay"`
	RetryMaxDelay  time.Duration `json:"retry_max_delay" mapstructure:"retry_max_delay"`
}

// Stats tracks engine activity
type Stats struct {
	Applied int64 `json:"applied"`
	Noops   int64 `json:"noops"`
	Retried int64 `json:"retried"`
	Stalled int64 `json:"stalled"`
	Flagged int64 `json:"flagged"`
	Deduped int64 `json:"deduped"`
}

// Engine applies normalized commands to the ledger. Commands touching
// the same (round, campaign) pair hash to the same worker and are
// serialized; workers are otherwise independent. Every command runs in
// one ledger transaction together with its applied-event marker, so a
// crash can never leave a half-applied command.
type Engine struct {
	config  *Config
	store   ledger.Store
	logger  *logrus.Logger
	metrics *metrics.PrometheusMetrics

	// mu guards running and queues. Enqueue holds the read side across
	// the channel send so Stop cannot close a queue mid-send.
	queues  []chan *models.Command
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool

	statsMu sync.Mutex
	stats   Stats
}

// NewEngine creates a new reconciliation engine
func NewEngine(config *Config, store ledger.Store, prom *metrics.PrometheusMetrics) *Engine {
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 256
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 5
	}
	if config.RetryBaseDelay <= 0 {
		config.RetryBaseDelay = 50 * time.Millisecond
	}
	if config.RetryMaxDelay <= 0 {
		config.RetryMaxDelay = 5 * time.Second
	}

	return &Engine{
		config:  config,
		store:   store,
		logger:  utils.GetLogger(),
		metrics: prom,
	}
}

// Start launches the worker pool
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return utils.NewAppError(utils.ErrCodeInternal, "Engine already running")
	}

	e.queues = make([]chan *models.Command, e.config.Workers)
	for i := range e.queues {
		e.queues[i] = make(chan *models.Command, e.config.QueueSize)
		e.wg.Add(1)
		go e.worker(i)
	}
	e.running = true

	e.logger.WithFields(logrus.Fields{
		"workers":    e.config.Workers,
		"queue_size": e.config.QueueSize,
	}).Info("Reconciliation engine started")
	return nil
}

// Stop drains the queues and waits for in-flight commands. Commands
// are never interrupted mid-transaction.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	for _, q := range e.queues {
		close(q)
	}
	e.mu.Unlock()

	e.wg.Wait()
	e.logger.Info("Reconciliation engine stopped")
	return nil
}

// IsRunning reports whether the engine accepts commands
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// GetStats returns a snapshot of engine statistics
func (e *Engine) GetStats() Stats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.stats
}

// Enqueue hands a command to its partition worker. It implements the
// ingestor's Sink and is also the entry point for admin commands. The
// read lock is held across the send: Stop's close of the queues waits
// for it, and workers keep draining, so a full queue cannot wedge the
// shutdown.
func (e *Engine) Enqueue(ctx context.Context, cmd *models.Command) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.running {
		return utils.NewAppError(utils.ErrCodeTransientIO, "Engine not running")
	}
	queue := e.queues[e.partition(cmd)]

	select {
	case queue <- cmd:
		if e.metrics != nil {
			e.metrics.UpdateQueueDepth(e.queueDepth())
		}
		return nil
	case <-ctx.Done():
		return utils.NewAppError(utils.ErrCodeTransientIO, "Enqueue cancelled", ctx.Err().Error())
	}
}

func (e *Engine) partition(cmd *models.Command) int {
	h := fnv.New32a()
	h.Write([]byte(cmd.PartitionKey()))
	return int(h.Sum32() % uint32(len(e.queues)))
}

func (e *Engine) queueDepth() int {
	depth := 0
	for _, q := range e.queues {
		depth += len(q)
	}
	return depth
}

func (e *Engine) worker(id int) {
	defer e.wg.Done()
	logger := e.logger.WithField("worker", id)

	for cmd := range e.queues[id] {
		e.process(cmd, logger)
		if e.metrics != nil {
			e.metrics.UpdateQueueDepth(e.queueDepth())
		}
	}
}

// process applies one command with bounded retries. Concurrent
// modification and transient I/O retry with exponential backoff; an
// exhausted budget is surfaced as a stall, and integrity violations
// are flagged without auto-correction.
func (e *Engine) process(cmd *models.Command, logger *logrus.Entry) {
	started := time.Now()
	var err error

	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(e.backoff(attempt))
			e.bump(func(s *Stats) { s.Retried++ })
			if e.metrics != nil {
				e.metrics.RecordCommandRetry()
			}
		}

		err = e.applyOnce(context.Background(), cmd, logger)
		if err == nil || !utils.IsRetryable(err) {
			break
		}
		logger.WithError(err).WithFields(logrus.Fields{
			"command": cmd.Type,
			"key":     cmd.IdempotencyKey(),
			"attempt": attempt + 1,
		}).Warn("Command apply failed, retrying")
	}

	status := "success"
	switch {
	case err == nil:
	case utils.IsRetryable(err):
		// Retry budget exhausted
		status = "stalled"
		e.bump(func(s *Stats) { s.Stalled++ })
		if e.metrics != nil {
			e.metrics.RecordCommandStalled()
		}
		e.flag(cmd, utils.ErrCodeStalled, err.Error(), logger)
		logger.WithError(err).WithFields(logrus.Fields{
			"command": cmd.Type,
			"key":     cmd.IdempotencyKey(),
		}).Error("Command stalled after exhausting retries")

	case utils.HasCode(err, utils.ErrCodeIntegrity):
		status = "integrity_violation"
		e.flag(cmd, utils.ErrCodeIntegrity, err.Error(), logger)
		logger.WithError(err).WithFields(logrus.Fields{
			"command": cmd.Type,
			"key":     cmd.IdempotencyKey(),
		}).Error("Integrity violation; flagged for operator review")

	default:
		status = "error"
		logger.WithError(err).WithFields(logrus.Fields{
			"command": cmd.Type,
			"key":     cmd.IdempotencyKey(),
		}).Error("Command apply failed")
	}

	if e.metrics != nil {
		e.metrics.RecordCommandApplied(string(cmd.Type), status, time.Since(started))
	}
}

func (e *Engine) backoff(attempt int) time.Duration {
	delay := e.config.RetryBaseDelay << (attempt - 1)
	if delay > e.config.RetryMaxDelay {
		delay = e.config.RetryMaxDelay
	}
	return delay
}

func (e *Engine) bump(f func(*Stats)) {
	e.statsMu.Lock()
	f(&e.stats)
	e.statsMu.Unlock()
}

// applyOnce runs a command in a single ledger transaction. The durable
// applied-event check and marker live in the same transaction as the
// row writes, so a redelivered event either sees the marker or replays
// atomically.
func (e *Engine) applyOnce(ctx context.Context, cmd *models.Command, logger *logrus.Entry) error {
	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	onChain := cmd.TxHash != ""
	if onChain {
		applied, err := tx.EventApplied(ctx, cmd.TxHash, cmd.LogIndex)
		if err != nil {
			return err
		}
		if applied {
			e.bump(func(s *Stats) { s.Deduped++ })
			logger.WithField("key", cmd.IdempotencyKey()).Debug("Event already applied")
			return nil
		}
	}

	var applyErr error
	switch cmd.Type {
	case models.CommandCampaignRegistered:
		applyErr = e.applyCampaignRegistered(ctx, tx, cmd, logger)
	case models.CommandRecipientSubmitted:
		applyErr = e.applyRecipientSubmitted(ctx, tx, cmd, logger)
	case models.CommandRecipientReviewed:
		applyErr = e.applyRecipientReviewed(ctx, tx, cmd, logger)
	case models.CommandContributionConfirmed:
		applyErr = e.applyContribution(ctx, tx, cmd, logger)
	case models.CommandPoolFunded:
		applyErr = e.applyPoolFunded(ctx, tx, cmd, logger)
	case models.CommandSubmitCampaign:
		applyErr = e.applySubmitCampaign(ctx, tx, cmd, logger)
	case models.CommandApproveCampaign:
		applyErr = e.applyApproveCampaign(ctx, tx, cmd, logger)
	default:
		applyErr = utils.NewAppError(utils.ErrCodeMalformedEvent,
			"Unknown command type", string(cmd.Type))
	}
	if applyErr != nil {
		return applyErr
	}

	if onChain {
		if err := tx.MarkEventApplied(ctx, cmd.TxHash, cmd.LogIndex, cmd.BlockNumber); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	e.bump(func(s *Stats) { s.Applied++ })
	if e.metrics != nil && onChain {
		e.metrics.UpdateLatestReconciledBlock(cmd.BlockNumber)
	}
	return nil
}

// flag records an operator-facing integrity flag in its own
// transaction, outside the failed command transaction
func (e *Engine) flag(cmd *models.Command, code, detail string, logger *logrus.Entry) {
	ctx := context.Background()
	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		logger.WithError(err).Error("Failed to open transaction for integrity flag")
		return
	}
	defer tx.Rollback()

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
		logger.WithError(err).Error("Failed to record integrity flag")
		return
	}
	if err := tx.Commit(); err != nil {
		logger.WithError(err).Error("Failed to commit integrity flag")
		return
	}

	e.bump(func(s *Stats) { s.Flagged++ })
	if e.metrics != nil {
		e.metrics.RecordIntegrityFlag(code)
	}
}
