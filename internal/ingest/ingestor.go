// File: internal/ingest/ingestor.go
package ingest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/quadfund/reconciler/internal/ledger"
	"github.com/quadfund/reconciler/internal/metrics"
	"github.com/quadfund/reconciler/internal/models"
	"github.com/quadfund/reconciler/pkg/utils"
	"github.com/sirupsen/logrus"
)

// Sink accepts normalized commands for reconciliation. Hand-off to the
// sink is the acknowledgement point for the upstream feed.
type Sink interface {
	Enqueue(ctx context.Context, cmd *models.Command) error
}

// Config holds ingestor configuration
type Config struct {
	// DedupeCacheSize bounds the in-memory (txHash, logIndex) seen-set
	DedupeCacheSize int `json:"dedupe_cache_size" mapstructure:"dedupe_cache_size"`
}

// Ingestor normalizes raw chain events into the closed command set.
// Malformed events are quarantined and never block the stream;
// redeliveries are dropped against a bounded seen-set. The durable
// idempotency check lives in the reconciliation transaction, so losing
// this cache on restart is safe.
type Ingestor struct {
	config  *Config
	store   ledger.Store
	sink    Sink
	logger  *logrus.Logger
	metrics *metrics.PrometheusMetrics

	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
}

// NewIngestor creates a new event ingestor
func NewIngestor(config *Config, store ledger.Store, sink Sink, prom *metrics.PrometheusMetrics) *Ingestor {
	size := config.DedupeCacheSize
	if size <= 0 {
		size = 10000
	}
	return &Ingestor{
		config:  config,
		store:   store,
		sink:    sink,
		logger:  utils.GetLogger(),
		metrics: prom,
		seen:    make(map[string]struct{}, size),
		order:   make([]string, 0, size),
	}
}

// Ingest consumes one chain event. It returns an error only when the
// hand-off to the sink fails; malformed input is quarantined and
// reported as success so the feed keeps moving.
func (i *Ingestor) Ingest(ctx context.Context, event *models.ChainEvent) error {
	if i.isDuplicate(event.Key()) {
		i.logger.WithField("event", event.Key()).Debug("Dropping redelivered event")
		if i.metrics != nil {
			i.metrics.RecordEventDeduplicated()
		}
		return nil
	}

	cmd, err := i.normalize(event)
	if err != nil {
		if qerr := i.quarantine(ctx, event, err); qerr != nil {
			// Do not remember the key: the feed will redeliver and
			// the quarantine write gets another chance
			i.forget(event.Key())
			return qerr
		}
		return nil
	}

	if err := i.sink.Enqueue(ctx, cmd); err != nil {
		// Do not remember the key: the feed will redeliver
		i.forget(event.Key())
		return err
	}

	if i.metrics != nil {
		i.metrics.RecordEventIngested(event.EventType)
	}
	return nil
}

func (i *Ingestor) isDuplicate(key string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	if _, ok := i.seen[key]; ok {
		return true
	}
	i.seen[key] = struct{}{}
	i.order = append(i.order, key)

	size := i.config.DedupeCacheSize
	if size <= 0 {
		size = 10000
	}
	for len(i.order) > size {
		delete(i.seen, i.order[0])
		i.order = i.order[1:]
	}
	return false
}

func (i *Ingestor) forget(key string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.seen, key)
}

// normalize turns a raw event into a command, validating every field
// the downstream state machines depend on
func (i *Ingestor) normalize(event *models.ChainEvent) (*models.Command, error) {
	if !utils.IsValidTxHash(event.TxHash) {
		return nil, utils.NewAppError(utils.ErrCodeMalformedEvent,
			"Invalid transaction hash", event.TxHash)
	}

	cmd := &models.Command{
		ID:          uuid.New().String(),
		TxHash:      utils.NormalizeTxHash(event.TxHash),
		BlockNumber: event.BlockNumber,
		LogIndex:    event.LogIndex,
		Timestamp:   event.Timestamp,
	}

	p := payload(event.Payload)
	switch event.EventType {
	case models.EventTypeCampaignRegistered:
		cmd.Type = models.CommandCampaignRegistered
		slug, err := p.requireString("campaignSlug")
		if err != nil {
			return nil, err
		}
		addr, err := p.requireAddress("campaignAddress")
		if err != nil {
			return nil, err
		}
		cmd.CampaignSlug = slug
		cmd.CampaignAddress = addr

	case models.EventTypeRecipientSubmitted:
		cmd.Type = models.CommandRecipientSubmitted
		if err := p.requireIDs(cmd); err != nil {
			return nil, err
		}
		addr, err := p.requireAddress("recipientAddress")
		if err != nil {
			return nil, err
		}
		submittedBy, err := p.requireAddress("submittedBy")
		if err != nil {
			return nil, err
		}
		cmd.RecipientAddress = addr
		cmd.SubmittedBy = submittedBy

	case models.EventTypeRecipientReviewed:
		cmd.Type = models.CommandRecipientReviewed
		if err := p.requireIDs(cmd); err != nil {
			return nil, err
		}
		status, err := p.requireString("status")
		if err != nil {
			return nil, err
		}
		reviewStatus := models.RecipientStatus(status)
		if reviewStatus != models.RecipientStatusApproved && reviewStatus != models.RecipientStatusRejected {
			return nil, utils.NewAppError(utils.ErrCodeMalformedEvent,
				"Unknown review status", status)
		}
		cmd.ReviewStatus = reviewStatus
		cmd.OnchainRecipientID = p.optionalString("onchainRecipientId")

	case models.EventTypeContribution:
		cmd.Type = models.CommandContributionConfirmed
		campaignID, err := p.requireInt64("campaignId")
		if err != nil {
			return nil, err
		}
		cmd.CampaignID = campaignID
		payer, err := p.requireAddress("payerAddress")
		if err != nil {
			return nil, err
		}
		cmd.PayerAddress = payer
		if err := p.requireAmount(cmd); err != nil {
			return nil, err
		}
		if raw := p.optionalString("status"); raw != "" {
			status, err := models.ParsePaymentStatus(raw)
			if err != nil {
				return nil, err
			}
			if status != models.PaymentStatusConfirmed {
				return nil, utils.NewAppError(utils.ErrCodeMalformedEvent,
					"Contribution event carries a non-confirmed status", raw)
			}
		}
		cmd.IsAnonymous = p.optionalBool("isAnonymous")

	case models.EventTypePoolFunded:
		cmd.Type = models.CommandPoolFunded
		roundID, err := p.requireInt64("roundId")
		if err != nil {
			return nil, err
		}
		cmd.RoundID = roundID
		poolID, err := p.requireString("poolId")
		if err != nil {
			return nil, err
		}
		cmd.PoolID = poolID
		if err := p.requireAmount(cmd); err != nil {
			return nil, err
		}

	default:
		return nil, utils.NewAppError(utils.ErrCodeMalformedEvent,
			"Unknown event type", event.EventType)
	}

	return cmd, nil
}

// quarantine persists the rejected event for operator review. The feed
// is acknowledged so one poison event cannot stall ingestion.
func (i *Ingestor) quarantine(ctx context.Context, event *models.ChainEvent, cause error) error {
	reason := "malformed event"
	if appErr, ok := cause.(*utils.AppError); ok {
		reason = appErr.Message
	}

	raw, err := json.Marshal(event.Payload)
	if err != nil {
		raw = []byte("{}")
	}

	qe := &models.QuarantinedEvent{
		ID:        uuid.New().String(),
		TxHash:    event.TxHash,
		LogIndex:  event.LogIndex,
		EventType: event.EventType,
		Reason:    reason,
		Payload:   string(raw),
	}
	if err := i.store.SaveQuarantinedEvent(ctx, qe); err != nil {
		i.logger.WithError(err).WithField("event", event.Key()).
			Error("Failed to persist quarantined event")
		return err
	}

	i.logger.WithFields(logrus.Fields{
		"event":      event.Key(),
		"event_type": event.EventType,
		"reason":     reason,
	}).Warn("Event quarantined")

	if i.metrics != nil {
		i.metrics.RecordEventQuarantined(event.EventType, reason)
	}
	return nil
}
