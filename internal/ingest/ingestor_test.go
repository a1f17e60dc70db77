package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/quadfund/reconciler/internal/ledger"
	"github.com/quadfund/reconciler/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	commands []*models.Command
	fail     error
}

func (s *captureSink) Enqueue(ctx context.Context, cmd *models.Command) error {
	if s.fail != nil {
		return s.fail
	}
	s.commands = append(s.commands, cmd)
	return nil
}

func newTestStore(t *testing.T) ledger.Store {
	t.Helper()
	store, err := ledger.NewStore(&ledger.Config{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "ingest.db"),
		MaxConnections:   4,
		MaxIdleTime:      time.Minute,
		TxTimeout:        5 * time.Second,
	})
	require.NoError(t, err)
	require.NoError(t, store.Connect())
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { store.Close() })
	return store
}

func testHash(seed string) string {
	return "0x" + strings.Repeat("0", 64-len(seed)) + seed
}

func contributionEvent(logIndex uint) *models.ChainEvent {
	return &models.ChainEvent{
		TxHash:      testHash("abc1"),
		BlockNumber: 120,
		LogIndex:    logIndex,
		EventType:   models.EventTypeContribution,
		Timestamp:   time.Now().UTC(),
		Payload: map[string]interface{}{
			"campaignId":    float64(7),
			"amount":        "10.5",
			"token":         "USDC",
			"tokenDecimals": float64(6),
			"payerAddress":  "0x2222222222222222222222222222222222222222",
			"status":        "confirmed",
		},
	}
}

func TestIngestContribution(t *testing.T) {
	store := newTestStore(t)
	sink := &captureSink{}
	ing := NewIngestor(&Config{DedupeCacheSize: 100}, store, sink, nil)

	require.NoError(t, ing.Ingest(context.Background(), contributionEvent(0)))
	require.Len(t, sink.commands, 1)

	cmd := sink.commands[0]
	assert.Equal(t, models.CommandContributionConfirmed, cmd.Type)
	assert.Equal(t, int64(7), cmd.CampaignID)
	assert.Equal(t, "10.5", cmd.Amount)
	assert.Equal(t, int32(6), cmd.TokenDecimals)
	assert.Equal(t, "0x2222222222222222222222222222222222222222", cmd.PayerAddress)
	assert.NotEmpty(t, cmd.ID)
}

func TestIngestDropsRedelivery(t *testing.T) {
	store := newTestStore(t)
	sink := &captureSink{}
	ing := NewIngestor(&Config{DedupeCacheSize: 100}, store, sink, nil)
	ctx := context.Background()

	require.NoError(t, ing.Ingest(ctx, contributionEvent(0)))
	require.NoError(t, ing.Ingest(ctx, contributionEvent(0)))
	assert.Len(t, sink.commands, 1)

	// A different log index in the same tx is a distinct event
	require.NoError(t, ing.Ingest(ctx, contributionEvent(1)))
	assert.Len(t, sink.commands, 2)
}

func TestIngestQuarantinesMalformed(t *testing.T) {
	store := newTestStore(t)
	sink := &captureSink{}
	ing := NewIngestor(&Config{DedupeCacheSize: 100}, store, sink, nil)
	ctx := context.Background()

	cases := []struct {
		name  string
		event *models.ChainEvent
	}{
		{
			name: "unparseable amount",
			event: func() *models.ChainEvent {
				e := contributionEvent(0)
				e.Payload["amount"] = "ten"
				return e
			}(),
		},
		{
			name: "invalid payer address",
			event: func() *models.ChainEvent {
				e := contributionEvent(1)
				e.Payload["payerAddress"] = "not-an-address"
				return e
			}(),
		},
		{
			name: "unknown payment status",
			event: func() *models.ChainEvent {
				e := contributionEvent(2)
				e.Payload["status"] = "maybe"
				return e
			}(),
		},
		{
			name: "unknown event type",
			event: &models.ChainEvent{
				TxHash:    testHash("abc2"),
				LogIndex:  0,
				EventType: "SomethingElse",
				Payload:   map[string]interface{}{},
			},
		},
		{
			name: "bad review status",
			event: &models.ChainEvent{
				TxHash:    testHash("abc3"),
				LogIndex:  0,
				EventType: models.EventTypeRecipientReviewed,
				Payload: map[string]interface{}{
					"roundId":    float64(1),
					"campaignId": float64(7),
					"status":     "MAYBE",
				},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			// Quarantine is success from the feed's point of view
			require.NoError(t, ing.Ingest(ctx, tc.event))
		})
	}

	assert.Empty(t, sink.commands)
	quarantined, err := store.ListQuarantinedEvents(ctx, 50)
	require.NoError(t, err)
	assert.Len(t, quarantined, len(cases))
}

func TestIngestReviewEvent(t *testing.T) {
	store := newTestStore(t)
	sink := &captureSink{}
	ing := NewIngestor(&Config{DedupeCacheSize: 100}, store, sink, nil)

	event := &models.ChainEvent{
		TxHash:      testHash("def1"),
		BlockNumber: 50,
		LogIndex:    2,
		EventType:   models.EventTypeRecipientReviewed,
		Timestamp:   time.Now().UTC(),
		Payload: map[string]interface{}{
			"roundId":            float64(1),
			"campaignId":         float64(7),
			"status":             "APPROVED",
			"onchainRecipientId": "rec-42",
		},
	}
	require.NoError(t, ing.Ingest(context.Background(), event))
	require.Len(t, sink.commands, 1)

	cmd := sink.commands[0]
	assert.Equal(t, models.CommandRecipientReviewed, cmd.Type)
	assert.Equal(t, int64(1), cmd.RoundID)
	assert.Equal(t, int64(7), cmd.CampaignID)
	assert.Equal(t, models.RecipientStatusApproved, cmd.ReviewStatus)
	assert.Equal(t, "rec-42", cmd.OnchainRecipientID)
	assert.Equal(t, "1/7", cmd.PartitionKey())
}

func TestIngestRetriesAfterSinkFailure(t *testing.T) {
	store := newTestStore(t)
	sink := &captureSink{fail: errors.New("queue full")}
	ing := NewIngestor(&Config{DedupeCacheSize: 100}, store, sink, nil)
	ctx := context.Background()

	require.Error(t, ing.Ingest(ctx, contributionEvent(0)))

	// After the sink recovers the redelivered event must go through
	sink.fail = nil
	require.NoError(t, ing.Ingest(ctx, contributionEvent(0)))
	assert.Len(t, sink.commands, 1)
}

// failingQuarantineStore rejects a number of quarantine writes before
// delegating to the real store.
type failingQuarantineStore struct {
	ledger.Store
	failures int
}

func (s *failingQuarantineStore) SaveQuarantinedEvent(ctx context.Context, event *models.QuarantinedEvent) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("quarantine write failed")
	}
	return s.Store.SaveQuarantinedEvent(ctx, event)
}

func TestIngestRetriesAfterQuarantineFailure(t *testing.T) {
	store := &failingQuarantineStore{Store: newTestStore(t), failures: 1}
	sink := &captureSink{}
	ing := NewIngestor(&Config{DedupeCacheSize: 100}, store, sink, nil)
	ctx := context.Background()

	event := contributionEvent(0)
	event.Payload["amount"] = "ten"

	// The failed quarantine write surfaces so the feed redelivers
	require.Error(t, ing.Ingest(ctx, event))

	// The redelivery must not be swallowed by the dedupe cache: the
	// event still ends up quarantined, never in the sink
	require.NoError(t, ing.Ingest(ctx, event))
	assert.Empty(t, sink.commands)

	quarantined, err := store.ListQuarantinedEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, quarantined, 1)
	assert.Equal(t, event.TxHash, quarantined[0].TxHash)
}

func TestDedupeCacheBounded(t *testing.T) {
	store := newTestStore(t)
	sink := &captureSink{}
	ing := NewIngestor(&Config{DedupeCacheSize: 2}, store, sink, nil)
	ctx := context.Background()

	require.NoError(t, ing.Ingest(ctx, contributionEvent(0)))
	require.NoError(t, ing.Ingest(ctx, contributionEvent(1)))
	require.NoError(t, ing.Ingest(ctx, contributionEvent(2)))

	// The oldest key has been evicted, so its redelivery passes the
	// in-memory check; the durable applied-event check downstream
	// still guards against double application.
	require.NoError(t, ing.Ingest(ctx, contributionEvent(0)))
	assert.Len(t, sink.commands, 4)
}
