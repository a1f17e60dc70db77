// File: internal/ledger/postgres.go
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/quadfund/reconciler/internal/models"
	"github.com/quadfund/reconciler/pkg/utils"
	"github.com/sirupsen/logrus"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db         *sql.DB
	config     *Config
	logger     *logrus.Logger
	queries    queries
	migrations []*Migration
}

// NewPostgresStore creates a new PostgreSQL ledger instance
func NewPostgresStore(config *Config) *PostgresStore {
	return &PostgresStore{
		config:     config,
		logger:     utils.GetLogger(),
		queries:    queries{dollarBind: true},
		migrations: GetPostgreSQLMigrations(),
	}
}

// Connect establishes the database connection
func (s *PostgresStore) Connect() error {
	db, err := sql.Open("postgres", s.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open PostgreSQL database", err.Error())
	}

	db.SetMaxOpenConns(s.config.MaxConnections)
	db.SetMaxIdleConns(s.config.MaxConnections / 2)
	db.SetConnMaxLifetime(s.config.MaxIdleTime)

	if err := db.Ping(); err != nil {
		return utils.NewAppError(utils.ErrCodeTransientIO, "Failed to reach PostgreSQL", err.Error())
	}

	s.db = db
	s.logger.Info("PostgreSQL ledger connected")
	return nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		s.logger.Info("PostgreSQL ledger connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (s *PostgresStore) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Ledger not connected")
	}
	return s.db.Ping()
}

// Migrate runs database migrations
func (s *PostgresStore) Migrate() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Ledger not connected")
	}

	s.logger.Info("Starting ledger migrations")
	for _, migration := range s.migrations {
		s.logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("Applying migration")

		if _, err := s.db.Exec(migration.SQL); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase,
				fmt.Sprintf("Migration %s failed", migration.Version), err.Error())
		}
	}
	s.logger.Info("Ledger migrations completed")
	return nil
}

// BeginTx starts a ledger transaction with the configured timeout
func (s *PostgresStore) BeginTx(ctx context.Context) (Tx, error) {
	if s.db == nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Ledger not connected")
	}

	txCtx := ctx
	var cancel context.CancelFunc
	if s.config.TxTimeout > 0 {
		txCtx, cancel = context.WithTimeout(ctx, s.config.TxTimeout)
	}

	tx, err := s.db.BeginTx(txCtx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		if cancel != nil {
			cancel()
		}
		return nil, utils.NewAppError(utils.ErrCodeTransientIO, "Failed to begin transaction", err.Error())
	}
	return &sqlTx{tx: tx, queries: s.queries, cancel: cancel}, nil
}

func (s *PostgresStore) GetCampaign(ctx context.Context, id int64) (*models.Campaign, error) {
	return s.queries.getCampaign(ctx, s.db, id)
}

func (s *PostgresStore) GetCampaignBySlug(ctx context.Context, slug string) (*models.Campaign, error) {
	return s.queries.getCampaignBySlug(ctx, s.db, slug)
}

func (s *PostgresStore) GetRound(ctx context.Context, id int64) (*models.Round, error) {
	return s.queries.getRound(ctx, s.db, id)
}

func (s *PostgresStore) GetRoundCampaign(ctx context.Context, roundID, campaignID int64) (*models.RoundCampaign, error) {
	return s.queries.getRoundCampaign(ctx, s.db, roundID, campaignID)
}

func (s *PostgresStore) ListCampaignsByStatus(ctx context.Context, statuses ...models.CampaignStatus) ([]*models.Campaign, error) {
	return s.queries.listCampaignsByStatus(ctx, s.db, statuses)
}

func (s *PostgresStore) ListRounds(ctx context.Context) ([]*models.Round, error) {
	return s.queries.listRounds(ctx, s.db)
}

func (s *PostgresStore) ListRecipients(ctx context.Context, roundID int64) ([]*models.RoundCampaign, error) {
	return s.queries.listRecipients(ctx, s.db, roundID)
}

func (s *PostgresStore) ListConfirmedPayments(ctx context.Context, campaignID int64, from, to time.Time) ([]*models.Payment, error) {
	return s.queries.listConfirmedPayments(ctx, s.db, campaignID, from, to)
}

func (s *PostgresStore) SaveQuarantinedEvent(ctx context.Context, event *models.QuarantinedEvent) error {
	return s.queries.saveQuarantinedEvent(ctx, s.db, event)
}

func (s *PostgresStore) ListQuarantinedEvents(ctx context.Context, limit int) ([]*models.QuarantinedEvent, error) {
	return s.queries.listQuarantinedEvents(ctx, s.db, limit)
}

func (s *PostgresStore) ListIntegrityFlags(ctx context.Context, unresolvedOnly bool) ([]*models.IntegrityFlag, error) {
	return s.queries.listIntegrityFlags(ctx, s.db, unresolvedOnly)
}

func (s *PostgresStore) GetStats(ctx context.Context) (*Stats, error) {
	return s.queries.getStats(ctx, s.db)
}
