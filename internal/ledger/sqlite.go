// File: internal/ledger/sqlite.go
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/quadfund/reconciler/internal/models"
	"github.com/quadfund/reconciler/pkg/utils"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db         *sql.DB
	config     *Config
	logger     *logrus.Logger
	queries    queries
	migrations []*Migration
}

// NewSQLiteStore creates a new SQLite ledger instance
func NewSQLiteStore(config *Config) *SQLiteStore {
	return &SQLiteStore{
		config:     config,
		logger:     utils.GetLogger(),
		queries:    queries{dollarBind: false},
		migrations: GetSQLiteMigrations(),
	}
}

// Connect establishes the database connection
func (s *SQLiteStore) Connect() error {
	dir := filepath.Dir(s.config.ConnectionString)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create database directory", err.Error())
		}
	}

	db, err := sql.Open("sqlite", s.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open SQLite database", err.Error())
	}

	db.SetMaxOpenConns(s.config.MaxConnections)
	db.SetMaxIdleConns(s.config.MaxConnections / 2)
	db.SetConnMaxLifetime(s.config.MaxIdleTime)

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to enable WAL mode", err.Error())
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to enable foreign keys", err.Error())
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to set busy timeout", err.Error())
	}

	s.db = db
	s.logger.WithField("path", s.config.ConnectionString).Info("SQLite ledger connected")
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		s.logger.Info("SQLite ledger connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (s *SQLiteStore) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Ledger not connected")
	}
	return s.db.Ping()
}

// Migrate runs database migrations
func (s *SQLiteStore) Migrate() error {
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
func (s *SQLiteStore) BeginTx(ctx context.Context) (Tx, error) {
	if s.db == nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Ledger not connected")
	}

	txCtx := ctx
	var cancel context.CancelFunc
	if s.config.TxTimeout > 0 {
		txCtx, cancel = context.WithTimeout(ctx, s.config.TxTimeout)
	}

	tx, err := s.db.BeginTx(txCtx, nil)
	if err != nil {
		if cancel != nil {
			cancel()
		}
		return nil, utils.NewAppError(utils.ErrCodeTransientIO, "Failed to begin transaction", err.Error())
	}
	return &sqlTx{tx: tx, queries: s.queries, cancel: cancel}, nil
}

func (s *SQLiteStore) GetCampaign(ctx context.Context, id int64) (*models.Campaign, error) {
	return s.queries.getCampaign(ctx, s.db, id)
}

func (s *SQLiteStore) GetCampaignBySlug(ctx context.Context, slug string) (*models.Campaign, error) {
	return s.queries.getCampaignBySlug(ctx, s.db, slug)
}

func (s *SQLiteStore) GetRound(ctx context.Context, id int64) (*models.Round, error) {
	return s.queries.getRound(ctx, s.db, id)
}

func (s *SQLiteStore) GetRoundCampaign(ctx context.Context, roundID, campaignID int64) (*models.RoundCampaign, error) {
	return s.queries.getRoundCampaign(ctx, s.db, roundID, campaignID)
}

func (s *SQLiteStore) ListCampaignsByStatus(ctx context.Context, statuses ...models.CampaignStatus) ([]*models.Campaign, error) {
	return s.queries.listCampaignsByStatus(ctx, s.db, statuses)
}

func (s *SQLiteStore) ListRounds(ctx context.Context) ([]*models.Round, error) {
	return s.queries.listRounds(ctx, s.db)
}

func (s *SQLiteStore) ListRecipients(ctx context.Context, roundID int64) ([]*models.RoundCampaign, error) {
	return s.queries.listRecipients(ctx, s.db, roundID)
}

func (s *SQLiteStore) ListConfirmedPayments(ctx context.Context, campaignID int64, from, to time.Time) ([]*models.Payment, error) {
	return s.queries.listConfirmedPayments(ctx, s.db, campaignID, from, to)
}

func (s *SQLiteStore) SaveQuarantinedEvent(ctx context.Context, event *models.QuarantinedEvent) error {
	return s.queries.saveQuarantinedEvent(ctx, s.db, event)
}

func (s *SQLiteStore) ListQuarantinedEvents(ctx context.Context, limit int) ([]*models.QuarantinedEvent, error) {
	return s.queries.listQuarantinedEvents(ctx, s.db, limit)
}

func (s *SQLiteStore) ListIntegrityFlags(ctx context.Context, unresolvedOnly bool) ([]*models.IntegrityFlag, error) {
	return s.queries.listIntegrityFlags(ctx, s.db, unresolvedOnly)
}

func (s *SQLiteStore) GetStats(ctx context.Context) (*Stats, error) {
	return s.queries.getStats(ctx, s.db)
}
