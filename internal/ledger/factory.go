// File: internal/ledger/factory.go
package ledger

import (
	"strings"

	"github.com/quadfund/reconciler/pkg/utils"
)

// NewStore creates a ledger store based on configuration
func NewStore(cfg *Config) (Store, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	switch strings.ToLower(cfg.Type) {
	case "sqlite":
		return NewSQLiteStore(cfg), nil
	case "postgres", "postgresql":
		return NewPostgresStore(cfg), nil
	default:
		return nil, utils.NewAppError(utils.ErrCodeConfiguration,
			"Unsupported ledger type", cfg.Type)
	}
}

// ValidateConfig validates ledger configuration
func ValidateConfig(cfg *Config) error {
	if cfg.Type == "" {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Ledger type is required")
	}
	if cfg.ConnectionString == "" {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Ledger connection string is required")
	}
	if cfg.MaxConnections <= 0 {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Max connections must be positive")
	}

	switch strings.ToLower(cfg.Type) {
	case "sqlite", "postgres", "postgresql":
		return nil
	}
	return utils.NewAppError(utils.ErrCodeConfiguration,
		"Unsupported ledger type", "Supported types: sqlite, postgres")
}
