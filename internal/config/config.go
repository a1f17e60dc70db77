// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Sweep     SweepConfig     `mapstructure:"sweep"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// FeedConfig contains chain event feed configuration. The indexer
// delivers confirmed events at least once, ordered per chain.
type FeedConfig struct {
	Endpoint       string        `mapstructure:"endpoint"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
}

// LedgerConfig contains ledger database configuration
type LedgerConfig struct {
	Type             string        `mapstructure:"type"` // sqlite, postgres
	ConnectionString string        `mapstructure:"connection_string"`
	MaxConnections   int           `mapstructure:"max_connections"`
	MaxIdleTime      time.Duration `mapstructure:"max_idle_time"`
	TxTimeout        time.Duration `mapstructure:"tx_timeout"`
}

// IngestConfig contains event ingestion configuration
type IngestConfig struct {
	DedupeCacheSize int `mapstructure:"dedupe_cache_size"`
}

// ReconcileConfig contains reconciliation engine configuration
type ReconcileConfig struct {
	Workers        int           `mapstructure:"workers"`
	QueueSize      int           `mapstructure:"queue_size"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay  time.Duration `mapstructure:"retry_max_delay"`
}

// SweepConfig contains campaign status sweep configuration
type SweepConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port          int           `mapstructure:"port"`
	Host          string        `mapstructure:"host"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	EnableMetrics bool          `mapstructure:"enable_metrics"`
	EnableHealth  bool          `mapstructure:"enable_health"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
	Output string `mapstructure:"output"` // stdout, file
	File   string `mapstructure:"file"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}

	viper.SetEnvPrefix("RECONCILER")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("Config file not found, using defaults and environment variables")
		} else {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Ledger.ConnectionString = dbURL
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// App defaults
	viper.SetDefault("app.name", "round-reconciler")
	viper.SetDefault("app.version", "1.0.0")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.debug", false)

	// Feed defaults
	viper.SetDefault("feed.endpoint", "")
	viper.SetDefault("feed.request_timeout", "30s")
	viper.SetDefault("feed.retry_attempts", 3)
	viper.SetDefault("feed.retry_delay", "5s")

	// Ledger defaults
	viper.SetDefault("ledger.type", "sqlite")
	viper.SetDefault("ledger.connection_string", "./data/ledger.db")
	viper.SetDefault("ledger.max_connections", 25)
	viper.SetDefault("ledger.max_idle_time", "15m")
	viper.SetDefault("ledger.tx_timeout", "30s")

	// Ingest defaults
	viper.SetDefault("ingest.dedupe_cache_size", 10000)

	// Reconcile defaults
	viper.SetDefault("reconcile.workers", 4)
	viper.SetDefault("reconcile.queue_size", 1000)
	viper.SetDefault("reconcile.max_retries", 5)
	viper.SetDefault("reconcile.retry_base_delay", "50ms")
	viper.SetDefault("reconcile.retry_max_delay", "5s")

	// Sweep defaults
	viper.SetDefault("sweep.enabled", true)
	viper.SetDefault("sweep.interval", "1m")

	// Server defaults
	viper.SetDefault("server.port", 8081)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", "10s")
	viper.SetDefault("server.write_timeout", "10s")
	viper.SetDefault("server.enable_metrics", true)
	viper.SetDefault("server.enable_health", true)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Ledger.ConnectionString == "" {
		return fmt.Errorf("ledger connection string is required")
	}
	switch c.Ledger.Type {
	case "sqlite", "postgres", "postgresql":
	default:
		return fmt.Errorf("unsupported ledger type %q", c.Ledger.Type)
	}
	if c.Reconcile.Workers <= 0 {
		return fmt.Errorf("reconcile workers must be positive")
	}
	if c.Reconcile.MaxRetries <= 0 {
		return fmt.Errorf("reconcile max retries must be positive")
	}
	if c.Sweep.Enabled && c.Sweep.Interval <= 0 {
		return fmt.Errorf("sweep interval must be positive")
	}
	return nil
}
