// File: cmd/reconciler/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/quadfund/reconciler/internal/config"
	"github.com/quadfund/reconciler/internal/ingest"
	"github.com/quadfund/reconciler/internal/ledger"
	"github.com/quadfund/reconciler/internal/matching"
	"github.com/quadfund/reconciler/internal/metrics"
	"github.com/quadfund/reconciler/internal/reconcile"
	"github.com/quadfund/reconciler/internal/server"
	"github.com/quadfund/reconciler/internal/sweep"
	"github.com/quadfund/reconciler/pkg/utils"
)

// AppVersion contains the application version
const AppVersion = "1.0.0"

// Application represents the main application
type Application struct {
	config     *config.Config
	logger     *logrus.Logger
	store      ledger.Store
	metrics    *metrics.Manager
	engine     *reconcile.Engine
	ingestor   *ingest.Ingestor
	calculator *matching.Calculator
	sweeper    *sweep.Sweeper
	server     *server.HTTPServer
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewApplication creates a new application instance
func NewApplication(cfg *config.Config) (*Application, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &Application{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if err := app.initializeLogger(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := app.initializeComponents(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return app, nil
}

// initializeLogger initializes the application logger
func (app *Application) initializeLogger() error {
	logCfg := app.config.Logging

	if err := utils.InitLogger(logCfg.Level, logCfg.Format, logCfg.Output, logCfg.File); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	app.logger = utils.GetLogger()
	app.logger.WithFields(logrus.Fields{
		"level":  logCfg.Level,
		"format": logCfg.Format,
		"output": logCfg.Output,
	}).Info("Logger initialized")

	return nil
}

// initializeComponents initializes all application components
func (app *Application) initializeComponents() error {
	app.logger.Info("Initializing application components")

	if err := app.initializeLedger(); err != nil {
		return fmt.Errorf("failed to initialize ledger: %w", err)
	}

	app.metrics = metrics.NewManager()

	if err := app.initializeEngine(); err != nil {
		return fmt.Errorf("failed to initialize reconciliation engine: %w", err)
	}

	app.initializeIngestor()
	app.calculator = matching.NewCalculator(app.store)

	if err := app.initializeSweeper(); err != nil {
		return fmt.Errorf("failed to initialize sweeper: %w", err)
	}

	if err := app.initializeServer(); err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	app.logger.Info("All components initialized successfully")
	return nil
}

// initializeLedger initializes the ledger database
func (app *Application) initializeLedger() error {
	app.logger.Info("Initializing ledger store")

	ledgerCfg := &ledger.Config{
		Type:             app.config.Ledger.Type,
		ConnectionString: app.config.Ledger.ConnectionString,
		MaxConnections:   app.config.Ledger.MaxConnections,
		MaxIdleTime:      app.config.Ledger.MaxIdleTime,
		TxTimeout:        app.config.Ledger.TxTimeout,
	}

	var err error
	app.store, err = ledger.NewStore(ledgerCfg)
	if err != nil {
		return fmt.Errorf("failed to create ledger store: %w", err)
	}

	if err := app.store.Connect(); err != nil {
		return fmt.Errorf("failed to connect to ledger: %w", err)
	}

	if err := app.store.Migrate(); err != nil {
		return fmt.Errorf("failed to run ledger migrations: %w", err)
	}

	app.logger.Info("Ledger store initialized successfully")
	return nil
}

// initializeEngine initializes the reconciliation engine
func (app *Application) initializeEngine() error {
	app.logger.Info("Initializing reconciliation engine")

	engineCfg := &reconcile.Config{
		Workers:        app.config.Reconcile.Workers,
		QueueSize:      app.config.Reconcile.QueueSize,
		MaxRetries:     app.config.Reconcile.MaxRetries,
		RetryBaseDelay: app.config.Reconcile.RetryBaseDelay,
		RetryMaxDelay:  app.config.Reconcile.RetryMaxDelay,
	}

	app.engine = reconcile.NewEngine(engineCfg, app.store, app.metrics.GetPrometheusMetrics())

	app.logger.Info("Reconciliation engine initialized successfully")
	return nil
}

// initializeIngestor initializes the event ingestor
func (app *Application) initializeIngestor() {
	ingestCfg := &ingest.Config{
		DedupeCacheSize: app.config.Ingest.DedupeCacheSize,
	}

	app.ingestor = ingest.NewIngestor(ingestCfg, app.store, app.engine, app.metrics.GetPrometheusMetrics())
}

// initializeSweeper initializes the campaign status sweeper
func (app *Application) initializeSweeper() error {
	sweepCfg := &sweep.Config{
		Enabled:  app.config.Sweep.Enabled,
		Interval: app.config.Sweep.Interval,
	}

	app.sweeper = sweep.NewSweeper(sweepCfg, app.store, app.metrics.GetPrometheusMetrics())
	return nil
}

// initializeServer initializes the HTTP server
func (app *Application) initializeServer() error {
	app.logger.Info("Initializing HTTP server")

	serverCfg := &server.ServerConfig{
		Port:          app.config.Server.Port,
		Host:          app.config.Server.Host,
		ReadTimeout:   app.config.Server.ReadTimeout,
		WriteTimeout:  app.config.Server.WriteTimeout,
		EnableMetrics: app.config.Server.EnableMetrics,
		EnableHealth:  app.config.Server.EnableHealth,
	}

	var err error
	app.server, err = server.NewHTTPServer(serverCfg, app.store, app.engine, app.ingestor, app.calculator, app.metrics)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	app.logger.Info("HTTP server initialized successfully")
	return nil
}

// Start starts the application
func (app *Application) Start() error {
	app.logger.WithFields(logrus.Fields{
		"version":     AppVersion,
		"environment": app.config.App.Environment,
	}).Info("Starting Round Reconciler")

	if err := app.engine.Start(); err != nil {
		return fmt.Errorf("failed to start reconciliation engine: %w", err)
	}

	if err := app.sweeper.Start(); err != nil {
		return fmt.Errorf("failed to start sweeper: %w", err)
	}

	if err := app.server.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	app.logger.WithFields(logrus.Fields{
		"server_address": fmt.Sprintf("%s:%d", app.config.Server.Host, app.config.Server.Port),
		"ledger":         app.config.Ledger.Type,
		"workers":        app.config.Reconcile.Workers,
	}).Info("Round Reconciler started successfully")

	return nil
}

// Stop stops the application gracefully. The server stops first so no
// new commands arrive, then the engine drains its queues before the
// ledger closes.
func (app *Application) Stop() error {
	app.logger.Info("Stopping Round Reconciler")

	app.cancel()

	if app.server != nil {
		if err := app.server.Stop(); err != nil {
			app.logger.WithError(err).Error("Failed to stop HTTP server")
		}
	}

	if app.sweeper != nil {
		if err := app.sweeper.Stop(); err != nil {
			app.logger.WithError(err).Error("Failed to stop sweeper")
		}
	}

	if app.engine != nil {
		if err := app.engine.Stop(); err != nil {
			app.logger.WithError(err).Error("Failed to stop reconciliation engine")
		}
	}

	if app.store != nil {
		if err := app.store.Close(); err != nil {
			app.logger.WithError(err).Error("Failed to close ledger store")
		}
	}

	app.logger.Info("Round Reconciler stopped successfully")
	return nil
}

// CLI Commands

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "round-reconciler",
	Short:   "Round reconciliation and recipient lifecycle engine",
	Long:    `Reconciles confirmed on-chain events against the off-chain relational ledger for quadratic funding rounds: contributions, recipient reviews, campaign registrations and matching pool confirmations.`,
	Version: AppVersion,
	RunE:    runReconciler,
}

// runReconciler is the main command to run the reconciler
func runReconciler(cmd *cobra.Command, args []string) error {
	configPath := viper.GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	app, err := NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	if err := app.Start(); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}

	<-signalChan
	fmt.Println("\nReceived shutdown signal, stopping application...")

	if err := app.Stop(); err != nil {
		return fmt.Errorf("failed to stop application: %w", err)
	}

	return nil
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Round Reconciler %s\n", AppVersion)
	},
}

// migrateCmd runs the ledger schema migrations and exits
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run ledger schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := viper.GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		store, err := ledger.NewStore(&ledger.Config{
			Type:             cfg.Ledger.Type,
			ConnectionString: cfg.Ledger.ConnectionString,
			MaxConnections:   cfg.Ledger.MaxConnections,
			MaxIdleTime:      cfg.Ledger.MaxIdleTime,
			TxTimeout:        cfg.Ledger.TxTimeout,
		})
		if err != nil {
			return fmt.Errorf("failed to create ledger store: %w", err)
		}
		if err := store.Connect(); err != nil {
			return fmt.Errorf("failed to connect to ledger: %w", err)
		}
		defer store.Close()

		if err := store.Migrate(); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}

		fmt.Printf("Migrations applied (%s)\n", cfg.Ledger.Type)
		return nil
	},
}

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

// validateConfigCmd validates the configuration
var validateConfigCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := viper.GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		fmt.Printf("Configuration is valid!\n")
		fmt.Printf("Environment: %s\n", cfg.App.Environment)
		fmt.Printf("Ledger: %s\n", cfg.Ledger.Type)
		fmt.Printf("Workers: %d\n", cfg.Reconcile.Workers)
		fmt.Printf("Sweep interval: %s\n", cfg.Sweep.Interval)

		return nil
	},
}

// init initializes the CLI commands
func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug mode")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(validateConfigCmd)
}

// main is the entry point
func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
