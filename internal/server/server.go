// File: internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/quadfund/reconciler/internal/ingest"
	"github.com/quadfund/reconciler/internal/ledger"
	"github.com/quadfund/reconciler/internal/matching"
	"github.com/quadfund/reconciler/internal/metrics"
	"github.com/quadfund/reconciler/internal/models"
	"github.com/quadfund/reconciler/internal/reconcile"
	"github.com/quadfund/reconciler/pkg/utils"
)

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port          int           `json:"port" mapstructure:"port"`
	Host          string        `json:"host" mapstructure:"host"`
	ReadTimeout   time.Duration `json:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `json:"write_timeout" mapstructure:"write_timeout"`
	EnableMetrics bool          `json:"enable_metrics" mapstructure:"enable_metrics"`
	EnableHealth  bool          `json:"enable_health" mapstructure:"enable_health"`
}

// HTTPServer serves the reconciler's read path and admin commands.
// Reads are last-known-committed snapshots; callers tolerate
// ingestion lag.
type HTTPServer struct {
	config         *ServerConfig
	server         *http.Server
	router         *mux.Router
	store          ledger.Store
	engine         *reconcile.Engine
	ingestor       *ingest.Ingestor
	calculator     *matching.Calculator
	metricsManager *metrics.Manager
	logger         *logrus.Logger
}

// NewHTTPServer creates a new HTTP server
func NewHTTPServer(
	config *ServerConfig,
	store ledger.Store,
	engine *reconcile.Engine,
	ingestor *ingest.Ingestor,
	calculator *matching.Calculator,
	metricsManager *metrics.Manager,
) (*HTTPServer, error) {

	server := &HTTPServer{
		config:         config,
		store:          store,
		engine:         engine,
		ingestor:       ingestor,
		calculator:     calculator,
		metricsManager: metricsManager,
		logger:         utils.GetLogger(),
	}

	server.setupRouter()

	server.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      server.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return server, nil
}

// setupRouter sets up the HTTP routes
func (s *HTTPServer) setupRouter() {
	s.router = mux.NewRouter()

	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
	if s.metricsManager != nil {
		s.router.Use(s.metricsMiddleware)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()

	if s.config.EnableHealth {
		api.HandleFunc("/health", s.healthHandler).Methods("GET")
		api.HandleFunc("/health/detailed", s.detailedHealthHandler).Methods("GET")
	}

	if s.config.EnableMetrics {
		s.router.Handle("/metrics", promhttp.Handler())
		api.HandleFunc("/stats", s.statsHandler).Methods("GET")
	}

	// Campaign endpoints
	api.HandleFunc("/campaigns", s.listCampaignsHandler).Methods("GET")
	api.HandleFunc("/campaigns/{id}", s.getCampaignHandler).Methods("GET")
	api.HandleFunc("/campaigns/{id}/submit", s.submitCampaignHandler).Methods("POST")
	api.HandleFunc("/campaigns/{id}/approve", s.approveCampaignHandler).Methods("POST")

	// Round endpoints
	api.HandleFunc("/rounds", s.listRoundsHandler).Methods("GET")
	api.HandleFunc("/rounds/{id}", s.getRoundHandler).Methods("GET")
	api.HandleFunc("/rounds/{id}/recipients", s.listRecipientsHandler).Methods("GET")
	api.HandleFunc("/rounds/{id}/matching", s.matchingPreviewHandler).Methods("GET")

	// Feed intake: the chain indexer POSTs confirmed events here
	if s.ingestor != nil {
		api.HandleFunc("/events", s.ingestEventHandler).Methods("POST")
	}

	// Operator surface
	api.HandleFunc("/quarantine", s.listQuarantineHandler).Methods("GET")
	api.HandleFunc("/flags", s.listFlagsHandler).Methods("GET")
}

// Start starts the HTTP server
func (s *HTTPServer) Start() error {
	s.logger.WithFields(logrus.Fields{
		"address":         s.server.Addr,
		"metrics_enabled": s.config.EnableMetrics,
	}).Info("Starting HTTP server")

	if s.metricsManager != nil {
		s.metricsManager.UpdateSystemMetrics()
		go s.systemMetricsUpdater()
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server error")
			errChan <- err
		}
	}()

	// Catch immediate binding errors
	select {
	case err := <-errChan:
		return fmt.Errorf("failed to start HTTP server: %w", err)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// systemMetricsUpdater updates system metrics periodically
func (s *HTTPServer) systemMetricsUpdater() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		s.metricsManager.UpdateSystemMetrics()
		prom := s.metricsManager.GetPrometheusMetrics()
		prom.UpdateComponentHealth("ledger", s.store.Ping() == nil)
		if s.engine != nil {
			prom.UpdateComponentHealth("engine", s.engine.IsRunning())
		}
	}
}

// Stop stops the HTTP server
func (s *HTTPServer) Stop() error {
	s.logger.Info("Stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// Health handlers

func (s *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *HTTPServer) detailedHealthHandler(w http.ResponseWriter, r *http.Request) {
	ledgerHealthy := s.store.Ping() == nil
	engineRunning := s.engine != nil && s.engine.IsRunning()

	status := http.StatusOK
	overall := "healthy"
	if !ledgerHealthy || !engineRunning {
		status = http.StatusServiceUnavailable
		overall = "unhealthy"
	}

	s.writeJSON(w, status, map[string]interface{}{
		"status":    overall,
		"timestamp": time.Now().UTC(),
		"components": map[string]interface{}{
			"ledger": ledgerHealthy,
			"engine": engineRunning,
		},
	})
}

func (s *HTTPServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	ledgerStats, err := s.store.GetStats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve ledger stats", err)
		return
	}

	stats := map[string]interface{}{
		"timestamp": time.Now().UTC(),
		"ledger":    ledgerStats,
	}
	if s.engine != nil {
		stats["engine"] = s.engine.GetStats()
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// Campaign handlers

func (s *HTTPServer) listCampaignsHandler(w http.ResponseWriter, r *http.Request) {
	statuses := []models.CampaignStatus{
		models.CampaignStatusDraft,
		models.CampaignStatusPendingApproval,
		models.CampaignStatusActive,
		models.CampaignStatusCompleted,
		models.CampaignStatusFailed,
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := models.CampaignStatus(raw)
		if !status.Valid() {
			s.writeError(w, http.StatusBadRequest, "Unknown campaign status", nil)
			return
		}
		statuses = []models.CampaignStatus{status}
	}

	campaigns, err := s.store.ListCampaignsByStatus(r.Context(), statuses...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to list campaigns", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"campaigns": campaigns,
		"total":     len(campaigns),
	})
}

func (s *HTTPServer) getCampaignHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	campaign, err := s.store.GetCampaign(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to get campaign", err)
		return
	}
	if campaign == nil {
		s.writeError(w, http.StatusNotFound, "Campaign not found", nil)
		return
	}
	s.writeJSON(w, http.StatusOK, campaign)
}

func (s *HTTPServer) submitCampaignHandler(w http.ResponseWriter, r *http.Request) {
	s.adminCommand(w, r, models.CommandSubmitCampaign)
}

func (s *HTTPServer) approveCampaignHandler(w http.ResponseWriter, r *http.Request) {
	s.adminCommand(w, r, models.CommandApproveCampaign)
}

// adminCommand feeds an administrative action through the same
// reconciliation path as on-chain events
func (s *HTTPServer) adminCommand(w http.ResponseWriter, r *http.Request, cmdType models.CommandType) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if s.engine == nil || !s.engine.IsRunning() {
		s.writeError(w, http.StatusServiceUnavailable, "Reconciliation engine not running", nil)
		return
	}

	campaign, err := s.store.GetCampaign(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to get campaign", err)
		return
	}
	if campaign == nil {
		s.writeError(w, http.StatusNotFound, "Campaign not found", nil)
		return
	}

	cmd := &models.Command{
		ID:         uuid.New().String(),
		Type:       cmdType,
		CampaignID: id,
		Timestamp:  time.Now().UTC(),
	}
	if err := s.engine.Enqueue(r.Context(), cmd); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "Failed to enqueue command", err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"command_id": cmd.ID,
		"type":       cmd.Type,
	})
}

// ingestEventHandler accepts a confirmed feed event. 202 acknowledges
// the event (including duplicates and quarantined events); 503 tells
// the feed to redeliver.
func (s *HTTPServer) ingestEventHandler(w http.ResponseWriter, r *http.Request) {
	var event models.ChainEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid event body", err)
		return
	}
	if event.TxHash == "" {
		s.writeError(w, http.StatusBadRequest, "Missing tx_hash", nil)
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if err := s.ingestor.Ingest(r.Context(), &event); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "Failed to ingest event", err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"tx_hash":   event.TxHash,
		"log_index": event.LogIndex,
	})
}

// Round handlers

func (s *HTTPServer) listRoundsHandler(w http.ResponseWriter, r *http.Request) {
	rounds, err := s.store.ListRounds(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to list rounds", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"rounds": rounds,
		"total":  len(rounds),
	})
}

func (s *HTTPServer) getRoundHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	round, err := s.loadRound(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to get round", err)
		return
	}
	if round == nil {
		s.writeError(w, http.StatusNotFound, "Round not found", nil)
		return
	}
	s.writeJSON(w, http.StatusOK, round)
}

func (s *HTTPServer) listRecipientsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	recipients, err := s.store.ListRecipients(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to list recipients", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"round_id":   id,
		"recipients": recipients,
		"total":      len(recipients),
	})
}

// matchingPreviewHandler computes the matching distribution for a
// round. A round with unresolved integrity problems returns 409: the
// numbers would be meaningless until an operator resolves the flags.
func (s *HTTPServer) matchingPreviewHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	dist, err := s.calculator.CalculateDistribution(r.Context(), id)
	if err != nil {
		switch {
		case utils.HasCode(err, utils.ErrCodeNotFound):
			s.writeError(w, http.StatusNotFound, "Round not found", nil)
		case utils.HasCode(err, utils.ErrCodeNeedsAttention):
			s.writeError(w, http.StatusConflict, "Round needs operator attention", err)
		default:
			s.writeError(w, http.StatusInternalServerError, "Failed to calculate matching", err)
		}
		return
	}
	s.writeJSON(w, http.StatusOK, dist)
}

// Operator surface

func (s *HTTPServer) listQuarantineHandler(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if l, err := strconv.Atoi(raw); err == nil && l > 0 {
			limit = l
		}
	}

	events, err := s.store.ListQuarantinedEvents(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to list quarantined events", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"total":  len(events),
	})
}

func (s *HTTPServer) listFlagsHandler(w http.ResponseWriter, r *http.Request) {
	unresolvedOnly := r.URL.Query().Get("all") != "true"

	flags, err := s.store.ListIntegrityFlags(r.Context(), unresolvedOnly)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to list integrity flags", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"flags": flags,
		"total": len(flags),
	})
}

// loadRound fetches a round and overlays needs_attention from any
// unresolved integrity flags referencing it
func (s *HTTPServer) loadRound(ctx context.Context, id int64) (*models.Round, error) {
	round, err := s.store.GetRound(ctx, id)
	if err != nil || round == nil {
		return round, err
	}
	if round.NeedsAttention {
		return round, nil
	}

	flags, err := s.store.ListIntegrityFlags(ctx, true)
	if err != nil {
		return nil, err
	}
	for _, f := range flags {
		if f.RoundID != nil && *f.RoundID == id {
			round.NeedsAttention = true
			break
		}
	}
	return round, nil
}

// Middleware

// loggingMiddleware logs HTTP requests
func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		s.logger.WithFields(logrus.Fields{
			"method":    r.Method,
			"path":      r.URL.Path,
			"duration":  time.Since(start),
			"remote_ip": r.RemoteAddr,
		}).Debug("HTTP request")
	})
}

// corsMiddleware handles CORS
func (s *HTTPServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Utility methods

func (s *HTTPServer) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "Invalid id", nil)
		return 0, false
	}
	return id, true
}

// writeJSON writes a JSON response
func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

// writeError writes an error response
func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string, err error) {
	errorResponse := map[string]interface{}{
		"error":     message,
		"status":    status,
		"timestamp": time.Now().UTC(),
	}
	if err != nil {
		errorResponse["details"] = err.Error()
		s.logger.WithError(err).WithFields(logrus.Fields{
			"status":  status,
			"message": message,
		}).Error("HTTP error")
	}
	s.writeJSON(w, status, errorResponse)
}
