// Package api provides HTTP API functionality for the go-p1 logger.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/resident-x/go-p1/internal/config"
	"github.com/resident-x/go-p1/internal/domain"
	"github.com/resident-x/go-p1/internal/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 1000
	apiPrefix           = "/api/v1"
)

// Server represents the HTTP API server that exposes the meter state.
type Server struct {
	config    *config.Config
	server    *http.Server
	router    *mux.Router
	registry  domain.Registry
	store     domain.TelegramStore
	sessions  *session.SessionManager
	metrics   http.Handler
	version   string
	logger    zerolog.Logger
	startTime time.Time
}

// Option configures optional collaborators of the server.
type Option func(*Server)

// WithStore enables the history endpoint.
func WithStore(store domain.TelegramStore) Option {
	return func(s *Server) { s.store = store }
}

// WithSessions enables the link session endpoint.
func WithSessions(sessions *session.SessionManager) Option {
	return func(s *Server) { s.sessions = sessions }
}

// WithMetricsHandler mounts a Prometheus handler at /metrics.
func WithMetricsHandler(handler http.Handler) Option {
	return func(s *Server) { s.metrics = handler }
}

// WithVersion sets the version reported by the status endpoint.
func WithVersion(version string) Option {
	return func(s *Server) { s.version = version }
}

// NewServer creates a new HTTP API server.
func NewServer(cfg *config.Config, registry domain.Registry, opts ...Option) *Server {
	apiServer := &Server{
		config:    cfg,
		router:    mux.NewRouter(),
		registry:  registry,
		version:   "dev",
		logger:    log.With().Str("component", "api").Logger(),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(apiServer)
	}

	apiServer.setupRoutes()

	return apiServer
}

// GetRouter returns the router, for embedding and tests.
func (s *Server) GetRouter() http.Handler {
	return s.router
}

// setupRoutes configures all API endpoint handlers.
func (s *Server) setupRoutes() {
	s.router.HandleFunc(apiPrefix+"/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc(apiPrefix+"/telegram", s.handleLatestTelegram).Methods(http.MethodGet)
	s.router.HandleFunc(apiPrefix+"/telegrams", s.handleTelegramHistory).Methods(http.MethodGet)
	s.router.HandleFunc(apiPrefix+"/sessions", s.handleListSessions).Methods(http.MethodGet)

	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}
}

// Start begins listening for HTTP requests.
func (s *Server) Start(_ context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.API.Host, s.config.API.Port)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.logger.Info().
			Str("host", s.config.API.Host).
			Int("port", s.config.API.Port).
			Bool("metrics", s.metrics != nil).
			Msg("Starting HTTP API server")

		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping HTTP API server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if s.server != nil {
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown error: %w", err)
		}
	}

	return nil
}

// handleStatus returns link state and telegram counters.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	meter := s.registry.Status()

	status := map[string]interface{}{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
		"meter":   meter,
		"storage": s.store != nil,
	}
	if !meter.Connected {
		status["status"] = "disconnected"
	}

	s.writeJSON(w, status, http.StatusOK)
}

// handleLatestTelegram returns the most recent telegram carrying measurements.
func (s *Server) handleLatestTelegram(w http.ResponseWriter, _ *http.Request) {
	telegram, found := s.registry.Latest()
	if !found {
		s.writeError(w, "No telegram received yet", http.StatusNotFound)
		return
	}

	s.writeJSON(w, telegramResponse(telegram), http.StatusOK)
}

// handleTelegramHistory returns stored telegrams, newest first.
func (s *Server) handleTelegramHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, "Telegram history is disabled", http.StatusServiceUnavailable)
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	telegrams, err := s.store.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Int("limit", limit).Msg("Failed to load telegram history")
		s.writeError(w, "Failed to load telegram history", http.StatusInternalServerError)
		return
	}

	result := make([]map[string]interface{}, 0, len(telegrams))
	for _, telegram := range telegrams {
		result = append(result, telegram.Fields())
	}

	s.writeJSON(w, map[string]interface{}{
		"device":    s.config.Device.ID,
		"telegrams": result,
		"count":     len(result),
	}, http.StatusOK)
}

// handleListSessions returns the open link session and the recently ended ones.
func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	if s.sessions == nil {
		s.writeError(w, "Session tracking is disabled", http.StatusServiceUnavailable)
		return
	}

	sessions := s.sessions.GetAllSessions()
	s.writeJSON(w, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	}, http.StatusOK)
}

type measurementView struct {
	Quantity domain.Quantity `json:"quantity"`
	Unit     domain.Unit     `json:"unit,omitempty"`
	Value    *string         `json:"value"`
	Raw      uint64          `json:"raw"`
	Present  bool            `json:"present"`
}

// telegramResponse renders the flattened fields plus the exact decimal values.
func telegramResponse(telegram *domain.Telegram) map[string]interface{} {
	measurements := make([]measurementView, 0, len(telegram.Measurements))
	for _, m := range telegram.Measurements {
		view := measurementView{Quantity: m.Quantity, Unit: m.Unit, Raw: m.Raw, Present: m.Present}
		if m.Present {
			value := m.Decimal()
			view.Value = &value
		}
		measurements = append(measurements, view)
	}

	return map[string]interface{}{
		"telegram":     telegram.Fields(),
		"measurements": measurements,
	}
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResponse := map[string]string{"error": message}
	if err := json.NewEncoder(w).Encode(errorResponse); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode error response")
	}
}
