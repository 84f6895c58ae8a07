// Package service provides implementation of the core application server.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/resident-x/go-p1/internal/api"
	"github.com/resident-x/go-p1/internal/config"
	"github.com/resident-x/go-p1/internal/domain"
	"github.com/resident-x/go-p1/internal/metrics"
	"github.com/resident-x/go-p1/internal/protocol"
	"github.com/resident-x/go-p1/internal/serialport"
	"github.com/resident-x/go-p1/internal/session"
	"github.com/resident-x/go-p1/internal/validation"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	readBufferSize   = 256
	pruneInterval    = time.Hour
	closeReasonStop  = "shutdown"
	closeReasonIdle  = "idle timeout"
	closeReasonLimit = "consecutive failure limit"
)

// resetter is implemented by decoders that buffer stream bytes.
type resetter interface {
	Reset()
}

// Option configures optional collaborators of the server.
type Option func(*DataCollectionServer)

// WithOpener replaces the serial port opener, mainly for tests.
func WithOpener(opener serialport.Opener) Option {
	return func(s *DataCollectionServer) { s.opener = opener }
}

// WithStore keeps a history of telegrams.
func WithStore(store domain.TelegramStore) Option {
	return func(s *DataCollectionServer) { s.store = store }
}

// WithMetrics records Prometheus metrics; a non-nil handler is served by
// the API on /metrics.
func WithMetrics(m *metrics.AppMetrics, handler http.Handler) Option {
	return func(s *DataCollectionServer) {
		s.metrics = m
		if handler != nil {
			s.apiOptions = append(s.apiOptions, api.WithMetricsHandler(handler))
		}
	}
}

// WithVersion sets the version reported by the API.
func WithVersion(version string) Option {
	return func(s *DataCollectionServer) { s.apiOptions = append(s.apiOptions, api.WithVersion(version)) }
}

// DataCollectionServer reads the meter link, decodes telegrams and fans them
// out to the registry, history, publisher, monitoring service and metrics.
type DataCollectionServer struct {
	config     *config.Config
	options    serialport.PortOptions
	opener     serialport.Opener
	decoder    domain.FrameDecoder
	validator  *validation.SanityValidator
	publisher  domain.MessagePublisher
	monitoring domain.MonitoringService
	registry   *domain.MeterRegistry
	store      domain.TelegramStore
	metrics    *metrics.AppMetrics
	sessions   *session.SessionManager
	apiServer  *api.Server
	apiOptions []api.Option

	// previous is the last telegram that passed validation; only the read
	// loop touches it
	previous *domain.Telegram
	opened   int

	reconnectDelay time.Duration
	idleTimeout    time.Duration

	portMutex sync.Mutex
	port      serialport.Port

	done      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	logger    zerolog.Logger
	startTime time.Time
}

// NewDataCollectionServer creates a new data collection server instance.
func NewDataCollectionServer(cfg *config.Config, decoder domain.FrameDecoder,
	publisher domain.MessagePublisher, monitoring domain.MonitoringService, opts ...Option) (*DataCollectionServer, error) {
	logger := log.With().Str("component", "server").Logger()

	portOptions, err := serialport.OptionsFromConfig(cfg).Normalize()
	if err != nil {
		return nil, fmt.Errorf("invalid serial settings: %w", err)
	}

	level, err := validation.ParseValidationLevel(cfg.Decoder.ValidationLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid decoder settings: %w", err)
	}

	server := &DataCollectionServer{
		config:     cfg,
		options:    portOptions,
		opener:     serialport.Open,
		decoder:    decoder,
		validator:  validation.NewSanityValidator(level, log.Logger),
		publisher:  publisher,
		monitoring: monitoring,
		registry:   domain.NewMeterRegistry(cfg.Device.ID),
		sessions:   session.NewSessionManager(session.DefaultHistorySize),
		done:       make(chan struct{}),
		logger:     logger,

		reconnectDelay: cfg.ReconnectDelay(),
		idleTimeout:    cfg.IdleTimeout(),
	}
	for _, opt := range opts {
		opt(server)
	}

	if cfg.API.Enabled {
		apiOpts := append([]api.Option{api.WithSessions(server.sessions)}, server.apiOptions...)
		if server.store != nil {
			apiOpts = append(apiOpts, api.WithStore(server.store))
		}
		server.apiServer = api.NewServer(cfg, server.registry, apiOpts...)
	}

	return server, nil
}

// Registry returns the meter registry.
func (s *DataCollectionServer) Registry() *domain.MeterRegistry {
	return s.registry
}

// Sessions returns the link session manager.
func (s *DataCollectionServer) Sessions() *session.SessionManager {
	return s.sessions
}

// Start initializes and starts all server components.
func (s *DataCollectionServer) Start(ctx context.Context) error {
	s.startTime = time.Now()

	if s.apiServer != nil {
		if err := s.apiServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start API server: %w", err)
		}
	}

	s.wg.Add(1)
	go s.readLoop(ctx)

	if s.store != nil && s.config.Storage.RetentionDays > 0 {
		s.wg.Add(1)
		go s.maintenanceLoop(ctx)
	}

	s.logger.Info().
		Str("port", s.options.String()).
		Str("validation_level", s.validator.Level().String()).
		Msg("Server started")

	return nil
}

// Stop gracefully shuts down all server components.
func (s *DataCollectionServer) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping server")

	s.stopOnce.Do(func() { close(s.done) })
	s.closePort()

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
		s.logger.Warn().Msg("Timed out waiting for the read loop")
	}

	if s.apiServer != nil {
		if err := s.apiServer.Stop(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Failed to stop API server")
		}
	}

	s.sessions.Close()

	if err := s.publisher.Close(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to close message publisher")
	}

	if err := s.monitoring.Close(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to close monitoring service")
	}

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error().Err(err).Msg("Failed to close telegram store")
		}
	}

	return nil
}

func (s *DataCollectionServer) stopping(ctx context.Context) bool {
	select {
	case <-s.done:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// wait sleeps for d unless the server stops first.
func (s *DataCollectionServer) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// readLoop opens the link, serves it until it fails and reopens it after the
// reconnect delay.
func (s *DataCollectionServer) readLoop(ctx context.Context) {
	defer s.wg.Done()

	for !s.stopping(ctx) {
		port, err := s.opener(ctx, s.options)
		if err != nil {
			s.logger.Warn().
				Err(err).
				Str("device", s.options.Device).
				Dur("retry_in", s.reconnectDelay).
				Msg("Failed to open meter link")
			if !s.wait(ctx, s.reconnectDelay) {
				return
			}
			continue
		}

		reason := s.serve(ctx, port)
		s.closePort()
		s.sessions.EndSession(reason)
		s.registry.SetLink(s.options.Device, false)
		s.metrics.ObserveLink(false, false)

		if reason == closeReasonStop || !s.wait(ctx, s.reconnectDelay) {
			return
		}
		s.logger.Info().Str("device", s.options.Device).Msg("Reopening meter link")
	}
}

// serve reads one open link. It returns why the link was given up.
func (s *DataCollectionServer) serve(ctx context.Context, port serialport.Port) string {
	s.portMutex.Lock()
	s.port = port
	s.portMutex.Unlock()

	current := s.sessions.CreateSession(s.options.Device)
	s.registry.SetLink(s.options.Device, true)
	s.metrics.ObserveLink(true, s.opened > 0)
	s.opened++

	// Bytes of a previous link can never complete a frame of this one
	if r, ok := s.decoder.(resetter); ok {
		r.Reset()
	}

	s.logger.Info().
		Str("port", s.options.String()).
		Str("session_id", current.ID).
		Msg("Meter link opened")

	buf := make([]byte, readBufferSize)
	failures := 0
	maxFailures := s.config.Serial.MaxConsecutiveFailures

	for {
		if s.stopping(ctx) {
			return closeReasonStop
		}

		n, err := port.Read(buf)
		if err != nil {
			if s.stopping(ctx) {
				return closeReasonStop
			}
			s.logger.Warn().Err(err).Str("session_id", current.ID).Msg("Meter link read failed")
			return fmt.Sprintf("read error: %v", err)
		}

		if n == 0 {
			if current.IsExpired(s.idleTimeout) {
				s.logger.Warn().
					Dur("idle", current.IdleFor()).
					Str("session_id", current.ID).
					Msg("Meter link silent, reopening")
				return closeReasonIdle
			}
			continue
		}

		current.AddBytesReceived(int64(n))
		s.metrics.ObserveBytes(n)

		// Frames already read are handled before the link is reopened.
		reopen := false
		for _, result := range s.decoder.Push(buf[:n]) {
			if s.handleResult(ctx, current, result) {
				failures = 0
				continue
			}
			failures++
			if maxFailures > 0 && failures > maxFailures && !reopen {
				s.logger.Error().
					Int("failures", failures).
					Str("session_id", current.ID).
					Msg("Too many consecutive bad frames, reopening meter link")
				reopen = true
			}
		}
		if reopen {
			return closeReasonLimit
		}
	}
}

func (s *DataCollectionServer) closePort() {
	s.portMutex.Lock()
	defer s.portMutex.Unlock()

	if s.port == nil {
		return
	}
	if err := s.port.Close(); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to close meter link")
	}
	s.port = nil
}

// handleResult processes one decode result. It reports whether the frame was
// good: a telegram that passed CRC and sanity checks, device errors included.
func (s *DataCollectionServer) handleResult(ctx context.Context, current *session.Session, result domain.Result) bool {
	if result.Err != nil {
		kind := classifyFailure(result.Err)
		s.recordFailure(current, kind)
		s.logger.Warn().
			Err(result.Err).
			Str("failure", kind.String()).
			Msg("Frame dropped")
		return false
	}

	telegram := result.Telegram
	if !telegram.OK() {
		s.logger.Warn().
			Str("error", telegram.ErrorCode.String()).
			Msg("Meter reported a device error")
		s.accept(ctx, current, telegram)
		return true
	}

	check := s.validator.Validate(telegram, s.previous)
	if check.HasCriticalErrors() {
		event := s.logger.Warn().Str("validation", check.Summary())
		for _, verr := range check.Errors {
			event = event.Str(verr.Field, verr.Message)
		}
		if s.config.Decoder.RejectInsane {
			event.Msg("Telegram rejected as implausible")
			s.recordFailure(current, domain.FailureInsane)
			return false
		}
		event.Msg("Implausible telegram accepted")
	} else if check.HasWarnings() {
		s.logger.Debug().Str("validation", check.Summary()).Msg("Telegram accepted with warnings")
	}

	s.previous = telegram
	s.accept(ctx, current, telegram)
	return true
}

func (s *DataCollectionServer) recordFailure(current *session.Session, kind domain.FailureKind) {
	current.IncrementErrorCount()
	s.metrics.ObserveFailure(kind)
	s.registry.RecordFailure(kind)
}

// accept fans a telegram out to every collaborator. Collaborator errors are
// logged and never stop the read loop.
func (s *DataCollectionServer) accept(ctx context.Context, current *session.Session, telegram *domain.Telegram) {
	current.RecordTelegram(telegram.OK())
	s.metrics.ObserveTelegram(telegram)
	s.registry.RecordTelegram(telegram)

	if s.store != nil {
		if err := s.store.Save(ctx, telegram); err != nil {
			s.logger.Error().Err(err).Msg("Failed to store telegram")
		}
	}

	topic := s.config.MQTT.Topic
	if err := s.publisher.Publish(ctx, topic, telegram); err != nil {
		s.logger.Error().
			Str("topic", topic).
			Err(err).
			Msg("Failed to publish message")
	}

	if err := s.monitoring.Send(ctx, telegram); err != nil {
		s.logger.Error().Err(err).Msg("Failed to send to monitoring service")
	}

	if telegram.OK() {
		s.logger.Debug().
			Time("meter_time", telegram.Timestamp).
			Int("measurements", len(telegram.Measurements)).
			Msg("Processed telegram")
	}
}

// classifyFailure maps a decoder error to a failure kind.
func classifyFailure(err error) domain.FailureKind {
	var crcErr *protocol.CrcMismatchError
	if errors.As(err, &crcErr) {
		return domain.FailureCRC
	}
	return domain.FailureSync
}

// maintenanceLoop prunes telegrams older than the retention period.
func (s *DataCollectionServer) maintenanceLoop(ctx context.Context) {
	defer s.wg.Done()

	s.prune(ctx)

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.prune(ctx)
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *DataCollectionServer) prune(ctx context.Context) {
	retention := time.Duration(s.config.Storage.RetentionDays) * 24 * time.Hour
	if _, err := s.store.Prune(ctx, time.Now().Add(-retention)); err != nil {
		s.logger.Error().Err(err).Msg("Failed to prune telegram history")
	}
}

// GetMetrics returns server counters for diagnostics.
func (s *DataCollectionServer) GetMetrics() map[string]interface{} {
	metrics := make(map[string]interface{})

	metrics["uptime"] = time.Since(s.startTime).Seconds()
	metrics["start_time"] = s.startTime
	metrics["session_count"] = s.sessions.GetSessionCount()
	metrics["validation"] = s.validator.GetStatistics()

	status := s.registry.Status()
	metrics["connected"] = status.Connected
	metrics["telegrams"] = status.Telegrams
	metrics["device_errors"] = status.DeviceErrors

	return metrics
}
