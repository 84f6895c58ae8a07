package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/resident-x/go-p1/internal/config"
	"github.com/resident-x/go-p1/internal/domain"
	"github.com/resident-x/go-p1/internal/session"
	"github.com/resident-x/go-p1/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testTelegram() *domain.Telegram {
	telegram := &domain.Telegram{
		RawTimestamp: 772000000,
		Timestamp:    time.Date(2024, 6, 18, 4, 26, 40, 0, time.UTC),
		Received:     time.Date(2024, 6, 18, 4, 26, 41, 0, time.UTC),
	}
	for _, def := range domain.Quantities {
		switch def.Quantity {
		case domain.GasVolume:
			telegram.Measurements = append(telegram.Measurements, domain.AbsentMeasurement(def))
		case domain.VoltageL1:
			telegram.Measurements = append(telegram.Measurements, domain.NewMeasurement(def, 2305))
		case domain.CurrentL1:
			telegram.Measurements = append(telegram.Measurements, domain.NewMeasurement(def, 5))
		default:
			telegram.Measurements = append(telegram.Measurements, domain.NewMeasurement(def, 1))
		}
	}
	return telegram
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	return response
}

func TestNewAPIServer(t *testing.T) {
	cfg := config.DefaultConfig()
	registry := domain.NewMeterRegistry("p1")

	server := NewServer(cfg, registry)

	assert.NotNil(t, server)
	assert.Equal(t, cfg, server.config)
	assert.Equal(t, registry, server.registry)
	assert.NotNil(t, server.router)
	assert.Nil(t, server.store)
	assert.Equal(t, "dev", server.version)
	assert.NotZero(t, server.startTime)
}

func TestAPIServer_HandleStatus(t *testing.T) {
	mockRegistry := mocks.NewMockRegistry(t)
	mockRegistry.EXPECT().Status().Return(domain.MeterStatus{
		DeviceID:  "p1",
		Port:      "/dev/ttyUSB0",
		Connected: true,
		Telegrams: 42,
	})

	server := NewServer(config.DefaultConfig(), mockRegistry, WithVersion("1.2.3"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", http.NoBody)
	w := httptest.NewRecorder()

	server.handleStatus(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	response := decode(t, w)
	assert.Equal(t, "ok", response["status"])
	assert.Equal(t, "1.2.3", response["version"])
	assert.NotEmpty(t, response["uptime"])
	assert.Equal(t, false, response["storage"])

	meter := response["meter"].(map[string]interface{})
	assert.Equal(t, "/dev/ttyUSB0", meter["port"])
	assert.Equal(t, float64(42), meter["telegrams"])
}

func TestAPIServer_HandleStatus_Disconnected(t *testing.T) {
	mockRegistry := mocks.NewMockRegistry(t)
	mockRegistry.EXPECT().Status().Return(domain.MeterStatus{DeviceID: "p1"})

	server := NewServer(config.DefaultConfig(), mockRegistry)

	w := httptest.NewRecorder()
	server.handleStatus(w, httptest.NewRequest(http.MethodGet, "/api/v1/status", http.NoBody))

	assert.Equal(t, "disconnected", decode(t, w)["status"])
}

func TestAPIServer_HandleLatestTelegram(t *testing.T) {
	mockRegistry := mocks.NewMockRegistry(t)
	mockRegistry.EXPECT().Latest().Return(testTelegram(), true)

	server := NewServer(config.DefaultConfig(), mockRegistry)

	w := httptest.NewRecorder()
	server.handleLatestTelegram(w, httptest.NewRequest(http.MethodGet, "/api/v1/telegram", http.NoBody))

	assert.Equal(t, http.StatusOK, w.Code)
	response := decode(t, w)

	fields := response["telegram"].(map[string]interface{})
	assert.Equal(t, "2024-06-18T04:26:40Z", fields["timestamp"])
	assert.Equal(t, 230.5, fields["voltage_per_phase_1"])
	assert.Nil(t, fields["gas_volume"])

	measurements := response["measurements"].([]interface{})
	require.Len(t, measurements, len(domain.Quantities))

	byQuantity := map[string]map[string]interface{}{}
	for _, m := range measurements {
		entry := m.(map[string]interface{})
		byQuantity[entry["quantity"].(string)] = entry
	}
	assert.Equal(t, "0.05", byQuantity["current_per_phase_1"]["value"])
	assert.Equal(t, "A", byQuantity["current_per_phase_1"]["unit"])
	assert.Nil(t, byQuantity["gas_volume"]["value"])
	assert.Equal(t, false, byQuantity["gas_volume"]["present"])
}

func TestAPIServer_HandleLatestTelegram_NotFound(t *testing.T) {
	mockRegistry := mocks.NewMockRegistry(t)
	mockRegistry.EXPECT().Latest().Return(nil, false)

	server := NewServer(config.DefaultConfig(), mockRegistry)

	w := httptest.NewRecorder()
	server.handleLatestTelegram(w, httptest.NewRequest(http.MethodGet, "/api/v1/telegram", http.NoBody))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "No telegram received yet", decode(t, w)["error"])
}

func TestAPIServer_HandleTelegramHistory(t *testing.T) {
	tests := []struct {
		name          string
		query         string
		expectedLimit int
	}{
		{"default limit", "", defaultHistoryLimit},
		{"explicit limit", "?limit=3", 3},
		{"capped limit", "?limit=100000", maxHistoryLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := mocks.NewMockTelegramStore(t)
			store.EXPECT().Recent(mock.Anything, tt.expectedLimit).Return([]*domain.Telegram{testTelegram()}, nil)

			server := NewServer(config.DefaultConfig(), mocks.NewMockRegistry(t), WithStore(store))

			w := httptest.NewRecorder()
			server.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/telegrams"+tt.query, http.NoBody))

			assert.Equal(t, http.StatusOK, w.Code)
			response := decode(t, w)
			assert.Equal(t, "p1", response["device"])
			assert.Equal(t, float64(1), response["count"])
		})
	}
}

func TestAPIServer_HandleTelegramHistory_Errors(t *testing.T) {
	t.Run("storage disabled", func(t *testing.T) {
		server := NewServer(config.DefaultConfig(), mocks.NewMockRegistry(t))

		w := httptest.NewRecorder()
		server.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/telegrams", http.NoBody))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("invalid limit", func(t *testing.T) {
		store := mocks.NewMockTelegramStore(t)
		server := NewServer(config.DefaultConfig(), mocks.NewMockRegistry(t), WithStore(store))

		for _, query := range []string{"?limit=abc", "?limit=0", "?limit=-5"} {
			w := httptest.NewRecorder()
			server.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/telegrams"+query, http.NoBody))
			assert.Equal(t, http.StatusBadRequest, w.Code, query)
		}
	})

	t.Run("store failure", func(t *testing.T) {
		store := mocks.NewMockTelegramStore(t)
		store.EXPECT().Recent(mock.Anything, defaultHistoryLimit).Return(nil, errors.New("disk I/O error"))

		server := NewServer(config.DefaultConfig(), mocks.NewMockRegistry(t), WithStore(store))

		w := httptest.NewRecorder()
		server.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/telegrams", http.NoBody))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestAPIServer_HandleListSessions(t *testing.T) {
	sessions := session.NewSessionManager(5)
	first := sessions.CreateSession("/dev/ttyUSB0")
	sessions.EndSession("read error")
	sessions.CreateSession("/dev/ttyUSB0").AddBytesReceived(60)

	server := NewServer(config.DefaultConfig(), mocks.NewMockRegistry(t), WithSessions(sessions))

	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/sessions", http.NoBody))

	assert.Equal(t, http.StatusOK, w.Code)
	response := decode(t, w)
	assert.Equal(t, float64(2), response["count"])

	list := response["sessions"].([]interface{})
	current := list[0].(map[string]interface{})
	assert.Equal(t, "connected", current["state"])
	assert.Equal(t, float64(60), current["bytes_received"])

	ended := list[1].(map[string]interface{})
	assert.Equal(t, first.ID, ended["id"])
	assert.Equal(t, "read error", ended["close_reason"])
}

func TestAPIServer_HandleListSessions_Disabled(t *testing.T) {
	server := NewServer(config.DefaultConfig(), mocks.NewMockRegistry(t))

	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/sessions", http.NoBody))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAPIServer_Routes(t *testing.T) {
	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("p1_frames_total 1\n"))
	})

	t.Run("metrics mounted", func(t *testing.T) {
		server := NewServer(config.DefaultConfig(), mocks.NewMockRegistry(t), WithMetricsHandler(metricsHandler))

		w := httptest.NewRecorder()
		server.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "p1_frames_total")
	})

	t.Run("metrics not mounted", func(t *testing.T) {
		server := NewServer(config.DefaultConfig(), mocks.NewMockRegistry(t))

		w := httptest.NewRecorder()
		server.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("method not allowed", func(t *testing.T) {
		server := NewServer(config.DefaultConfig(), mocks.NewMockRegistry(t))

		for _, path := range []string{"/api/v1/status", "/api/v1/telegram", "/api/v1/telegrams", "/api/v1/sessions"} {
			w := httptest.NewRecorder()
			server.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, http.NoBody))

			assert.Equal(t, http.StatusMethodNotAllowed, w.Code, path)
		}
	})

	t.Run("unknown api path", func(t *testing.T) {
		server := NewServer(config.DefaultConfig(), mocks.NewMockRegistry(t))

		w := httptest.NewRecorder()
		server.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/nope", http.NoBody))

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestAPIServer_StartStop(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.API.Host = "127.0.0.1"
	cfg.API.Port = 0

	server := NewServer(cfg, domain.NewMeterRegistry("p1"))
	require.NoError(t, server.Start(context.Background()))
	time.Sleep(50 * time.Millisecond)

	assert.NoError(t, server.Stop(context.Background()))
}
