package pvoutput

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/resident-x/go-p1/internal/config"
	"github.com/resident-x/go-p1/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTelegram(raw map[domain.Quantity]uint64) *domain.Telegram {
	received := time.Date(2024, 6, 18, 4, 26, 41, 0, time.UTC)
	telegram := &domain.Telegram{
		RawTimestamp: 772000000,
		Timestamp:    time.Date(2024, 6, 18, 4, 26, 40, 0, time.UTC),
		Received:     received,
	}
	for _, def := range domain.Quantities {
		if v, ok := raw[def.Quantity]; ok {
			telegram.Measurements = append(telegram.Measurements, domain.NewMeasurement(def, v))
		} else {
			telegram.Measurements = append(telegram.Measurements, domain.AbsentMeasurement(def))
		}
	}
	return telegram
}

func meterTelegram() *domain.Telegram {
	return testTelegram(map[domain.Quantity]uint64{
		domain.MeterDeliveredT1:  1234567,
		domain.MeterDeliveredT2:  2345678,
		domain.SumPowerDelivered: 1520,
		domain.SumPowerInjected:  20,
		domain.VoltageL1:         2305,
		domain.Tariff:            2,
	})
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.PVOutput.Enabled = true
	cfg.PVOutput.APIKey = "test-api-key"
	cfg.PVOutput.SystemID = "12345"
	cfg.PVOutput.UpdateLimitMinutes = 5
	return cfg
}

type recorder struct {
	mu       sync.Mutex
	requests []url.Values
	status   int
}

func (r *recorder) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, http.MethodPost, req.Method)
		assert.Equal(t, "application/x-www-form-urlencoded", req.Header.Get("Content-Type"))
		require.NoError(t, req.ParseForm())

		r.mu.Lock()
		r.requests = append(r.requests, req.PostForm)
		status := r.status
		r.mu.Unlock()

		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
	}
}

func (r *recorder) all() []url.Values {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]url.Values(nil), r.requests...)
}

func newTestClient(t *testing.T, cfg *config.Config) (*Client, *recorder) {
	rec := &recorder{}
	server := httptest.NewServer(rec.handler(t))
	t.Cleanup(server.Close)

	return NewClient(cfg).WithEndpoint(server.URL), rec
}

func TestNoopClient(t *testing.T) {
	client := NewNoopClient()
	assert.NoError(t, client.Connect())
	assert.NoError(t, client.Send(context.Background(), meterTelegram()))
	assert.NoError(t, client.Close())
}

func TestNewClient(t *testing.T) {
	cfg := testConfig()
	client := NewClient(cfg)

	assert.Equal(t, cfg, client.config)
	assert.Equal(t, DefaultEndpoint, client.endpoint)
	assert.NotNil(t, client.httpClient)
	assert.NotNil(t, client.lastUpdateMap)
	assert.Equal(t, time.UTC, client.location)
	assert.NoError(t, client.Connect())
	assert.NoError(t, client.Close())
}

func TestClient_Send_DualPost(t *testing.T) {
	client, rec := newTestClient(t, testConfig())

	require.NoError(t, client.Send(context.Background(), meterTelegram()))

	requests := rec.all()
	require.Len(t, requests, 2)

	first := requests[0]
	assert.Equal(t, "test-api-key", first.Get("key"))
	assert.Equal(t, "12345", first.Get("sid"))
	assert.Equal(t, "20240618", first.Get("d"))
	assert.Equal(t, "04:26", first.Get("t"))
	assert.Equal(t, "3580245", first.Get("v3"), "t1+t2 in Wh")
	assert.Equal(t, "3", first.Get("c1"))
	assert.Empty(t, first.Get("v6"), "voltage is opt-in")

	second := requests[1]
	assert.Equal(t, "1500", second.Get("v4"))
	assert.Equal(t, "1", second.Get("n"))
	assert.Empty(t, second.Get("v3"))
}

func TestClient_Send_LocalTime(t *testing.T) {
	cfg := testConfig()
	cfg.TimeZone = "Europe/Brussels"
	client, rec := newTestClient(t, cfg)

	require.NoError(t, client.Send(context.Background(), meterTelegram()))

	requests := rec.all()
	require.NotEmpty(t, requests)
	assert.Equal(t, "20240618", requests[0].Get("d"))
	assert.Equal(t, "06:26", requests[0].Get("t"), "CEST is UTC+2 in June")
}

func TestNewClient_UnknownTimeZone(t *testing.T) {
	cfg := testConfig()
	cfg.TimeZone = "Mars/Olympus_Mons"

	assert.Equal(t, time.UTC, NewClient(cfg).location)
}

func TestClient_Send_IncludeVoltage(t *testing.T) {
	cfg := testConfig()
	cfg.PVOutput.IncludeVoltage = true
	client, rec := newTestClient(t, cfg)

	require.NoError(t, client.Send(context.Background(), meterTelegram()))

	for _, params := range rec.all() {
		assert.Equal(t, "230.5", params.Get("v6"))
	}
}

func TestClient_Send_NetExport(t *testing.T) {
	client, rec := newTestClient(t, testConfig())

	telegram := testTelegram(map[domain.Quantity]uint64{
		domain.SumPowerDelivered: 0,
		domain.SumPowerInjected:  2750,
	})
	require.NoError(t, client.Send(context.Background(), telegram))

	// Meter registers are absent, only the net power post is made
	requests := rec.all()
	require.Len(t, requests, 1)
	assert.Equal(t, "-2750", requests[0].Get("v4"))
}

func TestClient_Send_Skips(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		cfg := testConfig()
		cfg.PVOutput.Enabled = false
		client, rec := newTestClient(t, cfg)

		require.NoError(t, client.Send(context.Background(), meterTelegram()))
		assert.Empty(t, rec.all())
	})

	t.Run("device error telegram", func(t *testing.T) {
		client, rec := newTestClient(t, testConfig())

		telegram := &domain.Telegram{
			ErrorCode:    domain.ErrorCode{Kind: domain.ErrorTelegramTimeout, Raw: 0x80000000},
			RawTimestamp: 0x80000000,
			Received:     time.Now(),
		}
		require.NoError(t, client.Send(context.Background(), telegram))
		assert.Empty(t, rec.all())
	})

	t.Run("missing credentials", func(t *testing.T) {
		cfg := testConfig()
		cfg.PVOutput.APIKey = ""
		client, rec := newTestClient(t, cfg)

		assert.Error(t, client.Send(context.Background(), meterTelegram()))
		assert.Empty(t, rec.all())
	})
}

func TestClient_RateLimit(t *testing.T) {
	client, rec := newTestClient(t, testConfig())

	now := time.Date(2024, 6, 18, 12, 0, 0, 0, time.UTC)
	client.now = func() time.Time { return now }

	require.NoError(t, client.Send(context.Background(), meterTelegram()))
	require.NoError(t, client.Send(context.Background(), meterTelegram()))
	assert.Len(t, rec.all(), 2, "second update falls inside the limit window")

	now = now.Add(5 * time.Minute)
	require.NoError(t, client.Send(context.Background(), meterTelegram()))
	assert.Len(t, rec.all(), 4)
}

func TestClient_Send_ServerError(t *testing.T) {
	client, rec := newTestClient(t, testConfig())
	rec.status = http.StatusUnauthorized

	err := client.Send(context.Background(), meterTelegram())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status code 401")

	// A failed update does not consume the rate limit slot
	assert.True(t, client.canUpdate(client.config.Device.ID))
}
