// Package pvoutput provides the PVOutput.org monitoring service implementation.
package pvoutput

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/resident-x/go-p1/internal/config"
	"github.com/resident-x/go-p1/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultEndpoint is the PVOutput add status service.
const DefaultEndpoint = "https://pvoutput.org/service/r2/addstatus.jsp"

// NoopClient is a no-operation implementation of the MonitoringService interface.
type NoopClient struct{}

// NewNoopClient creates a new no-operation PVOutput client.
func NewNoopClient() *NoopClient {
	return &NoopClient{}
}

// Send is a no-op for the NoopClient.
func (c *NoopClient) Send(_ context.Context, _ *domain.Telegram) error {
	return nil
}

// Connect is a no-op for the NoopClient.
func (c *NoopClient) Connect() error {
	return nil
}

// Close is a no-op for the NoopClient.
func (c *NoopClient) Close() error {
	return nil
}

// Client implements the MonitoringService interface for PVOutput.org.
type Client struct {
	config        *config.Config
	httpClient    *http.Client
	endpoint      string
	lastUpdateMap map[string]time.Time
	mutex         sync.Mutex
	now           func() time.Time
	location      *time.Location
	logger        zerolog.Logger
}

// NewClient creates a new PVOutput client.
func NewClient(cfg *config.Config) *Client {
	logger := log.With().Str("component", "pvoutput").Logger()

	// PVOutput expects the local time of the system
	location, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		logger.Warn().Err(err).Str("timezone", cfg.TimeZone).Msg("Unknown timezone, using UTC")
		location = time.UTC
	}

	return &Client{
		config:        cfg,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		endpoint:      DefaultEndpoint,
		lastUpdateMap: make(map[string]time.Time),
		now:           time.Now,
		location:      location,
		logger:        logger,
	}
}

// WithEndpoint points the client at another add status URL.
func (c *Client) WithEndpoint(endpoint string) *Client {
	c.endpoint = endpoint
	return c
}

// Connect establishes a connection to the service.
// For PVOutput, this is a no-op as each request is independent.
func (c *Client) Connect() error {
	return nil
}

// Send posts consumption data of a telegram to PVOutput. Device error
// telegrams and updates inside the rate limit window are skipped.
func (c *Client) Send(ctx context.Context, telegram *domain.Telegram) error {
	if !c.config.PVOutput.Enabled || telegram == nil || !telegram.OK() {
		return nil
	}

	if c.config.PVOutput.APIKey == "" || c.config.PVOutput.SystemID == "" {
		return fmt.Errorf("PVOutput API key and/or System ID not configured")
	}

	deviceID := c.config.Device.ID
	if !c.canUpdate(deviceID) {
		return nil
	}

	if err := c.sendMeterData(ctx, telegram); err != nil {
		return err
	}

	c.updateTimestamp(deviceID)
	return nil
}

// sendMeterData uses the dual post method.
// First POST: v3 (lifetime consumption energy) with c1=3 flag
// Second POST: v4 (net power) with n=1 flag
func (c *Client) sendMeterData(ctx context.Context, telegram *domain.Telegram) error {
	at := telegram.Received
	if at.IsZero() {
		at = c.now()
	}
	at = at.In(c.location)
	dateStr := at.Format("20060102")
	timeStr := at.Format("15:04")

	voltage, hasVoltage := telegram.Present(domain.VoltageL1)
	setVoltage := func(params url.Values) {
		if c.config.PVOutput.IncludeVoltage && hasVoltage {
			v, _ := voltage.Float()
			params.Set("v6", strconv.FormatFloat(v, 'f', 1, 64))
		}
	}

	if energy, ok := telegram.EnergyDelivered(); ok {
		params := c.baseParams(dateStr, timeStr)
		// Wh registers are posted as is
		params.Set("v3", strconv.FormatUint(energy.Raw, 10))
		params.Set("c1", "3")
		setVoltage(params)

		if err := c.makeRequest(ctx, params); err != nil {
			return fmt.Errorf("meter first POST (v3) failed: %w", err)
		}
	}

	if net, ok := netPower(telegram); ok {
		params := c.baseParams(dateStr, timeStr)
		// Positive while consuming, negative while exporting
		params.Set("v4", strconv.FormatInt(net, 10))
		params.Set("n", "1")
		setVoltage(params)

		if err := c.makeRequest(ctx, params); err != nil {
			return fmt.Errorf("meter second POST (v4) failed: %w", err)
		}
	}

	c.logger.Debug().
		Str("device", c.config.Device.ID).
		Time("at", at).
		Msg("PVOutput status posted")
	return nil
}

func (c *Client) baseParams(dateStr, timeStr string) url.Values {
	params := url.Values{}
	params.Set("key", c.config.PVOutput.APIKey)
	params.Set("sid", c.config.PVOutput.SystemID)
	params.Set("d", dateStr)
	params.Set("t", timeStr)
	return params
}

// netPower returns delivered minus injected power in W.
func netPower(telegram *domain.Telegram) (int64, bool) {
	delivered, ok := telegram.Present(domain.SumPowerDelivered)
	if !ok {
		return 0, false
	}
	var injected uint64
	if m, ok := telegram.Present(domain.SumPowerInjected); ok {
		injected = m.Raw
	}
	return int64(delivered.Raw) - int64(injected), true
}

// makeRequest makes an HTTP POST request to PVOutput API.
func (c *Client) makeRequest(ctx context.Context, params url.Values) error {
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.endpoint,
		strings.NewReader(params.Encode()),
	)
	if err != nil {
		return fmt.Errorf("failed to create PVOutput request: %w", err)
	}

	req.Header.Add("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Add("X-Rate-Limit", "1")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("PVOutput request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close() //nolint:errcheck // Closing response body in defer, error not critical
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("PVOutput returned status code %d", resp.StatusCode)
	}

	return nil
}

// Close terminates the connection to the service.
func (c *Client) Close() error {
	return nil
}

// canUpdate checks if an update is allowed based on rate limiting.
func (c *Client) canUpdate(deviceID string) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	lastUpdate, exists := c.lastUpdateMap[deviceID]
	if !exists {
		return true
	}

	updateInterval := time.Duration(c.config.PVOutput.UpdateLimitMinutes) * time.Minute
	return c.now().Sub(lastUpdate) >= updateInterval
}

// updateTimestamp records when an update was made.
func (c *Client) updateTimestamp(deviceID string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.lastUpdateMap[deviceID] = c.now()
}
