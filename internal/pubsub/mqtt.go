// Package pubsub provides implementations of message publishers.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/resident-x/go-p1/internal/config"
	"github.com/resident-x/go-p1/internal/domain"
	"github.com/resident-x/go-p1/internal/homeassistant"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const publishTimeout = 5 * time.Second

// NoopPublisher is a no-operation implementation of the MessagePublisher interface.
type NoopPublisher struct{}

// NewNoopPublisher creates a new no-operation publisher.
func NewNoopPublisher() *NoopPublisher {
	return &NoopPublisher{}
}

// Connect is a no-op for the NoopPublisher.
func (p *NoopPublisher) Connect(_ context.Context) error {
	return nil
}

// Publish is a no-op for the NoopPublisher.
func (p *NoopPublisher) Publish(_ context.Context, _ string, _ interface{}) error {
	return nil
}

// Close is a no-op for the NoopPublisher.
func (p *NoopPublisher) Close() error {
	return nil
}

// MQTTPublisher implements the MessagePublisher interface for MQTT.
type MQTTPublisher struct {
	mu sync.RWMutex

	config        *config.Config
	client        mqtt.Client
	connected     bool
	logger        zerolog.Logger
	clientFactory func(*mqtt.ClientOptions) mqtt.Client

	haDiscovery       *homeassistant.AutoDiscovery
	discoveredSensors map[string]bool
	lastDiscoveryTime time.Time
	birthSubscribed   bool

	// last availability payload sent, empty until the first telegram
	availability string

	stopRetry chan struct{}
}

// NewMQTTPublisher creates a new MQTT publisher.
func NewMQTTPublisher(cfg *config.Config) *MQTTPublisher {
	return &MQTTPublisher{
		config:            cfg,
		clientFactory:     mqtt.NewClient,
		discoveredSensors: make(map[string]bool),
		logger:            log.With().Str("component", "mqtt").Logger(),
	}
}

// NewMQTTPublisherWithClient creates a new MQTT publisher with a custom client (for testing).
func NewMQTTPublisherWithClient(cfg *config.Config, client mqtt.Client) *MQTTPublisher {
	p := NewMQTTPublisher(cfg)
	p.client = client
	return p
}

func (p *MQTTPublisher) baseTopic() string {
	return p.config.MQTT.Topic
}

func (p *MQTTPublisher) availabilityTopic() string {
	return p.baseTopic() + "/availability"
}

// clientOptions builds the paho options including the connection handlers
// and an offline last will on the availability topic.
func (p *MQTTPublisher) clientOptions() *mqtt.ClientOptions {
	connectTimeout := time.Duration(p.config.MQTT.ConnectionTimeout) * time.Second
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", p.config.MQTT.Host, p.config.MQTT.Port)).
		SetClientID("go-p1-" + uuid.NewString()[:8]).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout).
		SetWriteTimeout(publishTimeout).
		SetKeepAlive(30 * time.Second).
		SetCleanSession(true).
		SetWill(p.availabilityTopic(), homeassistant.PayloadOffline, 0, true).
		SetOnConnectHandler(func(mqtt.Client) {
			p.logger.Info().Msg("MQTT connection established")
			p.markConnected()
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			p.mu.Lock()
			p.connected = false
			p.birthSubscribed = false
			p.mu.Unlock()
			p.logger.Warn().Err(err).Msg("MQTT connection lost")
		})

	if p.config.MQTT.Username != "" {
		opts.SetUsername(p.config.MQTT.Username)
		opts.SetPassword(p.config.MQTT.Password)
	}

	return opts
}

// Connect establishes a connection to the MQTT broker. A failed first attempt
// is retried in the background with exponential backoff, so Connect only
// returns an error for configuration problems.
func (p *MQTTPublisher) Connect(ctx context.Context) error {
	if !p.config.MQTT.Enabled {
		return nil
	}

	p.mu.Lock()
	if p.client == nil {
		p.client = p.clientFactory(p.clientOptions())
	}
	client := p.client
	p.mu.Unlock()

	if err := p.connectOnce(ctx, client); err != nil {
		p.logger.Warn().Err(err).Msg("Initial MQTT connection failed, retrying in background")
		p.startRetry(client)
		return nil
	}

	p.markConnected()
	return nil
}

func (p *MQTTPublisher) connectOnce(ctx context.Context, client mqtt.Client) error {
	timeout := time.Duration(p.config.MQTT.ConnectionTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	token := client.Connect()
	select {
	case <-connectCtx.Done():
		return fmt.Errorf("failed to connect to MQTT broker: timeout after %s", timeout)
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("failed to connect to MQTT broker: %w", err)
		}
	}
	return nil
}

func (p *MQTTPublisher) startRetry(client mqtt.Client) {
	p.mu.Lock()
	if p.stopRetry != nil {
		p.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	p.stopRetry = stop
	p.mu.Unlock()

	attempts := p.config.MQTT.ConnectionRetryAttempts
	if attempts <= 0 {
		attempts = 5
	}
	base := time.Duration(p.config.MQTT.ConnectionRetryBaseDelay) * time.Second
	if base <= 0 {
		base = 2 * time.Second
	}

	go func() {
		defer func() {
			p.mu.Lock()
			if p.stopRetry == stop {
				p.stopRetry = nil
			}
			p.mu.Unlock()
		}()

		for attempt := 0; attempt < attempts; attempt++ {
			delay := base << attempt
			select {
			case <-stop:
				return
			case <-time.After(delay):
			}

			if err := p.connectOnce(context.Background(), client); err != nil {
				p.logger.Warn().Err(err).Int("attempt", attempt+1).Int("max_attempts", attempts).Msg("MQTT connection retry failed")
				continue
			}
			p.markConnected()
			return
		}
		p.logger.Error().Int("attempts", attempts).Msg("Giving up on MQTT connection")
	}()
}

// markConnected records a (re)connection. Discovery is repeated after every
// connect so a restarted broker learns the sensors again.
func (p *MQTTPublisher) markConnected() {
	p.mu.Lock()
	p.connected = true
	p.discoveredSensors = make(map[string]bool)
	p.lastDiscoveryTime = time.Time{}
	p.availability = ""
	p.mu.Unlock()

	ha := p.config.MQTT.HomeAssistantAutoDiscovery
	if ha.Enabled && ha.ListenToBirthMessage {
		p.subscribeToBirthMessage()
	}
}

// IsConnected reports whether the broker connection is up.
func (p *MQTTPublisher) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

// subscribeToBirthMessage subscribes to Home Assistant birth messages.
func (p *MQTTPublisher) subscribeToBirthMessage() {
	p.mu.RLock()
	skip := p.birthSubscribed || !p.connected
	client := p.client
	p.mu.RUnlock()
	if skip {
		return
	}

	birthTopic := fmt.Sprintf("%s/status", p.config.MQTT.HomeAssistantAutoDiscovery.DiscoveryPrefix)

	token := client.Subscribe(birthTopic, 0, p.handleBirthMessage)
	if token.Wait() && token.Error() != nil {
		p.logger.Warn().Err(token.Error()).Str("topic", birthTopic).Msg("Failed to subscribe to birth message")
		return
	}

	p.mu.Lock()
	p.birthSubscribed = true
	p.mu.Unlock()
	p.logger.Info().Str("topic", birthTopic).Msg("Subscribed to Home Assistant birth messages")
}

// handleBirthMessage clears the discovery cache when Home Assistant comes online.
func (p *MQTTPublisher) handleBirthMessage(_ mqtt.Client, msg mqtt.Message) {
	payload := string(msg.Payload())

	p.logger.Debug().
		Str("topic", msg.Topic()).
		Str("payload", payload).
		Msg("Received Home Assistant birth message")

	if payload == homeassistant.PayloadOnline {
		p.logger.Info().Msg("Home Assistant came online, triggering auto-discovery refresh")
		p.mu.Lock()
		p.discoveredSensors = make(map[string]bool)
		p.lastDiscoveryTime = time.Time{}
		p.availability = ""
		p.mu.Unlock()
	}
}

// shouldRediscover checks if periodic rediscovery is due.
func (p *MQTTPublisher) shouldRediscover() bool {
	hours := p.config.MQTT.HomeAssistantAutoDiscovery.RediscoveryInterval
	if hours <= 0 {
		return false
	}

	p.mu.RLock()
	last := p.lastDiscoveryTime
	p.mu.RUnlock()

	if last.IsZero() {
		return true
	}
	return time.Since(last) >= time.Duration(hours)*time.Hour
}

// Publish sends data to the specified topic. Telegrams go to the configured
// state topic whatever topic is passed.
func (p *MQTTPublisher) Publish(ctx context.Context, topic string, data interface{}) error {
	if !p.config.MQTT.Enabled || !p.IsConnected() {
		return nil
	}

	if telegram, ok := data.(*domain.Telegram); ok {
		if !telegram.OK() {
			return p.publishErrorTelegram(ctx, telegram)
		}
		return p.publishTelegram(ctx, telegram)
	}

	return p.publishGeneric(ctx, topic, data, p.config.MQTT.Retain)
}

// publishGeneric publishes data as JSON.
func (p *MQTTPublisher) publishGeneric(ctx context.Context, topic string, data interface{}, retain bool) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data to JSON: %w", err)
	}
	return p.publishPayload(ctx, topic, retain, jsonData)
}

func (p *MQTTPublisher) publishPayload(ctx context.Context, topic string, retain bool, payload interface{}) error {
	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	p.mu.RLock()
	client := p.client
	p.mu.RUnlock()

	token := client.Publish(topic, 0, retain, payload)

	select {
	case <-publishCtx.Done():
		return fmt.Errorf("publish timeout on %s", topic)
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("failed to publish message: %w", err)
		}
	}

	return nil
}

// publishTelegram publishes discovery, availability and the state of a
// telegram carrying measurements.
func (p *MQTTPublisher) publishTelegram(ctx context.Context, t *domain.Telegram) error {
	if p.config.MQTT.HomeAssistantAutoDiscovery.Enabled {
		if err := p.setupHomeAssistantDiscovery(); err != nil {
			return fmt.Errorf("failed to setup Home Assistant discovery: %w", err)
		}
	}

	state := t.Fields()
	state["device"] = p.config.Device.ID

	p.mu.RLock()
	ha := p.haDiscovery
	p.mu.RUnlock()

	if ha != nil {
		state = ha.ApplyCalculations(state)
		if err := p.publishHomeAssistantDiscovery(ctx, ha, state); err != nil {
			return fmt.Errorf("failed to publish Home Assistant discovery: %w", err)
		}
	}

	if err := p.publishAvailability(ctx, true); err != nil {
		return err
	}

	if !p.config.MQTT.PublishRaw {
		return nil
	}

	if debugJSON, err := json.Marshal(state); err == nil {
		p.logger.Debug().
			Str("topic", p.baseTopic()).
			RawJSON("state", debugJSON).
			Msg("Publishing telegram state")
	}

	if err := p.publishGeneric(ctx, p.baseTopic(), state, p.config.MQTT.Retain); err != nil {
		return fmt.Errorf("failed to publish telegram state: %w", err)
	}
	return nil
}

// publishErrorTelegram marks the meter unavailable and optionally reports the
// device error on <topic>/error.
func (p *MQTTPublisher) publishErrorTelegram(ctx context.Context, t *domain.Telegram) error {
	if err := p.publishAvailability(ctx, false); err != nil {
		return err
	}

	if !p.config.MQTT.PublishErrors {
		return nil
	}

	fields := t.Fields()
	fields["device"] = p.config.Device.ID
	if err := p.publishGeneric(ctx, p.baseTopic()+"/error", fields, false); err != nil {
		return fmt.Errorf("failed to publish device error: %w", err)
	}
	return nil
}

// publishAvailability publishes online/offline when it differs from the last
// state sent.
func (p *MQTTPublisher) publishAvailability(ctx context.Context, online bool) error {
	payload := homeassistant.PayloadOffline
	if online {
		payload = homeassistant.PayloadOnline
	}

	p.mu.RLock()
	unchanged := p.availability == payload
	p.mu.RUnlock()
	if unchanged {
		return nil
	}

	if err := p.publishPayload(ctx, p.availabilityTopic(), true, payload); err != nil {
		return fmt.Errorf("failed to publish availability message: %w", err)
	}

	p.mu.Lock()
	p.availability = payload
	p.mu.Unlock()
	return nil
}

// setupHomeAssistantDiscovery initializes Home Assistant auto-discovery once.
func (p *MQTTPublisher) setupHomeAssistantDiscovery() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.haDiscovery != nil {
		return nil
	}

	cfg := p.config.MQTT.HomeAssistantAutoDiscovery
	haConfig := homeassistant.Config{
		Enabled:             cfg.Enabled,
		DiscoveryPrefix:     cfg.DiscoveryPrefix,
		DeviceName:          cfg.DeviceName,
		DeviceManufacturer:  cfg.DeviceManufacturer,
		DeviceModel:         cfg.DeviceModel,
		RetainDiscovery:     cfg.RetainDiscovery,
		IncludeDiagnostic:   cfg.IncludeDiagnostic,
		ValueTemplateSuffix: cfg.ValueTemplateSuffix,
	}

	ha, err := homeassistant.New(haConfig, p.baseTopic(), p.config.Device.ID)
	if err != nil {
		return err
	}
	p.haDiscovery = ha
	return nil
}

// publishHomeAssistantDiscovery publishes discovery messages for sensors not
// yet announced, or for all of them when rediscovery is due.
func (p *MQTTPublisher) publishHomeAssistantDiscovery(ctx context.Context, ha *homeassistant.AutoDiscovery, state map[string]interface{}) error {
	rediscover := p.shouldRediscover()
	retain := p.config.MQTT.HomeAssistantAutoDiscovery.RetainDiscovery

	for topic, message := range ha.GenerateDiscoveryMessages(state) {
		p.mu.RLock()
		done := p.discoveredSensors[topic]
		p.mu.RUnlock()
		if done && !rediscover {
			continue
		}

		messageJSON, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("failed to marshal discovery message: %w", err)
		}
		if err := p.publishPayload(ctx, topic, retain, messageJSON); err != nil {
			return fmt.Errorf("failed to publish discovery message to %s: %w", topic, err)
		}

		p.mu.Lock()
		p.discoveredSensors[topic] = true
		p.mu.Unlock()
	}

	if rediscover {
		p.mu.Lock()
		p.lastDiscoveryTime = time.Now()
		p.mu.Unlock()
	}

	return nil
}

// Close stops connection retries and disconnects from the broker, marking
// the meter offline first.
func (p *MQTTPublisher) Close() error {
	p.mu.Lock()
	if p.stopRetry != nil {
		close(p.stopRetry)
		p.stopRetry = nil
	}
	client := p.client
	connected := p.connected
	announced := p.availability != ""
	p.mu.Unlock()

	if client == nil || !connected {
		return nil
	}

	if announced {
		if err := p.publishAvailability(context.Background(), false); err != nil {
			p.logger.Warn().Err(err).Msg("Failed to publish offline availability")
		}
	}

	client.Disconnect(250)

	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	return nil
}
