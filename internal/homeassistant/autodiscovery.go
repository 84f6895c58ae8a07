// Package homeassistant provides MQTT auto-discovery support for Home Assistant integration.
package homeassistant

import (
	_ "embed"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

//go:embed layouts/p1_sensors.yaml
var p1SensorsYAML []byte

// Config holds the Home Assistant auto-discovery configuration.
type Config struct {
	Enabled             bool
	DiscoveryPrefix     string
	DeviceName          string
	DeviceManufacturer  string
	DeviceModel         string
	RetainDiscovery     bool
	IncludeDiagnostic   bool
	ValueTemplateSuffix string
}

// SensorConfig represents a sensor configuration from the layouts YAML.
type SensorConfig struct {
	Name              string `yaml:"name"`
	DeviceClass       string `yaml:"device_class,omitempty"`
	UnitOfMeasurement string `yaml:"unit_of_measurement,omitempty"`
	StateClass        string `yaml:"state_class,omitempty"`
	Category          string `yaml:"category"`
	Icon              string `yaml:"icon,omitempty"`
	StatusMapping     string `yaml:"status_mapping,omitempty"`
}

// LayoutConfig represents the full layout configuration for Home Assistant sensors.
type LayoutConfig struct {
	Version        string                            `yaml:"version"`
	Description    string                            `yaml:"description"`
	StatusMappings map[string]map[interface{}]string `yaml:"status_mappings"`
	Sensors        map[string]SensorConfig           `yaml:"sensors"`
}

// DiscoveryMessage represents a Home Assistant MQTT discovery message.
type DiscoveryMessage struct {
	Name                string     `json:"name"`
	UniqueID            string     `json:"unique_id"`
	StateTopic          string     `json:"state_topic"`
	ValueTemplate       string     `json:"value_template"`
	DeviceClass         string     `json:"device_class,omitempty"`
	UnitOfMeasurement   string     `json:"unit_of_measurement,omitempty"`
	StateClass          string     `json:"state_class,omitempty"`
	Icon                string     `json:"icon,omitempty"`
	EntityCategory      string     `json:"entity_category,omitempty"`
	Device              DeviceInfo `json:"device"`
	AvailabilityTopic   string     `json:"availability_topic,omitempty"`
	PayloadAvailable    string     `json:"payload_available,omitempty"`
	PayloadNotAvailable string     `json:"payload_not_available,omitempty"`
}

// DeviceInfo represents device information for Home Assistant.
type DeviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model,omitempty"`
	SwVersion    string   `json:"sw_version,omitempty"`
}

// Availability payloads.
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// AutoDiscovery handles Home Assistant MQTT auto-discovery.
type AutoDiscovery struct {
	config       Config
	layoutConfig *LayoutConfig
	baseTopic    string
	deviceID     string
}

// New creates a new Home Assistant auto-discovery instance.
func New(config Config, baseTopic, deviceID string) (*AutoDiscovery, error) {
	ad := &AutoDiscovery{
		config:    config,
		baseTopic: baseTopic,
		deviceID:  deviceID,
	}

	if err := ad.loadLayoutConfig(); err != nil {
		return nil, fmt.Errorf("failed to load layout config: %w", err)
	}

	return ad, nil
}

// loadLayoutConfig loads the sensor configuration from embedded YAML.
func (ad *AutoDiscovery) loadLayoutConfig() error {
	var config LayoutConfig
	if err := yaml.Unmarshal(p1SensorsYAML, &config); err != nil {
		return fmt.Errorf("failed to unmarshal Home Assistant sensors config: %w", err)
	}

	ad.layoutConfig = &config
	log.Info().
		Str("version", config.Version).
		Int("sensor_count", len(config.Sensors)).
		Msg("Home Assistant layout configuration loaded from YAML")

	return nil
}

// SensorNames returns the configured sensor fields in sorted order.
func (ad *AutoDiscovery) SensorNames() []string {
	names := make([]string, 0, len(ad.layoutConfig.Sensors))
	for name := range ad.layoutConfig.Sensors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ApplyCalculations replaces coded values (the tariff) with their status names.
func (ad *AutoDiscovery) ApplyCalculations(data map[string]interface{}) map[string]interface{} {
	if ad.layoutConfig == nil {
		return data
	}

	processedData := make(map[string]interface{}, len(data))
	for key, value := range data {
		processedData[key] = value
	}

	for fieldName, sensorConfig := range ad.layoutConfig.Sensors {
		value, exists := data[fieldName]
		if !exists || value == nil || sensorConfig.StatusMapping == "" {
			continue
		}
		mapped := ad.applyStatusMapping(sensorConfig.StatusMapping, value)
		processedData[fieldName] = mapped
		log.Debug().
			Str("field", fieldName).
			Interface("original_value", value).
			Interface("mapped_value", mapped).
			Msg("Status mapping applied")
	}

	return processedData
}

// applyStatusMapping converts numeric status codes to human-readable strings.
func (ad *AutoDiscovery) applyStatusMapping(mappingKey string, rawValue interface{}) interface{} {
	mapping, exists := ad.layoutConfig.StatusMappings[mappingKey]
	if !exists {
		log.Warn().Str("mapping_key", mappingKey).Msg("Status mapping not found")
		return rawValue
	}

	if numVal, ok := convertToFloat(rawValue); ok {
		if result, found := mapping[int(numVal)]; found {
			return result
		}
		if result, found := mapping[numVal]; found {
			return result
		}
	}

	if result, found := mapping[fmt.Sprintf("%v", rawValue)]; found {
		return result
	}

	if defaultVal, found := mapping["default"]; found {
		return defaultVal
	}

	return rawValue
}

func convertToFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// GenerateDiscoveryMessages generates a discovery message for every field of
// data that has a sensor layout, keyed by discovery topic.
func (ad *AutoDiscovery) GenerateDiscoveryMessages(data map[string]interface{}) map[string]DiscoveryMessage {
	messages := make(map[string]DiscoveryMessage)

	for fieldName := range data {
		sensorConfig, exists := ad.layoutConfig.Sensors[fieldName]
		if !exists {
			continue
		}
		if sensorConfig.Category == "diagnostic" && !ad.config.IncludeDiagnostic {
			continue
		}

		messages[ad.getDiscoveryTopic(fieldName)] = ad.createDiscoveryMessage(fieldName, sensorConfig)
	}

	return messages
}

// createDiscoveryMessage creates a discovery message for a specific sensor.
func (ad *AutoDiscovery) createDiscoveryMessage(fieldName string, sensorConfig SensorConfig) DiscoveryMessage {
	var entityCategory string
	if sensorConfig.Category == "diagnostic" {
		entityCategory = "diagnostic"
	}

	return DiscoveryMessage{
		Name:              sensorConfig.Name,
		UniqueID:          fmt.Sprintf("%s_%s", ad.nodeID(), fieldName),
		StateTopic:        ad.baseTopic,
		ValueTemplate:     ad.getValueTemplate(fieldName),
		DeviceClass:       sensorConfig.DeviceClass,
		UnitOfMeasurement: sensorConfig.UnitOfMeasurement,
		StateClass:        sensorConfig.StateClass,
		Icon:              sensorConfig.Icon,
		EntityCategory:    entityCategory,
		Device: DeviceInfo{
			Identifiers:  []string{ad.nodeID()},
			Name:         ad.config.DeviceName,
			Manufacturer: ad.config.DeviceManufacturer,
			Model:        ad.getDeviceModel(),
			SwVersion:    "go-p1",
		},
		AvailabilityTopic:   ad.GetAvailabilityTopic(),
		PayloadAvailable:    PayloadOnline,
		PayloadNotAvailable: PayloadOffline,
	}
}

// getValueTemplate creates the value template for a sensor field.
func (ad *AutoDiscovery) getValueTemplate(fieldName string) string {
	return fmt.Sprintf("{{ value_json.%s }}", fieldName) + ad.config.ValueTemplateSuffix
}

func (ad *AutoDiscovery) nodeID() string {
	return strings.ToLower(strings.ReplaceAll(ad.deviceID, " ", "_"))
}

// getDiscoveryTopic generates the MQTT discovery topic for a sensor:
// <discovery_prefix>/sensor/<node_id>/<object_id>/config
func (ad *AutoDiscovery) getDiscoveryTopic(fieldName string) string {
	nodeID := ad.nodeID()
	objectID := fmt.Sprintf("%s_%s", nodeID, fieldName)
	return fmt.Sprintf("%s/sensor/%s/%s/config", ad.config.DiscoveryPrefix, nodeID, objectID)
}

// getDeviceModel returns the device model, falling back to a generic name.
func (ad *AutoDiscovery) getDeviceModel() string {
	if ad.config.DeviceModel != "" {
		return ad.config.DeviceModel
	}
	return "P1 Smart Meter"
}

// GetAvailabilityTopic returns the availability topic for the device.
func (ad *AutoDiscovery) GetAvailabilityTopic() string {
	return ad.baseTopic + "/availability"
}

// CreateAvailabilityMessage returns the availability payload.
func (ad *AutoDiscovery) CreateAvailabilityMessage(online bool) string {
	if online {
		return PayloadOnline
	}
	return PayloadOffline
}

// CleanupDiscoveryMessages generates empty retained payloads that remove the
// given sensors from Home Assistant.
func (ad *AutoDiscovery) CleanupDiscoveryMessages(fieldNames []string) map[string]string {
	messages := make(map[string]string)

	for _, fieldName := range fieldNames {
		messages[ad.getDiscoveryTopic(fieldName)] = ""
	}

	return messages
}
