// Package config provides configuration management for the go-p1 application.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	// General settings
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
	TimeZone  string `mapstructure:"timezone"`

	// Rolling log file, disabled when Filename is empty
	LogFile struct {
		Filename   string `mapstructure:"filename"`
		MaxSizeMB  int    `mapstructure:"max_size_mb"`
		MaxBackups int    `mapstructure:"max_backups"`
		MaxAgeDays int    `mapstructure:"max_age_days"`
		Compress   bool   `mapstructure:"compress"`
	} `mapstructure:"log_file"`

	// Meter identity used for MQTT topics and discovery
	Device struct {
		ID           string `mapstructure:"id"`
		Name         string `mapstructure:"name"`
		Manufacturer string `mapstructure:"manufacturer"`
		Model        string `mapstructure:"model"`
	} `mapstructure:"device"`

	// Serial link to the P1 logger. Device may be a tty path or tcp://host:port.
	Serial struct {
		Device                 string `mapstructure:"device"`
		BaudRate               int    `mapstructure:"baud_rate"`
		DataBits               int    `mapstructure:"data_bits"`
		StopBits               int    `mapstructure:"stop_bits"`
		Parity                 string `mapstructure:"parity"`
		ReadTimeoutMS          int    `mapstructure:"read_timeout_ms"`
		ReconnectDelaySeconds  int    `mapstructure:"reconnect_delay_seconds"`
		// The link is reopened once more than this many frames in a row fail.
		MaxConsecutiveFailures int    `mapstructure:"max_consecutive_failures"`
		IdleTimeoutSeconds     int    `mapstructure:"idle_timeout_seconds"`
	} `mapstructure:"serial"`

	// Frame decoding and sanity checking
	Decoder struct {
		CRCVariant      string `mapstructure:"crc_variant"`
		ValidationLevel string `mapstructure:"validation_level"`
		RejectInsane    bool   `mapstructure:"reject_insane"`
	} `mapstructure:"decoder"`

	// HTTP API settings
	API struct {
		Enabled bool   `mapstructure:"enabled"`
		Host    string `mapstructure:"host"`
		Port    int    `mapstructure:"port"`
	} `mapstructure:"api"`

	// Prometheus metrics, served by the API router
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"metrics"`

	// Telegram history
	Storage struct {
		Enabled       bool   `mapstructure:"enabled"`
		Path          string `mapstructure:"path"`
		RetentionDays int    `mapstructure:"retention_days"`
	} `mapstructure:"storage"`

	// MQTT settings
	MQTT struct {
		Enabled                  bool   `mapstructure:"enabled"`
		Host                     string `mapstructure:"host"`
		Port                     int    `mapstructure:"port"`
		Username                 string `mapstructure:"username"`
		Password                 string `mapstructure:"password"`
		Topic                    string `mapstructure:"topic"`
		Retain                   bool   `mapstructure:"retain"`
		PublishRaw               bool   `mapstructure:"publish_raw"`
		PublishErrors            bool   `mapstructure:"publish_errors"`
		ConnectionRetryAttempts  int    `mapstructure:"connection_retry_attempts"`
		ConnectionRetryBaseDelay int    `mapstructure:"connection_retry_base_delay_seconds"`
		ConnectionTimeout        int    `mapstructure:"connection_timeout_seconds"`

		// Home Assistant Auto-Discovery settings
		HomeAssistantAutoDiscovery struct {
			Enabled              bool   `mapstructure:"enabled"`
			DiscoveryPrefix      string `mapstructure:"discovery_prefix"`
			DeviceName           string `mapstructure:"device_name"`
			DeviceManufacturer   string `mapstructure:"device_manufacturer"`
			DeviceModel          string `mapstructure:"device_model"`
			RetainDiscovery      bool   `mapstructure:"retain_discovery"`
			IncludeDiagnostic    bool   `mapstructure:"include_diagnostic"`
			ValueTemplateSuffix  string `mapstructure:"value_template_suffix"`
			ListenToBirthMessage bool   `mapstructure:"listen_to_birth_message"`
			RediscoveryInterval  int    `mapstructure:"rediscovery_interval_hours"`
		} `mapstructure:"homeassistant_autodiscovery"`
	} `mapstructure:"mqtt"`

	// PVOutput settings
	PVOutput struct {
		Enabled            bool   `mapstructure:"enabled"`
		APIKey             string `mapstructure:"api_key"`
		SystemID           string `mapstructure:"system_id"`
		UpdateLimitMinutes int    `mapstructure:"update_limit_minutes"`
		IncludeVoltage     bool   `mapstructure:"include_voltage"`
	} `mapstructure:"pvoutput"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{
		LogLevel:  "info",
		LogFormat: "console",
		TimeZone:  "UTC",
	}

	cfg.LogFile.MaxSizeMB = 10
	cfg.LogFile.MaxBackups = 3
	cfg.LogFile.MaxAgeDays = 28

	cfg.Device.ID = "p1"
	cfg.Device.Name = "P1 Logger"
	cfg.Device.Manufacturer = "P1 Logger"
	cfg.Device.Model = "60-byte telegram"

	// The logger talks 1200 8N1 without flow control
	cfg.Serial.Device = "/dev/ttyUSB0"
	cfg.Serial.BaudRate = 1200
	cfg.Serial.DataBits = 8
	cfg.Serial.StopBits = 1
	cfg.Serial.Parity = "N"
	cfg.Serial.ReadTimeoutMS = 1000
	cfg.Serial.ReconnectDelaySeconds = 5
	cfg.Serial.MaxConsecutiveFailures = 10
	// The logger sends a frame every 2 s; a minute of silence means a stuck link
	cfg.Serial.IdleTimeoutSeconds = 60

	cfg.Decoder.CRCVariant = "modbus"
	cfg.Decoder.ValidationLevel = "standard"
	cfg.Decoder.RejectInsane = true

	// Default API settings
	cfg.API.Enabled = true
	cfg.API.Host = "0.0.0.0"
	cfg.API.Port = 8080

	cfg.Metrics.Enabled = true

	cfg.Storage.Enabled = false
	cfg.Storage.Path = "p1.db"
	cfg.Storage.RetentionDays = 30

	// Default MQTT settings
	cfg.MQTT.Enabled = true
	cfg.MQTT.Host = "localhost"
	cfg.MQTT.Port = 1883
	cfg.MQTT.Topic = "energy/p1"
	cfg.MQTT.Retain = false
	cfg.MQTT.PublishRaw = true
	cfg.MQTT.PublishErrors = true
	cfg.MQTT.ConnectionRetryAttempts = 5
	cfg.MQTT.ConnectionRetryBaseDelay = 2
	cfg.MQTT.ConnectionTimeout = 10

	// Default Home Assistant Auto-Discovery settings
	cfg.MQTT.HomeAssistantAutoDiscovery.Enabled = false
	cfg.MQTT.HomeAssistantAutoDiscovery.DiscoveryPrefix = "homeassistant"
	cfg.MQTT.HomeAssistantAutoDiscovery.DeviceName = "P1 Smart Meter"
	cfg.MQTT.HomeAssistantAutoDiscovery.DeviceManufacturer = "P1 Logger"
	cfg.MQTT.HomeAssistantAutoDiscovery.DeviceModel = ""
	cfg.MQTT.HomeAssistantAutoDiscovery.RetainDiscovery = true
	cfg.MQTT.HomeAssistantAutoDiscovery.IncludeDiagnostic = true
	cfg.MQTT.HomeAssistantAutoDiscovery.ValueTemplateSuffix = ""
	cfg.MQTT.HomeAssistantAutoDiscovery.ListenToBirthMessage = true
	cfg.MQTT.HomeAssistantAutoDiscovery.RediscoveryInterval = 24 // 24 hours

	// Default PVOutput settings
	cfg.PVOutput.Enabled = false
	cfg.PVOutput.UpdateLimitMinutes = 5 // 5 minutes between updates

	return cfg
}

// Load reads the configuration from a file and environment variables.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Set up Viper
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Override with specific config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			fmt.Println("No configuration file found, using defaults")
		} else {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	// Bind environment variables, P1_SERIAL_DEVICE overrides serial.device
	v.SetEnvPrefix("P1")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside a component.
func (c *Config) Validate() error {
	var errs []error

	if c.Serial.Device == "" {
		errs = append(errs, errors.New("serial.device must be set"))
	}
	if c.Serial.BaudRate <= 0 {
		errs = append(errs, fmt.Errorf("serial.baud_rate must be positive, got %d", c.Serial.BaudRate))
	}
	if c.Serial.DataBits < 5 || c.Serial.DataBits > 8 {
		errs = append(errs, fmt.Errorf("serial.data_bits must be 5..8, got %d", c.Serial.DataBits))
	}
	if c.Serial.StopBits != 1 && c.Serial.StopBits != 2 {
		errs = append(errs, fmt.Errorf("serial.stop_bits must be 1 or 2, got %d", c.Serial.StopBits))
	}
	switch strings.ToUpper(c.Serial.Parity) {
	case "N", "E", "O", "NONE", "EVEN", "ODD":
	default:
		errs = append(errs, fmt.Errorf("serial.parity %q not supported", c.Serial.Parity))
	}
	if c.Serial.IdleTimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("serial.idle_timeout_seconds must not be negative, got %d", c.Serial.IdleTimeoutSeconds))
	}
	if c.Serial.MaxConsecutiveFailures < 1 {
		errs = append(errs, fmt.Errorf("serial.max_consecutive_failures must be at least 1, got %d", c.Serial.MaxConsecutiveFailures))
	}

	switch c.Decoder.ValidationLevel {
	case "basic", "standard", "strict":
	default:
		errs = append(errs, fmt.Errorf("decoder.validation_level %q must be basic, standard or strict", c.Decoder.ValidationLevel))
	}

	if c.Storage.Enabled && c.Storage.Path == "" {
		errs = append(errs, errors.New("storage.path must be set when storage is enabled"))
	}

	switch c.LogFormat {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format %q must be console or json", c.LogFormat))
	}

	return errors.Join(errs...)
}

// ReconnectDelay returns the pause between serial reconnect attempts.
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Serial.ReconnectDelaySeconds) * time.Second
}

// IdleTimeout returns how long the link may stay silent before it is
// reopened. Zero disables the check.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Serial.IdleTimeoutSeconds) * time.Second
}

// ReadTimeout returns the serial read timeout.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Serial.ReadTimeoutMS) * time.Millisecond
}

// Print displays the current configuration.
func (c *Config) Print() {
	logger := log.With().Str("component", "config").Logger()
	logger.Info().Msg("go-p1 Configuration:")
	logger.Info().Msg("-----------------------------")
	logger.Info().Str("log_level", c.LogLevel).Msg("Log Level")
	logger.Info().Str("log_format", c.LogFormat).Msg("Log Format")
	if c.LogFile.Filename != "" {
		logger.Info().Str("filename", c.LogFile.Filename).Int("max_size_mb", c.LogFile.MaxSizeMB).Msg("Log File")
	}
	logger.Info().Str("timezone", c.TimeZone).Msg("Timezone")

	logger.Info().
		Str("device", c.Serial.Device).
		Int("baud_rate", c.Serial.BaudRate).
		Str("framing", fmt.Sprintf("%d%s%d", c.Serial.DataBits, strings.ToUpper(c.Serial.Parity[:min(1, len(c.Serial.Parity))]), c.Serial.StopBits)).
		Int("reconnect_delay_seconds", c.Serial.ReconnectDelaySeconds).
		Int("max_consecutive_failures", c.Serial.MaxConsecutiveFailures).
		Int("idle_timeout_seconds", c.Serial.IdleTimeoutSeconds).
		Msg("Serial")

	logger.Info().
		Str("crc_variant", c.Decoder.CRCVariant).
		Str("validation_level", c.Decoder.ValidationLevel).
		Bool("reject_insane", c.Decoder.RejectInsane).
		Msg("Decoder")

	logger.Info().Bool("enabled", c.API.Enabled).Msg("API Enabled")
	if c.API.Enabled {
		logger.Info().
			Str("host", c.API.Host).
			Int("port", c.API.Port).
			Bool("metrics", c.Metrics.Enabled).
			Msg("API Server")
	}

	logger.Info().Bool("enabled", c.Storage.Enabled).Msg("Storage Enabled")
	if c.Storage.Enabled {
		logger.Info().
			Str("path", c.Storage.Path).
			Int("retention_days", c.Storage.RetentionDays).
			Msg("Storage")
	}

	logger.Info().Bool("enabled", c.MQTT.Enabled).Msg("MQTT Enabled")
	if c.MQTT.Enabled {
		logger.Info().
			Str("host", c.MQTT.Host).
			Int("port", c.MQTT.Port).
			Str("topic", c.MQTT.Topic).
			Bool("publish_raw", c.MQTT.PublishRaw).
			Bool("publish_errors", c.MQTT.PublishErrors).
			Bool("homeassistant_autodiscovery_enabled", c.MQTT.HomeAssistantAutoDiscovery.Enabled).
			Msg("MQTT Configuration")
	}

	logger.Info().Bool("enabled", c.PVOutput.Enabled).Msg("PVOutput Enabled")
	if c.PVOutput.Enabled {
		logger.Info().
			Str("system_id", c.PVOutput.SystemID).
			Int("update_limit_minutes", c.PVOutput.UpdateLimitMinutes).
			Msg("PVOutput Configuration")
	}

	logger.Info().Msg("-----------------------------")
}
