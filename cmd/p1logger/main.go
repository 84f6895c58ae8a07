// Package main provides the entry point for the go-p1 collector.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/resident-x/go-p1/internal/config"
	"github.com/resident-x/go-p1/internal/domain"
	"github.com/resident-x/go-p1/internal/metrics"
	"github.com/resident-x/go-p1/internal/parser"
	"github.com/resident-x/go-p1/internal/pubsub"
	"github.com/resident-x/go-p1/internal/service"
	pvoutput "github.com/resident-x/go-p1/internal/service/pvoutput"
	"github.com/resident-x/go-p1/internal/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	Version = "unknown" // Default version, can be overridden by build flags
)

func main() {
	code := run()
	os.Exit(code)
}

func run() int {
	configFile := flag.String("config", "config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("go-p1 collector %s\n", Version)
		return 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		return 1
	}

	closeLog := initLogger(cfg)
	defer closeLog()

	log.Info().Str("version", Version).Msg("Starting go-p1 collector")

	logServiceConfiguration(cfg)

	decoder, err := parser.NewParser(cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize parser")
		return 1
	}

	var publisher domain.MessagePublisher
	if cfg.MQTT.Enabled {
		mqttPublisher := pubsub.NewMQTTPublisher(cfg)
		if err := mqttPublisher.Connect(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to set up MQTT publisher, using noop publisher")
			publisher = pubsub.NewNoopPublisher()
		} else {
			publisher = mqttPublisher
			log.Info().Msg("MQTT publisher started")
		}
	} else {
		log.Info().Msg("MQTT disabled, using noop publisher")
		publisher = pubsub.NewNoopPublisher()
	}

	var monitoringService domain.MonitoringService
	if cfg.PVOutput.Enabled {
		pvoutClient := pvoutput.NewClient(cfg)
		if err := pvoutClient.Connect(); err != nil {
			log.Warn().Err(err).Msg("Failed to initialize PVOutput client")
			monitoringService = pvoutput.NewNoopClient()
		} else {
			monitoringService = pvoutClient
		}
	} else {
		monitoringService = pvoutput.NewNoopClient()
	}

	opts := []service.Option{service.WithVersion(Version)}

	if cfg.Storage.Enabled {
		store, err := storage.Open(cfg.Storage.Path, log.Logger)
		if err != nil {
			log.Error().Err(err).Str("path", cfg.Storage.Path).Msg("Failed to open telegram store")
			return 1
		}
		opts = append(opts, service.WithStore(store))
	}

	if cfg.Metrics.Enabled {
		reg := metrics.NewRegistry()
		opts = append(opts, service.WithMetrics(metrics.NewAppMetrics(reg), metrics.Handler(reg)))
	}

	srv, err := service.NewDataCollectionServer(cfg, decoder, publisher, monitoringService, opts...)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create data collection server")
		return 1
	}

	if err := srv.Start(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to start data collection server")
		return 1
	}

	log.Info().
		Str("device", cfg.Serial.Device).
		Int("baud_rate", cfg.Serial.BaudRate).
		Msg("Data collection server started successfully")

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-signalChan
	log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping server")
		return 1
	}

	log.Info().Msg("Server stopped")
	return 0
}

// initLogger configures the global zerolog logger. The returned function
// closes the rolling log file, if any.
func initLogger(cfg *config.Config) func() {
	logLevel, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || cfg.LogLevel == "" {
		fmt.Printf("Invalid log level '%s', defaulting to 'info'\n", cfg.LogLevel)
		logLevel = zerolog.InfoLevel
	}

	var output io.Writer = os.Stderr
	if cfg.LogFormat != "json" {
		output = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	closer := func() {}
	if cfg.LogFile.Filename != "" {
		// The file always gets JSON so it can be shipped as is
		rolling := &lumberjack.Logger{
			Filename:   cfg.LogFile.Filename,
			MaxSize:    cfg.LogFile.MaxSizeMB,
			MaxBackups: cfg.LogFile.MaxBackups,
			MaxAge:     cfg.LogFile.MaxAgeDays,
			Compress:   cfg.LogFile.Compress,
		}
		output = zerolog.MultiLevelWriter(output, rolling)
		closer = func() { _ = rolling.Close() }
	}

	zerolog.SetGlobalLevel(logLevel)
	log.Logger = zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Logger()

	return closer
}

// logServiceConfiguration logs the current service configuration for debugging.
func logServiceConfiguration(cfg *config.Config) {
	log.Debug().Msg("=== Service Configuration ===")

	log.Debug().
		Str("log_level", cfg.LogLevel).
		Str("log_format", cfg.LogFormat).
		Str("timezone", cfg.TimeZone).
		Str("device_id", cfg.Device.ID).
		Msg("General settings")

	log.Debug().
		Str("device", cfg.Serial.Device).
		Int("baud_rate", cfg.Serial.BaudRate).
		Int("read_timeout_ms", cfg.Serial.ReadTimeoutMS).
		Int("reconnect_delay_seconds", cfg.Serial.ReconnectDelaySeconds).
		Int("idle_timeout_seconds", cfg.Serial.IdleTimeoutSeconds).
		Int("max_consecutive_failures", cfg.Serial.MaxConsecutiveFailures).
		Msg("Serial link configuration")

	log.Debug().
		Str("crc_variant", cfg.Decoder.CRCVariant).
		Str("validation_level", cfg.Decoder.ValidationLevel).
		Bool("reject_insane", cfg.Decoder.RejectInsane).
		Msg("Decoder configuration")

	log.Debug().
		Bool("enabled", cfg.API.Enabled).
		Str("host", cfg.API.Host).
		Int("port", cfg.API.Port).
		Bool("metrics", cfg.Metrics.Enabled).
		Msg("HTTP API configuration")

	if cfg.Storage.Enabled {
		log.Debug().
			Str("path", cfg.Storage.Path).
			Int("retention_days", cfg.Storage.RetentionDays).
			Msg("Telegram history configuration")
	} else {
		log.Debug().Bool("enabled", false).Msg("Telegram history disabled")
	}

	if cfg.MQTT.Enabled {
		log.Debug().
			Str("host", cfg.MQTT.Host).
			Int("port", cfg.MQTT.Port).
			Str("username", cfg.MQTT.Username).
			Str("topic", cfg.MQTT.Topic).
			Bool("retain", cfg.MQTT.Retain).
			Bool("publish_raw", cfg.MQTT.PublishRaw).
			Bool("publish_errors", cfg.MQTT.PublishErrors).
			Msg("MQTT configuration")

		ha := cfg.MQTT.HomeAssistantAutoDiscovery
		if ha.Enabled {
			log.Debug().
				Str("discovery_prefix", ha.DiscoveryPrefix).
				Str("device_name", ha.DeviceName).
				Bool("retain_discovery", ha.RetainDiscovery).
				Msg("Home Assistant auto-discovery configuration")
		} else {
			log.Debug().Bool("enabled", false).Msg("Home Assistant auto-discovery disabled")
		}
	} else {
		log.Debug().Bool("enabled", false).Msg("MQTT disabled")
	}

	if cfg.PVOutput.Enabled {
		log.Debug().
			Str("system_id", cfg.PVOutput.SystemID).
			Int("update_limit_minutes", cfg.PVOutput.UpdateLimitMinutes).
			Bool("include_voltage", cfg.PVOutput.IncludeVoltage).
			Msg("PVOutput configuration")
	} else {
		log.Debug().Bool("enabled", false).Msg("PVOutput disabled")
	}

	log.Debug().Msg("=== End Configuration ===")
}
