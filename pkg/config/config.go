package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	LogLevel     string `yaml:"log_level" default:"info"`
	OutputFormat string `yaml:"output_format" default:"table"` // table, json

	Central    CentralConfig    `yaml:"central"`
	Peripheral PeripheralConfig `yaml:"peripheral"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// CentralConfig tunes the central role session manager.
type CentralConfig struct {
	ScanTimeout      time.Duration `yaml:"scan_timeout" default:"10s"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout" default:"30s"`
	OperationTimeout time.Duration `yaml:"operation_timeout" default:"10s"`

	// PreferredMTU is requested after connecting; 0 skips the exchange.
	PreferredMTU int `yaml:"preferred_mtu" default:"185"`

	// WriteWithoutResponseRate limits unacknowledged writes per second per peripheral.
	WriteWithoutResponseRate  float64 `yaml:"write_without_response_rate" default:"100"`
	WriteWithoutResponseBurst int     `yaml:"write_without_response_burst" default:"10"`

	// NotificationBuffer bounds notifications waiting to be demultiplexed per peripheral.
	NotificationBuffer uint32 `yaml:"notification_buffer" default:"256"`
	// ActionBuffer bounds actions waiting for each delegate subscriber.
	ActionBuffer int `yaml:"action_buffer" default:"512"`
	// OperationQueueSize bounds queued ATT operations per peripheral.
	OperationQueueSize int `yaml:"operation_queue_size" default:"64"`

	// RestoreDir stores state for managers created with a restore identifier.
	RestoreDir string `yaml:"restore_dir" default:".bleflow/restore"`
}

// PeripheralConfig tunes the peripheral manager role.
type PeripheralConfig struct {
	// RequestTimeout bounds how long a central's read/write waits for Respond.
	RequestTimeout time.Duration `yaml:"request_timeout" default:"5s"`
	ActionBuffer   int           `yaml:"action_buffer" default:"512"`

	// RestoreDir stores published services for managers created with a restore identifier.
	RestoreDir string `yaml:"restore_dir" default:".bleflow/restore"`
}

// TracingConfig selects the OpenTelemetry exporter.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled" default:"false"`
	Exporter string `yaml:"exporter" default:"noop"` // noop, stdout
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file over the defaults. A missing path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that the rest of the module relies on.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}
	switch c.OutputFormat {
	case "table", "json":
	default:
		return fmt.Errorf("invalid output format '%s': must be one of [table json]", c.OutputFormat)
	}
	if c.Central.ConnectTimeout <= 0 {
		return fmt.Errorf("central.connect_timeout must be positive")
	}
	if c.Central.OperationTimeout <= 0 {
		return fmt.Errorf("central.operation_timeout must be positive")
	}
	if c.Central.NotificationBuffer == 0 || c.Central.ActionBuffer <= 0 || c.Peripheral.ActionBuffer <= 0 {
		return fmt.Errorf("buffer sizes must be positive")
	}
	if c.Central.OperationQueueSize <= 0 {
		return fmt.Errorf("central.operation_queue_size must be positive")
	}
	return nil
}

// Level returns the parsed log level, falling back to info.
func (c *Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
