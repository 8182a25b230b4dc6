package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Host backends
const (
	BackendAuto  = "auto"
	BackendGoBLE = "go-ble"
	BackendBlueZ = "bluez"
)

// Config holds application configuration
type Config struct {
	LogLevel string `yaml:"log_level" default:"info"`
	// Backend selects the host stack: auto, go-ble or bluez.
	Backend   string `yaml:"backend" default:"auto"`
	AdapterID string `yaml:"adapter" default:"hci0"`

	PowerOnTimeout    time.Duration `yaml:"power_on_timeout" default:"10s"`
	SubmissionTimeout time.Duration `yaml:"submission_timeout" default:"5s"`
	AdvertiseSettle   time.Duration `yaml:"advertise_settle" default:"250ms"`
	RequestTimeout    time.Duration `yaml:"request_timeout" default:"2s"`
	EventBuffer       int           `yaml:"event_buffer" default:"64"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML config file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the backend name, the log level and that every duration
// is positive.
func (c *Config) Validate() error {
	var errs []error

	switch c.Backend {
	case BackendAuto, BackendGoBLE, BackendBlueZ:
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q (want %s, %s or %s)", c.Backend, BackendAuto, BackendGoBLE, BackendBlueZ))
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.Backend == BackendBlueZ && c.AdapterID == "" {
		errs = append(errs, errors.New("adapter must be set for the bluez backend"))
	}

	durations := []struct {
		name string
		d    time.Duration
	}{
		{"power_on_timeout", c.PowerOnTimeout},
		{"submission_timeout", c.SubmissionTimeout},
		{"advertise_settle", c.AdvertiseSettle},
		{"request_timeout", c.RequestTimeout},
	}
	for _, d := range durations {
		if d.d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", d.name, d.d))
		}
	}
	if c.EventBuffer <= 0 {
		errs = append(errs, fmt.Errorf("event_buffer must be positive, got %d", c.EventBuffer))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Level returns the parsed log level, falling back to info.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
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
