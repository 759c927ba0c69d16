// Package config loads the server configuration from the environment.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Platform variants.
const (
	// VariantPrimitive schedules one-shot alarms and re-arms them weekly.
	VariantPrimitive = "primitive"
	// VariantNative uses the recurring engine with the queue as fallback.
	VariantNative = "native"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string `envconfig:"HTTP_ADDR" default:":8099"`
	DataDir   string `envconfig:"DATA_DIR" default:"/data"`
	StaticDir string `envconfig:"STATIC_DIR" default:"./static"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"` // debug|info|warn|error
	Timezone  string `envconfig:"TIMEZONE" default:"Local"`

	PlatformVariant string `envconfig:"PLATFORM_VARIANT" default:"primitive"` // primitive|native
	ExactAlarms     bool   `envconfig:"EXACT_ALARMS" default:"true"`

	NativeEngine       bool `envconfig:"NATIVE_ENGINE" default:"true"`
	OSVersion          int  `envconfig:"OS_VERSION" default:"16"`
	NativeMinOSVersion int  `envconfig:"NATIVE_MIN_OS_VERSION" default:"16"`

	QueueCapacity     int           `envconfig:"QUEUE_CAPACITY" default:"64"`
	LookaheadDays     int           `envconfig:"LOOKAHEAD_DAYS" default:"7"`
	ResyncInterval    time.Duration `envconfig:"RESYNC_INTERVAL" default:"15m"`
	QueuePollInterval time.Duration `envconfig:"QUEUE_POLL_INTERVAL" default:"15s"`

	// AlertLauncher is run when no WebSocket client can show an alert.
	AlertLauncher     string   `envconfig:"ALERT_LAUNCHER"`
	AlertLauncherArgs []string `envconfig:"ALERT_LAUNCHER_ARGS"`
}

// Load reads environment variables into Config.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Validate checks values envconfig cannot.
func (c Config) Validate() error {
	switch c.PlatformVariant {
	case VariantPrimitive, VariantNative:
	default:
		return fmt.Errorf("PLATFORM_VARIANT must be %q or %q, got %q", VariantPrimitive, VariantNative, c.PlatformVariant)
	}
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("QUEUE_CAPACITY must be positive, got %d", c.QueueCapacity)
	}
	if c.LookaheadDays <= 0 {
		return fmt.Errorf("LOOKAHEAD_DAYS must be positive, got %d", c.LookaheadDays)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves the configured time zone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// DBPath is the SQLite database file inside DataDir.
func (c Config) DBPath() string {
	return filepath.Join(c.DataDir, "interval-alarm.db")
}
