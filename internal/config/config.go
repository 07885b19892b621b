// Package config handles loading and validating napwatch configuration.
// Supports YAML config files and environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/marcus/napwatch/internal/logging"
)

// Validation errors.
var (
	ErrMissingServerURL  = errors.New("server.url is required")
	ErrInvalidServerURL  = errors.New("server.url must start with http:// or https://")
	ErrInvalidRefresh    = errors.New("refresh.interval must be at least 5s")
	ErrInvalidRollover   = errors.New("refresh.rollover is not a valid cron expression")
	ErrNegativeLead      = errors.New("reminder.lead_sec must not be negative")
	ErrInvalidSnooze     = errors.New("reminder.snooze must be at least 10s")
	ErrInvalidLogLevel   = errors.New("logging.level must be one of: debug, info, warn, error")
	ErrInvalidLogFormat  = errors.New("logging.format must be one of: json, text")
	ErrNegativeRetention = errors.New("logging.retention_days must not be negative")
)

// ServerConfig points at the schedule server.
type ServerConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// RefreshConfig controls how often the daemon re-fetches the schedule.
type RefreshConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	// Rollover is a cron expression for the daily schedule reset.
	Rollover string `mapstructure:"rollover"`
}

// ReminderConfig holds reminder defaults. LeadSec is only the fallback
// used before a stored preference exists.
type ReminderConfig struct {
	LeadSec int           `mapstructure:"lead_sec"`
	Snooze  time.Duration `mapstructure:"snooze"`
}

// DebugConfig holds development-only knobs.
type DebugConfig struct {
	// ClockOffset shifts the engine's notion of "now" without touching
	// the wall clock. Zero in normal operation.
	ClockOffset time.Duration `mapstructure:"clock_offset"`
}

// Config holds all napwatch configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Refresh  RefreshConfig  `mapstructure:"refresh"`
	Reminder ReminderConfig `mapstructure:"reminder"`
	DataDir  string         `mapstructure:"data_dir"`
	Logging  logging.Config `mapstructure:"logging"`
	Debug    DebugConfig    `mapstructure:"debug"`
}

// GlobalConfigPath returns the path of the user-level config file.
func GlobalConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "napwatch", "napwatch.yaml")
}

// DefaultDataDir returns where databases live by default.
func DefaultDataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "napwatch")
}

// Load reads configuration from file and environment. An empty path
// falls back to the global config file; a missing file yields defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("server.url", "http://localhost:4000")
	v.SetDefault("server.timeout", 10*time.Second)
	v.SetDefault("refresh.interval", time.Minute)
	v.SetDefault("refresh.rollover", "0 3 * * *")
	v.SetDefault("reminder.lead_sec", 600)
	v.SetDefault("reminder.snooze", 2*time.Minute)
	v.SetDefault("data_dir", DefaultDataDir())

	logDefaults := logging.DefaultConfig()
	v.SetDefault("logging.level", logDefaults.Level)
	v.SetDefault("logging.path", logDefaults.Path)
	v.SetDefault("logging.format", logDefaults.Format)
	v.SetDefault("logging.retention_days", logDefaults.RetentionDays)

	v.SetEnvPrefix("NAPWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = GlobalConfigPath()
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks configuration invariants.
func Validate(cfg *Config) error {
	if cfg.Server.URL == "" {
		return ErrMissingServerURL
	}
	if !strings.HasPrefix(cfg.Server.URL, "http://") && !strings.HasPrefix(cfg.Server.URL, "https://") {
		return ErrInvalidServerURL
	}
	if cfg.Refresh.Interval != 0 && cfg.Refresh.Interval < 5*time.Second {
		return ErrInvalidRefresh
	}
	if cfg.Refresh.Rollover != "" {
		if _, err := cron.ParseStandard(cfg.Refresh.Rollover); err != nil {
			return ErrInvalidRollover
		}
	}
	if cfg.Reminder.LeadSec < 0 {
		return ErrNegativeLead
	}
	if cfg.Reminder.Snooze != 0 && cfg.Reminder.Snooze < 10*time.Second {
		return ErrInvalidSnooze
	}
	if cfg.Logging.Level != "" {
		switch strings.ToLower(cfg.Logging.Level) {
		case "debug", "info", "warn", "error":
		default:
			return ErrInvalidLogLevel
		}
	}
	if cfg.Logging.Format != "" && cfg.Logging.Format != "json" && cfg.Logging.Format != "text" {
		return ErrInvalidLogFormat
	}
	if cfg.Logging.RetentionDays < 0 {
		return ErrNegativeRetention
	}
	return nil
}
