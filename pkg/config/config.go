// Package config provides configuration management for agentcore.
// Supports TOML configuration files with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/armorclaw/agentcore/pkg/breaker"
	"github.com/armorclaw/agentcore/pkg/eventbus"
	"github.com/armorclaw/agentcore/pkg/history"
	"github.com/armorclaw/agentcore/pkg/logger"
	"github.com/armorclaw/agentcore/pkg/monitor"
	"github.com/armorclaw/agentcore/pkg/ops"
	"github.com/armorclaw/agentcore/pkg/rca"
)

var (
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingValue  = errors.New("missing required configuration value")
)

// Duration is a time.Duration written as a Go duration string ("60s")
type Duration struct {
	time.Duration
}

// D wraps d
func D(d time.Duration) Duration {
	return Duration{d}
}

// UnmarshalText parses a Go duration string
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

// MarshalText renders the duration as a Go duration string
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config holds all agentcore configuration
type Config struct {
	Logging  LoggingConfig  `toml:"logging"`
	Breaker  BreakerConfig  `toml:"breaker"`
	Bus      BusConfig      `toml:"bus"`
	Notifier NotifierConfig `toml:"notifier"`
	Monitor  MonitorConfig  `toml:"monitor"`
	RCA      RCAConfig      `toml:"rca"`
	History  HistoryConfig  `toml:"history"`
	Ops      OpsConfig      `toml:"ops"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	// Level is one of debug, info, warn, error
	Level string `toml:"level"`

	// Format is json or text
	Format string `toml:"format"`

	// Output is stdout, stderr or a file path
	Output string `toml:"output"`
}

// BreakerConfig holds per-destination circuit breaker configuration
type BreakerConfig struct {
	FailureThreshold int      `toml:"failure_threshold"`
	RecoveryTimeout  Duration `toml:"recovery_timeout"`
	HalfOpenMaxCalls int      `toml:"half_open_max_calls"`
	MonitoringPeriod Duration `toml:"monitoring_period"`

	// MaxBreakers bounds the number of tracked destinations
	MaxBreakers int `toml:"max_breakers"`
}

// BusConfig holds event router configuration
type BusConfig struct {
	MaxSubscriptions int      `toml:"max_subscriptions"`
	MaxFailedEvents  int      `toml:"max_failed_events"`
	MaxRetries       int      `toml:"max_retries"`
	MinRetryAge      Duration `toml:"min_retry_age"`
	FailedEventTTL   Duration `toml:"failed_event_ttl"`
	ReactivateAfter  Duration `toml:"reactivate_after"`
	RetryConcurrency int      `toml:"retry_concurrency"`
	RetryInterval    Duration `toml:"retry_interval"`
	EvictInterval    Duration `toml:"evict_interval"`
	RequestTimeout   Duration `toml:"request_timeout"`
}

// NotifierConfig holds direct notification configuration
type NotifierConfig struct {
	MaxEndpoints  int     `toml:"max_endpoints"`
	RatePerSecond float64 `toml:"rate_per_second"`
	Burst         int     `toml:"burst"`
}

// MonitorConfig holds error monitor configuration
type MonitorConfig struct {
	Interval      Duration `toml:"interval"`
	Retention     Duration `toml:"retention"`
	HealthMaxRate float64  `toml:"health_max_rate"`
	MaxReports    int      `toml:"max_reports"`
	MaxTrends     int      `toml:"max_trends"`
	MaxAlerts     int      `toml:"max_alerts"`
	TrendWindow   Duration `toml:"trend_window"`
}

// RCAConfig holds root cause analyzer configuration
type RCAConfig struct {
	RelatedWindow   Duration `toml:"related_window"`
	RelatedLimit    int      `toml:"related_limit"`
	MessagePrefix   int      `toml:"message_prefix"`
	CostPerUserHour float64  `toml:"cost_per_user_hour"`
	CacheMaxEntries int      `toml:"cache_max_entries"`
	CacheMaxAge     Duration `toml:"cache_max_age"`
	SweepInterval   Duration `toml:"sweep_interval"`
}

// HistoryConfig holds SQLite error history configuration
type HistoryConfig struct {
	Enabled         bool     `toml:"enabled"`
	Path            string   `toml:"path"`
	RetentionDays   int      `toml:"retention_days"`
	CleanupInterval Duration `toml:"cleanup_interval"`
}

// OpsConfig holds operator HTTP surface configuration
type OpsConfig struct {
	Enabled         bool     `toml:"enabled"`
	ListenAddr      string   `toml:"listen_addr"`
	Mode            string   `toml:"mode"`
	AllowedOrigins  []string `toml:"allowed_origins"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	b := breaker.DefaultConfig()
	bus := eventbus.DefaultConfig()
	mon := monitor.DefaultConfig()
	an := rca.DefaultConfig()
	hist := history.DefaultConfig()
	o := ops.DefaultConfig()

	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Breaker: BreakerConfig{
			FailureThreshold: b.FailureThreshold,
			RecoveryTimeout:  D(b.RecoveryTimeout),
			HalfOpenMaxCalls: b.HalfOpenMaxCalls,
			MonitoringPeriod: D(b.MonitoringPeriod),
			MaxBreakers:      bus.MaxBreakers,
		},
		Bus: BusConfig{
			MaxSubscriptions: bus.Router.MaxSubscriptions,
			MaxFailedEvents:  bus.Router.MaxFailedEvents,
			MaxRetries:       bus.Router.MaxRetries,
			MinRetryAge:      D(bus.Router.MinRetryAge),
			FailedEventTTL:   D(bus.Router.FailedEventTTL),
			ReactivateAfter:  D(bus.Router.ReactivateAfter),
			RetryConcurrency: bus.Router.RetryConcurrency,
			RetryInterval:    D(bus.RetryInterval),
			EvictInterval:    D(bus.EvictInterval),
			RequestTimeout:   D(bus.RequestTimeout),
		},
		Notifier: NotifierConfig{
			MaxEndpoints:  bus.Notifier.MaxEndpoints,
			RatePerSecond: bus.Notifier.RatePerSecond,
			Burst:         bus.Notifier.Burst,
		},
		Monitor: MonitorConfig{
			Interval:      D(mon.Interval),
			Retention:     D(mon.Retention),
			HealthMaxRate: mon.HealthMaxRate,
			MaxReports:    mon.Collector.MaxReports,
			MaxTrends:     mon.Collector.MaxTrends,
			MaxAlerts:     mon.Alerts.MaxAlerts,
			TrendWindow:   D(mon.TrendWindow),
		},
		RCA: RCAConfig{
			RelatedWindow:   D(an.RelatedWindow),
			RelatedLimit:    an.RelatedLimit,
			MessagePrefix:   an.MessagePrefix,
			CostPerUserHour: an.CostPerUserHour,
			CacheMaxEntries: an.Cache.MaxEntries,
			CacheMaxAge:     D(an.Cache.MaxAge),
			SweepInterval:   D(10 * time.Minute),
		},
		History: HistoryConfig{
			Enabled:         true,
			Path:            hist.Path,
			RetentionDays:   hist.RetentionDays,
			CleanupInterval: D(6 * time.Hour),
		},
		Ops: OpsConfig{
			Enabled:         true,
			ListenAddr:      o.ListenAddr,
			Mode:            o.Mode,
			AllowedOrigins:  o.AllowedOrigins,
			ShutdownTimeout: D(o.ShutdownTimeout),
		},
	}
}

// ConfigPaths returns the list of default configuration file paths to check
func ConfigPaths() []string {
	homeDir, _ := os.UserHomeDir()
	return []string{
		filepath.Join(homeDir, ".agentcore", "config.toml"),
		filepath.Join("/etc", "agentcore", "config.toml"),
		"./config.toml",
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("%w: logging.level must be one of: debug, info, warn, error", ErrInvalidConfig)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("%w: logging.format must be one of: json, text", ErrInvalidConfig)
	}
	if c.Logging.Output == "" {
		return fmt.Errorf("%w: logging.output is required", ErrMissingValue)
	}

	positiveInts := []struct {
		name  string
		value int
	}{
		{"breaker.failure_threshold", c.Breaker.FailureThreshold},
		{"breaker.half_open_max_calls", c.Breaker.HalfOpenMaxCalls},
		{"breaker.max_breakers", c.Breaker.MaxBreakers},
		{"bus.max_subscriptions", c.Bus.MaxSubscriptions},
		{"bus.max_failed_events", c.Bus.MaxFailedEvents},
		{"bus.retry_concurrency", c.Bus.RetryConcurrency},
		{"notifier.max_endpoints", c.Notifier.MaxEndpoints},
		{"notifier.burst", c.Notifier.Burst},
		{"monitor.max_reports", c.Monitor.MaxReports},
		{"monitor.max_trends", c.Monitor.MaxTrends},
		{"monitor.max_alerts", c.Monitor.MaxAlerts},
		{"rca.related_limit", c.RCA.RelatedLimit},
		{"rca.message_prefix", c.RCA.MessagePrefix},
		{"rca.cache_max_entries", c.RCA.CacheMaxEntries},
	}
	for _, v := range positiveInts {
		if v.value <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, v.name)
		}
	}
	if c.Bus.MaxRetries < 0 {
		return fmt.Errorf("%w: bus.max_retries cannot be negative", ErrInvalidConfig)
	}

	positiveDurations := []struct {
		name  string
		value Duration
	}{
		{"breaker.recovery_timeout", c.Breaker.RecoveryTimeout},
		{"bus.failed_event_ttl", c.Bus.FailedEventTTL},
		{"bus.reactivate_after", c.Bus.ReactivateAfter},
		{"bus.retry_interval", c.Bus.RetryInterval},
		{"bus.evict_interval", c.Bus.EvictInterval},
		{"bus.request_timeout", c.Bus.RequestTimeout},
		{"monitor.interval", c.Monitor.Interval},
		{"monitor.retention", c.Monitor.Retention},
		{"monitor.trend_window", c.Monitor.TrendWindow},
		{"rca.related_window", c.RCA.RelatedWindow},
		{"rca.cache_max_age", c.RCA.CacheMaxAge},
		{"rca.sweep_interval", c.RCA.SweepInterval},
	}
	for _, v := range positiveDurations {
		if v.value.Duration <= 0 {
			return fmt.Errorf("%w: %s must be a positive duration", ErrInvalidConfig, v.name)
		}
	}
	if c.Bus.MinRetryAge.Duration < 0 {
		return fmt.Errorf("%w: bus.min_retry_age cannot be negative", ErrInvalidConfig)
	}

	if c.Notifier.RatePerSecond <= 0 {
		return fmt.Errorf("%w: notifier.rate_per_second must be positive", ErrInvalidConfig)
	}
	if c.Monitor.HealthMaxRate <= 0 {
		return fmt.Errorf("%w: monitor.health_max_rate must be positive", ErrInvalidConfig)
	}
	if c.RCA.CostPerUserHour < 0 {
		return fmt.Errorf("%w: rca.cost_per_user_hour cannot be negative", ErrInvalidConfig)
	}

	if c.History.Enabled {
		if c.History.Path == "" {
			return fmt.Errorf("%w: history.path is required when history is enabled", ErrMissingValue)
		}
		dir := filepath.Dir(c.History.Path)
		if err := validateDirectoryWritable(dir); err != nil {
			return fmt.Errorf("%w: history directory %s: %w", ErrInvalidConfig, dir, err)
		}
		if c.History.RetentionDays <= 0 {
			return fmt.Errorf("%w: history.retention_days must be positive", ErrInvalidConfig)
		}
		if c.History.CleanupInterval.Duration <= 0 {
			return fmt.Errorf("%w: history.cleanup_interval must be a positive duration", ErrInvalidConfig)
		}
	}

	if c.Ops.Enabled {
		if c.Ops.ListenAddr == "" {
			return fmt.Errorf("%w: ops.listen_addr is required when ops is enabled", ErrMissingValue)
		}
		validModes := map[string]bool{"debug": true, "release": true, "test": true}
		if !validModes[c.Ops.Mode] {
			return fmt.Errorf("%w: ops.mode must be one of: debug, release, test", ErrInvalidConfig)
		}
	}

	return nil
}

// validateDirectoryWritable checks that dir exists or can be created, and
// accepts writes
func validateDirectoryWritable(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return fmt.Errorf("cannot create directory: %w", err)
			}
			return nil
		}
		return fmt.Errorf("cannot access directory: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("not a directory")
	}

	testFile := filepath.Join(dir, ".write_test")
	f, err := os.Create(testFile)
	if err != nil {
		return fmt.Errorf("cannot write to directory: %w", err)
	}
	f.Close()
	os.Remove(testFile)

	return nil
}

// ToLoggerConfig converts to logger configuration
func (c *Config) ToLoggerConfig() logger.Config {
	return logger.Config{
		Level:     c.Logging.Level,
		Format:    c.Logging.Format,
		Output:    c.Logging.Output,
		Component: "agentcore",
	}
}

// ToBusConfig converts to event bus configuration, breakers included
func (c *Config) ToBusConfig() eventbus.Config {
	return eventbus.Config{
		Router: eventbus.RouterConfig{
			MaxSubscriptions: c.Bus.MaxSubscriptions,
			MaxFailedEvents:  c.Bus.MaxFailedEvents,
			MaxRetries:       c.Bus.MaxRetries,
			MinRetryAge:      c.Bus.MinRetryAge.Duration,
			FailedEventTTL:   c.Bus.FailedEventTTL.Duration,
			ReactivateAfter:  c.Bus.ReactivateAfter.Duration,
			RetryConcurrency: c.Bus.RetryConcurrency,
		},
		Notifier: eventbus.NotifierConfig{
			MaxEndpoints:  c.Notifier.MaxEndpoints,
			RatePerSecond: c.Notifier.RatePerSecond,
			Burst:         c.Notifier.Burst,
		},
		Breaker: breaker.Config{
			FailureThreshold: c.Breaker.FailureThreshold,
			RecoveryTimeout:  c.Breaker.RecoveryTimeout.Duration,
			HalfOpenMaxCalls: c.Breaker.HalfOpenMaxCalls,
			MonitoringPeriod: c.Breaker.MonitoringPeriod.Duration,
		},
		MaxBreakers:    c.Breaker.MaxBreakers,
		RetryInterval:  c.Bus.RetryInterval.Duration,
		EvictInterval:  c.Bus.EvictInterval.Duration,
		RequestTimeout: c.Bus.RequestTimeout.Duration,
	}
}

// ToMonitorConfig converts to error monitor configuration
func (c *Config) ToMonitorConfig() monitor.Config {
	cfg := monitor.DefaultConfig()
	cfg.Interval = c.Monitor.Interval.Duration
	cfg.Retention = c.Monitor.Retention.Duration
	cfg.HealthMaxRate = c.Monitor.HealthMaxRate
	cfg.TrendWindow = c.Monitor.TrendWindow.Duration
	cfg.Collector.MaxReports = c.Monitor.MaxReports
	cfg.Collector.MaxTrends = c.Monitor.MaxTrends
	cfg.Alerts.MaxAlerts = c.Monitor.MaxAlerts
	return cfg
}

// ToRCAConfig converts to root cause analyzer configuration
func (c *Config) ToRCAConfig() rca.Config {
	return rca.Config{
		RelatedWindow:   c.RCA.RelatedWindow.Duration,
		RelatedLimit:    c.RCA.RelatedLimit,
		MessagePrefix:   c.RCA.MessagePrefix,
		CostPerUserHour: c.RCA.CostPerUserHour,
		Cache: rca.CacheConfig{
			MaxEntries: c.RCA.CacheMaxEntries,
			MaxAge:     c.RCA.CacheMaxAge.Duration,
		},
	}
}

// ToHistoryConfig converts to history store configuration
func (c *Config) ToHistoryConfig() history.Config {
	return history.Config{
		Path:          c.History.Path,
		RetentionDays: c.History.RetentionDays,
	}
}

// ToOpsConfig converts to ops server configuration
func (c *Config) ToOpsConfig() ops.Config {
	return ops.Config{
		ListenAddr:      c.Ops.ListenAddr,
		Mode:            c.Ops.Mode,
		AllowedOrigins:  c.Ops.AllowedOrigins,
		ShutdownTimeout: c.Ops.ShutdownTimeout.Duration,
	}
}
