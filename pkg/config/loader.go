package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/armorclaw/agentcore/pkg/logger"
)

// Load loads configuration from a file path. An empty path searches
// ConfigPaths; when nothing is found the defaults are used. Environment
// overrides apply in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		for _, p := range ConfigPaths() {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}

	if path == "" {
		logger.Global().Warn("no configuration file found, using defaults",
			"checked", ConfigPaths())
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadOrDie loads configuration or exits on error
func LoadOrDie(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// applyEnvOverrides applies AGENTCORE_* environment variables
func applyEnvOverrides(cfg *Config) error {
	// Logging overrides
	if v := os.Getenv("AGENTCORE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("AGENTCORE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("AGENTCORE_LOG_OUTPUT"); v != "" {
		cfg.Logging.Output = v
	}

	// History overrides
	if v := os.Getenv("AGENTCORE_HISTORY_ENABLED"); v != "" {
		cfg.History.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("AGENTCORE_HISTORY_PATH"); v != "" {
		cfg.History.Path = v
	}
	if err := envInt("AGENTCORE_HISTORY_RETENTION_DAYS", &cfg.History.RetentionDays); err != nil {
		return err
	}

	// Ops overrides
	if v := os.Getenv("AGENTCORE_OPS_ENABLED"); v != "" {
		cfg.Ops.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("AGENTCORE_OPS_ADDR"); v != "" {
		cfg.Ops.ListenAddr = v
	}

	// Breaker and monitor overrides
	if err := envInt("AGENTCORE_BREAKER_FAILURE_THRESHOLD", &cfg.Breaker.FailureThreshold); err != nil {
		return err
	}
	if err := envDuration("AGENTCORE_BREAKER_RECOVERY_TIMEOUT", &cfg.Breaker.RecoveryTimeout); err != nil {
		return err
	}
	if err := envDuration("AGENTCORE_MONITOR_INTERVAL", &cfg.Monitor.Interval); err != nil {
		return err
	}

	return nil
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func envDuration(key string, dst *Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	dst.Duration = d
	return nil
}

// Save saves the configuration to a file
func Save(cfg *Config, path string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("cannot save invalid configuration: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Forward slashes keep Windows paths from being read back as TOML escapes
	cfgCopy := *cfg
	cfgCopy.History.Path = filepath.ToSlash(cfg.History.Path)

	data, err := toml.Marshal(&cfgCopy)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
