// Package common provides shared utilities for the autobolt job runner.
package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for the job runner. Values are loaded from
// an optional TOML base file and then overridden by AUTOBOLT_*/documented
// environment variables.
type Config struct {
	APIBase  string `toml:"api_base"`
	APIKey   string `toml:"api_key"`
	WorkerID string `toml:"worker_id"`

	PollInterval      time.Duration `toml:"-"`
	HeartbeatInterval time.Duration `toml:"-"`

	DirDelayMin time.Duration `toml:"-"`
	DirDelayMax time.Duration `toml:"-"`

	MaxConcurrentAttempts int           `toml:"max_concurrent_attempts"`
	AttemptTimeout        time.Duration `toml:"-"`

	AIProbabilityThreshold float64 `toml:"ai_probability_threshold"`
	EscalationThreshold    float64 `toml:"escalation_threshold"`

	DirectoryListPath string `toml:"directory_list_path"`

	Logging LoggingConfig `toml:"logging"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// rawDurations mirrors the duration-valued fields as milliseconds for TOML,
// since go-toml/v2 cannot unmarshal time.Duration directly from a bare
// integer.
type rawDurations struct {
	PollIntervalMS      int64 `toml:"poll_interval_ms"`
	HeartbeatIntervalMS int64 `toml:"heartbeat_interval_ms"`
	DirDelayMinMS       int64 `toml:"dir_delay_min_ms"`
	DirDelayMaxMS       int64 `toml:"dir_delay_max_ms"`
	AttemptTimeoutMS    int64 `toml:"attempt_timeout_ms"`
}

// tomlDoc is the on-disk shape: Config's plain fields plus rawDurations' ms fields.
type tomlDoc struct {
	Config
	rawDurations
}

// NewDefaultConfig returns a Config populated with the documented defaults.
func NewDefaultConfig() *Config {
	return &Config{
		PollInterval:           5000 * time.Millisecond,
		HeartbeatInterval:      30000 * time.Millisecond,
		DirDelayMin:            2000 * time.Millisecond,
		DirDelayMax:            5000 * time.Millisecond,
		MaxConcurrentAttempts:  20,
		AttemptTimeout:         60000 * time.Millisecond,
		AIProbabilityThreshold: 0.60,
		EscalationThreshold:    3,
		Logging:                LoggingConfig{Level: "info"},
	}
}

// LoadConfig loads configuration from optional TOML files (tried in order;
// a missing file is skipped, a later file overrides an earlier one) and then
// applies environment overrides.
func LoadConfig(paths ...string) (*Config, error) {
	cfg := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		doc := tomlDoc{Config: *cfg}
		if err := toml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		*cfg = doc.Config
		applyRawDurations(cfg, doc.rawDurations)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyRawDurations(cfg *Config, raw rawDurations) {
	if raw.PollIntervalMS > 0 {
		cfg.PollInterval = time.Duration(raw.PollIntervalMS) * time.Millisecond
	}
	if raw.HeartbeatIntervalMS > 0 {
		cfg.HeartbeatInterval = time.Duration(raw.HeartbeatIntervalMS) * time.Millisecond
	}
	if raw.DirDelayMinMS > 0 {
		cfg.DirDelayMin = time.Duration(raw.DirDelayMinMS) * time.Millisecond
	}
	if raw.DirDelayMaxMS > 0 {
		cfg.DirDelayMax = time.Duration(raw.DirDelayMaxMS) * time.Millisecond
	}
	if raw.AttemptTimeoutMS > 0 {
		cfg.AttemptTimeout = time.Duration(raw.AttemptTimeoutMS) * time.Millisecond
	}
}

// applyEnvOverrides applies the AUTOBOLT_*/documented environment overrides.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AUTOBOLT_API_BASE"); v != "" {
		cfg.APIBase = v
	}
	if v := os.Getenv("AUTOBOLT_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("WORKER_ID"); v != "" {
		cfg.WorkerID = v
	}
	if v := envDurationMS("POLL_INTERVAL"); v > 0 {
		cfg.PollInterval = v
	}
	if v := envDurationMS("HEARTBEAT_INTERVAL"); v > 0 {
		cfg.HeartbeatInterval = v
	}
	if v := envDurationMS("DIR_DELAY_MIN"); v > 0 {
		cfg.DirDelayMin = v
	}
	if v := envDurationMS("DIR_DELAY_MAX"); v > 0 {
		cfg.DirDelayMax = v
	}
	if v := os.Getenv("MAX_CONCURRENT_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxConcurrentAttempts = n
		}
	}
	if v := envDurationMS("ATTEMPT_TIMEOUT"); v > 0 {
		cfg.AttemptTimeout = v
	}
	if v := os.Getenv("AI_PROBABILITY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.AIProbabilityThreshold = f
		}
	}
	if v := os.Getenv("ESCALATION_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.EscalationThreshold = f
		}
	}
	if v := os.Getenv("DIRECTORY_LIST_PATH"); v != "" {
		cfg.DirectoryListPath = v
	}
	if v := os.Getenv("AUTOBOLT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func envDurationMS(name string) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return time.Duration(n) * time.Millisecond
}

// Validate fails fast when required configuration is missing. A startup
// error here is what drives the process's exit code 1.
func (c *Config) Validate() error {
	if c.APIBase == "" {
		return fmt.Errorf("AUTOBOLT_API_BASE is required")
	}
	if c.APIKey == "" {
		return fmt.Errorf("AUTOBOLT_API_KEY is required")
	}
	if c.MaxConcurrentAttempts <= 0 {
		return fmt.Errorf("max_concurrent_attempts must be positive")
	}
	if c.DirDelayMin > c.DirDelayMax {
		return fmt.Errorf("dir_delay_min must not exceed dir_delay_max")
	}
	return nil
}

// DefaultCatalogSearchPaths are the documented fallback paths tried when
// DirectoryListPath is unset.
func DefaultCatalogSearchPaths() []string {
	return []string{
		"./directories.json",
		"./data/directories.json",
		"/etc/autobolt/directories.json",
	}
}
