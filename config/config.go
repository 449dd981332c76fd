// Package config loads the process configuration file. Engine thresholds
// configured here are only the initial values; once the registry holds a
// config they are superseded by it.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yairfalse/vahti/types"
)

// Config represents the main configuration
type Config struct {
	Version    string         `yaml:"version"`
	StorageDir string         `yaml:"storage_dir"`
	AuditDir   string         `yaml:"audit_dir"`
	PolicyDir  string         `yaml:"policy_dir,omitempty"`
	Region     string         `yaml:"region,omitempty"`
	Sources    []SourceEntry  `yaml:"sources"`
	Actions    Actions        `yaml:"actions,omitempty"`
	Engine     EngineDefaults `yaml:"engine,omitempty"`
	Daemon     DaemonSettings `yaml:"daemon,omitempty"`
}

// SourceEntry configures one evidence source.
type SourceEntry struct {
	Name     string        `yaml:"name"`
	Endpoint string        `yaml:"endpoint,omitempty"`
	Region   string        `yaml:"region,omitempty"`
	Window   time.Duration `yaml:"window,omitempty"`
}

// Actions configures the executors.
type Actions struct {
	QuarantineGroupID string        `yaml:"quarantine_group_id,omitempty"`
	ActionTimeout     time.Duration `yaml:"action_timeout,omitempty"`
}

// EngineDefaults seeds the engine config on first start. Ignored when the
// registry already holds a config.
type EngineDefaults struct {
	AutoApproveThreshold float64 `yaml:"auto_approve_threshold,omitempty"`
	ReviewThreshold      float64 `yaml:"review_threshold,omitempty"`
	ForceManualApproval  bool    `yaml:"force_manual_approval,omitempty"`
}

// DaemonSettings tunes the long-running process.
type DaemonSettings struct {
	MetricsPort      int           `yaml:"metrics_port,omitempty"`
	SourceTimeout    time.Duration `yaml:"source_timeout,omitempty"`
	ExecutorInterval time.Duration `yaml:"executor_interval,omitempty"`
	WatchdogInterval time.Duration `yaml:"watchdog_interval,omitempty"`
	StuckTimeout     time.Duration `yaml:"stuck_timeout,omitempty"`
}

// LoadConfig loads configuration from file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Validate ensures config has required fields
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("version is required")
	}
	if c.StorageDir == "" {
		return fmt.Errorf("storage_dir is required")
	}
	if c.AuditDir == "" {
		return fmt.Errorf("audit_dir is required")
	}
	for i, src := range c.Sources {
		if src.Name == "" {
			return fmt.Errorf("sources[%d]: name is required", i)
		}
	}
	if err := c.EngineConfig().Validate(); err != nil {
		return err
	}
	return nil
}

// EngineConfig converts the seed thresholds into an engine config, filling
// unset values with defaults.
func (c *Config) EngineConfig() types.EngineConfig {
	cfg := types.DefaultEngineConfig()
	if c.Engine.AutoApproveThreshold > 0 {
		cfg.AutoApproveThreshold = c.Engine.AutoApproveThreshold
	}
	if c.Engine.ReviewThreshold > 0 {
		cfg.ReviewThreshold = c.Engine.ReviewThreshold
	}
	cfg.ForceManualApproval = c.Engine.ForceManualApproval
	return cfg
}
