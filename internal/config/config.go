// Package config loads and validates the crawl orchestrator's configuration.
package config

import (
	"fmt"

	infraconfig "github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/infra/config"
)

// Config is the root configuration for the crawl orchestrator service.
type Config struct {
	Debug      bool                        `yaml:"debug"`
	Server     infraconfig.ServerConfig     `yaml:"server"`
	Database   infraconfig.DatabaseConfig   `yaml:"database"`
	Redis      infraconfig.RedisConfig      `yaml:"redis"`
	CloudTasks infraconfig.CloudTasksConfig `yaml:"cloud_tasks"`
	Browser    infraconfig.BrowserConfig    `yaml:"browser"`
	Worker     infraconfig.WorkerConfig     `yaml:"worker"`
	RateLimit  infraconfig.RateLimitConfig  `yaml:"rate_limit"`
	Sweep      infraconfig.SweepConfig      `yaml:"sweep"`
	Logging    infraconfig.LoggingConfig    `yaml:"logging"`
}

// setDefaults fills in defaults for every section that defines one.
func (c *Config) setDefaults() {
	c.Server.SetDefaults()
	c.Database.SetDefaults()
	c.Redis.SetDefaults()
	c.CloudTasks.SetDefaults()
	c.Browser.SetDefaults()
	c.Worker.SetDefaults()
	c.Sweep.SetDefaults()
	c.Logging.SetDefaults()
}

// Validate checks the loaded configuration for consistency, including
// cross-section rules that a single section's Validate cannot express.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database config: %w", err)
	}
	if err := c.Worker.Validate(); err != nil {
		return fmt.Errorf("worker config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	if err := c.Browser.Validate(); err != nil {
		return fmt.Errorf("browser config: %w", err)
	}
	if c.Worker.QueueProvider == "dispatcher" {
		if err := c.CloudTasks.Validate(); err != nil {
			return fmt.Errorf("cloud_tasks config: %w", err)
		}
	}
	return nil
}

// Load reads the config file at path, applies defaults and environment
// variable overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg, err := infraconfig.LoadWithDefaults(path, func(c *Config) {
		c.setDefaults()
	})
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
