/*
config.go - Application configuration

PURPOSE:
  Loads service configuration from a YAML file, applies environment
  variable overrides, and fills in defaults. A missing file is fine;
  the service runs on defaults alone.

PRECEDENCE (lowest to highest):
  defaults < YAML file < environment variables

SEE ALSO:
  - cmd/server/main.go: consumes this at startup
*/
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Policy struct {
		ExpiryWindowDays int `yaml:"expiry_window_days"` // 0 = credits never expire
		ExpiringSoonDays int `yaml:"expiring_soon_days"` // display horizon for balance warnings
		MaxUpdateRetries int `yaml:"max_update_retries"`
	} `yaml:"policy"`
	Schedule struct {
		SweepCron    string `yaml:"sweep_cron"`
		SweepEnabled *bool  `yaml:"sweep_enabled"`
	} `yaml:"schedule"`
}

// Load reads config from a YAML file, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("TOIL_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("TOIL_SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("TOIL_EXPIRY_WINDOW_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Policy.ExpiryWindowDays = n
		}
	}
	if v := os.Getenv("TOIL_SWEEP_CRON"); v != "" {
		cfg.Schedule.SweepCron = v
	}

	// Defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "data/toil.db"
	}
	if cfg.Policy.ExpiringSoonDays == 0 {
		cfg.Policy.ExpiringSoonDays = 30
	}
	if cfg.Policy.MaxUpdateRetries == 0 {
		cfg.Policy.MaxUpdateRetries = 3
	}
	if cfg.Schedule.SweepCron == "" {
		cfg.Schedule.SweepCron = "0 2 * * *"
	}
	if cfg.Schedule.SweepEnabled == nil {
		enabled := true
		cfg.Schedule.SweepEnabled = &enabled
	}

	return cfg, nil
}

// Validate checks that all fields hold usable values.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Policy.ExpiryWindowDays < 0 {
		return fmt.Errorf("policy.expiry_window_days cannot be negative")
	}
	if c.Policy.ExpiringSoonDays < 0 {
		return fmt.Errorf("policy.expiring_soon_days cannot be negative")
	}
	if c.Policy.MaxUpdateRetries < 0 {
		return fmt.Errorf("policy.max_update_retries cannot be negative")
	}
	return nil
}
