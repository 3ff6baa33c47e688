// Package config loads the service configuration from a YAML or JSON file
// with K_-prefixed environment overrides (K_STORE__PATH sets store.path).
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/wastefleet/core/dispatch"
	"github.com/kilianp07/wastefleet/core/metrics"
	"github.com/kilianp07/wastefleet/infra/docstore"
	"github.com/kilianp07/wastefleet/infra/monitoring"
	"github.com/kilianp07/wastefleet/infra/mqtt"
)

type Config struct {
	Store     docstore.Config   `json:"store"`
	Dispatch  dispatch.Config   `json:"dispatch"`
	MQTT      mqtt.Config       `json:"mqtt"`
	HTTP      HTTPConfig        `json:"http"`
	Metrics   metrics.Config    `json:"metrics"`
	Logging   LoggingConfig     `json:"logging"`
	Sentry    monitoring.Config `json:"sentry"`
	Jobs      JobsConfig        `json:"jobs"`
	Simulator SimulatorConfig   `json:"simulator"`
}

// JobsConfig schedules background jobs. Schedules use cron syntax or
// descriptors such as "@every 1m"; "off" disables the job.
type JobsConfig struct {
	SweepSchedule string `json:"sweep_schedule"`
}

// Load reads path and applies environment overrides. An empty path loads
// the environment alone.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		var parser koanf.Parser
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		default:
			return nil, fmt.Errorf("unsupported config format: %s", filepath.Ext(path))
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, err
		}
	}
	if err := k.Load(env.Provider("K_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults fills every section.
func (c *Config) SetDefaults() {
	c.Store.SetDefaults()
	c.Dispatch.SetDefaults()
	c.MQTT.SetDefaults()
	c.HTTP.SetDefaults()
	c.Logging.SetDefaults()
	c.Simulator.SetDefaults()
	if c.Jobs.SweepSchedule == "" {
		c.Jobs.SweepSchedule = "@every 1m"
	}
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := c.Dispatch.Validate(); err != nil {
		return err
	}
	if err := c.MQTT.Validate(); err != nil {
		return err
	}
	if err := c.HTTP.Validate(); err != nil {
		return err
	}
	if err := c.Simulator.Validate(); err != nil {
		return err
	}
	return c.Logging.Validate()
}
