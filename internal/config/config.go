package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models shopfloor.yml.
type Config struct {
	Server struct {
		Listen   string `yaml:"listen"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Hub struct {
		// Buffer is the per-subscriber queue depth. A subscriber that falls
		// this far behind is dropped rather than slowing writers down.
		Buffer int `yaml:"buffer"`
	} `yaml:"hub"`
	Policies struct {
		// ReleaseRevertsResource flips a resource back to available when its
		// last open allocation is released. This is an operator policy, not
		// implied behavior; set it to false to require an explicit status
		// command instead.
		ReleaseRevertsResource *bool `yaml:"release_reverts_resource"`
	} `yaml:"policies"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// ReleaseReverts reports the release policy, defaulting to true.
func (c *Config) ReleaseReverts() bool {
	if c == nil || c.Policies.ReleaseRevertsResource == nil {
		return true
	}
	return *c.Policies.ReleaseRevertsResource
}

// HubBuffer returns the per-subscriber buffer, defaulting to 256.
func (c *Config) HubBuffer() int {
	if c == nil || c.Hub.Buffer <= 0 {
		return 256
	}
	return c.Hub.Buffer
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Hub.Buffer < 0 {
		return fmt.Errorf("config.hub.buffer must be non-negative")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must be non-negative", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "shopfloor.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default configuration.
func Default() *Config {
	var cfg Config
	cfg.Server.Listen = ":8080"
	cfg.Server.BasePath = "/v0"
	cfg.Hub.Buffer = 256
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
