package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models actiongate.yml.
type Config struct {
	Dispatch struct {
		TimeoutSeconds int                       `yaml:"timeout_seconds"`
		Executors      map[string]ExecutorConfig `yaml:"executors"`
	} `yaml:"dispatch"`
	Agents struct {
		BaseURL        string `yaml:"base_url"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"agents"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// ExecutorConfig binds an action type to its executor endpoint.
type ExecutorConfig struct {
	URL     string `yaml:"url"`
	Enabled *bool  `yaml:"enabled"`
}

// WebhookConfig is an outcome reporter subscription.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "actiongate.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create with ag init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults if the config file does not exist.
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

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	cfg.Dispatch.TimeoutSeconds = 5
	cfg.Agents.TimeoutSeconds = 10
	return &cfg
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Dispatch.TimeoutSeconds <= 0 {
		return fmt.Errorf("config.dispatch.timeout_seconds must be positive")
	}
	if c.Agents.TimeoutSeconds <= 0 {
		return fmt.Errorf("config.agents.timeout_seconds must be positive")
	}
	for actionType, ex := range c.Dispatch.Executors {
		if actionType == "" {
			return fmt.Errorf("config.dispatch.executors contains empty action type")
		}
		if ex.URL == "" {
			return fmt.Errorf("executor for action type %s has no url", actionType)
		}
	}
	for i, wh := range c.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("webhook %d has no url", i)
		}
	}
	return nil
}

// ExecutorEnabled reports whether the executor for an action type is active.
// Executors default to enabled unless explicitly switched off.
func (c *Config) ExecutorEnabled(actionType string) bool {
	ex, ok := c.Dispatch.Executors[actionType]
	if !ok {
		return false
	}
	return ex.Enabled == nil || *ex.Enabled
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `dispatch:
  timeout_seconds: 5
  executors: {}
  # executors:
  #   send_email:
  #     url: http://localhost:9100/execute
  #   create_ticket:
  #     url: http://localhost:9200/execute
  #     enabled: false

agents:
  base_url: ""
  timeout_seconds: 10

webhooks: []
# webhooks:
#   - url: http://localhost:9300/hooks
#     events: [action.approved, action.denied, action.execution_failed]
#     secret: changeme
`
