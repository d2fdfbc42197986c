package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"leadflow/internal/domain"
)

// Config models leadflow.yml.
type Config struct {
	Organization struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"organization"`
	Workflow struct {
		ApproveAdvancesStatus *bool `yaml:"approve_advances_status"`
	} `yaml:"workflow"`
	RBAC struct {
		Roles map[string]RBACRole `yaml:"roles"`
	} `yaml:"rbac"`
	Realtime RealtimeConfig  `yaml:"realtime"`
	Logging  LoggingConfig   `yaml:"logging"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type RBACRole struct {
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

type RealtimeConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int           `yaml:"batch_size"`
	Buffer       int           `yaml:"buffer"`
	ReconnectMin time.Duration `yaml:"reconnect_min"`
	ReconnectMax time.Duration `yaml:"reconnect_max"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with leadflow config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Organization.ID == "" {
		return fmt.Errorf("config.organization.id is required")
	}
	if len(c.RBAC.Roles) > 0 {
		if _, ok := c.RBAC.Roles[string(domain.RoleAdmin)]; !ok {
			return fmt.Errorf("config.rbac.roles must include admin")
		}
		for roleID, role := range c.RBAC.Roles {
			if roleID == "" {
				return fmt.Errorf("config.rbac.roles contains empty role id")
			}
			for _, perm := range role.Permissions {
				if perm == "" {
					return fmt.Errorf("role %s has empty permission id", roleID)
				}
				if !domain.KnownPermission(perm) {
					return fmt.Errorf("role %s references unknown permission %s", roleID, perm)
				}
			}
		}
	}
	if c.Realtime.PollInterval < 0 || c.Realtime.ReconnectMin < 0 || c.Realtime.ReconnectMax < 0 {
		return fmt.Errorf("config.realtime durations must not be negative")
	}
	if c.Realtime.Buffer < 0 {
		return fmt.Errorf("config.realtime.buffer must not be negative")
	}
	if c.Realtime.ReconnectMax > 0 && c.Realtime.ReconnectMin > c.Realtime.ReconnectMax {
		return fmt.Errorf("config.realtime.reconnect_min exceeds reconnect_max")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "text", "logfmt", "json":
	default:
		return fmt.Errorf("config.logging.format %q is not one of text, logfmt, json", c.Logging.Format)
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// ApproveAdvances reports whether approval also moves a lead to Offerte Verzonden.
func (c *Config) ApproveAdvances() bool {
	if c == nil || c.Workflow.ApproveAdvancesStatus == nil {
		return true
	}
	return *c.Workflow.ApproveAdvancesStatus
}

// DefaultPermissions returns the static role to permission table.
func (c *Config) DefaultPermissions() map[domain.Role][]string {
	out := make(map[domain.Role][]string, len(c.RBAC.Roles))
	for roleID, role := range c.RBAC.Roles {
		out[domain.Role(roleID)] = append([]string(nil), role.Permissions...)
	}
	return out
}

// WithDefaults fills zero realtime and logging settings.
func (c *Config) WithDefaults() *Config {
	if c.Realtime.PollInterval == 0 {
		c.Realtime.PollInterval = time.Second
	}
	if c.Realtime.BatchSize == 0 {
		c.Realtime.BatchSize = 100
	}
	if c.Realtime.ReconnectMin == 0 {
		c.Realtime.ReconnectMin = 500 * time.Millisecond
	}
	if c.Realtime.ReconnectMax == 0 {
		c.Realtime.ReconnectMax = 30 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	return c
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "leadflow.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(orgID string) string {
	return fmt.Sprintf(defaultTemplate, orgID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for an organization.
func Default(orgID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(orgID))).Decode(&cfg)
	cfg.Organization.ID = orgID
	return cfg.WithDefaults()
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg.WithDefaults(), nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `organization:
  id: %s

workflow:
  approve_advances_status: true

rbac:
  roles:
    admin:
      description: "Office administration, approves quotes and confirms orders"
      permissions:
        - lead.create
        - lead.read.all
        - lead.status.change
        - lead.assign
        - lead.delete
        - quote.edit
        - quote.submit
        - quote.approve
        - quote.reject
        - quote.send
        - order.confirm
        - rbac.manage
        - events.read
    projectleider:
      description: "Coordinates delivery of assigned leads"
      permissions:
        - lead.create
        - lead.status.change
        - lead.assign
        - events.read
    engineer:
      description: "Rekenaar or tekenaar building and sending quotes"
      permissions:
        - quote.edit
        - quote.submit
        - quote.send

realtime:
  poll_interval: 1s
  batch_size: 100
  buffer: 64
  reconnect_min: 500ms
  reconnect_max: 30s

logging:
  level: info
  format: text
`
