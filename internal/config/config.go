package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models reqline.yml.
type Config struct {
	Service struct {
		Name string `yaml:"name"`
	} `yaml:"service"`
	Intake struct {
		MinPhoneDigits int `yaml:"min_phone_digits"`
	} `yaml:"intake"`
	Categories struct {
		Catalog map[string]Category `yaml:"catalog"`
	} `yaml:"categories"`
	Claims struct {
		RequirePermission bool `yaml:"require_permission"`
	} `yaml:"claims"`
	Tokens struct {
		Secret string `yaml:"secret"`
	} `yaml:"tokens"`
	Notify NotifyConfig `yaml:"notify"`
}

// Category is one broadcast destination in the catalog.
type Category struct {
	Title       string `yaml:"title"`
	Destination string `yaml:"destination"`
}

type NotifyConfig struct {
	PrivateURL     string `yaml:"private_url"`
	OperatorURL    string `yaml:"operator_url"`
	Secret         string `yaml:"secret"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxRetries     int    `yaml:"max_retries"`
}

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run rq init to seed a default", path)
		}
		return nil, err
	}
	return FromYAML(data)
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

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Service.Name == "" {
		return fmt.Errorf("config.service.name is required")
	}
	if len(c.Categories.Catalog) == 0 {
		return fmt.Errorf("config.categories.catalog must list at least one category")
	}
	for key, cat := range c.Categories.Catalog {
		if key == "" {
			return fmt.Errorf("config.categories.catalog contains an empty category key")
		}
		if cat.Title == "" {
			return fmt.Errorf("category %s has no title", key)
		}
	}
	if c.Intake.MinPhoneDigits < 0 {
		return fmt.Errorf("config.intake.min_phone_digits must not be negative")
	}
	if c.Notify.TimeoutSeconds < 0 {
		return fmt.Errorf("config.notify.timeout_seconds must not be negative")
	}
	if c.Notify.MaxRetries < 0 {
		return fmt.Errorf("config.notify.max_retries must not be negative")
	}
	return nil
}

// CategoryKnown reports whether the category has a configured destination.
func (c *Config) CategoryKnown(category string) bool {
	_, ok := c.Categories.Catalog[category]
	return ok
}

// CategoryTitle returns the human title for a category key, falling back
// to the key itself.
func (c *Config) CategoryTitle(category string) string {
	if cat, ok := c.Categories.Catalog[category]; ok && cat.Title != "" {
		return cat.Title
	}
	return category
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "reqline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(serviceName string) string {
	return fmt.Sprintf(defaultTemplate, serviceName)
}

// Default returns the default Config struct for a service.
func Default(serviceName string) *Config {
	var cfg Config
	cfg.Service.Name = serviceName
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, serviceName))).Decode(&cfg)
	return &cfg
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
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `service:
  name: %s

intake:
  min_phone_digits: 6

categories:
  catalog:
    ACCOUNTING:
      title: "Accounting"
      destination: ""
    LAW:
      title: "Legal"
      destination: ""
    EGOV:
      title: "E-government"
      destination: ""

claims:
  require_permission: true

tokens:
  secret: ""

notify:
  private_url: ""
  operator_url: ""
  secret: ""
  timeout_seconds: 5
  max_retries: 3
`
