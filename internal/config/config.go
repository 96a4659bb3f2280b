package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level SpaceDesk configuration.
type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Storage  StorageConfig   `yaml:"storage"`
	Billing  BillingConfig   `yaml:"billing"`
	Packages []PackageConfig `yaml:"packages"`
	Display  DisplayConfig   `yaml:"display"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	CORS     bool   `yaml:"cors"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// BillingConfig holds the overtime rate and currency presentation settings.
// The rate is an integer amount in the currency's smallest whole unit.
type BillingConfig struct {
	OvertimeRate int64  `yaml:"overtime_rate"`
	Currency     string `yaml:"currency"`
	Locale       string `yaml:"locale"`
}

// PackageConfig defines one purchasable time package.
type PackageConfig struct {
	Type        string  `yaml:"type"`
	Name        string  `yaml:"name"`
	Hours       float64 `yaml:"hours"`
	Description string  `yaml:"description"`
}

type DisplayConfig struct {
	RefreshInterval time.Duration `yaml:"-"`
}

// UnmarshalYAML parses refresh_interval as a Go duration string ("1s",
// "500ms"), which yaml.v3 does not do for time.Duration on its own.
func (d *DisplayConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		RefreshInterval string `yaml:"refresh_interval"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.RefreshInterval == "" {
		return nil
	}
	dur, err := time.ParseDuration(raw.RefreshInterval)
	if err != nil {
		return fmt.Errorf("invalid refresh_interval: %w", err)
	}
	d.RefreshInterval = dur
	return nil
}

// DefaultConfig returns a config with sensible defaults for zero-config
// startup: the built-in package table and the flat 15,000 VND/hour
// overtime rate.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     6180,
			LogLevel: "info",
			CORS:     false,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			Path:   "./spacedesk.db",
		},
		Billing: BillingConfig{
			OvertimeRate: 15000,
			Currency:     "VND",
			Locale:       "vi",
		},
		Packages: []PackageConfig{
			{Type: "deep-work", Name: "Deep Work", Hours: 4, Description: "4 hours + 1 drink"},
			{Type: "light-work", Name: "Light Work", Hours: 3, Description: "3 hours + 1 drink"},
			{Type: "fun-work", Name: "Fun Work", Hours: 1, Description: "1 hour + 1 drink"},
			{Type: "test", Name: "Test", Hours: 10.0 / 60.0, Description: "10 minutes + 1 drink"},
		},
		Display: DisplayConfig{
			RefreshInterval: time.Second,
		},
	}
}

const defaultYAML = `# SpaceDesk configuration

server:
  port: 6180
  log_level: info
  cors: false

storage:
  driver: sqlite
  path: ./spacedesk.db

billing:
  overtime_rate: 15000   # per overtime hour, smallest currency unit
  currency: VND
  locale: vi

packages:
  - type: deep-work
    name: Deep Work
    hours: 4
    description: 4 hours + 1 drink
  - type: light-work
    name: Light Work
    hours: 3
    description: 3 hours + 1 drink
  - type: fun-work
    name: Fun Work
    hours: 1
    description: 1 hour + 1 drink
  - type: test
    name: Test
    hours: 0.1667
    description: 10 minutes + 1 drink

display:
  refresh_interval: 1s
`

// GenerateDefault writes a commented default config file to path.
func GenerateDefault(path string) error {
	// Sanity-check that the template stays parseable.
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultYAML), &cfg); err != nil {
		return fmt.Errorf("default config template is invalid: %w", err)
	}
	return os.WriteFile(path, []byte(defaultYAML), 0644)
}
