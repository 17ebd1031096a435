package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the run manifest for a cutover: where the destination store
// lives, which export files feed it, what the validator must see, and which
// dependent services need a nudge after the switch.
type Config struct {
	LogLevel    string            `yaml:"log_level"`
	HTTPAddress string            `yaml:"http_addr"`
	BackupPath  string            `yaml:"backup_path"`
	Destination string            `yaml:"destination"`
	Stores      []StoreConfig     `yaml:"stores"`
	Exports     ExportsConfig     `yaml:"exports"`
	Expected    ExpectedCounts    `yaml:"expected"`
	Dependents  []DependentConfig `yaml:"dependents"`
	Timeouts    TimeoutConfig     `yaml:"timeouts"`
}

// StoreConfig names one logical store and how to reach it.
type StoreConfig struct {
	Name     string `yaml:"name"`
	Provider string `yaml:"provider"`
	DSN      string `yaml:"dsn"`
}

type ExportsConfig struct {
	Projects string `yaml:"projects"`
	Phases   string `yaml:"phases"`
	Comms    string `yaml:"comms"`
}

type ExpectedCounts struct {
	Projects int `yaml:"projects"`
	Phases   int `yaml:"phases"`
}

type DependentConfig struct {
	Name       string `yaml:"name"`
	HealthURL  string `yaml:"health_url"`
	RestartURL string `yaml:"restart_url"`
}

// TimeoutConfig bounds each cutover step. A step that overruns its budget
// fails exactly like an explicit error and follows the same rollback rules.
type TimeoutConfig struct {
	Preflight Duration `yaml:"preflight"`
	Backup    Duration `yaml:"backup"`
	Reset     Duration `yaml:"reset"`
	Import    Duration `yaml:"import"`
	Extract   Duration `yaml:"extract"`
	Validate  Duration `yaml:"validate"`
	Recovery  Duration `yaml:"recovery"`
	Rollback  Duration `yaml:"rollback"`
}

// Duration parses "30s" / "2m" style YAML values.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Or returns the configured duration, or fallback when unset.
func (d Duration) Or(fallback time.Duration) time.Duration {
	if d == 0 {
		return fallback
	}
	return time.Duration(d)
}

func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.HTTPAddress == "" {
		cfg.HTTPAddress = ":8080"
	}
	if cfg.BackupPath == "" {
		cfg.BackupPath = "./backups"
	}
	if v := os.Getenv("CUTOVER_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CUTOVER_HTTP_ADDR"); v != "" {
		cfg.HTTPAddress = v
	}
	if v := os.Getenv("CUTOVER_DB_DSN"); v != "" && len(cfg.Stores) > 0 {
		cfg.Stores[0].DSN = v
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if len(c.Stores) == 0 {
		return errors.New("at least one store is required")
	}
	if c.Destination == "" {
		return errors.New("destination store name is required")
	}
	if _, err := c.Store(c.Destination); err != nil {
		return err
	}
	for _, s := range c.Stores {
		if s.Name == "" {
			return errors.New("every store needs a name")
		}
		if s.DSN == "" {
			return fmt.Errorf("store %s: dsn is required", s.Name)
		}
		switch s.Provider {
		case "sqlite", "postgres", "mysql":
		default:
			return fmt.Errorf("store %s: unsupported provider %q", s.Name, s.Provider)
		}
	}
	return nil
}

// Store looks up a store config by logical name.
func (c Config) Store(name string) (StoreConfig, error) {
	for _, s := range c.Stores {
		if s.Name == name {
			return s, nil
		}
	}
	return StoreConfig{}, fmt.Errorf("store %q not configured", name)
}
