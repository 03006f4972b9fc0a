// Package config loads tionctl configuration: device identities, retry
// policy, cache TTL and logging. Values not present in the file fall back to
// struct-tag defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/tion-home/tionctl/pkg/breezer"
	"github.com/tion-home/tionctl/pkg/connection"
	"github.com/tion-home/tionctl/pkg/tion"
)

// Device is one configured breezer.
type Device struct {
	Address string `yaml:"address"`
	Name    string `yaml:"name"`
	Model   string `yaml:"model" default:"s3"`
}

// Retry mirrors connection.RetryPolicy in file form.
type Retry struct {
	BaseDelay        time.Duration `yaml:"base_delay" default:"1s"`
	Multiplier       float64       `yaml:"multiplier" default:"2"`
	MaxDelay         time.Duration `yaml:"max_delay" default:"30s"`
	MaxAttempts      int           `yaml:"max_attempts" default:"8"`
	AttemptTimeout   time.Duration `yaml:"attempt_timeout" default:"30s"`
	RetryOnReconnect bool          `yaml:"retry_on_reconnect"`
}

// Config is the root configuration document.
type Config struct {
	LogLevel       string        `yaml:"log_level" default:"info"`
	DBPath         string        `yaml:"db_path" default:"tionctl.db"`
	CacheTTL       time.Duration `yaml:"cache_ttl" default:"10s"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"30s"`
	Retry          Retry         `yaml:"retry"`
	Devices        []Device      `yaml:"devices"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := new(Config)
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML configuration file, applying defaults for absent fields.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	for i := range cfg.Devices {
		defaults.SetDefaults(&cfg.Devices[i])
		if cfg.Devices[i].Address == "" {
			return nil, fmt.Errorf("config %s: device %d has no address", path, i)
		}
		if _, err := tion.ParseModel(cfg.Devices[i].Model); err != nil {
			return nil, fmt.Errorf("config %s: device %s: %w", path, cfg.Devices[i].Address, err)
		}
	}
	return cfg, nil
}

// RetryPolicy converts the file form into the connection package's policy.
func (c *Config) RetryPolicy() connection.RetryPolicy {
	return connection.RetryPolicy{
		BaseDelay:        c.Retry.BaseDelay,
		Multiplier:       c.Retry.Multiplier,
		MaxDelay:         c.Retry.MaxDelay,
		MaxAttempts:      c.Retry.MaxAttempts,
		AttemptTimeout:   c.Retry.AttemptTimeout,
		RetryOnReconnect: c.Retry.RetryOnReconnect,
	}
}

// Identities converts configured devices into breezer identities.
func (c *Config) Identities() ([]breezer.Identity, error) {
	ids := make([]breezer.Identity, 0, len(c.Devices))
	for _, d := range c.Devices {
		model, err := tion.ParseModel(d.Model)
		if err != nil {
			return nil, err
		}
		ids = append(ids, breezer.Identity{Address: d.Address, Name: d.Name, Model: model})
	}
	return ids, nil
}

// NewLogger creates a configured logger instance.
func (c *Config) NewLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger, nil
}
