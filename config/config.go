// Package config loads ~/.newsarchive/config.yaml and applies environment
// overrides on top of it.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pevans/newsarchive/logger"
	"github.com/pevans/newsarchive/sites"
)

// Environment overrides. They win over the config file.
const (
	EnvDB           = "NEWSARCHIVE_DB"
	EnvLogFile      = "NEWSARCHIVE_LOG_FILE"
	EnvLogLevel     = "NEWSARCHIVE_LOG_LEVEL"
	EnvRetry        = "NEWSARCHIVE_RETRY"
	EnvSaveInterval = "NEWSARCHIVE_SAVE_INTERVAL"
	EnvRetryDelay   = "NEWSARCHIVE_RETRY_DELAY"
)

var ErrInvalidConfig = errors.New("invalid config")

// DatabaseConfig locates the SQLite file.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ScrapeConfig tunes the drivers and the HTTP client.
type ScrapeConfig struct {
	RetryOnError  bool          `yaml:"retry_on_error"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	SaveInterval  time.Duration `yaml:"save_interval"`
	UserAgent     string        `yaml:"user_agent"`
	Timeout       time.Duration `yaml:"timeout"`
	RateLimit     float64       `yaml:"rate_limit"`
	RespectRobots bool          `yaml:"respect_robots"`
}

// NLPConfig selects the languages the basic analyzer detects.
type NLPConfig struct {
	Languages []string `yaml:"languages"`
}

// Config represents the structure of ~/.newsarchive/config.yaml.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Scrape   ScrapeConfig   `yaml:"scrape"`
	Log      logger.Config  `yaml:"log"`
	NLP      NLPConfig      `yaml:"nlp"`
	Sites    []sites.Config `yaml:"sites,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "articles.db"},
		Scrape: ScrapeConfig{
			RetryOnError: true,
			RetryDelay:   100 * time.Second,
			SaveInterval: 60 * time.Second,
			UserAgent:    "newsarchive/1.0",
			Timeout:      30 * time.Second,
			RateLimit:    1,
		},
		Log: logger.Config{Level: "info"},
		NLP: NLPConfig{Languages: []string{"de", "en"}},
	}
}

// DefaultPath returns ~/.newsarchive/config.yaml.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".newsarchive", "config.yaml"), nil
}

// Load reads path on top of Default and applies environment overrides. A
// missing file is not an error. An empty path means DefaultPath.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// defaults only
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvDB); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv(EnvLogFile); v != "" {
		c.Log.File = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(EnvRetry); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, EnvRetry, err)
		}
		c.Scrape.RetryOnError = b
	}
	for name, dst := range map[string]*time.Duration{
		EnvSaveInterval: &c.Scrape.SaveInterval,
		EnvRetryDelay:   &c.Scrape.RetryDelay,
	} {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, name, err)
		}
		*dst = d
	}
	return nil
}

// Validate checks the config and the extra site entries.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("%w: database.path is required", ErrInvalidConfig)
	}
	if c.Scrape.RetryDelay < 0 || c.Scrape.SaveInterval < 0 || c.Scrape.Timeout < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidConfig)
	}
	if c.Scrape.RateLimit < 0 {
		return fmt.Errorf("%w: scrape.rate_limit must not be negative", ErrInvalidConfig)
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	for i := range c.Sites {
		if err := c.Sites[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// WriteDefault writes the default config to path, creating the directory.
// An existing file is only replaced when force is set.
func WriteDefault(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
