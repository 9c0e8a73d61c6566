// Package config loads the YAML application configuration, creating a
// default file on first run and normalizing partially-filled configs.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DBConfig holds PostgreSQL connection settings. Environment variables of
// the same names override file values so container deployments need no file
// edits.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the booking API.
	Listen string `yaml:"listen"`

	// Database is the PostgreSQL connection configuration.
	Database DBConfig `yaml:"database"`

	// LockTimeout bounds how long an admission waits for its slot lock
	// before failing with ADMISSION_TIMEOUT.
	LockTimeout time.Duration `yaml:"lock_timeout"`

	// DispatchCron is a cron expression for the side-effect retry sweep
	// (e.g. "*/1 * * * *").
	DispatchCron string `yaml:"dispatch_cron"`

	// DispatchAttempts caps collaborator retries per intent.
	DispatchAttempts int `yaml:"dispatch_attempts"`

	// FeedTimeout bounds a single ICS busy-feed fetch.
	FeedTimeout time.Duration `yaml:"feed_timeout"`

	// LogLevel is one of DEBUG, INFO, ERROR.
	LogLevel string `yaml:"log_level"`
}

// Default returns the in-memory default configuration.
func Default() *Config {
	return &Config{
		Listen: "127.0.0.1:8080",
		Database: DBConfig{
			Host:     "localhost",
			Port:     "5432",
			User:     "postgres",
			Password: "postgres",
			Name:     "slotwise",
			SSLMode:  "disable",
		},
		LockTimeout:      5 * time.Second,
		DispatchCron:     "*/1 * * * *",
		DispatchAttempts: 3,
		FeedTimeout:      10 * time.Second,
		LogLevel:         "INFO",
	}
}

// Normalize fills missing or zero values with defaults so older or
// hand-trimmed config files still behave.
func (c *Config) Normalize() {
	def := Default()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Database.Host == "" {
		c.Database.Host = def.Database.Host
	}
	if c.Database.Port == "" {
		c.Database.Port = def.Database.Port
	}
	if c.Database.User == "" {
		c.Database.User = def.Database.User
	}
	if c.Database.Name == "" {
		c.Database.Name = def.Database.Name
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = def.Database.SSLMode
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = def.LockTimeout
	}
	if c.DispatchCron == "" {
		c.DispatchCron = def.DispatchCron
	}
	if c.DispatchAttempts <= 0 {
		c.DispatchAttempts = def.DispatchAttempts
	}
	if c.FeedTimeout <= 0 {
		c.FeedTimeout = def.FeedTimeout
	}
	switch c.LogLevel {
	case "DEBUG", "INFO", "ERROR":
	default:
		c.LogLevel = def.LogLevel
	}
	c.applyEnv()
}

// applyEnv lets well-known environment variables override database settings.
func (c *Config) applyEnv() {
	if v := os.Getenv("DB_HOST"); v != "" {
		c.Database.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		c.Database.Port = v
	}
	if v := os.Getenv("DB_USER"); v != "" {
		c.Database.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		c.Database.Name = v
	}
	if v := os.Getenv("DB_SSLMODE"); v != "" {
		c.Database.SSLMode = v
	}
}

// Load reads configuration from the given YAML path. A missing file is a
// first run: a default config is written (0600) and returned.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := Default()
			cfg.Normalize()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return &cfg, nil
}

// Save writes the configuration atomically (temp file + rename, 0600).
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".slotwise-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
