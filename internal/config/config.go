// Package config loads runtime settings from a config file and PRODFLOW_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "PRODFLOW"

type Config struct {
	LogLevel      string              `mapstructure:"log_level"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type NotificationsConfig struct {
	WebhookURL     string        `mapstructure:"webhook_url"`
	Token          string        `mapstructure:"token"`
	KeyringService string        `mapstructure:"keyring_service"`
	Timeout        time.Duration `mapstructure:"timeout"`
	BatchSize      int           `mapstructure:"batch_size"`
}

type SchedulerConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Debug reports whether verbose SQL logging was requested.
func (c *Config) Debug() bool {
	return strings.EqualFold(c.LogLevel, "debug")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("notifications.webhook_url", "")
	v.SetDefault("notifications.token", "")
	v.SetDefault("notifications.keyring_service", "prodflow")
	v.SetDefault("notifications.timeout", 30*time.Second)
	v.SetDefault("notifications.batch_size", 100)
	v.SetDefault("scheduler.enabled", true)
}

// Load reads path (if non-empty) and overlays the environment. A missing
// database URL falls back to a SQLite file in the user config directory.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if cfg.Database.URL == "" {
		url, err := defaultDatabaseURL()
		if err != nil {
			return nil, err
		}
		cfg.Database.URL = url
	}

	return cfg, nil
}

func defaultDatabaseURL() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}
	return "sqlite://" + filepath.Join(configDir, "prodflow", "prodflow.db"), nil
}
