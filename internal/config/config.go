// Package config loads backend configuration from defaults, an optional
// config file, a .env file and PENNORA_* environment variables, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	apperrors "github.com/Andival-Sei/pennora/backend/internal/errors"
)

// EnvPrefix prefixes every environment override, e.g. PENNORA_REMOTE_URL.
const EnvPrefix = "PENNORA"

// Remote store drivers.
const (
	DriverREST  = "rest"
	DriverMySQL = "mysql"
)

// Config is the full backend configuration.
type Config struct {
	DataDir string       `mapstructure:"data_dir"`
	Log     LogConfig    `mapstructure:"log"`
	HTTP    HTTPConfig   `mapstructure:"http"`
	Remote  RemoteConfig `mapstructure:"remote"`
	Sync    SyncConfig   `mapstructure:"sync"`
}

// LogConfig configures internal/logging.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"` // empty logs to stderr only
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// RemoteConfig selects and configures the remote store.
type RemoteConfig struct {
	Driver      string        `mapstructure:"driver"` // rest or mysql
	URL         string        `mapstructure:"url"`
	APIKey      string        `mapstructure:"api_key"`
	AccessToken string        `mapstructure:"access_token"`
	DSN         string        `mapstructure:"dsn"`
	Timeout     time.Duration `mapstructure:"timeout"`
	HealthURL   string        `mapstructure:"health_url"` // probed for connectivity; empty disables the monitor
}

// SyncConfig configures the monitor and the engine.
type SyncConfig struct {
	ProbeInterval  time.Duration `mapstructure:"probe_interval"`
	Interval       time.Duration `mapstructure:"interval"`
	PurgeInterval  time.Duration `mapstructure:"purge_interval"`
	NoticeDuration time.Duration `mapstructure:"notice_duration"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", defaultDataDir())

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)

	v.SetDefault("http.addr", "127.0.0.1:8090")
	v.SetDefault("http.allowed_origins", []string{"http://localhost:3000"})

	v.SetDefault("remote.driver", DriverREST)
	v.SetDefault("remote.url", "")
	v.SetDefault("remote.api_key", "")
	v.SetDefault("remote.access_token", "")
	v.SetDefault("remote.dsn", "")
	v.SetDefault("remote.timeout", 30*time.Second)
	v.SetDefault("remote.health_url", "")

	v.SetDefault("sync.probe_interval", 15*time.Second)
	v.SetDefault("sync.interval", 5*time.Minute)
	v.SetDefault("sync.purge_interval", time.Hour)
	v.SetDefault("sync.notice_duration", 3*time.Second)
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "pennora")
	}
	return ".pennora"
}

// Load reads configuration. configFile may be empty, in which case
// pennora.{yaml,toml,json} is looked up in the working directory and the
// data directory. A .env file in the working directory is loaded first;
// variables already set in the environment win over it.
func Load(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "failed to load .env", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("pennora")
		v.AddConfigPath(".")
		v.AddConfigPath(v.GetString("data_dir"))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, apperrors.Wrap(apperrors.ErrInvalid, "failed to read config file", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "failed to decode config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that defaults cannot fix.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return apperrors.New(apperrors.ErrValidation, "data_dir is required")
	}
	switch c.Remote.Driver {
	case DriverREST, DriverMySQL:
	default:
		return apperrors.New(apperrors.ErrValidation, fmt.Sprintf("unknown remote driver %q", c.Remote.Driver))
	}
	if c.Sync.ProbeInterval < 0 || c.Sync.Interval < 0 || c.Sync.PurgeInterval < 0 {
		return apperrors.New(apperrors.ErrValidation, "sync intervals must not be negative")
	}
	return nil
}

// RemoteConfigured reports whether enough is set to reach a remote store.
func (c *Config) RemoteConfigured() bool {
	switch c.Remote.Driver {
	case DriverMySQL:
		return c.Remote.DSN != ""
	default:
		return c.Remote.URL != ""
	}
}
