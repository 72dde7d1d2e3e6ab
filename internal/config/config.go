// Package config loads process-level settings from the environment.
// Everything about the sync itself (server address, token, cadence)
// lives in the database-backed SyncConfig instead, so operators can
// change it without redeploying.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config holds the process environment.
type Config struct {
	// DatabaseURL is the Postgres DSN for the ledger and lease stores.
	DatabaseURL string `mapstructure:"database_url"`

	// LogLevel is a logrus level name (debug, info, warn, error).
	LogLevel string `mapstructure:"log_level"`

	// LogFormat selects "text" or "json" output.
	LogFormat string `mapstructure:"log_format"`
}

// Load reads configuration from PUNCHSYNC_* environment variables and,
// when present, a .env file in the working directory.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("punchsync")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		// A missing .env is the common case; only a malformed one is
		// worth failing over.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read .env: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// Logger builds a logrus logger from the configured level and format.
func (c *Config) Logger() *logrus.Logger {
	log := logrus.New()

	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if strings.EqualFold(c.LogFormat, "json") {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}
