// Package config loads service configuration from an optional .env file
// and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	ServerAddress string
	Environment   string
	LogLevel      string
	Database      DatabaseConfig
	Migration     MigrationConfig
	Orders        OrdersConfig
}

type DatabaseConfig struct {
	Driver string
	DSN    string
}

type MigrationConfig struct {
	Dir string
}

type OrdersConfig struct {
	URL             string
	BreakerFailures uint32
	BreakerTimeout  time.Duration
	RequestTimeout  time.Duration
}

// Load reads configFile when it exists, then lets environment variables
// override every key. An empty configFile skips the file.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	v.SetDefault("SERVER_ADDRESS", ":8080")
	v.SetDefault("ENVIRONMENT", "production")
	v.SetDefault("LOG_LEVEL", "")
	v.SetDefault("DB_DRIVER", "sqlite3")
	v.SetDefault("DB_DSN", "./data/finance.db")
	v.SetDefault("MIGRATION_DIR", "migrations/mysql")
	v.SetDefault("ORDERS_URL", "http://localhost:8081")
	v.SetDefault("ORDERS_BREAKER_FAILURES", 5)
	v.SetDefault("ORDERS_BREAKER_TIMEOUT", "30s")
	v.SetDefault("ORDERS_REQUEST_TIMEOUT", "60s")

	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil && !isMissingFile(err) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	v.AutomaticEnv()

	cfg := &Config{
		ServerAddress: v.GetString("SERVER_ADDRESS"),
		Environment:   v.GetString("ENVIRONMENT"),
		LogLevel:      v.GetString("LOG_LEVEL"),
		Database: DatabaseConfig{
			Driver: v.GetString("DB_DRIVER"),
			DSN:    v.GetString("DB_DSN"),
		},
		Migration: MigrationConfig{
			Dir: v.GetString("MIGRATION_DIR"),
		},
		Orders: OrdersConfig{
			URL:             v.GetString("ORDERS_URL"),
			BreakerFailures: v.GetUint32("ORDERS_BREAKER_FAILURES"),
			BreakerTimeout:  v.GetDuration("ORDERS_BREAKER_TIMEOUT"),
			RequestTimeout:  v.GetDuration("ORDERS_REQUEST_TIMEOUT"),
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "sqlite3", "mysql":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("DB_DSN is required")
	}
	return nil
}

// MigrationURL returns the golang-migrate database URL for MySQL.
func (c *Config) MigrationURL() string {
	return "mysql://" + c.Database.DSN
}

func isMissingFile(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
}
