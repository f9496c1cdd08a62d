// Package config defines the bet ledger configuration and provides
// validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by BETLEDGER_* environment
// variables.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	Kafka    KafkaConfig    `toml:"kafka"`
	Economy  EconomyConfig  `toml:"economy"`
	LogLevel string         `toml:"log_level"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            int      `toml:"port"`
	RequestTimeout  duration `toml:"request_timeout"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
}

// PostgresConfig holds PostgreSQL connection parameters. An empty DSN runs
// the service on the in-memory store.
type PostgresConfig struct {
	DSN          string `toml:"dsn"`
	RunMigration bool   `toml:"run_migration"`
}

// RedisConfig holds parameters for the optional snapshot cache. An empty
// Addr disables caching.
type RedisConfig struct {
	Addr        string   `toml:"addr"`
	Password    string   `toml:"password"`
	DB          int      `toml:"db"`
	SnapshotTTL duration `toml:"snapshot_ttl"`
}

// KafkaConfig holds parameters for the optional balance-update event stream.
// An empty broker list disables publishing.
type KafkaConfig struct {
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
}

// EconomyConfig holds the virtual-currency parameters: the balance new and
// reset accounts start with, and the periodic income every account receives.
type EconomyConfig struct {
	StartingBalance int64    `toml:"starting_balance"`
	IncomeAmount    int64    `toml:"income_amount"`
	IncomeInterval  duration `toml:"income_interval"`
	SweepInterval   duration `toml:"sweep_interval"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "24h", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "24h" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with the default values. These match
// config.example.toml.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			RequestTimeout:  duration{30 * time.Second},
			ShutdownTimeout: duration{5 * time.Second},
		},
		Postgres: PostgresConfig{
			DSN:          "",
			RunMigration: true,
		},
		Redis: RedisConfig{
			Addr:        "",
			DB:          0,
			SnapshotTTL: duration{30 * time.Second},
		},
		Kafka: KafkaConfig{
			Topic: "betledger.account-updates",
		},
		Economy: EconomyConfig{
			StartingBalance: 350,
			IncomeAmount:    50,
			IncomeInterval:  duration{24 * time.Hour},
			SweepInterval:   duration{time.Hour},
		},
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid values and returns a combined
// error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.RequestTimeout.Duration <= 0 {
		errs = append(errs, "server: request_timeout must be positive")
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Redis.Addr != "" && c.Redis.SnapshotTTL.Duration <= 0 {
		errs = append(errs, "redis: snapshot_ttl must be positive when addr is set")
	}

	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, "kafka: topic must not be empty when brokers are set")
	}

	if c.Economy.StartingBalance < 0 {
		errs = append(errs, "economy: starting_balance must not be negative")
	}
	if c.Economy.IncomeAmount < 0 {
		errs = append(errs, "economy: income_amount must not be negative")
	}
	if c.Economy.IncomeAmount > 0 && c.Economy.IncomeInterval.Duration <= 0 {
		errs = append(errs, "economy: income_interval must be positive when income_amount is set")
	}
	if c.Economy.SweepInterval.Duration <= 0 {
		errs = append(errs, "economy: sweep_interval must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
