/*
Package config loads ledgerd's settings.

SOURCES (later wins):
  1. Built-in defaults
  2. ledger.yaml in the config directory (optional)
  3. .env in the config directory (optional, never overrides the environment)
  4. Process environment

Keys are the same everywhere: DB_TYPE in the environment, db_type in YAML.

The result is an explicit *Config passed to whoever needs it. Nothing reads
the environment after Load returns.
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/warp/client-ledger/ledger"
	"github.com/warp/client-ledger/storage/postgres"
)

// Backend kinds accepted by DB_TYPE.
const (
	SQLite   = "sqlite"
	Postgres = "postgres"
)

// Config is the full runtime configuration.
type Config struct {
	DBType   string
	SQLite   SQLiteConfig
	Postgres postgres.Options

	HTTPAddr string

	VIPThreshold ledger.Money
	VIPDiscount  decimal.Decimal

	LogLevel  string
	LogFormat string

	// AuditSchedule is a cron spec for the aggregate audit; empty disables it.
	AuditSchedule string
	ReadRetries   int
}

// SQLiteConfig selects the SQLite file and aggregate strategy.
type SQLiteConfig struct {
	Path     string
	Triggers bool
}

var defaults = map[string]any{
	"db_type":         SQLite,
	"sqlite_path":     "data/ledger.db",
	"sqlite_triggers": false,
	"pg_host":         "localhost",
	"pg_port":         5432,
	"pg_database":     "ledger",
	"pg_user":         "postgres",
	"pg_password":     "",
	"pg_sslmode":      "disable",
	"http_addr":       ":8080",
	"vip_threshold":   "1000000",
	"vip_discount":    "0.05",
	"log_level":       "info",
	"log_format":      "console",
	"audit_schedule":  "0 3 * * *",
	"read_retries":    3,
}

// Load reads configuration from dir ("" means the working directory).
func Load(dir string) (*Config, error) {
	if dir == "" {
		dir = "."
	}

	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: read .env: %w", err)
	}

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetConfigName("ledger")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read ledger.yaml: %w", err)
		}
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		DBType: strings.ToLower(strings.TrimSpace(v.GetString("db_type"))),
		SQLite: SQLiteConfig{
			Path:     v.GetString("sqlite_path"),
			Triggers: v.GetBool("sqlite_triggers"),
		},
		Postgres: postgres.Options{
			Host:            v.GetString("pg_host"),
			Port:            v.GetInt("pg_port"),
			Database:        v.GetString("pg_database"),
			User:            v.GetString("pg_user"),
			Password:        v.GetString("pg_password"),
			SSLMode:         v.GetString("pg_sslmode"),
			ConnMaxLifetime: 5 * time.Minute,
		},
		HTTPAddr:      v.GetString("http_addr"),
		LogLevel:      strings.ToLower(v.GetString("log_level")),
		LogFormat:     strings.ToLower(v.GetString("log_format")),
		AuditSchedule: strings.TrimSpace(v.GetString("audit_schedule")),
		ReadRetries:   v.GetInt("read_retries"),
	}

	switch cfg.DBType {
	case SQLite, Postgres:
	default:
		return nil, fmt.Errorf("config: DB_TYPE must be %q or %q, got %q", SQLite, Postgres, cfg.DBType)
	}

	threshold, err := ledger.ParseMoney(v.GetString("vip_threshold"))
	if err != nil || threshold.IsNegative() || !threshold.Storable() {
		return nil, fmt.Errorf("config: VIP_THRESHOLD %q is not a non-negative amount", v.GetString("vip_threshold"))
	}
	cfg.VIPThreshold = threshold

	discount, err := decimal.NewFromString(strings.TrimSpace(v.GetString("vip_discount")))
	if err != nil || discount.IsNegative() || discount.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("config: VIP_DISCOUNT %q must be a rate between 0 and 1", v.GetString("vip_discount"))
	}
	cfg.VIPDiscount = discount

	if cfg.Postgres.Port < 1 || cfg.Postgres.Port > 65535 {
		return nil, fmt.Errorf("config: PG_PORT %q is not a valid port", v.GetString("pg_port"))
	}
	if cfg.LogFormat != "console" && cfg.LogFormat != "json" {
		return nil, fmt.Errorf("config: LOG_FORMAT must be console or json, got %q", cfg.LogFormat)
	}
	if cfg.ReadRetries < 1 {
		return nil, fmt.Errorf("config: READ_RETRIES must be at least 1, got %d", cfg.ReadRetries)
	}
	return cfg, nil
}

// TierPolicy is the configured promotion rule.
func (c *Config) TierPolicy() ledger.TierPolicy {
	return ledger.TierPolicy{VIPThreshold: c.VIPThreshold, VIPDiscount: c.VIPDiscount}
}

// RetryPolicy is the default read retry with the configured attempt count.
func (c *Config) RetryPolicy() ledger.RetryPolicy {
	p := ledger.DefaultRetryPolicy
	p.Attempts = c.ReadRetries
	return p
}
