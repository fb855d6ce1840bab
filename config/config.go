// Package config loads the billing service configuration.
//
// Sources, lowest precedence first: built-in defaults, the YAML file named
// by BILLING_CONFIG, then environment variables (a .env file is loaded into
// the environment by the caller with godotenv).
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/warp/billing-engine/billing"
)

type Config struct {
	// HTTP Server
	Port string `yaml:"port"`

	// Database
	DBDriver string `yaml:"db_driver"` // sqlite3, sqlite or postgres
	DBDSN    string `yaml:"db_dsn"`    // file path for SQLite, URL for Postgres

	// AMQP (optional)
	AMQPURL      string `yaml:"amqp_url"`
	AMQPExchange string `yaml:"amqp_exchange"`

	// Logging
	LogLevel string `yaml:"log_level"`

	Billing BillingConfig `yaml:"billing"`

	// SeedCategories inserts default categories on start.
	SeedCategories bool `yaml:"seed_categories"`
}

// BillingConfig holds the billing engine settings.
type BillingConfig struct {
	DueDay          int    `yaml:"due_day"`
	SweepPageSize   int    `yaml:"sweep_page_size"`
	SweepDailyAt    string `yaml:"sweep_daily_at"`
	SweepTimezone   string `yaml:"sweep_timezone"`
	SweepEnabled    bool   `yaml:"sweep_enabled"`
	CheckInterval   string `yaml:"sweep_check_interval"`
	AllowAdminSweep bool   `yaml:"allow_admin_sweep"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:           "8080",
		DBDriver:       "sqlite3",
		DBDSN:          "./data/billing.db",
		AMQPExchange:   "billing.events",
		LogLevel:       "info",
		SeedCategories: true,
		Billing: BillingConfig{
			DueDay:          10,
			SweepPageSize:   billing.DefaultSweepPageSize,
			SweepDailyAt:    billing.DefaultDailyAt,
			SweepTimezone:   "UTC",
			SweepEnabled:    true,
			CheckInterval:   "1m",
			AllowAdminSweep: true,
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file and
// the environment.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("BILLING_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.DBDriver = getEnv("DB_DRIVER", cfg.DBDriver)
	cfg.DBDSN = getEnv("DB_DSN", cfg.DBDSN)
	cfg.AMQPURL = getEnv("AMQP_URL", cfg.AMQPURL)
	cfg.AMQPExchange = getEnv("AMQP_EXCHANGE", cfg.AMQPExchange)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.SeedCategories = getEnvBool("SEED_CATEGORIES", cfg.SeedCategories)

	b := &cfg.Billing
	b.DueDay = getEnvInt("BILLING_DUE_DAY", b.DueDay)
	b.SweepPageSize = getEnvInt("BILLING_SWEEP_PAGE_SIZE", b.SweepPageSize)
	b.SweepDailyAt = getEnv("BILLING_SWEEP_DAILY_AT", b.SweepDailyAt)
	b.SweepTimezone = getEnv("BILLING_SWEEP_TIMEZONE", b.SweepTimezone)
	b.SweepEnabled = getEnvBool("BILLING_SWEEP_ENABLED", b.SweepEnabled)
	b.CheckInterval = getEnv("BILLING_SWEEP_CHECK_INTERVAL", b.CheckInterval)
	b.AllowAdminSweep = getEnvBool("BILLING_ALLOW_ADMIN_SWEEP", b.AllowAdminSweep)

	return cfg, nil
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	switch c.DBDriver {
	case "sqlite3", "sqlite", "postgres":
	default:
		errors = append(errors, fmt.Sprintf("invalid database driver '%s': must be one of [sqlite3 sqlite postgres]", c.DBDriver))
	}
	if c.DBDSN == "" {
		errors = append(errors, "database DSN cannot be empty")
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
	}

	if _, err := parseLevel(c.LogLevel); err != nil {
		errors = append(errors, err.Error())
	}

	b := c.Billing
	if err := billing.ValidateDay("billing due day", b.DueDay); err != nil {
		errors = append(errors, err.Error())
	}
	if b.SweepPageSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid sweep page size %d: must be at least 1", b.SweepPageSize))
	} else if b.SweepPageSize > 10000 {
		errors = append(errors, fmt.Sprintf("invalid sweep page size %d: must be at most 10000", b.SweepPageSize))
	}
	if _, _, err := billing.ParseDailyAt(b.SweepDailyAt); err != nil {
		errors = append(errors, fmt.Sprintf("invalid sweep daily time '%s': must be HH:MM", b.SweepDailyAt))
	}
	if _, err := time.LoadLocation(b.SweepTimezone); err != nil {
		errors = append(errors, fmt.Sprintf("invalid sweep timezone '%s': %v", b.SweepTimezone, err))
	}
	if d, err := time.ParseDuration(b.CheckInterval); err != nil {
		errors = append(errors, fmt.Sprintf("invalid sweep check interval '%s': %v", b.CheckInterval, err))
	} else if d < time.Second || d > time.Minute {
		errors = append(errors, fmt.Sprintf("invalid sweep check interval %v: must be between 1s and 1m", d))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

// Location returns the sweep timezone. Call after Validate.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Billing.SweepTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// CheckInterval returns the scheduler clock check interval.
func (c *Config) CheckInterval() time.Duration {
	d, err := time.ParseDuration(c.Billing.CheckInterval)
	if err != nil {
		return time.Minute
	}
	return d
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level '%s': must be one of [debug info warn error]", s)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
