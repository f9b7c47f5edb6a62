package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	RabbitMQ  RabbitMQConfig
	Bootstrap BootstrapConfig
	RateLimit RateLimitConfig
	Billing   BillingConfig
	Scoring   ScoringConfig
	LogLevel  string `mapstructure:"log_level"`
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Host         string        `mapstructure:"host"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Environment  string        `mapstructure:"environment"`
}

// DatabaseConfig holds database connection configuration.
// URL is the 12-Factor style DATABASE_URL and is the only way to point the
// service at Postgres; pool knobs stay tunable separately.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the libpq-style connection string parsed from URL.
func (c *DatabaseConfig) DSN() string {
	parsed, err := ParseDatabaseURL(c.URL)
	if err != nil {
		return ""
	}
	return parsed.ToDSN()
}

// Validate checks that the database configuration is usable.
func (c *DatabaseConfig) Validate() error {
	if c.URL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if _, err := ParseDatabaseURL(c.URL); err != nil {
		return fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	return nil
}

// RabbitMQConfig holds RabbitMQ connection configuration.
// An empty URL disables event publishing entirely.
type RabbitMQConfig struct {
	URL            string        `mapstructure:"url"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	MaxRetries     int           `mapstructure:"max_retries"`
	PrefetchCount  int           `mapstructure:"prefetch_count"`
}

// Enabled reports whether event publishing is configured.
func (c *RabbitMQConfig) Enabled() bool {
	return c.URL != ""
}

// BootstrapConfig holds the single-use tenant provisioning secret.
// An empty token disables the bootstrap endpoint (503).
type BootstrapConfig struct {
	Token string `mapstructure:"token"`
}

// RateLimitConfig holds the per-tenant sliding window parameters.
type RateLimitConfig struct {
	PerMinute int           `mapstructure:"per_minute"`
	Window    time.Duration `mapstructure:"window"`
}

// BillingConfig holds the free-tier gate parameters.
// WindowDays == 0 means the usage counter is all-time.
type BillingConfig struct {
	FreeTierLimit int `mapstructure:"free_tier_limit"`
	WindowDays    int `mapstructure:"window_days"`
}

// ScoringConfig bounds the external scoring call.
type ScoringConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// Load loads configuration from environment and config files.
func Load(serviceName string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Read from environment variables
	v.SetEnvPrefix("CLINCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Canonical un-prefixed names take precedence over nothing but are the
	// documented deployment contract.
	bindCanonicalEnv(v, "database.url", "DATABASE_URL")
	bindCanonicalEnv(v, "bootstrap.token", "BOOTSTRAP_TOKEN")
	bindCanonicalEnv(v, "ratelimit.per_minute", "RATE_LIMIT_PER_MINUTE")
	bindCanonicalEnv(v, "log_level", "LOG_LEVEL")
	bindCanonicalEnv(v, "server.environment", "APP_ENV")
	bindCanonicalEnv(v, "rabbitmq.url", "RABBITMQ_URL")

	// Read from config file if exists
	v.SetConfigName(serviceName)
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/clincore")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadWithValidation loads configuration and validates it for startup.
// Use this in main() for fail-fast behavior.
func LoadWithValidation(serviceName string) (*Config, error) {
	cfg, err := Load(serviceName)
	if err != nil {
		return nil, err
	}

	if err := cfg.Database.Validate(); err != nil {
		return nil, fmt.Errorf("database configuration error: %w", err)
	}

	if cfg.RateLimit.PerMinute < 1 {
		return nil, errors.New("RATE_LIMIT_PER_MINUTE must be positive")
	}

	return cfg, nil
}

func bindCanonicalEnv(v *viper.Viper, key, env string) {
	// viper.BindEnv never fails when at least one env name is given.
	_ = v.BindEnv(key, env)
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.environment", "development")

	// Database defaults
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	// RabbitMQ defaults (disabled unless a URL is supplied)
	v.SetDefault("rabbitmq.url", "")
	v.SetDefault("rabbitmq.reconnect_delay", 5*time.Second)
	v.SetDefault("rabbitmq.max_retries", 5)
	v.SetDefault("rabbitmq.prefetch_count", 10)

	// Bootstrap defaults (disabled unless a token is supplied)
	v.SetDefault("bootstrap.token", "")

	// Rate limit defaults
	v.SetDefault("ratelimit.per_minute", 60)
	v.SetDefault("ratelimit.window", time.Minute)

	// Billing defaults
	v.SetDefault("billing.free_tier_limit", 1000)
	v.SetDefault("billing.window_days", 0)

	// Scoring defaults
	v.SetDefault("scoring.timeout", 10*time.Second)

	// Logging defaults
	v.SetDefault("log_level", "info")
}
