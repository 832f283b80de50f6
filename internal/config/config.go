// Package config loads the configuration shared by every Engage binary from
// ENGAGE_* environment variables. Struct tags carry the simple rules; the
// Validate methods carry the cross-field and environment-dependent ones.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

// EnvironmentProduction switches on the strict security checks.
const EnvironmentProduction = "production"

// envPrefix is prepended to every variable, e.g. ENGAGE_APP_LOG_LEVEL.
const envPrefix = "ENGAGE"

// validate is safe for concurrent use and caches struct metadata.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Config is the complete configuration. Each binary reads the sections it
// needs: the data plane never touches Database, the syncer never serves.
type Config struct {
	App           AppConfig           `envconfig:"APP"`
	Server        ServerConfig        `envconfig:"SERVER"`
	Database      DatabaseConfig      `envconfig:"DB"`
	Redis         RedisConfig         `envconfig:"REDIS"`
	Syncer        SyncerConfig        `envconfig:"SYNCER"`
	Session       SessionConfig       `envconfig:"SESSION"`
	Cache         CacheConfig         `envconfig:"CACHE"`
	Observability ObservabilityConfig `envconfig:"OBSERVABILITY"`
}

// AppConfig holds process-wide settings.
type AppConfig struct {
	Name            string        `envconfig:"NAME" default:"engage"`
	Version         string        `envconfig:"VERSION" default:"dev"`
	Environment     string        `envconfig:"ENV" default:"development" validate:"oneof=development staging production"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	LogFormat       string        `envconfig:"LOG_FORMAT" default:"text" validate:"oneof=json text"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// ServerConfig groups the two public listeners.
type ServerConfig struct {
	Control ControlPlaneConfig `envconfig:"CONTROL"`
	Data    DataPlaneConfig    `envconfig:"DATA"`
}

// Load reads and validates the configuration.
// The database section is only validated when any of it is set; binaries
// that need it call RequireDatabase.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate runs the tag rules first and then each section's own checks.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validation error: %w", err)
	}

	env := c.App.Environment
	checks := []func() error{
		func() error { return c.Redis.Validate(env) },
		func() error { return c.Server.Control.Validate(env) },
		c.Server.Data.Validate,
		c.Observability.Validate,
		c.Session.Validate,
	}
	if c.Database.isSet() {
		checks = append([]func() error{func() error { return c.Database.Validate(env) }}, checks...)
	}

	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

// RequireDatabase fails unless the database section is configured and valid.
func (c *Config) RequireDatabase() error {
	if !c.Database.IsConfigured() {
		return fmt.Errorf("database configuration is required: set %s_DB_URL or %s_DB_HOST/PORT/NAME/USER", envPrefix, envPrefix)
	}
	return c.Database.Validate(c.App.Environment)
}

// LogConfig logs the non-secret parts of the configuration.
func (c *Config) LogConfig(log *slog.Logger) {
	log.Info("configuration loaded",
		slog.Group("app",
			slog.String("name", c.App.Name),
			slog.String("version", c.App.Version),
			slog.String("environment", c.App.Environment),
			slog.String("log_level", c.App.LogLevel),
		),
		slog.Group("listen",
			slog.String("control", c.Server.Control.Port),
			slog.String("data", c.Server.Data.Port),
			slog.String("observability", c.Observability.Port),
			slog.Bool("control_tls", c.Server.Control.TLSEnabled),
		),
		slog.Group("backends",
			slog.Bool("postgres", c.Database.IsConfigured()),
			slog.Bool("redis", c.Redis.IsConfigured()),
		),
		slog.Group("engagement",
			slog.Duration("session_ttl", c.Session.TTL),
			slog.Int("l1_capacity", c.Cache.L1Capacity),
			slog.Duration("l1_ttl", c.Cache.L1TTL),
			slog.Duration("sync_interval", c.Syncer.Interval),
		),
	)
}
