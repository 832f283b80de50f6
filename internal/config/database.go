package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"
	"time"
)

// postgresMaxIdentifier is the longest identifier Postgres keeps untruncated.
const postgresMaxIdentifier = 63

var secureSSLModes = []string{"require", "verify-ca", "verify-full"}

// DatabaseConfig locates the Postgres database that stores published
// manifests. Only the control plane and the syncer connect to it.
//
// URL wins over the discrete fields when set.
type DatabaseConfig struct {
	URL      string `envconfig:"URL"`
	Host     string `envconfig:"HOST"`
	Port     string `envconfig:"PORT"`
	Name     string `envconfig:"NAME"`
	User     string `envconfig:"USER"`
	Password string `envconfig:"PASSWORD"`
	SSLMode  string `envconfig:"SSL_MODE" default:"prefer" validate:"oneof=disable allow prefer require verify-ca verify-full"`

	// ApplicationName shows up in pg_stat_activity.
	ApplicationName string `envconfig:"APPLICATION_NAME" default:"engage"`
	// StatementTimeout bounds every statement server side; manifest listing
	// during a sync cycle is the longest query.
	StatementTimeout time.Duration `envconfig:"STATEMENT_TIMEOUT" default:"30s" validate:"min=0"`

	MaxConns        int           `envconfig:"MAX_CONNS" default:"25" validate:"min=1"`
	MinConns        int           `envconfig:"MIN_CONNS" default:"2" validate:"min=0"`
	MaxConnLifetime time.Duration `envconfig:"MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `envconfig:"MAX_CONN_IDLE_TIME" default:"30m"`
	ConnectTimeout  time.Duration `envconfig:"CONNECT_TIMEOUT" default:"5s"`

	// Startup ping, retried with linear backoff while Postgres comes up.
	PingMaxRetries int           `envconfig:"PING_MAX_RETRIES" default:"5" validate:"min=1"`
	PingBackoff    time.Duration `envconfig:"PING_BACKOFF" default:"2s"`
}

// ConnectionString returns URL verbatim or a postgres:// URL built from the
// discrete fields, with credentials escaped.
func (c *DatabaseConfig) ConnectionString() string {
	if c.URL != "" {
		return c.URL
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, c.Port),
		Path:     "/" + c.Name,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}

// RuntimeParams are the session settings applied to every pooled connection.
func (c *DatabaseConfig) RuntimeParams() map[string]string {
	params := map[string]string{}
	if c.ApplicationName != "" {
		params["application_name"] = c.ApplicationName
	}
	if c.StatementTimeout > 0 {
		params["statement_timeout"] = fmt.Sprint(c.StatementTimeout.Milliseconds())
	}
	return params
}

// Validate checks the database configuration for environment.
func (c *DatabaseConfig) Validate(environment string) error {
	if c.URL != "" {
		if err := validatePostgresURL(c.URL); err != nil {
			return fmt.Errorf("invalid database URL: %w", err)
		}
	} else if err := c.validateComponents(environment); err != nil {
		return err
	}

	if c.MinConns > c.MaxConns {
		return fmt.Errorf("min_conns (%d) cannot be greater than max_conns (%d)", c.MinConns, c.MaxConns)
	}
	return nil
}

// IsConfigured reports whether enough is set to dial Postgres.
func (c *DatabaseConfig) IsConfigured() bool {
	return c.URL != "" || (c.Host != "" && c.Port != "" && c.Name != "" && c.User != "")
}

// isSet reports whether any connection field was provided.
func (c *DatabaseConfig) isSet() bool {
	return c.URL != "" || c.Host != "" || c.Port != "" || c.Name != "" || c.User != ""
}

func (c *DatabaseConfig) validateComponents(environment string) error {
	if err := validateHost(c.Host, "database"); err != nil {
		return err
	}
	if err := validatePort(c.Port, "database"); err != nil {
		return err
	}
	if err := validateNoWhitespace(c.Name, "database name"); err != nil {
		return err
	}
	if len(c.Name) > postgresMaxIdentifier {
		return fmt.Errorf("database name cannot exceed %d characters", postgresMaxIdentifier)
	}
	if err := validateNoWhitespace(c.User, "database user"); err != nil {
		return err
	}
	if environment != EnvironmentProduction {
		return nil
	}

	if c.Password == "" {
		return errors.New("database password is required in production environment")
	}
	if err := validatePasswordStrength(c.Password, "database", environment); err != nil {
		return err
	}
	if !slices.Contains(secureSSLModes, c.SSLMode) {
		return fmt.Errorf("database SSL mode must be one of %s in production environment", strings.Join(secureSSLModes, ", "))
	}
	return nil
}

func validatePostgresURL(dbURL string) error {
	parsed, err := parseAndValidateURL(dbURL, []string{"postgres", "postgresql"})
	if err != nil {
		return err
	}
	if parsed.User == nil || parsed.User.Username() == "" {
		return errors.New("user is required in URL")
	}
	if strings.Trim(parsed.Path, "/") == "" {
		return errors.New("database name is required in URL path")
	}
	return nil
}
