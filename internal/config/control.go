package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// ControlPlaneConfig configures the manifest REST API.
type ControlPlaneConfig struct {
	Host              string        `envconfig:"HOST" default:"0.0.0.0"`
	Port              string        `envconfig:"PORT" default:"8080"`
	ReadTimeout       time.Duration `envconfig:"READ_TIMEOUT" default:"10s"`
	ReadHeaderTimeout time.Duration `envconfig:"READ_HEADER_TIMEOUT" default:"5s"`
	WriteTimeout      time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`
	IdleTimeout       time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`
	MaxHeaderBytes    int           `envconfig:"MAX_HEADER_BYTES" default:"524288" validate:"min=1"`

	// MaxManifestBytes caps a PUT body. Manifests carry opaque interaction
	// configuration, so this is much larger than the header limit.
	MaxManifestBytes int64 `envconfig:"MAX_MANIFEST_BYTES" default:"1048576" validate:"min=1024"`

	// A stored manifest is pushed to Redis in the background; failures retry
	// with exponential backoff starting at PublishRetryDelay.
	PublishRetries    int           `envconfig:"PUBLISH_RETRIES" default:"3" validate:"min=0,max=10"`
	PublishRetryDelay time.Duration `envconfig:"PUBLISH_RETRY_DELAY" default:"100ms" validate:"min=1ms"`

	// APIKeyHash is the hex SHA-256 of the operator key sent in X-API-Key.
	APIKeyHash string `envconfig:"API_KEY_HASH"`
	TLSEnabled bool   `envconfig:"TLS_ENABLED" default:"false"`
	TLSCert    string `envconfig:"TLS_CERT_FILE"`
	TLSKey     string `envconfig:"TLS_KEY_FILE"`
}

// SkipAuth reports whether the API may run without a key. Only
// non-production environments without a configured hash qualify.
func (c *ControlPlaneConfig) SkipAuth(environment string) bool {
	return c.APIKeyHash == "" && environment != EnvironmentProduction
}

// Validate checks the control plane settings for environment.
func (c *ControlPlaneConfig) Validate(environment string) error {
	if err := validateHost(c.Host, "control plane"); err != nil {
		return err
	}
	if err := validatePort(c.Port, "control plane"); err != nil {
		return err
	}

	if c.TLSEnabled && (c.TLSCert == "" || c.TLSKey == "") {
		return errors.New("TLS enabled but cert or key file not specified")
	}
	if c.APIKeyHash != "" {
		if err := validateSHA256Hash(c.APIKeyHash); err != nil {
			return fmt.Errorf("invalid API key hash: %w", err)
		}
	}

	if environment != EnvironmentProduction {
		return nil
	}
	if c.APIKeyHash == "" {
		return errors.New("API key hash is required in production environment")
	}
	if !c.TLSEnabled {
		return errors.New("TLS must be enabled in production environment")
	}
	return nil
}

func validateSHA256Hash(hash string) error {
	if len(hash) != 64 {
		return fmt.Errorf("SHA-256 hash must be 64 characters, got %d", len(hash))
	}
	if _, err := hex.DecodeString(hash); err != nil {
		return fmt.Errorf("hash must be valid hexadecimal: %w", err)
	}
	return nil
}
