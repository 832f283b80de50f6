package config

import (
	"fmt"
	"time"
)

// SessionConfig controls how engagement sessions are persisted and serialized.
type SessionConfig struct {
	// TTL is refreshed on every write. Idle sessions expire from Redis after it.
	TTL time.Duration `envconfig:"TTL" default:"720h" validate:"gt=0"`

	// LockStripes is the number of in-process mutexes sessions are hashed onto.
	LockStripes int `envconfig:"LOCK_STRIPES" default:"256" validate:"min=1,max=65536"`

	// OperationTimeout bounds one load, engage and save cycle.
	OperationTimeout time.Duration `envconfig:"OPERATION_TIMEOUT" default:"2s"`
}

// Validate checks SessionConfig fields that struct tags cannot express.
func (c *SessionConfig) Validate() error {
	if c.OperationTimeout <= 0 {
		return fmt.Errorf("session operation timeout must be positive, got %s", c.OperationTimeout)
	}
	if c.TTL < time.Minute {
		return fmt.Errorf("session TTL must be at least one minute, got %s", c.TTL)
	}
	return nil
}

// CacheConfig sizes the in-process L1 cache of compiled manifests.
type CacheConfig struct {
	L1Capacity int           `envconfig:"L1_CAPACITY" default:"1000" validate:"min=1"`
	L1TTL      time.Duration `envconfig:"L1_TTL" default:"5m" validate:"gt=0"`

	// MetricsInterval is how often the L1 size and eviction gauges are refreshed.
	MetricsInterval time.Duration `envconfig:"METRICS_INTERVAL" default:"15s" validate:"gt=0"`
}
