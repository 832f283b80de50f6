package config

import "time"

// SyncerConfig drives the worker that reconciles Redis with the manifests
// stored in Postgres.
type SyncerConfig struct {
	Enabled bool `envconfig:"ENABLED" default:"true"`

	// Interval separates two full reconciliation cycles.
	Interval time.Duration `envconfig:"INTERVAL" default:"10s" validate:"gt=0"`
	// CycleTimeout abandons a cycle that runs longer; zero disables it.
	CycleTimeout time.Duration `envconfig:"CYCLE_TIMEOUT" default:"1m" validate:"min=0"`

	// Concurrency bounds the manifests written to Redis in parallel.
	Concurrency    int           `envconfig:"CONCURRENCY" default:"10" validate:"min=1"`
	MaxRetries     int           `envconfig:"MAX_RETRIES" default:"3" validate:"min=0"`
	BaseRetryDelay time.Duration `envconfig:"BASE_RETRY_DELAY" default:"1s"`

	// KeepOrphans leaves cached manifests that Postgres no longer has.
	// Useful while a migration is moving apps between databases.
	KeepOrphans bool `envconfig:"KEEP_ORPHANS" default:"false"`
}
