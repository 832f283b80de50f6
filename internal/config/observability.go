package config

import "time"

// ObservabilityConfig configures the side server that every binary exposes
// for probes and Prometheus scraping.
type ObservabilityConfig struct {
	Port string `envconfig:"PORT" default:"9090"`

	// Timeout bounds read, write and idle time on the side server.
	Timeout time.Duration `envconfig:"TIMEOUT" default:"5s" validate:"min=1s"`

	LivenessPath  string `envconfig:"LIVENESS_PATH" default:"/healthz" validate:"startswith=/"`
	ReadinessPath string `envconfig:"READINESS_PATH" default:"/readyz" validate:"startswith=/"`
	MetricsPath   string `envconfig:"METRICS_PATH" default:"/metrics" validate:"startswith=/"`

	// PoolMonitorInterval is how often Postgres and Redis pool statistics
	// are copied into gauges.
	PoolMonitorInterval time.Duration `envconfig:"POOL_MONITOR_INTERVAL" default:"10s" validate:"min=1s"`
}

// Validate checks the observability settings.
func (o *ObservabilityConfig) Validate() error {
	return validatePort(o.Port, "observability")
}
