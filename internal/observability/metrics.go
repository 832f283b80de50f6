package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Every binary registers the full set below; the ones it never touches
// simply stay at zero.

const namespace = "engage"

// lowLatencyBuckets resolves the data plane's single-digit millisecond calls.
var lowLatencyBuckets = []float64{.0005, .001, .002, .005, .010, .020, .050, .100, .250, .500}

var (
	// -------------------------------------------------------------------------
	// CONTROL PLANE (HTTP)
	// -------------------------------------------------------------------------

	// ControlPlaneReqDuration is engage_control_plane_http_handling_seconds.
	ControlPlaneReqDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "control_plane",
		Name:      "http_handling_seconds",
		Help:      "Time taken to handle HTTP requests in the control plane",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	// ControlPlaneReqTotal is engage_control_plane_http_requests_total.
	ControlPlaneReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "control_plane",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests in the control plane",
	}, []string{"method", "route", "code"})

	// ControlPlanePublishFailures counts manifest updates whose cache
	// propagation gave up after all retries.
	ControlPlanePublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "control_plane",
		Name:      "publish_failures_total",
		Help:      "Manifest updates that could not be pushed to Redis",
	})

	// -------------------------------------------------------------------------
	// DATA PLANE (gRPC, sessions, cache)
	// -------------------------------------------------------------------------

	// DataPlaneGrpcDuration is engage_data_plane_grpc_handling_seconds.
	DataPlaneGrpcDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "data_plane",
		Name:      "grpc_handling_seconds",
		Help:      "Time taken to handle gRPC requests",
		Buckets:   lowLatencyBuckets,
	}, []string{"method", "code"})

	// DataPlaneGrpcTotal is engage_data_plane_grpc_requests_total.
	DataPlaneGrpcTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "data_plane",
		Name:      "grpc_requests_total",
		Help:      "Total gRPC requests",
	}, []string{"method", "code"})

	// DataPlaneEngagements counts engaged events by outcome: "interaction"
	// when one was returned, "none" otherwise.
	DataPlaneEngagements = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "data_plane",
		Name:      "engagements_total",
		Help:      "Engaged events by outcome",
	}, []string{"result"})

	// DataPlaneSessionErrors counts failed session loads and saves.
	DataPlaneSessionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "data_plane",
		Name:      "session_errors_total",
		Help:      "Session persistence failures by operation",
	}, []string{"op"})

	// --- L1 manifest cache (otter) ---

	DataPlaneCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "data_plane",
		Name:      "l1_cache_hits_total",
		Help:      "Total L1 cache hits (in-memory)",
	})

	DataPlaneCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "data_plane",
		Name:      "l1_cache_misses_total",
		Help:      "Total L1 cache misses",
	})

	DataPlaneCacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "data_plane",
		Name:      "l1_cache_evictions_total",
		Help:      "Total manifests evicted for capacity",
	})

	// DataPlaneCacheUsage is an item count; otter does not track bytes.
	DataPlaneCacheUsage = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "data_plane",
		Name:      "l1_cache_items_count",
		Help:      "Current number of manifests in the L1 cache",
	})

	DataPlaneCacheDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "data_plane",
		Name:      "l1_cache_dropped_total",
		Help:      "Total sets rejected by the L1 cache",
	})

	DataPlaneInvalidations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "data_plane",
		Name:      "l1_invalidations_total",
		Help:      "Total manifest invalidations received via Pub/Sub",
	})

	// -------------------------------------------------------------------------
	// SYNCER
	// -------------------------------------------------------------------------

	// SyncerCycleDuration is engage_syncer_cycle_duration_seconds.
	SyncerCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "syncer",
		Name:      "cycle_duration_seconds",
		Help:      "Duration of one full pass over the manifests table",
		Buckets:   prometheus.DefBuckets,
	})

	// SyncerManifestsTotal counts manifests per cycle by status: synced,
	// skipped (unchanged fingerprint) or failed.
	SyncerManifestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "syncer",
		Name:      "manifests_total",
		Help:      "Manifests processed by the syncer",
	}, []string{"status"})

	// -------------------------------------------------------------------------
	// DATABASE POOL
	// -------------------------------------------------------------------------

	// DBPoolConnections has one series per state: max, total, idle, in_use.
	DBPoolConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "database_pool",
		Name:      "connections",
		Help:      "Connections in the PostgreSQL pool by state",
	}, []string{"state"})

	DBPoolAcquireCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "database_pool",
		Name:      "acquire_count_total",
		Help:      "Cumulative successful connection acquisitions",
	})

	DBPoolAcquireDuration = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "database_pool",
		Name:      "acquire_duration_seconds_total",
		Help:      "Cumulative time spent acquiring connections",
	})

	DBPoolWaitCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "database_pool",
		Name:      "wait_count_total",
		Help:      "Cumulative acquisitions that had to wait for a connection",
	})

	// -------------------------------------------------------------------------
	// REDIS POOL
	// -------------------------------------------------------------------------

	// RedisPoolConnections has one series per state: total, idle, stale.
	RedisPoolConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "redis_pool",
		Name:      "connections",
		Help:      "Connections in the Redis pool by state",
	}, []string{"state"})

	RedisPoolHits = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "redis_pool",
		Name:      "hits_total",
		Help:      "Cumulative times a free connection was found in the pool",
	})

	RedisPoolMisses = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "redis_pool",
		Name:      "misses_total",
		Help:      "Cumulative times a new connection had to be dialed",
	})

	RedisPoolTimeouts = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "redis_pool",
		Name:      "timeouts_total",
		Help:      "Cumulative waits for a connection that timed out",
	})
)
