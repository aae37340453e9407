// Package telemetry provides application-level observability for MirrorVault.
//
// All metrics are registered against the default Prometheus registry and are
// served by the side-channel HTTP listener started by main.go:
//
//	GET http://<host>:<MV_TELEMETRY_METRICS_PORT>/metrics
//
// Default port: 9090. The endpoint returns the Prometheus text exposition
// format and is meant to be scraped every 15-60 seconds. The same listener
// also serves GET /healthz with the aggregated storage health report.
//
// # Metric Groups
//
//   - storage events (uploads, downloads, deletes, errors) labelled by
//     provider and event type
//   - sync state machine outcomes, retry counts, and upload latency
//   - version store creation/dedup/cleanup counters
//   - health gauges (disk free, backup age, sync lag) fed by the monitor
//
// # Label Cardinality
//
// Metrics are labelled by provider name and event/outcome type only, never by
// file path, to keep cardinality bounded regardless of tree size.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Storage event metrics, incremented by the monitoring service for every
// structured event a provider or the syncer emits.
//
// Example PromQL queries:
//   - Upload rate by provider:  sum by (provider) (rate(storage_events_total{type="FileUpload"}[5m]))
//   - Provider error rate:      rate(storage_events_total{type="Error"}[5m])
var (
	StorageEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_events_total",
			Help: "Total number of storage events, by provider and event type.",
		},
		[]string{"provider", "type"},
	)

	StorageBytesTransferred = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_bytes_transferred_total",
			Help: "Total bytes uploaded or downloaded, by provider and direction.",
		},
		[]string{"provider", "direction"},
	)
)

// Sync metrics, maintained by the sync service.
//
// Example PromQL queries:
//   - Failure ratio:   sum(rate(sync_operations_total{outcome="failed"}[15m])) / sum(rate(sync_operations_total[15m]))
//   - p95 upload time: histogram_quantile(0.95, rate(sync_upload_duration_seconds_bucket[15m]))
var (
	SyncOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_operations_total",
			Help: "Total number of completed per-path sync operations, by outcome (synced, failed, skipped).",
		},
		[]string{"outcome"},
	)

	SyncRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_retries_total",
			Help: "Total number of upload retry attempts across all paths.",
		},
	)

	SyncUploadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sync_upload_duration_seconds",
			Help:    "Histogram of end-to-end per-path upload latencies (encrypt + all providers + version record).",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	SyncQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_queue_depth",
			Help: "Number of paths currently pending debounce or upload.",
		},
	)
)

// Versioning metrics. A climbing dedup counter with a flat creation counter
// usually means an editor is rewriting files without changing content.
var (
	VersionsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "versions_created_total",
			Help: "Total number of new content-addressed versions recorded.",
		},
	)

	VersionsDeduplicatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "versions_deduplicated_total",
			Help: "Total number of version creations skipped because identical content was already recorded.",
		},
	)

	VersionsCleanedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "versions_cleaned_total",
			Help: "Total number of versions removed by the retention policy.",
		},
	)
)

// Health gauges, set by the monitoring service on every check cycle and also
// writable through MonitoringService.RecordMetric.
var (
	DiskFreeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "storage_disk_free_bytes",
			Help: "Free bytes on the volume holding the watched directories.",
		},
	)

	BackupAgeSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "storage_backup_age_seconds",
			Help: "Seconds since the last successful backup upload.",
		},
	)

	SyncLagSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "storage_sync_lag_seconds",
			Help: "Age of the oldest pending sync operation in seconds.",
		},
	)

	HealthStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "storage_health_status",
			Help: "Aggregated health: 0 healthy, 1 degraded, 2 unhealthy.",
		},
	)
)
