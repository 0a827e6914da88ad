package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_pipeline_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_pipeline_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_pipeline_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Database metrics
var (
	DBQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_pipeline_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_pipeline_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_pipeline_db_connections_open",
			Help: "Number of open database connections",
		},
	)
)

// Ingest metrics
var (
	IngestUploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_pipeline_ingest_uploads_total",
			Help: "Total number of processed uploads",
		},
		[]string{"kind", "outcome"}, // outcome: "new", "duplicate", "rejected", "failed"
	)

	IngestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "media_pipeline_ingest_duration_seconds",
			Help:    "End-to-end synchronous ingest duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	IngestBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_pipeline_ingest_bytes_total",
			Help: "Total bytes accepted by the upload processor",
		},
	)
)

// Hash registry metrics
var (
	HashLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_pipeline_hash_lookups_total",
			Help: "Total number of hash registry lookups",
		},
		[]string{"result"}, // "hit", "miss"
	)

	HashWriteRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_pipeline_hash_write_retries_total",
			Help: "Total number of retried hash registry writes",
		},
	)

	DedupBytesSaved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_pipeline_dedup_bytes_saved_total",
			Help: "Bytes not stored because identical content already existed",
		},
	)
)

// Transcode queue metrics
var (
	TranscodeJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_pipeline_transcode_jobs_total",
			Help: "Total number of transcode jobs by terminal status",
		},
		[]string{"status"},
	)

	TranscodeJobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "media_pipeline_transcode_job_duration_seconds",
			Help:    "Transcode job duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
	)

	TranscodeJobsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_pipeline_transcode_jobs_active",
			Help: "Number of transcode jobs currently running",
		},
	)

	TranscodeQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_pipeline_transcode_queue_depth",
			Help: "Number of transcode jobs waiting to be claimed",
		},
	)
)

// Convert queue metrics
var (
	ConvertTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_pipeline_convert_tasks_total",
			Help: "Total number of image re-encode tasks by terminal status",
		},
		[]string{"status"},
	)

	ConvertTaskDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "media_pipeline_convert_task_duration_seconds",
			Help:    "Image re-encode task duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	ConvertBytesSaved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_pipeline_convert_bytes_saved_total",
			Help: "Bytes saved by image re-encoding",
		},
	)

	ConvertQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_pipeline_convert_queue_depth",
			Help: "Number of convert tasks waiting to be claimed",
		},
	)
)

// Reconciler metrics
var (
	ReconcileRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_pipeline_reconcile_runs_total",
			Help: "Total number of reconciliation sweeps",
		},
		[]string{"mode"}, // "dry_run", "live"
	)

	ReconcileLastRunTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_pipeline_reconcile_last_run_timestamp",
			Help: "Unix timestamp of the last reconciliation sweep",
		},
	)

	ReconcileLastRunDuration = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_pipeline_reconcile_last_run_duration_seconds",
			Help: "Duration of the last reconciliation sweep in seconds",
		},
	)

	ReconcileObjectsScanned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_pipeline_reconcile_objects_scanned_total",
			Help: "Total number of objects examined by the reconciler",
		},
	)

	ReconcileOrphansFound = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_pipeline_reconcile_orphans_found_total",
			Help: "Total number of orphan candidates found",
		},
	)

	ReconcileObjectsDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_pipeline_reconcile_objects_deleted_total",
			Help: "Total number of orphaned objects deleted",
		},
	)

	ReconcileBytesReclaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_pipeline_reconcile_bytes_reclaimed_total",
			Help: "Total bytes reclaimed by the reconciler",
		},
	)

	ReconcileErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_pipeline_reconcile_errors_total",
			Help: "Total number of per-object reconciliation errors",
		},
	)
)

// Object storage metrics
var (
	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_pipeline_storage_operations_total",
			Help: "Total number of object storage operations",
		},
		[]string{"operation", "status"},
	)

	StorageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_pipeline_storage_operation_duration_seconds",
			Help:    "Object storage operation duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"operation"},
	)

	StorageRetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_pipeline_storage_retry_attempts_total",
			Help: "Total number of retried local storage operations",
		},
		[]string{"operation"},
	)

	StorageStaleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_pipeline_storage_stale_errors_total",
			Help: "Total number of NFS stale file handle errors",
		},
		[]string{"operation"},
	)
)

// Application info metric
var (
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_pipeline_app_info",
			Help: "Application information",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// SetAppInfo sets the application info metric
func SetAppInfo(version, commit, goVersion string) {
	AppInfo.WithLabelValues(version, commit, goVersion).Set(1)
}
