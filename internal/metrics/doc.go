// Package metrics provides Prometheus instrumentation for the media pipeline.
//
// This package defines and exposes various metrics that can be scraped by
// Prometheus to monitor the health, performance, and behavior of the
// application. All metrics are prefixed with "media_pipeline_" to avoid
// naming collisions with other applications.
//
// # Metric Categories
//
// The metrics are organized into the following categories:
//
// ## HTTP Metrics
//
// Track HTTP request performance and error rates:
//   - HTTPRequestsTotal: Counter of total requests by method, path, and status
//   - HTTPRequestDuration: Histogram of request duration by method and path
//   - HTTPRequestsInFlight: Gauge of currently processing requests
//
// ## Database Metrics
//
// Monitor database query performance:
//   - DBQueryTotal: Counter of queries by operation and status
//   - DBQueryDuration: Histogram of query duration by operation
//   - DBConnectionsOpen: Gauge of open database connections
//
// ## Ingest and Hash Registry Metrics
//
// Track upload processing and deduplication:
//   - IngestUploadsTotal: Counter by kind and outcome (new/duplicate/rejected/failed)
//   - IngestDuration: Histogram of synchronous ingest time
//   - IngestBytesTotal: Counter of accepted upload bytes
//   - HashLookupsTotal: Counter of registry lookups by result (hit/miss)
//   - HashWriteRetriesTotal: Counter of retried registry writes
//   - DedupBytesSaved: Counter of bytes not stored due to deduplication
//
// ## Queue Metrics
//
// Monitor the transcode and image re-encode queues:
//   - TranscodeJobsTotal / ConvertTasksTotal: Counters by terminal status
//   - TranscodeJobDuration / ConvertTaskDuration: Histograms of work duration
//   - TranscodeJobsActive: Gauge of running jobs
//   - TranscodeQueueDepth / ConvertQueueDepth: Gauges of waiting work
//   - ConvertBytesSaved: Counter of bytes saved by re-encoding
//
// ## Reconciler Metrics
//
// Track orphan sweeps: runs by mode, last run timestamp and duration,
// objects scanned, orphans found, objects deleted, bytes reclaimed, and
// per-object errors.
//
// ## Storage Metrics
//
// Monitor object store operations, retries, and NFS stale handle errors.
//
// # Usage
//
// Metrics are automatically registered with the default Prometheus registry
// using promauto. To expose them, mount the promhttp.Handler() on your
// metrics endpoint:
//
//	import "github.com/prometheus/client_golang/prometheus/promhttp"
//
//	mux.Handle("/metrics", promhttp.Handler())
//
// To record metrics from other packages, import this package and use the
// exported metric variables:
//
//	metrics.HashLookupsTotal.WithLabelValues("hit").Inc()
//	metrics.IngestDuration.Observe(0.123)
//
// # Prometheus Queries
//
// Example PromQL queries for common use cases:
//
// Dedup hit rate:
//
//	rate(media_pipeline_hash_lookups_total{result="hit"}[5m]) /
//	rate(media_pipeline_hash_lookups_total[5m])
//
// P95 ingest latency:
//
//	histogram_quantile(0.95, sum(rate(media_pipeline_ingest_duration_seconds_bucket[5m])) by (le))
//
// Transcode failure rate:
//
//	rate(media_pipeline_transcode_jobs_total{status="FAILED"}[1h]) /
//	rate(media_pipeline_transcode_jobs_total[1h])
//
// Storage reclaimed by the reconciler:
//
//	increase(media_pipeline_reconcile_bytes_reclaimed_total[24h])
package metrics
