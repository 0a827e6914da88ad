// Command reconcile runs a one-shot orphan sweep against object storage.
//
// It compares every managed object in the store against the set of URLs the
// database still references and removes the ones nothing points at. The
// same sweep runs periodically inside the pipeline server; this utility is
// for manual runs, larger cleanups after bulk deletions, and cron jobs on
// deployments that disable the background loop.
//
// Usage:
//
//	reconcile [flags]
//
// Flags:
//
//	-dry-run      Report orphans without deleting them (default true).
//	-min-age      Skip objects younger than this (default 1h). Protects
//	              uploads whose database record has not committed yet.
//	-max-size-mb  Flag orphans above this size for manual review instead
//	              of deleting them (default 1024, 0 disables).
//	-prefix       Only scan object keys under this prefix.
//	-yes          Skip the interactive confirmation for live sweeps.
//
// Environment:
//
//	DATA_DIR        - Path to data directory (default: /data)
//	STORAGE_BACKEND - local or minio (default: local)
//	STORAGE_DIR     - Local object directory (default: /objects)
//	MINIO_*         - MinIO connection settings
//
// Notes:
//
// A live sweep (-dry-run=false) prompts for a typed confirmation when run
// interactively and refuses to proceed on a non-terminal stdin unless -yes
// is passed. The exit status is non-zero when any per-object deletion
// failed.
package main
