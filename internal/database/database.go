package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite3 driver

	"media-pipeline/internal/logging"
	"media-pipeline/internal/metrics"
)

// Default timeout for database operations
const defaultTimeout = 5 * time.Second

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrStillReferenced is returned when a purge is refused because live
// metadata still references the hash.
var ErrStillReferenced = errors.New("hash still referenced by media records")

// ErrTerminalState is returned when a status update targets a job that has
// already reached COMPLETED, FAILED, or CANCELLED. Terminal states are
// immutable.
var ErrTerminalState = errors.New("job is in a terminal state")

// Database manages all persistence for the ingestion pipeline.
type Database struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (or creates) the pipeline database at dbPath. The parent
// directory must already exist and be writable; use startup.LoadConfig for
// validation before calling this.
func New(ctx context.Context, dbPath string) (*Database, error) {
	logging.Info("Database path: %s", dbPath)

	// WAL mode and busy_timeout prevent "database is locked" errors under
	// concurrent queue workers.
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=10000&_temp_store=MEMORY&_busy_timeout=5000", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after ping failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)

	d := &Database{db: db}

	if err := d.initialize(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after initialization failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	logging.Info("Database initialized successfully at %s", dbPath)
	return d, nil
}

func (d *Database) initialize(ctx context.Context) error {
	schema := `
	-- One row per distinct content fingerprint. upload_count is a lifetime
	-- counter of ingestion events; it is never decremented.
	CREATE TABLE IF NOT EXISTS hash_records (
		hash TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		mime_type TEXT NOT NULL,
		byte_size INTEGER NOT NULL,
		upload_count INTEGER NOT NULL DEFAULT 1,
		first_seen_at INTEGER NOT NULL,
		last_seen_at INTEGER NOT NULL,
		canonical_url TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_hash_records_first_seen ON hash_records(first_seen_at);
	CREATE INDEX IF NOT EXISTS idx_hash_records_byte_size ON hash_records(byte_size);

	-- One row per logical media asset.
	CREATE TABLE IF NOT EXISTS media_records (
		id TEXT PRIMARY KEY,
		parent_id TEXT,
		owner_id TEXT NOT NULL,
		filename TEXT NOT NULL,
		original_name TEXT NOT NULL,
		mime_type TEXT NOT NULL,
		byte_size INTEGER NOT NULL,
		hash TEXT NOT NULL REFERENCES hash_records(hash),
		media_kind TEXT NOT NULL,
		url TEXT NOT NULL,
		thumbnail_url TEXT,
		small_url TEXT,
		medium_url TEXT,
		large_url TEXT,
		compressed_url TEXT,
		is_processed INTEGER NOT NULL DEFAULT 0,
		processing_status TEXT NOT NULL,
		is_transcoded INTEGER NOT NULL DEFAULT 0,
		codec TEXT,
		processing_error TEXT,
		tags TEXT,
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		updated_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);

	CREATE INDEX IF NOT EXISTS idx_media_records_hash ON media_records(hash);
	CREATE INDEX IF NOT EXISTS idx_media_records_owner ON media_records(owner_id);
	CREATE INDEX IF NOT EXISTS idx_media_records_parent ON media_records(parent_id);
	CREATE INDEX IF NOT EXISTS idx_media_records_status ON media_records(processing_status);

	-- Transcode jobs persist for restart recovery and status polling; the
	-- in-memory queue, not this table, is the scheduler.
	CREATE TABLE IF NOT EXISTS transcode_jobs (
		job_id TEXT PRIMARY KEY,
		media_id TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		status TEXT NOT NULL,
		priority INTEGER NOT NULL,
		target_formats TEXT NOT NULL,
		extract_thumbnail INTEGER NOT NULL DEFAULT 0,
		thumbnail_count INTEGER NOT NULL DEFAULT 0,
		submitted_at INTEGER NOT NULL,
		started_at INTEGER,
		ended_at INTEGER,
		error_message TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_transcode_jobs_media ON transcode_jobs(media_id);
	CREATE INDEX IF NOT EXISTS idx_transcode_jobs_status ON transcode_jobs(status);

	CREATE TABLE IF NOT EXISTS convert_tasks (
		id TEXT PRIMARY KEY,
		media_id TEXT NOT NULL,
		filename TEXT NOT NULL,
		mime_type TEXT NOT NULL,
		byte_size INTEGER NOT NULL,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		started_at INTEGER,
		completed_at INTEGER,
		converted_size INTEGER,
		compression_ratio REAL,
		processing_time_ms INTEGER,
		error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_convert_tasks_media ON convert_tasks(media_id);
	CREATE INDEX IF NOT EXISTS idx_convert_tasks_status ON convert_tasks(status);
	`

	_, err := d.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// UpdateDBMetrics updates database connection metrics
func (d *Database) UpdateDBMetrics() {
	stats := d.db.Stats()
	metrics.DBConnectionsOpen.Set(float64(stats.OpenConnections))
}

// recordQuery records database query metrics
func recordQuery(operation string, start time.Time, err error) {
	duration := time.Since(start).Seconds()
	status := "success"
	if err != nil && !errors.Is(err, ErrNotFound) {
		status = "error"
	}
	metrics.DBQueryTotal.WithLabelValues(operation, status).Inc()
	metrics.DBQueryDuration.WithLabelValues(operation).Observe(duration)
}

// nullString converts an optional string for scanning/insertion.
func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// nullUnix converts an optional time for insertion as unix seconds.
func nullUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func fromNullUnix(ni sql.NullInt64) *time.Time {
	if !ni.Valid {
		return nil
	}
	t := time.Unix(ni.Int64, 0)
	return &t
}
