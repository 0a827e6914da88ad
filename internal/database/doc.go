// Package database provides SQLite persistence for the media pipeline.
//
// It handles storage and retrieval of:
//   - The content hash registry (one row per unique blob, with lifetime
//     upload counts)
//   - Media records and their processing lifecycle
//   - Transcode jobs and image re-encode tasks
//   - Aggregates backing the dedup efficiency report
//
// The database uses WAL mode for improved concurrent read performance
// and includes automatic schema initialization. All writes that must be
// atomic, most notably the hash upsert, are single SQL statements.
package database
