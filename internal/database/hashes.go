package database

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// LookupHash returns the HashRecord for a digest, or ErrNotFound.
// No side effects.
func (d *Database) LookupHash(ctx context.Context, hash string) (*HashRecord, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("lookup_hash", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var rec HashRecord
	var firstSeen, lastSeen int64

	err = d.db.QueryRowContext(ctx, `
		SELECT hash, filename, mime_type, byte_size, upload_count, first_seen_at, last_seen_at, canonical_url
		FROM hash_records WHERE hash = ?
	`, hash).Scan(
		&rec.Hash, &rec.Filename, &rec.MimeType, &rec.ByteSize,
		&rec.UploadCount, &firstSeen, &lastSeen, &rec.CanonicalURL,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrNotFound
		}
		return nil, err
	}

	rec.FirstSeenAt = time.Unix(firstSeen, 0)
	rec.LastSeenAt = time.Unix(lastSeen, 0)
	return &rec, nil
}

// RecordHashSeen registers one ingestion event for a digest. The first sight
// inserts a row with upload_count = 1; every later sight increments the
// counter and refreshes last_seen_at. The upsert is a single statement so a
// race between identical concurrent uploads can neither create two rows nor
// under-count.
func (d *Database) RecordHashSeen(ctx context.Context, hash, filename, mimeType string, byteSize int64, canonicalURL string) (*HashRecord, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("record_hash_seen", start, err) }()

	d.mu.Lock()
	now := time.Now().Unix()
	ctx2, cancel := context.WithTimeout(ctx, defaultTimeout)
	_, err = d.db.ExecContext(ctx2, `
		INSERT INTO hash_records (hash, filename, mime_type, byte_size, upload_count, first_seen_at, last_seen_at, canonical_url)
		VALUES (?, ?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET
			upload_count = upload_count + 1,
			last_seen_at = excluded.last_seen_at
	`, hash, filename, mimeType, byteSize, now, now, canonicalURL)
	cancel()
	d.mu.Unlock()

	if err != nil {
		return nil, err
	}

	return d.LookupHash(ctx, hash)
}

// CountMediaByHash returns the number of live MediaRecords referencing a
// hash. This is the live reference count used for deletion safety; it is
// computed here, never derived from upload_count.
func (d *Database) CountMediaByHash(ctx context.Context, hash string) (int64, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("count_media_by_hash", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var count int64
	err = d.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM media_records WHERE hash = ?", hash,
	).Scan(&count)
	return count, err
}

// PurgeHash removes a HashRecord after confirming zero live references.
// This is the administrative path only; normal flows never delete hashes.
func (d *Database) PurgeHash(ctx context.Context, hash string) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("purge_hash", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	// The reference check and the delete share one statement so a concurrent
	// insert cannot slip between them.
	res, err := d.db.ExecContext(ctx, `
		DELETE FROM hash_records
		WHERE hash = ?
		  AND NOT EXISTS (SELECT 1 FROM media_records WHERE media_records.hash = hash_records.hash)
	`, hash)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		count, countErr := d.CountMediaByHashLocked(ctx, hash)
		if countErr == nil && count > 0 {
			err = ErrStillReferenced
			return err
		}
		err = ErrNotFound
		return err
	}
	return nil
}

// CountMediaByHashLocked is CountMediaByHash without lock acquisition, for
// callers already holding the write lock.
func (d *Database) CountMediaByHashLocked(ctx context.Context, hash string) (int64, error) {
	var count int64
	err := d.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM media_records WHERE hash = ?", hash,
	).Scan(&count)
	return count, err
}
