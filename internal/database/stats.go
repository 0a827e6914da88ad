package database

import (
	"context"
	"time"
)

// HashTotals are the registry-wide aggregates behind the efficiency report.
// LogicalBytes counts every ingestion event at full size; UniqueBytes counts
// each distinct blob once.
type HashTotals struct {
	UniqueBlobs  int64
	TotalUploads int64
	UniqueBytes  int64
	LogicalBytes int64
}

// TopHash is one entry in the most-duplicated ranking.
type TopHash struct {
	Hash        string
	Filename    string
	ByteSize    int64
	UploadCount int64
	BytesSaved  int64
}

// SizeBucket groups blobs by size band.
type SizeBucket struct {
	Label       string
	Blobs       int64
	UniqueBytes int64
}

// MonthBucket groups blobs by the month they were first seen.
type MonthBucket struct {
	Month       string
	Blobs       int64
	Uploads     int64
	UniqueBytes int64
}

// GetHashTotals computes registry-wide dedup aggregates in one query.
func (d *Database) GetHashTotals(ctx context.Context) (HashTotals, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_hash_totals", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var t HashTotals
	err = d.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(upload_count), 0),
		       COALESCE(SUM(byte_size), 0),
		       COALESCE(SUM(byte_size * upload_count), 0)
		FROM hash_records
	`).Scan(&t.UniqueBlobs, &t.TotalUploads, &t.UniqueBytes, &t.LogicalBytes)
	return t, err
}

// TopDuplicatedHashes returns the n hashes with the most repeat uploads,
// ranked by bytes saved. Hashes seen only once are excluded.
func (d *Database) TopDuplicatedHashes(ctx context.Context, n int) ([]TopHash, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("top_duplicated_hashes", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, `
		SELECT hash, filename, byte_size, upload_count,
		       byte_size * (upload_count - 1) AS bytes_saved
		FROM hash_records
		WHERE upload_count > 1
		ORDER BY bytes_saved DESC, upload_count DESC
		LIMIT ?
	`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var top []TopHash
	for rows.Next() {
		var h TopHash
		if err = rows.Scan(&h.Hash, &h.Filename, &h.ByteSize, &h.UploadCount, &h.BytesSaved); err != nil {
			return nil, err
		}
		top = append(top, h)
	}
	err = rows.Err()
	return top, err
}

// HashSizeBuckets groups blobs into fixed size bands.
func (d *Database) HashSizeBuckets(ctx context.Context) ([]SizeBucket, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("hash_size_buckets", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, `
		SELECT CASE
		         WHEN byte_size < 1048576 THEN '<1MB'
		         WHEN byte_size < 10485760 THEN '1-10MB'
		         WHEN byte_size < 104857600 THEN '10-100MB'
		         ELSE '>100MB'
		       END AS band,
		       COUNT(*), COALESCE(SUM(byte_size), 0)
		FROM hash_records
		GROUP BY band
		ORDER BY MIN(byte_size)
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var buckets []SizeBucket
	for rows.Next() {
		var b SizeBucket
		if err = rows.Scan(&b.Label, &b.Blobs, &b.UniqueBytes); err != nil {
			return nil, err
		}
		buckets = append(buckets, b)
	}
	err = rows.Err()
	return buckets, err
}

// HashMonthBuckets groups blobs by first-seen month, oldest first.
func (d *Database) HashMonthBuckets(ctx context.Context) ([]MonthBucket, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("hash_month_buckets", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, `
		SELECT strftime('%Y-%m', first_seen_at, 'unixepoch') AS month,
		       COUNT(*),
		       COALESCE(SUM(upload_count), 0),
		       COALESCE(SUM(byte_size), 0)
		FROM hash_records
		GROUP BY month
		ORDER BY month ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var buckets []MonthBucket
	for rows.Next() {
		var b MonthBucket
		if err = rows.Scan(&b.Month, &b.Blobs, &b.Uploads, &b.UniqueBytes); err != nil {
			return nil, err
		}
		buckets = append(buckets, b)
	}
	err = rows.Err()
	return buckets, err
}
