package database

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"media-pipeline/internal/mediatypes"
)

const mediaColumns = `id, parent_id, owner_id, filename, original_name, mime_type, byte_size, hash,
	media_kind, url, thumbnail_url, small_url, medium_url, large_url, compressed_url,
	is_processed, processing_status, is_transcoded, codec, processing_error, tags, created_at, updated_at`

// InsertMedia persists a new MediaRecord.
func (d *Database) InsertMedia(ctx context.Context, rec *MediaRecord) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("insert_media", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var tags sql.NullString
	if len(rec.Tags) > 0 {
		tags = sql.NullString{String: strings.Join(rec.Tags, ","), Valid: true}
	}

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO media_records (`+mediaColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, strftime('%s','now'), strftime('%s','now'))
	`,
		rec.ID, nullString(rec.ParentID), rec.OwnerID, rec.Filename, rec.OriginalName,
		rec.MimeType, rec.ByteSize, rec.Hash, string(rec.Kind), rec.URL,
		nullString(rec.ThumbnailURL), nullString(rec.SmallURL), nullString(rec.MediumURL),
		nullString(rec.LargeURL), nullString(rec.CompressedURL),
		boolToInt(rec.IsProcessed), string(rec.ProcessingStatus), boolToInt(rec.IsTranscoded),
		nullString(rec.Codec), nullString(rec.ProcessingError), tags,
	)
	return err
}

// GetMedia returns a MediaRecord by id, or ErrNotFound.
func (d *Database) GetMedia(ctx context.Context, id string) (*MediaRecord, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_media", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	row := d.db.QueryRowContext(ctx, "SELECT "+mediaColumns+" FROM media_records WHERE id = ?", id)
	rec, err := scanMedia(row)
	return rec, err
}

// UpdateMediaStatus sets the processing status and optional error on a
// record. Completed and failed statuses also flip is_processed.
func (d *Database) UpdateMediaStatus(ctx context.Context, id string, status ProcessingStatus, processingError *string) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("update_media_status", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := d.db.ExecContext(ctx, `
		UPDATE media_records
		SET processing_status = ?,
		    processing_error = ?,
		    is_processed = ?,
		    updated_at = strftime('%s','now')
		WHERE id = ?
	`, string(status), nullString(processingError), boolToInt(status.IsTerminal()), id)
	if err != nil {
		return err
	}
	return requireAffected(res, &err)
}

// TranscodeOutputs carries the URLs written by a completed transcode.
type TranscodeOutputs struct {
	SmallURL     *string
	MediumURL    *string
	LargeURL     *string
	ThumbnailURL *string
	Codec        string
}

// CompleteMediaTranscode records a successful transcode: tiered output URLs,
// thumbnail, codec, and terminal COMPLETED status.
func (d *Database) CompleteMediaTranscode(ctx context.Context, id string, out TranscodeOutputs) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("complete_media_transcode", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := d.db.ExecContext(ctx, `
		UPDATE media_records
		SET small_url = ?, medium_url = ?, large_url = ?, thumbnail_url = ?,
		    codec = ?, is_transcoded = 1, is_processed = 1,
		    processing_status = ?, processing_error = NULL,
		    updated_at = strftime('%s','now')
		WHERE id = ?
	`, nullString(out.SmallURL), nullString(out.MediumURL), nullString(out.LargeURL),
		nullString(out.ThumbnailURL), out.Codec, string(StatusCompleted), id)
	if err != nil {
		return err
	}
	return requireAffected(res, &err)
}

// CompleteMediaConvert records a successful image re-encode. The original
// URL is left untouched; compressed_url points at the converted object.
func (d *Database) CompleteMediaConvert(ctx context.Context, id string, compressedURL string) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("complete_media_convert", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := d.db.ExecContext(ctx, `
		UPDATE media_records
		SET compressed_url = ?, is_processed = 1,
		    processing_status = ?, processing_error = NULL,
		    updated_at = strftime('%s','now')
		WHERE id = ?
	`, compressedURL, string(StatusCompleted), id)
	if err != nil {
		return err
	}
	return requireAffected(res, &err)
}

// DeleteMedia removes a MediaRecord and returns its hash so the caller can
// run the live reference-count check before touching the physical blob.
func (d *Database) DeleteMedia(ctx context.Context, id string) (string, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("delete_media", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var hash string
	err = d.db.QueryRowContext(ctx, "SELECT hash FROM media_records WHERE id = ?", id).Scan(&hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrNotFound
		}
		return "", err
	}

	_, err = d.db.ExecContext(ctx, "DELETE FROM media_records WHERE id = ?", id)
	if err != nil {
		return "", err
	}
	return hash, nil
}

// AllReferencedURLs returns every non-null URL across every URL-bearing
// field of every MediaRecord. This is the authoritative in-use set for the
// orphan reconciler, read in one query so the snapshot is consistent.
func (d *Database) AllReferencedURLs(ctx context.Context) (map[string]struct{}, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("all_referenced_urls", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, `
		SELECT url, thumbnail_url, small_url, medium_url, large_url, compressed_url
		FROM media_records
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	inUse := make(map[string]struct{})
	for rows.Next() {
		var url string
		var optional [5]sql.NullString
		if err = rows.Scan(&url, &optional[0], &optional[1], &optional[2], &optional[3], &optional[4]); err != nil {
			return nil, err
		}
		inUse[url] = struct{}{}
		for _, ns := range optional {
			if ns.Valid && ns.String != "" {
				inUse[ns.String] = struct{}{}
			}
		}
	}
	err = rows.Err()
	if err != nil {
		return nil, err
	}
	return inUse, nil
}

// MediaCountByStatus returns record counts grouped by processing status.
func (d *Database) MediaCountByStatus(ctx context.Context) (map[ProcessingStatus]int64, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("media_count_by_status", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx,
		"SELECT processing_status, COUNT(*) FROM media_records GROUP BY processing_status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[ProcessingStatus]int64)
	for rows.Next() {
		var status string
		var count int64
		if err = rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[ProcessingStatus(status)] = count
	}
	err = rows.Err()
	return counts, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMedia(row rowScanner) (*MediaRecord, error) {
	var rec MediaRecord
	var parentID, thumbnailURL, smallURL, mediumURL, largeURL, compressedURL sql.NullString
	var codec, processingError, tags sql.NullString
	var kind, status string
	var isProcessed, isTranscoded int
	var createdAt, updatedAt int64

	err := row.Scan(
		&rec.ID, &parentID, &rec.OwnerID, &rec.Filename, &rec.OriginalName,
		&rec.MimeType, &rec.ByteSize, &rec.Hash, &kind, &rec.URL,
		&thumbnailURL, &smallURL, &mediumURL, &largeURL, &compressedURL,
		&isProcessed, &status, &isTranscoded, &codec, &processingError, &tags,
		&createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	rec.ParentID = fromNullString(parentID)
	rec.ThumbnailURL = fromNullString(thumbnailURL)
	rec.SmallURL = fromNullString(smallURL)
	rec.MediumURL = fromNullString(mediumURL)
	rec.LargeURL = fromNullString(largeURL)
	rec.CompressedURL = fromNullString(compressedURL)
	rec.Codec = fromNullString(codec)
	rec.ProcessingError = fromNullString(processingError)
	rec.Kind = mediatypes.MediaKind(kind)
	rec.ProcessingStatus = ProcessingStatus(status)
	rec.IsProcessed = isProcessed != 0
	rec.IsTranscoded = isTranscoded != 0
	if tags.Valid && tags.String != "" {
		rec.Tags = strings.Split(tags.String, ",")
	}
	rec.CreatedAt = time.Unix(createdAt, 0)
	rec.UpdatedAt = time.Unix(updatedAt, 0)
	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireAffected(res sql.Result, errOut *error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		*errOut = err
		return err
	}
	if affected == 0 {
		*errOut = ErrNotFound
		return ErrNotFound
	}
	return nil
}
