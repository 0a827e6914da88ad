// Package registry implements the content hash registry: a BLAKE2b-256
// digest over the full upload bytes identifies each distinct blob, and the
// registry tracks how often each digest has been seen.
package registry

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"

	"media-pipeline/internal/database"
	"media-pipeline/internal/logging"
	"media-pipeline/internal/metrics"
)

// ComputeHash digests the full contents of r with BLAKE2b-256 and returns
// the lowercase hex encoding.
func ComputeHash(r io.Reader) (string, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", fmt.Errorf("failed to initialize digest: %w", err)
	}
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to hash content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ComputeHashBytes digests an in-memory buffer.
func ComputeHashBytes(b []byte) string {
	sum := blake2b.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Registry answers "have these bytes been seen before" and keeps the
// lifetime upload counter per digest.
type Registry struct {
	db *database.Database
}

// New creates a Registry over the given database.
func New(db *database.Database) *Registry {
	return &Registry{db: db}
}

// Lookup returns the record for a digest without side effects, or
// database.ErrNotFound for a never-seen digest.
func (r *Registry) Lookup(ctx context.Context, hash string) (*database.HashRecord, error) {
	rec, err := r.db.LookupHash(ctx, hash)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			metrics.HashLookupsTotal.WithLabelValues("miss").Inc()
		} else {
			metrics.HashLookupsTotal.WithLabelValues("error").Inc()
		}
		return nil, err
	}
	metrics.HashLookupsTotal.WithLabelValues("hit").Inc()
	return rec, nil
}

// RecordSeen registers one ingestion event for a digest and returns the
// updated record. A transient write failure gets one synchronous retry
// before the error propagates to the caller.
func (r *Registry) RecordSeen(ctx context.Context, hash, filename, mimeType string, byteSize int64, canonicalURL string) (*database.HashRecord, error) {
	rec, err := r.db.RecordHashSeen(ctx, hash, filename, mimeType, byteSize, canonicalURL)
	if err != nil {
		metrics.HashWriteRetriesTotal.Inc()
		logging.Warn("Hash registry write failed for %s, retrying once: %v", hash, err)
		rec, err = r.db.RecordHashSeen(ctx, hash, filename, mimeType, byteSize, canonicalURL)
		if err != nil {
			return nil, fmt.Errorf("failed to record hash %s: %w", hash, err)
		}
	}
	if rec.UploadCount > 1 {
		metrics.DedupBytesSaved.Add(float64(byteSize))
	}
	return rec, nil
}

// LiveReferences returns the number of media records currently pointing at
// a digest. This, never the upload counter, gates physical deletion.
func (r *Registry) LiveReferences(ctx context.Context, hash string) (int64, error) {
	return r.db.CountMediaByHash(ctx, hash)
}

// Purge removes a digest from the registry. Refused with
// database.ErrStillReferenced while any media record points at it. The
// stored blob is not touched here; once unregistered it becomes an orphan
// and the reconciler collects it.
func (r *Registry) Purge(ctx context.Context, hash string) error {
	if err := r.db.PurgeHash(ctx, hash); err != nil {
		return err
	}
	logging.Info("Purged hash %s from registry", hash)
	return nil
}
