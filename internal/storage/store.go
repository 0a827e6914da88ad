package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"media-pipeline/internal/metrics"
)

// ErrNotExist is returned when the requested object does not exist.
var ErrNotExist = errors.New("object does not exist")

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// ObjectStore is the blob-store contract the pipeline depends on. Backends
// are assumed eventually-consistent-safe for List; the reconciler's age gate
// covers listing lag.
type ObjectStore interface {
	// Put stores the object and returns its stable serving URL.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	// Get returns a reader over the object's bytes. The caller must close it.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error
	// Exists reports whether the object is present.
	Exists(ctx context.Context, key string) (bool, error)
	// Stat returns size and modification time for the object.
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	// List enumerates all objects under the given key prefix, recursively.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	// PresignedURL returns a time-limited URL for direct download.
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
	// URL returns the stable serving URL for a key without touching the backend.
	URL(key string) string
	// KeyFromURL maps a URL produced by this store back to its object key.
	KeyFromURL(url string) (string, bool)
}

// recordOp records a storage operation metric.
func recordOp(operation string, start time.Time, err error) {
	status := "success"
	if err != nil && !errors.Is(err, ErrNotExist) {
		status = "error"
	}
	metrics.StorageOperationsTotal.WithLabelValues(operation, status).Inc()
	metrics.StorageOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
