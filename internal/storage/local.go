package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"media-pipeline/internal/fsutil"
	"media-pipeline/internal/logging"
)

// LocalStore implements ObjectStore on a local (possibly NFS-mounted)
// directory. Keys map to file paths under the root; URLs are the configured
// base URL plus the key.
type LocalStore struct {
	root    string
	baseURL string
	retry   fsutil.RetryConfig
}

// NewLocalStore creates a LocalStore rooted at dir. baseURL is the public
// prefix under which objects are served (e.g. "/objects").
func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve store directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &LocalStore{
		root:    abs,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		retry:   fsutil.DefaultRetryConfig(),
	}, nil
}

// keyPath maps an object key to a path under the root, rejecting traversal.
func (s *LocalStore) keyPath(key string) (string, error) {
	if strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	clean := path.Clean("/" + key)
	if clean == "/" {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// Put stores the object, creating parent directories as needed. The write
// goes to a temp file first so a crashed upload never leaves a partial
// object at the final key.
func (s *LocalStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("put", start, err) }()

	var p string
	if p, err = s.keyPath(key); err != nil {
		return "", err
	}
	if err = os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("failed to create object directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp object: %w", err)
	}
	tmpName := tmp.Name()

	if _, err = io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to write object %s: %w", key, err)
	}
	if err = tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to close object %s: %w", key, err)
	}
	if err = os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to finalize object %s: %w", key, err)
	}

	logging.Debug("Stored object %s (%d bytes)", key, size)
	return s.URL(key), nil
}

// Get returns a reader over the object's bytes.
func (s *LocalStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("get", start, err) }()

	p, err := s.keyPath(key)
	if err != nil {
		return nil, err
	}
	f, err := fsutil.OpenWithRetry(p, s.retry)
	if err != nil {
		if os.IsNotExist(err) {
			err = ErrNotExist
		}
		return nil, err
	}
	return f, nil
}

// Delete removes the object. Missing objects are not an error.
func (s *LocalStore) Delete(ctx context.Context, key string) error {
	start := time.Now()
	var err error
	defer func() { recordOp("delete", start, err) }()

	p, err := s.keyPath(key)
	if err != nil {
		return err
	}
	if err = os.Remove(p); err != nil {
		if os.IsNotExist(err) {
			err = nil
			return nil
		}
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

// Exists reports whether the object is present.
func (s *LocalStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Stat(ctx, key)
	if err != nil {
		if err == ErrNotExist {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Stat returns size and modification time for the object.
func (s *LocalStore) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("stat", start, err) }()

	p, err := s.keyPath(key)
	if err != nil {
		return ObjectInfo{}, err
	}
	info, err := fsutil.StatWithRetry(p, s.retry)
	if err != nil {
		if os.IsNotExist(err) {
			err = ErrNotExist
		}
		return ObjectInfo{}, err
	}
	return ObjectInfo{Key: key, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// List enumerates all objects under the given key prefix, recursively.
// Temp files from in-flight Puts are skipped.
func (s *LocalStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("list", start, err) }()

	dir := s.root
	if prefix != "" {
		if dir, err = s.keyPath(prefix); err != nil {
			return nil, err
		}
	}

	var objects []ObjectInfo
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) {
				return nil
			}
			return walkErr
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			logging.Warn("Failed to stat %s during listing: %v", p, infoErr)
			return nil
		}
		rel, relErr := filepath.Rel(s.root, p)
		if relErr != nil {
			return relErr
		}
		objects = append(objects, ObjectInfo{
			Key:     filepath.ToSlash(rel),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return objects, nil
}

// PresignedURL returns the stable URL; local objects need no signing.
func (s *LocalStore) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return s.URL(key), nil
}

// URL returns the serving URL for a key.
func (s *LocalStore) URL(key string) string {
	return s.baseURL + "/" + strings.TrimPrefix(key, "/")
}

// KeyFromURL maps a URL produced by this store back to its object key.
func (s *LocalStore) KeyFromURL(url string) (string, bool) {
	p := s.baseURL + "/"
	if !strings.HasPrefix(url, p) {
		return "", false
	}
	return strings.TrimPrefix(url, p), true
}
