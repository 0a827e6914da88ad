package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"media-pipeline/internal/logging"
)

// MinioConfig holds connection settings for an S3-compatible backend.
type MinioConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
	// PublicBaseURL is the prefix recorded in metadata URLs. When empty it is
	// derived from the endpoint and bucket.
	PublicBaseURL string
}

// MinioStore implements ObjectStore against MinIO or any S3-compatible
// service.
type MinioStore struct {
	client  *minio.Client
	bucket  string
	baseURL string
}

// NewMinioStore connects to the backend and ensures the bucket exists.
func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		logging.Info("Bucket %s does not exist, creating", cfg.Bucket)
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
		}
	}

	baseURL := cfg.PublicBaseURL
	if baseURL == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		baseURL = fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, cfg.Bucket)
	}

	logging.Info("Object store connected: %s/%s", cfg.Endpoint, cfg.Bucket)
	return &MinioStore{
		client:  client,
		bucket:  cfg.Bucket,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}, nil
}

// Put stores the object and returns its stable serving URL.
func (s *MinioStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("put", start, err) }()

	_, err = s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return s.URL(key), nil
}

// Get returns a reader over the object's bytes.
func (s *MinioStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("get", start, err) }()

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	// GetObject is lazy; surface missing objects now rather than on first read.
	if _, statErr := obj.Stat(); statErr != nil {
		obj.Close()
		if minio.ToErrorResponse(statErr).Code == "NoSuchKey" {
			err = ErrNotExist
			return nil, err
		}
		err = statErr
		return nil, fmt.Errorf("failed to stat object %s: %w", key, statErr)
	}
	return obj, nil
}

// Delete removes the object. Missing objects are not an error (minio treats
// removal of an absent key as success).
func (s *MinioStore) Delete(ctx context.Context, key string) error {
	start := time.Now()
	var err error
	defer func() { recordOp("delete", start, err) }()

	err = s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

// Exists reports whether the object is present.
func (s *MinioStore) Exists(ctx context.Context, key string) (bool, error) {
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
func (s *MinioStore) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("stat", start, err) }()

	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			err = ErrNotExist
		}
		return ObjectInfo{}, err
	}
	return ObjectInfo{Key: key, Size: info.Size, ModTime: info.LastModified}, nil
}

// List enumerates all objects under the given key prefix, recursively.
func (s *MinioStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("list", start, err) }()

	var objects []ObjectInfo
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			err = obj.Err
			return nil, fmt.Errorf("failed to list objects under %s: %w", prefix, obj.Err)
		}
		objects = append(objects, ObjectInfo{
			Key:     obj.Key,
			Size:    obj.Size,
			ModTime: obj.LastModified,
		})
	}
	return objects, nil
}

// PresignedURL returns a time-limited URL for direct download.
func (s *MinioStore) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("presign", start, err) }()

	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to presign object %s: %w", key, err)
	}
	return u.String(), nil
}

// URL returns the stable serving URL for a key.
func (s *MinioStore) URL(key string) string {
	return s.baseURL + "/" + strings.TrimPrefix(key, "/")
}

// KeyFromURL maps a URL produced by this store back to its object key.
func (s *MinioStore) KeyFromURL(url string) (string, bool) {
	p := s.baseURL + "/"
	if !strings.HasPrefix(url, p) {
		return "", false
	}
	return strings.TrimPrefix(url, p), true
}
