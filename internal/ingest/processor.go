// Package ingest implements the upload processor: hashing, deduplication,
// classification, storage, and routing into the transcode or convert queue.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"media-pipeline/internal/database"
	"media-pipeline/internal/identity"
	"media-pipeline/internal/logging"
	"media-pipeline/internal/mediatypes"
	"media-pipeline/internal/metrics"
	"media-pipeline/internal/probe"
	"media-pipeline/internal/registry"
	"media-pipeline/internal/storage"
	"media-pipeline/internal/transcode"
)

// TranscodeSubmitter queues video transformation work.
type TranscodeSubmitter interface {
	Submit(ctx context.Context, caller identity.Caller, params transcode.SubmitParams) (*database.TranscodeJob, error)
}

// ConvertEnqueuer queues image re-encode work.
type ConvertEnqueuer interface {
	Eligible(kind mediatypes.MediaKind, byteSize int64) bool
	Enqueue(ctx context.Context, media *database.MediaRecord) (*database.ConvertTask, error)
}

// UploadParams describes one incoming upload.
type UploadParams struct {
	OriginalName string
	MimeType     string
	Data         []byte
	// Tags accepts the permissive inputs of ParseTagInput.
	Tags string
	// ParentID links a derived upload to its source asset.
	ParentID *string
}

// Result reports what ingestion did with an upload.
type Result struct {
	Media *database.MediaRecord
	// Duplicate is true when the bytes were already known and no new blob
	// was stored.
	Duplicate bool
	// Job is set when the upload entered the transcode queue.
	Job *database.TranscodeJob
	// Task is set when the upload entered the convert queue.
	Task *database.ConvertTask
}

// Processor runs the ingestion flow.
type Processor struct {
	db         *database.Database
	registry   *registry.Registry
	store      storage.ObjectStore
	transcoder TranscodeSubmitter
	converter  ConvertEnqueuer
	// MaxUploadBytes rejects oversized uploads before hashing. Zero means
	// unlimited.
	MaxUploadBytes int64
}

// NewProcessor wires an ingestion processor.
func NewProcessor(db *database.Database, reg *registry.Registry, store storage.ObjectStore, transcoder TranscodeSubmitter, converter ConvertEnqueuer) *Processor {
	return &Processor{
		db:         db,
		registry:   reg,
		store:      store,
		transcoder: transcoder,
		converter:  converter,
	}
}

// ErrTooLarge is returned for uploads over the configured size limit.
var ErrTooLarge = errors.New("upload exceeds size limit")

// Process ingests one upload for the caller. Unsupported types and
// oversized payloads fail before anything is persisted. Probe and queue
// failures after the blob is stored leave a FAILED record behind so the
// upload is visible and diagnosable.
func (p *Processor) Process(ctx context.Context, caller identity.Caller, params UploadParams) (*Result, error) {
	start := time.Now()

	kind, err := mediatypes.Classify(params.MimeType)
	if err != nil {
		metrics.IngestUploadsTotal.WithLabelValues("unknown", "rejected").Inc()
		return nil, err
	}
	kindLabel := string(kind)

	if p.MaxUploadBytes > 0 && int64(len(params.Data)) > p.MaxUploadBytes {
		metrics.IngestUploadsTotal.WithLabelValues(kindLabel, "rejected").Inc()
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(params.Data))
	}

	hash := registry.ComputeHashBytes(params.Data)
	byteSize := int64(len(params.Data))
	tags := mediatypes.ParseTagInput(params.Tags)

	defer func() {
		metrics.IngestDuration.Observe(time.Since(start).Seconds())
	}()

	// Known content: reuse the canonical blob, no storage write, no
	// reprocessing.
	if existing, err := p.registry.Lookup(ctx, hash); err == nil {
		return p.ingestDuplicate(ctx, caller, params, existing, kind, tags)
	} else if !errors.Is(err, database.ErrNotFound) {
		metrics.IngestUploadsTotal.WithLabelValues(kindLabel, "error").Inc()
		return nil, fmt.Errorf("hash lookup failed: %w", err)
	}

	ext := mediatypes.ExtensionFor(params.MimeType)
	key := blobKey(hash, ext)
	url, err := p.store.Put(ctx, key, bytes.NewReader(params.Data), byteSize, params.MimeType)
	if err != nil {
		metrics.IngestUploadsTotal.WithLabelValues(kindLabel, "error").Inc()
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	if _, err := p.registry.RecordSeen(ctx, hash, params.OriginalName, params.MimeType, byteSize, url); err != nil {
		metrics.IngestUploadsTotal.WithLabelValues(kindLabel, "error").Inc()
		return nil, err
	}

	media := &database.MediaRecord{
		ID:               uuid.NewString(),
		ParentID:         params.ParentID,
		OwnerID:          caller.OwnerID,
		Filename:         hash + ext,
		OriginalName:     params.OriginalName,
		MimeType:         params.MimeType,
		ByteSize:         byteSize,
		Hash:             hash,
		Kind:             kind,
		URL:              url,
		ProcessingStatus: database.StatusPending,
		Tags:             tags,
	}
	if err := p.db.InsertMedia(ctx, media); err != nil {
		metrics.IngestUploadsTotal.WithLabelValues(kindLabel, "error").Inc()
		return nil, fmt.Errorf("failed to persist media record: %w", err)
	}

	result := &Result{Media: media}
	if err := p.route(ctx, caller, media, params.Data, result); err != nil {
		// The blob and record exist; capture the failure on the record.
		msg := err.Error()
		if dbErr := p.db.UpdateMediaStatus(ctx, media.ID, database.StatusFailed, &msg); dbErr != nil {
			logging.Error("Failed to record ingest failure for media %s: %v", media.ID, dbErr)
		}
		media.ProcessingStatus = database.StatusFailed
		media.ProcessingError = &msg
		metrics.IngestUploadsTotal.WithLabelValues(kindLabel, "failed").Inc()
		return result, err
	}

	metrics.IngestUploadsTotal.WithLabelValues(kindLabel, "stored").Inc()
	metrics.IngestBytesTotal.Add(float64(byteSize))
	logging.Info("Ingested %s as media %s (%s, %d bytes)", params.OriginalName, media.ID, kind, byteSize)
	return result, nil
}

// ingestDuplicate records a repeat sight of known bytes: the upload counter
// increments, a fresh media record points at the canonical URL, and the
// upload completes with no storage write or processing.
func (p *Processor) ingestDuplicate(ctx context.Context, caller identity.Caller, params UploadParams, existing *database.HashRecord, kind mediatypes.MediaKind, tags []string) (*Result, error) {
	rec, err := p.registry.RecordSeen(ctx, existing.Hash, params.OriginalName, params.MimeType, existing.ByteSize, existing.CanonicalURL)
	if err != nil {
		metrics.IngestUploadsTotal.WithLabelValues(string(kind), "error").Inc()
		return nil, err
	}

	media := &database.MediaRecord{
		ID:               uuid.NewString(),
		ParentID:         params.ParentID,
		OwnerID:          caller.OwnerID,
		Filename:         rec.Filename,
		OriginalName:     params.OriginalName,
		MimeType:         params.MimeType,
		ByteSize:         rec.ByteSize,
		Hash:             rec.Hash,
		Kind:             kind,
		URL:              rec.CanonicalURL,
		IsProcessed:      true,
		ProcessingStatus: database.StatusCompleted,
		Tags:             tags,
	}
	if err := p.db.InsertMedia(ctx, media); err != nil {
		metrics.IngestUploadsTotal.WithLabelValues(string(kind), "error").Inc()
		return nil, fmt.Errorf("failed to persist media record: %w", err)
	}

	metrics.IngestUploadsTotal.WithLabelValues(string(kind), "deduplicated").Inc()
	logging.Info("Deduplicated %s against hash %s (seen %d times)", params.OriginalName, rec.Hash, rec.UploadCount)
	return &Result{Media: media, Duplicate: true}, nil
}

// route sends new content to the right queue, or completes it directly when
// no transformation applies.
func (p *Processor) route(ctx context.Context, caller identity.Caller, media *database.MediaRecord, data []byte, result *Result) error {
	switch media.Kind {
	case mediatypes.KindVideo:
		info, err := probe.VideoBytes(ctx, data, mediatypes.ExtensionFor(media.MimeType))
		if err != nil {
			return err
		}
		if !info.NeedsTransform {
			media.Codec = &info.Codec
			return p.complete(ctx, media)
		}
		job, err := p.transcoder.Submit(ctx, caller, transcode.SubmitParams{
			MediaID:          media.ID,
			ExtractThumbnail: true,
			ThumbnailCount:   1,
		})
		if err != nil {
			return fmt.Errorf("failed to queue transcode: %w", err)
		}
		result.Job = job
		media.ProcessingStatus = database.StatusQueued
		return nil

	case mediatypes.KindImage, mediatypes.KindAnimatedImage:
		if _, err := probe.Image(bytes.NewReader(data)); err != nil {
			return err
		}
		if !p.converter.Eligible(media.Kind, media.ByteSize) {
			return p.complete(ctx, media)
		}
		task, err := p.converter.Enqueue(ctx, media)
		if err != nil {
			return fmt.Errorf("failed to queue conversion: %w", err)
		}
		result.Task = task
		media.ProcessingStatus = database.StatusQueued
		return nil

	default:
		return p.complete(ctx, media)
	}
}

func (p *Processor) complete(ctx context.Context, media *database.MediaRecord) error {
	if err := p.db.UpdateMediaStatus(ctx, media.ID, database.StatusCompleted, nil); err != nil {
		return fmt.Errorf("failed to complete media: %w", err)
	}
	media.ProcessingStatus = database.StatusCompleted
	media.IsProcessed = true
	return nil
}

// Delete removes a media record and, when its hash has no remaining live
// references, the physical objects too. The lifetime upload counter is
// never touched.
func (p *Processor) Delete(ctx context.Context, caller identity.Caller, mediaID string) error {
	media, err := p.db.GetMedia(ctx, mediaID)
	if err != nil {
		return err
	}
	if !caller.CanAccess(media.OwnerID) {
		return identity.ErrForbidden
	}

	hash, err := p.db.DeleteMedia(ctx, mediaID)
	if err != nil {
		return err
	}

	remaining, err := p.registry.LiveReferences(ctx, hash)
	if err != nil {
		return fmt.Errorf("failed to count live references: %w", err)
	}
	if remaining > 0 {
		logging.Debug("Media %s deleted; blob %s kept (%d live references)", mediaID, hash, remaining)
		return nil
	}

	// Last reference gone: remove the blob and every derived object.
	for _, url := range mediaURLs(media) {
		key, ok := p.store.KeyFromURL(url)
		if !ok {
			continue
		}
		if err := p.store.Delete(ctx, key); err != nil {
			logging.Warn("Failed to delete object %s for media %s: %v", key, mediaID, err)
		}
	}
	logging.Info("Media %s deleted; blob %s had no remaining references", mediaID, hash)
	return nil
}

func mediaURLs(media *database.MediaRecord) []string {
	urls := []string{media.URL}
	for _, u := range []*string{media.ThumbnailURL, media.SmallURL, media.MediumURL, media.LargeURL, media.CompressedURL} {
		if u != nil && *u != "" {
			urls = append(urls, *u)
		}
	}
	return urls
}

// blobKey shards content-addressed objects by the first hash byte to keep
// directory fanout bounded.
func blobKey(hash, ext string) string {
	return hash[:2] + "/" + hash + ext
}
