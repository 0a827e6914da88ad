package database

import (
	"time"

	"media-pipeline/internal/mediatypes"
)

// ProcessingStatus tracks a MediaRecord through the pipeline.
type ProcessingStatus string

const (
	// StatusPending means the record exists but no work has been scheduled.
	StatusPending ProcessingStatus = "PENDING"
	// StatusQueued means a transformation has been submitted but not claimed.
	StatusQueued ProcessingStatus = "QUEUED"
	// StatusProcessing means a transformation is in flight.
	StatusProcessing ProcessingStatus = "PROCESSING"
	// StatusCompleted is terminal: the asset is ready to serve.
	StatusCompleted ProcessingStatus = "COMPLETED"
	// StatusFailed is terminal: the transformation failed; the original
	// bytes remain the serving URL.
	StatusFailed ProcessingStatus = "FAILED"
	// StatusCancelled is terminal: the transformation was cancelled.
	StatusCancelled ProcessingStatus = "CANCELLED"
)

// HashRecord is one distinct byte-content fingerprint. Exactly one physical
// blob exists per hash; UploadCount is a lifetime-seen counter, never a live
// reference count (deletion safety uses CountMediaByHash instead).
type HashRecord struct {
	Hash         string    `json:"hash"`
	Filename     string    `json:"filename"`
	MimeType     string    `json:"mimeType"`
	ByteSize     int64     `json:"byteSize"`
	UploadCount  int64     `json:"uploadCount"`
	FirstSeenAt  time.Time `json:"firstSeenAt"`
	LastSeenAt   time.Time `json:"lastSeenAt"`
	CanonicalURL string    `json:"canonicalUrl"`
}

// MediaRecord is one logical media asset. Every non-null URL field shields
// the underlying object from orphan deletion while the record exists.
type MediaRecord struct {
	ID               string               `json:"id"`
	ParentID         *string              `json:"parentId,omitempty"`
	OwnerID          string               `json:"ownerId"`
	Filename         string               `json:"filename"`
	OriginalName     string               `json:"originalName"`
	MimeType         string               `json:"mimeType"`
	ByteSize         int64                `json:"byteSize"`
	Hash             string               `json:"hash"`
	Kind             mediatypes.MediaKind `json:"kind"`
	URL              string               `json:"url"`
	ThumbnailURL     *string              `json:"thumbnailUrl,omitempty"`
	SmallURL         *string              `json:"smallUrl,omitempty"`
	MediumURL        *string              `json:"mediumUrl,omitempty"`
	LargeURL         *string              `json:"largeUrl,omitempty"`
	CompressedURL    *string              `json:"compressedUrl,omitempty"`
	IsProcessed      bool                 `json:"isProcessed"`
	ProcessingStatus ProcessingStatus     `json:"processingStatus"`
	IsTranscoded     bool                 `json:"isTranscoded"`
	Codec            *string              `json:"codec,omitempty"`
	ProcessingError  *string              `json:"processingError,omitempty"`
	Tags             []string             `json:"tags,omitempty"`
	CreatedAt        time.Time            `json:"createdAt"`
	UpdatedAt        time.Time            `json:"updatedAt"`
}

// IsTerminal reports whether the record's processing status is final.
func (s ProcessingStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// JobStatus tracks a TranscodeJob.
type JobStatus string

const (
	// JobWaiting means the job is queued and unclaimed.
	JobWaiting JobStatus = "WAITING"
	// JobActive means a worker is transcoding.
	JobActive JobStatus = "ACTIVE"
	// JobDelayed means the job was deferred by backpressure and will requeue.
	JobDelayed JobStatus = "DELAYED"
	// JobCompleted is terminal.
	JobCompleted JobStatus = "COMPLETED"
	// JobFailed is terminal; retries are new explicit submissions.
	JobFailed JobStatus = "FAILED"
	// JobCancelled is terminal.
	JobCancelled JobStatus = "CANCELLED"
)

// IsTerminal reports whether the job status is final and immutable.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// TranscodeJob is one asynchronous video-transformation request. At most one
// job per media may be non-terminal at a time.
type TranscodeJob struct {
	JobID            string     `json:"jobId"`
	MediaID          string     `json:"mediaId"`
	OwnerID          string     `json:"ownerId"`
	Status           JobStatus  `json:"status"`
	Priority         int        `json:"priority"`
	TargetFormats    []string   `json:"targetFormats,omitempty"`
	ExtractThumbnail bool       `json:"extractThumbnail"`
	ThumbnailCount   int        `json:"thumbnailCount,omitempty"`
	SubmittedAt      time.Time  `json:"submittedAt"`
	StartedAt        *time.Time `json:"startedAt,omitempty"`
	EndedAt          *time.Time `json:"endedAt,omitempty"`
	ErrorMessage     *string    `json:"errorMessage,omitempty"`
}

// TaskStatus tracks a ConvertTask.
type TaskStatus string

const (
	// TaskPending means the task is queued and unclaimed.
	TaskPending TaskStatus = "PENDING"
	// TaskProcessing means a worker is re-encoding.
	TaskProcessing TaskStatus = "PROCESSING"
	// TaskCompleted is terminal.
	TaskCompleted TaskStatus = "COMPLETED"
	// TaskFailed is terminal; the original asset keeps serving.
	TaskFailed TaskStatus = "FAILED"
	// TaskCancelled is terminal; only reachable from PENDING.
	TaskCancelled TaskStatus = "CANCELLED"
)

// IsTerminal reports whether the task status is final.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// ConvertResult records the outcome of a completed re-encode.
type ConvertResult struct {
	ConvertedSize    int64   `json:"convertedSize"`
	CompressionRatio float64 `json:"compressionRatio"`
	ProcessingTimeMs int64   `json:"processingTimeMs"`
}

// ConvertTask is one asynchronous image re-encode request.
type ConvertTask struct {
	ID          string         `json:"id"`
	MediaID     string         `json:"mediaId"`
	Filename    string         `json:"filename"`
	MimeType    string         `json:"mimeType"`
	ByteSize    int64          `json:"byteSize"`
	Status      TaskStatus     `json:"status"`
	CreatedAt   time.Time      `json:"createdAt"`
	StartedAt   *time.Time     `json:"startedAt,omitempty"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
	Result      *ConvertResult `json:"result,omitempty"`
	Error       *string        `json:"error,omitempty"`
}
