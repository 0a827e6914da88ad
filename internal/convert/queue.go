// Package convert implements the background image re-encode queue. Eligible
// uploads are re-encoded to a smaller representation after a short delay;
// the original object is never replaced, so a failed conversion costs
// nothing but the attempt.
package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"media-pipeline/internal/database"
	"media-pipeline/internal/identity"
	"media-pipeline/internal/logging"
	"media-pipeline/internal/mediatypes"
	"media-pipeline/internal/metrics"
	"media-pipeline/internal/storage"
)

const (
	defaultClaimDelay  = 500 * time.Millisecond
	defaultTaskTimeout = 5 * time.Minute
)

// ErrNotCancellable is returned when a cancel targets a task that has
// already been claimed or finished.
var ErrNotCancellable = errors.New("task is no longer pending")

// QualityTier is one independently switchable quality band.
type QualityTier struct {
	Enabled bool
	Quality int
}

// Config tunes the re-encode queue.
type Config struct {
	Concurrency int
	// ClaimDelay is how long a task sits before a worker may claim it, so
	// an immediately deleted upload never wastes an encode.
	ClaimDelay  time.Duration
	TaskTimeout time.Duration

	// Normal applies to still images below LargeThresholdBytes, Large at or
	// above it, Animated to animated images regardless of size.
	Normal              QualityTier
	Large               QualityTier
	Animated            QualityTier
	LargeThresholdBytes int64
	// Effort trades encode CPU for output size.
	Effort int
}

// DefaultConfig returns the stock tier settings.
func DefaultConfig() Config {
	return Config{
		ClaimDelay:          defaultClaimDelay,
		TaskTimeout:         defaultTaskTimeout,
		Normal:              QualityTier{Enabled: true, Quality: 80},
		Large:               QualityTier{Enabled: true, Quality: 65},
		Animated:            QualityTier{Enabled: true, Quality: 70},
		LargeThresholdBytes: 5 * 1024 * 1024,
		Effort:              4,
	}
}

// Queue runs image re-encode tasks in FIFO order.
type Queue struct {
	db      *database.Database
	store   storage.ObjectStore
	encoder Encoder
	cfg     Config

	mu      sync.Mutex
	pending []string
	claimed map[string]bool

	notify chan struct{}
	stop   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// New creates a Queue. Call Start to launch the workers.
func New(db *database.Database, store storage.ObjectStore, encoder Encoder, cfg Config) *Queue {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.ClaimDelay <= 0 {
		cfg.ClaimDelay = defaultClaimDelay
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = defaultTaskTimeout
	}
	return &Queue{
		db:      db,
		store:   store,
		encoder: encoder,
		cfg:     cfg,
		claimed: make(map[string]bool),
		notify:  make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
}

// Start launches the worker pool.
func (q *Queue) Start() {
	logging.Info("Starting convert queue with %d workers (claim delay %s)", q.cfg.Concurrency, q.cfg.ClaimDelay)
	for i := 0; i < q.cfg.Concurrency; i++ {
		q.wg.Add(1)
		go q.worker()
	}
}

// Stop shuts the workers down.
func (q *Queue) Stop() {
	q.once.Do(func() { close(q.stop) })
	q.wg.Wait()
}

// Eligible reports whether a media record qualifies for re-encoding under
// the current tier configuration.
func (q *Queue) Eligible(kind mediatypes.MediaKind, byteSize int64) bool {
	tier, _ := q.tierFor(kind, byteSize)
	return tier.Enabled
}

func (q *Queue) tierFor(kind mediatypes.MediaKind, byteSize int64) (QualityTier, bool) {
	switch {
	case kind == mediatypes.KindAnimatedImage:
		return q.cfg.Animated, true
	case kind == mediatypes.KindImage && byteSize >= q.cfg.LargeThresholdBytes:
		return q.cfg.Large, false
	case kind == mediatypes.KindImage:
		return q.cfg.Normal, false
	default:
		return QualityTier{}, false
	}
}

// Enqueue creates and queues a re-encode task for an image media record.
func (q *Queue) Enqueue(ctx context.Context, media *database.MediaRecord) (*database.ConvertTask, error) {
	if !q.Eligible(media.Kind, media.ByteSize) {
		return nil, fmt.Errorf("%w: %s media not eligible for conversion", mediatypes.ErrUnsupportedType, media.Kind)
	}

	task := &database.ConvertTask{
		ID:        uuid.NewString(),
		MediaID:   media.ID,
		Filename:  media.Filename,
		MimeType:  media.MimeType,
		ByteSize:  media.ByteSize,
		Status:    database.TaskPending,
		CreatedAt: time.Now(),
	}
	if err := q.db.InsertConvertTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to persist task: %w", err)
	}
	if err := q.db.UpdateMediaStatus(ctx, media.ID, database.StatusQueued, nil); err != nil {
		logging.Warn("Failed to mark media %s queued: %v", media.ID, err)
	}

	q.push(task.ID)
	metrics.ConvertTasksTotal.WithLabelValues("submitted").Inc()
	logging.Debug("Queued convert task %s for media %s", task.ID, media.ID)
	return task, nil
}

// GetStatus returns a task by id.
func (q *Queue) GetStatus(ctx context.Context, id string) (*database.ConvertTask, error) {
	return q.db.GetConvertTask(ctx, id)
}

// Cancel aborts a task that has not been claimed yet. Anything past PENDING
// returns ErrNotCancellable.
func (q *Queue) Cancel(ctx context.Context, caller identity.Caller, id string) error {
	task, err := q.db.GetConvertTask(ctx, id)
	if err != nil {
		return err
	}
	media, err := q.db.GetMedia(ctx, task.MediaID)
	if err == nil && !caller.CanAccess(media.OwnerID) {
		return identity.ErrForbidden
	}
	if task.Status != database.TaskPending {
		return ErrNotCancellable
	}

	q.mu.Lock()
	if q.claimed[id] {
		q.mu.Unlock()
		return ErrNotCancellable
	}
	for i, pending := range q.pending {
		if pending == id {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			break
		}
	}
	metrics.ConvertQueueDepth.Set(float64(len(q.pending)))
	q.mu.Unlock()

	if err := q.db.FinishConvertTask(ctx, id, database.TaskCancelled, time.Now(), nil); err != nil {
		return err
	}
	if err := q.db.UpdateMediaStatus(ctx, task.MediaID, database.StatusCancelled, nil); err != nil {
		logging.Warn("Failed to mark media %s cancelled: %v", task.MediaID, err)
	}
	metrics.ConvertTasksTotal.WithLabelValues("cancelled").Inc()
	return nil
}

// Recover requeues tasks left unfinished by a previous process.
func (q *Queue) Recover(ctx context.Context) error {
	tasks, err := q.db.PendingConvertTasks(ctx)
	if err != nil {
		return fmt.Errorf("failed to load interrupted tasks: %w", err)
	}
	for _, task := range tasks {
		if task.Status == database.TaskProcessing {
			// Interrupted mid-encode; restart from scratch.
			if err := q.db.FinishConvertTask(ctx, task.ID, database.TaskPending, time.Now(), nil); err != nil {
				logging.Error("Failed to reset task %s for recovery: %v", task.ID, err)
				continue
			}
		}
		q.push(task.ID)
	}
	if len(tasks) > 0 {
		logging.Info("Recovered %d interrupted convert tasks", len(tasks))
	}
	return nil
}

// Depth returns the number of unclaimed tasks.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) push(id string) {
	q.mu.Lock()
	q.pending = append(q.pending, id)
	metrics.ConvertQueueDepth.Set(float64(len(q.pending)))
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue) pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return "", false
	}
	id := q.pending[0]
	q.pending = q.pending[1:]
	q.claimed[id] = true
	metrics.ConvertQueueDepth.Set(float64(len(q.pending)))
	return id, true
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.stop:
			return
		case <-q.notify:
		}
		for {
			id, ok := q.pop()
			if !ok {
				break
			}
			q.run(id)
			q.mu.Lock()
			delete(q.claimed, id)
			q.mu.Unlock()
			select {
			case <-q.stop:
				return
			default:
			}
		}
	}
}

func (q *Queue) run(id string) {
	// The claim delay lets a cancel or delete land before any work starts.
	select {
	case <-q.stop:
		return
	case <-time.After(q.cfg.ClaimDelay):
	}

	ctx, cancel := context.WithTimeout(context.Background(), q.cfg.TaskTimeout)
	defer cancel()

	task, err := q.db.GetConvertTask(ctx, id)
	if err != nil {
		logging.Error("Failed to load claimed task %s: %v", id, err)
		return
	}
	if task.Status != database.TaskPending {
		return
	}

	started := time.Now()
	if err := q.db.MarkConvertTaskProcessing(ctx, id, started); err != nil {
		logging.Error("Failed to mark task %s processing: %v", id, err)
		return
	}

	media, err := q.db.GetMedia(ctx, task.MediaID)
	if err != nil {
		q.fail(ctx, task, fmt.Sprintf("media record unavailable: %v", err))
		return
	}
	if err := q.db.UpdateMediaStatus(ctx, media.ID, database.StatusProcessing, nil); err != nil {
		logging.Warn("Failed to mark media %s processing: %v", media.ID, err)
	}

	convertedURL, convertedSize, err := q.convert(ctx, media)
	elapsed := time.Since(started)
	metrics.ConvertTaskDuration.Observe(elapsed.Seconds())

	if err != nil {
		q.fail(ctx, task, err.Error())
		return
	}

	// compressionRatio is original over converted: 4.0 means the re-encode
	// is a quarter of the source size.
	ratio := 0.0
	if convertedSize > 0 {
		ratio = float64(media.ByteSize) / float64(convertedSize)
	}
	result := database.ConvertResult{
		ConvertedSize:    convertedSize,
		CompressionRatio: ratio,
		ProcessingTimeMs: elapsed.Milliseconds(),
	}

	if err := q.db.CompleteMediaConvert(ctx, media.ID, convertedURL); err != nil {
		q.fail(ctx, task, fmt.Sprintf("failed to record conversion: %v", err))
		return
	}
	if err := q.db.CompleteConvertTask(ctx, id, time.Now(), result); err != nil {
		logging.Error("Failed to mark task %s completed: %v", id, err)
		return
	}

	if saved := media.ByteSize - convertedSize; saved > 0 {
		metrics.ConvertBytesSaved.Add(float64(saved))
	}
	metrics.ConvertTasksTotal.WithLabelValues("completed").Inc()
	logging.Info("Converted media %s: %d -> %d bytes (%.1fx) in %s",
		media.ID, media.ByteSize, convertedSize, ratio, elapsed.Round(time.Millisecond))
}

func (q *Queue) convert(ctx context.Context, media *database.MediaRecord) (string, int64, error) {
	key, ok := q.store.KeyFromURL(media.URL)
	if !ok {
		return "", 0, fmt.Errorf("media URL %s is not managed by this store", media.URL)
	}

	rc, err := q.store.Get(ctx, key)
	if err != nil {
		return "", 0, fmt.Errorf("failed to fetch source: %w", err)
	}
	src, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return "", 0, fmt.Errorf("failed to read source: %w", err)
	}

	tier, animated := q.tierFor(media.Kind, media.ByteSize)
	out, contentType, ext, err := q.encoder.Encode(src, EncodeParams{
		Quality:  tier.Quality,
		Effort:   q.cfg.Effort,
		Animated: animated,
	})
	if err != nil {
		return "", 0, err
	}

	destKey := strings.TrimSuffix(key, filepath.Ext(key)) + "-compressed" + ext
	url, err := q.store.Put(ctx, destKey, bytes.NewReader(out), int64(len(out)), contentType)
	if err != nil {
		return "", 0, fmt.Errorf("failed to store converted object: %w", err)
	}
	return url, int64(len(out)), nil
}

// fail records a terminal failure. The original object and URL are
// untouched, so the asset keeps serving at full size.
func (q *Queue) fail(ctx context.Context, task *database.ConvertTask, message string) {
	if err := q.db.FinishConvertTask(ctx, task.ID, database.TaskFailed, time.Now(), &message); err != nil {
		logging.Error("Failed to mark task %s failed: %v", task.ID, err)
	}
	if err := q.db.UpdateMediaStatus(ctx, task.MediaID, database.StatusFailed, &message); err != nil {
		logging.Error("Failed to mark media %s failed: %v", task.MediaID, err)
	}
	metrics.ConvertTasksTotal.WithLabelValues("failed").Inc()
	logging.Warn("Convert task %s failed for media %s: %s", task.ID, task.MediaID, message)
}
