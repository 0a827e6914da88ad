// Package transcode implements the asynchronous video transcoding queue:
// prioritized scheduling, bounded concurrency, per-job timeouts, and
// cancellation. The in-memory heap is the scheduler; the database copy of
// each job exists for status polling and restart recovery.
package transcode

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"media-pipeline/internal/database"
	"media-pipeline/internal/identity"
	"media-pipeline/internal/logging"
	"media-pipeline/internal/mediatypes"
	"media-pipeline/internal/metrics"
)

const (
	// MinPriority and MaxPriority bound the accepted priority range.
	// Higher values are claimed first.
	MinPriority = 1
	MaxPriority = 10
	// DefaultPriority applies when a submission leaves priority unset.
	DefaultPriority = 5

	defaultJobTimeout   = 30 * time.Minute
	defaultDelayRequeue = 5 * time.Second
)

// DuplicateJobError is returned when a submission targets a media that
// already has a non-terminal job.
type DuplicateJobError struct {
	MediaID       string
	ExistingJobID string
}

func (e *DuplicateJobError) Error() string {
	return fmt.Sprintf("media %s already has active job %s", e.MediaID, e.ExistingJobID)
}

// ErrNotCancellable is returned when a cancel targets a job already in a
// terminal state.
var ErrNotCancellable = errors.New("job is already terminal")

// Runner performs the actual media transformation for one claimed job.
type Runner interface {
	Transcode(ctx context.Context, job *database.TranscodeJob, media *database.MediaRecord) (database.TranscodeOutputs, error)
}

// Config tunes queue behavior.
type Config struct {
	// Concurrency is the number of worker goroutines.
	Concurrency int
	// JobTimeout bounds a single transcode; expired jobs fail.
	JobTimeout time.Duration
	// MaxStartsPerMinute rate-limits claims; excess jobs go DELAYED and
	// requeue after DelayRequeue. Zero disables the gate.
	MaxStartsPerMinute int
	// DelayRequeue is how long a DELAYED job waits before re-entering the
	// queue.
	DelayRequeue time.Duration
}

// SubmitParams describes one transcode request.
type SubmitParams struct {
	MediaID          string
	Priority         int
	TargetFormats    []string
	ExtractThumbnail bool
	ThumbnailCount   int
}

// Queue schedules and executes transcode jobs.
type Queue struct {
	db     *database.Database
	runner Runner
	cfg    Config

	mu           sync.Mutex
	heap         jobHeap
	waiting      map[string]*queuedJob
	active       map[string]context.CancelFunc
	cancelled    map[string]bool
	seq          uint64
	recentStarts []time.Time

	notify chan struct{}
	stop   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// New creates a Queue. Call Start to launch the workers.
func New(db *database.Database, runner Runner, cfg Config) *Queue {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}
	if cfg.DelayRequeue <= 0 {
		cfg.DelayRequeue = defaultDelayRequeue
	}
	return &Queue{
		db:        db,
		runner:    runner,
		cfg:       cfg,
		waiting:   make(map[string]*queuedJob),
		active:    make(map[string]context.CancelFunc),
		cancelled: make(map[string]bool),
		notify:    make(chan struct{}, 1),
		stop:      make(chan struct{}),
	}
}

// Start launches the worker pool.
func (q *Queue) Start() {
	logging.Info("Starting transcode queue with %d workers (timeout %s)", q.cfg.Concurrency, q.cfg.JobTimeout)
	for i := 0; i < q.cfg.Concurrency; i++ {
		q.wg.Add(1)
		go q.worker()
	}
}

// Stop shuts the workers down and waits for in-flight jobs to finish or be
// cancelled by their contexts.
func (q *Queue) Stop() {
	q.once.Do(func() { close(q.stop) })
	q.wg.Wait()
}

// Submit validates and enqueues a transcode request. The caller must own
// the media (or be admin), the media must be a video, and no other
// non-terminal job may exist for it.
func (q *Queue) Submit(ctx context.Context, caller identity.Caller, params SubmitParams) (*database.TranscodeJob, error) {
	media, err := q.db.GetMedia(ctx, params.MediaID)
	if err != nil {
		return nil, err
	}
	if !caller.CanAccess(media.OwnerID) {
		return nil, identity.ErrForbidden
	}
	if media.Kind != mediatypes.KindVideo {
		return nil, fmt.Errorf("%w: cannot transcode %s media", mediatypes.ErrUnsupportedType, media.Kind)
	}

	existing, err := q.db.ActiveTranscodeJobForMedia(ctx, params.MediaID)
	if err == nil {
		return nil, &DuplicateJobError{MediaID: params.MediaID, ExistingJobID: existing.JobID}
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}

	priority := params.Priority
	if priority == 0 {
		priority = DefaultPriority
	}
	if priority < MinPriority {
		priority = MinPriority
	}
	if priority > MaxPriority {
		priority = MaxPriority
	}

	formats := params.TargetFormats
	if len(formats) == 0 {
		formats = []string{"mp4"}
	}

	job := &database.TranscodeJob{
		JobID:            uuid.NewString(),
		MediaID:          params.MediaID,
		OwnerID:          media.OwnerID,
		Status:           database.JobWaiting,
		Priority:         priority,
		TargetFormats:    formats,
		ExtractThumbnail: params.ExtractThumbnail,
		ThumbnailCount:   params.ThumbnailCount,
		SubmittedAt:      time.Now(),
	}
	if err := q.db.InsertTranscodeJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}
	if err := q.db.UpdateMediaStatus(ctx, media.ID, database.StatusQueued, nil); err != nil {
		logging.Warn("Failed to mark media %s queued: %v", media.ID, err)
	}

	q.enqueue(job)
	metrics.TranscodeJobsTotal.WithLabelValues("submitted").Inc()
	logging.Info("Queued transcode job %s for media %s (priority %d)", job.JobID, job.MediaID, priority)
	return job, nil
}

// GetStatus returns a job visible to the caller.
func (q *Queue) GetStatus(ctx context.Context, caller identity.Caller, jobID string) (*database.TranscodeJob, error) {
	job, err := q.db.GetTranscodeJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !caller.CanAccess(job.OwnerID) {
		return nil, identity.ErrForbidden
	}
	return job, nil
}

// Cancel aborts a job. Waiting and delayed jobs leave the queue directly;
// active jobs have their execution context cancelled and finalize as
// CANCELLED. Terminal jobs return ErrNotCancellable.
func (q *Queue) Cancel(ctx context.Context, caller identity.Caller, jobID string) error {
	job, err := q.db.GetTranscodeJob(ctx, jobID)
	if err != nil {
		return err
	}
	if !caller.CanAccess(job.OwnerID) {
		return identity.ErrForbidden
	}
	if job.Status.IsTerminal() {
		return ErrNotCancellable
	}

	q.mu.Lock()
	if entry, ok := q.waiting[jobID]; ok {
		heap.Remove(&q.heap, entry.index)
		delete(q.waiting, jobID)
		metrics.TranscodeQueueDepth.Set(float64(q.heap.Len()))
		q.mu.Unlock()
		return q.finalizeCancelled(ctx, job)
	}
	if cancel, ok := q.active[jobID]; ok {
		q.cancelled[jobID] = true
		q.mu.Unlock()
		cancel()
		return nil
	}
	q.mu.Unlock()

	// DELAYED job waiting on its requeue timer.
	q.mu.Lock()
	q.cancelled[jobID] = true
	q.mu.Unlock()
	return q.finalizeCancelled(ctx, job)
}

// Recover requeues jobs left non-terminal by a previous process. Jobs that
// were ACTIVE at crash time restart from the beginning.
func (q *Queue) Recover(ctx context.Context) error {
	jobs, err := q.db.NonTerminalTranscodeJobs(ctx)
	if err != nil {
		return fmt.Errorf("failed to load interrupted jobs: %w", err)
	}
	for _, job := range jobs {
		if job.Status != database.JobWaiting {
			if err := q.db.UpdateTranscodeJobStatus(ctx, job.JobID, database.JobWaiting, nil, nil, nil); err != nil {
				logging.Error("Failed to reset job %s for recovery: %v", job.JobID, err)
				continue
			}
		}
		q.enqueue(job)
	}
	if len(jobs) > 0 {
		logging.Info("Recovered %d interrupted transcode jobs", len(jobs))
	}
	return nil
}

// Depth returns the number of unclaimed jobs.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

func (q *Queue) enqueue(job *database.TranscodeJob) {
	q.mu.Lock()
	q.seq++
	entry := &queuedJob{
		jobID:       job.JobID,
		mediaID:     job.MediaID,
		priority:    job.Priority,
		submittedAt: job.SubmittedAt,
		seq:         q.seq,
	}
	heap.Push(&q.heap, entry)
	q.waiting[job.JobID] = entry
	metrics.TranscodeQueueDepth.Set(float64(q.heap.Len()))
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
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
			entry := q.claim()
			if entry == nil {
				break
			}
			q.run(entry)
			select {
			case <-q.stop:
				return
			default:
			}
		}
	}
}

// claim pops the highest-priority job, applying the start-rate gate.
// A gated job goes DELAYED and re-enters the queue after DelayRequeue.
func (q *Queue) claim() *queuedJob {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.heap.Len() == 0 {
		return nil
	}
	if !q.gateOpenLocked() {
		entry := heap.Pop(&q.heap).(*queuedJob)
		delete(q.waiting, entry.jobID)
		metrics.TranscodeQueueDepth.Set(float64(q.heap.Len()))
		go q.delay(entry)
		return nil
	}

	entry := heap.Pop(&q.heap).(*queuedJob)
	delete(q.waiting, entry.jobID)
	q.recentStarts = append(q.recentStarts, time.Now())
	metrics.TranscodeQueueDepth.Set(float64(q.heap.Len()))
	return entry
}

func (q *Queue) gateOpenLocked() bool {
	if q.cfg.MaxStartsPerMinute <= 0 {
		return true
	}
	cutoff := time.Now().Add(-time.Minute)
	kept := q.recentStarts[:0]
	for _, t := range q.recentStarts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	q.recentStarts = kept
	return len(q.recentStarts) < q.cfg.MaxStartsPerMinute
}

// delay parks a gated job in DELAYED and requeues it after the backoff.
func (q *Queue) delay(entry *queuedJob) {
	ctx := context.Background()
	if err := q.db.UpdateTranscodeJobStatus(ctx, entry.jobID, database.JobDelayed, nil, nil, nil); err != nil {
		if errors.Is(err, database.ErrTerminalState) {
			q.mu.Lock()
			delete(q.cancelled, entry.jobID)
			q.mu.Unlock()
			return
		}
		logging.Error("Failed to mark job %s delayed: %v", entry.jobID, err)
	}
	metrics.TranscodeJobsTotal.WithLabelValues("delayed").Inc()

	select {
	case <-q.stop:
		return
	case <-time.After(q.cfg.DelayRequeue):
	}

	q.mu.Lock()
	wasCancelled := q.cancelled[entry.jobID]
	delete(q.cancelled, entry.jobID)
	q.mu.Unlock()
	if wasCancelled {
		return
	}

	if err := q.db.UpdateTranscodeJobStatus(ctx, entry.jobID, database.JobWaiting, nil, nil, nil); err != nil {
		if !errors.Is(err, database.ErrTerminalState) {
			logging.Error("Failed to requeue delayed job %s: %v", entry.jobID, err)
		}
		return
	}
	job, err := q.db.GetTranscodeJob(ctx, entry.jobID)
	if err != nil {
		logging.Error("Failed to reload delayed job %s: %v", entry.jobID, err)
		return
	}
	q.enqueue(job)
}

func (q *Queue) run(entry *queuedJob) {
	ctx := context.Background()

	// Cancel can race the claim: the job is out of the waiting map but not
	// yet in the active map, so Cancel takes the delayed-job path, flags it,
	// and finalizes CANCELLED. Consume the flag here and never start.
	q.mu.Lock()
	alreadyCancelled := q.cancelled[entry.jobID]
	delete(q.cancelled, entry.jobID)
	q.mu.Unlock()
	if alreadyCancelled {
		return
	}

	job, err := q.db.GetTranscodeJob(ctx, entry.jobID)
	if err != nil {
		logging.Error("Failed to load claimed job %s: %v", entry.jobID, err)
		return
	}
	if job.Status.IsTerminal() {
		return
	}
	media, err := q.db.GetMedia(ctx, job.MediaID)
	if err != nil {
		q.finalizeFailed(ctx, job, fmt.Sprintf("media record unavailable: %v", err))
		return
	}

	started := time.Now()
	if err := q.db.UpdateTranscodeJobStatus(ctx, job.JobID, database.JobActive, &started, nil, nil); err != nil {
		if errors.Is(err, database.ErrTerminalState) {
			q.mu.Lock()
			delete(q.cancelled, job.JobID)
			q.mu.Unlock()
			return
		}
		logging.Error("Failed to mark job %s active: %v", job.JobID, err)
		return
	}
	if err := q.db.UpdateMediaStatus(ctx, media.ID, database.StatusProcessing, nil); err != nil {
		logging.Warn("Failed to mark media %s processing: %v", media.ID, err)
	}

	runCtx, cancel := context.WithTimeout(ctx, q.cfg.JobTimeout)
	q.mu.Lock()
	q.active[job.JobID] = cancel
	if q.cancelled[job.JobID] {
		// Cancel flagged the job after the ACTIVE transition but before it
		// was registered here. Abort the execution context right away.
		cancel()
	}
	q.mu.Unlock()
	metrics.TranscodeJobsActive.Inc()

	outputs, runErr := q.runner.Transcode(runCtx, job, media)

	cancel()
	q.mu.Lock()
	delete(q.active, job.JobID)
	wasCancelled := q.cancelled[job.JobID]
	delete(q.cancelled, job.JobID)
	q.mu.Unlock()
	metrics.TranscodeJobsActive.Dec()
	metrics.TranscodeJobDuration.Observe(time.Since(started).Seconds())

	switch {
	case runErr == nil:
		q.finalizeCompleted(ctx, job, outputs)
	case wasCancelled:
		if err := q.finalizeCancelled(ctx, job); err != nil && !errors.Is(err, database.ErrTerminalState) {
			logging.Error("Failed to finalize cancelled job %s: %v", job.JobID, err)
		}
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		q.finalizeFailed(ctx, job, fmt.Sprintf("transcode exceeded %s timeout", q.cfg.JobTimeout))
	default:
		q.finalizeFailed(ctx, job, runErr.Error())
	}
}

func (q *Queue) finalizeCompleted(ctx context.Context, job *database.TranscodeJob, outputs database.TranscodeOutputs) {
	ended := time.Now()
	if err := q.db.CompleteMediaTranscode(ctx, job.MediaID, outputs); err != nil {
		q.finalizeFailed(ctx, job, fmt.Sprintf("failed to record outputs: %v", err))
		return
	}
	if err := q.db.UpdateTranscodeJobStatus(ctx, job.JobID, database.JobCompleted, nil, &ended, nil); err != nil {
		logging.Error("Failed to mark job %s completed: %v", job.JobID, err)
		return
	}
	metrics.TranscodeJobsTotal.WithLabelValues("completed").Inc()
	logging.Info("Transcode job %s completed for media %s", job.JobID, job.MediaID)
}

// finalizeFailed records a terminal failure. The media's original URL keeps
// serving; only the status and error message change.
func (q *Queue) finalizeFailed(ctx context.Context, job *database.TranscodeJob, message string) {
	ended := time.Now()
	if err := q.db.UpdateTranscodeJobStatus(ctx, job.JobID, database.JobFailed, nil, &ended, &message); err != nil {
		logging.Error("Failed to mark job %s failed: %v", job.JobID, err)
	}
	if err := q.db.UpdateMediaStatus(ctx, job.MediaID, database.StatusFailed, &message); err != nil {
		logging.Error("Failed to mark media %s failed: %v", job.MediaID, err)
	}
	metrics.TranscodeJobsTotal.WithLabelValues("failed").Inc()
	logging.Warn("Transcode job %s failed for media %s: %s", job.JobID, job.MediaID, message)
}

func (q *Queue) finalizeCancelled(ctx context.Context, job *database.TranscodeJob) error {
	ended := time.Now()
	if err := q.db.UpdateTranscodeJobStatus(ctx, job.JobID, database.JobCancelled, nil, &ended, nil); err != nil {
		return err
	}
	if err := q.db.UpdateMediaStatus(ctx, job.MediaID, database.StatusCancelled, nil); err != nil {
		logging.Warn("Failed to mark media %s cancelled: %v", job.MediaID, err)
	}
	metrics.TranscodeJobsTotal.WithLabelValues("cancelled").Inc()
	logging.Info("Transcode job %s cancelled", job.JobID)
	return nil
}
