package transcode

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"media-pipeline/internal/database"
	"media-pipeline/internal/identity"
	"media-pipeline/internal/mediatypes"
)

// stubRunner records invocations and can block until released or fail.
type stubRunner struct {
	mu      sync.Mutex
	jobs    []string
	outputs database.TranscodeOutputs
	err     error
	started chan string
	block   bool
}

func (s *stubRunner) Transcode(ctx context.Context, job *database.TranscodeJob, media *database.MediaRecord) (database.TranscodeOutputs, error) {
	s.mu.Lock()
	s.jobs = append(s.jobs, job.JobID)
	s.mu.Unlock()
	if s.started != nil {
		s.started <- job.JobID
	}
	if s.block {
		<-ctx.Done()
		return database.TranscodeOutputs{}, ctx.Err()
	}
	return s.outputs, s.err
}

func newTestQueue(t *testing.T, runner Runner, cfg Config) (*Queue, *database.Database) {
	t.Helper()
	d, err := database.New(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return New(d, runner, cfg), d
}

func insertVideo(t *testing.T, d *database.Database, id string) {
	t.Helper()
	ctx := context.Background()
	if _, err := d.RecordHashSeen(ctx, "hash-"+id, id+".mov", "video/quicktime", 1000, "/objects/"+id+".mov"); err != nil {
		t.Fatalf("RecordHashSeen failed: %v", err)
	}
	rec := &database.MediaRecord{
		ID: id, OwnerID: "owner-1", Filename: id + ".mov", OriginalName: "clip.mov",
		MimeType: "video/quicktime", ByteSize: 1000, Hash: "hash-" + id,
		Kind: mediatypes.KindVideo, URL: "/objects/" + id + ".mov",
		ProcessingStatus: database.StatusPending,
	}
	if err := d.InsertMedia(ctx, rec); err != nil {
		t.Fatalf("InsertMedia failed: %v", err)
	}
}

func waitForJobStatus(t *testing.T, d *database.Database, jobID string, want database.JobStatus) *database.TranscodeJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := d.GetTranscodeJob(context.Background(), jobID)
		if err != nil {
			t.Fatalf("GetTranscodeJob failed: %v", err)
		}
		if job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %s", jobID, want)
	return nil
}

func TestSubmitRejectsNonVideo(t *testing.T) {
	q, d := newTestQueue(t, &stubRunner{}, Config{})
	ctx := context.Background()

	if _, err := d.RecordHashSeen(ctx, "h-img", "a.jpg", "image/jpeg", 100, "/objects/a.jpg"); err != nil {
		t.Fatalf("RecordHashSeen failed: %v", err)
	}
	rec := &database.MediaRecord{
		ID: "img-1", OwnerID: "owner-1", Filename: "a.jpg", OriginalName: "a.jpg",
		MimeType: "image/jpeg", ByteSize: 100, Hash: "h-img",
		Kind: mediatypes.KindImage, URL: "/objects/a.jpg",
		ProcessingStatus: database.StatusPending,
	}
	if err := d.InsertMedia(ctx, rec); err != nil {
		t.Fatalf("InsertMedia failed: %v", err)
	}

	_, err := q.Submit(ctx, identity.System, SubmitParams{MediaID: "img-1"})
	if !errors.Is(err, mediatypes.ErrUnsupportedType) {
		t.Errorf("expected ErrUnsupportedType, got %v", err)
	}
}

func TestSubmitRejectsDuplicate(t *testing.T) {
	q, d := newTestQueue(t, &stubRunner{}, Config{})
	ctx := context.Background()
	insertVideo(t, d, "v1")

	first, err := q.Submit(ctx, identity.System, SubmitParams{MediaID: "v1"})
	if err != nil {
		t.Fatalf("first Submit failed: %v", err)
	}

	_, err = q.Submit(ctx, identity.System, SubmitParams{MediaID: "v1"})
	var dup *DuplicateJobError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateJobError, got %v", err)
	}
	if dup.ExistingJobID != first.JobID {
		t.Errorf("duplicate error names wrong job: %s", dup.ExistingJobID)
	}
}

func TestSubmitEnforcesOwnership(t *testing.T) {
	q, d := newTestQueue(t, &stubRunner{}, Config{})
	ctx := context.Background()
	insertVideo(t, d, "v1")

	stranger := identity.Caller{OwnerID: "someone-else"}
	if _, err := q.Submit(ctx, stranger, SubmitParams{MediaID: "v1"}); !errors.Is(err, identity.ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}

	owner := identity.Caller{OwnerID: "owner-1"}
	if _, err := q.Submit(ctx, owner, SubmitParams{MediaID: "v1"}); err != nil {
		t.Errorf("owner Submit failed: %v", err)
	}
}

func TestPriorityOrdering(t *testing.T) {
	q, d := newTestQueue(t, &stubRunner{}, Config{})
	ctx := context.Background()

	priorities := map[string]int{"v1": 1, "v2": 9, "v3": 5, "v4": 9}
	for _, id := range []string{"v1", "v2", "v3", "v4"} {
		insertVideo(t, d, id)
		if _, err := q.Submit(ctx, identity.System, SubmitParams{MediaID: id, Priority: priorities[id]}); err != nil {
			t.Fatalf("Submit %s failed: %v", id, err)
		}
	}

	// Highest priority first; equal priorities keep submission order.
	wantMedia := []string{"v2", "v4", "v3", "v1"}
	for _, want := range wantMedia {
		entry := q.claim()
		if entry == nil {
			t.Fatalf("claim returned nil, expected media %s", want)
		}
		if entry.mediaID != want {
			t.Errorf("claimed media %s, want %s", entry.mediaID, want)
		}
	}
	if entry := q.claim(); entry != nil {
		t.Errorf("expected empty queue, claimed %s", entry.jobID)
	}
}

func TestJobCompletes(t *testing.T) {
	small := "/objects/v1-small.mp4"
	runner := &stubRunner{outputs: database.TranscodeOutputs{SmallURL: &small, Codec: "h264"}}
	q, d := newTestQueue(t, runner, Config{Concurrency: 1})
	ctx := context.Background()
	insertVideo(t, d, "v1")

	job, err := q.Submit(ctx, identity.System, SubmitParams{MediaID: "v1"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	q.Start()
	defer q.Stop()

	done := waitForJobStatus(t, d, job.JobID, database.JobCompleted)
	if done.EndedAt == nil {
		t.Errorf("completed job missing end timestamp")
	}

	media, err := d.GetMedia(ctx, "v1")
	if err != nil {
		t.Fatalf("GetMedia failed: %v", err)
	}
	if !media.IsTranscoded || media.ProcessingStatus != database.StatusCompleted {
		t.Errorf("media not marked transcoded: %s", media.ProcessingStatus)
	}
	if media.SmallURL == nil || *media.SmallURL != small {
		t.Errorf("rendition URL not recorded")
	}
}

func TestJobFailureKeepsOriginalServing(t *testing.T) {
	runner := &stubRunner{err: errors.New("codec not supported")}
	q, d := newTestQueue(t, runner, Config{Concurrency: 1})
	ctx := context.Background()
	insertVideo(t, d, "v1")

	job, err := q.Submit(ctx, identity.System, SubmitParams{MediaID: "v1"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	q.Start()
	defer q.Stop()

	failed := waitForJobStatus(t, d, job.JobID, database.JobFailed)
	if failed.ErrorMessage == nil || *failed.ErrorMessage != "codec not supported" {
		t.Errorf("error message not recorded: %v", failed.ErrorMessage)
	}

	media, err := d.GetMedia(ctx, "v1")
	if err != nil {
		t.Fatalf("GetMedia failed: %v", err)
	}
	if media.ProcessingStatus != database.StatusFailed {
		t.Errorf("expected FAILED media, got %s", media.ProcessingStatus)
	}
	if media.URL != "/objects/v1.mov" {
		t.Errorf("original URL changed on failure: %s", media.URL)
	}
}

func TestCancelBeforeStart(t *testing.T) {
	q, d := newTestQueue(t, &stubRunner{}, Config{})
	ctx := context.Background()
	insertVideo(t, d, "v1")

	job, err := q.Submit(ctx, identity.System, SubmitParams{MediaID: "v1"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if err := q.Cancel(ctx, identity.System, job.JobID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	got, err := d.GetTranscodeJob(ctx, job.JobID)
	if err != nil {
		t.Fatalf("GetTranscodeJob failed: %v", err)
	}
	if got.Status != database.JobCancelled {
		t.Errorf("expected CANCELLED, got %s", got.Status)
	}
	if q.Depth() != 0 {
		t.Errorf("cancelled job still queued")
	}

	// Terminal jobs refuse further cancellation.
	if err := q.Cancel(ctx, identity.System, job.JobID); !errors.Is(err, ErrNotCancellable) {
		t.Errorf("expected ErrNotCancellable, got %v", err)
	}
}

func TestCancelActiveJob(t *testing.T) {
	runner := &stubRunner{block: true, started: make(chan string, 1)}
	q, d := newTestQueue(t, runner, Config{Concurrency: 1})
	ctx := context.Background()
	insertVideo(t, d, "v1")

	job, err := q.Submit(ctx, identity.System, SubmitParams{MediaID: "v1"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	q.Start()
	defer q.Stop()

	select {
	case <-runner.started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never started")
	}

	if err := q.Cancel(ctx, identity.System, job.JobID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	waitForJobStatus(t, d, job.JobID, database.JobCancelled)

	media, err := d.GetMedia(ctx, "v1")
	if err != nil {
		t.Fatalf("GetMedia failed: %v", err)
	}
	if media.ProcessingStatus != database.StatusCancelled {
		t.Errorf("expected CANCELLED media, got %s", media.ProcessingStatus)
	}
}

func TestCancelBetweenClaimAndStart(t *testing.T) {
	runner := &stubRunner{}
	q, d := newTestQueue(t, runner, Config{})
	ctx := context.Background()
	insertVideo(t, d, "v1")

	job, err := q.Submit(ctx, identity.System, SubmitParams{MediaID: "v1"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// Claim directly, as a worker would just before executing. The job is
	// now out of the waiting map but not yet registered as active, so the
	// cancel below lands in that window.
	entry := q.claim()
	if entry == nil {
		t.Fatal("claim returned nil")
	}

	if err := q.Cancel(ctx, identity.System, job.JobID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	got, err := d.GetTranscodeJob(ctx, job.JobID)
	if err != nil {
		t.Fatalf("GetTranscodeJob failed: %v", err)
	}
	if got.Status != database.JobCancelled {
		t.Fatalf("expected CANCELLED after cancel, got %s", got.Status)
	}

	q.run(entry)

	runner.mu.Lock()
	executed := len(runner.jobs)
	runner.mu.Unlock()
	if executed != 0 {
		t.Errorf("cancelled job reached the runner")
	}

	got, err = d.GetTranscodeJob(ctx, job.JobID)
	if err != nil {
		t.Fatalf("GetTranscodeJob failed: %v", err)
	}
	if got.Status != database.JobCancelled {
		t.Errorf("terminal CANCELLED overwritten to %s", got.Status)
	}
}

func TestRateGateDelaysExcessStarts(t *testing.T) {
	runner := &stubRunner{}
	cfg := Config{Concurrency: 1, MaxStartsPerMinute: 1, DelayRequeue: time.Hour}
	q, d := newTestQueue(t, runner, cfg)
	ctx := context.Background()

	insertVideo(t, d, "v1")
	insertVideo(t, d, "v2")
	job1, err := q.Submit(ctx, identity.System, SubmitParams{MediaID: "v1"})
	if err != nil {
		t.Fatalf("Submit v1 failed: %v", err)
	}
	job2, err := q.Submit(ctx, identity.System, SubmitParams{MediaID: "v2"})
	if err != nil {
		t.Fatalf("Submit v2 failed: %v", err)
	}
	q.Start()
	defer q.Stop()

	// Only one start fits in the window; the second job parks in DELAYED
	// until the long requeue backoff expires.
	waitForJobStatus(t, d, job1.JobID, database.JobCompleted)
	waitForJobStatus(t, d, job2.JobID, database.JobDelayed)

	runner.mu.Lock()
	executed := len(runner.jobs)
	runner.mu.Unlock()
	if executed != 1 {
		t.Errorf("expected 1 executed job, got %d", executed)
	}

	// A delayed job is still cancellable and never runs afterwards.
	if err := q.Cancel(ctx, identity.System, job2.JobID); err != nil {
		t.Fatalf("Cancel of delayed job failed: %v", err)
	}
	waitForJobStatus(t, d, job2.JobID, database.JobCancelled)
}

func TestDelayedJobRequeuesWhenGateReopens(t *testing.T) {
	runner := &stubRunner{}
	cfg := Config{Concurrency: 1, MaxStartsPerMinute: 1, DelayRequeue: 100 * time.Millisecond}
	q, d := newTestQueue(t, runner, cfg)
	ctx := context.Background()

	insertVideo(t, d, "v1")
	insertVideo(t, d, "v2")
	if _, err := q.Submit(ctx, identity.System, SubmitParams{MediaID: "v1"}); err != nil {
		t.Fatalf("Submit v1 failed: %v", err)
	}
	job2, err := q.Submit(ctx, identity.System, SubmitParams{MediaID: "v2"})
	if err != nil {
		t.Fatalf("Submit v2 failed: %v", err)
	}
	q.Start()
	defer q.Stop()

	waitForJobStatus(t, d, job2.JobID, database.JobDelayed)

	// Age out the recorded start so the gate is open when the backoff
	// expires and the job re-enters the queue.
	q.mu.Lock()
	q.recentStarts = nil
	q.mu.Unlock()

	done := waitForJobStatus(t, d, job2.JobID, database.JobCompleted)
	if done.EndedAt == nil {
		t.Errorf("requeued job missing end timestamp")
	}
	runner.mu.Lock()
	executed := len(runner.jobs)
	runner.mu.Unlock()
	if executed != 2 {
		t.Errorf("expected both jobs executed, got %d", executed)
	}
}

func TestRecoverRequeuesInterruptedJobs(t *testing.T) {
	q, d := newTestQueue(t, &stubRunner{}, Config{})
	ctx := context.Background()

	// Simulate a previous process that died mid-flight.
	started := time.Now()
	jobs := []*database.TranscodeJob{
		{JobID: "j-waiting", MediaID: "v1", OwnerID: "owner-1", Status: database.JobWaiting,
			Priority: 5, TargetFormats: []string{"mp4"}, SubmittedAt: started},
		{JobID: "j-active", MediaID: "v2", OwnerID: "owner-1", Status: database.JobActive,
			Priority: 5, TargetFormats: []string{"mp4"}, SubmittedAt: started},
		{JobID: "j-done", MediaID: "v3", OwnerID: "owner-1", Status: database.JobCompleted,
			Priority: 5, TargetFormats: []string{"mp4"}, SubmittedAt: started},
	}
	for _, job := range jobs {
		if err := d.InsertTranscodeJob(ctx, job); err != nil {
			t.Fatalf("InsertTranscodeJob failed: %v", err)
		}
	}

	if err := q.Recover(ctx); err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	if q.Depth() != 2 {
		t.Errorf("expected 2 recovered jobs, got %d", q.Depth())
	}

	got, err := d.GetTranscodeJob(ctx, "j-active")
	if err != nil {
		t.Fatalf("GetTranscodeJob failed: %v", err)
	}
	if got.Status != database.JobWaiting {
		t.Errorf("interrupted active job not reset to WAITING: %s", got.Status)
	}
}

func TestGetStatusEnforcesOwnership(t *testing.T) {
	q, d := newTestQueue(t, &stubRunner{}, Config{})
	ctx := context.Background()
	insertVideo(t, d, "v1")

	job, err := q.Submit(ctx, identity.System, SubmitParams{MediaID: "v1"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if _, err := q.GetStatus(ctx, identity.Caller{OwnerID: "stranger"}, job.JobID); !errors.Is(err, identity.ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
	if _, err := q.GetStatus(ctx, identity.Caller{OwnerID: "owner-1"}, job.JobID); err != nil {
		t.Errorf("owner GetStatus failed: %v", err)
	}
}
