package database

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

const jobColumns = `job_id, media_id, owner_id, status, priority, target_formats,
	extract_thumbnail, thumbnail_count, submitted_at, started_at, ended_at, error_message`

// InsertTranscodeJob persists a newly submitted job.
func (d *Database) InsertTranscodeJob(ctx context.Context, job *TranscodeJob) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("insert_transcode_job", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO transcode_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		job.JobID, job.MediaID, job.OwnerID, string(job.Status), job.Priority,
		strings.Join(job.TargetFormats, ","), boolToInt(job.ExtractThumbnail),
		job.ThumbnailCount, job.SubmittedAt.Unix(),
		nullUnix(job.StartedAt), nullUnix(job.EndedAt), nullString(job.ErrorMessage),
	)
	return err
}

// GetTranscodeJob returns a job by id, or ErrNotFound.
func (d *Database) GetTranscodeJob(ctx context.Context, jobID string) (*TranscodeJob, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_transcode_job", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	row := d.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM transcode_jobs WHERE job_id = ?", jobID)
	job, err := scanTranscodeJob(row)
	return job, err
}

// UpdateTranscodeJobStatus moves a job to a new status. Started and ended
// timestamps are written when provided; terminal transitions carry the error
// message (nil clears it). A job already in a terminal state is never
// updated: the statement's WHERE clause excludes terminal rows so no racing
// caller can resurrect a COMPLETED, FAILED, or CANCELLED job, and the
// attempt returns ErrTerminalState.
func (d *Database) UpdateTranscodeJobStatus(ctx context.Context, jobID string, status JobStatus, startedAt, endedAt *time.Time, errorMessage *string) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("update_transcode_job_status", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := d.db.ExecContext(ctx, `
		UPDATE transcode_jobs
		SET status = ?,
		    started_at = COALESCE(?, started_at),
		    ended_at = COALESCE(?, ended_at),
		    error_message = ?
		WHERE job_id = ? AND status NOT IN (?, ?, ?)
	`, string(status), nullUnix(startedAt), nullUnix(endedAt), nullString(errorMessage),
		jobID, string(JobCompleted), string(JobFailed), string(JobCancelled))
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var current string
		scanErr := d.db.QueryRowContext(ctx,
			"SELECT status FROM transcode_jobs WHERE job_id = ?", jobID).Scan(&current)
		if errors.Is(scanErr, sql.ErrNoRows) {
			err = ErrNotFound
			return err
		}
		if scanErr != nil {
			err = scanErr
			return err
		}
		err = ErrTerminalState
		return err
	}
	return nil
}

// ActiveTranscodeJobForMedia returns the non-terminal job for a media, if
// one exists. Used to enforce the one-live-job-per-media rule.
func (d *Database) ActiveTranscodeJobForMedia(ctx context.Context, mediaID string) (*TranscodeJob, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("active_transcode_job_for_media", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	row := d.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM transcode_jobs
		WHERE media_id = ? AND status IN (?, ?, ?)
		ORDER BY submitted_at DESC LIMIT 1
	`, mediaID, string(JobWaiting), string(JobActive), string(JobDelayed))
	job, err := scanTranscodeJob(row)
	return job, err
}

// NonTerminalTranscodeJobs returns every job left in a non-terminal state,
// oldest first. Called once at startup to requeue work interrupted by a
// restart.
func (d *Database) NonTerminalTranscodeJobs(ctx context.Context) ([]*TranscodeJob, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("non_terminal_transcode_jobs", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM transcode_jobs
		WHERE status IN (?, ?, ?)
		ORDER BY submitted_at ASC
	`, string(JobWaiting), string(JobActive), string(JobDelayed))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*TranscodeJob
	for rows.Next() {
		job, scanErr := scanTranscodeJob(rows)
		if scanErr != nil {
			err = scanErr
			return nil, err
		}
		jobs = append(jobs, job)
	}
	err = rows.Err()
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// TranscodeJobCountByStatus returns job counts grouped by status.
func (d *Database) TranscodeJobCountByStatus(ctx context.Context) (map[JobStatus]int64, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("transcode_job_count_by_status", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM transcode_jobs GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[JobStatus]int64)
	for rows.Next() {
		var status string
		var count int64
		if err = rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[JobStatus(status)] = count
	}
	err = rows.Err()
	return counts, err
}

func scanTranscodeJob(row rowScanner) (*TranscodeJob, error) {
	var job TranscodeJob
	var status, formats string
	var extractThumbnail int
	var submittedAt int64
	var startedAt, endedAt sql.NullInt64
	var errorMessage sql.NullString

	err := row.Scan(
		&job.JobID, &job.MediaID, &job.OwnerID, &status, &job.Priority, &formats,
		&extractThumbnail, &job.ThumbnailCount, &submittedAt,
		&startedAt, &endedAt, &errorMessage,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	job.Status = JobStatus(status)
	if formats != "" {
		job.TargetFormats = strings.Split(formats, ",")
	}
	job.ExtractThumbnail = extractThumbnail != 0
	job.SubmittedAt = time.Unix(submittedAt, 0)
	job.StartedAt = fromNullUnix(startedAt)
	job.EndedAt = fromNullUnix(endedAt)
	job.ErrorMessage = fromNullString(errorMessage)
	return &job, nil
}
