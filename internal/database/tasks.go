package database

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const taskColumns = `id, media_id, filename, mime_type, byte_size, status,
	created_at, started_at, completed_at, converted_size, compression_ratio, processing_time_ms, error`

// InsertConvertTask persists a newly enqueued re-encode task.
func (d *Database) InsertConvertTask(ctx context.Context, task *ConvertTask) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("insert_convert_task", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO convert_tasks (id, media_id, filename, mime_type, byte_size, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, task.ID, task.MediaID, task.Filename, task.MimeType, task.ByteSize,
		string(task.Status), task.CreatedAt.Unix())
	return err
}

// GetConvertTask returns a task by id, or ErrNotFound.
func (d *Database) GetConvertTask(ctx context.Context, id string) (*ConvertTask, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_convert_task", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	row := d.db.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM convert_tasks WHERE id = ?", id)
	task, err := scanConvertTask(row)
	return task, err
}

// MarkConvertTaskProcessing records that a worker has claimed the task.
func (d *Database) MarkConvertTaskProcessing(ctx context.Context, id string, startedAt time.Time) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("mark_convert_task_processing", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := d.db.ExecContext(ctx, `
		UPDATE convert_tasks SET status = ?, started_at = ? WHERE id = ?
	`, string(TaskProcessing), startedAt.Unix(), id)
	if err != nil {
		return err
	}
	return requireAffected(res, &err)
}

// CompleteConvertTask records a successful re-encode with its result.
func (d *Database) CompleteConvertTask(ctx context.Context, id string, completedAt time.Time, result ConvertResult) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("complete_convert_task", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := d.db.ExecContext(ctx, `
		UPDATE convert_tasks
		SET status = ?, completed_at = ?,
		    converted_size = ?, compression_ratio = ?, processing_time_ms = ?,
		    error = NULL
		WHERE id = ?
	`, string(TaskCompleted), completedAt.Unix(),
		result.ConvertedSize, result.CompressionRatio, result.ProcessingTimeMs, id)
	if err != nil {
		return err
	}
	return requireAffected(res, &err)
}

// FinishConvertTask records a terminal failure or cancellation.
func (d *Database) FinishConvertTask(ctx context.Context, id string, status TaskStatus, completedAt time.Time, taskError *string) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("finish_convert_task", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := d.db.ExecContext(ctx, `
		UPDATE convert_tasks SET status = ?, completed_at = ?, error = ? WHERE id = ?
	`, string(status), completedAt.Unix(), nullString(taskError), id)
	if err != nil {
		return err
	}
	return requireAffected(res, &err)
}

// PendingConvertTasks returns tasks left PENDING, oldest first. Called once
// at startup to requeue work interrupted by a restart.
func (d *Database) PendingConvertTasks(ctx context.Context) ([]*ConvertTask, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("pending_convert_tasks", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM convert_tasks
		WHERE status IN (?, ?)
		ORDER BY created_at ASC
	`, string(TaskPending), string(TaskProcessing))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*ConvertTask
	for rows.Next() {
		task, scanErr := scanConvertTask(rows)
		if scanErr != nil {
			err = scanErr
			return nil, err
		}
		tasks = append(tasks, task)
	}
	err = rows.Err()
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// ConvertTaskCountByStatus returns task counts grouped by status.
func (d *Database) ConvertTaskCountByStatus(ctx context.Context) (map[TaskStatus]int64, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("convert_task_count_by_status", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM convert_tasks GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[TaskStatus]int64)
	for rows.Next() {
		var status string
		var count int64
		if err = rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[TaskStatus(status)] = count
	}
	err = rows.Err()
	return counts, err
}

func scanConvertTask(row rowScanner) (*ConvertTask, error) {
	var task ConvertTask
	var status string
	var createdAt int64
	var startedAt, completedAt, convertedSize, processingTimeMs sql.NullInt64
	var compressionRatio sql.NullFloat64
	var taskError sql.NullString

	err := row.Scan(
		&task.ID, &task.MediaID, &task.Filename, &task.MimeType, &task.ByteSize,
		&status, &createdAt, &startedAt, &completedAt,
		&convertedSize, &compressionRatio, &processingTimeMs, &taskError,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	task.Status = TaskStatus(status)
	task.CreatedAt = time.Unix(createdAt, 0)
	task.StartedAt = fromNullUnix(startedAt)
	task.CompletedAt = fromNullUnix(completedAt)
	task.Error = fromNullString(taskError)
	if convertedSize.Valid {
		task.Result = &ConvertResult{
			ConvertedSize:    convertedSize.Int64,
			CompressionRatio: compressionRatio.Float64,
			ProcessingTimeMs: processingTimeMs.Int64,
		}
	}
	return &task, nil
}
