package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/editstack/cutcore/pkg/models"
)

// ErrAlreadyClaimed is returned when a worker tries to start a job that
// another worker already picked up, or that was cancelled first. Duplicate
// queue deliveries hit this and skip the job.
var ErrAlreadyClaimed = errors.New("export job already claimed")

// Export jobs

// CreateExportJob creates a new export job record
func (r *Repository) CreateExportJob(ctx context.Context, job *models.ExportJob) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}

	query := `
		INSERT INTO export_jobs (id, project_id, user_id, output_path, state, snapshot,
		                         settings, priority, current_frame, total_frames, retry_count, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		job.ID, job.ProjectID, job.UserID, job.OutputPath, job.State, job.Snapshot,
		job.Settings, job.Priority, job.CurrentFrame, job.TotalFrames, job.RetryCount, job.ErrorMsg,
	).Scan(&job.CreatedAt, &job.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create export job: %w", err)
	}

	return nil
}

// GetExportJob retrieves an export job by ID
func (r *Repository) GetExportJob(ctx context.Context, id string) (*models.ExportJob, error) {
	var job models.ExportJob

	query := `
		SELECT id, project_id, user_id, output_path, state, snapshot, settings, priority,
		       current_frame, total_frames, retry_count, error_message,
		       created_at, updated_at, started_at, completed_at
		FROM export_jobs
		WHERE id = $1
	`

	err := r.db.QueryRow(ctx, query, id).Scan(
		&job.ID, &job.ProjectID, &job.UserID, &job.OutputPath, &job.State, &job.Snapshot,
		&job.Settings, &job.Priority, &job.CurrentFrame, &job.TotalFrames, &job.RetryCount, &job.ErrorMsg,
		&job.CreatedAt, &job.UpdatedAt, &job.StartedAt, &job.CompletedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("export job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get export job: %w", err)
	}

	return &job, nil
}

// MarkExportStarted claims a pending job for rendering. The state guard
// makes the claim exclusive: duplicate deliveries and cancelled jobs fail
// with ErrAlreadyClaimed instead of rendering twice.
func (r *Repository) MarkExportStarted(ctx context.Context, jobID string, totalFrames int64) error {
	query := `
		UPDATE export_jobs
		SET state = $2, total_frames = $3, started_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
		AND state = $4
	`

	result, err := r.db.Exec(ctx, query, jobID, models.ExportStateRendering, totalFrames, models.ExportStatePending)
	if err != nil {
		return fmt.Errorf("failed to mark export started: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("export job %s: %w", jobID, ErrAlreadyClaimed)
	}

	return nil
}

// MarkExportFinished records a terminal state with its reason
func (r *Repository) MarkExportFinished(ctx context.Context, jobID, state, errorMsg string) error {
	query := `
		UPDATE export_jobs
		SET state = $2, error_message = $3, completed_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`

	_, err := r.db.Exec(ctx, query, jobID, state, errorMsg)
	if err != nil {
		return fmt.Errorf("failed to mark export finished: %w", err)
	}

	return nil
}

// UpdateExportProgress writes frame counters while rendering
func (r *Repository) UpdateExportProgress(ctx context.Context, jobID string, currentFrame, totalFrames int64) error {
	query := `
		UPDATE export_jobs
		SET current_frame = $2, total_frames = $3, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`

	_, err := r.db.Exec(ctx, query, jobID, currentFrame, totalFrames)
	return err
}

// IncrementExportRetry bumps the retry counter and requeues the job
func (r *Repository) IncrementExportRetry(ctx context.Context, jobID string) error {
	query := `
		UPDATE export_jobs
		SET retry_count = retry_count + 1, state = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`

	_, err := r.db.Exec(ctx, query, jobID, models.ExportStatePending)
	return err
}

// CancelExportJob cancels a job that no worker has picked up yet
func (r *Repository) CancelExportJob(ctx context.Context, jobID string) error {
	query := `
		UPDATE export_jobs
		SET state = $2, completed_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
		AND state = $3
	`

	result, err := r.db.Exec(ctx, query, jobID, models.ExportStateCancelled, models.ExportStatePending)
	if err != nil {
		return fmt.Errorf("failed to cancel export job: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("export job not found or cannot be cancelled")
	}

	return nil
}

// RequestExportCancel flips a rendering job to cancelling. The worker
// observes the signal and stops at the next frame boundary.
func (r *Repository) RequestExportCancel(ctx context.Context, jobID string) error {
	query := `
		UPDATE export_jobs
		SET state = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
		AND state = $3
	`

	result, err := r.db.Exec(ctx, query, jobID, models.ExportStateCancelling, models.ExportStateRendering)
	if err != nil {
		return fmt.Errorf("failed to request export cancel: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("export job not found or not rendering")
	}

	return nil
}

// RequeueStaleExports reclaims rendering jobs whose progress writes
// stopped, which happens when a worker dies mid-render. Jobs with
// attempts left go back to pending; exhausted ones are failed so they
// never loop.
func (r *Repository) RequeueStaleExports(ctx context.Context, olderThan time.Duration, maxRetries int) (int64, error) {
	failQuery := `
		UPDATE export_jobs
		SET state = $1, error_message = 'render worker lost', completed_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE state = $2
		AND updated_at < CURRENT_TIMESTAMP - make_interval(secs => $3)
		AND retry_count >= $4
	`

	_, err := r.db.Exec(ctx, failQuery,
		models.ExportStateFailed, models.ExportStateRendering, olderThan.Seconds(), maxRetries)
	if err != nil {
		return 0, fmt.Errorf("failed to fail stale exports: %w", err)
	}

	requeueQuery := `
		UPDATE export_jobs
		SET state = $1, retry_count = retry_count + 1, updated_at = CURRENT_TIMESTAMP
		WHERE state = $2
		AND updated_at < CURRENT_TIMESTAMP - make_interval(secs => $3)
	`

	result, err := r.db.Exec(ctx, requeueQuery,
		models.ExportStatePending, models.ExportStateRendering, olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stale exports: %w", err)
	}

	return result.RowsAffected(), nil
}

// GetPendingExportJobs retrieves queued jobs, highest priority first
func (r *Repository) GetPendingExportJobs(ctx context.Context, limit int) ([]*models.ExportJob, error) {
	query := `
		SELECT id, project_id, user_id, output_path, state, snapshot, settings, priority,
		       current_frame, total_frames, retry_count, error_message,
		       created_at, updated_at, started_at, completed_at
		FROM export_jobs
		WHERE state = $1
		ORDER BY priority DESC, created_at ASC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, models.ExportStatePending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending export jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.ExportJob
	for rows.Next() {
		var job models.ExportJob
		err := rows.Scan(
			&job.ID, &job.ProjectID, &job.UserID, &job.OutputPath, &job.State, &job.Snapshot,
			&job.Settings, &job.Priority, &job.CurrentFrame, &job.TotalFrames, &job.RetryCount, &job.ErrorMsg,
			&job.CreatedAt, &job.UpdatedAt, &job.StartedAt, &job.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan export job: %w", err)
		}
		jobs = append(jobs, &job)
	}

	return jobs, nil
}

// ListProjectExportJobs retrieves all export jobs for a project, newest first
func (r *Repository) ListProjectExportJobs(ctx context.Context, projectID string) ([]*models.ExportJob, error) {
	query := `
		SELECT id, project_id, user_id, output_path, state, snapshot, settings, priority,
		       current_frame, total_frames, retry_count, error_message,
		       created_at, updated_at, started_at, completed_at
		FROM export_jobs
		WHERE project_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list export jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.ExportJob
	for rows.Next() {
		var job models.ExportJob
		err := rows.Scan(
			&job.ID, &job.ProjectID, &job.UserID, &job.OutputPath, &job.State, &job.Snapshot,
			&job.Settings, &job.Priority, &job.CurrentFrame, &job.TotalFrames, &job.RetryCount, &job.ErrorMsg,
			&job.CreatedAt, &job.UpdatedAt, &job.StartedAt, &job.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan export job: %w", err)
		}
		jobs = append(jobs, &job)
	}

	return jobs, nil
}

// CountExportJobsInState returns the number of jobs currently in a state
func (r *Repository) CountExportJobsInState(ctx context.Context, state string) (int, error) {
	query := `SELECT COUNT(*) FROM export_jobs WHERE state = $1`

	var count int
	if err := r.db.QueryRow(ctx, query, state).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count export jobs: %w", err)
	}

	return count, nil
}

// Outputs

// CreateOutput creates a new output record
func (r *Repository) CreateOutput(ctx context.Context, output *models.Output) error {
	if output.ID == "" {
		output.ID = uuid.New().String()
	}

	query := `
		INSERT INTO outputs (id, job_id, project_id, container, width, height,
		                     codec, size, duration, url, path)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at
	`

	err := r.db.QueryRow(ctx, query,
		output.ID, output.JobID, output.ProjectID, output.Container, output.Width, output.Height,
		output.Codec, output.Size, output.Duration, output.URL, output.Path,
	).Scan(&output.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}

	return nil
}

// GetOutputsByJobID retrieves all outputs for an export job
func (r *Repository) GetOutputsByJobID(ctx context.Context, jobID string) ([]*models.Output, error) {
	query := `
		SELECT id, job_id, project_id, container, width, height, codec,
		       size, duration, url, path, created_at
		FROM outputs
		WHERE job_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get outputs: %w", err)
	}
	defer rows.Close()

	var outputs []*models.Output
	for rows.Next() {
		var output models.Output
		err := rows.Scan(
			&output.ID, &output.JobID, &output.ProjectID, &output.Container, &output.Width, &output.Height,
			&output.Codec, &output.Size, &output.Duration, &output.URL, &output.Path, &output.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan output: %w", err)
		}
		outputs = append(outputs, &output)
	}

	return outputs, nil
}

// ListProjectOutputs retrieves all rendered outputs for a project, newest first
func (r *Repository) ListProjectOutputs(ctx context.Context, projectID string) ([]*models.Output, error) {
	query := `
		SELECT id, job_id, project_id, container, width, height, codec,
		       size, duration, url, path, created_at
		FROM outputs
		WHERE project_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to get outputs: %w", err)
	}
	defer rows.Close()

	var outputs []*models.Output
	for rows.Next() {
		var output models.Output
		err := rows.Scan(
			&output.ID, &output.JobID, &output.ProjectID, &output.Container, &output.Width, &output.Height,
			&output.Codec, &output.Size, &output.Duration, &output.URL, &output.Path, &output.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan output: %w", err)
		}
		outputs = append(outputs, &output)
	}

	return outputs, nil
}
