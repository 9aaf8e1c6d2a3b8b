package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/editstack/cutcore/pkg/models"
)

// Transcription jobs

// SaveTranscriptionJob upserts a transcription job record. Jobs live in
// memory while running; every state transition lands here so history
// survives a restart.
func (r *Repository) SaveTranscriptionJob(ctx context.Context, job *models.TranscriptionJob) error {
	query := `
		INSERT INTO transcription_jobs (id, project_id, asset_id, language, status,
		                                caption_track_id, cues, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			caption_track_id = EXCLUDED.caption_track_id,
			cues = EXCLUDED.cues,
			error_message = EXCLUDED.error_message,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.Exec(ctx, query,
		job.ID, job.ProjectID, job.AssetID, job.Language, job.Status,
		job.CaptionTrackID, job.Cues, job.ErrorMsg, job.CreatedAt, job.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to save transcription job: %w", err)
	}

	return nil
}

// GetTranscriptionJob retrieves a transcription job by ID
func (r *Repository) GetTranscriptionJob(ctx context.Context, id string) (*models.TranscriptionJob, error) {
	var job models.TranscriptionJob

	query := `
		SELECT id, project_id, asset_id, language, status, caption_track_id,
		       cues, error_message, created_at, updated_at
		FROM transcription_jobs
		WHERE id = $1
	`

	err := r.db.QueryRow(ctx, query, id).Scan(
		&job.ID, &job.ProjectID, &job.AssetID, &job.Language, &job.Status, &job.CaptionTrackID,
		&job.Cues, &job.ErrorMsg, &job.CreatedAt, &job.UpdatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("transcription job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transcription job: %w", err)
	}

	return &job, nil
}

// ListProjectTranscriptionJobs retrieves all transcription jobs for a project, newest first
func (r *Repository) ListProjectTranscriptionJobs(ctx context.Context, projectID string) ([]*models.TranscriptionJob, error) {
	query := `
		SELECT id, project_id, asset_id, language, status, caption_track_id,
		       cues, error_message, created_at, updated_at
		FROM transcription_jobs
		WHERE project_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transcription jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.TranscriptionJob
	for rows.Next() {
		var job models.TranscriptionJob
		err := rows.Scan(
			&job.ID, &job.ProjectID, &job.AssetID, &job.Language, &job.Status, &job.CaptionTrackID,
			&job.Cues, &job.ErrorMsg, &job.CreatedAt, &job.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transcription job: %w", err)
		}
		jobs = append(jobs, &job)
	}

	return jobs, nil
}
