package database

import (
	"context"
	"fmt"
)

// ExportStats aggregates export job counts and render times for the
// monitoring endpoints
type ExportStats struct {
	TotalJobs        int64   `json:"total_jobs"`
	PendingJobs      int64   `json:"pending_jobs"`
	RenderingJobs    int64   `json:"rendering_jobs"`
	CompletedJobs    int64   `json:"completed_jobs"`
	FailedJobs       int64   `json:"failed_jobs"`
	CancelledJobs    int64   `json:"cancelled_jobs"`
	AvgRenderSeconds float64 `json:"avg_render_seconds"`
}

// GetExportStats returns aggregate export counts and the average render time
func (r *Repository) GetExportStats(ctx context.Context) (*ExportStats, error) {
	query := `
		SELECT
			COUNT(*) AS total_jobs,
			COUNT(*) FILTER (WHERE state = 'pending') AS pending_jobs,
			COUNT(*) FILTER (WHERE state = 'rendering') AS rendering_jobs,
			COUNT(*) FILTER (WHERE state = 'completed') AS completed_jobs,
			COUNT(*) FILTER (WHERE state = 'failed') AS failed_jobs,
			COUNT(*) FILTER (WHERE state = 'cancelled') AS cancelled_jobs,
			COALESCE(AVG(EXTRACT(EPOCH FROM (completed_at - started_at))) FILTER (WHERE state = 'completed'), 0) AS avg_render_seconds
		FROM export_jobs
	`

	var stats ExportStats
	err := r.db.QueryRow(ctx, query).Scan(
		&stats.TotalJobs,
		&stats.PendingJobs,
		&stats.RenderingJobs,
		&stats.CompletedJobs,
		&stats.FailedJobs,
		&stats.CancelledJobs,
		&stats.AvgRenderSeconds,
	)

	if err != nil {
		return nil, fmt.Errorf("failed to get export stats: %w", err)
	}

	return &stats, nil
}

// GetTranscriptionStatusCounts returns transcription job counts grouped by status
func (r *Repository) GetTranscriptionStatusCounts(ctx context.Context) (map[string]int64, error) {
	query := `
		SELECT status, COUNT(*)
		FROM transcription_jobs
		GROUP BY status
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get transcription counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan transcription count: %w", err)
		}
		counts[status] = count
	}

	return counts, nil
}
