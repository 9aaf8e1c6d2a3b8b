package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/editstack/cutcore/pkg/models"
)

// ErrNotFound is returned when a requested row does not exist. Callers
// match it with errors.Is; the wrapped message carries the id.
var ErrNotFound = errors.New("not found")

// Repository provides database operations
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// Projects

// CreateProject creates a new project record
func (r *Repository) CreateProject(ctx context.Context, project *models.Project) error {
	if project.ID == "" {
		project.ID = uuid.New().String()
	}

	query := `
		INSERT INTO projects (id, user_id, name, timeline)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		project.ID, project.UserID, project.Name, project.Timeline,
	).Scan(&project.CreatedAt, &project.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}

	return nil
}

// GetProject retrieves a project by ID
func (r *Repository) GetProject(ctx context.Context, id string) (*models.Project, error) {
	var project models.Project

	query := `
		SELECT id, user_id, name, timeline, created_at, updated_at
		FROM projects
		WHERE id = $1
	`

	err := r.db.QueryRow(ctx, query, id).Scan(
		&project.ID, &project.UserID, &project.Name, &project.Timeline,
		&project.CreatedAt, &project.UpdatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	return &project, nil
}

// SaveTimeline persists the timeline document of a project. The whole
// document is written in one statement, so a crash never leaves a
// half-saved timeline behind.
func (r *Repository) SaveTimeline(ctx context.Context, projectID string, doc models.TimelineDocument) error {
	query := `
		UPDATE projects
		SET timeline = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`

	result, err := r.db.Exec(ctx, query, projectID, doc)
	if err != nil {
		return fmt.Errorf("failed to save timeline: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("project %s: %w", projectID, ErrNotFound)
	}

	return nil
}

// RenameProject updates a project's display name
func (r *Repository) RenameProject(ctx context.Context, id, name string) error {
	query := `
		UPDATE projects
		SET name = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`

	result, err := r.db.Exec(ctx, query, id, name)
	if err != nil {
		return fmt.Errorf("failed to rename project: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("project %s: %w", id, ErrNotFound)
	}

	return nil
}

// ListProjects retrieves all projects for a user, most recently edited first
func (r *Repository) ListProjects(ctx context.Context, userID string, limit, offset int) ([]*models.Project, error) {
	query := `
		SELECT id, user_id, name, timeline, created_at, updated_at
		FROM projects
		WHERE user_id = $1
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []*models.Project
	for rows.Next() {
		var project models.Project
		err := rows.Scan(
			&project.ID, &project.UserID, &project.Name, &project.Timeline,
			&project.CreatedAt, &project.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, &project)
	}

	return projects, nil
}

// DeleteProject deletes a project and its dependent rows
func (r *Repository) DeleteProject(ctx context.Context, id string) error {
	query := `DELETE FROM projects WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("project %s: %w", id, ErrNotFound)
	}

	return nil
}

// Media assets

// CreateAsset creates a new media asset record
func (r *Repository) CreateAsset(ctx context.Context, asset *models.MediaAsset) error {
	if asset.ID == "" {
		asset.ID = uuid.New().String()
	}

	query := `
		INSERT INTO media_assets (id, project_id, kind, filename, source_url, duration_ticks,
		                          width, height, frame_rate, sample_rate, channels, size_bytes,
		                          waveform, metadata, load_state, error_msg)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		asset.ID, asset.ProjectID, asset.Kind, asset.Filename, asset.SourceURL, asset.DurationTicks,
		asset.Width, asset.Height, asset.FrameRate, asset.SampleRate, asset.Channels, asset.SizeBytes,
		asset.Waveform, asset.Metadata, asset.LoadState, asset.ErrorMsg,
	).Scan(&asset.CreatedAt, &asset.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create asset: %w", err)
	}

	return nil
}

// GetAsset retrieves a media asset by ID
func (r *Repository) GetAsset(ctx context.Context, id string) (*models.MediaAsset, error) {
	var asset models.MediaAsset

	query := `
		SELECT id, project_id, kind, filename, source_url, duration_ticks, width, height,
		       frame_rate, sample_rate, channels, size_bytes, waveform, metadata,
		       load_state, error_msg, created_at, updated_at
		FROM media_assets
		WHERE id = $1
	`

	err := r.db.QueryRow(ctx, query, id).Scan(
		&asset.ID, &asset.ProjectID, &asset.Kind, &asset.Filename, &asset.SourceURL, &asset.DurationTicks,
		&asset.Width, &asset.Height, &asset.FrameRate, &asset.SampleRate, &asset.Channels, &asset.SizeBytes,
		&asset.Waveform, &asset.Metadata, &asset.LoadState, &asset.ErrorMsg,
		&asset.CreatedAt, &asset.UpdatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("asset %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get asset: %w", err)
	}

	return &asset, nil
}

// UpdateAsset writes probe results and load state back to an asset record
func (r *Repository) UpdateAsset(ctx context.Context, asset *models.MediaAsset) error {
	query := `
		UPDATE media_assets
		SET kind = $2, duration_ticks = $3, width = $4, height = $5, frame_rate = $6,
		    sample_rate = $7, channels = $8, size_bytes = $9, waveform = $10,
		    metadata = $11, load_state = $12, error_msg = $13, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`

	result, err := r.db.Exec(ctx, query,
		asset.ID, asset.Kind, asset.DurationTicks, asset.Width, asset.Height, asset.FrameRate,
		asset.SampleRate, asset.Channels, asset.SizeBytes, asset.Waveform,
		asset.Metadata, asset.LoadState, asset.ErrorMsg,
	)

	if err != nil {
		return fmt.Errorf("failed to update asset: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("asset %s: %w", asset.ID, ErrNotFound)
	}

	return nil
}

// ListProjectAssets retrieves all media assets of a project, oldest first
func (r *Repository) ListProjectAssets(ctx context.Context, projectID string) ([]*models.MediaAsset, error) {
	query := `
		SELECT id, project_id, kind, filename, source_url, duration_ticks, width, height,
		       frame_rate, sample_rate, channels, size_bytes, waveform, metadata,
		       load_state, error_msg, created_at, updated_at
		FROM media_assets
		WHERE project_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	defer rows.Close()

	var assets []*models.MediaAsset
	for rows.Next() {
		var asset models.MediaAsset
		err := rows.Scan(
			&asset.ID, &asset.ProjectID, &asset.Kind, &asset.Filename, &asset.SourceURL, &asset.DurationTicks,
			&asset.Width, &asset.Height, &asset.FrameRate, &asset.SampleRate, &asset.Channels, &asset.SizeBytes,
			&asset.Waveform, &asset.Metadata, &asset.LoadState, &asset.ErrorMsg,
			&asset.CreatedAt, &asset.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		assets = append(assets, &asset)
	}

	return assets, nil
}

// DeleteAsset deletes a media asset record
func (r *Repository) DeleteAsset(ctx context.Context, id string) error {
	query := `DELETE FROM media_assets WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete asset: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("asset %s: %w", id, ErrNotFound)
	}

	return nil
}
