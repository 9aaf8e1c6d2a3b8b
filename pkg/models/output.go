package models

import (
	"time"
)

// Output represents a finished export artifact
type Output struct {
	ID        string    `json:"id" db:"id"`
	JobID     string    `json:"job_id" db:"job_id"`
	ProjectID string    `json:"project_id" db:"project_id"`
	Container string    `json:"container" db:"container"`
	Width     int       `json:"width" db:"width"`
	Height    int       `json:"height" db:"height"`
	Codec     string    `json:"codec" db:"codec"`
	Size      int64     `json:"size" db:"size"`
	Duration  float64   `json:"duration" db:"duration"`
	URL       string    `json:"url" db:"url"`
	Path      string    `json:"path" db:"path"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
