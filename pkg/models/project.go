package models

import "time"

// Project is the persistence root: one editing project with its timeline
// document and owned assets.
type Project struct {
	ID        string           `json:"id" db:"id"`
	UserID    string           `json:"user_id" db:"user_id"`
	Name      string           `json:"name" db:"name"`
	Timeline  TimelineDocument `json:"timeline" db:"timeline"`
	CreatedAt time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt time.Time        `json:"updated_at" db:"updated_at"`
}
