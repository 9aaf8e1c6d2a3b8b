package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// ExportJob represents a timeline render queued or in flight
type ExportJob struct {
	ID           string         `json:"id" db:"id"`
	ProjectID    string         `json:"project_id" db:"project_id"`
	UserID       string         `json:"user_id" db:"user_id"`
	OutputPath   string         `json:"output_path" db:"output_path"`
	State        string         `json:"state" db:"state"`
	Snapshot     ExportSnapshot `json:"snapshot" db:"snapshot"`
	Settings     RenderSettings `json:"settings" db:"settings"`
	Priority     int            `json:"priority" db:"priority"`
	CurrentFrame int64          `json:"current_frame" db:"current_frame"`
	TotalFrames  int64          `json:"total_frames" db:"total_frames"`
	RetryCount   int            `json:"retry_count" db:"retry_count"`
	ErrorMsg     string         `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at" db:"updated_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty" db:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
}

// ExportState constants
const (
	ExportStatePending    = "pending"
	ExportStateRendering  = "rendering"
	ExportStateCancelling = "cancelling"
	ExportStateCompleted  = "completed"
	ExportStateFailed     = "failed"
	ExportStateCancelled  = "cancelled"
)

// Priority levels
const (
	PriorityLow    = 1
	PriorityNormal = 5
	PriorityHigh   = 10
)

// Terminal reports whether the job reached a final state.
func (j *ExportJob) Terminal() bool {
	switch j.State {
	case ExportStateCompleted, ExportStateFailed, ExportStateCancelled:
		return true
	}
	return false
}

// RenderSettings holds the encode parameters for an export
type RenderSettings struct {
	Width        int       `json:"width"`
	Height       int       `json:"height"`
	FrameRate    FrameRate `json:"frame_rate"`
	VideoCodec   string    `json:"video_codec"`
	AudioCodec   string    `json:"audio_codec"`
	VideoBitrate string    `json:"video_bitrate,omitempty"`
	AudioBitrate string    `json:"audio_bitrate,omitempty"`
	SampleRate   int       `json:"sample_rate"`
	Channels     int       `json:"channels"`
	Container    string    `json:"container"`
	BurnCaptions bool      `json:"burn_captions"`
	Preset       string    `json:"preset,omitempty"`
	CRF          int       `json:"crf,omitempty"`
}

// DefaultRenderSettings returns 1080p30 H.264/AAC in MP4.
func DefaultRenderSettings() RenderSettings {
	return RenderSettings{
		Width:      1920,
		Height:     1080,
		FrameRate:  FrameRate30,
		VideoCodec: "libx264",
		AudioCodec: "aac",
		SampleRate: 48000,
		Channels:   2,
		Container:  "mp4",
		Preset:     "medium",
		CRF:        23,
	}
}

// Value implements driver.Valuer for database storage
func (s RenderSettings) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan implements sql.Scanner for database retrieval
func (s *RenderSettings) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, s)
}

// ExportSnapshot is the immutable copy of the timeline and the assets it
// references, taken when the export is enqueued. Later edits to the live
// timeline never affect a running render.
type ExportSnapshot struct {
	Timeline *Timeline              `json:"timeline"`
	Assets   map[string]*MediaAsset `json:"assets"`
}

// Value implements driver.Valuer for database storage
func (s ExportSnapshot) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan implements sql.Scanner for database retrieval
func (s *ExportSnapshot) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, s)
}

// ExportProgress is the per-frame progress event published while rendering.
type ExportProgress struct {
	JobID        string  `json:"job_id"`
	CurrentFrame int64   `json:"current_frame"`
	TotalFrames  int64   `json:"total_frames"`
	Percent      float64 `json:"percent"`
	FPS          float64 `json:"fps,omitempty"`
	ETASeconds   float64 `json:"eta_seconds,omitempty"`
	State        string  `json:"state"`
}
