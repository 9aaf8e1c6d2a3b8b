package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// MediaAsset represents a decoded media source registered with a project.
// Once the asset reaches LoadStateReady its fields are immutable; timeline
// elements reference it by ID only and never copy asset data.
type MediaAsset struct {
	ID            string    `json:"id" db:"id"`
	ProjectID     string    `json:"project_id" db:"project_id"`
	Kind          string    `json:"kind" db:"kind"`
	Filename      string    `json:"filename" db:"filename"`
	SourceURL     string    `json:"source_url" db:"source_url"`
	DurationTicks int64     `json:"duration_ticks" db:"duration_ticks"`
	Width         int       `json:"width,omitempty" db:"width"`
	Height        int       `json:"height,omitempty" db:"height"`
	FrameRate     float64   `json:"frame_rate,omitempty" db:"frame_rate"`
	SampleRate    int       `json:"sample_rate,omitempty" db:"sample_rate"`
	Channels      int       `json:"channels,omitempty" db:"channels"`
	SizeBytes     int64     `json:"size_bytes" db:"size_bytes"`
	Waveform      Waveform  `json:"waveform,omitempty" db:"waveform"`
	Metadata      Metadata  `json:"metadata" db:"metadata"`
	LoadState     string    `json:"load_state" db:"load_state"`
	ErrorMsg      string    `json:"error_msg,omitempty" db:"error_msg"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// AssetKind constants
const (
	AssetKindVideo = "video"
	AssetKindAudio = "audio"
	AssetKindImage = "image"
)

// LoadState constants
const (
	LoadStateLoading = "loading"
	LoadStateReady   = "ready"
	LoadStateFailed  = "failed"
)

// Ready reports whether the asset has finished loading successfully.
func (a *MediaAsset) Ready() bool {
	return a.LoadState == LoadStateReady
}

// Clone returns a copy safe to hand to other goroutines. The waveform
// backing array is shared; it is immutable once set.
func (a *MediaAsset) Clone() *MediaAsset {
	c := *a
	if a.Metadata != nil {
		c.Metadata = make(Metadata, len(a.Metadata))
		for k, v := range a.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// Metadata holds additional probe metadata for an asset
type Metadata map[string]interface{}

// Value implements driver.Valuer for database storage
func (m Metadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Scan implements sql.Scanner for database retrieval
func (m *Metadata) Scan(value interface{}) error {
	if value == nil {
		*m = make(Metadata)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, m)
}

// Waveform holds a precomputed peak envelope for audio assets, one
// normalized value per display block, used by waveform views.
type Waveform []float64

// Value implements driver.Valuer for database storage
func (w Waveform) Value() (driver.Value, error) {
	return json.Marshal(w)
}

// Scan implements sql.Scanner for database retrieval
func (w *Waveform) Scan(value interface{}) error {
	if value == nil {
		*w = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, w)
}
