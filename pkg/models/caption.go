package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Cue is one caption: text shown over [StartTick, EndTick).
type Cue struct {
	ID        string  `json:"id"`
	StartTick int64   `json:"start_tick"`
	EndTick   int64   `json:"end_tick"`
	Text      string  `json:"text"`
	Speaker   string  `json:"speaker,omitempty"`
	Conf      float64 `json:"confidence,omitempty"`
}

// DurationTicks returns the cue length.
func (c *Cue) DurationTicks() int64 {
	return c.EndTick - c.StartTick
}

// Covers reports whether tick t falls inside [StartTick, EndTick).
func (c *Cue) Covers(t int64) bool {
	return t >= c.StartTick && t < c.EndTick
}

// Clone returns a copy of the cue.
func (c *Cue) Clone() *Cue {
	d := *c
	return &d
}

// CaptionTrack holds the ordered cues produced by one transcription job or
// subtitle import. A timeline caption track points at it by ID; the caption
// track itself never points back.
type CaptionTrack struct {
	ID        string `json:"id"`
	Language  string `json:"language,omitempty"`
	SourceJob string `json:"source_job,omitempty"`
	Cues      []*Cue `json:"cues"`
}

// EndTick returns the first tick after the last cue.
func (ct *CaptionTrack) EndTick() int64 {
	var end int64
	for _, c := range ct.Cues {
		if c.EndTick > end {
			end = c.EndTick
		}
	}
	return end
}

// CueAt returns the cue covering tick t, or nil. Cues are kept sorted and
// non-overlapping, so at most one matches.
func (ct *CaptionTrack) CueAt(t int64) *Cue {
	for _, c := range ct.Cues {
		if c.StartTick > t {
			return nil
		}
		if c.Covers(t) {
			return c
		}
	}
	return nil
}

// Clone returns a deep copy of the caption track.
func (ct *CaptionTrack) Clone() *CaptionTrack {
	c := *ct
	c.Cues = make([]*Cue, len(ct.Cues))
	for i, cue := range ct.Cues {
		c.Cues[i] = cue.Clone()
	}
	return &c
}

// TranscriptionJob tracks one speech-to-text run against a media asset.
// Cues holds the raw engine output once the job completes; the installed
// timeline copy lives in the project document and may diverge under edits.
type TranscriptionJob struct {
	ID             string    `json:"id" db:"id"`
	ProjectID      string    `json:"project_id" db:"project_id"`
	AssetID        string    `json:"asset_id" db:"asset_id"`
	Language       string    `json:"language,omitempty" db:"language"`
	Status         string    `json:"status" db:"status"`
	CaptionTrackID string    `json:"caption_track_id,omitempty" db:"caption_track_id"`
	Cues           CueList   `json:"cues,omitempty" db:"cues"`
	ErrorMsg       string    `json:"error_message,omitempty" db:"error_message"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// TranscriptionStatus constants
const (
	TranscriptionStatusQueued    = "queued"
	TranscriptionStatusRunning   = "running"
	TranscriptionStatusCompleted = "completed"
	TranscriptionStatusFailed    = "failed"
	TranscriptionStatusCancelled = "cancelled"
)

// Terminal reports whether the job can no longer change state.
func (j *TranscriptionJob) Terminal() bool {
	switch j.Status {
	case TranscriptionStatusCompleted, TranscriptionStatusFailed, TranscriptionStatusCancelled:
		return true
	}
	return false
}

// CueList wraps cues for JSONB persistence on transcription rows.
type CueList []*Cue

// Value implements driver.Valuer for database storage
func (l CueList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner for database retrieval
func (l *CueList) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, l)
}
