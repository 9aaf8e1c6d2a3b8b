package models

import (
	"database/sql/driver"
	"encoding/json"
)

// Element is a placed, trimmed reference to a media asset on a track.
// [StartTick, StartTick+DurationTicks) is the covered timeline range;
// TrimInTicks/TrimOutTicks select the window of the source that plays.
type Element struct {
	ID            string `json:"id"`
	TrackID       string `json:"track_id"`
	AssetID       string `json:"asset_id"`
	Name          string `json:"name,omitempty"`
	StartTick     int64  `json:"start_tick"`
	DurationTicks int64  `json:"duration_ticks"`
	TrimInTicks   int64  `json:"trim_in_ticks"`
	TrimOutTicks  int64  `json:"trim_out_ticks"`
}

// EndTick returns the first tick after the element.
func (e *Element) EndTick() int64 {
	return e.StartTick + e.DurationTicks
}

// Covers reports whether tick t falls inside [StartTick, EndTick).
func (e *Element) Covers(t int64) bool {
	return t >= e.StartTick && t < e.EndTick()
}

// Clone returns a copy of the element.
func (e *Element) Clone() *Element {
	c := *e
	return &c
}

// Track is an ordered lane of non-overlapping elements. Track order within
// the timeline is significant: z-order for video, mix order for audio.
// Caption tracks carry no elements; they reference a CaptionTrack by ID.
type Track struct {
	ID             string     `json:"id"`
	Kind           string     `json:"kind"`
	Name           string     `json:"name,omitempty"`
	Enabled        bool       `json:"enabled"`
	CaptionTrackID string     `json:"caption_track_id,omitempty"`
	Elements       []*Element `json:"elements"`
}

// TrackKind constants
const (
	TrackKindVideo   = "video"
	TrackKindAudio   = "audio"
	TrackKindCaption = "caption"
)

// EndTick returns the first tick after the last element on the track.
func (t *Track) EndTick() int64 {
	var end int64
	for _, e := range t.Elements {
		if e.EndTick() > end {
			end = e.EndTick()
		}
	}
	return end
}

// Clone returns a deep copy of the track.
func (t *Track) Clone() *Track {
	c := *t
	c.Elements = make([]*Element, len(t.Elements))
	for i, e := range t.Elements {
		c.Elements[i] = e.Clone()
	}
	return &c
}

// Timeline is the complete track/element graph for one project, plus
// transient editing state. It is mutated only through history-wrapped
// commands; Version increments once per applied mutation.
type Timeline struct {
	Tracks        []*Track        `json:"tracks"`
	CaptionTracks []*CaptionTrack `json:"caption_tracks,omitempty"`
	PlayheadTick  int64           `json:"playhead_tick"`
	Selection     []string        `json:"selection,omitempty"`
	Version       int64           `json:"version"`
}

// NewTimeline returns an empty timeline.
func NewTimeline() *Timeline {
	return &Timeline{}
}

// EndTick returns the first tick after the latest content on any track,
// caption tracks included.
func (tl *Timeline) EndTick() int64 {
	var end int64
	for _, t := range tl.Tracks {
		if e := t.EndTick(); e > end {
			end = e
		}
	}
	for _, ct := range tl.CaptionTracks {
		if e := ct.EndTick(); e > end {
			end = e
		}
	}
	return end
}

// CaptionTrackByID returns the caption track with the given id, or nil.
func (tl *Timeline) CaptionTrackByID(id string) *CaptionTrack {
	for _, ct := range tl.CaptionTracks {
		if ct.ID == id {
			return ct
		}
	}
	return nil
}

// Clone returns a deep copy, used for export snapshots and history state.
func (tl *Timeline) Clone() *Timeline {
	c := &Timeline{
		PlayheadTick: tl.PlayheadTick,
		Version:      tl.Version,
	}
	if tl.Selection != nil {
		c.Selection = append([]string(nil), tl.Selection...)
	}
	c.Tracks = make([]*Track, len(tl.Tracks))
	for i, t := range tl.Tracks {
		c.Tracks[i] = t.Clone()
	}
	if tl.CaptionTracks != nil {
		c.CaptionTracks = make([]*CaptionTrack, len(tl.CaptionTracks))
		for i, ct := range tl.CaptionTracks {
			c.CaptionTracks[i] = ct.Clone()
		}
	}
	return c
}

// TimelineDocument wraps a timeline for JSONB persistence.
type TimelineDocument struct {
	Timeline
}

// Value implements driver.Valuer for database storage
func (d TimelineDocument) Value() (driver.Value, error) {
	return json.Marshal(d)
}

// Scan implements sql.Scanner for database retrieval
func (d *TimelineDocument) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, d)
}
