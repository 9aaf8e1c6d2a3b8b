package timeline

import (
	"github.com/editstack/cutcore/pkg/models"
)

// AddCue inserts a caption cue into a caption track.
type AddCue struct {
	CaptionTrackID string
	Cue            *models.Cue
}

func (c *AddCue) Name() string { return "cue.add" }

func (c *AddCue) Apply(tl *models.Timeline) (Command, error) {
	ct, _ := findCaptionTrack(tl, c.CaptionTrackID)
	if ct == nil {
		return nil, &NotFoundError{Kind: "caption_track", ID: c.CaptionTrackID}
	}
	if c.Cue == nil || c.Cue.ID == "" {
		return nil, &ConflictError{Kind: "cue", ID: "", Reason: "missing id"}
	}
	if cue, _ := findCue(ct, c.Cue.ID); cue != nil {
		return nil, &ConflictError{Kind: "cue", ID: c.Cue.ID, Reason: "id already in use"}
	}
	if c.Cue.StartTick < 0 {
		return nil, &RangeError{Field: "start_tick", Value: c.Cue.StartTick, Reason: "must be >= 0"}
	}
	if c.Cue.EndTick <= c.Cue.StartTick {
		return nil, &RangeError{Field: "end_tick", Value: c.Cue.EndTick, Reason: "must be > start_tick"}
	}
	if err := checkCuePlacement(ct, c.Cue.StartTick, c.Cue.EndTick, ""); err != nil {
		return nil, err
	}

	insertCueSorted(ct, c.Cue.Clone())
	return &RemoveCue{CaptionTrackID: c.CaptionTrackID, CueID: c.Cue.ID}, nil
}

// RemoveCue deletes a caption cue.
type RemoveCue struct {
	CaptionTrackID string
	CueID          string
}

func (c *RemoveCue) Name() string { return "cue.remove" }

func (c *RemoveCue) Apply(tl *models.Timeline) (Command, error) {
	ct, _ := findCaptionTrack(tl, c.CaptionTrackID)
	if ct == nil {
		return nil, &NotFoundError{Kind: "caption_track", ID: c.CaptionTrackID}
	}
	cue, idx := findCue(ct, c.CueID)
	if cue == nil {
		return nil, &NotFoundError{Kind: "cue", ID: c.CueID}
	}

	removed := cue.Clone()
	ct.Cues = append(ct.Cues[:idx], ct.Cues[idx+1:]...)

	return &AddCue{CaptionTrackID: c.CaptionTrackID, Cue: removed}, nil
}

// EditCue retimes or rewrites a caption cue.
type EditCue struct {
	CaptionTrackID string
	CueID          string
	StartTick      int64
	EndTick        int64
	Text           string
}

func (c *EditCue) Name() string { return "cue.edit" }

func (c *EditCue) Apply(tl *models.Timeline) (Command, error) {
	ct, _ := findCaptionTrack(tl, c.CaptionTrackID)
	if ct == nil {
		return nil, &NotFoundError{Kind: "caption_track", ID: c.CaptionTrackID}
	}
	cue, idx := findCue(ct, c.CueID)
	if cue == nil {
		return nil, &NotFoundError{Kind: "cue", ID: c.CueID}
	}
	if c.StartTick < 0 {
		return nil, &RangeError{Field: "start_tick", Value: c.StartTick, Reason: "must be >= 0"}
	}
	if c.EndTick <= c.StartTick {
		return nil, &RangeError{Field: "end_tick", Value: c.EndTick, Reason: "must be > start_tick"}
	}
	if err := checkCuePlacement(ct, c.StartTick, c.EndTick, c.CueID); err != nil {
		return nil, err
	}

	inverse := &EditCue{
		CaptionTrackID: c.CaptionTrackID,
		CueID:          c.CueID,
		StartTick:      cue.StartTick,
		EndTick:        cue.EndTick,
		Text:           cue.Text,
	}

	cue.StartTick = c.StartTick
	cue.EndTick = c.EndTick
	cue.Text = c.Text

	ct.Cues = append(ct.Cues[:idx], ct.Cues[idx+1:]...)
	insertCueSorted(ct, cue)

	return inverse, nil
}
