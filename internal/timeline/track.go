package timeline

import (
	"github.com/editstack/cutcore/pkg/models"
)

// AddTrack inserts a track at a position in the timeline's track order.
// Caption tracks carry their cue payload in Captions so installing a
// transcription result is a single reversible mutation.
type AddTrack struct {
	Track    *models.Track
	Index    int
	Captions *models.CaptionTrack
}

func (c *AddTrack) Name() string { return "track.add" }

func (c *AddTrack) Apply(tl *models.Timeline) (Command, error) {
	if c.Track == nil || c.Track.ID == "" {
		return nil, &ConflictError{Kind: "track", ID: "", Reason: "missing id"}
	}
	if t, _ := findTrack(tl, c.Track.ID); t != nil {
		return nil, &ConflictError{Kind: "track", ID: c.Track.ID, Reason: "id already in use"}
	}
	switch c.Track.Kind {
	case models.TrackKindVideo, models.TrackKindAudio, models.TrackKindCaption:
	default:
		return nil, &ConflictError{Kind: "track", ID: c.Track.ID, Reason: "unknown track kind"}
	}
	if c.Index < 0 || c.Index > len(tl.Tracks) {
		return nil, &RangeError{Field: "index", Value: int64(c.Index), Reason: "outside track order"}
	}

	if c.Track.Kind == models.TrackKindCaption {
		if err := c.checkCaption(tl); err != nil {
			return nil, err
		}
	} else {
		if c.Captions != nil || c.Track.CaptionTrackID != "" {
			return nil, &ConflictError{Kind: "track", ID: c.Track.ID, Reason: "only caption tracks reference caption payloads"}
		}
		if err := c.checkElements(tl); err != nil {
			return nil, err
		}
	}

	track := c.Track.Clone()
	tl.Tracks = append(tl.Tracks, nil)
	copy(tl.Tracks[c.Index+1:], tl.Tracks[c.Index:])
	tl.Tracks[c.Index] = track

	if c.Captions != nil {
		tl.CaptionTracks = append(tl.CaptionTracks, c.Captions.Clone())
	}

	return &RemoveTrack{TrackID: track.ID}, nil
}

func (c *AddTrack) checkCaption(tl *models.Timeline) error {
	if len(c.Track.Elements) > 0 {
		return &ConflictError{Kind: "track", ID: c.Track.ID, Reason: "caption tracks hold cues, not elements"}
	}
	if c.Track.CaptionTrackID == "" {
		return &ConflictError{Kind: "track", ID: c.Track.ID, Reason: "missing caption track reference"}
	}
	if c.Captions != nil {
		if c.Captions.ID != c.Track.CaptionTrackID {
			return &ConflictError{Kind: "caption_track", ID: c.Captions.ID, Reason: "payload id does not match track reference"}
		}
		if ct, _ := findCaptionTrack(tl, c.Captions.ID); ct != nil {
			return &ConflictError{Kind: "caption_track", ID: c.Captions.ID, Reason: "id already in use"}
		}
		return checkCues(c.Captions)
	}
	if ct, _ := findCaptionTrack(tl, c.Track.CaptionTrackID); ct == nil {
		return &NotFoundError{Kind: "caption_track", ID: c.Track.CaptionTrackID}
	}
	return nil
}

func (c *AddTrack) checkElements(tl *models.Timeline) error {
	seen := make(map[string]struct{}, len(c.Track.Elements))
	staging := &models.Track{ID: c.Track.ID}
	for _, e := range c.Track.Elements {
		if e.ID == "" {
			return &ConflictError{Kind: "element", ID: "", Reason: "missing id"}
		}
		if _, dup := seen[e.ID]; dup {
			return &ConflictError{Kind: "element", ID: e.ID, Reason: "id already in use"}
		}
		if elementIDInUse(tl, e.ID) {
			return &ConflictError{Kind: "element", ID: e.ID, Reason: "id already in use"}
		}
		seen[e.ID] = struct{}{}
		if err := checkElementRange(e); err != nil {
			return err
		}
		if err := checkPlacement(staging, e.StartTick, e.DurationTicks, ""); err != nil {
			return err
		}
		staging.Elements = append(staging.Elements, e)
	}
	return nil
}

func checkCues(ct *models.CaptionTrack) error {
	staging := &models.CaptionTrack{ID: ct.ID}
	seen := make(map[string]struct{}, len(ct.Cues))
	for _, cue := range ct.Cues {
		if cue.ID == "" {
			return &ConflictError{Kind: "cue", ID: "", Reason: "missing id"}
		}
		if _, dup := seen[cue.ID]; dup {
			return &ConflictError{Kind: "cue", ID: cue.ID, Reason: "id already in use"}
		}
		seen[cue.ID] = struct{}{}
		if cue.StartTick < 0 {
			return &RangeError{Field: "start_tick", Value: cue.StartTick, Reason: "must be >= 0"}
		}
		if cue.EndTick <= cue.StartTick {
			return &RangeError{Field: "end_tick", Value: cue.EndTick, Reason: "must be > start_tick"}
		}
		if err := checkCuePlacement(staging, cue.StartTick, cue.EndTick, ""); err != nil {
			return err
		}
		staging.Cues = append(staging.Cues, cue)
	}
	return nil
}

// RemoveTrack deletes a track. Removing a caption track also removes its
// cue payload; the inverse restores both.
type RemoveTrack struct {
	TrackID string
}

func (c *RemoveTrack) Name() string { return "track.remove" }

func (c *RemoveTrack) Apply(tl *models.Timeline) (Command, error) {
	track, idx := findTrack(tl, c.TrackID)
	if track == nil {
		return nil, &NotFoundError{Kind: "track", ID: c.TrackID}
	}

	removed := track.Clone()
	tl.Tracks = append(tl.Tracks[:idx], tl.Tracks[idx+1:]...)
	for _, e := range removed.Elements {
		dropFromSelection(tl, e.ID)
	}

	var captions *models.CaptionTrack
	if removed.Kind == models.TrackKindCaption && removed.CaptionTrackID != "" {
		if ct, ctIdx := findCaptionTrack(tl, removed.CaptionTrackID); ct != nil {
			captions = ct.Clone()
			tl.CaptionTracks = append(tl.CaptionTracks[:ctIdx], tl.CaptionTracks[ctIdx+1:]...)
		}
	}

	return &AddTrack{Track: removed, Index: idx, Captions: captions}, nil
}

// ReorderTracks replaces the timeline's track order. The id set must match
// the current tracks exactly.
type ReorderTracks struct {
	Order []string
}

func (c *ReorderTracks) Name() string { return "track.reorder" }

func (c *ReorderTracks) Apply(tl *models.Timeline) (Command, error) {
	if len(c.Order) != len(tl.Tracks) {
		return nil, &OrderError{Reason: "length does not match track count"}
	}

	byID := make(map[string]*models.Track, len(tl.Tracks))
	oldOrder := make([]string, len(tl.Tracks))
	for i, t := range tl.Tracks {
		byID[t.ID] = t
		oldOrder[i] = t.ID
	}

	reordered := make([]*models.Track, 0, len(c.Order))
	for _, id := range c.Order {
		t, ok := byID[id]
		if !ok {
			return nil, &OrderError{Reason: "unknown or duplicate track id " + id}
		}
		delete(byID, id)
		reordered = append(reordered, t)
	}

	tl.Tracks = reordered
	return &ReorderTracks{Order: oldOrder}, nil
}

// SetTrackEnabled toggles whether a track contributes to playback and
// export.
type SetTrackEnabled struct {
	TrackID string
	Enabled bool
}

func (c *SetTrackEnabled) Name() string { return "track.enable" }

func (c *SetTrackEnabled) Apply(tl *models.Timeline) (Command, error) {
	track, _ := findTrack(tl, c.TrackID)
	if track == nil {
		return nil, &NotFoundError{Kind: "track", ID: c.TrackID}
	}

	inverse := &SetTrackEnabled{TrackID: c.TrackID, Enabled: track.Enabled}
	track.Enabled = c.Enabled
	return inverse, nil
}

// RenameTrack sets a track's display name.
type RenameTrack struct {
	TrackID string
	Title   string
}

func (c *RenameTrack) Name() string { return "track.rename" }

func (c *RenameTrack) Apply(tl *models.Timeline) (Command, error) {
	track, _ := findTrack(tl, c.TrackID)
	if track == nil {
		return nil, &NotFoundError{Kind: "track", ID: c.TrackID}
	}

	inverse := &RenameTrack{TrackID: c.TrackID, Title: track.Name}
	track.Name = c.Title
	return inverse, nil
}
