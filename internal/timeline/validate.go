package timeline

import (
	"github.com/editstack/cutcore/pkg/models"
)

func findTrack(tl *models.Timeline, id string) (*models.Track, int) {
	for i, t := range tl.Tracks {
		if t.ID == id {
			return t, i
		}
	}
	return nil, -1
}

func findElement(tl *models.Timeline, id string) (*models.Track, int, *models.Element) {
	for _, t := range tl.Tracks {
		for i, e := range t.Elements {
			if e.ID == id {
				return t, i, e
			}
		}
	}
	return nil, -1, nil
}

func findCaptionTrack(tl *models.Timeline, id string) (*models.CaptionTrack, int) {
	for i, ct := range tl.CaptionTracks {
		if ct.ID == id {
			return ct, i
		}
	}
	return nil, -1
}

func findCue(ct *models.CaptionTrack, id string) (*models.Cue, int) {
	for i, c := range ct.Cues {
		if c.ID == id {
			return c, i
		}
	}
	return nil, -1
}

func elementIDInUse(tl *models.Timeline, id string) bool {
	_, _, e := findElement(tl, id)
	return e != nil
}

// checkElementRange validates the element-local invariants: non-negative
// start, positive duration, consistent trim window.
func checkElementRange(e *models.Element) error {
	if e.StartTick < 0 {
		return &RangeError{Field: "start_tick", Value: e.StartTick, Reason: "must be >= 0"}
	}
	if e.DurationTicks <= 0 {
		return &RangeError{Field: "duration_ticks", Value: e.DurationTicks, Reason: "must be > 0"}
	}
	if e.TrimInTicks < 0 {
		return &RangeError{Field: "trim_in_ticks", Value: e.TrimInTicks, Reason: "must be >= 0"}
	}
	if e.TrimOutTicks < 0 {
		return &RangeError{Field: "trim_out_ticks", Value: e.TrimOutTicks, Reason: "must be >= 0"}
	}
	if e.TrimOutTicks > 0 && e.TrimOutTicks-e.TrimInTicks != e.DurationTicks {
		return &RangeError{Field: "trim_out_ticks", Value: e.TrimOutTicks, Reason: "trim window must match duration"}
	}
	return nil
}

// checkPlacement enforces the per-track non-overlap invariant for the range
// [start, start+duration). excludeID skips the element being moved or
// resized so it never collides with itself.
func checkPlacement(track *models.Track, start, duration int64, excludeID string) error {
	end := start + duration
	for _, other := range track.Elements {
		if other.ID == excludeID {
			continue
		}
		if start < other.EndTick() && other.StartTick < end {
			return &OverlapError{
				TrackID:    track.ID,
				ID:         excludeID,
				BlockingID: other.ID,
				Start:      start,
				End:        end,
			}
		}
	}
	return nil
}

// checkCuePlacement enforces the per-caption-track non-overlap invariant.
func checkCuePlacement(ct *models.CaptionTrack, start, end int64, excludeID string) error {
	for _, other := range ct.Cues {
		if other.ID == excludeID {
			continue
		}
		if start < other.EndTick && other.StartTick < end {
			return &OverlapError{
				TrackID:    ct.ID,
				ID:         excludeID,
				BlockingID: other.ID,
				Start:      start,
				End:        end,
			}
		}
	}
	return nil
}

// insertElementSorted places e on the track keeping elements ordered by
// start tick. Placement must already be validated.
func insertElementSorted(track *models.Track, e *models.Element) {
	at := len(track.Elements)
	for i, other := range track.Elements {
		if e.StartTick < other.StartTick {
			at = i
			break
		}
	}
	track.Elements = append(track.Elements, nil)
	copy(track.Elements[at+1:], track.Elements[at:])
	track.Elements[at] = e
}

// insertCueSorted places c on the caption track keeping cues ordered by
// start tick.
func insertCueSorted(ct *models.CaptionTrack, c *models.Cue) {
	at := len(ct.Cues)
	for i, other := range ct.Cues {
		if c.StartTick < other.StartTick {
			at = i
			break
		}
	}
	ct.Cues = append(ct.Cues, nil)
	copy(ct.Cues[at+1:], ct.Cues[at:])
	ct.Cues[at] = c
}

// resortElement restores start-order after an element's start tick changed.
func resortElement(track *models.Track, idx int) {
	e := track.Elements[idx]
	track.Elements = append(track.Elements[:idx], track.Elements[idx+1:]...)
	insertElementSorted(track, e)
}
