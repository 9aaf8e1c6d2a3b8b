package timeline

import (
	"github.com/editstack/cutcore/pkg/models"
)

// AddElement places a new element on a track. The element id must be
// pre-generated by the caller.
type AddElement struct {
	TrackID string
	Element *models.Element
}

func (c *AddElement) Name() string { return "element.add" }

func (c *AddElement) Apply(tl *models.Timeline) (Command, error) {
	track, _ := findTrack(tl, c.TrackID)
	if track == nil {
		return nil, &NotFoundError{Kind: "track", ID: c.TrackID}
	}
	if track.Kind == models.TrackKindCaption {
		return nil, &ConflictError{Kind: "track", ID: c.TrackID, Reason: "caption tracks hold cues, not elements"}
	}
	if c.Element == nil || c.Element.ID == "" {
		return nil, &ConflictError{Kind: "element", ID: "", Reason: "missing id"}
	}
	if elementIDInUse(tl, c.Element.ID) {
		return nil, &ConflictError{Kind: "element", ID: c.Element.ID, Reason: "id already in use"}
	}
	if err := checkElementRange(c.Element); err != nil {
		return nil, err
	}
	if err := checkPlacement(track, c.Element.StartTick, c.Element.DurationTicks, ""); err != nil {
		return nil, err
	}

	e := c.Element.Clone()
	e.TrackID = track.ID
	insertElementSorted(track, e)

	return &RemoveElement{ElementID: e.ID}, nil
}

// RemoveElement deletes an element from its track.
type RemoveElement struct {
	ElementID string
}

func (c *RemoveElement) Name() string { return "element.remove" }

func (c *RemoveElement) Apply(tl *models.Timeline) (Command, error) {
	track, idx, e := findElement(tl, c.ElementID)
	if e == nil {
		return nil, &NotFoundError{Kind: "element", ID: c.ElementID}
	}

	removed := e.Clone()
	track.Elements = append(track.Elements[:idx], track.Elements[idx+1:]...)
	dropFromSelection(tl, c.ElementID)

	return &AddElement{TrackID: track.ID, Element: removed}, nil
}

// MoveElement shifts an element to a new start tick on its track.
type MoveElement struct {
	ElementID string
	StartTick int64
}

func (c *MoveElement) Name() string { return "element.move" }

func (c *MoveElement) Apply(tl *models.Timeline) (Command, error) {
	track, idx, e := findElement(tl, c.ElementID)
	if e == nil {
		return nil, &NotFoundError{Kind: "element", ID: c.ElementID}
	}
	if c.StartTick < 0 {
		return nil, &RangeError{Field: "start_tick", Value: c.StartTick, Reason: "must be >= 0"}
	}
	if err := checkPlacement(track, c.StartTick, e.DurationTicks, e.ID); err != nil {
		return nil, err
	}

	oldStart := e.StartTick
	e.StartTick = c.StartTick
	resortElement(track, idx)

	return &MoveElement{ElementID: c.ElementID, StartTick: oldStart}, nil
}

// TrimElement replaces an element's trim window and duration. The start
// tick is unchanged; growing the duration must not collide with a
// neighbor. For still images the trim window stays zero and only the
// duration changes.
type TrimElement struct {
	ElementID string
	TrimIn    int64
	TrimOut   int64
	Duration  int64
}

func (c *TrimElement) Name() string { return "element.trim" }

func (c *TrimElement) Apply(tl *models.Timeline) (Command, error) {
	track, _, e := findElement(tl, c.ElementID)
	if e == nil {
		return nil, &NotFoundError{Kind: "element", ID: c.ElementID}
	}

	candidate := e.Clone()
	candidate.TrimInTicks = c.TrimIn
	candidate.TrimOutTicks = c.TrimOut
	candidate.DurationTicks = c.Duration
	if err := checkElementRange(candidate); err != nil {
		return nil, err
	}
	if err := checkPlacement(track, e.StartTick, c.Duration, e.ID); err != nil {
		return nil, err
	}

	inverse := &TrimElement{
		ElementID: c.ElementID,
		TrimIn:    e.TrimInTicks,
		TrimOut:   e.TrimOutTicks,
		Duration:  e.DurationTicks,
	}
	e.TrimInTicks = c.TrimIn
	e.TrimOutTicks = c.TrimOut
	e.DurationTicks = c.Duration

	return inverse, nil
}

// SplitElement cuts an element at a timeline tick strictly inside it,
// producing two elements that together cover the original range exactly.
// NewID names the right-hand element and must be pre-generated.
type SplitElement struct {
	ElementID string
	AtTick    int64
	NewID     string
}

func (c *SplitElement) Name() string { return "element.split" }

func (c *SplitElement) Apply(tl *models.Timeline) (Command, error) {
	track, _, e := findElement(tl, c.ElementID)
	if e == nil {
		return nil, &NotFoundError{Kind: "element", ID: c.ElementID}
	}
	if c.NewID == "" {
		return nil, &ConflictError{Kind: "element", ID: "", Reason: "missing id"}
	}
	if elementIDInUse(tl, c.NewID) {
		return nil, &ConflictError{Kind: "element", ID: c.NewID, Reason: "id already in use"}
	}
	if c.AtTick <= e.StartTick || c.AtTick >= e.EndTick() {
		return nil, &RangeError{Field: "at_tick", Value: c.AtTick, Reason: "split point must fall inside the element"}
	}

	leftDur := c.AtTick - e.StartTick
	rightDur := e.EndTick() - c.AtTick

	right := &models.Element{
		ID:            c.NewID,
		TrackID:       track.ID,
		AssetID:       e.AssetID,
		Name:          e.Name,
		StartTick:     c.AtTick,
		DurationTicks: rightDur,
	}
	// A zero trim window means a still image; media elements keep their
	// source position continuous across the cut.
	if e.TrimOutTicks > 0 {
		right.TrimInTicks = e.TrimInTicks + leftDur
		right.TrimOutTicks = e.TrimOutTicks
		e.TrimOutTicks = e.TrimInTicks + leftDur
	}
	e.DurationTicks = leftDur

	insertElementSorted(track, right)

	return &MergeElement{LeftID: e.ID, RightID: c.NewID}, nil
}

// MergeElement welds two adjacent elements cut from the same source back
// into one, restoring the left element's original coverage.
type MergeElement struct {
	LeftID  string
	RightID string
}

func (c *MergeElement) Name() string { return "element.merge" }

func (c *MergeElement) Apply(tl *models.Timeline) (Command, error) {
	leftTrack, _, left := findElement(tl, c.LeftID)
	if left == nil {
		return nil, &NotFoundError{Kind: "element", ID: c.LeftID}
	}
	rightTrack, rightIdx, right := findElement(tl, c.RightID)
	if right == nil {
		return nil, &NotFoundError{Kind: "element", ID: c.RightID}
	}
	if leftTrack != rightTrack {
		return nil, &ConflictError{Kind: "element", ID: c.RightID, Reason: "elements on different tracks"}
	}
	if left.AssetID != right.AssetID {
		return nil, &ConflictError{Kind: "element", ID: c.RightID, Reason: "elements reference different assets"}
	}
	if right.StartTick != left.EndTick() {
		return nil, &ConflictError{Kind: "element", ID: c.RightID, Reason: "elements not adjacent"}
	}
	if (left.TrimOutTicks > 0 || right.TrimOutTicks > 0) && right.TrimInTicks != left.TrimOutTicks {
		return nil, &ConflictError{Kind: "element", ID: c.RightID, Reason: "source ranges not continuous"}
	}

	boundary := right.StartTick
	left.DurationTicks += right.DurationTicks
	if right.TrimOutTicks > 0 {
		left.TrimOutTicks = right.TrimOutTicks
	}
	rightTrack.Elements = append(rightTrack.Elements[:rightIdx], rightTrack.Elements[rightIdx+1:]...)
	dropFromSelection(tl, c.RightID)

	return &SplitElement{ElementID: c.LeftID, AtTick: boundary, NewID: c.RightID}, nil
}

func dropFromSelection(tl *models.Timeline, id string) {
	for i, sel := range tl.Selection {
		if sel == id {
			tl.Selection = append(tl.Selection[:i], tl.Selection[i+1:]...)
			return
		}
	}
}
