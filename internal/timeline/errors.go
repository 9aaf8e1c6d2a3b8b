package timeline

import "fmt"

// Validation errors reject a mutation synchronously and leave the timeline
// untouched. They carry enough detail for the API layer to answer 4xx and
// for the UI to show an actionable message.

// ValidationError marks errors produced by rejected mutations.
type ValidationError interface {
	error
	validation()
}

// IsValidation reports whether err is a rejected-mutation error.
func IsValidation(err error) bool {
	_, ok := err.(ValidationError)
	return ok
}

// OverlapError reports an element or cue that would collide with another
// on the same track.
type OverlapError struct {
	TrackID    string
	ID         string
	BlockingID string
	Start      int64
	End        int64
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("range [%d,%d) on track %s overlaps %s", e.Start, e.End, e.TrackID, e.BlockingID)
}

func (e *OverlapError) validation() {}

// RangeError reports an element or cue field outside its valid range.
type RangeError struct {
	Field  string
	Value  int64
	Reason string
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("invalid %s %d: %s", e.Field, e.Value, e.Reason)
}

func (e *RangeError) validation() {}

// OrderError reports a track reorder whose id set does not match the
// timeline's tracks exactly.
type OrderError struct {
	Reason string
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("invalid track order: %s", e.Reason)
}

func (e *OrderError) validation() {}

// NotFoundError reports a referenced entity that does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) validation() {}

// ConflictError reports a mutation rejected because of existing state,
// such as a duplicate id.
type ConflictError struct {
	Kind   string
	ID     string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Kind, e.ID, e.Reason)
}

func (e *ConflictError) validation() {}
