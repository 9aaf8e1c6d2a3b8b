package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/editstack/cutcore/internal/logging"
	"github.com/editstack/cutcore/internal/timeline"
	"github.com/editstack/cutcore/pkg/models"
)

func newTestManager(t *testing.T, limit int) *Manager {
	t.Helper()
	logger, err := logging.NewDefaultLogger()
	require.NoError(t, err)
	return NewManager(limit, logger)
}

func newTestTimeline() *models.Timeline {
	return &models.Timeline{
		Tracks: []*models.Track{
			{ID: "v1", Kind: models.TrackKindVideo, Enabled: true},
		},
	}
}

func element(id string, start, duration int64) *models.Element {
	return &models.Element{
		ID:            id,
		AssetID:       "asset-1",
		StartTick:     start,
		DurationTicks: duration,
		TrimOutTicks:  duration,
	}
}

func TestUndoRedoRoundTrip(t *testing.T) {
	m := newTestManager(t, 0)
	tl := newTestTimeline()

	states := []*models.Timeline{tl.Clone()}
	cmds := []timeline.Command{
		&timeline.AddElement{TrackID: "v1", Element: element("A", 0, 100)},
		&timeline.AddElement{TrackID: "v1", Element: element("B", 100, 50)},
		&timeline.MoveElement{ElementID: "B", StartTick: 200},
		&timeline.TrimElement{ElementID: "A", TrimIn: 10, TrimOut: 90, Duration: 80},
		&timeline.SplitElement{ElementID: "A", AtTick: 40, NewID: "A2"},
	}
	for _, cmd := range cmds {
		require.NoError(t, m.Apply(tl, cmd))
		states = append(states, tl.Clone())
	}

	// Unwind to the initial state, checking every intermediate.
	for i := len(cmds); i > 0; i-- {
		_, ok := m.Undo(tl)
		require.True(t, ok)
		assert.Equal(t, states[i-1], tl.Clone())
	}
	_, ok := m.Undo(tl)
	assert.False(t, ok, "undo past the beginning is a no-op")

	// Replay forward, checking every intermediate again.
	for i := 1; i <= len(cmds); i++ {
		_, ok := m.Redo(tl)
		require.True(t, ok)
		assert.Equal(t, states[i], tl.Clone())
	}
	_, ok = m.Redo(tl)
	assert.False(t, ok, "redo past the end is a no-op")
}

func TestApplyTruncatesRedoTail(t *testing.T) {
	m := newTestManager(t, 0)
	tl := newTestTimeline()

	require.NoError(t, m.Apply(tl, &timeline.AddElement{TrackID: "v1", Element: element("A", 0, 100)}))
	require.NoError(t, m.Apply(tl, &timeline.MoveElement{ElementID: "A", StartTick: 200}))

	_, ok := m.Undo(tl)
	require.True(t, ok)
	require.True(t, m.CanRedo())

	require.NoError(t, m.Apply(tl, &timeline.MoveElement{ElementID: "A", StartTick: 500}))
	assert.False(t, m.CanRedo(), "new command discards the redo tail")
	assert.Equal(t, 2, m.UndoDepth())
}

func TestRejectedCommandRecordsNothing(t *testing.T) {
	m := newTestManager(t, 0)
	tl := newTestTimeline()

	require.NoError(t, m.Apply(tl, &timeline.AddElement{TrackID: "v1", Element: element("A", 0, 100)}))

	err := m.Apply(tl, &timeline.AddElement{TrackID: "v1", Element: element("B", 50, 100)})
	require.Error(t, err)
	assert.True(t, timeline.IsValidation(err))
	assert.Equal(t, 1, m.UndoDepth())
}

func TestTransactionCoalesces(t *testing.T) {
	m := newTestManager(t, 0)
	tl := newTestTimeline()

	require.NoError(t, m.Apply(tl, &timeline.AddElement{TrackID: "v1", Element: element("A", 0, 100)}))
	before := tl.Clone()

	// A move-trim-move drag commits as one undoable step.
	require.NoError(t, m.Begin("drag"))
	require.NoError(t, m.Apply(tl, &timeline.MoveElement{ElementID: "A", StartTick: 300}))
	require.NoError(t, m.Apply(tl, &timeline.TrimElement{ElementID: "A", TrimIn: 10, TrimOut: 60, Duration: 50}))
	require.NoError(t, m.Apply(tl, &timeline.MoveElement{ElementID: "A", StartTick: 150}))
	require.NoError(t, m.Commit())

	after := tl.Clone()
	assert.Equal(t, 2, m.UndoDepth())

	name, ok := m.Undo(tl)
	require.True(t, ok)
	assert.Equal(t, "drag", name)
	assert.Equal(t, before, tl.Clone(), "single undo reverts all three sub-edits")

	_, ok = m.Redo(tl)
	require.True(t, ok)
	assert.Equal(t, after, tl.Clone())
}

func TestAbortRestoresState(t *testing.T) {
	m := newTestManager(t, 0)
	tl := newTestTimeline()

	require.NoError(t, m.Apply(tl, &timeline.AddElement{TrackID: "v1", Element: element("A", 0, 100)}))
	before := tl.Clone()

	require.NoError(t, m.Begin("drag"))
	require.NoError(t, m.Apply(tl, &timeline.MoveElement{ElementID: "A", StartTick: 300}))
	require.NoError(t, m.Apply(tl, &timeline.TrimElement{ElementID: "A", TrimIn: 0, TrimOut: 50, Duration: 50}))
	require.NoError(t, m.Abort(tl))

	assert.Equal(t, before, tl.Clone(), "abort unwinds partial effects")
	assert.Equal(t, 1, m.UndoDepth(), "aborted transaction records no entry")
	assert.False(t, m.InTransaction())
}

func TestEmptyTransactionRecordsNothing(t *testing.T) {
	m := newTestManager(t, 0)
	_ = newTestTimeline()

	require.NoError(t, m.Begin("noop"))
	require.NoError(t, m.Commit())
	assert.Equal(t, 0, m.UndoDepth())
}

func TestTransactionStateErrors(t *testing.T) {
	m := newTestManager(t, 0)
	tl := newTestTimeline()

	require.NoError(t, m.Begin("one"))
	assert.ErrorIs(t, m.Begin("two"), ErrTransactionActive)
	require.NoError(t, m.Commit())

	assert.ErrorIs(t, m.Commit(), ErrNoTransaction)
	assert.ErrorIs(t, m.Abort(tl), ErrNoTransaction)
}

func TestUndoIgnoredDuringTransaction(t *testing.T) {
	m := newTestManager(t, 0)
	tl := newTestTimeline()

	require.NoError(t, m.Apply(tl, &timeline.AddElement{TrackID: "v1", Element: element("A", 0, 100)}))
	require.NoError(t, m.Begin("drag"))

	_, ok := m.Undo(tl)
	assert.False(t, ok)
	_, ok = m.Redo(tl)
	assert.False(t, ok)
	assert.False(t, m.CanUndo())

	require.NoError(t, m.Commit())
	assert.True(t, m.CanUndo())
}

func TestHistoryLimit(t *testing.T) {
	m := newTestManager(t, 2)
	tl := newTestTimeline()

	require.NoError(t, m.Apply(tl, &timeline.AddElement{TrackID: "v1", Element: element("A", 0, 100)}))
	require.NoError(t, m.Apply(tl, &timeline.MoveElement{ElementID: "A", StartTick: 200}))
	require.NoError(t, m.Apply(tl, &timeline.MoveElement{ElementID: "A", StartTick: 400}))

	assert.Equal(t, 2, m.UndoDepth(), "oldest entry evicted at the limit")

	_, ok := m.Undo(tl)
	require.True(t, ok)
	_, ok = m.Undo(tl)
	require.True(t, ok)
	_, ok = m.Undo(tl)
	assert.False(t, ok)

	// The evicted add is no longer undoable.
	assert.Len(t, tl.Tracks[0].Elements, 1)
	assert.Equal(t, int64(0), tl.Tracks[0].Elements[0].StartTick)
}

func TestRedoReplaysIdenticalState(t *testing.T) {
	m := newTestManager(t, 0)
	tl := newTestTimeline()

	require.NoError(t, m.Apply(tl, &timeline.AddElement{TrackID: "v1", Element: element("A", 0, 100)}))

	// Split carries its new id, so redo recreates the same element.
	require.NoError(t, m.Apply(tl, &timeline.SplitElement{ElementID: "A", AtTick: 60, NewID: "A2"}))
	after := tl.Clone()

	_, ok := m.Undo(tl)
	require.True(t, ok)
	_, ok = m.Redo(tl)
	require.True(t, ok)

	assert.Equal(t, after, tl.Clone())
}

func TestPeek(t *testing.T) {
	m := newTestManager(t, 0)
	tl := newTestTimeline()

	_, ok := m.PeekUndo()
	assert.False(t, ok)

	require.NoError(t, m.Apply(tl, &timeline.AddElement{TrackID: "v1", Element: element("A", 0, 100)}))

	name, ok := m.PeekUndo()
	require.True(t, ok)
	assert.Equal(t, "element.add", name)

	_, ok = m.PeekRedo()
	assert.False(t, ok)

	m.Undo(tl)
	name, ok = m.PeekRedo()
	require.True(t, ok)
	assert.Equal(t, "element.add", name)
}

func TestClear(t *testing.T) {
	m := newTestManager(t, 0)
	tl := newTestTimeline()

	require.NoError(t, m.Apply(tl, &timeline.AddElement{TrackID: "v1", Element: element("A", 0, 100)}))
	m.Clear()

	assert.Equal(t, 0, m.UndoDepth())
	assert.Equal(t, 0, m.RedoDepth())
	_, ok := m.Undo(tl)
	assert.False(t, ok)
}
