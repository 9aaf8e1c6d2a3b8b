package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/editstack/cutcore/internal/assets"
	"github.com/editstack/cutcore/internal/history"
	"github.com/editstack/cutcore/internal/logging"
	"github.com/editstack/cutcore/internal/metrics"
	"github.com/editstack/cutcore/internal/timeline"
	"github.com/editstack/cutcore/pkg/models"
)

// Session hosts one project's live timeline. All mutations funnel through a
// single mutex, so edits are atomic and never interleave; readers always see
// a fully-applied state. The session owns the history manager and the change
// broadcaster for its project.
type Session struct {
	projectID string

	mu      sync.RWMutex
	tl      *models.Timeline
	history *history.Manager
	events  *timeline.Broadcaster

	// gen counts applied mutations; savedGen trails it. They differ while
	// the document has unsaved changes.
	gen      uint64
	savedGen uint64

	// txEdits tracks whether the open transaction applied any sub-edit,
	// so an abort knows whether observers need a notification.
	txEdits bool

	lastUsed atomic.Int64

	registry *assets.Registry
	logger   *logging.Logger
}

// HistoryState is a caller-facing summary of the undo/redo stack.
type HistoryState struct {
	CanUndo       bool   `json:"can_undo"`
	CanRedo       bool   `json:"can_redo"`
	UndoDepth     int    `json:"undo_depth"`
	RedoDepth     int    `json:"redo_depth"`
	NextUndo      string `json:"next_undo,omitempty"`
	NextRedo      string `json:"next_redo,omitempty"`
	InTransaction bool   `json:"in_transaction"`
}

// NewSession creates a session around an existing timeline. A nil timeline
// starts the project empty.
func NewSession(projectID string, tl *models.Timeline, registry *assets.Registry, historyLimit int, logger *logging.Logger) *Session {
	if tl == nil {
		tl = models.NewTimeline()
	}
	s := &Session{
		projectID: projectID,
		tl:        tl,
		history:   history.NewManager(historyLimit, logger),
		events:    timeline.NewBroadcaster(),
		registry:  registry,
		logger:    logger.WithProjectID(projectID),
	}
	s.touch()
	return s
}

// ProjectID returns the owning project id.
func (s *Session) ProjectID() string {
	return s.projectID
}

// Apply runs one command against the timeline. On success the document
// version advances and subscribers are notified; a rejected command changes
// nothing and returns the validation error synchronously.
func (s *Session) Apply(cmd timeline.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(cmd)
}

func (s *Session) applyLocked(cmd timeline.Command) error {
	start := time.Now()
	s.touch()

	if err := s.checkAssetBounds(cmd); err != nil {
		metrics.RecordTimelineMutation(cmd.Name(), "rejected", time.Since(start).Seconds())
		return err
	}
	if err := s.history.Apply(s.tl, cmd); err != nil {
		metrics.RecordTimelineMutation(cmd.Name(), "rejected", time.Since(start).Seconds())
		return err
	}

	s.gen++
	if s.history.InTransaction() {
		s.txEdits = true
	}
	s.bump(cmd.Name(), timeline.OriginApply)
	metrics.RecordTimelineMutation(cmd.Name(), "applied", time.Since(start).Seconds())
	s.logger.LogTimelineMutation(s.projectID, cmd.Name(), s.tl.Version, time.Since(start))
	return nil
}

// Undo reverts the most recent undoable entry. It reports the reverted
// operation name, or ok=false when there is nothing to undo.
func (s *Session) Undo() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := time.Now()
	s.touch()

	name, ok := s.history.Undo(s.tl)
	if !ok {
		return "", false
	}
	s.gen++
	s.bump(name, timeline.OriginUndo)
	metrics.RecordTimelineMutation(name, "undone", time.Since(start).Seconds())
	s.logger.LogTimelineMutation(s.projectID, name, s.tl.Version, time.Since(start))
	return name, true
}

// Redo replays the most recently undone entry. It reports the replayed
// operation name, or ok=false when there is nothing to redo.
func (s *Session) Redo() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := time.Now()
	s.touch()

	name, ok := s.history.Redo(s.tl)
	if !ok {
		return "", false
	}
	s.gen++
	s.bump(name, timeline.OriginRedo)
	metrics.RecordTimelineMutation(name, "redone", time.Since(start).Seconds())
	s.logger.LogTimelineMutation(s.projectID, name, s.tl.Version, time.Since(start))
	return name, true
}

// Begin opens an edit transaction. Commands applied until Commit collapse
// into one undoable entry.
func (s *Session) Begin(label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if err := s.history.Begin(label); err != nil {
		return err
	}
	s.txEdits = false
	return nil
}

// Commit closes the open transaction, keeping its effects as a single
// history entry.
func (s *Session) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if err := s.history.Commit(); err != nil {
		return err
	}
	s.txEdits = false
	return nil
}

// Abort closes the open transaction and rolls its sub-edits back. When the
// transaction had applied anything, observers get one notification for the
// rollback.
func (s *Session) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	hadEdits := s.txEdits
	s.txEdits = false
	err := s.history.Abort(s.tl)
	if err == history.ErrNoTransaction {
		return err
	}
	if hadEdits {
		s.gen++
		s.bump("transaction.abort", timeline.OriginApply)
	}
	return err
}

// InstallCaptionTrack adds a finished transcription result to the timeline
// as a new caption track through a normal history command, so installation
// is undoable like any other edit. It refuses to join an open transaction;
// callers retry once the transaction closes.
func (s *Session) InstallCaptionTrack(ct *models.CaptionTrack) error {
	if ct == nil || ct.ID == "" {
		return &timeline.ConflictError{Kind: "caption_track", ID: "", Reason: "missing id"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.history.InTransaction() {
		return history.ErrTransactionActive
	}

	name := "Captions"
	if ct.Language != "" {
		name = "Captions (" + ct.Language + ")"
	}
	cmd := &timeline.AddTrack{
		Track: &models.Track{
			ID:             uuid.New().String(),
			Kind:           models.TrackKindCaption,
			Name:           name,
			Enabled:        true,
			CaptionTrackID: ct.ID,
		},
		// Appending keeps new captions above existing video layers.
		Index:    len(s.tl.Tracks),
		Captions: ct,
	}
	return s.applyLocked(cmd)
}

// SetPlayhead moves the playhead. Transport state is not an edit: it is not
// undoable and bumps no document version.
func (s *Session) SetPlayhead(tick int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if tick < 0 {
		return &timeline.RangeError{Field: "playhead_tick", Value: tick, Reason: "must be >= 0"}
	}
	s.tl.PlayheadTick = tick
	s.gen++
	return nil
}

// SetSelection replaces the selected element set. Every id must name an
// existing element; duplicates collapse. Selection is not undoable.
func (s *Session) SetSelection(ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	seen := make(map[string]struct{}, len(ids))
	selection := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		if !elementExists(s.tl, id) {
			return &timeline.NotFoundError{Kind: "element", ID: id}
		}
		seen[id] = struct{}{}
		selection = append(selection, id)
	}
	s.tl.Selection = selection
	s.gen++
	return nil
}

// Timeline returns a deep copy of the current timeline.
func (s *Session) Timeline() *models.Timeline {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tl.Clone()
}

// Version returns the current document version.
func (s *Session) Version() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tl.Version
}

// History summarizes the undo/redo stack for status endpoints.
func (s *Session) History() HistoryState {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := HistoryState{
		CanUndo:       s.history.CanUndo(),
		CanRedo:       s.history.CanRedo(),
		UndoDepth:     s.history.UndoDepth(),
		RedoDepth:     s.history.RedoDepth(),
		InTransaction: s.history.InTransaction(),
	}
	if name, ok := s.history.PeekUndo(); ok {
		st.NextUndo = name
	}
	if name, ok := s.history.PeekRedo(); ok {
		st.NextRedo = name
	}
	return st
}

// InTransaction reports whether an edit transaction is open.
func (s *Session) InTransaction() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history.InTransaction()
}

// Subscribe registers a change listener. The channel closes when the
// session closes.
func (s *Session) Subscribe() (<-chan timeline.Event, func()) {
	return s.events.Subscribe()
}

// Snapshot captures an immutable copy of the timeline plus every media
// asset it references, for export submission. It fails when a referenced
// asset is unknown or not yet ready, so a render never starts against
// missing sources.
func (s *Session) Snapshot() (models.ExportSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tl := s.tl.Clone()
	assetMap := make(map[string]*models.MediaAsset)
	for _, track := range tl.Tracks {
		for _, e := range track.Elements {
			if e.AssetID == "" {
				continue
			}
			if _, ok := assetMap[e.AssetID]; ok {
				continue
			}
			asset, err := s.registry.Get(e.AssetID)
			if err != nil {
				return models.ExportSnapshot{}, &timeline.ConflictError{
					Kind:   "asset",
					ID:     e.AssetID,
					Reason: "cannot export: " + err.Error(),
				}
			}
			assetMap[e.AssetID] = asset
		}
	}
	return models.ExportSnapshot{Timeline: tl, Assets: assetMap}, nil
}

// Dirty reports whether the document changed since the last flush.
func (s *Session) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen != s.savedGen
}

// Flush persists the timeline document when it has unsaved changes and
// reports whether a write happened. The store write runs outside the
// session lock; edits racing the write keep the session dirty.
func (s *Session) Flush(ctx context.Context, store Store) (bool, error) {
	s.mu.Lock()
	if s.gen == s.savedGen {
		s.mu.Unlock()
		return false, nil
	}
	gen := s.gen
	doc := models.TimelineDocument{Timeline: *s.tl.Clone()}
	s.mu.Unlock()

	if err := store.SaveTimeline(ctx, s.projectID, doc); err != nil {
		return false, err
	}

	s.mu.Lock()
	if gen > s.savedGen {
		s.savedGen = gen
	}
	s.mu.Unlock()
	return true, nil
}

// IdleSince returns the time of the last session use.
func (s *Session) IdleSince() time.Time {
	return time.Unix(0, s.lastUsed.Load())
}

func (s *Session) touch() {
	s.lastUsed.Store(time.Now().UnixNano())
}

// close shuts the broadcaster down. Held by the manager.
func (s *Session) close() {
	s.events.Close()
}

func (s *Session) bump(op, origin string) {
	s.tl.Version++
	s.events.Publish(timeline.Event{
		ProjectID: s.projectID,
		Op:        op,
		Origin:    origin,
		Version:   s.tl.Version,
	})
}

// checkAssetBounds enforces the constraints that need the asset registry:
// elements must reference known, ready assets, and a trim window must stay
// inside the source duration. The timeline package checks everything that
// does not need asset metadata.
func (s *Session) checkAssetBounds(cmd timeline.Command) error {
	switch c := cmd.(type) {
	case *timeline.AddElement:
		return s.checkElementAsset(c.Element)
	case *timeline.AddTrack:
		if c.Track == nil {
			return nil
		}
		for _, e := range c.Track.Elements {
			if err := s.checkElementAsset(e); err != nil {
				return err
			}
		}
	case *timeline.TrimElement:
		if c.TrimOut <= 0 {
			return nil
		}
		e := findElementByID(s.tl, c.ElementID)
		if e == nil || e.AssetID == "" {
			return nil
		}
		asset, ok := s.registry.Lookup(e.AssetID)
		if !ok || !asset.Ready() || asset.DurationTicks <= 0 {
			return nil
		}
		if c.TrimOut > asset.DurationTicks {
			return &timeline.RangeError{Field: "trim_out_ticks", Value: c.TrimOut, Reason: "beyond source duration"}
		}
	case *timeline.Compound:
		for _, sub := range c.Commands {
			if err := s.checkAssetBounds(sub); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Session) checkElementAsset(e *models.Element) error {
	if e == nil || e.AssetID == "" {
		return nil
	}
	asset, ok := s.registry.Lookup(e.AssetID)
	if !ok {
		return &timeline.NotFoundError{Kind: "asset", ID: e.AssetID}
	}
	if !asset.Ready() {
		return &timeline.ConflictError{Kind: "asset", ID: e.AssetID, Reason: "not ready (" + asset.LoadState + ")"}
	}
	if e.TrimOutTicks > 0 && asset.DurationTicks > 0 && e.TrimOutTicks > asset.DurationTicks {
		return &timeline.RangeError{Field: "trim_out_ticks", Value: e.TrimOutTicks, Reason: "beyond source duration"}
	}
	return nil
}

func elementExists(tl *models.Timeline, id string) bool {
	return findElementByID(tl, id) != nil
}

func findElementByID(tl *models.Timeline, id string) *models.Element {
	for _, t := range tl.Tracks {
		for _, e := range t.Elements {
			if e.ID == id {
				return e
			}
		}
	}
	return nil
}
