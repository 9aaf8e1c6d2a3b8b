package history

import (
	"errors"
	"time"

	"github.com/editstack/cutcore/internal/logging"
	"github.com/editstack/cutcore/internal/metrics"
	"github.com/editstack/cutcore/internal/timeline"
	"github.com/editstack/cutcore/pkg/models"
)

var (
	// ErrTransactionActive is returned by Begin when a transaction is
	// already open.
	ErrTransactionActive = errors.New("transaction already active")

	// ErrNoTransaction is returned by Commit and Abort without an open
	// transaction.
	ErrNoTransaction = errors.New("no active transaction")
)

// Entry is one applied, undoable mutation.
type Entry struct {
	Name      string
	Command   timeline.Command
	Inverse   timeline.Command
	AppliedAt time.Time
}

// Manager records reversible commands against a timeline and replays them
// for undo and redo. It keeps a linear entry list with a cursor: entries
// before the cursor are undoable, entries at and after it are redoable.
// Applying a new command truncates the redo tail.
//
// The manager is not safe for concurrent use; the owning session serializes
// access through its single-writer lock.
type Manager struct {
	logger  *logging.Logger
	entries []Entry
	cursor  int
	limit   int
	tx      *transaction
}

type transaction struct {
	label    string
	started  time.Time
	commands []timeline.Command
	inverses []timeline.Command
}

// NewManager creates a history manager. limit bounds the entry count;
// zero or negative means unbounded.
func NewManager(limit int, logger *logging.Logger) *Manager {
	return &Manager{logger: logger, limit: limit}
}

// Apply runs a command against the timeline. Outside a transaction the
// command becomes one undoable entry; inside one it is collected into the
// pending transaction. A failed command changes nothing.
func (m *Manager) Apply(tl *models.Timeline, cmd timeline.Command) error {
	inverse, err := cmd.Apply(tl)
	if err != nil {
		return err
	}

	if m.tx != nil {
		m.tx.commands = append(m.tx.commands, cmd)
		m.tx.inverses = append(m.tx.inverses, inverse)
		return nil
	}

	m.push(cmd.Name(), cmd, inverse)
	return nil
}

// Undo reverts the entry before the cursor. It reports the reverted
// operation name, or ok=false when there is nothing to undo or a
// transaction is open.
func (m *Manager) Undo(tl *models.Timeline) (string, bool) {
	if m.tx != nil {
		m.logger.Warn("Undo ignored inside open transaction")
		return "", false
	}
	m.clamp()
	if m.cursor == 0 {
		return "", false
	}

	entry := m.entries[m.cursor-1]
	forward, err := entry.Inverse.Apply(tl)
	if err != nil {
		// An inverse that fails to apply means the recorded history no
		// longer matches the timeline. Drop the entry and keep going.
		m.logger.WithError(err).Errorf("Undo of %s failed, dropping entry", entry.Name)
		metrics.RecordInvariantViolation("history", "undo_apply")
		m.entries = append(m.entries[:m.cursor-1], m.entries[m.cursor:]...)
		m.cursor--
		m.publishDepth()
		return "", false
	}

	m.entries[m.cursor-1].Command = forward
	m.cursor--
	m.publishDepth()
	return entry.Name, true
}

// Redo re-applies the entry at the cursor. It reports the replayed
// operation name, or ok=false when there is nothing to redo or a
// transaction is open.
func (m *Manager) Redo(tl *models.Timeline) (string, bool) {
	if m.tx != nil {
		m.logger.Warn("Redo ignored inside open transaction")
		return "", false
	}
	m.clamp()
	if m.cursor == len(m.entries) {
		return "", false
	}

	entry := m.entries[m.cursor]
	inverse, err := entry.Command.Apply(tl)
	if err != nil {
		m.logger.WithError(err).Errorf("Redo of %s failed, dropping entry", entry.Name)
		metrics.RecordInvariantViolation("history", "redo_apply")
		m.entries = append(m.entries[:m.cursor], m.entries[m.cursor+1:]...)
		m.publishDepth()
		return "", false
	}

	m.entries[m.cursor].Inverse = inverse
	m.cursor++
	m.publishDepth()
	return entry.Name, true
}

// Begin opens a transaction. Commands applied until Commit or Abort are
// coalesced into a single undoable entry, the way a drag should undo in
// one step.
func (m *Manager) Begin(label string) error {
	if m.tx != nil {
		return ErrTransactionActive
	}
	m.tx = &transaction{label: label, started: time.Now()}
	return nil
}

// Commit closes the transaction and records its commands as one entry.
// An empty transaction records nothing.
func (m *Manager) Commit() error {
	if m.tx == nil {
		return ErrNoTransaction
	}
	tx := m.tx
	m.tx = nil

	if len(tx.commands) == 0 {
		return nil
	}

	// The inverse compound unwinds newest first.
	reversed := make([]timeline.Command, len(tx.inverses))
	for i, inv := range tx.inverses {
		reversed[len(reversed)-1-i] = inv
	}

	m.push(tx.label,
		&timeline.Compound{Label: tx.label, Commands: tx.commands},
		&timeline.Compound{Label: tx.label, Commands: reversed},
	)
	return nil
}

// Abort closes the transaction and discards its effects by replaying the
// collected inverses in reverse order.
func (m *Manager) Abort(tl *models.Timeline) error {
	if m.tx == nil {
		return ErrNoTransaction
	}
	tx := m.tx
	m.tx = nil

	var firstErr error
	for i := len(tx.inverses) - 1; i >= 0; i-- {
		if _, err := tx.inverses[i].Apply(tl); err != nil {
			m.logger.WithError(err).Errorf("Abort of %s could not unwind a sub-edit", tx.label)
			metrics.RecordInvariantViolation("history", "abort_apply")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// InTransaction reports whether a transaction is open.
func (m *Manager) InTransaction() bool {
	return m.tx != nil
}

// CanUndo reports whether Undo would revert an entry.
func (m *Manager) CanUndo() bool {
	m.clamp()
	return m.tx == nil && m.cursor > 0
}

// CanRedo reports whether Redo would replay an entry.
func (m *Manager) CanRedo() bool {
	m.clamp()
	return m.tx == nil && m.cursor < len(m.entries)
}

// UndoDepth returns the number of undoable entries.
func (m *Manager) UndoDepth() int {
	m.clamp()
	return m.cursor
}

// RedoDepth returns the number of redoable entries.
func (m *Manager) RedoDepth() int {
	m.clamp()
	return len(m.entries) - m.cursor
}

// PeekUndo returns the name of the entry Undo would revert.
func (m *Manager) PeekUndo() (string, bool) {
	m.clamp()
	if m.cursor == 0 {
		return "", false
	}
	return m.entries[m.cursor-1].Name, true
}

// PeekRedo returns the name of the entry Redo would replay.
func (m *Manager) PeekRedo() (string, bool) {
	m.clamp()
	if m.cursor == len(m.entries) {
		return "", false
	}
	return m.entries[m.cursor].Name, true
}

// Clear drops all history, for project close or load.
func (m *Manager) Clear() {
	m.entries = nil
	m.cursor = 0
	m.tx = nil
	m.publishDepth()
}

func (m *Manager) push(name string, cmd, inverse timeline.Command) {
	m.clamp()
	m.entries = append(m.entries[:m.cursor], Entry{
		Name:      name,
		Command:   cmd,
		Inverse:   inverse,
		AppliedAt: time.Now(),
	})
	m.cursor = len(m.entries)

	if m.limit > 0 && len(m.entries) > m.limit {
		drop := len(m.entries) - m.limit
		m.entries = append([]Entry(nil), m.entries[drop:]...)
		m.cursor -= drop
	}
	m.publishDepth()
}

// clamp repairs a cursor outside [0, len(entries)]. That state is a
// programming defect; production recovers instead of crashing the
// editing session.
func (m *Manager) clamp() {
	if m.cursor < 0 {
		m.logger.Errorf("History cursor %d below zero, clamping", m.cursor)
		metrics.RecordInvariantViolation("history", "cursor_range")
		m.cursor = 0
	}
	if m.cursor > len(m.entries) {
		m.logger.Errorf("History cursor %d beyond %d entries, clamping", m.cursor, len(m.entries))
		metrics.RecordInvariantViolation("history", "cursor_range")
		m.cursor = len(m.entries)
	}
}

func (m *Manager) publishDepth() {
	metrics.UpdateHistoryDepth(m.cursor, len(m.entries)-m.cursor)
}
