package timeline

import (
	"github.com/editstack/cutcore/pkg/models"
)

// Command is one reversible timeline mutation. Apply validates first and
// mutates only on success, so a failed command leaves the timeline exactly
// as it was. The returned command is the inverse: applying it restores the
// state from before Apply.
//
// Commands that create entities carry their ids pre-generated, so replaying
// a command after undo reproduces the identical timeline.
type Command interface {
	Name() string
	Apply(tl *models.Timeline) (Command, error)
}

// Compound applies a sequence of commands as one atomic mutation. If a
// member fails, the already-applied prefix is rolled back by replaying its
// inverses in reverse order. The inverse of a compound is the reversed
// sequence of member inverses.
type Compound struct {
	Label    string
	Commands []Command
}

func (c *Compound) Name() string {
	if c.Label != "" {
		return c.Label
	}
	return "compound"
}

func (c *Compound) Apply(tl *models.Timeline) (Command, error) {
	inverses := make([]Command, 0, len(c.Commands))

	for _, cmd := range c.Commands {
		inv, err := cmd.Apply(tl)
		if err != nil {
			// Roll back the applied prefix, newest first.
			for i := len(inverses) - 1; i >= 0; i-- {
				if _, rbErr := inverses[i].Apply(tl); rbErr != nil {
					return nil, &rollbackError{cause: err, rollback: rbErr}
				}
			}
			return nil, err
		}
		inverses = append(inverses, inv)
	}

	// Reverse so the inverse compound unwinds newest first.
	for i, j := 0, len(inverses)-1; i < j; i, j = i+1, j-1 {
		inverses[i], inverses[j] = inverses[j], inverses[i]
	}

	return &Compound{Label: c.Label, Commands: inverses}, nil
}

// rollbackError reports a failed rollback after a failed member command.
// Seeing one means an inverse did not restore state, which is a defect.
type rollbackError struct {
	cause    error
	rollback error
}

func (e *rollbackError) Error() string {
	return "rollback failed: " + e.rollback.Error() + " (after: " + e.cause.Error() + ")"
}

func (e *rollbackError) Unwrap() error {
	return e.cause
}
