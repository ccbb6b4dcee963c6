package engine

import (
	"errors"
	"fmt"
)

// ErrConfirmationRequired is returned when a destructive flow was invoked
// without the confirmation its size demands. Nothing has been staged.
var ErrConfirmationRequired = errors.New("confirmation required")

// ConfirmLevel is the strength of confirmation a destructive action needs.
type ConfirmLevel string

const (
	// ConfirmDialog means a plain confirm dialog suffices.
	ConfirmDialog ConfirmLevel = "dialog"

	// ConfirmTyped means the user must type the confirmation word.
	ConfirmTyped ConfirmLevel = "typed"
)

// ConfirmSpec tells the presentation layer what to ask before a deletion.
type ConfirmSpec struct {
	Level       ConfirmLevel
	Title       string
	Message     string
	ConfirmWord string // set only for ConfirmTyped
}

// Confirmation is what the user provided.
type Confirmation struct {
	// Acknowledged is true when the user accepted a confirm dialog.
	Acknowledged bool

	// TypedWord is the literal text the user typed, for ConfirmTyped.
	TypedWord string
}

// Gate decides how much confirmation a deletion of a given size needs.
// It is a pure precondition: it changes when staging happens, never how
// staging behaves.
type Gate struct {
	// Threshold is the item count at and above which typed confirmation is
	// required.
	Threshold int

	// Word is the literal confirmation word for large deletions.
	Word string
}

// SpecFor returns the confirmation requirement for deleting count items.
func (g Gate) SpecFor(count int) ConfirmSpec {
	if count >= g.Threshold {
		return ConfirmSpec{
			Level:       ConfirmTyped,
			Title:       "Delete many cards",
			Message:     fmt.Sprintf("This will move %d cards to the trash. Type %q to continue.", count, g.Word),
			ConfirmWord: g.Word,
		}
	}
	return ConfirmSpec{
		Level:   ConfirmDialog,
		Title:   "Delete cards",
		Message: fmt.Sprintf("Move %d cards to the trash?", count),
	}
}

// Satisfied reports whether the provided confirmation meets the requirement
// for count items.
func (g Gate) Satisfied(count int, c Confirmation) bool {
	if count >= g.Threshold {
		return c.TypedWord == g.Word
	}
	return c.Acknowledged
}
