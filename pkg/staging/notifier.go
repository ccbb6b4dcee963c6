package staging

import (
	"time"
)

// UndoOffer asks the presentation layer to show a dismissible, time-boxed
// undo affordance. Undo is bound to the relevant batch or entity and is
// always safe to call, including after the countdown elapsed.
type UndoOffer struct {
	Title       string
	Description string
	Duration    time.Duration
	Undo        func()
}

// UndoNotifier is implemented by the presentation layer (toast surface).
type UndoNotifier interface {
	OfferUndo(offer UndoOffer)
}

// NopNotifier discards offers. Useful for headless callers and tests.
type NopNotifier struct{}

// OfferUndo implements UndoNotifier.
func (NopNotifier) OfferUndo(UndoOffer) {}
