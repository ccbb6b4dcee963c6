package staging

import (
	"sync"
	"time"
)

// TimerHandle is a scheduled one-shot commit. The callback fires at most
// once; after firing or Cancel the handle is inert.
type TimerHandle struct {
	mu    sync.Mutex
	timer *time.Timer
	done  bool
}

// Schedule arranges for onFire to run once after delay. The callback runs on
// its own goroutine.
func Schedule(delay time.Duration, onFire func()) *TimerHandle {
	h := &TimerHandle{}
	h.timer = time.AfterFunc(delay, func() {
		h.mu.Lock()
		if h.done {
			h.mu.Unlock()
			return
		}
		h.done = true
		h.mu.Unlock()

		onFire()
	})
	return h
}

// Cancel stops the timer if it has not fired yet. Safe to call more than
// once and after firing.
func (h *TimerHandle) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return
	}
	h.done = true
	h.timer.Stop()
}
