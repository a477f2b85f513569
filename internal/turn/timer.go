package turn

import (
	"sync"
	"time"
)

// Timer is a cancellable single-shot timer. At most one shot is pending at a
// time: arming cancels any pending shot first, so a stale expiry can never
// race a fresh one. Each shot carries a sequence number; the fire callback
// receives it so the consumer can discard expiries that were superseded
// between the callback being scheduled and being handled.
type Timer struct {
	mu  sync.Mutex
	seq uint64
	t   *time.Timer
}

// Arm schedules fire(seq) to run after d, cancelling any pending shot. It
// returns the sequence number of the new shot.
func (h *Timer) Arm(d time.Duration, fire func(seq uint64)) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancelLocked()
	h.seq++
	seq := h.seq
	h.t = time.AfterFunc(d, func() { fire(seq) })
	return seq
}

// Cancel stops any pending shot. Expiries already scheduled but not yet
// handled become stale: their sequence number no longer matches [Timer.Seq].
// Cancel is idempotent and safe on a never-armed timer.
func (h *Timer) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancelLocked()
	h.seq++
}

// Seq returns the sequence number of the most recent shot. An expiry whose
// sequence differs is stale and must be ignored.
func (h *Timer) Seq() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seq
}

func (h *Timer) cancelLocked() {
	if h.t != nil {
		h.t.Stop()
		h.t = nil
	}
}
