package session

import (
	"sync"
	"time"
)

// expiryTimer owns at most one pending timer, armed for the absolute
// expiration it was last reset to. A callback from a timer that has since
// been replaced or stopped does nothing.
type expiryTimer struct {
	clock Clock
	emit  func(bool)

	mu      sync.Mutex
	gen     uint64
	pending Timer
	stopped bool
}

func newExpiryTimer(clock Clock, emit func(bool)) *expiryTimer {
	return &expiryTimer{clock: clock, emit: emit}
}

// reset disarms any pending timer and, when k names an instant, arms a new
// one for it. Instants in the past fire right away.
func (t *expiryTimer) reset(k expiryKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.disarmLocked()
	if !k.ok {
		return
	}
	gen := t.gen
	d := time.UnixMilli(k.ms).Sub(t.clock.Now())
	t.pending = t.clock.AfterFunc(d, func() { t.fire(gen) })
}

func (t *expiryTimer) fire(gen uint64) {
	t.mu.Lock()
	if t.stopped || gen != t.gen {
		t.mu.Unlock()
		return
	}
	t.pending = nil
	t.mu.Unlock()
	t.emit(false)
}

func (t *expiryTimer) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disarmLocked()
	t.stopped = true
}

func (t *expiryTimer) disarmLocked() {
	t.gen++
	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
}
