package chat

import (
	"sync"
	"time"
)

// DefaultThrottleWindow bounds how often a streaming reply is republished.
const DefaultThrottleWindow = 80 * time.Millisecond

// Throttle is a trailing coalescer: the first Trigger after a quiet period
// schedules fn one window later, and every Trigger until then folds into
// that single call. fn runs on its own goroutine.
type Throttle struct {
	window time.Duration
	fn     func()

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64
	stopped bool
}

// NewThrottle returns a Throttle that calls fn at most once per window.
func NewThrottle(window time.Duration, fn func()) *Throttle {
	return &Throttle{window: window, fn: fn}
}

// Trigger marks the state dirty.
func (t *Throttle) Trigger() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.timer != nil {
		return
	}
	t.gen++
	gen := t.gen
	t.timer = time.AfterFunc(t.window, func() { t.fire(gen) })
}

func (t *Throttle) fire(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || t.timer == nil {
		// Flushed or stopped after this timer was armed.
		t.mu.Unlock()
		return
	}
	t.timer = nil
	t.mu.Unlock()
	t.fn()
}

// Flush drops any pending call and runs fn now, on the caller's goroutine.
// It does nothing once the Throttle is stopped.
func (t *Throttle) Flush() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.disarmLocked()
	t.mu.Unlock()
	t.fn()
}

// Stop drops any pending call and ignores later Triggers and Flushes.
func (t *Throttle) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	t.disarmLocked()
}

func (t *Throttle) disarmLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
}
