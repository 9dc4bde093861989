// Package live provides a latest-value cell with change subscriptions, the
// observable that sessions publish their snapshots through.
package live

import "sync"

// Value holds the most recent T and fans it out to subscribers. Each
// subscriber channel has capacity one and keeps only the newest value, so a
// slow reader skips intermediate snapshots but never blocks the writer.
//
// The zero value is ready to use.
type Value[T any] struct {
	mu     sync.Mutex
	cur    T
	subs   map[int]chan T
	nextID int
	closed bool
}

// New returns a Value holding initial.
func New[T any](initial T) *Value[T] {
	return &Value[T]{cur: initial}
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cur
}

// Set stores x and offers it to every subscriber, replacing any value the
// subscriber has not read yet.
func (v *Value[T]) Set(x T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.cur = x
	for _, ch := range v.subs {
		offer(ch, x)
	}
}

func offer[T any](ch chan T, x T) {
	select {
	case ch <- x:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	// Set holds the lock, so nothing else can refill the slot.
	ch <- x
}

// Subscribe returns a channel that immediately holds the current value and
// then receives every later Set, latest-wins. cancel closes the channel and
// is safe to call more than once.
func (v *Value[T]) Subscribe() (<-chan T, func()) {
	v.mu.Lock()
	defer v.mu.Unlock()

	ch := make(chan T, 1)
	if v.closed {
		close(ch)
		return ch, func() {}
	}
	if v.subs == nil {
		v.subs = map[int]chan T{}
	}
	id := v.nextID
	v.nextID++
	v.subs[id] = ch
	ch <- v.cur

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			v.mu.Lock()
			defer v.mu.Unlock()
			if c, ok := v.subs[id]; ok {
				delete(v.subs, id)
				close(c)
			}
		})
	}
}

// Close closes every subscriber channel. Later Sets are ignored and later
// Subscribes return a closed channel.
func (v *Value[T]) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.closed = true
	for id, ch := range v.subs {
		close(ch)
		delete(v.subs, id)
	}
}
