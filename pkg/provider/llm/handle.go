package llm

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrStreamStarted is returned by [StreamHandle.Execute] on a second call.
var ErrStreamStarted = errors.New("llm: stream already executed")

// StreamHandle is a cancellable, single-use streaming call. It is created
// before any network activity so that a caller can publish it as "the active
// call" and cancel it from another goroutine at any time, including before
// Execute runs or after the stream has finished.
type StreamHandle struct {
	provider Provider
	req      CompletionRequest

	cancelled atomic.Bool

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
}

// OpenStream prepares a streaming call of req against p. Nothing is sent
// until [StreamHandle.Execute].
func OpenStream(p Provider, req CompletionRequest) *StreamHandle {
	return &StreamHandle{provider: p, req: req}
}

// Execute starts the stream. The returned channel closes when the stream ends,
// fails, or the handle is cancelled. If Cancel was called before Execute,
// Execute returns context.Canceled without contacting the backend.
func (h *StreamHandle) Execute(ctx context.Context) (<-chan Chunk, error) {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return nil, ErrStreamStarted
	}
	h.started = true
	if h.cancelled.Load() {
		h.mu.Unlock()
		return nil, context.Canceled
	}
	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.mu.Unlock()

	ch, err := h.provider.StreamCompletion(ctx, h.req)
	if err != nil {
		cancel()
		if h.cancelled.Load() {
			return nil, context.Canceled
		}
		return nil, err
	}

	// Release the context once the consumer has seen the channel close.
	out := make(chan Chunk)
	go func() {
		defer cancel()
		defer close(out)
		for c := range ch {
			select {
			case out <- c:
			case <-ctx.Done():
				// Drain so the provider goroutine can exit.
				for range ch {
				}
				return
			}
		}
	}()
	return out, nil
}

// Cancel aborts the call. Safe to call any number of times from any goroutine.
func (h *StreamHandle) Cancel() {
	h.cancelled.Store(true)
	h.mu.Lock()
	cancel := h.cancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Cancelled reports whether Cancel has been called.
func (h *StreamHandle) Cancelled() bool {
	return h.cancelled.Load()
}
