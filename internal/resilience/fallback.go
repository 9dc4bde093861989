package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrAllFailed is returned, joined with the last backend error, when no
// backend in a [FallbackGroup] produced a result.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig is the breaker template for every backend in a
// [FallbackGroup]. Name is filled in per backend.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type backend[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// Backend is a snapshot of one group member's breaker.
type Backend struct {
	Name  string
	State State
}

// FallbackGroup holds a primary and its fallbacks in priority order, each
// behind its own breaker. Backends are registered during startup; calls are
// safe for concurrent use once registration is done.
type FallbackGroup[T any] struct {
	backends []backend[T]
	cfg      FallbackConfig
}

// NewFallbackGroup returns a group whose only backend is primary.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a backend tried after every one registered before it.
func (fg *FallbackGroup[T]) AddFallback(name string, value T) {
	cb := fg.cfg.CircuitBreaker
	cb.Name = name
	fg.backends = append(fg.backends, backend[T]{name: name, value: value, breaker: NewCircuitBreaker(cb)})
}

// Call runs fn against each backend in turn and returns the first success.
// Backends with an open breaker are skipped. context.Canceled ends the walk
// and is returned bare, since the caller has gone and the next backend would
// see the same context.
func Call[T, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range fg.backends {
		b := &fg.backends[i]
		var out R
		err := b.breaker.Execute(func() error {
			var err error
			out, err = fn(b.value)
			return err
		})
		switch {
		case err == nil:
			if i > 0 {
				slog.Debug("served by fallback provider", "provider", b.name)
			}
			return out, nil
		case errors.Is(err, context.Canceled):
			return zero, err
		case errors.Is(err, ErrCircuitOpen):
			slog.Debug("provider skipped, circuit open", "provider", b.name)
		default:
			slog.Warn("provider call failed", "provider", b.name, "err", err)
		}
		lastErr = err
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

// Execute is [Call] for calls without a result.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := Call(fg, func(v T) (struct{}, error) { return struct{}{}, fn(v) })
	return err
}

// PrimaryState returns the first backend's breaker state.
func (fg *FallbackGroup[T]) PrimaryState() State {
	return fg.backends[0].breaker.State()
}

// Backends lists every backend with its breaker state, primary first.
func (fg *FallbackGroup[T]) Backends() []Backend {
	out := make([]Backend, len(fg.backends))
	for i := range fg.backends {
		out[i] = Backend{Name: fg.backends[i].name, State: fg.backends[i].breaker.State()}
	}
	return out
}

// Available reports whether at least one backend would accept a call.
func (fg *FallbackGroup[T]) Available() bool {
	for i := range fg.backends {
		if fg.backends[i].breaker.State() != StateOpen {
			return true
		}
	}
	return false
}

// FormatBackends renders bs as "deepseek=open ollama=closed".
func FormatBackends(bs []Backend) string {
	parts := make([]string, len(bs))
	for i, b := range bs {
		parts[i] = b.Name + "=" + b.State.String()
	}
	return strings.Join(parts, " ")
}
