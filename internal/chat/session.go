package chat

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/jerryz/poems/internal/live"
	"github.com/jerryz/poems/internal/observe"
	"github.com/jerryz/poems/internal/poem"
	"github.com/jerryz/poems/internal/redact"
	"github.com/jerryz/poems/internal/store"
	"github.com/jerryz/poems/pkg/provider/llm"
)

var (
	// ErrBlankMessage is returned by [Session.SendMessage] for empty or
	// whitespace-only text.
	ErrBlankMessage = errors.New("chat: blank message")

	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("chat: session closed")
)

// Defaults for [NewSession].
const (
	DefaultHistoryWindow = 10
	DefaultTemperature   = 0.3
)

// msgRequestFailed prefixes the redacted error shown in a failed reply.
const msgRequestFailed = "请求失败："

// Snapshot is a published view of a session. Messages is a private copy and
// Turns point into it.
type Snapshot struct {
	Messages  []Message `json:"messages"`
	Turns     []Turn    `json:"turns"`
	Streaming bool      `json:"streaming"`
}

// Session is the conversation about one poem. All methods are safe for
// concurrent use; replies stream on background goroutines bound to the
// context passed to [NewSession].
type Session struct {
	poem        poem.Poem
	provider    llm.Provider
	store       store.Store
	sanitizer   *redact.Sanitizer
	metrics     *observe.Metrics
	now         func() time.Time
	window      time.Duration
	history     int
	temperature float64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	messages  []Message
	streaming int
	active    *llm.StreamHandle
	closed    bool

	throttle  *Throttle
	state     live.Value[Snapshot]
	closeOnce sync.Once
}

// Option configures a [Session].
type Option func(*Session)

// WithSanitizer sets the redactor applied to failure texts.
func WithSanitizer(s *redact.Sanitizer) Option {
	return func(ss *Session) { ss.sanitizer = s }
}

// WithMetrics records session activity on m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(ss *Session) { ss.metrics = m }
}

// WithThrottleWindow overrides [DefaultThrottleWindow].
func WithThrottleWindow(d time.Duration) Option {
	return func(ss *Session) {
		if d > 0 {
			ss.window = d
		}
	}
}

// WithHistoryWindow overrides how many earlier messages accompany a request.
func WithHistoryWindow(n int) Option {
	return func(ss *Session) {
		if n > 0 {
			ss.history = n
		}
	}
}

// WithTemperature overrides [DefaultTemperature].
func WithTemperature(t float64) Option {
	return func(ss *Session) {
		if t > 0 {
			ss.temperature = t
		}
	}
}

// WithClock replaces time.Now for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(ss *Session) { ss.now = now }
}

// NewSession opens the conversation about p and loads its saved history. A
// load failure is logged and leaves the history empty. Cancelling ctx aborts
// any reply in flight.
func NewSession(ctx context.Context, p poem.Poem, provider llm.Provider, st store.Store, opts ...Option) *Session {
	s := &Session{
		poem:        p,
		provider:    provider,
		store:       st,
		now:         time.Now,
		window:      DefaultThrottleWindow,
		history:     DefaultHistoryWindow,
		temperature: DefaultTemperature,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	ctx = observe.WithPoem(ctx, p.ID)
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.throttle = NewThrottle(s.window, s.publish)

	recs, err := st.LoadChatHistory(ctx, p.ID)
	if err != nil {
		observe.Logger(ctx).Warn("chat: load history", slog.Any("err", err))
	}
	s.messages = FromRecords(recs)

	s.metrics.ActiveSessions.Add(ctx, 1, metric.WithAttributes(observe.Attr("kind", "chat")))
	s.publish()
	return s
}

// Poem returns the poem under discussion.
func (s *Session) Poem() poem.Poem { return s.poem }

// Snapshot returns the current view.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe returns a channel of snapshots, latest-wins, starting with the
// current one. While a reply streams, snapshots arrive at most once per
// throttle window. Call cancel when done.
func (s *Session) Subscribe() (snapshots <-chan Snapshot, cancel func()) {
	return s.state.Subscribe()
}

// SendMessage appends text as a user message plus an empty assistant reply,
// publishes at once and streams the reply in the background. Sends may
// overlap; each streams into its own reply and the latest is the one
// [Session.StopStreaming] cancels.
func (s *Session) SendMessage(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrBlankMessage
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	now := s.now()
	s.messages = append(s.messages, newMessage(RoleUser, text, now))
	s.persistLocked(s.ctx)

	reply := newMessage(RoleAssistant, "", now)
	s.messages = append(s.messages, reply)

	prior := s.messages[:len(s.messages)-1]
	prior = prior[max(0, len(prior)-s.history):]
	h := llm.OpenStream(s.provider, llm.CompletionRequest{
		Messages:    requestMessages(s.poem, prior),
		Temperature: s.temperature,
	})
	s.active = h
	s.streaming++
	s.wg.Add(1)
	s.publishLocked()
	s.mu.Unlock()

	s.metrics.ActiveStreams.Add(s.ctx, 1)
	go s.stream(h, reply.ID)
	return nil
}

// stream consumes one reply and finalizes it exactly once.
func (s *Session) stream(h *llm.StreamHandle, replyID string) {
	defer s.wg.Done()

	ctx, span := observe.StartSpan(s.ctx, "chat.stream")

	var streamErr error
	ch, err := h.Execute(ctx)
	if err != nil {
		streamErr = err
	} else {
		for c := range ch {
			if h.Cancelled() {
				break
			}
			if c.FinishReason == llm.FinishError {
				streamErr = c.Err
				continue
			}
			if c.Text == "" {
				continue
			}
			s.mu.Lock()
			if i := s.indexLocked(replyID); i >= 0 {
				s.messages[i].Content += c.Text
			}
			s.mu.Unlock()
			s.throttle.Trigger()
		}
	}

	s.finish(ctx, h, replyID, streamErr)
	observe.EndSpan(span, streamErr)
}

func (s *Session) finish(ctx context.Context, h *llm.StreamHandle, replyID string, streamErr error) {
	cancelled := h.Cancelled() || llm.IsCancellation(streamErr) || s.ctx.Err() != nil
	outcome := "ok"

	s.mu.Lock()
	switch {
	case cancelled:
		outcome = "cancelled"
	case streamErr != nil:
		outcome = "error"
		if i := s.indexLocked(replyID); i >= 0 {
			s.messages[i].Content = msgRequestFailed + s.sanitizer.Error(streamErr, redact.DefaultFallback)
		}
		observe.Logger(ctx).Warn("chat: reply failed", slog.Any("err", streamErr))
	}
	s.persistLocked(ctx)
	s.streaming--
	if s.active == h {
		s.active = nil
	}
	s.mu.Unlock()

	s.throttle.Flush()
	s.metrics.ActiveStreams.Add(context.WithoutCancel(ctx), -1)
	s.metrics.RecordChatStream(context.WithoutCancel(ctx), outcome)
}

// StopStreaming cancels the latest reply in flight, keeping whatever text
// it has received. It is a no-op when nothing streams.
func (s *Session) StopStreaming() {
	s.mu.Lock()
	h := s.active
	s.mu.Unlock()
	if h != nil {
		h.Cancel()
	}
}

// DeleteTurn removes the turn's messages. It reports whether anything was
// deleted.
func (s *Session) DeleteTurn(t Turn) bool {
	id := t.ID()
	if id == "" {
		return false
	}
	return s.DeleteMessage(id)
}

// DeleteMessage removes the message with the given ID together with its
// adjacent counterpart of the other role, persists and publishes. It
// reports whether the ID was found.
func (s *Session) DeleteMessage(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return false
	}
	drop := pairedIDs(s.messages, idx)
	s.messages = slices.DeleteFunc(s.messages, func(m Message) bool {
		return slices.Contains(drop, m.ID)
	})
	s.persistLocked(s.ctx)
	s.publishLocked()
	return true
}

// Wait blocks until every reply in flight has been finalized.
func (s *Session) Wait() {
	s.wg.Wait()
}

// Close cancels any reply in flight, waits for it to be finalized and ends
// the subscriptions. It is safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.cancel()
		s.wg.Wait()
		s.throttle.Stop()
		s.state.Close()
		s.metrics.ActiveSessions.Add(context.Background(), -1, metric.WithAttributes(observe.Attr("kind", "chat")))
	})
}

func (s *Session) indexLocked(id string) int {
	return slices.IndexFunc(s.messages, func(m Message) bool { return m.ID == id })
}

func (s *Session) persistLocked(ctx context.Context) {
	if err := s.store.SaveChatHistory(context.WithoutCancel(ctx), s.poem.ID, Records(s.messages)); err != nil {
		observe.Logger(ctx).Error("chat: save history", slog.Any("err", err))
	}
}

func (s *Session) snapshotLocked() Snapshot {
	msgs := slices.Clone(s.messages)
	if msgs == nil {
		msgs = []Message{}
	}
	return Snapshot{
		Messages:  msgs,
		Turns:     BuildTurns(msgs),
		Streaming: s.streaming > 0,
	}
}

func (s *Session) publish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishLocked()
}

func (s *Session) publishLocked() {
	s.state.Set(s.snapshotLocked())
	s.metrics.RecordPublish(context.Background(), "chat")
}
