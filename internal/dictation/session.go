package dictation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/jerryz/poems/internal/grading"
	"github.com/jerryz/poems/internal/live"
	"github.com/jerryz/poems/internal/observe"
	"github.com/jerryz/poems/internal/poem"
	"github.com/jerryz/poems/internal/redact"
	"github.com/jerryz/poems/internal/store"
	"github.com/jerryz/poems/pkg/provider/llm"
)

// ErrGenerationInFlight is returned by [Session.Regenerate] while another
// generation for the same session is still running.
var ErrGenerationInFlight = errors.New("dictation: generation already in progress")

// User-facing error texts.
const (
	msgGenerationFailed = "生成失败，请重试"
	msgRequestFailed    = "请求失败："
	msgCheckNetwork     = "请检查网络后重试"
)

// State is a published snapshot of a session. Questions is a private copy.
type State struct {
	Questions []Question `json:"questions"`
	Loading   bool       `json:"loading"`

	// Err is the last generation failure, already redacted. Empty after a
	// successful generation.
	Err string `json:"error,omitempty"`
}

// Session owns the question list of one poem. All methods are safe for
// concurrent use.
type Session struct {
	poem      poem.Poem
	gen       *Generator
	grader    *grading.Grader
	store     store.Store
	sanitizer *redact.Sanitizer
	metrics   *observe.Metrics
	now       func() time.Time

	mu        sync.Mutex
	questions []Question
	loading   bool
	err       string
	revision  int64

	state     live.Value[State]
	closeOnce sync.Once
}

// SessionOption configures a [Session].
type SessionOption func(*Session)

// WithSanitizer sets the redactor applied to error texts. Without one the
// texts are only trimmed.
func WithSanitizer(s *redact.Sanitizer) SessionOption {
	return func(ss *Session) { ss.sanitizer = s }
}

// WithMetrics records session activity on m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) SessionOption {
	return func(ss *Session) { ss.metrics = m }
}

// WithClock replaces time.Now as the revision source.
func WithClock(now func() time.Time) SessionOption {
	return func(ss *Session) { ss.now = now }
}

// NewSession opens the dictation session for p and loads its saved question
// set. A load failure is logged and leaves the session empty.
func NewSession(ctx context.Context, p poem.Poem, gen *Generator, grader *grading.Grader, st store.Store, opts ...SessionOption) *Session {
	s := &Session{
		poem:   p,
		gen:    gen,
		grader: grader,
		store:  st,
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.grader == nil {
		s.grader = grading.New()
	}

	ctx = observe.WithPoem(ctx, p.ID)
	recs, err := st.LoadQuestions(ctx, p.ID)
	if err != nil {
		observe.Logger(ctx).Warn("dictation: load saved questions", slog.Any("err", err))
	}
	s.questions = FromRecords(recs)

	s.metrics.ActiveSessions.Add(ctx, 1, metric.WithAttributes(observe.Attr("kind", "dictation")))
	s.mu.Lock()
	s.publishLocked()
	s.mu.Unlock()
	return s
}

// Poem returns the poem this session drills.
func (s *Session) Poem() poem.Poem { return s.poem }

// Snapshot returns the current state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe returns a channel of states, latest-wins, starting with the
// current one. Call cancel when done.
func (s *Session) Subscribe() (states <-chan State, cancel func()) {
	return s.state.Subscribe()
}

// UpdateInput stores text as the draft answer of question index. It is a
// no-op for an unknown index or an unchanged text, and it neither grades nor
// publishes: observers pick the draft up with the next snapshot.
func (s *Session) UpdateInput(index int, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.questions) {
		return
	}
	q := &s.questions[index]
	if q.UserInput == text {
		return
	}
	q.UserInput = text
}

// Check grades question index against its current draft, records the result
// with a fresh revision and publishes. ok is false for an unknown index.
func (s *Session) Check(index int) (result grading.Result, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.questions) {
		return nil, false
	}

	q := &s.questions[index]
	result = s.grader.Grade(q.Answer, q.UserInput)
	q.Result = result
	q.Revision = s.nextRevisionLocked()

	s.metrics.RecordCheck(context.Background(), result.Verdict())
	s.publishLocked()
	return result, true
}

// nextRevisionLocked returns a clock-based revision that is strictly greater
// than the previous one.
func (s *Session) nextRevisionLocked() int64 {
	rev := s.now().UnixNano()
	if rev <= s.revision {
		rev = s.revision + 1
	}
	s.revision = rev
	return rev
}

// Regenerate replaces the question set with count fresh questions. On
// failure the previous set stays, the redacted error text is published in
// State.Err, and the error is returned. A cancelled ctx keeps the previous
// set without setting an error text.
func (s *Session) Regenerate(ctx context.Context, count int) error {
	s.mu.Lock()
	if s.loading {
		s.mu.Unlock()
		return ErrGenerationInFlight
	}
	s.loading = true
	previous := previousAnswers(s.questions)
	s.publishLocked()
	s.mu.Unlock()

	ctx = observe.WithPoem(ctx, s.poem.ID)
	qs, err := s.gen.Generate(ctx, s.poem, previous, count)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false

	switch {
	case err == nil:
		s.questions = qs
		s.err = ""
		if serr := s.store.SaveQuestions(context.WithoutCancel(ctx), s.poem.ID, Records(qs)); serr != nil {
			observe.Logger(ctx).Error("dictation: save questions", slog.Any("err", serr))
		}
		s.metrics.RecordGeneration(ctx, "ok")
	case llm.IsCancellation(err):
		s.metrics.RecordGeneration(ctx, "cancelled")
	case errors.Is(err, ErrMalformedResponse):
		s.err = msgGenerationFailed
		s.metrics.RecordGeneration(ctx, "malformed")
	default:
		s.err = msgRequestFailed + s.sanitizer.Error(err, msgCheckNetwork)
		s.metrics.RecordGeneration(ctx, "error")
		observe.Logger(ctx).Warn("dictation: generation failed", slog.Any("err", err))
	}

	s.publishLocked()
	return err
}

// Close ends the session's subscriptions. It is safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.state.Close()
		s.metrics.ActiveSessions.Add(context.Background(), -1, metric.WithAttributes(observe.Attr("kind", "dictation")))
	})
}

func previousAnswers(qs []Question) []string {
	var out []string
	for _, q := range qs {
		if strings.TrimSpace(q.Answer) != "" {
			out = append(out, q.Answer)
		}
	}
	return out
}

func (s *Session) snapshotLocked() State {
	qs := make([]Question, len(s.questions))
	copy(qs, s.questions)
	return State{Questions: qs, Loading: s.loading, Err: s.err}
}

func (s *Session) publishLocked() {
	s.state.Set(s.snapshotLocked())
	s.metrics.RecordPublish(context.Background(), "dictation")
}
