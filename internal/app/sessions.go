package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jerryz/poems/internal/chat"
	"github.com/jerryz/poems/internal/dictation"
	"github.com/jerryz/poems/internal/grading"
	"github.com/jerryz/poems/internal/observe"
	"github.com/jerryz/poems/internal/poem"
	"github.com/jerryz/poems/internal/redact"
	"github.com/jerryz/poems/internal/store"
	"github.com/jerryz/poems/pkg/provider/llm"
)

// ErrClosed is returned by [Sessions] lookups after [Sessions.Close].
var ErrClosed = errors.New("app: sessions closed")

// SessionsConfig holds the dependencies shared by every per-poem session.
type SessionsConfig struct {
	Poems     *poem.Repository
	LLM       llm.Provider
	Store     store.Store
	Generator *dictation.Generator
	Grader    *grading.Grader
	Sanitizer *redact.Sanitizer
	Metrics   *observe.Metrics

	// ChatOptions are applied to every chat session after the shared ones.
	ChatOptions []chat.Option
}

// Sessions lazily creates one dictation and one chat session per poem and
// keeps them until Close. Every caller asking for the same poem gets the same
// session, so the CLI and all API clients observe one state.
//
// All exported methods are safe for concurrent use.
type Sessions struct {
	cfg    SessionsConfig
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	dictation map[int]*dictation.Session
	chat      map[int]*chat.Session
	closed    bool
}

// NewSessions returns an empty registry. Chat replies stream under a context
// owned by the registry, not by whichever request created the session.
func NewSessions(cfg SessionsConfig) *Sessions {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Grader == nil {
		cfg.Grader = grading.New()
	}
	if cfg.Generator == nil {
		cfg.Generator = dictation.NewGenerator(cfg.LLM)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Sessions{
		cfg:       cfg,
		ctx:       ctx,
		cancel:    cancel,
		dictation: make(map[int]*dictation.Session),
		chat:      make(map[int]*chat.Session),
	}
}

// Dictation returns the dictation session for poem id, creating it on first
// use. It returns [poem.ErrNotFound] for an unknown id.
func (s *Sessions) Dictation(id int) (*dictation.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if sess, ok := s.dictation[id]; ok {
		return sess, nil
	}
	p, err := s.cfg.Poems.Get(id)
	if err != nil {
		return nil, fmt.Errorf("app: dictation session: %w", err)
	}
	sess := dictation.NewSession(s.ctx, p, s.cfg.Generator, s.cfg.Grader, s.cfg.Store,
		dictation.WithSanitizer(s.cfg.Sanitizer),
		dictation.WithMetrics(s.cfg.Metrics),
	)
	s.dictation[id] = sess
	slog.Debug("opened dictation session", "poem_id", id, "title", p.Title)
	return sess, nil
}

// Chat returns the chat session for poem id, creating it on first use. It
// returns [poem.ErrNotFound] for an unknown id.
func (s *Sessions) Chat(id int) (*chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if sess, ok := s.chat[id]; ok {
		return sess, nil
	}
	p, err := s.cfg.Poems.Get(id)
	if err != nil {
		return nil, fmt.Errorf("app: chat session: %w", err)
	}
	opts := append([]chat.Option{
		chat.WithSanitizer(s.cfg.Sanitizer),
		chat.WithMetrics(s.cfg.Metrics),
	}, s.cfg.ChatOptions...)
	sess := chat.NewSession(s.ctx, p, s.cfg.LLM, s.cfg.Store, opts...)
	s.chat[id] = sess
	slog.Debug("opened chat session", "poem_id", id, "title", p.Title)
	return sess, nil
}

// Len returns the number of open dictation and chat sessions.
func (s *Sessions) Len() (dictations, chats int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dictation), len(s.chat)
}

// Close cancels every reply in flight, waits for the replies to be persisted
// and closes all sessions. Later lookups return [ErrClosed].
func (s *Sessions) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	dicts, chats := s.dictation, s.chat
	s.dictation, s.chat = nil, nil
	s.mu.Unlock()

	s.cancel()
	var wg sync.WaitGroup
	for _, c := range chats {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Close()
		}()
	}
	wg.Wait()
	for _, d := range dicts {
		d.Close()
	}
}
