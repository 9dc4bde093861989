// Package api exposes the poem corpus and the per-poem dictation and chat
// sessions over JSON and WebSocket.
//
// Every mutating route calls one session operation and returns; clients that
// want live updates (loading flags, streamed chat tokens) subscribe to the
// session feed at .../ws, which pushes a full snapshot on every publish.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jerryz/poems/internal/chat"
	"github.com/jerryz/poems/internal/dictation"
	"github.com/jerryz/poems/internal/observe"
	"github.com/jerryz/poems/internal/poem"
)

// SessionSource hands out the shared session of a poem. app.Sessions
// implements it.
type SessionSource interface {
	Dictation(id int) (*dictation.Session, error)
	Chat(id int) (*chat.Session, error)
}

// Server routes API requests. It implements [http.Handler].
type Server struct {
	poems        *poem.Repository
	sessions     SessionSource
	metrics      *observe.Metrics
	defaultCount int
	origins      []string
	router       chi.Router
}

// Option configures a [Server].
type Option func(*Server)

// WithDefaultCount sets the question count used when a regenerate request
// names none.
func WithDefaultCount(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.defaultCount = n
		}
	}
}

// WithMetrics records on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithOriginPatterns allows cross-origin WebSocket clients whose host matches
// one of patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.origins = patterns }
}

// NewServer builds the router.
func NewServer(poems *poem.Repository, sessions SessionSource, opts ...Option) *Server {
	s := &Server{
		poems:        poems,
		sessions:     sessions,
		defaultCount: dictation.DefaultCount,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observe.Middleware(s.metrics))
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/tags", s.handleTags)
		r.Get("/poems", s.handleListPoems)
		r.Route("/poems/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetPoem)

			r.Route("/dictation", func(r chi.Router) {
				r.Get("/", s.handleDictationState)
				r.Post("/regenerate", s.handleRegenerate)
				r.Put("/questions/{index}/input", s.handleUpdateInput)
				r.Post("/questions/{index}/check", s.handleCheck)
				r.Get("/ws", s.handleDictationFeed)
			})

			r.Route("/chat", func(r chi.Router) {
				r.Get("/", s.handleChatState)
				r.Post("/messages", s.handleSendMessage)
				r.Delete("/messages/{msgID}", s.handleDeleteMessage)
				r.Post("/stop", s.handleStop)
				r.Get("/ws", s.handleChatFeed)
			})
		})
	})

	s.router = r
	return s
}

// ServeHTTP implements [http.Handler].
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ─── Poems ───────────────────────────────────────────────────────────────────

type poemSummary struct {
	ID     int      `json:"id"`
	Title  string   `json:"title"`
	Author string   `json:"author"`
	Tags   []string `json:"tags"`
}

func summarize(ps []poem.Poem) []poemSummary {
	out := make([]poemSummary, len(ps))
	for i, p := range ps {
		out[i] = poemSummary{ID: p.ID, Title: p.Title, Author: p.Author, Tags: p.Tags}
	}
	return out
}

// handleListPoems serves GET /api/poems?q=&tag=.
func (s *Server) handleListPoems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var ps []poem.Poem
	if query := strings.TrimSpace(q.Get("q")); query != "" {
		ps = s.poems.Search(query)
	} else {
		ps = s.poems.All()
	}
	if tag := q.Get("tag"); tag != "" {
		filtered := ps[:0:0]
		for _, p := range ps {
			for _, t := range p.Tags {
				if t == tag {
					filtered = append(filtered, p)
					break
				}
			}
		}
		ps = filtered
	}
	writeJSON(w, http.StatusOK, summarize(ps))
}

func (s *Server) handleTags(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.poems.Tags())
}

func (s *Server) handleGetPoem(w http.ResponseWriter, r *http.Request) {
	id, ok := poemID(w, r)
	if !ok {
		return
	}
	p, err := s.poems.Get(id)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func poemID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 0 {
		writeError(w, http.StatusBadRequest, "invalid poem id")
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// writeSessionError maps session lookup failures to status codes.
func writeSessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, poem.ErrNotFound) {
		writeError(w, http.StatusNotFound, "poem not found")
		return
	}
	slog.Error("api: session lookup", "err", err)
	writeError(w, http.StatusServiceUnavailable, "session unavailable")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("api: encode response", "err", err)
	}
}
