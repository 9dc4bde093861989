// Package app wires the poem study subsystems into a running application.
//
// The App struct owns the full lifecycle: New opens the store, loads the poem
// corpus and builds the session registry; Run serves the API and ops
// listeners until its context ends; Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithRepository, WithMetrics). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/jerryz/poems/internal/api"
	"github.com/jerryz/poems/internal/chat"
	"github.com/jerryz/poems/internal/config"
	"github.com/jerryz/poems/internal/dictation"
	"github.com/jerryz/poems/internal/grading"
	"github.com/jerryz/poems/internal/health"
	"github.com/jerryz/poems/internal/observe"
	"github.com/jerryz/poems/internal/poem"
	"github.com/jerryz/poems/internal/redact"
	"github.com/jerryz/poems/internal/resilience"
	"github.com/jerryz/poems/internal/store"
	"github.com/jerryz/poems/internal/store/postgres"
	"github.com/jerryz/poems/internal/store/sqlite"
	"github.com/jerryz/poems/pkg/provider/llm"
)

// shutdownTimeout bounds the graceful HTTP shutdown in Run.
const shutdownTimeout = 10 * time.Second

// Providers holds the chat-completion backend. Populated by main.go via the
// config registry, usually as a [resilience.LLMFallback] over instrumented
// providers.
type Providers struct {
	LLM llm.Provider
}

// backendStates is implemented by [resilience.LLMFallback].
type backendStates interface {
	Backends() []resilience.Backend
	Available() bool
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	store     store.Store
	poems     *poem.Repository
	metrics   *observe.Metrics
	sanitizer *redact.Sanitizer
	sessions  *Sessions

	metricsHandler http.Handler

	// closers are called in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a store instead of opening one from config.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithRepository injects a loaded poem repository instead of loading the
// configured corpus.
func WithRepository(r *poem.Repository) Option {
	return func(a *App) { a.poems = r }
}

// WithMetrics records on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h at /metrics on the ops listener instead of the
// default Prometheus registry, typically [observe.Telemetry.MetricsHandler].
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go. New performs all initialisation synchronously: store
// connection, corpus loading and session registry construction.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM == nil {
		return nil, errors.New("app: an LLM provider is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Store ─────────────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Poem corpus ───────────────────────────────────────────────────
	if err := a.initPoems(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: load poems: %w", err)
	}

	// ── 3. Sessions ──────────────────────────────────────────────────────
	a.sanitizer = redact.New(cfg.RedactHosts()...)
	a.sessions = NewSessions(SessionsConfig{
		Poems: a.poems,
		LLM:   providers.LLM,
		Store: a.store,
		Generator: dictation.NewGenerator(providers.LLM,
			dictation.WithTemperature(cfg.Dictation.Temperature),
			dictation.WithMaxTokens(cfg.Dictation.MaxTokens),
		),
		Grader: grading.New(grading.WithPolicy(grading.Policy{
			MinTolerance: cfg.Dictation.MinTolerance,
			Divisor:      cfg.Dictation.ToleranceDivisor,
		})),
		Sanitizer: a.sanitizer,
		Metrics:   a.metrics,
		ChatOptions: []chat.Option{
			chat.WithHistoryWindow(cfg.Chat.HistoryWindow),
			chat.WithThrottleWindow(cfg.Chat.Throttle),
			chat.WithTemperature(cfg.Chat.Temperature),
		},
	})
	a.closers = append(a.closers, func() error {
		a.sessions.Close()
		return nil
	})

	return a, nil
}

// initStore opens the configured storage driver unless one was injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	var docs store.Documents
	switch a.cfg.Storage.Driver {
	case config.StorageMemory:
		a.store = store.NewMemStore()
		return nil
	case config.StoragePostgres:
		d, err := postgres.Open(ctx, a.cfg.Storage.DSN)
		if err != nil {
			return err
		}
		docs = d
	default:
		d, err := sqlite.Open(ctx, a.cfg.Storage.Path)
		if err != nil {
			return err
		}
		docs = d
	}
	a.store = store.New(docs)
	a.closers = append(a.closers, a.store.Close)
	slog.Info("store opened", "driver", a.cfg.Storage.Driver)
	return nil
}

// initPoems loads the configured corpus unless a repository was injected.
func (a *App) initPoems(ctx context.Context) error {
	if a.poems != nil {
		return nil
	}
	src := a.cfg.Corpus.Source
	if src == "" {
		src = poem.DefaultSource
	}
	repo := poem.NewRepository(poem.SourceFor(src))
	if err := repo.Load(ctx); err != nil {
		return err
	}
	a.poems = repo
	slog.Info("poems loaded", "source", src, "count", repo.Len())
	return nil
}

// Poems returns the loaded corpus.
func (a *App) Poems() *poem.Repository { return a.poems }

// Sessions returns the per-poem session registry.
func (a *App) Sessions() *Sessions { return a.sessions }

// Store returns the persistence backend.
func (a *App) Store() store.Store { return a.store }

// Handler returns the JSON/WebSocket API.
func (a *App) Handler() http.Handler {
	return api.NewServer(a.poems, a.sessions,
		api.WithDefaultCount(a.cfg.Dictation.DefaultCount),
		api.WithMetrics(a.metrics),
	)
}

// OpsHandler serves /healthz, /readyz and /metrics.
func (a *App) OpsHandler() http.Handler {
	checks := []health.Checker{health.PingCheck("store", a.store)}
	// Ready while any backend can take a request; an open primary with a
	// healthy fallback still serves.
	if b, ok := a.providers.LLM.(backendStates); ok {
		checks = append(checks, health.StateCheck("llm", func() (string, bool) {
			return resilience.FormatBackends(b.Backends()), b.Available()
		}))
	}

	mux := http.NewServeMux()
	health.New(checks...).Register(mux)
	metrics := a.metricsHandler
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	mux.Handle("GET /metrics", metrics)
	return mux
}

// Run serves the API listener, and the ops listener when configured, until
// ctx is cancelled or a listener fails. Servers are shut down gracefully
// before Run returns. A clean stop returns nil.
func (a *App) Run(ctx context.Context) error {
	servers := []*http.Server{{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}}
	if a.cfg.Server.OpsAddr != "" {
		servers = append(servers, &http.Server{
			Addr:              a.cfg.Server.OpsAddr,
			Handler:           a.OpsHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, srv := range servers {
		tls := i == 0 && a.cfg.Server.TLS != nil
		g.Go(func() error {
			slog.Info("listening", "addr", srv.Addr, "tls", tls)
			var err error
			if tls {
				err = srv.ListenAndServeTLS(a.cfg.Server.TLS.CertFile, a.cfg.Server.TLS.KeyFile)
			} else {
				err = srv.ListenAndServe()
			}
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("app: serve %s: %w", srv.Addr, err)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(sctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	slog.Info("app running", "poems", a.poems.Len())
	return g.Wait()
}

// Shutdown closes every session, waiting for replies in flight to be
// persisted, then closes the store. It is safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		done := make(chan error, 1)
		go func() { done <- a.closeAll() }()
		select {
		case err = <-done:
		case <-ctx.Done():
			err = fmt.Errorf("app: shutdown: %w", ctx.Err())
		}
	})
	return err
}

func (a *App) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
