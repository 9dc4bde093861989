package app_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/jerryz/poems/internal/app"
	"github.com/jerryz/poems/internal/config"
	"github.com/jerryz/poems/internal/observe"
	"github.com/jerryz/poems/internal/poem"
	"github.com/jerryz/poems/internal/resilience"
	"github.com/jerryz/poems/internal/store"
	"github.com/jerryz/poems/pkg/provider/llm"
	llmmock "github.com/jerryz/poems/pkg/provider/llm/mock"
)

var spring = poem.Poem{
	ID:      3,
	Title:   "春晓",
	Author:  "孟浩然",
	Content: []string{"春眠不觉晓，", "处处闻啼鸟。"},
}

// testConfig returns a valid config backed by the in-memory store.
func testConfig() *config.Config {
	cfg := &config.Config{
		AI:      config.AIConfig{BaseURL: "https://llm.example.com/v1", Model: "m"},
		Storage: config.StorageConfig{Driver: config.StorageMemory},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newTestApp(t *testing.T, p llm.Provider, opts ...app.Option) *app.App {
	t.Helper()
	opts = append([]app.Option{
		app.WithStore(store.NewMemStore()),
		app.WithRepository(poem.NewRepositoryFrom([]poem.Poem{spring})),
		app.WithMetrics(testMetrics(t)),
	}, opts...)
	a, err := app.New(context.Background(), testConfig(), &app.Providers{LLM: p}, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func TestNew_RequiresLLM(t *testing.T) {
	t.Parallel()

	if _, err := app.New(context.Background(), testConfig(), &app.Providers{}); err == nil {
		t.Fatal("expected error without an LLM")
	}
	if _, err := app.New(context.Background(), testConfig(), nil); err == nil {
		t.Fatal("expected error with nil providers")
	}
}

func TestNew_OpensConfiguredStore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		driver config.StorageDriver
	}{
		{"memory", config.StorageMemory},
		{"sqlite", config.StorageSQLite},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Storage.Driver = tt.driver
			cfg.Storage.Path = filepath.Join(t.TempDir(), "poems.db")

			a, err := app.New(context.Background(), cfg, &app.Providers{LLM: &llmmock.Provider{}},
				app.WithRepository(poem.NewRepositoryFrom([]poem.Poem{spring})),
				app.WithMetrics(testMetrics(t)),
			)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if err := a.Store().Ping(context.Background()); err != nil {
				t.Errorf("Ping: %v", err)
			}
			if err := a.Shutdown(context.Background()); err != nil {
				t.Errorf("Shutdown: %v", err)
			}
		})
	}
}

func TestNew_LoadsCorpusFromFile(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Corpus.Source = filepath.Join(t.TempDir(), "missing.txt")
	_, err := app.New(context.Background(), cfg, &app.Providers{LLM: &llmmock.Provider{}},
		app.WithStore(store.NewMemStore()),
		app.WithMetrics(testMetrics(t)),
	)
	if err == nil {
		t.Fatal("expected error for a missing corpus file")
	}
}

func TestSessions_Reuse(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, &llmmock.Provider{})
	s := a.Sessions()

	d1, err := s.Dictation(spring.ID)
	if err != nil {
		t.Fatalf("Dictation: %v", err)
	}
	d2, _ := s.Dictation(spring.ID)
	if d1 != d2 {
		t.Error("dictation sessions differ for the same poem")
	}
	c1, err := s.Chat(spring.ID)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	c2, _ := s.Chat(spring.ID)
	if c1 != c2 {
		t.Error("chat sessions differ for the same poem")
	}
	if d, c := s.Len(); d != 1 || c != 1 {
		t.Errorf("Len = %d, %d; want 1, 1", d, c)
	}

	if _, err := s.Dictation(99); !errors.Is(err, poem.ErrNotFound) {
		t.Errorf("Dictation(99) err = %v, want ErrNotFound", err)
	}
	if _, err := s.Chat(99); !errors.Is(err, poem.ErrNotFound) {
		t.Errorf("Chat(99) err = %v, want ErrNotFound", err)
	}
}

func TestShutdown_ClosesSessions(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "春眠"}}, StreamHold: true}
	a := newTestApp(t, p)
	c, err := a.Sessions().Chat(spring.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.SendMessage("讲讲这首诗"); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if msgs := c.Snapshot().Messages; len(msgs) == 2 && msgs[1].Content != "" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}

	if _, err := a.Sessions().Chat(spring.ID); !errors.Is(err, app.ErrClosed) {
		t.Errorf("Chat after shutdown err = %v, want ErrClosed", err)
	}
	recs, err := a.Store().LoadChatHistory(context.Background(), spring.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || recs[1].Content != "春眠" {
		t.Errorf("persisted = %+v, want question plus partial reply", recs)
	}
}

func TestHandler(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(newTestApp(t, &llmmock.Provider{}).Handler())
	defer srv.Close()

	for path, want := range map[string]int{
		"/api/poems/3":           http.StatusOK,
		"/api/poems/99":          http.StatusNotFound,
		"/api/poems/3/dictation": http.StatusOK,
		"/api/poems/3/chat":      http.StatusOK,
		"/nowhere":               http.StatusNotFound,
	} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Errorf("GET %s = %d, want %d", path, resp.StatusCode, want)
		}
	}
}

func TestOpsHandler(t *testing.T) {
	t.Parallel()

	failing := &llmmock.Provider{CompleteErr: &llm.APIError{StatusCode: 502}}
	fb := resilience.NewLLMFallback(failing, "primary", resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})
	a := newTestApp(t, fb)
	srv := httptest.NewServer(a.OpsHandler())
	defer srv.Close()

	get := func(path string) int {
		t.Helper()
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if got := get("/healthz"); got != http.StatusOK {
		t.Errorf("/healthz = %d", got)
	}
	if got := get("/metrics"); got != http.StatusOK {
		t.Errorf("/metrics = %d", got)
	}
	if got := get("/readyz"); got != http.StatusOK {
		t.Errorf("/readyz with closed breaker = %d", got)
	}

	_, _ = fb.Complete(context.Background(), llm.CompletionRequest{Messages: []llm.Message{llm.User("hi")}})
	if fb.State() != resilience.StateOpen {
		t.Fatalf("breaker state = %v, want open", fb.State())
	}
	if got := get("/readyz"); got != http.StatusServiceUnavailable {
		t.Errorf("/readyz with open breaker = %d, want 503", got)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Server.ListenAddr = "127.0.0.1:0"
	a, err := app.New(context.Background(), cfg, &app.Providers{LLM: &llmmock.Provider{}},
		app.WithStore(store.NewMemStore()),
		app.WithRepository(poem.NewRepositoryFrom([]poem.Poem{spring})),
		app.WithMetrics(testMetrics(t)),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Shutdown(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
