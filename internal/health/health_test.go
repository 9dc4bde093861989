package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

// get serves path through a mux with h registered and decodes the body.
func get(t *testing.T, h *Handler, path string) (int, result) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("%s Content-Type = %q", path, ct)
	}
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("%s: decode JSON: %v", path, err)
	}
	return rec.Code, body
}

func TestHealthz_IgnoresChecks(t *testing.T) {
	h := New(PingCheck("store", pinger{errors.New("database is locked")}))
	code, body := get(t, h, "/healthz")
	if code != http.StatusOK || body.Status != "ok" || body.Checks != nil {
		t.Errorf("healthz = %d %+v", code, body)
	}
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name       string
		checks     []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checks",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name: "all pass",
			checks: []Checker{
				PingCheck("store", pinger{}),
				StateCheck("llm", func() (string, bool) { return "deepseek=closed", true }),
			},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"store": "ok", "llm": "ok"},
		},
		{
			name: "store down",
			checks: []Checker{
				PingCheck("store", pinger{errors.New("connection refused")}),
				StateCheck("llm", func() (string, bool) { return "deepseek=closed", true }),
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"store": "fail: connection refused", "llm": "ok"},
		},
		{
			name: "every backend open",
			checks: []Checker{
				PingCheck("store", pinger{}),
				StateCheck("llm", func() (string, bool) { return "deepseek=open ollama=open", false }),
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"store": "ok", "llm": "fail: llm is deepseek=open ollama=open"},
		},
		{
			name: "primary open with a fallback",
			checks: []Checker{
				StateCheck("llm", func() (string, bool) { return "deepseek=open ollama=closed", true }),
			},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"llm": "ok"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := get(t, New(tt.checks...), "/readyz")
			if code != tt.wantCode || body.Status != tt.wantStatus {
				t.Errorf("readyz = %d %q, want %d %q", code, body.Status, tt.wantCode, tt.wantStatus)
			}
			for name, want := range tt.wantChecks {
				if got := body.Checks[name]; got != want {
					t.Errorf("check %s = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestNew_CopiesCheckers(t *testing.T) {
	checks := []Checker{PingCheck("store", pinger{})}
	h := New(checks...)
	checks[0] = PingCheck("store", pinger{errors.New("gone")})

	if code, _ := get(t, h, "/readyz"); code != http.StatusOK {
		t.Errorf("readyz = %d after caller mutated its slice", code)
	}
}

func TestReadyz_RequestCancelled(t *testing.T) {
	h := New(Checker{Name: "store", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	wait := func(ctx context.Context) error {
		started <- struct{}{}
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h := New(Checker{Name: "store", Check: wait}, Checker{Name: "llm", Check: wait})

	done := make(chan int)
	go func() {
		rec := httptest.NewRecorder()
		h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))
		done <- rec.Code
	}()

	// Both checks must be running at once before either is released.
	<-started
	<-started
	close(release)
	if code := <-done; code != http.StatusOK {
		t.Errorf("status = %d, want 200", code)
	}
}
