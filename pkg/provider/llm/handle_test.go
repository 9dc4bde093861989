package llm_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jerryz/poems/pkg/provider/llm"
	"github.com/jerryz/poems/pkg/provider/llm/mock"
)

func TestStreamHandle_CancelBeforeExecute(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{StreamChunks: []llm.Chunk{{Text: "x"}}}
	h := llm.OpenStream(p, llm.CompletionRequest{})

	h.Cancel()
	h.Cancel() // idempotent

	_, err := h.Execute(context.Background())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Execute after Cancel: got %v, want context.Canceled", err)
	}
	if n := len(p.Streams()); n != 0 {
		t.Errorf("provider called %d times, want 0", n)
	}
	if !h.Cancelled() {
		t.Error("Cancelled() = false after Cancel")
	}
}

func TestStreamHandle_ExecuteTwice(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{}
	h := llm.OpenStream(p, llm.CompletionRequest{})

	ch, err := h.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for range ch {
	}
	if _, err := h.Execute(context.Background()); !errors.Is(err, llm.ErrStreamStarted) {
		t.Fatalf("second Execute: got %v, want ErrStreamStarted", err)
	}
}

func TestStreamHandle_DeliversChunksInOrder(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{StreamChunks: []llm.Chunk{{Text: "床前"}, {Text: "明月"}, {Text: "光"}}}
	h := llm.OpenStream(p, llm.CompletionRequest{})

	ch, err := h.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var got string
	for c := range ch {
		got += c.Text
	}
	if got != "床前明月光" {
		t.Errorf("content = %q, want %q", got, "床前明月光")
	}
	if h.Cancelled() {
		t.Error("Cancelled() = true without Cancel")
	}
}

func TestStreamHandle_CancelDuringStreamClosesChannel(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{StreamChunks: []llm.Chunk{{Text: "a"}}, StreamHold: true}
	h := llm.OpenStream(p, llm.CompletionRequest{})

	ch, err := h.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if c := <-ch; c.Text != "a" {
		t.Fatalf("first chunk = %q, want %q", c.Text, "a")
	}

	h.Cancel()

	select {
	case _, ok := <-ch:
		if ok {
			// A chunk raced the cancel; the channel must still close.
			for range ch {
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after Cancel")
	}

	h.Cancel() // safe after completion
}

func TestStreamHandle_StartError(t *testing.T) {
	t.Parallel()
	want := &llm.APIError{StatusCode: 502}
	p := &mock.Provider{StreamErr: want}
	h := llm.OpenStream(p, llm.CompletionRequest{})

	_, err := h.Execute(context.Background())
	var apiErr *llm.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 502 {
		t.Fatalf("Execute: got %v, want APIError 502", err)
	}
}

func TestAPIError_Retryable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		code int
		want bool
	}{
		{400, false},
		{401, false},
		{404, false},
		{408, true},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tt := range tests {
		e := &llm.APIError{StatusCode: tt.code}
		if got := e.Retryable(); got != tt.want {
			t.Errorf("APIError{%d}.Retryable() = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestWithSystemPrompt(t *testing.T) {
	t.Parallel()
	req := llm.CompletionRequest{SystemPrompt: "sys", Messages: []llm.Message{llm.User("hi")}}
	got := llm.WithSystemPrompt(req)
	if len(got) != 2 || got[0].Role != llm.RoleSystem || got[1].Content != "hi" {
		t.Errorf("WithSystemPrompt = %+v", got)
	}
	if got := llm.WithSystemPrompt(llm.CompletionRequest{Messages: req.Messages}); len(got) != 1 {
		t.Errorf("without system prompt len = %d, want 1", len(got))
	}
}
