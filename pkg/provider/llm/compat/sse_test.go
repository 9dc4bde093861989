package compat

import (
	"context"
	"strings"
	"testing"
)

func TestParseLine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		line      string
		wantToken string
		wantDone  bool
		wantOK    bool
	}{
		{"delta content", `data: {"choices":[{"delta":{"content":"春"}}]}`, "春", false, true},
		{"no space after prefix", `data:{"choices":[{"delta":{"content":"眠"}}]}`, "眠", false, true},
		{"trailing CRLF", "data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\r\n", "x", false, true},
		{"message fallback", `data: {"choices":[{"message":{"content":"全文"}}]}`, "全文", false, true},
		{"delta wins over message", `data: {"choices":[{"delta":{"content":"d"},"message":{"content":"m"}}]}`, "d", false, true},
		{"empty delta", `data: {"choices":[{"delta":{}}]}`, "", false, true},
		{"no choices", `data: {"choices":[]}`, "", false, true},
		{"done sentinel", "data: [DONE]", "", true, false},
		{"done sentinel padded", "data:   [DONE]  ", "", true, false},
		{"blank line", "", "", false, false},
		{"comment line", ": keep-alive", "", false, false},
		{"event line", "event: message", "", false, false},
		{"malformed json", `data: {"choices":[{"delta":`, "", false, false},
		{"empty payload", "data: ", "", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			token, done, ok := ParseLine(tt.line)
			if token != tt.wantToken || done != tt.wantDone || ok != tt.wantOK {
				t.Errorf("ParseLine(%q) = (%q, %v, %v), want (%q, %v, %v)",
					tt.line, token, done, ok, tt.wantToken, tt.wantDone, tt.wantOK)
			}
		})
	}
}

func TestReadEvents_StopsAtDone(t *testing.T) {
	t.Parallel()
	stream := strings.Join([]string{
		`data: {"choices":[{"delta":{"content":"He"}}]}`,
		``,
		`data: {"choices":[{"delta":{"content":"llo"}}]}`,
		``,
		`data: [DONE]`,
		``,
		`data: {"choices":[{"delta":{"content":"ignored"}}]}`,
		``,
	}, "\n")

	var sb strings.Builder
	err := ReadEvents(context.Background(), strings.NewReader(stream), func(tok string) bool {
		sb.WriteString(tok)
		return true
	})
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if got := sb.String(); got != "Hello" {
		t.Errorf("content = %q, want %q", got, "Hello")
	}
}

func TestReadEvents_SkipsMalformedChunks(t *testing.T) {
	t.Parallel()
	stream := "data: {\"choices\":[{\"delta\":{\"content\":\"床前\"}}]}\n" +
		"data: {not json}\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"明月光\"}}]}\n"

	var sb strings.Builder
	if err := ReadEvents(context.Background(), strings.NewReader(stream), func(tok string) bool {
		sb.WriteString(tok)
		return true
	}); err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if got := sb.String(); got != "床前明月光" {
		t.Errorf("content = %q, want %q", got, "床前明月光")
	}
}

func TestReadEvents_CancelledContextReadsNothing(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := ReadEvents(ctx, strings.NewReader("data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n"), func(string) bool {
		called = true
		return true
	})
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if called {
		t.Error("emit called after cancellation")
	}
}

func TestReadEvents_EmitFalseStops(t *testing.T) {
	t.Parallel()
	stream := "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"b\"}}]}\n"
	var got []string
	_ = ReadEvents(context.Background(), strings.NewReader(stream), func(tok string) bool {
		got = append(got, tok)
		return false
	})
	if len(got) != 1 || got[0] != "a" {
		t.Errorf("tokens = %v, want [a]", got)
	}
}
