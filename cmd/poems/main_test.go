package main

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/jerryz/poems/internal/chat"
	"github.com/jerryz/poems/internal/config"
	"github.com/jerryz/poems/internal/dictation"
	"github.com/jerryz/poems/internal/grading"
	"github.com/jerryz/poems/internal/poem"
	"github.com/jerryz/poems/internal/resilience"
	"github.com/jerryz/poems/internal/store"
	"github.com/jerryz/poems/pkg/provider/llm"
	"github.com/jerryz/poems/pkg/provider/llm/mock"
)

var spring = poem.Poem{
	ID:      3,
	Title:   "春晓",
	Author:  "孟浩然",
	Content: []string{"春眠不觉晓，", "处处闻啼鸟。"},
	Tags:    []string{"唐诗", "春天"},
}

func TestOptString(t *testing.T) {
	opts := map[string]any{"organization": "org-1", "retries": 3}
	if got := optString(opts, "organization"); got != "org-1" {
		t.Errorf("organization = %q", got)
	}
	if got := optString(opts, "retries"); got != "" {
		t.Errorf("non-string = %q, want empty", got)
	}
	if got := optString(nil, "x"); got != "" {
		t.Errorf("nil map = %q, want empty", got)
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		level config.LogLevel
		want  slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		l := newLogger(tt.level)
		if !l.Enabled(context.Background(), tt.want) {
			t.Errorf("%q: level %v disabled", tt.level, tt.want)
		}
		if l.Enabled(context.Background(), tt.want-1) {
			t.Errorf("%q: level below %v enabled", tt.level, tt.want)
		}
	}
}

func TestLoadConfig_FromEnvironment(t *testing.T) {
	t.Setenv(config.EnvAPIKey, "sk-test")
	t.Setenv(config.EnvBaseURL, "https://llm.example.com/v1")
	t.Setenv(config.EnvModel, "qwen-plus")

	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Providers.LLM.Name != "compat" || cfg.Providers.LLM.Model != "qwen-plus" {
		t.Errorf("llm = %+v", cfg.Providers.LLM)
	}
	if cfg.AI.ErrorFilterDomain != "llm.example.com" {
		t.Errorf("error filter domain = %q", cfg.AI.ErrorFilterDomain)
	}
}

func testConfig() *config.Config {
	cfg := &config.Config{
		AI: config.AIConfig{BaseURL: "http://127.0.0.1:1/v1", Model: "m"},
		Providers: config.ProvidersConfig{
			Fallbacks: []config.ProviderEntry{
				{Name: "nope", Model: "x"},
				{Name: "compat", BaseURL: "http://127.0.0.1:2/v1", Model: "backup"},
			},
		},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestBuildProviders(t *testing.T) {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, time.Second)

	ps, err := buildProviders(testConfig(), reg, nil)
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	fb, ok := ps.LLM.(*resilience.LLMFallback)
	if !ok {
		t.Fatalf("LLM = %T, want *resilience.LLMFallback", ps.LLM)
	}
	if fb.State() != resilience.StateClosed {
		t.Errorf("state = %v, want closed", fb.State())
	}
}

func TestBuildProviders_UnknownPrimary(t *testing.T) {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, 0)

	cfg := testConfig()
	cfg.Providers.LLM.Name = "nope"
	if _, err := buildProviders(cfg, reg, nil); err == nil {
		t.Fatal("expected error for unregistered primary")
	}
}

func TestRegisterBuiltinProviders(t *testing.T) {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, 0)

	got := strings.Join(reg.LLMNames(), ",")
	for _, name := range []string{"compat", "openai", "anthropic", "ollama"} {
		if !strings.Contains(got, name) {
			t.Errorf("%q not registered in %s", name, got)
		}
	}
}

func TestPrintStartupSummary(t *testing.T) {
	var buf bytes.Buffer
	printStartupSummary(&buf, testConfig())
	out := buf.String()
	// An unset corpus is shown as the public one it falls back to.
	corpus := string([]rune(poem.DefaultSource)[:18])
	for _, want := range []string{"compat / m", "Fallback 2", "sqlite", corpus, ":8080"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestFilterTagAndList(t *testing.T) {
	other := poem.Poem{ID: 4, Title: "静夜思", Author: "李白", Tags: []string{"唐诗"}}
	ps := filterTag([]poem.Poem{spring, other}, "春天")
	if len(ps) != 1 || ps[0].ID != 3 {
		t.Fatalf("filterTag = %+v", ps)
	}

	var buf bytes.Buffer
	printPoemList(&buf, ps)
	if !strings.Contains(buf.String(), "春晓") || !strings.Contains(buf.String(), "[唐诗 春天]") {
		t.Errorf("list = %q", buf.String())
	}
	buf.Reset()
	printPoemList(&buf, nil)
	if !strings.Contains(buf.String(), "没有找到诗词") {
		t.Errorf("empty list = %q", buf.String())
	}
}

func TestRenderHighlight(t *testing.T) {
	tests := []struct {
		answer, input, want string
	}{
		{"处处闻啼鸟", "处处闻啼鸟", "处处闻啼鸟"},
		{"处处闻啼鸟", "处处听啼鸟", "处处[闻]啼鸟"},
		{"处处闻啼鸟", "处处", "处处[闻啼鸟]"},
	}
	for _, tt := range tests {
		if got := renderHighlight(grading.Highlight(tt.answer, tt.input)); got != tt.want {
			t.Errorf("renderHighlight(%q, %q) = %q, want %q", tt.answer, tt.input, got, tt.want)
		}
	}
}

// feed sends lines one at a time and closes the channel.
func feed(lines ...string) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		for _, l := range lines {
			ch <- l
		}
	}()
	return ch
}

func TestDictateLoop(t *testing.T) {
	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: `[{"question":"春眠不觉晓的下一句","answer":"处处闻啼鸟","explanation":"写春晨鸟鸣"}]`,
	}}
	sess := dictation.NewSession(context.Background(), spring, dictation.NewGenerator(p), grading.New(), store.NewMemStore())
	t.Cleanup(sess.Close)

	var out bytes.Buffer
	err := dictateLoop(context.Background(), sess, feed("1 处处闻啼鸟", "1 明月光", "9 x", "q"), &out, 1)
	if err != nil {
		t.Fatalf("dictateLoop: %v", err)
	}
	got := out.String()
	for _, want := range []string{"春眠不觉晓的下一句", "✓ 正确", "✗ 错误", "答案：处处闻啼鸟", "解析：写春晨鸟鸣", "没有这道题"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if n := len(p.Completes()); n != 1 {
		t.Errorf("completions = %d, want 1", n)
	}
}

func TestDictateLoop_FullWidthSpace(t *testing.T) {
	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: `[{"question":"春眠不觉晓的下一句","answer":"处处闻啼鸟","explanation":"写春晨鸟鸣"}]`,
	}}
	sess := dictation.NewSession(context.Background(), spring, dictation.NewGenerator(p), grading.New(), store.NewMemStore())
	t.Cleanup(sess.Close)

	var out bytes.Buffer
	if err := dictateLoop(context.Background(), sess, feed("1\u3000处处闻啼鸟", "q"), &out, 1); err != nil {
		t.Fatalf("dictateLoop: %v", err)
	}
	if !strings.Contains(out.String(), "✓ 正确") {
		t.Errorf("answer after a full-width space was not graded correct:\n%s", out.String())
	}
}

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		line, cmd, arg string
	}{
		{"1 床前明月光", "1", "床前明月光"},
		{"1\u3000床前明月光", "1", "床前明月光"},
		{"  r\t3 ", "r", "3"},
		{"q", "q", ""},
		{"", "", ""},
	}
	for _, tt := range tests {
		cmd, arg := splitCommand(tt.line)
		if cmd != tt.cmd || arg != tt.arg {
			t.Errorf("splitCommand(%q) = %q, %q, want %q, %q", tt.line, cmd, arg, tt.cmd, tt.arg)
		}
	}
}

func TestDictateLoop_GenerationFailure(t *testing.T) {
	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "我不能输出JSON"}}
	sess := dictation.NewSession(context.Background(), spring, dictation.NewGenerator(p), grading.New(), store.NewMemStore())
	t.Cleanup(sess.Close)

	var out bytes.Buffer
	if err := dictateLoop(context.Background(), sess, feed(), &out, 1); err != nil {
		t.Fatalf("dictateLoop: %v", err)
	}
	if st := sess.Snapshot(); st.Err == "" || !strings.Contains(out.String(), st.Err) {
		t.Errorf("output %q does not show error %q", out.String(), st.Err)
	}
}

func TestChatLoop(t *testing.T) {
	p := &mock.Provider{StreamChunks: []llm.Chunk{{Text: "春眠"}, {Text: "不觉晓"}}}
	sess := chat.NewSession(context.Background(), spring, p, store.NewMemStore(),
		chat.WithThrottleWindow(time.Millisecond))
	t.Cleanup(sess.Close)

	lines := make(chan string)
	go func() {
		defer close(lines)
		lines <- "第一句是什么"
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			snap := sess.Snapshot()
			if !snap.Streaming && len(snap.Messages) == 2 && snap.Messages[1].Content != "" {
				break
			}
			time.Sleep(5 * time.Millisecond)
		}
		lines <- "/quit"
	}()

	var out bytes.Buffer
	if err := chatLoop(context.Background(), sess, lines, &out); err != nil {
		t.Fatalf("chatLoop: %v", err)
	}
	if !strings.Contains(out.String(), "春眠不觉晓") {
		t.Errorf("output missing streamed reply:\n%s", out.String())
	}
	if snap := sess.Snapshot(); len(snap.Turns) != 1 {
		t.Errorf("turns = %d, want 1", len(snap.Turns))
	}
}

func TestChatLoop_InputEndsMidReply(t *testing.T) {
	p := &mock.Provider{
		StreamChunks: []llm.Chunk{{Text: "春眠不觉晓"}, {Text: "处处闻啼鸟"}, {Text: "", FinishReason: "stop"}},
		StreamDelay:  20 * time.Millisecond,
	}
	sess := chat.NewSession(context.Background(), spring, p, store.NewMemStore(),
		chat.WithThrottleWindow(time.Millisecond))
	t.Cleanup(sess.Close)

	// Piped stdin: one question, then EOF while the reply is still streaming.
	lines := make(chan string, 1)
	lines <- "第一句是什么"
	close(lines)

	var out bytes.Buffer
	if err := chatLoop(context.Background(), sess, lines, &out); err != nil {
		t.Fatalf("chatLoop: %v", err)
	}
	sess.Wait()

	snap := sess.Snapshot()
	if len(snap.Messages) != 2 || snap.Messages[1].Content != "春眠不觉晓处处闻啼鸟" {
		t.Fatalf("messages = %+v, want the full reply", snap.Messages)
	}
	if !strings.Contains(out.String(), "春眠不觉晓处处闻啼鸟") {
		t.Errorf("output missing reply:\n%s", out.String())
	}
}

func TestDeleteTurn(t *testing.T) {
	p := &mock.Provider{StreamChunks: []llm.Chunk{{Text: "答"}}}
	sess := chat.NewSession(context.Background(), spring, p, store.NewMemStore(),
		chat.WithThrottleWindow(time.Millisecond))
	t.Cleanup(sess.Close)

	if err := sess.SendMessage("问"); err != nil {
		t.Fatal(err)
	}
	sess.Wait()

	var out bytes.Buffer
	deleteTurn(&out, sess, "2")
	if !strings.Contains(out.String(), "1 到 1") {
		t.Errorf("out of range = %q", out.String())
	}
	deleteTurn(&out, sess, "1")
	if n := len(sess.Snapshot().Messages); n != 0 {
		t.Errorf("messages = %d, want 0", n)
	}
}
