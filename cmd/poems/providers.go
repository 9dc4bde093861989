package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/jerryz/poems/internal/app"
	"github.com/jerryz/poems/internal/config"
	"github.com/jerryz/poems/internal/observe"
	"github.com/jerryz/poems/internal/poem"
	"github.com/jerryz/poems/internal/resilience"
	"github.com/jerryz/poems/pkg/provider/llm"
	"github.com/jerryz/poems/pkg/provider/llm/anyllm"
	"github.com/jerryz/poems/pkg/provider/llm/compat"
	"github.com/jerryz/poems/pkg/provider/llm/openai"
)

// anyllmProviders share one factory: optional APIKey plus optional BaseURL.
var anyllmProviders = []string{
	"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// registerBuiltinProviders wires every built-in LLM factory into reg.
// timeout bounds a single request for the backends that take one.
func registerBuiltinProviders(reg *config.Registry, timeout time.Duration) {
	// compat speaks the OpenAI chat-completions wire format to any endpoint.
	reg.RegisterLLM("compat", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []compat.Option
		if timeout > 0 {
			opts = append(opts, compat.WithTimeout(timeout))
		}
		p, err := compat.New(entry.BaseURL, entry.APIKey, entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		if timeout > 0 {
			opts = append(opts, openai.WithTimeout(timeout))
		}
		p, err := openai.New(entry.APIKey, entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	for _, providerName := range anyllmProviders {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			p, err := anyllm.New(providerName, entry.Model, opts...)
			if err != nil {
				return nil, err
			}
			return p, nil
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		p, err := anyllm.New("ollama", entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	for _, name := range reg.LLMNames() {
		slog.Debug("registered provider", "kind", "llm", "name", name)
	}
}

// buildProviders instantiates the primary LLM and its fallbacks, each wrapped
// with request metrics, behind one circuit-breaking fallback group. A
// fallback that cannot be built is skipped with a warning; the primary is
// required.
func buildProviders(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*app.Providers, error) {
	primary, err := createLLM(reg, cfg.Providers.LLM, m)
	if err != nil {
		return nil, err
	}

	if m == nil {
		m = observe.DefaultMetrics()
	}
	rc := cfg.Resilience
	group := resilience.NewLLMFallback(primary, cfg.Providers.LLM.Name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:   rc.MaxFailures,
			ResetTimeout:  rc.ResetTimeout,
			HalfOpenMax:   rc.HalfOpenMax,
			OnStateChange: func(name string, _, to resilience.State) {
				m.RecordBreakerTransition(context.Background(), name, to.String())
			},
		},
	})
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name, "model", cfg.Providers.LLM.Model)

	for _, entry := range cfg.Providers.Fallbacks {
		p, err := createLLM(reg, entry, m)
		if err != nil {
			slog.Warn("skipping fallback provider", "name", entry.Name, "err", err)
			continue
		}
		group.AddFallback(entry.Name, p)
		slog.Info("fallback provider added", "name", entry.Name, "model", entry.Model)
	}
	return &app.Providers{LLM: group}, nil
}

func createLLM(reg *config.Registry, entry config.ProviderEntry, m *observe.Metrics) (llm.Provider, error) {
	p, err := reg.CreateLLM(entry)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		return nil, fmt.Errorf("llm provider %q is not supported", entry.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", entry.Name, err)
	}
	return observe.WrapLLM(p, entry.Name, m), nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║          poems: startup summary       ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printProvider(w, "LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	for i, fb := range cfg.Providers.Fallbacks {
		printProvider(w, fmt.Sprintf("Fallback %d", i+1), fb.Name, fb.Model)
	}
	printRow(w, "Storage", string(cfg.Storage.Driver))
	corpus := cfg.Corpus.Source
	if corpus == "" {
		corpus = poem.DefaultSource
	}
	printRow(w, "Corpus", corpus)
	printRow(w, "Listen addr", cfg.Server.ListenAddr)
	if cfg.Server.OpsAddr != "" {
		printRow(w, "Ops addr", cfg.Server.OpsAddr)
	}
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printProvider(w io.Writer, kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	printRow(w, kind, value)
}

func printRow(w io.Writer, label, value string) {
	if r := []rune(value); len(r) > 19 {
		value = string(r[:18]) + "…"
	}
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", label, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}
