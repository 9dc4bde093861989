package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jerryz/poems/internal/config"
)

const minimalAI = `
ai:
  base_url: https://one.example.com/v1
  model: qwen-plus
`

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		yaml    string
		wantErr []string // substrings; empty means valid
	}{
		{name: "minimal", yaml: minimalAI},
		{
			name:    "empty needs endpoint",
			yaml:    "",
			wantErr: []string{"providers.llm.model", "providers.llm.base_url"},
		},
		{
			name:    "invalid log level",
			yaml:    minimalAI + "server:\n  log_level: verbose\n",
			wantErr: []string{"log_level"},
		},
		{
			name:    "unknown storage driver",
			yaml:    minimalAI + "storage:\n  driver: redis\n",
			wantErr: []string{"storage.driver"},
		},
		{
			name:    "postgres without dsn",
			yaml:    minimalAI + "storage:\n  driver: postgres\n",
			wantErr: []string{"storage.dsn"},
		},
		{
			name: "memory needs nothing",
			yaml: minimalAI + "storage:\n  driver: memory\n",
		},
		{
			name:    "temperature out of range",
			yaml:    minimalAI + "dictation:\n  temperature: 3\n",
			wantErr: []string{"dictation.temperature"},
		},
		{
			name:    "fallback without name",
			yaml:    minimalAI + "providers:\n  fallbacks:\n    - model: x\n",
			wantErr: []string{"providers.fallbacks[0].name"},
		},
		{
			name: "ollama fallback needs no model",
			yaml: minimalAI + "providers:\n  fallbacks:\n    - name: ollama\n",
		},
		{
			name:    "tls half configured",
			yaml:    minimalAI + "server:\n  tls:\n    cert_file: c.pem\n",
			wantErr: []string{"server.tls"},
		},
		{
			name:    "ops on api port",
			yaml:    minimalAI + "server:\n  listen_addr: \":8080\"\n  ops_addr: \":8080\"\n",
			wantErr: []string{"ops_addr"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if len(tt.wantErr) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error mentioning %v, got nil", tt.wantErr)
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error should mention %q, got: %v", want, err)
				}
			}
		})
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(minimalAI + "npcs: []\n"))
	if err == nil {
		t.Fatal("expected error for unknown top-level field")
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poems.yaml")
	if err := os.WriteFile(path, []byte(minimalAI), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(config.EnvModel, "env-model")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers.LLM.Model != "env-model" {
		t.Errorf("model = %q, want the environment override", cfg.Providers.LLM.Model)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	for _, name := range []string{"compat", "openai", "deepseek", "ollama"} {
		found := false
		for _, n := range config.ValidProviderNames {
			if n == name {
				found = true
			}
		}
		if !found {
			t.Errorf("ValidProviderNames lacks %q", name)
		}
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	cfg, err := config.Load(filepath.Join("..", "..", "configs", "example.yaml"))
	if err != nil {
		t.Fatalf("example.yaml: %v", err)
	}
	if cfg.Providers.LLM.BaseURL != cfg.AI.BaseURL {
		t.Errorf("llm base_url = %q, want inherited %q", cfg.Providers.LLM.BaseURL, cfg.AI.BaseURL)
	}
	if len(cfg.Providers.Fallbacks) != 1 || cfg.Providers.Fallbacks[0].Name != "ollama" {
		t.Errorf("fallbacks = %+v", cfg.Providers.Fallbacks)
	}
}
