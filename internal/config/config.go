// Package config provides the configuration schema, loader, and provider
// registry for the poems study server and CLI.
package config

import (
	"net/url"
	"slices"
	"strings"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// StorageDriver selects where dictation sets and chat histories are kept.
type StorageDriver string

const (
	// StorageMemory keeps everything in process memory; nothing survives a
	// restart.
	StorageMemory StorageDriver = "memory"

	// StorageSQLite stores documents in a single SQLite file.
	StorageSQLite StorageDriver = "sqlite"

	// StoragePostgres stores documents in a PostgreSQL table.
	StoragePostgres StorageDriver = "postgres"
)

// IsValid reports whether d is a recognised storage driver.
func (d StorageDriver) IsValid() bool {
	switch d {
	case StorageMemory, StorageSQLite, StoragePostgres:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Providers  ProvidersConfig  `yaml:"providers"`
	AI         AIConfig         `yaml:"ai"`
	Storage    StorageConfig    `yaml:"storage"`
	Corpus     CorpusConfig     `yaml:"corpus"`
	Dictation  DictationConfig  `yaml:"dictation"`
	Chat       ChatConfig       `yaml:"chat"`
	Resilience ResilienceConfig `yaml:"resilience"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the JSON/WebSocket API (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// OpsAddr serves /healthz, /readyz and /metrics. Empty disables the ops
	// listener.
	OpsAddr string `yaml:"ops_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the API listener. When nil, it runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProvidersConfig selects the chat-completion backend and its fallbacks.
// Each entry names a provider registered in the [Registry].
type ProvidersConfig struct {
	LLM ProviderEntry `yaml:"llm"`

	// Fallbacks are tried in order when LLM fails or its breaker is open.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// ProviderEntry is the configuration block shared by all LLM backends.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "compat",
	// "openai", "deepseek").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the fields above.
	Options map[string]any `yaml:"options"`
}

// AIConfig mirrors the four keys of the app's ai.properties. Empty fields of
// providers.llm inherit from here, so a minimal setup needs nothing else.
type AIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	// ErrorFilterDomain is the API host scrubbed from error text shown to
	// users.
	ErrorFilterDomain string `yaml:"error_filter_domain"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver StorageDriver `yaml:"driver"`

	// Path is the SQLite database file.
	Path string `yaml:"path"`

	// DSN is the PostgreSQL connection string.
	DSN string `yaml:"dsn"`
}

// CorpusConfig locates the poem collection: a file path or an http(s) URL.
type CorpusConfig struct {
	Source string `yaml:"source"`
}

// DictationConfig tunes question generation and grading.
type DictationConfig struct {
	DefaultCount int     `yaml:"default_count"`
	Temperature  float64 `yaml:"temperature"`
	MaxTokens    int     `yaml:"max_tokens"`

	// MinTolerance and ToleranceDivisor form the typo threshold
	// max(MinTolerance, len/ToleranceDivisor).
	MinTolerance     int `yaml:"min_tolerance"`
	ToleranceDivisor int `yaml:"tolerance_divisor"`
}

// ChatConfig tunes the literature assistant.
type ChatConfig struct {
	HistoryWindow int           `yaml:"history_window"`
	Throttle      time.Duration `yaml:"throttle"`
	Temperature   float64       `yaml:"temperature"`
}

// ResilienceConfig tunes the per-provider circuit breakers and the HTTP
// timeout applied to each non-streaming request.
type ResilienceConfig struct {
	MaxFailures    int           `yaml:"max_failures"`
	ResetTimeout   time.Duration `yaml:"reset_timeout"`
	HalfOpenMax    int           `yaml:"half_open_max"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Default returns a Config with every default applied and no credentials.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero fields of cfg in place. Empty providers.llm
// fields inherit from the ai section.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	if cfg.Providers.LLM.Name == "" {
		cfg.Providers.LLM.Name = "compat"
	}
	if cfg.Providers.LLM.APIKey == "" {
		cfg.Providers.LLM.APIKey = cfg.AI.APIKey
	}
	if cfg.Providers.LLM.BaseURL == "" {
		cfg.Providers.LLM.BaseURL = cfg.AI.BaseURL
	}
	if cfg.Providers.LLM.Model == "" {
		cfg.Providers.LLM.Model = cfg.AI.Model
	}
	if cfg.AI.ErrorFilterDomain == "" {
		cfg.AI.ErrorFilterDomain = HostOf(cfg.Providers.LLM.BaseURL)
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = StorageSQLite
	}
	if cfg.Storage.Driver == StorageSQLite && cfg.Storage.Path == "" {
		cfg.Storage.Path = "poems.db"
	}

	if cfg.Dictation.DefaultCount <= 0 {
		cfg.Dictation.DefaultCount = 5
	}
	if cfg.Dictation.Temperature == 0 {
		cfg.Dictation.Temperature = 0.85
	}
	if cfg.Dictation.MinTolerance <= 0 {
		cfg.Dictation.MinTolerance = 2
	}
	if cfg.Dictation.ToleranceDivisor <= 0 {
		cfg.Dictation.ToleranceDivisor = 2
	}

	if cfg.Chat.HistoryWindow <= 0 {
		cfg.Chat.HistoryWindow = 10
	}
	if cfg.Chat.Throttle <= 0 {
		cfg.Chat.Throttle = 80 * time.Millisecond
	}
	if cfg.Chat.Temperature == 0 {
		cfg.Chat.Temperature = 0.3
	}

	if cfg.Resilience.MaxFailures <= 0 {
		cfg.Resilience.MaxFailures = 5
	}
	if cfg.Resilience.ResetTimeout <= 0 {
		cfg.Resilience.ResetTimeout = 30 * time.Second
	}
	if cfg.Resilience.HalfOpenMax <= 0 {
		cfg.Resilience.HalfOpenMax = 3
	}
	if cfg.Resilience.RequestTimeout <= 0 {
		cfg.Resilience.RequestTimeout = 60 * time.Second
	}
}

// HostOf returns the host name of a base URL such as
// "https://api.example.com/v1", without port. A scheme is optional, so
// "api.example.com/v1" yields the same host. Input that does not parse is
// returned trimmed.
func HostOf(baseURL string) string {
	raw := strings.TrimSpace(baseURL)
	if raw == "" {
		return ""
	}
	ref := raw
	if !strings.Contains(ref, "://") && !strings.HasPrefix(ref, "//") {
		ref = "//" + ref
	}
	if u, err := url.Parse(ref); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}
	return raw
}

// RedactHosts lists every host to scrub from error text: the configured
// error_filter_domain plus the host of each provider's base URL.
func (cfg *Config) RedactHosts() []string {
	var hosts []string
	add := func(h string) {
		h = strings.ToLower(HostOf(h))
		if h != "" && !slices.Contains(hosts, h) {
			hosts = append(hosts, h)
		}
	}
	add(cfg.AI.ErrorFilterDomain)
	add(cfg.AI.BaseURL)
	add(cfg.Providers.LLM.BaseURL)
	for _, fb := range cfg.Providers.Fallbacks {
		add(fb.BaseURL)
	}
	return hosts
}
