package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists the LLM provider names wired by cmd/poems.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = []string{
	"compat", "openai",
	"anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// Environment variables read by [ApplyEnv]. They override the ai section,
// matching the keys of the app's ai.properties.
const (
	EnvAPIKey            = "POEMS_AI_API_KEY"
	EnvBaseURL           = "POEMS_AI_BASE_URL"
	EnvModel             = "POEMS_AI_MODEL"
	EnvErrorFilterDomain = "POEMS_AI_ERROR_FILTER_DOMAIN"
)

// Load reads the YAML configuration file at path, applies environment
// overrides and defaults, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := decode(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	if err := Resolve(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. The environment is not consulted, which keeps tests
// hermetic.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	if err := Resolve(cfg, nil); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// Resolve applies environment overrides from lookup (nil skips them), then
// defaults, then validates.
func Resolve(cfg *Config, lookup func(string) (string, bool)) error {
	if lookup != nil {
		ApplyEnv(cfg, lookup)
	}
	ApplyDefaults(cfg)
	return Validate(cfg)
}

// ApplyEnv overwrites ai fields with the POEMS_AI_* variables that are set
// and non-empty.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	for _, o := range []struct {
		key string
		dst *string
	}{
		{EnvAPIKey, &cfg.AI.APIKey},
		{EnvBaseURL, &cfg.AI.BaseURL},
		{EnvModel, &cfg.AI.Model},
		{EnvErrorFilterDomain, &cfg.AI.ErrorFilterDomain},
	} {
		if v, ok := lookup(o.key); ok && v != "" {
			*o.dst = v
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil && (cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if cfg.Server.OpsAddr != "" && cfg.Server.OpsAddr == cfg.Server.ListenAddr {
		errs = append(errs, fmt.Errorf("server.ops_addr %q must differ from server.listen_addr", cfg.Server.OpsAddr))
	}

	// Providers
	errs = append(errs, validateEntry("providers.llm", cfg.Providers.LLM)...)
	for i, fb := range cfg.Providers.Fallbacks {
		errs = append(errs, validateEntry(fmt.Sprintf("providers.fallbacks[%d]", i), fb)...)
	}

	// Storage
	switch {
	case cfg.Storage.Driver != "" && !cfg.Storage.Driver.IsValid():
		errs = append(errs, fmt.Errorf("storage.driver %q is invalid; valid values: memory, sqlite, postgres", cfg.Storage.Driver))
	case cfg.Storage.Driver == StorageSQLite && cfg.Storage.Path == "":
		errs = append(errs, errors.New("storage.path is required when driver is sqlite"))
	case cfg.Storage.Driver == StoragePostgres && cfg.Storage.DSN == "":
		errs = append(errs, errors.New("storage.dsn is required when driver is postgres"))
	}

	// Dictation and chat
	if t := cfg.Dictation.Temperature; t < 0 || t > 2 {
		errs = append(errs, fmt.Errorf("dictation.temperature %.2f is out of range [0, 2]", t))
	}
	if t := cfg.Chat.Temperature; t < 0 || t > 2 {
		errs = append(errs, fmt.Errorf("chat.temperature %.2f is out of range [0, 2]", t))
	}
	if cfg.Dictation.DefaultCount > 20 {
		errs = append(errs, fmt.Errorf("dictation.default_count %d exceeds 20", cfg.Dictation.DefaultCount))
	}

	return errors.Join(errs...)
}

func validateEntry(prefix string, e ProviderEntry) []error {
	if e.Name == "" {
		return []error{fmt.Errorf("%s.name is required", prefix)}
	}
	validateProviderName(e.Name)

	var errs []error
	if e.Model == "" && e.Name != "ollama" {
		errs = append(errs, fmt.Errorf("%s.model is required (or set ai.model / %s)", prefix, EnvModel))
	}
	if e.Name == "compat" && e.BaseURL == "" {
		errs = append(errs, fmt.Errorf("%s.base_url is required for the compat provider (or set ai.base_url / %s)", prefix, EnvBaseURL))
	}
	return errs
}

// validateProviderName logs a warning if name is not in [ValidProviderNames].
func validateProviderName(name string) {
	if slices.Contains(ValidProviderNames, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"name", name,
		"known", ValidProviderNames,
	)
}
