// Package redact scrubs the configured API hosts out of error text before it
// is shown to a user.
package redact

import (
	"regexp"
	"slices"
	"strings"
)

// DefaultFallback is shown when the sanitized message is blank.
const DefaultFallback = "未知错误"

// Placeholder replaces every occurrence of an API host.
const Placeholder = "API"

type rule struct {
	re   *regexp.Regexp
	repl string
}

// Sanitizer replaces API host names in free text. The zero value and a
// Sanitizer built without domains only trim and apply the fallback.
type Sanitizer struct {
	domains []string
	rules   []rule
}

// New builds a Sanitizer for domains, typically the primary provider's host
// followed by the fallbacks'. A scheme, a path and surrounding slashes are
// stripped, so "https://one.example.com/v1" and "one.example.com" are
// equivalent. Blank and repeated domains are ignored.
func New(domains ...string) *Sanitizer {
	s := &Sanitizer{}
	for _, d := range domains {
		if d = normalize(d); d != "" && !slices.Contains(s.domains, d) {
			s.domains = append(s.domains, d)
		}
	}

	// Longer hosts first, so "api.one.example.com" is not half-replaced by a
	// rule for "one.example.com".
	ordered := slices.Clone(s.domains)
	slices.SortStableFunc(ordered, func(a, b string) int { return len(b) - len(a) })
	for _, d := range ordered {
		q := regexp.QuoteMeta(d)
		// Longest forms first so a URL collapses to "API/" rather than "https://API/".
		for _, p := range []struct{ pattern, repl string }{
			{`https?://` + q + `/`, Placeholder + "/"},
			{`https?://` + q, Placeholder},
			{q, Placeholder},
		} {
			s.rules = append(s.rules, rule{re: regexp.MustCompile(`(?i)` + p.pattern), repl: p.repl})
		}
	}
	return s
}

func normalize(domain string) string {
	d := strings.TrimSpace(domain)
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	d = strings.TrimPrefix(d, "//")
	d = strings.Trim(d, "/")
	if host, _, ok := strings.Cut(d, "/"); ok {
		d = host
	}
	return strings.ToLower(d)
}

// Domain returns the first host being redacted.
func (s *Sanitizer) Domain() string {
	if s == nil || len(s.domains) == 0 {
		return ""
	}
	return s.domains[0]
}

// Domains returns every host being redacted, in the order given to [New].
func (s *Sanitizer) Domains() []string {
	if s == nil {
		return nil
	}
	return slices.Clone(s.domains)
}

// Sanitize redacts raw and returns fallback when nothing is left. An empty
// fallback means DefaultFallback.
func (s *Sanitizer) Sanitize(raw, fallback string) string {
	if fallback == "" {
		fallback = DefaultFallback
	}
	out := raw
	if s != nil {
		for _, r := range s.rules {
			out = r.re.ReplaceAllLiteralString(out, r.repl)
		}
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return fallback
	}
	return out
}

// Error is shorthand for Sanitize(err.Error(), fallback) that tolerates nil.
func (s *Sanitizer) Error(err error, fallback string) string {
	if err == nil {
		return s.Sanitize("", fallback)
	}
	return s.Sanitize(err.Error(), fallback)
}
