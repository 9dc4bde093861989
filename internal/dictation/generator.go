package dictation

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/jerryz/poems/internal/observe"
	"github.com/jerryz/poems/internal/poem"
	"github.com/jerryz/poems/pkg/provider/llm"
)

// DefaultTemperature favours variety between successive question sets.
const DefaultTemperature = 0.85

// Generator produces question sets from a chat-completion backend. It is
// stateless apart from its configuration and safe for concurrent use.
type Generator struct {
	provider    llm.Provider
	temperature float64
	maxTokens   int
}

// GeneratorOption configures a [Generator].
type GeneratorOption func(*Generator)

// WithTemperature overrides [DefaultTemperature]. Non-positive values are
// ignored.
func WithTemperature(t float64) GeneratorOption {
	return func(g *Generator) {
		if t > 0 {
			g.temperature = t
		}
	}
}

// WithMaxTokens caps the reply length. Zero leaves the backend default.
func WithMaxTokens(n int) GeneratorOption {
	return func(g *Generator) { g.maxTokens = n }
}

// NewGenerator returns a Generator that asks p for questions.
func NewGenerator(p llm.Provider, opts ...GeneratorOption) *Generator {
	g := &Generator{provider: p, temperature: DefaultTemperature}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Generate requests count questions about p, steering away from the previous
// answers. A non-positive count means [DefaultCount].
//
// Backend errors are returned unchanged so their text can be shown to the
// user after redaction. Unusable replies yield ErrMalformedResponse or
// ErrEmptyResult.
func (g *Generator) Generate(ctx context.Context, p poem.Poem, previous []string, count int) ([]Question, error) {
	if count <= 0 {
		count = DefaultCount
	}

	ctx, span := observe.StartSpan(observe.WithPoem(ctx, p.ID), "dictation.generate")
	span.SetAttributes(
		attribute.Int("dictation.count", count),
		attribute.Int("dictation.previous", len(previous)),
	)

	resp, err := g.provider.Complete(ctx, llm.CompletionRequest{
		Messages:    Messages(p, previous, count),
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	})
	if err != nil {
		observe.EndSpan(span, err)
		return nil, err
	}

	raw := ""
	if resp != nil {
		raw = resp.Content
	}
	qs, err := ParseQuestions(raw)
	if err != nil {
		observe.Logger(ctx).Warn("dictation: unusable model reply",
			slog.Int("reply_len", len(raw)),
			slog.Any("err", err),
		)
		observe.EndSpan(span, err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("dictation.parsed", len(qs)))
	observe.EndSpan(span, nil)
	return qs, nil
}
