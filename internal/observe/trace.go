package observe

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/jerryz/poems"

// PoemIDKey is the span attribute carrying the poem a session works on.
const PoemIDKey = attribute.Key("poem.id")

type poemKey struct{}

// WithPoem tags ctx with the poem a session works on. Spans started from it
// by [StartSpan] and loggers from [Logger] carry the ID.
func WithPoem(ctx context.Context, id int) context.Context {
	return context.WithValue(ctx, poemKey{}, id)
}

// PoemID returns the ID set by [WithPoem].
func PoemID(ctx context.Context) (int, bool) {
	id, ok := ctx.Value(poemKey{}).(int)
	return id, ok
}

// Tracer returns the application tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span, adding [PoemIDKey] when ctx carries a poem. The
// caller ends it, usually with [EndSpan].
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if id, ok := PoemID(ctx); ok {
		opts = append(opts, trace.WithAttributes(PoemIDKey.Int(id)))
	}
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID is the trace ID of the span in ctx, or "". It is returned to
// clients as X-Correlation-ID and logged as trace_id.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with trace_id, span_id and poem_id
// attached when ctx has them.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if id, ok := PoemID(ctx); ok {
		l = l.With(slog.Int("poem_id", id))
	}
	return l
}

// EndSpan ends span, marking it failed when err is set. A cancelled context
// is the user stopping a reply or leaving, so it is recorded as the
// "cancelled" attribute rather than an error.
func EndSpan(span trace.Span, err error) {
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		span.SetAttributes(attribute.Bool("cancelled", true))
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
