package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jerryz/poems/pkg/provider/llm"
)

// instrumentedLLM decorates an [llm.Provider] with a span per call, request
// and error counters, and the LLM latency histogram.
type instrumentedLLM struct {
	next    llm.Provider
	name    string
	metrics *Metrics
}

// WrapLLM returns p instrumented under the given provider name. A nil m uses
// [DefaultMetrics].
func WrapLLM(p llm.Provider, name string, m *Metrics) llm.Provider {
	if m == nil {
		m = DefaultMetrics()
	}
	return &instrumentedLLM{next: p, name: name, metrics: m}
}

func (p *instrumentedLLM) attrs(kind string) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("provider", p.name),
		attribute.String("kind", kind),
	)
}

// record finishes one call. Cancellation counts as its own status and not as
// a provider error.
func (p *instrumentedLLM) record(ctx context.Context, kind string, start time.Time, err error) {
	p.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds(), p.attrs(kind))
	switch {
	case err == nil:
		p.metrics.RecordProviderRequest(ctx, p.name, kind, "ok")
	case llm.IsCancellation(err):
		p.metrics.RecordProviderRequest(ctx, p.name, kind, "cancelled")
	default:
		p.metrics.RecordProviderRequest(ctx, p.name, kind, "error")
		p.metrics.RecordProviderError(ctx, p.name, kind)
	}
}

// Complete implements llm.Provider.
func (p *instrumentedLLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	ctx, span := StartSpan(ctx, "llm.complete",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.provider", p.name),
			attribute.Int("llm.messages", len(req.Messages)),
		),
	)
	start := time.Now()
	resp, err := p.next.Complete(ctx, req)
	if err == nil && resp != nil {
		span.SetAttributes(attribute.Int("llm.usage.total_tokens", resp.Usage.TotalTokens))
	}
	p.record(ctx, "complete", start, err)
	EndSpan(span, err)
	return resp, err
}

// StreamCompletion implements llm.Provider. The span and latency cover the
// whole stream and end when the returned channel closes.
func (p *instrumentedLLM) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	ctx, span := StartSpan(ctx, "llm.stream",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.provider", p.name),
			attribute.Int("llm.messages", len(req.Messages)),
		),
	)
	start := time.Now()
	ch, err := p.next.StreamCompletion(ctx, req)
	if err != nil {
		p.record(ctx, "stream", start, err)
		EndSpan(span, err)
		return nil, err
	}

	out := make(chan llm.Chunk)
	go func() {
		defer close(out)
		var (
			streamErr error
			chunks    int
		)
		for c := range ch {
			if c.FinishReason == llm.FinishError {
				streamErr = c.Err
			} else if c.Text != "" {
				chunks++
			}
			select {
			case out <- c:
			case <-ctx.Done():
				for range ch {
				}
				streamErr = ctx.Err()
				span.SetAttributes(attribute.Int("llm.chunks", chunks))
				p.record(context.WithoutCancel(ctx), "stream", start, streamErr)
				EndSpan(span, streamErr)
				return
			}
		}
		if streamErr == nil && ctx.Err() != nil {
			streamErr = ctx.Err()
		}
		span.SetAttributes(attribute.Int("llm.chunks", chunks))
		p.record(context.WithoutCancel(ctx), "stream", start, streamErr)
		EndSpan(span, streamErr)
	}()
	return out, nil
}

var _ llm.Provider = (*instrumentedLLM)(nil)
