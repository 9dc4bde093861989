// Package observe provides application-wide observability primitives for
// the poem tutor: OpenTelemetry metrics, distributed tracing, structured
// logging, an instrumented LLM provider wrapper, and HTTP middleware that
// ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped from the ops listener's /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/jerryz/poems"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// LLMDuration tracks chat-completion latency. For streams it measures the
	// whole stream, first byte to close. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	LLMDuration metric.Float64Histogram

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// Generations counts dictation question-set generations by outcome
	// ("ok", "malformed", "error").
	Generations metric.Int64Counter

	// Checks counts graded answers by verdict.
	Checks metric.Int64Counter

	// ChatStreams counts finished chat replies by outcome
	// ("ok", "cancelled", "error").
	ChatStreams metric.Int64Counter

	// ActiveStreams tracks chat replies currently streaming.
	ActiveStreams metric.Int64UpDownCounter

	// ActiveSessions tracks open dictation and chat sessions. Use with
	// attribute.String("kind", ...).
	ActiveSessions metric.Int64UpDownCounter

	// SnapshotPublishes counts snapshots handed to observers. Use with
	// attribute.String("kind", ...).
	SnapshotPublishes metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes by provider
	// and target state.
	BreakerTransitions metric.Int64Counter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...), attribute.String("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Chat
// completions against hosted models routinely take tens of seconds.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.LLMDuration, err = m.Float64Histogram("poems.llm.duration",
		metric.WithDescription("Latency of chat-completion calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("poems.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("poems.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.Generations, err = m.Int64Counter("poems.dictation.generations",
		metric.WithDescription("Dictation question-set generations by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Checks, err = m.Int64Counter("poems.dictation.checks",
		metric.WithDescription("Graded dictation answers by verdict."),
	); err != nil {
		return nil, err
	}
	if met.ChatStreams, err = m.Int64Counter("poems.chat.streams",
		metric.WithDescription("Finished chat replies by outcome."),
	); err != nil {
		return nil, err
	}
	if met.SnapshotPublishes, err = m.Int64Counter("poems.snapshot.publishes",
		metric.WithDescription("Session snapshots published to observers by kind."),
	); err != nil {
		return nil, err
	}

	if met.BreakerTransitions, err = m.Int64Counter("poems.provider.breaker_transitions",
		metric.WithDescription("Circuit breaker state changes by provider and target state."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveStreams, err = m.Int64UpDownCounter("poems.chat.active_streams",
		metric.WithDescription("Number of chat replies currently streaming."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("poems.active_sessions",
		metric.WithDescription("Number of open study sessions by kind."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("poems.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status class."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records a provider request counter increment with
// the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordGeneration records one dictation generation outcome.
func (m *Metrics) RecordGeneration(ctx context.Context, outcome string) {
	m.Generations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordCheck records one graded answer.
func (m *Metrics) RecordCheck(ctx context.Context, verdict string) {
	m.Checks.Add(ctx, 1, metric.WithAttributes(attribute.String("verdict", verdict)))
}

// RecordChatStream records one finished chat reply.
func (m *Metrics) RecordChatStream(ctx context.Context, outcome string) {
	m.ChatStreams.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordPublish records one snapshot publication.
func (m *Metrics) RecordPublish(ctx context.Context, kind string) {
	m.SnapshotPublishes.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordBreakerTransition records a provider's breaker moving to state to.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("state", to),
	))
}
