package observe

import (
	"context"
	"slices"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumFor returns the value of the data point in the named sum whose attribute
// key equals value, and whether it was found.
func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) (int64, bool) {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.AsString() == value {
				return dp.Value, true
			}
		}
	}
	return 0, false
}

func TestHistograms(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	// A slow hosted model and a quick poem lookup.
	m.LLMDuration.Record(ctx, 31.5)
	m.LLMDuration.Record(ctx, 0.8)
	m.HTTPRequestDuration.Record(ctx, 0.004)

	rm := collect(t, reader)
	tests := []struct {
		name      string
		count     uint64
		llmBounds bool
	}{
		{"poems.llm.duration", 2, true},
		{"poems.http.request.duration", 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			met := findMetric(rm, tt.name)
			if met == nil {
				t.Fatalf("metric %q not found", tt.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok || len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no histogram points", tt.name)
			}
			dp := hist.DataPoints[0]
			if dp.Count != tt.count {
				t.Errorf("count = %d, want %d", dp.Count, tt.count)
			}
			if tt.llmBounds && !slices.Equal(dp.Bounds, latencyBuckets) {
				t.Errorf("bounds = %v, want %v", dp.Bounds, latencyBuckets)
			}
		})
	}
}

func TestCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "deepseek", "complete", "ok")
	m.RecordProviderRequest(ctx, "deepseek", "stream", "ok")
	m.RecordProviderRequest(ctx, "deepseek", "complete", "error")
	m.RecordProviderError(ctx, "compat", "stream")
	m.RecordGeneration(ctx, "ok")
	m.RecordGeneration(ctx, "malformed")
	m.RecordGeneration(ctx, "ok")
	m.RecordCheck(ctx, "typos")
	m.RecordChatStream(ctx, "cancelled")
	m.RecordPublish(ctx, "chat")
	m.RecordPublish(ctx, "chat")
	m.RecordBreakerTransition(ctx, "deepseek", "open")

	rm := collect(t, reader)

	cases := []struct {
		name, key, value string
		want             int64
	}{
		{"poems.provider.requests", "status", "error", 1},
		{"poems.provider.errors", "kind", "stream", 1},
		{"poems.dictation.generations", "outcome", "ok", 2},
		{"poems.dictation.generations", "outcome", "malformed", 1},
		{"poems.dictation.checks", "verdict", "typos", 1},
		{"poems.chat.streams", "outcome", "cancelled", 1},
		{"poems.snapshot.publishes", "kind", "chat", 2},
		{"poems.provider.breaker_transitions", "state", "open", 1},
	}
	for _, tc := range cases {
		t.Run(tc.name+"/"+tc.value, func(t *testing.T) {
			got, ok := sumFor(t, rm, tc.name, tc.key, tc.value)
			if !ok {
				t.Fatalf("data point %s=%s not found", tc.key, tc.value)
			}
			if got != tc.want {
				t.Errorf("value = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestGauges(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveStreams.Add(ctx, 3)
	m.ActiveStreams.Add(ctx, -1)
	m.ActiveSessions.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "chat")))
	m.ActiveSessions.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "chat")))

	rm := collect(t, reader)

	met := findMetric(rm, "poems.chat.active_streams")
	if met == nil {
		t.Fatal("active_streams not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) == 0 {
		t.Fatal("active_streams has no data points")
	}
	if got := sum.DataPoints[0].Value; got != 2 {
		t.Errorf("active_streams = %d, want 2", got)
	}

	if got, ok := sumFor(t, rm, "poems.active_sessions", "kind", "chat"); !ok || got != 2 {
		t.Errorf("active_sessions{kind=chat} = %d (found %v), want 2", got, ok)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
