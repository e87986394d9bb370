package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
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

// sumWhere returns the value of the data point of counter name whose attribute
// key equals value.
func sumWhere(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
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
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	t.Fatalf("metric %q: no data point with %s=%s", name, key, value)
	return 0
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordChat(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordChat(ctx, "groq", "ask", "ok", 1200*time.Millisecond)
	m.RecordChat(ctx, "groq", "stream", "ok", 3*time.Second)
	m.RecordChatError(ctx, "groq", "remote")

	rm := collect(t, reader)
	met := findMetric(rm, "voxnode.chat.duration")
	if met == nil {
		t.Fatal("chat duration not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("chat duration is not a histogram")
	}
	var total uint64
	for _, dp := range hist.DataPoints {
		total += dp.Count
	}
	if total != 2 {
		t.Errorf("sample count = %d, want 2", total)
	}
	if got := sumWhere(t, rm, "voxnode.chat.errors", "kind", "remote"); got != 1 {
		t.Errorf("chat errors = %d, want 1", got)
	}
}

func TestCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordRecognitionEvent(ctx, "final")
	m.RecordRecognitionEvent(ctx, "final")
	m.RecordRecognitionEvent(ctx, "interim")
	m.RecordVoiceCommand(ctx, "pause", "it")
	m.RecordSessionTransition(ctx, "listening")
	m.RecordNotebookWrite(ctx, "add_entry")
	m.RecordToolCall(ctx, "add_entry", "ok", 10*time.Millisecond)
	m.RecordToolCall(ctx, "add_entry", "error", 10*time.Millisecond)
	m.RecordBreakerTransition(ctx, "groq", "open")

	rm := collect(t, reader)
	tests := []struct {
		name, key, value string
		want             int64
	}{
		{"voxnode.recognition.events", "kind", "final", 2},
		{"voxnode.recognition.events", "kind", "interim", 1},
		{"voxnode.voice_commands", "command", "pause", 1},
		{"voxnode.session.transitions", "status", "listening", 1},
		{"voxnode.notebook.writes", "op", "add_entry", 1},
		{"voxnode.tool.calls", "status", "ok", 1},
		{"voxnode.breaker.transitions", "state", "open", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name+"/"+tt.value, func(t *testing.T) {
			if got := sumWhere(t, rm, tt.name, tt.key, tt.value); got != tt.want {
				t.Errorf("value = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestActiveSubscribers(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()
	m.AddSubscribers(ctx, 1)
	m.AddSubscribers(ctx, 1)
	m.AddSubscribers(ctx, -1)

	met := findMetric(collect(t, reader), "voxnode.active_subscribers")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum := met.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) == 0 || sum.DataPoints[0].Value != 1 {
		t.Errorf("gauge = %+v, want 1", sum.DataPoints)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordChat(ctx, "groq", "ask", "ok", time.Second)
	m.RecordChatError(ctx, "groq", "config")
	m.RecordRecognitionEvent(ctx, "final")
	m.RecordVoiceCommand(ctx, "stop", "en")
	m.RecordSessionTransition(ctx, "paused")
	m.RecordNotebookWrite(ctx, "create")
	m.RecordToolCall(ctx, "list_notebooks", "ok", time.Millisecond)
	m.RecordBreakerTransition(ctx, "groq", "closed")
	m.AddSubscribers(ctx, 1)
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
