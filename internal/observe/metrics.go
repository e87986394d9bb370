// Package observe provides the observability primitives for voxnode:
// OpenTelemetry metrics, tracing helpers, and HTTP middleware that ties them
// together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported for
// Prometheus scraping via [InitProvider]. Tests should use [NewMetrics] with
// their own [metric.MeterProvider] to avoid cross-test pollution.
//
// A nil *Metrics is valid: every Record method is a no-op on it, so components
// can be built without telemetry.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxnode metrics.
const meterName = "github.com/MrWong99/voxnode"

// Metrics holds the OpenTelemetry instruments for the application.
type Metrics struct {
	// --- Latency histograms ---

	// ChatDuration tracks chat relay latency. Attributes: provider, mode
	// ("ask" or "stream"), status.
	ChatDuration metric.Float64Histogram

	// ToolExecutionDuration tracks MCP tool handler latency. Attribute: tool.
	ToolExecutionDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	// method, path.
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// ChatErrors counts failed chat requests. Attributes: provider, kind
	// ("config", "unsupported", "remote", "timeout").
	ChatErrors metric.Int64Counter

	// RecognitionEvents counts events forwarded by the recognition adapter.
	// Attribute: kind ("interim", "final", "forced_final", "error", "end").
	RecognitionEvents metric.Int64Counter

	// VoiceCommands counts intercepted voice commands. Attributes: command,
	// language.
	VoiceCommands metric.Int64Counter

	// SessionTransitions counts session status changes. Attribute: status.
	SessionTransitions metric.Int64Counter

	// NotebookWrites counts notebook store mutations. Attribute: op.
	NotebookWrites metric.Int64Counter

	// ToolCalls counts MCP tool invocations. Attributes: tool, status.
	ToolCalls metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Attributes:
	// provider, state.
	BreakerTransitions metric.Int64Counter

	// --- Gauges ---

	// ActiveSubscribers tracks websocket clients following the live session.
	ActiveSubscribers metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries in seconds. Chat answers
// from reasoning models routinely take several seconds.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40,
}

// NewMetrics creates every instrument using mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ChatDuration, err = m.Float64Histogram("voxnode.chat.duration",
		metric.WithDescription("Latency of chat relay requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("voxnode.tool_execution.duration",
		metric.WithDescription("Latency of MCP tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxnode.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if met.ChatErrors, err = m.Int64Counter("voxnode.chat.errors",
		metric.WithDescription("Failed chat requests by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.RecognitionEvents, err = m.Int64Counter("voxnode.recognition.events",
		metric.WithDescription("Recognition events forwarded to the session by kind."),
	); err != nil {
		return nil, err
	}
	if met.VoiceCommands, err = m.Int64Counter("voxnode.voice_commands",
		metric.WithDescription("Intercepted voice commands by command and language."),
	); err != nil {
		return nil, err
	}
	if met.SessionTransitions, err = m.Int64Counter("voxnode.session.transitions",
		metric.WithDescription("Session status changes by target status."),
	); err != nil {
		return nil, err
	}
	if met.NotebookWrites, err = m.Int64Counter("voxnode.notebook.writes",
		metric.WithDescription("Notebook store mutations by operation."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("voxnode.tool.calls",
		metric.WithDescription("MCP tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("voxnode.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by provider and new state."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSubscribers, err = m.Int64UpDownCounter("voxnode.active_subscribers",
		metric.WithDescription("Websocket clients following the live session."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Call it after [InitProvider] so the
// instruments bind to the exporting provider.
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordChat records one chat request's latency and outcome.
func (m *Metrics) RecordChat(ctx context.Context, provider, mode, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ChatDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		Attr("provider", provider), Attr("mode", mode), Attr("status", status),
	))
}

// RecordChatError counts a failed chat request.
func (m *Metrics) RecordChatError(ctx context.Context, provider, kind string) {
	if m == nil {
		return
	}
	m.ChatErrors.Add(ctx, 1, metric.WithAttributes(Attr("provider", provider), Attr("kind", kind)))
}

// RecordRecognitionEvent counts a forwarded recognition event.
func (m *Metrics) RecordRecognitionEvent(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.RecognitionEvents.Add(ctx, 1, metric.WithAttributes(Attr("kind", kind)))
}

// RecordVoiceCommand counts an intercepted voice command.
func (m *Metrics) RecordVoiceCommand(ctx context.Context, command, language string) {
	if m == nil {
		return
	}
	m.VoiceCommands.Add(ctx, 1, metric.WithAttributes(Attr("command", command), Attr("language", language)))
}

// RecordSessionTransition counts a session status change.
func (m *Metrics) RecordSessionTransition(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.SessionTransitions.Add(ctx, 1, metric.WithAttributes(Attr("status", status)))
}

// RecordNotebookWrite counts a notebook store mutation.
func (m *Metrics) RecordNotebookWrite(ctx context.Context, op string) {
	if m == nil {
		return
	}
	m.NotebookWrites.Add(ctx, 1, metric.WithAttributes(Attr("op", op)))
}

// RecordToolCall records an MCP tool invocation.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ToolCalls.Add(ctx, 1, metric.WithAttributes(Attr("tool", tool), Attr("status", status)))
	m.ToolExecutionDuration.Record(ctx, d.Seconds(), metric.WithAttributes(Attr("tool", tool)))
}

// RecordBreakerTransition counts a circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, state string) {
	if m == nil {
		return
	}
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(Attr("provider", provider), Attr("state", state)))
}

// AddSubscribers adjusts the active websocket subscriber gauge by delta.
func (m *Metrics) AddSubscribers(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.ActiveSubscribers.Add(ctx, delta)
}
