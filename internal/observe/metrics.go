// Package observe provides application-wide observability primitives for
// Trunkline: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Trunkline metrics.
const meterName = "github.com/MrWong99/trunkline"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Call lifecycle ---

	// ActiveCalls tracks the number of calls currently bridged.
	ActiveCalls metric.Int64UpDownCounter

	// CallsTotal counts calls that have ended. Use with attribute:
	//   attribute.String("outcome", ...)
	CallsTotal metric.Int64Counter

	// CallDuration tracks wall-clock call length from stream start to teardown.
	CallDuration metric.Float64Histogram

	// --- Audio path ---

	// FramesForwarded counts media frames relayed across the bridge. Use with
	// attribute: attribute.String("direction", ...)
	FramesForwarded metric.Int64Counter

	// FramesDropped counts media frames discarded instead of relayed. Use with
	// attributes: attribute.String("direction", ...), attribute.String("reason", ...)
	FramesDropped metric.Int64Counter

	// --- Tool dispatch ---

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// ToolDuration tracks tool execution latency by tool name and status.
	ToolDuration metric.Float64Histogram

	// --- Transport ---

	// TransportErrors counts failures on either leg of the bridge. Use with
	// attribute: attribute.String("side", ...)
	TransportErrors metric.Int64Counter

	// ConnectDuration tracks how long the AI session takes to become ready
	// for audio after a call starts.
	ConnectDuration metric.Float64Histogram

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time on the ops
	// endpoints. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...),
	//   attribute.String("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for conversational round-trip latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// callBuckets defines histogram bucket boundaries (in seconds) for whole-call
// durations, from near-immediate hangups up to hour-long calls.
var callBuckets = []float64{
	5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Call lifecycle.
	if met.ActiveCalls, err = m.Int64UpDownCounter("trunkline.active_calls",
		metric.WithDescription("Number of calls currently bridged."),
	); err != nil {
		return nil, err
	}
	if met.CallsTotal, err = m.Int64Counter("trunkline.calls.total",
		metric.WithDescription("Total ended calls by outcome."),
	); err != nil {
		return nil, err
	}
	if met.CallDuration, err = m.Float64Histogram("trunkline.call.duration",
		metric.WithDescription("Wall-clock call duration."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(callBuckets...),
	); err != nil {
		return nil, err
	}

	// Audio path.
	if met.FramesForwarded, err = m.Int64Counter("trunkline.frames.forwarded",
		metric.WithDescription("Total media frames relayed by direction."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("trunkline.frames.dropped",
		metric.WithDescription("Total media frames discarded by direction and reason."),
	); err != nil {
		return nil, err
	}

	// Tool dispatch.
	if met.ToolCalls, err = m.Int64Counter("trunkline.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.ToolDuration, err = m.Float64Histogram("trunkline.tool.duration",
		metric.WithDescription("Latency of tool execution by tool name and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Transport.
	if met.TransportErrors, err = m.Int64Counter("trunkline.transport.errors",
		metric.WithDescription("Total transport failures by bridge side."),
	); err != nil {
		return nil, err
	}
	if met.ConnectDuration, err = m.Float64Histogram("trunkline.session.connect.duration",
		metric.WithDescription("Time until the AI session is ready for audio."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("trunkline.http.request.duration",
		metric.WithDescription("HTTP request latency by method, path, and status."),
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

// RecordCallStarted marks a call as active.
func (m *Metrics) RecordCallStarted(ctx context.Context) {
	m.ActiveCalls.Add(ctx, 1)
}

// RecordCallEnded marks a call as finished: it decrements the active gauge,
// counts the call under its outcome, and records the call duration.
func (m *Metrics) RecordCallEnded(ctx context.Context, outcome string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.ActiveCalls.Add(ctx, -1)
	m.CallsTotal.Add(ctx, 1, attrs)
	m.CallDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordFrameForwarded counts one relayed media frame.
func (m *Metrics) RecordFrameForwarded(ctx context.Context, direction string) {
	m.FramesForwarded.Add(ctx, 1,
		metric.WithAttributes(attribute.String("direction", direction)),
	)
}

// RecordFrameDropped counts one discarded media frame.
func (m *Metrics) RecordFrameDropped(ctx context.Context, direction, reason string) {
	m.FramesDropped.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("direction", direction),
			attribute.String("reason", reason),
		),
	)
}

// RecordToolCall records one tool invocation together with its latency.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status),
	)
	m.ToolCalls.Add(ctx, 1, attrs)
	m.ToolDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordTransportError counts one transport failure on the given bridge side.
func (m *Metrics) RecordTransportError(ctx context.Context, side string) {
	m.TransportErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("side", side)),
	)
}

// RecordSessionConnect records how long the AI session took to become ready.
func (m *Metrics) RecordSessionConnect(ctx context.Context, d time.Duration) {
	m.ConnectDuration.Record(ctx, d.Seconds())
}
