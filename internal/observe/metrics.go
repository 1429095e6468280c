// Package observe provides application-wide observability primitives for
// streamscribe: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [InitProvider]
// installs a Prometheus exporter bridge that registers the metrics with the
// Prometheus default registry; no /metrics HTTP handler is mounted by this
// module. A package-level default
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

// meterName is the instrumentation scope name used for all streamscribe metrics.
const meterName = "github.com/riftcast/streamscribe"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// AsrDuration tracks the time a streaming ASR session stays open, from
	// open() to the terminal event.
	AsrDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// AssemblerFrames counts Frames emitted by the Frame Assembler.
	AssemblerFrames metric.Int64Counter

	// SSEEvents counts TranscriptEvents written to an SSE stream, by kind.
	SSEEvents metric.Int64Counter

	// AsrErrors counts ASR Client failures by error kind.
	AsrErrors metric.Int64Counter

	// SessionsCreated counts sessions created by the Registry.
	SessionsCreated metric.Int64Counter

	// SessionsRejected counts GetOrCreate calls that failed with
	// CapacityExceeded.
	SessionsRejected metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live (Open+Finishing) sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for streaming-session latencies (sub-second frame cadence up to
// multi-minute sessions).
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.AsrDuration, err = m.Float64Histogram("streamscribe.asr.duration",
		metric.WithDescription("Duration of a streaming ASR session from open to terminal event."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("streamscribe.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if met.AssemblerFrames, err = m.Int64Counter("streamscribe.assembler.frames",
		metric.WithDescription("Total Frames emitted by the Frame Assembler."),
	); err != nil {
		return nil, err
	}
	if met.SSEEvents, err = m.Int64Counter("streamscribe.sse.events",
		metric.WithDescription("Total TranscriptEvents written to SSE streams, by kind."),
	); err != nil {
		return nil, err
	}
	if met.AsrErrors, err = m.Int64Counter("streamscribe.asr.errors",
		metric.WithDescription("Total ASR Client failures by error kind."),
	); err != nil {
		return nil, err
	}
	if met.SessionsCreated, err = m.Int64Counter("streamscribe.session.created",
		metric.WithDescription("Total sessions created by the Registry."),
	); err != nil {
		return nil, err
	}
	if met.SessionsRejected, err = m.Int64Counter("streamscribe.session.rejected",
		metric.WithDescription("Total GetOrCreate calls rejected with CapacityExceeded."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("streamscribe.session.active",
		metric.WithDescription("Number of live (Open+Finishing) sessions."),
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

// RecordAsrError is a convenience method that records an ASR error counter
// increment with the standard attribute set.
func (m *Metrics) RecordAsrError(ctx context.Context, kind string) {
	m.AsrErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordSSEEvent is a convenience method that records an SSE event counter
// increment, tagged with the transcript kind ("partial", "final", "error").
func (m *Metrics) RecordSSEEvent(ctx context.Context, kind string) {
	m.SSEEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
