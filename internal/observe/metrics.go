// Package observe provides application-wide observability primitives for
// the realtime meeting-companion server: OpenTelemetry metrics,
// distributed tracing, structured logging, and HTTP middleware that ties
// them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
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
const meterName = "github.com/notemesh/realtime-core"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks batch ASR transcription latency (§4.4).
	STTDuration metric.Float64Histogram

	// LLMDuration tracks recap/Q&A LLM inference latency (§4.8, §4.9).
	LLMDuration metric.Float64Histogram

	// ObjectStoreDuration tracks object-store PutObject/PresignGet latency (§4.6).
	ObjectStoreDuration metric.Float64Histogram

	// RecapBuildDuration tracks end-to-end recap-window build latency (§4.8).
	RecapBuildDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// AudioRecordsRotated counts audio records rotated or flushed by the
	// audio rotator (§4.3).
	AudioRecordsRotated metric.Int64Counter

	// RecapWindowsEmitted counts recap windows built and published,
	// including revisions (§4.7, §4.8).
	RecapWindowsEmitted metric.Int64Counter

	// FramesCaptured counts slide changes that passed the candidate and
	// dedup gates and were persisted (§4.5, §4.6).
	FramesCaptured metric.Int64Counter

	// ToolCallProposals counts Q&A escalations that produced a human-gated
	// tool-call proposal rather than a direct answer (§4.9).
	ToolCallProposals metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// ASRErrors counts batch ASR requests that failed (§4.4, §7).
	ASRErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live meeting/course sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveConnections tracks the number of open WebSocket connections
	// across all channels (§4.11).
	ActiveConnections metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) suited to
// batch-ASR and LLM round trips, which run several seconds longer than a
// typical HTTP request.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("realtimecore.stt.duration",
		metric.WithDescription("Latency of batch ASR transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("realtimecore.llm.duration",
		metric.WithDescription("Latency of recap/Q&A LLM inference."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ObjectStoreDuration, err = m.Float64Histogram("realtimecore.objectstore.duration",
		metric.WithDescription("Latency of object-store PutObject/PresignGet calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RecapBuildDuration, err = m.Float64Histogram("realtimecore.recap.build_duration",
		metric.WithDescription("End-to-end recap-window build latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("realtimecore.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.AudioRecordsRotated, err = m.Int64Counter("realtimecore.audio.records_rotated",
		metric.WithDescription("Total audio records rotated or flushed."),
	); err != nil {
		return nil, err
	}
	if met.RecapWindowsEmitted, err = m.Int64Counter("realtimecore.recap.windows_emitted",
		metric.WithDescription("Total recap windows built and published, including revisions."),
	); err != nil {
		return nil, err
	}
	if met.FramesCaptured, err = m.Int64Counter("realtimecore.video.frames_captured",
		metric.WithDescription("Total slide-change frames persisted after dedup."),
	); err != nil {
		return nil, err
	}
	if met.ToolCallProposals, err = m.Int64Counter("realtimecore.qna.tool_call_proposals",
		metric.WithDescription("Total Q&A escalations that produced a tool-call proposal."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("realtimecore.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.ASRErrors, err = m.Int64Counter("realtimecore.stt.errors",
		metric.WithDescription("Total batch ASR requests that failed."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("realtimecore.active_sessions",
		metric.WithDescription("Number of live meeting/course sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveConnections, err = m.Int64UpDownCounter("realtimecore.active_connections",
		metric.WithDescription("Number of open WebSocket connections across all channels."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("realtimecore.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
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

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordAudioRecordRotated is a convenience method that records one
// rotated-or-flushed audio record.
func (m *Metrics) RecordAudioRecordRotated(ctx context.Context, sessionKind string) {
	m.AudioRecordsRotated.Add(ctx, 1,
		metric.WithAttributes(attribute.String("session_kind", sessionKind)),
	)
}

// RecordRecapWindowEmitted is a convenience method that records one
// published recap window.
func (m *Metrics) RecordRecapWindowEmitted(ctx context.Context, sessionKind string, revision int) {
	m.RecapWindowsEmitted.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("session_kind", sessionKind),
			attribute.Bool("is_revision", revision > 0),
		),
	)
}

// RecordFrameCaptured is a convenience method that records one persisted
// captured frame.
func (m *Metrics) RecordFrameCaptured(ctx context.Context, reason string) {
	m.FramesCaptured.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordToolCallProposal is a convenience method that records one Q&A
// escalation to a tool-call proposal.
func (m *Metrics) RecordToolCallProposal(ctx context.Context) {
	m.ToolCallProposals.Add(ctx, 1)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordASRError is a convenience method that records one failed batch ASR
// request.
func (m *Metrics) RecordASRError(ctx context.Context) {
	m.ASRErrors.Add(ctx, 1)
}
