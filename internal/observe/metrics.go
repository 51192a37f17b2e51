// Package observe provides application-wide observability primitives for
// parley: OpenTelemetry metrics, tracing, trace-aware logging and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so the admin server can
// serve them on /metrics. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all parley metrics.
const meterName = "github.com/MrWong99/parley"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	meter metric.Meter

	// --- Latency histograms ---

	// FinalizeDuration tracks how long the transcription engine takes to
	// produce a final result once an endpoint fires.
	FinalizeDuration metric.Float64Histogram

	// SynthesisDuration tracks text-to-speech synthesis latency.
	SynthesisDuration metric.Float64Histogram

	// PlaybackDuration tracks how long each synthesized utterance played.
	PlaybackDuration metric.Float64Histogram

	// --- Endpointing counters ---

	// Utterances counts closed utterances. Use with attributes:
	//   attribute.String("end_reason", ...), attribute.String("outcome", ...)
	// where outcome is "final", "discarded" or "aborted".
	Utterances metric.Int64Counter

	// Partials counts emitted (deduplicated) partial results.
	Partials metric.Int64Counter

	// ClassifierFaults counts frames the voice activity detector failed on.
	ClassifierFaults metric.Int64Counter

	// TranscriptionRetries counts failed attempts that were retried. Use with
	// attribute.String("op", ...).
	TranscriptionRetries metric.Int64Counter

	// --- Provider counters ---

	// ProviderRequests counts provider calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Playback ---

	// PlaybackQueueDepth tracks requests waiting for or in playback.
	PlaybackQueueDepth metric.Int64UpDownCounter

	// PlaybackFailures counts requests skipped because synthesis or playback
	// failed. Use with attribute.String("stage", ...).
	PlaybackFailures metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks admin HTTP request processing time. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("route", ...), attribute.Int("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// transcription and synthesis latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// playbackBuckets covers spoken utterance lengths (in seconds).
var playbackBuckets = []float64{
	0.5, 1, 2, 4, 8, 15, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{meter: m}

	// Histograms.
	if met.FinalizeDuration, err = m.Float64Histogram("parley.transcription.finalize.duration",
		metric.WithDescription("Latency of final transcription after an endpoint."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesisDuration, err = m.Float64Histogram("parley.synthesis.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackDuration, err = m.Float64Histogram("parley.playback.duration",
		metric.WithDescription("Length of played utterances."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(playbackBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Utterances, err = m.Int64Counter("parley.utterances",
		metric.WithDescription("Closed utterances by end reason and outcome."),
	); err != nil {
		return nil, err
	}
	if met.Partials, err = m.Int64Counter("parley.partials",
		metric.WithDescription("Emitted partial results."),
	); err != nil {
		return nil, err
	}
	if met.ClassifierFaults, err = m.Int64Counter("parley.classifier.faults",
		metric.WithDescription("Frames the voice activity detector failed on."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptionRetries, err = m.Int64Counter("parley.transcription.retries",
		metric.WithDescription("Retried transcription stream failures by operation."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("parley.provider.requests",
		metric.WithDescription("Total provider requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("parley.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackFailures, err = m.Int64Counter("parley.playback.failures",
		metric.WithDescription("Playback requests skipped by failing stage."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.PlaybackQueueDepth, err = m.Int64UpDownCounter("parley.playback.queue_depth",
		metric.WithDescription("Playback requests queued or playing."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("parley.http.request.duration",
		metric.WithDescription("Admin HTTP request latency by method, route and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// FrameCounter is the read side of a frame queue.
type FrameCounter interface {
	Pushed() uint64
	Dropped() uint64
	Len() int
}

// ObserveFrameQueue registers asynchronous instruments that report the
// captured, dropped and buffered frame counts of q on every collection.
func (m *Metrics) ObserveFrameQueue(q FrameCounter) error {
	captured, err := m.meter.Int64ObservableCounter("parley.frames.captured",
		metric.WithDescription("Frames accepted into the capture queue."))
	if err != nil {
		return err
	}
	dropped, err := m.meter.Int64ObservableCounter("parley.frames.dropped",
		metric.WithDescription("Frames dropped because the capture queue was full."))
	if err != nil {
		return err
	}
	buffered, err := m.meter.Int64ObservableGauge("parley.frames.buffered",
		metric.WithDescription("Frames waiting in the capture queue."))
	if err != nil {
		return err
	}
	_, err = m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(captured, int64(q.Pushed()))
		o.ObserveInt64(dropped, int64(q.Dropped()))
		o.ObserveInt64(buffered, int64(q.Len()))
		return nil
	}, captured, dropped, buffered)
	return err
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

// RecordUtterance counts one closed utterance.
func (m *Metrics) RecordUtterance(ctx context.Context, endReason, outcome string) {
	m.Utterances.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("end_reason", endReason),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordRetry counts one retried transcription failure.
func (m *Metrics) RecordRetry(ctx context.Context, op string) {
	m.TranscriptionRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

// RecordPlaybackFailure counts one skipped playback request.
func (m *Metrics) RecordPlaybackFailure(ctx context.Context, stage string) {
	m.PlaybackFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
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
