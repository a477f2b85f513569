// Package observe provides application-wide observability primitives for
// Parley: OpenTelemetry metrics, distributed tracing, structured logging,
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

	"github.com/parley-labs/parley/internal/turn"
)

// meterName is the instrumentation scope name used for all Parley metrics.
const meterName = "github.com/parley-labs/parley"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per turn stage ---

	// TranscriptionDuration tracks the clip-upload-to-text round-trip.
	TranscriptionDuration metric.Float64Histogram

	// SubmissionDuration tracks answer submission latency.
	SubmissionDuration metric.Float64Histogram

	// ClipDuration tracks the length of finalized answer recordings.
	ClipDuration metric.Float64Histogram

	// --- Counters ---

	// TurnTransitions counts coordinator state transitions. Use with
	// attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	TurnTransitions metric.Int64Counter

	// TurnFailures counts non-fatal coordinator failures by kind
	// (capture_start, transcription, submission, device_lost, ...).
	TurnFailures metric.Int64Counter

	// AnswersSubmitted counts answer submissions by status.
	AnswersSubmitted metric.Int64Counter

	// --- Gauges ---

	// StateClients tracks the number of connected turn-state feed clients.
	StateClients metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

var _ turn.Metrics = (*Metrics)(nil)

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// speech round-trips: transcription of a one-minute answer can take several
// seconds.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// clipBuckets covers answer lengths from a one-word reply to a rambling
// three-minute monologue.
var clipBuckets = []float64{
	1, 5, 10, 30, 60, 120, 180, 300,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TranscriptionDuration, err = m.Float64Histogram("parley.transcription.duration",
		metric.WithDescription("Latency of clip transcription round-trips."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SubmissionDuration, err = m.Float64Histogram("parley.submission.duration",
		metric.WithDescription("Latency of answer submission round-trips."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ClipDuration, err = m.Float64Histogram("parley.clip.duration",
		metric.WithDescription("Length of finalized answer recordings."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(clipBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.TurnTransitions, err = m.Int64Counter("parley.turn.transitions",
		metric.WithDescription("Total coordinator state transitions by from and to state."),
	); err != nil {
		return nil, err
	}
	if met.TurnFailures, err = m.Int64Counter("parley.turn.failures",
		metric.WithDescription("Total non-fatal coordinator failures by kind."),
	); err != nil {
		return nil, err
	}
	if met.AnswersSubmitted, err = m.Int64Counter("parley.answers.submitted",
		metric.WithDescription("Total answer submissions by status."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.StateClients, err = m.Int64UpDownCounter("parley.state_clients",
		metric.WithDescription("Number of connected turn-state feed clients."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("parley.http.request.duration",
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

// Transition implements [turn.Metrics].
func (m *Metrics) Transition(ctx context.Context, from, to turn.State) {
	m.TurnTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from.String()),
			attribute.String("to", to.String()),
		),
	)
}

// Failure implements [turn.Metrics].
func (m *Metrics) Failure(ctx context.Context, kind string) {
	m.TurnFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordTranscription records one transcription round-trip.
func (m *Metrics) RecordTranscription(ctx context.Context, d time.Duration, status string) {
	m.TranscriptionDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordSubmission records one answer submission round-trip.
func (m *Metrics) RecordSubmission(ctx context.Context, d time.Duration, status string) {
	m.SubmissionDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("status", status)),
	)
	m.AnswersSubmitted.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// Clip implements [turn.Metrics]: the length of a finalized recording.
func (m *Metrics) Clip(ctx context.Context, d time.Duration) {
	m.ClipDuration.Record(ctx, d.Seconds())
}
