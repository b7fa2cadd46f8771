// Package observe provides application-wide observability primitives for
// VoiceGuard: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
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

// meterName is the instrumentation scope name used for all VoiceGuard metrics.
const meterName = "github.com/MrWong99/voiceguard"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Detection pipeline ---

	// ChunksProcessed counts audio chunks pulled from the source.
	ChunksProcessed metric.Int64Counter

	// SpeechChunks counts chunks in which speech was detected.
	SpeechChunks metric.Int64Counter

	// Assessments counts threat assessments. Use with attribute:
	//   attribute.String("level", ...)
	Assessments metric.Int64Counter

	// VADFrameErrors counts VAD frames that failed classification.
	VADFrameErrors metric.Int64Counter

	// AudioDropped counts chunks discarded by a full capture queue.
	AudioDropped metric.Int64Counter

	// --- Incidents ---

	// Incidents counts recorded incidents. Use with attribute:
	//   attribute.String("level", ...)
	Incidents metric.Int64Counter

	// IncidentFailures counts incidents whose metadata could not be persisted.
	IncidentFailures metric.Int64Counter

	// EvidenceFailures counts incidents persisted without evidence audio.
	EvidenceFailures metric.Int64Counter

	// --- Content analysis ---

	// AnalysisDuration tracks transcription plus keyword scoring latency.
	AnalysisDuration metric.Float64Histogram

	// AnalysisErrors counts failed content analyses.
	AnalysisErrors metric.Int64Counter

	// --- Alerts ---

	// AlertDispatches counts alert deliveries. Use with attributes:
	//   attribute.String("transport", ...), attribute.String("status", ...)
	AlertDispatches metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attributes:
	//   attribute.String("breaker", ...), attribute.String("state", ...)
	BreakerTransitions metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of running monitoring sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Content
// analysis runs a full transcription, so the upper buckets reach 30 s.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.ChunksProcessed, "voiceguard.audio.chunks", "Total audio chunks processed."},
		{&met.SpeechChunks, "voiceguard.audio.speech_chunks", "Total audio chunks containing speech."},
		{&met.Assessments, "voiceguard.threat.assessments", "Total threat assessments by level."},
		{&met.VADFrameErrors, "voiceguard.vad.frame_errors", "Total VAD frames that failed classification."},
		{&met.AudioDropped, "voiceguard.audio.dropped", "Total audio chunks dropped by the capture queue."},
		{&met.Incidents, "voiceguard.incidents", "Total incidents recorded by level."},
		{&met.IncidentFailures, "voiceguard.incident.failures", "Total incidents whose metadata could not be persisted."},
		{&met.EvidenceFailures, "voiceguard.incident.evidence_failures", "Total incidents persisted without evidence audio."},
		{&met.AnalysisErrors, "voiceguard.analysis.errors", "Total failed content analyses."},
		{&met.AlertDispatches, "voiceguard.alert.dispatches", "Total alert deliveries by transport and status."},
		{&met.BreakerTransitions, "voiceguard.breaker.transitions", "Total circuit breaker state changes."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	if met.AnalysisDuration, err = m.Float64Histogram("voiceguard.analysis.duration",
		metric.WithDescription("Latency of transcript-based content analysis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("voiceguard.active_sessions",
		metric.WithDescription("Number of running monitoring sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("voiceguard.http.request.duration",
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
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// RecordAssessment increments the assessment counter for level.
func (m *Metrics) RecordAssessment(ctx context.Context, level string) {
	m.Assessments.Add(ctx, 1, metric.WithAttributes(attribute.String("level", level)))
}

// RecordIncident increments the incident counter for level.
func (m *Metrics) RecordIncident(ctx context.Context, level string) {
	m.Incidents.Add(ctx, 1, metric.WithAttributes(attribute.String("level", level)))
}

// RecordAlert records one alert delivery attempt.
func (m *Metrics) RecordAlert(ctx context.Context, transport, status string) {
	m.AlertDispatches.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("transport", transport),
			attribute.String("status", status),
		),
	)
}

// RecordBreakerTransition records a circuit breaker moving to state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, state string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("breaker", breaker),
			attribute.String("state", state),
		),
	)
}
