// Package observe provides the observability primitives for voicecmd:
// OpenTelemetry metrics, distributed tracing, trace-aware logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and bridged to
// Prometheus by [InitProvider] so they can be scraped from /metrics. A
// package-level [DefaultMetrics] instance backs components that were not handed
// their own; tests should use [NewMetrics] with a [metric.MeterProvider] built
// on a manual reader to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voicecmd metrics.
const meterName = "github.com/MrWong99/voicecmd"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// ─── Recognition ───

	// RecognitionSessions counts listening sessions by how they ended.
	//   attribute.String("reason", "stop"|"abort"|"error"|"complete")
	RecognitionSessions metric.Int64Counter

	// RecognitionErrors counts classified recognition errors.
	//   attribute.String("type", ...), attribute.Bool("recoverable", ...)
	RecognitionErrors metric.Int64Counter

	// ActiveRecognition is 1 while a listening session is open.
	ActiveRecognition metric.Int64UpDownCounter

	// TimeToFinal tracks the delay between session start and the first
	// final transcript.
	TimeToFinal metric.Float64Histogram

	// ─── Confidence gate ───

	// GateDecisions counts policy decisions.
	//   attribute.String("band", ...), attribute.String("outcome", ...)
	GateDecisions metric.Int64Counter

	// ─── Command queue ───

	// QueueDepth is the number of commands currently held by the queue.
	QueueDepth metric.Int64Gauge

	// CommandExecutions counts execution attempts by result.
	//   attribute.String("result", "success"|"rejected"|"error")
	CommandExecutions metric.Int64Counter

	// SyncPasses counts sync passes by result.
	//   attribute.String("result", "completed"|"offline"|"busy")
	SyncPasses metric.Int64Counter

	// PersistErrors counts failed writes of the queue snapshot.
	PersistErrors metric.Int64Counter

	// ─── Remote executor ───

	// ExecutorDuration tracks remote executor round-trip latency.
	//   attribute.String("op", "execute"|"parse"|"ping")
	ExecutorDuration metric.Float64Histogram

	// BreakerTransitions counts circuit breaker state changes.
	//   attribute.String("breaker", ...), attribute.String("state", ...)
	BreakerTransitions metric.Int64Counter

	// NetworkTransitions counts online/offline flips.
	//   attribute.Bool("online", ...)
	NetworkTransitions metric.Int64Counter

	// ─── Feedback speaker ───

	// Utterances counts spoken responses by emotion and how they ended.
	//   attribute.String("emotion", ...), attribute.String("priority", ...),
	//   attribute.String("outcome", "completed"|"interrupted"|"stopped"|"error")
	Utterances metric.Int64Counter

	// TTSDuration tracks how long an utterance took to play.
	TTSDuration metric.Float64Histogram

	// ─── HTTP middleware ───

	// HTTPRequestDuration tracks HTTP request processing time.
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// round-trips to the remote executor and for speech.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.RecognitionSessions, "voicecmd.recognition.sessions", "Listening sessions by end reason."},
		{&met.RecognitionErrors, "voicecmd.recognition.errors", "Recognition errors by type."},
		{&met.GateDecisions, "voicecmd.gate.decisions", "Confidence gate decisions by band and outcome."},
		{&met.CommandExecutions, "voicecmd.queue.executions", "Command execution attempts by result."},
		{&met.SyncPasses, "voicecmd.queue.sync_passes", "Queue sync passes by result."},
		{&met.PersistErrors, "voicecmd.queue.persist_errors", "Failed writes of the queue snapshot."},
		{&met.BreakerTransitions, "voicecmd.breaker.transitions", "Circuit breaker state changes."},
		{&met.NetworkTransitions, "voicecmd.network.transitions", "Network availability changes."},
		{&met.Utterances, "voicecmd.speaker.utterances", "Spoken responses by emotion and outcome."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.TimeToFinal, "voicecmd.recognition.time_to_final", "Delay from session start to the first final transcript."},
		{&met.ExecutorDuration, "voicecmd.executor.duration", "Remote executor round-trip latency."},
		{&met.TTSDuration, "voicecmd.speaker.duration", "Playback time per utterance."},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	if met.ActiveRecognition, err = m.Int64UpDownCounter("voicecmd.recognition.active",
		metric.WithDescription("Open listening sessions."),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64Gauge("voicecmd.queue.depth",
		metric.WithDescription("Commands currently held by the offline queue."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("voicecmd.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status."),
		metric.WithUnit("s"),
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
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
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

// RecordRecognitionError counts one classified recognition error.
func (m *Metrics) RecordRecognitionError(ctx context.Context, typ string, recoverable bool) {
	m.RecognitionErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", typ),
		attribute.Bool("recoverable", recoverable),
	))
}

// RecordGateDecision counts one confidence gate decision.
func (m *Metrics) RecordGateDecision(ctx context.Context, band, outcome string) {
	m.GateDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("band", band),
		attribute.String("outcome", outcome),
	))
}

// RecordExecution counts one command execution attempt.
func (m *Metrics) RecordExecution(ctx context.Context, result string) {
	m.CommandExecutions.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordSyncPass counts one sync pass.
func (m *Metrics) RecordSyncPass(ctx context.Context, result string) {
	m.SyncPasses.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordExecutorCall records the latency of one remote executor call.
func (m *Metrics) RecordExecutorCall(ctx context.Context, op string, seconds float64) {
	m.ExecutorDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("op", op)))
}

// RecordBreakerTransition counts one circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, state string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker", breaker),
		attribute.String("state", state),
	))
}

// RecordNetworkTransition counts one online/offline flip.
func (m *Metrics) RecordNetworkTransition(ctx context.Context, online bool) {
	m.NetworkTransitions.Add(ctx, 1, metric.WithAttributes(attribute.Bool("online", online)))
}

// RecordUtterance counts one spoken response and records its playback time.
func (m *Metrics) RecordUtterance(ctx context.Context, emotion, priority, outcome string, seconds float64) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(
		attribute.String("emotion", emotion),
		attribute.String("priority", priority),
		attribute.String("outcome", outcome),
	))
	if outcome == "completed" {
		m.TTSDuration.Record(ctx, seconds)
	}
}
