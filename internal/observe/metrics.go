// Package observe provides application-wide observability primitives for
// voxwire: OpenTelemetry metrics, distributed tracing, structured logging,
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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxwire metrics.
const meterName = "github.com/voxwire/voxwire"

// Metrics holds all OpenTelemetry metric instruments for the gateway.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Histograms ---

	// CallDuration tracks full call length from stream start to teardown.
	CallDuration metric.Float64Histogram

	// MarkRoundtrip tracks the time between sending a playback mark and the
	// provider echoing it back.
	MarkRoundtrip metric.Float64Histogram

	// TransliterateDuration tracks the latency of the Roman-script rewrite
	// call.
	TransliterateDuration metric.Float64Histogram

	// --- Counters ---

	// BargeIns counts caller interruptions of in-flight AI speech.
	BargeIns metric.Int64Counter

	// AudioPackets counts audio chunks crossing the bridge. Use with
	// attribute.String("direction", "in"|"out").
	AudioPackets metric.Int64Counter

	// DroppedPackets counts AI audio discarded by interruption drains or
	// human takeover. Use with attribute.String("cause", ...).
	DroppedPackets metric.Int64Counter

	// Transcripts counts transcript lines by speaker and disposition. Use
	// with attribute.String("speaker", ...), attribute.String("status", ...).
	Transcripts metric.Int64Counter

	// Renewals counts AI session renewals by status ("ok" or "error").
	Renewals metric.Int64Counter

	// EndCalls counts goodbye finalizations by trigger ("audio" when the
	// farewell was heard, "watchdog" when it was not).
	EndCalls metric.Int64Counter

	// Takeovers counts human takeover transitions by action
	// ("enable" or "disable").
	Takeovers metric.Int64Counter

	// --- Gauges ---

	// ActiveCalls tracks the number of live bridged calls.
	ActiveCalls metric.Int64UpDownCounter

	// HumanControlled tracks how many calls are currently under human
	// control.
	HumanControlled metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// sub-second control-path latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// callBuckets defines histogram bucket boundaries (in seconds) for whole-call
// durations.
var callBuckets = []float64{
	5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.CallDuration, err = m.Float64Histogram("voxwire.call.duration",
		metric.WithDescription("Call length from stream start to teardown."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(callBuckets...),
	); err != nil {
		return nil, err
	}
	if met.MarkRoundtrip, err = m.Float64Histogram("voxwire.mark.roundtrip",
		metric.WithDescription("Time between sending a playback mark and the provider echoing it."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TransliterateDuration, err = m.Float64Histogram("voxwire.transliterate.duration",
		metric.WithDescription("Latency of the Roman-script transcript rewrite."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.BargeIns, err = m.Int64Counter("voxwire.bargein.count",
		metric.WithDescription("Caller interruptions of in-flight AI speech."),
	); err != nil {
		return nil, err
	}
	if met.AudioPackets, err = m.Int64Counter("voxwire.audio.packets",
		metric.WithDescription("Audio chunks crossing the bridge by direction."),
	); err != nil {
		return nil, err
	}
	if met.DroppedPackets, err = m.Int64Counter("voxwire.audio.dropped",
		metric.WithDescription("AI audio chunks discarded by drains or human takeover."),
	); err != nil {
		return nil, err
	}
	if met.Transcripts, err = m.Int64Counter("voxwire.transcripts",
		metric.WithDescription("Transcript lines by speaker and disposition."),
	); err != nil {
		return nil, err
	}
	if met.Renewals, err = m.Int64Counter("voxwire.ai.renewals",
		metric.WithDescription("AI session renewals by status."),
	); err != nil {
		return nil, err
	}
	if met.EndCalls, err = m.Int64Counter("voxwire.endcall.finalized",
		metric.WithDescription("Goodbye finalizations by trigger."),
	); err != nil {
		return nil, err
	}
	if met.Takeovers, err = m.Int64Counter("voxwire.takeover.transitions",
		metric.WithDescription("Human takeover transitions by action."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCalls, err = m.Int64UpDownCounter("voxwire.active_calls",
		metric.WithDescription("Number of live bridged calls."),
	); err != nil {
		return nil, err
	}
	if met.HumanControlled, err = m.Int64UpDownCounter("voxwire.human_controlled",
		metric.WithDescription("Number of calls currently under human control."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxwire.http.request.duration",
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

// RecordAudioPacket records one audio chunk crossing the bridge.
func (m *Metrics) RecordAudioPacket(ctx context.Context, direction string) {
	m.AudioPackets.Add(ctx, 1,
		metric.WithAttributes(attribute.String("direction", direction)),
	)
}

// RecordDroppedPackets records AI audio discarded before playback.
func (m *Metrics) RecordDroppedPackets(ctx context.Context, cause string, n int64) {
	if n <= 0 {
		return
	}
	m.DroppedPackets.Add(ctx, n,
		metric.WithAttributes(attribute.String("cause", cause)),
	)
}

// RecordTranscript records one transcript line with its disposition
// ("broadcast", "filtered", or "stale").
func (m *Metrics) RecordTranscript(ctx context.Context, speaker, status string) {
	m.Transcripts.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("speaker", speaker),
			attribute.String("status", status),
		),
	)
}

// RecordRenewal records one AI session renewal attempt.
func (m *Metrics) RecordRenewal(ctx context.Context, status string) {
	m.Renewals.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordEndCall records one goodbye finalization.
func (m *Metrics) RecordEndCall(ctx context.Context, trigger string) {
	m.EndCalls.Add(ctx, 1,
		metric.WithAttributes(attribute.String("trigger", trigger)),
	)
}

// RecordTakeover records one human takeover transition.
func (m *Metrics) RecordTakeover(ctx context.Context, action string) {
	m.Takeovers.Add(ctx, 1,
		metric.WithAttributes(attribute.String("action", action)),
	)
}
