// Package observe provides application-wide observability primitives for
// babelcast: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all babelcast metrics.
const meterName = "github.com/MrWong99/babelcast"

// Stage names used as the "stage" attribute and as error sink keys.
const (
	StageCapture   = "capture"
	StageRecognize = "recognize"
	StageTranslate = "translate"
	StageSynthesis = "synthesis"
	StagePlayback  = "playback"
	StageCaption   = "caption"
	StagePublish   = "publish"
)

// CaptureStats is the counter snapshot reported by [Metrics.ObserveCapture].
type CaptureStats struct {
	Accepted uint64
	Gated    uint64
	Dropped  uint64
	Buffered int
}

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	meter metric.Meter

	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks recognition request latency.
	STTDuration metric.Float64Histogram

	// TranslateDuration tracks translation request latency.
	TranslateDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// PlaybackDuration tracks how long each clip played.
	PlaybackDuration metric.Float64Histogram

	// UtteranceLatency tracks batch dispatch to utterance fan-out.
	UtteranceLatency metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// Batches counts batches handed to the recognizer. Use with attribute:
	//   attribute.String("result", "text"|"no_speech"|"error"|"busy")
	Batches metric.Int64Counter

	// Utterances counts utterances fanned out. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	Utterances metric.Int64Counter

	// CaptionsShown counts caption sessions started.
	CaptionsShown metric.Int64Counter

	// TTSDropped counts speech items evicted from a full queue.
	TTSDropped metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("state", ...)
	BreakerTransitions metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// PipelineErrors counts errors reported to the error sink. Use with attribute:
	//   attribute.String("stage", ...)
	PipelineErrors metric.Int64Counter

	// --- Gauges ---

	// TTSQueueDepth tracks the number of queued speech items.
	TTSQueueDepth metric.Int64UpDownCounter

	// ActiveCaptures tracks the number of running capture pipelines (0 or 1).
	ActiveCaptures metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for remote speech service latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{meter: m}

	histogram := func(name, desc string) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
	}

	// Histograms.
	if met.STTDuration, err = histogram("babelcast.stt.duration", "Latency of speech recognition requests."); err != nil {
		return nil, err
	}
	if met.TranslateDuration, err = histogram("babelcast.translate.duration", "Latency of translation requests."); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = histogram("babelcast.tts.duration", "Latency of text-to-speech synthesis."); err != nil {
		return nil, err
	}
	if met.PlaybackDuration, err = histogram("babelcast.playback.duration", "Duration of played speech clips."); err != nil {
		return nil, err
	}
	if met.UtteranceLatency, err = histogram("babelcast.utterance.latency", "Time from batch dispatch to utterance fan-out."); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("babelcast.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.Batches, err = m.Int64Counter("babelcast.capture.batches",
		metric.WithDescription("Total audio batches dispatched by result."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("babelcast.utterances",
		metric.WithDescription("Total translated utterances by language pair."),
	); err != nil {
		return nil, err
	}
	if met.CaptionsShown, err = m.Int64Counter("babelcast.captions.shown",
		metric.WithDescription("Total caption sessions started."),
	); err != nil {
		return nil, err
	}
	if met.TTSDropped, err = m.Int64Counter("babelcast.tts.dropped",
		metric.WithDescription("Speech items evicted from a full playback queue."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("babelcast.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("babelcast.provider.breaker_transitions",
		metric.WithDescription("Circuit breaker state changes by provider and new state."),
	); err != nil {
		return nil, err
	}
	if met.PipelineErrors, err = m.Int64Counter("babelcast.pipeline.errors",
		metric.WithDescription("Total errors reported by pipeline stage."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.TTSQueueDepth, err = m.Int64UpDownCounter("babelcast.tts.queue_depth",
		metric.WithDescription("Number of speech items waiting for playback."),
	); err != nil {
		return nil, err
	}
	if met.ActiveCaptures, err = m.Int64UpDownCounter("babelcast.active_captures",
		metric.WithDescription("Number of running capture pipelines."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("babelcast.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// ObserveCapture registers fn as the source of the capture frame counters.
// fn is called on every collection; it must be cheap and safe for concurrent
// use. The returned function unregisters the callback.
func (m *Metrics) ObserveCapture(fn func() CaptureStats) (unregister func() error, err error) {
	frames, err := m.meter.Int64ObservableCounter("babelcast.capture.frames",
		metric.WithDescription("Captured audio frames by result (accepted, gated, dropped)."),
	)
	if err != nil {
		return nil, err
	}
	buffered, err := m.meter.Int64ObservableGauge("babelcast.capture.buffered",
		metric.WithDescription("Frames waiting in the capture buffer."),
	)
	if err != nil {
		return nil, err
	}
	reg, err := m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := fn()
		o.ObserveInt64(frames, int64(s.Accepted), metric.WithAttributes(attribute.String("result", "accepted")))
		o.ObserveInt64(frames, int64(s.Gated), metric.WithAttributes(attribute.String("result", "gated")))
		o.ObserveInt64(frames, int64(s.Dropped), metric.WithAttributes(attribute.String("result", "dropped")))
		o.ObserveInt64(buffered, int64(s.Buffered))
		return nil
	}, frames, buffered)
	if err != nil {
		return nil, err
	}
	return reg.Unregister, nil
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

// RecordBreakerTransition records a circuit breaker of provider entering state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, kind, state string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("state", state),
		),
	)
}

// RecordBatch records one dispatched batch with its result.
func (m *Metrics) RecordBatch(ctx context.Context, result string) {
	m.Batches.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordUtterance records one fanned-out utterance.
func (m *Metrics) RecordUtterance(ctx context.Context, from, to string) {
	m.Utterances.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordPipelineError records one error reported by stage.
func (m *Metrics) RecordPipelineError(ctx context.Context, stage string) {
	m.PipelineErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}
