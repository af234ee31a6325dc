package observe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// RunIDKey is the resource attribute carrying the run ID, so spans and
// metrics of one babelcast process can be told apart from the next.
const RunIDKey = attribute.Key("babelcast.run_id")

// ProviderConfig configures the global meter and tracer providers.
type ProviderConfig struct {
	// ServiceName defaults to "babelcast".
	ServiceName    string
	ServiceVersion string

	// RunID identifies this process. A random UUID is used when empty.
	RunID string

	// SourceLang and TargetLang are the languages configured at startup.
	// They are recorded on the resource; runtime changes are not.
	SourceLang string
	TargetLang string

	// TraceExporter receives finished spans. Nil records spans without
	// exporting them.
	TraceExporter sdktrace.SpanExporter

	// SampleRatio is the fraction of root traces kept. Values outside (0, 1)
	// keep every trace.
	SampleRatio float64

	// Registerer receives the Prometheus collector. Default:
	// prometheus.DefaultRegisterer, which is what [MetricsHandler] serves.
	Registerer prometheus.Registerer
}

// Telemetry holds the providers built by [InitProvider].
type Telemetry struct {
	RunID  string
	Meters *sdkmetric.MeterProvider
	Traces *sdktrace.TracerProvider
}

// Shutdown flushes pending spans and stops both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.Traces.Shutdown(ctx), t.Meters.Shutdown(ctx))
}

// InitProvider builds a Prometheus-backed meter provider and a tracer
// provider, registers both globally together with a W3C trace context
// propagator, and routes OTel internal errors to slog.
func InitProvider(ctx context.Context, cfg ProviderConfig) (*Telemetry, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "babelcast"
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.ServiceInstanceID(cfg.RunID),
		RunIDKey.String(cfg.RunID),
	}
	if cfg.SourceLang != "" {
		attrs = append(attrs, attribute.String("babelcast.source_lang", cfg.SourceLang))
	}
	if cfg.TargetLang != "" {
		attrs = append(attrs, attribute.String("babelcast.target_lang", cfg.TargetLang))
	}
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(semconv.SchemaURL, attrs...))
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}

	var promOpts []promexporter.Option
	if cfg.Registerer != nil {
		promOpts = append(promOpts, promexporter.WithRegisterer(cfg.Registerer))
	}
	promExp, err := promexporter.New(promOpts...)
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExp),
	)

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		slog.Warn("observe: otel error", "err", err)
	}))

	slog.InfoContext(ctx, "telemetry initialised",
		"run_id", cfg.RunID, "exporting_traces", cfg.TraceExporter != nil)
	return &Telemetry{RunID: cfg.RunID, Meters: mp, Traces: tp}, nil
}

func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}
