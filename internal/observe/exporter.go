package observe

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// TraceExporterConfig selects a span exporter.
type TraceExporterConfig struct {
	// OTLPEndpoint is the host:port of an OTLP/gRPC collector. It takes
	// precedence over Stdout.
	OTLPEndpoint string
	OTLPInsecure bool

	// Stdout pretty-prints spans to Writer (os.Stdout when nil).
	Stdout bool
	Writer io.Writer
}

// NewTraceExporter builds the exporter described by cfg. It returns nil, nil
// when no exporter is configured; spans are then recorded but dropped.
func NewTraceExporter(ctx context.Context, cfg TraceExporterConfig) (sdktrace.SpanExporter, error) {
	if endpoint := strings.TrimSpace(cfg.OTLPEndpoint); endpoint != "" {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	}
	if cfg.Stdout {
		opts := []stdouttrace.Option{stdouttrace.WithPrettyPrint()}
		if cfg.Writer != nil {
			opts = append(opts, stdouttrace.WithWriter(cfg.Writer))
		}
		return stdouttrace.New(opts...)
	}
	return nil, nil
}

// MetricsHandler serves the metrics registered by [InitProvider] in the
// Prometheus text format.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
