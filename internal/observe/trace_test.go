package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// useRecordingTracer installs an in-memory tracer provider as the global one
// for the duration of the test. Tests using it must not run in parallel.
func useRecordingTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureDefaultLog points slog.Default at a buffer until the test ends.
func captureDefaultLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func attrValue(attrs []attribute.KeyValue, key string) (string, bool) {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value.Emit(), true
		}
	}
	return "", false
}

func TestStartBackendSpan_RecordsProviderAndAttributes(t *testing.T) {
	exp := useRecordingTracer(t)

	ctx, span := StartBackendSpan(context.Background(), SpanRecognize, "azure",
		attribute.Int64("batch_seq", 7))
	if CorrelationID(ctx) == "" {
		t.Error("span context carries no trace id")
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	got := spans[0]
	if got.Name != "stt.recognize" {
		t.Errorf("name = %q", got.Name)
	}
	if got.SpanKind != trace.SpanKindClient {
		t.Errorf("kind = %v, want client", got.SpanKind)
	}
	if v, _ := attrValue(got.Attributes, "provider"); v != "azure" {
		t.Errorf("provider = %q", v)
	}
	if v, _ := attrValue(got.Attributes, "batch_seq"); v != "7" {
		t.Errorf("batch_seq = %q", v)
	}
	if got.Status.Code != codes.Unset {
		t.Errorf("status = %v, want unset", got.Status.Code)
	}
}

func TestFailSpan(t *testing.T) {
	exp := useRecordingTracer(t)

	_, passed := StartBackendSpan(context.Background(), SpanTranslate, "deepl")
	FailSpan(passed, nil)
	passed.End()

	_, failed := StartBackendSpan(context.Background(), SpanSynthesize, "google")
	FailSpan(failed, errors.New("quota exceeded"))
	failed.End()

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	if spans[0].Status.Code != codes.Unset || len(spans[0].Events) != 0 {
		t.Errorf("nil error marked span: %+v", spans[0].Status)
	}
	if spans[1].Status.Code != codes.Error || spans[1].Status.Description != "quota exceeded" {
		t.Errorf("status = %+v", spans[1].Status)
	}
	if len(spans[1].Events) != 1 || spans[1].Events[0].Name != "exception" {
		t.Errorf("events = %+v, want one exception event", spans[1].Events)
	}
}

func TestCorrelationID(t *testing.T) {
	useRecordingTracer(t)

	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}

	seen := make(map[string]bool)
	for range 50 {
		ctx, span := StartSpan(context.Background(), "utterance")
		cid := CorrelationID(ctx)
		span.End()
		if len(cid) != 32 || strings.Trim(cid, "0123456789abcdef") != "" {
			t.Fatalf("correlation id %q is not 32 hex chars", cid)
		}
		if seen[cid] {
			t.Fatalf("duplicate correlation id %s", cid)
		}
		seen[cid] = true
	}
}

func TestLogger(t *testing.T) {
	useRecordingTracer(t)
	buf := captureDefaultLog(t)

	Logger(context.Background()).Info("no span")
	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("log without span has trace_id: %s", buf.String())
	}
	buf.Reset()

	ctx, span := StartBackendSpan(context.Background(), SpanRecognize, "whisper")
	defer span.End()
	Logger(ctx).Info("recognized batch")

	logged := buf.String()
	if !strings.Contains(logged, "trace_id="+CorrelationID(ctx)) {
		t.Errorf("log missing trace_id: %s", logged)
	}
	if !strings.Contains(logged, "span_id="+span.SpanContext().SpanID().String()) {
		t.Errorf("log missing span_id: %s", logged)
	}
}
