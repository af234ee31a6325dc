package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/babelcast/internal/observe"
	"github.com/MrWong99/babelcast/pkg/audio"
	"github.com/MrWong99/babelcast/pkg/audio/capture"
	"github.com/MrWong99/babelcast/pkg/audio/wire"
	"github.com/MrWong99/babelcast/pkg/provider"
	"github.com/MrWong99/babelcast/pkg/provider/stt"
)

// DefaultRequestTimeout bounds every remote call made by the pipeline.
const DefaultRequestTimeout = 15 * time.Second

// DispatcherOption configures a [Dispatcher].
type DispatcherOption func(*Dispatcher)

// WithDispatchTimeout sets the per-request timeout. Values <= 0 are ignored.
func WithDispatchTimeout(d time.Duration) DispatcherOption {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.timeout = d
		}
	}
}

// WithDispatchMetrics sets the metrics sink.
func WithDispatchMetrics(m *observe.Metrics) DispatcherOption {
	return func(disp *Dispatcher) { disp.metrics = m }
}

// WithEncoding forces the batch encoding instead of asking the recognizer.
func WithEncoding(enc wire.Encoding) DispatcherOption {
	return func(disp *Dispatcher) { disp.encoder.Encoding = enc }
}

// Dispatcher sends batches to the recognizer, one at a time.
type Dispatcher struct {
	recognizer stt.Provider
	name       string
	encoder    wire.Encoder
	timeout    time.Duration
	metrics    *observe.Metrics

	busy atomic.Bool
}

// NewDispatcher creates a Dispatcher for recognizer. name labels metrics and
// logs. The batch encoding defaults to the recognizer's preferred encoding
// (see [stt.EncodingPreferrer]) or WAV.
func NewDispatcher(recognizer stt.Provider, name string, opts ...DispatcherOption) *Dispatcher {
	enc := wire.EncodingWAV
	if ep, ok := recognizer.(stt.EncodingPreferrer); ok {
		enc = ep.PreferredEncoding()
	}
	d := &Dispatcher{
		recognizer: recognizer,
		name:       name,
		encoder:    wire.Encoder{Encoding: enc, SampleRate: audio.DefaultSampleRate},
		timeout:    DefaultRequestTimeout,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Busy reports whether a recognition request is in flight.
func (d *Dispatcher) Busy() bool { return d.busy.Load() }

// Recognize encodes batch and sends it to the recognizer under the request
// timeout. A second call while one is in flight fails with [ErrBusy] without
// sending anything. [stt.ErrNoSpeech] is returned unchanged for silent
// batches; other failures are typically *provider.TransportError values.
func (d *Dispatcher) Recognize(ctx context.Context, batch capture.Batch, lang string) (RecognizedText, error) {
	if !d.busy.CompareAndSwap(false, true) {
		d.record(ctx, "busy")
		return RecognizedText{}, ErrBusy
	}
	defer d.busy.Store(false)

	enc := d.encoder
	if len(batch.Frames) > 0 && batch.Frames[0].SampleRate > 0 {
		enc.SampleRate = batch.Frames[0].SampleRate
	}
	payload, err := enc.Encode(batch.Frames)
	if err != nil {
		d.record(ctx, "error")
		return RecognizedText{}, fmt.Errorf("pipeline: encode batch %d: %w", batch.Seq, err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	ctx, span := observe.StartBackendSpan(ctx, observe.SpanRecognize, d.name,
		attribute.Int64("batch_seq", int64(batch.Seq)),
		attribute.String("encoding", string(payload.Encoding)),
	)
	defer span.End()

	start := time.Now()
	res, err := d.recognizer.Recognize(ctx, stt.Request{Audio: payload, Language: lang})
	if d.metrics != nil {
		d.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	}
	switch {
	case errors.Is(err, stt.ErrNoSpeech):
		d.record(ctx, "no_speech")
		return RecognizedText{}, err
	case err != nil:
		observe.FailSpan(span, err)
		d.record(ctx, "error")
		if d.metrics != nil {
			d.metrics.RecordProviderError(ctx, d.name, errorKind(err))
		}
		return RecognizedText{}, err
	case res.Text == "":
		d.record(ctx, "no_speech")
		return RecognizedText{}, stt.ErrNoSpeech
	}

	d.record(ctx, "text")
	observe.Logger(ctx).Debug("recognized batch",
		"provider", d.name, "batch_seq", batch.Seq, "chars", len(res.Text))
	out := RecognizedText{Text: res.Text, Lang: res.Language, BatchSeq: batch.Seq, Generation: batch.Generation}
	if out.Lang == "" {
		out.Lang = lang
	}
	return out, nil
}

func (d *Dispatcher) record(ctx context.Context, result string) {
	if d.metrics == nil {
		return
	}
	d.metrics.RecordBatch(ctx, result)
	status := "ok"
	if result == "error" {
		status = "error"
	}
	if result != "busy" {
		d.metrics.RecordProviderRequest(ctx, d.name, "stt", status)
	}
}

// errorKind classifies err for the provider error counter.
func errorKind(err error) string {
	var te *provider.TransportError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &te) && te.StatusCode != 0:
		return fmt.Sprintf("http_%d", te.StatusCode)
	case errors.As(err, &te):
		return "network"
	}
	return "other"
}

// logBatch is the attribute set attached to per-batch log lines.
func logBatch(b capture.Batch) slog.Attr {
	return slog.Group("batch", "seq", b.Seq, "generation", b.Generation, "frames", len(b.Frames))
}
