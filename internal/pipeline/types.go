// Package pipeline turns captured audio batches into translated utterances.
//
// A [Pipeline] owns one capture run: it feeds frames from an [audio.Source]
// into a [capture.Buffer], hands each drained batch to the single-flight
// [Dispatcher], translates the recognised text with a [TranslationStage],
// stamps the result with a session id and fans the [Utterance] out to every
// registered [Consumer] (captions, speech queue, event publisher).
//
// Cancellation is logical: every batch carries the buffer generation it was
// captured in, and results whose generation is no longer current are dropped.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MrWong99/babelcast/internal/observe"
	"github.com/MrWong99/babelcast/pkg/provider/tts"
)

var (
	// ErrBusy is returned by [Dispatcher.Recognize] when a recognition
	// request is already in flight.
	ErrBusy = errors.New("pipeline: recognition already in flight")

	// ErrTranslation wraps every translation failure, including an empty
	// translation.
	ErrTranslation = errors.New("pipeline: translation failed")

	// ErrRunning is returned by [Pipeline.Run] when a run is already active.
	ErrRunning = errors.New("pipeline: already running")
)

// Settings are the user-facing knobs that may change while a run is active.
type Settings struct {
	// From is the BCP-47 tag of the captured speech (e.g. "en-US").
	From string

	// To is the target language (e.g. "es").
	To string

	// Gender selects the synthesis voice.
	Gender tts.Gender

	// Speech enables spoken output.
	Speech bool

	// Captions enables the caption overlay.
	Captions bool
}

// RecognizedText is a successful recognition of one batch.
type RecognizedText struct {
	Text       string
	Lang       string
	BatchSeq   uint64
	Generation uint64
}

// Utterance is one translated piece of speech handed to consumers.
type Utterance struct {
	SessionID      string
	SourceText     string
	TranslatedText string
	SourceLang     string
	TargetLang     string
	CreatedAt      time.Time

	// Generation is the capture generation the audio belongs to. Consumers
	// compare it with [Pipeline.Generation] to skip work after a stop.
	Generation uint64

	// Speak and Caption carry the output toggles active when the utterance
	// was created.
	Speak   bool
	Caption bool
	Gender  tts.Gender
}

// Consumer receives every utterance in creation order. Consume is called on
// the dispatch goroutine and must not block on slow work; queue it instead.
type Consumer interface {
	Consume(ctx context.Context, u Utterance)
}

// ConsumerFunc adapts a function to [Consumer].
type ConsumerFunc func(ctx context.Context, u Utterance)

// Consume calls f.
func (f ConsumerFunc) Consume(ctx context.Context, u Utterance) { f(ctx, u) }

// Result is the outcome of one dispatched batch. Exactly one of Utterance
// and Err is set, unless the batch was dropped (no speech, stale), in which
// case both are zero and Dropped names the reason.
type Result struct {
	BatchSeq   uint64
	Generation uint64
	Utterance  *Utterance
	Err        error
	Dropped    string
}

// ErrorSink receives errors caught at stage boundaries. Reporting never
// stops the pipeline.
type ErrorSink interface {
	Report(stage string, err error)
}

// ErrorSinkFunc adapts a function to [ErrorSink].
type ErrorSinkFunc func(stage string, err error)

// Report calls f.
func (f ErrorSinkFunc) Report(stage string, err error) { f(stage, err) }

// LogSink is the default [ErrorSink]: it logs through slog and counts the
// error by stage.
type LogSink struct {
	Log     *slog.Logger
	Metrics *observe.Metrics
}

// Report logs err at warn level. Context cancellation is logged at debug.
func (s LogSink) Report(stage string, err error) {
	l := s.Log
	if l == nil {
		l = slog.Default()
	}
	if errors.Is(err, context.Canceled) {
		l.Debug("pipeline: stage cancelled", "stage", stage)
		return
	}
	l.Warn("pipeline: stage failed", "stage", stage, "err", err)
	if s.Metrics != nil {
		s.Metrics.RecordPipelineError(context.Background(), stage)
	}
}
