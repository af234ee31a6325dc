// Package speech plays translated utterances aloud, strictly one at a time
// and in arrival order.
//
// A [Queue] owns a single worker goroutine. Each item is synthesised with a
// [tts.Provider] and played to completion on an [audio.Player] before the next
// one starts. A failed item is reported and skipped; it never stalls the
// queue.
package speech

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/babelcast/internal/observe"
	"github.com/MrWong99/babelcast/internal/pipeline"
	"github.com/MrWong99/babelcast/pkg/audio"
	"github.com/MrWong99/babelcast/pkg/provider/tts"
)

const (
	// DefaultCapacity bounds the number of pending items.
	DefaultCapacity = 64

	// DefaultSynthesisTimeout bounds one synthesis call.
	DefaultSynthesisTimeout = 15 * time.Second
)

// Item is one utterance waiting to be spoken.
type Item struct {
	Text       string
	Language   string
	SessionID  string
	Generation uint64

	// Voice overrides the voice table when non-empty.
	Voice  string
	Gender tts.Gender

	// Caption starts the caption for SessionID when playback begins.
	Caption bool
}

// Outcome reports how an item ended. Skipped items were stale or cleared
// before they were synthesised.
type Outcome struct {
	Item     Item
	Err      error
	Duration time.Duration
	Skipped  bool
}

// Captioner starts a caption session. It is satisfied by the caption
// scheduler.
type Captioner interface {
	Show(text, lang, sessionID string) error
}

// Option configures a [Queue].
type Option func(*Queue)

// WithCapacity bounds the number of pending items. When the queue is full the
// oldest pending item is dropped. Values < 1 are ignored.
func WithCapacity(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.capacity = n
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.log = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// WithErrorSink receives synthesis and playback failures.
func WithErrorSink(s pipeline.ErrorSink) Option {
	return func(q *Queue) { q.sink = s }
}

// WithOutcomes delivers one [Outcome] per item on ch. The channel must be
// drained.
func WithOutcomes(ch chan<- Outcome) Option {
	return func(q *Queue) { q.outcomes = ch }
}

// WithCaptioner starts captions at playback start for items with Caption set.
func WithCaptioner(c Captioner) Option {
	return func(q *Queue) { q.captioner = c }
}

// WithStale sets the staleness check applied to each item's generation
// before synthesis and again before playback.
func WithStale(fn func(generation uint64) bool) Option {
	return func(q *Queue) { q.stale = fn }
}

// WithSynthesisTimeout bounds each synthesis call.
func WithSynthesisTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// WithProviderName labels the synthesizer in metrics.
func WithProviderName(name string) Option {
	return func(q *Queue) { q.name = name }
}

// Queue is the serialized speech playback queue. All exported methods are
// safe for concurrent use.
type Queue struct {
	provider  tts.Provider
	player    audio.Player
	capacity  int
	timeout   time.Duration
	name      string
	log       *slog.Logger
	metrics   *observe.Metrics
	sink      pipeline.ErrorSink
	outcomes  chan<- Outcome
	captioner Captioner
	stale     func(uint64) bool

	mu       sync.Mutex
	items    []Item
	playing  *Item
	cancelFn context.CancelFunc
	closed   bool

	notify chan struct{}
	idle   chan struct{}
	done   chan struct{}
	exited chan struct{}
}

// New creates a Queue and starts its worker goroutine. Call [Queue.Close] to
// stop it.
func New(provider tts.Provider, player audio.Player, opts ...Option) *Queue {
	q := &Queue{
		provider: provider,
		player:   player,
		capacity: DefaultCapacity,
		timeout:  DefaultSynthesisTimeout,
		name:     "tts",
		log:      slog.Default(),
		notify:   make(chan struct{}, 1),
		idle:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	if q.sink == nil {
		q.sink = pipeline.LogSink{Log: q.log, Metrics: q.metrics}
	}
	go q.run()
	return q
}

// Consume queues a spoken utterance. Utterances with speech disabled are
// ignored.
func (q *Queue) Consume(_ context.Context, u pipeline.Utterance) {
	if !u.Speak {
		return
	}
	q.Enqueue(Item{
		Text:       u.TranslatedText,
		Language:   u.TargetLang,
		SessionID:  u.SessionID,
		Generation: u.Generation,
		Gender:     u.Gender,
		Caption:    u.Caption,
	})
}

// Enqueue appends item. When the queue is full the oldest pending item is
// dropped with a warning. Enqueue never blocks.
func (q *Queue) Enqueue(item Item) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	var dropped *Item
	if len(q.items) >= q.capacity {
		d := q.items[0]
		dropped = &d
		q.items[0] = Item{}
		q.items = q.items[1:]
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	ctx := context.Background()
	if dropped != nil {
		q.log.Warn("speech: queue full, dropping oldest item",
			"session_id", dropped.SessionID, "capacity", q.capacity)
		if q.metrics != nil {
			q.metrics.TTSDropped.Add(ctx, 1)
		}
	} else if q.metrics != nil {
		q.metrics.TTSQueueDepth.Add(ctx, 1)
	}

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Len returns the number of pending items, excluding the one playing.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Playing returns the session id of the item being synthesised or played.
func (q *Queue) Playing() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.playing == nil {
		return "", false
	}
	return q.playing.SessionID, true
}

// Clear drops every pending item and interrupts the item playing, if any.
func (q *Queue) Clear() {
	q.mu.Lock()
	n := len(q.items)
	clear(q.items)
	q.items = nil
	if q.cancelFn != nil {
		q.cancelFn()
	}
	q.mu.Unlock()

	if n > 0 {
		q.log.Debug("speech: cleared pending items", "items", n)
		if q.metrics != nil {
			q.metrics.TTSQueueDepth.Add(context.Background(), -int64(n))
		}
	}
}

// WaitIdle blocks until nothing is pending or playing, or ctx ends.
func (q *Queue) WaitIdle(ctx context.Context) error {
	for {
		q.mu.Lock()
		idle := q.playing == nil && len(q.items) == 0
		q.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.idle:
		}
	}
}

// Close clears the queue, stops the worker and waits for it to exit. Close
// is idempotent.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	q.Clear()
	close(q.done)
	<-q.exited
	return nil
}

// run is the worker goroutine.
func (q *Queue) run() {
	defer close(q.exited)
	for {
		select {
		case <-q.done:
			return
		case <-q.notify:
		}
		for {
			item, ctx, ok := q.next()
			if !ok {
				break
			}
			out := q.speak(ctx, item)
			q.finish(out)
		}
	}
}

// next pops the head item and marks it playing.
func (q *Queue) next() (Item, context.Context, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || len(q.items) == 0 {
		q.playing = nil
		select {
		case q.idle <- struct{}{}:
		default:
		}
		return Item{}, nil, false
	}
	item := q.items[0]
	q.items[0] = Item{}
	q.items = q.items[1:]
	q.playing = &item

	ctx, cancel := context.WithCancel(context.Background())
	q.cancelFn = cancel
	if q.metrics != nil {
		q.metrics.TTSQueueDepth.Add(ctx, -1)
	}
	return item, ctx, true
}

func (q *Queue) finish(out Outcome) {
	q.mu.Lock()
	if q.cancelFn != nil {
		q.cancelFn()
		q.cancelFn = nil
	}
	q.mu.Unlock()

	if q.outcomes == nil {
		return
	}
	select {
	case q.outcomes <- out:
	case <-q.done:
	}
}

func (q *Queue) isStale(gen uint64) bool {
	return q.stale != nil && q.stale(gen)
}

// speak synthesises and plays one item.
func (q *Queue) speak(ctx context.Context, item Item) Outcome {
	out := Outcome{Item: item}
	log := q.log.With("session_id", item.SessionID)
	if q.isStale(item.Generation) || ctx.Err() != nil {
		out.Skipped = true
		return out
	}

	synthCtx, cancel := context.WithTimeout(ctx, q.timeout)
	synthCtx, span := observe.StartBackendSpan(synthCtx, observe.SpanSynthesize, q.name,
		attribute.String("language", item.Language),
		attribute.String("session_id", item.SessionID),
	)
	start := time.Now()
	clip, err := q.provider.Synthesize(synthCtx, tts.Request{
		Text:     item.Text,
		Language: item.Language,
		Voice:    item.Voice,
		Gender:   item.Gender,
	})
	if ctx.Err() == nil {
		observe.FailSpan(span, err)
	}
	span.End()
	cancel()
	if q.metrics != nil {
		q.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		if ctx.Err() != nil {
			out.Skipped = true
			return out
		}
		if q.metrics != nil {
			q.metrics.RecordProviderRequest(ctx, q.name, "tts", "error")
		}
		q.sink.Report(observe.StageSynthesis, err)
		// The text is still worth showing when it cannot be spoken.
		q.caption(log, item)
		out.Err = err
		return out
	}
	if q.metrics != nil {
		q.metrics.RecordProviderRequest(ctx, q.name, "tts", "ok")
	}
	if q.isStale(item.Generation) || ctx.Err() != nil {
		out.Skipped = true
		return out
	}

	q.caption(log, item)
	log.Debug("speech: playing", "format", clip.Format, "bytes", len(clip.Data))
	d, err := q.player.Play(ctx, clip)
	out.Duration = d
	if q.metrics != nil && d > 0 {
		q.metrics.PlaybackDuration.Record(ctx, d.Seconds())
	}
	switch {
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		log.Debug("speech: playback interrupted")
		out.Skipped = true
	case err != nil:
		q.sink.Report(observe.StagePlayback, err)
		out.Err = err
	}
	return out
}

func (q *Queue) caption(log *slog.Logger, item Item) {
	if !item.Caption || q.captioner == nil {
		return
	}
	if err := q.captioner.Show(item.Text, item.Language, item.SessionID); err != nil {
		log.Debug("speech: caption not shown", "err", err)
	}
}
