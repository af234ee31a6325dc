// Package capture accumulates live audio frames, silence-gates them and
// drains fixed-size batches to a [Dispatcher] in strict FIFO order.
//
// [Buffer.Push] is safe to call from a real-time audio callback: it never
// blocks and never performs I/O. All heavier work happens on the goroutine
// running [Buffer.Run], which hands one batch at a time to the dispatcher and
// only re-examines the backlog after that dispatch has returned.
package capture

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/babelcast/pkg/audio"
)

const (
	// DefaultThreshold is the number of frames per batch.
	DefaultThreshold = 5

	// DefaultSilenceThreshold is the level (0-255) at or below which a frame
	// is treated as silence and discarded.
	DefaultSilenceThreshold = 10.0

	// DefaultMaxBacklog bounds the number of buffered frames. When the
	// dispatcher falls behind, the oldest frames are dropped first.
	DefaultMaxBacklog = 10 * DefaultThreshold
)

// Batch is an ordered group of exactly Threshold frames.
type Batch struct {
	// Seq numbers batches from 1 in dispatch order within a generation.
	Seq uint64

	// Generation is the buffer generation the frames were captured in. It
	// changes on every [Buffer.Stop].
	Generation uint64

	// Frames are in capture order.
	Frames []audio.Frame
}

// Dispatcher receives drained batches. Dispatch is called from a single
// goroutine and must return only when the batch has been fully handled
// (successfully or not); the buffer does not drain the next batch before.
type Dispatcher interface {
	Dispatch(ctx context.Context, batch Batch)
}

// DispatcherFunc adapts a function to [Dispatcher].
type DispatcherFunc func(ctx context.Context, batch Batch)

// Dispatch calls f.
func (f DispatcherFunc) Dispatch(ctx context.Context, batch Batch) { f(ctx, batch) }

// Stats is a snapshot of the buffer's counters.
type Stats struct {
	Accepted uint64 // frames appended to the backlog
	Gated    uint64 // frames discarded as silence
	Dropped  uint64 // frames evicted because the backlog was full
	Batches  uint64 // batches handed to the dispatcher
	Buffered int    // frames currently waiting
}

// Option configures a [Buffer].
type Option func(*Buffer)

// WithThreshold sets the number of frames per batch. Values < 1 are ignored.
func WithThreshold(n int) Option {
	return func(b *Buffer) {
		if n > 0 {
			b.threshold = n
		}
	}
}

// WithSilenceThreshold sets the 0-255 level at or below which frames are
// discarded. A negative value disables gating.
func WithSilenceThreshold(level float64) Option {
	return func(b *Buffer) { b.silence = level }
}

// WithMaxBacklog bounds the number of buffered frames. Values smaller than
// the batch threshold are raised to the threshold when the buffer is built.
func WithMaxBacklog(n int) Option {
	return func(b *Buffer) { b.maxBacklog = n }
}

// WithLevelFunc replaces the energy measure used for silence gating.
func WithLevelFunc(fn func(pcm []byte) float64) Option {
	return func(b *Buffer) {
		if fn != nil {
			b.level = fn
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(b *Buffer) {
		if l != nil {
			b.log = l
		}
	}
}

// Buffer is the capture backlog. Create with [New]; the zero value is not usable.
type Buffer struct {
	dispatcher Dispatcher
	threshold  int
	maxBacklog int
	silence    float64
	level      func([]byte) float64
	log        *slog.Logger

	mu         sync.Mutex
	frames     []audio.Frame
	draining   bool
	seq        uint64
	generation uint64

	kick chan struct{}
	idle chan struct{}

	accepted atomic.Uint64
	gated    atomic.Uint64
	dropped  atomic.Uint64
	batches  atomic.Uint64
}

// New creates a Buffer that hands batches to d.
func New(d Dispatcher, opts ...Option) *Buffer {
	b := &Buffer{
		dispatcher: d,
		threshold:  DefaultThreshold,
		maxBacklog: DefaultMaxBacklog,
		silence:    DefaultSilenceThreshold,
		level:      audio.Level,
		log:        slog.Default(),
		kick:       make(chan struct{}, 1),
		idle:       make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(b)
	}
	if b.maxBacklog < b.threshold {
		b.maxBacklog = b.threshold
	}
	return b
}

// Threshold returns the number of frames per batch.
func (b *Buffer) Threshold() int { return b.threshold }

// Push offers one frame to the buffer and reports whether it was kept.
// Frames whose level is at or below the silence threshold are discarded.
// When the backlog is full the oldest frame is evicted.
func (b *Buffer) Push(frame audio.Frame) bool {
	if b.silence >= 0 && b.level(frame.Data) <= b.silence {
		b.gated.Add(1)
		return false
	}

	b.mu.Lock()
	if len(b.frames) >= b.maxBacklog {
		b.frames[0] = audio.Frame{}
		b.frames = b.frames[1:]
		b.dropped.Add(1)
	}
	b.frames = append(b.frames, frame)
	ready := len(b.frames) >= b.threshold && !b.draining
	b.mu.Unlock()

	b.accepted.Add(1)
	if ready {
		select {
		case b.kick <- struct{}{}:
		default:
		}
	}
	return true
}

// Run drains batches to the dispatcher until ctx is cancelled. Run must be
// called from exactly one goroutine.
func (b *Buffer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.kick:
			b.drain(ctx)
		}
	}
}

// drain hands batches to the dispatcher one at a time until fewer than
// threshold frames remain.
func (b *Buffer) drain(ctx context.Context) {
	for {
		b.mu.Lock()
		if len(b.frames) < b.threshold || ctx.Err() != nil {
			b.draining = false
			b.mu.Unlock()
			select {
			case b.idle <- struct{}{}:
			default:
			}
			return
		}
		b.draining = true
		b.seq++
		batch := Batch{
			Seq:        b.seq,
			Generation: b.generation,
			Frames:     make([]audio.Frame, b.threshold),
		}
		copy(batch.Frames, b.frames[:b.threshold])
		clear(b.frames[:b.threshold])
		b.frames = b.frames[b.threshold:]
		b.mu.Unlock()

		b.batches.Add(1)
		b.log.Debug("capture: dispatching batch", "seq", batch.Seq, "generation", batch.Generation, "frames", len(batch.Frames))
		b.dispatcher.Dispatch(ctx, batch)
	}
}

// Stop discards every buffered frame, cancels a pending drain trigger and
// starts a new generation. A dispatch already in progress is allowed to
// finish; downstream stages compare its batch generation against
// [Buffer.Generation] to discard the late result.
func (b *Buffer) Stop() {
	b.mu.Lock()
	n := len(b.frames)
	clear(b.frames)
	b.frames = nil
	b.seq = 0
	b.generation++
	b.mu.Unlock()

	select {
	case <-b.kick:
	default:
	}
	if n > 0 {
		b.log.Debug("capture: stopped, discarded buffered frames", "frames", n)
	}
}

// WaitIdle blocks until fewer than Threshold frames are buffered and no batch
// is being dispatched, or ctx ends. It requires [Buffer.Run] to be active.
// Sources that end (files, closed pipes) use it to let the backlog drain
// before shutting the pipeline down.
func (b *Buffer) WaitIdle(ctx context.Context) error {
	for {
		b.mu.Lock()
		done := !b.draining && len(b.frames) < b.threshold
		b.mu.Unlock()
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.idle:
		}
	}
}

// Generation returns the current buffer generation.
func (b *Buffer) Generation() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.generation
}

// Len returns the number of buffered frames.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

// Stats returns a snapshot of the buffer counters.
func (b *Buffer) Stats() Stats {
	return Stats{
		Accepted: b.accepted.Load(),
		Gated:    b.gated.Load(),
		Dropped:  b.dropped.Load(),
		Batches:  b.batches.Load(),
		Buffered: b.Len(),
	}
}
