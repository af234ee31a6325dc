// Package caption drives word-by-word caption highlighting.
//
// A [Scheduler] holds at most one active caption session. Showing a new
// caption supersedes the old one: its pending timer is stopped and any timer
// that fires late sees a different active session and does nothing. Each word
// arms exactly one single-shot timer for the next word, so drift is bounded
// by one word.
package caption

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/babelcast/internal/observe"
	"github.com/MrWong99/babelcast/internal/pipeline"
)

// Timer is a stoppable pending callback.
type Timer interface {
	Stop() bool
}

// Clock abstracts time so tests can drive timers.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// State is the scheduler state.
type State int

const (
	Idle State = iota
	Displaying
	Completed
	Hidden
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Displaying:
		return "displaying"
	case Completed:
		return "completed"
	case Hidden:
		return "hidden"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Option configures a [Scheduler].
type Option func(*Scheduler)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithSurfaceFactory sets how the surface is recreated after a failure.
// Without a factory a failing surface is reported immediately.
func WithSurfaceFactory(fn func() (Surface, error)) Option {
	return func(s *Scheduler) { s.factory = fn }
}

// WithErrorSink receives [ErrSurfaceUnavailable] warnings.
func WithErrorSink(sink pipeline.ErrorSink) Option {
	return func(s *Scheduler) { s.sink = sink }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// session is one displayed caption.
type session struct {
	id      string
	lang    string
	words   []string
	timings []time.Duration
	total   time.Duration
	start   time.Time
	timer   Timer
}

// Scheduler is the caption state machine. All methods are safe for
// concurrent use.
type Scheduler struct {
	clock   Clock
	factory func() (Surface, error)
	sink    pipeline.ErrorSink
	log     *slog.Logger
	metrics *observe.Metrics

	mu      sync.Mutex
	surface Surface
	active  *session
	state   State
	last    Frame
}

// NewScheduler creates a scheduler that renders to surface.
func NewScheduler(surface Surface, opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:   realClock{},
		log:     slog.Default(),
		surface: surface,
	}
	for _, o := range opts {
		o(s)
	}
	if s.sink == nil {
		s.sink = pipeline.LogSink{Log: s.log, Metrics: s.metrics}
	}
	return s
}

// Consume shows captions for utterances that are not spoken. Spoken
// utterances are captioned by the speech queue when their playback starts.
func (s *Scheduler) Consume(_ context.Context, u pipeline.Utterance) {
	if !u.Caption || u.Speak {
		return
	}
	_ = s.Show(u.TranslatedText, u.TargetLang, u.SessionID)
}

// Show starts a caption session, superseding the active one. The first word
// is highlighted immediately. A surface failure that survives one recreation
// drops the caption and returns [ErrSurfaceUnavailable]. Text without words
// still supersedes: the active caption is hidden and nothing replaces it.
func (s *Scheduler) Show(text, lang, sessionID string) error {
	words, timings, total := Timings(text, lang)

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(words) == 0 {
		s.hideLocked()
		return nil
	}
	s.cancelLocked()
	sess := &session{
		id:      sessionID,
		lang:    lang,
		words:   words,
		timings: timings,
		total:   total,
		start:   s.clock.Now(),
	}
	s.active = sess
	s.state = Displaying

	f := s.frame(sess, -1, 0)
	if err := s.publishLocked(opShow, f); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.CaptionsShown.Add(context.Background(), 1)
	}
	s.log.Debug("caption: session started", "session_id", sessionID, "words", len(words), "total", total)
	s.fireLocked(sess, 0, 0)
	return nil
}

// Hide ends the caption for sessionID if it is the active one. An empty id
// hides whatever is active.
func (s *Scheduler) Hide(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		return
	}
	if sessionID != "" && s.active.id != sessionID {
		return
	}
	s.hideLocked()
}

// hideLocked retires the active session and hides it on the surface.
func (s *Scheduler) hideLocked() {
	if s.active == nil {
		return
	}
	id := s.active.id
	s.cancelLocked()
	s.state = Hidden
	_ = s.publishLocked(opHide, Frame{SessionID: id, Active: -1})
}

// Active returns the id of the active session. A completed session stays
// active until it is hidden or superseded.
func (s *Scheduler) Active() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return "", false
	}
	return s.active.id, true
}

// State returns the current state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Last returns the most recent frame published to the surface.
func (s *Scheduler) Last() Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// scheduleNext arms the timer that highlights word idx after delay.
func (s *Scheduler) scheduleNext(sess *session, idx int, delay, elapsed time.Duration) {
	sess.timer = s.clock.AfterFunc(delay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.active != sess {
			return
		}
		s.fireLocked(sess, idx, elapsed)
	})
}

// fireLocked highlights word idx, or completes the session once every word
// has had its turn.
func (s *Scheduler) fireLocked(sess *session, idx int, elapsed time.Duration) {
	if idx >= len(sess.words) {
		f := s.frame(sess, len(sess.words), 1)
		f.Done = true
		sess.timer = nil
		s.state = Completed
		s.log.Debug("caption: session completed", "session_id", sess.id,
			"planned", sess.total, "actual", s.clock.Now().Sub(sess.start))
		_ = s.publishLocked(opHighlight, f)
		return
	}

	progress := 0.0
	if sess.total > 0 {
		progress = min(1, float64(elapsed)/float64(sess.total))
	}
	f := s.frame(sess, idx, progress)
	if err := s.publishLocked(opHighlight, f); err != nil {
		return
	}
	d := sess.timings[idx]
	s.scheduleNext(sess, idx+1, d, elapsed+d)
}

// cancelLocked stops the active session's timer and clears the slot.
func (s *Scheduler) cancelLocked() {
	if s.active == nil {
		return
	}
	if s.active.timer != nil {
		s.active.timer.Stop()
	}
	s.active = nil
}

func (s *Scheduler) frame(sess *session, active int, progress float64) Frame {
	return Frame{
		SessionID: sess.id,
		Lang:      sess.lang,
		Words:     sess.words,
		Active:    active,
		Progress:  progress,
	}
}

type op int

const (
	opShow op = iota
	opHighlight
	opHide
)

func (o op) call(sf Surface, f Frame) error {
	switch o {
	case opShow:
		return sf.Show(f)
	case opHighlight:
		return sf.Highlight(f)
	}
	return sf.Hide(f.SessionID)
}

// publishLocked sends f to the surface. On failure the surface is recreated
// once and the call retried; a second failure drops the active caption.
func (s *Scheduler) publishLocked(o op, f Frame) error {
	err := o.call(s.surface, f)
	if err != nil && s.factory != nil {
		s.log.Warn("caption: surface failed, recreating", "err", err)
		fresh, ferr := s.factory()
		if ferr != nil {
			err = ferr
		} else {
			s.surface = fresh
			err = o.call(fresh, f)
		}
	}
	if err == nil {
		s.last = f
		return nil
	}

	err = fmt.Errorf("%w: %w", ErrSurfaceUnavailable, err)
	s.sink.Report(observe.StageCaption, err)
	s.cancelLocked()
	s.state = Idle
	return err
}
