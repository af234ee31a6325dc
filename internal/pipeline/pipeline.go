package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/babelcast/internal/glossary"
	"github.com/MrWong99/babelcast/internal/observe"
	"github.com/MrWong99/babelcast/pkg/audio"
	"github.com/MrWong99/babelcast/pkg/audio/capture"
	"github.com/MrWong99/babelcast/pkg/provider/stt"
	"github.com/MrWong99/babelcast/pkg/provider/translate"
)

// Option configures a [Pipeline].
type Option func(*config)

type config struct {
	log            *slog.Logger
	metrics        *observe.Metrics
	sink           ErrorSink
	results        chan<- Result
	captureOpts    []capture.Option
	dispatchOpts   []DispatcherOption
	prefix         string
	now            func() time.Time
	timeout        time.Duration
	policy         Policy
	settings       Settings
	recognizerName string
	translatorName string
	glossary       *glossary.Glossary
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetrics sets the metrics sink. Without it no metrics are recorded.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *config) { c.metrics = m }
}

// WithErrorSink replaces the default [LogSink].
func WithErrorSink(s ErrorSink) Option {
	return func(c *config) { c.sink = s }
}

// WithResults delivers one [Result] per dispatched batch on ch. The channel
// must be drained; a full channel holds up the drain loop until the run ends.
func WithResults(ch chan<- Result) Option {
	return func(c *config) { c.results = ch }
}

// WithCaptureOptions passes options through to the capture buffer.
func WithCaptureOptions(opts ...capture.Option) Option {
	return func(c *config) { c.captureOpts = append(c.captureOpts, opts...) }
}

// WithDispatcherOptions passes options through to the dispatcher.
func WithDispatcherOptions(opts ...DispatcherOption) Option {
	return func(c *config) { c.dispatchOpts = append(c.dispatchOpts, opts...) }
}

// WithSessionPrefix sets the session id prefix.
func WithSessionPrefix(prefix string) Option {
	return func(c *config) { c.prefix = prefix }
}

// WithClock replaces time.Now for session ids and utterance timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

// WithRequestTimeout bounds each recognition and translation call.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithTranslationPolicy sets the translation failure policy.
func WithTranslationPolicy(p Policy) Option {
	return func(c *config) { c.policy = p }
}

// WithSettings sets the initial settings.
func WithSettings(s Settings) Option {
	return func(c *config) { c.settings = s }
}

// WithProviderNames labels the recognizer and translator in logs and metrics.
func WithProviderNames(recognizer, translator string) Option {
	return func(c *config) {
		c.recognizerName = recognizer
		c.translatorName = translator
	}
}

// WithGlossary corrects recognised text against g before translation.
func WithGlossary(g *glossary.Glossary) Option {
	return func(c *config) { c.glossary = g }
}

// Status is a point-in-time view of a pipeline.
type Status struct {
	Capturing  bool   `json:"capturing"`
	From       string `json:"from"`
	To         string `json:"to"`
	Generation uint64 `json:"generation"`
	Buffered   int    `json:"buffered_frames"`
	Busy       bool   `json:"recognizing"`
}

// Pipeline is the per-run context: it owns the capture buffer, the
// dispatcher, the active settings and the consumer list. Create with [New].
type Pipeline struct {
	log         *slog.Logger
	metrics     *observe.Metrics
	sink        ErrorSink
	results     chan<- Result
	policy      Policy
	now         func() time.Time
	ids         *SessionIDs
	buffer      *capture.Buffer
	dispatcher  *Dispatcher
	translation *TranslationStage
	glossary    *glossary.Glossary

	mu        sync.Mutex
	settings  Settings
	consumers []Consumer
	onStop    []func()
	cancel    context.CancelFunc

	running atomic.Bool
}

// New creates a pipeline that recognises with recognizer and translates with
// translator.
func New(recognizer stt.Provider, translator translate.Provider, opts ...Option) *Pipeline {
	cfg := config{
		log:            slog.Default(),
		now:            time.Now,
		timeout:        DefaultRequestTimeout,
		policy:         PolicySuppress,
		recognizerName: "stt",
		translatorName: "translate",
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.sink == nil {
		cfg.sink = LogSink{Log: cfg.log, Metrics: cfg.metrics}
	}

	p := &Pipeline{
		log:      cfg.log,
		metrics:  cfg.metrics,
		sink:     cfg.sink,
		results:  cfg.results,
		policy:   cfg.policy,
		now:      cfg.now,
		ids:      NewSessionIDs(cfg.prefix, cfg.now),
		settings: cfg.settings,
		glossary: cfg.glossary,
	}
	dispatchOpts := append([]DispatcherOption{
		WithDispatchTimeout(cfg.timeout),
		WithDispatchMetrics(cfg.metrics),
	}, cfg.dispatchOpts...)
	p.dispatcher = NewDispatcher(recognizer, cfg.recognizerName, dispatchOpts...)
	p.translation = NewTranslationStage(translator, cfg.translatorName, cfg.timeout, cfg.metrics)
	p.buffer = capture.New(capture.DispatcherFunc(p.handle),
		append([]capture.Option{capture.WithLogger(cfg.log)}, cfg.captureOpts...)...)
	return p
}

// AddConsumer registers c. Consumers receive utterances in registration
// order.
func (p *Pipeline) AddConsumer(c Consumer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consumers = append(p.consumers, c)
}

// OnStop registers fn to run on every [Pipeline.Stop], after the capture
// buffer has been cleared.
func (p *Pipeline) OnStop(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onStop = append(p.onStop, fn)
}

// Settings returns the active settings.
func (p *Pipeline) Settings() Settings {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settings
}

// Apply replaces the active settings. Batches already being recognised keep
// the language pair they started with.
func (p *Pipeline) Apply(s Settings) {
	p.mu.Lock()
	old := p.settings
	p.settings = s
	p.mu.Unlock()
	if old != s {
		p.log.Info("pipeline: settings applied",
			"from", s.From, "to", s.To, "gender", s.Gender, "speech", s.Speech, "captions", s.Captions)
	}
}

// Generation returns the current capture generation. Utterances carrying a
// different generation are stale.
func (p *Pipeline) Generation() uint64 { return p.buffer.Generation() }

// Stale reports whether gen belongs to a stopped run.
func (p *Pipeline) Stale(gen uint64) bool { return gen != p.buffer.Generation() }

// Push offers one frame to the capture buffer. It is what [Pipeline.Run]
// hands to the source and may also be called directly.
func (p *Pipeline) Push(f audio.Frame) bool { return p.buffer.Push(f) }

// Buffer exposes the capture buffer for inspection.
func (p *Pipeline) Buffer() *capture.Buffer { return p.buffer }

// Status returns a snapshot for the status endpoint.
func (p *Pipeline) Status() Status {
	s := p.Settings()
	return Status{
		Capturing:  p.running.Load(),
		From:       s.From,
		To:         s.To,
		Generation: p.buffer.Generation(),
		Buffered:   p.buffer.Len(),
		Busy:       p.dispatcher.Busy(),
	}
}

// Run captures from src until ctx is cancelled, [Pipeline.Stop] is called or
// the source ends. When the source ends on its own, Run waits for every full
// batch to be handled before returning. Cancellation is not an error.
func (p *Pipeline) Run(ctx context.Context, src audio.Source) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer p.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	// Anything buffered or in flight from an earlier run is stale.
	p.buffer.Stop()
	gen := p.buffer.Generation()
	p.log.Info("pipeline: capture started", "generation", gen)

	if p.metrics != nil {
		unregister, err := p.metrics.ObserveCapture(p.captureStats)
		if err != nil {
			p.log.Warn("pipeline: capture metrics unavailable", "err", err)
		} else {
			defer func() { _ = unregister() }()
		}
		p.metrics.ActiveCaptures.Add(ctx, 1)
		defer p.metrics.ActiveCaptures.Add(context.WithoutCancel(ctx), -1)
	}

	g, gctx := errgroup.WithContext(ctx)
	drainCtx, stopDrain := context.WithCancel(gctx)
	defer stopDrain()

	g.Go(func() error {
		if err := p.buffer.Run(drainCtx); err != nil && drainCtx.Err() == nil {
			return fmt.Errorf("pipeline: drain: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		defer stopDrain()
		err := src.Stream(gctx, func(f audio.Frame) { p.buffer.Push(f) })
		if err != nil && gctx.Err() == nil {
			return fmt.Errorf("pipeline: source: %w", err)
		}
		if gctx.Err() != nil {
			return nil
		}
		p.log.Debug("pipeline: source ended, draining backlog", "buffered", p.buffer.Len())
		if err := p.buffer.WaitIdle(gctx); err != nil && gctx.Err() == nil {
			return err
		}
		return nil
	})

	err := g.Wait()
	p.mu.Lock()
	p.cancel = nil
	p.mu.Unlock()
	if err != nil {
		p.sink.Report(observe.StageCapture, err)
		return err
	}
	p.log.Info("pipeline: capture ended", "generation", gen)
	return nil
}

// Stop clears the capture buffer, starts a new generation, ends the active
// run and runs the OnStop hooks. Results still in flight are discarded when
// they arrive.
func (p *Pipeline) Stop() {
	p.buffer.Stop()
	p.mu.Lock()
	cancel := p.cancel
	hooks := append([]func(){}, p.onStop...)
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	for _, fn := range hooks {
		fn()
	}
}

func (p *Pipeline) captureStats() observe.CaptureStats {
	st := p.buffer.Stats()
	return observe.CaptureStats{
		Accepted: st.Accepted,
		Gated:    st.Gated,
		Dropped:  st.Dropped,
		Buffered: st.Buffered,
	}
}

// handle is the capture dispatcher: it runs on the drain goroutine, one batch
// at a time.
func (p *Pipeline) handle(ctx context.Context, b capture.Batch) {
	res := p.process(ctx, b)
	if res.Dropped != "" {
		p.log.Debug("pipeline: batch dropped", logBatch(b), "reason", res.Dropped)
	}
	if p.results == nil {
		return
	}
	select {
	case p.results <- res:
	case <-ctx.Done():
	}
}

func (p *Pipeline) process(ctx context.Context, b capture.Batch) Result {
	res := Result{BatchSeq: b.Seq, Generation: b.Generation}
	if p.Stale(b.Generation) {
		res.Dropped = "stale"
		return res
	}
	start := time.Now()
	set := p.Settings()

	rec, err := p.dispatcher.Recognize(ctx, b, set.From)
	switch {
	case p.Stale(b.Generation):
		res.Dropped = "stale"
		return res
	case errors.Is(err, stt.ErrNoSpeech):
		res.Dropped = "no_speech"
		return res
	case err != nil:
		p.sink.Report(observe.StageRecognize, err)
		res.Err = err
		return res
	}

	if p.glossary != nil {
		if text, fixes := p.glossary.Correct(rec.Text); len(fixes) > 0 {
			p.log.Debug("pipeline: glossary corrections", "batch_seq", b.Seq, "fixes", fixes)
			rec.Text = text
		}
	}

	translated, err := p.translation.Translate(ctx, rec.Text, set.From, set.To)
	if p.Stale(b.Generation) {
		res.Dropped = "stale"
		return res
	}
	if err != nil {
		p.sink.Report(observe.StageTranslate, err)
		if p.policy != PolicyMarker {
			res.Err = err
			return res
		}
		translated = Marker(err)
	}

	u := Utterance{
		SessionID:      p.ids.Next(),
		SourceText:     rec.Text,
		TranslatedText: translated,
		SourceLang:     set.From,
		TargetLang:     set.To,
		CreatedAt:      p.now(),
		Generation:     b.Generation,
		Speak:          set.Speech,
		Caption:        set.Captions,
		Gender:         set.Gender,
	}
	p.log.Info("pipeline: utterance",
		"session_id", u.SessionID, "batch_seq", b.Seq,
		"from", u.SourceLang, "to", u.TargetLang,
		"source", u.SourceText, "translated", u.TranslatedText)

	p.mu.Lock()
	consumers := append([]Consumer(nil), p.consumers...)
	p.mu.Unlock()
	for _, c := range consumers {
		c.Consume(ctx, u)
	}

	if p.metrics != nil {
		p.metrics.RecordUtterance(ctx, u.SourceLang, u.TargetLang)
		p.metrics.UtteranceLatency.Record(ctx, time.Since(start).Seconds())
	}
	res.Utterance = &u
	return res
}
