// Package app wires all babelcast subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run captures and serves until the context ends or the source
// is exhausted, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithSource, WithPlayer,
// WithEventConn, ...). When an option is not provided, New creates the real
// implementation from the config.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/babelcast/internal/caption"
	"github.com/MrWong99/babelcast/internal/config"
	"github.com/MrWong99/babelcast/internal/events"
	"github.com/MrWong99/babelcast/internal/glossary"
	"github.com/MrWong99/babelcast/internal/health"
	"github.com/MrWong99/babelcast/internal/observe"
	"github.com/MrWong99/babelcast/internal/pipeline"
	"github.com/MrWong99/babelcast/internal/speech"
	"github.com/MrWong99/babelcast/pkg/audio"
	"github.com/MrWong99/babelcast/pkg/audio/capture"
	"github.com/MrWong99/babelcast/pkg/audio/playback"
	"github.com/MrWong99/babelcast/pkg/audio/source"
	"github.com/MrWong99/babelcast/pkg/provider/stt"
	"github.com/MrWong99/babelcast/pkg/provider/translate"
	"github.com/MrWong99/babelcast/pkg/provider/tts"
)

// Providers holds one interface value per provider slot, already wrapped in
// fallback groups where configured. TTS may be nil when speech output is not
// configured. Populated by main.go via the config registry.
type Providers struct {
	STT       stt.Provider
	Translate translate.Provider
	TTS       tts.Provider

	// Names label the providers in logs and metrics.
	STTName, TranslateName, TTSName string

	// Checkers are readiness probes for provider backends.
	Checkers []health.Checker
}

// App owns all subsystem lifetimes and orchestrates the translation pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger
	level     *slog.LevelVar
	metrics   *observe.Metrics

	source    audio.Source
	player    audio.Player
	eventConn events.Conn

	pipeline  *pipeline.Pipeline
	speech    *speech.Queue
	captions  *caption.Scheduler
	hub       *caption.Hub
	publisher *events.Publisher
	health    *health.Handler
	handler   http.Handler

	// stopped is set by StopCapture and cleared by StartCapture.
	stopped atomic.Bool
	startCh chan struct{}

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSource injects the audio source instead of building one from config.
func WithSource(s audio.Source) Option {
	return func(a *App) { a.source = s }
}

// WithPlayer injects the audio player instead of building one from config.
func WithPlayer(p audio.Player) Option {
	return func(a *App) { a.player = p }
}

// WithEventConn injects the utterance event connection instead of dialling
// NATS. It is used whether or not events are enabled in the config.
func WithEventConn(c events.Conn) Option {
	return func(a *App) { a.eventConn = c }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) {
		if l != nil {
			a.log = l
		}
	}
}

// WithLogLevel lets hot reloads change the log level.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
//
// Consumers are registered in a fixed order: captions, speech, events.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.STT == nil || providers.Translate == nil {
		return nil, errors.New("app: recognizer and translator are required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		log:       slog.Default(),
		startCh:   make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Audio I/O ────────────────────────────────────────────────────
	if err := a.initSource(); err != nil {
		return nil, fmt.Errorf("app: init source: %w", err)
	}
	if err := a.initPlayer(); err != nil {
		return nil, fmt.Errorf("app: init player: %w", err)
	}

	// ── 2. Pipeline ─────────────────────────────────────────────────────
	if err := a.initPipeline(); err != nil {
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}

	// ── 3. Captions ─────────────────────────────────────────────────────
	a.initCaptions()

	// ── 4. Speech ───────────────────────────────────────────────────────
	a.initSpeech()

	// ── 5. Events ───────────────────────────────────────────────────────
	if err := a.initEvents(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init events: %w", err)
	}

	// ── 6. HTTP surface ─────────────────────────────────────────────────
	a.initHTTP()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initSource builds the configured audio source.
func (a *App) initSource() error {
	if a.source != nil {
		return nil
	}
	c := a.cfg.Capture
	opts := []source.Option{
		source.WithFrameSamples(c.FrameSamples),
		source.WithRealtime(c.RealtimeEnabled()),
		source.WithLoop(c.Loop),
	}

	switch c.Source {
	case config.SourceWAV:
		a.source = source.NewWAVFile(c.Path, opts...)
	case config.SourcePCM:
		r := os.Stdin
		if c.Path != "" && c.Path != "-" {
			f, err := os.Open(c.Path)
			if err != nil {
				return err
			}
			a.closers = append(a.closers, f.Close)
			r = f
		}
		format := audio.Format{SampleRate: c.SampleRate, Channels: c.Channels}
		if format.SampleRate == 0 {
			format.SampleRate = audio.DefaultSampleRate
		}
		if format.Channels == 0 {
			format.Channels = 1
		}
		src, err := source.NewPCMReader(r, format, opts...)
		if err != nil {
			return err
		}
		a.source = src
	case config.SourceMicrophone:
		mic, err := source.NewMicrophone(opts...)
		if err != nil {
			return err
		}
		a.source = mic
	default:
		return fmt.Errorf("unknown source %q", c.Source)
	}
	a.log.Info("audio source ready", "source", c.Source, "path", c.Path)
	return nil
}

// initPlayer builds the configured player. No player is needed without a
// synthesizer.
func (a *App) initPlayer() error {
	if a.player != nil || a.providers.TTS == nil {
		return nil
	}
	pc := a.cfg.TTS.Player
	switch pc.Kind {
	case config.PlayerPaced:
		a.player = &playback.Paced{}
	default:
		var opts []playback.ExecOption
		if pc.PCMCommand != "" {
			opts = append(opts, playback.WithPCMCommand(pc.PCMCommand))
		}
		opts = append(opts, playback.WithExecLogger(a.log))
		p, err := playback.NewExec(pc.Command, opts...)
		if err != nil {
			return err
		}
		a.player = p
	}
	return nil
}

// initPipeline creates the capture → recognize → translate pipeline.
func (a *App) initPipeline() error {
	policy, err := pipeline.ParsePolicy(a.cfg.Pipeline.TranslationFailure)
	if err != nil {
		return err
	}
	settings, err := a.settingsFrom(a.cfg)
	if err != nil {
		return err
	}

	c := a.cfg.Capture
	captureOpts := []capture.Option{capture.WithLogger(a.log)}
	if c.Threshold > 0 {
		captureOpts = append(captureOpts, capture.WithThreshold(c.Threshold))
	}
	if c.SilenceThreshold > 0 {
		captureOpts = append(captureOpts, capture.WithSilenceThreshold(c.SilenceThreshold))
	}
	if c.MaxBacklog > 0 {
		captureOpts = append(captureOpts, capture.WithMaxBacklog(c.MaxBacklog))
	}

	opts := []pipeline.Option{
		pipeline.WithLogger(a.log),
		pipeline.WithMetrics(a.metrics),
		pipeline.WithCaptureOptions(captureOpts...),
		pipeline.WithTranslationPolicy(policy),
		pipeline.WithSettings(settings),
		pipeline.WithProviderNames(a.providers.STTName, a.providers.TranslateName),
	}
	if d := a.cfg.Pipeline.RequestTimeout; d > 0 {
		opts = append(opts, pipeline.WithRequestTimeout(d))
	}
	if prefix := a.cfg.Pipeline.SessionPrefix; prefix != "" {
		opts = append(opts, pipeline.WithSessionPrefix(prefix))
	}
	if terms := a.cfg.Pipeline.Glossary; len(terms) > 0 {
		opts = append(opts, pipeline.WithGlossary(glossary.New(terms)))
	}
	a.pipeline = pipeline.New(a.providers.STT, a.providers.Translate, opts...)
	return nil
}

// initCaptions creates the caption scheduler and, with the overlay enabled,
// the websocket hub it broadcasts to.
func (a *App) initCaptions() {
	if a.cfg.Captions.Overlay {
		a.hub = caption.NewHub(
			caption.WithOriginPatterns(a.cfg.Captions.OriginPatterns...),
			caption.WithHubLogger(a.log),
		)
		a.closers = append(a.closers, a.hub.Close)
	}
	newSurface := caption.SurfaceFactory(a.log, a.hub)
	surface, _ := newSurface()
	a.captions = caption.NewScheduler(surface,
		caption.WithLogger(a.log),
		caption.WithMetrics(a.metrics),
		caption.WithSurfaceFactory(newSurface),
	)
	a.pipeline.AddConsumer(a.captions)
	a.pipeline.OnStop(func() { a.captions.Hide("") })
}

// initSpeech creates the playback queue when a synthesizer is configured.
// The queue captions spoken utterances itself when playback starts.
func (a *App) initSpeech() {
	if a.providers.TTS == nil {
		return
	}
	opts := []speech.Option{
		speech.WithLogger(a.log),
		speech.WithMetrics(a.metrics),
		speech.WithCaptioner(a.captions),
		speech.WithStale(a.pipeline.Stale),
		speech.WithProviderName(a.providers.TTSName),
	}
	if n := a.cfg.TTS.QueueCapacity; n > 0 {
		opts = append(opts, speech.WithCapacity(n))
	}
	a.speech = speech.New(a.providers.TTS, a.player, opts...)
	a.pipeline.AddConsumer(a.speech)
	a.pipeline.OnStop(a.speech.Clear)
	a.closers = append(a.closers, a.speech.Close)
}

// initEvents connects the utterance publisher, starting the embedded NATS
// server first when configured.
func (a *App) initEvents(ctx context.Context) error {
	ec := a.cfg.Events
	if a.eventConn == nil {
		if !ec.Enabled {
			return nil
		}
		servers := append([]string(nil), ec.Servers...)
		if ec.Embedded.Enabled {
			srv, err := events.StartEmbedded(ec.Embedded.Host, ec.Embedded.Port, a.log)
			if err != nil {
				return err
			}
			// Closed after the client, which is appended below.
			defer func() {
				a.closers = append(a.closers, func() error { srv.Shutdown(); return nil })
			}()
			servers = append(servers, srv.ClientURL())
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		client, err := events.Connect(events.Config{
			Servers:        servers,
			Token:          ec.Token,
			Username:       ec.Username,
			Password:       ec.Password,
			ConnectTimeout: ec.ConnectTimeout,
		}, a.log)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error { client.Close(); return nil })
		a.providers.Checkers = append(a.providers.Checkers, health.Checker{Name: "events", Check: client.Check})
		a.eventConn = client.Conn()
	}

	var opts []events.Option
	if ec.Subject != "" {
		opts = append(opts, events.WithSubject(ec.Subject))
	}
	opts = append(opts, events.WithLogger(a.log))
	a.publisher = events.NewPublisher(a.eventConn, opts...)
	a.pipeline.AddConsumer(a.publisher)
	return nil
}

// settingsFrom derives pipeline settings from cfg. Speech stays off without
// a synthesizer.
func (a *App) settingsFrom(cfg *config.Config) (pipeline.Settings, error) {
	gender, err := tts.ParseGender(cfg.TTS.VoiceGender)
	if err != nil {
		return pipeline.Settings{}, err
	}
	return pipeline.Settings{
		From:     cfg.Languages.From,
		To:       cfg.Languages.To,
		Gender:   gender,
		Speech:   cfg.TTS.Enabled && a.providers.TTS != nil,
		Captions: cfg.Captions.Enabled,
	}, nil
}

// ─── HTTP ────────────────────────────────────────────────────────────────────

// Status is the JSON body of GET /status.
type Status struct {
	pipeline.Status

	QueuedSpeech   int    `json:"queued_tts"`
	Speaking       string `json:"speaking,omitempty"`
	ActiveCaption  string `json:"active_caption,omitempty"`
	OverlayClients int    `json:"overlay_clients"`
}

// Status reports what the app is doing right now.
func (a *App) Status() Status {
	st := Status{Status: a.pipeline.Status()}
	if a.speech != nil {
		st.QueuedSpeech = a.speech.Len()
		st.Speaking, _ = a.speech.Playing()
	}
	st.ActiveCaption, _ = a.captions.Active()
	if a.hub != nil {
		st.OverlayClients = a.hub.Clients()
	}
	return st
}

// initHTTP builds the status, control, health, metrics and overlay routes.
func (a *App) initHTTP() {
	mux := http.NewServeMux()

	a.health = health.New(a.providers.Checkers...)
	a.health.Register(mux)
	mux.Handle("GET /metrics", observe.MetricsHandler())

	mux.HandleFunc("GET /status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(a.Status())
	})
	mux.HandleFunc("POST /capture/stop", func(w http.ResponseWriter, _ *http.Request) {
		a.StopCapture()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /capture/start", func(w http.ResponseWriter, _ *http.Request) {
		a.StartCapture()
		w.WriteHeader(http.StatusNoContent)
	})
	if a.hub != nil {
		mux.Handle("GET /captions/ws", a.hub)
	}

	a.handler = observe.Middleware(a.metrics)(mux)
}

// Handler returns the HTTP handler served on the listen address.
func (a *App) Handler() http.Handler { return a.handler }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run captures and serves HTTP until ctx is cancelled. When a finite source
// ends, Run waits for the speech queue to finish and returns nil.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.captureLoop(gctx, cancel) })

	if addr := a.cfg.Server.ListenAddr; addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           a.handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			a.log.Info("http server listening", "addr", addr)
			var err error
			if tls := a.cfg.Server.TLS; tls != nil {
				err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
			} else {
				err = srv.ListenAndServe()
			}
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("app: http server: %w", err)
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
			defer stop()
			return srv.Shutdown(shutdownCtx)
		})
	}

	a.log.Info("app running",
		"from", a.cfg.Languages.From,
		"to", a.cfg.Languages.To,
		"speech", a.speech != nil,
		"overlay", a.hub != nil,
		"events", a.publisher != nil,
	)
	return g.Wait()
}

// captureLoop runs the pipeline. After [App.StopCapture] it waits for
// [App.StartCapture]; after the source ends by itself it lets queued speech
// finish and cancels the app.
func (a *App) captureLoop(ctx context.Context, cancelApp context.CancelFunc) error {
	for {
		for a.stopped.Load() {
			select {
			case <-ctx.Done():
				return nil
			case <-a.startCh:
			}
		}

		err := a.pipeline.Run(ctx, a.source)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
		if a.stopped.Load() {
			continue
		}
		a.log.Info("audio source ended")
		if a.speech != nil {
			_ = a.speech.WaitIdle(ctx)
		}
		cancelApp()
		return nil
	}
}

// StopCapture stops capturing: the capture buffer and speech queue are
// cleared, the active caption is hidden and late results are discarded.
func (a *App) StopCapture() {
	a.stopped.Store(true)
	a.pipeline.Stop()
	a.log.Info("capture stopped")
}

// StartCapture resumes capturing after [App.StopCapture]. It is a no-op
// while capturing.
func (a *App) StartCapture() {
	if !a.stopped.CompareAndSwap(true, false) {
		return
	}
	select {
	case a.startCh <- struct{}{}:
	default:
	}
	a.log.Info("capture started")
}

// ApplyConfig is the config watcher callback. Language pair, voice gender and
// the speech/caption toggles take effect immediately; other changes are
// reported as needing a restart.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(ParseLevel(d.NewLogLevel))
		a.log.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.SettingsChanged() {
		s, err := a.settingsFrom(new)
		if err != nil {
			a.log.Warn("ignoring settings change", "err", err)
		} else {
			a.pipeline.Apply(s)
			if !s.Captions {
				a.captions.Hide("")
			}
			if !s.Speech && a.speech != nil {
				a.speech.Clear()
			}
		}
	}
	if len(d.RestartRequired) > 0 {
		a.log.Warn("config changes require a restart", "sections", d.RestartRequired)
	}
}

// ParseLevel maps a config log level to a slog level.
func ParseLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops capture and tears down all subsystems in init order. It
// respects the context deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))
		a.pipeline.Stop()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}
		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll runs the closers collected so far after a failed New.
func (a *App) closeAll() {
	for _, closer := range a.closers {
		_ = closer()
	}
}

// Pipeline returns the running pipeline.
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipeline }
