package app_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/babelcast/internal/app"
	"github.com/MrWong99/babelcast/internal/config"
	"github.com/MrWong99/babelcast/internal/events"
	"github.com/MrWong99/babelcast/pkg/audio"
	audiomock "github.com/MrWong99/babelcast/pkg/audio/mock"
	"github.com/MrWong99/babelcast/pkg/provider/stt"
	sttmock "github.com/MrWong99/babelcast/pkg/provider/stt/mock"
	translatemock "github.com/MrWong99/babelcast/pkg/provider/translate/mock"
	ttsmock "github.com/MrWong99/babelcast/pkg/provider/tts/mock"
)

// noiseFrame returns deterministic broadband noise, loud enough to pass the
// silence gate.
func noiseFrame(i int) audio.Frame {
	s := make([]int16, 256)
	seed := uint32(12345 + i)
	for j := range s {
		seed = seed*1664525 + 1013904223
		r := float64(seed>>8)/float64(1<<24)*2 - 1
		s[j] = int16(r * 16000)
	}
	f := audio.FromSamples(s, audio.DefaultSampleRate)
	f.Timestamp = time.Duration(i) * f.Duration()
	return f
}

func noiseFrames(n int) []audio.Frame {
	out := make([]audio.Frame, n)
	for i := range out {
		out[i] = noiseFrame(i)
	}
	return out
}

// testConfig returns a minimal valid config with speech and captions on and
// no HTTP listener.
func testConfig() *config.Config {
	return &config.Config{
		Server:    config.ServerConfig{LogLevel: config.LogInfo},
		Languages: config.LanguagesConfig{From: "en-US", To: "es"},
		Capture:   config.CaptureConfig{Source: config.SourceWAV, Path: "unused.wav"},
		TTS:       config.TTSConfig{Enabled: true, VoiceGender: "female"},
		Captions:  config.CaptionsConfig{Enabled: true},
	}
}

func testProviders() *app.Providers {
	return &app.Providers{
		STT:       &sttmock.Provider{Default: sttmock.Response{Result: stt.Result{Text: "hello"}}},
		Translate: &translatemock.Provider{},
		TTS:       &ttsmock.Provider{},
		STTName:   "mock",
	}
}

// fakeConn records published messages.
type fakeConn struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subjects = append(c.subjects, subject)
	c.payloads = append(c.payloads, data)
	return nil
}

func (c *fakeConn) messages() ([]string, [][]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.subjects...), append([][]byte(nil), c.payloads...)
}

func quietLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func newApp(t *testing.T, cfg *config.Config, providers *app.Providers, opts ...app.Option) *app.App {
	t.Helper()
	base := []app.Option{app.WithLogger(quietLogger())}
	a, err := app.New(context.Background(), cfg, providers, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func TestNew_RequiresRecognizerAndTranslator(t *testing.T) {
	t.Parallel()

	_, err := app.New(context.Background(), testConfig(), &app.Providers{Translate: &translatemock.Provider{}})
	if err == nil {
		t.Fatal("expected error without a recognizer")
	}
}

func TestRun_FiniteSourceSpeaksCaptionsAndPublishes(t *testing.T) {
	t.Parallel()

	player := &audiomock.Player{}
	conn := &fakeConn{}
	a := newApp(t, testConfig(), testProviders(),
		app.WithSource(&audiomock.Source{Frames: noiseFrames(5)}),
		app.WithPlayer(player),
		app.WithEventConn(conn),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Run(ctx); err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if ctx.Err() != nil {
		t.Fatal("Run only returned because the test deadline expired")
	}

	if got := player.Played(); len(got) != 1 || got[0] != "[es] hello" {
		t.Errorf("played = %q, want [\"[es] hello\"]", got)
	}

	subjects, payloads := conn.messages()
	if len(subjects) != 1 {
		t.Fatalf("published %d messages, want 1", len(subjects))
	}
	if subjects[0] != events.DefaultSubject+".es" {
		t.Errorf("subject = %q", subjects[0])
	}
	var u events.Utterance
	if err := json.Unmarshal(payloads[0], &u); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if u.SourceText != "hello" || u.TranslatedText != "[es] hello" || u.TargetLang != "es" {
		t.Errorf("payload = %+v", u)
	}

	st := a.Status()
	if st.ActiveCaption != u.SessionID {
		t.Errorf("active caption = %q, want %q", st.ActiveCaption, u.SessionID)
	}
	if !strings.HasPrefix(u.SessionID, "utt") {
		t.Errorf("session id = %q", u.SessionID)
	}
}

func TestRun_WithoutSynthesizerCaptionsOnly(t *testing.T) {
	t.Parallel()

	providers := testProviders()
	providers.TTS = nil
	a := newApp(t, testConfig(), providers,
		app.WithSource(&audiomock.Source{Frames: noiseFrames(5)}),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Run(ctx); err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if a.Pipeline().Settings().Speech {
		t.Error("speech enabled without a synthesizer")
	}
	if st := a.Status(); st.ActiveCaption == "" || st.QueuedSpeech != 0 {
		t.Errorf("status = %+v", st)
	}
}

func TestStatusEndpoint(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(), testProviders(),
		app.WithSource(&audiomock.Source{}),
		app.WithPlayer(&audiomock.Player{}),
	)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["from"] != "en-US" || body["to"] != "es" {
		t.Errorf("languages = %v -> %v", body["from"], body["to"])
	}
	if body["capturing"] != false {
		t.Errorf("capturing = %v, want false before Run", body["capturing"])
	}
	if _, ok := body["queued_tts"]; !ok {
		t.Error("missing queued_tts")
	}

	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("/healthz = %d", rec.Code)
	}
}

func TestCaptureStopStart(t *testing.T) {
	t.Parallel()

	var streams atomic.Int32
	src := audio.SourceFunc(func(ctx context.Context, _ func(audio.Frame)) error {
		streams.Add(1)
		<-ctx.Done()
		return ctx.Err()
	})
	a := newApp(t, testConfig(), testProviders(),
		app.WithSource(src),
		app.WithPlayer(&audiomock.Player{}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	waitFor(t, "first stream", func() bool { return streams.Load() == 1 && a.Status().Capturing })

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/capture/stop", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("/capture/stop = %d", rec.Code)
	}
	waitFor(t, "capture stopped", func() bool { return !a.Status().Capturing })

	// Starting twice resumes only once.
	a.StartCapture()
	a.StartCapture()
	waitFor(t, "second stream", func() bool { return streams.Load() == 2 && a.Status().Capturing })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if n := streams.Load(); n != 2 {
		t.Errorf("streams = %d, want 2", n)
	}
}

func TestApplyConfig_HotSettings(t *testing.T) {
	t.Parallel()

	level := new(slog.LevelVar)
	old := testConfig()
	a := newApp(t, old, testProviders(),
		app.WithSource(&audiomock.Source{}),
		app.WithPlayer(&audiomock.Player{}),
		app.WithLogLevel(level),
	)

	updated := testConfig()
	updated.Languages.To = "fr"
	updated.Captions.Enabled = false
	updated.TTS.VoiceGender = "male"
	updated.Server.LogLevel = config.LogDebug
	updated.Capture.FrameSamples = 512 // restart only
	a.ApplyConfig(old, updated)

	s := a.Pipeline().Settings()
	if s.To != "fr" || s.Captions || !s.Speech {
		t.Errorf("settings = %+v", s)
	}
	if s.From != "en-US" {
		t.Errorf("from = %q", s.From)
	}
	if level.Level() != slog.LevelDebug {
		t.Errorf("log level = %v, want debug", level.Level())
	}
}

func TestApplyConfig_InvalidGenderIgnored(t *testing.T) {
	t.Parallel()

	old := testConfig()
	a := newApp(t, old, testProviders(),
		app.WithSource(&audiomock.Source{}),
		app.WithPlayer(&audiomock.Player{}),
	)

	updated := testConfig()
	updated.Languages.To = "fr"
	updated.TTS.VoiceGender = "robot"
	a.ApplyConfig(old, updated)

	if got := a.Pipeline().Settings().To; got != "es" {
		t.Errorf("to = %q, want settings left unchanged", got)
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(), testProviders(),
		app.WithLogger(quietLogger()),
		app.WithSource(&audiomock.Source{}),
		app.WithPlayer(&audiomock.Player{}),
	)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := map[config.LogLevel]slog.Level{
		config.LogDebug: slog.LevelDebug,
		config.LogInfo:  slog.LevelInfo,
		config.LogWarn:  slog.LevelWarn,
		config.LogError: slog.LevelError,
		"":              slog.LevelInfo,
	}
	for in, want := range tests {
		if got := app.ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
