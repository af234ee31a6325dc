package config_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/babelcast/internal/config"
	"github.com/MrWong99/babelcast/pkg/provider/llm"
	llmmock "github.com/MrWong99/babelcast/pkg/provider/llm/mock"
	"github.com/MrWong99/babelcast/pkg/provider/stt"
	sttmock "github.com/MrWong99/babelcast/pkg/provider/stt/mock"
	"github.com/MrWong99/babelcast/pkg/provider/translate"
	translatemock "github.com/MrWong99/babelcast/pkg/provider/translate/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":8080"
  log_level: debug

languages:
  from: en-US
  to: es

capture:
  source: wav
  path: testdata/speech.wav
  loop: true
  threshold: 5
  silence_threshold: 10
  max_backlog: 50

pipeline:
  request_timeout: 10s
  translation_failure: marker
  glossary: [Eldrinax, Tower Bridge]

providers:
  stt:
    name: azure
    api_key: az-key
    region: westeurope
    fallbacks:
      - name: whisper
        base_url: http://localhost:9000
  translate:
    name: llm
  llm:
    name: openai
    api_key: sk-test
    model: gpt-4o-mini
  tts:
    name: azure
    api_key: az-key
    region: westeurope
    options:
      output_format: riff-16khz-16bit-mono-pcm

tts:
  enabled: true
  voice_gender: male
  queue_capacity: 16
  player:
    kind: paced

captions:
  enabled: true
  overlay: true
  origin_patterns: ["obs.local"]

events:
  enabled: true
  subject: live.captions
  embedded:
    enabled: true
`

// minimalYAML is the smallest valid config.
const minimalYAML = `
languages: {from: en-US, to: de}
capture: {source: pcm}
providers:
  stt: {name: relay, base_url: "http://localhost:5000"}
  translate: {name: relay, base_url: "http://localhost:5000"}
`

func load(t *testing.T, yaml string) (*config.Config, error) {
	t.Helper()
	return config.LoadFromReader(strings.NewReader(yaml))
}

// ── Loading ──────────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := load(t, sampleYAML)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr: got %q", cfg.Server.ListenAddr)
	}
	if cfg.Languages != (config.LanguagesConfig{From: "en-US", To: "es"}) {
		t.Errorf("languages: got %+v", cfg.Languages)
	}
	if !cfg.Capture.Loop || cfg.Capture.Threshold != 5 || cfg.Capture.MaxBacklog != 50 {
		t.Errorf("capture: got %+v", cfg.Capture)
	}
	if !cfg.Capture.RealtimeEnabled() {
		t.Error("realtime should default to true")
	}
	if cfg.Pipeline.RequestTimeout != 10*time.Second {
		t.Errorf("request_timeout: got %v", cfg.Pipeline.RequestTimeout)
	}
	if len(cfg.Pipeline.Glossary) != 2 || cfg.Pipeline.Glossary[1] != "Tower Bridge" {
		t.Errorf("glossary: got %q", cfg.Pipeline.Glossary)
	}
	if cfg.Providers.STT.Name != "azure" || cfg.Providers.STT.Region != "westeurope" {
		t.Errorf("providers.stt: got %+v", cfg.Providers.STT.ProviderEntry)
	}
	entries := cfg.Providers.STT.Entries()
	if len(entries) != 2 || entries[1].Name != "whisper" || entries[1].BaseURL != "http://localhost:9000" {
		t.Errorf("stt entries: got %+v", entries)
	}
	if got := cfg.Providers.TTS.OptionString("output_format"); got != "riff-16khz-16bit-mono-pcm" {
		t.Errorf("tts output_format option: got %q", got)
	}
	if cfg.TTS.Player.Kind != config.PlayerPaced || cfg.TTS.QueueCapacity != 16 {
		t.Errorf("tts: got %+v", cfg.TTS)
	}
	if cfg.Events.Embedded.Port != 4222 {
		t.Errorf("embedded port default: got %d, want 4222", cfg.Events.Embedded.Port)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()
	cfg, err := load(t, minimalYAML)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q, want info", cfg.Server.LogLevel)
	}
	if cfg.TTS.Player.Kind != config.PlayerExec {
		t.Errorf("player kind: got %q, want exec", cfg.TTS.Player.Kind)
	}
	if cfg.Events.Embedded.Port != 0 {
		t.Errorf("embedded port should stay unset when embedded is off, got %d", cfg.Events.Embedded.Port)
	}
}

func TestLoadFromReader_ExpandsEnvironment(t *testing.T) {
	t.Setenv("BABELCAST_TEST_KEY", "from-env")
	cfg, err := load(t, minimalYAML+`
  tts: {name: azure, api_key: "${BABELCAST_TEST_KEY}", region: eastus}
`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Providers.TTS.APIKey != "from-env" {
		t.Errorf("api_key: got %q, want from-env", cfg.Providers.TTS.APIKey)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := load(t, minimalYAML+"\nnpcs: []\n")
	if err == nil {
		t.Fatal("expected error for unknown top-level field")
	}
}

func TestLoadFromReader_EmptyIsInvalid(t *testing.T) {
	t.Parallel()
	_, err := load(t, "")
	if err == nil {
		t.Fatal("expected error for empty config")
	}
	for _, want := range []string{"languages.from", "languages.to", "providers.stt.name", "providers.translate.name"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s, got: %v", want, err)
		}
	}
}

func TestProviderEntry_OptionInt(t *testing.T) {
	t.Parallel()
	e := config.ProviderEntry{Options: map[string]any{"max_tokens": 256, "ratio": 1.5, "name": "x"}}
	if got := e.OptionInt("max_tokens", 0); got != 256 {
		t.Errorf("int option: got %d", got)
	}
	if got := e.OptionInt("ratio", 0); got != 1 {
		t.Errorf("float option: got %d", got)
	}
	if got := e.OptionInt("name", 7); got != 7 {
		t.Errorf("string option should fall back, got %d", got)
	}
	if got := e.OptionInt("missing", 7); got != 7 {
		t.Errorf("missing option should fall back, got %d", got)
	}
}

// ── Registry ──────────────────────────────────────────────────────────────────

func TestRegistry_Unknown(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("stt: got %v, want ErrProviderNotRegistered", err)
	}
	if _, err := reg.CreateTranslate(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("translate: got %v", err)
	}
	if _, err := reg.CreateTTS(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("tts: got %v", err)
	}
	_, err := reg.CreateLLM(config.ProviderEntry{Name: "nope"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("llm: got %v", err)
	}
	if !strings.Contains(err.Error(), `llm/"nope"`) {
		t.Errorf("error should name kind and provider, got %v", err)
	}
}

func TestRegistry_Registered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	rec := &sttmock.Provider{}
	var got config.ProviderEntry
	reg.RegisterSTT("mock", func(e config.ProviderEntry) (stt.Provider, error) {
		got = e
		return rec, nil
	})

	p, err := reg.CreateSTT(config.ProviderEntry{Name: "mock", Model: "m1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != rec {
		t.Error("factory result not returned")
	}
	if got.Model != "m1" {
		t.Errorf("factory received %+v", got)
	}
}

func TestRegistry_FactoryMayUseRegistry(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	model := &llmmock.Provider{}
	reg.RegisterLLM("mock", func(config.ProviderEntry) (llm.Provider, error) { return model, nil })
	reg.RegisterTranslate("llm", func(config.ProviderEntry) (translate.Provider, error) {
		if _, err := reg.CreateLLM(config.ProviderEntry{Name: "mock"}); err != nil {
			return nil, err
		}
		return &translatemock.Provider{}, nil
	})

	done := make(chan error, 1)
	go func() {
		_, err := reg.CreateTranslate(config.ProviderEntry{Name: "llm"})
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("nested create deadlocked")
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	boom := errors.New("boom")
	reg.RegisterTranslate("bad", func(config.ProviderEntry) (translate.Provider, error) { return nil, boom })
	if _, err := reg.CreateTranslate(config.ProviderEntry{Name: "bad"}); !errors.Is(err, boom) {
		t.Errorf("got %v, want factory error", err)
	}
}

func TestRegistry_Names(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	for _, n := range []string{"whisper", "azure", "relay"} {
		reg.RegisterSTT(n, func(config.ProviderEntry) (stt.Provider, error) { return nil, nil })
	}
	got := reg.Names("stt")
	want := []string{"azure", "relay", "whisper"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Names(stt) = %v, want %v", got, want)
	}
	if reg.Names("bogus") != nil {
		t.Error("unknown kind should return nil")
	}
}
