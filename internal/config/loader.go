package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/babelcast/internal/pipeline"
	"github.com/MrWong99/babelcast/pkg/provider/tts"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":       {"azure", "relay", "whisper", "whisper-native", "openai", "deepgram"},
	"translate": {"azure", "relay", "llm"},
	"tts":       {"azure", "coqui", "elevenlabs", "openai"},
	"llm":       {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills defaults and validates
// the result. ${VAR} and $VAR references are expanded from the environment
// before decoding, so secrets can live in the environment or a .env file.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(string(data))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields that have a single sensible value.
// Tunables with component-level defaults (thresholds, timeouts, capacities)
// are left zero and resolved by the component.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Capture.Source == "" {
		cfg.Capture.Source = SourceWAV
	}
	if cfg.TTS.Player.Kind == "" {
		cfg.TTS.Player.Kind = PlayerExec
	}
	if cfg.Events.Embedded.Enabled && cfg.Events.Embedded.Port == 0 {
		cfg.Events.Embedded.Port = 4222
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Languages
	if cfg.Languages.From == "" {
		errs = append(errs, errors.New("languages.from is required"))
	}
	if cfg.Languages.To == "" {
		errs = append(errs, errors.New("languages.to is required"))
	}

	// Capture
	c := cfg.Capture
	if !c.Source.IsValid() {
		errs = append(errs, fmt.Errorf("capture.source %q is invalid; valid values: wav, pcm, microphone", c.Source))
	}
	if c.Source == SourceWAV && c.Path == "" {
		errs = append(errs, errors.New("capture.path is required when source is wav"))
	}
	if c.FrameSamples < 0 {
		errs = append(errs, fmt.Errorf("capture.frame_samples %d must not be negative", c.FrameSamples))
	}
	if c.SampleRate < 0 || c.Channels < 0 {
		errs = append(errs, errors.New("capture.sample_rate and capture.channels must not be negative"))
	}
	if c.Threshold < 0 {
		errs = append(errs, fmt.Errorf("capture.threshold %d must not be negative", c.Threshold))
	}
	if c.SilenceThreshold < 0 || c.SilenceThreshold > 255 {
		errs = append(errs, fmt.Errorf("capture.silence_threshold %.1f is out of range [0, 255]", c.SilenceThreshold))
	}
	if c.MaxBacklog != 0 && c.MaxBacklog < max(c.Threshold, 1) {
		errs = append(errs, fmt.Errorf("capture.max_backlog %d is smaller than one batch", c.MaxBacklog))
	}

	// Pipeline
	if cfg.Pipeline.RequestTimeout < 0 {
		errs = append(errs, errors.New("pipeline.request_timeout must not be negative"))
	}
	if _, err := pipeline.ParsePolicy(cfg.Pipeline.TranslationFailure); err != nil {
		errs = append(errs, fmt.Errorf("pipeline.translation_failure %q is invalid; valid values: suppress, marker", cfg.Pipeline.TranslationFailure))
	}

	// Providers
	p := cfg.Providers
	if p.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	if p.Translate.Name == "" {
		errs = append(errs, errors.New("providers.translate.name is required"))
	}
	if cfg.TTS.Enabled && p.TTS.Name == "" {
		errs = append(errs, errors.New("tts.enabled requires providers.tts"))
	}
	if slices.ContainsFunc(p.Translate.Entries(), func(e ProviderEntry) bool { return e.Name == "llm" }) && p.LLM.Name == "" {
		errs = append(errs, errors.New(`providers.translate "llm" requires providers.llm`))
	}
	errs = append(errs, validateSlot("stt", p.STT)...)
	errs = append(errs, validateSlot("translate", p.Translate)...)
	errs = append(errs, validateSlot("tts", p.TTS)...)
	errs = append(errs, validateSlot("llm", p.LLM)...)

	// TTS
	if _, err := tts.ParseGender(cfg.TTS.VoiceGender); err != nil {
		errs = append(errs, fmt.Errorf("tts.voice_gender %q is invalid; valid values: female, male", cfg.TTS.VoiceGender))
	}
	if cfg.TTS.QueueCapacity < 0 {
		errs = append(errs, fmt.Errorf("tts.queue_capacity %d must not be negative", cfg.TTS.QueueCapacity))
	}
	if !cfg.TTS.Player.Kind.IsValid() {
		errs = append(errs, fmt.Errorf("tts.player.kind %q is invalid; valid values: exec, paced", cfg.TTS.Player.Kind))
	}

	// Captions
	if cfg.Captions.Overlay && cfg.Server.ListenAddr == "" {
		slog.Warn("captions.overlay is enabled but server.listen_addr is empty; overlay clients cannot connect")
	}
	if !cfg.Captions.Enabled && !cfg.TTS.Enabled && !cfg.Events.Enabled {
		slog.Warn("captions, tts and events are all disabled; translations will only be logged")
	}

	// Events
	ev := cfg.Events
	if ev.Enabled && len(ev.Servers) == 0 && !ev.Embedded.Enabled {
		errs = append(errs, errors.New("events.enabled requires events.servers or events.embedded.enabled"))
	}
	if ev.Embedded.Port < 0 || ev.Embedded.Port > 65535 {
		errs = append(errs, fmt.Errorf("events.embedded.port %d is out of range", ev.Embedded.Port))
	}
	if ev.Token != "" && ev.Username != "" {
		errs = append(errs, errors.New("events.token and events.username are mutually exclusive"))
	}

	// Telemetry
	if r := cfg.Telemetry.SampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_ratio %g is out of range [0, 1]", r))
	}

	return errors.Join(errs...)
}

// validateSlot checks every entry of a provider slot. Fallbacks need a name;
// unknown names only produce a warning.
func validateSlot(kind string, slot ProviderSlot) []error {
	var errs []error
	if slot.Name == "" && len(slot.Fallbacks) > 0 {
		errs = append(errs, fmt.Errorf("providers.%s.fallbacks requires a primary name", kind))
	}
	for i, e := range slot.Entries() {
		if i > 0 && e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s.fallbacks[%d].name is required", kind, i-1))
		}
		validateProviderName(kind, e.Name)
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
