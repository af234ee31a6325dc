// Package config provides the configuration schema, loader, and provider registry
// for the babelcast translation pipeline.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SourceKind selects where captured audio comes from.
type SourceKind string

const (
	// SourceWAV reads a WAV file, optionally looping.
	SourceWAV SourceKind = "wav"

	// SourcePCM reads raw 16-bit little-endian PCM from a file or stdin ("-").
	SourcePCM SourceKind = "pcm"

	// SourceMicrophone captures the default input device. Requires a build
	// with the portaudio tag.
	SourceMicrophone SourceKind = "microphone"
)

// IsValid reports whether s is a recognised source kind.
func (s SourceKind) IsValid() bool {
	switch s {
	case SourceWAV, SourcePCM, SourceMicrophone:
		return true
	}
	return false
}

// PlayerKind selects how synthesized clips are played.
type PlayerKind string

const (
	// PlayerExec pipes each clip into an external command (ffplay by default).
	PlayerExec PlayerKind = "exec"

	// PlayerPaced plays nothing but waits for each clip's length.
	PlayerPaced PlayerKind = "paced"
)

// IsValid reports whether p is a recognised player kind.
func (p PlayerKind) IsValid() bool {
	return p == PlayerExec || p == PlayerPaced
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Languages LanguagesConfig `yaml:"languages"`
	Capture   CaptureConfig   `yaml:"capture"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Providers ProvidersConfig `yaml:"providers"`
	TTS       TTSConfig       `yaml:"tts"`
	Captions  CaptionsConfig  `yaml:"captions"`
	Events    EventsConfig    `yaml:"events"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the status/metrics/overlay server
	// (e.g. ":8080"). Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LanguagesConfig is the language pair. It can be changed while running.
type LanguagesConfig struct {
	// From is the spoken language as a BCP-47 tag (e.g. "en-US").
	From string `yaml:"from"`

	// To is the target language (e.g. "es").
	To string `yaml:"to"`
}

// CaptureConfig describes the audio source and the capture buffer.
type CaptureConfig struct {
	Source SourceKind `yaml:"source"`

	// Path is the input file. For pcm, "-" or empty reads stdin.
	Path string `yaml:"path"`

	// Loop restarts a WAV file at its end.
	Loop bool `yaml:"loop"`

	// Realtime paces file sources at the audio clock. Defaults to true.
	Realtime *bool `yaml:"realtime"`

	// FrameSamples is the number of samples per frame.
	FrameSamples int `yaml:"frame_samples"`

	// SampleRate and Channels describe raw pcm input. Other sources carry
	// their own format.
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`

	// Threshold is the number of frames per recognition batch.
	Threshold int `yaml:"threshold"`

	// SilenceThreshold is the level (0-255) at or below which frames are dropped.
	SilenceThreshold float64 `yaml:"silence_threshold"`

	// MaxBacklog bounds buffered frames; the oldest are dropped first.
	MaxBacklog int `yaml:"max_backlog"`
}

// PipelineConfig tunes the recognition/translation stages.
type PipelineConfig struct {
	// RequestTimeout bounds each recognizer and translator call.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// TranslationFailure is "suppress" (drop the utterance) or "marker"
	// (show a bracketed error message instead).
	TranslationFailure string `yaml:"translation_failure"`

	// SessionPrefix prefixes utterance ids.
	SessionPrefix string `yaml:"session_prefix"`

	// Glossary lists names and terms the recognizer tends to get wrong.
	// Recognised text is corrected towards them before translation.
	Glossary []string `yaml:"glossary"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each slot selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	STT       ProviderSlot `yaml:"stt"`
	Translate ProviderSlot `yaml:"translate"`
	TTS       ProviderSlot `yaml:"tts"`

	// LLM backs the "llm" translator.
	LLM ProviderSlot `yaml:"llm"`
}

// ProviderSlot is a primary provider plus the fallbacks tried, in order, when
// it fails or its circuit breaker is open.
type ProviderSlot struct {
	ProviderEntry `yaml:",inline"`

	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// Entries returns the primary followed by the fallbacks.
func (s ProviderSlot) Entries() []ProviderEntry {
	return append([]ProviderEntry{s.ProviderEntry}, s.Fallbacks...)
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g. "azure", "relay").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// Region is the Azure resource region.
	Region string `yaml:"region"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the fields above.
	Options map[string]any `yaml:"options"`
}

// OptionString returns Options[key] as a string, or "" when absent.
func (e ProviderEntry) OptionString(key string) string {
	if v, ok := e.Options[key].(string); ok {
		return v
	}
	return ""
}

// OptionInt returns Options[key] as an int, or def when absent or not a number.
func (e ProviderEntry) OptionInt(key string, def int) int {
	switch v := e.Options[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}

// TTSConfig configures speech output.
type TTSConfig struct {
	// Enabled turns spoken output on. Can be changed while running.
	Enabled bool `yaml:"enabled"`

	// VoiceGender picks the female or male voice of the target language.
	VoiceGender string `yaml:"voice_gender"`

	// QueueCapacity bounds pending utterances; the oldest are dropped first.
	QueueCapacity int `yaml:"queue_capacity"`

	Player PlayerConfig `yaml:"player"`
}

// PlayerConfig selects the audio output.
type PlayerConfig struct {
	Kind PlayerKind `yaml:"kind"`

	// Command plays encoded clips from stdin. {format} and {rate} are substituted.
	Command string `yaml:"command"`

	// PCMCommand plays raw PCM clips from stdin.
	PCMCommand string `yaml:"pcm_command"`
}

// CaptionsConfig configures word-highlighted captions.
type CaptionsConfig struct {
	// Enabled turns captions on. Can be changed while running.
	Enabled bool `yaml:"enabled"`

	// Overlay serves captions to browser overlays on /captions/ws.
	Overlay bool `yaml:"overlay"`

	// OriginPatterns allows cross-origin overlay clients.
	OriginPatterns []string `yaml:"origin_patterns"`
}

// EventsConfig configures the NATS utterance publisher.
type EventsConfig struct {
	Enabled bool     `yaml:"enabled"`
	Servers []string `yaml:"servers"`
	Subject string   `yaml:"subject"`

	Token    string `yaml:"token"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// Embedded starts an in-process NATS server and publishes to it.
	Embedded EmbeddedNATSConfig `yaml:"embedded"`
}

// EmbeddedNATSConfig configures the in-process NATS server.
type EmbeddedNATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// RealtimeEnabled reports whether file sources are paced.
func (c CaptureConfig) RealtimeEnabled() bool {
	return c.Realtime == nil || *c.Realtime
}

// TelemetryConfig selects where trace spans are exported. Metrics are always
// served on /metrics.
type TelemetryConfig struct {
	// OTLPEndpoint is a host:port of an OTLP/gRPC collector.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`

	// StdoutTraces pretty-prints spans to stdout when no endpoint is set.
	StdoutTraces bool `yaml:"stdout_traces"`

	// SampleRatio is the fraction of traces kept, in [0, 1]. 0 keeps all.
	SampleRatio float64 `yaml:"sample_ratio"`
}
