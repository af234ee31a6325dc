// Command babelcast is the main entry point for the babelcast live speech
// translator.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/babelcast/internal/app"
	"github.com/MrWong99/babelcast/internal/config"
	"github.com/MrWong99/babelcast/internal/health"
	"github.com/MrWong99/babelcast/internal/observe"
	"github.com/MrWong99/babelcast/internal/resilience"
	azurecreds "github.com/MrWong99/babelcast/pkg/provider/azure"
	"github.com/MrWong99/babelcast/pkg/provider/llm"
	"github.com/MrWong99/babelcast/pkg/provider/llm/anyllm"
	llmopenai "github.com/MrWong99/babelcast/pkg/provider/llm/openai"
	"github.com/MrWong99/babelcast/pkg/provider/stt"
	sttazure "github.com/MrWong99/babelcast/pkg/provider/stt/azure"
	"github.com/MrWong99/babelcast/pkg/provider/stt/deepgram"
	sttopenai "github.com/MrWong99/babelcast/pkg/provider/stt/openai"
	sttrelay "github.com/MrWong99/babelcast/pkg/provider/stt/relay"
	"github.com/MrWong99/babelcast/pkg/provider/stt/whisper"
	"github.com/MrWong99/babelcast/pkg/provider/translate"
	trazure "github.com/MrWong99/babelcast/pkg/provider/translate/azure"
	trllm "github.com/MrWong99/babelcast/pkg/provider/translate/llm"
	trrelay "github.com/MrWong99/babelcast/pkg/provider/translate/relay"
	"github.com/MrWong99/babelcast/pkg/provider/tts"
	ttsazure "github.com/MrWong99/babelcast/pkg/provider/tts/azure"
	"github.com/MrWong99/babelcast/pkg/provider/tts/coqui"
	"github.com/MrWong99/babelcast/pkg/provider/tts/elevenlabs"
	ttsopenai "github.com/MrWong99/babelcast/pkg/provider/tts/openai"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envFile := flag.String("env", ".env", "optional dotenv file loaded before the config")
	listVoices := flag.Bool("list-voices", false, "print the voices of the configured synthesizer and exit")
	flag.Parse()

	// ── Environment ───────────────────────────────────────────────────────────
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "babelcast: load %s: %v\n", *envFile, err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "babelcast: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "babelcast: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.ParseLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("babelcast starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	exporter, err := observe.NewTraceExporter(ctx, observe.TraceExporterConfig{
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
		Stdout:       cfg.Telemetry.StdoutTraces,
	})
	if err != nil {
		slog.Error("failed to create trace exporter", "err", err)
		return 1
	}
	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		SourceLang:     cfg.Languages.From,
		TargetLang:     cfg.Languages.To,
		TraceExporter:  exporter,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg)

	if *listVoices {
		return printVoices(ctx, cfg, reg)
	}

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers, app.WithLogger(logger), app.WithLogLevel(level))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, application.ApplyConfig, config.WithWatcherLogger(logger))
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		go func() {
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Warn("config watcher stopped", "err", err)
			}
		}()
	}

	slog.Info("translator ready, press Ctrl+C to shut down")

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return code
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// anyLLMBackends are the LLM names served through any-llm-go. "openai" has
// its own client.
var anyLLMBackends = []string{
	"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile", "ollama",
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		return llmopenai.New(entry.APIKey, entry.Model, openAIOptions(entry)...)
	})

	for _, providerName := range anyLLMBackends {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			// ollama is a local server; it uses BaseURL for the address, not an API key.
			if entry.APIKey != "" && providerName != "ollama" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("azure", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []sttazure.Option
		if entry.BaseURL != "" {
			opts = append(opts, sttazure.WithEndpoint(entry.BaseURL))
		}
		if entry.OptionString("auth") == "token" {
			opts = append(opts, sttazure.WithTokenSource(azurecreds.NewTokenSource(azureCredentials(entry))))
		}
		opts = append(opts, sttazure.WithLogger(slog.Default()))
		return sttazure.New(azureCredentials(entry), opts...)
	})

	reg.RegisterSTT("relay", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []sttrelay.Option
		if d := cfg.Pipeline.RequestTimeout; d > 0 {
			opts = append(opts, sttrelay.WithTimeout(d))
		}
		return sttrelay.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := entry.OptionString("language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithBaseURL(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.OptionString("language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = entry.OptionString("model_path")
		}
		var opts []whisper.NativeOption
		if lang := entry.OptionString("language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		return sttopenai.New(entry.APIKey, entry.Model, openAIOptions(entry)...)
	})

	// ── Translate ─────────────────────────────────────────────────────────────

	reg.RegisterTranslate("azure", func(entry config.ProviderEntry) (translate.Provider, error) {
		var opts []trazure.Option
		if entry.BaseURL != "" {
			opts = append(opts, trazure.WithEndpoint(entry.BaseURL))
		}
		return trazure.New(azureCredentials(entry), opts...)
	})

	reg.RegisterTranslate("relay", func(entry config.ProviderEntry) (translate.Provider, error) {
		return trrelay.New(entry.BaseURL, cfg.Pipeline.RequestTimeout)
	})

	// The llm translator prompts the model configured under providers.llm.
	reg.RegisterTranslate("llm", func(entry config.ProviderEntry) (translate.Provider, error) {
		model, err := buildLLM(cfg.Providers.LLM, reg)
		if err != nil {
			return nil, err
		}
		return trllm.New(model, entry.OptionInt("max_tokens", 0))
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("azure", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []ttsazure.Option
		if entry.BaseURL != "" {
			opts = append(opts, ttsazure.WithEndpoint(entry.BaseURL))
		}
		if f := entry.OptionString("output_format"); f != "" {
			opts = append(opts, ttsazure.WithOutputFormat(f))
		}
		if entry.OptionString("auth") == "token" {
			opts = append(opts, ttsazure.WithTokenSource(azurecreds.NewTokenSource(azureCredentials(entry))))
		}
		return ttsazure.New(azureCredentials(entry), opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := entry.OptionString("output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		if voice := entry.OptionString("voice"); voice != "" {
			opts = append(opts, elevenlabs.WithDefaultVoice(voice))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if mode := entry.OptionString("api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if speaker := entry.OptionString("speaker"); speaker != "" {
			opts = append(opts, coqui.WithDefaultSpeaker(speaker))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		return ttsopenai.New(entry.APIKey, entry.Model, openAIOptions(entry)...)
	})

	for _, kind := range []string{"llm", "stt", "translate", "tts"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
// Slots with fallbacks are wrapped in circuit-breaking fallback groups.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	// ── STT ───────────────────────────────────────────────────────────────────
	slot := cfg.Providers.STT
	primary, err := reg.CreateSTT(slot.ProviderEntry)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", slot.Name, err)
	}
	addPinger(ps, "stt:"+slot.Name, primary)
	ps.STT, ps.STTName = primary, slot.Name
	if len(slot.Fallbacks) > 0 {
		fb := resilience.NewSTTFallback(primary, slot.Name, fallbackConfig("stt"))
		for _, e := range slot.Fallbacks {
			p, err := reg.CreateSTT(e)
			if err != nil {
				return nil, fmt.Errorf("create stt fallback %q: %w", e.Name, err)
			}
			addPinger(ps, "stt:"+e.Name, p)
			fb.AddFallback(e.Name, p)
		}
		ps.STT = fb
	}
	slog.Info("provider created", "kind", "stt", "name", slot.Name, "fallbacks", len(slot.Fallbacks))

	// ── Translate ─────────────────────────────────────────────────────────────
	slot = cfg.Providers.Translate
	tr, err := reg.CreateTranslate(slot.ProviderEntry)
	if err != nil {
		return nil, fmt.Errorf("create translate provider %q: %w", slot.Name, err)
	}
	ps.Translate, ps.TranslateName = tr, slot.Name
	if len(slot.Fallbacks) > 0 {
		fb := resilience.NewTranslateFallback(tr, slot.Name, fallbackConfig("translate"))
		for _, e := range slot.Fallbacks {
			p, err := reg.CreateTranslate(e)
			if err != nil {
				return nil, fmt.Errorf("create translate fallback %q: %w", e.Name, err)
			}
			fb.AddFallback(e.Name, p)
		}
		ps.Translate = fb
	}
	slog.Info("provider created", "kind", "translate", "name", slot.Name, "fallbacks", len(slot.Fallbacks))

	// ── TTS (optional) ────────────────────────────────────────────────────────
	slot = cfg.Providers.TTS
	if slot.Name == "" {
		slog.Info("no synthesizer configured, speech output disabled")
		return ps, nil
	}
	synth, err := createTTS(slot, reg)
	if err != nil {
		return nil, err
	}
	ps.TTS, ps.TTSName = synth, slot.Name
	slog.Info("provider created", "kind", "tts", "name", slot.Name, "fallbacks", len(slot.Fallbacks))

	return ps, nil
}

// createTTS builds the synthesizer slot, wrapped in a fallback group when
// fallbacks are configured.
func createTTS(slot config.ProviderSlot, reg *config.Registry) (tts.Provider, error) {
	primary, err := reg.CreateTTS(slot.ProviderEntry)
	if err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", slot.Name, err)
	}
	if len(slot.Fallbacks) == 0 {
		return primary, nil
	}
	fb := resilience.NewTTSFallback(primary, slot.Name, fallbackConfig("tts"))
	for _, e := range slot.Fallbacks {
		p, err := reg.CreateTTS(e)
		if err != nil {
			return nil, fmt.Errorf("create tts fallback %q: %w", e.Name, err)
		}
		fb.AddFallback(e.Name, p)
	}
	return fb, nil
}

// buildLLM builds the model behind the llm translator.
func buildLLM(slot config.ProviderSlot, reg *config.Registry) (llm.Provider, error) {
	primary, err := reg.CreateLLM(slot.ProviderEntry)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", slot.Name, err)
	}
	if len(slot.Fallbacks) == 0 {
		return primary, nil
	}
	fb := resilience.NewLLMFallback(primary, slot.Name, fallbackConfig("llm"))
	for _, e := range slot.Fallbacks {
		p, err := reg.CreateLLM(e)
		if err != nil {
			return nil, fmt.Errorf("create llm fallback %q: %w", e.Name, err)
		}
		fb.AddFallback(e.Name, p)
	}
	return fb, nil
}

func fallbackConfig(kind string) resilience.FallbackConfig {
	metrics := observe.DefaultMetrics()
	return resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			Name: kind,
			OnStateChange: func(name string, _, to resilience.State) {
				metrics.RecordBreakerTransition(context.Background(), name, kind, to.String())
			},
		},
	}
}

// addPinger registers a readiness check for backends that can be probed.
func addPinger(ps *app.Providers, name string, p any) {
	if pinger, ok := p.(health.Pinger); ok {
		ps.Checkers = append(ps.Checkers, health.Ping(name, pinger))
	}
}

// ── Voice listing ─────────────────────────────────────────────────────────────

func printVoices(ctx context.Context, cfg *config.Config, reg *config.Registry) int {
	slot := cfg.Providers.TTS
	if slot.Name == "" {
		fmt.Fprintln(os.Stderr, "babelcast: no synthesizer configured under providers.tts")
		return 1
	}
	p, err := reg.CreateTTS(slot.ProviderEntry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "babelcast: %v\n", err)
		return 1
	}
	lister, ok := p.(tts.VoiceLister)
	if !ok {
		fmt.Fprintf(os.Stderr, "babelcast: synthesizer %q cannot list voices\n", slot.Name)
		return 1
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	voices, err := lister.ListVoices(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "babelcast: list voices: %v\n", err)
		return 1
	}
	for _, v := range voices {
		fmt.Printf("%-40s %-30s %s\n", v.ID, v.Name, v.Provider)
	}
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        babelcast, startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Languages", cfg.Languages.From+" → "+cfg.Languages.To)
	printRow("Source", string(cfg.Capture.Source))
	printProvider("STT", cfg.Providers.STT)
	printProvider("Translate", cfg.Providers.Translate)
	printProvider("TTS", cfg.Providers.TTS)
	if cfg.Providers.Translate.Name == "llm" {
		printProvider("LLM", cfg.Providers.LLM)
	}
	printRow("Speech", onOff(cfg.TTS.Enabled && cfg.Providers.TTS.Name != ""))
	printRow("Captions", onOff(cfg.Captions.Enabled))
	printRow("Overlay", onOff(cfg.Captions.Overlay))
	printRow("Events", onOff(cfg.Events.Enabled))
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind string, slot config.ProviderSlot) {
	value := slot.Name
	switch {
	case value == "":
		value = "(not configured)"
	case slot.Model != "":
		value = slot.Name + " / " + slot.Model
	}
	if n := len(slot.Fallbacks); n > 0 {
		value = fmt.Sprintf("%s +%d", value, n)
	}
	printRow(kind, value)
}

func printRow(label, value string) {
	if r := []rune(value); len(r) > 19 {
		value = string(r[:18]) + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func azureCredentials(entry config.ProviderEntry) azurecreds.Credentials {
	return azurecreds.Credentials{Key: entry.APIKey, Region: entry.Region}
}

func openAIOptions(entry config.ProviderEntry) []llmopenai.Option {
	var opts []llmopenai.Option
	if entry.BaseURL != "" {
		opts = append(opts, llmopenai.WithBaseURL(entry.BaseURL))
	}
	if org := entry.OptionString("organization"); org != "" {
		opts = append(opts, llmopenai.WithOrganization(org))
	}
	return opts
}
