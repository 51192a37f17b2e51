// Command parley listens to a microphone, prints every recognised utterance
// and speaks through a queue of voice personalities.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/MrWong99/parley/internal/app"
	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/internal/voice"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/miniaudio"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/stt/deepgram"
	"github.com/MrWong99/parley/pkg/provider/stt/whisper"
	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/provider/tts/coqui"
	"github.com/MrWong99/parley/pkg/provider/tts/elevenlabs"
	"github.com/MrWong99/parley/pkg/provider/tts/silent"
	"github.com/MrWong99/parley/pkg/provider/vad"
	"github.com/MrWong99/parley/pkg/provider/vad/webrtc"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "parley.yaml", "path to the YAML configuration file")
	listVoices := flag.Bool("list-voices", false, "print the voice personalities and exit")
	listDevices := flag.Bool("list-devices", false, "print the audio devices and exit")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "parley: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("parley starting",
		"config", *configPath,
		"version", version,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, closers, err := buildProviders(cfg, reg)
	defer closeAll(closers)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── One-shot listings ─────────────────────────────────────────────────────
	if *listVoices {
		if err := printVoices(ctx, os.Stdout, cfg, providers.TTS); err != nil {
			slog.Error("failed to list voices", "err", err)
			return 1
		}
		return 0
	}
	if *listDevices {
		if err := printDevices(os.Stdout, providers.Audio); err != nil {
			slog.Error("failed to list devices", "err", err)
			return 1
		}
		return 0
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers,
		app.WithMetricsHandler(tel.Handler),
		app.WithLogger(logger),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("ready, press Ctrl+C to stop")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in backend factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = config.OptString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := config.OptString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if d := config.OptDuration(entry.Options, "partial_interval"); d > 0 {
			opts = append(opts, whisper.WithNativePartialInterval(d))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterSTT("whisper-http", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := config.OptString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if d := config.OptDuration(entry.Options, "partial_interval"); d > 0 {
			opts = append(opts, whisper.WithPartialInterval(d))
		}
		if d := config.OptDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, whisper.WithTimeout(d))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := config.OptString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if d := config.OptDuration(entry.Options, "finalize_wait"); d > 0 {
			opts = append(opts, deepgram.WithFinalizeWait(d))
		}
		return deepgram.New(apiKey(entry, "DEEPGRAM_API_KEY"), opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := config.OptString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := config.OptString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if d := config.OptDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, coqui.WithTimeout(d))
		}
		if rate, ok := entry.Options["sample_rate"].(int); ok {
			opts = append(opts, coqui.WithOutputSampleRate(rate))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := config.OptString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		return elevenlabs.New(apiKey(entry, "ELEVENLABS_API_KEY"), opts...)
	})

	reg.RegisterTTS("silent", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []silent.Option
		if perWord, ok := entry.Options["per_word"].(float64); ok {
			opts = append(opts, silent.WithPerWord(perWord))
		}
		if rate, ok := entry.Options["sample_rate"].(int); ok {
			opts = append(opts, silent.WithSampleRate(rate))
		}
		return silent.New(opts...), nil
	})

	// ── VAD / audio ───────────────────────────────────────────────────────────

	reg.RegisterVAD("webrtc", func(config.ProviderEntry) (vad.Engine, error) {
		return webrtc.New(), nil
	})

	reg.RegisterAudio("miniaudio", func(config.ProviderEntry) (audio.Platform, error) {
		return miniaudio.New()
	})

	for _, kind := range []string{"stt", "tts", "vad", "audio"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// apiKey returns the configured key or, when empty, the environment
// variable env.
func apiKey(entry config.ProviderEntry, env string) string {
	if entry.APIKey != "" {
		return entry.APIKey
	}
	return os.Getenv(env)
}

// buildProviders instantiates every backend named in cfg. Speech-to-text and
// synthesis backends with fallbacks are wrapped in circuit-breaking failover
// groups. The returned closers release native resources and are valid even
// when an error is returned.
func buildProviders(cfg *config.Config, reg *config.Registry) (_ *app.Providers, closers []io.Closer, err error) {
	ps := &app.Providers{}
	track := func(v any) {
		if c, ok := v.(io.Closer); ok {
			closers = append(closers, c)
		}
	}
	fbCfg := resilience.FallbackConfig{
		Metrics: observe.DefaultMetrics(),
		CircuitBreaker: resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Info("provider circuit changed", "provider", name, "from", from, "to", to)
			},
		},
	}

	sttP, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, closers, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	track(sttP)
	ps.STT = sttP
	if len(cfg.Providers.STTFallbacks) > 0 {
		group := resilience.NewSTTFallback(sttP, cfg.Providers.STT.Name, fbCfg)
		for _, e := range cfg.Providers.STTFallbacks {
			p, err := reg.CreateSTT(e)
			if err != nil {
				return nil, closers, fmt.Errorf("create stt fallback %q: %w", e.Name, err)
			}
			track(p)
			group.AddFallback(e.Name, p)
		}
		ps.STT = group
		slog.Info("stt failover enabled", "order", group.Providers())
	}

	ttsP, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		return nil, closers, fmt.Errorf("create tts provider %q: %w", cfg.Providers.TTS.Name, err)
	}
	ps.TTS = ttsP
	if len(cfg.Providers.TTSFallbacks) > 0 {
		group := resilience.NewTTSFallback(ttsP, cfg.Providers.TTS.Name, fbCfg)
		for _, e := range cfg.Providers.TTSFallbacks {
			p, err := reg.CreateTTS(e)
			if err != nil {
				return nil, closers, fmt.Errorf("create tts fallback %q: %w", e.Name, err)
			}
			group.AddFallback(e.Name, p)
		}
		ps.TTS = group
		slog.Info("tts failover enabled", "order", group.Providers())
	}

	if ps.VAD, err = reg.CreateVAD(cfg.Providers.VAD); err != nil {
		return nil, closers, fmt.Errorf("create vad %q: %w", cfg.Providers.VAD.Name, err)
	}
	if ps.Audio, err = reg.CreateAudio(cfg.Providers.Audio); err != nil {
		return nil, closers, fmt.Errorf("create audio platform %q: %w", cfg.Providers.Audio.Name, err)
	}
	closers = append(closers, ps.Audio)

	for kind, name := range map[string]string{
		"stt":   cfg.Providers.STT.Name,
		"tts":   cfg.Providers.TTS.Name,
		"vad":   cfg.Providers.VAD.Name,
		"audio": cfg.Providers.Audio.Name,
	} {
		slog.Info("provider created", "kind", kind, "name", name)
	}
	return ps, closers, nil
}

// closeAll closes cs in reverse order.
func closeAll(cs []io.Closer) {
	for i := len(cs) - 1; i >= 0; i-- {
		if err := cs[i].Close(); err != nil {
			slog.Warn("provider close error", "err", err)
		}
	}
}

// ── Listings ──────────────────────────────────────────────────────────────────

func printVoices(ctx context.Context, w io.Writer, cfg *config.Config, synth tts.Provider) error {
	cat := voice.Default()
	if err := app.ApplyVoices(cat, cfg); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSPEAKER\tSPEED\tPITCH\tDESCRIPTION")
	for _, p := range cat.All() {
		v := p.Profile
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%+.1f\t%s\n", v.Name, v.SpeakerID, v.Speed, v.PitchShift, v.Description)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	lister, ok := synth.(tts.VoiceLister)
	if !ok {
		return nil
	}
	voices, err := lister.ListVoices(ctx)
	if err != nil {
		slog.Warn("synthesis backend could not list its speakers", "err", err)
		return nil
	}
	names := make([]string, 0, len(voices))
	for _, v := range voices {
		names = append(names, v.SpeakerID)
	}
	fmt.Fprintf(w, "\nBackend speakers: %s\n", strings.Join(names, ", "))
	return nil
}

// deviceLister is implemented by audio platforms that can enumerate devices.
type deviceLister interface {
	DeviceNames(capture bool) ([]string, error)
}

func printDevices(w io.Writer, p audio.Platform) error {
	dl, ok := p.(deviceLister)
	if !ok {
		return errors.New("audio platform cannot list devices")
	}
	for _, capture := range []bool{true, false} {
		names, err := dl.DeviceNames(capture)
		if err != nil {
			return err
		}
		title := "Playback devices"
		if capture {
			title = "Capture devices"
		}
		fmt.Fprintf(w, "%s:\n", title)
		for i, n := range names {
			fmt.Fprintf(w, "  [%d] %s\n", i, n)
		}
	}
	return nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          parley startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("VAD", cfg.Providers.VAD.Name, "")
	printProvider("Audio", cfg.Providers.Audio.Name, "")
	fmt.Printf("║  Fallbacks       : %-19s ║\n",
		fmt.Sprintf("%d stt / %d tts", len(cfg.Providers.STTFallbacks), len(cfg.Providers.TTSFallbacks)))
	fmt.Printf("║  Capture         : %-19s ║\n",
		fmt.Sprintf("%d Hz / %d ms", cfg.Capture.SampleRate, cfg.Capture.FrameMs))
	fmt.Printf("║  Silence         : %-19s ║\n", cfg.Endpoint.SilenceThreshold)
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Admin addr      : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
