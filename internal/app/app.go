// Package app wires the parley subsystems into a running application.
//
// The App struct owns the full lifecycle: New opens the devices and builds
// the endpointing pipeline, the playback queue and the utterance logs, Run
// drives them until the context is cancelled, and Shutdown tears everything
// down in order.
//
// For testing, inject doubles through [Providers] (the mocks under pkg/) and
// the functional options. When an option is not provided, New creates the
// real implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/endpoint"
	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/pipeline"
	"github.com/MrWong99/parley/internal/playback"
	"github.com/MrWong99/parley/internal/transcribe"
	"github.com/MrWong99/parley/internal/uttlog"
	"github.com/MrWong99/parley/internal/voice"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/provider/vad"
	"github.com/MrWong99/parley/pkg/types"
)

// TextPlaceholder is replaced by the recognised text in the acknowledgement
// template.
const TextPlaceholder = "{text}"

// adminShutdownTimeout bounds the graceful stop of the admin server.
const adminShutdownTimeout = 5 * time.Second

// Providers holds one interface value per backend slot. Populated by main.go
// via the config registry.
type Providers struct {
	STT   stt.Provider
	TTS   tts.Provider
	VAD   vad.Engine
	Audio audio.Platform
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	queue    *audio.FrameQueue
	vadSess  vad.SessionHandle
	pipeline *pipeline.Pipeline
	player   audio.Player
	playback *playback.Queue
	voices   *voice.Catalogue
	recorder uttlog.Recorder
	metrics  *observe.Metrics
	health   *health.Handler
	admin    http.Handler
	promHTTP http.Handler
	out      io.Writer
	log      *slog.Logger
	pipeOpts []pipeline.Option

	// listening is set while the pipeline loop runs.
	listening atomic.Bool

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRecorder injects the utterance recorder instead of opening the logs
// named in the config.
func WithRecorder(r uttlog.Recorder) Option {
	return func(a *App) { a.recorder = r }
}

// WithCatalogue injects the voice catalogue. Config overrides are still
// applied to it.
func WithCatalogue(c *voice.Catalogue) Option {
	return func(a *App) { a.voices = c }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler mounts h at /metrics on the admin server.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.promHTTP = h }
}

// WithOutput sets where recognised text is printed. Defaults to os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(a *App) { a.out = w }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithPipelineOptions appends options to the endpointing pipeline, after the
// ones New sets itself.
func WithPipelineOptions(opts ...pipeline.Option) Option {
	return func(a *App) { a.pipeOpts = append(a.pipeOpts, opts...) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Devices are opened
// here so that a missing microphone or speaker fails before Run.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if err := checkProviders(providers); err != nil {
		return nil, err
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		out:       os.Stdout,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Voices ────────────────────────────────────────────────────────
	if err := a.initVoices(); err != nil {
		return nil, fmt.Errorf("app: init voices: %w", err)
	}

	// ── 2. Utterance logs ────────────────────────────────────────────────
	if err := a.initRecorder(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("app: init utterance logs: %w", err)
	}

	// ── 3. Capture and endpointing ───────────────────────────────────────
	if err := a.initPipeline(); err != nil {
		a.close()
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}

	// ── 4. Playback ──────────────────────────────────────────────────────
	if err := a.initPlayback(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("app: init playback: %w", err)
	}

	// ── 5. Admin endpoints ───────────────────────────────────────────────
	a.initAdmin()

	return a, nil
}

func checkProviders(p *Providers) error {
	if p == nil {
		return errors.New("app: providers are required")
	}
	var errs []error
	if p.STT == nil {
		errs = append(errs, errors.New("app: speech-to-text provider is required"))
	}
	if p.TTS == nil {
		errs = append(errs, errors.New("app: synthesis provider is required"))
	}
	if p.VAD == nil {
		errs = append(errs, errors.New("app: voice activity detector is required"))
	}
	if p.Audio == nil {
		errs = append(errs, errors.New("app: audio platform is required"))
	}
	return errors.Join(errs...)
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initVoices builds the catalogue and applies the per-voice overrides.
func (a *App) initVoices() error {
	if a.voices == nil {
		a.voices = voice.Default()
	}
	if err := ApplyVoices(a.voices, a.cfg); err != nil {
		return err
	}
	if ack := a.cfg.Playback.Acknowledge; ack != nil {
		if _, err := a.voices.Lookup(ack.Voice); err != nil {
			return fmt.Errorf("acknowledge voice: %w", err)
		}
	}
	return nil
}

// ApplyVoices applies the voices section of cfg to c. New personalities are
// added in name order.
func ApplyVoices(c *voice.Catalogue, cfg *config.Config) error {
	for _, name := range slices.Sorted(maps.Keys(cfg.Voices)) {
		v := cfg.Voices[name]
		o := voice.Override{
			SpeakerID:    v.SpeakerID,
			Speed:        v.Speed,
			PitchShift:   v.PitchShift,
			Description:  v.Description,
			Introduction: v.Introduction,
			Pause:        v.Pause,
		}
		if err := c.Apply(name, o); err != nil {
			return fmt.Errorf("voice %q: %w", name, err)
		}
	}
	return nil
}

// initRecorder opens every configured utterance log.
func (a *App) initRecorder(ctx context.Context) error {
	if a.recorder != nil {
		return nil
	}
	logs := a.cfg.Logs
	var multi uttlog.Multi
	add := func(r uttlog.Recorder) {
		multi = append(multi, r)
		a.closers = append(a.closers, r.Close)
	}

	if logs.TextPath != "" {
		l, err := uttlog.OpenTextLog(logs.TextPath)
		if err != nil {
			return err
		}
		add(l)
	}
	if logs.JSONPath != "" {
		l, err := uttlog.OpenJSONLog(logs.JSONPath)
		if err != nil {
			return err
		}
		add(l)
	}
	if logs.DumpDir != "" {
		d, err := uttlog.NewWAVDump(logs.DumpDir)
		if err != nil {
			return err
		}
		add(d)
	}
	if logs.PostgresDSN != "" {
		l, err := uttlog.OpenPostgresLog(ctx, logs.PostgresDSN)
		if err != nil {
			return err
		}
		add(l)
	}

	a.recorder = multi
	a.log.Info("utterance logs ready", "sinks", len(multi))
	return nil
}

// initPipeline creates the frame queue, the VAD session and the endpointing
// loop. The capture stream itself is opened by the pipeline in Run.
func (a *App) initPipeline() error {
	cp := a.cfg.Capture
	a.queue = audio.NewFrameQueue(cp.QueueSize)

	sess, err := a.providers.VAD.NewSession(vad.Config{
		SampleRate:     cp.SampleRate,
		FrameSizeMs:    cp.FrameMs,
		Aggressiveness: *a.cfg.Endpoint.Aggressiveness,
	})
	if err != nil {
		return fmt.Errorf("open vad session: %w", err)
	}
	a.vadSess = sess
	a.closers = append(a.closers, sess.Close)

	capture := func(ctx context.Context) (audio.CaptureStream, error) {
		return a.providers.Audio.OpenCapture(ctx, audio.CaptureConfig{
			SampleRate: cp.SampleRate,
			FrameMs:    cp.FrameMs,
			DeviceID:   cp.Device,
		}, a.queue)
	}

	opts := append([]pipeline.Option{
		pipeline.WithCapture(capture),
		pipeline.WithRecorder(a.recorder),
		pipeline.WithMetrics(a.metrics),
		pipeline.WithLogger(a.log),
	}, a.pipeOpts...)
	p, err := pipeline.New(a.queue, sess, a.providers.STT, pipelineConfig(a.cfg), opts...)
	if err != nil {
		return err
	}
	a.pipeline = p

	if err := a.metrics.ObserveFrameQueue(a.queue); err != nil {
		a.log.Warn("frame queue metrics unavailable", "err", err)
	}
	return nil
}

// pipelineConfig translates the YAML sections into the pipeline's settings.
func pipelineConfig(cfg *config.Config) pipeline.Config {
	ep, tr := cfg.Endpoint, cfg.Transcription

	padding := endpoint.DefaultPadding
	if ep.Padding != nil {
		padding = *ep.Padding
	}
	minConfidence := config.DefaultMinConfidence
	if tr.MinConfidence != nil {
		minConfidence = *tr.MinConfidence
	}

	return pipeline.Config{
		Endpoint: endpoint.Config{
			SilenceThreshold:  ep.SilenceThreshold,
			PhraseTimeout:     ep.PhraseTimeout,
			MinSpeechDuration: ep.MinSpeech,
			BlipSilence:       ep.BlipSilence,
			Padding:           padding,
		},
		Classifier: endpoint.ClassifierConfig{
			DynamicRatio: ep.DynamicRatio,
			Damping:      ep.Damping,
			EnergyFloor:  ep.EnergyFloor,
			EnergyWindow: ep.EnergyWindow,
		},
		Transcription: transcribe.Config{
			SampleRate: cfg.Capture.SampleRate,
			Language:   tr.Language,
			MaxRetries: tr.MaxRetries,
			RetryDelay: tr.RetryDelay,
		},
		Calibration:        cfg.Capture.Calibration,
		PollInterval:       ep.PollInterval,
		MinConfidence:      minConfidence,
		FinalizeOnShutdown: tr.FinalizeOnShutdown,
		ShutdownTimeout:    tr.ShutdownTimeout,
	}
}

// initPlayback opens the output device and starts the playback worker.
func (a *App) initPlayback(ctx context.Context) error {
	pb := a.cfg.Playback
	player, err := a.providers.Audio.OpenPlayer(ctx, audio.PlaybackConfig{DeviceID: pb.Device})
	if err != nil {
		return fmt.Errorf("open player: %w", err)
	}
	a.player = player
	a.closers = append(a.closers, player.Close)

	opts := []playback.Option{
		playback.WithCatalogue(a.voices),
		playback.WithSpeed(pb.Speed),
		playback.WithCapacity(pb.Capacity),
		playback.WithMetrics(a.metrics),
		playback.WithLogger(a.log),
	}
	if pb.Gap != nil {
		opts = append(opts, playback.WithGap(*pb.Gap))
	}
	a.playback = playback.New(a.providers.TTS, player, opts...)
	return nil
}

// initAdmin builds the health and metrics endpoints.
func (a *App) initAdmin() {
	a.health = health.New(health.Checker{
		Name: "pipeline",
		Check: func(context.Context) error {
			if !a.listening.Load() {
				return errors.New("not listening")
			}
			return nil
		},
	})

	mux := http.NewServeMux()
	a.health.Register(mux)
	if a.promHTTP != nil {
		mux.Handle("GET /metrics", a.promHTTP)
	}
	a.admin = observe.Middleware(a.metrics, a.log)(mux)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the admin HTTP handler (/healthz, /readyz, /metrics).
func (a *App) Handler() http.Handler { return a.admin }

// Playback returns the speech playback queue.
func (a *App) Playback() *playback.Queue { return a.playback }

// Voices returns the voice catalogue.
func (a *App) Voices() *voice.Catalogue { return a.voices }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run plays the introductions (when enabled), then listens and prints every
// recognised utterance until ctx is cancelled or the pipeline stops. A
// cancelled ctx returns nil; an unrecoverable pipeline error is returned.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	if addr := a.cfg.Server.ListenAddr; addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("app: listen on %s: %w", addr, err)
		}
		srv := &http.Server{Handler: a.admin, ReadHeaderTimeout: 5 * time.Second}
		a.log.Info("admin server listening", "addr", ln.Addr().String())

		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: admin server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), adminShutdownTimeout)
			defer scancel()
			return srv.Shutdown(sctx)
		})
	}

	results := a.pipeline.Results()
	skipped := make(chan struct{})
	g.Go(func() error {
		defer cancel()
		if a.cfg.Playback.Introductions {
			if err := a.introduce(gctx); err != nil {
				// Cancelled before listening started; Results will never close.
				close(skipped)
				return nil
			}
		}
		a.health.SetReady(true)
		a.listening.Store(true)
		defer a.listening.Store(false)
		return a.pipeline.Run(gctx)
	})

	g.Go(func() error {
		a.consume(gctx, results, skipped)
		return nil
	})

	a.log.Info("app running", "stt", a.cfg.Providers.STT.Name, "tts", a.cfg.Providers.TTS.Name)
	return g.Wait()
}

// introduce lets every personality with an introduction speak once, in
// catalogue order, pausing after each. It returns ctx.Err() when cancelled.
func (a *App) introduce(ctx context.Context) error {
	for _, p := range a.voices.All() {
		if p.Introduction == "" {
			continue
		}
		if _, err := a.playback.Enqueue(p.Introduction, p.Profile); err != nil {
			a.log.Warn("skipping introduction", "voice", p.Name(), "err", err)
			continue
		}
		if err := a.playback.WaitForCompletion(ctx); err != nil {
			return err
		}
		if err := sleep(ctx, time.Duration(p.Pause*float64(time.Second))); err != nil {
			return err
		}
	}
	return nil
}

// consume drains the result stream until it is closed or skipped is
// closed. Partials overwrite the current line; finals are printed and
// optionally acknowledged.
func (a *App) consume(ctx context.Context, results <-chan types.RecognitionResult, skipped <-chan struct{}) {
	for {
		var r types.RecognitionResult
		select {
		case <-skipped:
			return
		case res, ok := <-results:
			if !ok {
				return
			}
			r = res
		}

		switch r.Kind {
		case types.KindPartial:
			fmt.Fprintf(a.out, "\r... %s", r.Text)
		case types.KindFinal:
			fmt.Fprintf(a.out, "\r>>> %s (%.2f)\n", r.Text, r.Confidence)
			a.acknowledge(r.Text)
		case types.KindError:
			log := observe.Logger(ctx, a.log)
			if r.Recoverable {
				log.Warn("recoverable pipeline error", "kind", types.ErrorKindOf(r.Err), "err", r.Text)
			} else {
				log.Error("pipeline stopped", "kind", types.ErrorKindOf(r.Err), "err", r.Text)
			}
		}
	}
}

// acknowledge speaks the configured acknowledgement for a final result.
func (a *App) acknowledge(text string) {
	ack := a.cfg.Playback.Acknowledge
	if ack == nil {
		return
	}
	line := strings.ReplaceAll(ack.Text, TextPlaceholder, text)
	if _, err := a.playback.Speak(line, ack.Voice); err != nil {
		a.log.Warn("acknowledgement dropped", "voice", ack.Voice, "err", err)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown drains the playback queue, then releases devices and logs. It is
// idempotent; only the first call does any work. Call it after Run returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))
		a.health.SetReady(false)

		if err := a.playback.Shutdown(ctx); err != nil {
			a.log.Warn("playback did not drain", "err", err)
			shutdownErr = err
		}
		a.queue.Close()

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

// close releases whatever New managed to open before failing.
func (a *App) close() {
	for _, closer := range a.closers {
		if err := closer(); err != nil {
			a.log.Debug("cleanup after failed init", "err", err)
		}
	}
	a.closers = nil
}
