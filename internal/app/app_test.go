package app_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/parley/internal/app"
	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/pipeline"
	"github.com/MrWong99/parley/internal/uttlog"
	"github.com/MrWong99/parley/internal/voice"
	"github.com/MrWong99/parley/pkg/audio"
	audiomock "github.com/MrWong99/parley/pkg/audio/mock"
	"github.com/MrWong99/parley/pkg/provider/stt"
	sttmock "github.com/MrWong99/parley/pkg/provider/stt/mock"
	"github.com/MrWong99/parley/pkg/provider/tts"
	ttsmock "github.com/MrWong99/parley/pkg/provider/tts/mock"
	vadmock "github.com/MrWong99/parley/pkg/provider/vad/mock"
)

const (
	rate    = 16000
	frameMs = 20
)

// testConfig returns a validated config with calibration disabled and no
// file logs.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	yaml := `
providers:
  stt:
    name: whisper
endpoint:
  silence_threshold: 500ms
  min_speech: 100ms
  poll_interval: 10ms
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	cfg.Capture.Calibration = 0
	cfg.Logs = config.LogsConfig{}
	return cfg
}

type testEnv struct {
	providers *app.Providers
	platform  *audiomock.Platform
	vad       *vadmock.Engine
	stt       *sttmock.Provider
	tts       *ttsmock.Provider
	recorder  *memRecorder
	out       *syncBuffer
}

func newEnv() *testEnv {
	env := &testEnv{
		platform: &audiomock.Platform{},
		vad: &vadmock.Engine{Session: &vadmock.Session{Decide: func(f []byte) bool {
			return binary.LittleEndian.Uint16(f) != 0
		}}},
		stt: &sttmock.Provider{Recognizer: &sttmock.Recognizer{
			FinalResult: stt.Result{Text: "open the door", Confidence: 0.9},
		}},
		tts:      &ttsmock.Provider{},
		recorder: &memRecorder{},
		out:      &syncBuffer{},
	}
	env.providers = &app.Providers{STT: env.stt, TTS: env.tts, VAD: env.vad, Audio: env.platform}
	return env
}

func (e *testEnv) options(t *testing.T, extra ...app.Option) []app.Option {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return append([]app.Option{
		app.WithRecorder(e.recorder),
		app.WithMetrics(m),
		app.WithOutput(e.out),
		app.WithPipelineOptions(pipeline.WithClock(newStepClock().Now)),
	}, extra...)
}

// stepClock advances by one frame duration on every call.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func newStepClock() *stepClock {
	return &stepClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(frameMs * time.Millisecond)
	return c.t
}

type memRecorder struct {
	mu      sync.Mutex
	entries []uttlog.Entry
	closed  bool
}

func (r *memRecorder) Record(_ context.Context, e uttlog.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func (r *memRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *memRecorder) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.entries {
		out = append(out, e.Text)
	}
	return out
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func frame(level int16) audio.Frame {
	data := make([]byte, audio.FrameBytes(rate, frameMs))
	for j := 0; j < len(data); j += 2 {
		binary.LittleEndian.PutUint16(data[j:], uint16(level))
	}
	return audio.Frame{Data: data, SampleRate: rate}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// startRun runs a in the background and returns a stop function that
// cancels it and reports Run's error.
func startRun(t *testing.T, a *app.App) (stop func() error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- a.Run(ctx) }()
	return func() error {
		cancel()
		select {
		case err := <-errc:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("Run did not return after cancel")
			return nil
		}
	}
}

func shutdown(t *testing.T, a *app.App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()

	env := newEnv()
	cfg := testConfig(t)
	a, err := app.New(context.Background(), cfg, env.providers, env.options(t)...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	defer shutdown(t, a)

	if len(env.vad.NewSessionCalls) != 1 {
		t.Fatalf("NewSession calls = %d, want 1", len(env.vad.NewSessionCalls))
	}
	got := env.vad.NewSessionCalls[0].Cfg
	if got.SampleRate != rate || got.FrameSizeMs != frameMs || got.Aggressiveness != config.DefaultAggressiveness {
		t.Errorf("vad config = %+v", got)
	}
	if len(env.platform.OpenCaptureCalls) != 0 {
		t.Error("capture should not open before Run")
	}
	if a.Playback() == nil || a.Voices() == nil {
		t.Error("playback queue and catalogue should be built")
	}
}

func TestNew_MissingProviders(t *testing.T) {
	t.Parallel()

	_, err := app.New(context.Background(), testConfig(t), &app.Providers{})
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"speech-to-text", "synthesis", "voice activity", "audio platform"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("err = %v, missing %q", err, want)
		}
	}
}

func TestNew_PlayerUnavailableReleasesSession(t *testing.T) {
	t.Parallel()

	env := newEnv()
	env.platform.OpenPlayerErr = errors.New("no output device")
	sess := &vadmock.Session{}
	env.vad.Session = sess

	_, err := app.New(context.Background(), testConfig(t), env.providers, env.options(t)...)
	if err == nil || !strings.Contains(err.Error(), "no output device") {
		t.Fatalf("err = %v, want player error", err)
	}
	if sess.CloseCallCount != 1 {
		t.Errorf("vad session closed %d times, want 1", sess.CloseCallCount)
	}
}

func TestNew_VoiceOverrides(t *testing.T) {
	t.Parallel()

	env := newEnv()
	cfg := testConfig(t)
	speaker := "female_9"
	speed := 1.3
	cfg.Voices = map[string]config.VoiceConfig{
		"Oracle": {Speed: &speed},
		"nova":   {SpeakerID: &speaker},
	}
	a, err := app.New(context.Background(), cfg, env.providers, env.options(t)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer shutdown(t, a)

	oracle, err := a.Voices().Lookup("oracle")
	if err != nil || oracle.Speed != 1.3 || oracle.SpeakerID != "male_2" {
		t.Errorf("oracle = %+v, %v", oracle, err)
	}
	nova, err := a.Voices().Lookup("nova")
	if err != nil || nova.SpeakerID != "female_9" {
		t.Errorf("nova = %+v, %v", nova, err)
	}
}

func TestNew_UnknownAcknowledgeVoice(t *testing.T) {
	t.Parallel()

	env := newEnv()
	cfg := testConfig(t)
	cfg.Playback.Acknowledge = &config.AcknowledgeConfig{Text: "ok", Voice: "nobody"}

	_, err := app.New(context.Background(), cfg, env.providers, env.options(t)...)
	if !errors.Is(err, voice.ErrUnknownPersonality) {
		t.Errorf("err = %v, want ErrUnknownPersonality", err)
	}
}

func TestApp_Handler(t *testing.T) {
	t.Parallel()

	env := newEnv()
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	})
	a, err := app.New(context.Background(), testConfig(t), env.providers,
		env.options(t, app.WithMetricsHandler(metrics))...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer shutdown(t, a)

	tests := []struct {
		path string
		want int
	}{
		{"/healthz", http.StatusOK},
		{"/readyz", http.StatusServiceUnavailable},
		{"/metrics", http.StatusOK},
		{"/nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if rec.Code != tt.want {
			t.Errorf("GET %s = %d, want %d", tt.path, rec.Code, tt.want)
		}
	}
}

func TestApp_RunTranscribesAndAcknowledges(t *testing.T) {
	t.Parallel()

	env := newEnv()
	cfg := testConfig(t)
	cfg.Playback.Acknowledge = &config.AcknowledgeConfig{Text: "heard: {text}", Voice: "oracle"}

	a, err := app.New(context.Background(), cfg, env.providers, env.options(t)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stop := startRun(t, a)

	stream := env.platform.WaitStream(1, 5*time.Second)
	if stream == nil {
		t.Fatal("capture stream was never opened")
	}
	waitFor(t, "readiness", func() bool {
		rec := httptest.NewRecorder()
		a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		return rec.Code == http.StatusOK
	})
	for i := range 20 {
		if !stream.Push(frame(3000)) {
			t.Fatalf("queue full at frame %d", i)
		}
	}

	waitFor(t, "acknowledgement", func() bool { return len(env.tts.Texts()) > 0 })
	if err := stop(); err != nil {
		t.Errorf("Run: %v", err)
	}
	shutdown(t, a)

	if got := env.tts.Texts(); !slices.Equal(got, []string{"heard: open the door"}) {
		t.Errorf("spoken = %q", got)
	}
	if calls := env.tts.Calls(); calls[0].Voice.Name != "oracle" {
		t.Errorf("voice = %+v", calls[0].Voice)
	}
	if !strings.Contains(env.out.String(), ">>> open the door") {
		t.Errorf("output = %q", env.out.String())
	}
	if got := env.recorder.texts(); !slices.Equal(got, []string{"open the door"}) {
		t.Errorf("recorded = %q", got)
	}
	if env.recorder.closed {
		t.Error("injected recorder should be left to the caller")
	}
}

func TestApp_IntroductionsBeforeListening(t *testing.T) {
	t.Parallel()

	env := newEnv()
	cfg := testConfig(t)
	cfg.Playback.Introductions = true
	cat := voice.NewCatalogue(
		voice.Personality{Profile: tts.VoiceProfile{Name: "alpha", SpeakerID: "a"}, Introduction: "I am Alpha."},
		voice.Personality{Profile: tts.VoiceProfile{Name: "quiet", SpeakerID: "q"}},
		voice.Personality{Profile: tts.VoiceProfile{Name: "beta", SpeakerID: "b"}, Introduction: "I am Beta.", Pause: 0.01},
	)

	a, err := app.New(context.Background(), cfg, env.providers, env.options(t, app.WithCatalogue(cat))...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stop := startRun(t, a)

	if env.platform.WaitStream(1, 5*time.Second) == nil {
		t.Fatal("capture stream was never opened")
	}
	if got := env.tts.Texts(); !slices.Equal(got, []string{"I am Alpha.", "I am Beta."}) {
		t.Errorf("introductions = %q, want both before capture opened", got)
	}
	if err := stop(); err != nil {
		t.Errorf("Run: %v", err)
	}
	shutdown(t, a)
}

func TestApp_CancelDuringIntroductions(t *testing.T) {
	t.Parallel()

	env := newEnv()
	env.tts.Delay = time.Minute
	cfg := testConfig(t)
	cfg.Playback.Introductions = true

	a, err := app.New(context.Background(), cfg, env.providers, env.options(t)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stop := startRun(t, a)
	waitFor(t, "first introduction", func() bool { return len(env.tts.Texts()) > 0 })

	if err := stop(); err != nil {
		t.Errorf("Run: %v", err)
	}
	if len(env.platform.OpenCaptureCalls) != 0 {
		t.Error("capture opened although Run was cancelled during introductions")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = a.Shutdown(ctx)
}

func TestApp_ShutdownIdempotent(t *testing.T) {
	t.Parallel()

	env := newEnv()
	a, err := app.New(context.Background(), testConfig(t), env.providers, env.options(t)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	shutdown(t, a)
	shutdown(t, a)

	if env.platform.PlayerResult.CloseCalls != 1 {
		t.Errorf("player closed %d times, want 1", env.platform.PlayerResult.CloseCalls)
	}
}
