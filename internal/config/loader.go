package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/parley/pkg/audio"
)

// Defaults applied by [Config.ApplyDefaults].
const (
	DefaultSampleRate       = 16000
	DefaultFrameMs          = 20
	DefaultQueueSize        = 256
	DefaultCalibration      = 2 * time.Second
	DefaultAggressiveness   = 1
	DefaultSilenceThreshold = 1500 * time.Millisecond
	DefaultPhraseTimeout    = 5 * time.Second
	DefaultMinSpeech        = 300 * time.Millisecond
	DefaultEnergyFloor      = 60.0
	DefaultMinConfidence    = 0.5
	DefaultMaxRetries       = 3
	DefaultRetryDelay       = 2 * time.Second
	DefaultTextLog          = "logs/speech_log.txt"
	DefaultPlaybackSpeed    = 1.0
	DefaultVAD              = "webrtc"
	DefaultAudio            = "miniaudio"
	DefaultTTS              = "silent"
)

// ValidProviderNames lists the built-in backend names per kind. Unknown names
// are only warned about since a caller may register its own.
var ValidProviderNames = map[string][]string{
	"stt":   {"whisper", "whisper-http", "deepgram"},
	"tts":   {"coqui", "elevenlabs", "silent"},
	"vad":   {"webrtc"},
	"audio": {"miniaudio"},
}

// Load reads, defaults and validates the YAML file at path.
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

// LoadFromReader decodes YAML from r, rejecting unknown keys, then applies
// defaults and validates.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field with its default.
func (c *Config) ApplyDefaults() {
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}

	if c.Providers.VAD.Name == "" {
		c.Providers.VAD.Name = DefaultVAD
	}
	if c.Providers.Audio.Name == "" {
		c.Providers.Audio.Name = DefaultAudio
	}
	if c.Providers.TTS.Name == "" {
		c.Providers.TTS.Name = DefaultTTS
	}

	cp := &c.Capture
	if cp.SampleRate == 0 {
		cp.SampleRate = DefaultSampleRate
	}
	if cp.FrameMs == 0 {
		cp.FrameMs = DefaultFrameMs
	}
	if cp.QueueSize == 0 {
		cp.QueueSize = DefaultQueueSize
	}
	if cp.Calibration == 0 {
		cp.Calibration = DefaultCalibration
	}

	ep := &c.Endpoint
	if ep.Aggressiveness == nil {
		ep.Aggressiveness = ptr(DefaultAggressiveness)
	}
	if ep.SilenceThreshold == 0 {
		ep.SilenceThreshold = DefaultSilenceThreshold
	}
	if ep.PhraseTimeout == 0 {
		ep.PhraseTimeout = DefaultPhraseTimeout
	}
	if ep.MinSpeech == 0 {
		ep.MinSpeech = DefaultMinSpeech
	}
	if ep.EnergyFloor == 0 {
		ep.EnergyFloor = DefaultEnergyFloor
	}

	tr := &c.Transcription
	if tr.MinConfidence == nil {
		tr.MinConfidence = ptr(DefaultMinConfidence)
	}
	if tr.MaxRetries == 0 {
		tr.MaxRetries = DefaultMaxRetries
	}
	if tr.RetryDelay == 0 {
		tr.RetryDelay = DefaultRetryDelay
	}

	if c.Playback.Speed == 0 {
		c.Playback.Speed = DefaultPlaybackSpeed
	}

	if c.Logs.TextPath == "" {
		c.Logs.TextPath = DefaultTextLog
	}
}

// Validate reports every problem in cfg at once. It expects defaults to be
// applied already.
func Validate(cfg *Config) error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if !cfg.Server.LogLevel.IsValid() {
		add("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel)
	}

	if cfg.Providers.STT.Name == "" {
		add("providers.stt.name is required")
	}
	validateProviderName("stt", cfg.Providers.STT.Name)
	for i, e := range cfg.Providers.STTFallbacks {
		if e.Name == "" {
			add("providers.stt_fallbacks[%d].name is required", i)
		}
		validateProviderName("stt", e.Name)
	}
	validateProviderName("tts", cfg.Providers.TTS.Name)
	for i, e := range cfg.Providers.TTSFallbacks {
		if e.Name == "" {
			add("providers.tts_fallbacks[%d].name is required", i)
		}
		validateProviderName("tts", e.Name)
	}
	validateProviderName("vad", cfg.Providers.VAD.Name)
	validateProviderName("audio", cfg.Providers.Audio.Name)

	cp := cfg.Capture
	if err := audio.CheckFraming(cp.SampleRate, cp.FrameMs); err != nil {
		add("capture: %w", err)
	}
	if cp.QueueSize < 1 {
		add("capture.queue_size must be positive, got %d", cp.QueueSize)
	}
	if cp.Calibration < 0 {
		add("capture.calibration must not be negative, got %v", cp.Calibration)
	}

	ep := cfg.Endpoint
	if a := *ep.Aggressiveness; a < 0 || a > 3 {
		add("endpoint.aggressiveness %d is out of range [0, 3]", a)
	}
	if ep.SilenceThreshold < 0 || ep.PhraseTimeout < 0 || ep.MinSpeech < 0 || ep.BlipSilence < 0 {
		add("endpoint durations must not be negative")
	}
	if ep.MinSpeech >= ep.PhraseTimeout {
		add("endpoint.min_speech (%v) must be shorter than endpoint.phrase_timeout (%v)", ep.MinSpeech, ep.PhraseTimeout)
	}
	if ep.Padding != nil && *ep.Padding < 0 {
		add("endpoint.padding must not be negative, got %v", *ep.Padding)
	}
	if ep.Damping < 0 || ep.Damping > 1 {
		add("endpoint.damping %g is out of range [0, 1]", ep.Damping)
	}
	if ep.DynamicRatio < 0 || ep.EnergyFloor < 0 || ep.EnergyWindow < 0 {
		add("endpoint energy settings must not be negative")
	}

	tr := cfg.Transcription
	if mc := *tr.MinConfidence; mc < 0 || mc > 1 {
		add("transcription.min_confidence %g is out of range [0, 1]", mc)
	}
	if tr.MaxRetries < 0 {
		add("transcription.max_retries must not be negative, got %d", tr.MaxRetries)
	}
	if tr.RetryDelay < 0 {
		add("transcription.retry_delay must not be negative, got %v", tr.RetryDelay)
	}

	pb := cfg.Playback
	if pb.Speed <= 0 || pb.Speed > 4 {
		add("playback.speed %g is out of range (0, 4]", pb.Speed)
	}
	if pb.Gap != nil && *pb.Gap < 0 {
		add("playback.gap must not be negative, got %v", *pb.Gap)
	}
	if pb.Capacity < 0 {
		add("playback.capacity must not be negative, got %d", pb.Capacity)
	}
	if ack := pb.Acknowledge; ack != nil {
		if strings.TrimSpace(ack.Text) == "" {
			add("playback.acknowledge.text is required")
		}
		if ack.Voice == "" {
			add("playback.acknowledge.voice is required")
		}
	}

	for name, v := range cfg.Voices {
		prefix := fmt.Sprintf("voices.%s", name)
		if strings.TrimSpace(name) == "" {
			add("voices: personality name must not be empty")
		}
		if v.Speed != nil && (*v.Speed <= 0 || *v.Speed > 4) {
			add("%s.speed %g is out of range (0, 4]", prefix, *v.Speed)
		}
		if v.PitchShift != nil && (*v.PitchShift < -12 || *v.PitchShift > 12) {
			add("%s.pitch_shift %g is out of range [-12, 12]", prefix, *v.PitchShift)
		}
		if v.Pause != nil && *v.Pause < 0 {
			add("%s.pause must not be negative", prefix)
		}
	}

	return errors.Join(errs...)
}

func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known := ValidProviderNames[kind]
	if known == nil || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a custom registration",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

func ptr[T any](v T) *T { return &v }
