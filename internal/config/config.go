// Package config provides the configuration schema, loader and provider
// registry for parley.
//
// Configuration is read once at startup from YAML. Zero values are replaced
// by the defaults in [Config.ApplyDefaults] before [Validate] runs, so a
// minimal file only has to name a speech-to-text provider.
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

// Config is the root configuration, loaded with [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Providers     ProvidersConfig     `yaml:"providers"`
	Capture       CaptureConfig       `yaml:"capture"`
	Endpoint      EndpointConfig      `yaml:"endpoint"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Playback      PlaybackConfig      `yaml:"playback"`
	Logs          LogsConfig          `yaml:"logs"`

	// Voices overrides built-in personalities or adds new ones, keyed by
	// personality name.
	Voices map[string]VoiceConfig `yaml:"voices"`
}

// ServerConfig holds the admin server and logging settings.
type ServerConfig struct {
	// ListenAddr is the address of the admin HTTP server serving /metrics,
	// /healthz and /readyz. Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`
}

// ProvidersConfig selects the implementation for each backend. Names are
// looked up in the [Registry].
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`

	// STTFallbacks are tried in order when the primary recognizer backend
	// cannot be opened.
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`

	TTS          ProviderEntry   `yaml:"tts"`
	TTSFallbacks []ProviderEntry `yaml:"tts_fallbacks"`

	VAD   ProviderEntry `yaml:"vad"`
	Audio ProviderEntry `yaml:"audio"`
}

// ProviderEntry is the configuration block shared by all backends.
type ProviderEntry struct {
	// Name selects the registered implementation (e.g. "whisper", "coqui").
	Name string `yaml:"name"`

	APIKey string `yaml:"api_key"`

	// BaseURL is the server address for HTTP backends. Empty selects the
	// backend default.
	BaseURL string `yaml:"base_url"`

	// Model selects a model; for native whisper it is the model file path.
	Model string `yaml:"model"`

	// Options holds backend-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// CaptureConfig configures the microphone stream and frame queue.
type CaptureConfig struct {
	// Device selects the input device by index or name substring. Empty
	// selects the system default.
	Device string `yaml:"device"`

	SampleRate int `yaml:"sample_rate"`
	FrameMs    int `yaml:"frame_ms"`

	// QueueSize is the capacity of the frame queue in frames.
	QueueSize int `yaml:"queue_size"`

	// Calibration is how long ambient noise is sampled before listening.
	Calibration time.Duration `yaml:"calibration"`
}

// EndpointConfig tunes speech classification and utterance endpointing.
type EndpointConfig struct {
	// Aggressiveness is the VAD mode, 0 (permissive) to 3 (strict).
	Aggressiveness *int `yaml:"aggressiveness"`

	SilenceThreshold time.Duration `yaml:"silence_threshold"`
	PhraseTimeout    time.Duration `yaml:"phrase_timeout"`
	MinSpeech        time.Duration `yaml:"min_speech"`
	BlipSilence      time.Duration `yaml:"blip_silence"`

	// Padding is the pre-roll prepended to an utterance at onset.
	Padding *time.Duration `yaml:"padding"`

	DynamicRatio float64 `yaml:"dynamic_ratio"`
	Damping      float64 `yaml:"damping"`
	EnergyFloor  float64 `yaml:"energy_floor"`
	EnergyWindow int     `yaml:"energy_window"`

	PollInterval time.Duration `yaml:"poll_interval"`
}

// TranscriptionConfig controls the recognizer binding and result filtering.
type TranscriptionConfig struct {
	// Language is passed to every recognizer. Empty selects the backend
	// default.
	Language string `yaml:"language"`

	// MinConfidence discards finals below it.
	MinConfidence *float64 `yaml:"min_confidence"`

	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`

	// FinalizeOnShutdown transcribes an utterance in progress at shutdown
	// instead of dropping it.
	FinalizeOnShutdown bool          `yaml:"finalize_on_shutdown"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
}

// PlaybackConfig controls the speech playback queue.
type PlaybackConfig struct {
	// Device selects the output device. Empty selects the system default.
	Device string `yaml:"device"`

	// Speed is the global speed multiplier applied on top of each voice.
	Speed float64 `yaml:"speed"`

	// Gap is the silence between consecutive utterances.
	Gap *time.Duration `yaml:"gap"`

	// Capacity bounds the number of waiting requests.
	Capacity int `yaml:"capacity"`

	// Introductions makes every personality introduce itself at startup.
	Introductions bool `yaml:"introductions"`

	// Acknowledge, when set, is spoken after each final transcription.
	Acknowledge *AcknowledgeConfig `yaml:"acknowledge"`
}

// AcknowledgeConfig is the echo responder.
type AcknowledgeConfig struct {
	// Text is spoken verbatim. "{text}" is replaced by the transcription.
	Text string `yaml:"text"`

	// Voice is the personality name to speak with.
	Voice string `yaml:"voice"`
}

// LogsConfig selects where finalized utterances are persisted. Every
// non-empty destination is written.
type LogsConfig struct {
	// TextPath is the human-readable log of finalized utterances.
	TextPath string `yaml:"text_path"`

	// JSONPath is a JSON-lines log with one record per utterance.
	JSONPath string `yaml:"json_path"`

	// DumpDir receives one WAV file per finalized utterance.
	DumpDir string `yaml:"dump_dir"`

	// PostgresDSN stores utterances in the utterances table.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// VoiceConfig overrides fields of a personality. Nil fields keep the
// built-in value.
type VoiceConfig struct {
	SpeakerID    *string  `yaml:"speaker_id"`
	Speed        *float64 `yaml:"speed"`
	PitchShift   *float64 `yaml:"pitch_shift"`
	Description  *string  `yaml:"description"`
	Introduction *string  `yaml:"introduction"`

	// Pause is the silence in seconds after the introduction.
	Pause *float64 `yaml:"pause"`
}
