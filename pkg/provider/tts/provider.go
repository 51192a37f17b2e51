// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (a local Coqui server,
// ElevenLabs, or the silent simulation engine) and turns one complete text
// into one waveform. The playback queue calls Synthesize once per request and
// plays the result to completion before moving on, so there is no streaming
// contract here.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text with the given voice and returns the complete
	// waveform. Implementations apply voice.Speed and voice.PitchShift when the
	// backend supports them and must return an error rather than an empty
	// Waveform when synthesis produced no audio.
	Synthesize(ctx context.Context, text string, voice VoiceProfile) (Waveform, error)
}

// VoiceLister is implemented by providers that can enumerate the voices of
// their backend.
type VoiceLister interface {
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}
