package tts

import "time"

// VoiceProfile describes how one personality sounds.
type VoiceProfile struct {
	// Name is the personality name (e.g. "kira").
	Name string

	// SpeakerID is the provider-specific voice identifier. Empty selects the
	// provider's default voice.
	SpeakerID string

	// Speed is the speaking rate multiplier (1.0 = natural). Zero means 1.0.
	Speed float64

	// PitchShift adjusts pitch in semitones (0 = natural).
	PitchShift float64

	// Description is a free-form note shown in voice listings.
	Description string
}

// EffectiveSpeed returns Speed, or 1 when unset.
func (v VoiceProfile) EffectiveSpeed() float64 {
	if v.Speed <= 0 {
		return 1
	}
	return v.Speed
}

// Waveform is mono float32 audio in [-1, 1].
type Waveform struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the playback length of the waveform.
func (w Waveform) Duration() time.Duration {
	if w.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(w.Samples)) * time.Second / time.Duration(w.SampleRate)
}

// Empty reports whether the waveform carries no audio.
func (w Waveform) Empty() bool {
	return len(w.Samples) == 0 || w.SampleRate <= 0
}
