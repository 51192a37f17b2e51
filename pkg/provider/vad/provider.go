// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a frame-level speech detector (e.g. the WebRTC VAD) and
// surfaces it as a stateful, per-stream session. Each session keeps its own
// internal state so that multiple audio streams can be processed
// independently.
//
// VAD is synchronous: IsSpeech returns immediately with a binary decision,
// which suits the endpointing loop that calls it once per captured frame.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package vad

import "fmt"

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the PCM
	// frames passed to IsSpeech. Supported: 8000, 16000, 32000, 48000.
	SampleRate int

	// FrameSizeMs is the duration of each audio frame in milliseconds (10, 20
	// or 30). IsSpeech returns an error if the supplied frame does not match.
	FrameSizeMs int

	// Aggressiveness ranges from 0 (least aggressive about filtering out
	// non-speech) to 3 (most aggressive). Higher values classify more frames
	// as non-speech.
	Aggressiveness int
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	switch c.SampleRate {
	case 8000, 16000, 32000, 48000:
	default:
		return fmt.Errorf("vad: unsupported sample rate %d", c.SampleRate)
	}
	switch c.FrameSizeMs {
	case 10, 20, 30:
	default:
		return fmt.Errorf("vad: unsupported frame size %dms", c.FrameSizeMs)
	}
	if c.Aggressiveness < 0 || c.Aggressiveness > 3 {
		return fmt.Errorf("vad: aggressiveness %d out of range [0, 3]", c.Aggressiveness)
	}
	return nil
}

// SessionHandle represents an active VAD session for a single audio stream.
// Reset clears detection state without closing the session.
type SessionHandle interface {
	// IsSpeech classifies one frame of raw little-endian int16 PCM at the
	// configured SampleRate and FrameSizeMs. Returns an error if the frame
	// size is wrong or the engine fails internally.
	IsSpeech(frame []byte) (bool, error)

	// Reset clears accumulated detection state.
	Reset()

	// Close releases all resources associated with the session. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration.
	// Returns an error if the configuration is invalid or the engine cannot
	// allocate resources for the session.
	NewSession(cfg Config) (SessionHandle, error)
}
