// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a transcription engine (e.g. a local whisper.cpp
// model, a whisper-server instance or Deepgram's streaming API) and exposes
// it as a [Recognizer]: a stateful, single-utterance-at-a-time object that
// accepts raw PCM frames, can be polled for an in-progress hypothesis and
// produces a final result with a confidence score on request.
//
// Endpointing is not the recognizer's job. The caller decides when an
// utterance ends and calls Final, then Reset before the next utterance.
package stt

import (
	"context"
	"errors"
)

// ErrClosed is returned by Recognizer methods after Close.
var ErrClosed = errors.New("stt: recognizer closed")

// StreamConfig describes the audio format and recognition hints for a new
// recognizer.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz of the frames passed to
	// Accept. Engines resample internally when they need another rate.
	SampleRate int

	// Language is the BCP-47 language tag for recognition (e.g. "en", "de").
	// An empty string selects the provider default.
	Language string
}

// Result is the final transcription of one utterance.
type Result struct {
	// Text is the transcribed speech, trimmed. Empty when nothing was
	// recognised.
	Text string

	// Confidence is in [0, 1]. Engines that do not report confidence use 1.
	Confidence float64
}

// Recognizer is an open transcription binding. It is used from a single
// goroutine; implementations need not be safe for concurrent use.
type Recognizer interface {
	// Accept feeds one frame of mono little-endian int16 PCM. It returns true
	// when the engine reached an internal segment boundary. A non-nil error
	// means the binding is broken and the recognizer must be replaced.
	Accept(ctx context.Context, frame []byte) (bool, error)

	// Partial returns the current in-progress hypothesis for the audio fed
	// since the last Reset. It may return the same text repeatedly.
	Partial(ctx context.Context) (string, error)

	// Final returns the transcription of all audio fed since the last Reset.
	// It does not reset the recognizer.
	Final(ctx context.Context) (Result, error)

	// Reset discards all audio and hypotheses. Calling it repeatedly is a
	// no-op.
	Reset()

	// Close releases the binding. Calling Close more than once is safe.
	Close() error
}

// Provider is the factory for recognizers.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// NewRecognizer opens a new transcription binding. Returns an error if
	// the engine cannot be reached or the configuration is unsupported.
	NewRecognizer(ctx context.Context, cfg StreamConfig) (Recognizer, error)
}
