// Package types defines the result and error types shared across parley
// packages.
//
// They form the lingua franca between the endpointing pipeline, the
// transcription adapter, the utterance logs and the caller consuming the
// result stream. Each package defines its own domain types; cross-cutting
// data structures live here to avoid circular imports.
package types

import "time"

// ResultKind classifies a [RecognitionResult].
type ResultKind int

const (
	// KindPartial is an in-progress hypothesis for the current utterance.
	// It may be emitted many times per utterance.
	KindPartial ResultKind = iota

	// KindFinal is the completed transcription of one utterance. At most one
	// Final is emitted per utterance.
	KindFinal

	// KindError reports a failure. Recoverable errors leave the pipeline
	// running; non-recoverable errors are followed by the close of the
	// result stream.
	KindError
)

// String returns the lower-case name used in logs and JSON output.
func (k ResultKind) String() string {
	switch k {
	case KindPartial:
		return "partial"
	case KindFinal:
		return "final"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// EndReason names the endpoint condition that closed an utterance.
type EndReason string

const (
	// EndSilence: trailing silence exceeded the silence threshold.
	EndSilence EndReason = "silence_threshold"

	// EndPhraseTimeout: the utterance ran past the phrase timeout.
	EndPhraseTimeout EndReason = "phrase_timeout"

	// EndMinSpeech: the speech burst was shorter than the minimum speech
	// duration. Utterances closed for this reason never produce a Final.
	EndMinSpeech EndReason = "min_speech_duration"

	// EndShutdown: the pipeline stopped while an utterance was in progress
	// and was configured to finalize it.
	EndShutdown EndReason = "shutdown"
)

// RecognitionResult is one element of the ordered result stream.
type RecognitionResult struct {
	// ID identifies the utterance the result belongs to. Partials and the
	// Final of one utterance share the same ID.
	ID string

	// Kind is Partial, Final or Error.
	Kind ResultKind

	// Text is the (partial or final) transcription. For Error results it
	// holds the human-readable error message.
	Text string

	// Confidence is the engine-reported confidence in [0, 1]. Set on Final
	// results only.
	Confidence float64

	// Timestamp is the wall-clock time the result was produced.
	Timestamp time.Time

	// EndReason is set on Final results only.
	EndReason EndReason

	// Duration is the length of the utterance audio. Set on Final results.
	Duration time.Duration

	// Recoverable is set on Error results only. A non-recoverable error is
	// the last result before the stream closes.
	Recoverable bool

	// Err is the underlying error for Error results.
	Err error
}
