package types

import "errors"

// Error taxonomy. Components wrap these with fmt.Errorf("...: %w", ...) and
// callers match them with errors.Is.
var (
	// ErrDeviceUnavailable: the capture or playback device could not be
	// opened. Fatal when it happens at startup.
	ErrDeviceUnavailable = errors.New("device unavailable")

	// ErrStreamInterrupted: the capture stream or transcription engine
	// binding failed. Retried a bounded number of times.
	ErrStreamInterrupted = errors.New("stream interrupted")

	// ErrClassifierFault: the voice activity detector failed on a single
	// frame. The frame is treated as non-speech.
	ErrClassifierFault = errors.New("classifier fault")

	// ErrLowConfidenceDiscard: a finalized utterance was empty or below the
	// confidence threshold. Never surfaced as an Error result.
	ErrLowConfidenceDiscard = errors.New("low confidence discard")

	// ErrSynthesisFailure: a playback request could not be synthesized.
	// The request is skipped.
	ErrSynthesisFailure = errors.New("synthesis failure")
)

// ErrorKindOf returns the taxonomy name of err, or "internal" when err does
// not wrap any of the sentinels above.
func ErrorKindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDeviceUnavailable):
		return "device_unavailable"
	case errors.Is(err, ErrStreamInterrupted):
		return "stream_interrupted"
	case errors.Is(err, ErrClassifierFault):
		return "classifier_fault"
	case errors.Is(err, ErrLowConfidenceDiscard):
		return "low_confidence_discard"
	case errors.Is(err, ErrSynthesisFailure):
		return "synthesis_failure"
	default:
		return "internal"
	}
}
