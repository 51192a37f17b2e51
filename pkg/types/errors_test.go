package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorKindOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"device", fmt.Errorf("malgo: init: %w", ErrDeviceUnavailable), "device_unavailable"},
		{"stream", fmt.Errorf("transcribe: open: %w", ErrStreamInterrupted), "stream_interrupted"},
		{"classifier", ErrClassifierFault, "classifier_fault"},
		{"discard", ErrLowConfidenceDiscard, "low_confidence_discard"},
		{"synthesis", fmt.Errorf("playback: %w", ErrSynthesisFailure), "synthesis_failure"},
		{"other", errors.New("boom"), "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ErrorKindOf(tt.err); got != tt.want {
				t.Errorf("ErrorKindOf(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestResultKind_String(t *testing.T) {
	t.Parallel()
	if KindPartial.String() != "partial" || KindFinal.String() != "final" || KindError.String() != "error" {
		t.Errorf("unexpected kind names: %s %s %s", KindPartial, KindFinal, KindError)
	}
	if ResultKind(42).String() != "unknown" {
		t.Errorf("out-of-range kind should be unknown")
	}
}
