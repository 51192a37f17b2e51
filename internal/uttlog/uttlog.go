// Package uttlog persists finalized utterances.
//
// Every sink implements [Recorder] and is write-only: nothing in parley reads
// the logs back. The endpointing loop calls Record once per accepted Final
// result, before the result is emitted to the caller.
//
// Available recorders:
//
//   - [TextLog]: the human-readable "[timestamp] Finalized: text" log.
//   - [JSONLog]: one JSON object per line with confidence and end reason.
//   - [PostgresLog]: rows in an utterances table.
//   - [WAVDump]: one WAV file per utterance.
//
// [Multi] fans a single entry out to several recorders.
package uttlog

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/parley/pkg/types"
)

// Entry is one finalized utterance.
type Entry struct {
	// ID is the utterance ID shared with the emitted Final result.
	ID string

	// Timestamp is when the utterance was finalized.
	Timestamp time.Time

	Text       string
	Confidence float64
	EndReason  types.EndReason

	// Duration is the length of the utterance audio.
	Duration time.Duration

	// PCM is the utterance audio as mono int16 little-endian samples. Only
	// [WAVDump] uses it.
	PCM        []byte
	SampleRate int
}

// EntryFromResult builds an Entry from a Final result and its audio.
func EntryFromResult(r types.RecognitionResult, pcm []byte, sampleRate int) Entry {
	return Entry{
		ID:         r.ID,
		Timestamp:  r.Timestamp,
		Text:       r.Text,
		Confidence: r.Confidence,
		EndReason:  r.EndReason,
		Duration:   r.Duration,
		PCM:        pcm,
		SampleRate: sampleRate,
	}
}

// Recorder persists entries. Implementations must be safe for concurrent
// use.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
	Close() error
}

// Multi records every entry to all of its recorders. A failing recorder does
// not stop the others; the errors are joined.
type Multi []Recorder

// Record implements [Recorder].
func (m Multi) Record(ctx context.Context, e Entry) error {
	var errs []error
	for _, r := range m {
		if err := r.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements [Recorder].
func (m Multi) Close() error {
	var errs []error
	for _, r := range m {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Recorder = Multi(nil)
