package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/parley/pkg/types"
)

// ErrSinkClosed is returned by [Sink.Emit] after [Sink.Close].
var ErrSinkClosed = errors.New("pipeline: result sink closed")

// Sink is the ordered result stream between the endpointing loop and the
// caller. Emit blocks while the buffer is full, so a slow consumer slows the
// loop down instead of losing results. Frames keep arriving meanwhile and are
// dropped at the capture queue.
//
// Emit and Close must be called from the producing goroutine only.
type Sink struct {
	ch     chan types.RecognitionResult
	once   sync.Once
	closed bool
}

// NewSink returns a sink buffering up to buffer results. Zero makes every
// Emit wait for the consumer.
func NewSink(buffer int) *Sink {
	return &Sink{ch: make(chan types.RecognitionResult, max(buffer, 0))}
}

// Emit delivers r, waiting for buffer space until ctx ends.
func (s *Sink) Emit(ctx context.Context, r types.RecognitionResult) error {
	if s.closed {
		return ErrSinkClosed
	}
	select {
	case s.ch <- r:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Results returns the receive side. It is closed after the last result.
func (s *Sink) Results() <-chan types.RecognitionResult { return s.ch }

// Close ends the stream. Safe to call more than once.
func (s *Sink) Close() {
	s.once.Do(func() {
		s.closed = true
		close(s.ch)
	})
}
