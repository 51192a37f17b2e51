package audio

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrQueueClosed is returned by [FrameQueue.Pop] once the queue has been
// closed and every buffered frame has been consumed.
var ErrQueueClosed = errors.New("audio: frame queue closed")

// FrameQueue is the bounded hand-off between a capture callback (single
// producer) and the endpointing loop (single consumer).
//
// TryPush never blocks: when the queue is full the incoming frame is dropped
// and counted. Dropping is backpressure, not an error. Pop blocks for at most
// the given timeout so the consumer can keep evaluating wall-clock conditions
// while the device is silent.
type FrameQueue struct {
	ch      chan Frame
	done    chan struct{}
	once    sync.Once
	pushed  atomic.Uint64
	dropped atomic.Uint64
}

// NewFrameQueue creates a queue holding at most capacity frames. A capacity
// below one is raised to one.
func NewFrameQueue(capacity int) *FrameQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &FrameQueue{
		ch:   make(chan Frame, capacity),
		done: make(chan struct{}),
	}
}

// TryPush enqueues f without blocking. It returns false, and increments the
// drop counter, when the queue is full or closed.
func (q *FrameQueue) TryPush(f Frame) bool {
	select {
	case <-q.done:
		q.dropped.Add(1)
		return false
	default:
	}
	select {
	case q.ch <- f:
		q.pushed.Add(1)
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Pop waits up to timeout for the next frame. ok is false when the timeout
// elapsed with nothing to read. err is ctx.Err() on cancellation or
// [ErrQueueClosed] once the queue is closed and drained.
func (q *FrameQueue) Pop(ctx context.Context, timeout time.Duration) (f Frame, ok bool, err error) {
	select {
	case f = <-q.ch:
		return f, true, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f = <-q.ch:
		return f, true, nil
	case <-ctx.Done():
		return Frame{}, false, ctx.Err()
	case <-q.done:
		select {
		case f = <-q.ch:
			return f, true, nil
		default:
			return Frame{}, false, ErrQueueClosed
		}
	case <-timer.C:
		return Frame{}, false, nil
	}
}

// Len returns the number of buffered frames.
func (q *FrameQueue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *FrameQueue) Cap() int { return cap(q.ch) }

// Dropped returns the number of frames rejected since creation.
func (q *FrameQueue) Dropped() uint64 { return q.dropped.Load() }

// Pushed returns the number of frames accepted since creation.
func (q *FrameQueue) Pushed() uint64 { return q.pushed.Load() }

// Close stops accepting frames. Buffered frames remain readable. Safe to
// call more than once.
func (q *FrameQueue) Close() {
	q.once.Do(func() { close(q.done) })
}
