package miniaudio

import (
	"context"
	"testing"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

func newTestStream(q *audio.FrameQueue) *captureStream {
	fb := audio.FrameBytes(16000, 20)
	return &captureStream{
		queue:      q,
		rate:       16000,
		frameBytes: fb,
		pending:    make([]byte, 0, fb*8),
		done:       make(chan struct{}),
	}
}

func TestOnData_CutsFixedFrames(t *testing.T) {
	t.Parallel()

	q := audio.NewFrameQueue(16)
	s := newTestStream(q)

	// 1.5 frames, then another 1.5 frames: expect 3 frames total.
	chunk := make([]byte, 960)
	for i := range chunk {
		chunk[i] = byte(i)
	}
	s.onData(nil, chunk, 480)
	if q.Len() != 1 {
		t.Fatalf("after first chunk: %d frames queued, want 1", q.Len())
	}
	s.onData(nil, chunk, 480)
	if q.Len() != 3 {
		t.Fatalf("after second chunk: %d frames queued, want 3", q.Len())
	}

	var prev time.Duration = -1
	for range 3 {
		f, ok, err := q.Pop(context.Background(), time.Millisecond)
		if !ok || err != nil {
			t.Fatalf("pop: ok=%v err=%v", ok, err)
		}
		if len(f.Data) != 640 {
			t.Errorf("frame length %d, want 640", len(f.Data))
		}
		if f.Timestamp <= prev {
			t.Errorf("timestamps not increasing: %v after %v", f.Timestamp, prev)
		}
		prev = f.Timestamp
	}
	if prev != 40*time.Millisecond {
		t.Errorf("last timestamp %v, want 40ms", prev)
	}
}

func TestOnData_FullQueueDrops(t *testing.T) {
	t.Parallel()

	q := audio.NewFrameQueue(1)
	s := newTestStream(q)
	s.onData(nil, make([]byte, 640*4), 1280)
	if q.Dropped() != 3 {
		t.Errorf("Dropped() = %d, want 3", q.Dropped())
	}
}

func TestOnStop_AfterCloseIsNotAnError(t *testing.T) {
	t.Parallel()

	s := newTestStream(audio.NewFrameQueue(1))
	s.closing.Store(true)
	s.onStop()
	if s.Err() != nil {
		t.Errorf("Err() = %v, want nil after requested stop", s.Err())
	}
}

func TestOnStop_UnrequestedInterrupts(t *testing.T) {
	t.Parallel()

	s := newTestStream(audio.NewFrameQueue(1))
	s.onStop()
	select {
	case <-s.Done():
	default:
		t.Fatal("Done not closed after unexpected stop")
	}
	if s.Err() == nil {
		t.Error("expected an interruption error")
	}
}

func TestOnData_FramesDoNotAlias(t *testing.T) {
	t.Parallel()

	q := audio.NewFrameQueue(4)
	s := newTestStream(q)
	pending := &s.pending[:1][0]

	chunk := make([]byte, 640*2)
	for i := range chunk {
		chunk[i] = byte(i / 640)
	}
	s.onData(nil, chunk, 640)
	if len(s.pending) != 0 || &s.pending[:1][0] != pending {
		t.Error("accumulation buffer was reallocated")
	}

	first, _, _ := q.Pop(context.Background(), time.Millisecond)
	second, _, _ := q.Pop(context.Background(), time.Millisecond)
	if cap(first.Data) != 640 {
		t.Fatalf("cap(first) = %d, want 640", cap(first.Data))
	}
	_ = append(first.Data, 0xff)
	if second.Data[0] != 1 {
		t.Errorf("second frame overwritten through the first: %#x", second.Data[0])
	}

	// The next callback must not touch frames already handed out.
	s.onData(nil, make([]byte, 640), 320)
	if first.Data[0] != 0 || second.Data[0] != 1 {
		t.Error("earlier frames changed by a later callback")
	}
}
