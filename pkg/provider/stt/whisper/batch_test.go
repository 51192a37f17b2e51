package whisper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/parley/pkg/provider/stt"
)

// fakeInfer returns a counter-based transcription and records call count.
type fakeInfer struct {
	calls int
	err   error
}

func (f *fakeInfer) infer(_ context.Context, pcm []byte) (stt.Result, error) {
	f.calls++
	if f.err != nil {
		return stt.Result{}, f.err
	}
	return stt.Result{Text: "hello", Confidence: 0.8}, nil
}

// frame20ms is one 20 ms frame of 16 kHz PCM.
var frame20ms = make([]byte, 640)

func TestBatchRecognizer_PartialThrottled(t *testing.T) {
	f := &fakeInfer{}
	r := newBatchRecognizer(f.infer, 16000, 100*time.Millisecond, nil)
	ctx := context.Background()

	// 80 ms of audio: below the partial interval, no inference.
	for range 4 {
		if _, err := r.Accept(ctx, frame20ms); err != nil {
			t.Fatalf("Accept: %v", err)
		}
	}
	if txt, _ := r.Partial(ctx); txt != "" || f.calls != 0 {
		t.Fatalf("partial=%q calls=%d, want no inference yet", txt, f.calls)
	}

	// 120 ms: above the interval, one inference.
	r.Accept(ctx, frame20ms)
	r.Accept(ctx, frame20ms)
	if txt, _ := r.Partial(ctx); txt != "hello" || f.calls != 1 {
		t.Fatalf("partial=%q calls=%d, want hello after 1 inference", txt, f.calls)
	}

	// Polling again without new audio reuses the last hypothesis.
	if txt, _ := r.Partial(ctx); txt != "hello" || f.calls != 1 {
		t.Errorf("partial=%q calls=%d, want cached hello", txt, f.calls)
	}
}

func TestBatchRecognizer_FinalAndReset(t *testing.T) {
	f := &fakeInfer{}
	r := newBatchRecognizer(f.infer, 16000, time.Second, nil)
	ctx := context.Background()

	res, err := r.Final(ctx)
	if err != nil || res.Text != "" {
		t.Fatalf("Final on empty buffer = %+v, %v; want empty result", res, err)
	}
	if f.calls != 0 {
		t.Fatal("Final on empty buffer must not run inference")
	}

	r.Accept(ctx, frame20ms)
	res, err = r.Final(ctx)
	if err != nil || res.Text != "hello" || res.Confidence != 0.8 {
		t.Fatalf("Final = %+v, %v", res, err)
	}

	r.Reset()
	r.Reset()
	if len(r.pcm) != 0 || r.lastPartial != "" {
		t.Error("Reset left stale state behind")
	}
}

func TestBatchRecognizer_BoundaryAtWindow(t *testing.T) {
	r := newBatchRecognizer((&fakeInfer{}).infer, 16000, time.Second, nil)
	ctx := context.Background()
	big := make([]byte, r.windowBytes-640)
	if b, _ := r.Accept(ctx, big); b {
		t.Fatal("boundary reported before the window filled")
	}
	if b, _ := r.Accept(ctx, frame20ms); !b {
		t.Error("expected boundary once the window filled")
	}
}

func TestBatchRecognizer_PartialErrorKeepsLast(t *testing.T) {
	f := &fakeInfer{}
	r := newBatchRecognizer(f.infer, 16000, 20*time.Millisecond, nil)
	ctx := context.Background()
	r.Accept(ctx, frame20ms)
	r.Partial(ctx)

	f.err = errors.New("server down")
	r.Accept(ctx, frame20ms)
	txt, err := r.Partial(ctx)
	if err == nil {
		t.Fatal("expected inference error")
	}
	if txt != "hello" {
		t.Errorf("partial = %q, want previous hypothesis", txt)
	}
}

func TestBatchRecognizer_Closed(t *testing.T) {
	closed := 0
	r := newBatchRecognizer((&fakeInfer{}).infer, 16000, time.Second, func() error { closed++; return nil })
	r.Close()
	r.Close()
	if closed != 1 {
		t.Errorf("closeFn called %d times, want 1", closed)
	}
	if _, err := r.Accept(context.Background(), frame20ms); !errors.Is(err, stt.ErrClosed) {
		t.Errorf("Accept after Close err = %v, want ErrClosed", err)
	}
}
