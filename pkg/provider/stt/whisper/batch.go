// Package whisper provides whisper.cpp-backed STT providers.
//
// whisper.cpp is a batch engine: it transcribes a complete buffer rather than
// a live stream. Both providers in this package therefore share one
// recognizer that accumulates PCM, re-runs inference for partial hypotheses
// at most once per partial interval of new audio, and runs a final inference
// on request.
//
//   - [NativeProvider] runs inference in-process through the CGO bindings.
//   - [Provider] posts WAV buffers to a whisper-server /inference endpoint.
package whisper

import (
	"context"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/stt"
)

const (
	// modelSampleRate is the only rate whisper models accept.
	modelSampleRate = 16000

	defaultLanguage        = "en"
	defaultPartialInterval = time.Second

	// windowDuration is whisper's fixed context window. Accept reports a
	// segment boundary each time the buffer grows past another window.
	windowDuration = 30 * time.Second
)

// inferFunc transcribes 16 kHz mono int16 PCM.
type inferFunc func(ctx context.Context, pcm []byte) (stt.Result, error)

// batchRecognizer implements stt.Recognizer on top of an inferFunc.
type batchRecognizer struct {
	infer      inferFunc
	sampleRate int
	closeFn    func() error

	partialBytes int // new audio required before re-running a partial
	windowBytes  int

	pcm           []byte
	lastPartialAt int
	lastPartial   string
	closed        bool
}

func newBatchRecognizer(infer inferFunc, sampleRate int, partialEvery time.Duration, closeFn func() error) *batchRecognizer {
	if sampleRate <= 0 {
		sampleRate = modelSampleRate
	}
	if partialEvery <= 0 {
		partialEvery = defaultPartialInterval
	}
	bytesPerSec := sampleRate * 2
	return &batchRecognizer{
		infer:        infer,
		sampleRate:   sampleRate,
		closeFn:      closeFn,
		partialBytes: int(partialEvery.Seconds() * float64(bytesPerSec)),
		windowBytes:  int(windowDuration.Seconds()) * bytesPerSec,
	}
}

// Accept implements stt.Recognizer.
func (r *batchRecognizer) Accept(_ context.Context, frame []byte) (bool, error) {
	if r.closed {
		return false, stt.ErrClosed
	}
	before := len(r.pcm) / r.windowBytes
	r.pcm = append(r.pcm, frame...)
	return len(r.pcm)/r.windowBytes > before, nil
}

// Partial implements stt.Recognizer.
func (r *batchRecognizer) Partial(ctx context.Context) (string, error) {
	if r.closed {
		return "", stt.ErrClosed
	}
	if len(r.pcm)-r.lastPartialAt < r.partialBytes {
		return r.lastPartial, nil
	}
	res, err := r.infer(ctx, r.modelPCM())
	if err != nil {
		return r.lastPartial, err
	}
	r.lastPartialAt = len(r.pcm)
	r.lastPartial = res.Text
	return res.Text, nil
}

// Final implements stt.Recognizer.
func (r *batchRecognizer) Final(ctx context.Context) (stt.Result, error) {
	if r.closed {
		return stt.Result{}, stt.ErrClosed
	}
	if len(r.pcm) == 0 {
		return stt.Result{}, nil
	}
	return r.infer(ctx, r.modelPCM())
}

// Reset implements stt.Recognizer. The buffer is truncated, not freed.
func (r *batchRecognizer) Reset() {
	r.pcm = r.pcm[:0]
	r.lastPartialAt = 0
	r.lastPartial = ""
}

// Close implements stt.Recognizer.
func (r *batchRecognizer) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.pcm = nil
	if r.closeFn != nil {
		return r.closeFn()
	}
	return nil
}

// modelPCM returns the buffered audio at the model sample rate.
func (r *batchRecognizer) modelPCM() []byte {
	return audio.ResampleMono16(r.pcm, r.sampleRate, modelSampleRate)
}

var _ stt.Recognizer = (*batchRecognizer)(nil)
