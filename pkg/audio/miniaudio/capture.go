package miniaudio

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/types"
)

// captureStream implements [audio.CaptureStream] over a miniaudio capture
// device.
type captureStream struct {
	device *malgo.Device
	queue  *audio.FrameQueue

	rate       int
	frameBytes int
	pending    []byte
	samples    int64

	closing  atomic.Bool
	done     chan struct{}
	doneOnce sync.Once

	mu  sync.Mutex
	err error
}

func startCapture(ctx *malgo.AllocatedContext, cfg audio.CaptureConfig, devID unsafe.Pointer, q *audio.FrameQueue) (*captureStream, error) {
	frameBytes := audio.FrameBytes(cfg.SampleRate, cfg.FrameMs)
	s := &captureStream{
		queue:      q,
		rate:       cfg.SampleRate,
		frameBytes: frameBytes,
		pending:    make([]byte, 0, frameBytes*8),
		done:       make(chan struct{}),
	}

	dc := malgo.DefaultDeviceConfig(malgo.Capture)
	dc.Capture.Format = malgo.FormatS16
	dc.Capture.Channels = 1
	dc.Capture.DeviceID = devID
	dc.SampleRate = uint32(cfg.SampleRate)
	dc.PeriodSizeInMilliseconds = uint32(cfg.FrameMs)
	dc.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(ctx.Context, dc, malgo.DeviceCallbacks{
		Data: s.onData,
		Stop: s.onStop,
	})
	if err != nil {
		return nil, fmt.Errorf("miniaudio: init capture device: %w: %w", types.ErrDeviceUnavailable, err)
	}
	s.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("miniaudio: start capture device: %w: %w", types.ErrDeviceUnavailable, err)
	}
	return s, nil
}

// onData runs on the driver thread. It must not block: input is appended to
// the pre-allocated accumulation buffer and complete frames are pushed
// without waiting. Frames outlive the callback (the utterance buffer keeps
// them), so all frames completed by one callback share a single fresh slab,
// capped per frame so no frame can grow into its neighbour.
func (s *captureStream) onData(_, input []byte, _ uint32) {
	if s.closing.Load() {
		return
	}
	s.pending = append(s.pending, input...)
	n := len(s.pending) / s.frameBytes
	if n == 0 {
		return
	}
	fb := s.frameBytes
	slab := make([]byte, n*fb)
	copy(slab, s.pending)
	for i := range n {
		ts := time.Duration(s.samples) * time.Second / time.Duration(s.rate)
		s.samples += int64(fb / 2)
		s.queue.TryPush(audio.Frame{Data: slab[i*fb : (i+1)*fb : (i+1)*fb], SampleRate: s.rate, Timestamp: ts})
	}
	rest := copy(s.pending, s.pending[n*fb:])
	s.pending = s.pending[:rest]
}

// onStop fires when the device stops, including after our own Close. Only
// an unrequested stop is an interruption.
func (s *captureStream) onStop() {
	if s.closing.Load() {
		return
	}
	s.mu.Lock()
	s.err = fmt.Errorf("miniaudio: capture device stopped: %w", types.ErrStreamInterrupted)
	s.mu.Unlock()
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *captureStream) Done() <-chan struct{} { return s.done }

func (s *captureStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *captureStream) Close() error {
	if s.closing.Swap(true) {
		return nil
	}
	err := s.device.Stop()
	s.device.Uninit()
	s.doneOnce.Do(func() { close(s.done) })
	return err
}
