// Package mock provides in-memory implementations of [audio.Platform],
// [audio.CaptureStream] and [audio.Player] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every call so tests can
// assert on call counts and arguments, and expose exported fields that
// control return values.
//
// Typical usage:
//
//	p := &mock.Platform{}
//	stream, _ := p.OpenCapture(ctx, cfg, q)
//	p.Stream().Push(frame)         // behaves like the driver callback
//	p.Stream().Fail(errors.New("unplugged"))
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

// ─── CaptureStream ────────────────────────────────────────────────────────────

// CaptureStream is a mock [audio.CaptureStream]. Push delivers frames into
// the queue the stream was opened with, exactly as a driver callback would.
type CaptureStream struct {
	mu     sync.Mutex
	queue  *audio.FrameQueue
	done   chan struct{}
	err    error
	closed bool

	// CloseCalls counts Close invocations.
	CloseCalls int
}

func newCaptureStream(q *audio.FrameQueue) *CaptureStream {
	return &CaptureStream{queue: q, done: make(chan struct{})}
}

// Push forwards f to the capture queue and reports whether it was accepted.
func (s *CaptureStream) Push(f audio.Frame) bool {
	return s.queue.TryPush(f)
}

// Fail stops the stream with err, as an unexpected device stop would.
func (s *CaptureStream) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.err = err
	s.closed = true
	close(s.done)
}

// Done implements [audio.CaptureStream].
func (s *CaptureStream) Done() <-chan struct{} { return s.done }

// Err implements [audio.CaptureStream].
func (s *CaptureStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close implements [audio.CaptureStream].
func (s *CaptureStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}

// ─── Player ───────────────────────────────────────────────────────────────────

// PlayCall records one invocation of [Player.Play].
type PlayCall struct {
	Samples    []float32
	SampleRate int
	Start      time.Time
	End        time.Time
}

// Player is a mock [audio.Player]. Each Play call sleeps for PlayDelay (or
// until ctx is cancelled) so tests can observe ordering and overlap.
type Player struct {
	mu sync.Mutex

	// PlayDelay is how long each Play call blocks.
	PlayDelay time.Duration

	// PlayErr, if non-nil, is returned by every Play call.
	PlayErr error

	// Calls records every completed Play call in order.
	Calls []PlayCall

	active     int
	maxActive  int
	CloseCalls int
}

// Play implements [audio.Player].
func (p *Player) Play(ctx context.Context, samples []float32, sampleRate int) error {
	p.mu.Lock()
	p.active++
	if p.active > p.maxActive {
		p.maxActive = p.active
	}
	delay, playErr := p.PlayDelay, p.PlayErr
	p.mu.Unlock()

	start := time.Now()
	var err error
	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			err = ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.active--
	p.Calls = append(p.Calls, PlayCall{
		Samples:    samples,
		SampleRate: sampleRate,
		Start:      start,
		End:        time.Now(),
	})
	if err != nil {
		return err
	}
	return playErr
}

// MaxConcurrent returns the highest number of Play calls that were ever in
// flight at the same time.
func (p *Player) MaxConcurrent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxActive
}

// PlayCalls returns a copy of the recorded calls.
func (p *Player) PlayCalls() []PlayCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PlayCall, len(p.Calls))
	copy(out, p.Calls)
	return out
}

// Close implements [audio.Player].
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CloseCalls++
	return nil
}

// ─── Platform ─────────────────────────────────────────────────────────────────

// OpenCaptureCall records one invocation of [Platform.OpenCapture].
type OpenCaptureCall struct {
	Cfg audio.CaptureConfig
}

// Platform is a mock [audio.Platform].
type Platform struct {
	mu sync.Mutex

	// OpenCaptureErr, if non-nil, is returned by OpenCapture.
	OpenCaptureErr error

	// OpenPlayerErr, if non-nil, is returned by OpenPlayer.
	OpenPlayerErr error

	// PlayerResult is returned by OpenPlayer. A zero Player is created when nil.
	PlayerResult *Player

	// OpenCaptureCalls records every OpenCapture call.
	OpenCaptureCalls []OpenCaptureCall

	streams []*CaptureStream
}

// OpenCapture implements [audio.Platform].
func (p *Platform) OpenCapture(_ context.Context, cfg audio.CaptureConfig, q *audio.FrameQueue) (audio.CaptureStream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.OpenCaptureCalls = append(p.OpenCaptureCalls, OpenCaptureCall{Cfg: cfg})
	if p.OpenCaptureErr != nil {
		return nil, p.OpenCaptureErr
	}
	if q == nil {
		return nil, errors.New("mock: nil frame queue")
	}
	s := newCaptureStream(q)
	p.streams = append(p.streams, s)
	return s, nil
}

// Stream returns the most recently opened capture stream, or nil.
func (p *Platform) Stream() *CaptureStream {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.streams) == 0 {
		return nil
	}
	return p.streams[len(p.streams)-1]
}

// WaitStream blocks until at least n capture streams have been opened or
// timeout elapses, and returns the latest one.
func (p *Platform) WaitStream(n int, timeout time.Duration) *CaptureStream {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		p.mu.Lock()
		if len(p.streams) >= n {
			s := p.streams[len(p.streams)-1]
			p.mu.Unlock()
			return s
		}
		p.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
	return nil
}

// OpenPlayer implements [audio.Platform].
func (p *Platform) OpenPlayer(_ context.Context, _ audio.PlaybackConfig) (audio.Player, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.OpenPlayerErr != nil {
		return nil, p.OpenPlayerErr
	}
	if p.PlayerResult == nil {
		p.PlayerResult = &Player{}
	}
	return p.PlayerResult, nil
}

// Close implements [audio.Platform].
func (p *Platform) Close() error { return nil }

var (
	_ audio.Platform      = (*Platform)(nil)
	_ audio.CaptureStream = (*CaptureStream)(nil)
	_ audio.Player        = (*Player)(nil)
)
