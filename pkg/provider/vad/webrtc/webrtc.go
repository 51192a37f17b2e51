// Package webrtc provides a vad.Engine backed by the WebRTC voice activity
// detector (github.com/maxhawkins/go-webrtcvad). The detector is bit-exact
// with the one shipped in the WebRTC project and operates on 10, 20 or 30 ms
// frames of 16-bit mono PCM.
package webrtc

import (
	"errors"
	"fmt"
	"sync"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"

	"github.com/MrWong99/parley/pkg/provider/vad"
)

// Compile-time interface assertions.
var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*Session)(nil)
)

// Engine creates WebRTC VAD sessions.
type Engine struct{}

// New returns a WebRTC VAD engine.
func New() *Engine { return &Engine{} }

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Session{cfg: cfg, frameLen: frameBytes(cfg)}
	if err := s.init(); err != nil {
		return nil, err
	}
	// The detector counts frame length in samples, IsSpeech in bytes.
	if samples := s.frameLen / 2; !s.vad.ValidRateAndFrameLength(cfg.SampleRate, samples) {
		return nil, fmt.Errorf("webrtc vad: invalid rate/frame combination %d Hz, %d samples", cfg.SampleRate, samples)
	}
	return s, nil
}

// frameBytes is the size of one 16-bit mono frame for cfg.
func frameBytes(cfg vad.Config) int {
	return cfg.SampleRate * cfg.FrameSizeMs / 1000 * 2
}

// Session wraps one WebRTC VAD instance.
type Session struct {
	mu       sync.Mutex
	cfg      vad.Config
	frameLen int
	vad      *webrtcvad.VAD
	closed   bool
}

func (s *Session) init() error {
	v, err := webrtcvad.New()
	if err != nil {
		return fmt.Errorf("webrtc vad: create: %w", err)
	}
	if err := v.SetMode(s.cfg.Aggressiveness); err != nil {
		return fmt.Errorf("webrtc vad: set mode %d: %w", s.cfg.Aggressiveness, err)
	}
	s.vad = v
	return nil
}

// IsSpeech implements vad.SessionHandle.
func (s *Session) IsSpeech(frame []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, errors.New("webrtc vad: session closed")
	}
	if len(frame) != s.frameLen {
		return false, fmt.Errorf("webrtc vad: frame is %d bytes, want %d", len(frame), s.frameLen)
	}
	active, err := s.vad.Process(s.cfg.SampleRate, frame)
	if err != nil {
		return false, fmt.Errorf("webrtc vad: process: %w", err)
	}
	return active, nil
}

// Reset re-creates the underlying detector, discarding its history. A
// failure leaves the previous detector in place.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	prev := s.vad
	if err := s.init(); err != nil {
		s.vad = prev
	}
}

// Close implements vad.SessionHandle.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.vad = nil
	return nil
}
