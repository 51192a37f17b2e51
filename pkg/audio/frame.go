package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Frame is one fixed-duration block of mono, little-endian int16 PCM.
//
// Frames are immutable once captured. Ownership travels with the value: the
// capture callback owns a frame until it is pushed onto a [FrameQueue], the
// consumer owns it after Pop.
type Frame struct {
	// Data is the raw PCM payload. len(Data) == FrameBytes(SampleRate, ms).
	Data []byte

	// SampleRate in Hz. One of 8000, 16000, 32000 or 48000.
	SampleRate int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	samples := len(f.Data) / 2
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// ValidSampleRate reports whether rate is one the voice activity detector
// accepts.
func ValidSampleRate(rate int) bool {
	switch rate {
	case 8000, 16000, 32000, 48000:
		return true
	}
	return false
}

// ValidFrameMs reports whether ms is a frame duration the voice activity
// detector accepts.
func ValidFrameMs(ms int) bool {
	return ms == 10 || ms == 20 || ms == 30
}

// FrameBytes returns the byte length of a mono int16 frame of ms
// milliseconds at rate Hz.
func FrameBytes(rate, ms int) int {
	return rate * ms / 1000 * 2
}

// CheckFraming validates a sample rate and frame duration pair.
func CheckFraming(rate, ms int) error {
	if !ValidSampleRate(rate) {
		return fmt.Errorf("audio: unsupported sample rate %d (want 8000, 16000, 32000 or 48000)", rate)
	}
	if !ValidFrameMs(ms) {
		return fmt.Errorf("audio: unsupported frame duration %dms (want 10, 20 or 30)", ms)
	}
	return nil
}

// RMS returns the root-mean-square amplitude of int16 PCM in sample units
// (0 to 32768). Returns 0 for fewer than one complete sample.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}
