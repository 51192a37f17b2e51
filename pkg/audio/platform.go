// Package audio defines the frame type, the capture queue and the device
// abstractions used by parley's capture and playback pipelines.
//
// The two primary abstractions are:
//
//   - [Platform] opens a capture stream that feeds a [FrameQueue] and a
//     [Player] that renders synthesized waveforms.
//   - [FrameQueue] is the bounded, drop-on-full hand-off between the capture
//     callback and the endpointing loop.
//
// Implementations of [Platform] live in adapter packages (e.g. audio/malgo).
// This package lives under pkg/ because external code is expected to provide
// its own device adapters.
package audio

import "context"

// CaptureConfig selects the device and framing for a capture stream.
type CaptureConfig struct {
	// SampleRate in Hz. Must satisfy [ValidSampleRate].
	SampleRate int

	// FrameMs is the frame duration in milliseconds (10, 20 or 30).
	FrameMs int

	// DeviceID selects the input device. Empty selects the system default.
	// Adapters accept either a numeric index or a case-insensitive substring
	// of the device name.
	DeviceID string
}

// CaptureStream is a live, non-restartable sequence of frames delivered into
// the [FrameQueue] passed to [Platform.OpenCapture].
type CaptureStream interface {
	// Done is closed when the stream stops on its own (device unplugged,
	// driver stop). Err then returns the reason.
	Done() <-chan struct{}

	// Err returns the reason the stream stopped, or nil while running and
	// after a clean Close.
	Err() error

	// Close stops the device and releases it. Safe to call more than once.
	Close() error
}

// PlaybackConfig selects the output device.
type PlaybackConfig struct {
	// DeviceID selects the output device. Empty selects the system default.
	DeviceID string
}

// Player renders mono float32 waveforms. Play blocks until the waveform has
// been fully rendered or ctx is cancelled. Implementations are used from a
// single goroutine.
type Player interface {
	Play(ctx context.Context, samples []float32, sampleRate int) error
	Close() error
}

// Platform is the entry point for an audio backend.
//
// Implementations must be safe for concurrent use.
type Platform interface {
	// OpenCapture starts capturing into q. Failures to open or start the
	// device wrap types.ErrDeviceUnavailable.
	OpenCapture(ctx context.Context, cfg CaptureConfig, q *FrameQueue) (CaptureStream, error)

	// OpenPlayer opens the output device.
	OpenPlayer(ctx context.Context, cfg PlaybackConfig) (Player, error)

	// Close releases backend resources. Streams and players must be closed
	// first.
	Close() error
}
