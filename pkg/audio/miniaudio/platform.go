// Package miniaudio provides an [audio.Platform] backed by miniaudio through
// the github.com/gen2brain/malgo bindings.
//
// Capture runs miniaudio's data callback on the driver thread. The callback
// copies input into a pre-allocated accumulation buffer, cuts fixed-size
// frames and hands them to the [audio.FrameQueue] with a non-blocking push.
// Playback opens a short-lived output device per waveform so each request can
// use its native sample rate.
package miniaudio

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"unsafe"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/types"
)

// Compile-time interface assertion.
var _ audio.Platform = (*Platform)(nil)

// Platform owns one miniaudio context shared by all streams and players.
type Platform struct {
	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	closed bool
}

// New initialises the miniaudio context. Failure wraps
// [types.ErrDeviceUnavailable].
func New() (*Platform, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		slog.Debug("miniaudio", "msg", strings.TrimSpace(msg))
	})
	if err != nil {
		return nil, fmt.Errorf("miniaudio: init context: %w: %w", types.ErrDeviceUnavailable, err)
	}
	return &Platform{ctx: ctx}, nil
}

// OpenCapture implements [audio.Platform].
func (p *Platform) OpenCapture(_ context.Context, cfg audio.CaptureConfig, q *audio.FrameQueue) (audio.CaptureStream, error) {
	if err := audio.CheckFraming(cfg.SampleRate, cfg.FrameMs); err != nil {
		return nil, fmt.Errorf("miniaudio: %w: %w", types.ErrDeviceUnavailable, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, fmt.Errorf("miniaudio: platform closed: %w", types.ErrDeviceUnavailable)
	}
	devID, err := p.lookupDevice(malgo.Capture, cfg.DeviceID)
	if err != nil {
		return nil, err
	}
	return startCapture(p.ctx, cfg, devID, q)
}

// OpenPlayer implements [audio.Platform].
func (p *Platform) OpenPlayer(_ context.Context, cfg audio.PlaybackConfig) (audio.Player, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, fmt.Errorf("miniaudio: platform closed: %w", types.ErrDeviceUnavailable)
	}
	devID, err := p.lookupDevice(malgo.Playback, cfg.DeviceID)
	if err != nil {
		return nil, err
	}
	return &Player{ctx: p.ctx, deviceID: devID}, nil
}

// Close releases the miniaudio context. Safe to call more than once.
func (p *Platform) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	err := p.ctx.Uninit()
	p.ctx.Free()
	return err
}

// lookupDevice resolves selector to a miniaudio device ID pointer. An empty
// selector returns nil, which miniaudio treats as the default device. A
// numeric selector is an index into the device list, anything else is matched
// as a case-insensitive substring of the device name.
func (p *Platform) lookupDevice(kind malgo.DeviceType, selector string) (unsafe.Pointer, error) {
	if selector == "" {
		return nil, nil
	}
	devices, err := p.ctx.Devices(kind)
	if err != nil {
		return nil, fmt.Errorf("miniaudio: list devices: %w: %w", types.ErrDeviceUnavailable, err)
	}
	if idx, err := strconv.Atoi(selector); err == nil {
		if idx < 0 || idx >= len(devices) {
			return nil, fmt.Errorf("miniaudio: device index %d out of range (%d devices): %w", idx, len(devices), types.ErrDeviceUnavailable)
		}
		return devices[idx].ID.Pointer(), nil
	}
	needle := strings.ToLower(selector)
	for i := range devices {
		if strings.Contains(strings.ToLower(devices[i].Name()), needle) {
			return devices[i].ID.Pointer(), nil
		}
	}
	return nil, fmt.Errorf("miniaudio: no device matching %q: %w", selector, types.ErrDeviceUnavailable)
}

// DeviceNames lists the names of the available devices of the given kind,
// in index order. Used by the CLI's device listing.
func (p *Platform) DeviceNames(capture bool) ([]string, error) {
	kind := malgo.Playback
	if capture {
		kind = malgo.Capture
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	devices, err := p.ctx.Devices(kind)
	if err != nil {
		return nil, fmt.Errorf("miniaudio: list devices: %w", err)
	}
	names := make([]string, len(devices))
	for i := range devices {
		names[i] = devices[i].Name()
	}
	return names, nil
}
