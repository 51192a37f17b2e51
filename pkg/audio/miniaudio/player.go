package miniaudio

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"unsafe"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/types"
)

// Player implements [audio.Player]. Each Play call opens a mono float32
// output device at the waveform's sample rate and releases it once the last
// sample has been rendered.
type Player struct {
	ctx      *malgo.AllocatedContext
	deviceID unsafe.Pointer
}

var _ audio.Player = (*Player)(nil)

// Play implements [audio.Player].
func (p *Player) Play(ctx context.Context, samples []float32, sampleRate int) error {
	if len(samples) == 0 {
		return nil
	}
	buf := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(s))
	}

	var (
		pos      int
		finished = make(chan struct{})
		once     sync.Once
	)

	dc := malgo.DefaultDeviceConfig(malgo.Playback)
	dc.Playback.Format = malgo.FormatF32
	dc.Playback.Channels = 1
	dc.Playback.DeviceID = p.deviceID
	dc.SampleRate = uint32(sampleRate)
	dc.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(p.ctx.Context, dc, malgo.DeviceCallbacks{
		Data: func(out, _ []byte, _ uint32) {
			n := copy(out, buf[pos:])
			pos += n
			clear(out[n:])
			if pos >= len(buf) {
				once.Do(func() { close(finished) })
			}
		},
	})
	if err != nil {
		return fmt.Errorf("miniaudio: init playback device: %w: %w", types.ErrDeviceUnavailable, err)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		return fmt.Errorf("miniaudio: start playback device: %w: %w", types.ErrDeviceUnavailable, err)
	}

	select {
	case <-finished:
	case <-ctx.Done():
		_ = device.Stop()
		return ctx.Err()
	}
	return device.Stop()
}

// Close implements [audio.Player]. Devices are released per Play call, so
// there is nothing left to free.
func (p *Player) Close() error { return nil }
