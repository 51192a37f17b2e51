package endpoint

import (
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

// UtteranceBuffer is the ordered, append-only run of frames of the utterance
// in progress. Reset clears it without releasing its backing array.
type UtteranceBuffer struct {
	frames []audio.Frame
	dur    time.Duration
	bytes  int
}

// Append adds f to the end of the buffer.
func (b *UtteranceBuffer) Append(f audio.Frame) {
	b.frames = append(b.frames, f)
	b.dur += f.Duration()
	b.bytes += len(f.Data)
}

// Len returns the number of buffered frames.
func (b *UtteranceBuffer) Len() int { return len(b.frames) }

// Duration returns the total audio length held.
func (b *UtteranceBuffer) Duration() time.Duration { return b.dur }

// Frames returns the buffered frames. The slice is only valid until the next
// Append or Reset.
func (b *UtteranceBuffer) Frames() []audio.Frame { return b.frames }

// PCM returns a copy of all buffered audio as one contiguous PCM block.
func (b *UtteranceBuffer) PCM() []byte {
	out := make([]byte, 0, b.bytes)
	for _, f := range b.frames {
		out = append(out, f.Data...)
	}
	return out
}

// SampleRate returns the rate of the buffered frames, or 0 when empty.
func (b *UtteranceBuffer) SampleRate() int {
	if len(b.frames) == 0 {
		return 0
	}
	return b.frames[0].SampleRate
}

// Reset empties the buffer, keeping its capacity.
func (b *UtteranceBuffer) Reset() {
	clear(b.frames)
	b.frames = b.frames[:0]
	b.dur = 0
	b.bytes = 0
}
