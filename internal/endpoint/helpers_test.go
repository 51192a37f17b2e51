package endpoint

import (
	"encoding/binary"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

const (
	testRate    = 16000
	testFrameMs = 20
	frameDur    = testFrameMs * time.Millisecond
)

// testFrame returns a 20 ms 16 kHz frame whose samples all equal level.
func testFrame(i int, level int16) audio.Frame {
	data := make([]byte, audio.FrameBytes(testRate, testFrameMs))
	for j := 0; j < len(data); j += 2 {
		binary.LittleEndian.PutUint16(data[j:], uint16(level))
	}
	return audio.Frame{Data: data, SampleRate: testRate, Timestamp: time.Duration(i) * frameDur}
}

func speech(i int) ClassifiedFrame {
	return ClassifiedFrame{Frame: testFrame(i, 3000), Speech: true, Energy: 3000}
}

func silence(i int) ClassifiedFrame {
	return ClassifiedFrame{Frame: testFrame(i, 0), Speech: false}
}
