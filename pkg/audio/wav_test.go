package audio_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/MrWong99/parley/pkg/audio"
)

func TestEncodeDecodeWAV(t *testing.T) {
	pcm := samplesToBytes([]int16{0, 16384, -16384})
	samples, rate, err := audio.DecodeWAV(audio.EncodeWAV(pcm, 22050))
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if rate != 22050 {
		t.Errorf("rate = %d, want 22050", rate)
	}
	want := []float32{0, 0.5, -0.5}
	if len(samples) != len(want) {
		t.Fatalf("got %d samples, want %d", len(samples), len(want))
	}
	for i := range want {
		if math.Abs(float64(samples[i]-want[i])) > 1e-4 {
			t.Errorf("sample %d = %f, want %f", i, samples[i], want[i])
		}
	}
}

func TestDecodeWAV_StereoFloatAveraged(t *testing.T) {
	// Hand-built 32-bit float stereo WAV with one frame: L=0.5, R=-0.1.
	data := make([]byte, 8)
	binary.LittleEndian.PutUint32(data[0:], math.Float32bits(0.5))
	binary.LittleEndian.PutUint32(data[4:], math.Float32bits(-0.1))

	wav := make([]byte, 44+len(data))
	copy(wav[0:4], "RIFF")
	binary.LittleEndian.PutUint32(wav[4:8], uint32(36+len(data)))
	copy(wav[8:12], "WAVE")
	copy(wav[12:16], "fmt ")
	binary.LittleEndian.PutUint32(wav[16:20], 16)
	binary.LittleEndian.PutUint16(wav[20:22], 3)
	binary.LittleEndian.PutUint16(wav[22:24], 2)
	binary.LittleEndian.PutUint32(wav[24:28], 24000)
	binary.LittleEndian.PutUint32(wav[28:32], 24000*8)
	binary.LittleEndian.PutUint16(wav[32:34], 8)
	binary.LittleEndian.PutUint16(wav[34:36], 32)
	copy(wav[36:40], "data")
	binary.LittleEndian.PutUint32(wav[40:44], uint32(len(data)))
	copy(wav[44:], data)

	samples, rate, err := audio.DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if rate != 24000 || len(samples) != 1 {
		t.Fatalf("rate=%d len=%d, want 24000 and 1", rate, len(samples))
	}
	if math.Abs(float64(samples[0])-0.2) > 1e-6 {
		t.Errorf("sample = %f, want 0.2", samples[0])
	}
}

func TestDecodeWAV_Invalid(t *testing.T) {
	tests := map[string][]byte{
		"short":   []byte("RIFF"),
		"no wave": append([]byte("RIFF\x00\x00\x00\x00JUNK"), make([]byte, 8)...),
		"no data": audio.EncodeWAV(nil, 16000)[:36],
	}
	for name, wav := range tests {
		t.Run(name, func(t *testing.T) {
			if _, _, err := audio.DecodeWAV(wav); err == nil {
				t.Error("expected an error")
			}
		})
	}
}
