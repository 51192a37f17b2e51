package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// EncodeWAV wraps mono int16 PCM in a 44-byte RIFF/WAVE header.
func EncodeWAV(pcm []byte, sampleRate int) []byte {
	const (
		channels = 1
		bits     = 16
	)
	dataSize := len(pcm)
	buf := make([]byte, 44+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], channels)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*channels*bits/8))
	binary.LittleEndian.PutUint16(buf[32:34], channels*bits/8)
	binary.LittleEndian.PutUint16(buf[34:36], bits)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)
	return buf
}

// DecodeWAV parses a RIFF/WAVE container holding 16-bit integer or 32-bit
// float PCM and returns mono float32 samples (multi-channel input is
// averaged) together with the sample rate.
//
// Chunks are walked rather than assuming a fixed 44-byte header because the
// fmt chunk size varies between encoders.
func DecodeWAV(wav []byte) ([]float32, int, error) {
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, 0, errors.New("audio: not a RIFF/WAVE stream")
	}

	var (
		format, channels, bits int
		rate                   int
		foundFmt               bool
	)
	offset := 12
	for offset+8 <= len(wav) {
		id := string(wav[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))
		body := offset + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(wav) {
				return nil, 0, errors.New("audio: truncated fmt chunk")
			}
			f := wav[body:]
			format = int(binary.LittleEndian.Uint16(f[0:2]))
			channels = int(binary.LittleEndian.Uint16(f[2:4]))
			rate = int(binary.LittleEndian.Uint32(f[4:8]))
			bits = int(binary.LittleEndian.Uint16(f[14:16]))
			foundFmt = true
		case "data":
			if !foundFmt {
				return nil, 0, errors.New("audio: data chunk before fmt chunk")
			}
			end := body + size
			if end > len(wav) || size < 0 {
				end = len(wav)
			}
			samples, err := decodeSamples(wav[body:end], format, channels, bits)
			if err != nil {
				return nil, 0, err
			}
			return samples, rate, nil
		}

		offset = body + size
		if size%2 != 0 {
			offset++
		}
	}
	return nil, 0, errors.New("audio: WAV stream has no data chunk")
}

func decodeSamples(data []byte, format, channels, bits int) ([]float32, error) {
	if channels < 1 {
		return nil, fmt.Errorf("audio: invalid channel count %d", channels)
	}
	var width int
	switch {
	case format == 1 && bits == 16:
		width = 2
	case format == 3 && bits == 32:
		width = 4
	default:
		return nil, fmt.Errorf("audio: unsupported WAV encoding (format %d, %d bits)", format, bits)
	}

	frameSize := width * channels
	n := len(data) / frameSize
	out := make([]float32, n)
	for i := range n {
		var sum float32
		for c := range channels {
			p := data[i*frameSize+c*width:]
			if width == 2 {
				sum += float32(int16(binary.LittleEndian.Uint16(p))) / 32768.0
			} else {
				sum += math.Float32frombits(binary.LittleEndian.Uint32(p))
			}
		}
		out[i] = sum / float32(channels)
	}
	return out, nil
}
