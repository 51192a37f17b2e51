package audio

import (
	"encoding/binary"
	"math"
)

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. The input must be little-endian int16 samples. If srcRate ==
// dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	in := PCM16ToFloat32(pcm)
	return Float32ToPCM16(ResampleFloat32(in, srcRate, dstRate))
}

// ResampleFloat32 resamples mono float32 samples from srcRate to dstRate using
// linear interpolation. If the rates match the input is returned unchanged.
func ResampleFloat32(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	n := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	return stretch(samples, n)
}

// stretch maps samples onto n output samples with linear interpolation.
func stretch(samples []float32, n int) []float32 {
	if n <= 0 {
		return nil
	}
	out := make([]float32, n)
	ratio := float64(len(samples)) / float64(n)
	last := len(samples) - 1
	for i := range n {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
	}
	return out
}

// PCM16ToFloat32 converts little-endian int16 PCM to float32 samples in
// [-1, 1). A trailing odd byte is ignored.
func PCM16ToFloat32(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
	}
	return out
}

// Float32ToPCM16 converts float32 samples to little-endian int16 PCM,
// clamping to the int16 range.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := math.Round(float64(s) * 32768.0)
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// Normalize scales samples in place so the absolute peak equals peak.
// Silent input is left untouched.
func Normalize(samples []float32, peak float32) {
	var maxAbs float32
	for _, s := range samples {
		if s < 0 {
			s = -s
		}
		if s > maxAbs {
			maxAbs = s
		}
	}
	if maxAbs == 0 {
		return
	}
	gain := peak / maxAbs
	for i := range samples {
		samples[i] *= gain
	}
}

// TapeShift changes playback speed and pitch together the way a tape
// machine does: the waveform is resampled by speed * 2^(semitones/12).
// Values above one shorten the waveform and raise its pitch. A factor of
// one returns the input unchanged.
func TapeShift(samples []float32, speed, semitones float64) []float32 {
	if speed <= 0 {
		speed = 1
	}
	factor := speed * math.Pow(2, semitones/12)
	if factor == 1 || len(samples) == 0 {
		return samples
	}
	n := int(float64(len(samples)) / factor)
	return stretch(samples, n)
}

// Silence returns d seconds of zero samples at rate Hz.
func Silence(seconds float64, rate int) []float32 {
	if seconds <= 0 || rate <= 0 {
		return nil
	}
	return make([]float32, int(seconds*float64(rate)))
}
