// Package pcm holds small helpers for raw audio buffers: sample format
// conversion, loudness measurement, channel downmix and resampling.
//
// Byte buffers are always 16-bit signed little-endian. Float buffers are
// normalised to [-1, 1].
package pcm

import (
	"encoding/binary"
	"math"
)

// BytesPerSample is the width of one 16-bit sample.
const BytesPerSample = 2

// Int16LEToFloat32 converts 16-bit little-endian PCM to normalised floats.
// A trailing odd byte is ignored.
func Int16LEToFloat32(b []byte) []float32 {
	n := len(b) / BytesPerSample
	out := make([]float32, n)
	const scale = 1.0 / 32768.0
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(b[i*2:]))
		out[i] = float32(float64(v) * scale)
	}
	return out
}

// Int16ToBytes encodes samples as 16-bit little-endian PCM.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, v := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// Int16ToFloat32 converts int16 samples to normalised floats.
func Int16ToFloat32(data []int16) []float32 {
	out := make([]float32, len(data))
	const scale = 1.0 / 32768.0
	for i, v := range data {
		out[i] = float32(float64(v) * scale)
	}
	return out
}

// IntToFloat32 converts integer samples of the given bit depth to floats.
func IntToFloat32(data []int, bitDepth int) []float32 {
	if bitDepth <= 0 {
		bitDepth = 16
	}
	out := make([]float32, len(data))
	scale := 1.0 / float64(int64(1)<<(bitDepth-1))
	for i, v := range data {
		out[i] = float32(clamp(float64(v)*scale, -1.0, 1.0))
	}
	return out
}

// RMS returns the root mean square of a float buffer.
func RMS(f []float32) float64 {
	if len(f) == 0 {
		return 0
	}
	var s float64
	for _, x := range f {
		s += float64(x * x)
	}
	return math.Sqrt(s / float64(len(f)))
}

// RMSInt16LE returns the normalised RMS of a 16-bit little-endian buffer
// without allocating.
func RMSInt16LE(b []byte) float64 {
	n := len(b) / BytesPerSample
	if n == 0 {
		return 0
	}
	var s float64
	for i := 0; i < n; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(b[i*2:]))) / 32768.0
		s += v * v
	}
	return math.Sqrt(s / float64(n))
}

// Downmix averages interleaved channels into a mono buffer.
func Downmix(in []float32, channels int) []float32 {
	if channels <= 1 {
		return in
	}
	nFrames := len(in) / channels
	out := make([]float32, nFrames)
	for i := 0; i < nFrames; i++ {
		sum := 0.0
		base := i * channels
		for c := 0; c < channels; c++ {
			sum += float64(in[base+c])
		}
		out[i] = float32(sum / float64(channels))
	}
	return out
}

// Resample converts between sample rates using linear interpolation.
func Resample(in []float32, inSR, outSR int) []float32 {
	if inSR == outSR || len(in) == 0 || inSR <= 0 || outSR <= 0 {
		return in
	}
	ratio := float64(outSR) / float64(inSR)
	outN := int(math.Ceil(float64(len(in)) * ratio))
	out := make([]float32, outN)
	for i := 0; i < outN; i++ {
		src := float64(i) / ratio
		i0 := int(math.Floor(src))
		i1 := i0 + 1
		if i0 >= len(in) {
			out[i] = in[len(in)-1]
			continue
		}
		if i1 >= len(in) {
			out[i] = in[i0]
			continue
		}
		a := float32(src - float64(i0))
		out[i] = in[i0]*(1-a) + in[i1]*a
	}
	return out
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
