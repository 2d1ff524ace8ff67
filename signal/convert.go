package signal

import (
	"math"
	"time"
)

// BitDepth contains values required for int-to-float and backward
// conversion.
type BitDepth int

const (
	// BitDepth8 is 8 bit depth.
	BitDepth8 = BitDepth(8)
	// BitDepth16 is 16 bit depth.
	BitDepth16 = BitDepth(16)
	// BitDepth24 is 24 bit depth.
	BitDepth24 = BitDepth(24)
	// BitDepth32 is 32 bit depth.
	BitDepth32 = BitDepth(32)
)

// divider is used when int to float conversion is done.
func (bitDepth BitDepth) divider() float64 {
	switch bitDepth {
	case BitDepth8:
		return math.MaxInt8
	case BitDepth16:
		return math.MaxInt16
	case BitDepth24:
		return 1<<23 - 1
	case BitDepth32:
		return math.MaxInt32
	default:
		return 1
	}
}

// multiplier is used when float to int conversion is done.
func (bitDepth BitDepth) multiplier() float64 {
	return bitDepth.divider() - 1
}

// DurationOf returns time duration of passed samples for this sample rate.
func DurationOf(sampleRate float64, samples int64) time.Duration {
	return time.Duration(float64(samples) / sampleRate * float64(time.Second))
}

// Deinterleave spreads interleaved ints into non-interleaved float
// channels and returns number of frames written. Channels must be able to
// hold all frames; missing channels of the last frame are zeroed.
func Deinterleave(dst [][]float64, ints []int, bitDepth BitDepth) int {
	numChannels := len(dst)
	if numChannels == 0 {
		return 0
	}
	divider := bitDepth.divider()
	frames := (len(ints) + numChannels - 1) / numChannels
	for c := range dst {
		pos := 0
		for j := c; pos < frames; j += numChannels {
			if j < len(ints) {
				dst[c][pos] = float64(ints[j]) / divider
			} else {
				dst[c][pos] = 0
			}
			pos++
		}
	}
	return frames
}

// Interleave writes frames samples of non-interleaved float channels into
// dst as interleaved ints. Dst must hold frames*len(src) values.
func Interleave(dst []int, src [][]float64, frames int, bitDepth BitDepth) {
	numChannels := len(src)
	multiplier := bitDepth.multiplier()
	for c := range src {
		for i := 0; i < frames; i++ {
			dst[i*numChannels+c] = int(clamp(src[c][i]) * multiplier)
		}
	}
}

// DeinterleaveFloat32 spreads interleaved float32 samples into
// non-interleaved float channels and returns number of frames written.
func DeinterleaveFloat32(dst [][]float64, floats []float32) int {
	numChannels := len(dst)
	if numChannels == 0 {
		return 0
	}
	frames := len(floats) / numChannels
	for c := range dst {
		for i := 0; i < frames; i++ {
			dst[c][i] = float64(floats[i*numChannels+c])
		}
	}
	return frames
}

// InterleaveFloat32 writes frames samples of non-interleaved float
// channels into dst as interleaved float32 samples. Dst must hold
// frames*len(src) values.
func InterleaveFloat32(dst []float32, src [][]float64, frames int) {
	numChannels := len(src)
	for c := range src {
		for i := 0; i < frames; i++ {
			dst[i*numChannels+c] = float32(src[c][i])
		}
	}
}

func clamp(v float64) float64 {
	switch {
	case v > 1:
		return 1
	case v < -1:
		return -1
	}
	return v
}
