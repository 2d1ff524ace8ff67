// Package signal provides non-interleaved sample storage for the render
// path. It allows to:
//	- allocate fixed-capacity multi-channel buffers up front
//	- express channel and sample sub-ranges as zero-copy views
//	- clear, copy and mix views without allocation
package signal

import (
	"fmt"

	"github.com/cwbudde/algo-vecmath"
)

type (
	// Buffer is a fixed-capacity block of non-interleaved samples. All
	// channels share one contiguous backing array.
	Buffer struct {
		data     []float64
		channels [][]float64
		capacity int
	}

	// View references a channel set and a sample range of existing
	// storage. Views never own samples.
	View struct {
		channels [][]float64
		start    int
		length   int
	}
)

// Allocate returns a zeroed buffer with provided number of channels, each
// able to hold capacity samples.
func Allocate(numChannels, capacity int) *Buffer {
	if numChannels < 0 || capacity < 0 {
		panic(fmt.Sprintf("signal: invalid buffer dimensions %dx%d", numChannels, capacity))
	}
	data := make([]float64, numChannels*capacity)
	channels := make([][]float64, numChannels)
	for i := range channels {
		channels[i] = data[i*capacity : (i+1)*capacity : (i+1)*capacity]
	}
	return &Buffer{
		data:     data,
		channels: channels,
		capacity: capacity,
	}
}

// NumChannels returns number of channels in the buffer.
func (b *Buffer) NumChannels() int {
	return len(b.channels)
}

// Capacity returns number of samples every channel can hold.
func (b *Buffer) Capacity() int {
	return b.capacity
}

// Channel returns full-capacity storage of the channel.
func (b *Buffer) Channel(i int) []float64 {
	return b.channels[i]
}

// View returns a view of numChannels channels starting from firstChannel,
// covering length samples starting from start.
func (b *Buffer) View(firstChannel, numChannels, start, length int) View {
	if firstChannel < 0 || numChannels < 0 || firstChannel+numChannels > len(b.channels) {
		panic(fmt.Sprintf("signal: channels [%d, %d) out of range %d", firstChannel, firstChannel+numChannels, len(b.channels)))
	}
	checkRange(start, length, b.capacity)
	return View{
		channels: b.channels[firstChannel : firstChannel+numChannels],
		start:    start,
		length:   length,
	}
}

// Full returns a view of all channels and the whole capacity.
func (b *Buffer) Full() View {
	return b.View(0, len(b.channels), 0, b.capacity)
}

// Gather returns a view over arbitrary channel slices. It is used to
// re-map channels of different buffers into a single bus. All channels
// must have at least the length of the shortest one; the view covers
// that length. Gather allocates the channel table and should only be
// called ahead of rendering.
func Gather(channels ...[]float64) View {
	length := 0
	for i, c := range channels {
		if i == 0 || len(c) < length {
			length = len(c)
		}
	}
	table := make([][]float64, len(channels))
	copy(table, channels)
	return View{
		channels: table,
		length:   length,
	}
}

// NumChannels returns number of channels in the view.
func (v View) NumChannels() int {
	return len(v.channels)
}

// Len returns number of samples per channel in the view.
func (v View) Len() int {
	return v.length
}

// Channel returns samples of the channel within the view range.
func (v View) Channel(i int) []float64 {
	return v.channels[i][v.start : v.start+v.length]
}

// Slice returns a view of the same channels, narrowed to length samples
// starting at start relative to this view.
func (v View) Slice(start, length int) View {
	checkRange(start, length, v.length)
	return View{
		channels: v.channels,
		start:    v.start + start,
		length:   length,
	}
}

// Channels returns a view of numChannels channels starting from first.
func (v View) Channels(first, numChannels int) View {
	if first < 0 || numChannels < 0 || first+numChannels > len(v.channels) {
		panic(fmt.Sprintf("signal: channels [%d, %d) out of range %d", first, first+numChannels, len(v.channels)))
	}
	return View{
		channels: v.channels[first : first+numChannels],
		start:    v.start,
		length:   v.length,
	}
}

// Clear sets all samples in the view to zero.
func Clear(v View) {
	for i := range v.channels {
		clear(v.Channel(i))
	}
}

// CopyFrom copies samples of src into dst. Views must have the same
// shape.
func CopyFrom(dst, src View) {
	checkShape(dst, src)
	for i := range dst.channels {
		copy(dst.Channel(i), src.Channel(i))
	}
}

// AddFrom accumulates samples of src scaled by gain into dst. Views must
// have the same shape.
func AddFrom(dst, src View, gain float64) {
	checkShape(dst, src)
	for i := range dst.channels {
		d, s := dst.Channel(i), src.Channel(i)
		if gain == 1 {
			vecmath.AddBlockInPlace(d, s)
			continue
		}
		for j := range d {
			d[j] += s[j] * gain
		}
	}
}

// Scale multiplies all samples in the view by gain.
func Scale(v View, gain float64) {
	for i := range v.channels {
		vecmath.ScaleBlockInPlace(v.Channel(i), gain)
	}
}

// Peak returns maximum absolute sample value in the view.
func Peak(v View) float64 {
	var peak float64
	for i := range v.channels {
		if p := vecmath.MaxAbs(v.Channel(i)); p > peak {
			peak = p
		}
	}
	return peak
}

func checkRange(start, length, capacity int) {
	if start < 0 || length < 0 || start+length > capacity {
		panic(fmt.Sprintf("signal: samples [%d, %d) out of range %d", start, start+length, capacity))
	}
}

func checkShape(dst, src View) {
	if len(dst.channels) != len(src.channels) || dst.length != src.length {
		panic(fmt.Sprintf("signal: shape mismatch %dx%d != %dx%d", len(dst.channels), dst.length, len(src.channels), src.length))
	}
}
