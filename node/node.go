// Package node defines the contract between the graph and the processing
// algorithms it hosts.
//
// Every processor is driven through three calls:
//
//	Prepare - before rendering starts or when layout or block size change;
//	Process - once per block on the render thread;
//	Reset   - clears internal state without reallocation.
//
// Prepare may allocate and is never called concurrently with Process.
// Process must not allocate, lock, log or perform blocking I/O. Inputs are
// read-only; outputs are cleared before Process is called.
//
// Processors may implement optional interfaces to report latency, accept
// parameter changes, persist their state or release resources when the
// graph destroys them.
package node

import (
	"errors"
	"fmt"

	"pipelined.dev/audiograph/midi"
	"pipelined.dev/audiograph/signal"
)

// ErrUnsupportedLayout is returned by Prepare when processor cannot
// honor the requested layout.
var ErrUnsupportedLayout = errors.New("unsupported layout")

type (
	// ID identifies a node within a graph. IDs are never reused.
	ID uint32

	// Layout describes buses of the node: number of channels for every
	// input and output bus and whether the node consumes or produces
	// MIDI.
	Layout struct {
		Inputs  []int
		Outputs []int
		MIDIIn  bool
		MIDIOut bool
	}

	// Block is a single render call worth of data. Inputs and Outputs
	// hold one view per bus.
	Block struct {
		NumSamples int
		SampleTime int64
		Inputs     []signal.View
		Outputs    []signal.View
		MIDIIn     *midi.Buffer
		MIDIOut    *midi.Buffer
	}

	// Processor is the uniform contract of all processing algorithms.
	Processor interface {
		// Layout returns the layout processor prefers.
		Layout() Layout
		Prepare(sampleRate float64, maxBlockSize int, layout Layout) error
		Process(*Block) error
		Reset()
	}

	// LatencyReporter is implemented by processors that delay their
	// output. Latency is queried outside of Process.
	LatencyReporter interface {
		LatencySamples() int
	}

	// Parameterized is implemented by processors that accept parameter
	// changes. SetParameter is called on the render thread between
	// blocks.
	Parameterized interface {
		SetParameter(id uint32, value float64)
	}

	// Persistent is implemented by processors that can save and restore
	// their state. Kind identifies the processor factory.
	Persistent interface {
		Kind() string
		MarshalState() ([]byte, error)
		UnmarshalState([]byte) error
	}

	// Releaser is implemented by processors that hold resources. Release
	// is called once the render thread stopped referencing the node.
	Releaser interface {
		Release()
	}
)

// String returns node id as string.
func (id ID) String() string {
	return fmt.Sprintf("node-%d", uint32(id))
}

// Mono returns a layout with single mono input and output bus.
func Mono() Layout {
	return Layout{Inputs: []int{1}, Outputs: []int{1}}
}

// Stereo returns a layout with single stereo input and output bus.
func Stereo() Layout {
	return Layout{Inputs: []int{2}, Outputs: []int{2}}
}

// NumInputChannels returns total number of input channels.
func (l Layout) NumInputChannels() int {
	return sum(l.Inputs)
}

// NumOutputChannels returns total number of output channels.
func (l Layout) NumOutputChannels() int {
	return sum(l.Outputs)
}

// HasInput returns true if input bus and channel exist.
func (l Layout) HasInput(bus, channel int) bool {
	return bus >= 0 && bus < len(l.Inputs) && channel >= 0 && channel < l.Inputs[bus]
}

// HasOutput returns true if output bus and channel exist.
func (l Layout) HasOutput(bus, channel int) bool {
	return bus >= 0 && bus < len(l.Outputs) && channel >= 0 && channel < l.Outputs[bus]
}

// Equal returns true if layouts are the same.
func (l Layout) Equal(other Layout) bool {
	return equalInts(l.Inputs, other.Inputs) &&
		equalInts(l.Outputs, other.Outputs) &&
		l.MIDIIn == other.MIDIIn &&
		l.MIDIOut == other.MIDIOut
}

// Clone returns a deep copy of the layout.
func (l Layout) Clone() Layout {
	return Layout{
		Inputs:  append([]int(nil), l.Inputs...),
		Outputs: append([]int(nil), l.Outputs...),
		MIDIIn:  l.MIDIIn,
		MIDIOut: l.MIDIOut,
	}
}

// Validate checks that channel counts are positive.
func (l Layout) Validate() error {
	for i, c := range l.Inputs {
		if c <= 0 {
			return fmt.Errorf("input bus %d: %w: %d channels", i, ErrUnsupportedLayout, c)
		}
	}
	for i, c := range l.Outputs {
		if c <= 0 {
			return fmt.Errorf("output bus %d: %w: %d channels", i, ErrUnsupportedLayout, c)
		}
	}
	return nil
}

func (l Layout) String() string {
	return fmt.Sprintf("in:%v out:%v midi-in:%t midi-out:%t", l.Inputs, l.Outputs, l.MIDIIn, l.MIDIOut)
}

// Latency returns latency reported by processor or zero.
func Latency(p Processor) int {
	if lr, ok := p.(LatencyReporter); ok {
		if l := lr.LatencySamples(); l > 0 {
			return l
		}
	}
	return 0
}

func sum(ints []int) int {
	s := 0
	for _, v := range ints {
		s += v
	}
	return s
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
