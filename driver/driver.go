// Package driver calls the graph the way audio hardware does: once per
// period, from a single goroutine, with a monotonic sample time.
//
// Offline renders a source into a sink as fast as possible. Callback
// adapts interleaved float32 device buffers and is used by live device
// drivers.
package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"pipelined.dev/audiograph"
	"pipelined.dev/audiograph/midi"
	"pipelined.dev/audiograph/signal"
)

// ErrChannelMismatch is returned when number of source channels differs
// from the number of graph inputs.
var ErrChannelMismatch = errors.New("channel mismatch")

type (
	// Renderer renders periods. It's implemented by audiograph.Graph.
	Renderer interface {
		RenderNextBlock(*audiograph.Period)
		LatencySamples() int
	}

	// Source provides input signal. file.Source implements it.
	Source interface {
		NumChannels() int
		// Read returns io.EOF when source is exhausted.
		Read(dst [][]float64) (int, error)
	}

	// Sink consumes rendered signal. file.WAVSink implements it.
	Sink interface {
		Write(src [][]float64, n int) error
	}
)

// Offline renders graph without hardware. Input is read from Source until
// it's exhausted, then the latency tail of the graph is rendered with
// silent input. Without Source, Length samples of silence are rendered.
type Offline struct {
	Graph      Renderer
	Source     Source
	Sink       Sink
	NumInputs  int
	NumOutputs int
	BlockSize  int
	// Length is the number of samples rendered when there is no source.
	Length int64
	// MIDI events with offsets in samples from the start of rendering.
	// Events must be sorted by offset.
	MIDI []midi.Event
	// OnMIDI receives MIDI output of every period with offsets in
	// samples from the start of rendering.
	OnMIDI func([]midi.Event)

	sampleTime atomic.Int64
}

// SampleTime returns number of rendered samples.
func (o *Offline) SampleTime() int64 {
	return o.sampleTime.Load()
}

// Run renders the graph until source and latency tail are exhausted or
// context is done. It returns number of rendered samples.
func (o *Offline) Run(ctx context.Context) (int64, error) {
	if o.BlockSize <= 0 {
		return 0, fmt.Errorf("invalid block size: %d", o.BlockSize)
	}
	if o.Source != nil && o.Source.NumChannels() != o.NumInputs {
		return 0, fmt.Errorf("%w: source has %d channels, graph has %d inputs", ErrChannelMismatch, o.Source.NumChannels(), o.NumInputs)
	}
	in := allocate(o.NumInputs, o.BlockSize)
	out := allocate(o.NumOutputs, o.BlockSize)
	midiIn := midi.NewBuffer(max(len(o.MIDI), 1))
	midiOut := midi.NewBuffer(audiograph.DefaultMIDICapacity)
	p := audiograph.Period{
		MIDIIn:  midiIn,
		MIDIOut: midiOut,
	}

	var (
		remaining = o.Length
		tail      = -1
		pending   = o.MIDI
	)
	if o.Source != nil {
		remaining = -1
	}
	for {
		if err := ctx.Err(); err != nil {
			return o.SampleTime(), err
		}
		n := o.BlockSize
		switch {
		case tail >= 0:
			if tail == 0 {
				return o.SampleTime(), nil
			}
			n = min(n, tail)
			tail -= n
			silence(in, n)
		case o.Source == nil:
			if remaining <= 0 {
				return o.SampleTime(), nil
			}
			n = int(min(int64(n), remaining))
			remaining -= int64(n)
			silence(in, n)
		default:
			read, err := o.Source.Read(in)
			if err != nil && err != io.EOF {
				return o.SampleTime(), fmt.Errorf("read source: %w", err)
			}
			if read == 0 {
				tail = o.Graph.LatencySamples()
				continue
			}
			n = read
		}

		sampleTime := o.SampleTime()
		midiIn.Clear()
		for len(pending) > 0 && int64(pending[0].Offset) < sampleTime+int64(n) {
			e := pending[0]
			e.Offset = max(int(int64(e.Offset)-sampleTime), 0)
			midiIn.Add(e)
			pending = pending[1:]
		}
		midiOut.Clear()
		p.Input = slice(p.Input, in, n)
		p.Output = slice(p.Output, out, n)
		p.SampleTime = sampleTime
		p.NumSamples = n
		o.Graph.RenderNextBlock(&p)
		o.sampleTime.Add(int64(n))

		if o.Sink != nil {
			if err := o.Sink.Write(out, n); err != nil {
				return o.SampleTime(), fmt.Errorf("write sink: %w", err)
			}
		}
		if o.OnMIDI != nil && midiOut.Len() > 0 {
			events := append([]midi.Event(nil), midiOut.Events()...)
			for i := range events {
				events[i].Offset += int(sampleTime)
			}
			o.OnMIDI(events)
		}
	}
}

// Run starts offline rendering in its own goroutine. The returned channel
// receives an error if rendering fails and is closed when it's done.
func Run(ctx context.Context, o *Offline) <-chan error {
	errc := make(chan error, 1)
	go func() {
		defer close(errc)
		if _, err := o.Run(ctx); err != nil {
			errc <- err
		}
	}()
	return errc
}

// Wait for the first error from the channel.
func Wait(errc <-chan error) error {
	for err := range errc {
		if err != nil {
			return err
		}
	}
	return nil
}

// Callback adapts interleaved device buffers to the graph. Process must
// be called from a single goroutine.
type Callback struct {
	graph      Renderer
	blockSize  int
	in, out    [][]float64
	period     audiograph.Period
	sampleTime atomic.Int64
}

// NewCallback allocates callback buffers.
func NewCallback(g Renderer, numInputs, numOutputs, blockSize int) *Callback {
	return &Callback{
		graph:     g,
		blockSize: blockSize,
		in:        allocate(numInputs, blockSize),
		out:       allocate(numOutputs, blockSize),
		period: audiograph.Period{
			Input:  make([][]float64, 0, numInputs),
			Output: make([][]float64, 0, numOutputs),
		},
	}
}

// SampleTime returns number of rendered samples.
func (c *Callback) SampleTime() int64 {
	return c.sampleTime.Load()
}

// Process renders a period. Input and output are interleaved. Frames
// beyond block size are ignored.
func (c *Callback) Process(in, out []float32) {
	var n int
	switch {
	case len(c.out) > 0:
		n = len(out) / len(c.out)
	case len(c.in) > 0:
		n = len(in) / len(c.in)
	}
	if n = min(n, c.blockSize); n == 0 {
		return
	}
	if len(c.in) > 0 {
		signal.DeinterleaveFloat32(c.in, in[:n*len(c.in)])
	}
	p := &c.period
	p.Input = slice(p.Input, c.in, n)
	p.Output = slice(p.Output, c.out, n)
	p.SampleTime = c.sampleTime.Load()
	p.NumSamples = n
	c.graph.RenderNextBlock(p)
	signal.InterleaveFloat32(out, p.Output, n)
	c.sampleTime.Add(int64(n))
}

func allocate(numChannels, blockSize int) [][]float64 {
	b := signal.Allocate(numChannels, blockSize)
	channels := make([][]float64, numChannels)
	for i := range channels {
		channels[i] = b.Channel(i)
	}
	return channels
}

// slice reuses dst to hold first n samples of channels.
func slice(dst, channels [][]float64, n int) [][]float64 {
	dst = dst[:0]
	for _, c := range channels {
		dst = append(dst, c[:n])
	}
	return dst
}

func silence(channels [][]float64, n int) {
	for _, c := range channels {
		for i := range c[:n] {
			c[i] = 0
		}
	}
}
