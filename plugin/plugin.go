// Package plugin adapts plugin instances of external formats to
// node.Processor.
//
// Format loaders expose a loaded plugin as an Instance: it processes
// interleaved float32 frames of all channels of its active arrangement
// and is configured with the suspend, configure, resume sequence plugin
// formats use. Optional interfaces add latency reporting, parameters,
// MIDI input, state chunks and closing.
package plugin

import (
	"errors"
	"fmt"

	"pipelined.dev/audiograph/midi"
	"pipelined.dev/audiograph/node"
	"pipelined.dev/audiograph/signal"
)

// ErrNoArrangement is returned when instance doesn't support any
// arrangement.
var ErrNoArrangement = errors.New("plugin has no arrangements")

type (
	// Arrangement is a set of audio buses plugin can run with.
	Arrangement struct {
		Inputs  []int
		Outputs []int
	}

	// Instance is a loaded plugin.
	Instance interface {
		// Arrangements returns supported arrangements, preferred first.
		Arrangements() []Arrangement
		SetArrangement(Arrangement) error
		SetSampleRate(float64)
		SetBlockSize(int)
		Resume()
		Suspend()
		// ProcessFloat processes frames of interleaved samples. Channels
		// of all buses are interleaved in bus order.
		ProcessFloat(in, out []float32, frames int)
	}

	// Latent is implemented by instances that delay their output.
	Latent interface {
		InitialDelay() int
	}

	// Automated is implemented by instances with parameters.
	Automated interface {
		SetParameter(index int, value float32)
	}

	// EventReceiver is implemented by instances that accept MIDI. Events
	// are delivered before the frames they belong to.
	EventReceiver interface {
		ProcessEvents([]midi.Event)
	}

	// Chunked is implemented by instances that can persist their state.
	Chunked interface {
		Chunk() ([]byte, error)
		SetChunk([]byte) error
	}

	// Closer is implemented by instances that must be unloaded.
	Closer interface {
		Close() error
	}
)

// Processor wraps instance into node.Processor.
type Processor struct {
	kind     string
	instance Instance
	resumed  bool

	arrangement Arrangement
	in, out     []float32
	channels    [][]float64
}

// New returns processor for the instance. Kind identifies the plugin in
// persisted graphs, for example "vst2:reverb".
func New(kind string, instance Instance) *Processor {
	return &Processor{
		kind:     kind,
		instance: instance,
	}
}

// Instance returns wrapped instance.
func (p *Processor) Instance() Instance {
	return p.instance
}

// Arrangement returns arrangement negotiated by the last Prepare.
func (p *Processor) Arrangement() Arrangement {
	return p.arrangement
}

// Layout returns preferred arrangement of the instance.
func (p *Processor) Layout() node.Layout {
	a := p.instance.Arrangements()
	if len(a) == 0 {
		return node.Layout{}
	}
	return p.layout(a[0])
}

func (p *Processor) layout(a Arrangement) node.Layout {
	_, midiIn := p.instance.(EventReceiver)
	return node.Layout{
		Inputs:  append([]int(nil), a.Inputs...),
		Outputs: append([]int(nil), a.Outputs...),
		MIDIIn:  midiIn,
	}
}

// Prepare negotiates arrangement that matches the layout and configures
// instance. Instance is suspended while it's configured.
func (p *Processor) Prepare(sampleRate float64, maxBlockSize int, layout node.Layout) error {
	arrangements := p.instance.Arrangements()
	if len(arrangements) == 0 {
		return ErrNoArrangement
	}
	a, ok := p.negotiate(arrangements, layout)
	if !ok {
		return fmt.Errorf("%s: %w: %v", p.kind, node.ErrUnsupportedLayout, layout)
	}
	p.suspend()
	p.instance.SetSampleRate(sampleRate)
	p.instance.SetBlockSize(maxBlockSize)
	if err := p.instance.SetArrangement(a); err != nil {
		return fmt.Errorf("%s: set arrangement: %w", p.kind, err)
	}
	p.arrangement = a
	in, out := layout.NumInputChannels(), layout.NumOutputChannels()
	p.in = make([]float32, in*maxBlockSize)
	p.out = make([]float32, out*maxBlockSize)
	p.channels = make([][]float64, max(in, out))
	p.instance.Resume()
	p.resumed = true
	return nil
}

func (p *Processor) negotiate(arrangements []Arrangement, layout node.Layout) (Arrangement, bool) {
	for _, a := range arrangements {
		l := p.layout(a)
		l.MIDIIn, l.MIDIOut = layout.MIDIIn, layout.MIDIOut
		if l.Equal(layout) {
			return a, true
		}
	}
	return Arrangement{}, false
}

// Process interleaves inputs, calls the instance and spreads its output
// back into output buses.
func (p *Processor) Process(b *node.Block) error {
	if r, ok := p.instance.(EventReceiver); ok && b.MIDIIn != nil {
		r.ProcessEvents(b.MIDIIn.Events())
	}
	n := b.NumSamples
	inChannels := p.gather(b.Inputs)
	in := p.in[:n*len(inChannels)]
	signal.InterleaveFloat32(in, inChannels, n)
	out := p.out[:n*numChannels(b.Outputs)]
	p.instance.ProcessFloat(in, out, n)
	signal.DeinterleaveFloat32(p.gather(b.Outputs), out)
	return nil
}

// gather fills channel table with channels of the views. The table is
// shared, so result is valid until the next call.
func (p *Processor) gather(views []signal.View) [][]float64 {
	channels := p.channels[:0]
	for _, v := range views {
		for c := 0; c < v.NumChannels(); c++ {
			channels = append(channels, v.Channel(c))
		}
	}
	return channels
}

func numChannels(views []signal.View) int {
	n := 0
	for _, v := range views {
		n += v.NumChannels()
	}
	return n
}

// Reset flushes the instance.
func (p *Processor) Reset() {
	p.suspend()
	p.instance.Resume()
	p.resumed = true
}

func (p *Processor) suspend() {
	if p.resumed {
		p.instance.Suspend()
		p.resumed = false
	}
}

// LatencySamples implements node.LatencyReporter.
func (p *Processor) LatencySamples() int {
	if l, ok := p.instance.(Latent); ok {
		return l.InitialDelay()
	}
	return 0
}

// SetParameter implements node.Parameterized.
func (p *Processor) SetParameter(id uint32, value float64) {
	if a, ok := p.instance.(Automated); ok {
		a.SetParameter(int(id), float32(value))
	}
}

// Kind implements node.Persistent.
func (p *Processor) Kind() string {
	return p.kind
}

// MarshalState returns state chunk of the instance. Instances without
// chunks have empty state.
func (p *Processor) MarshalState() ([]byte, error) {
	if c, ok := p.instance.(Chunked); ok {
		return c.Chunk()
	}
	return nil, nil
}

// UnmarshalState restores state chunk of the instance.
func (p *Processor) UnmarshalState(data []byte) error {
	if c, ok := p.instance.(Chunked); ok && len(data) > 0 {
		return c.SetChunk(data)
	}
	return nil
}

// Release suspends and closes the instance.
func (p *Processor) Release() {
	p.suspend()
	if c, ok := p.instance.(Closer); ok {
		_ = c.Close()
	}
}
