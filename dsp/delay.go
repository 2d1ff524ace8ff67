package dsp

import (
	"fmt"

	"github.com/cwbudde/algo-dsp/dsp/delay"

	"pipelined.dev/audiograph/node"
	"pipelined.dev/audiograph/signal"
)

// DelayKind is the persistent kind of Delay.
const DelayKind = "delay"

// Delay delays every channel by a fixed number of samples and reports it
// as latency. The graph compensates other paths, so it behaves like a
// lookahead stage of a plugin.
type Delay struct {
	// Channels is the preferred number of channels. Zero means mono.
	Channels int
	samples  int
	lines    []*delay.Line
}

type delayState struct {
	Samples  int `json:"samples"`
	Channels int `json:"channels,omitempty"`
}

// NewDelay returns mono delay.
func NewDelay(samples int) *Delay {
	return &Delay{samples: max(samples, 0)}
}

// Layout implements node.Processor.
func (d *Delay) Layout() node.Layout {
	return bus(d.Channels)
}

// Prepare allocates delay line per channel. Zero delay needs no lines.
func (d *Delay) Prepare(_ float64, _ int, layout node.Layout) error {
	n, err := channels(layout)
	if err != nil {
		return err
	}
	d.lines = nil
	if d.samples == 0 {
		return nil
	}
	lines := make([]*delay.Line, n)
	for i := range lines {
		if lines[i], err = delay.New(d.samples); err != nil {
			return err
		}
	}
	d.lines = lines
	return nil
}

// Process implements node.Processor.
func (d *Delay) Process(b *node.Block) error {
	in, out := b.Inputs[0], b.Outputs[0]
	if d.lines == nil {
		signal.CopyFrom(out, in)
		return nil
	}
	if in.NumChannels() != len(d.lines) {
		return fmt.Errorf("%w: %d channels", node.ErrUnsupportedLayout, in.NumChannels())
	}
	for i, l := range d.lines {
		src, dst := in.Channel(i), out.Channel(i)
		// line holds exactly samples values, the oldest is read before
		// it's overwritten
		for j, v := range src {
			dst[j] = l.Read(d.samples)
			l.Write(v)
		}
	}
	return nil
}

// Reset clears delay lines.
func (d *Delay) Reset() {
	for _, l := range d.lines {
		l.Reset()
	}
}

// LatencySamples implements node.LatencyReporter.
func (d *Delay) LatencySamples() int {
	return d.samples
}

// Kind implements node.Persistent.
func (d *Delay) Kind() string {
	return DelayKind
}

// MarshalState implements node.Persistent.
func (d *Delay) MarshalState() ([]byte, error) {
	return marshal(delayState{Samples: d.samples, Channels: d.Channels})
}

// UnmarshalState implements node.Persistent. It must be called before
// the processor is added to the graph.
func (d *Delay) UnmarshalState(data []byte) error {
	var s delayState
	if err := unmarshal(data, &s); err != nil {
		return err
	}
	d.samples = max(s.Samples, 0)
	d.Channels = s.Channels
	return nil
}
