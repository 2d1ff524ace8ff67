package dsp

import (
	"pipelined.dev/audiograph/node"
	"pipelined.dev/audiograph/signal"
)

const (
	// GainKind is the persistent kind of Gain.
	GainKind = "gain"
	// GainParam sets the gain factor.
	GainParam uint32 = 0
)

// Gain multiplies every channel by a factor.
type Gain struct {
	// Channels is the preferred number of channels. Zero means mono.
	Channels int
	gain     float
}

type gainState struct {
	Gain     float64 `json:"gain"`
	Channels int     `json:"channels,omitempty"`
}

// NewGain returns mono gain processor.
func NewGain(gain float64) *Gain {
	g := &Gain{}
	g.gain.store(gain)
	return g
}

// Gain returns current gain factor.
func (g *Gain) Gain() float64 {
	return g.gain.load()
}

// Layout implements node.Processor.
func (g *Gain) Layout() node.Layout {
	return bus(g.Channels)
}

// Prepare accepts any layout with one input and one output bus of the
// same width.
func (g *Gain) Prepare(_ float64, _ int, layout node.Layout) error {
	_, err := channels(layout)
	return err
}

// Process implements node.Processor.
func (g *Gain) Process(b *node.Block) error {
	signal.CopyFrom(b.Outputs[0], b.Inputs[0])
	signal.Scale(b.Outputs[0], g.gain.load())
	return nil
}

// Reset implements node.Processor.
func (g *Gain) Reset() {}

// SetParameter implements node.Parameterized.
func (g *Gain) SetParameter(id uint32, value float64) {
	if id == GainParam {
		g.gain.store(value)
	}
}

// Kind implements node.Persistent.
func (g *Gain) Kind() string {
	return GainKind
}

// MarshalState implements node.Persistent.
func (g *Gain) MarshalState() ([]byte, error) {
	return marshal(gainState{Gain: g.gain.load(), Channels: g.Channels})
}

// UnmarshalState implements node.Persistent.
func (g *Gain) UnmarshalState(data []byte) error {
	var s gainState
	if err := unmarshal(data, &s); err != nil {
		return err
	}
	g.gain.store(s.Gain)
	g.Channels = s.Channels
	return nil
}
