package dsp

import (
	"fmt"

	"pipelined.dev/audiograph/node"
	"pipelined.dev/audiograph/signal"
)

// MixKind is the persistent kind of Mix.
const MixKind = "mix"

// Mix sums all input buses into a single output bus. Parameter id is the
// index of input bus, value is its gain.
type Mix struct {
	inputs   int
	channels int
	gains    []float
}

type mixState struct {
	Gains    []float64 `json:"gains"`
	Channels int       `json:"channels"`
}

// NewMix returns mix of inputs buses with provided number of channels.
// All gains are 1.
func NewMix(inputs, channels int) *Mix {
	m := &Mix{
		inputs:   max(inputs, 1),
		channels: max(channels, 1),
	}
	m.gains = make([]float, m.inputs)
	for i := range m.gains {
		m.gains[i].store(1)
	}
	return m
}

// Layout implements node.Processor.
func (m *Mix) Layout() node.Layout {
	l := node.Layout{
		Inputs:  make([]int, m.inputs),
		Outputs: []int{m.channels},
	}
	for i := range l.Inputs {
		l.Inputs[i] = m.channels
	}
	return l
}

// Prepare accepts any number of input buses as wide as the single output
// bus.
func (m *Mix) Prepare(_ float64, _ int, layout node.Layout) error {
	if len(layout.Outputs) != 1 || len(layout.Inputs) == 0 {
		return fmt.Errorf("%w: %v", node.ErrUnsupportedLayout, layout)
	}
	for _, c := range layout.Inputs {
		if c != layout.Outputs[0] {
			return fmt.Errorf("%w: %v", node.ErrUnsupportedLayout, layout)
		}
	}
	if len(layout.Inputs) != m.inputs {
		gains := make([]float, len(layout.Inputs))
		for i := range gains {
			gains[i].store(1)
			if i < len(m.gains) {
				gains[i].store(m.gains[i].load())
			}
		}
		m.gains = gains
		m.inputs = len(layout.Inputs)
	}
	m.channels = layout.Outputs[0]
	return nil
}

// Process implements node.Processor.
func (m *Mix) Process(b *node.Block) error {
	for i, in := range b.Inputs {
		signal.AddFrom(b.Outputs[0], in, m.gains[i].load())
	}
	return nil
}

// Reset implements node.Processor.
func (m *Mix) Reset() {}

// SetParameter implements node.Parameterized.
func (m *Mix) SetParameter(id uint32, value float64) {
	if int(id) < len(m.gains) {
		m.gains[id].store(value)
	}
}

// Kind implements node.Persistent.
func (m *Mix) Kind() string {
	return MixKind
}

// MarshalState implements node.Persistent.
func (m *Mix) MarshalState() ([]byte, error) {
	s := mixState{Gains: make([]float64, len(m.gains)), Channels: m.channels}
	for i := range m.gains {
		s.Gains[i] = m.gains[i].load()
	}
	return marshal(s)
}

// UnmarshalState implements node.Persistent. It must be called before
// the processor is added to the graph.
func (m *Mix) UnmarshalState(data []byte) error {
	var s mixState
	if err := unmarshal(data, &s); err != nil {
		return err
	}
	if len(s.Gains) == 0 {
		return fmt.Errorf("invalid state: no inputs")
	}
	*m = *NewMix(len(s.Gains), s.Channels)
	for i, g := range s.Gains {
		m.gains[i].store(g)
	}
	return nil
}
