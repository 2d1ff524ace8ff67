// Package mock provides stub processors and allows to execute integration
// tests of graphs.
package mock

import (
	"encoding/json"
	"sync/atomic"

	"pipelined.dev/audiograph/node"
)

// Kind is the persistent kind of the mock processor.
const Kind = "mock"

// Processor mocks a node.Processor. By default it copies every input
// channel to the output channel with the same bus and index, multiplied
// by Gain. If Value is not zero, outputs are filled with Value instead.
// MIDI input is forwarded to MIDI output.
//
// Fields must not be changed while processor is rendering.
type Processor struct {
	counter
	Hooks

	Bus     node.Layout
	Gain    float64
	Value   float64
	Latency int

	// FailAt is the zero-based call index starting from which Process
	// returns ErrorOnCall. Processor fails only if ErrorOnCall is set.
	FailAt      int
	ErrorOnCall error
	// PanicOnCall makes Process panic instead of returning an error.
	PanicOnCall bool

	prepared node.Layout
}

// Hooks record lifecycle calls.
type Hooks struct {
	prepares atomic.Int64
	resets   atomic.Int64
	released atomic.Bool
	param    atomic.Uint64
	value    atomic.Uint64

	ErrorOnPrepare error
}

// counter counts calls, samples and MIDI events.
type counter struct {
	calls   atomic.Int64
	samples atomic.Int64
	events  atomic.Int64
}

// Layout implements node.Processor. Mono layout is used if Bus is empty.
func (m *Processor) Layout() node.Layout {
	if len(m.Bus.Inputs) == 0 && len(m.Bus.Outputs) == 0 && !m.Bus.MIDIIn && !m.Bus.MIDIOut {
		return node.Mono()
	}
	return m.Bus.Clone()
}

// Prepare implements node.Processor.
func (m *Processor) Prepare(sampleRate float64, maxBlockSize int, layout node.Layout) error {
	m.prepares.Add(1)
	if m.ErrorOnPrepare != nil {
		return m.ErrorOnPrepare
	}
	m.prepared = layout.Clone()
	return nil
}

// Process implements node.Processor.
func (m *Processor) Process(b *node.Block) error {
	call := m.calls.Add(1) - 1
	if m.ErrorOnCall != nil && call >= int64(m.FailAt) {
		if m.PanicOnCall {
			panic(m.ErrorOnCall)
		}
		return m.ErrorOnCall
	}
	gain := m.Gain
	if gain == 0 {
		gain = 1
	}
	for bus := range b.Outputs {
		out := b.Outputs[bus]
		for c := 0; c < out.NumChannels(); c++ {
			o := out.Channel(c)
			if m.Value != 0 {
				for i := range o {
					o[i] = m.Value
				}
				continue
			}
			if bus >= len(b.Inputs) || c >= b.Inputs[bus].NumChannels() {
				continue
			}
			in := b.Inputs[bus].Channel(c)
			for i := range o {
				o[i] = in[i] * gain
			}
		}
	}
	if b.MIDIIn != nil {
		m.events.Add(int64(b.MIDIIn.Len()))
		if b.MIDIOut != nil {
			for _, e := range b.MIDIIn.Events() {
				b.MIDIOut.Add(e)
			}
		}
	}
	m.samples.Add(int64(b.NumSamples))
	return nil
}

// Reset implements node.Processor.
func (m *Processor) Reset() {
	m.resets.Add(1)
}

// LatencySamples implements node.LatencyReporter.
func (m *Processor) LatencySamples() int {
	return m.Latency
}

// SetParameter implements node.Parameterized. Last change is recorded.
func (m *Processor) SetParameter(id uint32, value float64) {
	m.param.Store(uint64(id))
	m.value.Store(uint64(int64(value * 1e6)))
}

// Release implements node.Releaser.
func (m *Processor) Release() {
	m.released.Store(true)
}

// Kind implements node.Persistent.
func (m *Processor) Kind() string {
	return Kind
}

type state struct {
	Gain    float64 `json:"gain"`
	Value   float64 `json:"value"`
	Latency int     `json:"latency"`
}

// MarshalState implements node.Persistent.
func (m *Processor) MarshalState() ([]byte, error) {
	return json.Marshal(state{Gain: m.Gain, Value: m.Value, Latency: m.Latency})
}

// UnmarshalState implements node.Persistent.
func (m *Processor) UnmarshalState(data []byte) error {
	var s state
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	m.Gain, m.Value, m.Latency = s.Gain, s.Value, s.Latency
	return nil
}

// Calls returns number of Process calls.
func (c *counter) Calls() int {
	return int(c.calls.Load())
}

// Samples returns number of processed samples.
func (c *counter) Samples() int {
	return int(c.samples.Load())
}

// Events returns number of received MIDI events.
func (c *counter) Events() int {
	return int(c.events.Load())
}

// Prepares returns number of Prepare calls.
func (h *Hooks) Prepares() int {
	return int(h.prepares.Load())
}

// Resets returns number of Reset calls.
func (h *Hooks) Resets() int {
	return int(h.resets.Load())
}

// Released returns true if Release was called.
func (h *Hooks) Released() bool {
	return h.released.Load()
}

// LastParameter returns the last parameter change.
func (h *Hooks) LastParameter() (uint32, float64) {
	return uint32(h.param.Load()), float64(int64(h.value.Load())) / 1e6
}

// Prepared returns layout of the last successful Prepare call.
func (m *Processor) Prepared() node.Layout {
	return m.prepared
}
