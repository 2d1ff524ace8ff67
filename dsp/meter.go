package dsp

import (
	"math"
	"sync/atomic"

	timestats "github.com/cwbudde/algo-dsp/stats/time"

	"pipelined.dev/audiograph/node"
	"pipelined.dev/audiograph/signal"
)

// MeterKind is the persistent kind of Meter.
const MeterKind = "meter"

// Meter passes signal through and tracks its peak and the RMS of the
// latest block. Both can be read from any goroutine.
type Meter struct {
	channels int
	peak     float
	rms      float
	blocks   atomic.Uint64
}

type meterState struct {
	Channels int `json:"channels"`
}

// NewMeter returns meter for provided number of channels.
func NewMeter(channels int) *Meter {
	return &Meter{channels: max(channels, 1)}
}

// Layout implements node.Processor.
func (m *Meter) Layout() node.Layout {
	return bus(m.channels)
}

// Prepare implements node.Processor.
func (m *Meter) Prepare(_ float64, _ int, layout node.Layout) error {
	n, err := channels(layout)
	if err != nil {
		return err
	}
	m.channels = n
	return nil
}

// Process implements node.Processor.
func (m *Meter) Process(b *node.Block) error {
	signal.CopyFrom(b.Outputs[0], b.Inputs[0])
	in := b.Inputs[0]
	if p := signal.Peak(in); p > m.peak.load() {
		m.peak.store(p)
	}
	// loudest channel wins
	var rms float64
	for i := 0; i < in.NumChannels(); i++ {
		rms = max(rms, timestats.RMS(in.Channel(i)))
	}
	m.rms.store(rms)
	m.blocks.Add(1)
	return nil
}

// Reset clears the peak and RMS.
func (m *Meter) Reset() {
	m.peak.store(0)
	m.rms.store(0)
}

// Peak returns the highest absolute sample value since the last call and
// clears it.
func (m *Meter) Peak() float64 {
	return math.Float64frombits(m.peak.bits.Swap(0))
}

// RMS returns root mean square of the loudest channel in the latest
// block.
func (m *Meter) RMS() float64 {
	return m.rms.load()
}

// Blocks returns number of metered blocks.
func (m *Meter) Blocks() int {
	return int(m.blocks.Load())
}

// Kind implements node.Persistent.
func (m *Meter) Kind() string {
	return MeterKind
}

// MarshalState implements node.Persistent.
func (m *Meter) MarshalState() ([]byte, error) {
	return marshal(meterState{Channels: m.channels})
}

// UnmarshalState implements node.Persistent.
func (m *Meter) UnmarshalState(data []byte) error {
	var s meterState
	if err := unmarshal(data, &s); err != nil {
		return err
	}
	m.channels = max(s.Channels, 1)
	return nil
}
