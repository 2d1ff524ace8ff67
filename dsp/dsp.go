// Package dsp provides native processors of the graph.
//
// All processors implement node.Persistent, so they can be saved with
// their state and recreated by kind:
//
//	gain      - multiplies signal by a factor;
//	delay     - delays signal and reports the delay as latency;
//	mix       - sums input buses with per-bus gain;
//	meter     - passes signal through and tracks its peak and RMS;
//	spectrum  - passes signal through and measures its magnitude spectrum;
//	transpose - shifts MIDI notes;
//	sine      - MIDI driven sine voice.
package dsp

import (
	"encoding/json"
	"fmt"
	"math"
	"sync/atomic"

	"pipelined.dev/audiograph/node"
)

// Factories returns constructors of all processors by kind. Processors
// are created with defaults and restored with UnmarshalState.
func Factories() map[string]func() node.Processor {
	return map[string]func() node.Processor{
		GainKind:      func() node.Processor { return NewGain(1) },
		DelayKind:     func() node.Processor { return NewDelay(0) },
		MixKind:       func() node.Processor { return NewMix(2, 1) },
		MeterKind:     func() node.Processor { return NewMeter(1) },
		SpectrumKind:  func() node.Processor { return NewSpectrum(1024) },
		TransposeKind: func() node.Processor { return NewTranspose(0) },
		SineKind:      func() node.Processor { return NewSine() },
	}
}

// float is a float64 that can be shared between render and control
// threads.
type float struct {
	bits atomic.Uint64
}

func (f *float) load() float64 {
	return math.Float64frombits(f.bits.Load())
}

func (f *float) store(v float64) {
	f.bits.Store(math.Float64bits(v))
}

// channels returns number of channels if layout has one input and one
// output bus of the same width.
func channels(layout node.Layout) (int, error) {
	if len(layout.Inputs) != 1 || len(layout.Outputs) != 1 || layout.Inputs[0] != layout.Outputs[0] {
		return 0, fmt.Errorf("%w: %v", node.ErrUnsupportedLayout, layout)
	}
	return layout.Inputs[0], nil
}

func bus(channels int) node.Layout {
	if channels <= 0 {
		channels = 1
	}
	return node.Layout{Inputs: []int{channels}, Outputs: []int{channels}}
}

func marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid state: %w", err)
	}
	return nil
}
