package dsp

import (
	"math"
	"sync/atomic"

	"pipelined.dev/audiograph/midi"
	"pipelined.dev/audiograph/node"
)

const (
	// TransposeKind is the persistent kind of Transpose.
	TransposeKind = "transpose"
	// SemitonesParam sets transposition in semitones.
	SemitonesParam uint32 = 0
)

// Transpose shifts notes of MIDI note messages. Notes shifted out of the
// MIDI range are dropped, other messages pass through.
type Transpose struct {
	semitones atomic.Int64
}

type transposeState struct {
	Semitones int `json:"semitones"`
}

// NewTranspose returns transposition by provided number of semitones.
func NewTranspose(semitones int) *Transpose {
	t := &Transpose{}
	t.semitones.Store(int64(semitones))
	return t
}

// Semitones returns current transposition.
func (t *Transpose) Semitones() int {
	return int(t.semitones.Load())
}

// Layout implements node.Processor.
func (t *Transpose) Layout() node.Layout {
	return node.Layout{MIDIIn: true, MIDIOut: true}
}

// Prepare implements node.Processor.
func (t *Transpose) Prepare(_ float64, _ int, layout node.Layout) error {
	if !layout.MIDIIn || !layout.MIDIOut {
		return node.ErrUnsupportedLayout
	}
	return nil
}

// Process implements node.Processor.
func (t *Transpose) Process(b *node.Block) error {
	shift := int(t.semitones.Load())
	for _, e := range b.MIDIIn.Events() {
		if s := e.Status(); s == midi.StatusNoteOn || s == midi.StatusNoteOff || s == midi.StatusPolyPressure {
			note := int(e.Note()) + shift
			if note < 0 || note > 127 {
				continue
			}
			e.Data[1] = byte(note)
		}
		b.MIDIOut.Add(e)
	}
	return nil
}

// Reset implements node.Processor.
func (t *Transpose) Reset() {}

// SetParameter implements node.Parameterized. Value is rounded to the
// nearest semitone.
func (t *Transpose) SetParameter(id uint32, value float64) {
	if id == SemitonesParam {
		t.semitones.Store(int64(math.Round(value)))
	}
}

// Kind implements node.Persistent.
func (t *Transpose) Kind() string {
	return TransposeKind
}

// MarshalState implements node.Persistent.
func (t *Transpose) MarshalState() ([]byte, error) {
	return marshal(transposeState{Semitones: t.Semitones()})
}

// UnmarshalState implements node.Persistent.
func (t *Transpose) UnmarshalState(data []byte) error {
	var s transposeState
	if err := unmarshal(data, &s); err != nil {
		return err
	}
	t.semitones.Store(int64(s.Semitones))
	return nil
}
