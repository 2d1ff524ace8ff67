package dsp

import (
	"math"

	"pipelined.dev/audiograph/midi"
	"pipelined.dev/audiograph/node"
)

const (
	// SineKind is the persistent kind of Sine.
	SineKind = "sine"
	// LevelParam sets output level.
	LevelParam uint32 = 0
)

// Sine is a monophonic sine voice driven by MIDI notes. Events are
// honored with sample accuracy.
type Sine struct {
	level      float
	sampleRate float64
	note       int
	amp        float64
	phase      float64
	step       float64
}

type sineState struct {
	Level float64 `json:"level"`
}

// NewSine returns sine voice with full level.
func NewSine() *Sine {
	s := &Sine{note: -1}
	s.level.store(1)
	return s
}

// Layout implements node.Processor.
func (s *Sine) Layout() node.Layout {
	return node.Layout{Outputs: []int{1}, MIDIIn: true}
}

// Prepare implements node.Processor.
func (s *Sine) Prepare(sampleRate float64, _ int, layout node.Layout) error {
	if !layout.MIDIIn || len(layout.Outputs) != 1 || layout.Outputs[0] != 1 || len(layout.Inputs) != 0 {
		return node.ErrUnsupportedLayout
	}
	s.sampleRate = sampleRate
	s.Reset()
	return nil
}

// Process implements node.Processor.
func (s *Sine) Process(b *node.Block) error {
	out := b.Outputs[0].Channel(0)
	pos := 0
	for _, e := range b.MIDIIn.Events() {
		offset := min(max(e.Offset, pos), len(out))
		s.render(out[pos:offset])
		pos = offset
		s.handle(e)
	}
	s.render(out[pos:])
	return nil
}

func (s *Sine) handle(e midi.Event) {
	switch {
	case e.IsNoteOn():
		s.note = int(e.Note())
		s.amp = float64(e.Velocity()) / 127
		freq := 440 * math.Pow(2, float64(s.note-69)/12)
		s.step = 2 * math.Pi * freq / s.sampleRate
	case e.IsNoteOff() && int(e.Note()) == s.note:
		s.note = -1
		s.amp = 0
	}
}

func (s *Sine) render(out []float64) {
	if s.amp == 0 {
		return
	}
	gain := s.amp * s.level.load()
	for i := range out {
		out[i] = gain * math.Sin(s.phase)
		s.phase += s.step
		if s.phase >= 2*math.Pi {
			s.phase -= 2 * math.Pi
		}
	}
}

// Reset silences the voice.
func (s *Sine) Reset() {
	s.note = -1
	s.amp = 0
	s.phase = 0
}

// SetParameter implements node.Parameterized.
func (s *Sine) SetParameter(id uint32, value float64) {
	if id == LevelParam {
		s.level.store(value)
	}
}

// Kind implements node.Persistent.
func (s *Sine) Kind() string {
	return SineKind
}

// MarshalState implements node.Persistent.
func (s *Sine) MarshalState() ([]byte, error) {
	return marshal(sineState{Level: s.level.load()})
}

// UnmarshalState implements node.Persistent.
func (s *Sine) UnmarshalState(data []byte) error {
	var st sineState
	if err := unmarshal(data, &st); err != nil {
		return err
	}
	s.level.store(st.Level)
	return nil
}
