package dsp_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipelined.dev/audiograph/dsp"
	"pipelined.dev/audiograph/midi"
	"pipelined.dev/audiograph/node"
	"pipelined.dev/audiograph/signal"
)

const (
	sampleRate = 48000
	blockSize  = 8
)

// monoBlock returns block with single mono input and output bus.
func monoBlock(input ...float64) *node.Block {
	return &node.Block{
		NumSamples: len(input),
		Inputs:     []signal.View{signal.Gather(input)},
		Outputs:    []signal.View{signal.Gather(make([]float64, len(input)))},
	}
}

func midiBlock(n int, events ...midi.Event) *node.Block {
	in := midi.NewBuffer(16)
	for _, e := range events {
		in.Add(e)
	}
	return &node.Block{
		NumSamples: n,
		MIDIIn:     in,
		MIDIOut:    midi.NewBuffer(16),
	}
}

func TestGain(t *testing.T) {
	g := dsp.NewGain(0.5)
	require.NoError(t, g.Prepare(sampleRate, blockSize, g.Layout()))
	assert.ErrorIs(t, g.Prepare(sampleRate, blockSize, node.Layout{Inputs: []int{1}, Outputs: []int{2}}), node.ErrUnsupportedLayout)

	b := monoBlock(1, 2)
	require.NoError(t, g.Process(b))
	assert.Equal(t, []float64{0.5, 1}, b.Outputs[0].Channel(0))

	g.SetParameter(dsp.GainParam, 2)
	require.NoError(t, g.Process(b))
	assert.Equal(t, []float64{2, 4}, b.Outputs[0].Channel(0))

	state, err := g.MarshalState()
	require.NoError(t, err)
	restored := dsp.NewGain(1)
	require.NoError(t, restored.UnmarshalState(state))
	assert.Equal(t, 2.0, restored.Gain())
	assert.Error(t, restored.UnmarshalState([]byte("{")))
}

func TestDelay(t *testing.T) {
	d := dsp.NewDelay(3)
	assert.Equal(t, 3, d.LatencySamples())
	require.NoError(t, d.Prepare(sampleRate, 4, d.Layout()))

	b := monoBlock(1, 0, 0, 0)
	require.NoError(t, d.Process(b))
	assert.Equal(t, []float64{0, 0, 0, 1}, b.Outputs[0].Channel(0))

	b = monoBlock(2, 0, 0, 0)
	require.NoError(t, d.Process(b))
	assert.Equal(t, []float64{0, 0, 0, 2}, b.Outputs[0].Channel(0))

	d.Reset()
	b = monoBlock(0, 0, 0, 0)
	require.NoError(t, d.Process(b))
	assert.Equal(t, []float64{0, 0, 0, 0}, b.Outputs[0].Channel(0))

	// block shorter than the delay
	require.NoError(t, d.Prepare(sampleRate, 4, node.Stereo()))
	b = &node.Block{
		NumSamples: 2,
		Inputs:     []signal.View{signal.Gather([]float64{1, 2}, []float64{3, 4})},
		Outputs:    []signal.View{signal.Gather(make([]float64, 2), make([]float64, 2))},
	}
	require.NoError(t, d.Process(b))
	assert.Equal(t, []float64{0, 0}, b.Outputs[0].Channel(0))
	require.NoError(t, d.Process(b))
	assert.Equal(t, []float64{0, 1}, b.Outputs[0].Channel(0))
	assert.Equal(t, []float64{0, 3}, b.Outputs[0].Channel(1))

	bypass := dsp.NewDelay(0)
	require.NoError(t, bypass.Prepare(sampleRate, 4, bypass.Layout()))
	b = monoBlock(1, 2)
	require.NoError(t, bypass.Process(b))
	assert.Equal(t, []float64{1, 2}, b.Outputs[0].Channel(0))
}

func TestMix(t *testing.T) {
	m := dsp.NewMix(2, 1)
	layout := m.Layout()
	assert.Equal(t, []int{1, 1}, layout.Inputs)
	require.NoError(t, m.Prepare(sampleRate, blockSize, layout))

	b := &node.Block{
		NumSamples: 2,
		Inputs:     []signal.View{signal.Gather([]float64{1, 1}), signal.Gather([]float64{2, 2})},
		Outputs:    []signal.View{signal.Gather(make([]float64, 2))},
	}
	m.SetParameter(1, 0.5)
	require.NoError(t, m.Process(b))
	assert.Equal(t, []float64{2, 2}, b.Outputs[0].Channel(0))

	// three buses keep gains of the first two
	require.NoError(t, m.Prepare(sampleRate, blockSize, node.Layout{Inputs: []int{1, 1, 1}, Outputs: []int{1}}))
	state, err := m.MarshalState()
	require.NoError(t, err)
	assert.JSONEq(t, `{"gains":[1,0.5,1],"channels":1}`, string(state))

	restored := dsp.NewMix(1, 1)
	require.NoError(t, restored.UnmarshalState(state))
	assert.Len(t, restored.Layout().Inputs, 3)
}

func TestMeter(t *testing.T) {
	m := dsp.NewMeter(1)
	require.NoError(t, m.Prepare(sampleRate, blockSize, m.Layout()))
	b := monoBlock(0.5, -0.8, 0.1)
	require.NoError(t, m.Process(b))
	assert.Equal(t, []float64{0.5, -0.8, 0.1}, b.Outputs[0].Channel(0))
	assert.Equal(t, 0.8, m.Peak())
	assert.Equal(t, 0.0, m.Peak())
	assert.InDelta(t, math.Sqrt((0.25+0.64+0.01)/3), m.RMS(), 1e-12)
	assert.Equal(t, 1, m.Blocks())

	require.NoError(t, m.Prepare(sampleRate, blockSize, node.Stereo()))
	b = &node.Block{
		NumSamples: 2,
		Inputs:     []signal.View{signal.Gather([]float64{0.1, -0.1}, []float64{1, -1})},
		Outputs:    []signal.View{signal.Gather(make([]float64, 2), make([]float64, 2))},
	}
	require.NoError(t, m.Process(b))
	assert.InDelta(t, 1.0, m.RMS(), 1e-12)
	m.Reset()
	assert.Zero(t, m.RMS())
}

func TestSpectrum(t *testing.T) {
	const size = 16
	s := dsp.NewSpectrum(size)
	require.NoError(t, s.Prepare(sampleRate, blockSize, s.Layout()))

	// cosine in the middle of bin 4
	frame := make([]float64, size)
	for i := range frame {
		frame[i] = math.Cos(2 * math.Pi * 4 * float64(i) / size)
	}
	require.NoError(t, s.Process(monoBlock(frame[:blockSize]...)))
	assert.Equal(t, uint64(0), s.Frames())
	require.NoError(t, s.Process(monoBlock(frame[blockSize:]...)))
	assert.Equal(t, uint64(1), s.Frames())

	mags := make([]float64, size)
	n := s.Magnitudes(mags)
	assert.Equal(t, size/2+1, n)
	peak := 0
	for i := range mags[:n] {
		if mags[i] > mags[peak] {
			peak = i
		}
	}
	assert.Equal(t, 4, peak)
	assert.InDelta(t, 0, mags[0], 1e-9)

	assert.Error(t, dsp.NewSpectrum(12).Prepare(sampleRate, blockSize, node.Mono()))
}

func TestTranspose(t *testing.T) {
	tr := dsp.NewTranspose(12)
	require.NoError(t, tr.Prepare(sampleRate, blockSize, tr.Layout()))
	assert.ErrorIs(t, tr.Prepare(sampleRate, blockSize, node.Mono()), node.ErrUnsupportedLayout)

	b := midiBlock(blockSize,
		midi.NoteOn(0, 0, 60, 100),
		midi.ControlChange(1, 0, 7, 64),
		midi.NoteOn(2, 0, 120, 100),
		midi.NoteOff(3, 0, 60, 0),
	)
	require.NoError(t, tr.Process(b))
	require.Equal(t, 3, b.MIDIOut.Len())
	assert.Equal(t, uint8(72), b.MIDIOut.At(0).Note())
	assert.Equal(t, midi.ControlChange(1, 0, 7, 64), b.MIDIOut.At(1))
	assert.Equal(t, uint8(72), b.MIDIOut.At(2).Note())
	assert.True(t, b.MIDIOut.At(2).IsNoteOff())

	tr.SetParameter(dsp.SemitonesParam, -2.4)
	assert.Equal(t, -2, tr.Semitones())
}

func TestSine(t *testing.T) {
	s := dsp.NewSine()
	require.NoError(t, s.Prepare(sampleRate, blockSize, s.Layout()))

	b := midiBlock(blockSize,
		midi.NoteOn(2, 0, 69, 127),
		midi.NoteOff(6, 0, 69, 0),
	)
	b.Outputs = []signal.View{signal.Gather(make([]float64, blockSize))}
	require.NoError(t, s.Process(b))
	out := b.Outputs[0].Channel(0)

	step := 2 * math.Pi * 440 / sampleRate
	assert.Equal(t, []float64{0, 0}, out[:2])
	for i := 2; i < 6; i++ {
		assert.InDelta(t, math.Sin(float64(i-2)*step), out[i], 1e-12)
	}
	assert.Equal(t, []float64{0, 0}, out[6:])

	s.SetParameter(dsp.LevelParam, 0.5)
	state, err := s.MarshalState()
	require.NoError(t, err)
	assert.JSONEq(t, `{"level":0.5}`, string(state))
}

func TestFactories(t *testing.T) {
	for kind, factory := range dsp.Factories() {
		t.Run(kind, func(t *testing.T) {
			p := factory()
			persistent, ok := p.(node.Persistent)
			require.True(t, ok)
			assert.Equal(t, kind, persistent.Kind())

			state, err := persistent.MarshalState()
			require.NoError(t, err)
			restored := factory().(node.Persistent)
			require.NoError(t, restored.UnmarshalState(state))
			require.NoError(t, p.Prepare(sampleRate, blockSize, p.Layout()))
		})
	}
}
