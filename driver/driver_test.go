package driver_test

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"pipelined.dev/audiograph"
	"pipelined.dev/audiograph/driver"
	"pipelined.dev/audiograph/dsp"
	"pipelined.dev/audiograph/log"
	"pipelined.dev/audiograph/midi"
	"pipelined.dev/audiograph/mock"
	"pipelined.dev/audiograph/node"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const blockSize = 2

// source returns mono samples in blocks.
type source struct {
	samples []float64
}

func (s *source) NumChannels() int { return 1 }

func (s *source) Read(dst [][]float64) (int, error) {
	if len(s.samples) == 0 {
		return 0, io.EOF
	}
	n := copy(dst[0], s.samples)
	s.samples = s.samples[n:]
	return n, nil
}

// sink collects the first channel.
type sink struct {
	samples []float64
	blocks  []int
}

func (s *sink) Write(src [][]float64, n int) error {
	s.samples = append(s.samples, src[0][:n]...)
	s.blocks = append(s.blocks, n)
	return nil
}

func newGraph(t *testing.T, inputs, outputs int, connect func(tx *audiograph.Tx) error) *audiograph.Graph {
	t.Helper()
	g, err := audiograph.New(audiograph.Config{NumInputs: inputs, NumOutputs: outputs, MaxBlockSize: blockSize}, audiograph.WithLogger(log.Discard()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })
	require.NoError(t, g.Edit(connect))
	return g
}

func through(p node.Processor) func(tx *audiograph.Tx) error {
	return func(tx *audiograph.Tx) error {
		id, err := tx.AddNode(p)
		if err != nil {
			return err
		}
		if err := tx.Connect(audiograph.Channel(audiograph.AudioInput, 0, 0), audiograph.Channel(id, 0, 0)); err != nil {
			return err
		}
		return tx.Connect(audiograph.Channel(id, 0, 0), audiograph.Channel(audiograph.AudioOutput, 0, 0))
	}
}

func TestOfflineTail(t *testing.T) {
	g := newGraph(t, 1, 1, through(dsp.NewDelay(2)))
	out := &sink{}
	o := &driver.Offline{
		Graph:      g,
		Source:     &source{samples: []float64{1, 2, 3, 4, 5}},
		Sink:       out,
		NumInputs:  1,
		NumOutputs: 1,
		BlockSize:  blockSize,
	}
	n, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.Equal(t, int64(7), o.SampleTime())
	assert.Equal(t, []float64{0, 0, 1, 2, 3, 4, 5}, out.samples)
	assert.Equal(t, []int{2, 2, 1, 2}, out.blocks)
}

func TestOfflineLength(t *testing.T) {
	g := newGraph(t, 0, 1, func(tx *audiograph.Tx) error {
		id, err := tx.AddNode(&mock.Processor{Value: 1, Bus: node.Layout{Outputs: []int{1}}})
		if err != nil {
			return err
		}
		return tx.Connect(audiograph.Channel(id, 0, 0), audiograph.Channel(audiograph.AudioOutput, 0, 0))
	})
	out := &sink{}
	n, err := (&driver.Offline{Graph: g, Sink: out, NumOutputs: 1, BlockSize: blockSize, Length: 5}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.Equal(t, []float64{1, 1, 1, 1, 1}, out.samples)
	assert.Equal(t, []int{2, 2, 1}, out.blocks)
}

func TestOfflineMIDI(t *testing.T) {
	g := newGraph(t, 0, 0, func(tx *audiograph.Tx) error {
		id, err := tx.AddNode(dsp.NewTranspose(12))
		if err != nil {
			return err
		}
		if err := tx.ConnectMIDI(audiograph.MIDIInput, id); err != nil {
			return err
		}
		return tx.ConnectMIDI(id, audiograph.MIDIOutput)
	})
	var events []midi.Event
	o := &driver.Offline{
		Graph:     g,
		BlockSize: blockSize,
		Length:    6,
		MIDI:      []midi.Event{midi.NoteOn(1, 0, 60, 100), midi.NoteOff(5, 0, 60, 0)},
		OnMIDI:    func(e []midi.Event) { events = append(events, e...) },
	}
	_, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []midi.Event{midi.NoteOn(1, 0, 72, 100), midi.NoteOff(5, 0, 72, 0)}, events)
}

func TestOfflineErrors(t *testing.T) {
	g := newGraph(t, 1, 1, through(dsp.NewGain(1)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n, err := (&driver.Offline{Graph: g, NumInputs: 1, NumOutputs: 1, BlockSize: blockSize, Length: 10}).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, n)

	o := &driver.Offline{Graph: g, Source: &source{}, NumInputs: 2, BlockSize: blockSize}
	assert.ErrorIs(t, driver.Wait(driver.Run(context.Background(), o)), driver.ErrChannelMismatch)

	_, err = (&driver.Offline{Graph: g}).Run(context.Background())
	assert.Error(t, err)

	o = &driver.Offline{Graph: g, NumInputs: 1, NumOutputs: 1, BlockSize: blockSize, Length: 4}
	assert.NoError(t, driver.Wait(driver.Run(context.Background(), o)))
	assert.Equal(t, int64(4), o.SampleTime())
}

func TestCallback(t *testing.T) {
	g := newGraph(t, 2, 2, func(tx *audiograph.Tx) error {
		if err := tx.Connect(audiograph.Channel(audiograph.AudioInput, 0, 0), audiograph.Channel(audiograph.AudioOutput, 0, 1)); err != nil {
			return err
		}
		return tx.Connect(audiograph.Channel(audiograph.AudioInput, 0, 1), audiograph.Channel(audiograph.AudioOutput, 0, 0))
	})
	c := driver.NewCallback(g, 2, 2, blockSize)
	out := make([]float32, 4)
	c.Process([]float32{1, 2, 3, 4}, out)
	assert.Equal(t, []float32{2, 1, 4, 3}, out)
	assert.Equal(t, int64(2), c.SampleTime())

	// frames beyond block size are left untouched.
	out = make([]float32, 6)
	c.Process([]float32{1, 2, 3, 4, 5, 6}, out)
	assert.Equal(t, []float32{2, 1, 4, 3, 0, 0}, out)
	assert.Equal(t, int64(4), c.SampleTime())
}
