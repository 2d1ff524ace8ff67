//go:build portaudio

package portaudio_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipelined.dev/audiograph"
	"pipelined.dev/audiograph/driver/portaudio"
	"pipelined.dev/audiograph/dsp"
	"pipelined.dev/audiograph/log"
)

func TestDevice(t *testing.T) {
	g, err := audiograph.New(audiograph.Config{NumOutputs: 2, MaxBlockSize: 512}, audiograph.WithLogger(log.Discard()))
	require.NoError(t, err)
	defer g.Close()
	require.NoError(t, g.Edit(func(tx *audiograph.Tx) error {
		id, err := tx.AddNode(dsp.NewSine())
		if err != nil {
			return err
		}
		return tx.Connect(audiograph.Channel(id, 0, 0), audiograph.Channel(audiograph.AudioOutput, 0, 0))
	}))

	d, err := portaudio.Open(g, portaudio.Config{SampleRate: 44100, BlockSize: 512, NumOutputs: 2}, log.Discard())
	require.NoError(t, err)
	require.NoError(t, d.Start())
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, d.Stop())
	assert.Positive(t, d.SampleTime())
	require.NoError(t, d.Close())
}
