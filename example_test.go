package audiograph_test

import (
	"fmt"

	"pipelined.dev/audiograph"
	"pipelined.dev/audiograph/dsp"
)

// Gain of two nodes is applied to hardware input.
func Example() {
	g, err := audiograph.New(audiograph.Config{NumInputs: 1, NumOutputs: 1, MaxBlockSize: 4})
	if err != nil {
		panic(err)
	}
	defer g.Close()

	err = g.Edit(func(tx *audiograph.Tx) error {
		a, err := tx.AddNode(dsp.NewGain(0.5))
		if err != nil {
			return err
		}
		b, err := tx.AddNode(dsp.NewGain(2))
		if err != nil {
			return err
		}
		if err := tx.Connect(audiograph.Channel(audiograph.AudioInput, 0, 0), audiograph.Channel(a, 0, 0)); err != nil {
			return err
		}
		if err := tx.Connect(audiograph.Channel(a, 0, 0), audiograph.Channel(b, 0, 0)); err != nil {
			return err
		}
		return tx.Connect(audiograph.Channel(b, 0, 0), audiograph.Channel(audiograph.AudioOutput, 0, 0))
	})
	if err != nil {
		panic(err)
	}

	p := &audiograph.Period{
		Input:      [][]float64{{1, 1, 1, 1}},
		Output:     [][]float64{make([]float64, 4)},
		NumSamples: 4,
	}
	g.RenderNextBlock(p)
	fmt.Println(p.Output[0])
	// Output: [1 1 1 1]
}

// Latency of a delay node is compensated on parallel paths.
func ExampleGraph_LatencySamples() {
	g, err := audiograph.New(audiograph.Config{NumInputs: 1, NumOutputs: 2, MaxBlockSize: 4})
	if err != nil {
		panic(err)
	}
	defer g.Close()

	d, err := g.AddNode(dsp.NewDelay(2))
	if err != nil {
		panic(err)
	}
	in := audiograph.Channel(audiograph.AudioInput, 0, 0)
	for _, err := range []error{
		g.Connect(in, audiograph.Channel(d, 0, 0)),
		g.Connect(audiograph.Channel(d, 0, 0), audiograph.Channel(audiograph.AudioOutput, 0, 0)),
		g.Connect(in, audiograph.Channel(audiograph.AudioOutput, 0, 1)),
	} {
		if err != nil {
			panic(err)
		}
	}
	fmt.Println(g.LatencySamples())

	p := &audiograph.Period{
		Input:      [][]float64{{1, 0, 0, 0}},
		Output:     [][]float64{make([]float64, 4), make([]float64, 4)},
		NumSamples: 4,
	}
	g.RenderNextBlock(p)
	fmt.Println(p.Output[0], p.Output[1])
	// Output:
	// 2
	// [0 0 1 0] [0 0 1 0]
}
