package hclgraph_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"pipelined.dev/audiograph"
	"pipelined.dev/audiograph/dsp"
	"pipelined.dev/audiograph/hclgraph"
	"pipelined.dev/audiograph/log"
	"pipelined.dev/audiograph/node"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newGraph(t *testing.T, cfg audiograph.Config) *audiograph.Graph {
	t.Helper()
	g, err := audiograph.New(cfg, audiograph.WithLogger(log.Discard()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })
	return g
}

func ch(id node.ID, c int) audiograph.Endpoint {
	return audiograph.Channel(id, 0, c)
}

func render(g *audiograph.Graph, input []float64) []float64 {
	p := &audiograph.Period{
		Input:      [][]float64{input},
		Output:     [][]float64{make([]float64, len(input))},
		NumSamples: len(input),
	}
	g.RenderNextBlock(p)
	return p.Output[0]
}

func TestRoundTrip(t *testing.T) {
	cfg := audiograph.Config{NumInputs: 1, NumOutputs: 1, MaxBlockSize: 4, SampleRate: 48000}
	g := newGraph(t, cfg)
	require.NoError(t, g.Edit(func(tx *audiograph.Tx) error {
		gain, err := tx.AddNode(dsp.NewGain(0.5))
		if err != nil {
			return err
		}
		bypassed, err := tx.AddNode(dsp.NewGain(10))
		if err != nil {
			return err
		}
		delay, err := tx.AddNode(dsp.NewDelay(1))
		if err != nil {
			return err
		}
		transpose, err := tx.AddNode(dsp.NewTranspose(12))
		if err != nil {
			return err
		}
		for _, c := range [][2]audiograph.Endpoint{
			{ch(audiograph.AudioInput, 0), ch(gain, 0)},
			{ch(gain, 0), ch(bypassed, 0)},
			{ch(bypassed, 0), ch(delay, 0)},
			{ch(delay, 0), ch(audiograph.AudioOutput, 0)},
		} {
			if err := tx.Connect(c[0], c[1]); err != nil {
				return err
			}
		}
		if err := tx.ConnectMIDI(audiograph.MIDIInput, transpose); err != nil {
			return err
		}
		if err := tx.ConnectMIDI(transpose, audiograph.MIDIOutput); err != nil {
			return err
		}
		return tx.SetBypassed(bypassed, true)
	}))

	doc, err := hclgraph.FromGraph(g)
	require.NoError(t, err)
	assert.Len(t, doc.Nodes, 4)
	assert.Len(t, doc.Connections, 6)

	src := hclgraph.Encode(doc)
	assert.Contains(t, string(src), "[audio_in, 0, 0]")
	assert.Contains(t, string(src), "[midi_in]")

	decoded, err := hclgraph.Decode(src, "graph.hcl")
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(doc, decoded))
	assert.Equal(t, cfg.SampleRate, decoded.Settings.Config().SampleRate)

	restored := newGraph(t, decoded.Settings.Config())
	require.NoError(t, hclgraph.Apply(restored, decoded, hclgraph.NewRegistry(dsp.Factories())))
	again, err := hclgraph.FromGraph(restored)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(doc, again))
	assert.Equal(t, g.Order(), restored.Order())

	input := []float64{1, 0, 0, 0}
	assert.Equal(t, []float64{0, 0.5, 0, 0}, render(g, input))
	assert.Equal(t, []float64{0, 0.5, 0, 0}, render(restored, input))
}

func TestDecode(t *testing.T) {
	src := `
graph {
  inputs  = 2
  outputs = 2
}

node "gain" {
  id    = 5
  state = "eyJnYWluIjoyfQ=="
}

connection {
  from = [audio_in, 0, 1]
  to   = [5, 0, 0]
}

connection {
  from     = [5, 0, 0]
  to       = [audio_out, 0, 1]
  feedback = true
}
`
	doc, err := hclgraph.Decode([]byte(src), "graph.hcl")
	require.NoError(t, err)
	assert.Equal(t, 2, doc.Settings.Inputs)
	assert.Equal(t, []hclgraph.Node{{Kind: "gain", ID: 5, State: []byte(`{"gain":2}`)}}, doc.Nodes)
	assert.Equal(t, []audiograph.Connection{
		{Source: audiograph.Channel(audiograph.AudioInput, 0, 1), Destination: ch(5, 0)},
		{Source: ch(5, 0), Destination: audiograph.Channel(audiograph.AudioOutput, 0, 1), Feedback: true},
	}, doc.Connections)

	g := newGraph(t, doc.Settings.Config())
	require.NoError(t, hclgraph.Apply(g, doc, hclgraph.NewRegistry(dsp.Factories())))
	p, ok := g.Processor(5)
	require.True(t, ok)
	assert.Equal(t, 2.0, p.(*dsp.Gain).Gain())
}

func TestLayoutRoundTrip(t *testing.T) {
	cfg := audiograph.Config{NumInputs: 2, NumOutputs: 2, MaxBlockSize: 4}
	g := newGraph(t, cfg)
	id, err := g.AddNode(dsp.NewGain(0.5))
	require.NoError(t, err)
	require.NoError(t, g.SetLayout(context.Background(), id, node.Stereo()))
	require.NoError(t, g.Edit(func(tx *audiograph.Tx) error {
		return errors.Join(
			tx.Connect(ch(audiograph.AudioInput, 0), ch(id, 0)),
			tx.Connect(ch(audiograph.AudioInput, 1), ch(id, 1)),
			tx.Connect(ch(id, 0), ch(audiograph.AudioOutput, 0)),
			tx.Connect(ch(id, 1), ch(audiograph.AudioOutput, 1)),
		)
	}))

	doc, err := hclgraph.FromGraph(g)
	require.NoError(t, err)
	src := hclgraph.Encode(doc)
	assert.Regexp(t, `inputs\s+= \[2\]`, string(src))
	decoded, err := hclgraph.Decode(src, "graph.hcl")
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(doc, decoded))

	restored := newGraph(t, decoded.Settings.Config())
	require.NoError(t, hclgraph.Apply(restored, decoded, hclgraph.NewRegistry(dsp.Factories())))
	n := restored.Nodes()[len(restored.Nodes())-1]
	assert.Equal(t, id, n.ID)
	assert.True(t, n.Layout.Equal(node.Stereo()))
	assert.Len(t, restored.Connections(), 4)

	p := &audiograph.Period{
		Input:      [][]float64{{1, 2}, {3, 4}},
		Output:     [][]float64{make([]float64, 2), make([]float64, 2)},
		NumSamples: 2,
	}
	restored.RenderNextBlock(p)
	assert.Equal(t, [][]float64{{0.5, 1}, {1.5, 2}}, p.Output)
}

func TestDecodeLayout(t *testing.T) {
	src := `
node "transpose" {
  id       = 5
  inputs   = []
  outputs  = []
  midi_in  = true
  midi_out = true
}

node "gain" {
  id      = 6
  outputs = [2]
}
`
	doc, err := hclgraph.Decode([]byte(src), "graph.hcl")
	require.NoError(t, err)
	assert.Equal(t, []hclgraph.Node{
		{Kind: "transpose", ID: 5, Layout: &node.Layout{MIDIIn: true, MIDIOut: true}},
		{Kind: "gain", ID: 6, Layout: &node.Layout{Outputs: []int{2}}},
	}, doc.Nodes)

	// gain needs an input bus as wide as the output one
	g := newGraph(t, audiograph.Config{})
	err = hclgraph.Apply(g, doc, hclgraph.NewRegistry(dsp.Factories()))
	assert.ErrorIs(t, err, node.ErrUnsupportedLayout)
	assert.Equal(t, uint64(0), g.Generation())
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"syntax", `node "gain" {`},
		{"missing id", `node "gain" {}`},
		{"reserved id", `node "gain" { id = 2 }`},
		{"state", `node "gain" {
  id    = 5
  state = "not base64!"
}`},
		{"unknown variable", `connection {
  from = [hardware, 0, 0]
  to   = [5, 0, 0]
}`},
		{"short endpoint", `connection {
  from = [audio_in, 0]
  to   = [5, 0, 0]
}`},
		{"audio endpoint as midi", `connection {
  from = [audio_in]
  to   = [5]
}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := hclgraph.Decode([]byte(tt.src), "graph.hcl")
			assert.ErrorIs(t, err, hclgraph.ErrInvalidDocument)
		})
	}
}

func TestApplyFailure(t *testing.T) {
	g := newGraph(t, audiograph.Config{NumInputs: 1, NumOutputs: 1})
	registry := hclgraph.NewRegistry(dsp.Factories())
	doc := &hclgraph.Document{
		Nodes: []hclgraph.Node{
			{Kind: dsp.GainKind, ID: 6},
			{Kind: "reverb", ID: 7},
		},
	}
	err := hclgraph.Apply(g, doc, registry)
	assert.ErrorIs(t, err, hclgraph.ErrUnknownKind)
	assert.Equal(t, uint64(0), g.Generation())
	assert.Len(t, g.Nodes(), 4)

	registry.Register("reverb", func() node.Processor { return dsp.NewGain(1) })
	assert.Contains(t, registry.Kinds(), "reverb")
	require.NoError(t, hclgraph.Apply(g, doc, registry))
	assert.Len(t, g.Nodes(), 6)

	err = hclgraph.Apply(g, doc, registry)
	assert.ErrorIs(t, err, audiograph.ErrDuplicateNode)
}

func TestNotPersistent(t *testing.T) {
	g := newGraph(t, audiograph.Config{})
	_, err := g.AddNode(noState{})
	require.NoError(t, err)
	_, err = hclgraph.FromGraph(g)
	assert.ErrorIs(t, err, hclgraph.ErrNotPersistent)
}

// noState is a processor without persistent state.
type noState struct{}

func (noState) Layout() node.Layout                     { return node.Mono() }
func (noState) Prepare(float64, int, node.Layout) error { return nil }
func (noState) Process(*node.Block) error               { return nil }
func (noState) Reset()                                  {}
