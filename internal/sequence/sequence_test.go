package sequence_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipelined.dev/audiograph/internal/sequence"
	"pipelined.dev/audiograph/internal/topology"
	"pipelined.dev/audiograph/node"
)

var cfg = sequence.Config{
	MaxBlockSize: 8,
	MaxLatency:   64,
	MIDICapacity: 16,
	MaxNodes:     16,
}

const (
	in  = topology.AudioInputID
	out = topology.AudioOutputID
)

type graph struct {
	*topology.Topology
	t *testing.T
}

func newGraph(t *testing.T) graph {
	return graph{Topology: topology.New(1, 1), t: t}
}

func (g graph) add(id node.ID, layout node.Layout, latency int) {
	g.t.Helper()
	require.NoError(g.t, g.AddNode(topology.Node{
		ID:      id,
		Slot:    int32(id - topology.FirstID),
		Layout:  layout,
		Latency: latency,
	}))
}

func (g graph) connect(src node.ID, dst node.ID, dstBus int, feedback bool) {
	g.t.Helper()
	require.NoError(g.t, g.AddConnection(topology.Connection{
		Source:      topology.Endpoint{Node: src},
		Destination: topology.Endpoint{Node: dst, Bus: dstBus},
		Feedback:    feedback,
	}))
}

var merge = node.Layout{Inputs: []int{1, 1}, Outputs: []int{1}}

func indexes(order []node.ID) map[node.ID]int {
	m := make(map[node.ID]int, len(order))
	for i, id := range order {
		m[id] = i
	}
	return m
}

func TestOrder(t *testing.T) {
	g := newGraph(t)
	a, b, c, d := topology.FirstID, topology.FirstID+1, topology.FirstID+2, topology.FirstID+3
	g.add(d, node.Mono(), 0)
	g.add(c, merge, 0)
	g.add(b, node.Mono(), 0)
	g.add(a, node.Mono(), 0)
	g.connect(in, d, 0, false)
	g.connect(d, b, 0, false)
	g.connect(d, a, 0, false)
	g.connect(a, c, 0, false)
	g.connect(b, c, 1, false)
	g.connect(c, out, 0, false)

	s, err := sequence.Build(g.Topology, cfg)
	require.NoError(t, err)
	assert.Equal(t, []node.ID{in, topology.MIDIInputID, topology.MIDIOutputID, d, a, b, c, out}, s.Order)

	pos := indexes(s.Order)
	for _, c := range g.Connections() {
		assert.Less(t, pos[c.Source.Node], pos[c.Destination.Node], "%v", c)
	}

	again, err := sequence.Build(g.Topology, cfg)
	require.NoError(t, err)
	if diff := cmp.Diff(s.Order, again.Order); diff != "" {
		t.Errorf("order mismatch (-first +second):\n%s", diff)
	}
	for i := range s.Ops {
		assert.Equal(t, s.Ops[i].Kind, again.Ops[i].Kind)
		assert.Equal(t, s.Ops[i].Reads, again.Ops[i].Reads)
		assert.Equal(t, s.Ops[i].Writes, again.Ops[i].Writes)
	}
}

func TestSlots(t *testing.T) {
	g := newGraph(t)
	prev := in
	for i := 0; i < 10; i++ {
		id := topology.FirstID + node.ID(i)
		g.add(id, node.Mono(), 0)
		g.connect(prev, id, 0, false)
		prev = id
	}
	g.connect(prev, out, 0, false)

	s, err := sequence.Build(g.Topology, cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, s.NumSlots)
	for _, op := range s.Ops {
		for _, r := range op.Reads {
			if r != sequence.Silence {
				assert.NotContains(t, op.Writes, r, "%v of %v", op.Kind, op.Node)
			}
		}
	}
}

func TestLatencyCompensation(t *testing.T) {
	g := newGraph(t)
	a, fast, slow, m := topology.FirstID, topology.FirstID+1, topology.FirstID+2, topology.FirstID+3
	g.add(a, node.Mono(), 0)
	g.add(fast, node.Mono(), 0)
	g.add(slow, node.Mono(), 5)
	g.add(m, merge, 0)
	g.connect(in, a, 0, false)
	g.connect(a, fast, 0, false)
	g.connect(a, slow, 0, false)
	g.connect(fast, m, 0, false)
	g.connect(slow, m, 1, false)
	g.connect(m, out, 0, false)

	s, err := sequence.Build(g.Topology, cfg)
	require.NoError(t, err)
	assert.Equal(t, 5, s.Latency)
	assert.Equal(t, map[topology.Connection]int{
		{Source: topology.Endpoint{Node: fast}, Destination: topology.Endpoint{Node: m}}: 5,
	}, s.Compensations)

	delays := 0
	for _, op := range s.Ops {
		if op.Kind == sequence.OpDelay {
			delays++
			assert.Equal(t, m, op.Node)
			assert.Equal(t, 5, op.Line.Delay())
		}
	}
	assert.Equal(t, 1, delays)

	// bypassed nodes have no latency
	require.NoError(t, g.SetBypassed(slow, true))
	s, err = sequence.Build(g.Topology, cfg)
	require.NoError(t, err)
	assert.Zero(t, s.Latency)
	assert.Empty(t, s.Compensations)
}

func TestLatencyExceeded(t *testing.T) {
	g := newGraph(t)
	a := topology.FirstID
	g.add(a, node.Mono(), cfg.MaxLatency+1)
	g.connect(in, a, 0, false)
	g.connect(a, out, 0, false)

	_, err := sequence.Build(g.Topology, cfg)
	assert.ErrorIs(t, err, sequence.ErrLatencyExceeded)
	assert.ErrorIs(t, err, sequence.ErrCompilationFailed)
}

func TestFeedback(t *testing.T) {
	g := newGraph(t)
	a, b := topology.FirstID, topology.FirstID+1
	g.add(a, merge, 0)
	g.add(b, node.Mono(), 0)
	g.connect(in, a, 0, false)
	g.connect(a, b, 0, false)
	g.connect(b, a, 1, true)
	g.connect(b, out, 0, false)

	s, err := sequence.Build(g.Topology, cfg)
	require.NoError(t, err)
	require.Len(t, s.Feedback, 1)
	assert.Equal(t, b, s.Feedback[0].Source.Node)

	var kinds []sequence.OpKind
	for _, op := range s.Ops {
		if op.Node == a || op.Node == b {
			kinds = append(kinds, op.Kind)
		}
	}
	assert.Equal(t, []sequence.OpKind{
		sequence.OpFeedbackRead,
		sequence.OpProcess,
		sequence.OpProcess,
		sequence.OpFeedbackWrite,
	}, kinds)
}

func TestImplicitFeedback(t *testing.T) {
	g := newGraph(t)
	a, b, c := topology.FirstID, topology.FirstID+1, topology.FirstID+2
	g.add(a, merge, 0)
	g.add(b, node.Mono(), 3)
	g.add(c, node.Mono(), 0)
	g.connect(in, a, 0, false)
	g.connect(a, b, 0, false)
	g.connect(b, c, 0, false)
	g.connect(c, a, 1, false)
	g.connect(c, out, 0, false)

	s, err := sequence.Build(g.Topology, cfg)
	require.NoError(t, err)
	require.Len(t, s.Feedback, 1)
	assert.Equal(t, topology.Connection{
		Source:      topology.Endpoint{Node: a},
		Destination: topology.Endpoint{Node: b},
	}, s.Feedback[0])
	pos := indexes(s.Order)
	assert.Less(t, pos[b], pos[c])
	assert.Less(t, pos[c], pos[a])

	// once latency is gone the cycle cannot be broken
	require.NoError(t, g.SetLatency(b, 0))
	_, err = sequence.Build(g.Topology, cfg)
	assert.ErrorIs(t, err, topology.ErrCyclicGraph)
	assert.ErrorIs(t, err, sequence.ErrCompilationFailed)
	var compileErr *sequence.CompileError
	assert.ErrorAs(t, err, &compileErr)
}

func TestDetached(t *testing.T) {
	g := newGraph(t)
	a := topology.FirstID
	g.add(a, node.Mono(), 7)
	g.connect(in, a, 0, false)
	g.connect(a, out, 0, false)
	require.NoError(t, g.SetDetached(a, true))

	s, err := sequence.Build(g.Topology, cfg)
	require.NoError(t, err)
	assert.NotContains(t, s.Order, a)
	assert.Zero(t, s.Latency)
	assert.False(t, s.Contains(0, a))
}

func TestLine(t *testing.T) {
	l := sequence.NewLine(3, 4)
	dst := make([]float64, 4)
	l.Process(dst, []float64{1, 2, 3, 4})
	assert.Equal(t, []float64{0, 0, 0, 1}, dst)
	l.Process(dst[:2], []float64{5, 6})
	assert.Equal(t, []float64{2, 3}, dst[:2])

	// read before write keeps the same delay
	fb := sequence.NewLine(4, 4)
	fb.Read(dst)
	fb.Write([]float64{1, 2, 3, 4})
	assert.Equal(t, []float64{0, 0, 0, 0}, dst)
	fb.Read(dst)
	fb.Write([]float64{5, 6, 7, 8})
	assert.Equal(t, []float64{1, 2, 3, 4}, dst)

	fb.Reset()
	fb.Read(dst)
	assert.Equal(t, []float64{0, 0, 0, 0}, dst)
}
