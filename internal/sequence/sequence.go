// Package sequence compiles topology snapshots into immutable render
// sequences. A sequence is a flat list of ops that reference scratch
// slots, delay lines, MIDI buffers and arena slots only.
package sequence

import (
	"errors"
	"fmt"
	"slices"

	"pipelined.dev/audiograph/internal/topology"
	"pipelined.dev/audiograph/midi"
	"pipelined.dev/audiograph/node"
	"pipelined.dev/audiograph/signal"
)

var (
	// ErrCompilationFailed is wrapped by every compile error.
	ErrCompilationFailed = errors.New("compilation failed")
	// ErrLatencyExceeded is returned when a signal path is delayed more
	// than allowed maximum.
	ErrLatencyExceeded = errors.New("latency exceeded")
)

// CompileError is returned when topology cannot be compiled. Previous
// sequence stays live.
type CompileError struct {
	Generation uint64
	Err        error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("%v generation %d: %v", ErrCompilationFailed, e.Generation, e.Err)
}

// Unwrap allows to match both ErrCompilationFailed and the cause.
func (e *CompileError) Unwrap() []error {
	return []error{ErrCompilationFailed, e.Err}
}

// OpKind defines what op does.
type OpKind uint8

// Op kinds.
const (
	// OpClear zeroes Dst channels.
	OpClear OpKind = iota
	// OpInput copies hardware inputs Channels into Dst.
	OpInput
	// OpProcess calls processor of arena Slot with Block.
	OpProcess
	// OpBypass copies Src to Dst and forwards MIDI.
	OpBypass
	// OpDelay passes Src through compensation Line into Dst.
	OpDelay
	// OpFeedbackRead reads previous block from Line into Dst.
	OpFeedbackRead
	// OpFeedbackWrite writes Src into Line.
	OpFeedbackWrite
	// OpOutput copies Src into hardware outputs Channels.
	OpOutput
	// OpMIDIInput copies period MIDI input into Block.MIDIOut.
	OpMIDIInput
	// OpMIDIOutput merges MIDISources into period MIDI output.
	OpMIDIOutput
)

var opNames = [...]string{"clear", "input", "process", "bypass", "delay", "feedback-read", "feedback-write", "output", "midi-input", "midi-output"}

func (k OpKind) String() string {
	if int(k) < len(opNames) {
		return opNames[k]
	}
	return fmt.Sprintf("op(%d)", int(k))
}

// Silence is the slot index of shared silent channel.
const Silence = -1

type (
	// Config defines bounds of compiled sequences.
	Config struct {
		MaxBlockSize int
		MaxLatency   int
		MIDICapacity int
		MaxNodes     int
	}

	// Op is a single instruction of sequence.
	Op struct {
		Kind OpKind
		Node node.ID
		// Slot is the arena slot of processor.
		Slot int32
		// Reads and Writes are scratch slots, Silence for silent input.
		Reads  []int
		Writes []int
		// Src and Dst are full-capacity channels of Reads and Writes.
		Src [][]float64
		Dst [][]float64
		// Channels are hardware channels of io ops.
		Channels []int
		Line     *Line
		// In and Out are full-size bus views, Block views are resliced
		// from them for every render call.
		In          []signal.View
		Out         []signal.View
		Block       node.Block
		MIDISources []*midi.Buffer
	}

	// Sequence is an immutable compiled render plan.
	Sequence struct {
		Generation   uint64
		MaxBlockSize int
		// Order is the execution order of nodes.
		Order []node.ID
		// Latency is the total latency at audio output.
		Latency int
		// NumSlots is the size of scratch pool without silence.
		NumSlots int
		Ops      []Op
		// Feedback lists explicit and implicit feedback connections.
		Feedback []topology.Connection
		// Compensations maps connections to compensation delays.
		Compensations map[topology.Connection]int
		// Latencies maps nodes to latency of their inputs.
		Latencies map[node.ID]int

		nodes []node.ID
		pool  *signal.Buffer
		lines []*Line
	}
)

// Contains returns true if arena slot is processed by the sequence for
// provided node.
func (s *Sequence) Contains(slot int32, id node.ID) bool {
	return slot >= 0 && int(slot) < len(s.nodes) && s.nodes[slot] == id
}

// Reset clears delay lines.
func (s *Sequence) Reset() {
	for _, l := range s.lines {
		l.Reset()
	}
}

// Empty returns a sequence that renders silence. It is live until the
// first compiled sequence is published.
func Empty(cfg Config) *Sequence {
	return &Sequence{
		MaxBlockSize:  cfg.MaxBlockSize,
		Compensations: map[topology.Connection]int{},
		Latencies:     map[node.ID]int{},
		Ops: []Op{
			{Kind: OpOutput, Node: topology.AudioOutputID},
		},
	}
}

// builder holds intermediate state of compilation.
type builder struct {
	cfg    Config
	nodes  map[node.ID]*topology.Node
	edges  []*edge
	values []value
	plans  []plan
	lines  []*Line
}

// value is a channel produced within a block.
type value struct {
	last int
	slot int
}

// plan is an op before slot allocation.
type plan struct {
	Op
	reads  []int
	writes []int
}

// Build compiles topology into sequence. Detached nodes are skipped and
// their outputs are silent.
func Build(t *topology.Topology, cfg Config) (*Sequence, error) {
	s, err := build(t, cfg)
	if err != nil {
		return nil, &CompileError{Generation: t.Generation(), Err: err}
	}
	return s, nil
}

func build(t *topology.Topology, cfg Config) (*Sequence, error) {
	b := builder{
		cfg:   cfg,
		nodes: make(map[node.ID]*topology.Node),
	}
	var ids []node.ID
	for _, n := range t.Nodes() {
		if n.Detached {
			continue
		}
		b.nodes[n.ID] = &n
		ids = append(ids, n.ID)
	}
	for _, c := range t.Connections() {
		if b.nodes[c.Source.Node] == nil || b.nodes[c.Destination.Node] == nil {
			continue
		}
		b.edges = append(b.edges, &edge{Connection: c})
	}

	if err := breakCycles(b.nodes, ids, b.edges); err != nil {
		return nil, err
	}
	order, err := sortNodes(ids, b.edges)
	if err != nil {
		return nil, err
	}
	latencies, err := b.compensate(order)
	if err != nil {
		return nil, err
	}

	s := &Sequence{
		Generation:    t.Generation(),
		MaxBlockSize:  cfg.MaxBlockSize,
		Order:         order,
		Latency:       latencies[topology.AudioOutputID],
		Compensations: make(map[topology.Connection]int),
		Latencies:     latencies,
		nodes:         make([]node.ID, cfg.MaxNodes),
	}
	for _, e := range b.edges {
		if e.feedback() {
			s.Feedback = append(s.Feedback, e.Connection)
		} else if e.delay > 0 {
			s.Compensations[e.Connection] = e.delay
		}
	}
	b.emit(order)
	b.allocate(s)
	for _, p := range b.plans {
		if p.Kind != OpProcess && p.Kind != OpBypass {
			continue
		}
		if grow := int(p.Slot) + 1 - len(s.nodes); grow > 0 {
			s.nodes = append(s.nodes, make([]node.ID, grow)...)
		}
		s.nodes[p.Slot] = p.Node
	}
	return s, nil
}

// compensate computes input latency of every node and compensation delay
// of every forward audio edge.
func (b *builder) compensate(order []node.ID) (map[node.ID]int, error) {
	in := make(map[node.ID]int, len(order))
	out := make(map[node.ID]int, len(order))
	for _, id := range order {
		for _, e := range b.edges {
			if e.Destination.Node == id && !e.MIDI && !e.feedback() {
				in[id] = max(in[id], out[e.Source.Node])
			}
		}
		if in[id] > b.cfg.MaxLatency {
			return nil, fmt.Errorf("%v: %w: %d samples, maximum %d", id, ErrLatencyExceeded, in[id], b.cfg.MaxLatency)
		}
		out[id] = in[id] + b.nodes[id].EffectiveLatency()
	}
	for _, e := range b.edges {
		if !e.MIDI && !e.feedback() {
			e.delay = in[e.Destination.Node] - out[e.Source.Node]
		}
	}
	return in, nil
}

func (b *builder) newValue() int {
	b.values = append(b.values, value{last: len(b.plans), slot: Silence})
	return len(b.values) - 1
}

func (b *builder) add(p plan) {
	for _, v := range p.reads {
		if v != Silence {
			b.values[v].last = len(b.plans)
		}
	}
	b.plans = append(b.plans, p)
}

func (b *builder) newLine(delay int) *Line {
	l := NewLine(delay, b.cfg.MaxBlockSize)
	b.lines = append(b.lines, l)
	return l
}

// emit produces plans in order. Values are numbered as they are produced.
func (b *builder) emit(order []node.ID) {
	outputs := make(map[node.ID][]int, len(order))
	midiOut := make(map[node.ID]*midi.Buffer)
	feedbackLines := make(map[*edge]*Line)

	b.add(plan{Op: Op{Kind: OpClear}, writes: []int{Silence}})
	for _, id := range order {
		n := b.nodes[id]
		inputs := make([]int, n.Layout.NumInputChannels())
		for i := range inputs {
			inputs[i] = Silence
		}
		var sources []*midi.Buffer
		for _, e := range b.edges {
			if e.Destination.Node != id {
				continue
			}
			if e.MIDI {
				sources = append(sources, midiOut[e.Source.Node])
				continue
			}
			dst := flatIndex(n.Layout.Inputs, e.Destination.Bus, e.Destination.Channel)
			switch {
			case e.feedback():
				line := b.feedbackLine(feedbackLines, e)
				v := b.newValue()
				b.add(plan{Op: Op{Kind: OpFeedbackRead, Node: id, Line: line}, writes: []int{v}})
				inputs[dst] = v
			case e.delay > 0:
				src := b.sourceValue(outputs, e)
				v := b.newValue()
				b.add(plan{Op: Op{Kind: OpDelay, Node: id, Line: b.newLine(e.delay)}, reads: []int{src}, writes: []int{v}})
				inputs[dst] = v
			default:
				inputs[dst] = b.sourceValue(outputs, e)
			}
		}

		produced := make([]int, n.Layout.NumOutputChannels())
		for i := range produced {
			produced[i] = b.newValue()
		}
		outputs[id] = produced

		p := plan{Op: Op{Node: id, Slot: n.Slot, MIDISources: sources}, reads: inputs, writes: produced}
		if n.Layout.MIDIOut {
			midiOut[id] = midi.NewBuffer(b.cfg.MIDICapacity)
			p.Block.MIDIOut = midiOut[id]
		}
		if n.Layout.MIDIIn {
			p.Block.MIDIIn = midi.NewBuffer(b.cfg.MIDICapacity)
		}
		switch n.Kind {
		case topology.AudioInput:
			p.Kind = OpInput
			p.Channels = channels(len(produced))
		case topology.AudioOutput:
			p.Kind = OpOutput
			p.Channels = channels(len(inputs))
		case topology.MIDIInput:
			p.Kind = OpMIDIInput
		case topology.MIDIOutput:
			p.Kind = OpMIDIOutput
		default:
			p.Kind = OpProcess
			if n.Bypassed {
				p.Kind = OpBypass
			}
		}
		b.add(p)

		for _, e := range b.edges {
			if e.Source.Node != id || e.MIDI || !e.feedback() {
				continue
			}
			line := b.feedbackLine(feedbackLines, e)
			src := produced[flatIndex(n.Layout.Outputs, e.Source.Bus, e.Source.Channel)]
			b.add(plan{Op: Op{Kind: OpFeedbackWrite, Node: id, Line: line}, reads: []int{src}})
		}
	}
}

// feedbackLine returns line shared by read and write ops of the edge.
// Either of them can be emitted first.
func (b *builder) feedbackLine(lines map[*edge]*Line, e *edge) *Line {
	if l, ok := lines[e]; ok {
		return l
	}
	l := b.newLine(b.cfg.MaxBlockSize)
	lines[e] = l
	return l
}

func (b *builder) sourceValue(outputs map[node.ID][]int, e *edge) int {
	src := b.nodes[e.Source.Node]
	return outputs[e.Source.Node][flatIndex(src.Layout.Outputs, e.Source.Bus, e.Source.Channel)]
}

// allocate assigns scratch slots to values and resolves views. Outputs
// of an op are assigned before its inputs are released, so an op never
// reads and writes the same slot. Lowest free slot is taken first.
func (b *builder) allocate(s *Sequence) {
	var free []int
	numSlots := 0
	release := func(v int) {
		free = append(free, b.values[v].slot)
		slices.Sort(free)
	}
	for i := range b.plans {
		p := &b.plans[i]
		for _, v := range p.writes {
			if v == Silence {
				continue
			}
			if len(free) > 0 {
				b.values[v].slot = free[0]
				free = free[1:]
			} else {
				b.values[v].slot = numSlots
				numSlots++
			}
		}
		for j, v := range p.reads {
			// same value can feed several inputs of one op
			if v != Silence && b.values[v].last == i && indexOf(p.reads, v) == j {
				release(v)
			}
		}
		for _, v := range p.writes {
			if v != Silence && b.values[v].last == i {
				release(v)
			}
		}
	}

	s.NumSlots = numSlots
	s.pool = signal.Allocate(numSlots+1, b.cfg.MaxBlockSize)
	s.lines = b.lines
	silence := s.pool.Channel(numSlots)
	channel := func(v int) ([]float64, int) {
		if v == Silence {
			return silence, Silence
		}
		slot := b.values[v].slot
		return s.pool.Channel(slot), slot
	}

	s.Ops = make([]Op, len(b.plans))
	for i := range b.plans {
		p := &b.plans[i]
		op := p.Op
		op.Src, op.Reads = make([][]float64, len(p.reads)), make([]int, len(p.reads))
		for j, v := range p.reads {
			op.Src[j], op.Reads[j] = channel(v)
		}
		op.Dst, op.Writes = make([][]float64, len(p.writes)), make([]int, len(p.writes))
		for j, v := range p.writes {
			op.Dst[j], op.Writes[j] = channel(v)
		}
		if op.Kind == OpProcess || op.Kind == OpBypass {
			layout := b.nodes[op.Node].Layout
			op.In = views(layout.Inputs, op.Src)
			op.Out = views(layout.Outputs, op.Dst)
			op.Block.Inputs = make([]signal.View, len(op.In))
			op.Block.Outputs = make([]signal.View, len(op.Out))
		}
		s.Ops[i] = op
	}
}

func indexOf(values []int, v int) int {
	for i := range values {
		if values[i] == v {
			return i
		}
	}
	return -1
}

// views gathers channels into bus views.
func views(buses []int, chans [][]float64) []signal.View {
	result := make([]signal.View, len(buses))
	first := 0
	for i, n := range buses {
		result[i] = signal.Gather(chans[first : first+n]...)
		first += n
	}
	return result
}

func flatIndex(buses []int, bus, channel int) int {
	index := channel
	for i := 0; i < bus; i++ {
		index += buses[i]
	}
	return index
}

func channels(n int) []int {
	result := make([]int, n)
	for i := range result {
		result[i] = i
	}
	return result
}
