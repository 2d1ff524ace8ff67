// Package topology holds the control-thread view of the graph: nodes,
// connections and the rules they must obey. Topology is not safe for
// concurrent use and is never touched by the render thread.
package topology

import (
	"errors"
	"fmt"
	"sort"

	"pipelined.dev/audiograph/node"
)

var (
	// ErrInvalidConnection is returned for malformed edges: missing
	// endpoint, bus or channel out of range, occupied destination channel.
	ErrInvalidConnection = errors.New("invalid connection")
	// ErrCyclicGraph is returned when an edge would close a cycle that
	// has no latency and no feedback edge.
	ErrCyclicGraph = errors.New("cyclic graph")
	// ErrNodeNotFound is returned when node with provided id is absent.
	ErrNodeNotFound = errors.New("node not found")
	// ErrDuplicateNode is returned when node id is already taken.
	ErrDuplicateNode = errors.New("duplicate node")
	// ErrFixedNode is returned when io node is removed or changed.
	ErrFixedNode = errors.New("io node cannot be changed")
)

// Kind of the node.
type Kind int

// Node kinds. Every topology contains exactly one node of each io kind.
const (
	Processor Kind = iota
	AudioInput
	AudioOutput
	MIDIInput
	MIDIOutput
)

// Fixed ids of io nodes. Processor ids start from FirstID.
const (
	AudioInputID node.ID = iota + 1
	AudioOutputID
	MIDIInputID
	MIDIOutputID
	FirstID
)

func (k Kind) String() string {
	switch k {
	case Processor:
		return "processor"
	case AudioInput:
		return "audio-in"
	case AudioOutput:
		return "audio-out"
	case MIDIInput:
		return "midi-in"
	case MIDIOutput:
		return "midi-out"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

type (
	// Node is a vertex of the topology.
	Node struct {
		ID   node.ID
		Kind Kind
		// Slot is the arena slot of processor, -1 for io nodes.
		Slot     int32
		Layout   node.Layout
		Latency  int
		Bypassed bool
		// Detached nodes are skipped by compiled sequences. Their outputs
		// are silent. Used while node is re-prepared.
		Detached bool
	}

	// Endpoint addresses a channel of the node bus.
	Endpoint struct {
		Node    node.ID
		Bus     int
		Channel int
	}

	// Connection is a directed edge. MIDI connections ignore bus and
	// channel. Feedback connections deliver the previous block.
	Connection struct {
		Source      Endpoint
		Destination Endpoint
		MIDI        bool
		Feedback    bool
	}

	// Topology is a snapshot of nodes and connections.
	Topology struct {
		nodes       map[node.ID]*Node
		connections []Connection
		generation  uint64
	}
)

// New returns topology with io nodes for provided number of hardware
// channels.
func New(numInputs, numOutputs int) *Topology {
	t := &Topology{
		nodes: make(map[node.ID]*Node),
	}
	io := []Node{
		{ID: AudioInputID, Kind: AudioInput, Layout: node.Layout{Outputs: bus(numInputs)}},
		{ID: AudioOutputID, Kind: AudioOutput, Layout: node.Layout{Inputs: bus(numOutputs)}},
		{ID: MIDIInputID, Kind: MIDIInput, Layout: node.Layout{MIDIOut: true}},
		{ID: MIDIOutputID, Kind: MIDIOutput, Layout: node.Layout{MIDIIn: true}},
	}
	for i := range io {
		n := io[i]
		n.Slot = -1
		t.nodes[n.ID] = &n
	}
	return t
}

func bus(channels int) []int {
	if channels <= 0 {
		return nil
	}
	return []int{channels}
}

// IsIO returns true for fixed io nodes.
func IsIO(id node.ID) bool {
	return id >= AudioInputID && id < FirstID
}

// Generation returns generation of the topology.
func (t *Topology) Generation() uint64 {
	return t.generation
}

// Bump increments generation and returns the new value. It is called once
// per committed edit.
func (t *Topology) Bump() uint64 {
	t.generation++
	return t.generation
}

// Clone returns a deep copy of the topology.
func (t *Topology) Clone() *Topology {
	c := &Topology{
		nodes:       make(map[node.ID]*Node, len(t.nodes)),
		connections: make([]Connection, len(t.connections)),
		generation:  t.generation,
	}
	for id, n := range t.nodes {
		cn := *n
		cn.Layout = n.Layout.Clone()
		c.nodes[id] = &cn
	}
	copy(c.connections, t.connections)
	return c
}

// Node returns a copy of the node.
func (t *Topology) Node(id node.ID) (Node, bool) {
	n, ok := t.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// Nodes returns copies of all nodes sorted by id.
func (t *Topology) Nodes() []Node {
	nodes := make([]Node, 0, len(t.nodes))
	for _, n := range t.nodes {
		nodes = append(nodes, *n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes
}

// Connections returns copy of connections in insertion order.
func (t *Topology) Connections() []Connection {
	return append([]Connection(nil), t.connections...)
}

// NumNodes returns number of nodes including io nodes.
func (t *Topology) NumNodes() int {
	return len(t.nodes)
}

// AddNode adds a processor node.
func (t *Topology) AddNode(n Node) error {
	if _, ok := t.nodes[n.ID]; ok || IsIO(n.ID) {
		return fmt.Errorf("%v: %w", n.ID, ErrDuplicateNode)
	}
	if err := n.Layout.Validate(); err != nil {
		return fmt.Errorf("%v: %w", n.ID, err)
	}
	n.Kind = Processor
	n.Layout = n.Layout.Clone()
	t.nodes[n.ID] = &n
	return nil
}

// RemoveNode removes processor node and all connections referencing it.
// Removed connections are returned.
func (t *Topology) RemoveNode(id node.ID) ([]Connection, error) {
	if IsIO(id) {
		return nil, fmt.Errorf("%v: %w", id, ErrFixedNode)
	}
	if _, ok := t.nodes[id]; !ok {
		return nil, fmt.Errorf("%v: %w", id, ErrNodeNotFound)
	}
	delete(t.nodes, id)
	return t.filter(func(c Connection) bool {
		return c.Source.Node != id && c.Destination.Node != id
	}), nil
}

// filter keeps connections for which keep returns true and returns the
// rest.
func (t *Topology) filter(keep func(Connection) bool) []Connection {
	var removed []Connection
	kept := t.connections[:0]
	for _, c := range t.connections {
		if keep(c) {
			kept = append(kept, c)
		} else {
			removed = append(removed, c)
		}
	}
	t.connections = kept
	return removed
}

// AddConnection validates and adds the connection.
func (t *Topology) AddConnection(c Connection) error {
	if c.MIDI {
		c.Source.Bus, c.Source.Channel = 0, 0
		c.Destination.Bus, c.Destination.Channel = 0, 0
	}
	if err := t.validate(c); err != nil {
		return fmt.Errorf("%v: %w", c, err)
	}
	if !c.Feedback && t.closesZeroLatencyCycle(c.Source.Node, c.Destination.Node) {
		return fmt.Errorf("%v: %w", c, ErrCyclicGraph)
	}
	t.connections = append(t.connections, c)
	return nil
}

func (t *Topology) validate(c Connection) error {
	src, ok := t.nodes[c.Source.Node]
	if !ok {
		return fmt.Errorf("%w: source %v: %w", ErrInvalidConnection, c.Source.Node, ErrNodeNotFound)
	}
	dst, ok := t.nodes[c.Destination.Node]
	if !ok {
		return fmt.Errorf("%w: destination %v: %w", ErrInvalidConnection, c.Destination.Node, ErrNodeNotFound)
	}
	if c.MIDI {
		if c.Feedback {
			return fmt.Errorf("%w: midi feedback is not supported", ErrInvalidConnection)
		}
		if !src.Layout.MIDIOut || !dst.Layout.MIDIIn {
			return fmt.Errorf("%w: midi is not supported by endpoints", ErrInvalidConnection)
		}
		for _, e := range t.connections {
			if e == c {
				return fmt.Errorf("%w: duplicate midi connection", ErrInvalidConnection)
			}
		}
		return nil
	}
	if !src.Layout.HasOutput(c.Source.Bus, c.Source.Channel) {
		return fmt.Errorf("%w: source bus %d channel %d out of range", ErrInvalidConnection, c.Source.Bus, c.Source.Channel)
	}
	if !dst.Layout.HasInput(c.Destination.Bus, c.Destination.Channel) {
		return fmt.Errorf("%w: destination bus %d channel %d out of range", ErrInvalidConnection, c.Destination.Bus, c.Destination.Channel)
	}
	for _, e := range t.connections {
		if !e.MIDI && e.Destination == c.Destination {
			return fmt.Errorf("%w: destination channel already connected to %v", ErrInvalidConnection, e.Source)
		}
	}
	return nil
}

// closesZeroLatencyCycle returns true if destination reaches source
// through zero-latency nodes and non-feedback edges.
func (t *Topology) closesZeroLatencyCycle(src, dst node.ID) bool {
	if t.nodes[src].EffectiveLatency() > 0 {
		return false
	}
	visited := make(map[node.ID]bool)
	var visit func(id node.ID) bool
	visit = func(id node.ID) bool {
		if id == src {
			return true
		}
		if visited[id] || t.nodes[id].EffectiveLatency() > 0 {
			return false
		}
		visited[id] = true
		for _, c := range t.connections {
			if !c.Feedback && c.Source.Node == id && visit(c.Destination.Node) {
				return true
			}
		}
		return false
	}
	return visit(dst)
}

// RemoveConnection removes the connection.
func (t *Topology) RemoveConnection(c Connection) error {
	if c.MIDI {
		c.Source.Bus, c.Source.Channel = 0, 0
		c.Destination.Bus, c.Destination.Channel = 0, 0
	}
	removed := t.filter(func(e Connection) bool { return e != c })
	if len(removed) == 0 {
		return fmt.Errorf("%v: %w: not connected", c, ErrInvalidConnection)
	}
	return nil
}

// SetLayout changes layout of processor node. Connections that are out of
// range for the new layout are removed and returned.
func (t *Topology) SetLayout(id node.ID, layout node.Layout) ([]Connection, error) {
	n, err := t.processor(id)
	if err != nil {
		return nil, err
	}
	if err := layout.Validate(); err != nil {
		return nil, fmt.Errorf("%v: %w", id, err)
	}
	n.Layout = layout.Clone()
	return t.filter(func(c Connection) bool {
		if c.MIDI {
			return (c.Source.Node != id || layout.MIDIOut) && (c.Destination.Node != id || layout.MIDIIn)
		}
		return (c.Source.Node != id || layout.HasOutput(c.Source.Bus, c.Source.Channel)) &&
			(c.Destination.Node != id || layout.HasInput(c.Destination.Bus, c.Destination.Channel))
	}), nil
}

// SetLatency sets reported latency of processor node.
func (t *Topology) SetLatency(id node.ID, latency int) error {
	n, err := t.processor(id)
	if err != nil {
		return err
	}
	if latency < 0 {
		latency = 0
	}
	n.Latency = latency
	return nil
}

// SetBypassed sets bypass flag of processor node.
func (t *Topology) SetBypassed(id node.ID, bypassed bool) error {
	n, err := t.processor(id)
	if err != nil {
		return err
	}
	n.Bypassed = bypassed
	return nil
}

// SetDetached sets detached flag of processor node.
func (t *Topology) SetDetached(id node.ID, detached bool) error {
	n, err := t.processor(id)
	if err != nil {
		return err
	}
	n.Detached = detached
	return nil
}

func (t *Topology) processor(id node.ID) (*Node, error) {
	if IsIO(id) {
		return nil, fmt.Errorf("%v: %w", id, ErrFixedNode)
	}
	n, ok := t.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%v: %w", id, ErrNodeNotFound)
	}
	return n, nil
}

// EffectiveLatency returns latency node contributes to signal path.
// Bypassed and detached nodes contribute nothing.
func (n *Node) EffectiveLatency() int {
	if n.Bypassed || n.Detached {
		return 0
	}
	return n.Latency
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%v[%d:%d]", e.Node, e.Bus, e.Channel)
}

func (c Connection) String() string {
	switch {
	case c.MIDI:
		return fmt.Sprintf("%v => %v (midi)", c.Source.Node, c.Destination.Node)
	case c.Feedback:
		return fmt.Sprintf("%v => %v (feedback)", c.Source, c.Destination)
	}
	return fmt.Sprintf("%v => %v", c.Source, c.Destination)
}
