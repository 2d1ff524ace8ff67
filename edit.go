package audiograph

import (
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"

	"pipelined.dev/audiograph/internal/sequence"
	"pipelined.dev/audiograph/internal/topology"
	"pipelined.dev/audiograph/node"
)

// Tx is a batch of edits. All edits of the batch are published at once
// or none of them.
type Tx struct {
	g       *Graph
	top     *topology.Topology
	nextID  node.ID
	added   []int32
	removed []int32
}

// Edit applies fn to a copy of the topology. If fn returns an error or
// the result cannot be compiled, nothing is published and the error is
// returned. Otherwise the new sequence is published and nodes removed by
// the batch are released once the render thread moves past the old
// sequence.
func (g *Graph) Edit(fn func(*Tx) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrClosed
	}
	tx := &Tx{
		g:      g,
		top:    g.topology.Clone(),
		nextID: g.nextID,
	}
	if err := fn(tx); err != nil {
		tx.rollback()
		g.log.WithError(err).Debug("edit rolled back")
		return err
	}
	if err := g.commit(tx.top, tx.removed); err != nil {
		tx.rollback()
		return err
	}
	g.nextID = tx.nextID
	return nil
}

// AddNode adds processor and returns id of the new node.
func (g *Graph) AddNode(p node.Processor) (node.ID, error) {
	var id node.ID
	err := g.Edit(func(tx *Tx) (err error) {
		id, err = tx.AddNode(p)
		return
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// RemoveNode removes the node and all its connections.
func (g *Graph) RemoveNode(id node.ID) error {
	return g.Edit(func(tx *Tx) error {
		return tx.RemoveNode(id)
	})
}

// Connect connects two audio channels.
func (g *Graph) Connect(src, dst Endpoint) error {
	return g.Edit(func(tx *Tx) error {
		return tx.Connect(src, dst)
	})
}

// ConnectFeedback connects two audio channels with a block delay. Such
// connections are allowed to close cycles.
func (g *Graph) ConnectFeedback(src, dst Endpoint) error {
	return g.Edit(func(tx *Tx) error {
		return tx.ConnectFeedback(src, dst)
	})
}

// ConnectMIDI connects MIDI output of src to MIDI input of dst.
func (g *Graph) ConnectMIDI(src, dst node.ID) error {
	return g.Edit(func(tx *Tx) error {
		return tx.ConnectMIDI(src, dst)
	})
}

// Disconnect removes the connection.
func (g *Graph) Disconnect(c Connection) error {
	return g.Edit(func(tx *Tx) error {
		return tx.Disconnect(c)
	})
}

// SetBypassed toggles bypass of the node. Bypassed node copies its inputs
// to outputs and reports no latency.
func (g *Graph) SetBypassed(id node.ID, bypassed bool) error {
	return g.Edit(func(tx *Tx) error {
		return tx.SetBypassed(id, bypassed)
	})
}

// AddNode prepares processor with its preferred layout and adds it to
// the batch.
func (tx *Tx) AddNode(p node.Processor) (node.ID, error) {
	id := tx.nextID
	if err := tx.addNode(id, p); err != nil {
		return 0, err
	}
	return id, nil
}

// AddNodeWithID adds processor with provided id. Ids are never reused, so
// id must be above any id the graph handed out before.
func (tx *Tx) AddNodeWithID(id node.ID, p node.Processor) error {
	if id < tx.nextID {
		return fmt.Errorf("%v: %w", id, ErrDuplicateNode)
	}
	return tx.addNode(id, p)
}

func (tx *Tx) addNode(id node.ID, p node.Processor) error {
	cfg := tx.g.cfg
	layout := p.Layout()
	if err := layout.Validate(); err != nil {
		return fmt.Errorf("%v: %w", id, err)
	}
	if err := p.Prepare(cfg.SampleRate, cfg.MaxBlockSize, layout); err != nil {
		return fmt.Errorf("prepare %v: %w", id, err)
	}
	slot, err := tx.g.arena.Alloc(id, p)
	if err != nil {
		return err
	}
	tx.added = append(tx.added, slot)
	if err := tx.top.AddNode(topology.Node{
		ID:      id,
		Slot:    slot,
		Layout:  layout,
		Latency: node.Latency(p),
	}); err != nil {
		return err
	}
	tx.nextID = id + 1
	return nil
}

// RemoveNode removes the node and its connections.
func (tx *Tx) RemoveNode(id node.ID) error {
	n, ok := tx.top.Node(id)
	if _, err := tx.top.RemoveNode(id); err != nil {
		return err
	}
	if ok {
		tx.removed = append(tx.removed, n.Slot)
	}
	return nil
}

// Connect connects two audio channels.
func (tx *Tx) Connect(src, dst Endpoint) error {
	return tx.top.AddConnection(Connection{Source: src, Destination: dst})
}

// ConnectFeedback connects two audio channels with a block delay.
func (tx *Tx) ConnectFeedback(src, dst Endpoint) error {
	return tx.top.AddConnection(Connection{Source: src, Destination: dst, Feedback: true})
}

// ConnectMIDI connects MIDI output of src to MIDI input of dst.
func (tx *Tx) ConnectMIDI(src, dst node.ID) error {
	return tx.top.AddConnection(Connection{
		Source:      Endpoint{Node: src},
		Destination: Endpoint{Node: dst},
		MIDI:        true,
	})
}

// Disconnect removes the connection.
func (tx *Tx) Disconnect(c Connection) error {
	return tx.top.RemoveConnection(c)
}

// SetBypassed toggles bypass of the node.
func (tx *Tx) SetBypassed(id node.ID, bypassed bool) error {
	return tx.top.SetBypassed(id, bypassed)
}

// SetLayout prepares a node added by the batch with another layout.
// Connections that don't fit the layout are removed. Nodes that are
// already live are changed with Graph.SetLayout.
func (tx *Tx) SetLayout(id node.ID, layout node.Layout) error {
	n, ok := tx.top.Node(id)
	if !ok {
		return fmt.Errorf("%v: %w", id, ErrNodeNotFound)
	}
	if n.Kind != topology.Processor {
		return fmt.Errorf("%v: %w", id, ErrFixedNode)
	}
	if !slices.Contains(tx.added, n.Slot) {
		return fmt.Errorf("%v: %w", id, ErrNodeLive)
	}
	if n.Layout.Equal(layout) {
		return nil
	}
	if err := layout.Validate(); err != nil {
		return fmt.Errorf("%v: %w", id, err)
	}
	p := tx.g.arena.Node(n.Slot).Processor()
	cfg := tx.g.cfg
	if err := p.Prepare(cfg.SampleRate, cfg.MaxBlockSize, layout); err != nil {
		return fmt.Errorf("prepare %v: %w", id, err)
	}
	if _, err := tx.top.SetLayout(id, layout); err != nil {
		return err
	}
	return tx.top.SetLatency(id, node.Latency(p))
}

// Node returns the node as seen by the batch.
func (tx *Tx) Node(id node.ID) (NodeInfo, bool) {
	return tx.top.Node(id)
}

// Connections returns connections as seen by the batch.
func (tx *Tx) Connections() []Connection {
	return tx.top.Connections()
}

// rollback frees slots allocated by the batch. Processors stay owned by
// the caller and are not released.
func (tx *Tx) rollback() {
	for _, slot := range tx.added {
		tx.g.arena.Release(slot)
	}
}

// commit compiles topology and publishes it. Slots are retired together
// with the replaced sequence. On failure live state is untouched.
func (g *Graph) commit(t *topology.Topology, slots []int32) error {
	g.setPhase(Compiling)
	defer g.setPhase(Idle)
	generation := t.Bump()
	s, err := sequence.Build(t, g.cfg.sequence())
	if err != nil {
		g.metrics.Failed()
		g.log.WithError(err).WithField("generation", generation).Warn("edit rejected")
		return err
	}
	g.publish(s, slots)
	g.topology = t
	g.log.WithFields(logrus.Fields{
		"generation": generation,
		"nodes":      len(s.Order),
		"latency":    s.Latency,
	}).Debug("sequence published")
	return nil
}

// apply edits a copy of the topology and commits it.
func (g *Graph) apply(fn func(*topology.Topology) error) error {
	t := g.topology.Clone()
	if err := fn(t); err != nil {
		return err
	}
	return g.commit(t, nil)
}
