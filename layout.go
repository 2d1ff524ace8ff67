package audiograph

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"pipelined.dev/audiograph/internal/topology"
	"pipelined.dev/audiograph/node"
)

// SetLayout changes bus layout of the node. The node is detached first,
// so its processor is prepared only after the render thread stopped
// calling it. Connections that don't fit the new layout are removed. If
// the processor rejects the layout, the node is reattached with its
// previous layout and the error is returned.
func (g *Graph) SetLayout(ctx context.Context, id node.ID, layout node.Layout) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, err := g.processor(id)
	if err != nil {
		return err
	}
	if n.Layout.Equal(layout) {
		return nil
	}
	if err := layout.Validate(); err != nil {
		return fmt.Errorf("%v: %w", id, err)
	}
	proc := g.arena.Node(n.Slot).Processor()
	l := g.log.WithFields(logrus.Fields{"node": id, "layout": layout})

	if err := g.apply(func(t *topology.Topology) error {
		return t.SetDetached(id, true)
	}); err != nil {
		return err
	}
	if err := g.drain(ctx); err != nil {
		return g.reattach(id, nil, err)
	}
	if err := proc.Prepare(g.cfg.SampleRate, g.cfg.MaxBlockSize, layout); err != nil {
		l.WithError(err).Warn("layout rejected")
		return g.reattach(id, proc, fmt.Errorf("prepare %v: %w", id, err))
	}
	var dropped []Connection
	if err := g.apply(func(t *topology.Topology) error {
		var err error
		if dropped, err = t.SetLayout(id, layout); err != nil {
			return err
		}
		if err := t.SetLatency(id, node.Latency(proc)); err != nil {
			return err
		}
		return t.SetDetached(id, false)
	}); err != nil {
		return g.reattach(id, proc, err)
	}
	l.WithField("dropped", len(dropped)).Debug("layout changed")
	return nil
}

// reattach publishes the node again with the layout it had before. If
// proc is not nil, it's prepared with that layout first.
func (g *Graph) reattach(id node.ID, proc node.Processor, cause error) error {
	n, _ := g.topology.Node(id)
	if proc != nil {
		// node is still detached and drained
		if err := proc.Prepare(g.cfg.SampleRate, g.cfg.MaxBlockSize, n.Layout); err != nil {
			g.log.WithError(err).WithField("node", id).Error("failed to restore layout")
		}
	}
	if err := g.apply(func(t *topology.Topology) error {
		return t.SetDetached(id, false)
	}); err != nil {
		g.log.WithError(err).WithField("node", id).Error("failed to reattach node")
	}
	return cause
}
// RefreshLatency queries latency of all processors and recompiles the
// sequence if any of them changed. If the new latencies cannot be
// compiled, the live sequence stays and the error is returned.
func (g *Graph) RefreshLatency() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrClosed
	}
	t := g.topology.Clone()
	changed := false
	for _, n := range t.Nodes() {
		if n.Kind != topology.Processor {
			continue
		}
		if l := node.Latency(g.arena.Node(n.Slot).Processor()); l != n.Latency {
			if err := t.SetLatency(n.ID, l); err != nil {
				return err
			}
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return g.commit(t, nil)
}
