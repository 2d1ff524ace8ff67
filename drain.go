package audiograph

import (
	"context"

	"pipelined.dev/audiograph/internal/sequence"
	"pipelined.dev/audiograph/metric"
	"pipelined.dev/audiograph/node"
)

// retirement is a replaced sequence with slots of nodes it was the last
// to reference.
type retirement struct {
	mark  uint64
	seq   *sequence.Sequence
	slots []int32
}

// publish swaps the live sequence and retires the replaced one. Passed
// retirements are released right away.
func (g *Graph) publish(s *sequence.Sequence, slots []int32) {
	g.setPhase(Publishing)
	old := g.live.Swap(s)
	g.retired = append(g.retired, retirement{
		mark:  g.epoch.Mark(),
		seq:   old,
		slots: slots,
	})
	g.metrics.Published()
	g.reclaim()
}

// reclaim releases retirements the render thread moved past. It never
// blocks. Retirements are released in the order they were made.
func (g *Graph) reclaim() {
	released := 0
	for len(g.retired) > 0 && g.epoch.Passed(g.retired[0].mark) {
		r := g.retired[0]
		g.retired[0] = retirement{}
		g.retired = g.retired[1:]
		for _, slot := range r.slots {
			g.release(slot)
		}
		released += 1 + len(r.slots)
	}
	if released > 0 {
		g.metrics.Retired(released)
		g.log.WithField("released", released).Debug("retired resources released")
	}
}

func (g *Graph) release(slot int32) {
	p := g.arena.Release(slot)
	if r, ok := p.(node.Releaser); ok {
		r.Release()
	}
}

// Drain blocks until every retired sequence and node is released or ctx
// is done.
func (g *Graph) Drain(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.drain(ctx)
}

func (g *Graph) drain(ctx context.Context) error {
	if len(g.retired) == 0 {
		return nil
	}
	g.setPhase(Draining)
	defer g.setPhase(Idle)
	last := g.retired[len(g.retired)-1].mark
	if err := g.epoch.Wait(ctx, last, g.cfg.DrainInterval); err != nil {
		g.reclaim()
		return err
	}
	g.reclaim()
	return nil
}

// Close publishes a silent sequence, waits until the render thread moves
// past the last real one and releases all nodes. Metrics of the graph are
// unpublished. Rendering a closed graph
// produces silence.
func (g *Graph) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrClosed
	}
	g.closed = true
	var slots []int32
	for _, n := range g.topology.Nodes() {
		if n.Slot >= 0 {
			slots = append(slots, n.Slot)
		}
	}
	g.publish(sequence.Empty(g.cfg.sequence()), slots)
	err := g.drain(context.Background())
	metric.Delete(g.id)
	g.log.Debug("graph closed")
	return err
}
