package node

import (
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	// ErrArenaFull is returned when all node slots are in use.
	ErrArenaFull = errors.New("node arena is full")
	// ErrPanic is the fault of a processor that panicked. The panic value
	// is not kept.
	ErrPanic = errors.New("processor panicked")
)

// panicked is boxed once, so recording a panic doesn't allocate.
var panicked any = fault{err: ErrPanic}

type (
	// Arena is a fixed-capacity store of nodes. Slots are stable for the
	// lifetime of the arena, so compiled sequences refer to nodes by slot
	// index. Alloc and Release must be called from a single control
	// goroutine; the render thread only reads slots referenced by the
	// live sequence.
	Arena struct {
		nodes []Node
		free  []int32
	}

	// Node is a slot of the arena. It owns the processor and carries the
	// fault state shared between render and control threads.
	Node struct {
		id      ID
		proc    Processor
		inUse   bool
		faulted atomic.Bool
		reset   atomic.Bool
		faults  atomic.Uint64
		calls   atomic.Uint64
		cause   atomic.Value
	}

	// fault wraps the error so atomic.Value always stores the same type.
	fault struct {
		err error
	}
)

// NewArena returns arena with capacity slots.
func NewArena(capacity int) *Arena {
	a := &Arena{
		nodes: make([]Node, capacity),
		free:  make([]int32, 0, capacity),
	}
	// lowest slots are handed out first
	for i := capacity - 1; i >= 0; i-- {
		a.free = append(a.free, int32(i))
	}
	return a
}

// Alloc places processor into a free slot.
func (a *Arena) Alloc(id ID, p Processor) (int32, error) {
	if len(a.free) == 0 {
		return -1, fmt.Errorf("%v: %w: capacity %d", id, ErrArenaFull, len(a.nodes))
	}
	slot := a.free[len(a.free)-1]
	a.free = a.free[:len(a.free)-1]
	n := &a.nodes[slot]
	n.id = id
	n.proc = p
	n.inUse = true
	n.faulted.Store(false)
	n.reset.Store(false)
	n.faults.Store(0)
	n.calls.Store(0)
	n.cause.Store(fault{})
	return slot, nil
}

// Release frees the slot and returns processor it owned. It must only be
// called once no published sequence references the slot.
func (a *Arena) Release(slot int32) Processor {
	n := &a.nodes[slot]
	if !n.inUse {
		return nil
	}
	p := n.proc
	n.proc = nil
	n.inUse = false
	a.free = append(a.free, slot)
	return p
}

// Node returns node in the slot.
func (a *Arena) Node(slot int32) *Node {
	return &a.nodes[slot]
}

// Len returns number of slots in use.
func (a *Arena) Len() int {
	return len(a.nodes) - len(a.free)
}

// Cap returns capacity of the arena.
func (a *Arena) Cap() int {
	return len(a.nodes)
}

// ID returns id of the node.
func (n *Node) ID() ID {
	return n.id
}

// Processor returns wrapped processor.
func (n *Node) Processor() Processor {
	return n.proc
}

// Faulted returns true if processor failed and node outputs silence.
func (n *Node) Faulted() bool {
	return n.faulted.Load()
}

// Fault returns the error that faulted the node.
func (n *Node) Fault() error {
	f, _ := n.cause.Load().(fault)
	return f.err
}

// Faults returns how many times the node faulted.
func (n *Node) Faults() uint64 {
	return n.faults.Load()
}

// Calls returns how many times the processor was called.
func (n *Node) Calls() uint64 {
	return n.calls.Load()
}

// RequestReset asks render thread to reset the processor before the next
// process call. Fault state is cleared after the reset.
func (n *Node) RequestReset() {
	n.reset.Store(true)
}

// Process calls the processor. Errors and panics never leave this call:
// node is marked as faulted, outputs are silenced and false is returned.
// Faulted node stays silent until reset is requested. Recording a
// returned error allocates once per fault; panics are recorded as
// ErrPanic without allocation.
func (n *Node) Process(b *Block) (ok bool) {
	if n.reset.Load() {
		n.proc.Reset()
		n.faulted.Store(false)
		n.reset.Store(false)
	}
	if n.faulted.Load() {
		Silence(b)
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			n.fail(panicked)
			Silence(b)
			ok = false
		}
	}()
	n.calls.Add(1)
	if err := n.proc.Process(b); err != nil {
		n.fail(fault{err: err})
		Silence(b)
		return false
	}
	return true
}

func (n *Node) fail(f any) {
	n.cause.Store(f)
	n.faults.Add(1)
	n.faulted.Store(true)
}

// Silence clears outputs of the block.
func Silence(b *Block) {
	for i := range b.Outputs {
		for c := 0; c < b.Outputs[i].NumChannels(); c++ {
			clear(b.Outputs[i].Channel(c))
		}
	}
	if b.MIDIOut != nil {
		b.MIDIOut.Clear()
	}
}
