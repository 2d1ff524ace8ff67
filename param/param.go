// Package param delivers parameter changes from control thread to render
// thread without locks.
package param

import (
	"fmt"
	"sync/atomic"

	"pipelined.dev/audiograph/node"
)

type (
	// Change of a single processor parameter.
	Change struct {
		Node  node.ID
		Slot  int32
		Param uint32
		Value float64
		// Generation of the live sequence when change was pushed. Render
		// thread holds the change until it renders that generation.
		Generation uint64
	}

	// Queue is a bounded single-producer single-consumer ring of changes.
	// Push must only be called from one goroutine and Pop from another.
	Queue struct {
		changes []Change
		mask    uint64
		// head is the next index to pop, tail is the next index to push.
		head atomic.Uint64
		tail atomic.Uint64
	}
)

// NewQueue returns a queue that holds at least capacity changes.
// Capacity is rounded up to the power of two.
func NewQueue(capacity int) *Queue {
	size := 1
	for size < capacity {
		size <<= 1
	}
	return &Queue{
		changes: make([]Change, size),
		mask:    uint64(size - 1),
	}
}

// Push enqueues a change. False is returned if queue is full.
func (q *Queue) Push(c Change) bool {
	tail := q.tail.Load()
	if tail-q.head.Load() == uint64(len(q.changes)) {
		return false
	}
	q.changes[tail&q.mask] = c
	q.tail.Store(tail + 1)
	return true
}

// Pop dequeues a change. False is returned if queue is empty.
func (q *Queue) Pop() (Change, bool) {
	c, ok := q.Peek()
	if ok {
		q.head.Add(1)
	}
	return c, ok
}

// Peek returns the next change without removing it. It must only be
// called by the consumer.
func (q *Queue) Peek() (Change, bool) {
	head := q.head.Load()
	if head == q.tail.Load() {
		return Change{}, false
	}
	return q.changes[head&q.mask], true
}

// Len returns number of pending changes.
func (q *Queue) Len() int {
	return int(q.tail.Load() - q.head.Load())
}

// Cap returns capacity of the queue.
func (q *Queue) Cap() int {
	return len(q.changes)
}

func (c Change) String() string {
	return fmt.Sprintf("%v param %d = %g", c.Node, c.Param, c.Value)
}
