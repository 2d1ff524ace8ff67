// Package epoch proves that the render thread moved past a publish.
//
// Render thread calls Begin before it loads the live sequence and End once
// the block is done. Control thread publishes a new sequence and takes a
// Mark. Every block that could load the old sequence has started before
// the mark, so once Passed returns true nothing references it anymore.
// Blocks are expected to be rendered by a single goroutine at a time.
package epoch

import (
	"context"
	"sync/atomic"
	"time"
)

// Tracker counts started and finished blocks.
type Tracker struct {
	started  atomic.Uint64
	finished atomic.Uint64
}

// Begin marks the start of a block.
func (t *Tracker) Begin() {
	t.started.Add(1)
}

// End marks the end of a block.
func (t *Tracker) End() {
	t.finished.Add(1)
}

// Mark returns the epoch that must finish before resources retired before
// the call can be released.
func (t *Tracker) Mark() uint64 {
	return t.started.Load()
}

// Passed returns true if all blocks started before mark are finished.
func (t *Tracker) Passed(mark uint64) bool {
	return t.finished.Load() >= mark
}

// Blocks returns number of finished blocks.
func (t *Tracker) Blocks() uint64 {
	return t.finished.Load()
}

// Wait blocks until mark is passed or context is done. The tracker is
// polled with provided interval.
func (t *Tracker) Wait(ctx context.Context, mark uint64, interval time.Duration) error {
	if t.Passed(mark) {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if t.Passed(mark) {
				return nil
			}
		}
	}
}
