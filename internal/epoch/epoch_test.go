package epoch_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"pipelined.dev/audiograph/internal/epoch"
)

func TestTracker(t *testing.T) {
	var tr epoch.Tracker
	assert.True(t, tr.Passed(tr.Mark()))

	tr.Begin()
	mark := tr.Mark()
	assert.False(t, tr.Passed(mark))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tr.Wait(ctx, mark, time.Millisecond), context.DeadlineExceeded)

	go func() {
		time.Sleep(2 * time.Millisecond)
		tr.End()
	}()
	assert.NoError(t, tr.Wait(context.Background(), mark, time.Millisecond))
	assert.Equal(t, uint64(1), tr.Blocks())

	// blocks started after the mark are not awaited
	tr.Begin()
	assert.True(t, tr.Passed(mark))
	tr.End()
}
