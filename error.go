package audiograph

import (
	"errors"
	"fmt"
	"strings"

	"pipelined.dev/audiograph/internal/sequence"
	"pipelined.dev/audiograph/internal/topology"
	"pipelined.dev/audiograph/node"
)

var (
	// ErrInvalidConnection is returned for malformed connections.
	ErrInvalidConnection = topology.ErrInvalidConnection
	// ErrCyclicGraph is returned when connection would create a cycle
	// without latency.
	ErrCyclicGraph = topology.ErrCyclicGraph
	// ErrCompilationFailed wraps errors raised while sequence is rebuilt.
	ErrCompilationFailed = sequence.ErrCompilationFailed
	// ErrLatencyExceeded is returned when path latency is above the
	// configured maximum.
	ErrLatencyExceeded = sequence.ErrLatencyExceeded
	// ErrNodeNotFound is returned when node doesn't exist.
	ErrNodeNotFound = topology.ErrNodeNotFound
	// ErrFixedNode is returned when io node is removed or changed.
	ErrFixedNode = topology.ErrFixedNode
	// ErrDuplicateNode is returned when node id is already used.
	ErrDuplicateNode = topology.ErrDuplicateNode
	// ErrGraphFull is returned when graph cannot hold more nodes.
	ErrGraphFull = node.ErrArenaFull
	// ErrNodeFaulted is matched by fault errors.
	ErrNodeFaulted = errors.New("node faulted")
	// ErrClosed is returned when graph is closed.
	ErrClosed = errors.New("graph closed")
	// ErrNodeLive is returned when batch changes layout of a node it
	// didn't add.
	ErrNodeLive = errors.New("node is live")
	// ErrQueueFull is returned when parameter cannot be queued.
	ErrQueueFull = errors.New("parameter queue full")
)

// CompileError is returned when edit cannot be compiled. Previous
// sequence remains live.
type CompileError = sequence.CompileError

// FaultError is reported for node whose processor failed.
type FaultError struct {
	Node   node.ID
	Faults uint64
	Err    error
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("%v: %v: %v", e.Node, ErrNodeFaulted, e.Err)
}

// Is matches ErrNodeFaulted.
func (e *FaultError) Is(err error) bool {
	return err == ErrNodeFaulted
}

// Unwrap returns processor error.
func (e *FaultError) Unwrap() error {
	return e.Err
}

// faultErrors wraps errors of multiple faulted nodes.
type faultErrors []error

func (e faultErrors) Error() string {
	s := []string{}
	for _, se := range e {
		s = append(s, se.Error())
	}
	return strings.Join(s, ",")
}

// Unwrap allows to match errors of any node.
func (e faultErrors) Unwrap() []error {
	return e
}

// ret returns untyped nil if error list is empty.
func (e faultErrors) ret() error {
	if len(e) > 0 {
		return e
	}
	return nil
}
