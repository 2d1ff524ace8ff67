package sequence

import (
	"cmp"
	"container/heap"
	"fmt"
	"slices"

	"pipelined.dev/audiograph/internal/topology"
	"pipelined.dev/audiograph/node"
)

// edge is a connection between active nodes with compile-time attributes.
type edge struct {
	topology.Connection
	implicit bool
	delay    int
}

func (e *edge) feedback() bool {
	return e.Feedback || e.implicit
}

// idHeap is a min-heap of node ids.
type idHeap []node.ID

func (h idHeap) Len() int           { return len(h) }
func (h idHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h idHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idHeap) Push(x any)        { *h = append(*h, x.(node.ID)) }
func (h *idHeap) Pop() any {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}

// sortNodes returns Kahn's topological order over forward edges. Ready
// nodes are taken in ascending id order.
func sortNodes(ids []node.ID, edges []*edge) ([]node.ID, error) {
	indegree := make(map[node.ID]int, len(ids))
	out := make(map[node.ID][]node.ID, len(ids))
	for _, e := range edges {
		if e.feedback() {
			continue
		}
		indegree[e.Destination.Node]++
		out[e.Source.Node] = append(out[e.Source.Node], e.Destination.Node)
	}
	ready := make(idHeap, 0, len(ids))
	for _, id := range ids {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}
	heap.Init(&ready)
	order := make([]node.ID, 0, len(ids))
	for ready.Len() > 0 {
		id := heap.Pop(&ready).(node.ID)
		order = append(order, id)
		for _, dst := range out[id] {
			indegree[dst]--
			if indegree[dst] == 0 {
				heap.Push(&ready, dst)
			}
		}
	}
	if len(order) != len(ids) {
		return nil, fmt.Errorf("%w: %d nodes left unordered", topology.ErrCyclicGraph, len(ids)-len(order))
	}
	return order, nil
}

// breakCycles turns forward edges into implicit feedback until the forward
// graph is acyclic. In every cycle the audio edges from within the cycle
// into the node with the highest latency are delayed. Cycles without
// latency cannot be broken.
func breakCycles(nodes map[node.ID]*topology.Node, ids []node.ID, edges []*edge) error {
	for {
		components := cycles(ids, edges)
		if len(components) == 0 {
			return nil
		}
		for _, component := range components {
			target, ok := breakTarget(nodes, component, edges)
			if !ok {
				return fmt.Errorf("%w: zero-latency cycle through %v", topology.ErrCyclicGraph, component)
			}
			for _, e := range edges {
				if !e.feedback() && !e.MIDI && e.Destination.Node == target && slices.Contains(component, e.Source.Node) {
					e.implicit = true
				}
			}
		}
	}
}

// breakTarget picks the node with the highest latency that has audio
// inputs from within the component. Lowest id wins ties.
func breakTarget(nodes map[node.ID]*topology.Node, component []node.ID, edges []*edge) (node.ID, bool) {
	var (
		target  node.ID
		latency int
	)
	for _, id := range component {
		l := nodes[id].EffectiveLatency()
		if l <= latency {
			continue
		}
		for _, e := range edges {
			if !e.feedback() && !e.MIDI && e.Destination.Node == id && slices.Contains(component, e.Source.Node) {
				target, latency = id, l
				break
			}
		}
	}
	return target, latency > 0
}

// cycles returns strongly connected components of forward edges that
// contain a cycle. Components are sorted by id.
func cycles(ids []node.ID, edges []*edge) [][]node.ID {
	out := make(map[node.ID][]node.ID, len(ids))
	self := make(map[node.ID]bool)
	for _, e := range edges {
		if e.feedback() {
			continue
		}
		out[e.Source.Node] = append(out[e.Source.Node], e.Destination.Node)
		if e.Source.Node == e.Destination.Node {
			self[e.Source.Node] = true
		}
	}

	// Tarjan's algorithm.
	var (
		index    = 0
		indices  = make(map[node.ID]int, len(ids))
		lowlinks = make(map[node.ID]int, len(ids))
		onStack  = make(map[node.ID]bool, len(ids))
		stack    []node.ID
		result   [][]node.ID
	)
	var connect func(id node.ID)
	connect = func(id node.ID) {
		indices[id] = index
		lowlinks[id] = index
		index++
		stack = append(stack, id)
		onStack[id] = true
		for _, dst := range out[id] {
			if _, ok := indices[dst]; !ok {
				connect(dst)
				lowlinks[id] = min(lowlinks[id], lowlinks[dst])
			} else if onStack[dst] {
				lowlinks[id] = min(lowlinks[id], indices[dst])
			}
		}
		if lowlinks[id] != indices[id] {
			return
		}
		var component []node.ID
		for {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[top] = false
			component = append(component, top)
			if top == id {
				break
			}
		}
		if len(component) > 1 || self[id] {
			slices.Sort(component)
			result = append(result, component)
		}
	}
	for _, id := range ids {
		if _, ok := indices[id]; !ok {
			connect(id)
		}
	}
	slices.SortFunc(result, func(a, b []node.ID) int { return cmp.Compare(a[0], b[0]) })
	return result
}
