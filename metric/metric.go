// Package metric publishes graph counters with expvar. Counters are
// updated with atomic operations only, so render thread can use them.
package metric

import (
	"expvar"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"pipelined.dev/audiograph/signal"
)

const graphsLabel = "audiograph.graphs"

const (
	// BlockCounter measures number of rendered periods.
	BlockCounter = "Blocks"
	// SampleCounter measures number of rendered samples.
	SampleCounter = "Samples"
	// FaultCounter measures number of failed process calls.
	FaultCounter = "Faults"
	// PublishCounter measures number of published sequences.
	PublishCounter = "Publishes"
	// RetireCounter measures number of released sequences and nodes.
	RetireCounter = "Retirements"
	// FailureCounter measures number of rejected edits.
	FailureCounter = "Failures"
	// RenderCounter measures total time spent in render calls.
	RenderCounter = "RenderTime"
	// DurationCounter measures duration of rendered signal.
	DurationCounter = "Duration"
)

var (
	graphs = struct {
		sync.Mutex
		m map[string]*Graph
	}{
		m: make(map[string]*Graph),
	}

	// published holds a map of counters per graph id.
	published = expvar.NewMap(graphsLabel)
)

// Graph holds counters of a single graph.
type Graph struct {
	sampleRate  float64
	vars        *expvar.Map
	blocks      *expvar.Int
	samples     *expvar.Int
	faults      *expvar.Int
	publishes   *expvar.Int
	retirements *expvar.Int
	failures    *expvar.Int
	render      *duration
	duration    *duration
}

// New registers counters for the graph. Calling it twice for the same id
// returns the same counters.
func New(graphID string, sampleRate float64) *Graph {
	graphs.Lock()
	defer graphs.Unlock()
	if m, ok := graphs.m[graphID]; ok {
		return m
	}
	m := &Graph{
		sampleRate:  sampleRate,
		vars:        new(expvar.Map).Init(),
		blocks:      new(expvar.Int),
		samples:     new(expvar.Int),
		faults:      new(expvar.Int),
		publishes:   new(expvar.Int),
		retirements: new(expvar.Int),
		failures:    new(expvar.Int),
		render:      &duration{},
		duration:    &duration{},
	}
	m.vars.Set(BlockCounter, m.blocks)
	m.vars.Set(SampleCounter, m.samples)
	m.vars.Set(FaultCounter, m.faults)
	m.vars.Set(PublishCounter, m.publishes)
	m.vars.Set(RetireCounter, m.retirements)
	m.vars.Set(FailureCounter, m.failures)
	m.vars.Set(RenderCounter, m.render)
	m.vars.Set(DurationCounter, m.duration)
	published.Set(graphID, m.vars)
	graphs.m[graphID] = m
	return m
}

// Delete unregisters counters of the graph. Counters that are still
// referenced keep working but are not published anymore.
func Delete(graphID string) {
	graphs.Lock()
	defer graphs.Unlock()
	delete(graphs.m, graphID)
	published.Delete(graphID)
}

// Rendered captures a rendered period.
func (m *Graph) Rendered(samples, faults int, elapsed time.Duration) {
	m.blocks.Add(1)
	m.samples.Add(int64(samples))
	if faults > 0 {
		m.faults.Add(int64(faults))
	}
	m.render.add(elapsed)
	m.duration.add(signal.DurationOf(m.sampleRate, int64(samples)))
}

// Published captures a published sequence.
func (m *Graph) Published() {
	m.publishes.Add(1)
}

// Retired captures released resources.
func (m *Graph) Retired(n int) {
	m.retirements.Add(int64(n))
}

// Failed captures a rejected edit.
func (m *Graph) Failed() {
	m.failures.Add(1)
}

// Get returns counters of the graph. Result is empty if graph is not
// registered.
func Get(graphID string) map[string]string {
	graphs.Lock()
	defer graphs.Unlock()
	return values(graphs.m[graphID])
}

// GetAll returns counters of all measured graphs.
func GetAll() map[string]map[string]string {
	graphs.Lock()
	defer graphs.Unlock()
	all := make(map[string]map[string]string, len(graphs.m))
	for id, m := range graphs.m {
		all[id] = values(m)
	}
	return all
}

func values(m *Graph) map[string]string {
	result := make(map[string]string)
	if m == nil {
		return result
	}
	m.vars.Do(func(kv expvar.KeyValue) {
		result[kv.Key] = kv.Value.String()
	})
	return result
}

// duration allows to format time.Duration metric values.
type duration struct {
	d atomic.Int64
}

func (v *duration) String() string {
	return fmt.Sprintf("%q", time.Duration(v.d.Load()).String())
}

func (v *duration) add(delta time.Duration) {
	v.d.Add(int64(delta))
}
