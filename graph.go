package audiograph

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"pipelined.dev/audiograph/internal/epoch"
	"pipelined.dev/audiograph/internal/runtime"
	"pipelined.dev/audiograph/internal/sequence"
	"pipelined.dev/audiograph/internal/topology"
	"pipelined.dev/audiograph/log"
	"pipelined.dev/audiograph/metric"
	"pipelined.dev/audiograph/node"
	"pipelined.dev/audiograph/param"
)

// Default configuration values.
const (
	DefaultSampleRate    = 44100
	DefaultMaxBlockSize  = 512
	DefaultMaxNodes      = 256
	DefaultMaxLatency    = 1 << 15
	DefaultMIDICapacity  = 256
	DefaultParamCapacity = 1024
	DefaultDrainInterval = 500 * time.Microsecond
)

// Fixed ids of io nodes.
const (
	AudioInput  = topology.AudioInputID
	AudioOutput = topology.AudioOutputID
	MIDIInput   = topology.MIDIInputID
	MIDIOutput  = topology.MIDIOutputID
)

// ErrInvalidConfig is returned when configuration is not valid.
var ErrInvalidConfig = errors.New("invalid config")

type (
	// Config defines bounds of the graph. Zero values are replaced with
	// defaults, except the number of hardware channels.
	Config struct {
		SampleRate   float64
		MaxBlockSize int
		NumInputs    int
		NumOutputs   int
		// MaxNodes is the maximum number of processor nodes.
		MaxNodes int
		// MaxLatency is the maximum latency of any signal path. Delay
		// lines are never longer than that.
		MaxLatency    int
		MIDICapacity  int
		ParamCapacity int
		// DrainInterval is how often render progress is polled while
		// draining.
		DrainInterval time.Duration
	}

	// Endpoint addresses a channel of node bus.
	Endpoint = topology.Endpoint
	// Connection is a directed edge between endpoints.
	Connection = topology.Connection
	// NodeInfo describes node of the topology.
	NodeInfo = topology.Node
	// Period is the data of a single hardware callback.
	Period = runtime.Period

	// Option provides a way to set optional parameters of the graph.
	Option func(*Graph)

	// Graph is a realtime audio processing graph. Control methods are
	// serialized with a mutex and may block. RenderNextBlock must be
	// called from a single render goroutine and never blocks.
	Graph struct {
		id      string
		cfg     Config
		log     logrus.FieldLogger
		metrics *metric.Graph

		// render thread state
		live     atomic.Pointer[sequence.Sequence]
		epoch    epoch.Tracker
		renderer *runtime.Renderer
		params   *param.Queue
		phase    atomic.Int32

		// control thread state
		mu       sync.Mutex
		topology *topology.Topology
		arena    *node.Arena
		nextID   node.ID
		retired  []retirement
		closed   bool
	}
)

// Channel returns endpoint of the node channel.
func Channel(id node.ID, bus, channel int) Endpoint {
	return Endpoint{Node: id, Bus: bus, Channel: channel}
}

// WithLogger sets logger of the graph.
func WithLogger(l logrus.FieldLogger) Option {
	return func(g *Graph) {
		g.log = l
	}
}

func (c Config) withDefaults() Config {
	if c.SampleRate == 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.MaxBlockSize == 0 {
		c.MaxBlockSize = DefaultMaxBlockSize
	}
	if c.MaxNodes == 0 {
		c.MaxNodes = DefaultMaxNodes
	}
	if c.MaxLatency == 0 {
		c.MaxLatency = DefaultMaxLatency
	}
	if c.MIDICapacity == 0 {
		c.MIDICapacity = DefaultMIDICapacity
	}
	if c.ParamCapacity == 0 {
		c.ParamCapacity = DefaultParamCapacity
	}
	if c.DrainInterval == 0 {
		c.DrainInterval = DefaultDrainInterval
	}
	return c
}

func (c Config) validate() error {
	switch {
	case c.SampleRate < 0:
		return fmt.Errorf("%w: sample rate %v", ErrInvalidConfig, c.SampleRate)
	case c.MaxBlockSize < 0:
		return fmt.Errorf("%w: max block size %d", ErrInvalidConfig, c.MaxBlockSize)
	case c.NumInputs < 0 || c.NumOutputs < 0:
		return fmt.Errorf("%w: %d inputs %d outputs", ErrInvalidConfig, c.NumInputs, c.NumOutputs)
	case c.MaxNodes < 0 || c.MaxLatency < 0 || c.MIDICapacity < 0 || c.ParamCapacity < 0:
		return fmt.Errorf("%w: negative bounds", ErrInvalidConfig)
	}
	return nil
}

func (c Config) sequence() sequence.Config {
	return sequence.Config{
		MaxBlockSize: c.MaxBlockSize,
		MaxLatency:   c.MaxLatency,
		MIDICapacity: c.MIDICapacity,
		MaxNodes:     c.MaxNodes,
	}
}

// New creates a graph that contains io nodes only.
func New(cfg Config, options ...Option) (*Graph, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	g := &Graph{
		id:       xid.New().String(),
		cfg:      cfg,
		log:      log.GetLogger(),
		topology: topology.New(cfg.NumInputs, cfg.NumOutputs),
		arena:    node.NewArena(cfg.MaxNodes),
		params:   param.NewQueue(cfg.ParamCapacity),
		nextID:   topology.FirstID,
	}
	for _, option := range options {
		option(g)
	}
	g.log = g.log.WithField("graph", g.id)
	g.metrics = metric.New(g.id, cfg.SampleRate)
	g.renderer = runtime.New(g.arena, g.params)

	s, err := sequence.Build(g.topology, cfg.sequence())
	if err != nil {
		return nil, err
	}
	g.live.Store(s)
	g.log.WithFields(logrus.Fields{
		"sampleRate":   cfg.SampleRate,
		"maxBlockSize": cfg.MaxBlockSize,
		"inputs":       cfg.NumInputs,
		"outputs":      cfg.NumOutputs,
	}).Debug("graph created")
	return g, nil
}

// ID returns unique id of the graph.
func (g *Graph) ID() string {
	return g.id
}

// Config returns configuration of the graph with defaults applied.
func (g *Graph) Config() Config {
	return g.cfg
}

// RenderNextBlock renders the period with the live sequence. It never
// blocks, allocates or fails: faulted nodes are silenced and reported
// with Faults.
func (g *Graph) RenderNextBlock(p *Period) {
	start := time.Now()
	g.epoch.Begin()
	stats := g.renderer.Render(g.live.Load(), p)
	g.epoch.End()
	g.metrics.Rendered(p.NumSamples, stats.Faults, time.Since(start))
}

// LatencySamples returns total latency of the live sequence.
func (g *Graph) LatencySamples() int {
	return g.live.Load().Latency
}

// Order returns execution order of nodes in the live sequence.
func (g *Graph) Order() []node.ID {
	return append([]node.ID(nil), g.live.Load().Order...)
}

// Generation returns generation of the topology. It's incremented with
// every committed edit.
func (g *Graph) Generation() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.topology.Generation()
}

// Nodes returns all nodes sorted by id.
func (g *Graph) Nodes() []NodeInfo {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.topology.Nodes()
}

// Connections returns all connections in the order they were made.
func (g *Graph) Connections() []Connection {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.topology.Connections()
}

// Processor returns processor of the node.
func (g *Graph) Processor(id node.ID) (node.Processor, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.topology.Node(id)
	if !ok || n.Kind != topology.Processor {
		return nil, false
	}
	return g.arena.Node(n.Slot).Processor(), true
}

// SetParameter queues parameter change. It's applied on the render thread
// before the first block that renders the live sequence or a newer one.
func (g *Graph) SetParameter(id node.ID, parameter uint32, value float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, err := g.processor(id)
	if err != nil {
		return err
	}
	c := param.Change{
		Node:       id,
		Slot:       n.Slot,
		Param:      parameter,
		Value:      value,
		Generation: g.live.Load().Generation,
	}
	if !g.params.Push(c) {
		return fmt.Errorf("%v: %w", id, ErrQueueFull)
	}
	return nil
}

// Faults returns errors of all faulted nodes or nil.
func (g *Graph) Faults() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	var errs faultErrors
	for _, n := range g.topology.Nodes() {
		if n.Kind != topology.Processor {
			continue
		}
		if an := g.arena.Node(n.Slot); an.Faulted() {
			errs = append(errs, &FaultError{Node: n.ID, Faults: an.Faults(), Err: an.Fault()})
		}
	}
	return errs.ret()
}

// ResetNode asks render thread to reset processor before its next call.
// Fault of the node is cleared.
func (g *Graph) ResetNode(id node.ID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, err := g.processor(id)
	if err != nil {
		return err
	}
	g.arena.Node(n.Slot).RequestReset()
	g.log.WithField("node", id).Debug("reset requested")
	return nil
}

func (g *Graph) processor(id node.ID) (NodeInfo, error) {
	if g.closed {
		return NodeInfo{}, ErrClosed
	}
	if topology.IsIO(id) {
		return NodeInfo{}, fmt.Errorf("%v: %w", id, ErrFixedNode)
	}
	n, ok := g.topology.Node(id)
	if !ok {
		return NodeInfo{}, fmt.Errorf("%v: %w", id, ErrNodeNotFound)
	}
	return n, nil
}
