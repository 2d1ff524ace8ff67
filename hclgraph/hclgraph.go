// Package hclgraph persists graphs as HCL documents:
//
//	graph {
//	  sample_rate    = 48000
//	  max_block_size = 256
//	  inputs         = 2
//	  outputs        = 2
//	}
//
//	node "gain" {
//	  id      = 5
//	  inputs  = [2]
//	  outputs = [2]
//	  state   = "eyJnYWluIjowLjV9"
//	}
//
//	connection {
//	  from = [audio_in, 0, 0]
//	  to   = [5, 0, 0]
//	}
//
// Endpoints are lists of node id, bus and channel. MIDI connections use
// node id only. Ids of io nodes are available as audio_in, audio_out,
// midi_in and midi_out variables. Processor state is base64 encoded.
// Node layout is a list of channel counts per bus plus midi_in and
// midi_out flags. Nodes without layout get the one processor prefers.
package hclgraph

import (
	"encoding/base64"
	"errors"
	"fmt"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"

	"pipelined.dev/audiograph"
	"pipelined.dev/audiograph/internal/topology"
	"pipelined.dev/audiograph/node"
)

var (
	// ErrInvalidDocument is returned when document cannot be decoded.
	ErrInvalidDocument = errors.New("invalid graph document")
	// ErrNotPersistent is returned when graph contains a processor that
	// cannot be persisted.
	ErrNotPersistent = errors.New("processor is not persistent")
)

type (
	// Document is a persisted graph.
	Document struct {
		Settings    *Settings
		Nodes       []Node
		Connections []audiograph.Connection
	}

	// Settings describe the graph a document was made for.
	Settings struct {
		SampleRate   float64 `hcl:"sample_rate,optional"`
		MaxBlockSize int     `hcl:"max_block_size,optional"`
		Inputs       int     `hcl:"inputs,optional"`
		Outputs      int     `hcl:"outputs,optional"`
	}

	// Node is a persisted processor node.
	Node struct {
		Kind     string
		ID       node.ID
		Bypassed bool
		// Layout the node is prepared with. Nil means preferred layout.
		Layout *node.Layout
		State  []byte
	}
)

// hclFile is the structure of document for decoding.
type hclFile struct {
	Settings    *Settings       `hcl:"graph,block"`
	Nodes       []hclNode       `hcl:"node,block"`
	Connections []hclConnection `hcl:"connection,block"`
}

type hclNode struct {
	Kind     string `hcl:"kind,label"`
	ID       int    `hcl:"id"`
	Bypassed *bool  `hcl:"bypassed,optional"`
	Inputs   *[]int `hcl:"inputs,optional"`
	Outputs  *[]int `hcl:"outputs,optional"`
	MIDIIn   *bool  `hcl:"midi_in,optional"`
	MIDIOut  *bool  `hcl:"midi_out,optional"`
	State    string `hcl:"state,optional"`
}

// layout returns nil if none of layout attributes is set.
func (n hclNode) layout() *node.Layout {
	if n.Inputs == nil && n.Outputs == nil && n.MIDIIn == nil && n.MIDIOut == nil {
		return nil
	}
	var l node.Layout
	if n.Inputs != nil && len(*n.Inputs) > 0 {
		l.Inputs = *n.Inputs
	}
	if n.Outputs != nil && len(*n.Outputs) > 0 {
		l.Outputs = *n.Outputs
	}
	l.MIDIIn = n.MIDIIn != nil && *n.MIDIIn
	l.MIDIOut = n.MIDIOut != nil && *n.MIDIOut
	return &l
}

type hclConnection struct {
	From     []int `hcl:"from"`
	To       []int `hcl:"to"`
	MIDI     *bool `hcl:"midi,optional"`
	Feedback *bool `hcl:"feedback,optional"`
}

// variables available in documents.
var variables = map[string]cty.Value{
	"audio_in":  cty.NumberIntVal(int64(audiograph.AudioInput)),
	"audio_out": cty.NumberIntVal(int64(audiograph.AudioOutput)),
	"midi_in":   cty.NumberIntVal(int64(audiograph.MIDIInput)),
	"midi_out":  cty.NumberIntVal(int64(audiograph.MIDIOutput)),
}

// Config returns graph configuration of the settings. Nil settings
// give defaults.
func (s *Settings) Config() audiograph.Config {
	if s == nil {
		return audiograph.Config{}
	}
	return audiograph.Config{
		SampleRate:   s.SampleRate,
		MaxBlockSize: s.MaxBlockSize,
		NumInputs:    s.Inputs,
		NumOutputs:   s.Outputs,
	}
}

// Decode parses document source. Filename is used in diagnostics.
func Decode(src []byte, filename string) (*Document, error) {
	f, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, diags)
	}
	ctx := &hcl.EvalContext{Variables: variables}
	var file hclFile
	if diags := gohcl.DecodeBody(f.Body, ctx, &file); diags.HasErrors() {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, diags)
	}

	doc := Document{Settings: file.Settings}
	for _, n := range file.Nodes {
		if n.ID < int(topology.FirstID) {
			return nil, fmt.Errorf("%w: node %q: id %d is reserved", ErrInvalidDocument, n.Kind, n.ID)
		}
		var state []byte
		if n.State != "" {
			var err error
			if state, err = base64.StdEncoding.DecodeString(n.State); err != nil {
				return nil, fmt.Errorf("%w: node %d state: %w", ErrInvalidDocument, n.ID, err)
			}
		}
		doc.Nodes = append(doc.Nodes, Node{
			Kind:     n.Kind,
			ID:       node.ID(n.ID),
			Bypassed: n.Bypassed != nil && *n.Bypassed,
			Layout:   n.layout(),
			State:    state,
		})
	}
	for i, c := range file.Connections {
		midi := c.MIDI != nil && *c.MIDI
		from, err := endpoint(c.From, midi)
		if err != nil {
			return nil, fmt.Errorf("%w: connection %d from: %w", ErrInvalidDocument, i, err)
		}
		to, err := endpoint(c.To, midi)
		if err != nil {
			return nil, fmt.Errorf("%w: connection %d to: %w", ErrInvalidDocument, i, err)
		}
		doc.Connections = append(doc.Connections, audiograph.Connection{
			Source:      from,
			Destination: to,
			MIDI:        midi,
			Feedback:    c.Feedback != nil && *c.Feedback,
		})
	}
	return &doc, nil
}

func endpoint(v []int, midi bool) (audiograph.Endpoint, error) {
	switch {
	case len(v) == 1 && midi:
		return audiograph.Endpoint{Node: node.ID(v[0])}, nil
	case len(v) == 3:
		return audiograph.Channel(node.ID(v[0]), v[1], v[2]), nil
	}
	return audiograph.Endpoint{}, fmt.Errorf("endpoint %v must be [node, bus, channel]", v)
}

// Encode writes document in HCL syntax.
func Encode(doc *Document) []byte {
	f := hclwrite.NewEmptyFile()
	body := f.Body()
	if s := doc.Settings; s != nil {
		b := body.AppendNewBlock("graph", nil).Body()
		if s.SampleRate != 0 {
			b.SetAttributeValue("sample_rate", cty.NumberFloatVal(s.SampleRate))
		}
		if s.MaxBlockSize != 0 {
			b.SetAttributeValue("max_block_size", cty.NumberIntVal(int64(s.MaxBlockSize)))
		}
		b.SetAttributeValue("inputs", cty.NumberIntVal(int64(s.Inputs)))
		b.SetAttributeValue("outputs", cty.NumberIntVal(int64(s.Outputs)))
	}
	for _, n := range doc.Nodes {
		body.AppendNewline()
		b := body.AppendNewBlock("node", []string{n.Kind}).Body()
		b.SetAttributeValue("id", cty.NumberIntVal(int64(n.ID)))
		if n.Bypassed {
			b.SetAttributeValue("bypassed", cty.True)
		}
		if l := n.Layout; l != nil {
			b.SetAttributeValue("inputs", ints(l.Inputs))
			b.SetAttributeValue("outputs", ints(l.Outputs))
			if l.MIDIIn {
				b.SetAttributeValue("midi_in", cty.True)
			}
			if l.MIDIOut {
				b.SetAttributeValue("midi_out", cty.True)
			}
		}
		if len(n.State) > 0 {
			b.SetAttributeValue("state", cty.StringVal(base64.StdEncoding.EncodeToString(n.State)))
		}
	}
	for _, c := range doc.Connections {
		body.AppendNewline()
		b := body.AppendNewBlock("connection", nil).Body()
		b.SetAttributeRaw("from", endpointTokens(c.Source, c.MIDI))
		b.SetAttributeRaw("to", endpointTokens(c.Destination, c.MIDI))
		if c.MIDI {
			b.SetAttributeValue("midi", cty.True)
		}
		if c.Feedback {
			b.SetAttributeValue("feedback", cty.True)
		}
	}
	return f.Bytes()
}

func ints(v []int) cty.Value {
	vals := make([]cty.Value, len(v))
	for i, n := range v {
		vals[i] = cty.NumberIntVal(int64(n))
	}
	return cty.TupleVal(vals)
}

// endpointTokens writes io nodes as variables.
func endpointTokens(e audiograph.Endpoint, midi bool) hclwrite.Tokens {
	var id hclwrite.Tokens
	if name, ok := ioNames[e.Node]; ok {
		id = hclwrite.TokensForTraversal(hcl.Traversal{hcl.TraverseRoot{Name: name}})
	} else {
		id = hclwrite.TokensForValue(cty.NumberIntVal(int64(e.Node)))
	}
	elems := []hclwrite.Tokens{id}
	if !midi {
		elems = append(elems,
			hclwrite.TokensForValue(cty.NumberIntVal(int64(e.Bus))),
			hclwrite.TokensForValue(cty.NumberIntVal(int64(e.Channel))),
		)
	}
	return hclwrite.TokensForTuple(elems)
}

var ioNames = map[node.ID]string{
	audiograph.AudioInput:  "audio_in",
	audiograph.AudioOutput: "audio_out",
	audiograph.MIDIInput:   "midi_in",
	audiograph.MIDIOutput:  "midi_out",
}

// FromGraph captures nodes and connections of the graph. All processors
// must implement node.Persistent.
func FromGraph(g *audiograph.Graph) (*Document, error) {
	cfg := g.Config()
	doc := Document{
		Settings: &Settings{
			SampleRate:   cfg.SampleRate,
			MaxBlockSize: cfg.MaxBlockSize,
			Inputs:       cfg.NumInputs,
			Outputs:      cfg.NumOutputs,
		},
		Connections: g.Connections(),
	}
	for _, n := range g.Nodes() {
		if n.Kind != topology.Processor {
			continue
		}
		p, ok := g.Processor(n.ID)
		if !ok {
			return nil, fmt.Errorf("%v: %w", n.ID, audiograph.ErrNodeNotFound)
		}
		persistent, ok := p.(node.Persistent)
		if !ok {
			return nil, fmt.Errorf("%v: %w", n.ID, ErrNotPersistent)
		}
		state, err := persistent.MarshalState()
		if err != nil {
			return nil, fmt.Errorf("%v: marshal state: %w", n.ID, err)
		}
		layout := n.Layout.Clone()
		doc.Nodes = append(doc.Nodes, Node{
			Kind:     persistent.Kind(),
			ID:       n.ID,
			Bypassed: n.Bypassed,
			Layout:   &layout,
			State:    state,
		})
	}
	return &doc, nil
}

// Apply recreates nodes with their original ids and connections of the
// document in a single edit. Ids of document nodes must not be used by
// the graph yet. If anything fails, graph is left untouched.
func Apply(g *audiograph.Graph, doc *Document, r *Registry) error {
	nodes := append([]Node(nil), doc.Nodes...)
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return g.Edit(func(tx *audiograph.Tx) error {
		for _, n := range nodes {
			p, err := r.New(n.Kind)
			if err != nil {
				return fmt.Errorf("%v: %w", n.ID, err)
			}
			if persistent, ok := p.(node.Persistent); ok && len(n.State) > 0 {
				if err := persistent.UnmarshalState(n.State); err != nil {
					return fmt.Errorf("%v: unmarshal state: %w", n.ID, err)
				}
			}
			if err := tx.AddNodeWithID(n.ID, p); err != nil {
				return err
			}
			if n.Layout != nil {
				if err := tx.SetLayout(n.ID, *n.Layout); err != nil {
					return err
				}
			}
			if n.Bypassed {
				if err := tx.SetBypassed(n.ID, true); err != nil {
					return err
				}
			}
		}
		for _, c := range doc.Connections {
			var err error
			switch {
			case c.MIDI:
				err = tx.ConnectMIDI(c.Source.Node, c.Destination.Node)
			case c.Feedback:
				err = tx.ConnectFeedback(c.Source, c.Destination)
			default:
				err = tx.Connect(c.Source, c.Destination)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}
