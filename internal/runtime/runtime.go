// Package runtime executes compiled sequences on the render thread.
// Nothing in this package allocates, locks or logs.
package runtime

import (
	"pipelined.dev/audiograph/internal/sequence"
	"pipelined.dev/audiograph/midi"
	"pipelined.dev/audiograph/node"
	"pipelined.dev/audiograph/param"
	"pipelined.dev/audiograph/signal"
)

type (
	// Period is a single hardware callback worth of data. Input and
	// Output hold one slice per hardware channel, each at least
	// NumSamples long. MIDI buffers are optional.
	Period struct {
		Input      [][]float64
		Output     [][]float64
		MIDIIn     *midi.Buffer
		MIDIOut    *midi.Buffer
		SampleTime int64
		NumSamples int
	}

	// Renderer renders sequences against periods. It must only be used by
	// one goroutine at a time.
	Renderer struct {
		arena  *node.Arena
		params *param.Queue
	}

	// Stats of a rendered period.
	Stats struct {
		Chunks int
		Faults int
		Params int
	}
)

// New returns renderer for nodes of the arena. Params may be nil.
func New(arena *node.Arena, params *param.Queue) *Renderer {
	return &Renderer{
		arena:  arena,
		params: params,
	}
}

// Render executes sequence for the period. Pending parameter changes are
// applied first. Periods larger than maximum block size of the sequence
// are rendered in chunks. Faults of nodes are counted in returned stats.
func (r *Renderer) Render(s *sequence.Sequence, p *Period) Stats {
	var stats Stats
	stats.Params = r.applyParams(s)
	for offset := 0; offset < p.NumSamples; offset += s.MaxBlockSize {
		n := min(s.MaxBlockSize, p.NumSamples-offset)
		stats.Faults += r.render(s, p, offset, n)
		stats.Chunks++
	}
	return stats
}

func (r *Renderer) applyParams(s *sequence.Sequence) int {
	if r.params == nil {
		return 0
	}
	applied := 0
	for {
		c, ok := r.params.Peek()
		if !ok {
			return applied
		}
		// change was pushed after the sequence was loaded, its node may
		// not be there yet
		if c.Generation > s.Generation {
			return applied
		}
		r.params.Pop()
		// changes for nodes outside of the sequence are dropped
		if !s.Contains(c.Slot, c.Node) {
			continue
		}
		if p, ok := r.arena.Node(c.Slot).Processor().(node.Parameterized); ok {
			p.SetParameter(c.Param, c.Value)
			applied++
		}
	}
}

// render executes all ops for n samples starting at offset of the period.
func (r *Renderer) render(s *sequence.Sequence, p *Period, offset, n int) int {
	faults := 0
	for i := range s.Ops {
		op := &s.Ops[i]
		switch op.Kind {
		case sequence.OpClear:
			for _, d := range op.Dst {
				clear(d[:n])
			}
		case sequence.OpInput:
			for j, d := range op.Dst {
				if ch := op.Channels[j]; ch < len(p.Input) {
					copy(d[:n], p.Input[ch][offset:offset+n])
				} else {
					clear(d[:n])
				}
			}
		case sequence.OpOutput:
			for ch := range p.Output {
				dst := p.Output[ch][offset : offset+n]
				if ch < len(op.Src) {
					copy(dst, op.Src[ch][:n])
				} else {
					clear(dst)
				}
			}
		case sequence.OpProcess:
			prepare(op, p.SampleTime+int64(offset), n)
			if !r.arena.Node(op.Slot).Process(&op.Block) {
				faults++
			}
		case sequence.OpBypass:
			for j, d := range op.Dst {
				if j < len(op.Src) {
					copy(d[:n], op.Src[j][:n])
				} else {
					clear(d[:n])
				}
			}
			if out := op.Block.MIDIOut; out != nil {
				out.Clear()
				out.Merge(op.MIDISources...)
			}
		case sequence.OpDelay:
			op.Line.Process(op.Dst[0][:n], op.Src[0][:n])
		case sequence.OpFeedbackRead:
			op.Line.Read(op.Dst[0][:n])
		case sequence.OpFeedbackWrite:
			op.Line.Write(op.Src[0][:n])
		case sequence.OpMIDIInput:
			out := op.Block.MIDIOut
			out.Clear()
			if p.MIDIIn != nil {
				out.CopyRange(p.MIDIIn, offset, n, -offset)
			}
		case sequence.OpMIDIOutput:
			in := op.Block.MIDIIn
			in.Clear()
			in.Merge(op.MIDISources...)
			if p.MIDIOut != nil {
				for _, e := range in.Events() {
					e.Offset += offset
					p.MIDIOut.Add(e)
				}
			}
		}
	}
	return faults
}

// prepare reslices views of the block and clears outputs.
func prepare(op *sequence.Op, sampleTime int64, n int) {
	b := &op.Block
	b.NumSamples = n
	b.SampleTime = sampleTime
	for i := range op.In {
		b.Inputs[i] = op.In[i].Slice(0, n)
	}
	for i := range op.Out {
		b.Outputs[i] = op.Out[i].Slice(0, n)
		signal.Clear(b.Outputs[i])
	}
	if b.MIDIIn != nil {
		b.MIDIIn.Clear()
		b.MIDIIn.Merge(op.MIDISources...)
	}
	if b.MIDIOut != nil {
		b.MIDIOut.Clear()
	}
}
