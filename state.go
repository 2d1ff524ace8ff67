package audiograph

import "fmt"

// Phase identifies the step of mutation cycle graph is in.
type Phase int32

// Phases of mutation cycle.
const (
	// Idle means that live sequence is rendered and topology can be
	// edited.
	Idle Phase = iota
	// Compiling means that edited topology is compiled into sequence.
	Compiling
	// Publishing means that compiled sequence is swapped in.
	Publishing
	// Draining means that previous sequence is being retired.
	Draining
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Compiling:
		return "compiling"
	case Publishing:
		return "publishing"
	case Draining:
		return "draining"
	}
	return fmt.Sprintf("phase(%d)", int32(p))
}

// Phase returns current phase of the graph.
func (g *Graph) Phase() Phase {
	return Phase(g.phase.Load())
}

func (g *Graph) setPhase(p Phase) {
	if old := Phase(g.phase.Swap(int32(p))); old != p {
		g.log.WithField("phase", p).Debugf("%v -> %v", old, p)
	}
}
