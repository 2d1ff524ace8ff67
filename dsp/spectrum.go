package dsp

import (
	"fmt"
	"sync/atomic"

	algofft "github.com/MeKo-Christian/algo-fft"
	"github.com/cwbudde/algo-dsp/dsp/window"
	"github.com/cwbudde/algo-vecmath"

	"pipelined.dev/audiograph/node"
	"pipelined.dev/audiograph/signal"
)

// SpectrumKind is the persistent kind of Spectrum.
const SpectrumKind = "spectrum"

// Spectrum passes mono signal through and measures magnitude spectrum of
// every full frame with Hann window. The latest spectrum can be read
// from any goroutine.
type Spectrum struct {
	size   int
	plan   *algofft.Plan[complex128]
	window []float64
	frame  []float64
	pos    int

	// scratch of analysis
	windowed []float64
	in, out  []complex128
	re, im   []float64
	mags     []float64

	bins   []float
	frames atomic.Uint64
}

type spectrumState struct {
	Size int `json:"size"`
}

// NewSpectrum returns spectrum analyzer with frame of provided size. Size
// must be a power of two.
func NewSpectrum(size int) *Spectrum {
	return &Spectrum{size: size}
}

// Size returns frame size.
func (s *Spectrum) Size() int {
	return s.size
}

// Layout implements node.Processor.
func (s *Spectrum) Layout() node.Layout {
	return node.Mono()
}

// Prepare allocates fft plan and analysis buffers.
func (s *Spectrum) Prepare(_ float64, _ int, layout node.Layout) error {
	if n, err := channels(layout); err != nil {
		return err
	} else if n != 1 {
		return fmt.Errorf("%w: %v", node.ErrUnsupportedLayout, layout)
	}
	if s.size < 2 || s.size&(s.size-1) != 0 {
		return fmt.Errorf("spectrum: frame size %d is not a power of two", s.size)
	}
	plan, err := algofft.NewPlan64(s.size)
	if err != nil {
		return fmt.Errorf("spectrum: failed to create FFT plan: %w", err)
	}
	bins := s.size/2 + 1
	s.plan = plan
	s.window = window.Generate(window.TypeHann, s.size, window.WithPeriodic())
	s.frame = make([]float64, s.size)
	s.windowed = make([]float64, s.size)
	s.in = make([]complex128, s.size)
	s.out = make([]complex128, s.size)
	s.re = make([]float64, bins)
	s.im = make([]float64, bins)
	s.mags = make([]float64, bins)
	if len(s.bins) != bins {
		s.bins = make([]float, bins)
	}
	s.pos = 0
	return nil
}

// Process implements node.Processor.
func (s *Spectrum) Process(b *node.Block) error {
	signal.CopyFrom(b.Outputs[0], b.Inputs[0])
	in := b.Inputs[0].Channel(0)
	for len(in) > 0 {
		n := copy(s.frame[s.pos:], in)
		in = in[n:]
		s.pos += n
		if s.pos == s.size {
			if err := s.analyze(); err != nil {
				return err
			}
			s.pos = 0
		}
	}
	return nil
}

func (s *Spectrum) analyze() error {
	vecmath.MulBlock(s.windowed, s.frame, s.window)
	for i, v := range s.windowed {
		s.in[i] = complex(v, 0)
	}
	if err := s.plan.Forward(s.out, s.in); err != nil {
		return err
	}
	for i := range s.re {
		s.re[i] = real(s.out[i])
		s.im[i] = imag(s.out[i])
	}
	vecmath.Magnitude(s.mags, s.re, s.im)
	for i, m := range s.mags {
		s.bins[i].store(m)
	}
	s.frames.Add(1)
	return nil
}

// Reset drops the partial frame.
func (s *Spectrum) Reset() {
	s.pos = 0
}

// Frames returns number of analyzed frames.
func (s *Spectrum) Frames() uint64 {
	return s.frames.Load()
}

// Magnitudes copies magnitudes of the latest frame into dst and returns
// number of copied bins. Bin i has frequency i * sampleRate / size.
func (s *Spectrum) Magnitudes(dst []float64) int {
	n := min(len(dst), len(s.bins))
	for i := 0; i < n; i++ {
		dst[i] = s.bins[i].load()
	}
	return n
}

// Kind implements node.Persistent.
func (s *Spectrum) Kind() string {
	return SpectrumKind
}

// MarshalState implements node.Persistent.
func (s *Spectrum) MarshalState() ([]byte, error) {
	return marshal(spectrumState{Size: s.size})
}

// UnmarshalState implements node.Persistent. It must be called before
// the processor is added to the graph.
func (s *Spectrum) UnmarshalState(data []byte) error {
	var st spectrumState
	if err := unmarshal(data, &st); err != nil {
		return err
	}
	s.size = st.Size
	return nil
}

