package file

import (
	"io"

	"github.com/jfreymuth/oggvorbis"

	"pipelined.dev/audiograph/signal"
)

// oggDecoder is implemented by oggvorbis.Reader. Read returns number of
// interleaved values.
type oggDecoder interface {
	SampleRate() int
	Channels() int
	Read([]float32) (int, error)
}

// OGGSource reads ogg vorbis files.
type OGGSource struct {
	closer
	decoder oggDecoder
	buf     []float32
}

// NewOGGSource returns source that decodes ogg vorbis from r. If r is a
// closer, it's closed with the source.
func NewOGGSource(r io.Reader) (*OGGSource, error) {
	d, err := oggvorbis.NewReader(r)
	if err != nil {
		return nil, err
	}
	return &OGGSource{closer: closer{r: r}, decoder: d}, nil
}

// SampleRate returns sample rate of the file.
func (s *OGGSource) SampleRate() int {
	return s.decoder.SampleRate()
}

// NumChannels returns number of channels of the file.
func (s *OGGSource) NumChannels() int {
	return s.decoder.Channels()
}

// Read implements Source. Dst must have a channel for each channel of the
// file.
func (s *OGGSource) Read(dst [][]float64) (int, error) {
	numChannels := s.NumChannels()
	size := frames(dst) * numChannels
	if size == 0 {
		return 0, nil
	}
	if cap(s.buf) < size {
		s.buf = make([]float32, size)
	}
	n := 0
	var err error
	for n < size && err == nil {
		var m int
		m, err = s.decoder.Read(s.buf[n:size])
		if m == 0 && err == nil {
			break
		}
		n += m
	}
	n -= n % numChannels
	if n == 0 {
		if err == nil {
			err = io.EOF
		}
		return 0, err
	}
	if err == io.EOF {
		err = nil
	}
	return signal.DeinterleaveFloat32(dst[:numChannels], s.buf[:n]), err
}
