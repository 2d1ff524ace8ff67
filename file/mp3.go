package file

import (
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// mp3 decoder always outputs 16 bit little-endian stereo.
const (
	mp3Channels  = 2
	mp3FrameSize = mp3Channels * 2
	mp3Divider   = 32768
)

// mp3Decoder is implemented by mp3.Decoder.
type mp3Decoder interface {
	Read([]byte) (int, error)
	SampleRate() int
}

// MP3Source reads mp3 files.
type MP3Source struct {
	closer
	decoder mp3Decoder
	buf     []byte
}

// NewMP3Source returns source that decodes mp3 from r. If r is a closer,
// it's closed with the source.
func NewMP3Source(r io.Reader) (*MP3Source, error) {
	d, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, err
	}
	return &MP3Source{closer: closer{r: r}, decoder: d}, nil
}

// SampleRate returns sample rate of the file.
func (s *MP3Source) SampleRate() int {
	return s.decoder.SampleRate()
}

// NumChannels returns number of channels of the file.
func (s *MP3Source) NumChannels() int {
	return mp3Channels
}

// Read implements Source.
func (s *MP3Source) Read(dst [][]float64) (int, error) {
	size := frames(dst) * mp3FrameSize
	if size == 0 {
		return 0, nil
	}
	if cap(s.buf) < size {
		s.buf = make([]byte, size)
	}
	s.buf = s.buf[:size]
	n, err := io.ReadFull(s.decoder, s.buf)
	read := n / mp3FrameSize
	if read == 0 {
		if err == nil || err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return 0, err
	}
	for i := 0; i < read; i++ {
		for c := 0; c < mp3Channels && c < len(dst); c++ {
			b := s.buf[i*mp3FrameSize+c*2:]
			dst[c][i] = float64(int16(uint16(b[0])|uint16(b[1])<<8)) / mp3Divider
		}
	}
	if err == io.ErrUnexpectedEOF {
		err = nil
	}
	return read, err
}
