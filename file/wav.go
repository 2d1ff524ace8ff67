package file

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"pipelined.dev/audiograph/signal"
)

var (
	// ErrInvalidWAV is returned when wav file cannot be decoded.
	ErrInvalidWAV = errors.New("invalid wav")
	// ErrUnsupportedBitDepth is returned when unsupported bit depth is used.
	ErrUnsupportedBitDepth = errors.New("unsupported bit depth")
)

// pcm is the wav audio format of integer samples.
const pcm = 1

type (
	// WAVSource reads wav files.
	WAVSource struct {
		closer
		decoder  *wav.Decoder
		bitDepth signal.BitDepth
		buf      *audio.IntBuffer
	}

	// WAVSink writes wav files.
	WAVSink struct {
		closer
		encoder     *wav.Encoder
		bitDepth    signal.BitDepth
		numChannels int
		buf         *audio.IntBuffer
	}
)

func validBitDepth(b signal.BitDepth) bool {
	switch b {
	case signal.BitDepth8, signal.BitDepth16, signal.BitDepth24, signal.BitDepth32:
		return true
	}
	return false
}

// NewWAVSource returns source that decodes wav from r. If r is a closer,
// it's closed with the source.
func NewWAVSource(r io.ReadSeeker) (*WAVSource, error) {
	decoder := wav.NewDecoder(r)
	if !decoder.IsValidFile() {
		return nil, ErrInvalidWAV
	}
	if err := decoder.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidWAV, err)
	}
	bitDepth := signal.BitDepth(decoder.BitDepth)
	if !validBitDepth(bitDepth) {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedBitDepth, bitDepth)
	}
	return &WAVSource{
		closer:   closer{r: r},
		decoder:  decoder,
		bitDepth: bitDepth,
		buf: &audio.IntBuffer{
			Format:         decoder.Format(),
			SourceBitDepth: int(decoder.BitDepth),
		},
	}, nil
}

// SampleRate returns sample rate of the file.
func (s *WAVSource) SampleRate() int {
	return int(s.decoder.SampleRate)
}

// NumChannels returns number of channels of the file.
func (s *WAVSource) NumChannels() int {
	return int(s.decoder.NumChans)
}

// BitDepth returns bit depth of the file.
func (s *WAVSource) BitDepth() signal.BitDepth {
	return s.bitDepth
}

// Read implements Source.
func (s *WAVSource) Read(dst [][]float64) (int, error) {
	size := frames(dst) * s.NumChannels()
	if cap(s.buf.Data) < size {
		s.buf.Data = make([]int, size)
	}
	s.buf.Data = s.buf.Data[:size]
	n, err := s.decoder.PCMBuffer(s.buf)
	if n == 0 {
		if err == nil {
			err = io.EOF
		}
		return 0, err
	}
	return signal.Deinterleave(dst, s.buf.Data[:n], s.bitDepth), nil
}

// NewWAVSink returns sink that encodes wav into w. If w is a closer, it's
// closed with the sink.
func NewWAVSink(w io.WriteSeeker, sampleRate, numChannels int, bitDepth signal.BitDepth) (*WAVSink, error) {
	if !validBitDepth(bitDepth) {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedBitDepth, bitDepth)
	}
	return &WAVSink{
		closer:      closer{r: w},
		encoder:     wav.NewEncoder(w, sampleRate, int(bitDepth), numChannels, pcm),
		bitDepth:    bitDepth,
		numChannels: numChannels,
		buf: &audio.IntBuffer{
			Format: &audio.Format{
				NumChannels: numChannels,
				SampleRate:  sampleRate,
			},
			SourceBitDepth: int(bitDepth),
		},
	}, nil
}

// Create creates wav file at path.
func Create(path string, sampleRate, numChannels int, bitDepth signal.BitDepth) (*WAVSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	s, err := NewWAVSink(f, sampleRate, numChannels, bitDepth)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return s, nil
}

// Write encodes first n frames of src channels.
func (s *WAVSink) Write(src [][]float64, n int) error {
	if len(src) != s.numChannels {
		return fmt.Errorf("wav sink: got %d channels, want %d", len(src), s.numChannels)
	}
	size := n * s.numChannels
	if cap(s.buf.Data) < size {
		s.buf.Data = make([]int, size)
	}
	s.buf.Data = s.buf.Data[:size]
	signal.Interleave(s.buf.Data, src, n, s.bitDepth)
	return s.encoder.Write(s.buf)
}

// Close finalizes wav headers and closes underlying writer.
func (s *WAVSink) Close() error {
	if err := s.encoder.Close(); err != nil {
		return err
	}
	return s.closer.Close()
}
