package file

import (
	"bytes"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipelined.dev/audiograph/signal"
)

func TestFormatOf(t *testing.T) {
	tests := []struct {
		path   string
		format Format
		err    error
	}{
		{"a.wav", WAV, nil},
		{"dir/A.WAV", WAV, nil},
		{"a.mp3", MP3, nil},
		{"a.ogg", OGG, nil},
		{"a.flac", 0, ErrUnsupportedFormat},
		{"noext", 0, ErrUnsupportedFormat},
	}
	for _, tt := range tests {
		format, err := FormatOf(tt.path)
		assert.ErrorIs(t, err, tt.err, tt.path)
		assert.Equal(t, tt.format, format, tt.path)
	}
	_, err := Open("a.flac")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	sink, err := Create(path, 44100, 2, signal.BitDepth16)
	require.NoError(t, err)
	require.NoError(t, sink.Write([][]float64{{0.5, -0.5, 0.25, 9}, {0, 1, -1, 9}}, 3))
	assert.Error(t, sink.Write([][]float64{{0}}, 1))
	require.NoError(t, sink.Close())

	src, err := Open(path)
	require.NoError(t, err)
	defer src.Close()
	assert.Equal(t, 44100, src.SampleRate())
	assert.Equal(t, 2, src.NumChannels())
	assert.Equal(t, signal.BitDepth16, src.(*WAVSource).BitDepth())

	dst := [][]float64{make([]float64, 4), make([]float64, 4)}
	n, err := src.Read(dst)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.InDeltaSlice(t, []float64{0.5, -0.5, 0.25}, dst[0][:n], 1e-3)
	assert.InDeltaSlice(t, []float64{0, 1, -1}, dst[1][:n], 1e-3)

	_, err = src.Read(dst)
	assert.ErrorIs(t, err, io.EOF)
}

func TestInvalid(t *testing.T) {
	_, err := NewWAVSource(bytes.NewReader([]byte("not a wav file")))
	assert.ErrorIs(t, err, ErrInvalidWAV)
	_, err = NewMP3Source(bytes.NewReader(nil))
	assert.Error(t, err)
	_, err = NewOGGSource(bytes.NewReader(nil))
	assert.Error(t, err)
	_, err = Create(filepath.Join(t.TempDir(), "out.wav"), 44100, 1, signal.BitDepth(12))
	assert.ErrorIs(t, err, ErrUnsupportedBitDepth)
}

type fakeMP3 struct {
	*bytes.Reader
}

func (fakeMP3) SampleRate() int { return 48000 }

func TestMP3(t *testing.T) {
	// two frames: (0.5, -0.5), (-1, 0) and a trailing half frame.
	data := []byte{0x00, 0x40, 0x00, 0xc0, 0x00, 0x80, 0x00, 0x00, 0x01, 0x02}
	src := &MP3Source{decoder: fakeMP3{bytes.NewReader(data)}}
	assert.Equal(t, 48000, src.SampleRate())
	assert.Equal(t, 2, src.NumChannels())

	dst := [][]float64{make([]float64, 4), make([]float64, 4)}
	n, err := src.Read(dst)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []float64{0.5, -1}, dst[0][:n])
	assert.Equal(t, []float64{-0.5, 0}, dst[1][:n])

	_, err = src.Read(dst)
	assert.ErrorIs(t, err, io.EOF)
	assert.NoError(t, src.Close())
}

type fakeOGG struct {
	channels int
	data     []float32
}

func (f *fakeOGG) SampleRate() int { return 22050 }
func (f *fakeOGG) Channels() int   { return f.channels }

// Read returns at most one frame to exercise partial reads.
func (f *fakeOGG) Read(p []float32) (int, error) {
	if len(f.data) == 0 {
		return 0, io.EOF
	}
	n := copy(p[:min(len(p), f.channels)], f.data)
	f.data = f.data[n:]
	return n, nil
}

func TestOGG(t *testing.T) {
	src := &OGGSource{decoder: &fakeOGG{channels: 2, data: []float32{1, -1, 0.5, -0.5, 0.25, -0.25}}}
	assert.Equal(t, 22050, src.SampleRate())
	assert.Equal(t, 2, src.NumChannels())

	dst := [][]float64{make([]float64, 2), make([]float64, 2)}
	n, err := src.Read(dst)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []float64{1, 0.5}, dst[0])
	assert.Equal(t, []float64{-1, -0.5}, dst[1])

	n, err = src.Read(dst)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0.25, dst[0][0])

	_, err = src.Read(dst)
	assert.ErrorIs(t, err, io.EOF)
}
