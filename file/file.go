// Package file reads audio files into non-interleaved blocks and writes
// rendered blocks into wav files. Supported sources are wav, mp3 and ogg
// vorbis.
package file

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsupportedFormat is returned for unknown file extensions.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// Format of audio file.
type Format int

const (
	// WAV is a waveform audio file.
	WAV Format = iota + 1
	// MP3 is an mpeg-1 audio layer 3 file.
	MP3
	// OGG is an ogg vorbis file.
	OGG
)

func (f Format) String() string {
	switch f {
	case WAV:
		return "wav"
	case MP3:
		return "mp3"
	case OGG:
		return "ogg"
	}
	return fmt.Sprintf("format(%d)", int(f))
}

// FormatOf returns format of the file by its extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".wave":
		return WAV, nil
	case ".mp3":
		return MP3, nil
	case ".ogg", ".oga":
		return OGG, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
}

// Source provides decoded audio.
type Source interface {
	SampleRate() int
	NumChannels() int
	// Read fills channels of dst and returns number of frames read.
	// Every channel must have the same length. It returns io.EOF when
	// source is exhausted.
	Read(dst [][]float64) (int, error)
	Close() error
}

// Open opens audio file and returns its source. Source must be closed
// by caller.
func Open(path string) (Source, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	var s Source
	switch format {
	case WAV:
		s, err = NewWAVSource(f)
	case MP3:
		s, err = NewMP3Source(f)
	case OGG:
		s, err = NewOGGSource(f)
	}
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// closer closes underlying reader if it's a closer.
type closer struct {
	r any
}

func (c closer) Close() error {
	if c, ok := c.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// frames returns number of frames dst can hold.
func frames(dst [][]float64) int {
	if len(dst) == 0 {
		return 0
	}
	return len(dst[0])
}
