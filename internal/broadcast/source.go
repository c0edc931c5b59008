// ABOUTME: Audio source abstraction for the broadcasting endpoint
// ABOUTME: Test tone, WAV, MP3, and FLAC sources as mono float32 PCM
package broadcast

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/hajimehoshi/go-mp3"
	"github.com/mewkiz/flac"

	"github.com/priyaanshu26/muzicynk/internal/audio"
)

var (
	// ErrCaptureUnavailable marks a source that yielded no audio at
	// acquisition time.
	ErrCaptureUnavailable = errors.New("capture source produced no audio")

	// ErrUnsupportedRate marks a file whose sample rate does not match
	// the fixed pipeline rate. The pipeline does not resample.
	ErrUnsupportedRate = errors.New("unsupported sample rate")
)

// Source provides mono float32 PCM at the pipeline sample rate.
type Source interface {
	// Read fills samples and returns the count read. io.EOF signals a
	// finished (non-looping) source.
	Read(samples []float32) (int, error)
	SampleRate() int
	Title() string
	Close() error
}

// Open creates a source from a file path. An empty path yields a test
// tone generator.
func Open(path string) (Source, error) {
	if path == "" {
		return NewToneSource(), nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("audio file not found: %s", path)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return NewWAVSource(path)
	case ".mp3":
		return NewMP3Source(path)
	case ".flac":
		return NewFLACSource(path)
	default:
		return nil, fmt.Errorf("unsupported audio format: %s (supported: .wav, .mp3, .flac)", filepath.Ext(path))
	}
}

// ToneSource generates a 440Hz sine wave, for testing rooms without
// any audio file at hand.
type ToneSource struct {
	sampleIndex uint64
	frequency   float64
}

// NewToneSource creates a test tone generator.
func NewToneSource() *ToneSource {
	return &ToneSource{frequency: 440.0}
}

func (s *ToneSource) Read(samples []float32) (int, error) {
	for i := range samples {
		t := float64(s.sampleIndex+uint64(i)) / float64(audio.SampleRate)
		samples[i] = float32(math.Sin(2*math.Pi*s.frequency*t) * 0.5)
	}
	s.sampleIndex += uint64(len(samples))
	return len(samples), nil
}

func (s *ToneSource) SampleRate() int { return audio.SampleRate }
func (s *ToneSource) Title() string   { return "Test Tone" }
func (s *ToneSource) Close() error    { return nil }

// MP3Source reads from an MP3 file, downmixed to mono.
type MP3Source struct {
	file    *os.File
	decoder *mp3.Decoder
	title   string
}

// NewMP3Source opens an MP3 file.
func NewMP3Source(path string) (*MP3Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open MP3 file: %w", err)
	}

	decoder, err := mp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode MP3: %w", err)
	}
	if decoder.SampleRate() != audio.SampleRate {
		f.Close()
		return nil, fmt.Errorf("%w: %d Hz (need %d)", ErrUnsupportedRate, decoder.SampleRate(), audio.SampleRate)
	}

	return &MP3Source{
		file:    f,
		decoder: decoder,
		title:   titleFromPath(path),
	}, nil
}

func (s *MP3Source) Read(samples []float32) (int, error) {
	// The decoder outputs 16-bit stereo: 4 bytes per mono sample.
	buf := make([]byte, len(samples)*4)
	n, err := io.ReadFull(s.decoder, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		if err == io.EOF {
			return 0, io.EOF
		}
		return 0, err
	}

	frames := n / 4
	for i := 0; i < frames; i++ {
		left := int16(binary.LittleEndian.Uint16(buf[i*4:]))
		right := int16(binary.LittleEndian.Uint16(buf[i*4+2:]))
		samples[i] = (float32(left) + float32(right)) / 2 / 32768.0
	}
	return frames, nil
}

func (s *MP3Source) SampleRate() int { return audio.SampleRate }
func (s *MP3Source) Title() string   { return s.title }
func (s *MP3Source) Close() error    { return s.file.Close() }

// FLACSource reads from a FLAC file, downmixed to mono.
type FLACSource struct {
	file     *os.File
	stream   *flac.Stream
	title    string
	channels int
	bitDepth int

	pending []float32
}

// NewFLACSource opens a FLAC file.
func NewFLACSource(path string) (*FLACSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open FLAC file: %w", err)
	}

	stream, err := flac.New(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode FLAC: %w", err)
	}
	if int(stream.Info.SampleRate) != audio.SampleRate {
		f.Close()
		return nil, fmt.Errorf("%w: %d Hz (need %d)", ErrUnsupportedRate, stream.Info.SampleRate, audio.SampleRate)
	}

	return &FLACSource{
		file:     f,
		stream:   stream,
		title:    titleFromPath(path),
		channels: int(stream.Info.NChannels),
		bitDepth: int(stream.Info.BitsPerSample),
	}, nil
}

func (s *FLACSource) Read(samples []float32) (int, error) {
	read := 0
	for read < len(samples) {
		if len(s.pending) == 0 {
			frame, err := s.stream.ParseNext()
			if err != nil {
				if read > 0 {
					return read, nil
				}
				return 0, err
			}

			scale := float32(int32(1) << (s.bitDepth - 1))
			for i := 0; i < int(frame.BlockSize); i++ {
				var sum float32
				for ch := 0; ch < s.channels; ch++ {
					sum += float32(frame.Subframes[ch].Samples[i])
				}
				s.pending = append(s.pending, sum/float32(s.channels)/scale)
			}
		}

		n := copy(samples[read:], s.pending)
		s.pending = s.pending[n:]
		read += n
	}
	return read, nil
}

func (s *FLACSource) SampleRate() int { return audio.SampleRate }
func (s *FLACSource) Title() string   { return s.title }
func (s *FLACSource) Close() error    { return s.file.Close() }

func titleFromPath(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}
