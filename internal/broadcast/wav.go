// ABOUTME: Minimal WAV file source
// ABOUTME: Reads 16-bit PCM RIFF files, downmixed to mono
package broadcast

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/priyaanshu26/muzicynk/internal/audio"
)

// WAVSource reads a 16-bit PCM WAV file.
type WAVSource struct {
	file     *os.File
	title    string
	channels int
	remain   int64 // bytes left in the data chunk
}

// NewWAVSource opens a WAV file and positions the reader at the start
// of its data chunk.
func NewWAVSource(path string) (*WAVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAV file: %w", err)
	}

	src, err := parseWAVHeader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	src.title = titleFromPath(path)
	return src, nil
}

func parseWAVHeader(f *os.File) (*WAVSource, error) {
	var riff [12]byte
	if _, err := io.ReadFull(f, riff[:]); err != nil {
		return nil, fmt.Errorf("failed to read RIFF header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a WAV file")
	}

	var (
		channels   int
		sampleRate int
		bitDepth   int
		sawFormat  bool
	)

	// Walk chunks until the data chunk.
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(f, hdr[:]); err != nil {
			return nil, fmt.Errorf("malformed WAV: %w", err)
		}
		chunkID := string(hdr[0:4])
		chunkLen := int64(binary.LittleEndian.Uint32(hdr[4:8]))

		switch chunkID {
		case "fmt ":
			var fmtChunk [16]byte
			if _, err := io.ReadFull(f, fmtChunk[:]); err != nil {
				return nil, fmt.Errorf("malformed fmt chunk: %w", err)
			}
			if audioFormat := binary.LittleEndian.Uint16(fmtChunk[0:2]); audioFormat != 1 {
				return nil, fmt.Errorf("unsupported WAV encoding %d (need PCM)", audioFormat)
			}
			channels = int(binary.LittleEndian.Uint16(fmtChunk[2:4]))
			sampleRate = int(binary.LittleEndian.Uint32(fmtChunk[4:8]))
			bitDepth = int(binary.LittleEndian.Uint16(fmtChunk[14:16]))
			sawFormat = true
			if skip := chunkLen - 16; skip > 0 {
				if _, err := f.Seek(skip, io.SeekCurrent); err != nil {
					return nil, err
				}
			}

		case "data":
			if !sawFormat {
				return nil, fmt.Errorf("malformed WAV: data before fmt")
			}
			if bitDepth != 16 {
				return nil, fmt.Errorf("unsupported WAV bit depth %d (need 16)", bitDepth)
			}
			if sampleRate != audio.SampleRate {
				return nil, fmt.Errorf("%w: %d Hz (need %d)", ErrUnsupportedRate, sampleRate, audio.SampleRate)
			}
			if channels < 1 {
				return nil, fmt.Errorf("malformed WAV: no channels")
			}
			return &WAVSource{file: f, channels: channels, remain: chunkLen}, nil

		default:
			if _, err := f.Seek(chunkLen, io.SeekCurrent); err != nil {
				return nil, err
			}
		}
	}
}

func (s *WAVSource) Read(samples []float32) (int, error) {
	if s.remain <= 0 {
		return 0, io.EOF
	}

	frameBytes := s.channels * 2
	want := int64(len(samples) * frameBytes)
	if want > s.remain {
		want = s.remain - s.remain%int64(frameBytes)
		if want == 0 {
			return 0, io.EOF
		}
	}

	buf := make([]byte, want)
	n, err := io.ReadFull(s.file, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return 0, err
	}
	s.remain -= int64(n)

	frames := n / frameBytes
	for i := 0; i < frames; i++ {
		var sum float32
		for ch := 0; ch < s.channels; ch++ {
			v := int16(binary.LittleEndian.Uint16(buf[i*frameBytes+ch*2:]))
			sum += float32(v)
		}
		samples[i] = sum / float32(s.channels) / 32768.0
	}
	return frames, nil
}

func (s *WAVSource) SampleRate() int { return audio.SampleRate }
func (s *WAVSource) Title() string   { return s.title }
func (s *WAVSource) Close() error    { return s.file.Close() }
